package schemas

import (
	"context"
)

// -- Collaborator Interfaces --

// Browser is the page driver consumed by the navigator. Every method applies a
// short settle delay and tolerates targets slightly outside the viewport.
type Browser interface {
	// Observe captures the current URL, title and a viewport screenshot.
	Observe(ctx context.Context) (*Observation, error)
	// URL returns the current page URL without taking a screenshot.
	URL(ctx context.Context) (string, error)
	// Viewport returns the configured viewport size in CSS pixels.
	Viewport() (width, height int)
	ClickPoint(ctx context.Context, x, y int) error
	ClickBBox(ctx context.Context, bbox BBox) error
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, key string) error
	Scroll(ctx context.Context, direction string, amount int) error
	Back(ctx context.Context) error
	// WaitForIdle blocks until the page settles or ctx expires. Expiry is not an error
	// the caller needs to act on.
	WaitForIdle(ctx context.Context) error
}

// VisionModel turns screenshots into decisions and extracted data. Both methods
// retry malformed responses internally and return a decode error once exhausted.
type VisionModel interface {
	GetAction(ctx context.Context, screenshot []byte, subgoal string, stage Stage) (*Action, error)
	GetReleaseExtract(ctx context.Context, screenshot []byte, repo string) (*ReleaseInfo, error)
}

// Tracer receives per-step records. Implementations must not block the
// navigator for long and their errors are never fatal to a run.
type Tracer interface {
	Record(ctx context.Context, event TraceEvent) error
	// SaveImage stores a PNG for a step. An empty name means the step screenshot.
	SaveImage(ctx context.Context, step int, name string, png []byte) error
}
