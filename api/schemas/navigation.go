package schemas

import (
	"time"

	json "github.com/json-iterator/go"
)

// Stage is the coarse phase of the navigation task.
type Stage string

const (
	StageHome          Stage = "HOME"
	StageSearchResults Stage = "SEARCH_RESULTS"
	StageRepo          Stage = "REPO"
	StageReleases      Stage = "RELEASES"
	StageExtracted     Stage = "EXTRACTED"
	StageDone          Stage = "DONE"
)

// Terminal reports whether no further navigation happens from this stage.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageExtracted
}

// Observation is one snapshot of the page.
type Observation struct {
	URL        string `json:"url"`
	Title      string `json:"title"`
	Screenshot []byte `json:"-"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
}

// ReleaseInfo is the structured data read off the releases page.
type ReleaseInfo struct {
	Version *string `json:"version"`
	Tag     *string `json:"tag"`
	Author  *string `json:"author"`
}

// ReleaseResult is the terminal output of a run.
type ReleaseResult struct {
	Repository    string               `json:"repository"`
	LatestRelease ReleaseInfo          `json:"latest_release"`
	Verification  *ReleaseVerification `json:"verification,omitempty"`
}

// ReleaseVerification compares the extracted release against the GitHub API.
type ReleaseVerification struct {
	APITag        string `json:"api_tag"`
	APIName       string `json:"api_name"`
	APIAuthor     string `json:"api_author"`
	TagMatches    bool   `json:"tag_matches"`
	AuthorMatches bool   `json:"author_matches"`
}

// TraceKind labels a trace event.
type TraceKind string

const (
	TraceObservation TraceKind = "observation"
	TraceAction      TraceKind = "action"
	TraceRejection   TraceKind = "rejected_action"
	TraceValidation  TraceKind = "validation"
	TraceExplore     TraceKind = "explore"
	TraceExtraction  TraceKind = "extraction"
	TraceError       TraceKind = "error"
)

// TraceEvent is one structured record emitted by the navigator, keyed by step.
type TraceEvent struct {
	RunID     string          `json:"run_id"`
	Step      int             `json:"step"`
	Kind      TraceKind       `json:"kind"`
	Stage     Stage           `json:"stage"`
	URL       string          `json:"url,omitempty"`
	Action    *Action         `json:"action,omitempty"`
	Details   json.RawMessage `json:"details,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// WithDetails returns a copy of the event carrying v marshalled as its details.
// Marshalling failures are recorded in place of the payload.
func (e TraceEvent) WithDetails(v any) TraceEvent {
	raw, err := json.Marshal(v)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"marshal_error": err.Error()})
	}
	e.Details = raw
	return e
}
