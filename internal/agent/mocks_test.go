package agent

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/config"
	"github.com/xkilldash9x/releasescout/internal/observability"
)

// -- Vision Model Mock --

// MockVision mocks the schemas.VisionModel interface.
type MockVision struct {
	mock.Mock
}

func (m *MockVision) GetAction(ctx context.Context, screenshot []byte, subgoal string, stage schemas.Stage) (*schemas.Action, error) {
	args := m.Called(ctx, screenshot, subgoal, stage)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.Action), args.Error(1)
}

func (m *MockVision) GetReleaseExtract(ctx context.Context, screenshot []byte, repo string) (*schemas.ReleaseInfo, error) {
	args := m.Called(ctx, screenshot, repo)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*schemas.ReleaseInfo), args.Error(1)
}

// -- Browser Fake --

// fakeBrowser is a scripted in-memory browser. navigate decides the URL after
// each input event; it defaults to leaving the URL unchanged.
type fakeBrowser struct {
	mu sync.Mutex

	url      string
	title    string
	shots    [][]byte
	observed int
	width    int
	height   int

	observeErr error
	clickErr   error
	navigate   func(current, event string) string

	calls []string
}

func newFakeBrowser(t *testing.T, url string) *fakeBrowser {
	return &fakeBrowser{
		url:    url,
		title:  "GitHub",
		shots:  [][]byte{patternPNG(t, 0)},
		width:  1280,
		height: 720,
	}
}

func (b *fakeBrowser) record(call string) {
	b.calls = append(b.calls, call)
}

func (b *fakeBrowser) move(event string) {
	if b.navigate != nil {
		b.url = b.navigate(b.url, event)
	}
}

// Calls returns the recorded calls whose name is one of names, or all calls.
func (b *fakeBrowser) Calls(names ...string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(names) == 0 {
		return append([]string(nil), b.calls...)
	}
	var out []string
	for _, c := range b.calls {
		for _, n := range names {
			if len(c) >= len(n) && c[:len(n)] == n {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (b *fakeBrowser) Observe(ctx context.Context) (*schemas.Observation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("observe")
	if b.observeErr != nil {
		return nil, b.observeErr
	}
	shot := b.shots[b.observed%len(b.shots)]
	b.observed++
	return &schemas.Observation{URL: b.url, Title: b.title, Screenshot: shot, Width: b.width, Height: b.height}, nil
}

func (b *fakeBrowser) URL(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url, nil
}

func (b *fakeBrowser) Viewport() (int, int) { return b.width, b.height }

func (b *fakeBrowser) ClickPoint(ctx context.Context, x, y int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(fmt.Sprintf("click_point:%d,%d", x, y))
	if b.clickErr != nil {
		return b.clickErr
	}
	b.move(fmt.Sprintf("click_point:%d,%d", x, y))
	return nil
}

func (b *fakeBrowser) ClickBBox(ctx context.Context, bbox schemas.BBox) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev := fmt.Sprintf("click_bbox:%d,%d,%d,%d", bbox[0], bbox[1], bbox[2], bbox[3])
	b.record(ev)
	if b.clickErr != nil {
		return b.clickErr
	}
	b.move(ev)
	return nil
}

func (b *fakeBrowser) TypeText(ctx context.Context, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("type:" + text)
	return nil
}

func (b *fakeBrowser) PressKey(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("press:" + key)
	b.move("press:" + key)
	return nil
}

func (b *fakeBrowser) Scroll(ctx context.Context, direction string, amount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(fmt.Sprintf("scroll:%s:%d", direction, amount))
	return nil
}

func (b *fakeBrowser) Back(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("back")
	b.move("back")
	return nil
}

func (b *fakeBrowser) WaitForIdle(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record("wait")
	return nil
}

var _ schemas.Browser = (*fakeBrowser)(nil)

// -- Tracer Fake --

type recordingTracer struct {
	mu     sync.Mutex
	events []schemas.TraceEvent
	images map[string][]byte
}

func newRecordingTracer() *recordingTracer {
	return &recordingTracer{images: make(map[string][]byte)}
}

func (r *recordingTracer) Record(ctx context.Context, ev schemas.TraceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingTracer) SaveImage(ctx context.Context, step int, name string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.images[fmt.Sprintf("%d/%s", step, name)] = data
	return nil
}

func (r *recordingTracer) Kinds(kind schemas.TraceKind) []schemas.TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []schemas.TraceEvent
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

var _ schemas.Tracer = (*recordingTracer)(nil)

// -- Helpers --

// patternPNG renders one of four 64x64 black and white layouts. Each layout has a
// distinct average hash.
func patternPNG(t *testing.T, variant int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			var lit bool
			switch variant % 4 {
			case 0:
				lit = y < 32
			case 1:
				lit = y >= 32
			case 2:
				lit = x < 32
			default:
				lit = x >= 32
			}
			c := color.RGBA{0, 0, 0, 255}
			if lit {
				c = color.RGBA{255, 255, 255, 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testAgentConfig() config.AgentConfig {
	cfg := config.NewDefaultConfig().Agent
	cfg.Explore.SettleDelay = 0
	cfg.Explore.LoadTimeout = 0
	return cfg
}

func testLogger() *zap.Logger {
	return observability.GetLogger()
}

func noSleep(context.Context, time.Duration) error { return nil }

// newTestNavigator builds a navigator whose explorer never sleeps.
func newTestNavigator(b schemas.Browser, v schemas.VisionModel, tr schemas.Tracer, cfg config.AgentConfig, opts ...Option) *Navigator {
	opts = append([]Option{WithRunID(func() string { return "run-test" })}, opts...)
	n := NewNavigator(b, v, tr, cfg, testLogger(), opts...)
	n.explorer.sleep = noSleep
	return n
}
