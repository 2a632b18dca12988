// internal/browser/session.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/config"
)

// ErrNotStarted is returned by page operations before Start or after Close.
var ErrNotStarted = errors.New("browser session not started")

// ErrOutsideViewport is returned for a click target outside the visible page.
var ErrOutsideViewport = errors.New("click target outside the viewport")

const (
	typeSettle  = 200 * time.Millisecond
	titleRetry  = 3 * time.Second
	idlePolling = 100 * time.Millisecond
)

// Session drives a single Chrome tab through chromedp.
type Session struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

var _ schemas.Browser = (*Session)(nil)

// NewSession creates an unstarted session.
func NewSession(cfg config.BrowserConfig, logger *zap.Logger) *Session {
	return &Session{
		cfg:    cfg,
		logger: logger.Named("browser"),
	}
}

// AllocatorOptions builds the Chrome launch flags for cfg.
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.Viewport.Width, cfg.Viewport.Height),
	)
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}
	for _, arg := range cfg.Args {
		name, value := splitArg(arg)
		opts = append(opts, chromedp.Flag(name, value))
	}
	return opts
}

// Start launches Chrome. The browser lives until Close is called or ctx is
// canceled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx != nil {
		return nil
	}

	if s.cfg.UserDataDir != "" {
		if err := os.MkdirAll(s.cfg.UserDataDir, 0o755); err != nil {
			return fmt.Errorf("failed to create user data dir: %w", err)
		}
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(s.cfg)...)
	tabCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		s.logger.Debug(fmt.Sprintf(format, args...))
	}))

	// The first Run allocates the browser and must not carry a timeout.
	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(int64(s.cfg.Viewport.Width), int64(s.cfg.Viewport.Height))); err != nil {
		cancel()
		allocCancel()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	s.ctx, s.cancel, s.allocCancel = tabCtx, cancel, allocCancel
	s.logger.Info("Browser started.",
		zap.Bool("headless", s.cfg.Headless),
		zap.Int("width", s.cfg.Viewport.Width),
		zap.Int("height", s.cfg.Viewport.Height),
	)
	return nil
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return nil
	}
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	s.ctx = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	s.logger.Debug("Browser closed.")
	return nil
}

// Navigate loads url and waits for the document to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	if err := s.run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (s *Session) Observe(ctx context.Context) (*schemas.Observation, error) {
	if err := sleepContext(ctx, s.cfg.ObserveDelay); err != nil {
		return nil, err
	}

	obs := &schemas.Observation{Width: s.cfg.Viewport.Width, Height: s.cfg.Viewport.Height}
	if err := s.run(ctx, chromedp.Title(&obs.Title)); err != nil {
		// Titles fail while a navigation is committing. Give it one more chance.
		retryCtx, cancel := context.WithTimeout(ctx, titleRetry)
		err = s.run(retryCtx, chromedp.WaitReady("body"), chromedp.Title(&obs.Title))
		cancel()
		if err != nil {
			s.logger.Debug("Could not read page title.", zap.Error(err))
			obs.Title = ""
		}
	}
	if err := s.run(ctx, chromedp.CaptureScreenshot(&obs.Screenshot), chromedp.Location(&obs.URL)); err != nil {
		return nil, fmt.Errorf("failed to capture observation: %w", err)
	}
	return obs, nil
}

func (s *Session) URL(ctx context.Context) (string, error) {
	var url string
	if err := s.run(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return url, nil
}

func (s *Session) Viewport() (width, height int) {
	return s.cfg.Viewport.Width, s.cfg.Viewport.Height
}

// ClickPoint clicks at a viewport coordinate. Points outside the viewport are
// rejected with ErrOutsideViewport.
func (s *Session) ClickPoint(ctx context.Context, x, y int) error {
	if err := s.checkViewport(x, y); err != nil {
		return err
	}
	if err := s.click(ctx, x, y); err != nil {
		return err
	}
	return s.delay(ctx)
}

// ClickBBox clicks near the center of a box.
func (s *Session) ClickBBox(ctx context.Context, bbox schemas.BBox) error {
	cx, cy := (bbox[0]+bbox[2])/2, (bbox[1]+bbox[3])/2
	if err := s.checkViewport(cx, cy); err != nil {
		return err
	}
	x, y := clickTarget(bbox)
	if err := s.click(ctx, x, y); err != nil {
		return err
	}
	return s.delay(ctx)
}

// TypeText types text into the focused element one character at a time.
func (s *Session) TypeText(ctx context.Context, text string) error {
	for _, r := range text {
		if err := s.run(ctx, chromedp.KeyEvent(string(r))); err != nil {
			return fmt.Errorf("failed to type text: %w", err)
		}
		if err := sleepContext(ctx, s.cfg.KeyDelay); err != nil {
			return err
		}
	}
	if err := s.delay(ctx); err != nil {
		return err
	}
	return sleepContext(ctx, typeSettle)
}

// PressKey presses a named key, optionally with modifiers ("Control+A").
func (s *Session) PressKey(ctx context.Context, key string) error {
	combo, err := parseKeyCombo(key)
	if err != nil {
		return err
	}
	var opts []chromedp.KeyOption
	if len(combo.modifiers) > 0 {
		opts = append(opts, chromedp.KeyModifiers(combo.modifiers...))
	}
	if err := s.run(ctx, chromedp.KeyEvent(combo.keys, opts...)); err != nil {
		return fmt.Errorf("failed to press %s: %w", key, err)
	}
	return s.delay(ctx)
}

// Scroll dispatches a mouse wheel event at the center of the viewport.
func (s *Session) Scroll(ctx context.Context, direction string, amount int) error {
	delta := float64(amount)
	if direction != schemas.ScrollDown {
		delta = -delta
	}
	w, h := s.Viewport()
	wheel := input.DispatchMouseEvent(input.MouseWheel, float64(w/2), float64(h/2)).
		WithDeltaX(0).
		WithDeltaY(delta)
	if err := s.run(ctx, wheel); err != nil {
		return fmt.Errorf("failed to scroll %s: %w", direction, err)
	}
	return s.delay(ctx)
}

func (s *Session) Back(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	if err := s.run(navCtx, chromedp.NavigateBack()); err != nil {
		return fmt.Errorf("failed to navigate back: %w", err)
	}
	return s.delay(ctx)
}

// WaitForIdle polls until the document has finished loading or the idle
// timeout passes. Only cancellation of ctx is reported.
func (s *Session) WaitForIdle(ctx context.Context) error {
	var complete bool
	err := s.run(ctx, chromedp.Poll(`document.readyState === "complete"`, &complete,
		chromedp.WithPollingInterval(idlePolling),
		chromedp.WithPollingTimeout(s.cfg.IdleTimeout),
	))
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("Page did not settle before the idle timeout.", zap.Error(err))
	}
	return s.delay(ctx)
}

func (s *Session) click(ctx context.Context, x, y int) error {
	fx, fy := float64(x), float64(y)
	err := s.run(ctx,
		input.DispatchMouseEvent(input.MouseMoved, fx, fy),
		input.DispatchMouseEvent(input.MousePressed, fx, fy).WithButton(input.Left).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, fx, fy).WithButton(input.Left).WithClickCount(1),
	)
	if err != nil {
		return fmt.Errorf("failed to click at (%d, %d): %w", x, y, err)
	}
	return nil
}

// checkViewport rejects targets the page cannot receive. Coordinates come from
// a viewport screenshot, so scrolling first would move the target away.
func (s *Session) checkViewport(x, y int) error {
	w, h := s.Viewport()
	return viewportError(x, y, w, h)
}

func (s *Session) delay(ctx context.Context) error {
	return sleepContext(ctx, s.cfg.ActionDelay)
}

// run executes actions on the tab, bounded by both the session lifetime and ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	s.mu.Lock()
	tabCtx := s.ctx
	s.mu.Unlock()
	if tabCtx == nil {
		return ErrNotStarted
	}

	runCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
