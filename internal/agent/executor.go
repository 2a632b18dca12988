package agent

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

// selectAllKey clears a focused input before the search query is typed.
const selectAllKey = "Control+A"

// ActionExecutor performs a decided action against the browser.
type ActionExecutor struct {
	browser schemas.Browser
}

// NewActionExecutor creates an executor for browser.
func NewActionExecutor(browser schemas.Browser) *ActionExecutor {
	return &ActionExecutor{browser: browser}
}

// Execute runs a. It stops at the first browser error.
func (x *ActionExecutor) Execute(ctx context.Context, a *schemas.Action, stage schemas.Stage) error {
	b := x.browser
	switch a.Type {
	case schemas.ActionClick, schemas.ActionClickCandidates:
		if a.BBox == nil {
			return nil
		}
		if err := b.ClickBBox(ctx, *a.BBox); err != nil {
			return fmt.Errorf("click failed: %w", err)
		}
		if a.Text != "" && stage == schemas.StageHome {
			for _, step := range []func() error{
				func() error { return b.PressKey(ctx, selectAllKey) },
				func() error { return b.PressKey(ctx, "Backspace") },
				func() error { return b.TypeText(ctx, a.Text) },
				func() error { return b.PressKey(ctx, "Enter") },
			} {
				if err := step(); err != nil {
					return fmt.Errorf("search entry failed: %w", err)
				}
			}
		}
		if a.Key != "" {
			if err := b.PressKey(ctx, a.Key); err != nil {
				return fmt.Errorf("key press failed: %w", err)
			}
		}
		return b.WaitForIdle(ctx)

	case schemas.ActionTypeText:
		if a.BBox != nil {
			if err := b.ClickBBox(ctx, *a.BBox); err != nil {
				return fmt.Errorf("focus click failed: %w", err)
			}
		}
		if err := b.TypeText(ctx, a.Text); err != nil {
			return fmt.Errorf("typing failed: %w", err)
		}
		key := a.Key
		if key == "" && a.Text != "" {
			key = "Enter"
		}
		if key != "" {
			if err := b.PressKey(ctx, key); err != nil {
				return fmt.Errorf("key press failed: %w", err)
			}
		}
		return nil

	case schemas.ActionPress:
		if a.Key == "" {
			return nil
		}
		if err := b.PressKey(ctx, a.Key); err != nil {
			return fmt.Errorf("key press failed: %w", err)
		}
		return b.WaitForIdle(ctx)

	case schemas.ActionScroll:
		if a.Scroll == nil {
			return nil
		}
		return b.Scroll(ctx, a.Scroll.Direction, a.Scroll.Amount)

	case schemas.ActionBack:
		return b.Back(ctx)

	case schemas.ActionWait:
		return b.WaitForIdle(ctx)

	default:
		return nil
	}
}
