package browser

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp/kb"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

// clickTarget returns the point clicked for a box: its center nudged by a tenth
// of its size, at most two pixels in each direction.
func clickTarget(b schemas.BBox) (x, y int) {
	cx := (b[0] + b[2]) / 2
	cy := (b[1] + b[3]) / 2
	return cx + jitter(b[2]-b[0]), cy + jitter(b[3]-b[1])
}

func jitter(size int) int {
	return max(-2, min(2, floorDiv(size, 10)))
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func inViewport(x, y, width, height int) bool {
	return x >= 0 && x <= width && y >= 0 && y <= height
}

func viewportError(x, y, width, height int) error {
	if inViewport(x, y, width, height) {
		return nil
	}
	return fmt.Errorf("%w: (%d, %d) in %dx%d", ErrOutsideViewport, x, y, width, height)
}

// keyCombo is a parsed key press such as "Control+A".
type keyCombo struct {
	modifiers []input.Modifier
	keys      string
}

var modifierNames = map[string]input.Modifier{
	"alt":     input.ModifierAlt,
	"control": input.ModifierCtrl,
	"ctrl":    input.ModifierCtrl,
	"meta":    input.ModifierMeta,
	"command": input.ModifierMeta,
	"cmd":     input.ModifierMeta,
	"shift":   input.ModifierShift,
}

var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowdown":  kb.ArrowDown,
	"arrowup":    kb.ArrowUp,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"pagedown":   kb.PageDown,
	"pageup":     kb.PageUp,
	"home":       kb.Home,
	"end":        kb.End,
	"space":      " ",
}

// parseKeyCombo turns a key name with optional "+" separated modifiers into
// the runes understood by chromedp.KeyEvent.
func parseKeyCombo(s string) (keyCombo, error) {
	parts := strings.Split(strings.TrimSpace(s), "+")
	var combo keyCombo
	for i, part := range parts {
		name := strings.TrimSpace(part)
		if name == "" {
			return keyCombo{}, fmt.Errorf("invalid key %q", s)
		}
		if i < len(parts)-1 {
			mod, ok := modifierNames[strings.ToLower(name)]
			if !ok {
				return keyCombo{}, fmt.Errorf("unknown modifier %q in key %q", name, s)
			}
			combo.modifiers = append(combo.modifiers, mod)
			continue
		}
		if k, ok := namedKeys[strings.ToLower(name)]; ok {
			combo.keys = k
		} else if len([]rune(name)) == 1 {
			combo.keys = name
			// With a modifier held, chromedp expects the lower case key.
			if len(combo.modifiers) > 0 {
				combo.keys = strings.ToLower(name)
			}
		} else {
			return keyCombo{}, fmt.Errorf("unknown key %q", name)
		}
	}
	return combo, nil
}

// splitArg turns "--name=value" into a chromedp flag. Bare switches are true.
func splitArg(arg string) (string, any) {
	arg = strings.TrimLeft(arg, "-")
	if name, value, ok := strings.Cut(arg, "="); ok {
		return name, value
	}
	return arg, true
}
