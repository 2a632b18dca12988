package schemas

import (
	"fmt"
	"math"

	json "github.com/json-iterator/go"
)

// ActionType is the closed set of operations the navigator can execute.
type ActionType string

const (
	ActionClick           ActionType = "click"
	ActionTypeText        ActionType = "type"
	ActionPress           ActionType = "press"
	ActionScroll          ActionType = "scroll"
	ActionBack            ActionType = "back"
	ActionWait            ActionType = "wait"
	ActionNoop            ActionType = "noop"
	ActionClickCandidates ActionType = "click_candidates"
)

// ActionTypes lists every valid ActionType in declaration order.
var ActionTypes = []ActionType{
	ActionClick, ActionTypeText, ActionPress, ActionScroll,
	ActionBack, ActionWait, ActionNoop, ActionClickCandidates,
}

// Scroll directions.
const (
	ScrollDown = "down"
	ScrollUp   = "up"
)

// allowedKeys are the keys the model may ask the navigator to press.
var allowedKeys = map[string]struct{}{
	"Enter": {}, "Tab": {}, "Escape": {},
	"ArrowDown": {}, "ArrowUp": {}, "ArrowLeft": {}, "ArrowRight": {},
	"PageDown": {}, "PageUp": {}, "Home": {}, "End": {},
	"Backspace": {}, "Delete": {},
}

// IsAllowedKey reports whether key is on the press allow-list. The match is
// case-sensitive.
func IsAllowedKey(key string) bool {
	_, ok := allowedKeys[key]
	return ok
}

// BBox is an axis-aligned pixel rectangle [x1, y1, x2, y2] in screenshot coordinates.
type BBox [4]int

// Width returns x2 - x1.
func (b BBox) Width() int { return b[2] - b[0] }

// Height returns y2 - y1.
func (b BBox) Height() int { return b[3] - b[1] }

// Center returns the integer midpoint of the box.
func (b BBox) Center() (int, int) {
	return (b[0] + b[2]) / 2, (b[1] + b[3]) / 2
}

// Midpoint returns the exact center of the box.
func (b BBox) Midpoint() (float64, float64) {
	return float64(b[0]+b[2]) / 2, float64(b[1]+b[3]) / 2
}

// UnmarshalJSON accepts exactly four numbers and rounds fractional coordinates.
func (b *BBox) UnmarshalJSON(data []byte) error {
	var raw []float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("bbox must be an array of four numbers: %w", err)
	}
	if len(raw) != 4 {
		return fmt.Errorf("bbox must have exactly 4 values, got %d", len(raw))
	}
	for i, v := range raw {
		b[i] = int(math.Round(v))
	}
	return nil
}

// ScrollSpec describes a wheel scroll.
type ScrollSpec struct {
	Direction string `json:"direction" validate:"required,oneof=up down"`
	Amount    int    `json:"amount" validate:"gte=0"`
}

// ExpectSpec is the model's optional statement of what the action should produce.
type ExpectSpec struct {
	URLContains      string `json:"url_contains,omitempty"`
	PageContainsText string `json:"page_contains_text,omitempty"`
}

// Candidate is an alternative click target proposed by the model.
type Candidate struct {
	BBox       BBox     `json:"bbox"`
	Confidence *float64 `json:"confidence,omitempty"`
	Text       string   `json:"text,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// Action is a single UI operation. Only the fields relevant to Type are set.
type Action struct {
	Type       ActionType  `json:"type" validate:"required,oneof=click type press scroll back wait noop click_candidates"`
	Reason     string      `json:"reason"`
	BBox       *BBox       `json:"bbox,omitempty"`
	Text       string      `json:"text,omitempty"`
	Key        string      `json:"key,omitempty"`
	Scroll     *ScrollSpec `json:"scroll,omitempty" validate:"omitempty"`
	Expect     *ExpectSpec `json:"expect,omitempty"`
	Candidates []Candidate `json:"candidates,omitempty"`
}

// ClickAt builds a click on bbox with the given reason.
func ClickAt(bbox BBox, reason string) *Action {
	b := bbox
	return &Action{Type: ActionClick, Reason: reason, BBox: &b}
}

// ScrollBy builds a scroll action.
func ScrollBy(direction string, amount int, reason string) *Action {
	return &Action{Type: ActionScroll, Reason: reason, Scroll: &ScrollSpec{Direction: direction, Amount: amount}}
}

// Noop builds a no-op action carrying reason.
func Noop(reason string) *Action {
	return &Action{Type: ActionNoop, Reason: reason}
}

// IsClick reports whether the action is one of the click variants.
func (a *Action) IsClick() bool {
	return a != nil && (a.Type == ActionClick || a.Type == ActionClickCandidates)
}
