package vision

import (
	"math"
	"strings"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

// defaultScrollAmount replaces fractional scroll amounts, which models emit when
// they mean "some of the page".
const defaultScrollAmount = 400

// typeAliases maps the synonyms models use for a click onto "click".
var typeAliases = map[string]schemas.ActionType{
	"bbox":           schemas.ActionClick,
	"box":            schemas.ActionClick,
	"click_type":     schemas.ActionClick,
	"click-and-type": schemas.ActionClick,
	"click_and_type": schemas.ActionClick,
}

// rule repairs one aspect of a raw action payload in place.
type rule func(payload map[string]any)

// rules run in order. Each is idempotent, and so is the whole list.
var rules = []rule{
	aliasType,
	promoteCoords,
	splitNestedBBox,
	normalizeCandidates,
	coerceExpect,
	normalizeScroll,
	restrictKey,
}

// Normalize repairs a decoded model payload so that it can be decoded into a
// schemas.Action. The payload is modified in place and returned.
func Normalize(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	for _, r := range rules {
		r(payload)
	}
	return payload
}

func aliasType(p map[string]any) {
	t, ok := p["type"].(string)
	if !ok {
		return
	}
	t = strings.ToLower(strings.TrimSpace(t))
	if alias, ok := typeAliases[t]; ok {
		p["type"] = string(alias)
		return
	}
	p["type"] = t
}

func promoteCoords(p map[string]any) {
	coords, ok := p["coords"]
	if !ok {
		return
	}
	if p["bbox"] == nil {
		p["bbox"] = coords
	}
	delete(p, "coords")
}

// splitNestedBBox turns a list of boxes in "bbox" into leading candidates.
func splitNestedBBox(p map[string]any) {
	boxes, ok := p["bbox"].([]any)
	if !ok || len(boxes) == 0 {
		return
	}
	if _, nested := boxes[0].([]any); !nested {
		return
	}
	lead := make([]any, 0, len(boxes))
	for _, b := range boxes {
		lead = append(lead, map[string]any{"bbox": b})
	}
	if existing, ok := p["candidates"].([]any); ok {
		lead = append(lead, existing...)
	}
	p["candidates"] = lead
	p["bbox"] = nil
}

func normalizeCandidates(p map[string]any) {
	raw, present := p["candidates"]
	if !present || raw == nil {
		return
	}
	list, ok := raw.([]any)
	if !ok {
		delete(p, "candidates")
		return
	}

	out := make([]any, 0, len(list))
	for _, item := range list {
		switch c := item.(type) {
		case map[string]any:
			if cand, ok := normalizeCandidate(c); ok {
				out = append(out, cand)
			}
		case []any:
			if isFourNumbers(c) {
				out = append(out, map[string]any{"bbox": c})
			}
		}
	}
	p["candidates"] = out
}

func normalizeCandidate(c map[string]any) (map[string]any, bool) {
	promoteCoords(c)
	if inner, ok := c["bbox"].(map[string]any); ok {
		merged := make(map[string]any, len(c)+len(inner))
		for k, v := range c {
			merged[k] = v
		}
		for k, v := range inner {
			merged[k] = v
		}
		c = merged
		promoteCoords(c)
	}
	box, ok := c["bbox"].([]any)
	if !ok || !isFourNumbers(box) {
		return nil, false
	}
	return c, true
}

func coerceExpect(p map[string]any) {
	switch e := p["expect"].(type) {
	case nil, map[string]any:
	case string:
		p["expect"] = map[string]any{"page_contains_text": e}
	default:
		delete(p, "expect")
	}
}

func normalizeScroll(p map[string]any) {
	if b, ok := p["scroll"].(bool); ok && !b {
		delete(p, "scroll")
	}

	// A flat direction/amount pair on a scroll action.
	if p["type"] == string(schemas.ActionScroll) && p["scroll"] == nil {
		if dir, ok := p["direction"].(string); ok {
			spec := map[string]any{"direction": dir}
			if amount, ok := p["amount"]; ok {
				spec["amount"] = amount
			} else {
				spec["amount"] = defaultScrollAmount
			}
			p["scroll"] = spec
			delete(p, "direction")
			delete(p, "amount")
		}
	}

	spec, ok := p["scroll"].(map[string]any)
	if !ok {
		return
	}
	if dir, ok := spec["direction"].(string); ok {
		spec["direction"] = strings.ToLower(strings.TrimSpace(dir))
	}
	if amount, ok := spec["amount"].(float64); ok {
		if amount > 0 && amount < 1 {
			spec["amount"] = defaultScrollAmount
		} else {
			spec["amount"] = int(math.Round(amount))
		}
	}
}

func restrictKey(p map[string]any) {
	raw, present := p["key"]
	if !present || raw == nil {
		return
	}
	key, ok := raw.(string)
	if !ok || !schemas.IsAllowedKey(key) {
		p["key"] = nil
	}
}

func isFourNumbers(v []any) bool {
	if len(v) != 4 {
		return false
	}
	for _, n := range v {
		switch n.(type) {
		case float64, int:
		default:
			return false
		}
	}
	return true
}
