package vision

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/llmutil"
)

// ErrDecode marks model output that could not be turned into a valid value.
var ErrDecode = errors.New("undecodable model output")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(actionVariant, schemas.Action{})
	return v
}

// actionVariant checks the fields each action type depends on.
func actionVariant(sl validator.StructLevel) {
	a := sl.Current().Interface().(schemas.Action)
	switch a.Type {
	case schemas.ActionClick:
		if a.BBox == nil && len(a.Candidates) == 0 {
			sl.ReportError(a.BBox, "bbox", "BBox", "bbox_or_candidates", "")
		}
	case schemas.ActionClickCandidates:
		if len(a.Candidates) == 0 {
			sl.ReportError(a.Candidates, "candidates", "Candidates", "required", "")
		}
	case schemas.ActionPress:
		if !schemas.IsAllowedKey(a.Key) {
			sl.ReportError(a.Key, "key", "Key", "allowed_key", "")
		}
	case schemas.ActionScroll:
		if a.Scroll == nil {
			sl.ReportError(a.Scroll, "scroll", "Scroll", "required", "")
		}
	case schemas.ActionTypeText:
		if a.Text == "" {
			sl.ReportError(a.Text, "text", "Text", "required", "")
		}
	}
}

// DecodeAction parses a model response into a validated action. Every failure
// wraps ErrDecode.
func DecodeAction(response string) (*schemas.Action, error) {
	payload, err := llmutil.ParseJSONResponse[map[string]any](response)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if *payload == nil {
		return nil, fmt.Errorf("%w: action is not a JSON object", ErrDecode)
	}
	normalized := Normalize(*payload)

	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	var action schemas.Action
	if err := json.Unmarshal(raw, &action); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if err := validate.Struct(action); err != nil {
		return nil, fmt.Errorf("%w: invalid %q action: %w", ErrDecode, action.Type, err)
	}
	return &action, nil
}

// DecodeRelease parses a model response into release fields. Missing, null and
// blank values become nil. Numbers are accepted and formatted as text.
func DecodeRelease(response string) (*schemas.ReleaseInfo, error) {
	payload, err := llmutil.ParseJSONResponse[map[string]any](response)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if *payload == nil {
		return nil, fmt.Errorf("%w: release is not a JSON object", ErrDecode)
	}

	var info schemas.ReleaseInfo
	for key, dst := range map[string]**string{
		"version": &info.Version,
		"tag":     &info.Tag,
		"author":  &info.Author,
	} {
		s, err := releaseField((*payload)[key])
		if err != nil {
			return nil, fmt.Errorf("%w: field %s: %w", ErrDecode, key, err)
		}
		*dst = s
	}
	return &info, nil
}

func releaseField(v any) (*string, error) {
	var s string
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		s = strings.TrimSpace(t)
	case float64:
		s = fmt.Sprintf("%v", t)
	default:
		return nil, fmt.Errorf("unexpected %T", v)
	}
	if s == "" {
		return nil, nil
	}
	return &s, nil
}
