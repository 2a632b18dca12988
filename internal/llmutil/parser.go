// internal/llmutil/parser.go
package llmutil

import (
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

var (
	// Backticks are written as \x60 because Go raw strings cannot contain them.

	// jsonObjectRegex extracts a JSON object wrapped in a markdown fence.
	jsonObjectRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*({.*})\\s*\x60\x60\x60")
	// jsonArrayRegex extracts a JSON array wrapped in a markdown fence.
	jsonArrayRegex = regexp.MustCompile("(?s)\x60\x60\x60(?:json|JSON)?\\s*(\\[.*\\])\\s*\x60\x60\x60")
)

// ExtractJSON returns the JSON document embedded in a model response. It strips
// markdown fences and surrounding prose. When nothing that looks like JSON is
// found the trimmed response is returned unchanged.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	isObject := strings.Contains(response, "{")
	isArray := strings.Contains(response, "[")

	if strings.HasPrefix(response, "```") {
		var matches []string
		if isObject {
			matches = jsonObjectRegex.FindStringSubmatch(response)
		}
		if len(matches) <= 1 && isArray {
			matches = jsonArrayRegex.FindStringSubmatch(response)
		}
		if len(matches) > 1 {
			return matches[1]
		}
		return response
	}

	if strings.HasPrefix(response, "{") || strings.HasPrefix(response, "[") {
		return response
	}

	// Prose around the document.
	if isObject {
		fb := strings.Index(response, "{")
		lb := strings.LastIndex(response, "}")
		if fb != -1 && lb > fb {
			return response[fb : lb+1]
		}
	}
	if isArray {
		fb := strings.Index(response, "[")
		lb := strings.LastIndex(response, "]")
		if fb != -1 && lb > fb {
			return response[fb : lb+1]
		}
	}
	return response
}

// ParseJSONResponse parses a model response into T after extracting the JSON
// document from it.
func ParseJSONResponse[T any](response string) (*T, error) {
	doc := ExtractJSON(response)

	var result T
	if err := json.Unmarshal([]byte(doc), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w. Extracted JSON (truncated): %s", err, truncateString(doc, 500))
	}
	return &result, nil
}

// truncateString truncates a string to a maximum length.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
