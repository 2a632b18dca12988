package schemas

import "context"

// ModelTier selects which configured model serves a request.
type ModelTier string

const (
	// TierNavigation serves per-step action decisions.
	TierNavigation ModelTier = "navigation"
	// TierExtraction serves the final release read-out.
	TierExtraction ModelTier = "extraction"
)

// GenerationOptions tunes a single generation call.
type GenerationOptions struct {
	Temperature     float32
	ForceJSONFormat bool
}

// GenerationRequest is a multimodal prompt. Images are PNG encoded and are sent
// after the user prompt.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Images       [][]byte
	Tier         ModelTier
	Options      GenerationOptions
}

// LLMClient generates a text completion for a request.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}
