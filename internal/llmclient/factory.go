package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/config"
)

// NewClient builds the tiered Gemini client described by cfg. Both tiers share
// one underlying genai client.
func NewClient(ctx context.Context, cfg config.VisionConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client init: %w", err)
	}

	navigation, err := NewGeminiClient(client, cfg.NavigationModel, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("navigation model: %w", err)
	}
	extractionModel := cfg.ExtractionModel
	if extractionModel == "" {
		extractionModel = cfg.NavigationModel
	}
	extraction, err := NewGeminiClient(client, extractionModel, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("extraction model: %w", err)
	}
	return NewLLMRouter(logger, navigation, extraction)
}
