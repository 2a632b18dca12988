// internal/llmclient/gemini_client.go
package llmclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/config"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// contentGenerator is the slice of the genai Models service the client uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient implements schemas.LLMClient for a single Gemini model.
type GeminiClient struct {
	models  contentGenerator
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGeminiClient wraps an existing genai client for model.
func NewGeminiClient(client *genai.Client, model string, cfg config.VisionConfig, logger *zap.Logger) (*GeminiClient, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	return newGeminiClient(client.Models, model, cfg.APITimeout, logger)
}

func newGeminiClient(models contentGenerator, model string, timeout time.Duration, logger *zap.Logger) (*GeminiClient, error) {
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}
	return &GeminiClient{
		models:  models,
		model:   model,
		timeout: timeout,
		logger:  logger.Named("llm_client.gemini").With(zap.String("model", model)),
	}, nil
}

// Generate sends the prompt and images to the model and returns the concatenated
// text of the first candidate. The call is bounded by the configured API timeout.
func (c *GeminiClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.model, buildContents(req), c.buildConfig(req))
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("Gemini request failed.", zap.Duration("duration", duration), zap.Error(err))
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates: %w", ErrEmptyResponse)
	}
	candidate := resp.Candidates[0]
	text := candidateText(candidate)
	if text == "" {
		if candidate.FinishReason == genai.FinishReasonSafety || candidate.FinishReason == genai.FinishReasonBlocklist {
			return "", fmt.Errorf("gemini blocked the request (reason: %s): %w", candidate.FinishReason, ErrEmptyResponse)
		}
		return "", fmt.Errorf("gemini returned empty content (reason: %s): %w", candidate.FinishReason, ErrEmptyResponse)
	}

	fields := []zap.Field{zap.Duration("duration", duration)}
	if u := resp.UsageMetadata; u != nil {
		fields = append(fields,
			zap.Int32("prompt_tokens", u.PromptTokenCount),
			zap.Int32("completion_tokens", u.CandidatesTokenCount),
			zap.Int32("total_tokens", u.TotalTokenCount))
	}
	c.logger.Debug("LLM generation complete (Gemini).", fields...)
	return text, nil
}

func (c *GeminiClient) buildConfig(req schemas.GenerationRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Options.Temperature),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Options.ForceJSONFormat {
		cfg.ResponseMIMEType = "application/json"
	}
	return cfg
}

func buildContents(req schemas.GenerationRequest) []*genai.Content {
	parts := make([]*genai.Part, 0, 1+len(req.Images))
	parts = append(parts, genai.NewPartFromText(req.UserPrompt))
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img, "image/png"))
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

func candidateText(c *genai.Candidate) string {
	if c == nil || c.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range c.Content.Parts {
		if p != nil && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(b.String())
}
