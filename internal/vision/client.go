package vision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/config"
	"github.com/xkilldash9x/releasescout/internal/metrics"
)

// Call kinds, also used as metric labels.
const (
	kindAction  = "action"
	kindExtract = "extract"
)

// Client implements schemas.VisionModel on top of a text generation client.
// Malformed responses are retried with a stricter system prompt.
type Client struct {
	llm         schemas.LLMClient
	limiter     *rate.Limiter
	maxAttempts int
	temperature float32
	logger      *zap.Logger
	metrics     *metrics.Recorder
}

var _ schemas.VisionModel = (*Client)(nil)

// NewClient creates a vision client. A nil recorder disables metrics.
func NewClient(llm schemas.LLMClient, cfg config.VisionConfig, logger *zap.Logger, rec *metrics.Recorder) *Client {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60)
	}
	return &Client{
		llm:         llm,
		limiter:     rate.NewLimiter(limit, 1),
		maxAttempts: max(1, cfg.MaxAttempts),
		temperature: cfg.Temperature,
		logger:      logger.Named("vision"),
		metrics:     rec,
	}
}

// GetAction asks the navigation model for the next action.
func (c *Client) GetAction(ctx context.Context, screenshot []byte, subgoal string, stage schemas.Stage) (*schemas.Action, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: navigationSystemPrompt,
		UserPrompt:   actionUserPrompt(stage, subgoal),
		Tier:         schemas.TierNavigation,
	}
	return call(ctx, c, kindAction, req, screenshot, DecodeAction)
}

// GetReleaseExtract asks the extraction model to read the latest release.
func (c *Client) GetReleaseExtract(ctx context.Context, screenshot []byte, repo string) (*schemas.ReleaseInfo, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: extractionSystemPrompt,
		UserPrompt:   extractionUserPrompt(repo),
		Tier:         schemas.TierExtraction,
	}
	return call(ctx, c, kindExtract, req, screenshot, DecodeRelease)
}

func call[T any](ctx context.Context, c *Client, kind string, req schemas.GenerationRequest, screenshot []byte, decode func(string) (*T, error)) (*T, error) {
	if len(screenshot) == 0 {
		return nil, fmt.Errorf("vision %s call: empty screenshot", kind)
	}
	req.Images = [][]byte{screenshot}
	req.Options = schemas.GenerationOptions{Temperature: c.temperature, ForceJSONFormat: true}
	logger := c.logger.With(zap.String("kind", kind))

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("vision %s call: %w", kind, err)
		}

		start := time.Now()
		text, err := c.llm.Generate(ctx, req)
		var out *T
		if err == nil {
			out, err = decode(text)
			if err != nil {
				logger.Debug("Undecodable model output.", zap.String("response", truncate(text, 400)))
			}
		}
		c.metrics.RecordVisionCall(kind, err, time.Since(start))
		if err == nil {
			return out, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("vision %s call: %w", kind, ctxErr)
		}
		lastErr = err
		logger.Warn("Vision call failed.", zap.Int("attempt", attempt), zap.Int("max_attempts", c.maxAttempts), zap.Error(err))
		req.SystemPrompt += retrySuffix
	}
	return nil, fmt.Errorf("vision %s call failed after %d attempts: %w", kind, c.maxAttempts, lastErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
