package vision

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/config"
	"github.com/xkilldash9x/releasescout/internal/metrics"
)

type reply struct {
	text string
	err  error
}

// scriptedLLM replays replies in order and records every request.
type scriptedLLM struct {
	mu       sync.Mutex
	replies  []reply
	requests []schemas.GenerationRequest
}

func (s *scriptedLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return "", errors.New("no scripted reply")
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.text, r.err
}

var screenshot = []byte{0x89, 'P', 'N', 'G'}

func newTestClient(t *testing.T, llm schemas.LLMClient, rec *metrics.Recorder) *Client {
	t.Helper()
	cfg := config.NewDefaultConfig().Vision
	cfg.RequestsPerMinute = 0
	return NewClient(llm, cfg, zaptest.NewLogger(t), rec)
}

func TestClient_GetAction_RetriesWithStricterPrompt(t *testing.T) {
	llm := &scriptedLLM{replies: []reply{
		{text: "Sure, click the search box."},
		{text: `{"type":"click","reason":"search","bbox":[500,10,800,40]}`},
	}}
	rec := metrics.NewRecorder("test", zaptest.NewLogger(t))
	c := newTestClient(t, llm, rec)

	action, err := c.GetAction(context.Background(), screenshot, "Find the search bar.", schemas.StageHome)
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionClick, action.Type)

	require.Len(t, llm.requests, 2)
	first, second := llm.requests[0], llm.requests[1]
	assert.Equal(t, navigationSystemPrompt, first.SystemPrompt)
	assert.Equal(t, navigationSystemPrompt+retrySuffix, second.SystemPrompt)
	assert.Equal(t, schemas.TierNavigation, first.Tier)
	assert.True(t, first.Options.ForceJSONFormat)
	assert.Equal(t, [][]byte{screenshot}, first.Images)
	assert.True(t, strings.HasPrefix(first.UserPrompt, "Stage: HOME. Subgoal: Find the search bar."))

	assert.Equal(t, 1.0, visionCalls(t, rec, "action", "error"))
	assert.Equal(t, 1.0, visionCalls(t, rec, "action", "success"))
}

// visionCalls reads the vision call counter for one label pair.
func visionCalls(t *testing.T, rec *metrics.Recorder, kind, status string) float64 {
	t.Helper()
	families, err := rec.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "test_vision_calls_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["kind"] == kind && labels["status"] == status {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestClient_GetAction_Exhausted(t *testing.T) {
	llm := &scriptedLLM{replies: []reply{
		{text: `{"type":"click"}`},
		{err: errors.New("503 unavailable")},
		{text: `not json`},
	}}
	c := newTestClient(t, llm, nil)

	action, err := c.GetAction(context.Background(), screenshot, "x", schemas.StageRepo)
	assert.Nil(t, action)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDecode, "the last failure is surfaced")
	assert.Contains(t, err.Error(), "after 3 attempts")

	require.Len(t, llm.requests, 3)
	assert.Equal(t, 2, strings.Count(llm.requests[2].SystemPrompt, retrySuffix))
}

func TestClient_GetReleaseExtract(t *testing.T) {
	llm := &scriptedLLM{replies: []reply{{text: `{"version":"1.2.0","tag":"v1.2.0","author":"octocat"}`}}}
	c := newTestClient(t, llm, nil)

	info, err := c.GetReleaseExtract(context.Background(), screenshot, "openclaw/openclaw")
	require.NoError(t, err)
	require.NotNil(t, info.Tag)
	assert.Equal(t, "v1.2.0", *info.Tag)

	req := llm.requests[0]
	assert.Equal(t, schemas.TierExtraction, req.Tier)
	assert.Equal(t, extractionSystemPrompt, req.SystemPrompt)
	assert.Contains(t, req.UserPrompt, "Repository: openclaw/openclaw.")
}

func TestClient_EmptyScreenshot(t *testing.T) {
	llm := &scriptedLLM{}
	c := newTestClient(t, llm, nil)

	_, err := c.GetAction(context.Background(), nil, "x", schemas.StageHome)
	assert.ErrorContains(t, err, "empty screenshot")
	assert.Empty(t, llm.requests)
}

func TestClient_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	llm := &scriptedLLM{}
	c := newTestClient(t, llm, nil)
	_, err := c.GetAction(ctx, screenshot, "x", schemas.StageHome)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, llm.requests)
}

func TestClient_RateLimited(t *testing.T) {
	llm := &scriptedLLM{replies: []reply{{text: "bad"}, {text: "bad"}, {text: "bad"}}}
	cfg := config.NewDefaultConfig().Vision
	cfg.RequestsPerMinute = 1
	c := NewClient(llm, cfg, zaptest.NewLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := c.GetAction(ctx, screenshot, "x", schemas.StageHome)
	require.Error(t, err)
	assert.Len(t, llm.requests, 1, "the second attempt waits for a token past the deadline")
}
