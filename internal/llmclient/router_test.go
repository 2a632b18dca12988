package llmclient

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

// setupRouter creates a router over two mocks, along with a log observer.
func setupRouter(t *testing.T) (*LLMRouter, *MockLLMClient, *MockLLMClient, *observer.ObservedLogs) {
	t.Helper()
	logger, logs := setupTestLogger(t)

	navigation := &MockLLMClient{Name: "navigation"}
	extraction := &MockLLMClient{Name: "extraction"}

	router, err := NewLLMRouter(logger, navigation, extraction)
	require.NoError(t, err, "NewLLMRouter should initialize successfully")
	return router, navigation, extraction, logs
}

func TestNewLLMRouter_Success(t *testing.T) {
	router, navigation, extraction, _ := setupRouter(t)
	assert.Equal(t, navigation, router.clients[schemas.TierNavigation])
	assert.Equal(t, extraction, router.clients[schemas.TierExtraction])
}

func TestNewLLMRouter_Failure_MissingClients(t *testing.T) {
	logger, _ := setupTestLogger(t)
	valid := new(MockLLMClient)

	tests := []struct {
		name       string
		navigation schemas.LLMClient
		extraction schemas.LLMClient
	}{
		{"missing navigation", nil, valid},
		{"missing extraction", valid, nil},
		{"missing both", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, err := NewLLMRouter(logger, tt.navigation, tt.extraction)
			assert.Nil(t, router)
			assert.ErrorContains(t, err, "both navigation and extraction tier clients must be provided")
		})
	}
}

func TestLLMRouter_Routing(t *testing.T) {
	ctx := context.Background()

	t.Run("extraction tier", func(t *testing.T) {
		router, navigation, extraction, logs := setupRouter(t)
		req := schemas.GenerationRequest{Tier: schemas.TierExtraction, UserPrompt: "read"}
		extraction.On("Generate", ctx, req).Return("release", nil).Once()

		out, err := router.Generate(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "release", out)
		extraction.AssertExpectations(t)
		navigation.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)

		require.Equal(t, 1, logs.Len())
		assert.Equal(t, "Routing LLM request", logs.All()[0].Message)
		assert.Equal(t, string(schemas.TierExtraction), logs.All()[0].ContextMap()["tier"])
	})

	t.Run("empty tier defaults to navigation", func(t *testing.T) {
		router, navigation, extraction, logs := setupRouter(t)
		req := schemas.GenerationRequest{UserPrompt: "act"}
		navigation.On("Generate", ctx, req).Return("action", nil).Once()

		out, err := router.Generate(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, "action", out)
		navigation.AssertExpectations(t)
		extraction.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
		assert.Equal(t, string(schemas.TierNavigation), logs.All()[0].ContextMap()["tier"])
	})

	t.Run("errors propagate", func(t *testing.T) {
		router, navigation, _, _ := setupRouter(t)
		boom := errors.New("api failure")
		req := schemas.GenerationRequest{Tier: schemas.TierNavigation}
		navigation.On("Generate", ctx, req).Return("", boom).Once()

		_, err := router.Generate(ctx, req)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("unknown tier", func(t *testing.T) {
		router, navigation, extraction, _ := setupRouter(t)
		_, err := router.Generate(ctx, schemas.GenerationRequest{Tier: "bogus"})
		assert.ErrorContains(t, err, "no LLM client configured for tier: bogus")
		navigation.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
		extraction.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	})
}
