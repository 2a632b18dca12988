package verify

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/config"
)

func strp(s string) *string { return &s }

func newTestVerifier(t *testing.T, handler http.HandlerFunc) *Verifier {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	v, err := NewVerifier(config.VerifyConfig{
		Enabled: true,
		Token:   "test-token",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return v
}

func latestReleaseHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/openclaw/openclaw/releases/latest", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"tag_name":"v2026.3.1","name":"openclaw 2026.3.1","author":{"login":"steipete"}}`)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name       string
		info       schemas.ReleaseInfo
		wantTag    bool
		wantAuthor bool
	}{
		{"exact", schemas.ReleaseInfo{Tag: strp("v2026.3.1"), Author: strp("steipete")}, true, true},
		{"version without v", schemas.ReleaseInfo{Version: strp("2026.3.1"), Author: strp("@SteiPete")}, true, true},
		{"wrong tag", schemas.ReleaseInfo{Tag: strp("v2026.2.0"), Author: strp("someone")}, false, false},
		{"nothing extracted", schemas.ReleaseInfo{}, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v := newTestVerifier(t, latestReleaseHandler(t))
			got, err := v.Verify(context.Background(), "openclaw/openclaw", tc.info)
			require.NoError(t, err)
			assert.Equal(t, "v2026.3.1", got.APITag)
			assert.Equal(t, "openclaw 2026.3.1", got.APIName)
			assert.Equal(t, "steipete", got.APIAuthor)
			assert.Equal(t, tc.wantTag, got.TagMatches)
			assert.Equal(t, tc.wantAuthor, got.AuthorMatches)
		})
	}
}

func TestVerify_NoRelease(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	_, err := v.Verify(context.Background(), "openclaw/openclaw", schemas.ReleaseInfo{})
	assert.ErrorIs(t, err, ErrNoRelease)
}

func TestVerify_ServerError(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := v.Verify(context.Background(), "openclaw/openclaw", schemas.ReleaseInfo{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoRelease)
}

func TestVerify_InvalidRepository(t *testing.T) {
	v := newTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	})
	for _, repo := range []string{"openclaw", "/openclaw", "openclaw/"} {
		_, err := v.Verify(context.Background(), repo, schemas.ReleaseInfo{})
		assert.Error(t, err, repo)
	}
}
