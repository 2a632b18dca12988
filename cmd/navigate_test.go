// File: cmd/navigate_test.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/releasescout/api/schemas"
	"github.com/xkilldash9x/releasescout/internal/config"
	"github.com/xkilldash9x/releasescout/internal/metrics"
)

const extractedJSON = `{
	"repository": "openclaw/openclaw",
	"latest_release": {"version": "2026.3.1", "tag": "v2026.3.1", "author": "steipete"}
}`

func TestNavigate_PrintsAndWritesResult(t *testing.T) {
	traceDir := t.TempDir()
	outFile := filepath.Join(t.TempDir(), "result.json")
	b := newScriptedBrowser(t)
	v := newFakeVision()

	out, err := executeCommand(t, testComponents(b, v), "navigate", "--trace-dir", traceDir, "--out", outFile)
	require.NoError(t, err)

	assert.JSONEq(t, extractedJSON, out)
	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.JSONEq(t, extractedJSON, string(data))

	assert.True(t, b.started)
	assert.True(t, b.closed, "the browser is closed after the run")
	assert.Equal(t, []string{"https://github.com"}, b.navigated)
	assert.True(t, b.cfg.Headless)
	assert.Equal(t, []string{"openclaw/openclaw"}, v.extractOf)

	runDir := filepath.Join(traceDir, "20260309_140000")
	for _, name := range []string{"step_01.png", "step_01_observation.json", "step_02_extraction.json"} {
		assert.FileExists(t, filepath.Join(runDir, name))
	}
	assert.FileExists(t, filepath.Join(runDir, "bbox", "step_02_bbox.png"))
}

func TestNavigate_FlagsOverrideConfig(t *testing.T) {
	path := createTempConfig(t, "agent:\n  repository: acme/widgets\ntrace:\n  enabled: true\n")
	b := newScriptedBrowser(t)
	v := newFakeVision()

	out, err := executeCommand(t, testComponents(b, v), "navigate",
		"--config", path,
		"--repo", "openclaw/openclaw",
		"--headed",
		"--no-trace",
		"--user-data-dir", t.TempDir(),
	)
	require.NoError(t, err)

	assert.JSONEq(t, extractedJSON, out)
	assert.False(t, b.cfg.Headless, "--headed shows the window")
	assert.NotEmpty(t, b.cfg.UserDataDir)
	_, statErr := os.Stat("runs")
	assert.True(t, os.IsNotExist(statErr), "--no-trace writes nothing")
}

func TestNavigate_RepositoryFromConfigFile(t *testing.T) {
	path := createTempConfig(t, "agent:\n  repository: acme/widgets\n")
	v := newFakeVision()

	out, err := executeCommand(t, testComponents(newScriptedBrowser(t), v), "navigate", "--config", path, "--no-trace")
	require.NoError(t, err)

	// The scripted browser never reaches acme/widgets, so nothing is extracted.
	assert.JSONEq(t, `{
		"repository": "acme/widgets",
		"latest_release": {"version": null, "tag": null, "author": null}
	}`, out)
	assert.Empty(t, v.extractOf)
}

func TestNavigate_TextFormat(t *testing.T) {
	out, err := executeCommand(t, testComponents(newScriptedBrowser(t), newFakeVision()),
		"navigate", "--no-trace", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Tag:        v2026.3.1")
}

func TestNavigate_Verify(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/openclaw/openclaw/releases/latest", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"tag_name":"v2026.3.1","name":"openclaw 2026.3.1","author":{"login":"steipete"}}`)
	}))
	defer server.Close()
	t.Setenv("RELEASESCOUT_VERIFY_BASE_URL", server.URL)

	out, err := executeCommand(t, testComponents(newScriptedBrowser(t), newFakeVision()),
		"navigate", "--no-trace", "--verify")
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"repository": "openclaw/openclaw",
		"latest_release": {"version": "2026.3.1", "tag": "v2026.3.1", "author": "steipete"},
		"verification": {
			"api_tag": "v2026.3.1",
			"api_name": "openclaw 2026.3.1",
			"api_author": "steipete",
			"tag_matches": true,
			"author_matches": true
		}
	}`, out)
}

func TestNavigate_VerifyFailureKeepsResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	t.Setenv("RELEASESCOUT_VERIFY_BASE_URL", server.URL)

	out, err := executeCommand(t, testComponents(newScriptedBrowser(t), newFakeVision()),
		"navigate", "--no-trace", "--verify")
	require.NoError(t, err)
	assert.JSONEq(t, extractedJSON, out)
}

func TestNavigate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		setup   func(t *testing.T, deps *components)
		wantErr string
		started bool
	}{
		{
			name:    "invalid repository",
			args:    []string{"--repo", "openclaw"},
			wantErr: "owner/repo",
		},
		{
			name:    "invalid max steps",
			args:    []string{"--max-steps", "0"},
			wantErr: "max_steps must be a positive integer",
		},
		{
			name:    "unsupported format",
			args:    []string{"--format", "yaml"},
			wantErr: "unsupported output format: yaml",
		},
		{
			name: "vision model unavailable",
			setup: func(t *testing.T, deps *components) {
				deps.newVision = func(context.Context, config.VisionConfig, *zap.Logger, *metrics.Recorder) (schemas.VisionModel, error) {
					return nil, errors.New("missing API key")
				}
			},
			wantErr: "failed to create vision model: missing API key",
		},
		{
			name: "database unavailable",
			setup: func(t *testing.T, deps *components) {
				t.Setenv("RELEASESCOUT_DATABASE_URL", "postgres://releasescout@localhost/runs")
			},
			wantErr: "failed to connect to database: no database in tests",
			started: true,
		},
		{
			name:    "metrics address unusable",
			args:    []string{"--metrics-addr", "no-port"},
			wantErr: "metrics server failed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := newScriptedBrowser(t)
			deps := testComponents(b, newFakeVision())
			if tc.setup != nil {
				tc.setup(t, &deps)
			}

			args := append([]string{"navigate", "--no-trace"}, tc.args...)
			out, err := executeCommand(t, deps, args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
			assert.Empty(t, out, "nothing is printed on failure")
			if tc.started {
				assert.True(t, b.closed, "a started browser is always closed")
			} else {
				assert.False(t, b.started)
			}
		})
	}
}

func TestRunNavigate_ServesMetrics(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Trace.Enabled = false
	cfg.Metrics.Addr = "127.0.0.1:0"

	res, err := runNavigate(context.Background(), cfg, testComponents(newScriptedBrowser(t), newFakeVision()))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "v2026.3.1", *res.LatestRelease.Tag)
}
