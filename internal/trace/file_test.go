package trace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/releasescout/api/schemas"
)

var runStart = time.Date(2026, 3, 9, 14, 5, 7, 0, time.FixedZone("CET", 3600))

func newTestTracer(t *testing.T) *FileTracer {
	t.Helper()
	tr, err := NewFileTracer(t.TempDir(), runStart, zaptest.NewLogger(t))
	require.NoError(t, err)
	return tr
}

func TestNewFileTracer_UsesUTCTimestamp(t *testing.T) {
	base := t.TempDir()
	tr, err := NewFileTracer(base, runStart, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "20260309_130507"), tr.Dir())
	assert.DirExists(t, tr.Dir())
}

func TestFileTracer_Record(t *testing.T) {
	tr := newTestTracer(t)
	ctx := context.Background()

	action := &schemas.Action{Type: schemas.ActionClick, Reason: "open repo"}
	ev := schemas.TraceEvent{RunID: "r1", Step: 3, Kind: schemas.TraceAction, Stage: schemas.StageSearchResults, Action: action}
	require.NoError(t, tr.Record(ctx, ev))

	raw, err := os.ReadFile(filepath.Join(tr.Dir(), "step_03_action.json"))
	require.NoError(t, err)
	var got schemas.TraceEvent
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "r1", got.RunID)
	assert.Equal(t, schemas.StageSearchResults, got.Stage)
	require.NotNil(t, got.Action)
	assert.Equal(t, "open repo", got.Action.Reason)

	t.Run("rejections have their own directory", func(t *testing.T) {
		require.NoError(t, tr.Record(ctx, schemas.TraceEvent{Step: 4, Kind: schemas.TraceRejection}))
		assert.FileExists(t, filepath.Join(tr.Dir(), "rejections", "step_04_rejected_action.json"))
	})

	t.Run("repeated kinds are not overwritten", func(t *testing.T) {
		ev := schemas.TraceEvent{Step: 5, Kind: schemas.TraceError}
		require.NoError(t, tr.Record(ctx, ev))
		require.NoError(t, tr.Record(ctx, ev))
		assert.FileExists(t, filepath.Join(tr.Dir(), "step_05_error.json"))
		assert.FileExists(t, filepath.Join(tr.Dir(), "step_05_error_2.json"))
	})
}

func TestFileTracer_SaveImage(t *testing.T) {
	tr := newTestTracer(t)
	ctx := context.Background()

	require.NoError(t, tr.SaveImage(ctx, 1, "", []byte("png")))
	require.NoError(t, tr.SaveImage(ctx, 1, "bbox", []byte("overlay")))

	data, err := os.ReadFile(filepath.Join(tr.Dir(), "step_01.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
	data, err = os.ReadFile(filepath.Join(tr.Dir(), "bbox", "step_01_bbox.png"))
	require.NoError(t, err)
	assert.Equal(t, "overlay", string(data))
}

func TestFileTracer_Cancelled(t *testing.T) {
	tr := newTestTracer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, tr.Record(ctx, schemas.TraceEvent{Step: 1, Kind: schemas.TraceAction}), context.Canceled)
	assert.ErrorIs(t, tr.SaveImage(ctx, 1, "", nil), context.Canceled)
	assert.NoFileExists(t, filepath.Join(tr.Dir(), "step_01_action.json"))
}

type failingTracer struct{ err error }

func (f failingTracer) Record(context.Context, schemas.TraceEvent) error { return f.err }

func (f failingTracer) SaveImage(context.Context, int, string, []byte) error { return f.err }

func TestMulti(t *testing.T) {
	tr := newTestTracer(t)
	boom := errors.New("disk full")
	m := NewMulti(failingTracer{boom}, nil, tr)
	require.Len(t, m, 2)

	err := m.Record(context.Background(), schemas.TraceEvent{Step: 2, Kind: schemas.TraceValidation})
	assert.ErrorIs(t, err, boom)
	assert.FileExists(t, filepath.Join(tr.Dir(), "step_02_validation.json"), "later tracers still run")

	assert.NoError(t, NewMulti(tr).SaveImage(context.Background(), 2, "", []byte{1}))
}
