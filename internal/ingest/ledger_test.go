package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/sells-group/ch-ingest/internal/config"
	"github.com/sells-group/ch-ingest/internal/model"
	"github.com/sells-group/ch-ingest/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	restore := zap.ReplaceGlobals(zap.New(core))
	t.Cleanup(restore)
	return logs
}

// failingLogStore rejects log appends and heartbeats.
type failingLogStore struct {
	store.Store
}

func (failingLogStore) AppendLog(context.Context, model.LogEntry) (int64, error) {
	return 0, errors.New("disk full")
}

func (failingLogStore) TouchRun(context.Context, string) error {
	return errors.New("disk full")
}

func TestLedger_Lifecycle(t *testing.T) {
	st := newTestStore(t)
	l := NewLedger(st)
	ctx := context.Background()

	run, err := l.Start(ctx, testDate)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	total := 42
	require.NoError(t, l.Progress(ctx, run.ID, model.RunProgress{TotalCompanies: 10, PagesFetched: 1, TotalResultsFromAPI: &total}))
	require.NoError(t, l.Complete(ctx, run.ID, model.RunCompletion{
		Status:         model.RunStatusCompleted,
		TotalCompanies: 42,
		PagesFetched:   1,
		JSONLPath:      "a.jsonl",
		CSVPath:        "a.csv",
	}))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, "a.csv", got.CSVPath)
	require.NotNil(t, got.TotalResultsFromAPI)
	assert.Equal(t, 42, *got.TotalResultsFromAPI)
}

func TestLedger_FailUnknownRun(t *testing.T) {
	l := NewLedger(newTestStore(t))
	err := l.Fail(context.Background(), "missing", "boom")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLedger_LogMirrorsToZap(t *testing.T) {
	logs := observeLogs(t)
	st := newTestStore(t)
	l := NewLedger(st)
	ctx := context.Background()

	run, err := l.Start(ctx, testDate)
	require.NoError(t, err)

	l.Log(ctx, run.ID, model.LogLevelWarning, "Rate limited", map[string]any{"retry_after_seconds": 2.0})

	entries, err := st.ListLogs(ctx, run.ID, store.LogFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, model.LogLevelWarning, entries[0].Level)
	assert.Equal(t, 2.0, entries[0].Metadata["retry_after_seconds"])

	mirrored := logs.FilterMessage("Rate limited").All()
	require.Len(t, mirrored, 1)
	assert.Equal(t, zapcore.WarnLevel, mirrored[0].Level)
	assert.Equal(t, run.ID, mirrored[0].ContextMap()["run_id"])
}

func TestLedger_LogAndHeartbeatFailuresAreSwallowed(t *testing.T) {
	logs := observeLogs(t)
	l := NewLedger(failingLogStore{Store: newTestStore(t)})

	assert.NotPanics(t, func() {
		l.Log(context.Background(), "run-1", model.LogLevelInfo, "hello", nil)
		l.Heartbeat(context.Background(), "run-1")
	})
	assert.Equal(t, 1, logs.FilterMessage("ledger: append log failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("ledger: heartbeat failed").Len())
}

func TestSweeper_FailsOnlyStaleRuns(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	stale, err := st.CreateRun(ctx, testDate)
	require.NoError(t, err)
	done, err := st.CreateRun(ctx, testDate)
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, done.ID, model.RunCompletion{Status: model.RunStatusCompleted}))

	s := NewSweeper(st, config.SweepConfig{StaleAfterMins: 30}, nil)

	n, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "fresh heartbeat is not stale")

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetRun(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, got.Status)
	assert.Equal(t, StaleRunMessage, got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)

	got, err = st.GetRun(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, got.Status)
}

func TestSweeper_Defaults(t *testing.T) {
	s := NewSweeper(nil, config.SweepConfig{}, nil)
	assert.Equal(t, 30*time.Minute, s.staleAfter)
	assert.Equal(t, 5*time.Minute, s.interval)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	st := newTestStore(t)
	s := NewSweeper(st, config.SweepConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
