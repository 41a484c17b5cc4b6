package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/ch-ingest/internal/model"
	"github.com/sells-group/ch-ingest/internal/store"
)

// Ledger records a run's lifecycle and its structured log.
type Ledger struct {
	store store.Store
}

// NewLedger creates a Ledger backed by st.
func NewLedger(st store.Store) *Ledger {
	return &Ledger{store: st}
}

// Start inserts a running run for targetDate.
func (l *Ledger) Start(ctx context.Context, targetDate string) (*model.Run, error) {
	run, err := l.store.CreateRun(ctx, targetDate)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: start run for %s", targetDate)
	}
	return run, nil
}

// Log appends an entry to the run's log and mirrors it to zap. Failing to
// persist the entry is reported to zap only.
func (l *Ledger) Log(ctx context.Context, runID string, level model.LogLevel, msg string, meta map[string]any) {
	fields := make([]zap.Field, 0, len(meta)+1)
	fields = append(fields, zap.String("run_id", runID))
	for k, v := range meta {
		fields = append(fields, zap.Any(k, v))
	}
	zap.L().Log(zapLevel(level), msg, fields...)

	if _, err := l.store.AppendLog(ctx, model.LogEntry{
		RunID:    runID,
		Level:    level,
		Message:  msg,
		Metadata: meta,
	}); err != nil {
		zap.L().Warn("ledger: append log failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// Progress persists the counters written after every page.
func (l *Ledger) Progress(ctx context.Context, runID string, p model.RunProgress) error {
	if err := l.store.UpdateRunProgress(ctx, runID, p); err != nil {
		return eris.Wrapf(err, "ledger: update progress for run %s", runID)
	}
	return nil
}

// Heartbeat marks the run as alive. Errors are logged and dropped.
func (l *Ledger) Heartbeat(ctx context.Context, runID string) {
	if err := l.store.TouchRun(ctx, runID); err != nil {
		zap.L().Warn("ledger: heartbeat failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// Complete writes the terminal status, counters and artifact paths.
func (l *Ledger) Complete(ctx context.Context, runID string, c model.RunCompletion) error {
	if err := l.store.CompleteRun(ctx, runID, c); err != nil {
		return eris.Wrapf(err, "ledger: complete run %s", runID)
	}
	return nil
}

// Fail marks the run failed with msg.
func (l *Ledger) Fail(ctx context.Context, runID, msg string) error {
	if err := l.store.FailRun(ctx, runID, msg); err != nil {
		return eris.Wrapf(err, "ledger: fail run %s", runID)
	}
	return nil
}

func zapLevel(level model.LogLevel) zapcore.Level {
	switch level {
	case model.LogLevelDebug:
		return zapcore.DebugLevel
	case model.LogLevelWarning:
		return zapcore.WarnLevel
	case model.LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
