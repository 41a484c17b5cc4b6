package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/ch-ingest/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	done := started.Add(95 * time.Second)
	runs := []model.Run{
		{
			ID:             "abc12345-6789-0000-0000-000000000000",
			Status:         model.RunStatusCompleted,
			TargetDate:     "2026-10-18",
			StartedAt:      started,
			CompletedAt:    &done,
			TotalCompanies: 250,
			PagesFetched:   3,
		},
		{
			ID:         "def12345-6789-0000-0000-000000000000",
			Status:     model.RunStatusRunning,
			TargetDate: "2026-10-17",
			StartedAt:  started.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "STATUS")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "2026-10-18")
	assert.Contains(t, output, "completed")
	assert.Contains(t, output, "250")
	assert.Contains(t, output, "1m35s")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "2026-10-19 05:00")
}

func TestFormatLogs(t *testing.T) {
	ts := time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC)
	entries := []model.LogEntry{
		{ID: 1, Timestamp: ts, Level: model.LogLevelInfo, Message: "Starting ingestion"},
		{
			ID:        2,
			Timestamp: ts.Add(time.Second),
			Level:     model.LogLevelWarning,
			Message:   "Rate limited by Companies House, retrying",
			Metadata:  map[string]any{"retry_after_secs": 2, "offset": 100},
		},
	}

	var buf bytes.Buffer
	formatLogs(&buf, entries)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
	assert.Equal(t, "1 2026-10-19T06:00:00Z info    Starting ingestion", lines[0])
	assert.Equal(t, "2 2026-10-19T06:00:01Z warning Rate limited by Companies House, retrying offset=100 retry_after_secs=2", lines[1])
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789"))
	assert.Equal(t, "short", truncateID("short"))
}
