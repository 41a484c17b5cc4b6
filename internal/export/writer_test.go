package export

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ch-ingest/internal/metrics"
	"github.com/sells-group/ch-ingest/internal/resilience"
)

type fakeStore struct {
	mu       sync.Mutex
	failures map[string][]error
	objects  map[string][]byte
	calls    int
}

func (f *fakeStore) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if errs := f.failures[key]; len(errs) > 0 {
		f.failures[key] = errs[1:]
		return "", errs[0]
	}
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = body
	return "mem://" + key, nil
}

func noSleepRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: 3,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
}

func TestWriter_Write(t *testing.T) {
	st := &fakeStore{}
	m := metrics.New()
	w := NewWriter(st, WithRetry(noSleepRetry()), WithMetrics(m))

	art, err := w.Write(context.Background(), "2026-10-18", sampleRecords())
	require.NoError(t, err)
	assert.Equal(t, "mem://companies-2026-10-18.jsonl", art.JSONL)
	assert.Equal(t, "mem://companies-2026-10-18.csv", art.CSV)
	assert.Equal(t, 2, st.calls)
	assert.True(t, strings.HasPrefix(string(st.objects["companies-2026-10-18.csv"]), "company_number,"))
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP chingest_export_uploads_total Artifact uploads by format and result.
# TYPE chingest_export_uploads_total counter
chingest_export_uploads_total{format="csv",result="ok"} 1
chingest_export_uploads_total{format="jsonl",result="ok"} 1
`), "chingest_export_uploads_total"))
}

func TestWriter_RetriesTransient(t *testing.T) {
	st := &fakeStore{failures: map[string][]error{
		"companies-2026-10-18.jsonl": {resilience.Transient(errors.New("503 Service Unavailable"))},
	}}
	w := NewWriter(st, WithRetry(noSleepRetry()))

	art, err := w.Write(context.Background(), "2026-10-18", sampleRecords())
	require.NoError(t, err)
	assert.NotEmpty(t, art.JSONL)
	assert.Equal(t, 3, st.calls)
}

func TestWriter_PermanentFailureIsReturned(t *testing.T) {
	st := &fakeStore{failures: map[string][]error{
		"companies-2026-10-18.csv": {errors.New("access denied")},
	}}
	m := metrics.New()
	w := NewWriter(st, WithRetry(noSleepRetry()), WithMetrics(m))

	art, err := w.Write(context.Background(), "2026-10-18", sampleRecords())
	require.Error(t, err)
	assert.Nil(t, art)
	assert.Contains(t, err.Error(), "companies-2026-10-18.csv")
	assert.Equal(t, 2, st.calls)
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(`
# HELP chingest_export_uploads_total Artifact uploads by format and result.
# TYPE chingest_export_uploads_total counter
chingest_export_uploads_total{format="csv",result="error"} 1
chingest_export_uploads_total{format="jsonl",result="ok"} 1
`), "chingest_export_uploads_total"))
}
