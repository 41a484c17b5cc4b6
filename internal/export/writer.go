package export

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ch-ingest/internal/metrics"
	"github.com/sells-group/ch-ingest/internal/model"
	"github.com/sells-group/ch-ingest/internal/resilience"
)

// Content types of the two artifacts.
const (
	ContentTypeJSONL = "application/x-ndjson"
	ContentTypeCSV   = "text/csv; charset=utf-8"
)

// JSONLKey and CSVKey name a date's artifacts. Re-running a date overwrites them.
func JSONLKey(targetDate string) string { return "companies-" + targetDate + ".jsonl" }
func CSVKey(targetDate string) string   { return "companies-" + targetDate + ".csv" }

// Artifacts holds the locations of the uploaded files.
type Artifacts struct {
	JSONL string `json:"jsonl_file"`
	CSV   string `json:"csv_file"`
}

// Writer encodes and uploads both artifacts for a run.
type Writer struct {
	store   ObjectStore
	retry   resilience.RetryConfig
	metrics *metrics.Metrics
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithRetry overrides the upload retry policy.
func WithRetry(cfg resilience.RetryConfig) WriterOption {
	return func(w *Writer) { w.retry = cfg }
}

// WithMetrics records upload outcomes.
func WithMetrics(m *metrics.Metrics) WriterOption {
	return func(w *Writer) { w.metrics = m }
}

// NewWriter creates a Writer over store.
func NewWriter(store ObjectStore, opts ...WriterOption) *Writer {
	w := &Writer{
		store: store,
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     10 * time.Second,
			OnRetry:        resilience.RetryLogger("export", "put"),
		},
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Write uploads the JSON-lines and CSV artifacts. Any upload failure after
// retries is returned; the caller treats it as fatal.
func (w *Writer) Write(ctx context.Context, targetDate string, records []model.CompanyRecord) (*Artifacts, error) {
	jsonl, err := EncodeJSONL(records)
	if err != nil {
		return nil, err
	}

	jsonlURL, err := w.put(ctx, "jsonl", JSONLKey(targetDate), jsonl, ContentTypeJSONL)
	if err != nil {
		return nil, err
	}
	csvURL, err := w.put(ctx, "csv", CSVKey(targetDate), EncodeCSV(records), ContentTypeCSV)
	if err != nil {
		return nil, err
	}

	zap.L().Info("export: artifacts uploaded",
		zap.String("target_date", targetDate),
		zap.Int("companies", len(records)),
		zap.String("jsonl", jsonlURL),
		zap.String("csv", csvURL),
	)
	return &Artifacts{JSONL: jsonlURL, CSV: csvURL}, nil
}

func (w *Writer) put(ctx context.Context, format, key string, body []byte, contentType string) (string, error) {
	loc, err := resilience.DoVal(ctx, w.retry, func(ctx context.Context) (string, error) {
		return w.store.Put(ctx, key, body, contentType)
	})
	w.metrics.Upload(format, err)
	if err != nil {
		return "", eris.Wrapf(err, "export: upload %s", key)
	}
	return loc, nil
}
