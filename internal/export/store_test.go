package export

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ch-ingest/internal/config"
)

func TestLocalStore_PutOverwrites(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	st, err := NewLocalStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	path, err := st.Put(ctx, "companies-2026-10-18.csv", []byte("first"), ContentTypeCSV)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "companies-2026-10-18.csv"), path)

	_, err = st.Put(ctx, "companies-2026-10-18.csv", []byte("second"), ContentTypeCSV)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestNewObjectStore(t *testing.T) {
	st, err := NewObjectStore(config.ExportConfig{Driver: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, st)

	st, err = NewObjectStore(config.ExportConfig{Driver: "s3", S3: config.S3Config{Bucket: "exports"}})
	require.NoError(t, err)
	assert.IsType(t, &S3Store{}, st)

	_, err = NewObjectStore(config.ExportConfig{Driver: "gcs"})
	assert.Error(t, err)

	_, err = NewS3Store(config.S3Config{})
	assert.Error(t, err)
}

type capturedPut struct {
	method      string
	path        string
	acl         string
	contentType string
	auth        string
	body        string
}

func TestS3Store_Put(t *testing.T) {
	var (
		mu   sync.Mutex
		puts []capturedPut
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		puts = append(puts, capturedPut{
			method:      r.Method,
			path:        r.URL.Path,
			acl:         r.Header.Get("X-Amz-Acl"),
			contentType: r.Header.Get("Content-Type"),
			auth:        r.Header.Get("Authorization"),
			body:        string(body),
		})
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	st, err := NewS3Store(config.S3Config{
		Bucket:          "exports",
		Region:          "eu-west-2",
		EndpointURL:     srv.URL,
		ForcePathStyle:  true,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		Prefix:          "/daily/",
		ACL:             "public-read",
	})
	require.NoError(t, err)

	loc, err := st.Put(context.Background(), "companies-2026-10-18.jsonl", []byte(`{"a":1}`), ContentTypeJSONL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/exports/daily/companies-2026-10-18.jsonl", loc)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, puts, 1)
	p := puts[0]
	assert.Equal(t, http.MethodPut, p.method)
	assert.Equal(t, "/exports/daily/companies-2026-10-18.jsonl", p.path)
	assert.Equal(t, "public-read", p.acl)
	assert.Equal(t, ContentTypeJSONL, p.contentType)
	assert.Contains(t, p.auth, "AKIDEXAMPLE")
	assert.Equal(t, `{"a":1}`, p.body)
}

func TestS3Store_PutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<Error><Code>AccessDenied</Code><Message>denied</Message></Error>`)
	}))
	defer srv.Close()

	st, err := NewS3Store(config.S3Config{
		Bucket:          "exports",
		EndpointURL:     srv.URL,
		ForcePathStyle:  true,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)

	_, err = st.Put(context.Background(), "x.csv", []byte("a"), ContentTypeCSV)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AccessDenied")
}

func TestS3Store_PublicURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.S3Config
		want string
	}{
		{"aws default", config.S3Config{Bucket: "b"}, "https://b.s3.eu-west-2.amazonaws.com/k.csv"},
		{"aws region", config.S3Config{Bucket: "b", Region: "us-east-1"}, "https://b.s3.us-east-1.amazonaws.com/k.csv"},
		{"endpoint", config.S3Config{Bucket: "b", EndpointURL: "http://minio:9000/"}, "http://minio:9000/b/k.csv"},
		{"public base", config.S3Config{Bucket: "b", PublicBaseURL: "https://cdn.example.com/"}, "https://cdn.example.com/k.csv"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &S3Store{cfg: tt.cfg}
			assert.Equal(t, tt.want, s.publicURL(s.objectKey("k.csv")))
		})
	}
}
