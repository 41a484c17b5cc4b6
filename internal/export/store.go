package export

import (
	"bytes"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rotisserie/eris"

	"github.com/sells-group/ch-ingest/internal/config"
)

// ObjectStore writes named objects, replacing any existing object with the
// same key, and returns the location readers should use.
type ObjectStore interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// NewObjectStore builds the store selected by cfg.Driver.
func NewObjectStore(cfg config.ExportConfig) (ObjectStore, error) {
	switch cfg.Driver {
	case "s3":
		return NewS3Store(cfg.S3)
	case "local", "":
		return NewLocalStore(cfg.LocalDir)
	default:
		return nil, eris.Errorf("export: unknown driver %q", cfg.Driver)
	}
}

// S3Store uploads to an S3-compatible bucket.
type S3Store struct {
	client *s3.Client
	cfg    config.S3Config
}

// NewS3Store creates an S3 client from static settings. Credentials fall
// back to the SDK's anonymous defaults when no key pair is configured.
func NewS3Store(cfg config.S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("export: s3 bucket is required")
	}

	client := s3.New(s3.Options{}, func(o *s3.Options) {
		o.Region = cfg.Region
		if o.Region == "" {
			o.Region = "eu-west-2"
		}
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
	})

	return &S3Store{client: client, cfg: cfg}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	objectKey := s.objectKey(key)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	}
	if s.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(s.cfg.ACL)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", eris.Wrapf(err, "export: put s3://%s/%s", s.cfg.Bucket, objectKey)
	}
	return s.publicURL(objectKey), nil
}

func (s *S3Store) objectKey(key string) string {
	prefix := strings.Trim(s.cfg.Prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

func (s *S3Store) publicURL(objectKey string) string {
	escaped := (&url.URL{Path: objectKey}).EscapedPath()
	switch {
	case s.cfg.PublicBaseURL != "":
		return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + escaped
	case s.cfg.EndpointURL != "":
		return strings.TrimRight(s.cfg.EndpointURL, "/") + "/" + s.cfg.Bucket + "/" + escaped
	default:
		region := s.cfg.Region
		if region == "" {
			region = "eu-west-2"
		}
		return "https://" + s.cfg.Bucket + ".s3." + region + ".amazonaws.com/" + escaped
	}
}

// LocalStore writes objects as files under a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = "exports"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "export: create dir %s", dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, eris.Wrap(err, "export: resolve dir")
	}
	return &LocalStore{dir: abs}, nil
}

// Put writes via a temp file and rename so readers never see a partial file.
func (s *LocalStore) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", eris.Wrapf(err, "export: create dir for %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", eris.Wrapf(err, "export: create temp file for %s", key)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := tmp.Write(body); err != nil {
		tmp.Close() //nolint:errcheck
		return "", eris.Wrapf(err, "export: write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return "", eris.Wrapf(err, "export: close %s", key)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", eris.Wrapf(err, "export: rename %s", key)
	}
	return path, nil
}
