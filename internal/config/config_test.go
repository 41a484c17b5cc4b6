package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://api.company-information.service.gov.uk", cfg.CompaniesHouse.BaseURL)
	assert.Equal(t, "Europe/London", cfg.Ingest.Timezone)
	assert.Equal(t, 100, cfg.Ingest.PageSize)
	assert.Equal(t, 600, cfg.Ingest.RequestBudget)
	assert.Equal(t, 5*time.Minute, cfg.Ingest.Window())
	assert.Equal(t, time.Second, cfg.Ingest.WaitBuffer())
	assert.Equal(t, 100*time.Millisecond, cfg.Ingest.PageDelay())
	assert.Equal(t, 200*time.Millisecond, cfg.Ingest.OfficerDelay())
	assert.Equal(t, 60*time.Second, cfg.Ingest.DefaultRetryAfter())
	assert.Equal(t, 500*time.Millisecond, cfg.Contacts.CallDelay())
	assert.Equal(t, 1, cfg.Contacts.Concurrency)
	assert.Equal(t, "local", cfg.Export.Driver)
	assert.Equal(t, "public-read", cfg.Export.S3.ACL)
	assert.Equal(t, 30*time.Minute, cfg.Sweep.StaleAfter())
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
ingest:
  max_companies: 250
export:
  driver: s3
  s3:
    bucket: exports
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 250, cfg.Ingest.MaxCompanies)
	assert.Equal(t, "s3", cfg.Export.Driver)
	assert.Equal(t, "exports", cfg.Export.S3.Bucket)
	// Defaults still apply for unset values
	assert.Equal(t, 100, cfg.Ingest.PageSize)
	assert.Equal(t, "eu-west-2", cfg.Export.S3.Region)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("CHINGEST_STORE_DRIVER", "postgres")
	t.Setenv("CHINGEST_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("CHINGEST_SERVER_PORT", "3000")
	t.Setenv("CHINGEST_COMPANIES_HOUSE_KEY", "ch-key")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "ch-key", cfg.CompaniesHouse.Key)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/test"
	cfg.CompaniesHouse.Key = "ch-key"
	cfg.PeopleSearch.Key = "ps-key"
	cfg.Ingest.Timezone = "Europe/London"
	cfg.Ingest.PageSize = 100
	cfg.Ingest.RequestBudget = 600
	cfg.Ingest.WindowSecs = 300
	cfg.Export.Driver = "local"
	cfg.Export.LocalDir = "exports"
	cfg.Contacts.Concurrency = 1
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateIngest_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateIngest_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.CompaniesHouse.Key = ""
	cfg.Ingest.Timezone = "Mars/Olympus"

	err := cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "companies_house.key is required")
	assert.Contains(t, err.Error(), "ingest.timezone")
}

func TestValidateIngest_S3NeedsBucket(t *testing.T) {
	cfg := validDefaults()
	cfg.Export.Driver = "s3"

	err := cfg.Validate("ingest")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "export.s3.bucket is required")

	cfg.Export.S3.Bucket = "artifacts"
	assert.NoError(t, cfg.Validate("ingest"))
}

func TestValidateStore_SQLiteNeedsNoURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""

	assert.NoError(t, cfg.Validate("store"))
}

func TestValidateContacts_ConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Contacts.Concurrency = 0
	err := cfg.Validate("contacts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contacts.concurrency must be between 1 and 20")

	cfg.Contacts.Concurrency = 21
	assert.Error(t, cfg.Validate("contacts"))

	cfg.Contacts.Concurrency = 4
	assert.NoError(t, cfg.Validate("contacts"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestRedacted(t *testing.T) {
	cfg := validDefaults()
	cfg.Export.S3.SecretAccessKey = "secret"

	r := cfg.Redacted()
	assert.Equal(t, "********", r.CompaniesHouse.Key)
	assert.Equal(t, "********", r.Export.S3.SecretAccessKey)
	assert.Equal(t, "", r.Redis.URL)
	// original untouched
	assert.Equal(t, "ch-key", cfg.CompaniesHouse.Key)
}
