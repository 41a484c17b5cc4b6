package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store          StoreConfig          `yaml:"store" mapstructure:"store"`
	CompaniesHouse CompaniesHouseConfig `yaml:"companies_house" mapstructure:"companies_house"`
	Ingest         IngestConfig         `yaml:"ingest" mapstructure:"ingest"`
	PeopleSearch   PeopleSearchConfig   `yaml:"people_search" mapstructure:"people_search"`
	Contacts       ContactsConfig       `yaml:"contacts" mapstructure:"contacts"`
	Export         ExportConfig         `yaml:"export" mapstructure:"export"`
	Redis          RedisConfig          `yaml:"redis" mapstructure:"redis"`
	Server         ServerConfig         `yaml:"server" mapstructure:"server"`
	Sweep          SweepConfig          `yaml:"sweep" mapstructure:"sweep"`
	Log            LogConfig            `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// CompaniesHouseConfig holds Companies House public data API settings.
type CompaniesHouseConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// IngestConfig configures the ingestion pipeline and its request budget.
type IngestConfig struct {
	Timezone              string `yaml:"timezone" mapstructure:"timezone"`
	PageSize              int    `yaml:"page_size" mapstructure:"page_size"`
	MaxCompanies          int    `yaml:"max_companies" mapstructure:"max_companies"`
	RequestBudget         int    `yaml:"request_budget" mapstructure:"request_budget"`
	WindowSecs            int    `yaml:"window_secs" mapstructure:"window_secs"`
	WaitBufferMillis      int    `yaml:"wait_buffer_ms" mapstructure:"wait_buffer_ms"`
	PageDelayMillis       int    `yaml:"page_delay_ms" mapstructure:"page_delay_ms"`
	OfficerDelayMillis    int    `yaml:"officer_delay_ms" mapstructure:"officer_delay_ms"`
	DefaultRetryAfterSecs int    `yaml:"default_retry_after_secs" mapstructure:"default_retry_after_secs"`
	SkipOfficers          bool   `yaml:"skip_officers" mapstructure:"skip_officers"`
}

// Window returns the rate-limit window as a duration.
func (c IngestConfig) Window() time.Duration {
	return time.Duration(c.WindowSecs) * time.Second
}

// WaitBuffer returns the safety buffer added to rate-limit waits.
func (c IngestConfig) WaitBuffer() time.Duration {
	return time.Duration(c.WaitBufferMillis) * time.Millisecond
}

// PageDelay returns the pause between successful search pages.
func (c IngestConfig) PageDelay() time.Duration {
	return time.Duration(c.PageDelayMillis) * time.Millisecond
}

// OfficerDelay returns the pause after each company's officer fetch.
func (c IngestConfig) OfficerDelay() time.Duration {
	return time.Duration(c.OfficerDelayMillis) * time.Millisecond
}

// DefaultRetryAfter returns the wait used when a 429 has no Retry-After header.
func (c IngestConfig) DefaultRetryAfter() time.Duration {
	return time.Duration(c.DefaultRetryAfterSecs) * time.Second
}

// PeopleSearchConfig holds the people-search API settings.
type PeopleSearchConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	PageSize    int    `yaml:"page_size" mapstructure:"page_size"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ContactsConfig configures batch contact resolution.
type ContactsConfig struct {
	CallDelayMillis int `yaml:"call_delay_ms" mapstructure:"call_delay_ms"`
	Concurrency     int `yaml:"concurrency" mapstructure:"concurrency"`
}

// CallDelay returns the minimum spacing between people-search lookups.
func (c ContactsConfig) CallDelay() time.Duration {
	return time.Duration(c.CallDelayMillis) * time.Millisecond
}

// ExportConfig configures where export artifacts are written.
type ExportConfig struct {
	Driver   string   `yaml:"driver" mapstructure:"driver"`
	LocalDir string   `yaml:"local_dir" mapstructure:"local_dir"`
	S3       S3Config `yaml:"s3" mapstructure:"s3"`
}

// S3Config holds S3-compatible object storage settings.
type S3Config struct {
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Region          string `yaml:"region" mapstructure:"region"`
	EndpointURL     string `yaml:"endpoint_url" mapstructure:"endpoint_url"`
	AccessKeyID     string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	Prefix          string `yaml:"prefix" mapstructure:"prefix"`
	ACL             string `yaml:"acl" mapstructure:"acl"`
	PublicBaseURL   string `yaml:"public_base_url" mapstructure:"public_base_url"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
}

// RedisConfig enables the shared request budget when URL is set.
type RedisConfig struct {
	URL       string `yaml:"url" mapstructure:"url"`
	KeyPrefix string `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// ServerConfig configures the dashboard API server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// SweepConfig configures reconciliation of abandoned runs.
type SweepConfig struct {
	StaleAfterMins int `yaml:"stale_after_mins" mapstructure:"stale_after_mins"`
	IntervalMins   int `yaml:"interval_mins" mapstructure:"interval_mins"`
}

// StaleAfter returns the heartbeat age after which a running run is abandoned.
func (c SweepConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMins) * time.Minute
}

// Interval returns how often the server sweeps.
func (c SweepConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMins) * time.Minute
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CHINGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	// Keys without a real default are registered empty so AutomaticEnv
	// can still bind them during Unmarshal.
	for _, key := range []string{
		"store.database_url",
		"companies_house.key",
		"people_search.key",
		"redis.url",
		"export.s3.bucket",
		"export.s3.endpoint_url",
		"export.s3.access_key_id",
		"export.s3.secret_access_key",
		"export.s3.prefix",
		"export.s3.public_base_url",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("export.s3.force_path_style", false)
	v.SetDefault("ingest.skip_officers", false)

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("companies_house.base_url", "https://api.company-information.service.gov.uk")
	v.SetDefault("companies_house.timeout_secs", 30)
	v.SetDefault("ingest.timezone", "Europe/London")
	v.SetDefault("ingest.page_size", 100)
	v.SetDefault("ingest.max_companies", 0)
	v.SetDefault("ingest.request_budget", 600)
	v.SetDefault("ingest.window_secs", 300)
	v.SetDefault("ingest.wait_buffer_ms", 1000)
	v.SetDefault("ingest.page_delay_ms", 100)
	v.SetDefault("ingest.officer_delay_ms", 200)
	v.SetDefault("ingest.default_retry_after_secs", 60)
	v.SetDefault("people_search.base_url", "https://api.peopledatalabs.example")
	v.SetDefault("people_search.page_size", 10)
	v.SetDefault("people_search.timeout_secs", 30)
	v.SetDefault("contacts.call_delay_ms", 500)
	v.SetDefault("contacts.concurrency", 1)
	v.SetDefault("export.driver", "local")
	v.SetDefault("export.local_dir", "exports")
	v.SetDefault("export.s3.region", "eu-west-2")
	v.SetDefault("export.s3.acl", "public-read")
	v.SetDefault("redis.key_prefix", "chingest:budget")
	v.SetDefault("sweep.stale_after_mins", 30)
	v.SetDefault("sweep.interval_mins", 5)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the keys a command mode needs. Modes: ingest, contacts,
// serve, store.
func (c *Config) Validate(mode string) error {
	var errs []string

	requireStore := func() {
		if c.Store.Driver == "postgres" && c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for the postgres driver")
		}
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			errs = append(errs, "store.driver must be postgres or sqlite")
		}
	}
	requireIngest := func() {
		if c.CompaniesHouse.Key == "" {
			errs = append(errs, "companies_house.key is required")
		}
		if c.Ingest.PageSize < 1 || c.Ingest.PageSize > 5000 {
			errs = append(errs, "ingest.page_size must be between 1 and 5000")
		}
		if c.Ingest.RequestBudget < 1 {
			errs = append(errs, "ingest.request_budget must be > 0")
		}
		if c.Ingest.WindowSecs < 1 {
			errs = append(errs, "ingest.window_secs must be > 0")
		}
		if c.Ingest.MaxCompanies < 0 {
			errs = append(errs, "ingest.max_companies must be >= 0")
		}
		if _, err := time.LoadLocation(c.Ingest.Timezone); err != nil {
			errs = append(errs, "ingest.timezone is not a valid IANA zone")
		}
		switch c.Export.Driver {
		case "local":
			if c.Export.LocalDir == "" {
				errs = append(errs, "export.local_dir is required for the local driver")
			}
		case "s3":
			if c.Export.S3.Bucket == "" {
				errs = append(errs, "export.s3.bucket is required for the s3 driver")
			}
		default:
			errs = append(errs, "export.driver must be local or s3")
		}
	}
	requireContacts := func() {
		if c.PeopleSearch.Key == "" {
			errs = append(errs, "people_search.key is required")
		}
		if c.Contacts.Concurrency < 1 || c.Contacts.Concurrency > 20 {
			errs = append(errs, "contacts.concurrency must be between 1 and 20")
		}
	}

	switch mode {
	case "store":
		requireStore()
	case "ingest":
		requireStore()
		requireIngest()
	case "contacts":
		requireStore()
		requireContacts()
	case "serve":
		requireStore()
		requireIngest()
		requireContacts()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.CompaniesHouse.Key = mask(c.CompaniesHouse.Key)
	c.PeopleSearch.Key = mask(c.PeopleSearch.Key)
	c.Export.S3.AccessKeyID = mask(c.Export.S3.AccessKeyID)
	c.Export.S3.SecretAccessKey = mask(c.Export.S3.SecretAccessKey)
	c.Store.DatabaseURL = mask(c.Store.DatabaseURL)
	c.Redis.URL = mask(c.Redis.URL)
	return c
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
