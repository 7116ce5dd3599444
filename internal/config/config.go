// Package config loads runtime settings from defaults, an optional config
// file, a .env file and SPENDTRACK_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/dvloznov/spendtrack/internal/retry"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SPENDTRACK_DATABASE_PATH.
const EnvPrefix = "SPENDTRACK"

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Jobs       JobsConfig       `mapstructure:"jobs"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	BigQuery   BigQueryConfig   `mapstructure:"bigquery"`
	Notion     NotionConfig     `mapstructure:"notion"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	APIKey          string        `mapstructure:"api_key"`
	MaxUploadMB     int64         `mapstructure:"max_upload_mb"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type ClassifierConfig struct {
	// Backend is "ollama" or "gemini".
	Backend     string        `mapstructure:"backend"`
	Model       string        `mapstructure:"model"`
	Host        string        `mapstructure:"host"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// Policy converts the settings into a retry policy.
func (r RetryConfig) Policy() retry.Policy {
	return retry.Policy{
		MaxAttempts: r.MaxAttempts,
		BaseDelay:   r.BaseDelay,
		Multiplier:  r.Multiplier,
		MaxDelay:    r.MaxDelay,
	}
}

type IngestConfig struct {
	Workers       int    `mapstructure:"workers"`
	DefaultSource string `mapstructure:"default_source"`
}

type JobsConfig struct {
	Workers    int `mapstructure:"workers"`
	BufferSize int `mapstructure:"buffer_size"`
	MaxRetries int `mapstructure:"max_retries"`
}

type ArchiveConfig struct {
	// Backend is "local" or "gcs".
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

type BigQueryConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Dataset   string `mapstructure:"dataset"`
	Table     string `mapstructure:"table"`
}

type NotionConfig struct {
	Token      string `mapstructure:"token"`
	DatabaseID string `mapstructure:"database_id"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.max_upload_mb", 20)

	v.SetDefault("database.path", "finance.db")

	v.SetDefault("classifier.backend", "ollama")
	v.SetDefault("classifier.model", "gemma2:2b")
	v.SetDefault("classifier.host", "http://localhost:11434")
	v.SetDefault("classifier.call_timeout", 30*time.Second)
	v.SetDefault("classifier.retry.max_attempts", 3)
	v.SetDefault("classifier.retry.base_delay", time.Second)
	v.SetDefault("classifier.retry.multiplier", 2.0)
	v.SetDefault("classifier.retry.max_delay", 30*time.Second)

	v.SetDefault("ingest.workers", 1)
	v.SetDefault("ingest.default_source", "commbank")

	v.SetDefault("jobs.workers", 2)
	v.SetDefault("jobs.buffer_size", 100)
	v.SetDefault("jobs.max_retries", 2)

	v.SetDefault("archive.backend", "local")
	v.SetDefault("archive.dir", "uploads")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "uploads")

	v.SetDefault("bigquery.project_id", "")
	v.SetDefault("bigquery.dataset", "finance")
	v.SetDefault("bigquery.table", "classified_transactions")

	v.SetDefault("notion.token", "")
	v.SetDefault("notion.database_id", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads configuration. path may be empty, in which case only defaults,
// .env and the environment are consulted.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList expands comma-separated entries, which is how list values arrive
// from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("server.max_upload_mb must be positive"))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}

	switch c.Classifier.Backend {
	case "ollama":
		if c.Classifier.Host == "" {
			errs = append(errs, errors.New("classifier.host is required for the ollama backend"))
		}
	case "gemini":
	default:
		errs = append(errs, fmt.Errorf("classifier.backend %q is not one of ollama, gemini", c.Classifier.Backend))
	}
	if c.Classifier.Model == "" {
		errs = append(errs, errors.New("classifier.model is required"))
	}
	if c.Classifier.CallTimeout <= 0 {
		errs = append(errs, errors.New("classifier.call_timeout must be positive"))
	}
	if c.Classifier.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("classifier.retry.max_attempts must be at least 1"))
	}
	if c.Classifier.Retry.Multiplier < 1 {
		errs = append(errs, errors.New("classifier.retry.multiplier must be at least 1"))
	}

	if c.Ingest.Workers < 1 {
		errs = append(errs, errors.New("ingest.workers must be at least 1"))
	}
	if c.Jobs.Workers < 1 {
		errs = append(errs, errors.New("jobs.workers must be at least 1"))
	}
	if c.Jobs.BufferSize < 1 {
		errs = append(errs, errors.New("jobs.buffer_size must be at least 1"))
	}
	if c.Jobs.MaxRetries < 0 {
		errs = append(errs, errors.New("jobs.max_retries must not be negative"))
	}

	switch c.Archive.Backend {
	case "local":
		if c.Archive.Dir == "" {
			errs = append(errs, errors.New("archive.dir is required for the local backend"))
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q is not one of local, gcs", c.Archive.Backend))
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of console, json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: invalid: %w", errors.Join(errs...))
	}
	return nil
}
