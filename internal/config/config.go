// Package config handles CLI configuration: a YAML file plus LAKECAT_*
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/lakecat/lakecat"
)

// DefaultFile is read when no --config flag is given. Its absence is not an
// error.
const DefaultFile = "lakecat.yaml"

// Metadata store kinds.
const (
	KindMemory = "memory"
	KindFS     = "fs"
	KindSQLite = "sqlite"
	KindS3     = "s3"
	KindGCS    = "gcs"
)

// Config is the complete CLI configuration.
type Config struct {
	// LakeRoot is the directory that relative file paths resolve against.
	LakeRoot string `yaml:"lake_root"`

	Meta  MetaConfig  `yaml:"meta"`
	Log   LogConfig   `yaml:"log"`
	Audit AuditConfig `yaml:"audit"`

	// Warnings collects non-fatal notes from loading, logged once the
	// logger exists.
	Warnings []string `yaml:"-"`
}

// MetaConfig selects and configures the metadata store.
type MetaConfig struct {
	Kind        string    `yaml:"kind"`
	Dir         string    `yaml:"dir,omitempty"`
	SQLitePath  string    `yaml:"sqlite_path,omitempty"`
	Compression string    `yaml:"compression,omitempty"`
	S3          S3Config  `yaml:"s3,omitempty"`
	GCS         GCSConfig `yaml:"gcs,omitempty"`
}

// S3Config configures the S3-compatible metadata store.
type S3Config struct {
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	PathStyle       bool   `yaml:"path_style,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
}

// GCSConfig configures the Google Cloud Storage metadata store.
type GCSConfig struct {
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	CredentialsFile string `yaml:"credentials_file,omitempty"`
	Endpoint        string `yaml:"endpoint,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // text or json
	SeqURL string `yaml:"seq_url,omitempty"`
}

// AuditConfig configures scheduled audits.
type AuditConfig struct {
	Schedule   string `yaml:"schedule,omitempty"`
	CheckFiles bool   `yaml:"check_files,omitempty"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		LakeRoot: ".",
		Meta: MetaConfig{
			Kind:        KindFS,
			Compression: "noop",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and validates the result. An empty path reads
// DefaultFile if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides cfg with any LAKECAT_* variables that are set.
func ApplyEnv(cfg *Config) {
	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	setBool := func(name string, dst *bool) {
		v, ok := os.LookupEnv(name)
		if !ok || v == "" {
			return
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("ignoring %s=%q: not a boolean", name, v))
			return
		}
		*dst = b
	}

	setString("LAKECAT_LAKE_ROOT", &cfg.LakeRoot)
	setString("LAKECAT_META_KIND", &cfg.Meta.Kind)
	setString("LAKECAT_META_DIR", &cfg.Meta.Dir)
	setString("LAKECAT_SQLITE_PATH", &cfg.Meta.SQLitePath)
	setString("LAKECAT_COMPRESSION", &cfg.Meta.Compression)

	setString("LAKECAT_S3_BUCKET", &cfg.Meta.S3.Bucket)
	setString("LAKECAT_S3_PREFIX", &cfg.Meta.S3.Prefix)
	setString("LAKECAT_S3_REGION", &cfg.Meta.S3.Region)
	setString("LAKECAT_S3_ENDPOINT", &cfg.Meta.S3.Endpoint)
	setBool("LAKECAT_S3_PATH_STYLE", &cfg.Meta.S3.PathStyle)
	setString("LAKECAT_S3_ACCESS_KEY_ID", &cfg.Meta.S3.AccessKeyID)
	setString("LAKECAT_S3_SECRET_ACCESS_KEY", &cfg.Meta.S3.SecretAccessKey)

	setString("LAKECAT_GCS_BUCKET", &cfg.Meta.GCS.Bucket)
	setString("LAKECAT_GCS_PREFIX", &cfg.Meta.GCS.Prefix)
	setString("LAKECAT_GCS_CREDENTIALS_FILE", &cfg.Meta.GCS.CredentialsFile)
	setString("LAKECAT_GCS_ENDPOINT", &cfg.Meta.GCS.Endpoint)

	setString("LAKECAT_LOG_LEVEL", &cfg.Log.Level)
	setString("LAKECAT_LOG_FORMAT", &cfg.Log.Format)
	setString("LAKECAT_LOG_SEQ_URL", &cfg.Log.SeqURL)

	setString("LAKECAT_AUDIT_SCHEDULE", &cfg.Audit.Schedule)
	setBool("LAKECAT_AUDIT_CHECK_FILES", &cfg.Audit.CheckFiles)
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.LakeRoot == "" {
		return errors.New("lake_root is required")
	}
	switch c.Meta.Kind {
	case KindMemory, KindFS, KindSQLite:
	case KindS3:
		if c.Meta.S3.Bucket == "" {
			return errors.New("meta.s3.bucket is required for the s3 metadata store")
		}
	case KindGCS:
		if c.Meta.GCS.Bucket == "" {
			return errors.New("meta.gcs.bucket is required for the gcs metadata store")
		}
	default:
		return fmt.Errorf("unknown metadata store kind %q (want memory, fs, sqlite, s3 or gcs)", c.Meta.Kind)
	}
	if _, err := lakecat.NewCompressor(c.Meta.Compression); err != nil {
		return fmt.Errorf("meta.compression: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// MetaDir is the directory of the fs metadata store.
func (c *Config) MetaDir() string {
	if c.Meta.Dir != "" {
		return c.Meta.Dir
	}
	return filepath.Join(c.LakeRoot, "_lakecat")
}

// SQLitePath is the database file of the sqlite metadata store.
func (c *Config) SQLitePath() string {
	if c.Meta.SQLitePath != "" {
		return c.Meta.SQLitePath
	}
	return filepath.Join(c.LakeRoot, "_lakecat.sqlite")
}

// SlogLevel maps the configured level to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
