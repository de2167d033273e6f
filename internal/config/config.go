// Package config loads yuleboard settings: built-in defaults, then an optional
// TOML file, then YULEBOARD_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"yuleboard/internal/blob"
	"yuleboard/internal/docstore"
	"yuleboard/pkg/domain"
)

// Config is the complete service configuration.
type Config struct {
	Log         LogConfig         `toml:"log"`
	HTTP        HTTPConfig        `toml:"http"`
	Store       StoreConfig       `toml:"store"`
	Artifacts   ArtifactConfig    `toml:"artifacts"`
	Render      RenderConfig      `toml:"render"`
	Export      ExportConfig      `toml:"export"`
	Collections map[string]string `toml:"collections"` // category -> collection name
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`  // debug|info|warn|error
	Format string `toml:"format"` // text|json
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string        `toml:"addr"`
	ExportRate      float64       `toml:"export_rate"` // export requests per second
	ExportBurst     int           `toml:"export_burst"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver       string        `toml:"driver"` // memory|json|sqlite|postgres
	Dir          string        `toml:"dir"`
	Path         string        `toml:"path"`
	DSN          string        `toml:"dsn"`
	PollInterval time.Duration `toml:"poll_interval"`
	PollJitter   float64       `toml:"poll_jitter"`
}

// ArtifactConfig selects where exports are written.
type ArtifactConfig struct {
	Driver    string        `toml:"driver"` // fs|s3|memory
	Root      string        `toml:"root"`
	URLExpiry time.Duration `toml:"url_expiry"`
	S3        S3Config      `toml:"s3"`
}

// S3Config holds S3 / MinIO settings.
type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	PathStyle       bool   `toml:"path_style"`
}

// RenderConfig tunes region capture.
type RenderConfig struct {
	Scale int `toml:"scale"`
}

// ExportConfig tunes the export worker.
type ExportConfig struct {
	QueueSize int `toml:"queue_size"`
	History   int `toml:"history"` // finished records kept for listing
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:  LogConfig{Level: "info", Format: "text"},
		HTTP: HTTPConfig{Addr: ":8080", ExportRate: 2, ExportBurst: 5, ShutdownTimeout: 10 * time.Second},
		Store: StoreConfig{
			Driver:       string(docstore.DriverJSON),
			Dir:          "./data",
			Path:         "yuleboard.db",
			PollInterval: 2 * time.Second,
			PollJitter:   0.2,
		},
		Artifacts: ArtifactConfig{Driver: string(blob.DriverFilesystem), Root: "./artifacts", URLExpiry: 15 * time.Minute},
		Render:    RenderConfig{Scale: 2},
		Export:    ExportConfig{QueueSize: 32, History: 256},
		Collections: map[string]string{
			string(domain.CategoryGifts):       "gifts",
			string(domain.CategoryFood):        "food",
			string(domain.CategoryDecorations): "decorations",
		},
	}
}

// Load returns the defaults overlaid with the TOML file at path (skipped when
// empty) and the environment, validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadTOML(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML overlays the file onto cfg. Unknown keys are an error.
func (c *Config) LoadTOML(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("decode %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// ApplyEnvOverrides reads YULEBOARD_* variables.
func (c *Config) ApplyEnvOverrides() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	parsed := func(name string, parse func(string) error) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			if err := parse(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
			}
		}
	}

	str("YULEBOARD_LOG_LEVEL", &c.Log.Level)
	str("YULEBOARD_LOG_FORMAT", &c.Log.Format)
	str("YULEBOARD_HTTP_ADDR", &c.HTTP.Addr)
	parsed("YULEBOARD_EXPORT_RATE", func(v string) (err error) {
		c.HTTP.ExportRate, err = strconv.ParseFloat(v, 64)
		return err
	})

	str("YULEBOARD_STORE_DRIVER", &c.Store.Driver)
	str("YULEBOARD_STORE_DIR", &c.Store.Dir)
	str("YULEBOARD_SQLITE_PATH", &c.Store.Path)
	str("YULEBOARD_POSTGRES_DSN", &c.Store.DSN)
	parsed("YULEBOARD_POLL_INTERVAL", func(v string) (err error) {
		c.Store.PollInterval, err = time.ParseDuration(v)
		return err
	})

	str("YULEBOARD_BLOB_DRIVER", &c.Artifacts.Driver)
	str("YULEBOARD_BLOB_FS_ROOT", &c.Artifacts.Root)
	str("YULEBOARD_BLOB_S3_BUCKET", &c.Artifacts.S3.Bucket)
	str("YULEBOARD_BLOB_S3_REGION", &c.Artifacts.S3.Region)
	str("YULEBOARD_BLOB_S3_ENDPOINT", &c.Artifacts.S3.Endpoint)
	str("YULEBOARD_BLOB_S3_ACCESS_KEY_ID", &c.Artifacts.S3.AccessKeyID)
	str("YULEBOARD_BLOB_S3_SECRET_ACCESS_KEY", &c.Artifacts.S3.SecretAccessKey)
	parsed("YULEBOARD_BLOB_S3_PATH_STYLE", func(v string) (err error) {
		c.Artifacts.S3.PathStyle, err = strconv.ParseBool(v)
		return err
	})

	parsed("YULEBOARD_RENDER_SCALE", func(v string) (err error) {
		c.Render.Scale, err = strconv.Atoi(v)
		return err
	})

	for _, cat := range domain.Categories() {
		name := "YULEBOARD_COLLECTION_" + strings.ToUpper(string(cat))
		if v, ok := os.LookupEnv(name); ok && v != "" {
			if c.Collections == nil {
				c.Collections = make(map[string]string)
			}
			c.Collections[string(cat)] = v
		}
	}
	return errors.Join(errs...)
}

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string { return fmt.Sprintf("%s: %s", e.Field, e.Message) }

// ValidateErrors collects every invalid setting.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks every setting and returns ValidateErrors when any is bad.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		add("log.level", "%v", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		add("log.format", "invalid format %q, must be text or json", c.Log.Format)
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		add("http.addr", "required")
	}
	if c.HTTP.ExportRate <= 0 {
		add("http.export_rate", "must be positive")
	}
	if c.HTTP.ExportBurst < 1 {
		add("http.export_burst", "must be at least 1")
	}

	switch docstore.Driver(c.Store.Driver) {
	case docstore.DriverMemory, docstore.DriverJSON, docstore.DriverSQLite:
	case docstore.DriverPostgres:
		if c.Store.DSN == "" {
			add("store.dsn", "required for postgres")
		}
	default:
		add("store.driver", "unknown driver %q", c.Store.Driver)
	}
	if c.Store.PollInterval < 0 {
		add("store.poll_interval", "must not be negative")
	}
	if c.Store.PollJitter < 0 || c.Store.PollJitter > 1 {
		add("store.poll_jitter", "must be within 0 and 1")
	}

	switch blob.Driver(c.Artifacts.Driver) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Artifacts.S3.Bucket == "" {
			add("artifacts.s3.bucket", "required for s3")
		}
	default:
		add("artifacts.driver", "unknown driver %q", c.Artifacts.Driver)
	}

	if c.Render.Scale < 1 || c.Render.Scale > 8 {
		add("render.scale", "must be within 1 and 8")
	}
	if c.Export.QueueSize < 1 {
		add("export.queue_size", "must be at least 1")
	}
	if c.Export.History < 1 {
		add("export.history", "must be at least 1")
	}

	seen := make(map[string]string)
	for key, name := range c.Collections {
		if _, err := domain.ParseCategory(key); err != nil {
			add("collections."+key, "unknown category")
			continue
		}
		if strings.TrimSpace(name) == "" {
			add("collections."+key, "empty collection name")
			continue
		}
		if other, dup := seen[name]; dup {
			add("collections."+key, "collection %q already used by %s", name, other)
		}
		seen[name] = key
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// DocstoreConfig converts the store section for docstore.Open.
func (c *Config) DocstoreConfig() docstore.Config {
	return docstore.Config{
		Driver:       docstore.Driver(c.Store.Driver),
		Dir:          c.Store.Dir,
		Path:         c.Store.Path,
		DSN:          c.Store.DSN,
		PollInterval: c.Store.PollInterval,
		PollJitter:   c.Store.PollJitter,
	}
}

// BlobConfig converts the artifacts section for blob.Open.
func (c *Config) BlobConfig() blob.Config {
	return blob.Config{
		Driver: blob.Driver(c.Artifacts.Driver),
		Root:   c.Artifacts.Root,
		S3: blob.S3Config{
			Bucket:          c.Artifacts.S3.Bucket,
			Region:          c.Artifacts.S3.Region,
			Endpoint:        c.Artifacts.S3.Endpoint,
			AccessKeyID:     c.Artifacts.S3.AccessKeyID,
			SecretAccessKey: c.Artifacts.S3.SecretAccessKey,
			PathStyle:       c.Artifacts.S3.PathStyle,
		},
	}
}

// CollectionMap returns the category to collection mapping.
func (c *Config) CollectionMap() map[domain.Category]string {
	out := make(map[domain.Category]string, len(c.Collections))
	for key, name := range c.Collections {
		if cat, err := domain.ParseCategory(key); err == nil && name != "" {
			out[cat] = name
		}
	}
	return out
}

// NewLogger builds the configured slog logger writing to w.
func (c *Config) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Log.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return 0, fmt.Errorf("invalid level %q", raw)
	}
	return level, nil
}
