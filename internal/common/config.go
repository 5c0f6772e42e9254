package common

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	Tracking  DatabaseConfig  `envPrefix:"TRACKING_"`
	Source    SourceConfig    `envPrefix:"SOURCE_"`
	Connect   ConnectConfig
	Seedream  SeedreamConfig  `envPrefix:"SEEDREAM_"`
	Spaces    SpacesConfig    `envPrefix:"DO_"`
	Assets    AssetsConfig    `envPrefix:"ASSET_"`
	Telemetry TelemetryConfig `envPrefix:"OTEL_"`
	OutputDir string          `env:"OUTPUT_DIR" envDefault:"./output"`
	DebugDir  string          `env:"DEBUG_DIR"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver string `env:"DB_DRIVER" envDefault:"sqlite"`
	DSN    string `env:"DB_URL" envDefault:"tracking.db"`
}

// SourceConfig describes the read-only record source table.
type SourceConfig struct {
	Driver            string `env:"DB_DRIVER" envDefault:"postgres"`
	DSN               string `env:"DB_URL"`
	Table             string `env:"TABLE" envDefault:"players"`
	IDColumn          string `env:"ID_COLUMN" envDefault:"api_player_id"`
	ImageColumn       string `env:"IMAGE_COLUMN" envDefault:"image"`
	NameColumn        string `env:"NAME_COLUMN" envDefault:"name"`
	DisplayNameColumn string `env:"DISPLAY_NAME_COLUMN" envDefault:"display_name"`
}

// ConnectConfig holds connection settings shared by both databases.
type ConnectConfig struct {
	Attempts    uint          `env:"DB_CONNECT_ATTEMPTS" envDefault:"3"`
	Delay       time.Duration `env:"DB_CONNECT_DELAY" envDefault:"2s"`
	MaxConns    int32         `env:"DB_MAX_CONNS" envDefault:"4"`
	DialTimeout time.Duration `env:"DB_DIAL_TIMEOUT" envDefault:"5s"`
}

// SeedreamConfig holds browser automation settings for the editor.
type SeedreamConfig struct {
	EditorURL         string        `env:"EDITOR_URL" envDefault:"https://seedream.pro/ai-photo-editor"`
	StatePath         string        `env:"STATE_PATH" envDefault:"state.json"`
	Headless          bool          `env:"HEADLESS" envDefault:"true"`
	GenerationTimeout time.Duration `env:"GENERATION_TIMEOUT" envDefault:"2m"`
	LoginTimeout      time.Duration `env:"LOGIN_TIMEOUT" envDefault:"5m"`
	DownloadTimeout   time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"30s"`
	ResultPattern     string        `env:"RESULT_PATTERN" envDefault:"(?i)(result|output|generated|edit)[^\"']*\\.(png|jpe?g|webp)"`
}

// SpacesConfig holds DigitalOcean Spaces upload settings. Upload is disabled
// unless a bucket name is set.
type SpacesConfig struct {
	OriginEndpoint string `env:"ORIGIN_ENDPOINT"`
	CDNEndpoint    string `env:"CDN_ENDPOINT"`
	Bucket         string `env:"BUCKET_NAME"`
	AccessKeyID    string `env:"ACCESS_KEY_ID"`
	SecretKey      string `env:"BUCKET_SECRET_KEY"`
	Folder         string `env:"SPACES_FOLDER" envDefault:"image_pipeline"`
}

// AssetsConfig controls source asset acquisition.
type AssetsConfig struct {
	DownloadTimeout  time.Duration `env:"DOWNLOAD_TIMEOUT" envDefault:"30s"`
	DownloadAttempts uint          `env:"DOWNLOAD_ATTEMPTS" envDefault:"3"`
}

// TelemetryConfig controls opt-in tracing.
type TelemetryConfig struct {
	Enabled  bool   `env:"ENABLED" envDefault:"false"`
	Endpoint string `env:"ENDPOINT"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, NewAppError("CONFIG_ERROR", "parse env", err)
	}
	if cfg.DebugDir == "" {
		cfg.DebugDir = filepath.Join(cfg.OutputDir, "debug")
	}
	return &cfg, nil
}

// SpacesEnabled reports whether CDN upload is configured.
func (c *Config) SpacesEnabled() bool {
	return strings.TrimSpace(c.Spaces.Bucket) != ""
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("TRACKING_DB_DRIVER", c.Tracking.Driver, OneOf(DriverSQLite, DriverPostgres))
	v.Field("TRACKING_DB_URL", c.Tracking.DSN, Required)
	v.Field("SEEDREAM_EDITOR_URL", c.Seedream.EditorURL, Required)
	v.Field("OUTPUT_DIR", c.OutputDir, Required)
	if c.Seedream.GenerationTimeout <= 0 {
		v.errors = append(v.errors, ValidationError{Field: "SEEDREAM_GENERATION_TIMEOUT", Value: c.Seedream.GenerationTimeout, Message: "must be positive"})
	}
	if c.Connect.Attempts == 0 {
		v.errors = append(v.errors, ValidationError{Field: "DB_CONNECT_ATTEMPTS", Value: c.Connect.Attempts, Message: "must be at least 1"})
	}
	if c.SpacesEnabled() {
		v.Field("DO_ORIGIN_ENDPOINT", c.Spaces.OriginEndpoint, Required)
		v.Field("DO_CDN_ENDPOINT", c.Spaces.CDNEndpoint, Required)
		v.Field("DO_ACCESS_KEY_ID", c.Spaces.AccessKeyID, Required)
		v.Field("DO_BUCKET_SECRET_KEY", c.Spaces.SecretKey, Required)
	}
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}

// ValidateSource checks the source database settings, which only normal-mode
// runs need.
func (c *Config) ValidateSource() error {
	v := NewValidator()
	v.Field("SOURCE_DB_DRIVER", c.Source.Driver, OneOf(DriverSQLite, DriverPostgres))
	v.Field("SOURCE_DB_URL", c.Source.DSN, Required)
	for name, col := range map[string]string{
		"SOURCE_TABLE":               c.Source.Table,
		"SOURCE_ID_COLUMN":           c.Source.IDColumn,
		"SOURCE_IMAGE_COLUMN":        c.Source.ImageColumn,
		"SOURCE_NAME_COLUMN":         c.Source.NameColumn,
		"SOURCE_DISPLAY_NAME_COLUMN": c.Source.DisplayNameColumn,
	} {
		v.Field(name, col, Identifier)
	}
	if v.HasErrors() {
		return NewAppError("CONFIG_ERROR", v.ErrorMessage(), ErrInvalidInput)
	}
	return nil
}

// Supported database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

func (c DatabaseConfig) String() string {
	return fmt.Sprintf("%s(%s)", c.Driver, RedactDSN(c.DSN))
}
