// Package config loads service configuration from an optional YAML file,
// HEADSHOT_-prefixed environment variables, and a local .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Transport names accepted by gemini.transport.
const (
	TransportREST = "rest"
	TransportSDK  = "sdk"
)

// EnvPrefix prefixes every environment override, e.g. HEADSHOT_GEMINI_MODEL.
const EnvPrefix = "HEADSHOT"

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Gemini  GeminiConfig  `mapstructure:"gemini"`
	Upload  UploadConfig  `mapstructure:"upload"`
	Archive ArchiveConfig `mapstructure:"archive"`
	SSM     SSMConfig     `mapstructure:"ssm"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Styles  StylesConfig  `mapstructure:"styles"`
	Session SessionConfig `mapstructure:"session"`
}

type ServerConfig struct {
	Addr       string `mapstructure:"addr"`
	CORSOrigin string `mapstructure:"cors_origin"`
	MCP        bool   `mapstructure:"mcp"`
}

// GeminiConfig selects the image model and how it is reached.
type GeminiConfig struct {
	Model     string        `mapstructure:"model"`
	Transport string        `mapstructure:"transport"` // rest or sdk
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// UploadConfig bounds what the preprocessor accepts and produces.
type UploadConfig struct {
	MaxMiB        int     `mapstructure:"max_mib"`
	MaxWidth      int     `mapstructure:"max_width"`
	JPEGQuality   float64 `mapstructure:"jpeg_quality"`
	MaxMegapixels int     `mapstructure:"max_megapixels"`
}

// ArchiveConfig enables saving downloads. Bucket wins over Dir when both are set.
type ArchiveConfig struct {
	Dir    string `mapstructure:"dir"`
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

type SSMConfig struct {
	APIKeyParam string `mapstructure:"api_key_param"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type StylesConfig struct {
	Path string `mapstructure:"path"`
}

type SessionConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origin", "")
	v.SetDefault("server.mcp", true)
	v.SetDefault("gemini.model", "gemini-2.5-flash-image")
	v.SetDefault("gemini.transport", TransportREST)
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.timeout", "120s")
	v.SetDefault("upload.max_mib", 10)
	v.SetDefault("upload.max_width", 1024)
	v.SetDefault("upload.jpeg_quality", 0.9)
	v.SetDefault("upload.max_megapixels", 40)
	v.SetDefault("archive.dir", "")
	v.SetDefault("archive.bucket", "")
	v.SetDefault("archive.prefix", "headshots/")
	v.SetDefault("ssm.api_key_param", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("styles.path", "")
	v.SetDefault("session.ttl", "24h")
}

// Load reads configuration. path names an explicit YAML file; when empty,
// headshot.yaml is looked up in the working directory and is optional.
// A .env file in the working directory is loaded first if present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("headshot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Gemini.Transport {
	case TransportREST, TransportSDK:
	default:
		return fmt.Errorf("gemini.transport must be %q or %q, got %q", TransportREST, TransportSDK, c.Gemini.Transport)
	}
	if c.Gemini.Model == "" {
		return errors.New("gemini.model is required")
	}
	if c.Gemini.Timeout <= 0 {
		return fmt.Errorf("gemini.timeout must be positive, got %s", c.Gemini.Timeout)
	}
	if c.Upload.MaxMiB <= 0 {
		return fmt.Errorf("upload.max_mib must be positive, got %d", c.Upload.MaxMiB)
	}
	if c.Upload.MaxWidth <= 0 {
		return fmt.Errorf("upload.max_width must be positive, got %d", c.Upload.MaxWidth)
	}
	if c.Upload.MaxMegapixels <= 0 {
		return fmt.Errorf("upload.max_megapixels must be positive, got %d", c.Upload.MaxMegapixels)
	}
	if c.Upload.JPEGQuality <= 0 || c.Upload.JPEGQuality > 1 {
		return fmt.Errorf("upload.jpeg_quality must be in (0, 1], got %g", c.Upload.JPEGQuality)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive, got %s", c.Session.TTL)
	}
	return nil
}

// ArchiveTarget describes where downloads are archived, for startup logging.
func (c *Config) ArchiveTarget() string {
	switch {
	case c.Archive.Bucket != "":
		return "s3://" + c.Archive.Bucket + "/" + c.Archive.Prefix
	case c.Archive.Dir != "":
		return c.Archive.Dir
	default:
		return "disabled"
	}
}
