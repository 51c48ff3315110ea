package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/cubist/cubist/backend-go/internal/document"
	"github.com/cubist/cubist/backend-go/internal/engine"
)

type Config struct {
	Port           int    `envconfig:"PORT" default:"8080"`
	JWTSecret      string `envconfig:"JWT_SECRET" default:"dev-secret-change-in-production"`
	AllowedOrigins string `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:5173,http://localhost:3000"`
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`

	PageWidth    int `envconfig:"PAGE_WIDTH" default:"794"`
	PageHeight   int `envconfig:"PAGE_HEIGHT" default:"1123"`
	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"50"`

	AssetURLTemplate  string        `envconfig:"ASSET_URL_TEMPLATE" default:"https://cdn.jsdelivr.net/gh/Ninja4554/Cubist-images/{prefix}{index}.png"`
	AssetOrigin       string        `envconfig:"ASSET_ORIGIN" default:"http://localhost:5173"`
	DecodeTimeout     time.Duration `envconfig:"DECODE_TIMEOUT" default:"8s"`
	DecodeConcurrency int           `envconfig:"DECODE_CONCURRENCY" default:"4"`

	ExportFormat  string `envconfig:"EXPORT_FORMAT" default:"jpeg"`
	ExportQuality int    `envconfig:"EXPORT_QUALITY" default:"90"`

	RestoreRetryDelay time.Duration `envconfig:"RESTORE_RETRY_DELAY" default:"100ms"`
	RestoreMaxRetries int           `envconfig:"RESTORE_MAX_RETRIES" default:"20"`

	SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"2h"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.PageWidth <= 0 || cfg.PageHeight <= 0 {
		return nil, fmt.Errorf("page size %dx%d must be positive", cfg.PageWidth, cfg.PageHeight)
	}
	return &cfg, nil
}

func (c *Config) Page() document.Page {
	return document.Page{Width: c.PageWidth, Height: c.PageHeight}
}

// EngineOptions derives editor options. Locator and callbacks are left to
// the caller.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		Page:              c.Page(),
		HistoryLimit:      c.HistoryLimit,
		RestoreRetryDelay: c.RestoreRetryDelay,
		RestoreMaxRetries: c.RestoreMaxRetries,
	}
}

func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
