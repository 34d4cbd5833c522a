// Package config loads the proxy configuration from the environment.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/offline-asset-cache/pkg/logging"
	"github.com/Sternrassler/offline-asset-cache/pkg/worker"
	"github.com/caarlos0/env/v11"
)

// StoreKind selects the cache partition backend.
type StoreKind string

const (
	StoreMemory StoreKind = "memory"
	StoreRedis  StoreKind = "redis"
	StoreSQLite StoreKind = "sqlite"
)

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *StoreKind) UnmarshalText(text []byte) error {
	switch v := StoreKind(strings.ToLower(strings.TrimSpace(string(text)))); v {
	case StoreMemory, StoreRedis, StoreSQLite:
		*k = v
		return nil
	default:
		return fmt.Errorf("unknown store %q (want memory, redis or sqlite)", text)
	}
}

// Config is the complete process configuration.
type Config struct {
	Port int `env:"PORT" envDefault:"8080"`

	Origin              string                `env:"ASSETCACHE_ORIGIN,required"`
	Version             string                `env:"ASSETCACHE_VERSION,required"`
	Manifest            []string              `env:"ASSETCACHE_MANIFEST" envSeparator:"," envDefault:"/,/index.html,/offline.html,/favicon.svg,/og-image.svg,/manifest.json"`
	OfflinePath         string                `env:"ASSETCACHE_OFFLINE_PATH" envDefault:"/offline.html"`
	RootPath            string                `env:"ASSETCACHE_ROOT_PATH" envDefault:"/"`
	Navigation          worker.Strategy       `env:"ASSETCACHE_NAVIGATION_STRATEGY" envDefault:"network-first"`
	Assets              worker.Strategy       `env:"ASSETCACHE_ASSET_STRATEGY" envDefault:"cache-first"`
	Fallback            worker.FallbackPolicy `env:"ASSETCACHE_FALLBACK,required"`
	WaitForClients      bool                  `env:"ASSETCACHE_WAIT_FOR_CLIENTS" envDefault:"false"`
	PrecacheConcurrency int                   `env:"ASSETCACHE_PRECACHE_CONCURRENCY" envDefault:"4"`
	FetchTimeout        time.Duration         `env:"ASSETCACHE_FETCH_TIMEOUT" envDefault:"30s"`

	Store      StoreKind `env:"ASSETCACHE_STORE" envDefault:"memory"`
	SQLitePath string    `env:"ASSETCACHE_SQLITE_PATH" envDefault:"asset-cache.db"`
	RedisURL   string    `env:"REDIS_URL" envDefault:"localhost:6379"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
	LogFile   string `env:"LOG_FILE"`
}

// ParseEnv loads the configuration. A nil environ reads the process
// environment.
func ParseEnv(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cfg.OriginURL(); err != nil {
		return Config{}, err
	}
	if cfg.FetchTimeout < 0 {
		return Config{}, fmt.Errorf("ASSETCACHE_FETCH_TIMEOUT must not be negative")
	}
	return cfg, nil
}

// OriginURL parses the origin.
func (c Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(strings.TrimRight(c.Origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse ASSETCACHE_ORIGIN: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("ASSETCACHE_ORIGIN must be an absolute url, got %q", c.Origin)
	}
	return u, nil
}

// Worker returns the validated controller configuration.
func (c Config) Worker() (worker.Config, error) {
	origin, err := c.OriginURL()
	if err != nil {
		return worker.Config{}, err
	}

	manifest := make([]string, 0, len(c.Manifest))
	for _, p := range c.Manifest {
		if p = strings.TrimSpace(p); p != "" {
			manifest = append(manifest, p)
		}
	}

	wc := worker.Config{
		Version:             c.Version,
		Scope:               origin,
		Manifest:            manifest,
		OfflinePath:         c.OfflinePath,
		RootPath:            c.RootPath,
		Navigation:          c.Navigation,
		Assets:              c.Assets,
		Fallback:            c.Fallback,
		PrecacheConcurrency: c.PrecacheConcurrency,
		WaitForClients:      c.WaitForClients,
	}
	if err := wc.Validate(); err != nil {
		return worker.Config{}, err
	}
	return wc, nil
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.LogLevel)
	cfg.Pretty = c.LogPretty
	cfg.File = c.LogFile
	return cfg
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
