package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/api/http"
	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store"
	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store/memory"
	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store/postgres"
	"github.com/fulcrumhq/fulcrum/internal/app/subsystems/store/sqlite"
	"github.com/fulcrumhq/fulcrum/internal/coordinator"
	"github.com/fulcrumhq/fulcrum/internal/extensions"
	"github.com/fulcrumhq/fulcrum/internal/lifecycle"
	"github.com/fulcrumhq/fulcrum/internal/reaper"
)

type Config struct {
	LogLevel    string             `mapstructure:"logLevel"`
	MetricsAddr string             `mapstructure:"metricsAddr"`
	API         APIConfig          `mapstructure:"api"`
	Store       StoreConfig        `mapstructure:"store"`
	Lifecycle   lifecycle.Config   `mapstructure:"lifecycle"`
	Coordinator coordinator.Config `mapstructure:"coordinator"`
	Extensions  ExtensionsConfig   `mapstructure:"extensions"`
	Reaper      reaper.Config      `mapstructure:"reaper"`
}

type APIConfig struct {
	Http http.Config `mapstructure:"http"`

	// CursorSecret signs pagination cursor tokens. Override it in any
	// deployment with more than one replica behind a load balancer so
	// all replicas verify each other's cursors.
	CursorSecret string `mapstructure:"cursorSecret"`
}

type ExtensionsConfig struct {
	Idempotency extensions.IdempotencyConfig `mapstructure:"idempotency"`
	Async       extensions.AsyncConfig       `mapstructure:"async"`
}

// Store

type StoreKind string

const (
	Memory   StoreKind = "memory"
	Sqlite   StoreKind = "sqlite"
	Postgres StoreKind = "postgres"
)

type StoreConfig struct {
	Kind     StoreKind       `mapstructure:"kind"`
	Sqlite   sqlite.Config   `mapstructure:"sqlite"`
	Postgres postgres.Config `mapstructure:"postgres"`
}

func (c *StoreConfig) New() (store.Store, error) {
	switch c.Kind {
	case Memory:
		return memory.New(), nil
	case Sqlite:
		return sqlite.New(&c.Sqlite)
	case Postgres:
		return postgres.New(&c.Postgres)
	default:
		return nil, fmt.Errorf("unsupported store '%s'", c.Kind)
	}
}

// SetDefaults establishes the default configuration, flags and config
// files override.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")
	v.SetDefault("metricsAddr", ":9090")

	v.SetDefault("api.http.addr", "0.0.0.0:8001")
	v.SetDefault("api.http.timeout", "10s")
	v.SetDefault("api.cursorSecret", "fulcrum")

	v.SetDefault("store.kind", "sqlite")
	v.SetDefault("store.sqlite.path", "fulcrum.db")
	v.SetDefault("store.sqlite.txTimeout", "250ms")
	v.SetDefault("store.postgres.host", "localhost")
	v.SetDefault("store.postgres.port", "5432")
	v.SetDefault("store.postgres.database", "fulcrum")
	v.SetDefault("store.postgres.txTimeout", "250ms")

	v.SetDefault("lifecycle.maxTtl", "24h")
	v.SetDefault("lifecycle.casRetries", 10)
	v.SetDefault("lifecycle.retryBackoff", "10ms")
	v.SetDefault("lifecycle.retryBackoffMax", "1s")
	v.SetDefault("lifecycle.listLimit", 100)

	v.SetDefault("coordinator.maxTtl", "1h")

	v.SetDefault("extensions.idempotency.defaultTtl", "1h")
	v.SetDefault("extensions.idempotency.maxTtl", "24h")
	v.SetDefault("extensions.idempotency.lockTtl", "1m")
	v.SetDefault("extensions.async.defaultTtl", "1h")

	v.SetDefault("reaper.cron", "@every 1m")
	v.SetDefault("reaper.timeout", "10s")
}

// New decodes the configuration from viper.
func New(v *viper.Viper) (*Config, error) {
	config := &Config{}

	hooks := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)

	if err := v.Unmarshal(config, viper.DecodeHook(hooks)); err != nil {
		return nil, err
	}

	return config, nil
}
