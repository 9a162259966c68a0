// Package config loads application settings for programs built on docrepo.
package config

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Upsert strategies accepted in repository.upsert_strategy.
const (
	UpsertNative          = "native"
	UpsertReadModifyWrite = "read-modify-write"
)

// Config is the application configuration.
type Config struct {
	Store      StoreConfig
	DatabaseID string
	Repository RepositoryConfig
	Retry      RetryConfig
	Cache      CacheConfig
	Log        LogConfig
}

// StoreConfig selects and configures the store backend.
type StoreConfig struct {
	Driver       string
	DSN          string
	QueryLog     bool
	MaxOpenConns int
}

// RepositoryConfig holds defaults applied to every repository.
type RepositoryConfig struct {
	PageSize       int
	UpsertStrategy string
}

// RetryConfig configures retries of transient store failures.
type RetryConfig struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	FastFirstRetry bool
}

// CacheConfig configures the read-through repository cache.
type CacheConfig struct {
	Enabled            bool
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string
	Format string
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.Store),
		validation.Field(&c.DatabaseID, validation.Required, validation.Length(1, 255)),
		validation.Field(&c.Repository),
		validation.Field(&c.Retry),
		validation.Field(&c.Cache),
		validation.Field(&c.Log),
	)
	if err != nil {
		return goerrors.FromOzzoValidation(err, "invalid configuration").
			WithTextCode("INVALID_CONFIG")
	}
	return nil
}

// Validate checks the driver and that a dsn is present when the driver needs one.
func (s StoreConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required,
			validation.In(DriverMemory, DriverSQLite, DriverPostgres, DriverMySQL)),
		validation.Field(&s.DSN, validation.When(s.Driver != DriverMemory,
			validation.Required.Error("is required for the "+s.Driver+" driver"))),
		validation.Field(&s.MaxOpenConns, validation.Min(0)),
	)
}

func (r RepositoryConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.PageSize, validation.Required, validation.Min(1), validation.Max(1000)),
		validation.Field(&r.UpsertStrategy, validation.In(UpsertNative, UpsertReadModifyWrite)),
	)
}

func (r RetryConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MaxAttempts, validation.Required, validation.Min(1)),
		validation.Field(&r.BaseDelay, validation.Min(time.Duration(0))),
		validation.Field(&r.MaxDelay, validation.Min(r.BaseDelay)),
	)
}

// Validate only checks the cache settings when the cache is enabled.
func (c CacheConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.Capacity, validation.Required, validation.Min(1)),
		validation.Field(&c.NumShards, validation.Required, validation.Min(1)),
		validation.Field(&c.TTL, validation.Required, validation.Min(time.Duration(1))),
		validation.Field(&c.EvictionPercentage, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&l.Format, validation.In("json", "console")),
	)
}
