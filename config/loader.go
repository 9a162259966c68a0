package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, so store.dsn is read from
// DOCREPO_STORE_DSN.
const EnvPrefix = "DOCREPO"

// Load reads the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence. With an empty path a
// docrepo.yaml in the working directory or ./config is used when present; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("docrepo")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		// a missing file is fine, the defaults apply
		_ = v.ReadInConfig()
	}

	var cfg Config

	// Store
	cfg.Store.Driver = strings.ToLower(v.GetString("store.driver"))
	cfg.Store.DSN = v.GetString("store.dsn")
	cfg.Store.QueryLog = v.GetBool("store.query_log")
	cfg.Store.MaxOpenConns = v.GetInt("store.max_open_conns")

	cfg.DatabaseID = v.GetString("database_id")

	// Repository
	cfg.Repository.PageSize = v.GetInt("repository.page_size")
	cfg.Repository.UpsertStrategy = v.GetString("repository.upsert_strategy")

	// Retry
	cfg.Retry.MaxAttempts = v.GetInt("retry.max_attempts")
	cfg.Retry.BaseDelay = v.GetDuration("retry.base_delay")
	cfg.Retry.MaxDelay = v.GetDuration("retry.max_delay")
	cfg.Retry.FastFirstRetry = v.GetBool("retry.fast_first_retry")

	// Cache
	cfg.Cache.Enabled = v.GetBool("cache.enabled")
	cfg.Cache.Capacity = v.GetInt("cache.capacity")
	cfg.Cache.NumShards = v.GetInt("cache.num_shards")
	cfg.Cache.TTL = v.GetDuration("cache.ttl")
	cfg.Cache.EvictionPercentage = v.GetInt("cache.eviction_percentage")

	// Logging
	cfg.Log.Level = strings.ToLower(v.GetString("log.level"))
	cfg.Log.Format = strings.ToLower(v.GetString("log.format"))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.query_log", d.Store.QueryLog)
	v.SetDefault("store.max_open_conns", d.Store.MaxOpenConns)

	v.SetDefault("database_id", d.DatabaseID)

	v.SetDefault("repository.page_size", d.Repository.PageSize)
	v.SetDefault("repository.upsert_strategy", d.Repository.UpsertStrategy)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.base_delay", d.Retry.BaseDelay)
	v.SetDefault("retry.max_delay", d.Retry.MaxDelay)
	v.SetDefault("retry.fast_first_retry", d.Retry.FastFirstRetry)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.capacity", d.Cache.Capacity)
	v.SetDefault("cache.num_shards", d.Cache.NumShards)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("cache.eviction_percentage", d.Cache.EvictionPercentage)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
