package config

import "time"

// Default returns the built-in configuration: an in-memory store, retries
// with a fast first attempt and the cache enabled.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver: DriverMemory,
		},
		DatabaseID: "docrepo",
		Repository: RepositoryConfig{
			PageSize:       100,
			UpsertStrategy: UpsertNative,
		},
		Retry: RetryConfig{
			MaxAttempts:    4,
			BaseDelay:      100 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			FastFirstRetry: true,
		},
		Cache: CacheConfig{
			Enabled:            true,
			Capacity:           10000,
			NumShards:          64,
			TTL:                5 * time.Minute,
			EvictionPercentage: 10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
