package cache

import "github.com/goliatone/go-docrepo/internal/cacheinfra"

// Config holds the sturdyc settings behind NewCacheService.
type Config = cacheinfra.Config

// EarlyRefreshConfig configures background refreshes of hot entries.
type EarlyRefreshConfig = cacheinfra.EarlyRefreshConfig

// DefaultConfig returns the settings a cached repository starts from. Early
// refresh stays off since writes invalidate entries directly.
func DefaultConfig() Config {
	return cacheinfra.DefaultConfig()
}

// NewCacheService validates cfg and builds the sturdyc backed CacheService.
func NewCacheService(cfg Config) (CacheService, error) {
	svc, err := cacheinfra.NewSturdycService(cfg)
	if err != nil {
		return nil, err
	}
	return svc, nil
}
