package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "docrepo.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func fieldErrors(t *testing.T, err error) map[string]bool {
	t.Helper()
	var rich *goerrors.Error
	if !errors.As(err, &rich) {
		t.Fatalf("expected *errors.Error, got %T (%v)", err, err)
	}
	if rich.TextCode != "INVALID_CONFIG" {
		t.Errorf("expected INVALID_CONFIG, got %q", rich.TextCode)
	}
	out := map[string]bool{}
	for _, fe := range rich.ValidationErrors {
		out[fe.Field] = true
	}
	return out
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if *cfg != Default() {
		t.Errorf("expected defaults, got %+v", *cfg)
	}
	if err := Default().Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
store:
  driver: SQLite
  dsn: "file::memory:?cache=shared"
  query_log: true
database_id: People
repository:
  page_size: 25
  upsert_strategy: read-modify-write
retry:
  max_attempts: 2
  base_delay: 10ms
  max_delay: 1s
  fast_first_retry: false
cache:
  enabled: false
log:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Store.Driver != DriverSQLite || cfg.Store.DSN != "file::memory:?cache=shared" || !cfg.Store.QueryLog {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if cfg.DatabaseID != "People" {
		t.Errorf("expected People, got %q", cfg.DatabaseID)
	}
	if cfg.Repository.PageSize != 25 || cfg.Repository.UpsertStrategy != UpsertReadModifyWrite {
		t.Errorf("unexpected repository config %+v", cfg.Repository)
	}
	want := RetryConfig{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}
	if cfg.Retry != want {
		t.Errorf("expected %+v, got %+v", want, cfg.Retry)
	}
	if cfg.Cache.Enabled {
		t.Error("expected cache to be disabled")
	}
	if cfg.Cache.Capacity != Default().Cache.Capacity {
		t.Errorf("unset keys should keep their defaults, got %d", cfg.Cache.Capacity)
	}
	if cfg.Log != (LogConfig{Level: "debug", Format: "console"}) {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "database_id: FromFile\n")
	t.Setenv("DOCREPO_DATABASE_ID", "FromEnv")
	t.Setenv("DOCREPO_STORE_DRIVER", "postgres")
	t.Setenv("DOCREPO_STORE_DSN", "postgres://localhost/docs?sslmode=disable")
	t.Setenv("DOCREPO_CACHE_TTL", "30s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseID != "FromEnv" {
		t.Errorf("expected env to win, got %q", cfg.DatabaseID)
	}
	if cfg.Store.Driver != DriverPostgres || cfg.Store.DSN == "" {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if cfg.Cache.TTL != 30*time.Second {
		t.Errorf("expected 30s, got %v", cfg.Cache.TTL)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing explicit config file")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("DOCREPO_STORE_DRIVER", "oracle")
	t.Setenv("DOCREPO_REPOSITORY_PAGE_SIZE", "5000")

	_, err := Load("")
	got := fieldErrors(t, err)
	for _, f := range []string{"Store.Driver", "Repository.PageSize"} {
		if !got[f] {
			t.Errorf("expected a field error for %s, got %v", f, got)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "dsn required for sql drivers",
			mutate: func(c *Config) { c.Store.Driver = DriverMySQL },
			field:  "Store.DSN",
		},
		{
			name:   "database id required",
			mutate: func(c *Config) { c.DatabaseID = "" },
			field:  "DatabaseID",
		},
		{
			name:   "unknown upsert strategy",
			mutate: func(c *Config) { c.Repository.UpsertStrategy = "merge" },
			field:  "Repository.UpsertStrategy",
		},
		{
			name: "max delay below base delay",
			mutate: func(c *Config) {
				c.Retry.BaseDelay = time.Second
				c.Retry.MaxDelay = time.Millisecond
			},
			field: "Retry.MaxDelay",
		},
		{
			name:   "zero retry attempts",
			mutate: func(c *Config) { c.Retry.MaxAttempts = 0 },
			field:  "Retry.MaxAttempts",
		},
		{
			name:   "cache eviction out of range",
			mutate: func(c *Config) { c.Cache.EvictionPercentage = 0 },
			field:  "Cache.EvictionPercentage",
		},
		{
			name:   "unknown log format",
			mutate: func(c *Config) { c.Log.Format = "xml" },
			field:  "Log.Format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			got := fieldErrors(t, cfg.Validate())
			if !got[tt.field] || len(got) != 1 {
				t.Errorf("expected only %s to fail, got %v", tt.field, got)
			}
		})
	}

	t.Run("disabled cache skips cache checks", func(t *testing.T) {
		cfg := Default()
		cfg.Cache = CacheConfig{Enabled: false}
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}
