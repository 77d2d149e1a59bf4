package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/leerbedrijf-search/pkg/logging"
	"github.com/Sternrassler/leerbedrijf-search/pkg/query"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func validConfig() Config {
	cfg := Default()
	cfg.Source.BaseURL = "http://source.test/api"
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Cache.TTL = %v, want 5m", cfg.Cache.TTL)
	}
	if cfg.Source.Timeout != 15*time.Second {
		t.Errorf("Source.Timeout = %v, want 15s", cfg.Source.Timeout)
	}
	if cfg.Search.RequestTimeout != 60*time.Second {
		t.Errorf("Search.RequestTimeout = %v, want 60s", cfg.Search.RequestTimeout)
	}
	if cfg.RateLimit.IdentityLimit != 10 || cfg.RateLimit.SessionLimit != 5 || cfg.RateLimit.GlobalLimit != 100 {
		t.Errorf("RateLimit = %+v, want 10/5/100", cfg.RateLimit)
	}
	if cfg.Search.MaxAttempts != 3 || cfg.Search.InitialBackoff != 500*time.Millisecond {
		t.Errorf("Search retry = %d attempts from %v, want 3 from 500ms", cfg.Search.MaxAttempts, cfg.Search.InitialBackoff)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "source.base_url") {
		t.Errorf("Validate() = %v, want missing base url", err)
	}
	if err := validConfig().Validate(); err != nil {
		t.Errorf("Validate() with base url = %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  addr: ":9090"
  trust_forwarded_for: true
log:
  level: debug
cache:
  backend: redis
  ttl: 2m
redis:
  addr: "redis:6379"
source:
  base_url: "https://source.example.com/api"
  timeout: 10s
  rps: 2.5
  burst: 3
rate_limit:
  identity_limit: 20
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Addr != ":9090" || !cfg.Server.TrustForwardedFor {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Cache.Backend != BackendRedis || cfg.Cache.TTL != 2*time.Minute {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Source.Timeout != 10*time.Second || cfg.Source.RPS != 2.5 {
		t.Errorf("Source = %+v", cfg.Source)
	}
	// Unset fields keep their defaults.
	if cfg.RateLimit.IdentityLimit != 20 || cfg.RateLimit.GlobalLimit != 100 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Cache.MaxEntries != Default().Cache.MaxEntries {
		t.Errorf("Cache.MaxEntries = %d, want default", cfg.Cache.MaxEntries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	sc := cfg.SearchConfig()
	if sc.FetchTimeout != 10*time.Second || sc.CacheTTL != 2*time.Minute || sc.SourceBurst != 3 {
		t.Errorf("SearchConfig() = %+v", sc)
	}
	if lc := cfg.LoggingConfig(); lc.Level != logging.LevelDebug {
		t.Errorf("LoggingConfig().Level = %s, want debug", lc.Level)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() of missing file should fail")
	}
	if _, err := Load(writeFile(t, "bad.yaml", "server: [")); err == nil {
		t.Error("Load() of invalid YAML should fail")
	}
	if _, err := Load(writeFile(t, "bad-duration.yaml", "cache:\n  ttl: soon\n")); err == nil {
		t.Error("Load() of invalid duration should fail")
	}

	cfg, err := Load("")
	if err != nil || cfg.Server.Addr != Default().Server.Addr {
		t.Errorf("Load(\"\") = %+v, %v; want defaults", cfg.Server, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"fetch timeout not below request timeout", func(c *Config) { c.Source.Timeout = c.Search.RequestTimeout }, "request_timeout"},
		{"unknown backend", func(c *Config) { c.Cache.Backend = "disk" }, "cache.backend"},
		{"redis backend without addr", func(c *Config) { c.Cache.Backend = BackendRedis; c.Redis.Addr = "" }, "redis.addr"},
		{"stats without redis", func(c *Config) { c.RateLimit.Stats = true; c.Redis.Addr = "" }, "rate_limit.stats"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"zero identity limit", func(c *Config) { c.RateLimit.IdentityLimit = 0 }, "limits must be positive"},
		{"zero memory entries", func(c *Config) { c.Cache.MaxEntries = 0 }, "max_entries"},
		{"no listen addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadQueries(t *testing.T) {
	path := writeFile(t, "queries.yaml", `
queries:
  - education: Medewerker Hovenier
    location: " Amsterdam "
    radiusKm: 25
  - education: opzichter/uitvoerder groene ruimte
    location: Den  Haag
    radiusKm: 50
`)

	qs, err := LoadQueries(path)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v", err)
	}
	want := []query.Query{
		{Track: query.TrackMedewerkerHovenier, Location: "amsterdam", RadiusKm: 25},
		{Track: query.TrackOpzichterUitvoerderGroen, Location: "den haag", RadiusKm: 50},
	}
	if len(qs) != len(want) {
		t.Fatalf("got %d queries, want %d", len(qs), len(want))
	}
	for i := range want {
		if qs[i] != want[i] {
			t.Errorf("query %d = %+v, want %+v", i, qs[i], want[i])
		}
	}
}

func TestLoadQueries_Invalid(t *testing.T) {
	path := writeFile(t, "queries.yaml", `
queries:
  - education: Medewerker Hovenier
    location: Utrecht
    radiusKm: 10
  - education: Kok
    location: Utrecht
    radiusKm: 500
`)
	_, err := LoadQueries(path)
	if err == nil || !strings.Contains(err.Error(), "queries[1]") {
		t.Errorf("LoadQueries() = %v, want error for queries[1]", err)
	}

	if _, err := LoadQueries(writeFile(t, "empty.yaml", "queries: []\n")); err == nil {
		t.Error("LoadQueries() of empty list should fail")
	}
}
