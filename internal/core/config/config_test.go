package config

import (
	"errors"
	"testing"
	"time"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/coordinator"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Addr != ":8090" || cfg.CellScheme != SchemeGeohash || cfg.GeohashPrecision != 6 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.MinZoom != 13 || cfg.Debounce != 100*time.Millisecond || cfg.FetchTimeout != 15*time.Second {
		t.Fatalf("unexpected engine defaults: %+v", cfg)
	}
	if cfg.Invalidation.Enabled || len(cfg.Invalidation.Brokers) != 1 {
		t.Fatalf("unexpected invalidation defaults: %+v", cfg.Invalidation)
	}
	if cfg.RedisAddr != "" {
		t.Fatalf("redis must be opt-in, got %q", cfg.RedisAddr)
	}
}

func TestFromEnv_FetchTimeoutMatchesEngineDefault(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.FetchTimeout != coordinator.DefaultFetchTimeout {
		t.Fatalf("FETCH_TIMEOUT default %s, engine default %s", cfg.FetchTimeout, coordinator.DefaultFetchTimeout)
	}
}

func TestFromEnv_OverridesAndClamping(t *testing.T) {
	t.Setenv("CELL_SCHEME", " H3 ")
	t.Setenv("GEOHASH_PRECISION", "40")
	t.Setenv("H3_RES", "-3")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CACHE_TTL_DEFAULT", "2m")
	t.Setenv("CACHE_TTL_HOT", "1m")
	t.Setenv("CACHE_TTL_OVERRIDES", "toilets=30s, bad, =1s, stations=nope")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.CellScheme != SchemeH3 || cfg.GeohashPrecision != 12 || cfg.H3Res != 0 {
		t.Fatalf("normalization failed: %+v", cfg)
	}
	if len(cfg.Invalidation.Brokers) != 2 || cfg.Invalidation.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers=%v", cfg.Invalidation.Brokers)
	}
	if cfg.CacheTTLHot != 2*time.Minute {
		t.Fatalf("hot TTL must not undercut default, got %s", cfg.CacheTTLHot)
	}
	if got := cfg.TTLFor("toilets"); got != 30*time.Second {
		t.Fatalf("TTLFor(toilets)=%s", got)
	}
	if got := cfg.TTLFor("stations"); got != 2*time.Minute {
		t.Fatalf("TTLFor(stations)=%s", got)
	}
}

func TestFromEnv_Errors(t *testing.T) {
	t.Setenv("CELL_SCHEME", "s2")
	if _, err := FromEnv(); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("expected ErrUnknownScheme, got %v", err)
	}

	t.Setenv("CELL_SCHEME", "geohash")
	t.Setenv("MIN_ZOOM", "thirteen")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected parse error for MIN_ZOOM")
	}
}
