// Package config reads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	SchemeGeohash = "geohash"
	SchemeH3      = "h3"
)

type InvalidationCfg struct {
	Enabled bool     `env:"INVALIDATION_ENABLED" envDefault:"false"`
	Driver  string   `env:"INVALIDATION_DRIVER"  envDefault:"kafka"`
	Topic   string   `env:"KAFKA_TOPIC"          envDefault:"poi-invalidation"`
	Brokers []string `env:"KAFKA_BROKERS"        envDefault:"localhost:9092" envSeparator:","`
	GroupID string   `env:"KAFKA_GROUP_ID"       envDefault:"poi-cache-invalidator"`
}

type OverpassCfg struct {
	URL         string        `env:"OVERPASS_URL"          envDefault:"https://overpass-api.de/api/interpreter"`
	RPS         float64       `env:"OVERPASS_RPS"          envDefault:"1"`
	Burst       int           `env:"OVERPASS_BURST"        envDefault:"1"`
	MaxParallel int           `env:"OVERPASS_MAX_PARALLEL" envDefault:"2"`
	Timeout     time.Duration `env:"OVERPASS_TIMEOUT"      envDefault:"25s"`
}

type Config struct {
	Addr       string `env:"ADDR"         envDefault:":8090"`
	LogLevel   string `env:"LOG_LEVEL"    envDefault:"info"`
	LogConsole bool   `env:"LOG_CONSOLE"  envDefault:"false"`
	LogSampleN int    `env:"LOG_SAMPLE_N" envDefault:"0"`

	// SourceURL is the entity endpoint clients fetch from.
	SourceURL     string `env:"POI_SOURCE_URL"  envDefault:"http://localhost:8090"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"64"`
	Overpass      OverpassCfg
	MaxCellsReq   int `env:"MAX_CELLS_PER_REQUEST" envDefault:"256"`

	CellScheme       string `env:"CELL_SCHEME"       envDefault:"geohash"`
	GeohashPrecision int    `env:"GEOHASH_PRECISION" envDefault:"6"`
	H3Res            int    `env:"H3_RES"            envDefault:"8"`

	MinZoom            int           `env:"MIN_ZOOM"             envDefault:"13"`
	Debounce           time.Duration `env:"VIEWPORT_DEBOUNCE"    envDefault:"100ms"`
	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT"        envDefault:"15s"`
	MaxParallelFetches int           `env:"MAX_PARALLEL_FETCHES" envDefault:"4"`

	CacheOpTimeout  time.Duration            `env:"CACHE_OP_TIMEOUT"  envDefault:"250ms"`
	CacheTTLDefault time.Duration            `env:"CACHE_TTL_DEFAULT" envDefault:"10m"`
	CacheTTLHot     time.Duration            `env:"CACHE_TTL_HOT"     envDefault:"1h"`
	CacheTTLRaw     string                   `env:"CACHE_TTL_OVERRIDES"`
	CacheTTLOvr     map[string]time.Duration // parsed from CacheTTLRaw
	CacheL1Size     int                      `env:"CACHE_L1_SIZE"     envDefault:"4096"`

	HotThreshold float64       `env:"HOT_THRESHOLD" envDefault:"10"`
	HotHalfLife  time.Duration `env:"HOT_HALF_LIFE" envDefault:"1m"`

	Invalidation InvalidationCfg
}

var ErrUnknownScheme = errors.New("unknown cell scheme")

func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.CellScheme = strings.ToLower(strings.TrimSpace(c.CellScheme))
	switch c.CellScheme {
	case SchemeGeohash, SchemeH3:
	default:
		return fmt.Errorf("%w %q", ErrUnknownScheme, c.CellScheme)
	}

	c.GeohashPrecision = clamp(c.GeohashPrecision, 1, 12)
	c.H3Res = clamp(c.H3Res, 0, 15)
	c.MinZoom = clamp(c.MinZoom, 0, 22)
	if c.MaxCellsReq <= 0 {
		c.MaxCellsReq = 256
	}
	if c.MaxParallelFetches < 0 {
		c.MaxParallelFetches = 0
	}
	if c.CacheTTLHot < c.CacheTTLDefault {
		c.CacheTTLHot = c.CacheTTLDefault
	}
	c.CacheTTLOvr = parseDurationMap(c.CacheTTLRaw)
	return nil
}

// TTLFor returns the cache lifetime of kind's entries.
func (c Config) TTLFor(kind string) time.Duration {
	if d, ok := c.CacheTTLOvr[kind]; ok && d > 0 {
		return d
	}
	return c.CacheTTLDefault
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// parse "toilets=5m,stations=30s" into map
func parseDurationMap(s string) map[string]time.Duration {
	out := map[string]time.Duration{}
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	for p := range strings.SplitSeq(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		k := strings.TrimSpace(kv[0])
		v := strings.TrimSpace(kv[1])
		if k == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err == nil {
			out[k] = d
		}
	}
	return out
}
