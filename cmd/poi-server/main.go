package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/api"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/cache"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/config"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/health"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/observability"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/router"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/server"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/hotness/expdecay"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/hotness/metricswrap"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/logger"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/mapper"
	ghmapper "github.com/mohammed-shakir/poi-viewport-cache/internal/mapper/geohash"
	h3mapper "github.com/mohammed-shakir/poi-viewport-cache/internal/mapper/h3"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/metrics"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/source/overpass"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/source/tiered"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "poi-server",
		Component: "server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	m, err := buildMapper(cfg)
	if err != nil {
		appLog.Error("mapper setup failed", "err", err)
		return 1
	}

	p := metrics.Init(metrics.Config{
		Service:    "poi-server",
		CellScheme: m.Scheme(),
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer())

	appLog.Info("starting poi server",
		"addr", cfg.Addr,
		"version", Version,
		"overpass", cfg.Overpass.URL,
		"scheme", m.Scheme(),
		"redis", cfg.RedisAddr != "")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ovp, err := overpass.New(overpass.Config{
		Endpoint:    cfg.Overpass.URL,
		RPS:         cfg.Overpass.RPS,
		Burst:       cfg.Overpass.Burst,
		MaxParallel: cfg.Overpass.MaxParallel,
		Timeout:     cfg.Overpass.Timeout,
	}, m, httpclient.NewOutbound(
		httpclient.WithTimeout(cfg.Overpass.Timeout+5*time.Second),
		httpclient.WithMaxConnsPerHost(cfg.Overpass.MaxParallel),
	), appLog)
	if err != nil {
		appLog.Error("overpass setup failed", "err", err)
		return 1
	}

	var (
		store  cache.Store
		checks []health.ReadinessReporter
	)
	if cfg.RedisAddr != "" {
		rc, err := redisstore.New(ctx, redisstore.Config{Addr: cfg.RedisAddr, PoolSize: cfg.RedisPoolSize})
		if err != nil {
			appLog.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		store = rc
		checks = append(checks, health.ReporterFunc(func() (bool, []int32) {
			pctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return rc.Ping(pctx) == nil, nil
		}))
	}

	hot := metricswrap.New(expdecay.New(cfg.HotHalfLife), "cells",
		metricswrap.WithThreshold(cfg.HotThreshold),
		metricswrap.WithLogger(zl.With().Str("component", "hotness").Logger()),
	)

	tier, err := tiered.New(ovp, store, hot, tiered.Config{
		Scheme:       m.Scheme(),
		TTL:          func(k model.OverlayKind) time.Duration { return cfg.TTLFor(string(k)) },
		HotTTL:       cfg.CacheTTLHot,
		HotThreshold: cfg.HotThreshold,
		OpTimeout:    cfg.CacheOpTimeout,
		L1Size:       cfg.CacheL1Size,
	}, appLog)
	if err != nil {
		appLog.Error("cache tier setup failed", "err", err)
		return 1
	}

	if cfg.Invalidation.Enabled {
		if cfg.Invalidation.Driver != "kafka" {
			appLog.Error("unsupported invalidation driver", "driver", cfg.Invalidation.Driver)
			return 1
		}
		czl := zl.With().Str("component", "invalidation").Logger()
		consumer := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), appLog, &czl, tier, m)
		if err := consumer.Start(ctx); err != nil {
			appLog.Error("invalidation consumer failed to start", "err", err)
			return 1
		}
		defer consumer.Stop()
		checks = append(checks, consumer)
	}

	h := server.NewRouter(appLog, server.Routes{
		Entities: router.HandleEntities(appLog, m, cfg.MaxCellsReq, api.NewHandler(tier, appLog, cfg.Overpass.Timeout)),
		Ready:    health.All(checks...),
		Metrics:  p.Handler(),
	})

	if err := server.Run(ctx, cfg.Addr, h, appLog); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func buildMapper(cfg config.Config) (mapper.Interface, error) {
	switch cfg.CellScheme {
	case config.SchemeH3:
		hm, err := h3mapper.New(cfg.H3Res)
		if err != nil {
			return nil, err
		}
		return hm.WithMaxCells(cfg.MaxCellsReq), nil
	default:
		gm, err := ghmapper.New(cfg.GeohashPrecision)
		if err != nil {
			return nil, err
		}
		return gm.WithMaxCells(cfg.MaxCellsReq), nil
	}
}
