package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/logger"
	ghmapper "github.com/mohammed-shakir/poi-viewport-cache/internal/mapper/geohash"
)

type Config struct {
	TargetURL      string
	Kinds          string
	Concurrency    int
	Duration       time.Duration
	ZipfS          float64
	ZipfV          float64
	Viewports      int
	Precision      int
	MaxCells       int
	OutputPrefix   string
	RequestTimeout time.Duration
	Seed           int64
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8090", "Base URL of the entities endpoint")
	flag.StringVar(&cfg.Kinds, "kinds", "stations,toilets", "Comma separated overlay kinds")
	flag.IntVar(&cfg.Concurrency, "concurrency", 16, "Concurrent workers")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "Test duration")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.Viewports, "viewports", 128, "Distinct viewports in pool")
	flag.IntVar(&cfg.Precision, "precision", 6, "Geohash precision of requested cells")
	flag.IntVar(&cfg.MaxCells, "max-cells", 256, "Cells per request cap")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/loadgen", "Output file prefix (JSON/CSV), empty to skip")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.Int64Var(&cfg.Seed, "seed", 0, "Random seed, 0 for time based")
	flag.Parse()
	return cfg
}

type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Status    int
	ErrorMsg  string
	Index     int
	Kind      string
	Cells     int
}

type aggregatedResult struct {
	total   int64
	success int64
	errors  int64
	latMs   []float64
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg := loadConfig()
	zl := logger.Build(logger.Config{Level: "info", Console: true, Service: "loadgen"}, os.Stderr)

	kinds, err := parseKinds(cfg.Kinds)
	if err != nil {
		zl.Error().Err(err).Msg("bad kinds")
		return 2
	}
	m, err := ghmapper.New(cfg.Precision)
	if err != nil {
		zl.Error().Err(err).Msg("bad precision")
		return 2
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(seed))

	targets, err := buildTargets(cfg.TargetURL, makeViewports(cfg.Viewports, r), kinds, m, cfg.MaxCells)
	if err != nil || len(targets) == 0 {
		zl.Error().Err(err).Msg("no targets")
		return 1
	}

	client := httpclient.NewOutbound(
		httpclient.WithTimeout(cfg.RequestTimeout),
		httpclient.WithUserAgent("poi-loadgen/1"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var sink *csv.Writer
	prefix := cfg.OutputPrefix
	if prefix != "" {
		prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
		if err := os.MkdirAll(filepath.Dir(prefix), 0o750); err != nil {
			zl.Error().Err(err).Msg("mkdir results")
			return 1
		}
		f, err := os.Create(filepath.Clean(prefix + "_samples.csv"))
		if err != nil {
			zl.Error().Err(err).Msg("open csv")
			return 1
		}
		defer func() { _ = f.Close() }()
		sink = csv.NewWriter(f)
	}

	samples := make(chan sample, 4096)
	results := make(chan aggregatedResult, 1)
	go collect(samples, sink, results, zl)

	start := time.Now()
	zl.Info().
		Str("target", cfg.TargetURL).
		Str("kinds", cfg.Kinds).
		Dur("duration", cfg.Duration).
		Int("concurrency", cfg.Concurrency).
		Int("targets", len(targets)).
		Int64("seed", seed).
		Msg("loadgen start")

	imax := uint64(len(targets)) - 1
	var wg sync.WaitGroup
	wg.Add(cfg.Concurrency)
	for id := range cfg.Concurrency {
		go func(id int) {
			defer wg.Done()
			zipf := rand.NewZipf(rand.New(rand.NewSource(seed+int64(id)+1)), cfg.ZipfS, cfg.ZipfV, imax)
			for ctx.Err() == nil {
				v := zipf.Uint64()
				if v > uint64(math.MaxInt) || int(v) >= len(targets) {
					continue
				}
				s := fire(ctx, client, targets[v])
				s.Index = int(v)
				select {
				case samples <- s:
				case <-ctx.Done():
					return
				}
			}
		}(id)
	}

	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samples)
	}()

	agg := <-results
	end := time.Now()
	elapsed := end.Sub(start).Seconds()

	sort.Float64s(agg.latMs)
	sum := summary{
		StartTime:     start.UTC(),
		EndTime:       end.UTC(),
		DurationSec:   elapsed,
		TotalRequests: agg.total,
		SuccessCount:  agg.success,
		ErrorCount:    agg.errors,
		ThroughputRPS: float64(agg.total) / elapsed,
		P50Ms:         percentile(agg.latMs, 50),
		P95Ms:         percentile(agg.latMs, 95),
		P99Ms:         percentile(agg.latMs, 99),
		Concurrency:   cfg.Concurrency,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		Viewports:     cfg.Viewports,
		Kinds:         strings.Split(cfg.Kinds, ","),
		TargetURL:     cfg.TargetURL,
	}

	if prefix != "" {
		if f, err := os.Create(filepath.Clean(prefix + "_summary.json")); err == nil {
			enc := json.NewEncoder(f)
			enc.SetIndent("", "  ")
			_ = enc.Encode(sum)
			_ = f.Close()
		}
	}

	zl.Info().
		Int64("total", sum.TotalRequests).
		Int64("success", sum.SuccessCount).
		Int64("errors", sum.ErrorCount).
		Float64("rps", sum.ThroughputRPS).
		Float64("p50_ms", sum.P50Ms).
		Float64("p95_ms", sum.P95Ms).
		Float64("p99_ms", sum.P99Ms).
		Msg("loadgen done")
	return 0
}

func fire(ctx context.Context, client *http.Client, t target) sample {
	s := sample{Timestamp: time.Now(), Kind: string(t.kind), Cells: len(t.cells)}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url, nil)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	req.Header.Set("Accept", "application/geo+json")
	resp, err := client.Do(req)
	s.Latency = time.Since(s.Timestamp)
	if err != nil {
		s.ErrorMsg = err.Error()
		return s
	}
	s.Status = resp.StatusCode
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.ErrorMsg = "status=" + strconv.Itoa(resp.StatusCode)
	}
	return s
}

func collect(in <-chan sample, sink *csv.Writer, out chan<- aggregatedResult, zl zerolog.Logger) {
	var agg aggregatedResult
	if sink != nil {
		_ = sink.Write([]string{"timestamp", "latency_ms", "status", "error", "idx", "kind", "cells"})
	}
	for s := range in {
		agg.total++
		ms := float64(s.Latency.Microseconds()) / 1000.0
		if s.ErrorMsg == "" {
			agg.success++
			agg.latMs = append(agg.latMs, ms)
		} else {
			agg.errors++
		}
		if sink != nil {
			_ = sink.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				strconv.FormatFloat(ms, 'f', 3, 64),
				strconv.Itoa(s.Status),
				s.ErrorMsg,
				strconv.Itoa(s.Index),
				s.Kind,
				strconv.Itoa(s.Cells),
			})
		}
	}
	if sink != nil {
		sink.Flush()
		if err := sink.Error(); err != nil {
			zl.Warn().Err(err).Msg("csv flush")
		}
	}
	out <- agg
}
