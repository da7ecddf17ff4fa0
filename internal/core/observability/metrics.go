// Package observability owns the Prometheus collectors recorded across the
// engine, data sources, cache tier and HTTP layer.
package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	cacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_ops_total",
			Help: "Redis operations by op and result.",
		},
		[]string{"op", "result"},
	)

	cacheOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Redis operation latency in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	cacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Cell tier lookups by outcome.",
		},
		[]string{"outcome"},
	)

	cyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poi_coordination_cycles_total",
			Help: "Coordination cycles by outcome (skipped, cached, fetched).",
		},
		[]string{"outcome"},
	)

	fetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poi_fetches_total",
			Help: "Batched data source calls per overlay kind.",
		},
		[]string{"kind"},
	)

	fetchedCellsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poi_fetched_cells_total",
			Help: "Cells requested from the data source per overlay kind.",
		},
		[]string{"kind"},
	)

	fetchErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poi_fetch_errors_total",
			Help: "Failed batched data source calls per overlay kind.",
		},
		[]string{"kind"},
	)

	droppedEntitiesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poi_entities_dropped_total",
			Help: "Entities discarded because they referenced an unrequested cell.",
		},
		[]string{"kind"},
	)

	cachedCells = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poi_cached_cells",
			Help: "Cell entries held by the entity cache per overlay kind.",
		},
		[]string{"kind"},
	)

	snapshotsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poi_snapshots_total",
			Help: "Projected snapshots by outcome (emitted, suppressed).",
		},
		[]string{"outcome"},
	)

	invalidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Invalidation events by op and result.",
		},
		[]string{"op", "kind", "result"},
	)

	invalidatedKeysTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidation_keys_total",
			Help: "Cache keys removed by invalidation.",
		},
	)

	invalidationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invalidation_duration_seconds",
			Help:    "Time spent applying one invalidation event.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	hotKeys = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hot_keys",
			Help: "Cells tracked by the hotness model.",
		},
		[]string{"tier"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		cacheOpsTotal, cacheOpDurationSeconds, cacheResults,
		cyclesTotal, fetchesTotal, fetchedCellsTotal, fetchErrorsTotal, droppedEntitiesTotal,
		cachedCells, snapshotsTotal,
		invalidationsTotal, invalidatedKeysTotal, invalidationDurationSeconds, kafkaConsumerErrors,
		hotKeys,
	}
}

func init() {
	Init(prometheus.DefaultRegisterer)
}

// Init registers every collector with reg. Collectors already present are
// left as they are, so Init may be called once per registry.
func Init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	cacheOpsTotal.WithLabelValues(op, res).Inc()
	cacheOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func AddCacheHits(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("hit").Add(float64(n))
	}
}

func AddCacheMisses(n int) {
	if n > 0 {
		cacheResults.WithLabelValues("miss").Add(float64(n))
	}
}

func IncCycle(outcome string) { cyclesTotal.WithLabelValues(outcome).Inc() }

func ObserveFetch(kind string, cells int, err error) {
	fetchesTotal.WithLabelValues(kind).Inc()
	fetchedCellsTotal.WithLabelValues(kind).Add(float64(cells))
	if err != nil {
		fetchErrorsTotal.WithLabelValues(kind).Inc()
	}
}

func AddDroppedEntities(kind string, n int) {
	if n > 0 {
		droppedEntitiesTotal.WithLabelValues(kind).Add(float64(n))
	}
}

func SetCachedCells(kind string, n int) { cachedCells.WithLabelValues(kind).Set(float64(n)) }

func IncSnapshot(emitted bool) {
	if emitted {
		snapshotsTotal.WithLabelValues("emitted").Inc()
		return
	}
	snapshotsTotal.WithLabelValues("suppressed").Inc()
}

func ObserveInvalidation(op, kind string, keys int, durationSeconds float64, err error) {
	res := "ok"
	if err != nil {
		res = "error"
	}
	invalidationsTotal.WithLabelValues(op, kind, res).Inc()
	if keys > 0 {
		invalidatedKeysTotal.Add(float64(keys))
	}
	invalidationDurationSeconds.Observe(durationSeconds)
}

func IncKafkaConsumerError(kind string) { kafkaConsumerErrors.WithLabelValues(kind).Inc() }

func SetHotKeysGauge(tier string, n int) { hotKeys.WithLabelValues(tier).Set(float64(n)) }
