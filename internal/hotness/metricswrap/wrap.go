// Package metricswrap publishes hotness tracker size as a gauge and logs a
// sample of entries crossing the hot threshold.
package metricswrap

import (
	"fmt"
	"io"

	xx "github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/observability"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/hotness"
)

type Sizer interface{ Size() int }

type WithMetrics struct {
	inner     hotness.Interface
	tier      string
	threshold float64
	sample    float64
	log       zerolog.Logger
}

var _ hotness.Interface = (*WithMetrics)(nil)

type Option func(*WithMetrics)

// WithThreshold enables hot-entry logging for scores at or above f.
func WithThreshold(f float64) Option { return func(w *WithMetrics) { w.threshold = f } }

// WithLogSample sets the fraction of hot entries that are logged.
func WithLogSample(f float64) Option { return func(w *WithMetrics) { w.sample = f } }

func WithLogger(l zerolog.Logger) Option { return func(w *WithMetrics) { w.log = l } }

func New(inner hotness.Interface, tier string, opts ...Option) *WithMetrics {
	if tier == "" {
		tier = "hot"
	}
	w := &WithMetrics{inner: inner, tier: tier, sample: 0.01, log: zerolog.New(io.Discard)}
	for _, o := range opts {
		o(w)
	}
	return w
}

func (w *WithMetrics) Inc(key string) {
	w.inner.Inc(key)
	if w.threshold > 0 {
		score := w.inner.Score(key)
		if score >= w.threshold && shouldLog(w.sample, key) {
			w.log.Info().
				Str("event", "hotness_threshold").
				Float64("score", score).
				Str("tier", w.tier).
				Str("key_hash", fmt.Sprintf("%08x", xx.Sum64String(key))).
				Msg("hot entry above threshold")
		}
	}
	w.publish()
}

func (w *WithMetrics) Score(key string) float64 {
	return w.inner.Score(key)
}

func (w *WithMetrics) Reset(keys ...string) {
	w.inner.Reset(keys...)
	w.publish()
}

func (w *WithMetrics) publish() {
	if s, ok := w.inner.(Sizer); ok {
		observability.SetHotKeysGauge(w.tier, s.Size())
	}
}

func shouldLog(sample float64, key string) bool {
	if sample <= 0 {
		return false
	}
	if sample >= 1 {
		return true
	}
	const denom = 10000 // 0.01 => 100/10000
	threshold := uint64(sample*denom + 0.5)
	if threshold == 0 {
		return false
	}
	return xx.Sum64String(key)%denom < threshold
}
