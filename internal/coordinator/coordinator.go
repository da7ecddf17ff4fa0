// Package coordinator decides which (kind, cell) pairs a viewport still needs,
// fetches them in per-kind batches and merges the results into the entity
// cache.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/cache/entitycache"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/observability"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/mapper"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/source"
)

const (
	DefaultMinZoom      = 13
	DefaultFetchTimeout = 15 * time.Second
)

type Config struct {
	// MinZoom is the activation threshold; below it nothing is fetched.
	MinZoom int
	// MaxParallel bounds concurrent kind fetches in one cycle (0 = unbounded).
	MaxParallel  int
	FetchTimeout time.Duration
}

// Skip reasons for plans that issue no fetches.
const (
	SkipNoBounds   = "no_bounds"
	SkipLowZoom    = "below_min_zoom"
	SkipNoOverlays = "no_overlays"
	SkipAllCached  = "all_requested"
)

// Plan is the outcome of evaluating one viewport state.
type Plan struct {
	State model.ViewportState
	Cells model.Cells
	Work  map[model.OverlayKind]model.Cells
	Skip  string
}

func (p Plan) Empty() bool { return len(p.Work) == 0 }

// Kinds lists the kinds with outstanding cells in canonical order.
func (p Plan) Kinds() []model.OverlayKind {
	out := make([]model.OverlayKind, 0, len(p.Work))
	for _, k := range model.Kinds() {
		if len(p.Work[k]) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// Result carries one kind's batched fetch back to the owner goroutine.
type Result struct {
	Kind     model.OverlayKind
	Cells    model.Cells
	Entities []model.Entity
	Err      error
}

// FetchError reports a failed batched fetch for one kind. The cells stay
// marked as requested and are not retried in this session.
type FetchError struct {
	Kind  model.OverlayKind
	Cells model.Cells
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for %d cells: %v", e.Kind, len(e.Cells), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Coordinator owns the entity cache and the requested-cells record. Plan,
// Apply and Cache must be called from a single goroutine; Fetch only touches
// the data source and may run elsewhere.
type Coordinator struct {
	logger    *slog.Logger
	mapr      mapper.Interface
	src       source.DataSource
	cache     *entitycache.Cache
	requested *entitycache.Requested
	cfg       Config
}

func New(cfg Config, m mapper.Interface, src source.DataSource, logger *slog.Logger) (*Coordinator, error) {
	if m == nil || src == nil {
		return nil, errors.New("coordinator: mapper and data source are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	return &Coordinator{
		logger:    logger,
		mapr:      m,
		src:       src,
		cache:     entitycache.New(),
		requested: entitycache.NewRequested(),
		cfg:       cfg,
	}, nil
}

// Plan derives the outstanding (kind, cell) pairs for st and marks them as
// requested before anything is fetched, so overlapping evaluations never
// request the same pair twice.
func (c *Coordinator) Plan(st model.ViewportState) (Plan, error) {
	p := Plan{State: st}
	switch {
	case st.Bounds == nil:
		p.Skip = SkipNoBounds
		return p, nil
	case st.Zoom < c.cfg.MinZoom:
		p.Skip = SkipLowZoom
		return p, nil
	case st.Overlays.Empty():
		p.Skip = SkipNoOverlays
		return p, nil
	}

	cells, err := c.mapr.CellsForBounds(*st.Bounds)
	if err != nil {
		return p, fmt.Errorf("derive cells: %w", err)
	}
	p.Cells = cells

	work := make(map[model.OverlayKind]model.Cells)
	for _, cell := range cells {
		missing := c.requested.Missing(cell, st.Overlays)
		if missing.Empty() {
			continue
		}
		c.requested.Mark(cell, missing)
		for _, k := range missing.Kinds() {
			work[k] = append(work[k], cell)
		}
	}
	if len(work) == 0 {
		p.Skip = SkipAllCached
		return p, nil
	}
	p.Work = work
	return p, nil
}

// Fetch issues one batched call per kind of p, concurrently, handing each
// result to deliver as soon as it completes. It returns once every kind has
// been delivered.
func (c *Coordinator) Fetch(ctx context.Context, p Plan, deliver func(Result)) {
	g := new(errgroup.Group)
	if c.cfg.MaxParallel > 0 {
		g.SetLimit(c.cfg.MaxParallel)
	}
	for _, kind := range p.Kinds() {
		cells := p.Work[kind]
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
			defer cancel()

			start := time.Now()
			es, err := c.src.FetchEntities(fctx, kind, cells)
			observability.ObserveUpstreamLatency("datasource", time.Since(start).Seconds())
			observability.ObserveFetch(string(kind), len(cells), err)

			deliver(Result{Kind: kind, Cells: cells, Entities: es, Err: err})
			return nil
		})
	}
	_ = g.Wait()
}

// Apply merges a successful result into the cache, creating an entry for
// every requested cell. Entities referencing other cells are dropped. A failed
// result is returned as *FetchError and leaves the cache untouched.
func (c *Coordinator) Apply(r Result) error {
	if r.Err != nil {
		fe := &FetchError{Kind: r.Kind, Cells: r.Cells, Err: r.Err}
		c.logger.Warn("fetch failed; cells stay marked requested",
			"kind", string(r.Kind), "cells", len(r.Cells), "err", r.Err)
		return fe
	}

	byCell, dropped := source.PartitionByCell(r.Cells, r.Entities)
	for _, cell := range r.Cells {
		c.cache.Merge(r.Kind, cell, byCell[cell])
	}
	if dropped > 0 {
		observability.AddDroppedEntities(string(r.Kind), dropped)
		c.logger.Debug("dropped entities outside requested cells",
			"kind", string(r.Kind), "dropped", dropped)
	}
	observability.SetCachedCells(string(r.Kind), c.cache.CellCount(r.Kind))
	c.logger.Debug("merged fetch result",
		"kind", string(r.Kind), "cells", len(r.Cells), "entities", len(r.Entities)-dropped)
	return nil
}

// Run plans, fetches and applies st synchronously. Per-kind failures are
// joined into the returned error; other kinds are still merged.
func (c *Coordinator) Run(ctx context.Context, st model.ViewportState) (Plan, error) {
	p, err := c.Plan(st)
	if err != nil || p.Empty() {
		return p, err
	}

	var (
		mu      sync.Mutex
		results []Result
	)
	c.Fetch(ctx, p, func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})

	var errs []error
	for _, r := range results {
		if err := c.Apply(r); err != nil {
			errs = append(errs, err)
		}
	}
	return p, errors.Join(errs...)
}

// Cache exposes the entity cache for reads on the owner goroutine.
func (c *Coordinator) Cache() *entitycache.Cache { return c.cache }

// Requested reports whether (cell, kind) was already requested.
func (c *Coordinator) Requested(cell model.CellID, kind model.OverlayKind) bool {
	return c.requested.Has(cell, kind)
}
