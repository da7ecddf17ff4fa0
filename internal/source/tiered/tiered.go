// Package tiered puts a per-cell read-through cache in front of a data
// source: an in-process LRU first, then the shared store, then the source.
package tiered

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/cache"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/cache/keys"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/hotness"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/source"
)

// Selector is implemented by sources whose result depends on a per-kind
// query; the selector becomes part of the cache key.
type Selector interface {
	Selector(kind model.OverlayKind) string
}

type Config struct {
	// Scheme names the cell scheme, e.g. "geohash6".
	Scheme       string
	TTL          func(kind model.OverlayKind) time.Duration
	HotTTL       time.Duration
	HotThreshold float64
	OpTimeout    time.Duration
	L1Size       int
}

type l1Entry struct {
	entities []model.Entity
	expires  time.Time
}

type Source struct {
	inner  source.DataSource
	store  cache.Store
	hot    hotness.Interface
	l1     *lru.Cache[string, l1Entry]
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

var _ source.DataSource = (*Source)(nil)

// New wraps inner. store and hot may be nil.
func New(inner source.DataSource, store cache.Store, hot hotness.Interface, cfg Config, logger *slog.Logger) (*Source, error) {
	if inner == nil {
		return nil, errors.New("tiered: inner source is required")
	}
	if cfg.Scheme == "" {
		return nil, errors.New("tiered: cell scheme is required")
	}
	if cfg.TTL == nil {
		cfg.TTL = func(model.OverlayKind) time.Duration { return 10 * time.Minute }
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 250 * time.Millisecond
	}
	if cfg.L1Size <= 0 {
		cfg.L1Size = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}
	l1, err := lru.New[string, l1Entry](cfg.L1Size)
	if err != nil {
		return nil, fmt.Errorf("tiered: l1: %w", err)
	}
	return &Source{
		inner:  inner,
		store:  store,
		hot:    hot,
		l1:     l1,
		cfg:    cfg,
		logger: logger.With("component", "tiered"),
		now:    time.Now,
	}, nil
}

// FetchEntities serves what it can from the cache tiers and fetches the
// remaining cells from the inner source in one call. Store failures fall
// through to the inner source; inner failures are returned and nothing is
// cached.
func (s *Source) FetchEntities(ctx context.Context, kind model.OverlayKind, cells model.Cells) ([]model.Entity, error) {
	sel := s.selector(kind)
	out := make([]model.Entity, 0)

	pending := make(model.Cells, 0, len(cells))
	for _, c := range cells {
		if s.hot != nil {
			s.hot.Inc(hotKey(kind, c))
		}
		if es, ok := s.getL1(keys.Key(kind, s.cfg.Scheme, c, sel)); ok {
			out = append(out, es...)
			continue
		}
		pending = append(pending, c)
	}

	missing := s.readStore(ctx, kind, sel, pending, &out)
	if len(missing) == 0 {
		return out, nil
	}

	fetched, err := s.inner.FetchEntities(ctx, kind, missing)
	if err != nil {
		return nil, fmt.Errorf("inner source %s: %w", kind, err)
	}
	byCell, _ := source.PartitionByCell(missing, fetched)
	for _, c := range missing {
		out = append(out, byCell[c]...)
	}
	s.write(ctx, kind, sel, byCell)
	return out, nil
}

// readStore appends store hits to out and returns the cells still missing.
func (s *Source) readStore(ctx context.Context, kind model.OverlayKind, sel string, cells model.Cells, out *[]model.Entity) model.Cells {
	if s.store == nil || len(cells) == 0 {
		return cells
	}
	ks := make([]string, len(cells))
	for i, c := range cells {
		ks[i] = keys.Key(kind, s.cfg.Scheme, c, sel)
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	vals, err := s.store.MGet(opCtx, ks)
	if err != nil {
		s.logger.Warn("cache read failed; falling back to source", "kind", string(kind), "err", err)
		return cells
	}

	var missing model.Cells
	for i, c := range cells {
		raw, ok := vals[ks[i]]
		if !ok {
			missing = append(missing, c)
			continue
		}
		var es []model.Entity
		if err := json.Unmarshal(raw, &es); err != nil {
			s.logger.Warn("discarding undecodable cache entry", "key", ks[i], "err", err)
			missing = append(missing, c)
			continue
		}
		s.putL1(ks[i], es, s.ttl(kind, c))
		*out = append(*out, es...)
	}
	return missing
}

func (s *Source) write(ctx context.Context, kind model.OverlayKind, sel string, byCell map[model.CellID][]model.Entity) {
	entries := make([]cache.Entry, 0, len(byCell))
	for c, es := range byCell {
		k := keys.Key(kind, s.cfg.Scheme, c, sel)
		ttl := s.ttl(kind, c)
		s.putL1(k, es, ttl)
		if s.store == nil {
			continue
		}
		raw, err := json.Marshal(es)
		if err != nil {
			s.logger.Warn("encode cache entry", "key", k, "err", err)
			continue
		}
		entries = append(entries, cache.Entry{Key: k, Value: raw, TTL: ttl})
	}
	if len(entries) == 0 {
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
	defer cancel()
	if err := s.store.Put(opCtx, entries); err != nil {
		s.logger.Warn("cache write failed", "kind", string(kind), "keys", len(entries), "err", err)
	}
}

// Invalidate drops the cached entries of kind for cells from both tiers and
// forgets their hotness. It returns the number of keys targeted.
func (s *Source) Invalidate(ctx context.Context, kind model.OverlayKind, cells model.Cells) (int, error) {
	sel := s.selector(kind)
	ks := make([]string, 0, len(cells))
	hk := make([]string, 0, len(cells))
	for _, c := range cells {
		k := keys.Key(kind, s.cfg.Scheme, c, sel)
		ks = append(ks, k)
		hk = append(hk, hotKey(kind, c))
		s.l1.Remove(k)
	}
	if s.hot != nil {
		s.hot.Reset(hk...)
	}

	var err error
	if s.store != nil && len(ks) > 0 {
		opCtx, cancel := context.WithTimeout(ctx, s.cfg.OpTimeout)
		err = s.store.Del(opCtx, ks...)
		cancel()
	}
	if err != nil {
		return len(ks), fmt.Errorf("invalidate %s: %w", kind, err)
	}
	return len(ks), nil
}

func (s *Source) ttl(kind model.OverlayKind, c model.CellID) time.Duration {
	ttl := s.cfg.TTL(kind)
	if s.hot != nil && s.cfg.HotThreshold > 0 && s.cfg.HotTTL > ttl &&
		s.hot.Score(hotKey(kind, c)) >= s.cfg.HotThreshold {
		return s.cfg.HotTTL
	}
	return ttl
}

func (s *Source) selector(kind model.OverlayKind) string {
	if sl, ok := s.inner.(Selector); ok {
		return sl.Selector(kind)
	}
	return ""
}

func (s *Source) getL1(k string) ([]model.Entity, bool) {
	e, ok := s.l1.Get(k)
	if !ok {
		return nil, false
	}
	if !s.now().Before(e.expires) {
		s.l1.Remove(k)
		return nil, false
	}
	return e.entities, true
}

func (s *Source) putL1(k string, es []model.Entity, ttl time.Duration) {
	s.l1.Add(k, l1Entry{entities: es, expires: s.now().Add(ttl)})
}

func hotKey(kind model.OverlayKind, c model.CellID) string {
	return string(kind) + "/" + string(c)
}
