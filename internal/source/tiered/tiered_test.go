package tiered

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/cache/keys"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/cache/redisstore"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/hotness/expdecay"
)

type countingSource struct {
	mu    sync.Mutex
	calls []model.Cells
	err   error
	empty map[model.CellID]bool
}

func (c *countingSource) FetchEntities(_ context.Context, kind model.OverlayKind, cells model.Cells) ([]model.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, append(model.Cells(nil), cells...))
	if c.err != nil {
		return nil, c.err
	}
	var out []model.Entity
	for i, cell := range cells {
		if c.empty[cell] {
			continue
		}
		out = append(out, model.Entity{Kind: kind, ID: int64(100 + i), Cell: cell, Attrs: map[string]string{"name": string(cell)}})
	}
	out = append(out, model.Entity{Kind: kind, ID: 999, Cell: "zzzzzz"})
	return out, nil
}

func (c *countingSource) Selector(kind model.OverlayKind) string { return "sel-" + string(kind) }

func (c *countingSource) numCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func newStore(t *testing.T) (*miniredis.Miniredis, *redisstore.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rc, err := redisstore.New(context.Background(), redisstore.Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	return mr, rc
}

func newTiered(t *testing.T, inner *countingSource, rc *redisstore.Client, cfg Config) *Source {
	t.Helper()
	if cfg.Scheme == "" {
		cfg.Scheme = "geohash6"
	}
	var s *Source
	var err error
	if rc == nil {
		s, err = New(inner, nil, expdecay.New(time.Minute), cfg, nil)
	} else {
		s, err = New(inner, rc, expdecay.New(time.Minute), cfg, nil)
	}
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

var twoCells = model.Cells{"u33dc0", "u33dc1"}

func TestFetch_MissThenL1Hit_DropsStrays(t *testing.T) {
	inner := &countingSource{}
	s := newTiered(t, inner, nil, Config{})
	ctx := context.Background()

	es, err := s.FetchEntities(ctx, model.KindToilets, twoCells)
	if err != nil || len(es) != 2 {
		t.Fatalf("first fetch: %v (%d entities)", err, len(es))
	}
	for _, e := range es {
		if e.Cell == "zzzzzz" {
			t.Fatalf("stray entity returned")
		}
	}

	es, err = s.FetchEntities(ctx, model.KindToilets, twoCells)
	if err != nil || len(es) != 2 {
		t.Fatalf("second fetch: %v (%d entities)", err, len(es))
	}
	if n := inner.numCalls(); n != 1 {
		t.Fatalf("inner calls=%d want 1", n)
	}
}

func TestFetch_OnlyMissingCellsGoUpstream(t *testing.T) {
	inner := &countingSource{}
	s := newTiered(t, inner, nil, Config{})
	ctx := context.Background()

	if _, err := s.FetchEntities(ctx, model.KindStations, model.Cells{"u33dc0"}); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if _, err := s.FetchEntities(ctx, model.KindStations, twoCells); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(inner.calls) != 2 || len(inner.calls[1]) != 1 || inner.calls[1][0] != "u33dc1" {
		t.Fatalf("calls=%v want second call for u33dc1 only", inner.calls)
	}
}

func TestFetch_EmptyCellsAreCached(t *testing.T) {
	inner := &countingSource{empty: map[model.CellID]bool{"u33dc0": true, "u33dc1": true}}
	s := newTiered(t, inner, nil, Config{})
	ctx := context.Background()

	for range 2 {
		es, err := s.FetchEntities(ctx, model.KindPlaygrounds, twoCells)
		if err != nil || len(es) != 0 {
			t.Fatalf("fetch: %v %v", es, err)
		}
	}
	if n := inner.numCalls(); n != 1 {
		t.Fatalf("inner calls=%d want 1", n)
	}
}

func TestFetch_SharedStoreServesSecondInstance(t *testing.T) {
	_, rc := newStore(t)
	ctx := context.Background()

	a := &countingSource{}
	if _, err := newTiered(t, a, rc, Config{}).FetchEntities(ctx, model.KindToilets, twoCells); err != nil {
		t.Fatalf("fill: %v", err)
	}

	b := &countingSource{}
	es, err := newTiered(t, b, rc, Config{}).FetchEntities(ctx, model.KindToilets, twoCells)
	if err != nil || len(es) != 2 {
		t.Fatalf("second instance: %v (%d entities)", err, len(es))
	}
	if b.numCalls() != 0 {
		t.Fatalf("second instance went upstream")
	}
	if es[0].Attrs["name"] == "" {
		t.Fatalf("attributes lost through the store: %+v", es[0])
	}
}

func TestFetch_InnerErrorIsReturnedAndNotCached(t *testing.T) {
	boom := errors.New("boom")
	inner := &countingSource{err: boom}
	s := newTiered(t, inner, nil, Config{})
	ctx := context.Background()

	if _, err := s.FetchEntities(ctx, model.KindToilets, twoCells); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	inner.err = nil
	if _, err := s.FetchEntities(ctx, model.KindToilets, twoCells); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if n := inner.numCalls(); n != 2 {
		t.Fatalf("inner calls=%d want 2", n)
	}
}

func TestFetch_StoreDownDegradesToInner(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rc, err := redisstore.New(context.Background(), redisstore.Config{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("redisstore: %v", err)
	}
	t.Cleanup(func() { _ = rc.Close() })
	inner := &countingSource{}
	s := newTiered(t, inner, rc, Config{OpTimeout: 50 * time.Millisecond})
	mr.Close()

	es, err := s.FetchEntities(context.Background(), model.KindStations, twoCells)
	if err != nil || len(es) != 2 {
		t.Fatalf("fetch with store down: %v (%d entities)", err, len(es))
	}
}

func TestFetch_L1Expiry(t *testing.T) {
	inner := &countingSource{}
	s := newTiered(t, inner, nil, Config{TTL: func(model.OverlayKind) time.Duration { return time.Minute }})
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = s.FetchEntities(ctx, model.KindStations, twoCells)
	now = now.Add(2 * time.Minute)
	_, _ = s.FetchEntities(ctx, model.KindStations, twoCells)
	if n := inner.numCalls(); n != 2 {
		t.Fatalf("inner calls=%d want 2 after expiry", n)
	}
}

func TestInvalidate_DropsBothTiers(t *testing.T) {
	mr, rc := newStore(t)
	inner := &countingSource{}
	s := newTiered(t, inner, rc, Config{})
	ctx := context.Background()

	_, _ = s.FetchEntities(ctx, model.KindToilets, twoCells)
	k := keys.Key(model.KindToilets, "geohash6", "u33dc0", "sel-toilets")
	if !mr.Exists(k) {
		t.Fatalf("expected %s in store", k)
	}

	n, err := s.Invalidate(ctx, model.KindToilets, model.Cells{"u33dc0"})
	if err != nil || n != 1 {
		t.Fatalf("Invalidate: n=%d err=%v", n, err)
	}
	if mr.Exists(k) {
		t.Fatalf("key survived invalidation")
	}

	_, _ = s.FetchEntities(ctx, model.KindToilets, twoCells)
	last := inner.calls[len(inner.calls)-1]
	if len(last) != 1 || last[0] != "u33dc0" {
		t.Fatalf("refetch=%v want only u33dc0", last)
	}
}

func TestHotCellsGetHotTTL(t *testing.T) {
	// scores decay between Inc and Score, so thresholds sit just under the hit count
	cases := []struct {
		threshold float64
		want      time.Duration
	}{
		{threshold: 0.9, want: time.Hour},
		{threshold: 1.5, want: time.Minute},
	}
	for _, tc := range cases {
		mr, rc := newStore(t)
		s := newTiered(t, &countingSource{}, rc, Config{
			TTL:          func(model.OverlayKind) time.Duration { return time.Minute },
			HotTTL:       time.Hour,
			HotThreshold: tc.threshold,
		})
		_, _ = s.FetchEntities(context.Background(), model.KindStations, model.Cells{"u33dc0"})

		k := keys.Key(model.KindStations, "geohash6", "u33dc0", "sel-stations")
		if got := mr.TTL(k); got != tc.want {
			t.Fatalf("threshold=%v ttl=%s want %s", tc.threshold, got, tc.want)
		}
	}
}

func TestWrite_MixedHotAndColdCellsKeepTheirOwnTTL(t *testing.T) {
	mr, rc := newStore(t)
	s := newTiered(t, &countingSource{}, rc, Config{
		TTL:          func(model.OverlayKind) time.Duration { return time.Minute },
		HotTTL:       time.Hour,
		HotThreshold: 1.5,
	})
	s.hot.Inc(hotKey(model.KindToilets, "u33dc0"))
	s.hot.Inc(hotKey(model.KindToilets, "u33dc0"))

	if _, err := s.FetchEntities(context.Background(), model.KindToilets, twoCells); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	hot := keys.Key(model.KindToilets, "geohash6", "u33dc0", "sel-toilets")
	cold := keys.Key(model.KindToilets, "geohash6", "u33dc1", "sel-toilets")
	if got := mr.TTL(hot); got != time.Hour {
		t.Fatalf("hot ttl=%s want 1h", got)
	}
	if got := mr.TTL(cold); got != time.Minute {
		t.Fatalf("cold ttl=%s want 1m", got)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, nil, nil, Config{Scheme: "geohash6"}, nil); err == nil {
		t.Fatalf("expected error for nil inner")
	}
	if _, err := New(&countingSource{}, nil, nil, Config{}, nil); err == nil {
		t.Fatalf("expected error for empty scheme")
	}
}
