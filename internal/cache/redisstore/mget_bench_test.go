package redisstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/cache"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
	ghmapper "github.com/mohammed-shakir/poi-viewport-cache/internal/mapper/geohash"
)

// viewportEntries covers a city-sized bound at precision 6 and stores a few
// toilets per cell, the shape a busy viewport leaves in the tier.
func viewportEntries(b *testing.B, maxCells int) []cache.Entry {
	b.Helper()
	m, err := ghmapper.New(6)
	if err != nil {
		b.Fatalf("mapper: %v", err)
	}
	cells, err := m.CellsForBounds(model.NewBounds(59.20, 17.80, 59.45, 18.30))
	if err != nil {
		b.Fatalf("cells: %v", err)
	}
	if len(cells) > maxCells {
		cells = cells[:maxCells]
	}

	out := make([]cache.Entry, len(cells))
	for i, c := range cells {
		cb, _ := m.BoundsOf(c)
		es := make([]model.Entity, 3)
		for j := range es {
			es[j] = model.Entity{
				Kind:     model.KindToilets,
				ID:       int64(i*10 + j),
				Location: cb.Center(),
				Cell:     c,
				Attrs:    map[string]string{"name": "WC", "fee": "no"},
			}
		}
		raw, err := json.Marshal(es)
		if err != nil {
			b.Fatalf("marshal: %v", err)
		}
		out[i] = cache.Entry{Key: cellKey(model.KindToilets, c), Value: raw, TTL: time.Hour}
	}
	return out
}

func prep(b *testing.B, n int) (*Client, []string, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)

	rc, err := New(ctx, Config{Addr: mr.Addr()})
	if err != nil {
		b.Fatalf("New: %v", err)
	}
	entries := viewportEntries(b, n)
	if err := rc.Put(ctx, entries); err != nil {
		b.Fatalf("Put: %v", err)
	}
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.Key
	}

	cleanup := func() {
		cancel()
		_ = rc.Close()
		mr.Close()
	}
	return rc, keys, cleanup
}

func benchMGet(b *testing.B, n int) {
	rc, keys, cleanup := prep(b, n)
	defer cleanup()

	ctx := context.Background()
	b.ReportAllocs()

	for b.Loop() {
		if _, err := rc.MGet(ctx, keys); err != nil {
			b.Fatal(err)
		}
	}
}

func benchGetLoop(b *testing.B, n int) {
	rc, keys, cleanup := prep(b, n)
	defer cleanup()

	ctx := context.Background()
	b.ReportAllocs()

	for b.Loop() {
		for _, k := range keys {
			if _, err := rc.rdb.Get(ctx, k).Bytes(); err != nil {
				b.Fatal(err)
			}
		}
	}
}

func benchPut(b *testing.B, n int) {
	rc, _, cleanup := prep(b, 0)
	defer cleanup()

	entries := viewportEntries(b, n)
	ctx := context.Background()
	b.ReportAllocs()

	for b.Loop() {
		if err := rc.Put(ctx, entries); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkViewportReads_64(b *testing.B) {
	b.Run("MGET", func(b *testing.B) { benchMGet(b, 64) })
	b.Run("GETx64", func(b *testing.B) { benchGetLoop(b, 64) })
}

func BenchmarkViewportReads_256(b *testing.B) {
	b.Run("MGET", func(b *testing.B) { benchMGet(b, 256) })
	b.Run("GETx256", func(b *testing.B) { benchGetLoop(b, 256) })
}

func BenchmarkViewportWrites(b *testing.B) {
	b.Run("Put64", func(b *testing.B) { benchPut(b, 64) })
	b.Run("Put256", func(b *testing.B) { benchPut(b, 256) })
}
