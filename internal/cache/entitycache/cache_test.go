package entitycache

import (
	"reflect"
	"testing"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

func ent(kind model.OverlayKind, id int64, cell model.CellID) model.Entity {
	return model.Entity{Kind: kind, ID: id, Location: orb.Point{13.4, 52.5}, Cell: cell}
}

func TestMerge_IdempotentGetAll(t *testing.T) {
	c := New()
	es := []model.Entity{ent(model.KindStations, 1, "u33dc0"), ent(model.KindStations, 2, "u33dc0")}

	c.Merge(model.KindStations, "u33dc0", es)
	once := c.GetAll(model.KindStations)

	c.Merge(model.KindStations, "u33dc0", es)
	twice := c.GetAll(model.KindStations)

	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge twice changed GetAll: %v vs %v", once, twice)
	}
	if c.Len(model.KindStations) != 2 || c.CellCount(model.KindStations) != 1 {
		t.Fatalf("len=%d cells=%d want 2/1", c.Len(model.KindStations), c.CellCount(model.KindStations))
	}
}

func TestMerge_EmptyEntryIsRecorded(t *testing.T) {
	c := New()
	c.Merge(model.KindToilets, "u33dc1", nil)
	if !c.Has(model.KindToilets, "u33dc1") {
		t.Fatalf("expected empty entry to exist")
	}
	if got := c.GetAll(model.KindToilets); len(got) != 0 {
		t.Fatalf("GetAll=%v want empty", got)
	}
	if c.Has(model.KindStations, "u33dc1") {
		t.Fatalf("kinds must be partitioned")
	}
}

func TestGetAll_StableOrderWithinCell_AndCopies(t *testing.T) {
	c := New()
	a := []model.Entity{ent(model.KindStations, 3, "u33dc2"), ent(model.KindStations, 1, "u33dc2")}
	b := []model.Entity{ent(model.KindStations, 9, "u33dc1")}
	c.Merge(model.KindStations, "u33dc2", a)
	c.Merge(model.KindStations, "u33dc1", b)

	got := c.GetAll(model.KindStations)
	ids := []int64{}
	for _, e := range got {
		ids = append(ids, e.ID)
	}
	if !reflect.DeepEqual(ids, []int64{9, 3, 1}) {
		t.Fatalf("ids=%v want [9 3 1]", ids)
	}

	// callers cannot mutate cached entries
	a[0].ID = 100
	got[0].ID = 200
	again := c.GetAll(model.KindStations)
	if again[0].ID != 9 || again[1].ID != 3 {
		t.Fatalf("cache entries were mutated through caller slices: %v", again)
	}
}

func TestMerge_OverwriteAdjustsCounts(t *testing.T) {
	c := New()
	c.Merge(model.KindPlaygrounds, "u33dc0", []model.Entity{ent(model.KindPlaygrounds, 1, "u33dc0")})
	c.Merge(model.KindPlaygrounds, "u33dc0", []model.Entity{
		ent(model.KindPlaygrounds, 1, "u33dc0"), ent(model.KindPlaygrounds, 2, "u33dc0"),
	})
	if c.Len(model.KindPlaygrounds) != 2 {
		t.Fatalf("len=%d want 2", c.Len(model.KindPlaygrounds))
	}
	if c.CellCount(model.KindPlaygrounds) != 1 {
		t.Fatalf("cells=%d want 1", c.CellCount(model.KindPlaygrounds))
	}
}

func TestRequested_MissingAndMark(t *testing.T) {
	r := NewRequested()
	want := model.NewOverlaySet(model.KindStations, model.KindToilets)

	if got := r.Missing("u33dc0", want); got != want {
		t.Fatalf("missing=%s want %s", got, want)
	}
	r.Mark("u33dc0", model.NewOverlaySet(model.KindStations))
	if got := r.Missing("u33dc0", want); got != model.NewOverlaySet(model.KindToilets) {
		t.Fatalf("missing=%s want {toilets}", got)
	}
	r.Mark("u33dc0", want)
	if !r.Missing("u33dc0", want).Empty() {
		t.Fatalf("expected nothing missing")
	}
	if r.Pairs() != 2 {
		t.Fatalf("pairs=%d want 2", r.Pairs())
	}
	if !r.Has("u33dc0", model.KindToilets) || r.Has("u33dc1", model.KindToilets) {
		t.Fatalf("Has mismatch")
	}
}
