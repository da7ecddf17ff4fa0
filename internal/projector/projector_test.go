package projector

import (
	"testing"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/cache/entitycache"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

func entities(kind model.OverlayKind, cell model.CellID, ids ...int64) []model.Entity {
	out := make([]model.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.Entity{Kind: kind, ID: id, Cell: cell})
	}
	return out
}

func TestProject_EmptyInitially(t *testing.T) {
	p := New()
	c := entitycache.New()
	if snap, changed := p.Project(c, 0); changed || len(snap) != 0 {
		t.Fatalf("empty projection must be unchanged: %v %v", snap, changed)
	}
	if len(p.Last()) != 0 {
		t.Fatalf("Last must start empty")
	}
}

func TestProject_OnlyActiveOverlays_AndSuppression(t *testing.T) {
	p := New()
	c := entitycache.New()
	c.Merge(model.KindStations, "u33dc0", entities(model.KindStations, "u33dc0", 1, 2))
	c.Merge(model.KindToilets, "u33dc0", entities(model.KindToilets, "u33dc0", 3))

	stations := model.NewOverlaySet(model.KindStations)
	snap, changed := p.Project(c, stations)
	if !changed || len(snap) != 1 || len(snap[model.KindStations]) != 2 {
		t.Fatalf("snap=%v changed=%v", snap, changed)
	}
	if _, ok := snap[model.KindToilets]; ok {
		t.Fatalf("inactive overlay leaked into snapshot")
	}

	if _, changed := p.Project(c, stations); changed {
		t.Fatalf("unchanged projection must be suppressed")
	}

	both := stations.With(model.KindToilets)
	snap, changed = p.Project(c, both)
	if !changed || len(snap[model.KindToilets]) != 1 {
		t.Fatalf("toggle must emit cached toilets immediately: %v", snap)
	}

	c.Merge(model.KindStations, "u33dc1", entities(model.KindStations, "u33dc1", 4))
	snap, changed = p.Project(c, both)
	if !changed || len(snap[model.KindStations]) != 3 {
		t.Fatalf("count change must emit: %v", snap)
	}
}

func TestProject_ActiveKindWithoutDataStillListed(t *testing.T) {
	p := New()
	c := entitycache.New()
	snap, changed := p.Project(c, model.NewOverlaySet(model.KindPlaygrounds))
	if !changed {
		t.Fatalf("new overlay set must emit")
	}
	es, ok := snap[model.KindPlaygrounds]
	if !ok || len(es) != 0 {
		t.Fatalf("expected empty playgrounds entry, got %v", snap)
	}
}

// Same count with different membership is not detected by the count check.
func TestProject_SameCountDifferentMembershipIsSuppressed(t *testing.T) {
	p := New()
	c := entitycache.New()
	set := model.NewOverlaySet(model.KindStations)

	c.Merge(model.KindStations, "u33dc0", entities(model.KindStations, "u33dc0", 1))
	if _, changed := p.Project(c, set); !changed {
		t.Fatalf("first projection must emit")
	}
	c.Merge(model.KindStations, "u33dc0", entities(model.KindStations, "u33dc0", 99))
	snap, changed := p.Project(c, set)
	if changed {
		t.Fatalf("count-based check unexpectedly detected membership change")
	}
	if snap[model.KindStations][0].ID != 1 {
		t.Fatalf("suppressed projection must return previous snapshot")
	}
}
