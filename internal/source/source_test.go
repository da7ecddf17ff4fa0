package source

import (
	"context"
	"testing"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

func TestPartitionByCell_EmptyEntriesAndDrops(t *testing.T) {
	cells := model.Cells{"u33dc0", "u33dc1"}
	es := []model.Entity{
		{Kind: model.KindStations, ID: 1, Cell: "u33dc0"},
		{Kind: model.KindStations, ID: 2, Cell: "u33dc0"},
		{Kind: model.KindStations, ID: 3, Cell: "zzzzzz"},
		{Kind: model.KindStations, ID: 4},
	}
	by, dropped := PartitionByCell(cells, es)
	if dropped != 2 {
		t.Fatalf("dropped=%d want 2", dropped)
	}
	if len(by["u33dc0"]) != 2 || by["u33dc0"][0].ID != 1 || by["u33dc0"][1].ID != 2 {
		t.Fatalf("u33dc0=%v", by["u33dc0"])
	}
	got, ok := by["u33dc1"]
	if !ok || got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil entry for u33dc1, got %v (ok=%v)", got, ok)
	}
}

func TestFunc_Adapter(t *testing.T) {
	var gotKind model.OverlayKind
	var ds DataSource = Func(func(_ context.Context, k model.OverlayKind, c model.Cells) ([]model.Entity, error) {
		gotKind = k
		return []model.Entity{{Kind: k, ID: 1, Cell: c[0]}}, nil
	})
	es, err := ds.FetchEntities(context.Background(), model.KindToilets, model.Cells{"u33dc0"})
	if err != nil || len(es) != 1 || gotKind != model.KindToilets {
		t.Fatalf("es=%v err=%v kind=%s", es, err, gotKind)
	}
}
