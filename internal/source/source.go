// Package source defines the capability the engine uses to load entities for
// a batch of cells.
package source

import (
	"context"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

// DataSource fetches entities of one kind for a batch of cells.
//
// Implementations must return an error on transport or server failure rather
// than partial results. Entities outside the requested cells are tolerated;
// callers filter them by Cell before use.
type DataSource interface {
	FetchEntities(ctx context.Context, kind model.OverlayKind, cells model.Cells) ([]model.Entity, error)
}

// Func adapts a plain function to DataSource.
type Func func(ctx context.Context, kind model.OverlayKind, cells model.Cells) ([]model.Entity, error)

func (f Func) FetchEntities(ctx context.Context, kind model.OverlayKind, cells model.Cells) ([]model.Entity, error) {
	return f(ctx, kind, cells)
}

// PartitionByCell groups entities under the requested cells. Every requested
// cell gets an entry, possibly empty; entities whose cell was not requested are
// counted in dropped.
func PartitionByCell(cells model.Cells, entities []model.Entity) (byCell map[model.CellID][]model.Entity, dropped int) {
	byCell = make(map[model.CellID][]model.Entity, len(cells))
	for _, c := range cells {
		byCell[c] = []model.Entity{}
	}
	for _, e := range entities {
		bucket, ok := byCell[e.Cell]
		if !ok {
			dropped++
			continue
		}
		byCell[e.Cell] = append(bucket, e)
	}
	return byCell, dropped
}
