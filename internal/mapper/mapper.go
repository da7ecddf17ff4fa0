// Package mapper converts between geographic coordinates and spatial cells.
package mapper

import (
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

// Interface derives the cells covering a viewport and assigns points to cells.
// Precision is fixed per instance.
type Interface interface {
	CellsForBounds(b orb.Bound) (model.Cells, error)
	CellFor(p orb.Point) (model.CellID, error)
	BoundsOf(cell model.CellID) (orb.Bound, error)
	Valid(cell model.CellID) bool
	Scheme() string
}
