package entitycache

import "github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"

// Requested records the overlay kinds already requested per cell, whether the
// fetch succeeded, came back empty, or failed.
type Requested struct {
	m     map[model.CellID]model.OverlaySet
	pairs int
}

func NewRequested() *Requested {
	return &Requested{m: make(map[model.CellID]model.OverlaySet)}
}

// Missing returns the kinds of want not yet requested for cell.
func (r *Requested) Missing(cell model.CellID, want model.OverlaySet) model.OverlaySet {
	return want.Minus(r.m[cell])
}

func (r *Requested) Mark(cell model.CellID, kinds model.OverlaySet) {
	prev := r.m[cell]
	next := prev | kinds
	r.pairs += next.Len() - prev.Len()
	r.m[cell] = next
}

func (r *Requested) Has(cell model.CellID, kind model.OverlayKind) bool {
	return r.m[cell].Has(kind)
}

// Pairs returns the number of distinct (cell, kind) pairs marked.
func (r *Requested) Pairs() int { return r.pairs }
