// Package projector turns the entity cache and the active overlays into the
// snapshot handed to subscribers.
package projector

import (
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

// Reader is the read surface of the entity cache.
type Reader interface {
	GetAll(kind model.OverlayKind) []model.Entity
	Len(kind model.OverlayKind) int
}

// Projector remembers the last emitted snapshot. A new projection counts as
// unchanged when it covers the same kinds with the same per-kind counts; a
// change of membership at equal counts is not detected.
type Projector struct {
	last     model.Snapshot
	overlays model.OverlaySet
	counts   map[model.OverlayKind]int
}

func New() *Projector {
	return &Projector{last: model.Snapshot{}, counts: map[model.OverlayKind]int{}}
}

// Project returns the snapshot for overlays and whether it differs from the
// previous emission. The full snapshot is only built when it differs.
func (p *Projector) Project(r Reader, overlays model.OverlaySet) (model.Snapshot, bool) {
	counts := make(map[model.OverlayKind]int, overlays.Len())
	for _, k := range overlays.Kinds() {
		counts[k] = r.Len(k)
	}
	if overlays == p.overlays && sameCounts(counts, p.counts) {
		return p.last, false
	}

	snap := make(model.Snapshot, overlays.Len())
	for _, k := range overlays.Kinds() {
		snap[k] = r.GetAll(k)
	}
	p.last, p.overlays, p.counts = snap, overlays, counts
	return snap, true
}

// Last returns the most recently emitted snapshot (empty before the first).
func (p *Projector) Last() model.Snapshot { return p.last }

func sameCounts(a, b map[model.OverlayKind]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, n := range a {
		if m, ok := b[k]; !ok || m != n {
			return false
		}
	}
	return true
}
