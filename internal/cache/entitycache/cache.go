// Package entitycache holds fetched entities partitioned by overlay kind and
// cell, plus the record of which (cell, kind) pairs were already requested.
//
// Neither type is safe for concurrent use. Both are owned by the fetch
// coordinator and mutated on its goroutine only.
package entitycache

import (
	"sort"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

type Cache struct {
	parts  map[model.OverlayKind]map[model.CellID][]model.Entity
	counts map[model.OverlayKind]int
}

func New() *Cache {
	return &Cache{
		parts:  make(map[model.OverlayKind]map[model.CellID][]model.Entity),
		counts: make(map[model.OverlayKind]int),
	}
}

// Merge stores the entities of one (kind, cell) pair, replacing any previous
// entry. An empty slice still creates the entry.
func (c *Cache) Merge(kind model.OverlayKind, cell model.CellID, entities []model.Entity) {
	p := c.parts[kind]
	if p == nil {
		p = make(map[model.CellID][]model.Entity)
		c.parts[kind] = p
	}
	if prev, ok := p[cell]; ok {
		c.counts[kind] -= len(prev)
	}
	cp := make([]model.Entity, len(entities))
	copy(cp, entities)
	p[cell] = cp
	c.counts[kind] += len(cp)
}

// GetAll concatenates every cell entry of kind. Cells are visited in sorted
// order; entity order within a cell is preserved.
func (c *Cache) GetAll(kind model.OverlayKind) []model.Entity {
	p := c.parts[kind]
	if len(p) == 0 {
		return []model.Entity{}
	}
	cells := make([]string, 0, len(p))
	for id := range p {
		cells = append(cells, string(id))
	}
	sort.Strings(cells)

	out := make([]model.Entity, 0, c.counts[kind])
	for _, id := range cells {
		out = append(out, p[model.CellID(id)]...)
	}
	return out
}

func (c *Cache) Has(kind model.OverlayKind, cell model.CellID) bool {
	_, ok := c.parts[kind][cell]
	return ok
}

// CellCount returns how many cell entries exist for kind.
func (c *Cache) CellCount(kind model.OverlayKind) int { return len(c.parts[kind]) }

// Len returns how many entities are cached for kind.
func (c *Cache) Len(kind model.OverlayKind) int { return c.counts[kind] }
