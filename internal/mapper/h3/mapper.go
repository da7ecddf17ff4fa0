package h3mapper

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
	h3 "github.com/uber/h3-go/v4"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

const DefaultMaxCells = 4096

var ErrTooManyCells = errors.New("bounds cover too many cells")

type Mapper struct {
	res      int
	maxCells int
}

func New(res int) (*Mapper, error) {
	if err := validateRes(res); err != nil {
		return nil, err
	}
	return &Mapper{res: res, maxCells: DefaultMaxCells}, nil
}

func (m *Mapper) WithMaxCells(n int) *Mapper {
	if n > 0 {
		m.maxCells = n
	}
	return m
}

func (m *Mapper) Scheme() string { return fmt.Sprintf("h3r%d", m.res) }

// CellsForBounds polyfills the rectangle, then adds neighbours of every seed
// whose boundary box touches the rectangle. Polyfill alone only returns cells
// whose centre is inside, which would leave gaps along the edges.
func (m *Mapper) CellsForBounds(b orb.Bound) (model.Cells, error) {
	for _, v := range []float64{b.Min.Lat(), b.Min.Lon(), b.Max.Lat(), b.Max.Lon()} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("bounds contain non-finite coordinate: %v", b)
		}
	}
	south, north := clamp(b.Min.Lat(), -90, 90), clamp(b.Max.Lat(), -90, 90)
	if south > north {
		south, north = north, south
	}
	west, east := clamp(b.Min.Lon(), -180, 180), clamp(b.Max.Lon(), -180, 180)

	spans := []orb.Bound{{Min: orb.Point{west, south}, Max: orb.Point{east, north}}}
	if west > east {
		spans = []orb.Bound{
			{Min: orb.Point{west, south}, Max: orb.Point{180, north}},
			{Min: orb.Point{-180, south}, Max: orb.Point{east, north}},
		}
	}

	seen := make(map[h3.Cell]struct{})
	for _, sp := range spans {
		if err := m.cover(sp, seen); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c.String())
	}
	sort.Strings(out)
	cells := make(model.Cells, len(out))
	for i, s := range out {
		cells[i] = model.CellID(s)
	}
	return cells, nil
}

func (m *Mapper) cover(sp orb.Bound, seen map[h3.Cell]struct{}) error {
	// Build a rectangular loop. v4 wants degrees.
	outer := h3.GeoLoop{
		{Lat: sp.Min.Lat(), Lng: sp.Min.Lon()},
		{Lat: sp.Min.Lat(), Lng: sp.Max.Lon()},
		{Lat: sp.Max.Lat(), Lng: sp.Max.Lon()},
		{Lat: sp.Max.Lat(), Lng: sp.Min.Lon()},
	}
	var (
		seeds []h3.Cell
		err   error
	)
	// polyfill rejects zero-area loops, so points and lines are sampled instead
	if sp.Min.Lat() != sp.Max.Lat() && sp.Min.Lon() != sp.Max.Lon() {
		seeds, err = h3.PolygonToCells(h3.GeoPolygon{GeoLoop: outer}, m.res)
		if err != nil {
			return fmt.Errorf("h3 polyfill: %w", err)
		}
	} else if seeds, err = m.sampleLine(sp); err != nil {
		return err
	}
	// corners and centre catch bounds smaller than a single cell
	for _, p := range []orb.Point{sp.Min, sp.Max, {sp.Min.Lon(), sp.Max.Lat()}, {sp.Max.Lon(), sp.Min.Lat()}, sp.Center()} {
		c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat(), Lng: p.Lon()}, m.res)
		if err != nil {
			return fmt.Errorf("h3 cell for %v: %w", p, err)
		}
		seeds = append(seeds, c)
	}
	if len(seeds)*7 > m.maxCells {
		return fmt.Errorf("%w: ~%d cells at res %d (max %d)", ErrTooManyCells, len(seeds), m.res, m.maxCells)
	}

	for _, s := range seeds {
		ring, err := h3.GridDisk(s, 1)
		if err != nil {
			return fmt.Errorf("h3 grid disk: %w", err)
		}
		for _, c := range ring {
			if _, ok := seen[c]; ok {
				continue
			}
			cb, err := boundsOfCell(c)
			if err != nil {
				return err
			}
			if cb.Intersects(sp) {
				seen[c] = struct{}{}
			}
		}
	}
	return nil
}

// sampleLine seeds the cells along a zero-width or zero-height span.
func (m *Mapper) sampleLine(sp orb.Bound) ([]h3.Cell, error) {
	first, err := h3.LatLngToCell(h3.LatLng{Lat: sp.Min.Lat(), Lng: sp.Min.Lon()}, m.res)
	if err != nil {
		return nil, fmt.Errorf("h3 cell for %v: %w", sp.Min, err)
	}
	length := math.Max(sp.Max.Lat()-sp.Min.Lat(), sp.Max.Lon()-sp.Min.Lon())
	if length == 0 {
		return []h3.Cell{first}, nil
	}
	cb, err := boundsOfCell(first)
	if err != nil {
		return nil, err
	}
	step := math.Min(cb.Max.Lat()-cb.Min.Lat(), cb.Max.Lon()-cb.Min.Lon()) / 2
	n := int(math.Ceil(length / step))
	if n > m.maxCells {
		return nil, fmt.Errorf("%w: ~%d cells at res %d (max %d)", ErrTooManyCells, n, m.res, m.maxCells)
	}
	seeds := make([]h3.Cell, 0, n+1)
	for i := 0; i <= n; i++ {
		f := float64(i) / float64(n)
		lat := sp.Min.Lat() + f*(sp.Max.Lat()-sp.Min.Lat())
		lng := sp.Min.Lon() + f*(sp.Max.Lon()-sp.Min.Lon())
		c, err := h3.LatLngToCell(h3.LatLng{Lat: lat, Lng: lng}, m.res)
		if err != nil {
			return nil, fmt.Errorf("h3 cell for %.6f,%.6f: %w", lat, lng, err)
		}
		seeds = append(seeds, c)
	}
	return seeds, nil
}

func (m *Mapper) CellFor(p orb.Point) (model.CellID, error) {
	if p.Lat() < -90 || p.Lat() > 90 || p.Lon() < -180 || p.Lon() > 180 {
		return "", fmt.Errorf("point %v out of range", p)
	}
	c, err := h3.LatLngToCell(h3.LatLng{Lat: p.Lat(), Lng: p.Lon()}, m.res)
	if err != nil {
		return "", fmt.Errorf("h3 cell for %v: %w", p, err)
	}
	return model.CellID(c.String()), nil
}

func (m *Mapper) BoundsOf(cell model.CellID) (orb.Bound, error) {
	c, err := parseCell(cell)
	if err != nil {
		return orb.Bound{}, err
	}
	return boundsOfCell(c)
}

func (m *Mapper) Valid(cell model.CellID) bool {
	c, err := parseCell(cell)
	return err == nil && c.Resolution() == m.res
}

// --- helpers ---

func validateRes(res int) error {
	if res < 0 || res > 15 {
		return fmt.Errorf("invalid H3 resolution %d (must be 0..15)", res)
	}
	return nil
}

func parseCell(cell model.CellID) (h3.Cell, error) {
	var c h3.Cell
	if err := c.UnmarshalText([]byte(cell)); err != nil {
		return 0, fmt.Errorf("parse cell: %w", err)
	}
	if !c.IsValid() {
		return 0, fmt.Errorf("invalid h3 cell %q", cell)
	}
	return c, nil
}

func boundsOfCell(c h3.Cell) (orb.Bound, error) {
	bnd, err := c.Boundary()
	if err != nil {
		return orb.Bound{}, fmt.Errorf("boundary: %w", err)
	}
	if len(bnd) < 3 {
		return orb.Bound{}, fmt.Errorf("degenerate boundary for %s", c)
	}
	out := orb.Bound{Min: orb.Point{bnd[0].Lng, bnd[0].Lat}, Max: orb.Point{bnd[0].Lng, bnd[0].Lat}}
	for _, ll := range bnd[1:] {
		out = out.Extend(orb.Point{ll.Lng, ll.Lat})
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }
