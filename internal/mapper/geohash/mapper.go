// Package ghmapper derives fixed-precision geohash cells for bounds and points.
package ghmapper

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/mmcloughlin/geohash"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

const (
	alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

	DefaultMaxCells = 4096
)

var ErrTooManyCells = errors.New("bounds cover too many cells")

// Upper coordinate limits. The encoder rounds values within a few ulps of
// 90/180 up to the edge, which wraps to the opposite cell.
const (
	maxLat = 90 - 1e-9
	maxLng = 180 - 1e-9
)

type Mapper struct {
	precision uint
	maxCells  int
}

func New(precision int) (*Mapper, error) {
	if err := validatePrecision(precision); err != nil {
		return nil, err
	}
	return &Mapper{precision: uint(precision), maxCells: DefaultMaxCells}, nil
}

// WithMaxCells caps how many cells a single bounds query may produce.
func (m *Mapper) WithMaxCells(n int) *Mapper {
	if n > 0 {
		m.maxCells = n
	}
	return m
}

func (m *Mapper) Scheme() string { return fmt.Sprintf("geohash%d", m.precision) }

func (m *Mapper) Precision() int { return int(m.precision) }

func (m *Mapper) CellsForBounds(b orb.Bound) (model.Cells, error) {
	if err := validateBounds(b); err != nil {
		return nil, err
	}
	south, north := clampLat(b.Min.Lat()), clampLat(b.Max.Lat())
	if south > north {
		south, north = north, south
	}
	west, east := clampLng(b.Min.Lon()), clampLng(b.Max.Lon())

	spans := [][2]float64{{west, east}}
	if west > east {
		// crosses the antimeridian
		spans = [][2]float64{{west, maxLng}, {-180, east}}
	}

	seen := make(map[string]struct{})
	for _, sp := range spans {
		if err := m.cover(south, north, sp[0], sp[1], seen); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)

	cells := make(model.Cells, len(out))
	for i, h := range out {
		cells[i] = model.CellID(h)
	}
	return cells, nil
}

// cover walks the geohash grid row by row from the south-west cell, adding
// every cell whose box touches the span.
func (m *Mapper) cover(south, north, west, east float64, seen map[string]struct{}) error {
	sw := geohash.BoundingBox(geohash.EncodeWithPrecision(south, west, m.precision))
	h := sw.MaxLat - sw.MinLat
	w := sw.MaxLng - sw.MinLng
	if h <= 0 || w <= 0 {
		return fmt.Errorf("degenerate geohash cell at %.6f,%.6f", south, west)
	}

	rows := int(math.Floor((north-sw.MinLat)/h)) + 1
	cols := int(math.Floor((east-sw.MinLng)/w)) + 1
	if rows*cols+len(seen) > m.maxCells {
		return fmt.Errorf("%w: ~%d cells at precision %d (max %d)", ErrTooManyCells, rows*cols, m.precision, m.maxCells)
	}

	for lat := sw.MinLat + h/2; lat-h/2 <= north && lat < 90; lat += h {
		for lng := sw.MinLng + w/2; lng-w/2 <= east && lng < 180; lng += w {
			seen[geohash.EncodeWithPrecision(lat, lng, m.precision)] = struct{}{}
		}
	}
	return nil
}

func (m *Mapper) CellFor(p orb.Point) (model.CellID, error) {
	lat, lng := p.Lat(), p.Lon()
	if !finite(lat) || !finite(lng) {
		return "", fmt.Errorf("invalid point %v", p)
	}
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return "", fmt.Errorf("point %v out of range", p)
	}
	return model.CellID(geohash.EncodeWithPrecision(clampLat(lat), clampLng(lng), m.precision)), nil
}

func (m *Mapper) BoundsOf(cell model.CellID) (orb.Bound, error) {
	if !m.Valid(cell) {
		return orb.Bound{}, fmt.Errorf("invalid geohash cell %q", cell)
	}
	box := geohash.BoundingBox(string(cell))
	return orb.Bound{
		Min: orb.Point{box.MinLng, box.MinLat},
		Max: orb.Point{box.MaxLng, box.MaxLat},
	}, nil
}

// Valid reports whether cell is a geohash of this mapper's precision.
func (m *Mapper) Valid(cell model.CellID) bool {
	s := string(cell)
	if len(s) != int(m.precision) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(alphabet, s[i]) < 0 {
			return false
		}
	}
	return true
}

// --- helpers ---

func validatePrecision(p int) error {
	if p < 1 || p > 12 {
		return fmt.Errorf("invalid geohash precision %d (must be 1..12)", p)
	}
	return nil
}

func validateBounds(b orb.Bound) error {
	for _, v := range []float64{b.Min.Lat(), b.Min.Lon(), b.Max.Lat(), b.Max.Lon()} {
		if !finite(v) {
			return fmt.Errorf("bounds contain non-finite coordinate: %v", b)
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func clampLat(v float64) float64 { return math.Max(-90, math.Min(maxLat, v)) }
func clampLng(v float64) float64 { return math.Max(-180, math.Min(maxLng, v)) }
