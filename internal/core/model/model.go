// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/paulmach/orb"
)

// OverlayKind tags one category of point-of-interest data.
type OverlayKind string

const (
	KindStations        OverlayKind = "stations"
	KindToilets         OverlayKind = "toilets"
	KindBicycleParkings OverlayKind = "bicycle-parkings"
	KindPlaygrounds     OverlayKind = "playgrounds"
)

// allKinds defines the bit position of each kind inside an OverlaySet.
var allKinds = []OverlayKind{
	KindStations,
	KindToilets,
	KindBicycleParkings,
	KindPlaygrounds,
}

// Kinds returns every known overlay kind in a stable order.
func Kinds() []OverlayKind {
	out := make([]OverlayKind, len(allKinds))
	copy(out, allKinds)
	return out
}

func (k OverlayKind) Valid() bool {
	return k.bit() != 0
}

func (k OverlayKind) bit() OverlaySet {
	for i, kk := range allKinds {
		if kk == k {
			return 1 << uint(i)
		}
	}
	return 0
}

func ParseKind(s string) (OverlayKind, error) {
	k := OverlayKind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown overlay kind %q", s)
	}
	return k, nil
}

// OverlaySet is an immutable set of overlay kinds. The zero value is empty.
type OverlaySet uint8

func NewOverlaySet(kinds ...OverlayKind) OverlaySet {
	var s OverlaySet
	for _, k := range kinds {
		s |= k.bit()
	}
	return s
}

func (s OverlaySet) Has(k OverlayKind) bool {
	b := k.bit()
	return b != 0 && s&b == b
}

func (s OverlaySet) With(k OverlayKind) OverlaySet    { return s | k.bit() }
func (s OverlaySet) Without(k OverlayKind) OverlaySet { return s &^ k.bit() }
func (s OverlaySet) Minus(o OverlaySet) OverlaySet    { return s &^ o }
func (s OverlaySet) Empty() bool                      { return s == 0 }
func (s OverlaySet) Len() int                         { return bits.OnesCount8(uint8(s)) }

// Kinds lists the members in the canonical kind order.
func (s OverlaySet) Kinds() []OverlayKind {
	out := make([]OverlayKind, 0, s.Len())
	for _, k := range allKinds {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s OverlaySet) String() string {
	ks := s.Kinds()
	parts := make([]string, len(ks))
	for i, k := range ks {
		parts[i] = string(k)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

type CellID string

type Cells []CellID

// Strings converts cells for logging and wire encoding.
func (c Cells) Strings() []string {
	out := make([]string, len(c))
	for i, id := range c {
		out[i] = string(id)
	}
	return out
}

// Entity is one fetched point of interest. Identity is (Kind, ID).
type Entity struct {
	Kind     OverlayKind       `json:"kind"`
	ID       int64             `json:"id"`
	Location orb.Point         `json:"location"` // lng, lat
	Cell     CellID            `json:"cell"`
	Attrs    map[string]string `json:"attrs,omitempty"`
}

func (e Entity) Lat() float64 { return e.Location.Lat() }
func (e Entity) Lng() float64 { return e.Location.Lon() }

// NewBounds builds a bound from the south-west and north-east corners.
func NewBounds(swLat, swLng, neLat, neLng float64) orb.Bound {
	return orb.Bound{
		Min: orb.Point{swLng, swLat},
		Max: orb.Point{neLng, neLat},
	}
}

// CrossesAntimeridian reports whether the west edge lies east of the east edge.
func CrossesAntimeridian(b orb.Bound) bool {
	return b.Min.Lon() > b.Max.Lon()
}

// ViewportState is what the user looks at and wants shown. Values are never
// mutated after publication; updates produce a new value.
type ViewportState struct {
	Zoom     int
	Bounds   *orb.Bound
	Overlays OverlaySet
}

// Equal compares zoom, bounds geometry, and overlay membership.
func (v ViewportState) Equal(o ViewportState) bool {
	if v.Zoom != o.Zoom || v.Overlays != o.Overlays {
		return false
	}
	switch {
	case v.Bounds == nil && o.Bounds == nil:
		return true
	case v.Bounds == nil || o.Bounds == nil:
		return false
	default:
		return v.Bounds.Equal(*o.Bounds)
	}
}

func (v ViewportState) String() string {
	b := "none"
	if v.Bounds != nil {
		b = fmt.Sprintf("%.6f,%.6f,%.6f,%.6f",
			v.Bounds.Min.Lat(), v.Bounds.Min.Lon(), v.Bounds.Max.Lat(), v.Bounds.Max.Lon())
	}
	return fmt.Sprintf("zoom=%d bounds=%s overlays=%s", v.Zoom, b, v.Overlays)
}

// Snapshot maps each active overlay kind to its visible entities.
type Snapshot map[OverlayKind][]Entity

// Counts returns per-kind entity counts.
func (s Snapshot) Counts() map[OverlayKind]int {
	out := make(map[OverlayKind]int, len(s))
	for k, es := range s {
		out[k] = len(es)
	}
	return out
}
