// Package wire encodes entity batches as GeoJSON FeatureCollections, the
// payload of the entities endpoint.
package wire

import (
	"fmt"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

const (
	propID   = "id"
	propCell = "cell"
	propKind = "kind"
)

// Encode builds a FeatureCollection with one point feature per entity.
// Attributes are flattened into properties; reserved keys win on collision.
func Encode(es []model.Entity) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, e := range es {
		f := geojson.NewFeature(e.Location)
		for k, v := range e.Attrs {
			f.Properties[k] = v
		}
		f.Properties[propID] = e.ID
		f.Properties[propCell] = string(e.Cell)
		f.Properties[propKind] = string(e.Kind)
		fc.Append(f)
	}
	return fc
}

// Marshal is Encode followed by JSON encoding.
func Marshal(es []model.Entity) ([]byte, error) {
	b, err := Encode(es).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal feature collection: %w", err)
	}
	return b, nil
}

// Decode parses a FeatureCollection into entities of the given kind. Every
// feature must carry a point geometry and an id.
func Decode(data []byte, kind model.OverlayKind) ([]model.Entity, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}
	out := make([]model.Entity, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("feature %d: geometry is not a point", i)
		}
		id, err := featureID(f)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		e := model.Entity{
			Kind:     kind,
			ID:       id,
			Location: pt,
			Cell:     model.CellID(f.Properties.MustString(propCell, "")),
		}
		for k, v := range f.Properties {
			switch k {
			case propID, propCell, propKind:
				continue
			}
			if e.Attrs == nil {
				e.Attrs = make(map[string]string)
			}
			if s, ok := v.(string); ok {
				e.Attrs[k] = s
			} else {
				e.Attrs[k] = fmt.Sprint(v)
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func featureID(f *geojson.Feature) (int64, error) {
	v, ok := f.Properties[propID]
	if !ok {
		v = f.ID
	}
	switch id := v.(type) {
	case float64:
		return int64(id), nil
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse id %q: %w", id, err)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("missing id")
	default:
		return 0, fmt.Errorf("unsupported id type %T", v)
	}
}
