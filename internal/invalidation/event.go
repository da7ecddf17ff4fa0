// Package invalidation defines the change events that evict cached cells.
package invalidation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

// Event reports that entities of one kind changed inside BBox.
type Event struct {
	Version        int       `json:"version"`
	Op             string    `json:"op"`
	Kind           string    `json:"kind"`
	TS             time.Time `json:"ts"`
	FeatureID      string    `json:"feature_id,omitempty"`
	FeatureVersion uint64    `json:"feature_version,omitempty"`
	Source         string    `json:"source,omitempty"`
	BBox           *BBox     `json:"bbox"`
}

// BBox is given as x = longitude, y = latitude in EPSG:4326. X1 > X2 crosses
// the antimeridian.
type BBox struct {
	X1   float64 `json:"x1"`
	Y1   float64 `json:"y1"`
	X2   float64 `json:"x2"`
	Y2   float64 `json:"y2"`
	SRID string  `json:"srid"`
}

var ErrInvalidEvent = errors.New("invalid invalidation event")

func (e Event) Validate() error {
	if err := e.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}
	return nil
}

func (e Event) validate() error {
	if e.Version != 1 {
		return errors.New("version must be 1")
	}
	switch e.Op {
	case "insert", "update", "delete":
	default:
		return errors.New("op must be insert|update|delete")
	}
	if _, err := model.ParseKind(e.Kind); err != nil {
		return err
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	if e.BBox == nil {
		return errors.New("bbox is required")
	}
	bb := *e.BBox
	if bb.SRID != "" && bb.SRID != "EPSG:4326" {
		return errors.New("bbox.srid must be EPSG:4326")
	}
	if !(bb.X1 >= -180 && bb.X1 <= 180 && bb.X2 >= -180 && bb.X2 <= 180) {
		return errors.New("bbox longitude out of range")
	}
	if !(bb.Y1 >= -90 && bb.Y1 <= 90 && bb.Y2 >= -90 && bb.Y2 <= 90) {
		return errors.New("bbox latitude out of range")
	}
	if bb.Y2 < bb.Y1 {
		return errors.New("bbox must satisfy y2>=y1")
	}
	return nil
}

// OverlayKind returns the validated kind.
func (e Event) OverlayKind() model.OverlayKind {
	k, _ := model.ParseKind(e.Kind)
	return k
}

// Bound converts the bbox to viewport bounds.
func (e Event) Bound() orb.Bound {
	b := *e.BBox
	return model.NewBounds(b.Y1, b.X1, b.Y2, b.X2)
}

// DedupeKey identifies the feature for version ordering; empty when the
// event carries no feature identity.
func (e Event) DedupeKey() string {
	if strings.TrimSpace(e.FeatureID) == "" || e.FeatureVersion == 0 {
		return ""
	}
	return e.Kind + "/" + e.FeatureID
}
