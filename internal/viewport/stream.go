// Package viewport holds the latest viewport state and decides when a change
// is worth evaluating.
package viewport

import (
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

const DefaultDebounce = 100 * time.Millisecond

// Stream is the single source of truth for what the user is looking at. Each
// update replaces the state wholesale; updates equal to the current state are
// reported as unchanged.
type Stream struct {
	cur model.ViewportState
}

func NewStream() *Stream { return &Stream{} }

func (s *Stream) Current() model.ViewportState { return s.cur }

// UpdateViewport replaces bounds and zoom, keeping the overlays.
func (s *Stream) UpdateViewport(bounds *orb.Bound, zoom int) (model.ViewportState, bool) {
	next := model.ViewportState{Zoom: zoom, Overlays: s.cur.Overlays}
	if bounds != nil {
		b := *bounds
		next.Bounds = &b
	}
	return s.replace(next)
}

// UpdateActiveOverlays replaces the overlay set, keeping bounds and zoom.
func (s *Stream) UpdateActiveOverlays(overlays model.OverlaySet) (model.ViewportState, bool) {
	next := s.cur
	next.Overlays = overlays
	return s.replace(next)
}

func (s *Stream) replace(next model.ViewportState) (model.ViewportState, bool) {
	if next.Equal(s.cur) {
		return s.cur, false
	}
	s.cur = next
	return next, true
}

// Debouncer collapses bursts of Touch calls into one tick on C, fired once the
// interval elapses without another Touch. It is meant to be driven from a
// single select loop.
type Debouncer struct {
	d     time.Duration
	t     *time.Timer
	armed bool
}

func NewDebouncer(d time.Duration) *Debouncer {
	if d <= 0 {
		d = DefaultDebounce
	}
	t := time.NewTimer(d)
	t.Stop()
	return &Debouncer{d: d, t: t}
}

// Touch (re)starts the quiet period.
func (db *Debouncer) Touch() {
	db.t.Reset(db.d)
	db.armed = true
}

// C returns the tick channel, or nil while idle so a select skips it.
func (db *Debouncer) C() <-chan time.Time {
	if !db.armed {
		return nil
	}
	return db.t.C
}

// Fired must be called after receiving from C.
func (db *Debouncer) Fired() { db.armed = false }

func (db *Debouncer) Stop() {
	db.t.Stop()
	db.armed = false
}
