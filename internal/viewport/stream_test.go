package viewport

import (
	"testing"
	"time"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
)

func TestStream_InitialState(t *testing.T) {
	s := NewStream()
	st := s.Current()
	if st.Zoom != 0 || st.Bounds != nil || !st.Overlays.Empty() {
		t.Fatalf("initial state=%s", st)
	}
}

func TestStream_UpdatesKeepOtherFields(t *testing.T) {
	s := NewStream()
	bb := model.NewBounds(52.50, 13.38, 52.53, 13.43)

	st, changed := s.UpdateViewport(&bb, 15)
	if !changed || st.Zoom != 15 || st.Bounds == nil {
		t.Fatalf("UpdateViewport: %s changed=%v", st, changed)
	}
	st, changed = s.UpdateActiveOverlays(model.NewOverlaySet(model.KindToilets))
	if !changed || st.Zoom != 15 || st.Bounds == nil || !st.Overlays.Has(model.KindToilets) {
		t.Fatalf("UpdateActiveOverlays: %s changed=%v", st, changed)
	}
	st, _ = s.UpdateViewport(nil, 12)
	if st.Bounds != nil || !st.Overlays.Has(model.KindToilets) {
		t.Fatalf("overlays lost or bounds kept: %s", st)
	}
}

func TestStream_EqualStatesAreCoalesced(t *testing.T) {
	s := NewStream()
	a := model.NewBounds(52.50, 13.38, 52.53, 13.43)
	b := model.NewBounds(52.50, 13.38, 52.53, 13.43) // same geometry, distinct value

	if _, changed := s.UpdateViewport(&a, 15); !changed {
		t.Fatalf("first update must change")
	}
	if _, changed := s.UpdateViewport(&b, 15); changed {
		t.Fatalf("geometrically equal bounds must not change state")
	}
	s.UpdateActiveOverlays(model.NewOverlaySet(model.KindStations, model.KindToilets))
	if _, changed := s.UpdateActiveOverlays(model.NewOverlaySet(model.KindToilets, model.KindStations)); changed {
		t.Fatalf("overlay order must not matter")
	}
	if _, changed := s.UpdateViewport(nil, 15); !changed {
		t.Fatalf("dropping bounds must change state")
	}
	if _, changed := s.UpdateViewport(nil, 15); changed {
		t.Fatalf("absent bounds twice must not change state")
	}
}

func TestStream_PublishedStateIsNotAliased(t *testing.T) {
	s := NewStream()
	bb := model.NewBounds(52.50, 13.38, 52.53, 13.43)
	st, _ := s.UpdateViewport(&bb, 15)
	bb.Min[0] = 0
	if st.Bounds.Min.Lon() != 13.38 {
		t.Fatalf("published state changed through caller's bounds")
	}
}

func TestDebouncer_BurstYieldsSingleTick(t *testing.T) {
	db := NewDebouncer(30 * time.Millisecond)
	defer db.Stop()

	if db.C() != nil {
		t.Fatalf("idle debouncer must expose nil channel")
	}
	for range 5 {
		db.Touch()
		time.Sleep(5 * time.Millisecond)
	}

	ticks := 0
	timeout := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case <-db.C():
			db.Fired()
			ticks++
		case <-timeout:
			break loop
		}
	}
	if ticks != 1 {
		t.Fatalf("ticks=%d want 1", ticks)
	}
}
