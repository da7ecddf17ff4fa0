package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/poi-viewport-cache/pkg/poimap"
)

const (
	opViewport = "viewport"
	opOverlays = "overlays"
	opSleep    = "sleep"
)

// step is one line of a simulation script.
//
//	{"op":"viewport","sw":[59.32,18.05],"ne":[59.34,18.09],"zoom":15}
//	{"op":"viewport","zoom":15}            (clears bounds)
//	{"op":"overlays","kinds":["stations","toilets"]}
//	{"op":"sleep","ms":250}
type step struct {
	Op    string    `json:"op"`
	SW    []float64 `json:"sw,omitempty"`
	NE    []float64 `json:"ne,omitempty"`
	Zoom  int       `json:"zoom,omitempty"`
	Kinds []string  `json:"kinds,omitempty"`
	MS    int       `json:"ms,omitempty"`
}

// driver is the part of the engine a script drives.
type driver interface {
	UpdateViewport(bounds *orb.Bound, zoom int)
	UpdateActiveOverlays(kinds ...poimap.OverlayKind)
}

func parseScript(r io.Reader) ([]step, error) {
	var out []step
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var s step
		if err := json.Unmarshal([]byte(raw), &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if err := s.validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, s)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return out, nil
}

func (s step) validate() error {
	switch s.Op {
	case opViewport:
		if (len(s.SW) == 0) != (len(s.NE) == 0) {
			return errors.New("viewport needs both sw and ne or neither")
		}
		if len(s.SW) != 0 && (len(s.SW) != 2 || len(s.NE) != 2) {
			return errors.New("sw and ne must be [lat,lng]")
		}
	case opOverlays:
		for _, k := range s.Kinds {
			if !poimap.OverlayKind(strings.ToLower(k)).Valid() {
				return fmt.Errorf("unknown overlay kind %q", k)
			}
		}
	case opSleep:
		if s.MS < 0 {
			return errors.New("sleep must not be negative")
		}
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}

// play applies steps in order, honoring sleeps, until ctx ends.
func play(ctx context.Context, d driver, steps []step) error {
	for _, s := range steps {
		switch s.Op {
		case opViewport:
			if len(s.SW) == 0 {
				d.UpdateViewport(nil, s.Zoom)
				continue
			}
			b := poimap.Bounds(s.SW[0], s.SW[1], s.NE[0], s.NE[1])
			d.UpdateViewport(&b, s.Zoom)
		case opOverlays:
			kinds := make([]poimap.OverlayKind, len(s.Kinds))
			for i, k := range s.Kinds {
				kinds[i] = poimap.OverlayKind(strings.ToLower(k))
			}
			d.UpdateActiveOverlays(kinds...)
		case opSleep:
			select {
			case <-time.After(time.Duration(s.MS) * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}
