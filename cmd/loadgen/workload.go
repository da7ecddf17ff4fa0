package main

import (
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/mapper"
)

var centers = []orb.Point{
	{18.0686, 59.3293}, // Stockholm
	{11.9746, 57.7089}, // Göteborg
	{13.0038, 55.6050}, // Malmö
	{22.1547, 65.5848}, // Luleå
}

// makeViewports mixes hot viewports around city centers with cold ones spread
// over Sweden. Sizes are roughly what a phone shows at zoom 14-15.
func makeViewports(count int, r *rand.Rand) []orb.Bound {
	out := make([]orb.Bound, 0, count)
	hot := int(math.Max(8, float64(count/4)))

	for i := 0; i < hot && len(out) < count; i++ {
		c := centers[i%len(centers)]
		dx, dy := (r.Float64()-0.5)*0.06, (r.Float64()-0.5)*0.06
		w, h := 0.02+r.Float64()*0.02, 0.01+r.Float64()*0.01
		out = append(out, orb.Bound{
			Min: orb.Point{c.Lon() + dx - w/2, c.Lat() + dy - h/2},
			Max: orb.Point{c.Lon() + dx + w/2, c.Lat() + dy + h/2},
		})
	}
	for len(out) < count {
		lon := 11 + r.Float64()*(24-11)
		lat := 55 + r.Float64()*(66-55)
		w, h := 0.02+r.Float64()*0.03, 0.01+r.Float64()*0.02
		out = append(out, orb.Bound{
			Min: orb.Point{lon - w/2, lat - h/2},
			Max: orb.Point{lon + w/2, lat + h/2},
		})
	}
	return out
}

// target is one precomputed request.
type target struct {
	kind  model.OverlayKind
	cells model.Cells
	url   string
}

// buildTargets turns each viewport into one request per kind. Viewports that
// need more than maxCells cells are truncated.
func buildTargets(base string, vps []orb.Bound, kinds []model.OverlayKind, m mapper.Interface, maxCells int) ([]target, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse target: %w", err)
	}
	out := make([]target, 0, len(vps)*len(kinds))
	for _, vp := range vps {
		cells, err := m.CellsForBounds(vp)
		if err != nil {
			return nil, fmt.Errorf("cells for %v: %w", vp, err)
		}
		if maxCells > 0 && len(cells) > maxCells {
			cells = cells[:maxCells]
		}
		for _, k := range kinds {
			tu := *u
			tu.Path = u.Path + "/api/entities/" + url.PathEscape(string(k))
			tu.RawQuery = url.Values{"cells": {strings.Join(cells.Strings(), ",")}}.Encode()
			out = append(out, target{kind: k, cells: cells, url: tu.String()})
		}
	}
	return out, nil
}

func parseKinds(s string) ([]model.OverlayKind, error) {
	var out []model.OverlayKind
	for _, p := range strings.Split(s, ",") {
		if strings.TrimSpace(p) == "" {
			continue
		}
		k, err := model.ParseKind(p)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no kinds given")
	}
	return out, nil
}
