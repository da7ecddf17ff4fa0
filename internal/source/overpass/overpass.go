// Package overpass loads points of interest from an OSM Overpass endpoint.
package overpass

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb"
	goverpass "github.com/serjvanilla/go-overpass"
	"golang.org/x/time/rate"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/observability"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/mapper"
)

// tag is one OSM key=value filter.
type tag struct{ key, value string }

func (t tag) String() string { return t.key + "=" + t.value }

var selectors = map[model.OverlayKind]tag{
	model.KindStations:        {"amenity", "drinking_water"},
	model.KindToilets:         {"amenity", "toilets"},
	model.KindBicycleParkings: {"amenity", "bicycle_parking"},
	model.KindPlaygrounds:     {"leisure", "playground"},
}

// attributes copied from OSM tags when present
var keptTags = []string{"name", "operator", "opening_hours", "fee", "wheelchair", "capacity", "covered", "access"}

type Config struct {
	Endpoint    string
	RPS         float64
	Burst       int
	MaxParallel int
	Timeout     time.Duration
}

type Source struct {
	endpoint string
	hc       *http.Client
	mapper   mapper.Interface
	limiter  *rate.Limiter
	sem      chan struct{}
	timeout  time.Duration
	logger   *slog.Logger
}

func New(cfg Config, m mapper.Interface, hc *http.Client, logger *slog.Logger) (*Source, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("overpass: endpoint required")
	}
	if m == nil {
		return nil, errors.New("overpass: mapper required")
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	return &Source{
		endpoint: cfg.Endpoint,
		hc:       hc,
		mapper:   m,
		limiter:  rate.NewLimiter(limit, cfg.Burst),
		sem:      make(chan struct{}, cfg.MaxParallel),
		timeout:  cfg.Timeout,
		logger:   logger.With("component", "overpass"),
	}, nil
}

// Selector returns the tag filter used for kind.
func (s *Source) Selector(kind model.OverlayKind) string {
	return selectors[kind].String()
}

func (s *Source) FetchEntities(ctx context.Context, kind model.OverlayKind, cells model.Cells) ([]model.Entity, error) {
	sel, ok := selectors[kind]
	if !ok {
		return nil, fmt.Errorf("overpass: no selector for kind %q", kind)
	}
	if len(cells) == 0 {
		return []model.Entity{}, nil
	}

	q, err := s.buildQuery(sel, cells)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("overpass: rate wait: %w", err)
	}

	start := time.Now()
	// the client has no context parameter, so the context rides on the transport
	client := goverpass.NewWithSettings(s.endpoint, 1, ctxDoer{ctx: ctx, hc: s.hc})
	res, err := client.Query(q)
	observability.ObserveUpstreamLatency("overpass", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("overpass query %s: %w", kind, err)
	}

	out := s.convert(kind, sel, &res, cells)
	s.logger.DebugContext(ctx, "overpass fetched",
		"kind", string(kind), "cells", len(cells), "entities", len(out),
		"took", time.Since(start))
	return out, nil
}

func (s *Source) buildQuery(sel tag, cells model.Cells) (string, error) {
	var b strings.Builder
	b.WriteString("[out:json];\n(\n")
	for _, c := range cells {
		bb, err := s.mapper.BoundsOf(c)
		if err != nil {
			return "", fmt.Errorf("overpass: bounds of %s: %w", c, err)
		}
		box := fmt.Sprintf("(%.7f,%.7f,%.7f,%.7f)", bb.Min.Lat(), bb.Min.Lon(), bb.Max.Lat(), bb.Max.Lon())
		fmt.Fprintf(&b, "  node[%q=%q]%s;\n", sel.key, sel.value, box)
		fmt.Fprintf(&b, "  way[%q=%q]%s;\n", sel.key, sel.value, box)
	}
	b.WriteString(");\nout body;\n>;\nout skel qt;\n")
	return b.String(), nil
}

// convert keeps tagged nodes and way centroids that land in a requested cell.
// Skeleton nodes pulled in for way geometry carry no matching tag.
func (s *Source) convert(kind model.OverlayKind, sel tag, res *goverpass.Result, cells model.Cells) []model.Entity {
	want := make(map[model.CellID]struct{}, len(cells))
	for _, c := range cells {
		want[c] = struct{}{}
	}

	out := make([]model.Entity, 0, len(res.Nodes))
	add := func(id int64, lat, lon float64, tags map[string]string) {
		if tags[sel.key] != sel.value {
			return
		}
		p := orb.Point{lon, lat}
		cell, err := s.mapper.CellFor(p)
		if err != nil {
			return
		}
		if _, ok := want[cell]; !ok {
			return
		}
		out = append(out, model.Entity{Kind: kind, ID: id, Location: p, Cell: cell, Attrs: attrs(tags)})
	}

	for _, n := range res.Nodes {
		add(n.ID, n.Lat, n.Lon, n.Tags)
	}
	// way ids are negated so they cannot collide with node ids
	for _, w := range res.Ways {
		lat, lon, ok := centroid(w)
		if !ok {
			continue
		}
		add(-w.ID, lat, lon, w.Tags)
	}
	return out
}

func centroid(w *goverpass.Way) (lat, lon float64, ok bool) {
	n := 0
	for _, node := range w.Nodes {
		if node == nil {
			continue
		}
		lat += node.Lat
		lon += node.Lon
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return lat / float64(n), lon / float64(n), true
}

func attrs(tags map[string]string) map[string]string {
	var out map[string]string
	for _, k := range keptTags {
		v, ok := tags[k]
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}

type ctxDoer struct {
	ctx context.Context
	hc  *http.Client
}

// PostForm satisfies goverpass.HTTPClient while keeping ctx on the request.
func (d ctxDoer) PostForm(u string, data url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, u, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return d.hc.Do(req)
}
