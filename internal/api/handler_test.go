package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/router"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/source"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/source/wire"
)

type anyCell struct{}

func (anyCell) Valid(model.CellID) bool { return true }

func newServer(t *testing.T, src source.DataSource) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := chi.NewRouter()
	r.Get(router.EntitiesRoute, router.HandleEntities(logger, anyCell{}, 50, NewHandler(src, logger, 0)))
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return ts
}

func TestHandleEntities_FiltersToRequestedCells(t *testing.T) {
	var gotKind model.OverlayKind
	var gotCells model.Cells
	src := source.Func(func(_ context.Context, kind model.OverlayKind, cells model.Cells) ([]model.Entity, error) {
		gotKind, gotCells = kind, cells
		return []model.Entity{
			{Kind: kind, ID: 1, Location: orb.Point{18, 59}, Cell: "a"},
			{Kind: kind, ID: 2, Location: orb.Point{18, 59}, Cell: "zz"},
			{Kind: kind, ID: 3, Location: orb.Point{18, 59}, Cell: "b"},
		}, nil
	})
	ts := newServer(t, src)

	resp, err := http.Get(ts.URL + "/api/entities/playgrounds?cells=a,b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != contentType {
		t.Fatalf("content-type=%q", ct)
	}
	if gotKind != model.KindPlaygrounds || len(gotCells) != 2 {
		t.Fatalf("source called with %q %v", gotKind, gotCells)
	}
	body, _ := io.ReadAll(resp.Body)
	es, err := wire.Decode(body, model.KindPlaygrounds)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(es) != 2 || es[0].ID != 1 || es[1].ID != 3 {
		t.Fatalf("entities=%+v", es)
	}
}

func TestHandleEntities_UpstreamErrorIs502(t *testing.T) {
	src := source.Func(func(context.Context, model.OverlayKind, model.Cells) ([]model.Entity, error) {
		return nil, errors.New("overpass down")
	})
	ts := newServer(t, src)

	resp, err := http.Get(ts.URL + "/api/entities/toilets?cells=a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status=%d want 502", resp.StatusCode)
	}
}
