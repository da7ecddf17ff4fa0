// Package router validates entity requests before they reach a handler.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/observability"
)

// EntitiesRoute is the chi pattern served by HandleEntities.
const EntitiesRoute = "/api/entities/{kind}"

// EntityRequest is a validated request for one kind over a batch of cells.
type EntityRequest struct {
	Kind  model.OverlayKind
	Cells model.Cells
}

// receives validated entity requests and serves them
type EntityHandler interface {
	HandleEntities(ctx context.Context, w http.ResponseWriter, r *http.Request, req EntityRequest)
}

// CellValidator reports whether a cell id belongs to the served scheme.
type CellValidator interface {
	Valid(cell model.CellID) bool
}

// validates kind and cells and calls the handler
func HandleEntities(logger *slog.Logger, v CellValidator, maxCells int, h EntityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		req, err := ParseEntityRequest(r, v, maxCells)
		if err != nil {
			logger.DebugContext(r.Context(), "rejected entity request", "err", err)
			http.Error(sw, err.Error(), http.StatusBadRequest)
			observability.ObserveHTTP(r.Method, EntitiesRoute, http.StatusBadRequest, time.Since(start).Seconds())
			return
		}

		h.HandleEntities(r.Context(), sw, r, req)
		observability.ObserveHTTP(r.Method, EntitiesRoute, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseEntityRequest reads the kind path parameter and the comma separated
// cells query parameter. Duplicate cells are collapsed in first-seen order.
func ParseEntityRequest(r *http.Request, v CellValidator, maxCells int) (EntityRequest, error) {
	kind, err := model.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		return EntityRequest{}, err
	}

	raw := strings.TrimSpace(r.URL.Query().Get("cells"))
	if raw == "" {
		return EntityRequest{}, errors.New("missing required parameter: cells")
	}

	parts := strings.Split(raw, ",")
	seen := make(map[model.CellID]struct{}, len(parts))
	cells := make(model.Cells, 0, len(parts))
	for _, p := range parts {
		c := model.CellID(strings.TrimSpace(p))
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		if v != nil && !v.Valid(c) {
			return EntityRequest{}, fmt.Errorf("invalid cell %q", c)
		}
		seen[c] = struct{}{}
		cells = append(cells, c)
	}
	if len(cells) == 0 {
		return EntityRequest{}, errors.New("cells must not be empty")
	}
	if maxCells > 0 && len(cells) > maxCells {
		return EntityRequest{}, fmt.Errorf("too many cells: %d > %d", len(cells), maxCells)
	}

	return EntityRequest{Kind: kind, Cells: cells}, nil
}
