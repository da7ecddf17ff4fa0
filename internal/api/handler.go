// Package api serves entity batches from a DataSource as GeoJSON.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/router"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/source"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/source/wire"
)

const contentType = "application/geo+json"

type Handler struct {
	src     source.DataSource
	logger  *slog.Logger
	timeout time.Duration
}

// NewHandler serves src. A positive timeout bounds each upstream fetch.
func NewHandler(src source.DataSource, logger *slog.Logger, timeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{src: src, logger: logger, timeout: timeout}
}

var _ router.EntityHandler = (*Handler)(nil)

func (h *Handler) HandleEntities(ctx context.Context, w http.ResponseWriter, _ *http.Request, req router.EntityRequest) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	es, err := h.src.FetchEntities(ctx, req.Kind, req.Cells)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		h.logger.ErrorContext(ctx, "fetch entities failed",
			"kind", req.Kind, "cells", len(req.Cells), "err", err)
		http.Error(w, "upstream fetch failed", status)
		return
	}

	// only entities inside the requested cells go out
	byCell, dropped := source.PartitionByCell(req.Cells, es)
	if dropped > 0 {
		h.logger.DebugContext(ctx, "dropped entities outside requested cells",
			"kind", req.Kind, "dropped", dropped)
	}
	out := es[:0:0]
	for _, c := range req.Cells {
		out = append(out, byCell[c]...)
	}

	body, err := wire.Marshal(out)
	if err != nil {
		h.logger.ErrorContext(ctx, "encode entities failed", "err", err)
		http.Error(w, "encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
