// Package httpsource fetches entities from a remote entities endpoint.
package httpsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/httpclient"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/observability"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/source/wire"
)

// caps the response body read
const maxBody = 16 << 20

type Config struct {
	BaseURL      string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	HTTPClient   *http.Client
}

type Source struct {
	base   *url.URL
	client *retryablehttp.Client
}

func New(cfg Config, logger *slog.Logger) (*Source, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, errors.New("httpsource: base url must be absolute")
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = cfg.HTTPClient
	if rc.HTTPClient == nil {
		rc.HTTPClient = httpclient.NewOutbound()
	}
	// zero disables retries
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	if logger != nil {
		rc.Logger = logger.With("component", "httpsource")
	} else {
		rc.Logger = nil
	}

	return &Source{base: base, client: rc}, nil
}

func (s *Source) endpoint(kind model.OverlayKind, cells model.Cells) string {
	u := *s.base
	u.Path = u.Path + "/api/entities/" + url.PathEscape(string(kind))
	u.RawQuery = url.Values{"cells": {strings.Join(cells.Strings(), ",")}}.Encode()
	return u.String()
}

func (s *Source) FetchEntities(ctx context.Context, kind model.OverlayKind, cells model.Cells) ([]model.Entity, error) {
	if len(cells) == 0 {
		return []model.Entity{}, nil
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(kind, cells), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	observability.ObserveUpstreamLatency("entities", time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", kind, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", kind, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: upstream status %d: %s", kind, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	es, err := wire.Decode(body, kind)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", kind, err)
	}
	return es, nil
}
