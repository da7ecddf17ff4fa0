// Package metrics owns the Prometheus registry a binary serves on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type BuildInfo struct {
	Version   string
	Revision  string
	Branch    string
	BuildDate string
}

type Config struct {
	// Service names the binary, e.g. "poi-server".
	Service string
	// CellScheme is the deriver's scheme name; dashboards split cache
	// series by it since keys of different schemes never overlap.
	CellScheme string
	Build      BuildInfo
}

type Provider struct {
	reg *prometheus.Registry
}

// Init returns a fresh registry with runtime collectors and a constant
// poi_build_info series.
func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	v := cfg.Build
	if v.Version == "" {
		v.Version = "dev"
	}
	svc := cfg.Service
	if svc == "" {
		svc = "unknown"
	}
	info := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poi_build_info",
			Help: "Build and cell scheme of this binary (value is always 1).",
		},
		[]string{"service", "version", "revision", "branch", "build_date", "cell_scheme"},
	)
	reg.MustRegister(info)
	info.WithLabelValues(svc, v.Version, v.Revision, v.Branch, v.BuildDate, cfg.CellScheme).Set(1)

	return &Provider{reg: reg}
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
