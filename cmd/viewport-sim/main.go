package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/logger"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/source/httpsource"
	"github.com/mohammed-shakir/poi-viewport-cache/pkg/poimap"
)

type simOptions struct {
	source    string
	script    string
	precision int
	minZoom   int
	debounce  time.Duration
	timeout   time.Duration
	settle    time.Duration
	logLevel  string
	console   bool
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	o := &simOptions{}
	cmd := &cobra.Command{
		Use:   "viewport-sim",
		Short: "Replay a viewport script against an entities endpoint",
		Long: `
Reads JSON-lines steps (viewport, overlays, sleep) from a file or stdin,
drives an in-process engine over the HTTP source and logs every snapshot.
`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return o.run(ctx, cmd.InOrStdin())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&o.source, "source", "http://localhost:8090", "Base URL of the entities endpoint.")
	flags.StringVarP(&o.script, "script", "f", "-", "Script file, - for stdin.")
	flags.IntVar(&o.precision, "precision", poimap.DefaultPrecision, "Geohash precision of cells.")
	flags.IntVar(&o.minZoom, "min-zoom", 13, "Zoom below which nothing is fetched.")
	flags.DurationVar(&o.debounce, "debounce", 100*time.Millisecond, "Viewport settle delay.")
	flags.DurationVar(&o.timeout, "fetch-timeout", 20*time.Second, "Per fetch timeout.")
	flags.DurationVar(&o.settle, "settle", 2*time.Second, "How long to keep listening after the last step.")
	flags.StringVar(&o.logLevel, "log-level", "info", "Log level.")
	flags.BoolVar(&o.console, "console", true, "Human readable log output.")
	return cmd
}

func (o *simOptions) run(ctx context.Context, stdin io.Reader) error {
	zl := logger.Build(logger.Config{
		Level:     o.logLevel,
		Console:   o.console,
		Service:   "viewport-sim",
		Component: "sim",
	}, os.Stderr)
	log := logger.NewSlog(&zl)

	in := stdin
	if o.script != "-" {
		f, err := os.Open(o.script)
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}
	steps, err := parseScript(in)
	if err != nil {
		return err
	}

	src, err := httpsource.New(httpsource.Config{BaseURL: o.source, RetryMax: 2}, log)
	if err != nil {
		return err
	}

	eng, err := poimap.New(src,
		poimap.WithPrecision(o.precision),
		poimap.WithMinZoom(o.minZoom),
		poimap.WithDebounce(o.debounce),
		poimap.WithFetchTimeout(o.timeout),
		poimap.WithLogger(log),
		poimap.WithFetchErrorHandler(func(fe *poimap.FetchError) {
			log.Warn("fetch failed", "kind", string(fe.Kind), "cells", len(fe.Cells), "err", fe.Err)
		}),
	)
	if err != nil {
		return err
	}
	defer eng.Close()

	sub := eng.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		n := 0
		for snap := range sub.C() {
			n++
			logSnapshot(log, n, snap)
		}
	}()

	log.Info("playing script", "steps", len(steps), "source", o.source)
	if err := play(ctx, eng, steps); err != nil {
		return err
	}

	select {
	case <-time.After(o.settle):
	case <-ctx.Done():
	}
	sub.Unsubscribe()
	<-done
	return nil
}

func logSnapshot(log *slog.Logger, n int, snap poimap.Snapshot) {
	counts := snap.Counts()
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	args := []any{"seq", n}
	for _, k := range kinds {
		args = append(args, k, counts[poimap.OverlayKind(k)])
	}
	log.Info("snapshot", args...)
}
