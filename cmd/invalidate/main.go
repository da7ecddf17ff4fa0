package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/invalidation"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/invalidation/publisher"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/logger"
)

type invalidateOptions struct {
	brokers []string
	topic   string
	op      string
	kind    string
	bbox    string
	source  string
	version uint64
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	o := &invalidateOptions{}
	cmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Publish a cache invalidation event",
		Long: `
Publishes one invalidation event for an overlay kind and bounding box.
Servers consuming the topic evict the cached cells the box covers.
`,
		SilenceUsage: true,
		RunE: func(*cobra.Command, []string) error {
			ev, err := o.event(time.Now().UTC())
			if err != nil {
				return err
			}
			return o.publish(ev)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&o.brokers, "brokers", []string{"localhost:9092"}, "Kafka brokers.")
	flags.StringVar(&o.topic, "topic", "poi-invalidation", "Invalidation topic.")
	flags.StringVar(&o.op, "op", "update", "Change type: insert, update or delete.")
	flags.StringVar(&o.kind, "kind", "", "Overlay kind.")
	flags.StringVar(&o.bbox, "bbox", "", "Bounding box as minLng,minLat,maxLng,maxLat.")
	flags.StringVar(&o.source, "source", "cli", "Event source tag.")
	flags.Uint64Var(&o.version, "feature-version", 0, "Feature version, 0 to skip dedupe.")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("bbox")
	return cmd
}

func (o *invalidateOptions) event(now time.Time) (invalidation.Event, error) {
	bb, err := parseBBox(o.bbox)
	if err != nil {
		return invalidation.Event{}, err
	}
	ev := invalidation.Event{
		Version:        1,
		Op:             strings.ToLower(strings.TrimSpace(o.op)),
		Kind:           strings.ToLower(strings.TrimSpace(o.kind)),
		TS:             now,
		FeatureVersion: o.version,
		Source:         o.source,
		BBox:           bb,
	}
	if err := ev.Validate(); err != nil {
		return invalidation.Event{}, err
	}
	return ev, nil
}

func (o *invalidateOptions) publish(ev invalidation.Event) error {
	zl := logger.Build(logger.Config{Level: "info", Console: true, Service: "invalidate"}, os.Stderr)
	log := logger.NewSlog(&zl)

	p, err := publisher.New(o.brokers, o.topic, 1, log)
	if err != nil {
		return err
	}
	if err := p.Publish(ev); err != nil {
		_ = p.Close()
		return err
	}
	if err := p.Close(); err != nil {
		return err
	}
	log.Info("invalidation published", "kind", ev.Kind, "op", ev.Op, "topic", o.topic)
	return nil
}

func parseBBox(s string) (*invalidation.BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox needs 4 comma separated numbers, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse bbox: %w", err)
		}
		v[i] = f
	}
	return &invalidation.BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3], SRID: "EPSG:4326"}, nil
}
