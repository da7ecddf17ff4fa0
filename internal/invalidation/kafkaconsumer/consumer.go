// Package kafkaconsumer applies invalidation events from Kafka to the cell
// tier.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/model"
	obs "github.com/mohammed-shakir/poi-viewport-cache/internal/core/observability"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/invalidation"
	mylog "github.com/mohammed-shakir/poi-viewport-cache/internal/logger"
	"github.com/mohammed-shakir/poi-viewport-cache/internal/mapper"
)

// Invalidator drops cached cells; implemented by tiered.Source.
type Invalidator interface {
	Invalidate(ctx context.Context, kind model.OverlayKind, cells model.Cells) (int, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	inv    Invalidator
	mapper mapper.Interface
	ver    *versionDedupe
	zlog   *zerolog.Logger

	assigned atomic.Bool
	assignMu sync.RWMutex
	assign   map[int32]struct{}
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// New builds a consumer. zl receives structured event logs; nil discards them.
func New(cfg Config, logger *slog.Logger, zl *zerolog.Logger, inv Invalidator, m mapper.Interface) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	base := mylog.WithComponent(context.Background(), "kafka_consumer")
	return &Consumer{
		cfg:    cfg,
		logger: logger,
		inv:    inv,
		mapper: m,
		ver:    newVersionDedupe(cfg.DedupeSize),
		zlog:   mylog.FromContext(base, zl),
		assign: map[int32]struct{}{},
	}
}

// Start joins the consumer group and consumes in the background until ctx
// ends or Stop is called.
func (c *Consumer) Start(ctx context.Context) error {
	if c.inv == nil || c.mapper == nil {
		return errors.New("kafkaconsumer: missing dependencies (invalidator/mapper)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true
	cfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	h := c.handler()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			if err := group.Close(); err != nil {
				c.logger.Error("kafka consumer group close", "err", err)
			}
		}()
		for {
			if err := group.Consume(ctx, []string{c.cfg.Topic}, h); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.zlog.Error().Err(err).
					Strs("brokers", c.cfg.Brokers).
					Str("topic", c.cfg.Topic).
					Msg("kafka consumer error")
				select {
				case <-time.After(2 * time.Second):
				case <-ctx.Done():
					return
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range group.Errors() {
			obs.IncKafkaConsumerError("group")
			c.logger.Error("kafka group error", "err", err)
		}
	}()

	c.logger.Info("kafka invalidation consumer started",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)
	return nil
}

func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.logger.Info("kafka invalidation consumer stopped")
}

// Readiness reports whether the consumer currently holds partitions.
func (c *Consumer) Readiness() (ready bool, partitions []int32) {
	if !c.assigned.Load() {
		return false, nil
	}
	c.assignMu.RLock()
	defer c.assignMu.RUnlock()
	for p := range c.assign {
		partitions = append(partitions, p)
	}
	return true, partitions
}

func (c *Consumer) handler() *groupHandler {
	return &groupHandler{
		setup: func(sess sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assign = map[int32]struct{}{}
			for _, parts := range sess.Claims() {
				for _, p := range parts {
					c.assign[p] = struct{}{}
				}
			}
			c.assigned.Store(true)
			c.assignMu.Unlock()
		},
		cleanup: func(sarama.ConsumerGroupSession) {
			c.assignMu.Lock()
			c.assigned.Store(false)
			c.assign = map[int32]struct{}{}
			c.assignMu.Unlock()
		},
		process: c.ProcessOne,
	}
}

// ProcessOne applies a single event. Undecodable, invalid and superseded
// events are skipped; only a failed invalidation returns an error so the
// message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()
	zl := mylog.FromContext(ctx, c.zlog)

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncKafkaConsumerError("decode")
		zl.Error().Err(err).
			Str("kind", "decode").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("kafka error")
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncKafkaConsumerError("validate")
		zl.Warn().Err(err).
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("skipping invalid invalidation event")
		return nil
	}

	dk := ev.DedupeKey()
	if dk != "" && !c.ver.newer(dk, ev.FeatureVersion) {
		obs.ObserveInvalidation(ev.Op, ev.Kind, 0, time.Since(start).Seconds(), nil)
		c.logger.Debug("skipping superseded event", "feature", dk, "version", ev.FeatureVersion)
		return nil
	}

	cells, err := c.mapper.CellsForBounds(ev.Bound())
	if err != nil {
		obs.IncKafkaConsumerError("cells")
		obs.ObserveInvalidation(ev.Op, ev.Kind, 0, time.Since(start).Seconds(), err)
		zl.Warn().Err(err).Str("kind", ev.Kind).Msg("skipping event with unmappable bbox")
		return nil
	}

	n, err := c.inv.Invalidate(ctx, ev.OverlayKind(), cells)
	if err != nil {
		obs.IncKafkaConsumerError("invalidate")
		obs.ObserveInvalidation(ev.Op, ev.Kind, 0, time.Since(start).Seconds(), err)
		zl.Error().Err(err).
			Str("kind", "invalidate").
			Str("topic", msg.Topic).
			Int32("partition", msg.Partition).
			Int("cells", len(cells)).
			Msg("kafka error")
		return fmt.Errorf("invalidate: %w", err)
	}
	if dk != "" {
		c.ver.remember(dk, ev.FeatureVersion)
	}

	obs.ObserveInvalidation(ev.Op, ev.Kind, n, time.Since(start).Seconds(), nil)
	zl.Info().
		Str("event", "invalidation").
		Str("op", ev.Op).Str("overlay", ev.Kind).
		Int("cells", len(cells)).Int("keys", n).
		Msg("invalidated cells")
	return nil
}
