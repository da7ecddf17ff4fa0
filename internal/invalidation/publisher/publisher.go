// Package publisher emits invalidation events to Kafka.
package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/invalidation"
)

// ErrQueueFull is returned when the send queue cannot take another event.
var ErrQueueFull = errors.New("publisher: queue full")

type Publisher struct {
	topic   string
	events  chan invalidation.Event
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}
	errDone chan struct{}
}

func New(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("publisher: create async producer: %w", err)
	}
	return newWithProducer(prod, topic, queueSize, logger), nil
}

func newWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan invalidation.Event, queueSize),
		prod:    prod,
		logger:  logger.With("component", "invalidation-publisher"),
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Error("marshal event", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Kind),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Error("producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish validates ev and queues it without blocking.
func (p *Publisher) Publish(ev invalidation.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	select {
	case p.events <- ev:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close flushes queued events and shuts the producer down.
func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("publisher: close producer: %w", err)
	}
	<-p.errDone
	return nil
}
