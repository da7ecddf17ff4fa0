package kafkaconsumer

import (
	"time"

	"github.com/mohammed-shakir/poi-viewport-cache/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	DedupeSize          int
}

// FromConfig fills the consumer settings from the service config.
func FromConfig(ic config.InvalidationCfg) Config {
	return Config{
		Brokers:             ic.Brokers,
		Topic:               ic.Topic,
		GroupID:             ic.GroupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: true,
		DedupeSize:          8192,
	}
}
