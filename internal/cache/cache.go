// Package cache declares the shared key/value store behind the cell tier.
package cache

import (
	"context"
	"time"
)

// Entry is one encoded cell list. Entries of one write may carry different
// TTLs, since hot cells outlive cold ones.
type Entry struct {
	Key   string
	Value []byte
	TTL   time.Duration
}

// Store is implemented by redisstore.Client. MGet omits missing keys.
type Store interface {
	MGet(ctx context.Context, keys []string) (map[string][]byte, error)
	Put(ctx context.Context, entries []Entry) error
	Del(ctx context.Context, keys ...string) error
}
