// Package hotness scores how often a cache entry is requested.
package hotness

// Interface is keyed by an opaque entry name, usually "kind/cell".
type Interface interface {
	Inc(key string)
	Score(key string) float64
	Reset(keys ...string)
}
