// Package ingest turns raw articles into indexed vector points: fetch,
// extract, chunk, embed, upsert, archive.
package ingest

import (
	"sync/atomic"
	"time"
)

// IDGenerator mints unique, monotonically increasing point IDs. The counter
// is seeded from wall-clock milliseconds shifted left, leaving room for about
// a million IDs per millisecond before two process starts could collide.
type IDGenerator struct {
	counter atomic.Uint64
}

// NewIDGenerator seeds a generator from the current time.
func NewIDGenerator() *IDGenerator {
	g := &IDGenerator{}
	g.counter.Store(uint64(time.Now().UnixMilli()) << 20)
	return g
}

// Next returns the next ID. Safe for concurrent use.
func (g *IDGenerator) Next() uint64 {
	return g.counter.Add(1)
}
