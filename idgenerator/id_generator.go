// Package idgenerator hands out connection handle ids.
package idgenerator

import "sync/atomic"

// IdGenerator generates handle ids in a concurrency-safe manner. Id 0 is
// reserved to mean "no handle" and is never returned, including after the
// counter wraps around.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first Id is startValue+1
// (or 1 if that would be 0).
//
// Parameters:
//   - startValue: Initial counter value
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next handle id. It is safe for concurrent use by the accept
// loop and any other goroutine that wraps connections.
func (g *IdGenerator) Id() uint32 {
	for {
		if id := g.id.Add(1); id != 0 {
			return id
		}
	}
}

// Last returns the most recently issued id without advancing the counter.
func (g *IdGenerator) Last() uint32 {
	return g.id.Load()
}
