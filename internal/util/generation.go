package util

import "sync/atomic"

// Generation is a monotonic counter used to discard results of superseded
// asynchronous work. A task captures Next() when it is dispatched and checks
// IsCurrent before applying its result.
type Generation struct {
	v atomic.Uint64
}

// Next starts a new generation and returns it.
func (g *Generation) Next() uint64 {
	return g.v.Add(1)
}

// Current returns the latest dispatched generation.
func (g *Generation) Current() uint64 {
	return g.v.Load()
}

// IsCurrent reports whether gen is still the latest dispatched generation.
func (g *Generation) IsCurrent(gen uint64) bool {
	return g.v.Load() == gen
}
