// Package es implements the search-engine backend: a low-level HTTP
// client speaking the JSON REST protocol plus the entity mapper built on
// top of it.
package es

import (
	"sync"
	"sync/atomic"
	"time"
)

// Average maintains a rolling average over a bounded sample window. Once
// the window is full the accumulated sum and count are halved, so older
// samples gradually lose weight instead of dominating forever.
type Average struct {
	mu    sync.Mutex
	sum   float64
	count int64
	limit int64
}

// NewAverage creates a rolling average over the given sample window.
func NewAverage(limit int64) *Average {
	if limit <= 0 {
		limit = 100
	}
	return &Average{limit: limit}
}

// Add records a sample.
func (a *Average) Add(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count >= a.limit {
		a.sum /= 2
		a.count /= 2
	}
	a.sum += value
	a.count++
}

// AddDuration records a duration sample in milliseconds.
func (a *Average) AddDuration(d time.Duration) {
	a.Add(float64(d.Milliseconds()))
}

// Avg returns the current rolling average, or 0 without samples.
func (a *Average) Avg() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.count == 0 {
		return 0
	}
	return a.sum / float64(a.count)
}

// Count returns the number of samples within the current window.
func (a *Average) Count() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Counter is a monotonically increasing event counter.
type Counter struct {
	value atomic.Int64
}

// Inc increments the counter.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Get returns the current counter value.
func (c *Counter) Get() int64 {
	return c.value.Load()
}
