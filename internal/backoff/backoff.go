// Package backoff computes jittered exponential retry delays.
//
// The base delay starts at Initial and doubles on every call to Next. The
// returned delay is the base scaled by a random factor in [0.5, 1.5). When
// the jittered delay would exceed Max, the delay is instead Max scaled by a
// fresh random factor, so retries near the ceiling stay desynchronized.
package backoff

import (
	"math/rand/v2"
	"sync"
	"time"
)

// jitterSpan is the width of the random scale factor in permille.
const jitterSpan = 1000

// Config bounds a Backoff. Max of zero disables the ceiling.
type Config struct {
	Initial time.Duration
	Max     time.Duration
}

// Backoff calculates exponential backoff delays with jitter.
type Backoff struct {
	mu sync.Mutex

	cfg Config

	// base is the current delay before jitter, 0 until the first Next.
	base     time.Duration
	attempts int

	// intn returns a value in [0, n).
	intn func(n int) int
}

// New creates a Backoff using math/rand/v2 for jitter.
func New(cfg Config) *Backoff {
	return NewWithRand(cfg, rand.IntN)
}

// NewWithRand creates a Backoff with a caller supplied random source.
// intn must return a value in [0, n).
func NewWithRand(cfg Config, intn func(n int) int) *Backoff {
	if cfg.Initial < 0 {
		cfg.Initial = 0
	}
	if cfg.Max < 0 {
		cfg.Max = 0
	}
	return &Backoff{cfg: cfg, intn: intn}
}

// Next advances the base delay and returns the jittered delay to wait.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attempts == 0 {
		b.base = b.cfg.Initial
	} else {
		b.base *= 2
	}
	if b.cfg.Max > 0 && b.base > b.cfg.Max {
		b.base = b.cfg.Max
	}
	b.attempts++

	delay := b.jitter(b.base)
	if b.cfg.Max > 0 && delay > b.cfg.Max {
		delay = b.jitter(b.cfg.Max)
	}
	return delay
}

// Reset returns the backoff to its initial state.
// Call this after a successful attempt.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.base = 0
	b.attempts = 0
}

// Base returns the current base delay (without jitter), 0 before the first Next.
func (b *Backoff) Base() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.base
}

// Attempts returns the number of Next calls since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Config returns the configured bounds.
func (b *Backoff) Config() Config {
	return b.cfg
}

// jitter scales d by (500 + rand(0..999)) / 1000.
func (b *Backoff) jitter(d time.Duration) time.Duration {
	factor := int64(jitterSpan/2 + b.intn(jitterSpan))
	return time.Duration(int64(d) * factor / jitterSpan)
}

// Sequence returns the first n base delays (without jitter) for cfg.
func Sequence(cfg Config, n int) []time.Duration {
	b := NewWithRand(cfg, func(int) int { return 0 })
	out := make([]time.Duration, 0, n)
	for range n {
		b.Next()
		out = append(out, b.Base())
	}
	return out
}
