// Package rng provides explicitly seeded random sources shared by weight
// initialisation, shuffling and dropout masks.
package rng

import (
	"time"

	"golang.org/x/exp/rand"
)

// DefaultSeed is used when a network is built without an explicit seed.
const DefaultSeed uint64 = 42

// New returns a concurrency-safe source seeded with seed.
// The returned value satisfies the rand.Source consumed by gonum distuv.
func New(seed uint64) *rand.LockedSource {
	src := &rand.LockedSource{}
	src.Seed(seed)
	return src
}

// NewTimeSeeded returns a source seeded from the wall clock.
func NewTimeSeeded() *rand.LockedSource {
	return New(uint64(time.Now().UnixNano()))
}

// Rand wraps src in a *rand.Rand. A Rand over a LockedSource is safe for
// concurrent use.
func Rand(src rand.Source) *rand.Rand {
	return rand.New(src)
}

// Derive returns a new source seeded from src, so independent consumers can
// own their own stream without sharing lock contention.
func Derive(src rand.Source) *rand.LockedSource {
	return New(src.Uint64())
}
