// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ratelimit provides per-key request throttling.
package ratelimit

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrLimited is returned when a key has exhausted its allowance.
var ErrLimited = errors.New("rate limit exceeded")

// Config is the allowance of one key.
type Config struct {
	// Limit is the number of requests allowed per Window.
	Limit int
	// Window is the refill period of the full allowance.
	Window time.Duration
	// IdleTTL evicts keys unused for this long. Zero uses 2*Window.
	IdleTTL time.Duration
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed is a token-bucket limiter per key, typically a user ID.
//
// # Description
//
// Each key gets a bucket of Limit tokens refilled evenly over Window, so a
// burst of Limit requests is allowed and then one request per
// Window/Limit. Idle keys are evicted lazily.
//
// # Thread Safety
//
// Safe for concurrent use.
type Keyed struct {
	mu        sync.Mutex
	cfg       Config
	entries   map[string]*entry
	lastSweep time.Time
	now       func() time.Time
}

// NewKeyed creates a limiter. Non-positive Limit or Window disables limiting.
func NewKeyed(cfg Config) *Keyed {
	return &Keyed{
		cfg:     normalize(cfg),
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

func normalize(cfg Config) Config {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * cfg.Window
	}
	return cfg
}

func (k *Keyed) disabled() bool {
	return k.cfg.Limit <= 0 || k.cfg.Window <= 0
}

func (k *Keyed) every() rate.Limit {
	return rate.Every(k.cfg.Window / time.Duration(k.cfg.Limit))
}

// Allow consumes one token for key and returns ErrLimited when none is left.
func (k *Keyed) Allow(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.disabled() {
		return nil
	}

	now := k.now()
	k.sweepLocked(now)

	e, ok := k.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.every(), k.cfg.Limit)}
		k.entries[key] = e
	}
	e.lastSeen = now
	if !e.limiter.AllowN(now, 1) {
		return ErrLimited
	}
	return nil
}

// Update replaces the allowance. Existing buckets keep their tokens.
func (k *Keyed) Update(cfg Config) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.cfg = normalize(cfg)
	if k.disabled() {
		return
	}
	now := k.now()
	for _, e := range k.entries {
		e.limiter.SetLimitAt(now, k.every())
		e.limiter.SetBurstAt(now, k.cfg.Limit)
	}
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

func (k *Keyed) sweepLocked(now time.Time) {
	if now.Sub(k.lastSweep) < k.cfg.IdleTTL {
		return
	}
	k.lastSweep = now
	for key, e := range k.entries {
		if now.Sub(e.lastSeen) >= k.cfg.IdleTTL {
			delete(k.entries, key)
		}
	}
}
