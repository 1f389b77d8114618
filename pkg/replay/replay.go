// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

// Package replay implements a time-windowed cache of identifiers seen in
// received messages, used to reject replayed nonces and signatures.
package replay

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultWindow is how long an identifier is remembered by default.
const DefaultWindow = 5 * time.Minute

// Cache remembers identifiers for a fixed window. It is safe for concurrent
// use and satisfies wss.ReplayCache.
type Cache struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	window time.Duration
	now    func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// NewCache creates a cache remembering identifiers for window and starts a
// goroutine removing expired entries. Call Close to stop it.
func NewCache(window time.Duration) *Cache {
	return newCache(window, time.Now)
}

func newCache(window time.Duration, now func() time.Time) *Cache {
	if window <= 0 {
		window = DefaultWindow
	}
	c := &Cache{
		seen:   make(map[string]time.Time),
		window: window,
		now:    now,
		done:   make(chan struct{}),
	}

	interval := window / 2
	if interval < time.Second {
		interval = time.Second
	}
	go c.cleanupLoop(interval)

	return c
}

// Seen records id and reports whether it was already recorded within the
// window.
func (c *Cache) Seen(id string) bool {
	key := Hash([]byte(id))
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if at, ok := c.seen[key]; ok && now.Sub(at) < c.window {
		return true
	}
	c.seen[key] = now
	return false
}

// Len returns the number of remembered identifiers, including expired ones
// not yet cleaned up.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.done:
			return
		}
	}
}

// cleanup removes identifiers older than the window.
func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, at := range c.seen {
		if now.Sub(at) >= c.window {
			delete(c.seen, key)
		}
	}
}

// Hash reduces content to a fixed size key.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
