package guard

import (
	"sync"
	"time"
)

// MemoryStore is the in-process Store. Suitable for single-instance
// deployments only; it provides no durability.
type MemoryStore struct {
	mu       sync.Mutex
	failures map[string]*failureWindow
	blocks   map[string]time.Time
	nonces   map[string]time.Time
}

type failureWindow struct {
	count       int
	windowStart time.Time
}

// NewMemoryStore creates an empty in-memory guard store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		failures: make(map[string]*failureWindow),
		blocks:   make(map[string]time.Time),
		nonces:   make(map[string]time.Time),
	}
}

// RecordFailure implements Store. Stale failure windows and expired
// blocks are swept lazily here, on the one path every abusive client
// hits, so neither map grows with the number of distinct IPs seen.
func (s *MemoryStore) RecordFailure(ip string, now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, fw := range s.failures {
		if now.Sub(fw.windowStart) > window {
			delete(s.failures, k)
		}
	}
	for k, until := range s.blocks {
		if !until.After(now) {
			delete(s.blocks, k)
		}
	}

	fw, ok := s.failures[ip]
	if !ok {
		fw = &failureWindow{windowStart: now}
		s.failures[ip] = fw
	}
	fw.count++
	return fw.count
}

// ClearFailures implements Store.
func (s *MemoryStore) ClearFailures(ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, ip)
}

// Block implements Store.
func (s *MemoryStore) Block(ip string, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[ip] = until
}

// BlockedUntil implements Store. Expiry comparison is the Guard's job;
// expired entries linger only until the next RecordFailure sweep.
func (s *MemoryStore) BlockedUntil(ip string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocks[ip]
	return until, ok
}

// MarkNonce implements Store. Expired nonces are swept lazily on each
// call rather than by a background timer.
func (s *MemoryStore) MarkNonce(nonce string, now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for n, seen := range s.nonces {
		if now.Sub(seen) > ttl {
			delete(s.nonces, n)
		}
	}

	if _, seen := s.nonces[nonce]; seen {
		return false
	}
	s.nonces[nonce] = now
	return true
}
