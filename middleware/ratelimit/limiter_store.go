package ratelimit

import (
	"net"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"
)

const (
	cleanupInterval = time.Minute
	entryTTL        = 3 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore keeps one token bucket per client IP, keyed by the hash of
// the address bytes. Idle entries are swept so the map does not grow with
// every client ever seen.
type limiterStore struct {
	mu sync.Mutex

	entries map[uint64]*limiterEntry

	limit rate.Limit
	burst int
}

func newLimiterStore(perMinute int) *limiterStore {
	s := &limiterStore{
		entries: make(map[uint64]*limiterEntry),
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   perMinute,
	}

	go s.janitor()

	return s
}

func (s *limiterStore) allow(ip net.IP) bool {
	key := xxhash.Sum64(ip)

	s.mu.Lock()

	entry, ok := s.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = entry
	}
	entry.lastSeen = time.Now()

	s.mu.Unlock()

	return entry.limiter.Allow()
}

func (s *limiterStore) janitor() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		s.sweep()
	}
}

func (s *limiterStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		if time.Since(entry.lastSeen) > entryTTL {
			delete(s.entries, key)
		}
	}
}
