package placeholder

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalStore keeps placeholders in an in-process map with TTL expiry and
// insertion-order capacity eviction. It is the default backend for
// single-node deployments.
type LocalStore struct {
	mu      sync.Mutex
	entries map[string]*localEntry
	order   []string // task ids in issue order, oldest first
	maxLen  int
	ttl     time.Duration
	closed  bool

	now func() time.Time // overridable for tests
}

type localEntry struct {
	payload  []byte
	resolved bool
	deadline time.Time
}

// NewLocalStore creates a local store holding at most maxLen entries,
// each expiring ttl after it was prepared. maxLen <= 0 means unbounded;
// ttl <= 0 means entries never expire.
func NewLocalStore(maxLen int, ttl time.Duration) *LocalStore {
	return &LocalStore{
		entries: make(map[string]*localEntry),
		maxLen:  maxLen,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Prepare issues a fresh task id and registers it as pending.
func (s *LocalStore) Prepare(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrStoreClosed
	}

	id := uuid.NewString()
	e := &localEntry{}
	if s.ttl > 0 {
		e.deadline = s.now().Add(s.ttl)
	}
	s.entries[id] = e
	s.order = append(s.order, id)
	s.evictLocked()

	return id, nil
}

// Set resolves a pending task with its final payload.
func (s *LocalStore) Set(ctx context.Context, taskID string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	e, ok := s.entries[taskID]
	if !ok {
		// Evicted or expired before the worker finished. The result is
		// dropped; callers observe NotFound, which the contract allows.
		return ErrNotFound
	}
	if e.resolved {
		return nil
	}
	e.payload = payload
	e.resolved = true
	return nil
}

// Get retrieves the current value for a task id.
func (s *LocalStore) Get(ctx context.Context, taskID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	e, ok := s.entries[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.deadline.IsZero() && s.now().After(e.deadline) {
		s.removeLocked(taskID)
		return nil, ErrExpired
	}
	if !e.resolved {
		return nil, ErrPending
	}
	return e.payload, nil
}

// Sweep removes all entries whose deadline has elapsed and returns how
// many were dropped. The runtime calls it periodically; expiry is also
// checked on access, so Sweep only reclaims memory earlier.
func (s *LocalStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0
	}

	now := s.now()
	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		if !e.deadline.IsZero() && now.After(e.deadline) {
			delete(s.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// Len returns the number of live entries.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Close releases the store. Subsequent operations fail with
// ErrStoreClosed.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.entries = nil
	s.order = nil
	return nil
}

// evictLocked drops the oldest entries until the store fits maxLen.
// Resolved entries are evicted the same as pending ones: callers must
// tolerate a resolved-but-evicted task surfacing as NotFound.
func (s *LocalStore) evictLocked() {
	if s.maxLen <= 0 {
		return
	}
	for len(s.entries) > s.maxLen && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.entries, oldest)
	}
}

// removeLocked drops a single id from both the map and the order list.
func (s *LocalStore) removeLocked(taskID string) {
	delete(s.entries, taskID)
	for i, id := range s.order {
		if id == taskID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
