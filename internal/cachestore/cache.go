// Package cachestore implements an in-memory TTL+LRU cache satisfying
// capability.Cache, used to memoize Engine.Analyze results keyed on
// the deterministic request hash described in spec §4.2.
package cachestore

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// entry is one cached value plus its LRU list element and expiry.
type entry struct {
	key       string
	value     any
	expiresAt time.Time // zero means no expiry
	createdAt time.Time
	hitCount  int
	elem      *list.Element
}

func (e *entry) isExpired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is an in-memory cache with bounded size and per-entry TTL. Size
// is enforced by evicting the least-recently-used entry; entries move
// to the front of the LRU list on every Get.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    *list.List // front = most recently used
	maxSize  int
	hits     int
	misses   int
	evictions int
}

// New creates a Store bounded to maxSize entries. maxSize <= 0 falls
// back to 1000, matching the default capacity of the source cache this
// is grounded on.
func New(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Store{
		entries: make(map[string]*entry),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Get returns the cached value for key, if present and not expired.
func (s *Store) Get(_ context.Context, key string) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		s.misses++
		return nil, false, nil
	}
	if e.isExpired(time.Now()) {
		s.removeLocked(e)
		s.misses++
		return nil, false, nil
	}

	s.order.MoveToFront(e.elem)
	e.hitCount++
	s.hits++
	return e.value, true, nil
}

// Set stores value under key. ttlSeconds <= 0 means "until evicted".
func (s *Store) Set(_ context.Context, key string, value any, ttlSeconds int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var expiresAt time.Time
	if ttlSeconds > 0 {
		expiresAt = now.Add(time.Duration(ttlSeconds) * time.Second)
	}

	if existing, ok := s.entries[key]; ok {
		existing.value = value
		existing.expiresAt = expiresAt
		existing.createdAt = now
		s.order.MoveToFront(existing.elem)
		return nil
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt, createdAt: now}
	e.elem = s.order.PushFront(e)
	s.entries[key] = e

	if len(s.entries) > s.maxSize {
		s.evictLRULocked()
	}
	return nil
}

// Delete removes key from the cache, if present.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		s.removeLocked(e)
	}
	return nil
}

// Clear empties the cache.
func (s *Store) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
	s.order.Init()
	return nil
}

// removeLocked deletes e from both the map and the LRU list. Caller
// must hold s.mu.
func (s *Store) removeLocked(e *entry) {
	delete(s.entries, e.key)
	s.order.Remove(e.elem)
}

// evictLRULocked removes the least-recently-used entry. Caller must
// hold s.mu and must have already verified the cache is over capacity.
func (s *Store) evictLRULocked() {
	oldest := s.order.Back()
	if oldest == nil {
		return
	}
	s.removeLocked(oldest.Value.(*entry))
	s.evictions++
}

// Stats summarizes cache utilization.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      int
	Misses    int
	Evictions int
}

// Stats returns a point-in-time snapshot of cache counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Size:      len(s.entries),
		MaxSize:   s.maxSize,
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
	}
}
