package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	appErrors "github.com/noah-isme/assessment-stats-api/pkg/errors"
)

// DefaultMemoryCacheEntries bounds a memory cache built with a non-positive size.
const DefaultMemoryCacheEntries = 1024

type memoryEntry struct {
	payload []byte
	expires time.Time
}

// MemoryCacheRepository is an in-process cache of JSON payloads with a TTL
// per entry and a bounded entry count. Expired entries are swept lazily on
// access and whenever a write finds the cache full.
type MemoryCacheRepository struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	maxEntries int
	now        func() time.Time
}

// NewMemoryCacheRepository constructs a memory cache holding up to maxEntries keys.
func NewMemoryCacheRepository(maxEntries int) *MemoryCacheRepository {
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryCacheEntries
	}
	return &MemoryCacheRepository{
		entries:    make(map[string]memoryEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get decodes the cached value for key into dest.
func (r *MemoryCacheRepository) Get(_ context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if ok && !entry.expires.IsZero() && !r.now().Before(entry.expires) {
		delete(r.entries, key)
		ok = false
	}
	r.mu.Unlock()
	if !ok {
		return appErrors.ErrCacheMiss
	}

	if err := json.Unmarshal(entry.payload, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set stores value under key. A non-positive ttl keeps the entry until it is
// evicted or invalidated.
func (r *MemoryCacheRepository) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if _, exists := r.entries[key]; !exists && len(r.entries) >= r.maxEntries {
		r.sweepLocked(now)
		if len(r.entries) >= r.maxEntries {
			r.evictOldestLocked()
		}
	}

	entry := memoryEntry{payload: payload}
	if ttl > 0 {
		entry.expires = now.Add(ttl)
	}
	r.entries[key] = entry
	return nil
}

// DeleteByPattern removes keys matching a glob pattern such as
// "aggregation:G9-2025:*".
func (r *MemoryCacheRepository) DeleteByPattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("invalid cache pattern %s: %w", pattern, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.entries {
		if ok, _ := path.Match(pattern, key); ok {
			delete(r.entries, key)
		}
	}
	return nil
}

// Len returns the number of live entries.
func (r *MemoryCacheRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(r.now())
	return len(r.entries)
}

func (r *MemoryCacheRepository) sweepLocked(now time.Time) {
	for key, entry := range r.entries {
		if !entry.expires.IsZero() && !now.Before(entry.expires) {
			delete(r.entries, key)
		}
	}
}

// evictOldestLocked drops the entry closest to expiry; entries without a
// TTL go last.
func (r *MemoryCacheRepository) evictOldestLocked() {
	var (
		victim string
		oldest time.Time
		found  bool
	)
	for key, entry := range r.entries {
		if entry.expires.IsZero() {
			if !found {
				victim, found = key, true
			}
			continue
		}
		if !found || oldest.IsZero() || entry.expires.Before(oldest) {
			victim, oldest, found = key, entry.expires, true
		}
	}
	if found {
		delete(r.entries, victim)
	}
}
