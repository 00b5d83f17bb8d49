// Package cache provides the boundary caches used for idempotent replay
// and per-tenant rate limiting.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/opensource-finance/claimguard/internal/domain"
)

const defaultLocalMaxSize = 10000

var errTenantRequired = errors.New("tenantID is required")

// LRUCache is the in-process cache. It holds idempotent score responses in
// LRU order and keeps rate-limit windows in a separate table so that a burst
// of stored responses cannot evict a tenant's counter. It is also the L1 of
// TwoPhaseCache.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string]*list.Element
	recency *list.List // front is most recently used
	windows map[string]*window
	now     func() time.Time
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// window is one fixed rate-limit window.
type window struct {
	count int64
	ends  time.Time
}

// NewLRUCache creates a cache holding at most maxSize responses and maxSize
// live rate-limit windows.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = defaultLocalMaxSize
	}
	return &LRUCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		recency: list.New(),
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Get returns the value for key, or nil when it is absent or expired.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, errTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[scopedKey(tenantID, key)]
	if !ok {
		return nil, nil
	}
	e := elem.Value.(*entry)
	if e.expired(c.now()) {
		c.drop(elem)
		return nil, nil
	}

	c.recency.MoveToFront(elem)
	return e.value, nil
}

// Set stores value under key. A non-positive ttl keeps the value until it
// is evicted, as Redis does.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return errTenantRequired
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	full := scopedKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[full]; ok {
		e := elem.Value.(*entry)
		e.value, e.expiresAt = value, expiresAt
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[full] = c.recency.PushFront(&entry{key: full, value: value, expiresAt: expiresAt})
	for c.recency.Len() > c.maxSize {
		c.drop(c.recency.Back())
	}
	return nil
}

// Delete removes key if present.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return errTenantRequired
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[scopedKey(tenantID, key)]; ok {
		c.drop(elem)
	}
	return nil
}

// GetResponse returns the score response stored under an idempotency key.
func (c *LRUCache) GetResponse(ctx context.Context, tenantID string, idempotencyKey string) (*domain.ScoreResponse, error) {
	data, err := c.Get(ctx, tenantID, responseKey(idempotencyKey))
	if err != nil || data == nil {
		return nil, err
	}
	return decodeResponse(data)
}

// SetResponse stores a score response under an idempotency key.
func (c *LRUCache) SetResponse(ctx context.Context, tenantID string, idempotencyKey string, resp *domain.ScoreResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return c.Set(ctx, tenantID, responseKey(idempotencyKey), data, ttl)
}

// IncrementCounter counts a hit in the tenant's current fixed window and
// returns the count so far. The first hit after a window ends opens a new one.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, length time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, errTenantRequired
	}

	full := scopedKey(tenantID, counterKey(key))
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.windows[full]; ok && !now.After(w.ends) {
		w.count++
		return w.count, nil
	}

	if len(c.windows) >= c.maxSize {
		c.sweepWindows(now)
	}
	c.windows[full] = &window{count: 1, ends: now.Add(length)}
	return 1, nil
}

// Ping always succeeds for the in-process cache.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops every entry and window.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.recency = list.New()
	c.windows = make(map[string]*window)
	return nil
}

// Stats returns the number of stored responses and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len(), c.maxSize
}

// sweepWindows removes closed windows. Caller holds mu.
func (c *LRUCache) sweepWindows(now time.Time) {
	for k, w := range c.windows {
		if now.After(w.ends) {
			delete(c.windows, k)
		}
	}
}

// drop unlinks one entry. Caller holds mu.
func (c *LRUCache) drop(elem *list.Element) {
	c.recency.Remove(elem)
	delete(c.entries, elem.Value.(*entry).key)
}

func scopedKey(tenantID, key string) string {
	return tenantID + ":" + key
}

func counterKey(key string) string {
	return "counter:" + key
}
