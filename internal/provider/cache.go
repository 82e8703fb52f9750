package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheEntry is one cached fetch result.
type cacheEntry struct {
	FetchedAt time.Time
	Items     []json.RawMessage
}

// FetchFunc performs the underlying provider invocation (HTTP or
// tool-server, via the runner/client manager) on a cache miss.
type FetchFunc func(ctx context.Context, providerID string, args map[string]any) ([]json.RawMessage, error)

type inflightCall struct {
	done   chan struct{}
	result []json.RawMessage
	err    error
}

// Registry is the TTL-indexed, in-flight-deduplicated value-provider
// cache. The backing store is a bounded LRU (capacity provided by the
// caller); TTL freshness is checked on top of an LRU hit, so a stale
// entry behaves as a miss even while still resident.
type Registry struct {
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
	fetch FetchFunc

	mu       sync.Mutex
	inflight map[string]*inflightCall
}

// NewRegistry builds a provider registry with the given cache capacity
// and TTL, fetching on misses via fetch.
func NewRegistry(capacity int, ttl time.Duration, fetch FetchFunc) (*Registry, error) {
	cache, err := lru.New[string, cacheEntry](capacity)
	if err != nil {
		return nil, err
	}
	return &Registry{cache: cache, ttl: ttl, fetch: fetch, inflight: map[string]*inflightCall{}}, nil
}

// Key computes the stable cache key for a (provider_id, args) pair: a
// hash of the provider id and its canonicalised argument map (keys
// sorted before hashing, so argument order never affects the key).
func Key(providerID string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	canon := make(map[string]any, len(args))
	for _, k := range keys {
		canon[k] = args[k]
	}
	payload, _ := json.Marshal(struct {
		Provider string         `json:"provider"`
		Args     map[string]any `json:"args"`
	}{Provider: providerID, Args: canon})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// FetchValues returns cached values if fresh, otherwise issues (or
// joins an in-flight) underlying fetch and caches the result.
func (r *Registry) FetchValues(ctx context.Context, providerID string, args map[string]any) ([]json.RawMessage, error) {
	key := Key(providerID, args)

	if entry, ok := r.cache.Get(key); ok && time.Since(entry.FetchedAt) < r.ttl {
		return entry.Items, nil
	}

	r.mu.Lock()
	if call, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		<-call.done
		return call.result, call.err
	}
	call := &inflightCall{done: make(chan struct{})}
	r.inflight[key] = call
	r.mu.Unlock()

	result, err := r.fetch(ctx, providerID, args)
	if err == nil {
		r.cache.Add(key, cacheEntry{FetchedAt: time.Now(), Items: result})
	}
	call.result, call.err = result, err
	close(call.done)

	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()

	return result, err
}

// LookupResult is the outcome of a non-blocking CachedLookupOrPlan call.
type LookupResult struct {
	Hit     bool
	Items   []json.RawMessage
	Pending <-chan struct{}
}

// CachedLookupOrPlan returns a cache hit immediately if fresh, otherwise
// kicks off a background fetch and returns a Pending channel the caller
// can poll/select on without blocking its own render thread.
func (r *Registry) CachedLookupOrPlan(ctx context.Context, providerID string, args map[string]any) LookupResult {
	key := Key(providerID, args)
	if entry, ok := r.cache.Get(key); ok && time.Since(entry.FetchedAt) < r.ttl {
		return LookupResult{Hit: true, Items: entry.Items}
	}
	done := make(chan struct{})
	go func() {
		_, _ = r.FetchValues(ctx, providerID, args)
		close(done)
	}()
	return LookupResult{Hit: false, Pending: done}
}

// Invalidate drops a cached entry, forcing the next fetch to miss.
func (r *Registry) Invalidate(providerID string, args map[string]any) {
	r.cache.Remove(Key(providerID, args))
}
