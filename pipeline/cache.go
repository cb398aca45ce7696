package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL is used when CacheFactory.TTL is not set.
const DefaultCacheTTL = time.Minute

// DefaultCacheVaryHeaders are the request headers that select a cache entry
// when CacheFactory.VaryHeaders is nil. Authorization always does.
var DefaultCacheVaryHeaders = []string{"Accept", "Accept-Encoding", "Accept-Language"}

// CacheStore persists encoded responses for the cache policy.
type CacheStore interface {
	// Get returns the stored value and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value for ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisCacheStore is a CacheStore backed by Redis.
type RedisCacheStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCacheStore creates a Redis-backed store. Keys are namespaced with
// prefix, e.g. "restpipe:cache:".
func NewRedisCacheStore(client redis.UniversalClient, prefix string) *RedisCacheStore {
	return &RedisCacheStore{client: client, prefix: prefix}
}

// Get implements CacheStore.
func (s *RedisCacheStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set implements CacheStore.
func (s *RedisCacheStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+key, value, ttl).Err()
}

// MemoryCacheStore is an in-process CacheStore.
type MemoryCacheStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryCacheStore creates an empty in-process store.
func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get implements CacheStore. Expired entries are evicted on read.
func (s *MemoryCacheStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set implements CacheStore. A ttl of zero never expires.
func (s *MemoryCacheStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// cachedResponse is the stored form of a response.
type cachedResponse struct {
	StatusCode int         `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
}

func (c *cachedResponse) toResponse(req *Request) *Response {
	resp := NewResponse(req, c.StatusCode, c.Header.Clone(), io.NopCloser(bytes.NewReader(c.Body)))
	resp.ContentLength = int64(len(c.Body))
	return resp
}

// CacheFactory creates policies that serve GET requests from a store and
// coalesce concurrent identical GETs into one call to the successor.
//
// Only 2xx responses are stored. Store failures are logged and the request
// falls through to the successor. Requests that differ only in query
// parameter order share an entry; requests with different Authorization or
// VaryHeaders values never do. Range and conditional (If-*) requests bypass
// the cache entirely.
//
// A coalesced call runs detached from the cancellation of the caller that
// started it, keeping that caller's deadline. Each caller stops waiting when
// its own context is done.
//
// Example:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	pipeline.CacheFactory{
//	    Store: pipeline.NewRedisCacheStore(rdb, "restpipe:cache:"),
//	    TTL:   30 * time.Second,
//	}
type CacheFactory struct {
	// Store holds cached entries. If nil, only coalescing is performed.
	Store CacheStore

	// TTL bounds the lifetime of stored entries.
	// Default: DefaultCacheTTL
	TTL time.Duration

	// VaryHeaders are request headers whose values are part of the cache
	// key, e.g. "x-ms-version".
	// Default: DefaultCacheVaryHeaders
	VaryHeaders []string
}

// Create implements Factory.
func (f CacheFactory) Create(next Policy, opts *Options) Policy {
	if opts == nil {
		opts = NewOptions()
	}
	ttl := f.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	vary := f.VaryHeaders
	if vary == nil {
		vary = DefaultCacheVaryHeaders
	}
	canonical := make([]string, len(vary))
	for i, h := range vary {
		canonical[i] = http.CanonicalHeaderKey(h)
	}
	sort.Strings(canonical)

	return &cachePolicy{
		next:  next,
		opts:  opts,
		store: f.Store,
		ttl:   ttl,
		vary:  canonical,
		group: &singleflight.Group{},
	}
}

type cachePolicy struct {
	next  Policy
	opts  *Options
	store CacheStore
	ttl   time.Duration
	vary  []string
	group *singleflight.Group
}

// cacheable reports whether req may be served from or stored in the cache.
func cacheable(req *Request) bool {
	if req.Method != http.MethodGet {
		return false
	}
	for name := range req.Header {
		name = http.CanonicalHeaderKey(name)
		if name == "Range" || strings.HasPrefix(name, "If-") {
			return false
		}
	}
	return true
}

func (p *cachePolicy) Send(ctx context.Context, req *Request) (*Response, error) {
	if !cacheable(req) {
		return p.next.Send(ctx, req)
	}

	key := cacheKey(req, p.vary)
	logger := p.opts.Logger

	if p.store != nil {
		data, ok, err := p.store.Get(ctx, key)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("url", req.URL).Msg("cache lookup failed")
		case ok:
			var entry cachedResponse
			if err := json.Unmarshal(data, &entry); err == nil {
				return entry.toResponse(req), nil
			}
			logger.Warn().Str("url", req.URL).Msg("discarding undecodable cache entry")
		}
	}

	ch := p.group.DoChan(key, func() (interface{}, error) {
		shared, cancel := detach(ctx)
		defer cancel()

		resp, err := p.next.Send(shared, req)
		if err != nil || resp == nil {
			return nil, err
		}
		body, err := resp.Bytes()
		if err != nil {
			return nil, err
		}
		entry := &cachedResponse{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
		}
		if p.store != nil && resp.IsSuccess() {
			p.save(shared, key, entry)
		}
		return entry, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		entry, _ := res.Val.(*cachedResponse)
		if entry == nil {
			return nil, nil
		}
		// Every caller gets its own Response over the shared buffered entry.
		return entry.toResponse(req), nil
	case <-ctx.Done():
		return nil, &TransportError{Method: req.Method, URL: req.URL, Err: ctx.Err()}
	}
}

// detach returns a context that keeps the values and deadline of ctx but not
// its cancellation.
func detach(ctx context.Context) (context.Context, context.CancelFunc) {
	shared := context.WithoutCancel(ctx)
	if deadline, ok := ctx.Deadline(); ok {
		return context.WithDeadline(shared, deadline)
	}
	return shared, func() {}
}

func (p *cachePolicy) save(ctx context.Context, key string, entry *cachedResponse) {
	data, err := json.Marshal(entry)
	if err == nil {
		err = p.store.Set(ctx, key, data, p.ttl)
	}
	if err != nil {
		p.opts.Logger.Warn().Err(err).Msg("cache store failed")
	}
}

// cacheKey normalizes the request URL (sorted query parameters) and mixes in
// the vary header values and a hash of the Authorization header. vary must be
// canonical and sorted.
func cacheKey(req *Request, vary []string) string {
	parts := []string{req.Method}

	u, err := url.Parse(req.URL)
	if err != nil {
		parts = append(parts, req.URL)
	} else {
		var params []string
		for k, values := range u.Query() {
			sort.Strings(values)
			for _, v := range values {
				params = append(params, k+"="+v)
			}
		}
		sort.Strings(params)
		parts = append(parts, u.Scheme+"://"+u.Host+u.Path, strings.Join(params, "&"))
	}

	for _, h := range vary {
		if values := req.Header.Values(h); len(values) > 0 {
			parts = append(parts, h+"="+strings.Join(values, ","))
		}
	}
	if auth := req.Header.Get("Authorization"); auth != "" {
		parts = append(parts, hashString(auth))
	}

	return hashString(strings.Join(parts, "|"))
}

// hashString creates a SHA256 hash of the input string.
func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return hex.EncodeToString(hash[:])
}
