// Package cache stores previously computed responses keyed by a
// normalized request fingerprint.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/apigw/gateway/internal/model"
	"github.com/apigw/gateway/internal/store"
)

// DefaultTTL applies when an endpoint enables caching without a TTL.
const DefaultTTL = 300 * time.Second

// fingerprintHeaders is the fixed whitelist of headers that influence
// the cache key. Including authorization makes entries per-credential.
var fingerprintHeaders = []string{"accept", "content-type", "authorization"}

// Cache is a thin layer over the shared store; entries are JSON-encoded
// CachedResponse values. Expiry is the store's concern.
type Cache struct {
	store store.Store
}

// New returns a cache backed by s.
func New(s store.Store) *Cache {
	return &Cache{store: s}
}

// Fingerprint derives the stable cache key of a request: method, path,
// sorted query pairs, and whitelisted header values. Header and query
// order never change the result.
func Fingerprint(req *model.Request) string {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(req.Method)))
	h.Write([]byte{0})
	h.Write([]byte(req.Path))
	h.Write([]byte{0})

	pairs := make([]string, 0, len(req.Query))
	for k, vs := range req.Query {
		for _, v := range vs {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)
	for _, p := range pairs {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}

	for _, name := range fingerprintHeaders {
		if v := req.Header.Get(name); v != "" {
			h.Write([]byte(name + ":" + v))
			h.Write([]byte{0})
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the entry at key, if present and unexpired.
func (c *Cache) Get(ctx context.Context, key string) (*model.CachedResponse, bool, error) {
	b, ok, err := c.store.Get(ctx, "cache:"+key)
	if err != nil || !ok {
		return nil, false, err
	}
	var entry model.CachedResponse
	if err := json.Unmarshal(b, &entry); err != nil {
		// A corrupt entry is treated as absent.
		return nil, false, nil
	}
	return &entry, true, nil
}

// Set writes the entry with the given ttl; ttl <= 0 uses DefaultTTL.
func (c *Cache) Set(ctx context.Context, key string, entry *model.CachedResponse, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, "cache:"+key, b, ttl)
}

// Delete removes the entry at key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Del(ctx, "cache:"+key)
}

// Cacheable reports whether a response may be written to the cache:
// only successful responses to idempotent GETs are eligible.
func Cacheable(method string, status int) bool {
	return strings.EqualFold(method, "GET") && status >= 200 && status < 300
}
