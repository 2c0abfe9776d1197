package cache

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/apigw/gateway/internal/model"
	"github.com/apigw/gateway/internal/store"
)

func request(method, path, rawQuery string, header http.Header) *model.Request {
	q, _ := url.ParseQuery(rawQuery)
	if header == nil {
		header = make(http.Header)
	}
	return &model.Request{Method: method, Path: path, Query: q, Header: header}
}

func TestFingerprint_QueryOrderInsensitive(t *testing.T) {
	a := Fingerprint(request("GET", "/api/v1/users", "a=1&b=2", nil))
	b := Fingerprint(request("GET", "/api/v1/users", "b=2&a=1", nil))
	require.Equal(t, a, b)

	c := Fingerprint(request("GET", "/api/v1/users", "a=1&b=3", nil))
	require.NotEqual(t, a, c)
}

func TestFingerprint_HeaderWhitelist(t *testing.T) {
	h1 := make(http.Header)
	h1.Set("Accept", "application/json")
	h1.Set("X-Custom", "ignored")

	h2 := make(http.Header)
	h2.Set("Accept", "application/json")

	require.Equal(t,
		Fingerprint(request("GET", "/p", "", h1)),
		Fingerprint(request("GET", "/p", "", h2)),
		"non-whitelisted headers must not influence the key")

	h3 := make(http.Header)
	h3.Set("Accept", "text/html")
	require.NotEqual(t,
		Fingerprint(request("GET", "/p", "", h1)),
		Fingerprint(request("GET", "/p", "", h3)))

	// Authorization is part of the whitelist: entries are per-credential.
	h4 := make(http.Header)
	h4.Set("Authorization", "Bearer one")
	h5 := make(http.Header)
	h5.Set("Authorization", "Bearer two")
	require.NotEqual(t,
		Fingerprint(request("GET", "/p", "", h4)),
		Fingerprint(request("GET", "/p", "", h5)))
}

func TestFingerprint_MethodAndPath(t *testing.T) {
	g := Fingerprint(request("GET", "/p", "", nil))
	require.NotEqual(t, g, Fingerprint(request("POST", "/p", "", nil)))
	require.NotEqual(t, g, Fingerprint(request("GET", "/q", "", nil)))
	require.Equal(t, g, Fingerprint(request("get", "/p", "", nil)), "method is case-insensitive")
}

func TestCache_SetGetDelete(t *testing.T) {
	c := New(store.NewMemory())
	ctx := context.Background()

	entry := &model.CachedResponse{
		Status: 200,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"ok":true}`),
	}
	require.NoError(t, c.Set(ctx, "fp", entry, time.Minute))

	got, ok, err := c.Get(ctx, "fp")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 200, got.Status)
	require.Equal(t, entry.Body, got.Body)
	require.Equal(t, "application/json", got.Header.Get("Content-Type"))

	require.NoError(t, c.Delete(ctx, "fp"))
	_, ok, err = c.Get(ctx, "fp")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(store.NewMemory())
	ctx := context.Background()

	entry := &model.CachedResponse{Status: 200, Body: []byte("x")}
	require.NoError(t, c.Set(ctx, "fp", entry, 20*time.Millisecond))

	_, ok, _ := c.Get(ctx, "fp")
	require.True(t, ok)

	time.Sleep(40 * time.Millisecond)
	_, ok, _ = c.Get(ctx, "fp")
	require.False(t, ok, "expired entries are absent")
}

func TestCacheable(t *testing.T) {
	require.True(t, Cacheable("GET", 200))
	require.True(t, Cacheable("get", 204))
	require.False(t, Cacheable("POST", 200), "only idempotent GETs are written")
	require.False(t, Cacheable("GET", 404))
	require.False(t, Cacheable("GET", 500))
}
