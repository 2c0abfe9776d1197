// Package forward issues the upstream call for a request, with a tuned
// transport, per-call timeout, and a retry budget for transport-level
// faults only.
package forward

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/apigw/gateway/internal/model"
)

// Sentinel faults the orchestrator maps to status codes.
var (
	// ErrTimeout is an upstream deadline exceeded; never retried.
	ErrTimeout = errors.New("upstream timeout")
	// ErrTransport is a connection-level fault after the retry budget
	// is spent.
	ErrTransport = errors.New("upstream transport fault")
)

// Options tunes the upstream transport.
type Options struct {
	DialTimeout   time.Duration
	DialKeepAlive time.Duration

	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	MaxConnsPerHost     int // 0 = unlimited

	TLSHandshakeTimeout   time.Duration
	ExpectContinueTimeout time.Duration
}

// DefaultOptions mirrors battle-tested proxy settings.
func DefaultOptions() Options {
	return Options{
		DialTimeout:           5 * time.Second,
		DialKeepAlive:         60 * time.Second,
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   128,
		IdleConnTimeout:       90 * time.Second,
		MaxConnsPerHost:       0,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Forwarder sends a transformed request to its selected instance.
type Forwarder struct {
	rt http.RoundTripper
}

// New builds a forwarder with its own transport from opts.
func New(opts Options) *Forwarder {
	dialer := &net.Dialer{
		Timeout:   opts.DialTimeout,
		KeepAlive: opts.DialKeepAlive,
	}
	return &Forwarder{rt: &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          opts.MaxIdleConns,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       opts.IdleConnTimeout,
		MaxConnsPerHost:       opts.MaxConnsPerHost,
		TLSHandshakeTimeout:   opts.TLSHandshakeTimeout,
		ExpectContinueTimeout: opts.ExpectContinueTimeout,
	}}
}

// NewWithRoundTripper is for tests that need a fake transport.
func NewWithRoundTripper(rt http.RoundTripper) *Forwarder {
	return &Forwarder{rt: rt}
}

// Do forwards rc to rc.Instance, honoring rc.Timeout and the
// endpoint's retry budget. Retries cover connection-level faults only:
// a timeout returns ErrTimeout immediately and an application-level
// non-2xx is returned to the caller as-is. The instance's connection
// count is held for the duration of the attempt chain and released on
// every exit path.
func (f *Forwarder) Do(ctx context.Context, rc *model.RequestContext) (*model.Response, error) {
	inst := rc.Instance
	inst.AcquireConn()
	defer inst.ReleaseConn()

	if rc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.Timeout)
		defer cancel()
	}

	attempts := 1 + rc.Endpoint.RetryAttempts
	var lastErr error
	for i := 0; i < attempts; i++ {
		res, err := f.attempt(ctx, rc)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, ErrTimeout
		}
		lastErr = err
	}
	return nil, errors.Join(ErrTransport, lastErr)
}

func (f *Forwarder) attempt(ctx context.Context, rc *model.RequestContext) (*model.Response, error) {
	req := rc.Request
	base, err := url.Parse(rc.Instance.BaseURL)
	if err != nil {
		return nil, err
	}
	u := new(url.URL)
	*u = *base
	u.Path = joinSlash(base.Path, req.Path)
	u.RawQuery = req.Query.Encode()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	up, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, err
	}
	hdr := req.Header.Clone()
	if hdr == nil {
		hdr = make(http.Header)
	}
	dropHopByHop(hdr)
	addForwardedFor(hdr, req.ClientAddr)
	up.Header = hdr

	res, err := f.rt.RoundTrip(up)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	out := res.Header.Clone()
	dropHopByHop(out)
	return &model.Response{
		Status: res.StatusCode,
		Header: out,
		Body:   b,
	}, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func joinSlash(a, b string) string {
	as := strings.HasSuffix(a, "/")
	bs := strings.HasPrefix(b, "/")
	switch {
	case as && bs:
		return a + b[1:]
	case !as && !bs:
		return a + "/" + b
	default:
		return a + b
	}
}

var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Proxy-Connection":    {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"TE":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func dropHopByHop(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, k := range strings.Split(f, ",") {
			k = textproto.TrimString(k)
			if k != "" {
				h.Del(k)
			}
		}
	}
	for k := range hopByHop {
		h.Del(k)
	}
}

func addForwardedFor(h http.Header, remoteAddr string) {
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil || ip == "" {
		ip = remoteAddr
	}
	if ip == "" {
		return
	}
	const key = "X-Forwarded-For"
	if prior := h.Get(key); prior != "" {
		h.Set(key, prior+", "+ip)
	} else {
		h.Set(key, ip)
	}
}
