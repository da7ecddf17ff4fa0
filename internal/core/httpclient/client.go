// Package httpclient builds the outbound clients that talk to POI upstreams.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// DefaultUserAgent identifies requests to public upstreams; the Overpass
// usage policy asks clients to name themselves.
const DefaultUserAgent = "poi-viewport-cache/1"

type settings struct {
	timeout     time.Duration
	userAgent   string
	maxPerHost  int
	idlePerHost int
}

type Option func(*settings)

// WithTimeout caps a whole exchange, body included.
func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

func WithUserAgent(ua string) Option { return func(s *settings) { s.userAgent = ua } }

// WithMaxConnsPerHost bounds concurrent connections to one upstream. Zero
// leaves it unbounded.
func WithMaxConnsPerHost(n int) Option {
	return func(s *settings) {
		s.maxPerHost = n
		if n > 0 && n < s.idlePerHost {
			s.idlePerHost = n
		}
	}
}

// NewOutbound returns a client with pooled keep-alive connections.
func NewOutbound(opts ...Option) *http.Client {
	s := settings{
		timeout:     30 * time.Second,
		userAgent:   DefaultUserAgent,
		idlePerHost: 128,
	}
	for _, o := range opts {
		o(&s)
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   s.idlePerHost,
		MaxConnsPerHost:       s.maxPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	var rt http.RoundTripper = transport
	if s.userAgent != "" {
		rt = userAgent{ua: s.userAgent, next: transport}
	}
	return &http.Client{Transport: rt, Timeout: s.timeout}
}

// userAgent fills in the header when the caller left it empty.
type userAgent struct {
	ua   string
	next http.RoundTripper
}

func (u userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", u.ua)
	return u.next.RoundTrip(r)
}
