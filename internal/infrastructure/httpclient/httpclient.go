// Package httpclient builds the single outbound *http.Client shared by every
// myStrom device client. Devices are plain-HTTP plugs on the LAN, so the
// transport keeps a few idle connections per host and fails dials fast.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Transport defaults for LAN device traffic.
const (
	DefaultDialTimeout     = 5 * time.Second
	DefaultKeepAlive       = 30 * time.Second
	DefaultResponseHeader  = 10 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second

	DefaultMaxIdleConns        = 32
	DefaultMaxIdleConnsPerHost = 2

	// DefaultMaxConnsPerHost stays low: the plugs' embedded web servers
	// handle very few concurrent connections.
	DefaultMaxConnsPerHost = 4

	// DefaultTimeout is a backstop; device clients also bound every call
	// with their own context deadline.
	DefaultTimeout = 30 * time.Second
)

// Option configures a client built by New.
type Option func(*options)

type options struct {
	timeout   time.Duration
	userAgent string
	transport http.RoundTripper
}

// WithTimeout overrides the backstop request timeout. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(o *options) { o.userAgent = ua }
}

// WithTransport replaces the default transport, mainly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// NewTransport creates the pooled transport used for device traffic.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: nil, // devices are always on the local network
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAlive,
		}).DialContext,
		ResponseHeaderTimeout: DefaultResponseHeader,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		MaxConnsPerHost:       DefaultMaxConnsPerHost,
	}
}

// New builds the shared client. The caller owns it and its transport;
// device clients only borrow it per request.
func New(opts ...Option) *http.Client {
	o := &options{
		timeout:   DefaultTimeout,
		userAgent: "gray-logic-mystrom",
	}
	for _, opt := range opts {
		opt(o)
	}

	rt := o.transport
	if rt == nil {
		rt = NewTransport()
	}
	if o.userAgent != "" {
		rt = &userAgentTransport{base: rt, userAgent: o.userAgent}
	}

	return &http.Client{
		Timeout:   o.timeout,
		Transport: rt,
	}
}

// userAgentTransport sets User-Agent on requests that do not carry one.
type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(r)
}

// CloseIdle releases pooled connections of a client built by New. It is
// called once at shutdown by the owner.
func CloseIdle(c *http.Client) {
	if c != nil {
		c.CloseIdleConnections()
	}
}
