package urlgate

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync/atomic"
	"time"
)

// ForwardTransport is the connection-pooled transport used to replay
// allowed requests to their origins. Certificate validation toward
// origins is disabled by default: the gateway must tolerate arbitrary
// intercepted origins, including ones with self-signed or mismatched
// certificates. The trust decision for the request happened in the
// classification gate, not at the transport.
type ForwardTransport struct {
	// VerifyOrigins re-enables TLS certificate validation toward
	// origins.
	VerifyOrigins bool

	// MaxIdleConns is the total maximum number of idle connections
	// across all hosts. Zero means the pool default (200).
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum number of idle connections
	// per host. Zero means the pool default (10).
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long an idle connection remains in the
	// pool before being closed. Zero means 90 seconds.
	IdleConnTimeout time.Duration

	// DialTimeout is the maximum time to wait for a TCP dial to an
	// origin. Zero means 30 seconds.
	DialTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake with an origin.
	// Zero means 10 seconds.
	TLSHandshakeTimeout time.Duration

	// ResponseHeaderTimeout is the maximum time to wait for an
	// origin's response headers. Zero means 60 seconds.
	ResponseHeaderTimeout time.Duration

	transport atomic.Pointer[http.Transport]

	stats transportStats
}

type transportStats struct {
	totalRequests  atomic.Int64
	activeRequests atomic.Int64
}

// NewForwardTransport creates a transport with forward-proxy defaults.
func NewForwardTransport() *ForwardTransport {
	return &ForwardTransport{
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		DialTimeout:           30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
	}
}

// Build creates the underlying http.Transport. Safe to call multiple
// times; each call creates a fresh transport and closes idle
// connections on the previous one.
func (ft *ForwardTransport) Build() *http.Transport {
	dialTimeout := ft.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 30 * time.Second
	}
	maxIdle := ft.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 200
	}
	maxIdlePerHost := ft.MaxIdleConnsPerHost
	if maxIdlePerHost == 0 {
		maxIdlePerHost = 10
	}
	idleTimeout := ft.IdleConnTimeout
	if idleTimeout == 0 {
		idleTimeout = 90 * time.Second
	}
	handshakeTimeout := ft.TLSHandshakeTimeout
	if handshakeTimeout == 0 {
		handshakeTimeout = 10 * time.Second
	}
	headerTimeout := ft.ResponseHeaderTimeout
	if headerTimeout == 0 {
		headerTimeout = 60 * time.Second
	}

	t := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       &tls.Config{InsecureSkipVerify: !ft.VerifyOrigins},
		MaxIdleConns:          maxIdle,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       idleTimeout,
		TLSHandshakeTimeout:   handshakeTimeout,
		ResponseHeaderTimeout: headerTimeout,
	}

	if old := ft.transport.Swap(t); old != nil {
		old.CloseIdleConnections()
	}

	return t
}

// Transport returns an http.RoundTripper wrapping the pooled transport
// with request counting. Build is called automatically on first use.
func (ft *ForwardTransport) Transport() http.RoundTripper {
	if ft.transport.Load() == nil {
		ft.Build()
	}
	return &forwardRoundTripper{ft: ft}
}

// CloseIdleConnections closes all idle connections in the pool.
func (ft *ForwardTransport) CloseIdleConnections() {
	if t := ft.transport.Load(); t != nil {
		t.CloseIdleConnections()
	}
}

// Stats returns a snapshot of transport statistics.
func (ft *ForwardTransport) Stats() ForwardTransportStats {
	return ForwardTransportStats{
		TotalRequests:  ft.stats.totalRequests.Load(),
		ActiveRequests: ft.stats.activeRequests.Load(),
	}
}

// ForwardTransportStats holds a snapshot of forwarding statistics.
type ForwardTransportStats struct {
	TotalRequests  int64
	ActiveRequests int64
}

type forwardRoundTripper struct {
	ft *ForwardTransport
}

func (rt *forwardRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.ft.stats.totalRequests.Add(1)
	rt.ft.stats.activeRequests.Add(1)
	defer rt.ft.stats.activeRequests.Add(-1)

	t := rt.ft.transport.Load()
	if t == nil {
		t = rt.ft.Build()
	}

	return t.RoundTrip(req)
}
