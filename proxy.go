package urlgate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Proxy is a forward proxy that gates traffic on the maliciousness of
// the requested URL. Plain HTTP requests are classified by their full
// URL; HTTPS CONNECT requests are classified by hostname only and then
// tunneled opaquely without any inspection of the encrypted bytes.
type Proxy struct {
	// Addr is the address to listen on (e.g., ":8888").
	Addr string

	// Decider runs the whitelist -> cache -> scorer pipeline.
	Decider *Decider

	// BlockPage renders the 403 page for blocked requests (optional,
	// uses the default page if nil).
	BlockPage *BlockPage

	// BlockLog appends the audit record for every block (optional).
	BlockLog *BlockLogger

	// AccessLog writes structured access log entries for each request
	// (optional).
	AccessLog *AccessLogger

	// Logger for proxy events.
	Logger *slog.Logger

	// Transport for outbound requests (optional). When nil, a
	// ForwardTransport with origin verification disabled is used.
	Transport http.RoundTripper

	// Metrics collects Prometheus metrics (optional).
	Metrics *Metrics

	// HealthChecker provides /healthz and /readyz endpoints (optional).
	HealthChecker *HealthChecker

	// Admin provides REST endpoints for runtime inspection (optional).
	// Requests matching the AdminAPI.PathPrefix are routed to the
	// admin handler instead of being proxied.
	Admin *AdminAPI

	// TunnelDialTimeout bounds the dial to a CONNECT target. Zero
	// means 10 seconds.
	TunnelDialTimeout time.Duration

	listener net.Listener
	srv      *http.Server

	transportOnce sync.Once
	transport     http.RoundTripper
}

// NewProxy creates a proxy listening on addr, gating through the given
// decision pipeline.
func NewProxy(addr string, decider *Decider) *Proxy {
	return &Proxy{
		Addr:    addr,
		Decider: decider,
		Logger:  slog.Default(),
	}
}

// ListenAndServe starts the proxy server.
func (p *Proxy) ListenAndServe() error {
	listener, err := net.Listen("tcp", p.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	p.listener = listener

	p.srv = &http.Server{
		Handler: p,
	}

	p.Logger.Info("proxy listening", "addr", p.Addr)
	return p.srv.Serve(listener)
}

// Shutdown gracefully stops the proxy.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.srv != nil {
		return p.srv.Shutdown(ctx)
	}
	return nil
}

// ServeHTTP handles incoming proxy requests.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Local endpoints answer only direct requests. Proxied requests
	// carry an absolute URI and must never reach the gateway's own
	// handlers, or any proxy client could hit the admin surface by
	// naming an arbitrary origin.
	if r.Method != http.MethodConnect && !r.URL.IsAbs() {
		if p.Metrics != nil && r.URL.Path == "/metrics" {
			p.Metrics.Handler().ServeHTTP(w, r)
			return
		}
		if p.HealthChecker != nil {
			switch r.URL.Path {
			case "/healthz":
				p.HealthChecker.HandleHealthz(w, r)
				return
			case "/readyz":
				p.HealthChecker.HandleReadyz(w, r)
				return
			}
		}
		if p.Admin != nil && strings.HasPrefix(r.URL.Path, p.Admin.PathPrefix) {
			p.Admin.ServeHTTP(w, r)
			return
		}
	}

	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
	} else {
		p.handleHTTP(w, r)
	}
}

// handleConnect handles HTTPS CONNECT requests. The hostname is
// classified before the tunnel is established; once established, the
// tunnel relays bytes opaquely in both directions with no further
// inspection.
func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	if p.Metrics != nil {
		p.Metrics.RecordRequest(r.Method, "https")
	}

	target := r.Host
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		// CONNECT targets without a port default to 443.
		host = target
		port = "443"
		target = net.JoinHostPort(host, port)
	}
	if host == "" {
		http.Error(w, "Invalid CONNECT target", http.StatusBadRequest)
		return
	}

	p.Logger.Debug("CONNECT", "host", host, "port", port)

	start := time.Now()
	decision := p.Decider.Decide(r.Context(), "https://"+host+"/")
	if !decision.Allow {
		p.Logger.Warn("malicious HTTPS site blocked", "host", host,
			"probability", decision.Result.Probability)
		if p.Metrics != nil {
			p.Metrics.RecordBlocked("proxy")
		}
		if !decision.Cached {
			p.appendBlockLog("https://"+host+"/", decision.Result.Probability, r)
		}
		p.logAccess(r, AccessLogEntry{
			Scheme:      "https",
			Blocked:     true,
			Probability: decision.Result.Probability,
			Duration:    time.Since(start),
		})
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	dialTimeout := p.TunnelDialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}
	originConn, err := net.DialTimeout("tcp", target, dialTimeout)
	if err != nil {
		p.Logger.Error("dial CONNECT target", "error", err, "target", target)
		if p.Metrics != nil {
			p.Metrics.RecordUpstreamError(host)
		}
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		_ = originConn.Close()
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		p.Logger.Error("hijack failed", "error", err)
		_ = originConn.Close()
		return
	}

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		p.Logger.Error("write connect response", "error", err)
		_ = clientConn.Close()
		_ = originConn.Close()
		return
	}

	p.logAccess(r, AccessLogEntry{
		Scheme:      "https",
		StatusCode:  http.StatusOK,
		Whitelisted: decision.Whitelisted,
		Duration:    time.Since(start),
	})

	p.tunnel(clientConn, originConn)
}

// tunnel relays bytes between the client and the origin until either
// side closes. The contents are never inspected.
func (p *Proxy) tunnel(clientConn, originConn net.Conn) {
	if p.Metrics != nil {
		p.Metrics.IncActiveTunnels()
		defer p.Metrics.DecActiveTunnels()
	}

	done := make(chan struct{}, 2)
	copyHalf := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		// Half-close so the peer sees EOF; full close happens below.
		if tc, ok := dst.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		done <- struct{}{}
	}

	go copyHalf(originConn, clientConn)
	go copyHalf(clientConn, originConn)

	<-done
	<-done
	_ = clientConn.Close()
	_ = originConn.Close()
}

// handleHTTP handles plain HTTP requests (non-CONNECT).
func (p *Proxy) handleHTTP(w http.ResponseWriter, r *http.Request) {
	if p.Metrics != nil {
		p.Metrics.RecordRequest(r.Method, "http")
	}

	requestURL, err := absoluteRequestURL(r)
	if err != nil {
		p.Logger.Debug("invalid proxy request", "error", err, "client", r.RemoteAddr)
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	p.Logger.Debug("HTTP", "method", r.Method, "url", requestURL)

	start := time.Now()
	decision := p.Decider.Decide(r.Context(), requestURL)
	if !decision.Allow {
		p.Logger.Warn("malicious URL blocked", "url", requestURL,
			"probability", decision.Result.Probability)
		if p.Metrics != nil {
			p.Metrics.RecordBlocked("proxy")
		}
		if !decision.Cached {
			p.appendBlockLog(requestURL, decision.Result.Probability, r)
		}
		p.writeBlockPage(w, requestURL, decision.Result.Probability)
		p.logAccess(r, AccessLogEntry{
			Scheme:      "http",
			Blocked:     true,
			Probability: decision.Result.Probability,
			Duration:    time.Since(start),
		})
		return
	}

	p.forward(w, r, requestURL, decision, start)
}

// forward replays an allowed request to its origin and relays the
// response back. The response body is fully read before relaying, so
// encoding-related headers are stripped to keep the client from
// double-decoding.
func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, requestURL string, decision Decision, start time.Time) {
	outReq := r.Clone(r.Context())
	outReq.RequestURI = ""
	if !outReq.URL.IsAbs() {
		outReq.URL.Scheme = "http"
		outReq.URL.Host = r.Host
	}
	outReq.Header.Del("Proxy-Connection")
	removeHopByHopHeaders(outReq.Header)

	resp, err := p.roundTripper().RoundTrip(outReq)
	if err != nil {
		p.Logger.Error("forward request", "error", err, "url", requestURL)
		if p.Metrics != nil {
			p.Metrics.RecordUpstreamError(outReq.URL.Hostname())
		}
		http.Error(w, fmt.Sprintf("Proxy Error: %v", err), http.StatusBadGateway)
		p.logAccess(r, AccessLogEntry{
			Scheme:   "http",
			Duration: time.Since(start),
			Error:    err.Error(),
		})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.Logger.Error("read origin response", "error", err, "url", requestURL)
		http.Error(w, fmt.Sprintf("Proxy Error: %v", err), http.StatusBadGateway)
		p.logAccess(r, AccessLogEntry{
			Scheme:   "http",
			Duration: time.Since(start),
			Error:    err.Error(),
		})
		return
	}

	if p.Metrics != nil {
		p.Metrics.RecordRequestDuration(r.Method, resp.StatusCode, time.Since(start))
	}

	// The body is decoded and fully in memory at this point; relaying
	// the original encoding headers would make the client decode it a
	// second time.
	for k, vv := range resp.Header {
		switch http.CanonicalHeaderKey(k) {
		case "Content-Encoding", "Transfer-Encoding", "Connection", "Content-Length":
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(resp.StatusCode)
	written, _ := w.Write(body)

	p.logAccess(r, AccessLogEntry{
		Scheme:       "http",
		StatusCode:   resp.StatusCode,
		BytesWritten: int64(written),
		Whitelisted:  decision.Whitelisted,
		Duration:     time.Since(start),
	})
}

// writeBlockPage renders the 403 response for a blocked request with
// explicit no-cache headers so the verdict is never served stale.
func (p *Proxy) writeBlockPage(w http.ResponseWriter, blockedURL string, probability float64) {
	blockPage := p.BlockPage
	if blockPage == nil {
		blockPage = NewBlockPage()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusForbidden)

	data := BlockPageData{
		URL:         blockedURL,
		Probability: probability,
		Timestamp:   time.Now().Format("2006-01-02 15:04:05"),
	}
	if err := blockPage.Render(w, data); err != nil {
		p.Logger.Error("render block page", "error", err)
	}
}

// appendBlockLog writes the audit record for a block on the proxy path.
func (p *Proxy) appendBlockLog(blockedURL string, probability float64, r *http.Request) {
	if p.BlockLog == nil {
		return
	}
	sourceIP := r.RemoteAddr
	if h, _, err := net.SplitHostPort(sourceIP); err == nil {
		sourceIP = h
	}
	p.BlockLog.Log(BlockLogEntry{
		URL:         blockedURL,
		Probability: probability,
		SourceIP:    sourceIP,
		UserAgent:   r.UserAgent(),
	})
}

func (p *Proxy) logAccess(r *http.Request, e AccessLogEntry) {
	if p.AccessLog == nil {
		return
	}
	e.Timestamp = time.Now()
	e.Method = r.Method
	e.Host = r.Host
	e.Path = r.URL.Path
	e.ClientAddr = r.RemoteAddr
	e.UserAgent = r.UserAgent()
	p.AccessLog.Log(e)
}

func (p *Proxy) roundTripper() http.RoundTripper {
	if p.Transport != nil {
		return p.Transport
	}
	p.transportOnce.Do(func() {
		p.transport = NewForwardTransport().Transport()
	})
	return p.transport
}

// absoluteRequestURL reconstructs the full URL of a proxied request.
// Proxy clients send an absolute-URI request line; clients that send
// only a path are resolved against the Host header. Neither being
// present is a 400.
func absoluteRequestURL(r *http.Request) (string, error) {
	if r.URL.IsAbs() {
		return r.URL.String(), nil
	}
	if r.Host != "" {
		return "http://" + r.Host + r.URL.RequestURI(), nil
	}
	return "", fmt.Errorf("request URL not derivable: no host")
}

// Hop-by-hop headers that must not be forwarded to the origin.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopByHopHeaders(h http.Header) {
	for _, header := range hopByHopHeaders {
		h.Del(header)
	}
}
