package urlgate

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// AdminAPI provides REST endpoints for inspecting and managing the
// gateway at runtime: status and block statistics, whitelist entries,
// recent block records, and a manual detection-engine reload.
//
// The API is mounted at a configurable path prefix (default "/api")
// and uses [chi] for routing. All endpoints return JSON.
type AdminAPI struct {
	// Proxy is the gateway instance to manage.
	Proxy *Proxy

	// ReloadNotifier is invoked by POST /api/reload to signal the
	// detection engine. If nil, the endpoint returns 501.
	ReloadNotifier ReloadNotifier

	// Logger for admin API events.
	Logger *slog.Logger

	// PathPrefix is the URL path prefix for admin routes (default
	// "/api").
	PathPrefix string

	router chi.Router
}

// NewAdminAPI creates an AdminAPI wired to the given proxy.
func NewAdminAPI(proxy *Proxy) *AdminAPI {
	a := &AdminAPI{
		Proxy:      proxy,
		Logger:     slog.Default(),
		PathPrefix: "/api",
	}
	a.buildRouter()
	return a
}

func (a *AdminAPI) buildRouter() {
	r := chi.NewRouter()
	r.Use(middleware.SetHeader("Content-Type", "application/json"))

	r.Get("/status", a.handleStatus)
	r.Get("/stats", a.handleStats)
	r.Get("/whitelist", a.handleListWhitelist)
	r.Post("/whitelist", a.handleAddWhitelist)
	r.Get("/blocked", a.handleRecentBlocks)
	r.Post("/reload", a.handleReload)

	a.router = r
}

// Handler returns an http.Handler for the admin API routes.
func (a *AdminAPI) Handler() http.Handler {
	return http.StripPrefix(a.PathPrefix, a.router)
}

// ServeHTTP implements http.Handler by delegating to the internal chi
// router after stripping the path prefix.
func (a *AdminAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.Handler().ServeHTTP(w, r)
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Status         string `json:"status"`
	WhitelistCount int    `json:"whitelist_count"`
	BlockedCached  int    `json:"blocked_cached"`
	Uptime         string `json:"uptime,omitempty"`
}

// WhitelistResponse is returned by GET /api/whitelist.
type WhitelistResponse struct {
	Count   int      `json:"count"`
	Domains []string `json:"domains"`
}

// WhitelistRequest is the body for POST /api/whitelist.
type WhitelistRequest struct {
	Domain string `json:"domain"`
}

// BlockedResponse is returned by GET /api/blocked.
type BlockedResponse struct {
	Count   int             `json:"count"`
	Entries []BlockLogEntry `json:"entries"`
}

// ErrorResponse is returned for error conditions.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is returned for successful mutations.
type MessageResponse struct {
	Message string `json:"message"`
}

func (a *AdminAPI) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Status:         "ok",
		WhitelistCount: a.Proxy.Decider.Whitelist().Count(),
		BlockedCached:  a.Proxy.Decider.Cache.Len(),
	}

	if a.Proxy.HealthChecker != nil {
		resp.Uptime = time.Since(a.Proxy.HealthChecker.startTime).Truncate(time.Second).String()
	}

	a.writeJSON(w, http.StatusOK, resp)
}

func (a *AdminAPI) handleStats(w http.ResponseWriter, _ *http.Request) {
	if a.Proxy.BlockLog == nil {
		a.writeJSON(w, http.StatusOK, BlockStats{})
		return
	}

	stats, err := a.Proxy.BlockLog.Stats(time.Now())
	if err != nil {
		a.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, stats)
}

func (a *AdminAPI) handleListWhitelist(w http.ResponseWriter, _ *http.Request) {
	domains := a.Proxy.Decider.Whitelist().Domains()
	a.writeJSON(w, http.StatusOK, WhitelistResponse{Count: len(domains), Domains: domains})
}

func (a *AdminAPI) handleAddWhitelist(w http.ResponseWriter, r *http.Request) {
	var req WhitelistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Domain == "" {
		a.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "domain is required"})
		return
	}

	a.Proxy.Decider.Whitelist().AddDomain(req.Domain)
	a.Logger.Info("domain whitelisted via admin API", "domain", req.Domain)
	a.writeJSON(w, http.StatusCreated, MessageResponse{Message: "domain added"})
}

func (a *AdminAPI) handleRecentBlocks(w http.ResponseWriter, r *http.Request) {
	if a.Proxy.BlockLog == nil {
		a.writeJSON(w, http.StatusOK, BlockedResponse{Entries: []BlockLogEntry{}})
		return
	}

	entries, err := a.Proxy.BlockLog.ReadEntries()
	if err != nil {
		a.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			limit = n
		}
	}
	// Most recent entries are at the tail of the append-only log.
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	if entries == nil {
		entries = []BlockLogEntry{}
	}

	a.writeJSON(w, http.StatusOK, BlockedResponse{Count: len(entries), Entries: entries})
}

func (a *AdminAPI) handleReload(w http.ResponseWriter, _ *http.Request) {
	if a.ReloadNotifier == nil {
		a.writeJSON(w, http.StatusNotImplemented, ErrorResponse{Error: "reload not configured"})
		return
	}

	if err := a.ReloadNotifier.NotifyReload(); err != nil {
		a.Logger.Error("admin API reload failed", "error", err)
		a.writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "reload failed: " + err.Error()})
		return
	}

	a.Logger.Info("detection engine reload requested via admin API")
	a.writeJSON(w, http.StatusOK, MessageResponse{Message: "reload signaled"})
}

func (a *AdminAPI) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.Logger.Error("encode admin response", "error", err)
	}
}
