// Package httpapi implements the orchestrator's client- and
// worker-facing HTTP surface: job CRUD, the claim dispatcher's HTTP
// face, auth, and the WebSocket log stream.
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/alloybuild/orchestrator/internal/authsvc"
	"github.com/alloybuild/orchestrator/internal/events"
	"github.com/alloybuild/orchestrator/internal/logstream"
	"github.com/alloybuild/orchestrator/internal/objectstore"
	"github.com/alloybuild/orchestrator/internal/ratelimit"
	"github.com/alloybuild/orchestrator/internal/store"
)

// Deps collects every component the HTTP surface needs. It is built
// once at startup and threaded through the handler constructors.
type Deps struct {
	Store        *store.Store
	Hub          *logstream.Hub
	Objects      objectstore.Store
	Issuer       *authsvc.TokenIssuer
	APIKeySecret []byte
	Limiter      *ratelimit.Limiter
	Bus          *events.Bus
	WorkerSecret string
	BaseURL      string
	DefaultTimeoutMinutes int

	// CORSOrigins, when non-empty, is echoed back as
	// Access-Control-Allow-Origin for requests from a listed origin; an
	// empty slice disables CORS handling entirely.
	CORSOrigins []string
}

// Server wraps an *http.Server bound to a fully wired router, with a
// non-blocking Start/Stop lifecycle.
type Server struct {
	addr       string
	httpServer *http.Server
	listener   net.Listener
}

// New builds the router and records addr; Start() opens the listener and
// begins serving.
func New(addr string, deps Deps) *Server {
	router := NewRouter(deps)
	return &Server{
		addr:       addr,
		httpServer: &http.Server{Addr: addr, Handler: router},
	}
}

// Start begins listening in a background goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.addr = listener.Addr().String()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			_ = err
		}
	}()
	return nil
}

// Stop performs a graceful shutdown bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Addr returns the bound listen address (useful when addr was ":0").
func (s *Server) Addr() string {
	return s.addr
}

// NewRouter builds the full gorilla/mux route table.
func NewRouter(deps Deps) http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	h := &handlers{deps: deps}

	// Client-facing, bearer/API-key authenticated.
	authed := api.NewRoute().Subrouter()
	authed.Use(h.requireUser)
	authed.HandleFunc("/jobs", h.createGitJob).Methods(http.MethodPost)
	authed.HandleFunc("/jobs/upload", h.requestUpload).Methods(http.MethodPost)
	authed.HandleFunc("/jobs/{id}/upload", h.uploadArchive).Methods(http.MethodPut)
	authed.HandleFunc("/jobs/{id}/start", h.startJob).Methods(http.MethodPost)
	authed.HandleFunc("/jobs", h.listJobs).Methods(http.MethodGet)
	authed.HandleFunc("/jobs/{id}", h.getJob).Methods(http.MethodGet)
	authed.HandleFunc("/jobs/{id}/cancel", h.cancelJob).Methods(http.MethodPost)
	authed.HandleFunc("/jobs/{id}/retry", h.retryJob).Methods(http.MethodPost)
	authed.HandleFunc("/jobs/{id}/artifacts", h.getArtifacts).Methods(http.MethodGet)
	authed.HandleFunc("/jobs/{id}/logs/stored", h.getStoredLogs).Methods(http.MethodGet)
	authed.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)
	authed.HandleFunc("/api-keys", h.createAPIKey).Methods(http.MethodPost)
	authed.HandleFunc("/api-keys", h.listAPIKeys).Methods(http.MethodGet)
	authed.HandleFunc("/api-keys/{id}", h.deleteAPIKey).Methods(http.MethodDelete)

	// The log WebSocket authenticates the same way but isn't a JSON
	// request/response handler, so it's wired outside the subrouter's
	// body-limit assumptions.
	logsRoute := api.NewRoute().Subrouter()
	logsRoute.Use(h.requireUser)
	logsRoute.HandleFunc("/jobs/{id}/logs", h.streamLogs).Methods(http.MethodGet)

	// Unauthenticated.
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)

	// Worker-facing.
	workers := api.PathPrefix("/workers").Subrouter()
	workers.Use(h.requireWorkerSecret)
	workers.HandleFunc("/register", h.registerWorker).Methods(http.MethodPost)
	workers.HandleFunc("/heartbeat", h.heartbeat).Methods(http.MethodPost)
	workers.HandleFunc("/claim", h.claim).Methods(http.MethodPost)
	workers.HandleFunc("/{id}/complete", h.complete).Methods(http.MethodPost)
	workers.HandleFunc("/{id}/deregister", h.deregister).Methods(http.MethodPost)
	workers.HandleFunc("/{id}/log", h.pushLog).Methods(http.MethodPost)

	return corsMiddleware(deps.CORSOrigins, r)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)})
}

type handlers struct {
	deps Deps
}
