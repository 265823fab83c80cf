// Package server is Flock's A2A HTTP surface: per-agent JSON-RPC 2.0
// dispatch built on the real a2a-go server handlers, plus the
// server-level `migration/*` method family intercepted ahead of
// per-agent dispatch. Routes follow the well-known-directory,
// per-agent-card-plus-JSON-RPC, discovery-endpoint layout, built on
// go-chi/chi instead of a literal http.ServeMux so routes can be
// registered/removed as agents come and go without rebuilding the whole
// mux.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2asrv"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	flocka2a "github.com/flock-run/flock/pkg/a2a"
	"github.com/flock-run/flock/pkg/flocklog"
	"github.com/flock-run/flock/pkg/migration"
	"github.com/flock-run/flock/pkg/observability"
)

// AgentBinding is what the server needs to expose one agent: its card, its
// Flock metadata sidecar, and the executor that answers A2A calls for it.
type AgentBinding struct {
	Card     *a2a.AgentCard
	Meta     flocka2a.FlockMeta
	Executor a2asrv.AgentExecutor
}

// Server is Flock's node-level HTTP surface.
type Server struct {
	router    *chi.Mux
	taskStore a2asrv.TaskStore
	receiver  *migration.Receiver
	httpSrv   *http.Server

	engine       *migration.Engine
	runMigration MigrationRunFunc

	mu     sync.RWMutex
	agents map[string]AgentBinding

	agentRoutes *chi.Mux

	tracer  trace.Tracer
	metrics *observability.Metrics
}

// New builds a Server whose routes are mounted under basePath (a
// configurable base path, default "/flock"). An empty basePath mounts
// at the root, which is handy for tests that hit the router directly
// without the prefix.
func New(taskStore a2asrv.TaskStore, receiver *migration.Receiver, basePath string) *Server {
	inner := chi.NewRouter()
	s := &Server{
		router:    chi.NewRouter(),
		taskStore: taskStore,
		receiver:  receiver,
		agents:    make(map[string]AgentBinding),
		tracer:    observability.Tracer("github.com/flock-run/flock/pkg/server"),
	}
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logging)
	s.router.Use(s.observe)
	s.router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { s.metrics.Handler().ServeHTTP(w, r) })

	inner.Get("/.well-known/agent-card.json", s.handleDirectoryDefault)
	inner.Get("/agents", s.handleDirectory)
	inner.Post("/migration", s.handleMigrationRPC)
	s.agentRoutes = inner

	basePath = normalizeBasePath(basePath)
	if basePath == "" {
		s.router.Mount("/", inner)
	} else {
		s.router.Mount(basePath, inner)
	}

	return s
}

// normalizeBasePath strips a trailing slash and leaves "" for the root
// mount, so both "/flock" and "/flock/" mean the same thing.
func normalizeBasePath(p string) string {
	if p == "" || p == "/" {
		return ""
	}
	for len(p) > 1 && p[len(p)-1] == '/' {
		p = p[:len(p)-1]
	}
	return p
}

// RegisterAgent wires one agent's card and JSON-RPC handler onto the
// router as a per-agent literal route.
func (s *Server) RegisterAgent(agentID string, binding AgentBinding) {
	s.mu.Lock()
	s.agents[agentID] = binding
	s.mu.Unlock()

	var opts []a2asrv.RequestHandlerOption
	if s.taskStore != nil {
		opts = append(opts, a2asrv.WithTaskStore(s.taskStore))
	}
	handler := a2asrv.NewHandler(binding.Executor, opts...)
	rpcHandler := a2asrv.NewJSONRPCHandler(handler)
	cardHandler := a2asrv.NewStaticAgentCardHandler(binding.Card)

	base := "/a2a/" + agentID
	s.agentRoutes.Post(base, func(w http.ResponseWriter, r *http.Request) {
		rpcHandler.ServeHTTP(w, r)
	})
	s.agentRoutes.Get(base+"/.well-known/agent-card.json", func(w http.ResponseWriter, r *http.Request) {
		cardHandler.ServeHTTP(w, r)
	})
}

func (s *Server) handleDirectoryDefault(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.agents {
		writeJSON(w, http.StatusOK, b.Card)
		return
	}
	http.Error(w, "no agents registered", http.StatusNotFound)
}

func (s *Server) handleDirectory(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]flocka2a.CardEntry, 0, len(s.agents))
	for id, b := range s.agents {
		entries = append(entries, flocka2a.CardEntry{ID: id, Card: b.Card, Meta: b.Meta})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	writeJSON(w, http.StatusOK, map[string]any{"agents": entries})
}

// ServeHTTP lets Server be used directly as an http.Handler (e.g. in tests
// via httptest.NewServer).
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// WithObservability attaches the node-wide tracer and metrics registry.
// Routes are already mounted by the time boot calls this, so the
// middleware wrapper reads s.tracer/s.metrics fresh on every request
// rather than capturing them at construction.
func (s *Server) WithObservability(mgr *observability.Manager) *Server {
	s.tracer = mgr.Tracer()
	s.metrics = mgr.Metrics()
	return s
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observability.HTTPMiddleware(s.tracer, s.metrics)(next).ServeHTTP(w, r)
	})
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		flocklog.GetLogger().Debug("server: request", "method", r.Method, "path", r.URL.Path, "durationMs", time.Since(start).Milliseconds())
	})
}

// Start serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]string{"error": fmt.Sprintf(format, args...)})
}
