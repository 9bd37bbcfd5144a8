// Package debugserver exposes read-only health, metrics and pool/grid
// snapshots over HTTP. Handlers only ever read the last published snapshot;
// the simulation goroutine is the sole writer of live state.
package debugserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/l1jgo/swarm/internal/config"
	"github.com/l1jgo/swarm/internal/sim"
)

const shutdownTimeout = 5 * time.Second

// Server serves the debug endpoints.
type Server struct {
	cfg      config.DebugConfig
	gatherer prometheus.Gatherer
	log      *zap.Logger
	snap     atomic.Pointer[sim.Snapshot]
	router   *chi.Mux
}

func New(cfg config.DebugConfig, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{cfg: cfg, gatherer: gatherer, log: log}
	s.router = s.newRouter()
	return s
}

// Publish replaces the snapshot served to readers. Safe from any goroutine.
func (s *Server) Publish(snap *sim.Snapshot) { s.snap.Store(snap) }

// Handler returns the router; no listener is opened.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) newRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "OPTIONS"},
		}))
	}

	r.Get("/health", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/debug/snapshot", s.handleSnapshot)
	r.Get("/debug/pools", s.handlePools)
	r.Get("/debug/pools/{prototype}", s.handlePool)
	r.Get("/debug/grid", s.handleGrid)
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("debug request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// Run listens on the configured address until ctx is cancelled, then shuts
// the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("debug server listening", zap.String("addr", s.cfg.BindAddress))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		s.log.Info("debug server stopped")
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if snap := s.snap.Load(); snap != nil {
		resp["tick"] = snap.Tick
		resp["active"] = snap.Active
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap := s.snap.Load()
	if snap == nil {
		s.writeError(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePools(w http.ResponseWriter, _ *http.Request) {
	snap := s.snap.Load()
	if snap == nil {
		s.writeError(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Pools)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	snap := s.snap.Load()
	if snap == nil {
		s.writeError(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	id := chi.URLParam(r, "prototype")
	for _, row := range snap.Pools {
		if row.Prototype == id {
			s.writeJSON(w, http.StatusOK, row)
			return
		}
	}
	s.writeError(w, "unknown prototype "+id, http.StatusNotFound)
}

func (s *Server) handleGrid(w http.ResponseWriter, _ *http.Request) {
	snap := s.snap.Load()
	if snap == nil {
		s.writeError(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, snap.Grid)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Headers are already out; the client sees a truncated body.
		s.log.Debug("encode response", zap.Int("status", code), zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, map[string]string{"error": message})
}
