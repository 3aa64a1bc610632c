package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// HealthChecker reports whether a named component is healthy.
type HealthChecker func(ctx context.Context) error

// Server exposes liveness and prometheus metrics over HTTP.
type Server struct {
	addr     string
	version  string
	started  time.Time
	checkers map[string]HealthChecker

	mu      sync.Mutex
	running bool
	srv     *http.Server
}

// NewServer builds a monitor server. checkers maps component names to their
// health probes; a nil map means unconditionally healthy.
func NewServer(addr, version string, checkers map[string]HealthChecker) *Server {
	return &Server{
		addr:     addr,
		version:  version,
		started:  time.Now(),
		checkers: checkers,
	}
}

type healthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Components    map[string]string `json:"components,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: time.Since(s.started).Seconds(),
	}
	if len(s.checkers) > 0 {
		resp.Components = make(map[string]string, len(s.checkers))
		for name, check := range s.checkers {
			if err := check(ctx); err != nil {
				resp.Components[name] = err.Error()
				resp.Status = "degraded"
			} else {
				resp.Components[name] = "ok"
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if resp.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// Router returns the HTTP routes. Exposed for tests.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}

// Start serves in the background. Returns immediately.
func (s *Server) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("monitor already running")
	}
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.running = true

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Str("addr", s.addr).Msg("monitor server failed")
		}
	}()
	log.Info().Str("addr", s.addr).Msg("monitor started")
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	srv := s.srv
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("monitor shutdown failed")
	}
	log.Info().Msg("monitor stopped")
}
