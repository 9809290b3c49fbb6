package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kx0101/accesslog-replayer/internal/logging"
	"github.com/kx0101/accesslog-replayer/internal/models"
	"github.com/kx0101/accesslog-replayer/internal/replay"
)

// Run is the view of a replay the API exposes. *replay.Runner satisfies it.
type Run interface {
	Status() replay.Status
	Stream() *replay.Stream
}

// Server serves the status of a single replay run while it executes.
type Server struct {
	run        Run
	router     chi.Router
	httpServer *http.Server
}

type outcomesResponse struct {
	From     int              `json:"from"`
	Next     int              `json:"next"`
	Closed   bool             `json:"closed"`
	Outcomes []models.Outcome `json:"outcomes"`
}

func New(run Run) *Server {
	s := &Server{run: run}

	r := chi.NewRouter()
	r.Use(Logging)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/run", func(r chi.Router) {
		r.Get("/", s.getStatus)
		r.Get("/outcomes", s.listOutcomes)
		r.Get("/stream", s.streamOutcomes)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on bind and serves in the background. It returns the bound
// address, which differs from bind when the port is 0.
func (s *Server) Start(bind string) (net.Addr, error) {
	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", bind, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L.Error("status server stopped", zap.Error(err))
		}
	}()

	logging.L.Info("status server listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.run.Status())
}

func (s *Server) listOutcomes(w http.ResponseWriter, r *http.Request) {
	from, err := parseFrom(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stream := s.run.Stream()
	closed := stream.Closed()
	outcomes := stream.Snapshot(from)
	if outcomes == nil {
		outcomes = []models.Outcome{}
	}

	respondJSON(w, http.StatusOK, outcomesResponse{
		From:     from,
		Next:     from + len(outcomes),
		Closed:   closed,
		Outcomes: outcomes,
	})
}

func parseFrom(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("from")
	if raw == "" {
		return 0, nil
	}

	from, err := strconv.Atoi(raw)
	if err != nil || from < 0 {
		return 0, fmt.Errorf("invalid from: %q", raw)
	}

	return from, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
