package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/marketpulse/convictionrun/internal/domain"
)

// PositionView exposes the lifecycle manager's table to the HTTP layer
// without coupling the server to the manager type.
type PositionView interface {
	Positions() []domain.Position
}

// WeightView exposes the adaptation engine's current records.
type WeightView interface {
	StrategyWeights() []domain.StrategyWeight
}

// Server serves /metrics, /health, /positions and /weights for operators
// and the external reporting collaborator.
type Server struct {
	srv       *http.Server
	positions PositionView
	weights   WeightView
}

// NewServer wires the routes onto a mux router.
func NewServer(addr string, positions PositionView, weights WeightView) *Server {
	s := &Server{positions: positions, weights: weights}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	r.HandleFunc("/weights", s.handleWeights).Methods(http.MethodGet)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until Shutdown; it returns http.ErrServerClosed on a clean
// shutdown like the underlying server does.
func (s *Server) Start() error {
	log.Info().Str("addr", s.srv.Addr).Msg("http interface listening")
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.positions.Positions())
}

func (s *Server) handleWeights(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.weights.StrategyWeights())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("response encode failed")
	}
}
