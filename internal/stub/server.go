// Package stub is an in-memory stand-in for the ride service. It accepts the
// same POST /ride/start requests and can inject failures and latency so a run
// can be tried without the real backend.
package stub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/wesleyorama2/ridestorm/internal/loadtest/ride"
)

// DefaultMaxRides bounds how many started rides are kept for GET lookups.
const DefaultMaxRides = 10000

// StatusStarted is the status of every ride the stub creates.
const StatusStarted = "started"

// Config configures the stub service.
type Config struct {
	// FailRate is the fraction of ride starts answered with 500, 0.0 to 1.0
	FailRate float64

	// Latency is added before every ride start is answered
	Latency time.Duration

	// MaxRides bounds the in-memory ride store; oldest rides are evicted
	MaxRides int

	// Seed for failure injection. 0 seeds from the clock.
	Seed int64

	// Logger for request logging. Nil disables logging.
	Logger *zap.Logger
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.FailRate < 0 || c.FailRate > 1 {
		return fmt.Errorf("fail rate must be between 0 and 1, got %v", c.FailRate)
	}
	if c.Latency < 0 {
		return errors.New("latency cannot be negative")
	}
	if c.MaxRides < 0 {
		return errors.New("max rides cannot be negative")
	}
	return nil
}

// Ride is a started ride as stored by the stub.
type Ride struct {
	ID        int64     `json:"id"`
	RiderID   int       `json:"rider_id"`
	DriverID  int       `json:"driver_id"`
	Pickup    string    `json:"pickup"`
	Drop      string    `json:"drop"`
	City      string    `json:"city"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// StartResponse is the body of a successful POST /ride/start.
type StartResponse struct {
	Message string `json:"message"`
	RideID  int64  `json:"ride_id"`
	Status  string `json:"status"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// Server is the stub ride service.
type Server struct {
	config Config
	router *chi.Mux
	logger *zap.Logger

	nextID  atomic.Int64
	started atomic.Int64
	failed  atomic.Int64

	rngMu sync.Mutex
	rng   *rand.Rand

	mu    sync.RWMutex
	rides map[int64]*Ride
	order []int64
}

// New creates the stub service.
func New(cfg Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxRides == 0 {
		cfg.MaxRides = DefaultMaxRides
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	s := &Server{
		config: cfg,
		logger: cfg.Logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)), //nolint:gosec // failure injection only
		rides:  make(map[int64]*Ride),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	r.Route("/ride", func(r chi.Router) {
		r.Post("/start", s.handleStart)
		r.Get("/all", s.handleList)
		r.Get("/{rideID}", s.handleGet)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Not Found"})
	})

	s.router = r
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Stats returns how many rides were started and how many starts failed.
func (s *Server) Stats() (started, failed int64) {
	return s.started.Load(), s.failed.Load()
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("stub ride service listening", zap.String("addr", addr),
			zap.Float64("failRate", s.config.FailRate), zap.Duration("latency", s.config.Latency))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down stub: %w", err)
	}

	started, failed := s.Stats()
	s.logger.Info("stub ride service stopped", zap.Int64("started", started), zap.Int64("failed", failed))
	return nil
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	defer func() { _ = r.Body.Close() }()

	var req ride.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "invalid JSON: " + err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: err.Error()})
		return
	}

	if s.config.Latency > 0 {
		select {
		case <-time.After(s.config.Latency):
		case <-r.Context().Done():
			return
		}
	}

	if s.shouldFail() {
		s.failed.Add(1)
		s.logger.Debug("injected ride start failure", zap.String("request_id", r.Header.Get("X-Request-ID")))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Detail: "injected failure"})
		return
	}

	rd := &Ride{
		ID:        s.nextID.Add(1),
		RiderID:   req.RiderID,
		DriverID:  req.DriverID,
		Pickup:    req.Pickup,
		Drop:      req.Drop,
		City:      req.City,
		Status:    StatusStarted,
		CreatedAt: time.Now().UTC(),
	}
	s.store(rd)
	s.started.Add(1)

	writeJSON(w, http.StatusOK, StartResponse{
		Message: "Ride started successfully",
		RideID:  rd.ID,
		Status:  StatusStarted,
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	rides := make([]*Ride, 0, len(s.order))
	// Newest first.
	for i := len(s.order) - 1; i >= 0; i-- {
		rides = append(rides, s.rides[s.order[i]])
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, rides)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "rideID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: "ride_id must be an integer"})
		return
	}

	s.mu.RLock()
	rd, ok := s.rides[id]
	s.mu.RUnlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Detail: "Ride not found"})
		return
	}

	writeJSON(w, http.StatusOK, rd)
}

func (s *Server) shouldFail() bool {
	if s.config.FailRate <= 0 {
		return false
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64() < s.config.FailRate
}

func (s *Server) store(rd *Ride) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rides[rd.ID] = rd
	s.order = append(s.order, rd.ID)
	if over := len(s.order) - s.config.MaxRides; over > 0 {
		for _, id := range s.order[:over] {
			delete(s.rides, id)
		}
		s.order = append(s.order[:0], s.order[over:]...)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
