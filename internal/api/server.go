package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/engine"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/metrics"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/profile"
	"github.com/Quantam-imo/quantum-market-observer--sub000/internal/tickstore"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/config"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/logger"
	"github.com/Quantam-imo/quantum-market-observer--sub000/pkg/models"
)

// maxBodyBytes caps request bodies
const maxBodyBytes = 32 << 20

// LiveEngine is the read and ingest surface the API serves
type LiveEngine interface {
	Ingest(ctx context.Context, ticks []models.Tick) (engine.IngestResult, error)
	Status(symbol string) models.Status
	VolumeProfile(ctx context.Context, req engine.ProfileRequest) (profile.Profile, error)
	Chart(symbol string, tf int64, limit int) ([]models.Bar, error)
	Mentor(symbol string) (models.DecisionEvent, bool)
	Zones() []models.ChartZone
	Signals(symbol string) (*models.SignalRecord, []models.SignalRecord)
}

// HealthCheck checks one backing service
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server
type Server struct {
	cfg        *config.Config
	logger     *logrus.Logger
	router     *mux.Router
	httpServer *http.Server

	live   LiveEngine
	store  *tickstore.Store
	checks map[string]HealthCheck
}

// NewServer creates a new API server. store backs replay requests that ask
// for recorded ticks and may be nil; checks are reported by /health.
func NewServer(cfg *config.Config, logger *logrus.Logger, live LiveEngine, store *tickstore.Store, checks map[string]HealthCheck) *Server {
	if checks == nil {
		checks = map[string]HealthCheck{}
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		live:   live,
		store:  store,
		checks: checks,
	}
	s.setupRoutes()
	return s
}

// HandleStream mounts a websocket endpoint at /ws
func (s *Server) HandleStream(h http.HandlerFunc) {
	s.router.HandleFunc("/ws", h).Methods("GET")
}

// Handler exposes the routed handler (tests, embedding)
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	s.router.Use(logger.Middleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	if s.cfg.Security.CORSEnabled {
		s.router.Use(s.corsMiddleware)
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.cfg.Monitoring.MetricsEnabled {
		s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
	}

	s.router.HandleFunc("/ingest", s.handleIngest).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/volume-profile", s.handleVolumeProfile).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/chart", s.handleChart).Methods("GET", "POST", "OPTIONS")
	s.router.HandleFunc("/mentor", s.handleMentor).Methods("GET", "POST", "OPTIONS")
	s.router.HandleFunc("/replay", s.handleReplay).Methods("POST", "OPTIONS")
	s.router.HandleFunc("/zones", s.handleZones).Methods("GET")
	s.router.HandleFunc("/signals", s.handleSignals).Methods("GET")
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("address", addr).Info("Starting HTTP server")

	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		if strings.Contains(err.Error(), "address already in use") {
			return fmt.Errorf("port %d is already in use, use a different port: --port %d", s.cfg.Server.Port, s.cfg.Server.Port+1)
		}
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("Stopping HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.WithFields(logrus.Fields{
					"error": err,
					"path":  r.URL.Path,
				}).Error("Panic recovered")

				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return handlers.CORS(
		handlers.AllowedOrigins(s.cfg.Security.CORSOrigins),
		handlers.AllowedMethods(s.cfg.Security.CORSMethods),
		handlers.AllowedHeaders(s.cfg.Security.CORSHeaders),
	)(next)
}

// handleHealth reports each backing service; any failure makes it 503
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	services := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			services[name] = "unhealthy: " + err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		services[name] = "healthy"
	}

	overall := "healthy"
	if status != http.StatusOK {
		overall = "degraded"
	}
	feed := s.live.Status("")
	writeJSON(w, status, map[string]interface{}{
		"status":     overall,
		"services":   services,
		"feed":       feed.Status,
		"feed_stale": feed.FeedStale,
		"timestamp":  time.Now().Unix(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps error kinds onto HTTP codes
func statusFor(err error) int {
	switch models.KindOf(err) {
	case models.KindInvalidInput, models.KindReplayInputGap:
		return http.StatusBadRequest
	case models.KindStorageIO:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeBody reads a JSON body into v. An empty body leaves v unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: malformed JSON body: %v", models.ErrInvalidInput, err)
	}
	return nil
}
