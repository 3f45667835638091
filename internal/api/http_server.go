package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gymbook/internal/config"
	"gymbook/internal/domain"
	"gymbook/internal/metrics"
	"gymbook/internal/models"

	"github.com/rs/zerolog"
)

const (
	healthPath = "/healthz"

	headerUserID         = "X-User-ID"
	headerUserRole       = "X-User-Role"
	headerIdempotencyKey = "Idempotency-Key"
)

// Deps are the collaborators behind the HTTP API.
type Deps struct {
	Bookings  domain.BookingService
	Audit     domain.AuditService
	Generator domain.SlotGenerator
	Reader    domain.Reader
	Guard     domain.RequestGuard
	GuardCfg  config.GuardConfig
	Location  *time.Location
	Now       func() time.Time
}

// HTTPServer exposes the booking API over HTTP/JSON.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	server *http.Server
	auth   *HTTPAuth
	logger zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	srv := &HTTPServer{
		cfg:    cfg,
		deps:   deps,
		auth:   NewHTTPAuth(cfg),
		logger: zerolog.Nop(),
	}
	if logger != nil {
		srv.logger = logger.With().Str("component", "http").Logger()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+healthPath, srv.handleHealth)

	mux.HandleFunc("GET /api/v1/slots", srv.handleListSlots)
	mux.HandleFunc("GET /api/v1/slots/{date}/{hour}/eligibility", srv.handleEligibility)
	mux.HandleFunc("POST /api/v1/bookings", srv.handleBook)
	mux.HandleFunc("DELETE /api/v1/bookings/{id}", srv.handleCancel)
	mux.HandleFunc("GET /api/v1/me/bookings", srv.handleMyBookings)
	mux.HandleFunc("POST /api/v1/audit/events", srv.handleRecordAudit)

	mux.HandleFunc("GET /api/v1/admin/audit", srv.adminOnly(srv.handleListAudit))
	mux.HandleFunc("POST /api/v1/admin/slots/generate", srv.adminOnly(srv.handleGenerate))
	mux.HandleFunc("GET /api/v1/admin/report", srv.adminOnly(srv.handleReport))
	mux.HandleFunc("GET /api/v1/admin/report.xlsx", srv.adminOnly(srv.handleReportXLSX))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler returns the full middleware chain, mostly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) now() time.Time {
	return s.deps.Now()
}

func (s *HTTPServer) today() time.Time {
	return models.DateOf(s.now().In(s.deps.Location))
}

// actorFrom reads the identity set by the upstream identity provider.
func actorFrom(r *http.Request) (models.Actor, bool) {
	userID := r.Header.Get(headerUserID)
	if userID == "" {
		return models.Actor{}, false
	}
	return models.Actor{UserID: userID, Role: models.ParseRole(r.Header.Get(headerUserRole))}, true
}

func (s *HTTPServer) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing "+headerUserID)
			return
		}
		if !actor.IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden", "admin role required")
			return
		}
		next(w, r)
	}
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

// writeDomainError maps service errors onto HTTP statuses.
func (s *HTTPServer) writeDomainError(w http.ResponseWriter, err error) {
	var violation *models.RuleViolation
	switch {
	case errors.As(err, &violation):
		writeError(w, http.StatusConflict, string(violation.Kind), violation.Message())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case errors.Is(err, domain.ErrAlreadyBooked):
		writeError(w, http.StatusConflict, "already_booked", err.Error())
	case errors.Is(err, domain.ErrCapacityExceeded):
		writeError(w, http.StatusConflict, "capacity_exceeded", err.Error())
	case errors.Is(err, domain.ErrNotBooked):
		writeError(w, http.StatusConflict, "not_booked", err.Error())
	default:
		s.logger.Error().Err(err).Msg("unexpected error")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, map[string]string{"error": code, "message": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
