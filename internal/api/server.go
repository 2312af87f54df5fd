// Package api exposes the HTTP interface for the cause-list service.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/causelist-crawler/internal/causelist"
	"github.com/JakeFAU/causelist-crawler/internal/config"
	"github.com/JakeFAU/causelist-crawler/internal/dispatcher"
	"github.com/JakeFAU/causelist-crawler/internal/metrics"
	"github.com/JakeFAU/causelist-crawler/internal/orchestrator"
	"github.com/JakeFAU/causelist-crawler/internal/queue"
)

// Requester queues searches.
type Requester interface {
	RequestSearch(ctx context.Context, req orchestrator.SearchRequest) (orchestrator.Queued, error)
}

// StatusReporter reports task queue state.
type StatusReporter interface {
	Status(ctx context.Context) dispatcher.Status
}

// Server wires HTTP handlers to the orchestrator and task queue.
type Server struct {
	router    chi.Router
	requester Requester
	status    StatusReporter
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(requester Requester, status StatusReporter, auth config.AuthConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		requester: requester,
		status:    status,
		logger:    logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/search", func(r chi.Router) {
		if auth.Enabled {
			r.Use(apiKeyMiddleware(auth.APIKey))
		}
		r.Post("/", s.submitSearch)
		r.Get("/queue-status", s.queueStatus)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type caseDetails struct {
	Type   string `json:"type"`
	Number string `json:"no"`
	Year   string `json:"year"`
}

type searchRequest struct {
	SearchTerms     []string     `json:"search_terms"`
	Date            string       `json:"date"`
	RecipientEmails []string     `json:"recipient_emails"`
	CaseDetails     *caseDetails `json:"case_details"`
}

type searchResponse struct {
	Message     string   `json:"message"`
	QueuedDates []string `json:"queued_dates"`
	JobIDs      []string `json:"job_ids"`
}

func (s *Server) submitSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req, err := toSearchRequest(body)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	queued, err := s.requester.RequestSearch(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, orchestrator.ErrNoSearchTerms):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, queue.ErrClosed):
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("search not queued", zap.Error(err))
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, searchResponse{
		Message:     "Search queued for dates: " + strings.Join(queued.Dates, ", "),
		QueuedDates: queued.Dates,
		JobIDs:      queued.JobIDs,
	})
}

func (s *Server) queueStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.status.Status(r.Context()))
}

// toSearchRequest validates and normalizes an inbound body.
func toSearchRequest(body searchRequest) (orchestrator.SearchRequest, error) {
	var req orchestrator.SearchRequest
	for _, t := range body.SearchTerms {
		if t = strings.TrimSpace(t); t != "" {
			req.SearchTerms = append(req.SearchTerms, t)
		}
	}
	if len(req.SearchTerms) == 0 {
		return req, errors.New("at least one search term is required")
	}

	if date := strings.TrimSpace(body.Date); date != "" {
		if _, err := time.Parse(causelist.DateLayout, date); err != nil {
			return req, errors.New("invalid date format, use DD/MM/YYYY")
		}
		req.Date = date
	}

	for _, raw := range body.RecipientEmails {
		addr, err := mail.ParseAddress(strings.TrimSpace(raw))
		if err != nil {
			return req, fmt.Errorf("invalid recipient email %q", raw)
		}
		req.Recipients = append(req.Recipients, addr.Address)
	}

	if cd := body.CaseDetails; cd != nil {
		q := causelist.CaseQuery{
			Type:   strings.TrimSpace(cd.Type),
			Number: strings.TrimSpace(cd.Number),
			Year:   strings.TrimSpace(cd.Year),
		}
		if q.Type == "" || q.Number == "" || q.Year == "" {
			return req, errors.New("case_details must contain 'no', 'type', and 'year'")
		}
		req.Case = &q
	}
	return req, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", reqID),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

// apiKeyMiddleware accepts the key in Authorization (optionally as a Bearer
// token) or X-API-Key.
func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get("Authorization"))
			key = strings.TrimSpace(strings.TrimPrefix(key, "Bearer "))
			if key == "" {
				key = r.Header.Get("X-API-Key")
			}
			if key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "Authentication Failed"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
