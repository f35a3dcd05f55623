// Package httpapi serves the record store over the collections REST
// protocol and a websocket change feed.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/solwind/snipsync/internal/metrics"
	"github.com/solwind/snipsync/internal/recordstore"
)

// DefaultJWTSecret signs and verifies tokens when no secret is configured.
const DefaultJWTSecret = "dev-secret"

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	Logger          *zap.Logger
	Metrics         *metrics.Collector
	Now             func() time.Time
}

type Server struct {
	store       *recordstore.Store
	cfg         ServerConfig
	logger      *zap.Logger
	rateLimiter *rateLimiter
	router      chi.Router
	hub         *realtimeHub
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

type claimsKey struct{}

func NewServer(store *recordstore.Store) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store *recordstore.Store, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = DefaultJWTSecret
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	s := &Server{
		store:       store,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: limiter,
		hub:         newRealtimeHub(logger, cfg.Metrics),
	}
	s.router = s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close disconnects realtime clients.
func (s *Server) Close() {
	s.hub.close()
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}
	r.With(s.authorize(ScopeRead)).Get("/api/realtime", s.handleRealtime)

	r.Route("/api/collections/{collection}/records", func(r chi.Router) {
		r.Use(s.requireCorrelationID)
		r.With(s.authorize(ScopeRead)).Get("/", s.handleList)
		r.With(s.authorize(ScopeWrite)).Post("/", s.handleCreate)
		r.With(s.authorize(ScopeRead)).Get("/{id}", s.handleGet)
		r.With(s.authorize(ScopeWrite)).Patch("/{id}", s.handleUpdate)
		r.With(s.authorize(ScopeWrite)).Delete("/{id}", s.handleDelete)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", getCorrelationID(r))
	})
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.cfg.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		elapsed := s.cfg.Now().Sub(start)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.ObserveHTTP(r.Method, route, status, elapsed)
		}
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", elapsed),
			zap.String("requestID", chimiddleware.GetReqID(r.Context())),
			zap.String("correlationId", getCorrelationID(r)),
		)
	})
}

func (s *Server) requireCorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if getCorrelationID(r) == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authorize checks the bearer token (or, for websocket clients that cannot
// set headers, the token query parameter) and applies the rate limit per
// token subject.
func (s *Server) authorize(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := getCorrelationID(r)
			now := s.cfg.Now().UTC()
			var (
				claims  tokenClaims
				authErr *authError
			)
			if header := r.Header.Get("Authorization"); header == "" && r.URL.Query().Get("token") != "" {
				claims, authErr = authorizeToken(r.URL.Query().Get("token"), s.cfg.JWTSecret, scope, now)
			} else {
				claims, authErr = authorizeBearer(header, s.cfg.JWTSecret, scope, now)
			}
			if authErr != nil {
				writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
				return
			}
			if s.rateLimiter != nil && !s.rateLimiter.allow(claims.Subject, now) {
				retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := parseOptionalBoundedInt(q.Get("page"), 1, 1, math.MaxInt32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid page", getCorrelationID(r))
		return
	}
	perPage, err := parseOptionalBoundedInt(q.Get("perPage"), recordstore.DefaultPerPage, 1, recordstore.MaxPerPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid perPage", getCorrelationID(r))
		return
	}
	result, err := s.store.List(chi.URLParam(r, "collection"), recordstore.ListQuery{
		Page:        page,
		PerPage:     perPage,
		Sort:        q.Get("sort"),
		Filter:      q.Get("filter"),
		ViewOptions: viewOptions(r),
	})
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.Get(chi.URLParam(r, "collection"), chi.URLParam(r, "id"), viewOptions(r))
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var input map[string]any
	if !s.decodeJSONBody(w, r, getCorrelationID(r), &input) {
		return
	}
	rec, err := s.store.Create(chi.URLParam(r, "collection"), input)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var input map[string]any
	if !s.decodeJSONBody(w, r, getCorrelationID(r), &input) {
		return
	}
	rec, err := s.store.Update(chi.URLParam(r, "collection"), chi.URLParam(r, "id"), input)
	if err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(chi.URLParam(r, "collection"), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func viewOptions(r *http.Request) recordstore.ViewOptions {
	q := r.URL.Query()
	return recordstore.ViewOptions{
		Expand: recordstore.SplitList(q.Get("expand")),
		Fields: recordstore.SplitList(q.Get("fields")),
	}
}

func (s *Server) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	correlationID := getCorrelationID(r)
	var invalid *recordstore.InvalidRecordError
	switch {
	case errors.As(err, &invalid):
		fields := make(map[string]string, len(invalid.Fields))
		for _, f := range invalid.Fields {
			fields[f.Field] = f.Message
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":          "invalid_record",
			"message":       err.Error(),
			"correlationId": correlationID,
			"data":          fields,
		})
	case errors.Is(err, recordstore.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "record not found", correlationID)
	case errors.Is(err, recordstore.ErrUnknownCollection):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, recordstore.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	default:
		s.logger.Error("store operation failed", zap.Error(err), zap.String("correlationId", correlationID))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error", correlationID)
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body", correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func parseOptionalBoundedInt(raw string, fallback, min, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if value < min {
		value = min
	}
	if value > max {
		value = max
	}
	return value, nil
}
