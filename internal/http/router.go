package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smailhq/smail/internal/domain"
	"github.com/smailhq/smail/internal/repository"
	"github.com/smailhq/smail/internal/service/auth"
	"github.com/smailhq/smail/internal/service/mail"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	handler  http.Handler
	logger   *slog.Logger
	auth     auth.Service
	mail     mail.Service
	limiter  RateLimiter
	dbHealth func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateLimitRegister  = 5
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	healthCheckTimeout = 2 * time.Second
)

// NewRouter assembles routes with dependencies. allowedOrigins configures the
// CORS layer wrapped around the mux.
func NewRouter(logger *slog.Logger, authSvc auth.Service, mailSvc mail.Service, limiter RateLimiter, allowedOrigins []string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		auth:     authSvc,
		mail:     mailSvc,
		limiter:  limiter,
		dbHealth: dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.initMetrics()
	r.register()
	r.handler = cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	})(r.mux)
	return r
}

// ServeHTTP delegates to the CORS-wrapped mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/health", r.audit(r.handleHealth))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/auth/register", r.audit(r.withRateLimit("register", rateLimitRegister, rateWindowDefault, rateLimitKeyIP, r.handleRegister)))
	r.mux.HandleFunc("/api/auth/login", r.audit(r.withRateLimit("login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/api/emails", r.audit(r.handlerAuthRate("emails", rateLimitUserWrite, rateWindowDefault, r.handleEmails)))
	r.mux.HandleFunc("/api/emails/", r.audit(r.handlerAuthRate("email", rateLimitUserWrite, rateWindowDefault, r.handleEmailSubroutes)))
	r.mux.HandleFunc("/api/folders/counts", r.audit(r.handlerAuthRate("counts", rateLimitUserRead, rateWindowDefault, r.handleFolderCounts)))
}

// handleHealth reports liveness. Always 200; the database field degrades to
// "disconnected" when the pool ping fails.
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	database := "connected"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			database = "disconnected"
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK", "database": database})
}

func (r *Router) handleRegister(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Register(req.Context(), payload.Email, payload.Password, payload.Name)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  marshalUser(user),
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  marshalUser(user),
	})
}

func (r *Router) handleEmails(w http.ResponseWriter, req *http.Request) {
	user, ok := currentUser(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	switch req.Method {
	case http.MethodGet:
		folder := req.URL.Query().Get("folder")
		search := req.URL.Query().Get("search")
		messages, err := r.mail.List(req.Context(), user, folder, search)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		payload := make([]map[string]any, 0, len(messages))
		for _, m := range messages {
			payload = append(payload, marshalMessage(&m))
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		var payload struct {
			To      string `json:"to"`
			Subject string `json:"subject"`
			Body    string `json:"body"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		sent, err := r.mail.Send(req.Context(), user, payload.To, payload.Subject, payload.Body)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, marshalMessage(sent))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleEmailSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/emails/")
	parts := strings.Split(trimmed, "/")
	id := parts[0]
	if id == "" {
		r.notFound(w)
		return
	}
	if len(parts) == 2 && parts[1] == "attachments" {
		r.handleEmailAttachments(w, req, id)
		return
	}
	if len(parts) > 1 {
		r.notFound(w)
		return
	}
	r.handleEmail(w, req, id)
}

func (r *Router) handleEmail(w http.ResponseWriter, req *http.Request, id string) {
	user, ok := currentUser(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	switch req.Method {
	case http.MethodGet:
		message, err := r.mail.Get(req.Context(), user, id)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, marshalMessage(message))
	case http.MethodPatch:
		var payload struct {
			Read    *bool   `json:"read"`
			Starred *bool   `json:"starred"`
			Folder  *string `json:"folder"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		message, err := r.mail.Update(req.Context(), user, id, mail.UpdateInput{
			Read:    payload.Read,
			Starred: payload.Starred,
			Folder:  payload.Folder,
		})
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, marshalMessage(message))
	case http.MethodDelete:
		message, purged, err := r.mail.Delete(req.Context(), user, id)
		if err != nil {
			r.writeServiceError(w, err)
			return
		}
		if purged {
			writeJSON(w, http.StatusOK, map[string]string{"message": "Email permanently deleted"})
			return
		}
		writeJSON(w, http.StatusOK, marshalMessage(message))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleEmailAttachments(w http.ResponseWriter, req *http.Request, id string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	user, ok := currentUser(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	attachments, err := r.mail.Attachments(req.Context(), user, id)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	payload := make([]map[string]any, 0, len(attachments))
	for _, a := range attachments {
		payload = append(payload, map[string]any{
			"id":        a.ID,
			"filename":  a.Filename,
			"size":      a.FileSize,
			"mime_type": a.MimeType,
		})
	}
	writeJSON(w, http.StatusOK, payload)
}

func (r *Router) handleFolderCounts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	user, ok := currentUser(req.Context())
	if !ok {
		r.missingAuthContext(w, req)
		return
	}
	counts, err := r.mail.Counts(req.Context(), user)
	if err != nil {
		r.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// writeServiceError maps service sentinel errors onto HTTP statuses.
// Duplicate registration intentionally answers 400, not 409, matching the
// API's published behavior.
func (r *Router) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingCredentials),
		errors.Is(err, auth.ErrEmailTaken),
		errors.Is(err, mail.ErrMissingFields):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, mail.ErrForbidden):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "email not found")
	default:
		r.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func marshalUser(u *domain.User) map[string]any {
	return map[string]any{
		"id":    u.ID,
		"email": u.Email,
		"name":  u.Name,
	}
}

func marshalMessage(m *domain.Message) map[string]any {
	return map[string]any{
		"id":      m.ID,
		"from":    m.FromEmail,
		"to":      m.ToEmail,
		"subject": m.Subject,
		"body":    m.Body,
		"date":    m.Date.UTC().Format(time.RFC3339),
		"starred": m.Starred,
		"read":    m.Read,
		"folder":  m.Folder,
	}
}

func (r *Router) missingAuthContext(w http.ResponseWriter, req *http.Request) {
	r.logger.Error("auth context missing", "path", req.URL.Path)
	writeError(w, http.StatusInternalServerError, "authorization context missing")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if user, ok := currentUser(ctx); ok {
			fields = append(fields, "user_id", user.ID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}
