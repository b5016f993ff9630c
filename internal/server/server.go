// Package server exposes the chat and administration HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rehberai/internal/app"
	"rehberai/internal/ratelimit"
	"rehberai/internal/security"
	"rehberai/internal/tenant"
	"rehberai/internal/util"
	"rehberai/pkg/domain"
	"rehberai/pkg/queue"
	"rehberai/pkg/store"
)

// Config wires the HTTP layer.
type Config struct {
	App             *app.App
	Queue           *queue.RedisJobQueue
	Limiter         *ratelimit.FixedWindowLimiter
	TrustedProxies  *util.TrustedProxies
	DefaultTenantID string
}

// Server handles HTTP requests for chat, sessions, feedback and admin.
type Server struct {
	app             *app.App
	queue           *queue.RedisJobQueue
	limiter         *ratelimit.FixedWindowLimiter
	trusted         *util.TrustedProxies
	defaultTenantID string
}

// New constructs the server.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app is required")
	}
	return &Server{
		app:             cfg.App,
		queue:           cfg.Queue,
		limiter:         cfg.Limiter,
		trusted:         cfg.TrustedProxies,
		defaultTenantID: cfg.DefaultTenantID,
	}, nil
}

// Handler builds the routed handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /chat/{profile_key}", s.handleChat)
	mux.HandleFunc("GET /chat/{profile_key}/messages", s.handleMessages)
	mux.HandleFunc("GET /chat/{profile_key}/sessions", s.handleSessions)
	mux.HandleFunc("POST /chat/{profile_key}/sessions/{session_id}/title", s.handleSetTitle)
	mux.HandleFunc("DELETE /chat/{profile_key}/sessions/{session_id}", s.handleDeleteSession)
	mux.HandleFunc("POST /chat/{profile_key}/feedback", s.handleFeedback)

	mux.HandleFunc("POST /tenants", s.handleCreateTenant)
	mux.HandleFunc("GET /tenants", s.handleListTenants)
	mux.HandleFunc("GET /tenants/{tenant_id}", s.handleGetTenant)
	mux.HandleFunc("DELETE /tenants/{tenant_id}", s.handleDeleteTenant)

	mux.HandleFunc("POST /tenants/{tenant_id}/docs", s.handleAddDoc)
	mux.HandleFunc("GET /tenants/{tenant_id}/docs", s.handleListDocs)
	mux.HandleFunc("DELETE /tenants/{tenant_id}/docs/{doc_id}", s.handleDeleteDoc)

	mux.HandleFunc("POST /admin/reindex/{profile_key}", s.handleReindex)
	mux.HandleFunc("GET /admin/jobs/{job_id}", s.handleJobStatus)

	var handler http.Handler = mux
	handler = util.WithCORS(handler)
	handler = util.WithSecurityHeaders(handler)
	handler = util.WithRequestLog("rehberai", handler)
	handler = util.WithRequestID(handler)
	return handler
}

// tenantID resolves the caller's tenant. An X-Api-Key header wins and must
// validate; otherwise the tenant comes from the query, the X-Tenant-Id
// header, a body fallback, or the deployment default.
func (s *Server) tenantID(w http.ResponseWriter, r *http.Request, bodyTenant string) (string, bool) {
	if presented := r.Header.Get("X-Api-Key"); presented != "" {
		tenantRecord, ok, err := s.app.Authenticate(presented)
		if err != nil {
			s.writeError(w, r, err)
			return "", false
		}
		if !ok {
			s.writeErrorStatus(w, r, http.StatusUnauthorized, "invalid api key")
			return "", false
		}
		return tenantRecord.ID, true
	}
	if id := r.URL.Query().Get("tenant_id"); id != "" {
		return id, true
	}
	if id := r.Header.Get("X-Tenant-Id"); id != "" {
		return id, true
	}
	if bodyTenant != "" {
		return bodyTenant, true
	}
	if s.defaultTenantID != "" {
		return s.defaultTenantID, true
	}
	s.writeErrorStatus(w, r, http.StatusBadRequest, "tenant_id is required")
	return "", false
}

// allow applies the shared rate limit to auxiliary routes. Chat turns are
// limited inside the app with a finer key.
func (s *Server) allow(w http.ResponseWriter, r *http.Request, route, tenantID string) bool {
	if s.limiter == nil {
		return true
	}
	key := fmt.Sprintf("%s:%s:%s", route, tenantID, util.ClientIP(r, s.trusted))
	allowed, retryAfter := s.limiter.AllowWithRetry(key)
	if !allowed {
		s.writeError(w, r, &app.RateLimitedError{RetryAfter: retryAfter})
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.app.Ping(); err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type chatRequest struct {
	Question  string `json:"question"`
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !s.decode(w, r, &req) {
		return
	}
	tenantID, ok := s.tenantID(w, r, req.TenantID)
	if !ok {
		return
	}
	answer, err := s.app.HandleChat(r.Context(), app.ChatInput{
		TenantID:   tenantID,
		ProfileKey: r.PathValue("profile_key"),
		UserID:     req.UserID,
		SessionID:  req.SessionID,
		RequestID:  util.RequestIDFromRequest(r),
		Question:   req.Question,
		ClientIP:   util.ClientIP(r, s.trusted),
		UserAgent:  r.UserAgent(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r, "")
	if !ok {
		return
	}
	if !s.allow(w, r, "messages", tenantID) {
		return
	}
	query := r.URL.Query()
	sessionID, messages, err := s.app.SessionMessages(
		tenantID,
		r.PathValue("profile_key"),
		query.Get("user_id"),
		query.Get("session_id"),
		queryInt(query.Get("limit")),
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r, "")
	if !ok {
		return
	}
	if !s.allow(w, r, "sessions", tenantID) {
		return
	}
	query := r.URL.Query()
	sessions, err := s.app.Sessions(
		tenantID,
		r.PathValue("profile_key"),
		query.Get("user_id"),
		queryInt(query.Get("limit")),
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

type titleRequest struct {
	UserID string `json:"user_id"`
	Title  string `json:"title"`
}

func (s *Server) handleSetTitle(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r, "")
	if !ok {
		return
	}
	if !s.allow(w, r, "title", tenantID) {
		return
	}
	var req titleRequest
	if !s.decode(w, r, &req) {
		return
	}
	err := s.app.SetTitle(tenantID, r.PathValue("profile_key"), r.PathValue("session_id"), req.UserID, req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r, "")
	if !ok {
		return
	}
	if !s.allow(w, r, "delete", tenantID) {
		return
	}
	err := s.app.RemoveSession(tenantID, r.PathValue("profile_key"), r.PathValue("session_id"), r.URL.Query().Get("user_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type feedbackRequest struct {
	MessageID string `json:"message_id"`
	Score     int    `json:"score"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r, "")
	if !ok {
		return
	}
	if !s.allow(w, r, "feedback", tenantID) {
		return
	}
	var req feedbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	feedback, err := s.app.SubmitFeedback(tenantID, r.PathValue("profile_key"), req.MessageID, req.Score, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, feedback)
}

type createTenantRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if !s.decode(w, r, &req) {
		return
	}
	created, err := s.app.CreateTenant(req.Name, req.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	tenants, err := s.app.ListTenants(queryInt(query.Get("limit")), queryInt(query.Get("offset")))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tenants": tenants})
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenantRecord, err := s.app.GetTenantInfo(r.PathValue("tenant_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tenantRecord)
}

func (s *Server) handleDeleteTenant(w http.ResponseWriter, r *http.Request) {
	if err := s.app.DeleteTenant(r.PathValue("tenant_id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type addDocRequest struct {
	ProfileKey string `json:"profile_key"`
	Filepath   string `json:"filepath"`
}

// pathTenant reads the tenant from the URL. When an X-Api-Key is presented
// it must authenticate and belong to that tenant.
func (s *Server) pathTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := r.PathValue("tenant_id")
	if presented := r.Header.Get("X-Api-Key"); presented != "" {
		tenantRecord, ok, err := s.app.Authenticate(presented)
		if err != nil {
			s.writeError(w, r, err)
			return "", false
		}
		if !ok {
			s.writeErrorStatus(w, r, http.StatusUnauthorized, "invalid api key")
			return "", false
		}
		if tenantRecord.ID != tenantID {
			s.writeErrorStatus(w, r, http.StatusForbidden, "forbidden")
			return "", false
		}
	}
	return tenantID, true
}

func (s *Server) handleAddDoc(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.pathTenant(w, r)
	if !ok {
		return
	}
	var req addDocRequest
	if !s.decode(w, r, &req) {
		return
	}
	doc, err := s.app.AddDoc(tenantID, req.ProfileKey, req.Filepath)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocs(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.pathTenant(w, r)
	if !ok {
		return
	}
	docs, err := s.app.ListDocs(tenantID, r.URL.Query().Get("profile_key"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if docs == nil {
		docs = []domain.Doc{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"docs": docs})
}

func (s *Server) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.pathTenant(w, r)
	if !ok {
		return
	}
	if err := s.app.DeleteDoc(tenantID, r.PathValue("doc_id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := s.tenantID(w, r, "")
	if !ok {
		return
	}
	if s.queue == nil {
		s.writeErrorStatus(w, r, http.StatusServiceUnavailable, "reindex queue is not configured")
		return
	}
	profileKey := r.PathValue("profile_key")
	if _, err := s.app.ResolveProfile(tenantID, profileKey); err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.queue.Enqueue(r.Context(), tenantID, profileKey)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		s.writeErrorStatus(w, r, http.StatusServiceUnavailable, "reindex queue is not configured")
		return
	}
	job, ok, err := s.queue.GetJob(r.Context(), r.PathValue("job_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !ok {
		s.writeErrorStatus(w, r, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		s.writeErrorStatus(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error":      message,
		"request_id": util.RequestIDFromRequest(r),
	})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *app.RateLimitedError
	var unsafe *security.UnsafeInputError
	switch {
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limited.RetryAfter)))
		s.writeErrorStatus(w, r, http.StatusTooManyRequests, "rate limit exceeded")
	case errors.Is(err, app.ErrInvalidInput), errors.As(err, &unsafe):
		s.writeErrorStatus(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrForbidden):
		s.writeErrorStatus(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, store.ErrConflict):
		s.writeErrorStatus(w, r, http.StatusConflict, "conflict")
	case errors.Is(err, app.ErrSessionNotFound),
		errors.Is(err, app.ErrMessageNotFound),
		errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, tenant.ErrProfileNotFound),
		errors.Is(err, store.ErrNotFound):
		s.writeErrorStatus(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, app.ErrAnswerFailed):
		s.writeErrorStatus(w, r, http.StatusBadGateway, "answer generation failed")
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		s.writeErrorStatus(w, r, http.StatusInternalServerError, "internal error")
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func queryInt(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
