// Package admin provides HTTP handlers for the Admin API.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/bundlehost/adapters/metrics"
	"github.com/artpar/bundlehost/app"
	"github.com/artpar/bundlehost/core/capability"
	"github.com/artpar/bundlehost/core/runtime"
	"github.com/artpar/bundlehost/domain/module"
	"github.com/artpar/bundlehost/domain/security"
	"github.com/artpar/bundlehost/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// SessionCookie is the cookie the admin session id is read from.
const SessionCookie = "session_id"

// Handler provides admin API endpoints. The security controller is looked
// up from the service registry on every request, so the API follows the
// kernel module being stopped and started.
type Handler struct {
	runtime  *runtime.Runtime
	sessions ports.SessionStore
	metrics  *metrics.Collector
	logger   zerolog.Logger
	version  string
}

// Deps contains dependencies for the admin handler.
type Deps struct {
	Runtime  *runtime.Runtime
	Sessions ports.SessionStore // optional, for doctor statistics
	Metrics  *metrics.Collector // optional
	Logger   zerolog.Logger
	Version  string
}

// NewHandler creates a new admin API handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		runtime:  deps.Runtime,
		sessions: deps.Sessions,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		version:  deps.Version,
	}
}

// Router returns the admin API router.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if h.metrics != nil {
		r.Use(h.instrument)
	}

	// Public endpoints (no auth required)
	r.Post("/login", h.Login)

	// Protected endpoints (require auth)
	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/logout", h.Logout)
		r.Get("/session", h.CurrentSession)

		// Users
		r.Get("/users", h.ListUsers)

		// Modules
		r.Get("/modules", h.ListModules)
		r.Get("/modules/{id}", h.GetModule)
		r.Post("/modules/{id}/resolve", h.ResolveModule)
		r.Post("/modules/{id}/start", h.StartModule)
		r.Post("/modules/{id}/stop", h.StopModule)
		r.Delete("/modules/{id}", h.UninstallModule)

		// Services
		r.Get("/services", h.ListServices)

		// Doctor (system health)
		r.Get("/doctor", h.Doctor)
	})

	return r
}

// controller returns the published security controller, if any.
func (h *Handler) controller() (*app.SecurityController, bool) {
	return capability.LookupAs[*app.SecurityController](h.runtime.Registry(), capability.SecurityController)
}

// -----------------------------------------------------------------------------
// Authentication
// -----------------------------------------------------------------------------

// LoginRequest represents a login request.
type LoginRequest struct {
	Login    string `json:"login"`
	Source   string `json:"source,omitempty"`
	Password string `json:"password"`
}

// LoginResponse represents a login response.
type LoginResponse struct {
	SessionID string `json:"session_id"`
	ExpiresAt string `json:"expires_at"`
	User      struct {
		UID    string `json:"uid"`
		Source string `json:"source"`
	} `json:"user"`
}

// Login starts a session through the security controller.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid JSON body")
		return
	}
	if req.Login == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Login is required")
		return
	}

	ctrl, ok := h.controller()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "security_unavailable", "No security controller is active")
		return
	}

	sess, err := ctrl.StartSession(r.Context(), req.Login, req.Source, req.Password)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	resp := LoginResponse{
		SessionID: sess.ID,
		ExpiresAt: sess.ExpiresAt.Format(time.RFC3339),
	}
	resp.User.UID = sess.UserID
	resp.User.Source = sess.Source
	writeJSON(w, http.StatusOK, resp)
}

// Logout ends the current session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if ctrl, ok := h.controller(); ok {
		if err := ctrl.EndSession(r.Context(), sess.ID); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged_out"})
}

// CurrentSession returns the session the request is authenticated with.
func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, sessionToResponse(sessionFrom(r.Context())))
}

// AuthMiddleware validates the session cookie or Bearer token.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if cookie, err := r.Cookie(SessionCookie); err == nil {
			token = cookie.Value
		}
		if auth := r.Header.Get("Authorization"); token == "" && strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "Valid session required")
			return
		}

		ctrl, ok := h.controller()
		if !ok {
			writeError(w, http.StatusServiceUnavailable, "security_unavailable", "No security controller is active")
			return
		}

		sess, err := ctrl.Session(r.Context(), token)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), ctxSessionKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Context keys
type ctxKey string

const ctxSessionKey ctxKey = "session"

func sessionFrom(ctx context.Context) security.Session {
	sess, _ := ctx.Value(ctxSessionKey).(security.Session)
	return sess
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	Source       string `json:"source"`
	CreatedAt    string `json:"created_at"`
	LastAccessAt string `json:"last_access_at"`
	ExpiresAt    string `json:"expires_at"`
}

func sessionToResponse(s security.Session) SessionResponse {
	return SessionResponse{
		ID:           s.ID,
		UserID:       s.UserID,
		Source:       s.Source,
		CreatedAt:    s.CreatedAt.Format(time.RFC3339),
		LastAccessAt: s.LastAccessAt.Format(time.RFC3339),
		ExpiresAt:    s.ExpiresAt.Format(time.RFC3339),
	}
}

// -----------------------------------------------------------------------------
// Users API
// -----------------------------------------------------------------------------

// UserResponse represents a user in API responses.
type UserResponse struct {
	UID     string `json:"uid"`
	Source  string `json:"source"`
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Enabled bool   `json:"enabled"`
}

// ListUsers lists the users of a source (?source=, default source if empty).
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "security_unavailable", "No security controller is active")
		return
	}

	users, err := ctrl.GetUsers(r.Context(), r.URL.Query().Get("source"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, UserResponse{UID: u.UID, Source: u.Source, Name: u.Name, Email: u.Email, Enabled: u.Enabled})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": resp, "total": len(resp)})
}

// -----------------------------------------------------------------------------
// Modules API
// -----------------------------------------------------------------------------

// ModuleResponse represents a module in API responses.
type ModuleResponse struct {
	ID           uint64   `json:"id"`
	SymbolicName string   `json:"symbolic_name"`
	Version      string   `json:"version,omitempty"`
	State        string   `json:"state"`
	Imports      []string `json:"imports,omitempty"`
	Exports      []string `json:"exports,omitempty"`
	Missing      []string `json:"missing,omitempty"`
	InstalledAt  string   `json:"installed_at"`
}

func moduleToResponse(m module.Module) ModuleResponse {
	return ModuleResponse{
		ID:           uint64(m.ID),
		SymbolicName: m.SymbolicName,
		Version:      m.Version,
		State:        m.State.String(),
		Imports:      m.Imports,
		Exports:      m.Exports,
		Missing:      m.Missing,
		InstalledAt:  m.InstalledAt.Format(time.RFC3339),
	}
}

// ListModules lists installed modules, filtered by ?pattern= (a regexp).
func (h *Handler) ListModules(w http.ResponseWriter, r *http.Request) {
	mods := h.runtime.Modules()
	if pattern := r.URL.Query().Get("pattern"); pattern != "" {
		found, err := h.runtime.Find(pattern)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_pattern", err.Error())
			return
		}
		mods = found
	}

	resp := make([]ModuleResponse, 0, len(mods))
	for _, m := range mods {
		resp = append(resp, moduleToResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"modules": resp, "total": len(resp)})
}

// GetModule returns one module.
func (h *Handler) GetModule(w http.ResponseWriter, r *http.Request) {
	id, ok := moduleID(w, r)
	if !ok {
		return
	}
	m, err := h.runtime.Module(id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, moduleToResponse(m))
}

// ResolveModule resolves an installed module.
func (h *Handler) ResolveModule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resolve", func(ctx context.Context, id module.ID) error {
		return h.runtime.Resolve(id)
	})
}

// StartModule starts a module.
func (h *Handler) StartModule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start", h.runtime.Start)
}

// StopModule stops a module. The module backing the API's own security
// controller is refused: stopping it would lock every caller out.
func (h *Handler) StopModule(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "stop", func(ctx context.Context, id module.ID) error {
		if err := h.guardSecurityModule(id); err != nil {
			return err
		}
		return h.runtime.Stop(ctx, id)
	})
}

// UninstallModule uninstalls a module.
func (h *Handler) UninstallModule(w http.ResponseWriter, r *http.Request) {
	id, ok := moduleID(w, r)
	if !ok {
		return
	}
	if err := h.guardSecurityModule(id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.runtime.Uninstall(id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.logger.Info().Uint64("module_id", uint64(id)).Str("by", sessionFrom(r.Context()).UserID).Msg("module uninstalled via admin API")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, module.ID) error) {
	id, ok := moduleID(w, r)
	if !ok {
		return
	}

	if err := fn(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.logger.Info().
		Uint64("module_id", uint64(id)).
		Str("op", op).
		Str("by", sessionFrom(r.Context()).UserID).
		Msg("module transition via admin API")

	m, err := h.runtime.Module(id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, moduleToResponse(m))
}

// errProtectedModule is returned for stop and uninstall of a module that
// exports the security controller.
var errProtectedModule = errors.New("module provides the admin API's security controller")

func (h *Handler) guardSecurityModule(id module.ID) error {
	m, err := h.runtime.Module(id)
	if err != nil {
		return err
	}
	for _, exp := range m.Exports {
		if capability.Type(exp) == capability.SecurityController {
			return errProtectedModule
		}
	}
	return nil
}

func moduleID(w http.ResponseWriter, r *http.Request) (module.ID, bool) {
	n, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "Module id must be a non-negative integer")
		return 0, false
	}
	return module.ID(n), true
}

// -----------------------------------------------------------------------------
// Services API
// -----------------------------------------------------------------------------

// ServiceResponse represents a service registration in API responses.
type ServiceResponse struct {
	ID           uint64            `json:"id"`
	Capability   string            `json:"capability"`
	ModuleID     uint64            `json:"module_id"`
	Properties   map[string]string `json:"properties,omitempty"`
	RegisteredAt string            `json:"registered_at"`
}

// ListServices lists live registrations, filtered by ?capability=.
func (h *Handler) ListServices(w http.ResponseWriter, r *http.Request) {
	var regs []capability.Registration
	if q := r.URL.Query(); q.Has("capability") {
		c, err := capability.ParseType(q.Get("capability"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		regs = h.runtime.Registry().Registrations(c)
	} else {
		regs = h.runtime.Services()
	}

	resp := make([]ServiceResponse, 0, len(regs))
	for _, reg := range regs {
		resp = append(resp, ServiceResponse{
			ID:           reg.ID,
			Capability:   reg.Capability.String(),
			ModuleID:     uint64(reg.ModuleID),
			Properties:   reg.Properties,
			RegisteredAt: reg.RegisteredAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"services": resp, "total": len(resp)})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// instrument records request counts and latency by route pattern.
func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		h.metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		h.metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// writeDomainError maps domain errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var (
		activation *module.ActivationError
		duplicate  *module.DuplicateModuleError
	)

	switch {
	case errors.Is(err, security.ErrAccessDenied):
		writeError(w, http.StatusUnauthorized, "access_denied", "Invalid login or password")
	case errors.Is(err, security.ErrSessionNotFound):
		writeError(w, http.StatusUnauthorized, "unauthorized", "Session expired or unknown")
	case errors.Is(err, security.ErrDataSourceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "datasource_unavailable", "User data source is unavailable")
	case errors.Is(err, module.ErrModuleNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Module not found")
	case errors.Is(err, errProtectedModule):
		writeError(w, http.StatusConflict, "protected_module", err.Error())
	case module.IsIllegalTransition(err):
		writeError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.As(err, &duplicate):
		writeError(w, http.StatusConflict, "duplicate_module", err.Error())
	case errors.As(err, &activation):
		writeError(w, http.StatusInternalServerError, "activation_failed", err.Error())
	default:
		h.logger.Error().Err(err).Msg("admin request failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal error")
	}
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	writeJSON(w, status, resp)
}
