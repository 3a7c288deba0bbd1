// Package api is the judge console's HTTP API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/okian/birdscore/internal/adapters/backend"
	"github.com/okian/birdscore/internal/domain/model"
)

// AuthDependencies are the auth operations the console exposes.
type AuthDependencies interface {
	Login(ctx context.Context, username, password string) (model.Identity, error)
	Logout(ctx context.Context) (string, error)
	Register(ctx context.Context, reg model.Registration) error
	CurrentIdentity(ctx context.Context) (model.Identity, error)
}

// SessionDependencies are the session operations the console exposes.
type SessionDependencies interface {
	CreateSession(ctx context.Context, matchName, cageNumber string) (model.SessionSnapshot, error)
	ListSessions(ctx context.Context, f model.SessionFilter) ([]model.SessionSnapshot, error)
	Session(ctx context.Context, sessionID string) (model.SessionSnapshot, error)
	AdvanceRound(ctx context.Context, sessionID string, roundNo int, score json.RawMessage) (model.SessionSnapshot, error)
	Result(ctx context.Context, sessionID string) (model.SessionResult, error)
	BackendSummary(ctx context.Context, sessionID string) (backend.SessionSummary, error)
}

// AdminDependencies are the account management operations. The service
// refuses them for judges.
type AdminDependencies interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	DeleteUser(ctx context.Context, userID string) error
}

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	AuthDependencies
	SessionDependencies
	AdminDependencies
}

// Server wires HTTP routes for the judge console.
type Server struct {
	deps            Dependencies
	opsHandler      *OpsHandler
	authHandler     *AuthHandler
	sessionsHandler *SessionsHandler
	adminHandler    *AdminHandler
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider) *Server {
	return &Server{
		deps:            deps,
		opsHandler:      NewOpsHandler(statsProvider),
		authHandler:     NewAuthHandler(deps),
		sessionsHandler: NewSessionsHandler(deps),
		adminHandler:    NewAdminHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	protect := func(next http.HandlerFunc) http.HandlerFunc { return RequireAuth(s.deps, next) }

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.opsHandler.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", s.opsHandler.MetricsHandler())
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.opsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /login", MetricsMiddleware(s.authHandler.HandleLogin, "login"))
	mux.HandleFunc("POST /logout", MetricsMiddleware(s.authHandler.HandleLogout, "logout"))
	mux.HandleFunc("POST /register", MetricsMiddleware(s.authHandler.HandleRegister, "register"))
	mux.HandleFunc("GET /me", MetricsMiddleware(protect(s.authHandler.HandleMe), "me"))

	mux.HandleFunc("POST /sessions", MetricsMiddleware(protect(s.sessionsHandler.HandleCreate), "sessions"))
	mux.HandleFunc("GET /sessions", MetricsMiddleware(protect(s.sessionsHandler.HandleList), "sessions"))
	mux.HandleFunc("GET /sessions/{id}", MetricsMiddleware(protect(s.sessionsHandler.HandleGet), "session"))
	mux.HandleFunc("POST /sessions/{id}/rounds", MetricsMiddleware(protect(s.sessionsHandler.HandleAdvance), "rounds"))
	mux.HandleFunc("GET /sessions/{id}/result", MetricsMiddleware(protect(s.sessionsHandler.HandleResult), "result"))
	mux.HandleFunc("GET /sessions/{id}/summary", MetricsMiddleware(protect(s.sessionsHandler.HandleSummary), "summary"))

	mux.HandleFunc("GET /admin/users", MetricsMiddleware(protect(s.adminHandler.HandleListUsers), "admin_users"))
	mux.HandleFunc("DELETE /admin/users/{id}", MetricsMiddleware(protect(s.adminHandler.HandleDeleteUser), "admin_user"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
