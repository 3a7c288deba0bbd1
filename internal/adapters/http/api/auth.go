package api

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"github.com/okian/birdscore/internal/domain/model"
)

// AuthHandler handles sign-in, sign-out and registration.
type AuthHandler struct {
	deps AuthDependencies
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(deps AuthDependencies) *AuthHandler {
	return &AuthHandler{deps: deps}
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

// identityResponse never carries the token.
type identityResponse struct {
	Username string     `json:"username"`
	Role     model.Role `json:"role"`
}

type logoutResponse struct {
	Redirect string `json:"redirect"`
}

// HandleLogin handles POST /login. It accepts JSON or a form post.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	id, err := h.deps.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, identityResponse{Username: id.Username, Role: id.Role})
}

// HandleLogout handles POST /logout.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	path, err := h.deps.Logout(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Location", path)
	writeJSON(w, http.StatusOK, logoutResponse{Redirect: path})
}

// HandleRegister handles POST /register.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	req, err := decodeCredentials(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	reg := model.Registration{Username: req.Username, Password: req.Password, Role: model.Role(req.Role)}
	if reg.Role == "" {
		reg.Role = model.RoleJudge
	}
	if err := h.deps.Register(r.Context(), reg); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, identityResponse{Username: reg.Username, Role: reg.Role})
}

// HandleMe handles GET /me.
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		var err error
		if id, err = h.deps.CurrentIdentity(r.Context()); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, identityResponse{Username: id.Username, Role: id.Role})
}

func decodeCredentials(r *http.Request) (credentialsRequest, error) {
	var req credentialsRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" || ct == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
		req.Role = r.PostForm.Get("role")
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return req, nil
}
