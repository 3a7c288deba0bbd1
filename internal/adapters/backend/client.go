// Package backend is the HTTP client for the remote scoring backend.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/okian/birdscore/internal/domain/model"
	"github.com/okian/birdscore/pkg/logger"
	"github.com/okian/birdscore/pkg/metrics"
)

// Endpoint labels used for metrics and error ops.
const (
	opAuthenticate = "authenticate"
	opRegister     = "register"
	opSubmitRound  = "submit_round"
	opSummary      = "session_summary"
	opListUsers    = "list_users"
	opDeleteUser   = "delete_user"

	pathLogin    = "/api/auth/login"
	pathRegister = "/api/auth/register"
	pathResults  = "/api/results"
	pathSummary  = "/api/history/session/"
	pathUsers    = "/api/admin/users"

	maxErrorBody = 64 << 10
)

// Client talks to the scoring backend.
type Client struct {
	baseURL *url.URL
	client  *http.Client
	timeout time.Duration
	logger  logger.Logger
}

// New returns a client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadBaseURL, baseURL)
	}
	c := &Client{
		baseURL: u,
		timeout: defaultTimeout,
		logger:  logger.Get().Named("backend"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: c.timeout}
	}
	return c, nil
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Role        string `json:"role"`
	Username    string `json:"username"`
}

// Authenticate exchanges a username and password for an identity.
// 400, 401 and 403 become a generic *model.AuthError.
func (c *Client) Authenticate(ctx context.Context, creds model.Credentials) (model.Identity, error) {
	form := url.Values{}
	form.Set("username", creds.Username)
	form.Set("password", creds.Password)

	req, err := c.newRequest(ctx, http.MethodPost, pathLogin, strings.NewReader(form.Encode()))
	if err != nil {
		return model.Identity{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out loginResponse
	err = c.do(req, opAuthenticate, &out, func(status int, _ []byte) error {
		switch status {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return &model.AuthError{Reason: model.InvalidCredentials}
		}
		return nil
	})
	if err != nil {
		return model.Identity{}, err
	}

	username := out.Username
	if username == "" {
		username = creds.Username
	}
	return model.Identity{
		Username: username,
		Role:     normalizeRole(out.Role),
		Token:    out.AccessToken,
	}, nil
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// Register creates a backend account. A rejection carries the backend's
// detail message verbatim as a *model.ValidationError.
func (c *Client) Register(ctx context.Context, reg model.Registration) error {
	body, err := json.Marshal(registerRequest{Username: reg.Username, Password: reg.Password, Role: string(reg.Role)})
	if err != nil {
		return fmt.Errorf("encode registration: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, pathRegister, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, opRegister, nil, func(status int, body []byte) error {
		if status >= 400 && status < 500 {
			return &model.ValidationError{Message: detail(status, body)}
		}
		return nil
	})
}

// SubmitRound hands one completed round to the backend.
func (c *Client) SubmitRound(ctx context.Context, token string, sub model.RoundSubmission) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode round: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, pathResults, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	setBearer(req, token)

	// Results are keyed by session and round, so a 409 here means the backend
	// already holds this exact round.
	return c.do(req, opSubmitRound, nil, func(status int, body []byte) error {
		if status == http.StatusConflict {
			return fmt.Errorf("round %d of %s: %s: %w", sub.RoundNo, sub.SessionID, detail(status, body), model.ErrRoundRecorded)
		}
		return protectedStatus(status, body)
	})
}

// SessionSummary is the backend's view of a finished session.
type SessionSummary struct {
	Summary struct {
		MatchName   string  `json:"match_name"`
		CageNumber  string  `json:"cage_number"`
		TotalScore  float64 `json:"total_score"`
		FinalStatus string  `json:"final_status"`
	} `json:"summary"`
	Rounds []json.RawMessage `json:"rounds"`
}

// FetchSessionSummary reads the backend's aggregate for sessionID.
func (c *Client) FetchSessionSummary(ctx context.Context, token, sessionID string) (SessionSummary, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathSummary+url.PathEscape(sessionID), nil)
	if err != nil {
		return SessionSummary{}, err
	}
	setBearer(req, token)

	var out SessionSummary
	if err := c.do(req, opSummary, &out, protectedStatus); err != nil {
		return SessionSummary{}, err
	}
	return out, nil
}

type userRecord struct {
	ID        string `json:"_id"`
	AltID     string `json:"id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

// ListUsers returns every backend account. The backend only answers admins.
func (c *Client) ListUsers(ctx context.Context, token string) ([]model.User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, pathUsers, nil)
	if err != nil {
		return nil, err
	}
	setBearer(req, token)

	var out []userRecord
	if err := c.do(req, opListUsers, &out, protectedStatus); err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(out))
	for _, u := range out {
		id := u.ID
		if id == "" {
			id = u.AltID
		}
		users = append(users, model.User{
			ID:        id,
			Username:  u.Username,
			Role:      normalizeRole(u.Role),
			CreatedAt: parseTimestamp(u.CreatedAt),
		})
	}
	return users, nil
}

// DeleteUser removes the account with id. The backend refuses to delete the
// caller's own account with a 400, surfaced as a *model.ValidationError.
func (c *Client) DeleteUser(ctx context.Context, token, id string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, pathUsers+"/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	setBearer(req, token)
	return c.do(req, opDeleteUser, nil, protectedStatus)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

// do sends req and decodes a 2xx body into out. classify maps a non-2xx
// status to a domain error; a nil result falls through to the defaults.
func (c *Client) do(req *http.Request, op string, out any, classify func(int, []byte) error) error {
	ctx := req.Context()
	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := float64(time.Since(start).Milliseconds())
	if err != nil {
		metrics.RecordBackendCall(op, "transport", elapsed)
		c.logger.Warn(ctx, "backend unreachable", logger.String("op", op), logger.Error(err))
		return &model.TransportError{Op: op, Err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error(ctx, "failed to close response body", logger.Error(err))
		}
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.RecordBackendCall(op, "ok", elapsed)
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &model.TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 500 {
		metrics.RecordBackendCall(op, "server_error", elapsed)
		c.logger.Warn(ctx, "backend error", logger.String("op", op), logger.Int("status", resp.StatusCode))
		return &model.TransportError{Op: op, Err: fmt.Errorf("%w: %d", ErrServerStatus, resp.StatusCode)}
	}
	metrics.RecordBackendCall(op, "rejected", elapsed)
	if classify != nil {
		if derr := classify(resp.StatusCode, body); derr != nil {
			return derr
		}
	}
	return fmt.Errorf("%s: %w: %d %s", op, ErrUnexpectedStatus, resp.StatusCode, detail(resp.StatusCode, body))
}

// protectedStatus classifies rejections of bearer-authenticated calls. Only
// 401 means the credential is bad; 403 is a permission denial for this one
// resource and must not end the login.
func protectedStatus(status int, body []byte) error {
	switch status {
	case http.StatusUnauthorized:
		return &model.AuthError{Reason: detail(status, body)}
	case http.StatusForbidden:
		return fmt.Errorf("%s: %w", detail(status, body), model.ErrForbidden)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", detail(status, body), model.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", detail(status, body), model.ErrConflict)
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &model.ValidationError{Message: detail(status, body)}
	}
	return nil
}

func setBearer(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
}

// detail extracts the backend's "detail" message. Structured details are
// returned as raw JSON; an empty body falls back to the status text.
func detail(status int, body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		return string(payload.Detail)
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		return text
	}
	return http.StatusText(status)
}

// parseTimestamp accepts RFC 3339 and the zone-less ISO form the backend's
// document store emits, read as UTC. Anything else is the zero time.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	if t, err := time.Parse("2006-01-02T15:04:05.999999999", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// normalizeRole maps backend roles onto the console's two roles. The backend
// calls ordinary accounts "user".
func normalizeRole(role string) model.Role {
	r, err := model.ParseRole(role)
	if err != nil {
		return model.RoleJudge
	}
	return r
}
