package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/okian/birdscore/internal/domain/model"
)

const maxListLimit = 100

// SessionsHandler handles competition session requests.
type SessionsHandler struct {
	deps SessionDependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

type createSessionRequest struct {
	MatchName  string `json:"match_name"`
	CageNumber string `json:"cage_number"`
}

type advanceRequest struct {
	RoundNo int             `json:"round_no"`
	Score   json.RawMessage `json:"score"`
}

// HandleCreate handles POST /sessions.
func (h *SessionsHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	snap, err := h.deps.CreateSession(r.Context(), req.MatchName, req.CageNumber)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+snap.SessionID)
	writeJSON(w, http.StatusCreated, snap)
}

// HandleList handles GET /sessions?match_name=&cage_number=&owner=&limit=.
func (h *SessionsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := model.SessionFilter{
		Owner:      q.Get("owner"),
		MatchName:  q.Get("match_name"),
		CageNumber: q.Get("cage_number"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			writeDomainError(w, fmt.Errorf("%w: limit must be 1..%d", ErrBadRequest, maxListLimit))
			return
		}
		f.Limit = n
	}
	list, err := h.deps.ListSessions(r.Context(), f)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// HandleGet handles GET /sessions/{id}.
func (h *SessionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := h.deps.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleAdvance handles POST /sessions/{id}/rounds.
func (h *SessionsHandler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, fmt.Errorf("%w: %v", ErrBadRequest, err))
		return
	}
	snap, err := h.deps.AdvanceRound(r.Context(), r.PathValue("id"), req.RoundNo, req.Score)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// HandleResult handles GET /sessions/{id}/result.
func (h *SessionsHandler) HandleResult(w http.ResponseWriter, r *http.Request) {
	res, err := h.deps.Result(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleSummary handles GET /sessions/{id}/summary, the backend's own view.
func (h *SessionsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.deps.BackendSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
