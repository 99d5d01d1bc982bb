package exam

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cbtquiz/internal/app/apiresp"
	"cbtquiz/internal/auth"
	"cbtquiz/internal/backend"
	"cbtquiz/internal/catalog"
	"cbtquiz/internal/journal"
	"cbtquiz/internal/navigation"
	"cbtquiz/internal/submission"
)

const maxTimeLimit = 12 * time.Hour

type Handler struct {
	svc sessionService
}

type sessionService interface {
	StartSession(ctx context.Context, in StartInput) (*SessionView, error)
	GetSession(ctx context.Context, id uuid.UUID, user *auth.User) (*SessionView, error)
	CurrentQuestion(ctx context.Context, id uuid.UUID, user *auth.User) (*QuestionView, error)
	QuestionAt(ctx context.Context, id uuid.UUID, user *auth.User, n int) (*QuestionView, error)
	Next(ctx context.Context, id uuid.UUID, user *auth.User) (*QuestionView, error)
	Previous(ctx context.Context, id uuid.UUID, user *auth.User) (*QuestionView, error)
	JumpTo(ctx context.Context, id uuid.UUID, user *auth.User, n int) (*QuestionView, error)
	SaveDraft(ctx context.Context, id uuid.UUID, user *auth.User, values []string) (*QuestionView, error)
	Confirm(ctx context.Context, id uuid.UUID, user *auth.User, values []string) (bool, *QuestionView, error)
	Edit(ctx context.Context, id uuid.UUID, user *auth.User) (bool, *QuestionView, error)
	Finish(ctx context.Context, id uuid.UUID, user *auth.User, confirm bool) (*PromptResult, error)
	Finalize(ctx context.Context, id uuid.UUID, user *auth.User) (*SessionView, error)
	Exit(ctx context.Context, id uuid.UUID, user *auth.User, confirm bool) (*PromptResult, error)
	Attempts(ctx context.Context, id uuid.UUID, user *auth.User) ([]journal.Attempt, error)
}

type startSessionRequest struct {
	TestID        int64 `json:"test_id"`
	TimeLimitSecs int64 `json:"time_limit_secs"`
}

type valuesRequest struct {
	Values []string `json:"values"`
}

type jumpRequest struct {
	Number int `json:"number"`
}

type confirmRequest struct {
	Confirm bool `json:"confirm"`
}

type answerResponse struct {
	Changed  bool          `json:"changed"`
	Question *QuestionView `json:"question"`
}

func NewHandler(svc sessionService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TestID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "test_id is required")
		return
	}
	limit := time.Duration(req.TimeLimitSecs) * time.Second
	if limit < 0 || limit > maxTimeLimit {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid time_limit_secs")
		return
	}

	view, err := h.svc.StartSession(r.Context(), StartInput{TestID: req.TestID, User: user, TimeLimit: limit})
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusCreated, view)
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	view, err := h.svc.GetSession(r.Context(), id, user)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, view)
}

func (h *Handler) CurrentQuestion(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	q, err := h.svc.CurrentQuestion(r.Context(), id, user)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, q)
}

func (h *Handler) Question(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	no, err := strconv.Atoi(chi.URLParam(r, "no"))
	if err != nil || no <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question number")
		return
	}
	q, err := h.svc.QuestionAt(r.Context(), id, user, no)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, q)
}

func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	q, err := h.svc.Next(r.Context(), id, user)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, q)
}

func (h *Handler) Previous(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	q, err := h.svc.Previous(r.Context(), id, user)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, q)
}

func (h *Handler) Jump(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	var req jumpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Number <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "number is required")
		return
	}
	q, err := h.svc.JumpTo(r.Context(), id, user, req.Number)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, q)
}

func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	var req valuesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	q, err := h.svc.SaveDraft(r.Context(), id, user, req.Values)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, q)
}

// Confirm answers 200 with changed=false when a value is blank; the
// question stays unconfirmed.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	var req valuesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Values) == 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "values are required")
		return
	}
	changed, q, err := h.svc.Confirm(r.Context(), id, user, req.Values)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, answerResponse{Changed: changed, Question: q})
}

func (h *Handler) Edit(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	changed, q, err := h.svc.Edit(r.Context(), id, user)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, answerResponse{Changed: changed, Question: q})
}

func (h *Handler) Finish(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	req, ok := readConfirm(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Finish(r.Context(), id, user, req.Confirm)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	view, err := h.svc.Finalize(r.Context(), id, user)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, view)
}

func (h *Handler) Exit(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	req, ok := readConfirm(w, r)
	if !ok {
		return
	}
	res, err := h.svc.Exit(r.Context(), id, user, req.Confirm)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, res)
}

func (h *Handler) Attempts(w http.ResponseWriter, r *http.Request) {
	user, id, ok := readSessionRef(w, r)
	if !ok {
		return
	}
	items, err := h.svc.Attempts(r.Context(), id, user)
	if err != nil {
		writeSessionError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, items)
}

func readSessionRef(w http.ResponseWriter, r *http.Request) (*auth.User, uuid.UUID, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid session id")
		return nil, uuid.Nil, false
	}
	return user, id, true
}

// readConfirm accepts an empty body as confirm=false.
func readConfirm(w http.ResponseWriter, r *http.Request) (confirmRequest, bool) {
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid request body")
		return req, false
	}
	return req, true
}

func writeSessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionForbidden):
		apiresp.WriteError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, ErrSessionExpired):
		apiresp.WriteErrorCode(w, r, http.StatusConflict, "session_expired", err.Error())
	case errors.Is(err, catalog.ErrNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrMalformedCatalog):
		apiresp.WriteErrorCode(w, r, http.StatusBadGateway, "malformed_catalog", err.Error())
	case errors.Is(err, backend.ErrCatalogUnavailable):
		apiresp.WriteErrorCode(w, r, http.StatusBadGateway, "catalog_unavailable", err.Error())
	case errors.Is(err, submission.ErrIncompleteSubmission):
		apiresp.WriteErrorCode(w, r, http.StatusUnprocessableEntity, "incomplete_submission", err.Error())
	case errors.Is(err, navigation.ErrPartMismatch), errors.Is(err, submission.ErrPartOverflow):
		apiresp.WriteErrorCode(w, r, http.StatusUnprocessableEntity, "part_mismatch", err.Error())
	case errors.Is(err, backend.ErrSubmissionTransport):
		apiresp.WriteErrorCode(w, r, http.StatusBadGateway, "submission_failed", "submission failed, retry finalize")
	case errors.Is(err, navigation.ErrFinalizeInFlight):
		apiresp.WriteErrorCode(w, r, http.StatusConflict, "finalize_in_flight", err.Error())
	case errors.Is(err, navigation.ErrInvalidState):
		apiresp.WriteErrorCode(w, r, http.StatusConflict, "invalid_state", err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
