package report

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"cbtquiz/internal/app/apiresp"
	"cbtquiz/internal/auth"
	"cbtquiz/internal/catalog"
)

type reviewService interface {
	Summary(ctx context.Context, in ReviewInput) (*Summary, error)
	Question(ctx context.Context, in ReviewInput, n int) (*QuestionDetail, error)
	SubTestPage(ctx context.Context, in ReviewInput, from, direction int) (*SubTestPage, error)
}

type Handler struct {
	svc reviewService
}

func NewHandler(svc reviewService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	in, ok := readReviewInput(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.Summary(r.Context(), in)
	if err != nil {
		writeReviewError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, summary)
}

func (h *Handler) Question(w http.ResponseWriter, r *http.Request) {
	in, ok := readReviewInput(w, r)
	if !ok {
		return
	}
	no, err := strconv.Atoi(chi.URLParam(r, "no"))
	if err != nil || no <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid question number")
		return
	}
	item, err := h.svc.Question(r.Context(), in, no)
	if err != nil {
		writeReviewError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, item)
}

func (h *Handler) SubTests(w http.ResponseWriter, r *http.Request) {
	in, ok := readReviewInput(w, r)
	if !ok {
		return
	}
	from, err := queryInt(r, "from")
	if err != nil || from < 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid from")
		return
	}
	dir, err := queryInt(r, "dir")
	if err != nil {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid dir")
		return
	}
	page, err := h.svc.SubTestPage(r.Context(), in, from, dir)
	if err != nil {
		writeReviewError(w, r, err)
		return
	}
	apiresp.WriteOK(w, r, http.StatusOK, page)
}

func readReviewInput(w http.ResponseWriter, r *http.Request) (ReviewInput, bool) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		apiresp.WriteError(w, r, http.StatusUnauthorized, "unauthorized")
		return ReviewInput{}, false
	}
	themeID, err := strconv.ParseInt(chi.URLParam(r, "themeID"), 10, 64)
	if err != nil || themeID <= 0 {
		apiresp.WriteError(w, r, http.StatusBadRequest, "invalid theme id")
		return ReviewInput{}, false
	}
	var testID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("test_id")); raw != "" {
		testID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || testID <= 0 {
			apiresp.WriteError(w, r, http.StatusBadRequest, "invalid test_id")
			return ReviewInput{}, false
		}
	}
	return ReviewInput{User: user, ThemeID: themeID, TestID: testID}, true
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func writeReviewError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrResultUnavailable):
		apiresp.WriteErrorCode(w, r, http.StatusNotFound, "result_unavailable", "result unavailable, return to the previous screen")
	case errors.Is(err, catalog.ErrNotFound):
		apiresp.WriteError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrMalformedCatalog):
		apiresp.WriteErrorCode(w, r, http.StatusBadGateway, "malformed_catalog", err.Error())
	default:
		apiresp.WriteError(w, r, http.StatusInternalServerError, "internal error")
	}
}
