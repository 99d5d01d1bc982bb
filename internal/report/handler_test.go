package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"cbtquiz/internal/auth"
	"cbtquiz/internal/catalog"
)

type mockReviewService struct {
	summaryFn     func(ctx context.Context, in ReviewInput) (*Summary, error)
	questionFn    func(ctx context.Context, in ReviewInput, n int) (*QuestionDetail, error)
	subTestPageFn func(ctx context.Context, in ReviewInput, from, direction int) (*SubTestPage, error)
}

func (m *mockReviewService) Summary(ctx context.Context, in ReviewInput) (*Summary, error) {
	if m.summaryFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.summaryFn(ctx, in)
}

func (m *mockReviewService) Question(ctx context.Context, in ReviewInput, n int) (*QuestionDetail, error) {
	if m.questionFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.questionFn(ctx, in, n)
}

func (m *mockReviewService) SubTestPage(ctx context.Context, in ReviewInput, from, direction int) (*SubTestPage, error) {
	if m.subTestPageFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.subTestPageFn(ctx, in, from, direction)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func asStudent(r *http.Request) *http.Request {
	return r.WithContext(auth.ContextWithUser(r.Context(), &auth.User{ID: "15", Role: "student", Token: "t"}))
}

func TestSummaryPassesThemeAndTest(t *testing.T) {
	var got ReviewInput
	h := NewHandler(&mockReviewService{
		summaryFn: func(ctx context.Context, in ReviewInput) (*Summary, error) {
			got = in
			return &Summary{ThemeID: in.ThemeID, ScorePercent: 75}, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/3?test_id=9", nil)
	req = asStudent(withChiParam(req, "themeID", "3"))
	w := httptest.NewRecorder()
	h.Summary(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.ThemeID != 3 || got.TestID != 9 || got.User == nil || got.User.ID != "15" {
		t.Fatalf("unexpected input %+v", got)
	}
	data := decodeBody(t, w)["data"].(map[string]interface{})
	if data["score_percent"].(float64) != 75 {
		t.Fatalf("unexpected body %v", data)
	}
}

func TestSummaryErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  string
	}{
		{name: "unavailable", err: ErrResultUnavailable, wantCode: http.StatusNotFound, wantErr: "result_unavailable"},
		{name: "malformed catalog", err: catalog.ErrMalformedCatalog, wantCode: http.StatusBadGateway, wantErr: "malformed_catalog"},
		{name: "unknown", err: errors.New("boom"), wantCode: http.StatusInternalServerError, wantErr: "internal_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(&mockReviewService{
				summaryFn: func(context.Context, ReviewInput) (*Summary, error) { return nil, tc.err },
			})
			req := asStudent(withChiParam(httptest.NewRequest(http.MethodGet, "/api/v1/reviews/3", nil), "themeID", "3"))
			w := httptest.NewRecorder()
			h.Summary(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, w.Code)
			}
			errBody := decodeBody(t, w)["error"].(map[string]interface{})
			if errBody["code"] != tc.wantErr {
				t.Fatalf("expected code %s, got %v", tc.wantErr, errBody["code"])
			}
		})
	}
}

func TestReviewRequiresUserAndTheme(t *testing.T) {
	h := NewHandler(&mockReviewService{})

	w := httptest.NewRecorder()
	h.Summary(w, withChiParam(httptest.NewRequest(http.MethodGet, "/", nil), "themeID", "3"))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.Summary(w, asStudent(withChiParam(httptest.NewRequest(http.MethodGet, "/", nil), "themeID", "x")))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestQuestionNotFound(t *testing.T) {
	h := NewHandler(&mockReviewService{
		questionFn: func(context.Context, ReviewInput, int) (*QuestionDetail, error) {
			return nil, catalog.ErrNotFound
		},
	})
	req := withChiParam(httptest.NewRequest(http.MethodGet, "/", nil), "themeID", "3")
	req = asStudent(withChiParam(req, "no", "40"))
	w := httptest.NewRecorder()
	h.Question(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSubTestsParsesCursor(t *testing.T) {
	var gotFrom, gotDir int
	h := NewHandler(&mockReviewService{
		subTestPageFn: func(_ context.Context, _ ReviewInput, from, direction int) (*SubTestPage, error) {
			gotFrom, gotDir = from, direction
			return &SubTestPage{SubTestNo: 3}, nil
		},
	})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reviews/3/subtests?from=2&dir=1", nil)
	req = asStudent(withChiParam(req, "themeID", "3"))
	w := httptest.NewRecorder()
	h.SubTests(w, req)

	if w.Code != http.StatusOK || gotFrom != 2 || gotDir != 1 {
		t.Fatalf("unexpected code=%d from=%d dir=%d", w.Code, gotFrom, gotDir)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reviews/3/subtests?dir=up", nil)
	req = asStudent(withChiParam(req, "themeID", "3"))
	w = httptest.NewRecorder()
	h.SubTests(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad dir, got %d", w.Code)
	}
}
