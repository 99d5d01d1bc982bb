package report

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/oauth2"

	"cbtquiz/internal/auth"
	"cbtquiz/internal/catalog"
	"cbtquiz/internal/media"
)

type fakeSource struct {
	fetchResultsFn func(ctx context.Context, ts oauth2.TokenSource, userID string, themeID int64) ([]Document, error)
	fetchCatalogFn func(ctx context.Context, ts oauth2.TokenSource, testID int64) (*catalog.Catalog, error)
}

func (f *fakeSource) FetchResults(ctx context.Context, ts oauth2.TokenSource, userID string, themeID int64) ([]Document, error) {
	if f.fetchResultsFn == nil {
		return nil, errors.New("not implemented")
	}
	return f.fetchResultsFn(ctx, ts, userID, themeID)
}

func (f *fakeSource) FetchCatalog(ctx context.Context, ts oauth2.TokenSource, testID int64) (*catalog.Catalog, error) {
	if f.fetchCatalogFn == nil {
		return nil, errors.New("not implemented")
	}
	return f.fetchCatalogFn(ctx, ts, testID)
}

func boolPtr(v bool) *bool { return &v }

func sampleDocument() Document {
	return Document{
		Percent: 50,
		Answers: []WireAnswer{
			{DBQuestionNumber: 1, QuestionNumber: 1, SubTestNo: 1, Answer: "A", CorrectAnswer: "A", IsCorrect: boolPtr(true)},
			{DBQuestionNumber: 2, QuestionNumber: 2, SubTestNo: 1, Answer: "B", CorrectAnswer: "C", IsCorrect: boolPtr(false),
				Photos: []Photo{{RelativePath: "sol/2.png"}}},
			{DBQuestionNumber: 3, QuestionNumber: 1, SubTestNo: 3, CorrectAnswer: "7"},
		},
	}
}

func TestServiceSummaryUsesCatalogSize(t *testing.T) {
	cat, err := catalog.New(9, 4, []catalog.Question{
		{DBQuestionID: 1, QuestionNumber: 1, SubTestNo: 1, AnswerType: catalog.FreeForm},
		{DBQuestionID: 2, QuestionNumber: 2, SubTestNo: 1, AnswerType: catalog.FreeForm},
		{DBQuestionID: 3, QuestionNumber: 1, SubTestNo: 3, AnswerType: catalog.FreeForm},
		{DBQuestionID: 4, QuestionNumber: 2, SubTestNo: 3, AnswerType: catalog.FreeForm},
	})
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}

	var gotUser string
	var gotToken string
	src := &fakeSource{
		fetchResultsFn: func(_ context.Context, ts oauth2.TokenSource, userID string, themeID int64) ([]Document, error) {
			gotUser = userID
			tok, _ := ts.Token()
			gotToken = tok.AccessToken
			return []Document{{Percent: 0}, sampleDocument()}, nil
		},
		fetchCatalogFn: func(context.Context, oauth2.TokenSource, int64) (*catalog.Catalog, error) { return cat, nil },
	}
	svc := NewService(src, nil, nil)

	sum, err := svc.Summary(context.Background(), ReviewInput{User: &auth.User{ID: "u1", Token: "tok"}, ThemeID: 4, TestID: 9})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if gotUser != "u1" || gotToken != "tok" {
		t.Fatalf("identity not forwarded: user=%q token=%q", gotUser, gotToken)
	}
	if sum.Total != 4 || sum.Correct != 1 || sum.ScorePercent != 25 || sum.TotalBasis != TotalFromCatalog {
		t.Fatalf("unexpected score %+v", sum)
	}
	if sum.Percent != 50 {
		t.Fatalf("expected latest document to be used")
	}
	if len(sum.WrongSubTests) != 2 || sum.WrongSubTests[0] != 1 || sum.WrongSubTests[1] != 3 {
		t.Fatalf("unexpected wrong sub-tests %v", sum.WrongSubTests)
	}
}

func TestServiceSummaryFallsBackToAnsweredSet(t *testing.T) {
	src := &fakeSource{
		fetchResultsFn: func(context.Context, oauth2.TokenSource, string, int64) ([]Document, error) {
			return []Document{sampleDocument()}, nil
		},
	}
	sum, err := NewService(src, nil, nil).Summary(context.Background(), ReviewInput{User: &auth.User{ID: "u1"}, ThemeID: 4, TestID: 9})
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Total != 3 || sum.TotalBasis != TotalFromGraded {
		t.Fatalf("expected total from graded answers, got %d (%s)", sum.Total, sum.TotalBasis)
	}
}

func TestServiceWrapsFetchFailure(t *testing.T) {
	src := &fakeSource{
		fetchResultsFn: func(context.Context, oauth2.TokenSource, string, int64) ([]Document, error) {
			return nil, errors.New("dial tcp: refused")
		},
	}
	_, err := NewService(src, nil, nil).Summary(context.Background(), ReviewInput{User: &auth.User{ID: "u1"}, ThemeID: 4})
	if !errors.Is(err, ErrResultUnavailable) {
		t.Fatalf("expected ErrResultUnavailable, got %v", err)
	}
}

func TestServiceQuestionResolvesMedia(t *testing.T) {
	src := &fakeSource{
		fetchResultsFn: func(context.Context, oauth2.TokenSource, string, int64) ([]Document, error) {
			return []Document{sampleDocument()}, nil
		},
	}
	svc := NewService(src, media.URLResolver{BaseURL: "https://cdn"}, nil)

	d, err := svc.Question(context.Background(), ReviewInput{User: &auth.User{ID: "u1"}, ThemeID: 4}, 2)
	if err != nil {
		t.Fatalf("question: %v", err)
	}
	if d.CorrectValue != "C" || len(d.Media) != 1 || d.Media[0].URL != "https://cdn/sol/2.png" {
		t.Fatalf("unexpected detail %+v", d)
	}
}

func TestServiceSubTestPage(t *testing.T) {
	src := &fakeSource{
		fetchResultsFn: func(context.Context, oauth2.TokenSource, string, int64) ([]Document, error) {
			return []Document{sampleDocument()}, nil
		},
	}
	svc := NewService(src, nil, nil)
	in := ReviewInput{User: &auth.User{ID: "u1"}, ThemeID: 4}

	page, err := svc.SubTestPage(context.Background(), in, 0, 0)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.SubTestNo != 1 || page.HasPrev || !page.HasNext || len(page.Answers) != 1 {
		t.Fatalf("unexpected first page %+v", page)
	}

	page, err = svc.SubTestPage(context.Background(), in, 1, 1)
	if err != nil {
		t.Fatalf("page: %v", err)
	}
	if page.SubTestNo != 3 || !page.HasPrev || page.HasNext {
		t.Fatalf("unexpected second page %+v", page)
	}

	if _, err := svc.SubTestPage(context.Background(), in, 2, 1); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for sub-test without wrong answers, got %v", err)
	}
}
