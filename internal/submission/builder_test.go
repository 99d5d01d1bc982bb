package submission

import (
	"errors"
	"reflect"
	"testing"

	"cbtquiz/internal/catalog"
	"cbtquiz/internal/session"
)

func mustCatalog(t *testing.T, questions []catalog.Question) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New(99, 1, questions)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	return c
}

func TestBuildSinglePartPartialSession(t *testing.T) {
	cat := mustCatalog(t, []catalog.Question{
		{DBQuestionID: 1, QuestionNumber: 1, SubTestNo: 1, AnswerType: catalog.SingleChoice, Options: []string{"A", "B"}},
		{DBQuestionID: 2, QuestionNumber: 2, SubTestNo: 1, AnswerType: catalog.SingleChoice, Options: []string{"A", "B"}},
		{DBQuestionID: 3, QuestionNumber: 3, SubTestNo: 1, AnswerType: catalog.FreeForm},
	})
	ledger := session.NewLedger()
	ledger.Confirm(1, 1, "A")
	ledger.Confirm(2, 1, "B")

	got, err := NewBuilder(cat).Build(ledger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []Record{
		{QuestionNumber: 1, SubTestNo: 1, PartIndex: 0, Answer: "A"},
		{QuestionNumber: 2, SubTestNo: 1, PartIndex: 0, Answer: "B"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
	if ledger.AnsweredCount() != 2 {
		t.Fatalf("expected answered count 2, got %d", ledger.AnsweredCount())
	}
	if ledger.IsComplete(cat) {
		t.Fatalf("session with q3 unanswered must not be complete")
	}
}

func TestBuildDualPartQuestion(t *testing.T) {
	cat := mustCatalog(t, []catalog.Question{
		{DBQuestionID: 7, QuestionNumber: 1, SubTestNo: 1, AnswerType: catalog.FreeForm},
		{DBQuestionID: 7, QuestionNumber: 1, SubTestNo: 1, AnswerType: catalog.FreeForm, PartIndexHint: intPtr(1)},
		{DBQuestionID: 8, QuestionNumber: 2, SubTestNo: 1, AnswerType: catalog.FreeForm},
	})
	ledger := session.NewLedger()
	ledger.Confirm(7, 1, "x", "y")
	ledger.Confirm(8, 1, "Z")

	got, err := NewBuilder(cat).Build(ledger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []Record{
		{QuestionNumber: 1, SubTestNo: 1, PartIndex: 1, Answer: "x"},
		{QuestionNumber: 1, SubTestNo: 1, PartIndex: 2, Answer: "y"},
		{QuestionNumber: 2, SubTestNo: 1, PartIndex: 0, Answer: "Z"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestBuildPartIndexesHaveNoRepeats(t *testing.T) {
	cat := mustCatalog(t, []catalog.Question{
		{DBQuestionID: 4, QuestionNumber: 5, SubTestNo: 2, AnswerType: catalog.FreeForm},
		{DBQuestionID: 4, QuestionNumber: 5, SubTestNo: 2, AnswerType: catalog.FreeForm},
		{DBQuestionID: 4, QuestionNumber: 5, SubTestNo: 2, AnswerType: catalog.FreeForm},
	})
	ledger := session.NewLedger()
	ledger.Confirm(4, 2, "a", "b", "c")

	got, err := NewBuilder(cat).Build(ledger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var idx []int
	for _, r := range got {
		idx = append(idx, r.PartIndex)
	}
	if !reflect.DeepEqual(idx, []int{1, 2, 3}) {
		t.Fatalf("unexpected part indexes %v", idx)
	}
}

func TestBuildKeepsConfirmationOrder(t *testing.T) {
	cat := mustCatalog(t, []catalog.Question{
		{DBQuestionID: 1, QuestionNumber: 1, SubTestNo: 1, AnswerType: catalog.FreeForm},
		{DBQuestionID: 2, QuestionNumber: 2, SubTestNo: 1, AnswerType: catalog.FreeForm},
	})
	ledger := session.NewLedger()
	ledger.Confirm(2, 1, "second")
	ledger.Confirm(1, 1, "first")

	got, err := NewBuilder(cat).Build(ledger)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got[0].QuestionNumber != 2 || got[1].QuestionNumber != 1 {
		t.Fatalf("records not in confirmation order: %+v", got)
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	cat := mustCatalog(t, []catalog.Question{
		{DBQuestionID: 7, QuestionNumber: 1, SubTestNo: 1, AnswerType: catalog.FreeForm},
		{DBQuestionID: 7, QuestionNumber: 1, SubTestNo: 1, AnswerType: catalog.FreeForm},
		{DBQuestionID: 8, QuestionNumber: 2, SubTestNo: 1, AnswerType: catalog.FreeForm},
	})
	ledger := session.NewLedger()
	ledger.Confirm(7, 1, "x", "y")
	ledger.Confirm(8, 1, "Z")

	b := NewBuilder(cat)
	first, err := b.Build(ledger)
	if err != nil {
		t.Fatalf("first build: %v", err)
	}
	second, err := b.Build(ledger)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("builds differ: %+v vs %+v", first, second)
	}
}

func TestBuildErrors(t *testing.T) {
	cat := mustCatalog(t, []catalog.Question{
		{DBQuestionID: 1, QuestionNumber: 1, SubTestNo: 1, AnswerType: catalog.FreeForm},
		{DBQuestionID: 7, QuestionNumber: 2, SubTestNo: 1, AnswerType: catalog.FreeForm},
		{DBQuestionID: 7, QuestionNumber: 3, SubTestNo: 1, AnswerType: catalog.FreeForm},
	})

	tests := []struct {
		name    string
		setup   func(l *session.Ledger)
		wantErr error
	}{
		{name: "extra part on dual question", setup: func(l *session.Ledger) { l.Confirm(7, 1, "a", "b", "c") }, wantErr: ErrPartOverflow},
		{name: "two values on single question", setup: func(l *session.Ledger) { l.Confirm(1, 1, "a", "b") }, wantErr: ErrPartOverflow},
		{name: "empty ledger", setup: func(*session.Ledger) {}, wantErr: ErrIncompleteSubmission},
		{name: "drafts only", setup: func(l *session.Ledger) { l.Draft(1, 1, "A") }, wantErr: ErrIncompleteSubmission},
		{name: "unknown question", setup: func(l *session.Ledger) { l.Confirm(404, 1, "A") }, wantErr: catalog.ErrNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := session.NewLedger()
			tc.setup(l)
			if _, err := NewBuilder(cat).Build(l); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestPayload(t *testing.T) {
	cat := mustCatalog(t, []catalog.Question{
		{DBQuestionID: 1, QuestionNumber: 1, SubTestNo: 1, AnswerType: catalog.FreeForm},
	})
	ledger := session.NewLedger()
	ledger.Confirm(1, 1, "42")

	p, err := NewBuilder(cat).Payload(ledger, "user-1")
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p.TestID != 99 || p.UserID != "user-1" || len(p.Answers) != 1 {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func intPtr(v int) *int { return &v }
