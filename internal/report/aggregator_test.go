package report

import (
	"errors"
	"testing"

	"cbtquiz/internal/catalog"
)

func TestScorePercent(t *testing.T) {
	tests := []struct {
		name    string
		correct int
		wrong   int
		total   int
		want    float64
	}{
		{name: "fifteen of twenty", correct: 15, wrong: 5, total: 20, want: 75.0},
		{name: "unanswered count against", correct: 15, wrong: 0, total: 20, want: 75.0},
		{name: "all correct", correct: 4, total: 4, want: 100},
		{name: "empty catalog", total: 0, want: 0},
		{name: "total smaller than correct", correct: 5, total: 4, want: 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var answers []GradedAnswer
			for i := 0; i < tc.correct; i++ {
				answers = append(answers, GradedAnswer{IsCorrect: true, SubTestNo: 1})
			}
			for i := 0; i < tc.wrong; i++ {
				answers = append(answers, GradedAnswer{SubTestNo: 1})
			}
			if got := NewAggregator(answers, tc.total).ScorePercent(); got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestGroupWrongBySubTest(t *testing.T) {
	var answers []GradedAnswer
	for i, sub := range []int{1, 1, 2, 3, 3, 3} {
		answers = append(answers, GradedAnswer{DBQuestionID: int64(i + 1), SubTestNo: sub, SubmittedValue: "x"})
	}
	answers = append(answers, GradedAnswer{DBQuestionID: 99, SubTestNo: 4, IsCorrect: true})

	groups := NewAggregator(answers, len(answers)).GroupWrongBySubTest()
	want := map[int]int{1: 2, 2: 1, 3: 3}
	if len(groups) != len(want) {
		t.Fatalf("unexpected keys: %v", groups)
	}
	for sub, n := range want {
		if len(groups[sub]) != n {
			t.Fatalf("sub-test %d: got %d, want %d", sub, len(groups[sub]), n)
		}
	}
	if groups[3][0].DBQuestionID != 4 || groups[3][2].DBQuestionID != 6 {
		t.Fatalf("group order not preserved: %+v", groups[3])
	}
}

func TestGroupingIncludesUnanswered(t *testing.T) {
	agg := NewAggregator([]GradedAnswer{
		{SubTestNo: 2, SubmittedValue: ""},
		{SubTestNo: 2, IsCorrect: true, SubmittedValue: "A"},
	}, 2)
	g := agg.GroupWrongBySubTest()[2]
	if len(g) != 1 || !g[0].Unanswered() {
		t.Fatalf("expected unanswered item in wrong group, got %+v", g)
	}
}

func TestAdvanceSubTestViewClamps(t *testing.T) {
	agg := NewAggregator([]GradedAnswer{
		{SubTestNo: 3}, {SubTestNo: 1}, {SubTestNo: 2}, {SubTestNo: 3},
	}, 4)

	if agg.CurrentSubTest() != 1 {
		t.Fatalf("expected cursor to start at lowest sub-test, got %d", agg.CurrentSubTest())
	}
	steps := []struct {
		dir  int
		want int
	}{
		{dir: -1, want: 1},
		{dir: 1, want: 2},
		{dir: 5, want: 3},
		{dir: 1, want: 3},
		{dir: -1, want: 2},
		{dir: 0, want: 2},
	}
	for i, s := range steps {
		if got := agg.AdvanceSubTestView(s.dir); got != s.want {
			t.Fatalf("step %d dir %d: got %d, want %d", i, s.dir, got, s.want)
		}
	}
}

func TestSubTestCursorEmptyAndSeek(t *testing.T) {
	empty := NewSubTestCursor(nil)
	if empty.Advance(1) != 0 || empty.Current() != 0 || !empty.AtEnd() {
		t.Fatalf("empty cursor should return 0")
	}

	c := NewSubTestCursor([]int{4, 2, 7})
	if !c.Seek(4) || c.Current() != 4 {
		t.Fatalf("seek 4 failed")
	}
	if c.Seek(5) || c.Current() != 4 {
		t.Fatalf("seek to missing sub-test must not move cursor")
	}
	if c.Advance(1) != 7 || !c.AtEnd() {
		t.Fatalf("expected end at 7")
	}
}

func TestByDisplayNumber(t *testing.T) {
	agg := NewAggregator([]GradedAnswer{
		{DBQuestionID: 10, QuestionNumber: 1, SubTestNo: 1},
		{DBQuestionID: 11, QuestionNumber: 1, SubTestNo: 2},
	}, 2)

	g, err := agg.ByDisplayNumber(2)
	if err != nil || g.DBQuestionID != 11 {
		t.Fatalf("got %+v, %v", g, err)
	}
	if _, err := agg.ByDisplayNumber(3); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	g, err = agg.ByQuestion(2, 1)
	if err != nil || g.DBQuestionID != 11 {
		t.Fatalf("by question: %+v, %v", g, err)
	}
}
