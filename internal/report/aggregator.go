package report

import (
	"fmt"
	"sort"

	"cbtquiz/internal/catalog"
	"cbtquiz/internal/media"
)

// GradedAnswer is the grading backend's verdict on one question. Unanswered
// questions arrive as incorrect with an empty SubmittedValue.
type GradedAnswer struct {
	DBQuestionID   int64       `json:"db_question_id"`
	Ordinal        int         `json:"ordinal"`
	QuestionNumber int         `json:"question_number"`
	SubTestNo      int         `json:"sub_test_no"`
	IsCorrect      bool        `json:"is_correct"`
	SubmittedValue string      `json:"submitted_value"`
	CorrectValue   string      `json:"correct_value"`
	SolutionMedia  []media.Ref `json:"solution_media,omitempty"`
}

func (g GradedAnswer) Unanswered() bool { return g.SubmittedValue == "" }

// Aggregator restructures a graded result set for review.
type Aggregator struct {
	answers  []GradedAnswer
	total    int
	correct  int
	wrong    map[int][]GradedAnswer
	subTests []int
	cursor   *SubTestCursor
}

// NewAggregator takes the graded answers in catalog order. totalCount is the
// catalog size; unanswered questions count against the score.
func NewAggregator(answers []GradedAnswer, totalCount int) *Aggregator {
	a := &Aggregator{
		answers: make([]GradedAnswer, len(answers)),
		total:   totalCount,
		wrong:   make(map[int][]GradedAnswer),
	}
	copy(a.answers, answers)

	for i := range a.answers {
		if a.answers[i].Ordinal == 0 {
			a.answers[i].Ordinal = i + 1
		}
		g := a.answers[i]
		if g.IsCorrect {
			a.correct++
			continue
		}
		if _, seen := a.wrong[g.SubTestNo]; !seen {
			a.subTests = append(a.subTests, g.SubTestNo)
		}
		a.wrong[g.SubTestNo] = append(a.wrong[g.SubTestNo], g)
	}
	sort.Ints(a.subTests)
	a.cursor = NewSubTestCursor(a.subTests)
	return a
}

func (a *Aggregator) Answers() []GradedAnswer {
	out := make([]GradedAnswer, len(a.answers))
	copy(out, a.answers)
	return out
}

// GroupWrongBySubTest groups incorrect and unanswered items by sub-test.
func (a *Aggregator) GroupWrongBySubTest() map[int][]GradedAnswer {
	out := make(map[int][]GradedAnswer, len(a.wrong))
	for no, group := range a.wrong {
		out[no] = append([]GradedAnswer(nil), group...)
	}
	return out
}

// WrongSubTests lists the sub-tests that have wrong answers, ascending.
func (a *Aggregator) WrongSubTests() []int {
	return append([]int(nil), a.subTests...)
}

func (a *Aggregator) ByDisplayNumber(n int) (GradedAnswer, error) {
	for _, g := range a.answers {
		if g.Ordinal == n {
			return g, nil
		}
	}
	return GradedAnswer{}, fmt.Errorf("graded answer %d: %w", n, catalog.ErrNotFound)
}

func (a *Aggregator) ByQuestion(subTestNo, questionNumber int) (GradedAnswer, error) {
	for _, g := range a.answers {
		if g.SubTestNo == subTestNo && g.QuestionNumber == questionNumber {
			return g, nil
		}
	}
	return GradedAnswer{}, fmt.Errorf("graded answer %d/%d: %w", subTestNo, questionNumber, catalog.ErrNotFound)
}

func (a *Aggregator) CorrectCount() int { return a.correct }
func (a *Aggregator) TotalCount() int   { return a.total }

// ScorePercent is 100*correct/total, clamped to [0, 100]. An empty catalog
// scores 0.
func (a *Aggregator) ScorePercent() float64 {
	if a.total <= 0 {
		return 0
	}
	p := 100 * float64(a.correct) / float64(a.total)
	if p > 100 {
		return 100
	}
	return p
}

// AdvanceSubTestView moves the review cursor by one sub-test in the sign of
// direction and returns the sub-test now shown.
func (a *Aggregator) AdvanceSubTestView(direction int) int {
	return a.cursor.Advance(direction)
}

func (a *Aggregator) CurrentSubTest() int { return a.cursor.Current() }

// SubTestCursor returns a fresh cursor over the wrong-answer sub-tests.
func (a *Aggregator) SubTestCursor() *SubTestCursor {
	return NewSubTestCursor(a.subTests)
}

// SubTestCursor paginates over a sorted set of sub-test numbers, clamping at
// both ends. With no sub-tests every call returns 0.
type SubTestCursor struct {
	subTests []int
	pos      int
}

func NewSubTestCursor(subTests []int) *SubTestCursor {
	sorted := append([]int(nil), subTests...)
	sort.Ints(sorted)
	return &SubTestCursor{subTests: sorted}
}

func (c *SubTestCursor) Current() int {
	if len(c.subTests) == 0 {
		return 0
	}
	return c.subTests[c.pos]
}

func (c *SubTestCursor) Advance(direction int) int {
	switch {
	case direction > 0 && c.pos < len(c.subTests)-1:
		c.pos++
	case direction < 0 && c.pos > 0:
		c.pos--
	}
	return c.Current()
}

func (c *SubTestCursor) AtStart() bool { return c.pos == 0 }

func (c *SubTestCursor) AtEnd() bool { return len(c.subTests) == 0 || c.pos == len(c.subTests)-1 }

// Seek positions the cursor on subTestNo. It reports false and leaves the
// cursor unchanged when subTestNo is not present.
func (c *SubTestCursor) Seek(subTestNo int) bool {
	i := sort.SearchInts(c.subTests, subTestNo)
	if i >= len(c.subTests) || c.subTests[i] != subTestNo {
		return false
	}
	c.pos = i
	return true
}
