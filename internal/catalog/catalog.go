package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("question not found")
	ErrMalformedCatalog = errors.New("malformed catalog")
)

type AnswerType string

const (
	SingleChoice AnswerType = "single_choice"
	FreeForm     AnswerType = "free_form"
)

// Question is one answer-key entry. Questions sharing a DBQuestionID are the
// parts of one displayed question.
type Question struct {
	Ordinal        int        `json:"ordinal"`
	DBQuestionID   int64      `json:"db_question_id"`
	QuestionNumber int        `json:"question_number"`
	SubTestNo      int        `json:"sub_test_no"`
	AnswerType     AnswerType `json:"answer_type"`
	Options        []string   `json:"options,omitempty"`
	PartIndexHint  *int       `json:"part_index_hint,omitempty"`
}

// Catalog is the immutable answer key of one test session.
type Catalog struct {
	testID        int64
	themeID       int64
	questionCount int

	questions []Question
	parts     map[int64][]int
	idOrder   []int64
	subTests  []int
	bySubTest map[int][]int
}

func New(testID, themeID int64, questions []Question) (*Catalog, error) {
	c := &Catalog{
		testID:    testID,
		themeID:   themeID,
		questions: make([]Question, 0, len(questions)),
		parts:     make(map[int64][]int),
		bySubTest: make(map[int][]int),
	}

	for i, q := range questions {
		if q.DBQuestionID <= 0 {
			return nil, fmt.Errorf("%w: entry %d has no question id", ErrMalformedCatalog, i+1)
		}
		switch q.AnswerType {
		case SingleChoice:
			if len(q.Options) == 0 {
				return nil, fmt.Errorf("%w: question %d has no options", ErrMalformedCatalog, q.DBQuestionID)
			}
		case FreeForm:
			q.Options = nil
		default:
			return nil, fmt.Errorf("%w: question %d has answer type %q", ErrMalformedCatalog, q.DBQuestionID, q.AnswerType)
		}

		q.Ordinal = i + 1
		q.Options = append([]string(nil), q.Options...)
		idx := len(c.questions)
		c.questions = append(c.questions, q)

		if _, seen := c.parts[q.DBQuestionID]; !seen {
			c.idOrder = append(c.idOrder, q.DBQuestionID)
		}
		c.parts[q.DBQuestionID] = append(c.parts[q.DBQuestionID], idx)

		if _, seen := c.bySubTest[q.SubTestNo]; !seen {
			c.subTests = append(c.subTests, q.SubTestNo)
		}
		c.bySubTest[q.SubTestNo] = append(c.bySubTest[q.SubTestNo], idx)
	}

	c.questionCount = len(c.questions)
	return c, nil
}

func (c *Catalog) TestID() int64  { return c.testID }
func (c *Catalog) ThemeID() int64 { return c.themeID }

// Len is the number of navigable entries.
func (c *Catalog) Len() int { return len(c.questions) }

// QuestionCount is the size used for scoring. It is the server-declared
// count when one was given, otherwise Len.
func (c *Catalog) QuestionCount() int { return c.questionCount }

func (c *Catalog) Questions() []Question {
	out := make([]Question, len(c.questions))
	copy(out, c.questions)
	return out
}

// ByDisplayNumber returns the question shown at navigator position n (1-based).
func (c *Catalog) ByDisplayNumber(n int) (Question, error) {
	if n < 1 || n > len(c.questions) {
		return Question{}, fmt.Errorf("%w: number %d outside [1, %d]", ErrNotFound, n, len(c.questions))
	}
	return c.questions[n-1], nil
}

// GroupBySubTest groups questions by sub-test, catalog order kept in each group.
func (c *Catalog) GroupBySubTest() map[int][]Question {
	out := make(map[int][]Question, len(c.bySubTest))
	for no, idxs := range c.bySubTest {
		group := make([]Question, 0, len(idxs))
		for _, i := range idxs {
			group = append(group, c.questions[i])
		}
		out[no] = group
	}
	return out
}

// SubTests lists sub-test numbers in order of first occurrence.
func (c *Catalog) SubTests() []int {
	return append([]int(nil), c.subTests...)
}

// PartsOf returns every entry sharing dbQuestionID, in catalog order.
func (c *Catalog) PartsOf(dbQuestionID int64) []Question {
	idxs := c.parts[dbQuestionID]
	if len(idxs) == 0 {
		return nil
	}
	out := make([]Question, 0, len(idxs))
	for _, i := range idxs {
		out = append(out, c.questions[i])
	}
	return out
}

// DistinctQuestionIDs lists question ids in order of first occurrence.
func (c *Catalog) DistinctQuestionIDs() []int64 {
	return append([]int64(nil), c.idOrder...)
}

// LastOrdinalOf is the navigator position of the last part of dbQuestionID,
// or 0 when the id is unknown.
func (c *Catalog) LastOrdinalOf(dbQuestionID int64) int {
	idxs := c.parts[dbQuestionID]
	if len(idxs) == 0 {
		return 0
	}
	return idxs[len(idxs)-1] + 1
}
