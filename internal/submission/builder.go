package submission

import (
	"errors"
	"fmt"

	"cbtquiz/internal/catalog"
	"cbtquiz/internal/session"
)

var (
	ErrIncompleteSubmission = errors.New("no confirmed answers to submit")
	// ErrPartOverflow means the ledger holds more answers for a question
	// than the catalog has parts for it.
	ErrPartOverflow = errors.New("more answers than question parts")
)

// Record is one answer as the grading backend expects it.
type Record struct {
	QuestionNumber int    `json:"questionNumber"`
	SubTestNo      int    `json:"subTestNo"`
	PartIndex      int    `json:"partIndex"`
	Answer         string `json:"answer"`
}

// Payload is the body of POST /test-results.
type Payload struct {
	TestID  int64    `json:"testId"`
	UserID  string   `json:"userId"`
	Answers []Record `json:"answers"`
}

// Ledger is the read side of a session ledger the builder needs.
type Ledger interface {
	Confirmed() []session.LocalAnswer
}

type Builder struct {
	cat *catalog.Catalog
}

func NewBuilder(cat *catalog.Catalog) *Builder {
	return &Builder{cat: cat}
}

// Build converts the confirmed answers into submission records, in the order
// they were confirmed. Single-part questions get part index 0. Parts of a
// multi-part question are numbered from 1 in emission order.
func (b *Builder) Build(ledger Ledger) ([]Record, error) {
	confirmed := ledger.Confirmed()

	records := make([]Record, 0, len(confirmed))
	counters := make(map[int64]int)
	for _, a := range confirmed {
		if a.Value == nil {
			continue
		}
		parts := b.cat.PartsOf(a.DBQuestionID)
		if len(parts) == 0 {
			return nil, fmt.Errorf("build submission: question %d: %w", a.DBQuestionID, catalog.ErrNotFound)
		}

		counters[a.DBQuestionID]++
		seen := counters[a.DBQuestionID]
		if seen > len(parts) {
			return nil, fmt.Errorf("build submission: question %d has %d parts: %w", a.DBQuestionID, len(parts), ErrPartOverflow)
		}

		rec := Record{
			QuestionNumber: parts[0].QuestionNumber,
			SubTestNo:      a.SubTestNo,
			Answer:         *a.Value,
		}
		if len(parts) > 1 {
			rec.PartIndex = seen
			rec.QuestionNumber = parts[seen-1].QuestionNumber
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		return nil, ErrIncompleteSubmission
	}
	return records, nil
}

func (b *Builder) Payload(ledger Ledger, userID string) (Payload, error) {
	records, err := b.Build(ledger)
	if err != nil {
		return Payload{}, err
	}
	return Payload{
		TestID:  b.cat.TestID(),
		UserID:  userID,
		Answers: records,
	}, nil
}
