package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cbtquiz/internal/media"
)

var ErrResultUnavailable = errors.New("result unavailable")

// Document is one graded result from GET /quiz-results.
type Document struct {
	Percent  float64      `json:"percent"`
	Score    float64      `json:"score"`
	MaxScore float64      `json:"maxScore"`
	Answers  []WireAnswer `json:"answers"`
}

type WireAnswer struct {
	DBQuestionNumber int64      `json:"dbQuestionNumber"`
	QuestionNumber   int        `json:"questionNumber"`
	SubTestNo        int        `json:"subTestNo"`
	Answer           string     `json:"answer"`
	CorrectAnswer    string     `json:"correctAnswer"`
	IsCorrect        *bool      `json:"isCorrect"`
	AnswerFileID     flexString `json:"answerFileId"`
	Photos           []Photo    `json:"photos"`
}

type Photo struct {
	FileID       flexString `json:"fileId"`
	RelativePath string     `json:"relativePath"`
}

// DecodeDocuments accepts either a list of documents or a single document.
// No documents is ErrResultUnavailable.
func DecodeDocuments(raw []byte) ([]Document, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, ErrResultUnavailable
	}

	var docs []Document
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &docs); err != nil {
			return nil, fmt.Errorf("%w: decode results: %v", ErrResultUnavailable, err)
		}
	} else {
		var d Document
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("%w: decode results: %v", ErrResultUnavailable, err)
		}
		docs = []Document{d}
	}
	if len(docs) == 0 {
		return nil, ErrResultUnavailable
	}
	return docs, nil
}

// Latest is the most recent document; the backend lists them oldest first.
func Latest(docs []Document) (Document, error) {
	if len(docs) == 0 {
		return Document{}, ErrResultUnavailable
	}
	return docs[len(docs)-1], nil
}

// Graded maps the wire answers to GradedAnswer in received order. A missing
// isCorrect counts as incorrect.
func (d Document) Graded() []GradedAnswer {
	out := make([]GradedAnswer, 0, len(d.Answers))
	for i, a := range d.Answers {
		g := GradedAnswer{
			DBQuestionID:   a.DBQuestionNumber,
			Ordinal:        i + 1,
			QuestionNumber: a.QuestionNumber,
			SubTestNo:      a.SubTestNo,
			IsCorrect:      a.IsCorrect != nil && *a.IsCorrect,
			SubmittedValue: strings.TrimSpace(a.Answer),
			CorrectValue:   a.CorrectAnswer,
		}
		if id := string(a.AnswerFileID); id != "" {
			g.SolutionMedia = append(g.SolutionMedia, media.Ref{Kind: media.KindVideo, FileID: id})
		}
		for _, p := range a.Photos {
			if p.FileID == "" && p.RelativePath == "" {
				continue
			}
			g.SolutionMedia = append(g.SolutionMedia, media.Ref{
				Kind:         media.KindImage,
				FileID:       string(p.FileID),
				RelativePath: p.RelativePath,
			})
		}
		out = append(out, g)
	}
	return out
}

// flexString decodes file ids the backend sends as either strings or numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
