package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Wire is the body of GET /theme-test/{testId}.
type Wire struct {
	TestID        int64       `json:"testId"`
	QuestionCount int         `json:"questionCount"`
	ThemeID       int64       `json:"themeId"`
	AnswerKeys    []AnswerKey `json:"answerKeys"`
}

type AnswerKey struct {
	DBQuestionNumber int64  `json:"dbQuestionNumber"`
	QuestionNumber   int    `json:"questionNumber"`
	SubTestNo        int    `json:"subTestNo"`
	AnswerType       string `json:"answerType"`
	Options          string `json:"options"`
	PartIndex        *int   `json:"partIndex,omitempty"`
}

// Decode parses a catalog response body. testID is used when the body does
// not carry one.
func Decode(raw []byte, testID int64) (*Catalog, error) {
	var w Wire
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("%w: decode body: %v", ErrMalformedCatalog, err)
	}
	if w.TestID == 0 {
		w.TestID = testID
	}
	return FromWire(w)
}

func FromWire(w Wire) (*Catalog, error) {
	if w.QuestionCount < 0 {
		return nil, fmt.Errorf("%w: negative questionCount %d", ErrMalformedCatalog, w.QuestionCount)
	}

	questions := make([]Question, 0, len(w.AnswerKeys))
	for i, k := range w.AnswerKeys {
		at, err := parseAnswerType(k.AnswerType)
		if err != nil {
			return nil, fmt.Errorf("%w: answer key %d: %v", ErrMalformedCatalog, i+1, err)
		}
		opts, err := parseOptions(k.Options)
		if err != nil {
			return nil, fmt.Errorf("%w: answer key %d options: %v", ErrMalformedCatalog, i+1, err)
		}
		if k.PartIndex != nil && *k.PartIndex < 0 {
			return nil, fmt.Errorf("%w: answer key %d has negative partIndex", ErrMalformedCatalog, i+1)
		}
		questions = append(questions, Question{
			DBQuestionID:   k.DBQuestionNumber,
			QuestionNumber: k.QuestionNumber,
			SubTestNo:      k.SubTestNo,
			AnswerType:     at,
			Options:        opts,
			PartIndexHint:  k.PartIndex,
		})
	}

	c, err := New(w.TestID, w.ThemeID, questions)
	if err != nil {
		return nil, err
	}
	if w.QuestionCount > 0 {
		c.questionCount = w.QuestionCount
	}
	return c, nil
}

func parseAnswerType(v string) (AnswerType, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "single_choice", "single", "choice", "radio":
		return SingleChoice, nil
	case "free_form", "free", "input", "expression":
		return FreeForm, nil
	default:
		return "", fmt.Errorf("unknown answerType %q", v)
	}
}

// parseOptions decodes the JSON-encoded options string. Empty and "null"
// mean no options.
func parseOptions(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("empty option")
		}
		if _, dup := seen[s]; dup {
			return nil, fmt.Errorf("duplicate option %q", s)
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}
