package session

import (
	"strings"
	"sync"
)

// LocalAnswer is one part of a test-taker's answer. Value is nil while the
// question has not been answered.
type LocalAnswer struct {
	DBQuestionID int64   `json:"db_question_id"`
	SubTestNo    int     `json:"sub_test_no"`
	Part         int     `json:"part"`
	Value        *string `json:"value"`
	Confirmed    bool    `json:"confirmed"`
}

// IDSource lists the question ids a session must answer.
type IDSource interface {
	DistinctQuestionIDs() []int64
}

// Ledger holds the answers of one session. Entries are kept in the order
// they were written; confirming or editing removes the old entries of that
// question and appends new ones.
type Ledger struct {
	mu      sync.RWMutex
	entries []LocalAnswer
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Draft stores an unconfirmed selection, replacing any earlier draft. A
// confirmed question is left alone; Edit it first.
func (l *Ledger) Draft(dbQuestionID int64, subTestNo int, values ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.confirmedLocked(dbQuestionID) {
		return
	}
	l.removeLocked(dbQuestionID)
	for part, v := range values {
		v := v
		var ptr *string
		if strings.TrimSpace(v) != "" {
			ptr = &v
		}
		l.entries = append(l.entries, LocalAnswer{
			DBQuestionID: dbQuestionID,
			SubTestNo:    subTestNo,
			Part:         part,
			Value:        ptr,
		})
	}
}

// Confirm locks in the answer of a question, one value per part in part
// order. It is a no-op returning false when no values are given or any value
// is blank after trimming.
func (l *Ledger) Confirm(dbQuestionID int64, subTestNo int, values ...string) bool {
	if len(values) == 0 {
		return false
	}
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			return false
		}
		cleaned = append(cleaned, v)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.removeLocked(dbQuestionID)
	for part, v := range cleaned {
		v := v
		l.entries = append(l.entries, LocalAnswer{
			DBQuestionID: dbQuestionID,
			SubTestNo:    subTestNo,
			Part:         part,
			Value:        &v,
			Confirmed:    true,
		})
	}
	return true
}

// Edit removes the confirmed entries of a question. It reports whether
// anything was removed.
func (l *Ledger) Edit(dbQuestionID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.confirmedLocked(dbQuestionID) {
		return false
	}
	l.removeLocked(dbQuestionID)
	return true
}

func (l *Ledger) AnsweredCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	seen := make(map[int64]struct{})
	for _, e := range l.entries {
		if e.Confirmed {
			seen[e.DBQuestionID] = struct{}{}
		}
	}
	return len(seen)
}

func (l *Ledger) IsComplete(ids IDSource) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, id := range ids.DistinctQuestionIDs() {
		if !l.confirmedLocked(id) {
			return false
		}
	}
	return true
}

func (l *Ledger) IsConfirmed(dbQuestionID int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.confirmedLocked(dbQuestionID)
}

// Confirmed returns the confirmed entries in confirmation order.
func (l *Ledger) Confirmed() []LocalAnswer {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]LocalAnswer, 0, len(l.entries))
	for _, e := range l.entries {
		if e.Confirmed {
			out = append(out, copyAnswer(e))
		}
	}
	return out
}

// Answer returns every entry of one question, drafts included, in part order.
func (l *Ledger) Answer(dbQuestionID int64) []LocalAnswer {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []LocalAnswer
	for _, e := range l.entries {
		if e.DBQuestionID == dbQuestionID {
			out = append(out, copyAnswer(e))
		}
	}
	return out
}

func (l *Ledger) confirmedLocked(dbQuestionID int64) bool {
	for _, e := range l.entries {
		if e.DBQuestionID == dbQuestionID && e.Confirmed {
			return true
		}
	}
	return false
}

func (l *Ledger) removeLocked(dbQuestionID int64) {
	kept := l.entries[:0]
	for _, e := range l.entries {
		if e.DBQuestionID != dbQuestionID {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(l.entries); i++ {
		l.entries[i] = LocalAnswer{}
	}
	l.entries = kept
}

func copyAnswer(e LocalAnswer) LocalAnswer {
	if e.Value != nil {
		v := *e.Value
		e.Value = &v
	}
	return e
}
