package session

import (
	"reflect"
	"testing"
)

type idList []int64

func (l idList) DistinctQuestionIDs() []int64 { return l }

func TestConfirmRejectsBlankValues(t *testing.T) {
	tests := []struct {
		name   string
		values []string
	}{
		{name: "no values"},
		{name: "empty", values: []string{""}},
		{name: "whitespace", values: []string{"   \t"}},
		{name: "blank second part", values: []string{"x", " "}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			l := NewLedger()
			if l.Confirm(1, 1, tc.values...) {
				t.Fatalf("expected confirm to be refused")
			}
			if l.AnsweredCount() != 0 || len(l.Confirmed()) != 0 {
				t.Fatalf("ledger should stay empty")
			}
		})
	}
}

func TestConfirmReplacesDraft(t *testing.T) {
	l := NewLedger()
	l.Draft(3, 1, "B")
	if l.IsConfirmed(3) {
		t.Fatalf("draft must not count as confirmed")
	}

	if !l.Confirm(3, 1, " C ") {
		t.Fatalf("confirm refused")
	}
	entries := l.Answer(3)
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	if !entries[0].Confirmed || *entries[0].Value != "C" {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestDraftDoesNotOverwriteConfirmed(t *testing.T) {
	l := NewLedger()
	l.Confirm(3, 1, "A")
	l.Draft(3, 1, "B")
	if got := *l.Answer(3)[0].Value; got != "A" {
		t.Fatalf("confirmed value changed to %q", got)
	}
}

func TestDualPartConfirmStoresOrderedParts(t *testing.T) {
	l := NewLedger()
	l.Confirm(7, 2, "x", "y")

	got := l.Confirmed()
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Part != 0 || *got[0].Value != "x" || got[1].Part != 1 || *got[1].Value != "y" {
		t.Fatalf("parts out of order: %+v", got)
	}
	if l.AnsweredCount() != 1 {
		t.Fatalf("dual question should count once, got %d", l.AnsweredCount())
	}
}

func TestEdit(t *testing.T) {
	l := NewLedger()
	if l.Edit(1) {
		t.Fatalf("edit on unanswered question should report false")
	}
	l.Confirm(1, 1, "A")
	if !l.Edit(1) {
		t.Fatalf("edit should remove confirmed answer")
	}
	if l.IsConfirmed(1) || l.AnsweredCount() != 0 {
		t.Fatalf("question should be unconfirmed after edit")
	}
}

func TestConfirmEditConfirmRoundTrip(t *testing.T) {
	single := NewLedger()
	single.Confirm(1, 1, "A")

	roundTrip := NewLedger()
	roundTrip.Confirm(1, 1, "A")
	roundTrip.Edit(1)
	roundTrip.Confirm(1, 1, "A")

	if !reflect.DeepEqual(single.Confirmed(), roundTrip.Confirmed()) {
		t.Fatalf("round trip diverged: %+v vs %+v", single.Confirmed(), roundTrip.Confirmed())
	}
}

func TestConfirmedKeepsConfirmationOrder(t *testing.T) {
	l := NewLedger()
	l.Confirm(2, 1, "b")
	l.Confirm(1, 1, "a")
	l.Confirm(3, 1, "c")
	l.Edit(2)
	l.Confirm(2, 1, "bb")

	var ids []int64
	for _, e := range l.Confirmed() {
		ids = append(ids, e.DBQuestionID)
	}
	if !reflect.DeepEqual(ids, []int64{1, 3, 2}) {
		t.Fatalf("unexpected order %v", ids)
	}
}

func TestIsComplete(t *testing.T) {
	l := NewLedger()
	ids := idList{1, 2, 3}

	l.Confirm(1, 1, "A")
	l.Confirm(2, 1, "B")
	if l.IsComplete(ids) {
		t.Fatalf("should not be complete with q3 unanswered")
	}
	l.Draft(3, 1, "C")
	if l.IsComplete(ids) {
		t.Fatalf("draft must not complete the session")
	}
	l.Confirm(3, 1, "C")
	if !l.IsComplete(ids) {
		t.Fatalf("expected complete")
	}
}

func TestConfirmedReturnsCopies(t *testing.T) {
	l := NewLedger()
	l.Confirm(1, 1, "A")
	got := l.Confirmed()
	*got[0].Value = "Z"
	if *l.Confirmed()[0].Value != "A" {
		t.Fatalf("ledger mutated through returned slice")
	}
}
