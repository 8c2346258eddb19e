package conversation

import (
	"errors"
	"testing"
)

func TestAppendRejectsEmptyQuestion(t *testing.T) {
	state := State{}
	for _, question := range []string{"", "   ", "\n\t"} {
		next, err := state.Append(Turn{Question: question, Answer: "x"})
		if !errors.Is(err, ErrEmptyQuestion) {
			t.Fatalf("Append(%q) error = %v, want ErrEmptyQuestion", question, err)
		}
		if next.Len() != 0 {
			t.Fatalf("Append(%q) Len() = %d, want 0", question, next.Len())
		}
	}
}

func TestAppendDoesNotMutateReceiver(t *testing.T) {
	first, err := State{}.Append(Turn{Question: "q1", Answer: "a1"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	second, err := first.Append(Turn{Question: "q2", Answer: "a2"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	branch, err := first.Append(Turn{Question: "q3", Answer: "a3"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if first.Len() != 1 {
		t.Fatalf("first.Len() = %d, want 1", first.Len())
	}
	if got := second.Turns()[1].Question; got != "q2" {
		t.Fatalf("second turn = %q, want q2", got)
	}
	if got := branch.Turns()[1].Question; got != "q3" {
		t.Fatalf("branch turn = %q, want q3", got)
	}
}

func TestTurnsReturnsCopyInInsertionOrder(t *testing.T) {
	state, err := FromTurns([]Turn{{Question: "a"}, {Question: "b"}, {Question: "c"}})
	if err != nil {
		t.Fatalf("FromTurns() error = %v", err)
	}
	turns := state.Turns()
	turns[0].Question = "mutated"

	got := state.Turns()
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Question != want {
			t.Fatalf("Turns()[%d] = %q, want %q", i, got[i].Question, want)
		}
	}
}

func TestFromTurnsRejectsEmptyQuestion(t *testing.T) {
	if _, err := FromTurns([]Turn{{Question: "ok"}, {Question: ""}}); !errors.Is(err, ErrEmptyQuestion) {
		t.Fatalf("FromTurns() error = %v, want ErrEmptyQuestion", err)
	}
}

func TestResetClearsWholesale(t *testing.T) {
	state, _ := FromTurns([]Turn{{Question: "a"}, {Question: "b"}})
	if state.Reset().Len() != 0 {
		t.Fatal("Reset() should return an empty state")
	}
	if state.Len() != 2 {
		t.Fatal("Reset() must not mutate the receiver")
	}
}

func TestBoundedRecordResetsWhenFull(t *testing.T) {
	policy := Bounded{MaxTurns: 3}
	state := State{}
	var err error
	for _, q := range []string{"q1", "q2", "q3"} {
		state, err = policy.Record(state, Turn{Question: q})
		if err != nil {
			t.Fatalf("Record(%q) error = %v", q, err)
		}
	}
	if state.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", state.Len())
	}

	state, err = policy.Record(state, Turn{Question: "q4"})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if state.Len() != 1 || state.Turns()[0].Question != "q4" {
		t.Fatalf("Turns() = %#v, want only q4", state.Turns())
	}
}

func TestBoundedZeroIsUnbounded(t *testing.T) {
	policy := Bounded{}
	state := State{}
	for i := 0; i < 10; i++ {
		state, _ = policy.Record(state, Turn{Question: "q"})
	}
	if state.Len() != 10 {
		t.Fatalf("Len() = %d, want 10", state.Len())
	}
}
