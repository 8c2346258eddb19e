// Package conversation holds the ordered question/answer history of a chat.
//
// State is a value: every mutation returns a new State and never touches the
// receiver, so callers pass it into a turn and take the updated copy back.
package conversation

import (
	"errors"
	"strings"
	"time"
)

var ErrEmptyQuestion = errors.New("conversation turn requires a non-empty question")

type Turn struct {
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	At       time.Time `json:"at,omitempty"`
}

type State struct {
	turns []Turn
}

// FromTurns builds a State from externally supplied history, for example a
// request body. Turns with an empty question are rejected.
func FromTurns(turns []Turn) (State, error) {
	state := State{}
	for _, turn := range turns {
		next, err := state.Append(turn)
		if err != nil {
			return State{}, err
		}
		state = next
	}
	return state, nil
}

func (s State) Append(turn Turn) (State, error) {
	if strings.TrimSpace(turn.Question) == "" {
		return s, ErrEmptyQuestion
	}
	turns := make([]Turn, len(s.turns), len(s.turns)+1)
	copy(turns, s.turns)
	return State{turns: append(turns, turn)}, nil
}

func (s State) Reset() State {
	return State{}
}

func (s State) Len() int {
	return len(s.turns)
}

// Turns returns the history oldest first. The slice is a copy.
func (s State) Turns() []Turn {
	if len(s.turns) == 0 {
		return nil
	}
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// Bounded is the session-side retention policy: once MaxTurns turns are held
// the history is cleared wholesale before the next turn is recorded.
// MaxTurns <= 0 keeps everything.
type Bounded struct {
	MaxTurns int
}

func (b Bounded) Record(state State, turn Turn) (State, error) {
	if b.MaxTurns > 0 && state.Len() >= b.MaxTurns {
		state = state.Reset()
	}
	return state.Append(turn)
}
