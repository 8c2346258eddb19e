package pipeline

import (
	"time"

	"github.com/snowchat/snowchat/internal/conversation"
	"github.com/snowchat/snowchat/internal/query"
)

type State string

const (
	StateExecuting        State = "executing"
	StateCorrecting       State = "correcting"
	StateSuccess          State = "success"
	StateExhaustedRetries State = "exhausted_retries"
	StateRejected         State = "rejected"
	// StateFailed ends a turn whose completion call failed for good.
	StateFailed State = "failed"
)

func (s State) Terminal() bool {
	switch s {
	case StateSuccess, StateExhaustedRetries, StateRejected, StateFailed:
		return true
	default:
		return false
	}
}

// RetryState counts down from the budget and never goes below zero.
type RetryState struct {
	AttemptsRemaining int    `json:"attempts_remaining"`
	LastError         string `json:"last_error,omitempty"`
}

type TurnInput struct {
	Question string
	History  conversation.State
	UseCache bool
}

// TurnResult is everything a front end needs to render the turn.
type TurnResult struct {
	ID          string             `json:"id"`
	Question    string             `json:"question"`
	Answer      string             `json:"answer"`
	SQL         string             `json:"sql,omitempty"`
	Result      *query.Result      `json:"result,omitempty"`
	Outcome     State              `json:"outcome"`
	Notices     []string           `json:"notices,omitempty"`
	RetryState  RetryState         `json:"retry_state"`
	Transitions []State            `json:"transitions"`
	Provider    string             `json:"provider"`
	Elapsed     time.Duration      `json:"elapsed_ns"`
	History     conversation.State `json:"-"`
}

type EventKind string

const (
	EventToken  EventKind = "token"
	EventNotice EventKind = "notice"
	EventState  EventKind = "state"
)

// Event is a progress update emitted while a turn runs.
type Event struct {
	Kind       EventKind  `json:"kind"`
	Delta      string     `json:"delta,omitempty"`
	Text       string     `json:"text,omitempty"`
	Notice     string     `json:"notice,omitempty"`
	State      State      `json:"state,omitempty"`
	RetryState RetryState `json:"retry_state"`
}

type Observer func(Event)
