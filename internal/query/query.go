// Package query runs guarded SQL against the warehouse and caches results.
package query

import (
	"context"
	"fmt"
	"time"
)

type Request struct {
	SQL      string
	RowLimit int
}

type Result struct {
	Columns  []string      `json:"columns"`
	Rows     [][]any       `json:"rows"`
	Duration time.Duration `json:"duration_ns"`
	Cached   bool          `json:"cached"`
}

// Engine is the warehouse. Implementations should report statement failures
// as *ExecutionError so the driver's message and code survive.
type Engine interface {
	Query(ctx context.Context, request Request) (Result, error)
}

// ExecutionError is a failed statement. Message is the warehouse's own text,
// unedited, because it is fed back to the model on correction.
type ExecutionError struct {
	Message string
	Code    string
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (code %s)", e.Message, e.Code)
	}
	return e.Message
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
