package query

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/snowchat/snowchat/internal/cache"
	"github.com/snowchat/snowchat/internal/observability"
)

type ExecutorOptions struct {
	RowLimit int
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Executor is the single entry point for running statements. Engine access is
// serialized; the warehouse connection is not shared between turns.
type Executor struct {
	mu       sync.Mutex
	engine   Engine
	cache    cache.Store
	rowLimit int
	timeout  time.Duration
	logger   *slog.Logger
}

func NewExecutor(engine Engine, store cache.Store, opts ExecutorOptions) *Executor {
	if store == nil {
		store = cache.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{
		engine:   engine,
		cache:    store,
		rowLimit: opts.RowLimit,
		timeout:  opts.Timeout,
		logger:   logger,
	}
}

type cachedResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Execute runs sqlText. With useCache a previous result for the exact same
// text is returned without touching the engine, and a fresh result is stored.
// Hits and misses return the same value shapes: rows pass through JSON either
// way, numbers as json.Number.
func (e *Executor) Execute(ctx context.Context, sqlText string, useCache bool) (Result, error) {
	if strings.TrimSpace(sqlText) == "" {
		return Result{}, &ExecutionError{Message: "sql is required"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if useCache {
		payload, ok, err := e.cache.Get(ctx, sqlText)
		if err != nil {
			e.logger.Warn("query cache read failed", "error", err)
		}
		observability.ObserveCacheLookup(ok)
		if ok {
			result, err := decodeResult(payload)
			if err == nil {
				result.Cached = true
				return result, nil
			}
			e.logger.Warn("query cache entry unreadable", "error", err)
		}
	}

	runCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := e.engine.Query(runCtx, Request{SQL: sqlText, RowLimit: e.rowLimit})
	observability.ObserveQuery(time.Since(start), err)
	if err != nil {
		return Result{}, asExecutionError(err)
	}

	rows := JSONSafe(result.Rows)
	payload, err := json.Marshal(cachedResult{Columns: result.Columns, Rows: rows})
	if err != nil {
		// The statement ran; only the cache is lost.
		e.logger.Warn("query result not cacheable", "error", err)
		return Result{Columns: result.Columns, Rows: rows, Duration: result.Duration}, nil
	}
	normalized, err := decodeResult(payload)
	if err != nil {
		e.logger.Warn("query result not cacheable", "error", err)
		return Result{Columns: result.Columns, Rows: rows, Duration: result.Duration}, nil
	}
	normalized.Duration = result.Duration

	if useCache {
		if err := e.cache.Set(ctx, sqlText, payload); err != nil {
			e.logger.Warn("query cache write failed", "error", err)
		}
	}
	return normalized, nil
}

func decodeResult(payload []byte) (Result, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	var stored cachedResult
	if err := decoder.Decode(&stored); err != nil {
		return Result{}, err
	}
	if stored.Rows == nil {
		stored.Rows = [][]any{}
	}
	return Result{Columns: stored.Columns, Rows: stored.Rows}, nil
}

func asExecutionError(err error) *ExecutionError {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}
	return &ExecutionError{Message: err.Error(), Err: err}
}
