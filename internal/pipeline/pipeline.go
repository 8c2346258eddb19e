// Package pipeline runs one chat turn: retrieve schema context, ask the model,
// pull out SQL, guard it, execute it and, when the warehouse rejects the
// statement, re-prompt the model with the error a bounded number of times.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/snowchat/snowchat/internal/conversation"
	"github.com/snowchat/snowchat/internal/llm"
	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/prompt"
	"github.com/snowchat/snowchat/internal/query"
	"github.com/snowchat/snowchat/internal/retrieval"
	"github.com/snowchat/snowchat/internal/sqltext"
)

const (
	DefaultRetryBudget = 2

	CorrectingNotice = "Uh oh, I made an error, let me try to fix it.."
	ExhaustedNotice  = "I'm sorry, I couldn't fix the error. Please try again."
)

type Retriever interface {
	Retrieve(ctx context.Context, query string) (retrieval.Context, error)
}

// Completer is satisfied by *llm.Client.
type Completer interface {
	Name() string
	Config() llm.ProviderConfig
	Complete(ctx context.Context, messages []llm.Message) (llm.Response, error)
	Stream(ctx context.Context, messages []llm.Message, observer func(llm.Event)) (llm.Response, error)
}

// Executor is satisfied by *query.Executor.
type Executor interface {
	Execute(ctx context.Context, sqlText string, useCache bool) (query.Result, error)
}

type Options struct {
	Retriever Retriever
	Assembler *prompt.Assembler
	Completer Completer
	Executor  Executor
	// RetryBudget is the number of corrections allowed per turn.
	RetryBudget int
	// MaxHistoryTurns bounds the returned history; zero keeps everything.
	MaxHistoryTurns int
	// Condense rewrites follow-up questions into standalone retrieval queries.
	Condense bool
	// Stream requests token streaming from the provider.
	Stream bool
	Logger *slog.Logger
}

type Pipeline struct {
	retriever Retriever
	assembler *prompt.Assembler
	completer Completer
	executor  Executor
	budget    int
	history   conversation.Bounded
	condense  bool
	stream    bool
	logger    *slog.Logger
	now       func() time.Time
}

func New(opts Options) (*Pipeline, error) {
	if opts.Assembler == nil {
		return nil, fmt.Errorf("prompt assembler is required")
	}
	if opts.Completer == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if opts.Executor == nil {
		return nil, fmt.Errorf("query executor is required")
	}
	if opts.RetryBudget < 0 {
		return nil, fmt.Errorf("retry budget must be >= 0")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		retriever: opts.Retriever,
		assembler: opts.Assembler,
		completer: opts.Completer,
		executor:  opts.Executor,
		budget:    opts.RetryBudget,
		history:   conversation.Bounded{MaxTurns: opts.MaxHistoryTurns},
		condense:  opts.Condense,
		stream:    opts.Stream,
		logger:    logger,
		now:       time.Now,
	}, nil
}

func (p *Pipeline) Provider() string {
	return p.completer.Name()
}

// Run executes one turn. The returned error is reserved for caller mistakes
// and cancellation; every collaborator failure is folded into the result as
// an outcome plus a user-facing message.
func (p *Pipeline) Run(ctx context.Context, input TurnInput, observer Observer) (TurnResult, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return TurnResult{}, conversation.ErrEmptyQuestion
	}
	if observer == nil {
		observer = func(Event) {}
	}

	start := p.now()
	t := &turn{
		pipeline: p,
		observer: observer,
		useCache: input.UseCache,
		result: TurnResult{
			ID:         uuid.NewString(),
			Question:   question,
			Provider:   p.completer.Name(),
			RetryState: RetryState{AttemptsRemaining: p.budget},
			History:    input.History,
		},
	}
	logger := p.logger.With(slog.String("turn_id", t.result.ID), slog.String("provider", t.result.Provider))
	t.logger = logger

	history := input.History.Turns()
	schema := p.retrieve(ctx, t, p.retrievalQuery(ctx, t, question, history))
	if err := ctx.Err(); err != nil {
		return TurnResult{}, err
	}

	answer, err := t.complete(ctx, p.assembler.Build(question, history, schema))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TurnResult{}, ctxErr
		}
		t.fail(err)
		return p.finish(t, start), nil
	}
	t.result.Answer = answer

	sqlText, ok := sqltext.ExtractSQL(answer)
	if !ok || !sqltext.LooksLikeSQL(sqlText) {
		t.enter(StateSuccess)
		t.record()
		return p.finish(t, start), nil
	}

	if err := t.selfHeal(ctx, sqlText, schema); err != nil {
		return TurnResult{}, err
	}
	return p.finish(t, start), nil
}

func (p *Pipeline) finish(t *turn, start time.Time) TurnResult {
	t.result.Elapsed = p.now().Sub(start)
	observability.ObserveTurn(string(t.result.Outcome), t.result.Elapsed)
	t.logger.Info("turn finished",
		slog.String("outcome", string(t.result.Outcome)),
		slog.Int("attempts_remaining", t.result.RetryState.AttemptsRemaining),
		slog.Bool("executed", t.result.Result != nil),
		slog.Duration("elapsed", t.result.Elapsed),
	)
	return t.result
}

// retrievalQuery is the question itself unless condensing is enabled and
// there is history to resolve references against.
func (p *Pipeline) retrievalQuery(ctx context.Context, t *turn, question string, history []conversation.Turn) string {
	if !p.condense || len(history) == 0 {
		return question
	}
	resp, err := p.completer.Complete(ctx, prompt.CondenseMessages(question, history))
	if err != nil {
		t.logger.Warn("condense question failed, retrieving with the raw question", slog.String("error", err.Error()))
		return question
	}
	if standalone := strings.TrimSpace(resp.Text); standalone != "" {
		return standalone
	}
	return question
}

func (p *Pipeline) retrieve(ctx context.Context, t *turn, q string) retrieval.Context {
	if p.retriever == nil {
		return retrieval.Context{}
	}
	schema, err := p.retriever.Retrieve(ctx, q)
	if err != nil {
		observability.IncRetrievalFailure()
		t.logger.Warn("schema retrieval failed, continuing without context", slog.String("error", err.Error()))
		return retrieval.Context{}
	}
	return schema
}

// turn carries the mutable bookkeeping of a single Run.
type turn struct {
	pipeline *Pipeline
	observer Observer
	logger   *slog.Logger
	useCache bool
	result   TurnResult
}

func (t *turn) enter(state State) {
	t.result.Transitions = append(t.result.Transitions, state)
	if state.Terminal() {
		t.result.Outcome = state
	}
	t.observer(Event{Kind: EventState, State: state, RetryState: t.result.RetryState})
}

func (t *turn) notify(message string) {
	t.result.Notices = append(t.result.Notices, message)
	t.observer(Event{Kind: EventNotice, Notice: message})
}

func (t *turn) record() {
	next, err := t.pipeline.history.Record(t.result.History, conversation.Turn{
		Question: t.result.Question,
		Answer:   t.result.Answer,
		At:       t.pipeline.now().UTC(),
	})
	if err != nil {
		t.logger.Warn("turn not recorded in history", slog.String("error", err.Error()))
		return
	}
	t.result.History = next
}

func (t *turn) complete(ctx context.Context, built prompt.Prompt) (string, error) {
	p := t.pipeline
	messages := built.Messages(p.completer.Config().Variant())
	if !p.stream {
		resp, err := p.completer.Complete(ctx, messages)
		return resp.Text, err
	}
	resp, err := p.completer.Stream(ctx, messages, func(event llm.Event) {
		t.observer(Event{Kind: EventToken, Delta: event.Delta, Text: event.Text})
	})
	return resp.Text, err
}

// fail ends the turn on a completion error. The detailed error is logged; the
// user sees a plain message.
func (t *turn) fail(err error) {
	t.logger.Error("completion failed", slog.String("error", err.Error()))
	t.result.Answer = userMessage(err)
	t.notify(t.result.Answer)
	t.enter(StateFailed)
}

func userMessage(err error) string {
	var authErr *llm.AuthError
	var rateErr *llm.RateLimitError
	switch {
	case errors.As(err, &authErr):
		return fmt.Sprintf("I couldn't authenticate with %s. Please check the API key configuration.", authErr.Provider)
	case errors.As(err, &rateErr):
		return "The language model is rate limiting requests right now. Please try again in a moment."
	default:
		return "Sorry, something went wrong while generating the answer. Please try again."
	}
}
