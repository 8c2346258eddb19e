package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/snowchat/snowchat/internal/guard"
	"github.com/snowchat/snowchat/internal/observability"
	"github.com/snowchat/snowchat/internal/prompt"
	"github.com/snowchat/snowchat/internal/query"
	"github.com/snowchat/snowchat/internal/retrieval"
	"github.com/snowchat/snowchat/internal/sqltext"
)

// selfHeal drives the Executing/Correcting loop for sqlText. Every statement,
// corrected ones included, passes the guard before it reaches the executor.
// It only returns an error when ctx is done.
func (t *turn) selfHeal(ctx context.Context, sqlText string, schema retrieval.Context) error {
	p := t.pipeline
	current := sqlText
	t.enter(StateExecuting)

	for {
		t.result.SQL = current

		decision := guard.Check(current)
		if !decision.Allowed {
			observability.IncGuardRejection(decision.Keyword)
			t.logger.Warn("statement rejected by guard", slog.String("keyword", decision.Keyword))
			t.result.Answer = guard.RefusalMessage
			t.notify(guard.RefusalMessage)
			t.enter(StateRejected)
			t.record()
			return nil
		}

		result, err := p.executor.Execute(ctx, current, t.useCache)
		if err == nil {
			t.result.Result = &result
			t.enter(StateSuccess)
			t.record()
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		message := executionMessage(err)
		t.result.RetryState.LastError = message
		t.logger.Info("statement failed", slog.String("error", message), slog.Int("attempts_remaining", t.result.RetryState.AttemptsRemaining))

		if t.result.RetryState.AttemptsRemaining <= 0 {
			t.exhaust()
			return nil
		}

		t.result.RetryState.AttemptsRemaining--
		observability.IncSelfHealCorrection()
		t.notify(CorrectingNotice)
		t.enter(StateCorrecting)

		// The correction is asked without history so the model focuses on
		// the failing statement.
		answer, err := t.complete(ctx, p.assembler.Build(prompt.FixQuestion(current, message), nil, schema))
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			t.fail(err)
			return nil
		}
		t.result.Answer = answer

		fixed, ok := sqltext.ExtractSQL(answer)
		if !ok || !sqltext.LooksLikeSQL(fixed) {
			t.logger.Info("correction returned no SQL")
			t.exhaust()
			return nil
		}
		current = fixed
		t.enter(StateExecuting)
	}
}

func (t *turn) exhaust() {
	t.notify(ExhaustedNotice)
	t.enter(StateExhaustedRetries)
	t.record()
}

func executionMessage(err error) string {
	var execErr *query.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Message
	}
	return err.Error()
}
