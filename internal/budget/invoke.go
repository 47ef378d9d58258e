package budget

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/MRamiBalles/MafiaGemelos/server/internal/budget")

// Call performs one provider attempt. It reports the usage consumed even when
// it fails, so malformed replies are still charged.
type Call[T any] func(ctx context.Context, attempt int) (T, CallUsage, error)

// Outcome is the result of a budgeted invocation. When Err is set Value is the
// zero value and the caller must fall back to an explicitly marked default.
type Outcome[T any] struct {
	Value    T
	Notices  []Notice
	Attempts int
	Latency  time.Duration
	Err      error
}

// Fallback reports whether the caller has to synthesize a default.
func (o Outcome[T]) Fallback() bool {
	return o.Err != nil
}

// Blocked reports whether a ceiling stopped the invocation.
func (o Outcome[T]) Blocked() bool {
	return errors.Is(o.Err, ErrBudgetExceeded)
}

// Invoke runs call under g: every attempt is admitted against the ceilings
// first, charged afterwards, and retried with a constant delay while the
// failure is retryable. Cancellation of ctx stops retries.
func Invoke[T any](ctx context.Context, g *Guard, req Request, call Call[T]) Outcome[T] {
	ctx, span := tracer.Start(ctx, "budget.Invoke")
	defer span.End()
	span.SetAttributes(
		attribute.String("game.id", req.GameID),
		attribute.String("player.id", req.PlayerID),
		attribute.String("turn.id", req.TurnID),
	)

	var out Outcome[T]
	start := time.Now()
	attempt := 0

	op := func() (T, error) {
		var zero T
		attempt++
		notices, err := g.Admit(req)
		out.Notices = append(out.Notices, notices...)
		if err != nil {
			return zero, backoff.Permanent(err)
		}

		value, usage, err := call(ctx, attempt)
		if usage.PromptTokens > 0 || usage.CompletionTokens > 0 {
			out.Notices = append(out.Notices, g.Charge(req, usage, attempt)...)
		}
		if err == nil {
			return value, nil
		}
		if ctx.Err() != nil {
			return zero, backoff.Permanent(ctx.Err())
		}
		if !IsRetryable(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	cfg := g.Config()
	value, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(cfg.RetryDelay)),
		backoff.WithMaxTries(uint(cfg.MaxRetries+1)),
		backoff.WithNotify(func(err error, _ time.Duration) {
			out.Notices = append(out.Notices, Notice{
				Kind:     NoticeRetry,
				PlayerID: req.PlayerID,
				TurnID:   req.TurnID,
				Attempt:  attempt,
				Error:    err.Error(),
			})
		}),
	)

	out.Attempts = attempt
	out.Latency = time.Since(start)
	span.SetAttributes(attribute.Int("attempts", attempt))

	if err != nil {
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		switch {
		case errors.Is(err, ErrBudgetExceeded), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		case IsRetryable(err):
			err = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}
		out.Err = err
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return out
	}
	out.Value = value
	return out
}
