package application

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// FetchStatus classifies the outcome of one upstream call.
type FetchStatus string

const (
	FetchOK     FetchStatus = "ok"
	FetchEmpty  FetchStatus = "empty"
	FetchFailed FetchStatus = "failed"
)

// FetchResult is the typed outcome of an upstream provider call. Reason is set
// when Status is FetchFailed.
type FetchResult[T any] struct {
	Status FetchStatus
	Value  T
	Reason string
}

// OK reports whether the call returned data.
func (r FetchResult[T]) OK() bool {
	return r.Status == FetchOK
}

// fetchList runs fn and classifies its outcome. A failure is logged here with
// attrs and never again by callers.
func fetchList[T any](ctx context.Context, op string, fn func(context.Context) ([]T, error), attrs ...any) FetchResult[[]T] {
	items, err := fn(ctx)
	if err != nil {
		return fetchFailure[[]T](op, err, attrs)
	}
	if len(items) == 0 {
		return FetchResult[[]T]{Status: FetchEmpty}
	}
	return FetchResult[[]T]{Status: FetchOK, Value: items}
}

// fetchText runs fn bounded by timeout. An empty body is FetchEmpty.
func fetchText(ctx context.Context, op string, timeout time.Duration, fn func(context.Context) (string, error), attrs ...any) FetchResult[string] {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	text, err := fn(ctx)
	if err != nil {
		return fetchFailure[string](op, err, attrs)
	}
	if text == "" {
		return FetchResult[string]{Status: FetchEmpty}
	}
	return FetchResult[string]{Status: FetchOK, Value: text}
}

func fetchFailure[T any](op string, err error, attrs []any) FetchResult[T] {
	reason := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}

	slog.Warn("upstream call failed", append([]any{"op", op, "reason", reason}, attrs...)...)

	return FetchResult[T]{Status: FetchFailed, Reason: reason}
}
