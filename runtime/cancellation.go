package runtime

import (
	"context"

	"github.com/google/uuid"
)

// CancelToken is the cooperative cancellation handle an evaluator checks
// between statements and at every loop iteration. A nil token never
// cancels.
type CancelToken struct {
	ctx context.Context
}

// NewCancelToken wraps ctx as a CancelToken. Passing context.Background()
// (or a nil CancelToken pointer) means the render can never be cancelled.
func NewCancelToken(ctx context.Context) *CancelToken {
	return &CancelToken{ctx: ctx}
}

// Check reports a Cancelled error the instant the underlying context is
// done; it never blocks.
func (c *CancelToken) Check() error {
	if c == nil || c.ctx == nil {
		return nil
	}
	select {
	case <-c.ctx.Done():
		return NewCancelledError(nil)
	default:
		return nil
	}
}

// AsyncResult is a future-like wrapper around a suspended computation, the
// Value counterpart to the synchronous evaluation path. It is populated by
// an async-capable filter/test implementation and resolved at a
// suspension point (see Environment's enable_async option).
type AsyncResult struct {
	ID        string
	Completed bool
	Value     interface{}
	Err       error
}

// NewAsyncResult allocates a pending AsyncResult with a fresh identifier.
func NewAsyncResult() *AsyncResult {
	return &AsyncResult{ID: uuid.NewString()}
}

// Resolve marks the result completed with either a value or an error,
// never both.
func (a *AsyncResult) Resolve(value interface{}, err error) {
	a.Completed = true
	a.Value = value
	a.Err = err
}
