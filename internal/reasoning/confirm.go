package reasoning

import (
	"context"
	"errors"
)

// ErrCancelled is returned when the user declines the large-context gate.
// It is a deliberate abort, not a failure.
var ErrCancelled = errors.New("session cancelled by user")

// Confirmer decides whether a depth with many chunks may proceed.
type Confirmer interface {
	ConfirmLargeContext(ctx context.Context, sessionID string, depth, totalChunks int) (bool, error)
}

// AutoConfirm answers every confirmation with its own value.
type AutoConfirm bool

func (a AutoConfirm) ConfirmLargeContext(context.Context, string, int, int) (bool, error) {
	return bool(a), nil
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, sessionID string, depth, totalChunks int) (bool, error)

func (f ConfirmFunc) ConfirmLargeContext(ctx context.Context, sessionID string, depth, totalChunks int) (bool, error) {
	return f(ctx, sessionID, depth, totalChunks)
}
