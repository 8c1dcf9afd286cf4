package queue

import "errors"

// Enqueue rejection reasons, reported by TryEnqueue.
var (
	ErrClosed   = errors.New("queue closed")
	ErrFull     = errors.New("queue full")
	ErrCanceled = errors.New("enqueue canceled")
)
