package engine

import "errors"

// ErrorKind classifies engine errors on the egress channel.
type ErrorKind string

const (
	KindValidation    ErrorKind = "validation"
	KindOrderNotFound ErrorKind = "order_not_found"
	KindQueueOverflow ErrorKind = "queue_overflow"
	KindUnroutable    ErrorKind = "dispatch_unroutable"
	KindShutdown      ErrorKind = "worker_shutdown"
	KindInternal      ErrorKind = "invariant_violation"
)

var (
	// ErrShuttingDown rejects submissions once shutdown has begun.
	ErrShuttingDown = errors.New("engine shutting down")
	// ErrUnroutable rejects requests for symbols without a provisioned book.
	ErrUnroutable = errors.New("no book provisioned for symbol")
	// ErrNotRunning rejects use of an engine before Start or after Stop.
	ErrNotRunning = errors.New("engine not running")
)

// Error is the terminal error output for a failed command.
type Error struct {
	RequestID string    `json:"request_id,omitempty"`
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
}

func (e *Error) Error() string {
	return string(e.Kind) + ": " + e.Message
}
