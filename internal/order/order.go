package order

import (
	"context"
	"errors"
	"time"
)

var (
	ErrUnknownOrder      = errors.New("unknown order")
	ErrInvalidTransition = errors.New("invalid order state transition")
	ErrDuplicateOrder    = errors.New("order already tracked")
	ErrPendingTimeout    = errors.New("order not confirmed within max pending duration")
	ErrExitInProgress    = errors.New("exit already in progress")
	ErrNoExitBuilder     = errors.New("no exit builder configured")
)

// Status is the lifecycle state of an order
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusExited    Status = "exited"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusFailed, StatusCancelled},
	StatusConfirmed: {StatusExited},
}

// CanTransition reports whether from -> to is a legal move
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// ExitType labels why a position was closed
type ExitType string

const (
	ExitManual       ExitType = "manual"
	ExitTakeProfit   ExitType = "take_profit"
	ExitStopLoss     ExitType = "stop_loss"
	ExitTrailingStop ExitType = "trailing_stop"
	ExitShutdown     ExitType = "shutdown"
)

// Transaction is a signed swap ready for submission
type Transaction struct {
	ID           string            `json:"id"`
	Symbol       string            `json:"symbol"`
	Side         string            `json:"side"`
	AmountIn     float64           `json:"amount_in"`
	MinAmountOut float64           `json:"min_amount_out"`
	Price        float64           `json:"price"`
	Payload      []byte            `json:"payload"`
	Signature    []byte            `json:"signature"`
	PublicKey    []byte            `json:"public_key"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Order is a submitted transaction and its lifecycle
type Order struct {
	Signature     string       `json:"signature"`
	Symbol        string       `json:"symbol"`
	Status        Status       `json:"status"`
	Tx            *Transaction `json:"tx"`
	CreatedAt     time.Time    `json:"created_at"`
	FilledAt      *time.Time   `json:"filled_at,omitempty"`
	Error         string       `json:"error,omitempty"`
	ExitType      ExitType     `json:"exit_type,omitempty"`
	ExitSignature string       `json:"exit_signature,omitempty"`
	ExitPrice     float64      `json:"exit_price,omitempty"`
	ExitedAt      *time.Time   `json:"exited_at,omitempty"`
	ExitError     string       `json:"exit_error,omitempty"`
	ExitAttempts  int          `json:"exit_attempts"`

	exiting bool
}

// ConfirmationStatus is what the chain reports for a signature
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationErrored   ConfirmationStatus = "errored"
)

// Confirmation is one status query result
type Confirmation struct {
	Status ConfirmationStatus `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// Submitter sends signed transactions
type Submitter interface {
	Submit(ctx context.Context, tx *Transaction) (string, error)
}

// ConfirmationSource reports transaction status. A returned error is
// treated as transient; only an errored status fails an order.
type ConfirmationSource interface {
	GetStatus(ctx context.Context, signature string) (Confirmation, error)
}

// ExitBuilder builds the opposite-direction transaction that closes a position
type ExitBuilder interface {
	BuildExit(ctx context.Context, o Order, exitType ExitType) (*Transaction, error)
}

// Tracker mirrors pending orders to external storage
type Tracker interface {
	Track(ctx context.Context, o Order) error
	Remove(ctx context.Context, signature string) error
}
