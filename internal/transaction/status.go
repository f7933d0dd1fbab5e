package transaction

import (
	"errors"
	"fmt"
)

// Status is the outcome of a ledger operation.
type Status int

const (
	Invalid                   Status = -1
	Success                   Status = 0
	ExistingTransaction       Status = 1
	InsufficientBalance       Status = 2
	TransactionAmountMismatch Status = 3
	TransactionTypeNotFound   Status = 4
	InvalidTokens             Status = 5
	ServerError               Status = 6
)

func (s Status) String() string {
	switch s {
	case Invalid:
		return "Invalid"
	case Success:
		return "Success"
	case ExistingTransaction:
		return "ExistingTransaction"
	case InsufficientBalance:
		return "InsufficientBalance"
	case TransactionAmountMismatch:
		return "TransactionAmountMismatch"
	case TransactionTypeNotFound:
		return "TransactionTypeNotFound"
	case InvalidTokens:
		return "InvalidTokens"
	case ServerError:
		return "ServerError"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ErrClosed is returned once the controller has been closed.
var ErrClosed = errors.New("transaction: controller closed")

// Error describes a failed operation: which protocol step failed, how it
// was classified, and the underlying cause.
type Error struct {
	Op     string
	Status Status
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Status, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, status Status, err error) *Error {
	return &Error{Op: op, Status: status, Err: err}
}

// StatusOf extracts the classified status from err: Success for nil,
// Invalid for errors that were never classified.
func StatusOf(err error) Status {
	if err == nil {
		return Success
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Status
	}
	return Invalid
}
