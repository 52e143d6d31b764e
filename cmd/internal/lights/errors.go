package lights

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned for negative deltas or missing ids.
	ErrInvalidAmount = errors.New("invalid amount")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel errors above when applicable.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

func insufficient(op string, have, want int) error {
	return OpError{
		Op:   op,
		Kind: ErrInsufficientBalance,
		Msg:  fmt.Sprintf("balance=%d requested=%d", have, want),
	}
}

func invalidAmount(op string, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidAmount, Msg: msg}
}

// IsInsufficientBalance reports whether err represents ErrInsufficientBalance.
func IsInsufficientBalance(err error) bool { return errors.Is(err, ErrInsufficientBalance) }

// IsInvalidAmount reports whether err represents ErrInvalidAmount.
func IsInvalidAmount(err error) bool { return errors.Is(err, ErrInvalidAmount) }
