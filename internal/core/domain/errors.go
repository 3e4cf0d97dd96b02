package domain

import (
	"errors"
	"fmt"
)

// Error categories. Every error returned by the core wraps exactly one of these.
var (
	ErrNotFound            = errors.New("not found")
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrDuplicate           = errors.New("already exists")
	ErrInvalidInput        = errors.New("invalid input")
)

var (
	ErrBookNotFound = fmt.Errorf("book %w", ErrNotFound)
	ErrUserNotFound = fmt.Errorf("user %w", ErrNotFound)
	ErrLoanNotFound = fmt.Errorf("loan %w", ErrNotFound)
)

var (
	ErrNoCopiesAvailable     = fmt.Errorf("%w: no copies available", ErrPreconditionFailed)
	ErrAlreadyReturned       = fmt.Errorf("%w: loan already returned", ErrPreconditionFailed)
	ErrBookMissing           = fmt.Errorf("%w: loan references a missing book", ErrPreconditionFailed)
	ErrInventoryInconsistent = fmt.Errorf("%w: all copies are already in stock", ErrPreconditionFailed)
	ErrCopiesOnLoan          = fmt.Errorf("%w: total copies below copies on loan", ErrPreconditionFailed)
	ErrBookHasLoans          = fmt.Errorf("%w: book has loan history", ErrPreconditionFailed)

	// ledger backstops
	ErrOutOfStock = fmt.Errorf("%w: available copies would drop below zero", ErrPreconditionFailed)
	ErrOverReturn = fmt.Errorf("%w: available copies would exceed total copies", ErrPreconditionFailed)
)

var (
	ErrDuplicateISBN    = fmt.Errorf("isbn %w", ErrDuplicate)
	ErrDuplicateEmail   = fmt.Errorf("email %w", ErrDuplicate)
	ErrDuplicateRequest = fmt.Errorf("request %w", ErrDuplicate)
)

// LockTimeoutError reports a row lock that could not be acquired in time.
type LockTimeoutError struct {
	Row string
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock %s: timed out", e.Row)
}

func (e *LockTimeoutError) Unwrap() error {
	return ErrConcurrencyConflict
}
