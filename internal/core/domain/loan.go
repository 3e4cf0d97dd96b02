package domain

import (
	"fmt"
	"time"
)

type LoanStatus string

const (
	LoanStatusBorrowed LoanStatus = "borrowed"
	LoanStatusReturned LoanStatus = "returned"
	// LoanStatusOverdue is never stored; see Loan.StatusAt.
	LoanStatusOverdue LoanStatus = "overdue"
)

// DefaultLoanPeriod is the time between borrowing and the due date.
const DefaultLoanPeriod = 14 * 24 * time.Hour

type Loan struct {
	ID         string
	BookID     string
	UserID     string
	BorrowDate time.Time
	DueDate    time.Time
	ReturnDate *time.Time
	Status     LoanStatus
}

// NewLoan opens a loan at now, due after period.
func NewLoan(id, bookID, userID string, now time.Time, period time.Duration) (Loan, error) {
	l := Loan{
		ID:         id,
		BookID:     bookID,
		UserID:     userID,
		BorrowDate: now,
		DueDate:    now.Add(period),
		Status:     LoanStatusBorrowed,
	}
	if err := l.Validate(); err != nil {
		return Loan{}, err
	}
	return l, nil
}

// Validate checks due >= borrow and that return_date is set iff returned.
func (l Loan) Validate() error {
	if l.DueDate.Before(l.BorrowDate) {
		return fmt.Errorf("%w: due date before borrow date", ErrInvalidInput)
	}
	switch l.Status {
	case LoanStatusBorrowed:
		if l.ReturnDate != nil {
			return fmt.Errorf("%w: open loan has a return date", ErrInvalidInput)
		}
	case LoanStatusReturned:
		if l.ReturnDate == nil {
			return fmt.Errorf("%w: returned loan has no return date", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: stored status %q", ErrInvalidInput, l.Status)
	}
	return nil
}

func (l Loan) IsOpen() bool {
	return l.Status == LoanStatusBorrowed
}

// Close marks the loan returned at now.
func (l *Loan) Close(now time.Time) error {
	if l.Status == LoanStatusReturned {
		return ErrAlreadyReturned
	}
	returned := now
	l.ReturnDate = &returned
	l.Status = LoanStatusReturned
	return l.Validate()
}

// StatusAt reports the status as observed at now: an open loan past its due
// date reads as overdue.
func (l Loan) StatusAt(now time.Time) LoanStatus {
	if l.Status == LoanStatusBorrowed && now.After(l.DueDate) {
		return LoanStatusOverdue
	}
	return l.Status
}

// ObservedAt returns a copy carrying the derived status.
func (l Loan) ObservedAt(now time.Time) Loan {
	l.Status = l.StatusAt(now)
	return l
}
