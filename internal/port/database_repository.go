package port

import (
	"context"
	"time"

	"github.com/rl1809/library-ledger/internal/core/domain"
)

// Page bounds a listing. Limit must be positive.
type Page struct {
	Offset int
	Limit  int
}

// LoanFilter narrows ListLoans. Zero values match everything.
type LoanFilter struct {
	BookID   string
	UserID   string
	OpenOnly bool
	// DueBefore keeps open loans whose due date is strictly before it.
	DueBefore *time.Time
}

// TxFunc is one unit of work. Returning an error rolls back every write made through tx.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the durable record store for books, users and loans.
type Store interface {
	// WithinTx runs fn in a single transaction and commits if it returns nil.
	WithinTx(ctx context.Context, fn TxFunc) error

	CreateBook(ctx context.Context, book domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, error)
	ListBooks(ctx context.Context, page Page) ([]domain.Book, error)

	CreateUser(ctx context.Context, user domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, error)
	ListUsers(ctx context.Context, page Page) ([]domain.User, error)

	GetLoan(ctx context.Context, id string) (domain.Loan, error)
	ListLoans(ctx context.Context, filter LoanFilter, page Page) ([]domain.Loan, error)

	Close() error
}

// Tx is a transaction-scoped handle. Lock* calls hold the row until the
// transaction ends. Callers that lock both a loan and a book lock the loan first.
type Tx interface {
	LockBook(ctx context.Context, id string) (domain.Book, error)
	LockLoan(ctx context.Context, id string) (domain.Loan, error)
	GetUser(ctx context.Context, id string) (domain.User, error)

	// CountLoans counts loans referencing bookID, only open ones if openOnly.
	CountLoans(ctx context.Context, bookID string, openOnly bool) (int, error)

	UpdateBook(ctx context.Context, book domain.Book) error
	DeleteBook(ctx context.Context, id string) error
	InsertLoan(ctx context.Context, loan domain.Loan) error
	UpdateLoan(ctx context.Context, loan domain.Loan) error
}
