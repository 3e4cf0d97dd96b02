package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/port"
)

const idempotencyKeyPrefix = "borrow:"

// LoanService is the loan transaction engine. Borrow and Return each run as
// one unit of work against the store.
type LoanService struct {
	settings
	store port.Store
}

func NewLoanService(store port.Store, opts ...Option) *LoanService {
	return &LoanService{
		settings: newSettings(opts),
		store:    store,
	}
}

// Borrow lends one copy of bookID to userID.
func (s *LoanService) Borrow(ctx context.Context, bookID, userID string) (domain.Loan, error) {
	var (
		loan  domain.Loan
		shelf domain.Book
	)

	err := s.retry(ctx, "borrow", func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			now := s.now()
			ledger := NewLedger(tx, now)

			book, err := ledger.Lookup(ctx, bookID)
			if err != nil {
				return err
			}
			if book.AvailableCopies == 0 {
				return domain.ErrNoCopiesAvailable
			}

			if _, err := tx.GetUser(ctx, userID); err != nil {
				return fmt.Errorf("get user %s: %w", userID, err)
			}

			if err := ledger.Decrement(ctx, &book); err != nil {
				return err
			}

			opened, err := domain.NewLoan(s.newID(), book.ID, userID, now, s.loanPeriod)
			if err != nil {
				return err
			}
			if err := tx.InsertLoan(ctx, opened); err != nil {
				return fmt.Errorf("insert loan: %w", err)
			}

			loan, shelf = opened, book
			return nil
		})
	})
	if err != nil {
		s.logFailure(ctx, "borrow", err, "book_id", bookID, "user_id", userID)
		return domain.Loan{}, err
	}

	s.logger.InfoContext(ctx, "book borrowed",
		"loan_id", loan.ID, "book_id", bookID, "user_id", userID, "available_copies", shelf.AvailableCopies)
	s.mirror(ctx, shelf)

	return loan.ObservedAt(s.now()), nil
}

// BorrowOnce is Borrow guarded by a caller-supplied request ID. A second call
// with the same ID fails with domain.ErrDuplicateRequest. Without a cache it
// behaves like Borrow.
func (s *LoanService) BorrowOnce(ctx context.Context, requestID, bookID, userID string) (domain.Loan, error) {
	if s.cache == nil || requestID == "" {
		return s.Borrow(ctx, bookID, userID)
	}

	key := idempotencyKeyPrefix + requestID
	ok, err := s.cache.SetIdempotency(ctx, key)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return domain.Loan{}, domain.ErrDuplicateRequest
	}

	loan, err := s.Borrow(ctx, bookID, userID)
	if err != nil {
		if releaseErr := s.cache.ReleaseIdempotency(ctx, key); releaseErr != nil {
			s.logger.WarnContext(ctx, "release idempotency key failed", "key", key, "error", releaseErr)
		}
		return domain.Loan{}, err
	}

	return loan, nil
}

// Return closes loanID and puts its copy back on the shelf.
func (s *LoanService) Return(ctx context.Context, loanID string) (domain.Loan, error) {
	var (
		loan  domain.Loan
		shelf domain.Book
	)

	err := s.retry(ctx, "return", func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			now := s.now()
			ledger := NewLedger(tx, now)

			current, err := tx.LockLoan(ctx, loanID)
			if err != nil {
				return fmt.Errorf("lock loan %s: %w", loanID, err)
			}
			if current.Status == domain.LoanStatusReturned {
				return domain.ErrAlreadyReturned
			}

			book, err := ledger.Lookup(ctx, current.BookID)
			if errors.Is(err, domain.ErrBookNotFound) {
				return fmt.Errorf("loan %s book %s: %w", loanID, current.BookID, domain.ErrBookMissing)
			}
			if err != nil {
				return err
			}
			if book.AvailableCopies >= book.TotalCopies {
				return domain.ErrInventoryInconsistent
			}

			if err := ledger.Increment(ctx, &book); err != nil {
				return err
			}
			if err := current.Close(now); err != nil {
				return err
			}
			if err := tx.UpdateLoan(ctx, current); err != nil {
				return fmt.Errorf("update loan: %w", err)
			}

			loan, shelf = current, book
			return nil
		})
	})
	if err != nil {
		s.logFailure(ctx, "return", err, "loan_id", loanID)
		return domain.Loan{}, err
	}

	s.logger.InfoContext(ctx, "book returned",
		"loan_id", loanID, "book_id", loan.BookID, "available_copies", shelf.AvailableCopies)
	s.mirror(ctx, shelf)

	return loan, nil
}

func (s *LoanService) GetLoan(ctx context.Context, id string) (domain.Loan, error) {
	loan, err := s.store.GetLoan(ctx, id)
	if err != nil {
		return domain.Loan{}, err
	}
	return loan.ObservedAt(s.now()), nil
}

// LoanQuery selects loans for ListLoans.
type LoanQuery struct {
	BookID      string
	UserID      string
	OpenOnly    bool
	OverdueOnly bool
}

func (s *LoanService) ListLoans(ctx context.Context, query LoanQuery, offset, limit int) ([]domain.Loan, error) {
	page, err := NewPage(offset, limit)
	if err != nil {
		return nil, err
	}

	now := s.now()
	filter := port.LoanFilter{
		BookID:   query.BookID,
		UserID:   query.UserID,
		OpenOnly: query.OpenOnly || query.OverdueOnly,
	}
	if query.OverdueOnly {
		filter.DueBefore = &now
	}

	loans, err := s.store.ListLoans(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	for i := range loans {
		loans[i] = loans[i].ObservedAt(now)
	}
	return loans, nil
}
