package service_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/core/service"
	"github.com/rl1809/library-ledger/internal/port"
)

const day = 24 * time.Hour

func TestBorrow_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 2)
	user := f.user(t)

	loan, err := f.loans.Borrow(ctx, book.ID, user.ID)
	require.NoError(t, err)

	assert.NotEmpty(t, loan.ID)
	assert.Equal(t, book.ID, loan.BookID)
	assert.Equal(t, user.ID, loan.UserID)
	assert.Equal(t, domain.LoanStatusBorrowed, loan.Status)
	assert.Equal(t, loan.BorrowDate.Add(domain.DefaultLoanPeriod), loan.DueDate)
	assert.Nil(t, loan.ReturnDate)
	assert.Equal(t, 1, f.available(t, book.ID))

	stored, err := f.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, loan, stored)
}

func TestBorrow_LastCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)

	_, err := f.loans.Borrow(ctx, book.ID, f.user(t).ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.available(t, book.ID))

	_, err = f.loans.Borrow(ctx, book.ID, f.user(t).ID)
	assert.ErrorIs(t, err, domain.ErrNoCopiesAvailable)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
	assert.Equal(t, 0, f.available(t, book.ID))
}

func TestBorrow_ZeroCopyBook(t *testing.T) {
	f := newFixture(t)
	book := f.book(t, 0)

	_, err := f.loans.Borrow(context.Background(), book.ID, f.user(t).ID)
	assert.ErrorIs(t, err, domain.ErrNoCopiesAvailable)
}

func TestBorrow_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 3)
	user := f.user(t)

	_, err := f.loans.Borrow(ctx, "missing-book", user.ID)
	assert.ErrorIs(t, err, domain.ErrBookNotFound)

	_, err = f.loans.Borrow(ctx, book.ID, "missing-user")
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	// failed borrows leave no trace
	assert.Equal(t, 3, f.available(t, book.ID))
	loans, err := f.loans.ListLoans(ctx, service.LoanQuery{}, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestBorrow_SameUserTwice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 2)
	user := f.user(t)

	first, err := f.loans.Borrow(ctx, book.ID, user.ID)
	require.NoError(t, err)
	second, err := f.loans.Borrow(ctx, book.ID, user.ID)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 0, f.available(t, book.ID))
}

func TestBorrow_ConcurrentRequestsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const copies = 5
	const requests = 40

	book := f.book(t, copies)
	users := make([]domain.User, requests)
	for i := range users {
		users[i] = f.user(t)
	}

	var success, noCopies, other atomic.Int32
	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()

			_, err := f.loans.Borrow(ctx, book.ID, userID)
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, domain.ErrNoCopiesAvailable):
				noCopies.Add(1)
			default:
				other.Add(1)
			}
		}(u.ID)
	}
	wg.Wait()

	assert.Equal(t, int32(copies), success.Load())
	assert.Equal(t, int32(requests-copies), noCopies.Load())
	assert.Zero(t, other.Load())
	assert.Equal(t, 0, f.available(t, book.ID))

	open, err := f.loans.ListLoans(ctx, service.LoanQuery{BookID: book.ID, OpenOnly: true}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, open, copies)
}

func TestReturn_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)

	loan, err := f.loans.Borrow(ctx, book.ID, f.user(t).ID)
	require.NoError(t, err)

	returned, err := f.loans.Return(ctx, loan.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.LoanStatusReturned, returned.Status)
	require.NotNil(t, returned.ReturnDate)
	assert.True(t, returned.ReturnDate.After(loan.BorrowDate))
	assert.Equal(t, loan.DueDate, returned.DueDate)
	assert.Equal(t, 1, f.available(t, book.ID))
}

func TestReturn_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)

	loan, err := f.loans.Borrow(ctx, book.ID, f.user(t).ID)
	require.NoError(t, err)
	first, err := f.loans.Return(ctx, loan.ID)
	require.NoError(t, err)

	_, err = f.loans.Return(ctx, loan.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyReturned)

	stored, err := f.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, first.ReturnDate, stored.ReturnDate)
	assert.Equal(t, 1, f.available(t, book.ID))
}

func TestReturn_ConcurrentReturnsOfOneLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 3)

	loan, err := f.loans.Borrow(ctx, book.ID, f.user(t).ID)
	require.NoError(t, err)

	var success, rejected atomic.Int32
	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := f.loans.Return(ctx, loan.ID)
			switch {
			case err == nil:
				success.Add(1)
			case errors.Is(err, domain.ErrAlreadyReturned):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), success.Load())
	assert.Equal(t, int32(9), rejected.Load())
	assert.Equal(t, 3, f.available(t, book.ID))
}

func TestReturn_UnknownLoan(t *testing.T) {
	f := newFixture(t)

	_, err := f.loans.Return(context.Background(), "missing-loan")
	assert.ErrorIs(t, err, domain.ErrLoanNotFound)
}

func TestReturn_InventoryAlreadyFull(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)

	loan, err := f.loans.Borrow(ctx, book.ID, f.user(t).ID)
	require.NoError(t, err)

	// put the copy back behind the engine's back
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		b, err := tx.LockBook(ctx, book.ID)
		if err != nil {
			return err
		}
		b.AvailableCopies = b.TotalCopies
		return tx.UpdateBook(ctx, b)
	}))

	_, err = f.loans.Return(ctx, loan.ID)
	assert.ErrorIs(t, err, domain.ErrInventoryInconsistent)

	stored, err := f.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen())
}

func TestReturn_BookDeletedUnderLoan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)

	loan, err := f.loans.Borrow(ctx, book.ID, f.user(t).ID)
	require.NoError(t, err)

	// the catalog refuses this, so remove the row directly
	require.NoError(t, f.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
		if _, err := tx.LockBook(ctx, book.ID); err != nil {
			return err
		}
		return tx.DeleteBook(ctx, book.ID)
	}))

	_, err = f.loans.Return(ctx, loan.ID)
	assert.ErrorIs(t, err, domain.ErrBookMissing)

	stored, err := f.loans.GetLoan(ctx, loan.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen())
}

func TestBorrowReturn_RoundTripRestoresCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 4)

	var loans []domain.Loan
	for range 4 {
		loan, err := f.loans.Borrow(ctx, book.ID, f.user(t).ID)
		require.NoError(t, err)
		loans = append(loans, loan)
	}
	assert.Equal(t, 0, f.available(t, book.ID))

	for _, loan := range loans {
		_, err := f.loans.Return(ctx, loan.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, f.available(t, book.ID))
}

func TestLoan_OverdueIsDerivedOnRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 2)

	f.clock.Set(t0)
	late, err := f.loans.Borrow(ctx, book.ID, f.user(t).ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(14*day), late.DueDate.Truncate(time.Second))

	f.clock.Set(t0.Add(10 * day))
	onTime, err := f.loans.Borrow(ctx, book.ID, f.user(t).ID)
	require.NoError(t, err)

	f.clock.Set(t0.Add(15 * day))

	got, err := f.loans.GetLoan(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusOverdue, got.Status)

	got, err = f.loans.GetLoan(ctx, onTime.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusBorrowed, got.Status)

	overdue, err := f.loans.ListLoans(ctx, service.LoanQuery{OverdueOnly: true}, 0, 0)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, late.ID, overdue[0].ID)

	// an overdue loan can still be returned
	returned, err := f.loans.Return(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.LoanStatusReturned, returned.Status)
}

func TestListLoans_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.book(t, 2)
	second := f.book(t, 2)
	alice := f.user(t)
	bob := f.user(t)

	a1, err := f.loans.Borrow(ctx, first.ID, alice.ID)
	require.NoError(t, err)
	_, err = f.loans.Borrow(ctx, second.ID, alice.ID)
	require.NoError(t, err)
	_, err = f.loans.Borrow(ctx, first.ID, bob.ID)
	require.NoError(t, err)
	_, err = f.loans.Return(ctx, a1.ID)
	require.NoError(t, err)

	byUser, err := f.loans.ListLoans(ctx, service.LoanQuery{UserID: alice.ID}, 0, 0)
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byBook, err := f.loans.ListLoans(ctx, service.LoanQuery{BookID: first.ID, OpenOnly: true}, 0, 0)
	require.NoError(t, err)
	require.Len(t, byBook, 1)
	assert.Equal(t, bob.ID, byBook[0].UserID)

	paged, err := f.loans.ListLoans(ctx, service.LoanQuery{}, 1, 1)
	require.NoError(t, err)
	assert.Len(t, paged, 1)

	_, err = f.loans.ListLoans(ctx, service.LoanQuery{}, 0, 101)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBorrowOnce_DuplicateRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 5)
	user := f.user(t)

	_, err := f.loans.BorrowOnce(ctx, "req-1", book.ID, user.ID)
	require.NoError(t, err)

	_, err = f.loans.BorrowOnce(ctx, "req-1", book.ID, user.ID)
	assert.ErrorIs(t, err, domain.ErrDuplicateRequest)

	// copies should only be taken once
	assert.Equal(t, 4, f.available(t, book.ID))
}

func TestBorrowOnce_FailedBorrowReleasesKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)
	user := f.user(t)

	_, err := f.loans.BorrowOnce(ctx, "req-1", book.ID, "missing-user")
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	_, err = f.loans.BorrowOnce(ctx, "req-1", book.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, f.available(t, book.ID))
}

func TestBorrowOnce_WithoutRequestID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 2)
	user := f.user(t)

	for range 2 {
		_, err := f.loans.BorrowOnce(ctx, "", book.ID, user.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, f.available(t, book.ID))
}

func TestBorrow_RetriesConcurrencyConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)
	user := f.user(t)

	store := &conflictingStore{Store: f.store}
	store.remaining.Store(2)
	svc := service.NewLoanService(store,
		service.WithRetryOptions(service.WithBaseDelay(time.Millisecond)))

	_, err := svc.Borrow(ctx, book.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(3), store.calls.Load())
	assert.Equal(t, 0, f.available(t, book.ID))
}

func TestBorrow_GivesUpAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 1)
	user := f.user(t)

	store := &conflictingStore{Store: f.store}
	store.remaining.Store(10)
	svc := service.NewLoanService(store, service.WithRetryOptions(
		service.WithMaxAttempts(3),
		service.WithBaseDelay(time.Millisecond),
	))

	_, err := svc.Borrow(ctx, book.ID, user.ID)
	assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	assert.Equal(t, int32(3), store.calls.Load())
	assert.Equal(t, 1, f.available(t, book.ID))
}

func TestBorrow_MirrorsAvailability(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 2)

	loan, err := f.loans.Borrow(ctx, book.ID, f.user(t).ID)
	require.NoError(t, err)

	mirrored, ok, err := f.cache.GetAvailability(ctx, book.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, mirrored)

	_, err = f.loans.Return(ctx, loan.ID)
	require.NoError(t, err)

	mirrored, _, err = f.cache.GetAvailability(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, mirrored)
}

func TestBorrow_MirrorFollowsLockOrderNotClockOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	book := f.book(t, 3)
	first, second := f.user(t), f.user(t)

	// The first borrow reads the clock, then parks before taking the row
	// lock. The second borrow reads a later time but commits first.
	reached, release := f.clock.HoldNext()
	done := make(chan error, 1)
	go func() {
		_, err := f.loans.Borrow(ctx, book.ID, first.ID)
		done <- err
	}()
	<-reached

	_, err := f.loans.Borrow(ctx, book.ID, second.ID)
	require.NoError(t, err)

	release()
	require.NoError(t, <-done)

	stored, err := f.catalog.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.AvailableCopies)
	assert.Equal(t, int64(3), stored.Version)

	mirrored, err := f.catalog.Availability(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.AvailableCopies, mirrored)
}

func TestBorrowAndReturn_ConcurrentOnOneBook(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const total = 6
	const openAtStart = 4
	const borrowers = 10

	book := f.book(t, total)
	loans := make([]domain.Loan, openAtStart)
	for i := range loans {
		loan, err := f.loans.Borrow(ctx, book.ID, f.user(t).ID)
		require.NoError(t, err)
		loans[i] = loan
	}
	start := f.available(t, book.ID)
	require.Equal(t, total-openAtStart, start)

	users := make([]domain.User, borrowers)
	for i := range users {
		users[i] = f.user(t)
	}

	var borrowed, returned, noCopies, other atomic.Int32
	var wg sync.WaitGroup
	for _, loan := range loans {
		wg.Add(1)
		go func(loanID string) {
			defer wg.Done()

			if _, err := f.loans.Return(ctx, loanID); err != nil {
				other.Add(1)
				return
			}
			returned.Add(1)
		}(loan.ID)
	}
	for _, u := range users {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()

			_, err := f.loans.Borrow(ctx, book.ID, userID)
			switch {
			case err == nil:
				borrowed.Add(1)
			case errors.Is(err, domain.ErrNoCopiesAvailable):
				noCopies.Add(1)
			default:
				other.Add(1)
			}
		}(u.ID)
	}
	wg.Wait()

	assert.Zero(t, other.Load())
	assert.Equal(t, int32(openAtStart), returned.Load())
	assert.Equal(t, int32(borrowers), borrowed.Load()+noCopies.Load())

	final := f.available(t, book.ID)
	assert.Equal(t, start+int(returned.Load())-int(borrowed.Load()), final)
	assert.GreaterOrEqual(t, final, 0)

	open, err := f.loans.ListLoans(ctx, service.LoanQuery{BookID: book.ID, OpenOnly: true}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, total-len(open), final)

	mirrored, err := f.catalog.Availability(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, final, mirrored)
}
