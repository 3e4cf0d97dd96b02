package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/port"
)

// testStoreContract exercises the behavior every port.Store must share. Ids are
// random so it can run against a persistent database.
func testStoreContract(t *testing.T, store port.Store) {
	now := time.Now().UTC().Truncate(time.Millisecond)

	newBook := func(t *testing.T, copies int) domain.Book {
		t.Helper()
		id := uuid.NewString()
		book, err := domain.NewBook(id, "Contract", "Tester", "isbn-"+id, 2020, copies, now)
		require.NoError(t, err)
		require.NoError(t, store.CreateBook(context.Background(), book))
		return book
	}
	newUser := func(t *testing.T) domain.User {
		t.Helper()
		id := uuid.NewString()
		user, err := domain.NewUser(id, "Tester", id+"@example.com", now)
		require.NoError(t, err)
		require.NoError(t, store.CreateUser(context.Background(), user))
		return user
	}

	t.Run("create and get", func(t *testing.T) {
		ctx := context.Background()
		book := newBook(t, 2)
		user := newUser(t)

		gotBook, err := store.GetBook(ctx, book.ID)
		require.NoError(t, err)
		assert.Equal(t, book.ISBN, gotBook.ISBN)
		assert.Equal(t, 2, gotBook.AvailableCopies)
		assert.True(t, book.CreatedAt.Equal(gotBook.CreatedAt))

		gotUser, err := store.GetUser(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.Email, gotUser.Email)

		_, err = store.GetBook(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrBookNotFound)
		_, err = store.GetUser(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
		_, err = store.GetLoan(ctx, uuid.NewString())
		assert.ErrorIs(t, err, domain.ErrLoanNotFound)
	})

	t.Run("unique isbn and email", func(t *testing.T) {
		ctx := context.Background()
		book := newBook(t, 1)
		user := newUser(t)

		dup, err := domain.NewBook(uuid.NewString(), "Dup", "Dup", book.ISBN, 2020, 1, now)
		require.NoError(t, err)
		assert.ErrorIs(t, store.CreateBook(ctx, dup), domain.ErrDuplicateISBN)

		dupUser, err := domain.NewUser(uuid.NewString(), "Dup", user.Email, now)
		require.NoError(t, err)
		assert.ErrorIs(t, store.CreateUser(ctx, dupUser), domain.ErrDuplicateEmail)
	})

	t.Run("commit applies every write", func(t *testing.T) {
		ctx := context.Background()
		book := newBook(t, 2)
		user := newUser(t)
		loan, err := domain.NewLoan(uuid.NewString(), book.ID, user.ID, now, domain.DefaultLoanPeriod)
		require.NoError(t, err)

		err = store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			locked, err := tx.LockBook(ctx, book.ID)
			if err != nil {
				return err
			}
			if err := locked.TakeCopy(now); err != nil {
				return err
			}
			if err := tx.UpdateBook(ctx, locked); err != nil {
				return err
			}
			return tx.InsertLoan(ctx, loan)
		})
		require.NoError(t, err)

		got, err := store.GetBook(ctx, book.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.AvailableCopies)

		stored, err := store.GetLoan(ctx, loan.ID)
		require.NoError(t, err)
		assert.Equal(t, loan.BookID, stored.BookID)
		assert.Equal(t, domain.LoanStatusBorrowed, stored.Status)
		assert.Nil(t, stored.ReturnDate)
		assert.True(t, loan.DueDate.Equal(stored.DueDate))

		err = store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			open, err := tx.CountLoans(ctx, book.ID, true)
			if err != nil {
				return err
			}
			assert.Equal(t, 1, open)

			locked, err := tx.LockLoan(ctx, loan.ID)
			if err != nil {
				return err
			}
			if err := locked.Close(now.Add(time.Hour)); err != nil {
				return err
			}
			return tx.UpdateLoan(ctx, locked)
		})
		require.NoError(t, err)

		stored, err = store.GetLoan(ctx, loan.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.LoanStatusReturned, stored.Status)
		require.NotNil(t, stored.ReturnDate)
		assert.True(t, now.Add(time.Hour).Equal(*stored.ReturnDate))
	})

	t.Run("error rolls back every write", func(t *testing.T) {
		ctx := context.Background()
		book := newBook(t, 1)
		user := newUser(t)
		loan, err := domain.NewLoan(uuid.NewString(), book.ID, user.ID, now, domain.DefaultLoanPeriod)
		require.NoError(t, err)

		err = store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			locked, err := tx.LockBook(ctx, book.ID)
			if err != nil {
				return err
			}
			locked.AvailableCopies = 0
			if err := tx.UpdateBook(ctx, locked); err != nil {
				return err
			}
			if err := tx.InsertLoan(ctx, loan); err != nil {
				return err
			}
			return domain.ErrNoCopiesAvailable
		})
		require.ErrorIs(t, err, domain.ErrNoCopiesAvailable)

		got, err := store.GetBook(ctx, book.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.AvailableCopies)

		_, err = store.GetLoan(ctx, loan.ID)
		assert.ErrorIs(t, err, domain.ErrLoanNotFound)
	})

	t.Run("list loans filters", func(t *testing.T) {
		ctx := context.Background()
		book := newBook(t, 3)
		user := newUser(t)

		var ids []string
		for i := range 3 {
			loan, err := domain.NewLoan(uuid.NewString(), book.ID, user.ID, now.Add(time.Duration(i)*time.Hour), domain.DefaultLoanPeriod)
			require.NoError(t, err)
			if i == 0 {
				require.NoError(t, loan.Close(now.Add(2*time.Hour)))
			}
			require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
				return tx.InsertLoan(ctx, loan)
			}))
			ids = append(ids, loan.ID)
		}

		all, err := store.ListLoans(ctx, port.LoanFilter{BookID: book.ID}, port.Page{Limit: 10})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ids[0], all[0].ID)

		open, err := store.ListLoans(ctx, port.LoanFilter{UserID: user.ID, OpenOnly: true}, port.Page{Limit: 10})
		require.NoError(t, err)
		assert.Len(t, open, 2)

		cutoff := now.Add(domain.DefaultLoanPeriod + 90*time.Minute)
		due, err := store.ListLoans(ctx, port.LoanFilter{BookID: book.ID, OpenOnly: true, DueBefore: &cutoff}, port.Page{Limit: 10})
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, ids[1], due[0].ID)

		paged, err := store.ListLoans(ctx, port.LoanFilter{BookID: book.ID}, port.Page{Offset: 2, Limit: 10})
		require.NoError(t, err)
		require.Len(t, paged, 1)
		assert.Equal(t, ids[2], paged[0].ID)
	})

	t.Run("blocked row lock fails as a conflict", func(t *testing.T) {
		ctx := context.Background()
		book := newBook(t, 1)

		locked := make(chan struct{})
		release := make(chan struct{})
		held := make(chan error, 1)
		go func() {
			held <- store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
				if _, err := tx.LockBook(ctx, book.ID); err != nil {
					close(locked)
					return err
				}
				close(locked)
				<-release
				return nil
			})
		}()
		<-locked

		err := store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			_, err := tx.LockBook(ctx, book.ID)
			return err
		})
		close(release)

		assert.ErrorIs(t, err, domain.ErrConcurrencyConflict)
		require.NoError(t, <-held)
	})

	t.Run("book version is persisted", func(t *testing.T) {
		ctx := context.Background()
		book := newBook(t, 2)
		assert.Equal(t, int64(1), book.Version)

		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			locked, err := tx.LockBook(ctx, book.ID)
			if err != nil {
				return err
			}
			if err := locked.TakeCopy(now); err != nil {
				return err
			}
			locked.Version = 7
			return tx.UpdateBook(ctx, locked)
		}))

		got, err := store.GetBook(ctx, book.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(7), got.Version)
		assert.Equal(t, 1, got.AvailableCopies)
	})

	t.Run("delete book", func(t *testing.T) {
		ctx := context.Background()
		book := newBook(t, 1)

		require.NoError(t, store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			if _, err := tx.LockBook(ctx, book.ID); err != nil {
				return err
			}
			return tx.DeleteBook(ctx, book.ID)
		}))

		_, err := store.GetBook(ctx, book.ID)
		assert.ErrorIs(t, err, domain.ErrBookNotFound)
	})
}
