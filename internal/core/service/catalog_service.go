package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/port"
)

const (
	DefaultPageLimit = 100
	MaxPageLimit     = 100
)

// NewPage validates paging input. A zero limit selects DefaultPageLimit.
func NewPage(offset, limit int) (port.Page, error) {
	if offset < 0 {
		return port.Page{}, fmt.Errorf("%w: offset must not be negative", domain.ErrInvalidInput)
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if limit < 0 || limit > MaxPageLimit {
		return port.Page{}, fmt.Errorf("%w: limit must be between 1 and %d", domain.ErrInvalidInput, MaxPageLimit)
	}
	return port.Page{Offset: offset, Limit: limit}, nil
}

type BookInput struct {
	Title           string
	Author          string
	ISBN            string
	PublicationYear int
	TotalCopies     int
}

// BookUpdate carries the fields to change; nil fields are left alone.
type BookUpdate struct {
	Title           *string
	Author          *string
	ISBN            *string
	PublicationYear *int
	TotalCopies     *int
}

// CatalogService manages books and users. Copy counts are only changed
// through the ledger.
type CatalogService struct {
	settings
	store port.Store
}

func NewCatalogService(store port.Store, opts ...Option) *CatalogService {
	return &CatalogService{
		settings: newSettings(opts),
		store:    store,
	}
}

func (s *CatalogService) CreateBook(ctx context.Context, in BookInput) (domain.Book, error) {
	book, err := domain.NewBook(s.newID(), in.Title, in.Author, in.ISBN, in.PublicationYear, in.TotalCopies, s.now())
	if err != nil {
		return domain.Book{}, err
	}
	if err := s.store.CreateBook(ctx, book); err != nil {
		s.logFailure(ctx, "create_book", err, "isbn", book.ISBN)
		return domain.Book{}, err
	}

	s.logger.InfoContext(ctx, "book created", "book_id", book.ID, "isbn", book.ISBN, "total_copies", book.TotalCopies)
	s.mirror(ctx, book)

	return book, nil
}

func (s *CatalogService) GetBook(ctx context.Context, id string) (domain.Book, error) {
	return s.store.GetBook(ctx, id)
}

func (s *CatalogService) ListBooks(ctx context.Context, offset, limit int) ([]domain.Book, error) {
	page, err := NewPage(offset, limit)
	if err != nil {
		return nil, err
	}
	return s.store.ListBooks(ctx, page)
}

// UpdateBook edits a book under its row lock. A new total is applied to the
// available count and clamped to [0, total].
func (s *CatalogService) UpdateBook(ctx context.Context, id string, upd BookUpdate) (domain.Book, error) {
	var updated domain.Book

	err := s.retry(ctx, "update_book", func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			ledger := NewLedger(tx, s.now())

			book, err := ledger.Lookup(ctx, id)
			if err != nil {
				return err
			}

			if upd.Title != nil {
				book.Title = strings.TrimSpace(*upd.Title)
			}
			if upd.Author != nil {
				book.Author = strings.TrimSpace(*upd.Author)
			}
			if upd.ISBN != nil {
				book.ISBN = strings.TrimSpace(*upd.ISBN)
			}
			if upd.PublicationYear != nil {
				book.PublicationYear = *upd.PublicationYear
			}
			total := book.TotalCopies
			if upd.TotalCopies != nil {
				total = *upd.TotalCopies
			}

			if err := ledger.Resize(ctx, &book, total); err != nil {
				return err
			}

			updated = book
			return nil
		})
	})
	if err != nil {
		s.logFailure(ctx, "update_book", err, "book_id", id)
		return domain.Book{}, err
	}

	s.logger.InfoContext(ctx, "book updated", "book_id", id,
		"total_copies", updated.TotalCopies, "available_copies", updated.AvailableCopies)
	s.mirror(ctx, updated)

	return updated, nil
}

// DeleteBook removes a book that has never been lent. Loans are kept as
// history, so any loan referencing the book blocks deletion.
func (s *CatalogService) DeleteBook(ctx context.Context, id string) error {
	err := s.retry(ctx, "delete_book", func(ctx context.Context) error {
		return s.store.WithinTx(ctx, func(ctx context.Context, tx port.Tx) error {
			if _, err := tx.LockBook(ctx, id); err != nil {
				return fmt.Errorf("lock book %s: %w", id, err)
			}

			loans, err := tx.CountLoans(ctx, id, false)
			if err != nil {
				return fmt.Errorf("count loans: %w", err)
			}
			if loans > 0 {
				return domain.ErrBookHasLoans
			}

			return tx.DeleteBook(ctx, id)
		})
	})
	if err != nil {
		s.logFailure(ctx, "delete_book", err, "book_id", id)
		return err
	}

	s.logger.InfoContext(ctx, "book deleted", "book_id", id)
	if s.cache != nil {
		if err := s.cache.DeleteAvailability(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "availability mirror delete failed", "book_id", id, "error", err)
		}
	}

	return nil
}

// Availability answers from the cache mirror when it has the book and falls
// back to the store otherwise.
func (s *CatalogService) Availability(ctx context.Context, id string) (int, error) {
	if s.cache != nil {
		available, ok, err := s.cache.GetAvailability(ctx, id)
		if err != nil {
			s.logger.WarnContext(ctx, "availability mirror read failed", "book_id", id, "error", err)
		}
		if err == nil && ok {
			return available, nil
		}
	}

	book, err := s.store.GetBook(ctx, id)
	if err != nil {
		return 0, err
	}
	s.mirror(ctx, book)

	return book.AvailableCopies, nil
}

func (s *CatalogService) CreateUser(ctx context.Context, name, email string) (domain.User, error) {
	user, err := domain.NewUser(s.newID(), name, email, s.now())
	if err != nil {
		return domain.User{}, err
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		s.logFailure(ctx, "create_user", err, "email", user.Email)
		return domain.User{}, err
	}

	s.logger.InfoContext(ctx, "user created", "user_id", user.ID)

	return user, nil
}

func (s *CatalogService) GetUser(ctx context.Context, id string) (domain.User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *CatalogService) ListUsers(ctx context.Context, offset, limit int) ([]domain.User, error) {
	page, err := NewPage(offset, limit)
	if err != nil {
		return nil, err
	}
	return s.store.ListUsers(ctx, page)
}
