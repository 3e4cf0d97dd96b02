package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/port"
)

// Ledger is the inventory ledger bound to one transaction. It is the only
// code path that writes available_copies.
type Ledger struct {
	tx  port.Tx
	now time.Time
}

func NewLedger(tx port.Tx, now time.Time) Ledger {
	return Ledger{tx: tx, now: now}
}

// Lookup locks the book row and returns its current counts.
func (l Ledger) Lookup(ctx context.Context, bookID string) (domain.Book, error) {
	book, err := l.tx.LockBook(ctx, bookID)
	if err != nil {
		return domain.Book{}, fmt.Errorf("lock book %s: %w", bookID, err)
	}
	return book, nil
}

// Decrement takes one copy off the shelf. book must have been obtained from
// Lookup in the same transaction.
func (l Ledger) Decrement(ctx context.Context, book *domain.Book) error {
	if err := book.TakeCopy(l.now); err != nil {
		return err
	}
	return l.save(ctx, book)
}

// Increment puts one copy back on the shelf.
func (l Ledger) Increment(ctx context.Context, book *domain.Book) error {
	if err := book.PutBackCopy(l.now); err != nil {
		return err
	}
	return l.save(ctx, book)
}

// Resize sets a new total for a locked book.
func (l Ledger) Resize(ctx context.Context, book *domain.Book, total int) error {
	open, err := l.tx.CountLoans(ctx, book.ID, true)
	if err != nil {
		return fmt.Errorf("count open loans: %w", err)
	}
	if err := book.Resize(total, open, l.now); err != nil {
		return err
	}
	return l.save(ctx, book)
}

// save writes book back under its row lock and bumps its version, so versions
// follow lock order rather than clock order.
func (l Ledger) save(ctx context.Context, book *domain.Book) error {
	if err := book.Validate(); err != nil {
		return err
	}
	book.Version++
	if err := l.tx.UpdateBook(ctx, *book); err != nil {
		return fmt.Errorf("update book %s: %w", book.ID, err)
	}
	return nil
}
