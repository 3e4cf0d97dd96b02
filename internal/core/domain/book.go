package domain

import (
	"fmt"
	"strings"
	"time"
)

// Book is one catalog title together with its ledger counts.
type Book struct {
	ID              string
	Title           string
	Author          string
	ISBN            string
	PublicationYear int
	TotalCopies     int
	AvailableCopies int
	// Version is bumped on every committed ledger write to the row.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewBook builds a catalog entry with every copy on the shelf.
func NewBook(id, title, author, isbn string, publicationYear, totalCopies int, now time.Time) (Book, error) {
	b := Book{
		ID:              id,
		Title:           strings.TrimSpace(title),
		Author:          strings.TrimSpace(author),
		ISBN:            strings.TrimSpace(isbn),
		PublicationYear: publicationYear,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := b.Validate(); err != nil {
		return Book{}, err
	}
	return b, nil
}

// Validate checks the catalog fields and 0 <= available <= total.
func (b Book) Validate() error {
	switch {
	case b.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	case b.Author == "":
		return fmt.Errorf("%w: author is required", ErrInvalidInput)
	case b.ISBN == "":
		return fmt.Errorf("%w: isbn is required", ErrInvalidInput)
	case b.TotalCopies < 0:
		return fmt.Errorf("%w: total copies must not be negative", ErrInvalidInput)
	}
	return b.checkCounts()
}

func (b Book) checkCounts() error {
	if b.AvailableCopies < 0 {
		return ErrOutOfStock
	}
	if b.AvailableCopies > b.TotalCopies {
		return ErrOverReturn
	}
	return nil
}

// OnLoan is the number of copies currently lent out.
func (b Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}

// TakeCopy removes one copy from the shelf.
func (b *Book) TakeCopy(now time.Time) error {
	if b.AvailableCopies <= 0 {
		return ErrOutOfStock
	}
	b.AvailableCopies--
	b.UpdatedAt = now
	return b.checkCounts()
}

// PutBackCopy returns one copy to the shelf.
func (b *Book) PutBackCopy(now time.Time) error {
	if b.AvailableCopies >= b.TotalCopies {
		return ErrOverReturn
	}
	b.AvailableCopies++
	b.UpdatedAt = now
	return b.checkCounts()
}

// Resize changes the total copy count. The delta is applied to the available
// count, which is then clamped to [0, total]. A total below the number of
// open loans is rejected.
func (b *Book) Resize(total, openLoans int, now time.Time) error {
	if total < 0 {
		return fmt.Errorf("%w: total copies must not be negative", ErrInvalidInput)
	}
	if total < openLoans {
		return ErrCopiesOnLoan
	}
	available := b.AvailableCopies + (total - b.TotalCopies)
	available = max(0, min(available, total))

	b.TotalCopies = total
	b.AvailableCopies = available
	b.UpdatedAt = now
	return b.checkCounts()
}
