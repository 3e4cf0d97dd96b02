package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/port"
)

// MemoryAdapter is an in-process Store. Row locks are per-key channels held
// for the life of a transaction; writes are staged and applied at commit.
type MemoryAdapter struct {
	mu    sync.RWMutex
	books map[string]domain.Book
	users map[string]domain.User
	loans map[string]domain.Loan

	// insertion order for stable listings
	bookIDs []string
	userIDs []string
	loanIDs []string

	locks       *rowLocks
	lockTimeout time.Duration
}

func NewMemoryAdapter(lockTimeout time.Duration) *MemoryAdapter {
	return &MemoryAdapter{
		books:       make(map[string]domain.Book),
		users:       make(map[string]domain.User),
		loans:       make(map[string]domain.Loan),
		locks:       newRowLocks(),
		lockTimeout: lockTimeout,
	}
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn port.TxFunc) error {
	tx := &memoryTx{
		store:        m,
		held:         make(map[string]struct{}),
		books:        make(map[string]domain.Book),
		deletedBooks: make(map[string]struct{}),
		loans:        make(map[string]domain.Loan),
	}
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (m *MemoryAdapter) CreateBook(ctx context.Context, book domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.books[book.ID]; ok {
		return domain.ErrDuplicate
	}
	if m.isbnTaken(book.ISBN, "") {
		return domain.ErrDuplicateISBN
	}
	m.books[book.ID] = book
	m.bookIDs = append(m.bookIDs, book.ID)
	return nil
}

func (m *MemoryAdapter) GetBook(ctx context.Context, id string) (domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	book, ok := m.books[id]
	if !ok {
		return domain.Book{}, domain.ErrBookNotFound
	}
	return book, nil
}

func (m *MemoryAdapter) ListBooks(ctx context.Context, page port.Page) ([]domain.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	books := make([]domain.Book, 0)
	for _, id := range paginate(m.bookIDs, page) {
		books = append(books, m.books[id])
	}
	return books, nil
}

func (m *MemoryAdapter) CreateUser(ctx context.Context, user domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[user.ID]; ok {
		return domain.ErrDuplicate
	}
	for _, u := range m.users {
		if u.Email == user.Email {
			return domain.ErrDuplicateEmail
		}
	}
	m.users[user.ID] = user
	m.userIDs = append(m.userIDs, user.ID)
	return nil
}

func (m *MemoryAdapter) GetUser(ctx context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, nil
}

func (m *MemoryAdapter) ListUsers(ctx context.Context, page port.Page) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]domain.User, 0)
	for _, id := range paginate(m.userIDs, page) {
		users = append(users, m.users[id])
	}
	return users, nil
}

func (m *MemoryAdapter) GetLoan(ctx context.Context, id string) (domain.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	loan, ok := m.loans[id]
	if !ok {
		return domain.Loan{}, domain.ErrLoanNotFound
	}
	return cloneLoan(loan), nil
}

func (m *MemoryAdapter) ListLoans(ctx context.Context, filter port.LoanFilter, page port.Page) ([]domain.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]string, 0)
	for _, id := range m.loanIDs {
		if loanMatches(m.loans[id], filter) {
			matched = append(matched, id)
		}
	}

	loans := make([]domain.Loan, 0)
	for _, id := range paginate(matched, page) {
		loans = append(loans, cloneLoan(m.loans[id]))
	}
	return loans, nil
}

func (m *MemoryAdapter) Close() error {
	return nil
}

// isbnTaken must be called with mu held.
func (m *MemoryAdapter) isbnTaken(isbn, exceptID string) bool {
	for id, b := range m.books {
		if id != exceptID && b.ISBN == isbn {
			return true
		}
	}
	return false
}

type memoryTx struct {
	store *MemoryAdapter
	held  map[string]struct{}

	books        map[string]domain.Book
	deletedBooks map[string]struct{}
	loans        map[string]domain.Loan
	newLoans     []string
}

func (tx *memoryTx) lock(ctx context.Context, key string) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	if err := tx.store.locks.acquire(ctx, key, tx.store.lockTimeout); err != nil {
		return err
	}
	tx.held[key] = struct{}{}
	return nil
}

func (tx *memoryTx) release() {
	for key := range tx.held {
		tx.store.locks.release(key)
	}
	tx.held = nil
}

func (tx *memoryTx) LockBook(ctx context.Context, id string) (domain.Book, error) {
	if err := tx.lock(ctx, "book:"+id); err != nil {
		return domain.Book{}, err
	}
	if _, ok := tx.deletedBooks[id]; ok {
		return domain.Book{}, domain.ErrBookNotFound
	}
	if book, ok := tx.books[id]; ok {
		return book, nil
	}
	return tx.store.GetBook(ctx, id)
}

func (tx *memoryTx) LockLoan(ctx context.Context, id string) (domain.Loan, error) {
	if err := tx.lock(ctx, "loan:"+id); err != nil {
		return domain.Loan{}, err
	}
	if loan, ok := tx.loans[id]; ok {
		return cloneLoan(loan), nil
	}
	return tx.store.GetLoan(ctx, id)
}

func (tx *memoryTx) GetUser(ctx context.Context, id string) (domain.User, error) {
	return tx.store.GetUser(ctx, id)
}

func (tx *memoryTx) CountLoans(ctx context.Context, bookID string, openOnly bool) (int, error) {
	filter := port.LoanFilter{BookID: bookID, OpenOnly: openOnly}

	count := 0
	for _, loan := range tx.loans {
		if loanMatches(loan, filter) {
			count++
		}
	}

	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	for id, loan := range tx.store.loans {
		if _, staged := tx.loans[id]; staged {
			continue
		}
		if loanMatches(loan, filter) {
			count++
		}
	}
	return count, nil
}

func (tx *memoryTx) UpdateBook(ctx context.Context, book domain.Book) error {
	if _, ok := tx.held["book:"+book.ID]; !ok {
		return errRowNotLocked
	}
	tx.books[book.ID] = book
	return nil
}

func (tx *memoryTx) DeleteBook(ctx context.Context, id string) error {
	if _, ok := tx.held["book:"+id]; !ok {
		return errRowNotLocked
	}
	delete(tx.books, id)
	tx.deletedBooks[id] = struct{}{}
	return nil
}

func (tx *memoryTx) InsertLoan(ctx context.Context, loan domain.Loan) error {
	if _, ok := tx.loans[loan.ID]; ok {
		return domain.ErrDuplicate
	}
	tx.loans[loan.ID] = cloneLoan(loan)
	tx.newLoans = append(tx.newLoans, loan.ID)
	return nil
}

func (tx *memoryTx) UpdateLoan(ctx context.Context, loan domain.Loan) error {
	_, inserted := tx.loans[loan.ID]
	_, locked := tx.held["loan:"+loan.ID]
	if !inserted && !locked {
		return errRowNotLocked
	}
	tx.loans[loan.ID] = cloneLoan(loan)
	return nil
}

// commit applies the staged writes atomically with respect to readers.
func (tx *memoryTx) commit() error {
	m := tx.store
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, book := range tx.books {
		if m.isbnTaken(book.ISBN, id) {
			return domain.ErrDuplicateISBN
		}
	}
	for _, id := range tx.newLoans {
		if _, ok := m.loans[id]; ok {
			return domain.ErrDuplicate
		}
	}

	for id, book := range tx.books {
		m.books[id] = book
	}
	for id := range tx.deletedBooks {
		delete(m.books, id)
		m.bookIDs = slices.DeleteFunc(m.bookIDs, func(v string) bool { return v == id })
	}
	for id, loan := range tx.loans {
		m.loans[id] = loan
	}
	m.loanIDs = append(m.loanIDs, tx.newLoans...)

	return nil
}

func loanMatches(loan domain.Loan, filter port.LoanFilter) bool {
	if filter.BookID != "" && loan.BookID != filter.BookID {
		return false
	}
	if filter.UserID != "" && loan.UserID != filter.UserID {
		return false
	}
	if filter.OpenOnly && !loan.IsOpen() {
		return false
	}
	if filter.DueBefore != nil && !loan.DueDate.Before(*filter.DueBefore) {
		return false
	}
	return true
}

func paginate(ids []string, page port.Page) []string {
	if page.Offset >= len(ids) {
		return nil
	}
	end := min(page.Offset+page.Limit, len(ids))
	return ids[page.Offset:end]
}

func cloneLoan(l domain.Loan) domain.Loan {
	if l.ReturnDate != nil {
		returned := *l.ReturnDate
		l.ReturnDate = &returned
	}
	return l
}
