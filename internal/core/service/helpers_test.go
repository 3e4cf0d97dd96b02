package service_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rl1809/library-ledger/internal/adapter/storage"
	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/core/service"
	"github.com/rl1809/library-ledger/internal/port"
)

var t0 = time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)

// fakeClock is a settable time source shared by the services under test.
type fakeClock struct {
	mu   sync.Mutex
	now  time.Time
	hold *clockHold
}

type clockHold struct {
	reached chan struct{}
	release chan struct{}
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: t0}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	c.now = c.now.Add(time.Microsecond)
	now, hold := c.now, c.hold
	c.hold = nil
	c.mu.Unlock()

	if hold != nil {
		close(hold.reached)
		<-hold.release
	}
	return now
}

// HoldNext makes the next Now call block after it has read the time. reached
// is closed once that call is parked; release lets it return.
func (c *fakeClock) HoldNext() (reached <-chan struct{}, release func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := &clockHold{reached: make(chan struct{}), release: make(chan struct{})}
	c.hold = h
	return h.reached, func() { close(h.release) }
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = t
}

type fixture struct {
	store   *storage.MemoryAdapter
	cache   *storage.MemoryCache
	clock   *fakeClock
	loans   *service.LoanService
	catalog *service.CatalogService
}

func newFixture(t *testing.T, opts ...service.Option) *fixture {
	t.Helper()

	f := &fixture{
		store: storage.NewMemoryAdapter(5 * time.Second),
		cache: storage.NewMemoryCache(),
		clock: newFakeClock(),
	}
	opts = append([]service.Option{
		service.WithClock(f.clock.Now),
		service.WithCache(f.cache),
		service.WithRetryOptions(service.WithBaseDelay(time.Millisecond)),
	}, opts...)

	f.loans = service.NewLoanService(f.store, opts...)
	f.catalog = service.NewCatalogService(f.store, opts...)
	return f
}

var isbnSeq atomic.Int64

func (f *fixture) book(t *testing.T, copies int) domain.Book {
	t.Helper()

	n := isbnSeq.Add(1)
	book, err := f.catalog.CreateBook(context.Background(), service.BookInput{
		Title:           fmt.Sprintf("Book %d", n),
		Author:          "Author",
		ISBN:            fmt.Sprintf("isbn-%d", n),
		PublicationYear: 2001,
		TotalCopies:     copies,
	})
	require.NoError(t, err)
	return book
}

var emailSeq atomic.Int64

func (f *fixture) user(t *testing.T) domain.User {
	t.Helper()

	n := emailSeq.Add(1)
	user, err := f.catalog.CreateUser(context.Background(), fmt.Sprintf("Reader %d", n), fmt.Sprintf("reader%d@example.com", n))
	require.NoError(t, err)
	return user
}

func (f *fixture) available(t *testing.T, bookID string) int {
	t.Helper()

	book, err := f.catalog.GetBook(context.Background(), bookID)
	require.NoError(t, err)
	return book.AvailableCopies
}

// conflictingStore fails the first n units of work with a concurrency conflict.
type conflictingStore struct {
	port.Store
	remaining atomic.Int32
	calls     atomic.Int32
}

func (s *conflictingStore) WithinTx(ctx context.Context, fn port.TxFunc) error {
	s.calls.Add(1)
	if s.remaining.Add(-1) >= 0 {
		return &domain.LockTimeoutError{Row: "book:injected"}
	}
	return s.Store.WithinTx(ctx, fn)
}
