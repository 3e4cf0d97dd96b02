package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/port"
)

type settings struct {
	clock        func() time.Time
	newID        func() string
	logger       *slog.Logger
	cache        port.CacheRepository
	loanPeriod   time.Duration
	retryOptions []RetryOption
}

func newSettings(opts []Option) settings {
	s := settings{
		clock:      func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.New().String() },
		logger:     slog.New(slog.DiscardHandler),
		loanPeriod: domain.DefaultLoanPeriod,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Option configures LoanService and CatalogService.
type Option func(*settings)

// WithClock replaces the time source used for borrow, due and return dates.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		s.clock = clock
	}
}

// WithIDGenerator replaces the uuid generator for new records.
func WithIDGenerator(newID func() string) Option {
	return func(s *settings) {
		s.newID = newID
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

// WithCache enables the availability mirror and idempotent borrows.
func WithCache(cache port.CacheRepository) Option {
	return func(s *settings) {
		s.cache = cache
	}
}

// WithLoanPeriod sets the due date offset for new loans.
func WithLoanPeriod(period time.Duration) Option {
	return func(s *settings) {
		if period >= 0 {
			s.loanPeriod = period
		}
	}
}

// WithRetryOptions tunes the concurrency conflict retry loop.
func WithRetryOptions(opts ...RetryOption) Option {
	return func(s *settings) {
		s.retryOptions = opts
	}
}

func (s settings) now() time.Time {
	return s.clock()
}

// mirror pushes a committed count to the cache. Failures are logged only; the
// store stays authoritative.
func (s settings) mirror(ctx context.Context, book domain.Book) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetAvailability(ctx, book.ID, book.AvailableCopies, book.Version); err != nil {
		s.logger.WarnContext(ctx, "availability mirror update failed", "book_id", book.ID, "error", err)
	}
}

func (s settings) logFailure(ctx context.Context, operation string, err error, args ...any) {
	args = append(args, "operation", operation, "error", err)
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrPreconditionFailed),
		errors.Is(err, domain.ErrDuplicate),
		errors.Is(err, domain.ErrInvalidInput):
		s.logger.InfoContext(ctx, "operation rejected", args...)
	case errors.Is(err, domain.ErrConcurrencyConflict):
		s.logger.WarnContext(ctx, "operation gave up after concurrency conflicts", args...)
	default:
		s.logger.ErrorContext(ctx, "operation failed", args...)
	}
}

func (s settings) retry(ctx context.Context, operation string, fn RetryableFunc) error {
	opts := make([]RetryOption, 0, len(s.retryOptions)+1)
	opts = append(opts, s.retryOptions...)
	opts = append(opts, withRetryLogger(s.logger, operation))
	return RetryWithExponentialBackoff(ctx, fn, opts...)
}
