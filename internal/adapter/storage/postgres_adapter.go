package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/port"
)

// PostgreSQL SQLSTATE codes handled by the adapter.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
	pgUniqueViolation      = "23505"
)

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresAdapter is the PostgreSQL-backed Store on a pgx pool.
type PostgresAdapter struct {
	pool        *pgxpool.Pool
	q           queries
	lockTimeout time.Duration
}

// NewPostgresAdapter sets lock_timeout on every transaction so a blocked row
// lock fails with 55P03. A non-positive timeout waits indefinitely.
func NewPostgresAdapter(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresAdapter {
	return &PostgresAdapter{
		pool:        pool,
		q:           newQueries(dialectPostgres),
		lockTimeout: lockTimeout,
	}
}

// Migrate creates the tables if they do not exist.
func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *PostgresAdapter) WithinTx(ctx context.Context, fn port.TxFunc) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if p.lockTimeout > 0 {
		ms := strconv.FormatInt(max(1, p.lockTimeout.Milliseconds()), 10)
		if _, err := tx.Exec(ctx, "SELECT set_config('lock_timeout', $1, true)", ms+"ms"); err != nil {
			return fmt.Errorf("set lock timeout: %w", translatePgError(err))
		}
	}

	if err := fn(ctx, &postgresTx{tx: tx, q: p.q}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", translatePgError(err))
	}
	return nil
}

func (p *PostgresAdapter) CreateBook(ctx context.Context, book domain.Book) error {
	query, args, err := p.q.insertBook(book)
	if err != nil {
		return fmt.Errorf("build insert book: %w", err)
	}
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert book: %w", translatePgError(err))
	}
	return nil
}

func (p *PostgresAdapter) GetBook(ctx context.Context, id string) (domain.Book, error) {
	return pgSelectBook(ctx, p.pool, p.q, id, false)
}

func (p *PostgresAdapter) ListBooks(ctx context.Context, page port.Page) ([]domain.Book, error) {
	query, args, err := p.q.listBooks(page)
	if err != nil {
		return nil, fmt.Errorf("build list books: %w", err)
	}
	rows, err := pgCollect[bookRow](ctx, p.pool, query, args)
	if err != nil {
		return nil, err
	}
	books := make([]domain.Book, 0, len(rows))
	for _, r := range rows {
		books = append(books, r.toDomain())
	}
	return books, nil
}

func (p *PostgresAdapter) CreateUser(ctx context.Context, user domain.User) error {
	query, args, err := p.q.insertUser(user)
	if err != nil {
		return fmt.Errorf("build insert user: %w", err)
	}
	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert user: %w", translatePgError(err))
	}
	return nil
}

func (p *PostgresAdapter) GetUser(ctx context.Context, id string) (domain.User, error) {
	return pgSelectUser(ctx, p.pool, p.q, id)
}

func (p *PostgresAdapter) ListUsers(ctx context.Context, page port.Page) ([]domain.User, error) {
	query, args, err := p.q.listUsers(page)
	if err != nil {
		return nil, fmt.Errorf("build list users: %w", err)
	}
	rows, err := pgCollect[userRow](ctx, p.pool, query, args)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toDomain())
	}
	return users, nil
}

func (p *PostgresAdapter) GetLoan(ctx context.Context, id string) (domain.Loan, error) {
	return pgSelectLoan(ctx, p.pool, p.q, id, false)
}

func (p *PostgresAdapter) ListLoans(ctx context.Context, filter port.LoanFilter, page port.Page) ([]domain.Loan, error) {
	query, args, err := p.q.listLoans(filter, page)
	if err != nil {
		return nil, fmt.Errorf("build list loans: %w", err)
	}
	rows, err := pgCollect[loanRow](ctx, p.pool, query, args)
	if err != nil {
		return nil, err
	}
	loans := make([]domain.Loan, 0, len(rows))
	for _, r := range rows {
		loans = append(loans, r.toDomain())
	}
	return loans, nil
}

func (p *PostgresAdapter) Close() error {
	p.pool.Close()
	return nil
}

type postgresTx struct {
	tx pgx.Tx
	q  queries
}

func (t *postgresTx) LockBook(ctx context.Context, id string) (domain.Book, error) {
	return pgSelectBook(ctx, t.tx, t.q, id, true)
}

func (t *postgresTx) LockLoan(ctx context.Context, id string) (domain.Loan, error) {
	return pgSelectLoan(ctx, t.tx, t.q, id, true)
}

func (t *postgresTx) GetUser(ctx context.Context, id string) (domain.User, error) {
	return pgSelectUser(ctx, t.tx, t.q, id)
}

func (t *postgresTx) CountLoans(ctx context.Context, bookID string, openOnly bool) (int, error) {
	query, args, err := t.q.countLoans(bookID, openOnly)
	if err != nil {
		return 0, fmt.Errorf("build count loans: %w", err)
	}
	var count int
	if err := t.tx.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, translatePgError(err)
	}
	return count, nil
}

func (t *postgresTx) UpdateBook(ctx context.Context, book domain.Book) error {
	query, args, err := t.q.updateBook(book)
	if err != nil {
		return fmt.Errorf("build update book: %w", err)
	}
	return t.exec(ctx, query, args, domain.ErrBookNotFound)
}

func (t *postgresTx) DeleteBook(ctx context.Context, id string) error {
	query, args, err := t.q.deleteBook(id)
	if err != nil {
		return fmt.Errorf("build delete book: %w", err)
	}
	return t.exec(ctx, query, args, domain.ErrBookNotFound)
}

func (t *postgresTx) InsertLoan(ctx context.Context, loan domain.Loan) error {
	query, args, err := t.q.insertLoan(loan)
	if err != nil {
		return fmt.Errorf("build insert loan: %w", err)
	}
	return t.exec(ctx, query, args, nil)
}

func (t *postgresTx) UpdateLoan(ctx context.Context, loan domain.Loan) error {
	query, args, err := t.q.updateLoan(loan)
	if err != nil {
		return fmt.Errorf("build update loan: %w", err)
	}
	return t.exec(ctx, query, args, domain.ErrLoanNotFound)
}

// exec runs a write. Postgres reports matched rows, so a zero count means the
// row is gone and yields missing when it is set.
func (t *postgresTx) exec(ctx context.Context, query string, args []any, missing error) error {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return translatePgError(err)
	}
	if missing != nil && tag.RowsAffected() == 0 {
		return missing
	}
	return nil
}

func pgSelectBook(ctx context.Context, db querier, q queries, id string, forUpdate bool) (domain.Book, error) {
	query, args, err := q.selectBook(id, forUpdate)
	if err != nil {
		return domain.Book{}, fmt.Errorf("build select book: %w", err)
	}
	row, err := pgCollectOne[bookRow](ctx, db, query, args, domain.ErrBookNotFound)
	if err != nil {
		return domain.Book{}, err
	}
	return row.toDomain(), nil
}

func pgSelectUser(ctx context.Context, db querier, q queries, id string) (domain.User, error) {
	query, args, err := q.selectUser(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("build select user: %w", err)
	}
	row, err := pgCollectOne[userRow](ctx, db, query, args, domain.ErrUserNotFound)
	if err != nil {
		return domain.User{}, err
	}
	return row.toDomain(), nil
}

func pgSelectLoan(ctx context.Context, db querier, q queries, id string, forUpdate bool) (domain.Loan, error) {
	query, args, err := q.selectLoan(id, forUpdate)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("build select loan: %w", err)
	}
	row, err := pgCollectOne[loanRow](ctx, db, query, args, domain.ErrLoanNotFound)
	if err != nil {
		return domain.Loan{}, err
	}
	return row.toDomain(), nil
}

func pgCollectOne[T any](ctx context.Context, db querier, query string, args []any, notFound error) (T, error) {
	var zero T
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return zero, translatePgError(err)
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[T])
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, notFound
	}
	if err != nil {
		return zero, translatePgError(err)
	}
	return row, nil
}

func pgCollect[T any](ctx context.Context, db querier, query string, args []any) ([]T, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, translatePgError(err)
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, translatePgError(err)
	}
	return collected, nil
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, pgErr.Message)
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case "books_isbn_key":
			return domain.ErrDuplicateISBN
		case "users_email_key":
			return domain.ErrDuplicateEmail
		default:
			return fmt.Errorf("%w: %s", domain.ErrDuplicate, pgErr.Message)
		}
	}
	return err
}
