package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/port"
)

// MySQL server error numbers handled by the adapter.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// MySQLAdapter is the InnoDB-backed Store. Row locks are SELECT ... FOR UPDATE
// inside the transaction opened by WithinTx.
type MySQLAdapter struct {
	db          *sqlx.DB
	q           queries
	lockTimeout time.Duration
}

// NewMySQLAdapter bounds every row lock wait by lockTimeout. InnoDB counts
// whole seconds, so the timeout is rounded up to at least one second. A
// non-positive timeout keeps the server default.
func NewMySQLAdapter(db *sql.DB, lockTimeout time.Duration) *MySQLAdapter {
	return &MySQLAdapter{
		db:          sqlx.NewDb(db, "mysql"),
		q:           newQueries(dialectMySQL),
		lockTimeout: lockTimeout,
	}
}

// Migrate creates the tables if they do not exist.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn port.TxFunc) error {
	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if m.lockTimeout > 0 {
		if _, err := tx.ExecContext(ctx, "SET SESSION innodb_lock_wait_timeout = ?", lockWaitSeconds(m.lockTimeout)); err != nil {
			return fmt.Errorf("set lock timeout: %w", translateMySQLError(err))
		}
	}

	if err := fn(ctx, &mysqlTx{tx: tx, q: m.q}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", translateMySQLError(err))
	}
	return nil
}

func lockWaitSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

func (m *MySQLAdapter) CreateBook(ctx context.Context, book domain.Book) error {
	query, args, err := m.q.insertBook(book)
	if err != nil {
		return fmt.Errorf("build insert book: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert book: %w", translateMySQLError(err))
	}
	return nil
}

func (m *MySQLAdapter) GetBook(ctx context.Context, id string) (domain.Book, error) {
	query, args, err := m.q.selectBook(id, false)
	if err != nil {
		return domain.Book{}, fmt.Errorf("build select book: %w", err)
	}
	row, err := getOne[bookRow](ctx, m.db, query, args, domain.ErrBookNotFound)
	if err != nil {
		return domain.Book{}, err
	}
	return row.toDomain(), nil
}

func (m *MySQLAdapter) ListBooks(ctx context.Context, page port.Page) ([]domain.Book, error) {
	query, args, err := m.q.listBooks(page)
	if err != nil {
		return nil, fmt.Errorf("build list books: %w", err)
	}
	rows, err := getMany[bookRow](ctx, m.db, query, args)
	if err != nil {
		return nil, err
	}
	books := make([]domain.Book, 0, len(rows))
	for _, r := range rows {
		books = append(books, r.toDomain())
	}
	return books, nil
}

func (m *MySQLAdapter) CreateUser(ctx context.Context, user domain.User) error {
	query, args, err := m.q.insertUser(user)
	if err != nil {
		return fmt.Errorf("build insert user: %w", err)
	}
	if _, err := m.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert user: %w", translateMySQLError(err))
	}
	return nil
}

func (m *MySQLAdapter) GetUser(ctx context.Context, id string) (domain.User, error) {
	return selectUser(ctx, m.db, m.q, id)
}

func (m *MySQLAdapter) ListUsers(ctx context.Context, page port.Page) ([]domain.User, error) {
	query, args, err := m.q.listUsers(page)
	if err != nil {
		return nil, fmt.Errorf("build list users: %w", err)
	}
	rows, err := getMany[userRow](ctx, m.db, query, args)
	if err != nil {
		return nil, err
	}
	users := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.toDomain())
	}
	return users, nil
}

func (m *MySQLAdapter) GetLoan(ctx context.Context, id string) (domain.Loan, error) {
	return selectLoan(ctx, m.db, m.q, id, false)
}

func (m *MySQLAdapter) ListLoans(ctx context.Context, filter port.LoanFilter, page port.Page) ([]domain.Loan, error) {
	query, args, err := m.q.listLoans(filter, page)
	if err != nil {
		return nil, fmt.Errorf("build list loans: %w", err)
	}
	rows, err := getMany[loanRow](ctx, m.db, query, args)
	if err != nil {
		return nil, err
	}
	loans := make([]domain.Loan, 0, len(rows))
	for _, r := range rows {
		loans = append(loans, r.toDomain())
	}
	return loans, nil
}

func (m *MySQLAdapter) Close() error {
	return m.db.Close()
}

type mysqlTx struct {
	tx *sqlx.Tx
	q  queries
}

func (t *mysqlTx) LockBook(ctx context.Context, id string) (domain.Book, error) {
	query, args, err := t.q.selectBook(id, true)
	if err != nil {
		return domain.Book{}, fmt.Errorf("build lock book: %w", err)
	}
	row, err := getOne[bookRow](ctx, t.tx, query, args, domain.ErrBookNotFound)
	if err != nil {
		return domain.Book{}, err
	}
	return row.toDomain(), nil
}

func (t *mysqlTx) LockLoan(ctx context.Context, id string) (domain.Loan, error) {
	return selectLoan(ctx, t.tx, t.q, id, true)
}

func (t *mysqlTx) GetUser(ctx context.Context, id string) (domain.User, error) {
	return selectUser(ctx, t.tx, t.q, id)
}

func (t *mysqlTx) CountLoans(ctx context.Context, bookID string, openOnly bool) (int, error) {
	query, args, err := t.q.countLoans(bookID, openOnly)
	if err != nil {
		return 0, fmt.Errorf("build count loans: %w", err)
	}
	var count int
	if err := sqlx.GetContext(ctx, t.tx, &count, query, args...); err != nil {
		return 0, translateMySQLError(err)
	}
	return count, nil
}

func (t *mysqlTx) UpdateBook(ctx context.Context, book domain.Book) error {
	query, args, err := t.q.updateBook(book)
	if err != nil {
		return fmt.Errorf("build update book: %w", err)
	}
	return t.exec(ctx, query, args)
}

func (t *mysqlTx) DeleteBook(ctx context.Context, id string) error {
	query, args, err := t.q.deleteBook(id)
	if err != nil {
		return fmt.Errorf("build delete book: %w", err)
	}
	return t.exec(ctx, query, args)
}

func (t *mysqlTx) InsertLoan(ctx context.Context, loan domain.Loan) error {
	query, args, err := t.q.insertLoan(loan)
	if err != nil {
		return fmt.Errorf("build insert loan: %w", err)
	}
	return t.exec(ctx, query, args)
}

func (t *mysqlTx) UpdateLoan(ctx context.Context, loan domain.Loan) error {
	query, args, err := t.q.updateLoan(loan)
	if err != nil {
		return fmt.Errorf("build update loan: %w", err)
	}
	return t.exec(ctx, query, args)
}

func (t *mysqlTx) exec(ctx context.Context, query string, args []any) error {
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return translateMySQLError(err)
	}
	return nil
}

func selectUser(ctx context.Context, db sqlx.QueryerContext, q queries, id string) (domain.User, error) {
	query, args, err := q.selectUser(id)
	if err != nil {
		return domain.User{}, fmt.Errorf("build select user: %w", err)
	}
	row, err := getOne[userRow](ctx, db, query, args, domain.ErrUserNotFound)
	if err != nil {
		return domain.User{}, err
	}
	return row.toDomain(), nil
}

func selectLoan(ctx context.Context, db sqlx.QueryerContext, q queries, id string, forUpdate bool) (domain.Loan, error) {
	query, args, err := q.selectLoan(id, forUpdate)
	if err != nil {
		return domain.Loan{}, fmt.Errorf("build select loan: %w", err)
	}
	row, err := getOne[loanRow](ctx, db, query, args, domain.ErrLoanNotFound)
	if err != nil {
		return domain.Loan{}, err
	}
	return row.toDomain(), nil
}

func getOne[T any](ctx context.Context, db sqlx.QueryerContext, query string, args []any, notFound error) (T, error) {
	var row T
	err := sqlx.GetContext(ctx, db, &row, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return row, notFound
	}
	if err != nil {
		return row, translateMySQLError(err)
	}
	return row, nil
}

func getMany[T any](ctx context.Context, db sqlx.QueryerContext, query string, args []any) ([]T, error) {
	var rows []T
	if err := sqlx.SelectContext(ctx, db, &rows, query, args...); err != nil {
		return nil, translateMySQLError(err)
	}
	return rows, nil
}

// translateMySQLError maps lock conflicts and unique violations onto the
// domain taxonomy and leaves every other error untouched.
func translateMySQLError(err error) error {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return err
	}

	switch myErr.Number {
	case mysqlErrDeadlock, mysqlErrLockWaitTimeout:
		return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, myErr.Message)
	case mysqlErrDuplicateEntry:
		switch {
		case strings.Contains(myErr.Message, "uq_books_isbn"):
			return domain.ErrDuplicateISBN
		case strings.Contains(myErr.Message, "uq_users_email"):
			return domain.ErrDuplicateEmail
		default:
			return fmt.Errorf("%w: %s", domain.ErrDuplicate, myErr.Message)
		}
	}
	return err
}
