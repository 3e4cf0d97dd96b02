package storage

import (
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"    // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/rl1809/library-ledger/internal/core/domain"
	"github.com/rl1809/library-ledger/internal/port"
)

const (
	dialectMySQL    = "mysql"
	dialectPostgres = "postgres"

	tableBooks = "books"
	tableUsers = "users"
	tableLoans = "loans"

	colID              = "id"
	colTitle           = "title"
	colAuthor          = "author"
	colISBN            = "isbn"
	colPublicationYear = "publication_year"
	colTotalCopies     = "total_copies"
	colAvailableCopies = "available_copies"
	colVersion         = "version"
	colCreatedAt       = "created_at"
	colUpdatedAt       = "updated_at"
	colName            = "name"
	colEmail           = "email"
	colBookID          = "book_id"
	colUserID          = "user_id"
	colBorrowDate      = "borrow_date"
	colDueDate         = "due_date"
	colReturnDate      = "return_date"
	colStatus          = "status"
)

var (
	bookColumns = []any{colID, colTitle, colAuthor, colISBN, colPublicationYear,
		colTotalCopies, colAvailableCopies, colVersion, colCreatedAt, colUpdatedAt}
	userColumns = []any{colID, colName, colEmail, colCreatedAt}
	loanColumns = []any{colID, colBookID, colUserID, colBorrowDate, colDueDate, colReturnDate, colStatus}
)

type bookRow struct {
	ID              string    `db:"id"`
	Title           string    `db:"title"`
	Author          string    `db:"author"`
	ISBN            string    `db:"isbn"`
	PublicationYear int       `db:"publication_year"`
	TotalCopies     int       `db:"total_copies"`
	AvailableCopies int       `db:"available_copies"`
	Version         int64     `db:"version"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
}

func (r bookRow) toDomain() domain.Book {
	return domain.Book{
		ID:              r.ID,
		Title:           r.Title,
		Author:          r.Author,
		ISBN:            r.ISBN,
		PublicationYear: r.PublicationYear,
		TotalCopies:     r.TotalCopies,
		AvailableCopies: r.AvailableCopies,
		Version:         r.Version,
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

type userRow struct {
	ID        string    `db:"id"`
	Name      string    `db:"name"`
	Email     string    `db:"email"`
	CreatedAt time.Time `db:"created_at"`
}

func (r userRow) toDomain() domain.User {
	return domain.User{ID: r.ID, Name: r.Name, Email: r.Email, CreatedAt: r.CreatedAt.UTC()}
}

type loanRow struct {
	ID         string     `db:"id"`
	BookID     string     `db:"book_id"`
	UserID     string     `db:"user_id"`
	BorrowDate time.Time  `db:"borrow_date"`
	DueDate    time.Time  `db:"due_date"`
	ReturnDate *time.Time `db:"return_date"`
	Status     string     `db:"status"`
}

func (r loanRow) toDomain() domain.Loan {
	l := domain.Loan{
		ID:         r.ID,
		BookID:     r.BookID,
		UserID:     r.UserID,
		BorrowDate: r.BorrowDate.UTC(),
		DueDate:    r.DueDate.UTC(),
		Status:     domain.LoanStatus(r.Status),
	}
	if r.ReturnDate != nil {
		returned := r.ReturnDate.UTC()
		l.ReturnDate = &returned
	}
	return l
}

// queries builds parameterized SQL for one dialect.
type queries struct {
	dialect goqu.DialectWrapper
}

func newQueries(dialect string) queries {
	return queries{dialect: goqu.Dialect(dialect)}
}

func (q queries) selectBook(id string, forUpdate bool) (string, []any, error) {
	ds := q.dialect.From(tableBooks).Select(bookColumns...).
		Where(goqu.C(colID).Eq(id)).
		Prepared(true)
	if forUpdate {
		ds = ds.ForUpdate(exp.Wait)
	}
	return ds.ToSQL()
}

func (q queries) listBooks(page port.Page) (string, []any, error) {
	return q.dialect.From(tableBooks).Select(bookColumns...).
		Order(goqu.C(colCreatedAt).Asc(), goqu.C(colID).Asc()).
		Limit(uint(page.Limit)).Offset(uint(page.Offset)).
		Prepared(true).ToSQL()
}

func (q queries) insertBook(b domain.Book) (string, []any, error) {
	return q.dialect.Insert(tableBooks).Rows(goqu.Record{
		colID:              b.ID,
		colTitle:           b.Title,
		colAuthor:          b.Author,
		colISBN:            b.ISBN,
		colPublicationYear: b.PublicationYear,
		colTotalCopies:     b.TotalCopies,
		colAvailableCopies: b.AvailableCopies,
		colVersion:         b.Version,
		colCreatedAt:       b.CreatedAt,
		colUpdatedAt:       b.UpdatedAt,
	}).Prepared(true).ToSQL()
}

func (q queries) updateBook(b domain.Book) (string, []any, error) {
	return q.dialect.Update(tableBooks).Set(goqu.Record{
		colTitle:           b.Title,
		colAuthor:          b.Author,
		colISBN:            b.ISBN,
		colPublicationYear: b.PublicationYear,
		colTotalCopies:     b.TotalCopies,
		colAvailableCopies: b.AvailableCopies,
		colVersion:         b.Version,
		colUpdatedAt:       b.UpdatedAt,
	}).Where(goqu.C(colID).Eq(b.ID)).Prepared(true).ToSQL()
}

func (q queries) deleteBook(id string) (string, []any, error) {
	return q.dialect.Delete(tableBooks).Where(goqu.C(colID).Eq(id)).Prepared(true).ToSQL()
}

func (q queries) selectUser(id string) (string, []any, error) {
	return q.dialect.From(tableUsers).Select(userColumns...).
		Where(goqu.C(colID).Eq(id)).
		Prepared(true).ToSQL()
}

func (q queries) listUsers(page port.Page) (string, []any, error) {
	return q.dialect.From(tableUsers).Select(userColumns...).
		Order(goqu.C(colCreatedAt).Asc(), goqu.C(colID).Asc()).
		Limit(uint(page.Limit)).Offset(uint(page.Offset)).
		Prepared(true).ToSQL()
}

func (q queries) insertUser(u domain.User) (string, []any, error) {
	return q.dialect.Insert(tableUsers).Rows(goqu.Record{
		colID:        u.ID,
		colName:      u.Name,
		colEmail:     u.Email,
		colCreatedAt: u.CreatedAt,
	}).Prepared(true).ToSQL()
}

func (q queries) selectLoan(id string, forUpdate bool) (string, []any, error) {
	ds := q.dialect.From(tableLoans).Select(loanColumns...).
		Where(goqu.C(colID).Eq(id)).
		Prepared(true)
	if forUpdate {
		ds = ds.ForUpdate(exp.Wait)
	}
	return ds.ToSQL()
}

func (q queries) listLoans(filter port.LoanFilter, page port.Page) (string, []any, error) {
	return q.dialect.From(tableLoans).Select(loanColumns...).
		Where(loanConditions(filter)...).
		Order(goqu.C(colBorrowDate).Asc(), goqu.C(colID).Asc()).
		Limit(uint(page.Limit)).Offset(uint(page.Offset)).
		Prepared(true).ToSQL()
}

func (q queries) countLoans(bookID string, openOnly bool) (string, []any, error) {
	filter := port.LoanFilter{BookID: bookID, OpenOnly: openOnly}
	return q.dialect.From(tableLoans).Select(goqu.COUNT(goqu.Star())).
		Where(loanConditions(filter)...).
		Prepared(true).ToSQL()
}

func (q queries) insertLoan(l domain.Loan) (string, []any, error) {
	return q.dialect.Insert(tableLoans).Rows(goqu.Record{
		colID:         l.ID,
		colBookID:     l.BookID,
		colUserID:     l.UserID,
		colBorrowDate: l.BorrowDate,
		colDueDate:    l.DueDate,
		colReturnDate: nullableTime(l.ReturnDate),
		colStatus:     string(l.Status),
	}).Prepared(true).ToSQL()
}

func (q queries) updateLoan(l domain.Loan) (string, []any, error) {
	return q.dialect.Update(tableLoans).Set(goqu.Record{
		colReturnDate: nullableTime(l.ReturnDate),
		colStatus:     string(l.Status),
	}).Where(goqu.C(colID).Eq(l.ID)).Prepared(true).ToSQL()
}

func loanConditions(filter port.LoanFilter) []exp.Expression {
	conds := make([]exp.Expression, 0, 4)
	if filter.BookID != "" {
		conds = append(conds, goqu.C(colBookID).Eq(filter.BookID))
	}
	if filter.UserID != "" {
		conds = append(conds, goqu.C(colUserID).Eq(filter.UserID))
	}
	if filter.OpenOnly {
		conds = append(conds, goqu.C(colStatus).Eq(string(domain.LoanStatusBorrowed)))
	}
	if filter.DueBefore != nil {
		conds = append(conds, goqu.C(colDueDate).Lt(*filter.DueBefore))
	}
	return conds
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
