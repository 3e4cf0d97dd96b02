package storage

// Statements are idempotent and run in order by Migrate.

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id               CHAR(36)     NOT NULL PRIMARY KEY,
		title            VARCHAR(255) NOT NULL,
		author           VARCHAR(255) NOT NULL,
		isbn             VARCHAR(32)  NOT NULL,
		publication_year INT          NOT NULL,
		total_copies     INT          NOT NULL,
		available_copies INT          NOT NULL,
		version          BIGINT       NOT NULL DEFAULT 1,
		created_at       DATETIME(6)  NOT NULL,
		updated_at       DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_books_isbn (isbn),
		CONSTRAINT chk_books_copies CHECK (available_copies >= 0 AND available_copies <= total_copies)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS users (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		name       VARCHAR(255) NOT NULL,
		email      VARCHAR(255) NOT NULL,
		created_at DATETIME(6)  NOT NULL,
		UNIQUE KEY uq_users_email (email)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS loans (
		id          CHAR(36)    NOT NULL PRIMARY KEY,
		book_id     CHAR(36)    NOT NULL,
		user_id     CHAR(36)    NOT NULL,
		borrow_date DATETIME(6) NOT NULL,
		due_date    DATETIME(6) NOT NULL,
		return_date DATETIME(6) NULL,
		status      VARCHAR(16) NOT NULL,
		KEY idx_loans_book_status (book_id, status),
		KEY idx_loans_user (user_id),
		CONSTRAINT fk_loans_book FOREIGN KEY (book_id) REFERENCES books (id),
		CONSTRAINT fk_loans_user FOREIGN KEY (user_id) REFERENCES users (id),
		CONSTRAINT chk_loans_dates CHECK (due_date >= borrow_date),
		CONSTRAINT chk_loans_return CHECK ((status = 'returned') = (return_date IS NOT NULL))
	) ENGINE=InnoDB`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS books (
		id               TEXT        PRIMARY KEY,
		title            TEXT        NOT NULL,
		author           TEXT        NOT NULL,
		isbn             TEXT        NOT NULL UNIQUE,
		publication_year INTEGER     NOT NULL,
		total_copies     INTEGER     NOT NULL,
		available_copies INTEGER     NOT NULL,
		version          BIGINT      NOT NULL DEFAULT 1,
		created_at       TIMESTAMPTZ NOT NULL,
		updated_at       TIMESTAMPTZ NOT NULL,
		CHECK (available_copies >= 0 AND available_copies <= total_copies)
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id         TEXT        PRIMARY KEY,
		name       TEXT        NOT NULL,
		email      TEXT        NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS loans (
		id          TEXT        PRIMARY KEY,
		book_id     TEXT        NOT NULL REFERENCES books (id),
		user_id     TEXT        NOT NULL REFERENCES users (id),
		borrow_date TIMESTAMPTZ NOT NULL,
		due_date    TIMESTAMPTZ NOT NULL,
		return_date TIMESTAMPTZ NULL,
		status      TEXT        NOT NULL,
		CHECK (due_date >= borrow_date),
		CHECK ((status = 'returned') = (return_date IS NOT NULL))
	)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_book_status ON loans (book_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_user ON loans (user_id)`,
}
