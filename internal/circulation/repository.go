package circulation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Schema creates the borrow records read model. A patron holds at most one active
// borrow of a given book.
const Schema = `
CREATE TABLE IF NOT EXISTS borrow_records (
	id          BIGSERIAL PRIMARY KEY,
	patron_id   CHAR(6) NOT NULL,
	book_id     INT NOT NULL,
	borrow_date TIMESTAMPTZ NOT NULL,
	due_date    TIMESTAMPTZ NOT NULL,
	return_date TIMESTAMPTZ,
	version     INT NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS borrow_records_active_idx
	ON borrow_records (patron_id, book_id) WHERE return_date IS NULL;
CREATE INDEX IF NOT EXISTS borrow_records_patron_idx ON borrow_records (patron_id);`

const recordColumns = `id, patron_id, book_id, borrow_date, due_date, return_date, version`

type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns the borrow records read model backed by Postgres.
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Insert(ctx context.Context, record *BorrowRecord) error {
	query := `
		INSERT INTO borrow_records (patron_id, book_id, borrow_date, due_date, version)
		VALUES (:patron_id, :book_id, :borrow_date, :due_date, :version)
		RETURNING id
	`
	named, args, err := sqlx.Named(query, record)
	if err != nil {
		return fmt.Errorf("failed to bind borrow record: %w", err)
	}

	err = r.db.GetContext(ctx, &record.ID, r.db.Rebind(named), args...)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAlreadyBorrowed
	}
	return err
}

func (r *postgresRepository) GetActive(ctx context.Context, patronID string, bookID int) (*BorrowRecord, error) {
	var record BorrowRecord
	err := r.db.GetContext(ctx, &record, `
		SELECT `+recordColumns+`
		FROM borrow_records
		WHERE patron_id = $1 AND book_id = $2 AND return_date IS NULL
	`, patronID, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoActiveBorrow
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *postgresRepository) CountActive(ctx context.Context, patronID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM borrow_records WHERE patron_id = $1 AND return_date IS NULL
	`, patronID)
	return count, err
}

// MarkReturned closes a record if it is still at version.
func (r *postgresRepository) MarkReturned(ctx context.Context, id int64, version int, returnedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE borrow_records
		SET return_date = $1, version = version + 1
		WHERE id = $2 AND version = $3 AND return_date IS NULL
	`, returnedAt, id, version)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrConcurrentReturn
	}
	return nil
}

func (r *postgresRepository) ListByPatron(ctx context.Context, patronID string) ([]*BorrowRecord, error) {
	records := []*BorrowRecord{}
	err := r.db.SelectContext(ctx, &records, `
		SELECT `+recordColumns+`
		FROM borrow_records
		WHERE patron_id = $1
		ORDER BY borrow_date DESC, id DESC
	`, patronID)
	if err != nil {
		return nil, err
	}
	return records, nil
}
