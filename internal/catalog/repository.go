package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Schema creates the books read model.
const Schema = `
CREATE TABLE IF NOT EXISTS books (
	id               SERIAL PRIMARY KEY,
	title            TEXT NOT NULL,
	author           TEXT NOT NULL,
	isbn             CHAR(13) NOT NULL UNIQUE,
	total_copies     INT NOT NULL CHECK (total_copies > 0),
	available_copies INT NOT NULL CHECK (available_copies BETWEEN 0 AND total_copies),
	version          INT NOT NULL DEFAULT 1,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

const bookColumns = `id, title, author, isbn, total_copies, available_copies, version, created_at, updated_at`

var dialect = goqu.Dialect("postgres")

type postgresRepository struct {
	db *sqlx.DB
}

// NewPostgresRepository returns the books read model backed by Postgres.
func NewPostgresRepository(db *sqlx.DB) Repository {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) Insert(ctx context.Context, book *Book) error {
	query := `
		INSERT INTO books (title, author, isbn, total_copies, available_copies, version)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query,
		book.Title, book.Author, book.ISBN, book.TotalCopies, book.AvailableCopies, book.Version,
	).Scan(&book.ID, &book.CreatedAt, &book.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateISBN
		}
		return err
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id int) (*Book, error) {
	return r.getOne(ctx, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id)
}

func (r *postgresRepository) GetByISBN(ctx context.Context, isbn string) (*Book, error) {
	return r.getOne(ctx, `SELECT `+bookColumns+` FROM books WHERE isbn = $1`, isbn)
}

func (r *postgresRepository) getOne(ctx context.Context, query string, arg any) (*Book, error) {
	book := &Book{}
	if err := r.db.GetContext(ctx, book, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to get book from read model: %w", err)
	}
	return book, nil
}

func (r *postgresRepository) List(ctx context.Context) ([]*Book, error) {
	books := []*Book{}
	if err := r.db.SelectContext(ctx, &books, `SELECT `+bookColumns+` FROM books ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

// AdjustAvailability applies delta in one statement so concurrent borrows cannot
// push the count outside 0..total_copies.
func (r *postgresRepository) AdjustAvailability(ctx context.Context, id, delta int) (*Book, error) {
	query := `
		UPDATE books
		SET available_copies = available_copies + $1, version = version + 1, updated_at = NOW()
		WHERE id = $2 AND available_copies + $1 BETWEEN 0 AND total_copies
		RETURNING ` + bookColumns
	book := &Book{}
	err := r.db.GetContext(ctx, book, query, delta, id)
	if err == nil {
		return book, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to update availability: %w", err)
	}

	if _, err := r.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return nil, ErrAvailabilityOutOfRange
}

func (r *postgresRepository) Search(ctx context.Context, term, searchType string) ([]*Book, error) {
	query, args, err := searchQuery(term, searchType)
	if err != nil {
		return nil, err
	}

	books := []*Book{}
	if err := r.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, fmt.Errorf("database search failed: %w", err)
	}
	return books, nil
}

func searchQuery(term, searchType string) (string, []any, error) {
	ds := dialect.From("books").
		Select(goqu.L(bookColumns)).
		Order(goqu.C("title").Asc(), goqu.C("id").Asc()).
		Prepared(true)

	switch searchType {
	case SearchTitle:
		ds = ds.Where(goqu.C("title").ILike("%" + escapeLike(term) + "%"))
	case SearchAuthor:
		ds = ds.Where(goqu.C("author").ILike("%" + escapeLike(term) + "%"))
	case SearchISBN:
		ds = ds.Where(goqu.C("isbn").Eq(term))
	default:
		return "", nil, fmt.Errorf("unknown search type %q", searchType)
	}

	return ds.ToSQL()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
