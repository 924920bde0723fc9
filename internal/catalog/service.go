// internal/catalog/service.go
package catalog

import (
	"context"
	"librarydesk/internal/eventstore"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, title, author, isbn string, totalCopies int) (*Book, error)
	GetBook(ctx context.Context, id int) (*Book, error)
	GetBookByISBN(ctx context.Context, isbn string) (*Book, error)
	ListBooks(ctx context.Context) ([]*Book, error)
	AdjustAvailability(ctx context.Context, id, delta int) (*Book, error)
	Search(ctx context.Context, term, searchType string) ([]*Book, error)
}

// Repository is the books read model.
type Repository interface {
	Insert(ctx context.Context, book *Book) error
	GetByID(ctx context.Context, id int) (*Book, error)
	GetByISBN(ctx context.Context, isbn string) (*Book, error)
	List(ctx context.Context) ([]*Book, error)
	AdjustAvailability(ctx context.Context, id, delta int) (*Book, error)
	Search(ctx context.Context, term, searchType string) ([]*Book, error)
}

// EventStore is the write side catalog events go to.
type EventStore interface {
	Append(ctx context.Context, streamID, streamType string, events ...eventstore.Event) error
}
