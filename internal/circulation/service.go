// internal/circulation/service.go
package circulation

import (
	"context"
	"librarydesk/internal/catalog"
	"librarydesk/internal/eventstore"
	"librarydesk/internal/fees"
	"time"
)

// Service defines the interface for the circulation service.
type Service interface {
	BorrowBook(ctx context.Context, patronID string, bookID int) (*BorrowRecord, error)
	ReturnBook(ctx context.Context, patronID string, bookID int) (*ReturnReceipt, error)
	GetActiveBorrowRecord(ctx context.Context, patronID string, bookID int) (*BorrowRecord, error)
	CalculateLateFee(ctx context.Context, patronID string, bookID int) (fees.FeeResult, error)
	PatronStatus(ctx context.Context, patronID string) (*PatronStatus, error)
}

// Catalog is the part of the catalog service circulation depends on.
type Catalog interface {
	GetBook(ctx context.Context, id int) (*catalog.Book, error)
	AdjustAvailability(ctx context.Context, id, delta int) (*catalog.Book, error)
}

// Repository is the borrow records read model.
type Repository interface {
	Insert(ctx context.Context, record *BorrowRecord) error
	GetActive(ctx context.Context, patronID string, bookID int) (*BorrowRecord, error)
	CountActive(ctx context.Context, patronID string) (int, error)
	MarkReturned(ctx context.Context, id int64, version int, returnedAt time.Time) error
	ListByPatron(ctx context.Context, patronID string) ([]*BorrowRecord, error)
}

type EventStore interface {
	Append(ctx context.Context, streamID, streamType string, events ...eventstore.Event) error
}
