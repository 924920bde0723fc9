// internal/fees/service.go
package fees

import (
	"context"
	"librarydesk/internal/catalog"
	"librarydesk/internal/eventstore"
	"librarydesk/internal/payment"

	"github.com/shopspring/decimal"
)

// Service collects and refunds late fees.
type Service interface {
	PayLateFees(ctx context.Context, patronID string, bookID int, gateway payment.Gateway) PaymentResult
	RefundLateFeePayment(ctx context.Context, transactionID string, amount decimal.Decimal, gateway payment.Gateway) RefundResult
	LateFee(ctx context.Context, patronID string, bookID int) FeeResult
	PaymentHistory(ctx context.Context, patronID string) ([]LateFeePaidEvent, error)
	VerifyPayment(ctx context.Context, transactionID string, gateway payment.Gateway) (payment.Status, error)
}

// FeeSource computes the fee currently owed on a patron's active borrow of a book.
type FeeSource interface {
	CalculateLateFee(ctx context.Context, patronID string, bookID int) (FeeResult, error)
}

// BookLookup resolves a book by id. A missing book is catalog.ErrBookNotFound.
type BookLookup interface {
	GetBook(ctx context.Context, id int) (*catalog.Book, error)
}

// EventStore records payments and refunds.
type EventStore interface {
	Append(ctx context.Context, streamID, streamType string, events ...eventstore.Event) error
	LoadEvents(ctx context.Context, streamID string, fromVersion, toVersion int) ([]eventstore.Event, error)
}
