// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"librarydesk/internal/eventstore"
	"librarydesk/internal/fees"
	"librarydesk/internal/patron"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const streamType = "borrow"

// service implements the Service interface.
type service struct {
	repo    Repository
	catalog Catalog
	events  EventStore
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService creates a new circulation service instance.
func NewService(repo Repository, catalog Catalog, events EventStore, logger *slog.Logger) Service {
	return &service{
		repo:    repo,
		catalog: catalog,
		events:  events,
		logger:  logger,
		tracer:  otel.Tracer("librarydesk/circulation"),
		now:     time.Now,
	}
}

// BorrowBook orchestrates the borrow saga.
func (s *service) BorrowBook(ctx context.Context, patronID string, bookID int) (*BorrowRecord, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.borrow_book",
		trace.WithAttributes(
			attribute.String("patron.id", patronID),
			attribute.Int("book.id", bookID),
		),
	)
	defer span.End()

	// Step 1: Validate the patron and the book
	if !patron.ValidID(patronID) {
		return nil, patron.ErrInvalidID
	}

	book, err := s.catalog.GetBook(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	if book.AvailableCopies <= 0 {
		return nil, ErrBookNotAvailable
	}

	// Step 2: Check the patron's loans
	count, err := s.repo.CountActive(ctx, patronID)
	if err != nil {
		return nil, fmt.Errorf("failed to count active borrows: %w", err)
	}
	if count >= MaxActiveBorrows {
		return nil, ErrBorrowLimitReached
	}

	if _, err := s.repo.GetActive(ctx, patronID, bookID); err == nil {
		return nil, ErrAlreadyBorrowed
	} else if !errors.Is(err, ErrNoActiveBorrow) {
		return nil, fmt.Errorf("failed to check active borrow: %w", err)
	}

	// Step 3: Take a copy off the shelf (with compensation)
	if _, err := s.catalog.AdjustAvailability(ctx, bookID, -1); err != nil {
		return nil, fmt.Errorf("failed to update book availability: %w", err)
	}

	compensation := func() {
		s.logger.WarnContext(ctx, "compensating failed borrow: restoring book availability", "book_id", bookID)
		if _, err := s.catalog.AdjustAvailability(context.WithoutCancel(ctx), bookID, 1); err != nil {
			s.logger.ErrorContext(ctx, "failed to compensate book availability", "book_id", bookID, "err", err)
		}
	}

	// Step 4: Create the borrow record
	borrowDate := s.now()
	record := &BorrowRecord{
		PatronID:   patronID,
		BookID:     bookID,
		BorrowDate: borrowDate,
		DueDate:    borrowDate.AddDate(0, 0, LoanDays),
		Version:    1,
	}
	if err := s.repo.Insert(ctx, record); err != nil {
		compensation()
		if errors.Is(err, ErrAlreadyBorrowed) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to insert borrow record: %w", err)
	}

	s.record(ctx, record.ID, "BookBorrowed", BookBorrowedEvent{
		RecordID:   record.ID,
		PatronID:   patronID,
		BookID:     bookID,
		BorrowDate: record.BorrowDate,
		DueDate:    record.DueDate,
	})

	span.SetAttributes(attribute.Int64("borrow.id", record.ID))
	return record, nil
}

// ReturnBook closes the patron's active borrow of the book and reports the late fee owed.
func (s *service) ReturnBook(ctx context.Context, patronID string, bookID int) (*ReturnReceipt, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.return_book",
		trace.WithAttributes(
			attribute.String("patron.id", patronID),
			attribute.Int("book.id", bookID),
		),
	)
	defer span.End()

	// Step 1: Find the active borrow
	if !patron.ValidID(patronID) {
		return nil, patron.ErrInvalidID
	}
	if _, err := s.catalog.GetBook(ctx, bookID); err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}

	record, err := s.repo.GetActive(ctx, patronID, bookID)
	if err != nil {
		if errors.Is(err, ErrNoActiveBorrow) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to find active borrow: %w", err)
	}

	// Step 2: Put the copy back on the shelf
	if _, err := s.catalog.AdjustAvailability(ctx, bookID, 1); err != nil {
		return nil, fmt.Errorf("failed to update book availability: %w", err)
	}

	// Step 3: Close the record
	returnedAt := s.now()
	if err := s.repo.MarkReturned(ctx, record.ID, record.Version, returnedAt); err != nil {
		s.logger.WarnContext(ctx, "failed to close borrow record, compensating book availability", "book_id", bookID)
		if _, err := s.catalog.AdjustAvailability(context.WithoutCancel(ctx), bookID, -1); err != nil {
			s.logger.ErrorContext(ctx, "failed to compensate book availability", "book_id", bookID, "err", err)
		}
		return nil, fmt.Errorf("failed to update borrow record: %w", err)
	}
	record.ReturnDate = &returnedAt
	record.Version++

	fee := fees.Calculate(record.DueDate, returnedAt)
	s.record(ctx, record.ID, "BookReturned", BookReturnedEvent{
		RecordID:    record.ID,
		PatronID:    patronID,
		BookID:      bookID,
		ReturnDate:  returnedAt,
		DaysOverdue: fee.DaysOverdue,
		LateFee:     fee.FeeAmount,
	})

	return &ReturnReceipt{
		Record:      *record,
		DaysOverdue: fee.DaysOverdue,
		LateFee:     fee.FeeAmount,
	}, nil
}

func (s *service) GetActiveBorrowRecord(ctx context.Context, patronID string, bookID int) (*BorrowRecord, error) {
	if !patron.ValidID(patronID) {
		return nil, patron.ErrInvalidID
	}
	return s.repo.GetActive(ctx, patronID, bookID)
}

// CalculateLateFee computes the fee owed today on the patron's active borrow of the book.
// Missing borrows and bad patron ids come back as an error status; the error return is
// reserved for storage faults.
func (s *service) CalculateLateFee(ctx context.Context, patronID string, bookID int) (fees.FeeResult, error) {
	if !patron.ValidID(patronID) {
		return fees.Failed(fees.ReasonInvalidPatronID), nil
	}

	record, err := s.repo.GetActive(ctx, patronID, bookID)
	if errors.Is(err, ErrNoActiveBorrow) {
		return fees.Failed(fees.ReasonNoActiveBorrow), nil
	}
	if err != nil {
		return fees.Failed(fees.ReasonLookupFailed), fmt.Errorf("failed to find active borrow: %w", err)
	}

	return fees.Calculate(record.DueDate, s.now()), nil
}

// PatronStatus lists what the patron holds, what they owe and their loan history.
func (s *service) PatronStatus(ctx context.Context, patronID string) (*PatronStatus, error) {
	ctx, span := s.tracer.Start(ctx, "circulation.patron_status",
		trace.WithAttributes(attribute.String("patron.id", patronID)))
	defer span.End()

	if !patron.ValidID(patronID) {
		return nil, patron.ErrInvalidID
	}

	records, err := s.repo.ListByPatron(ctx, patronID)
	if err != nil {
		return nil, fmt.Errorf("failed to list borrow records: %w", err)
	}

	now := s.now()
	status := &PatronStatus{
		PatronID:          patronID,
		CurrentlyBorrowed: []BorrowedBook{},
		TotalLateFeesOwed: decimal.Zero,
		History:           make([]BorrowRecord, 0, len(records)),
	}
	for _, record := range records {
		status.History = append(status.History, *record)
		if !record.Active() {
			continue
		}

		fee := fees.Calculate(record.DueDate, now)
		borrowed := BorrowedBook{
			BookID:     record.BookID,
			BorrowDate: record.BorrowDate,
			DueDate:    record.DueDate,
			IsOverdue:  fee.DaysOverdue > 0,
			LateFee:    fee.FeeAmount,
		}
		if book, err := s.catalog.GetBook(ctx, record.BookID); err == nil {
			borrowed.Title = book.Title
			borrowed.Author = book.Author
		} else {
			s.logger.WarnContext(ctx, "failed to look up borrowed book", "book_id", record.BookID, "err", err)
		}

		status.CurrentlyBorrowed = append(status.CurrentlyBorrowed, borrowed)
		status.TotalLateFeesOwed = status.TotalLateFeesOwed.Add(fee.FeeAmount)
	}
	status.NumberCurrentlyBorrowed = len(status.CurrentlyBorrowed)

	return status, nil
}

// record appends to the borrow's stream; failures are logged, the read model stays authoritative.
func (s *service) record(ctx context.Context, recordID int64, eventType string, data any) {
	if s.events == nil {
		return
	}

	event, err := eventstore.NewEvent(eventType, data)
	if err == nil {
		err = s.events.Append(ctx, "borrow-"+strconv.FormatInt(recordID, 10), streamType, event)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record circulation event",
			"event_type", eventType, "borrow_id", recordID, "err", err)
	}
}
