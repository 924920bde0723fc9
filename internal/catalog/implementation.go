// internal/catalog/implementation.go
package catalog

import (
	"context"
	"errors"
	"fmt"
	"librarydesk/internal/eventstore"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const streamType = "book"

// service implements the Service interface.
type service struct {
	repo   Repository
	events EventStore
	logger *slog.Logger
	tracer trace.Tracer
}

// NewService creates a new catalog service instance.
func NewService(repo Repository, events EventStore, logger *slog.Logger) Service {
	return &service{
		repo:   repo,
		events: events,
		logger: logger,
		tracer: otel.Tracer("librarydesk/catalog"),
	}
}

// AddBook validates and stores a new title with all of its copies available.
func (s *service) AddBook(ctx context.Context, title, author, isbn string, totalCopies int) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.add_book", trace.WithAttributes(attribute.String("book.isbn", isbn)))
	defer span.End()

	title = strings.TrimSpace(title)
	author = strings.TrimSpace(author)

	if err := validateBook(title, author, isbn, totalCopies); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetByISBN(ctx, isbn); err == nil {
		return nil, ErrDuplicateISBN
	} else if !errors.Is(err, ErrBookNotFound) {
		return nil, fmt.Errorf("failed to check isbn: %w", err)
	}

	book := &Book{
		Title:           title,
		Author:          author,
		ISBN:            isbn,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
		Version:         1,
	}
	if err := s.repo.Insert(ctx, book); err != nil {
		return nil, fmt.Errorf("failed to insert book: %w", err)
	}

	s.record(ctx, book.ID, "BookAdded", BookAddedEvent{
		ID:          book.ID,
		Title:       book.Title,
		Author:      book.Author,
		ISBN:        book.ISBN,
		TotalCopies: book.TotalCopies,
	})

	span.SetAttributes(attribute.Int("book.id", book.ID))
	return book, nil
}

func validateBook(title, author, isbn string, totalCopies int) error {
	switch {
	case title == "":
		return &ValidationError{Field: "title", Message: "Title is required."}
	case utf8.RuneCountInString(title) > MaxTitleLength:
		return &ValidationError{Field: "title", Message: "Title must be less than 200 characters."}
	case author == "":
		return &ValidationError{Field: "author", Message: "Author is required."}
	case utf8.RuneCountInString(author) > MaxAuthorLength:
		return &ValidationError{Field: "author", Message: "Author must be less than 100 characters."}
	case !ValidISBN(isbn):
		return &ValidationError{Field: "isbn", Message: "ISBN must be exactly 13 digits."}
	case totalCopies <= 0:
		return &ValidationError{Field: "total_copies", Message: "Total copies must be a positive integer."}
	}
	return nil
}

// ValidISBN reports whether isbn is exactly 13 ASCII digits.
func ValidISBN(isbn string) bool {
	if len(isbn) != ISBNLength {
		return false
	}
	for i := 0; i < len(isbn); i++ {
		if isbn[i] < '0' || isbn[i] > '9' {
			return false
		}
	}
	return true
}

// GetBook retrieves a book by its ID.
func (s *service) GetBook(ctx context.Context, id int) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.get_book", trace.WithAttributes(attribute.Int("book.id", id)))
	defer span.End()

	return s.repo.GetByID(ctx, id)
}

func (s *service) GetBookByISBN(ctx context.Context, isbn string) (*Book, error) {
	return s.repo.GetByISBN(ctx, isbn)
}

func (s *service) ListBooks(ctx context.Context) ([]*Book, error) {
	return s.repo.List(ctx)
}

// AdjustAvailability lends out (negative delta) or takes back copies.
func (s *service) AdjustAvailability(ctx context.Context, id, delta int) (*Book, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.adjust_availability",
		trace.WithAttributes(
			attribute.Int("book.id", id),
			attribute.Int("delta", delta),
		),
	)
	defer span.End()

	book, err := s.repo.AdjustAvailability(ctx, id, delta)
	if err != nil {
		return nil, err
	}

	s.record(ctx, id, "BookAvailabilityChanged", BookAvailabilityChangedEvent{
		ID:           id,
		Delta:        delta,
		NewAvailable: book.AvailableCopies,
	})

	return book, nil
}

// Search matches titles and authors partially and case-insensitively, ISBNs exactly.
// An empty term or an unknown search type matches nothing.
func (s *service) Search(ctx context.Context, term, searchType string) ([]*Book, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []*Book{}, nil
	}

	switch searchType {
	case SearchTitle, SearchAuthor:
	case SearchISBN:
		if !ValidISBN(term) {
			return []*Book{}, nil
		}
	default:
		return []*Book{}, nil
	}

	books, err := s.repo.Search(ctx, term, searchType)
	if err != nil {
		return nil, fmt.Errorf("catalog search failed: %w", err)
	}
	if books == nil {
		books = []*Book{}
	}
	return books, nil
}

// record appends an event to the book's stream. The read model is authoritative, so a
// failed append is logged rather than undoing the change.
func (s *service) record(ctx context.Context, id int, eventType string, data any) {
	if s.events == nil {
		return
	}

	event, err := eventstore.NewEvent(eventType, data)
	if err == nil {
		err = s.events.Append(ctx, streamID(id), streamType, event)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "failed to record catalog event",
			"event_type", eventType, "book_id", id, "err", err)
	}
}

func streamID(id int) string {
	return "book-" + strconv.Itoa(id)
}
