// internal/catalog/domain.go
package catalog

import (
	"errors"
	"time"
)

const (
	MaxTitleLength  = 200
	MaxAuthorLength = 100
	ISBNLength      = 13
)

// Search types accepted by Service.Search.
const (
	SearchTitle  = "title"
	SearchAuthor = "author"
	SearchISBN   = "isbn"
)

var (
	ErrBookNotFound           = errors.New("book not found")
	ErrDuplicateISBN          = errors.New("a book with this ISBN already exists")
	ErrAvailabilityOutOfRange = errors.New("available copies must stay between 0 and total copies")
)

// ValidationError rejects a book before anything is stored.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Book is a catalog title with its copy counts. 0 <= AvailableCopies <= TotalCopies.
type Book struct {
	ID              int       `json:"id" db:"id"`
	Title           string    `json:"title" db:"title"`
	Author          string    `json:"author" db:"author"`
	ISBN            string    `json:"isbn" db:"isbn"`
	TotalCopies     int       `json:"total_copies" db:"total_copies"`
	AvailableCopies int       `json:"available_copies" db:"available_copies"`
	Version         int       `json:"version" db:"version"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" db:"updated_at"`
}

// BookAddedEvent is published when a new title enters the catalog.
type BookAddedEvent struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	ISBN        string `json:"isbn"`
	TotalCopies int    `json:"total_copies"`
}

// BookAvailabilityChangedEvent is published when copies are lent out or come back.
type BookAvailabilityChangedEvent struct {
	ID           int `json:"id"`
	Delta        int `json:"delta"`
	NewAvailable int `json:"new_available"`
}
