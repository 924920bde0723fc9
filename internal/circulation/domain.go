// internal/circulation/domain.go
package circulation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxActiveBorrows is how many books a patron may hold at once.
	MaxActiveBorrows = 5
	// LoanDays is the loan period counted from the borrow date.
	LoanDays = 14
)

var (
	ErrBookNotAvailable   = errors.New("This book is currently not available.")
	ErrBorrowLimitReached = errors.New("You have reached the maximum borrowing limit of 5 books.")
	ErrAlreadyBorrowed    = errors.New("You have already borrowed this book.")
	ErrNoActiveBorrow     = errors.New("No active borrow record found for this book.")
	ErrConcurrentReturn   = errors.New("borrow record was changed concurrently")
)

// BorrowRecord is one loan of a book to a patron. ReturnDate is nil while the book is out.
type BorrowRecord struct {
	ID         int64      `json:"id" db:"id"`
	PatronID   string     `json:"patron_id" db:"patron_id"`
	BookID     int        `json:"book_id" db:"book_id"`
	BorrowDate time.Time  `json:"borrow_date" db:"borrow_date"`
	DueDate    time.Time  `json:"due_date" db:"due_date"`
	ReturnDate *time.Time `json:"return_date,omitempty" db:"return_date"`
	Version    int        `json:"version" db:"version"`
}

// Active reports whether the book has not been returned yet.
func (r *BorrowRecord) Active() bool {
	return r.ReturnDate == nil
}

// ReturnReceipt is the outcome of a return, with the fee assessed at that moment.
type ReturnReceipt struct {
	Record      BorrowRecord    `json:"record"`
	DaysOverdue int             `json:"days_overdue"`
	LateFee     decimal.Decimal `json:"late_fee"`
}

// BorrowedBook is a book a patron currently holds.
type BorrowedBook struct {
	BookID     int             `json:"book_id"`
	Title      string          `json:"title"`
	Author     string          `json:"author"`
	BorrowDate time.Time       `json:"borrow_date"`
	DueDate    time.Time       `json:"due_date"`
	IsOverdue  bool            `json:"is_overdue"`
	LateFee    decimal.Decimal `json:"late_fee"`
}

// PatronStatus summarises a patron's loans.
type PatronStatus struct {
	PatronID                string          `json:"patron_id"`
	CurrentlyBorrowed       []BorrowedBook  `json:"currently_borrowed"`
	NumberCurrentlyBorrowed int             `json:"number_currently_borrowed"`
	TotalLateFeesOwed       decimal.Decimal `json:"total_late_fees_owed"`
	History                 []BorrowRecord  `json:"history"`
}

// BookBorrowedEvent is published when a patron borrows a book.
type BookBorrowedEvent struct {
	RecordID   int64     `json:"record_id"`
	PatronID   string    `json:"patron_id"`
	BookID     int       `json:"book_id"`
	BorrowDate time.Time `json:"borrow_date"`
	DueDate    time.Time `json:"due_date"`
}

// BookReturnedEvent is published when a book comes back.
type BookReturnedEvent struct {
	RecordID    int64           `json:"record_id"`
	PatronID    string          `json:"patron_id"`
	BookID      int             `json:"book_id"`
	ReturnDate  time.Time       `json:"return_date"`
	DaysOverdue int             `json:"days_overdue"`
	LateFee     decimal.Decimal `json:"late_fee"`
}
