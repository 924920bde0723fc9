// Package payment defines the contract of the external payment gateway and ships an
// in-process simulator of it.
package payment

import (
	"context"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StatusCompleted = "completed"
	StatusNotFound  = "not_found"
)

// Limit is the largest single charge the gateway accepts.
var Limit = decimal.NewFromInt(1000)

var transactionIDPattern = regexp.MustCompile(`^txn_[A-Za-z0-9]+(_[A-Za-z0-9]+)*$`)

// Gateway is the request/response contract of the payment processor.
//
// A returned error is a fault: the request may not have reached the processor.
// A response with Success set to false is a decline and carries the processor's message.
type Gateway interface {
	ProcessPayment(ctx context.Context, patronID string, amount decimal.Decimal, description string) (Charge, error)
	RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal) (Refund, error)
	VerifyPaymentStatus(ctx context.Context, transactionID string) (Status, error)
}

// Charge is the outcome of ProcessPayment. TransactionID is empty unless Success is true.
type Charge struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message"`
}

// Refund is the outcome of RefundPayment.
type Refund struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Status describes a transaction as known to the gateway.
type Status struct {
	TransactionID string          `json:"transaction_id,omitempty"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// ValidTransactionID reports whether id has the shape of an id issued by the gateway:
// the "txn_" prefix followed by underscore separated alphanumeric segments.
func ValidTransactionID(id string) bool {
	return transactionIDPattern.MatchString(id)
}
