// Package fees computes overdue fines and collects or refunds them through a payment gateway.
package fees

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusOK marks a fee that was computed from an active borrow.
const StatusOK = "ok"

const (
	ReasonInvalidPatronID = "invalid patron ID"
	ReasonNoActiveBorrow  = "active borrow not found"
	ReasonLookupFailed    = "borrow lookup failed"
)

var (
	// DailyRate accrues for every whole calendar day past the due date.
	DailyRate = decimal.RequireFromString("0.50")
	// MaxFee caps the fine on a single book.
	MaxFee = decimal.RequireFromString("15.00")
)

// FeeResult is a late fee computed for one borrow. It is never persisted.
type FeeResult struct {
	Status      string          `json:"status"`
	DaysOverdue int             `json:"days_overdue"`
	FeeAmount   decimal.Decimal `json:"fee_amount"`
}

// OK reports whether the fee was computed. An error status always carries a zero fee.
func (r FeeResult) OK() bool {
	return r.Status == StatusOK
}

// Failed builds the result reported when no fee could be computed.
func Failed(reason string) FeeResult {
	return FeeResult{Status: "error: " + reason, FeeAmount: decimal.Zero}
}

// PaymentResult is the outcome of PayLateFees. TransactionID is set only on success.
type PaymentResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func paymentFailed(msg string) PaymentResult {
	return PaymentResult{Message: msg}
}

// RefundResult is the outcome of RefundLateFeePayment.
type RefundResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func refundFailed(msg string) RefundResult {
	return RefundResult{Message: msg}
}

// LateFeePaidEvent is recorded on the patron's stream after the gateway accepts a charge.
type LateFeePaidEvent struct {
	PatronID      string          `json:"patron_id"`
	BookID        int             `json:"book_id"`
	BookTitle     string          `json:"book_title"`
	Amount        decimal.Decimal `json:"amount"`
	DaysOverdue   int             `json:"days_overdue"`
	TransactionID string          `json:"transaction_id"`
	PaidAt        time.Time       `json:"paid_at"`
}

// LateFeeRefundedEvent is recorded on the transaction's stream after a refund succeeds.
type LateFeeRefundedEvent struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Message       string          `json:"message"`
	RefundedAt    time.Time       `json:"refunded_at"`
}
