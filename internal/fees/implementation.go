// internal/fees/implementation.go
package fees

import (
	"context"
	"fmt"
	"librarydesk/internal/patron"
	"librarydesk/internal/payment"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	msgInvalidPatronID     = "Invalid patron ID. Must be exactly 6 digits."
	msgUnableToCalculate   = "Unable to calculate late fees."
	msgNoLateFees          = "No late fees to pay for this book."
	msgBookNotFound        = "Book not found."
	msgInvalidTransaction  = "Invalid transaction ID."
	msgRefundNotPositive   = "Refund amount must be greater than 0."
	msgRefundExceedsMaxFee = "Refund amount exceeds maximum late fee of $15.00."
)

const (
	eventLateFeePaid     = "LateFeePaid"
	eventLateFeeRefunded = "LateFeeRefunded"
)

// service implements the Service interface.
type service struct {
	fees    FeeSource
	books   BookLookup
	gateway payment.Gateway
	events  EventStore
	logger  *slog.Logger
	tracer  trace.Tracer
	now     func() time.Time

	payments metric.Int64Counter
	refunds  metric.Int64Counter
}

// NewService creates the late-fee service. gateway is used by calls that pass a nil
// gateway; events may be nil, in which case nothing is recorded.
func NewService(fees FeeSource, books BookLookup, gateway payment.Gateway, events EventStore, logger *slog.Logger) Service {
	meter := otel.Meter("librarydesk/fees")

	payments, err := meter.Int64Counter("fees.payments",
		metric.WithDescription("Late fee payment attempts by outcome"))
	if err != nil {
		payments = noop.Int64Counter{}
	}
	refunds, err := meter.Int64Counter("fees.refunds",
		metric.WithDescription("Late fee refund attempts by outcome"))
	if err != nil {
		refunds = noop.Int64Counter{}
	}

	return &service{
		fees:     fees,
		books:    books,
		gateway:  gateway,
		events:   events,
		logger:   logger,
		tracer:   otel.Tracer("librarydesk/fees"),
		now:      time.Now,
		payments: payments,
		refunds:  refunds,
	}
}

// PayLateFees charges the fee owed on the patron's active borrow of bookID.
// The gateway is called at most once and any fault it raises becomes a failed result.
func (s *service) PayLateFees(ctx context.Context, patronID string, bookID int, gateway payment.Gateway) PaymentResult {
	ctx, span := s.tracer.Start(ctx, "fees.pay_late_fees",
		trace.WithAttributes(
			attribute.String("patron.id", patronID),
			attribute.Int("book.id", bookID),
		),
	)
	defer span.End()

	if !patron.ValidID(patronID) {
		s.countPayment(ctx, "rejected")
		return paymentFailed(msgInvalidPatronID)
	}

	fee, err := s.fees.CalculateLateFee(ctx, patronID, bookID)
	if err != nil || !fee.OK() {
		if err != nil {
			s.logger.WarnContext(ctx, "late fee lookup failed", "patron_id", patronID, "book_id", bookID, "err", err)
		}
		s.countPayment(ctx, "rejected")
		return paymentFailed(msgUnableToCalculate)
	}
	if !fee.FeeAmount.IsPositive() {
		s.countPayment(ctx, "rejected")
		return paymentFailed(msgNoLateFees)
	}

	book, err := s.books.GetBook(ctx, bookID)
	if err != nil || book == nil {
		if err != nil {
			s.logger.WarnContext(ctx, "book lookup failed", "book_id", bookID, "err", err)
		}
		s.countPayment(ctx, "rejected")
		return paymentFailed(msgBookNotFound)
	}

	span.SetAttributes(attribute.String("fee.amount", fee.FeeAmount.StringFixed(2)))

	description := fmt.Sprintf("Late fees for '%s'", book.Title)
	charge, err := guard(func() (payment.Charge, error) {
		return s.gatewayFor(gateway).ProcessPayment(ctx, patronID, fee.FeeAmount, description)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment gateway fault")
		s.logger.ErrorContext(ctx, "payment gateway fault", "patron_id", patronID, "book_id", bookID, "err", err)
		s.countPayment(ctx, "error")
		return paymentFailed("Payment processing error: " + err.Error())
	}
	if !charge.Success {
		s.countPayment(ctx, "declined")
		return paymentFailed("Payment failed: " + charge.Message)
	}

	s.countPayment(ctx, "success")
	s.record(ctx, patronStream(patronID), patronStreamType, eventLateFeePaid, LateFeePaidEvent{
		PatronID:      patronID,
		BookID:        bookID,
		BookTitle:     book.Title,
		Amount:        fee.FeeAmount,
		DaysOverdue:   fee.DaysOverdue,
		TransactionID: charge.TransactionID,
		PaidAt:        s.now().UTC(),
	})

	return PaymentResult{
		Success:       true,
		Message:       "Payment successful! " + charge.Message,
		TransactionID: charge.TransactionID,
	}
}

// RefundLateFeePayment refunds part or all of a late-fee payment, up to MaxFee.
func (s *service) RefundLateFeePayment(ctx context.Context, transactionID string, amount decimal.Decimal, gateway payment.Gateway) RefundResult {
	ctx, span := s.tracer.Start(ctx, "fees.refund_late_fee_payment",
		trace.WithAttributes(
			attribute.String("transaction.id", transactionID),
			attribute.String("refund.amount", amount.String()),
		),
	)
	defer span.End()

	switch {
	case !payment.ValidTransactionID(transactionID):
		s.countRefund(ctx, "rejected")
		return refundFailed(msgInvalidTransaction)
	case !amount.IsPositive():
		s.countRefund(ctx, "rejected")
		return refundFailed(msgRefundNotPositive)
	case amount.GreaterThan(MaxFee):
		s.countRefund(ctx, "rejected")
		return refundFailed(msgRefundExceedsMaxFee)
	}

	refund, err := guard(func() (payment.Refund, error) {
		return s.gatewayFor(gateway).RefundPayment(ctx, transactionID, amount)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment gateway fault")
		s.logger.ErrorContext(ctx, "refund gateway fault", "transaction_id", transactionID, "err", err)
		s.countRefund(ctx, "error")
		return refundFailed("Refund processing error: " + err.Error())
	}
	if !refund.Success {
		s.countRefund(ctx, "declined")
		return refundFailed("Refund failed: " + refund.Message)
	}

	s.countRefund(ctx, "success")
	s.record(ctx, transactionStream(transactionID), transactionStreamType, eventLateFeeRefunded, LateFeeRefundedEvent{
		TransactionID: transactionID,
		Amount:        amount,
		Message:       refund.Message,
		RefundedAt:    s.now().UTC(),
	})

	return RefundResult{Success: true, Message: refund.Message}
}

// LateFee reports the fee currently owed without charging it.
func (s *service) LateFee(ctx context.Context, patronID string, bookID int) FeeResult {
	if !patron.ValidID(patronID) {
		return Failed(ReasonInvalidPatronID)
	}

	fee, err := s.fees.CalculateLateFee(ctx, patronID, bookID)
	if err != nil {
		s.logger.WarnContext(ctx, "late fee lookup failed", "patron_id", patronID, "book_id", bookID, "err", err)
		return Failed(ReasonLookupFailed)
	}
	return fee
}

// PaymentHistory replays the late fees a patron has paid, oldest first.
func (s *service) PaymentHistory(ctx context.Context, patronID string) ([]LateFeePaidEvent, error) {
	if !patron.ValidID(patronID) {
		return nil, patron.ErrInvalidID
	}

	paid := []LateFeePaidEvent{}
	if s.events == nil {
		return paid, nil
	}

	events, err := s.events.LoadEvents(ctx, patronStream(patronID), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment history: %w", err)
	}

	for _, event := range events {
		if event.EventType != eventLateFeePaid {
			continue
		}
		var p LateFeePaidEvent
		if err := event.Decode(&p); err != nil {
			return nil, err
		}
		paid = append(paid, p)
	}
	return paid, nil
}

// VerifyPayment asks the gateway for the status of a transaction.
func (s *service) VerifyPayment(ctx context.Context, transactionID string, gateway payment.Gateway) (payment.Status, error) {
	ctx, span := s.tracer.Start(ctx, "fees.verify_payment",
		trace.WithAttributes(attribute.String("transaction.id", transactionID)))
	defer span.End()

	status, err := guard(func() (payment.Status, error) {
		return s.gatewayFor(gateway).VerifyPaymentStatus(ctx, transactionID)
	})
	if err != nil {
		span.RecordError(err)
		return payment.Status{}, fmt.Errorf("failed to verify payment: %w", err)
	}
	return status, nil
}

func (s *service) gatewayFor(gateway payment.Gateway) payment.Gateway {
	if gateway != nil {
		return gateway
	}
	if s.gateway == nil {
		panic("payment gateway not configured")
	}
	return s.gateway
}

// guard runs a gateway call, turning a panic into an error.
func guard[T any](call func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result, err = zero, fmt.Errorf("%v", r)
		}
	}()
	return call()
}

func (s *service) countPayment(ctx context.Context, outcome string) {
	s.payments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (s *service) countRefund(ctx context.Context, outcome string) {
	s.refunds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
