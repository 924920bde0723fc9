package fees

import (
	"context"
	"errors"
	"io"
	"librarydesk/internal/catalog"
	"librarydesk/internal/eventstore"
	"librarydesk/internal/payment"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) ProcessPayment(ctx context.Context, patronID string, amount decimal.Decimal, description string) (payment.Charge, error) {
	args := m.Called(ctx, patronID, amount, description)
	return args.Get(0).(payment.Charge), args.Error(1)
}

func (m *mockGateway) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal) (payment.Refund, error) {
	args := m.Called(ctx, transactionID, amount)
	return args.Get(0).(payment.Refund), args.Error(1)
}

func (m *mockGateway) VerifyPaymentStatus(ctx context.Context, transactionID string) (payment.Status, error) {
	args := m.Called(ctx, transactionID)
	return args.Get(0).(payment.Status), args.Error(1)
}

type mockFeeSource struct {
	mock.Mock
}

func (m *mockFeeSource) CalculateLateFee(ctx context.Context, patronID string, bookID int) (FeeResult, error) {
	args := m.Called(ctx, patronID, bookID)
	return args.Get(0).(FeeResult), args.Error(1)
}

type mockBookLookup struct {
	mock.Mock
}

func (m *mockBookLookup) GetBook(ctx context.Context, id int) (*catalog.Book, error) {
	args := m.Called(ctx, id)
	book, _ := args.Get(0).(*catalog.Book)
	return book, args.Error(1)
}

type memoryEvents struct {
	mu        sync.Mutex
	streams   map[string][]eventstore.Event
	appendErr error
}

func newMemoryEvents() *memoryEvents {
	return &memoryEvents{streams: make(map[string][]eventstore.Event)}
}

func (m *memoryEvents) Append(_ context.Context, streamID, streamType string, events ...eventstore.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return m.appendErr
	}
	for _, e := range events {
		e.StreamID = streamID
		e.StreamType = streamType
		e.Version = len(m.streams[streamID]) + 1
		m.streams[streamID] = append(m.streams[streamID], e)
	}
	return nil
}

func (m *memoryEvents) LoadEvents(_ context.Context, streamID string, fromVersion, toVersion int) ([]eventstore.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var events []eventstore.Event
	for _, e := range m.streams[streamID] {
		if e.Version >= fromVersion && (toVersion <= 0 || e.Version <= toVersion) {
			events = append(events, e)
		}
	}
	return events, nil
}

type fixture struct {
	fees    *mockFeeSource
	books   *mockBookLookup
	gateway *mockGateway
	events  *memoryEvents
	service Service
}

var paidAt = time.Date(2025, 6, 20, 10, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		fees:    new(mockFeeSource),
		books:   new(mockBookLookup),
		gateway: new(mockGateway),
		events:  newMemoryEvents(),
	}
	svc := NewService(f.fees, f.books, nil, f.events, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.(*service).now = func() time.Time { return paidAt }
	f.service = svc
	return f
}

func amountOf(s string) any {
	want := decimal.RequireFromString(s)
	return mock.MatchedBy(func(d decimal.Decimal) bool { return d.Equal(want) })
}

func owed(days int, fee string) FeeResult {
	return FeeResult{Status: StatusOK, DaysOverdue: days, FeeAmount: decimal.RequireFromString(fee)}
}

func (f *fixture) owes(patronID string, bookID int, result FeeResult) {
	f.fees.On("CalculateLateFee", mock.Anything, patronID, bookID).Return(result, nil)
}

func (f *fixture) hasBook(id int, title string) {
	f.books.On("GetBook", mock.Anything, id).Return(&catalog.Book{ID: id, Title: title}, nil)
}

func TestPayLateFeesSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.owes("123456", 1, owed(11, "5.50"))
	f.hasBook(1, "Test Book")
	f.gateway.On("ProcessPayment", mock.Anything, "123456", amountOf("5.50"), "Late fees for 'Test Book'").
		Return(payment.Charge{Success: true, TransactionID: "txn_123456_1700000000", Message: "Payment of $5.50 processed successfully"}, nil).
		Once()

	result := f.service.PayLateFees(ctx, "123456", 1, f.gateway)

	assert.True(t, result.Success)
	assert.Equal(t, "txn_123456_1700000000", result.TransactionID)
	assert.Equal(t, "Payment successful! Payment of $5.50 processed successfully", result.Message)
	f.gateway.AssertExpectations(t)

	history, err := f.service.PaymentHistory(ctx, "123456")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "txn_123456_1700000000", history[0].TransactionID)
	assert.Equal(t, "Test Book", history[0].BookTitle)
	assert.Equal(t, 11, history[0].DaysOverdue)
	assert.Equal(t, "5.50", history[0].Amount.StringFixed(2))
	assert.True(t, history[0].PaidAt.Equal(paidAt))
}

func TestPayLateFeesDeclined(t *testing.T) {
	f := newFixture(t)
	f.owes("123456", 1, owed(20, "10.00"))
	f.hasBook(1, "Test Book")
	f.gateway.On("ProcessPayment", mock.Anything, "123456", amountOf("10.00"), mock.Anything).
		Return(payment.Charge{Success: false, Message: "Insufficient funds"}, nil).
		Once()

	result := f.service.PayLateFees(context.Background(), "123456", 1, f.gateway)

	assert.False(t, result.Success)
	assert.Equal(t, "Payment failed: Insufficient funds", result.Message)
	assert.Empty(t, result.TransactionID)
	assert.Empty(t, f.events.streams)
}

func TestPayLateFeesGatewayError(t *testing.T) {
	f := newFixture(t)
	f.owes("123456", 1, owed(11, "5.50"))
	f.hasBook(1, "Test Book")
	f.gateway.On("ProcessPayment", mock.Anything, "123456", amountOf("5.50"), mock.Anything).
		Return(payment.Charge{}, errors.New("Network timeout"))

	result := f.service.PayLateFees(context.Background(), "123456", 1, f.gateway)

	assert.False(t, result.Success)
	assert.Equal(t, "Payment processing error: Network timeout", result.Message)
	assert.Empty(t, result.TransactionID)
	f.gateway.AssertNumberOfCalls(t, "ProcessPayment", 1)
}

func TestPayLateFeesGatewayPanic(t *testing.T) {
	f := newFixture(t)
	f.owes("123456", 1, owed(11, "5.50"))
	f.hasBook(1, "Test Book")
	f.gateway.On("ProcessPayment", mock.Anything, "123456", mock.Anything, mock.Anything).
		Panic("connection reset by peer")

	var result PaymentResult
	require.NotPanics(t, func() {
		result = f.service.PayLateFees(context.Background(), "123456", 1, f.gateway)
	})

	assert.False(t, result.Success)
	assert.Equal(t, "Payment processing error: connection reset by peer", result.Message)
	f.gateway.AssertNumberOfCalls(t, "ProcessPayment", 1)
}

func TestPayLateFeesUsesDefaultGateway(t *testing.T) {
	fees := new(mockFeeSource)
	books := new(mockBookLookup)
	gateway := new(mockGateway)
	svc := NewService(fees, books, gateway, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	fees.On("CalculateLateFee", mock.Anything, "123456", 2).Return(owed(2, "1.00"), nil)
	books.On("GetBook", mock.Anything, 2).Return(&catalog.Book{ID: 2, Title: "Dune"}, nil)
	gateway.On("ProcessPayment", mock.Anything, "123456", amountOf("1.00"), "Late fees for 'Dune'").
		Return(payment.Charge{Success: true, TransactionID: "txn_123456_1", Message: "ok"}, nil).
		Once()

	result := svc.PayLateFees(context.Background(), "123456", 2, nil)
	assert.True(t, result.Success)
	gateway.AssertExpectations(t)
}

func TestPayLateFeesWithoutGateway(t *testing.T) {
	f := newFixture(t)
	f.owes("123456", 1, owed(11, "5.50"))
	f.hasBook(1, "Test Book")

	result := f.service.PayLateFees(context.Background(), "123456", 1, nil)

	assert.False(t, result.Success)
	assert.Equal(t, "Payment processing error: payment gateway not configured", result.Message)
}

func TestPayLateFeesRejectedBeforeGateway(t *testing.T) {
	testCases := []struct {
		name    string
		setup   func(f *fixture)
		message string
	}{
		{
			name: "zero fee",
			setup: func(f *fixture) {
				f.owes("123456", 1, owed(0, "0.00"))
				f.hasBook(1, "Test Book")
			},
			message: "No late fees to pay for this book.",
		},
		{
			name: "book not found",
			setup: func(f *fixture) {
				f.owes("123456", 1, owed(11, "5.50"))
				f.books.On("GetBook", mock.Anything, 1).Return(nil, catalog.ErrBookNotFound)
			},
			message: "Book not found.",
		},
		{
			name: "book lookup returns nothing",
			setup: func(f *fixture) {
				f.owes("123456", 1, owed(11, "5.50"))
				f.books.On("GetBook", mock.Anything, 1).Return(nil, nil)
			},
			message: "Book not found.",
		},
		{
			name: "no active borrow",
			setup: func(f *fixture) {
				f.owes("123456", 1, Failed(ReasonNoActiveBorrow))
			},
			message: "Unable to calculate late fees.",
		},
		{
			name: "fee source fault",
			setup: func(f *fixture) {
				f.fees.On("CalculateLateFee", mock.Anything, "123456", 1).Return(FeeResult{}, errors.New("connection refused"))
			},
			message: "Unable to calculate late fees.",
		},
		{
			name: "empty status",
			setup: func(f *fixture) {
				f.owes("123456", 1, FeeResult{FeeAmount: decimal.NewFromInt(3)})
			},
			message: "Unable to calculate late fees.",
		},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)

			result := f.service.PayLateFees(context.Background(), "123456", 1, f.gateway)

			assert.False(t, result.Success)
			assert.Equal(t, tt.message, result.Message)
			assert.Empty(t, result.TransactionID)
			f.gateway.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPayLateFeesInvalidPatronID(t *testing.T) {
	for _, id := range []string{"12345", "1234567", "abc123", "", "12345a"} {
		t.Run(id, func(t *testing.T) {
			f := newFixture(t)

			result := f.service.PayLateFees(context.Background(), id, 1, f.gateway)

			assert.False(t, result.Success)
			assert.Equal(t, "Invalid patron ID. Must be exactly 6 digits.", result.Message)
			assert.Empty(t, result.TransactionID)
			f.fees.AssertNotCalled(t, "CalculateLateFee", mock.Anything, mock.Anything, mock.Anything)
			f.gateway.AssertNotCalled(t, "ProcessPayment", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestPayLateFeesEventFailureKeepsResult(t *testing.T) {
	f := newFixture(t)
	f.events.appendErr = eventstore.ErrConcurrencyConflict
	f.owes("123456", 1, owed(11, "5.50"))
	f.hasBook(1, "Test Book")
	f.gateway.On("ProcessPayment", mock.Anything, "123456", amountOf("5.50"), mock.Anything).
		Return(payment.Charge{Success: true, TransactionID: "txn_123456_1", Message: "done"}, nil)

	result := f.service.PayLateFees(context.Background(), "123456", 1, f.gateway)

	assert.True(t, result.Success)
	assert.Equal(t, "txn_123456_1", result.TransactionID)
}

func TestRefundLateFeePaymentSuccess(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("RefundPayment", mock.Anything, "txn_123456_1700000000", amountOf("5.00")).
		Return(payment.Refund{Success: true, Message: "Refund of $5.00 processed successfully"}, nil).
		Once()

	result := f.service.RefundLateFeePayment(context.Background(), "txn_123456_1700000000", decimal.RequireFromString("5.00"), f.gateway)

	assert.True(t, result.Success)
	assert.Equal(t, "Refund of $5.00 processed successfully", result.Message)
	f.gateway.AssertExpectations(t)

	recorded := f.events.streams["payment-txn_123456_1700000000"]
	require.Len(t, recorded, 1)
	assert.Equal(t, "LateFeeRefunded", recorded[0].EventType)
}

func TestRefundLateFeePaymentMaximum(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("RefundPayment", mock.Anything, "txn_max15", amountOf("15.00")).
		Return(payment.Refund{Success: true, Message: "Refunded"}, nil).
		Once()

	result := f.service.RefundLateFeePayment(context.Background(), "txn_max15", decimal.RequireFromString("15.00"), f.gateway)

	assert.True(t, result.Success)
	f.gateway.AssertExpectations(t)
}

func TestRefundLateFeePaymentRejected(t *testing.T) {
	testCases := []struct {
		name          string
		transactionID string
		amount        string
		message       string
	}{
		{"empty transaction", "", "5.00", "Invalid transaction ID."},
		{"no prefix", "abc123", "5.00", "Invalid transaction ID."},
		{"wrong prefix", "transaction_123", "5.00", "Invalid transaction ID."},
		{"digits only", "12345", "5.00", "Invalid transaction ID."},
		{"bare prefix", "txn_", "5.00", "Invalid transaction ID."},
		{"zero", "txn_123456_1", "0", "Refund amount must be greater than 0."},
		{"negative", "txn_123456_1", "-5.00", "Refund amount must be greater than 0."},
		{"just over cap", "txn_123456_1", "15.01", "Refund amount exceeds maximum late fee of $15.00."},
		{"twenty", "txn_123456_1", "20.00", "Refund amount exceeds maximum late fee of $15.00."},
		{"hundred", "txn_123456_1", "100", "Refund amount exceeds maximum late fee of $15.00."},
	}

	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			result := f.service.RefundLateFeePayment(context.Background(), tt.transactionID, decimal.RequireFromString(tt.amount), f.gateway)

			assert.False(t, result.Success)
			assert.Equal(t, tt.message, result.Message)
			f.gateway.AssertNotCalled(t, "RefundPayment", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestRefundLateFeePaymentGatewayFailures(t *testing.T) {
	t.Run("declined", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.On("RefundPayment", mock.Anything, "txn_123456_1", mock.Anything).
			Return(payment.Refund{Success: false, Message: "Transaction already refunded"}, nil)

		result := f.service.RefundLateFeePayment(context.Background(), "txn_123456_1", decimal.NewFromInt(5), f.gateway)

		assert.False(t, result.Success)
		assert.Equal(t, "Refund failed: Transaction already refunded", result.Message)
		assert.Empty(t, f.events.streams)
	})

	t.Run("error", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.On("RefundPayment", mock.Anything, "txn_123456_1", mock.Anything).
			Return(payment.Refund{}, errors.New("Gateway unavailable"))

		result := f.service.RefundLateFeePayment(context.Background(), "txn_123456_1", decimal.NewFromInt(5), f.gateway)

		assert.False(t, result.Success)
		assert.Equal(t, "Refund processing error: Gateway unavailable", result.Message)
		f.gateway.AssertNumberOfCalls(t, "RefundPayment", 1)
	})

	t.Run("panic", func(t *testing.T) {
		f := newFixture(t)
		f.gateway.On("RefundPayment", mock.Anything, "txn_123456_1", mock.Anything).
			Panic("socket closed")

		result := f.service.RefundLateFeePayment(context.Background(), "txn_123456_1", decimal.NewFromInt(5), f.gateway)

		assert.False(t, result.Success)
		assert.Equal(t, "Refund processing error: socket closed", result.Message)
	})
}

func TestLateFee(t *testing.T) {
	f := newFixture(t)
	f.owes("123456", 1, owed(3, "1.50"))
	f.fees.On("CalculateLateFee", mock.Anything, "123456", 2).Return(FeeResult{}, errors.New("db down"))

	assert.Equal(t, "1.50", f.service.LateFee(context.Background(), "123456", 1).FeeAmount.StringFixed(2))
	assert.Equal(t, Failed(ReasonLookupFailed).Status, f.service.LateFee(context.Background(), "123456", 2).Status)

	invalid := f.service.LateFee(context.Background(), "12a456", 1)
	assert.False(t, invalid.OK())
	assert.Contains(t, invalid.Status, "error")
	f.fees.AssertNotCalled(t, "CalculateLateFee", mock.Anything, "12a456", mock.Anything)
}

func TestPaymentHistory(t *testing.T) {
	f := newFixture(t)

	history, err := f.service.PaymentHistory(context.Background(), "654321")
	require.NoError(t, err)
	assert.Empty(t, history)

	_, err = f.service.PaymentHistory(context.Background(), "65432")
	assert.Error(t, err)
}

func TestVerifyPayment(t *testing.T) {
	f := newFixture(t)
	f.gateway.On("VerifyPaymentStatus", mock.Anything, "txn_123456_1").
		Return(payment.Status{TransactionID: "txn_123456_1", Status: payment.StatusCompleted}, nil)
	f.gateway.On("VerifyPaymentStatus", mock.Anything, "txn_broken").
		Return(payment.Status{}, errors.New("timeout"))

	status, err := f.service.VerifyPayment(context.Background(), "txn_123456_1", f.gateway)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, status.Status)

	_, err = f.service.VerifyPayment(context.Background(), "txn_broken", f.gateway)
	assert.ErrorContains(t, err, "timeout")
}
