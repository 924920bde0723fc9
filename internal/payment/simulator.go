package payment

import (
	"context"
	"fmt"
	"librarydesk/internal/patron"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const (
	DefaultAPIKey  = "test_key_12345"
	DefaultBaseURL = "https://api.payment-gateway.example.com"
)

type charge struct {
	patronID string
	amount   decimal.Decimal
	at       time.Time
}

// Simulator is an in-memory Gateway. It accepts every well formed request and keeps
// the charges it issued so VerifyPaymentStatus can report them.
type Simulator struct {
	apiKey  string
	baseURL string
	latency time.Duration
	now     func() time.Time

	mu      sync.Mutex
	charges map[string]charge
}

type Option func(*Simulator)

func WithAPIKey(key string) Option {
	return func(s *Simulator) { s.apiKey = key }
}

func WithBaseURL(url string) Option {
	return func(s *Simulator) { s.baseURL = url }
}

// WithLatency delays every call to imitate a network round trip.
func WithLatency(d time.Duration) Option {
	return func(s *Simulator) { s.latency = d }
}

func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

func NewSimulator(opts ...Option) *Simulator {
	s := &Simulator{
		apiKey:  DefaultAPIKey,
		baseURL: DefaultBaseURL,
		now:     time.Now,
		charges: make(map[string]charge),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Simulator) APIKey() string  { return s.apiKey }
func (s *Simulator) BaseURL() string { return s.baseURL }

// ProcessPayment charges amount to the patron.
func (s *Simulator) ProcessPayment(ctx context.Context, patronID string, amount decimal.Decimal, description string) (Charge, error) {
	if err := s.wait(ctx); err != nil {
		return Charge{}, err
	}

	if !amount.IsPositive() {
		return Charge{Message: "Invalid amount: must be positive"}, nil
	}
	if amount.GreaterThan(Limit) {
		return Charge{Message: "Payment declined: amount exceeds limit"}, nil
	}
	if !patron.ValidID(patronID) {
		return Charge{Message: "Invalid patron ID format"}, nil
	}

	now := s.now()
	txnID := fmt.Sprintf("txn_%s_%d", patronID, now.Unix())

	s.mu.Lock()
	s.charges[txnID] = charge{patronID: patronID, amount: amount, at: now}
	s.mu.Unlock()

	return Charge{
		Success:       true,
		TransactionID: txnID,
		Message:       fmt.Sprintf("Payment of $%s processed successfully", amount.StringFixed(2)),
	}, nil
}

// RefundPayment returns amount against a previously issued transaction.
func (s *Simulator) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal) (Refund, error) {
	if err := s.wait(ctx); err != nil {
		return Refund{}, err
	}

	if !ValidTransactionID(transactionID) {
		return Refund{Message: "Invalid transaction ID"}, nil
	}
	if !amount.IsPositive() {
		return Refund{Message: "Invalid refund amount"}, nil
	}

	refundID := fmt.Sprintf("refund_%s_%d", strings.TrimPrefix(transactionID, "txn_"), s.now().Unix())
	return Refund{
		Success: true,
		Message: fmt.Sprintf("Refund of $%s processed successfully. Refund ID: %s", amount.StringFixed(2), refundID),
	}, nil
}

// VerifyPaymentStatus reports a well formed transaction id as completed. Amount and
// timestamp come from the simulator's own records when it issued the id.
func (s *Simulator) VerifyPaymentStatus(ctx context.Context, transactionID string) (Status, error) {
	if err := s.wait(ctx); err != nil {
		return Status{}, err
	}

	if !ValidTransactionID(transactionID) {
		return Status{Status: StatusNotFound, Message: "Transaction not found"}, nil
	}

	s.mu.Lock()
	c, ok := s.charges[transactionID]
	s.mu.Unlock()
	if !ok {
		c = charge{amount: decimal.Zero, at: s.now()}
	}

	return Status{
		TransactionID: transactionID,
		Status:        StatusCompleted,
		Amount:        c.amount,
		Timestamp:     c.at,
	}, nil
}

func (s *Simulator) wait(ctx context.Context) error {
	if s.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("payment gateway unreachable: %w", ctx.Err())
	}
}
