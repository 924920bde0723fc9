package clients

import (
	"context"
	"errors"
	"fmt"
	"librarydesk/internal/payment"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// PaymentClient is a payment.Gateway served over HTTP. Calls are never retried: a failed
// charge may still have gone through, so the error is surfaced to the caller instead.
type PaymentClient struct {
	lg   *slog.Logger
	cb   *gobreaker.CircuitBreaker
	conn *resty.Client
}

func NewPaymentClient(lg *slog.Logger, baseURL, apiKey string) *PaymentClient {
	client := resty.New().
		SetTransport(&http.Transport{
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		}).
		SetTimeout(10*time.Second).
		SetBaseURL(baseURL).
		SetHeader(payment.APIKeyHeader, apiKey)

	return &PaymentClient{
		lg: lg,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "payment_gateway",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				lg.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
		conn: client,
	}
}

func (c *PaymentClient) ProcessPayment(ctx context.Context, patronID string, amount decimal.Decimal, description string) (payment.Charge, error) {
	return execute[payment.Charge](c, func() (*resty.Response, error) {
		return c.conn.R().
			SetContext(ctx).
			SetBody(payment.ChargeRequest{PatronID: patronID, Amount: amount, Description: description}).
			SetResult(&payment.Charge{}).
			Post("/payments")
	})
}

func (c *PaymentClient) RefundPayment(ctx context.Context, transactionID string, amount decimal.Decimal) (payment.Refund, error) {
	return execute[payment.Refund](c, func() (*resty.Response, error) {
		return c.conn.R().
			SetContext(ctx).
			SetBody(payment.RefundRequest{TransactionID: transactionID, Amount: amount}).
			SetResult(&payment.Refund{}).
			Post("/refunds")
	})
}

func (c *PaymentClient) VerifyPaymentStatus(ctx context.Context, transactionID string) (payment.Status, error) {
	return execute[payment.Status](c, func() (*resty.Response, error) {
		return c.conn.R().
			SetContext(ctx).
			SetPathParam("transactionID", transactionID).
			SetResult(&payment.Status{}).
			Get("/payments/{transactionID}")
	})
}

// execute sends one request through the circuit breaker and decodes a 200 response into T.
func execute[T any](c *PaymentClient, send func() (*resty.Response, error)) (T, error) {
	var zero T

	data, err := c.cb.Execute(func() (any, error) {
		resp, err := send()
		if err != nil {
			return nil, fmt.Errorf("failed to execute http request: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("%d %s: %w", resp.StatusCode(), strings.TrimSpace(resp.String()), ErrInvalidStatusCode)
		}
		return resp.Result(), nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
		}
		return zero, err
	}

	res, ok := data.(*T)
	if !ok || res == nil {
		return zero, fmt.Errorf("unexpected payment gateway response %T", data)
	}
	return *res, nil
}
