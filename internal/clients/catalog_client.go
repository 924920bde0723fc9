package clients

import (
	"context"
	"errors"
	"fmt"
	"librarydesk/internal/catalog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

var ErrInvalidStatusCode = errors.New("invalid status code")

// CatalogClient talks to the catalog service. It satisfies circulation.Catalog and
// fees.BookLookup.
type CatalogClient struct {
	conn *resty.Client
}

func NewCatalogClient(baseURL string) *CatalogClient {
	client := resty.New().
		SetTransport(&http.Transport{
			MaxIdleConns:    10,
			IdleConnTimeout: 30 * time.Second,
		}).
		SetTimeout(5 * time.Second).
		SetBaseURL(baseURL)

	return &CatalogClient{conn: client}
}

func (c *CatalogClient) GetBook(ctx context.Context, id int) (*catalog.Book, error) {
	resp, err := c.conn.R().
		SetContext(ctx).
		SetPathParam("id", strconv.Itoa(id)).
		SetResult(&catalog.Book{}).
		Get("/books/{id}")
	if err != nil {
		return nil, fmt.Errorf("failed to execute http request: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, catalog.ErrBookNotFound
	default:
		return nil, fmt.Errorf("%d: %w", resp.StatusCode(), ErrInvalidStatusCode)
	}

	book, _ := resp.Result().(*catalog.Book)
	return book, nil
}

func (c *CatalogClient) AdjustAvailability(ctx context.Context, id, delta int) (*catalog.Book, error) {
	resp, err := c.conn.R().
		SetContext(ctx).
		SetPathParam("id", strconv.Itoa(id)).
		SetBody(map[string]int{"delta": delta}).
		SetResult(&catalog.Book{}).
		Patch("/books/{id}/availability")
	if err != nil {
		return nil, fmt.Errorf("failed to execute http request: %w", err)
	}

	switch resp.StatusCode() {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, catalog.ErrBookNotFound
	case http.StatusConflict:
		return nil, catalog.ErrAvailabilityOutOfRange
	default:
		return nil, fmt.Errorf("%d: %w", resp.StatusCode(), ErrInvalidStatusCode)
	}

	book, _ := resp.Result().(*catalog.Book)
	return book, nil
}
