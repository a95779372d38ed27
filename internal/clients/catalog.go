package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"libcirc/internal/domain"

	"github.com/google/uuid"
)

// CatalogClient talks to the external Catalog Service, which owns book
// records and stock counts. Stock moves by delta so reserve and release are
// single atomic calls on the remote side.
type CatalogClient struct {
	baseURL string
	http    *http.Client
}

func NewCatalogClient(baseURL string) *CatalogClient {
	return &CatalogClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// AdjustStock changes a book's available count by delta. A negative delta
// reserves a copy; the catalog answers 409 when nothing is left, surfaced as
// ErrOutOfStock. A 404 maps to ErrNotFound.
func (c *CatalogClient) AdjustStock(ctx context.Context, bookID uuid.UUID, delta int) error {
	payload := struct {
		Delta int `json:"delta"`
	}{Delta: delta}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/books/%s/stock", c.baseURL, bookID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("catalog stock adjust: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusConflict:
		return domain.ErrOutOfStock
	case http.StatusNotFound:
		return fmt.Errorf("book %s: %w", bookID, domain.ErrNotFound)
	default:
		return fmt.Errorf("catalog stock adjust: unexpected status code %d", resp.StatusCode)
	}
}
