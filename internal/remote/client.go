// Package remote is the typed client for the back-office REST API. Response
// shapes are validated at this boundary; a malformed body surfaces as
// ErrBadResponse instead of leaking partial data into the sync logic.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/lanepos/lanepos/internal/types"
)

// ErrBadResponse is returned when the server answers with a body that does
// not match the documented contract.
var ErrBadResponse = errors.New("malformed server response")

// ErrUnauthorized is returned on a 401; the auth layer owns recovery, the
// sync engine only treats it as a failed cycle.
var ErrUnauthorized = errors.New("unauthorized")

// Client talks to the back-office API with bearer auth and bounded timeouts.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client. timeout bounds every request including bulk-sync;
// a timed-out sync cycle fails exactly like any network failure.
func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

// Ping checks connectivity via the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed: %d", resp.StatusCode)
	}
	return nil
}

// CreateTransaction submits one transaction online.
func (c *Client) CreateTransaction(ctx context.Context, t *types.Transaction) (*CreatedTransaction, error) {
	var result struct {
		envelope
		Data *CreatedTransaction `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/transactions", t, &result); err != nil {
		return nil, err
	}
	if !result.Success || result.Data == nil || result.Data.TransactionCode == "" {
		return nil, fmt.Errorf("%w: create transaction: %s", ErrBadResponse, result.Message)
	}
	return result.Data, nil
}

// BulkSync submits the full pending batch and returns per-transaction
// verdicts. One call per cycle regardless of batch size.
func (c *Client) BulkSync(ctx context.Context, transactions []types.Transaction) (*BulkSyncResult, error) {
	var result struct {
		envelope
		Data *BulkSyncResult `json:"data"`
	}
	req := BulkSyncRequest{Transactions: transactions}
	if err := c.do(ctx, http.MethodPost, "/transactions/bulk-sync", req, &result); err != nil {
		return nil, err
	}
	if !result.Success || result.Data == nil {
		return nil, fmt.Errorf("%w: bulk sync: %s", ErrBadResponse, result.Message)
	}
	return result.Data, nil
}

// FetchProducts retrieves the full product catalog for the mirror.
func (c *Client) FetchProducts(ctx context.Context, limit int) ([]types.Product, error) {
	path := "/products"
	if limit > 0 {
		path += "?" + url.Values{"limit": []string{strconv.Itoa(limit)}}.Encode()
	}
	var result struct {
		envelope
		Data []types.Product `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: fetch products: %s", ErrBadResponse, result.Message)
	}
	return result.Data, nil
}

// FetchCategories retrieves the full category catalog for the mirror.
func (c *Client) FetchCategories(ctx context.Context) ([]types.Category, error) {
	var result struct {
		envelope
		Data []types.Category `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/categories", nil, &result); err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, fmt.Errorf("%w: fetch categories: %s", ErrBadResponse, result.Message)
	}
	return result.Data, nil
}

// CreateProduct replays an offline product creation.
func (c *Client) CreateProduct(ctx context.Context, p *types.Product) error {
	return c.doEnvelope(ctx, http.MethodPost, "/products", p)
}

// UpdateProduct replays an offline product edit.
func (c *Client) UpdateProduct(ctx context.Context, p *types.Product) error {
	return c.doEnvelope(ctx, http.MethodPut, "/products/"+url.PathEscape(p.ID), p)
}

// DeleteProduct replays an offline product deletion.
func (c *Client) DeleteProduct(ctx context.Context, id string) error {
	return c.doEnvelope(ctx, http.MethodDelete, "/products/"+url.PathEscape(id), nil)
}

// CreateCategory replays an offline category creation.
func (c *Client) CreateCategory(ctx context.Context, cat *types.Category) error {
	return c.doEnvelope(ctx, http.MethodPost, "/categories", cat)
}

// UpdateCategory replays an offline category edit.
func (c *Client) UpdateCategory(ctx context.Context, cat *types.Category) error {
	return c.doEnvelope(ctx, http.MethodPut, "/categories/"+url.PathEscape(cat.ID), cat)
}

// DeleteCategory replays an offline category deletion.
func (c *Client) DeleteCategory(ctx context.Context, id string) error {
	return c.doEnvelope(ctx, http.MethodDelete, "/categories/"+url.PathEscape(id), nil)
}

// doEnvelope performs a request whose response carries no data payload.
func (c *Client) doEnvelope(ctx context.Context, method, path string, body any) error {
	var result envelope
	if err := c.do(ctx, method, path, body, &result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%w: %s %s: %s", ErrBadResponse, method, path, result.Message)
	}
	return nil
}

// do sends an authenticated JSON request and decodes the response into out.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body)
		return ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s %s: %v", ErrBadResponse, method, path, err)
	}
	return nil
}
