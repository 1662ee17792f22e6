// Package credits is the HTTP client for the credit-ledger service that
// tracks per-user analysis credit balances.
package credits

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Sentinel errors for credit-ledger failures.
var (
	ErrLedgerUnreachable   = errors.New("credit ledger unreachable")
	ErrLedgerStatus        = errors.New("credit ledger returned error status")
	ErrInsufficientBalance = errors.New("insufficient credit balance")
)

// Client is the interface for balance queries and deductions.
type Client interface {
	// Balance returns the caller's current credit balance, fetched fresh.
	Balance(ctx context.Context, identity string) (int, error)
	// Deduct removes amount credits from the identity's balance with a
	// human-readable description for the ledger entry.
	Deduct(ctx context.Context, identity string, amount int, description string) error
}

// HTTPClient implements Client using the ledger's HTTP API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPClient creates a new ledger HTTP client.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Balance(ctx context.Context, identity string) (int, error) {
	u := fmt.Sprintf("%s/credits/%s/balance", c.baseURL, url.PathEscape(identity))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLedgerUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: status %d", ErrLedgerStatus, resp.StatusCode)
	}

	var out struct {
		Balance int `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decoding balance response: %w", err)
	}
	return out.Balance, nil
}

func (c *HTTPClient) Deduct(ctx context.Context, identity string, amount int, description string) error {
	u := fmt.Sprintf("%s/credits/%s/deduct", c.baseURL, url.PathEscape(identity))

	body, err := json.Marshal(map[string]any{
		"amount":      amount,
		"description": description,
	})
	if err != nil {
		return fmt.Errorf("encoding deduct request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusPaymentRequired, http.StatusConflict:
		return ErrInsufficientBalance
	default:
		return fmt.Errorf("%w: status %d", ErrLedgerStatus, resp.StatusCode)
	}
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
