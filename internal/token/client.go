// internal/token/client.go
// Package token provides a client for the asset custody service that moves
// payment-asset balances between ledger addresses. Premium collection and
// claim payouts both go through it.
package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Client moves payment-asset units between addresses.
// Transfer must be all-or-nothing on the custody side: a returned error means
// no balance moved.
type Client interface {
	Transfer(ctx context.Context, from, to string, amount *big.Int) error
}

// ErrRejected is returned when the custody service refuses a transfer,
// typically for insufficient balance or an unknown address.
var ErrRejected = errors.New("transfer rejected")

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	base string       // Base URL of the custody service
	hc   *http.Client // HTTP client with custom configuration
}

// NewHTTP creates a custody client with the specified base URL.
// It configures appropriate timeouts for custody service requests.
func NewHTTP(baseURL string) *HTTPClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: 2 * time.Second}).DialContext,
	}

	return &HTTPClient{
		base: baseURL,
		hc:   &http.Client{Transport: transport, Timeout: 5 * time.Second},
	}
}

// transferRequest is the wire body for a transfer call.
type transferRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"` // Decimal string, smallest asset unit
}

// Transfer moves amount from one address to another.
// Returns ErrRejected when the custody service declines the transfer.
func (c *HTTPClient) Transfer(ctx context.Context, from, to string, amount *big.Int) error {
	u, err := url.Parse(c.base)
	if err != nil {
		return fmt.Errorf("invalid custody base URL: %w", err)
	}
	u.Path = "/v1/transfers"

	body, err := json.Marshal(transferRequest{
		From:   from,
		To:     to,
		Amount: amount.String(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("custody transfer call failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusPaymentRequired, resp.StatusCode == http.StatusUnprocessableEntity:
		return ErrRejected
	default:
		return fmt.Errorf("custody transfer failed: %s", resp.Status)
	}
}
