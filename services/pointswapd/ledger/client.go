package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"pointswap/native/exchange"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client adapts the upstream point ledger service to the engine's ledger
// interface. Every settlement debit and compensating refund flows through
// here.
type Client struct {
	client    HTTPDoer
	endpoint  string
	authToken string
	timeout   time.Duration
}

// New constructs a ledger client. When doer is nil a default HTTP client with
// the supplied timeout is used.
func New(doer HTTPDoer, endpoint, authToken string, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("ledger endpoint required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if doer == nil {
		doer = &http.Client{Timeout: timeout}
	}
	return &Client{
		client:    doer,
		endpoint:  trimmed,
		authToken: strings.TrimSpace(authToken),
		timeout:   timeout,
	}, nil
}

// BalanceOf returns the spendable point balance for the account.
func (c *Client) BalanceOf(addr exchange.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	var payload struct {
		Balance string `json:"balance"`
	}
	path := "/v1/accounts/" + addrHex(addr) + "/balance"
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(strings.TrimSpace(payload.Balance), 10)
	if !ok {
		return nil, fmt.Errorf("ledger: invalid balance %q", payload.Balance)
	}
	if balance.Sign() < 0 {
		return nil, fmt.Errorf("ledger: negative balance %q", payload.Balance)
	}
	return balance, nil
}

// Debit burns points from the account.
func (c *Client) Debit(from exchange.Address, amount *big.Int) error {
	return c.post("/v1/debits", from, amount)
}

// Refund restores points to the account after a failed settlement.
func (c *Client) Refund(to exchange.Address, amount *big.Int) error {
	return c.post("/v1/refunds", to, amount)
}

func (c *Client) post(path string, account exchange.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("ledger: amount must be positive")
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	body := struct {
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}{Account: addrHex(account), Amount: amount.String()}
	return c.do(ctx, http.MethodPost, path, body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("ledger: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("ledger: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("ledger: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("ledger: decode response: %w", err)
		}
	}
	return nil
}

func addrHex(addr exchange.Address) string {
	return "0x" + hex.EncodeToString(addr[:])
}
