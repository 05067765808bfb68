package escrow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wager-engine/internal/model"
	"wager-engine/internal/pkg/errs"
)

// Client calls the transfer sub-API over HTTP. Managers use it so that every
// ownership change goes through the one audited service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// TokenHeader carries the shared secret of the transfer sub-API.
const TokenHeader = "X-Internal-Token"

// NewClient creates a Client for the sub-API rooted at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// WithToken sets the shared secret sent with every request.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

// Create records a pending transfer.
func (c *Client) Create(ctx context.Context, entries []Entry) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "/internal/transfers", createRequest{Entries: entries}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Confirm assigns every item to target.
func (c *Client) Confirm(ctx context.Context, id, target string) error {
	return c.do(ctx, "/internal/transfers/"+url.PathEscape(id)+"/confirm", confirmRequest{Target: target}, nil)
}

// ConfirmSwap exchanges the item sets of the transfer's two owners.
func (c *Client) ConfirmSwap(ctx context.Context, id string) error {
	return c.do(ctx, "/internal/transfers/"+url.PathEscape(id)+"/confirm", confirmRequest{Swap: true}, nil)
}

// Cancel voids a pending transfer.
func (c *Client) Cancel(ctx context.Context, id, reason string) error {
	return c.do(ctx, "/internal/transfers/"+url.PathEscape(id)+"/cancel", cancelRequest{Reason: reason}, nil)
}

// Get returns the transfer record.
func (c *Client) Get(ctx context.Context, id string) (*model.Transfer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/internal/transfers/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	var t model.Transfer
	if err := c.send(req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) do(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set(TokenHeader, c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return errs.Wrap(errs.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
			return fmt.Errorf("%w: transfer api returned %d", errs.ErrUnavailable, resp.StatusCode)
		}
		return errorOf(e.Code, e.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
