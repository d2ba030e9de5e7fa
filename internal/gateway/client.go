package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"payportal/internal/domain"
)

// Client talks to the tokenization gateway: session minting, the
// authorization-only probe, and the compensating void.
type Client struct {
	baseURL    string
	timeout    time.Duration
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration, maxRetries int, retryBase, retryMax time.Duration) *Client {
	return &Client{
		baseURL:    baseURL,
		timeout:    timeout,
		maxRetries: maxRetries,
		retryBase:  retryBase,
		retryMax:   retryMax,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreateSession(ctx context.Context) (domain.Session, error) {
	var resp struct {
		SessionID string `json:"session_id"`
	}
	if err := c.post(ctx, "/session", "", map[string]interface{}{}, &resp); err != nil {
		return domain.Session{}, fmt.Errorf("%w: %v", domain.ErrSessionCreationFailed, err)
	}
	if resp.SessionID == "" {
		return domain.Session{}, fmt.Errorf("%w: gateway returned empty session id", domain.ErrSessionCreationFailed)
	}
	return domain.Session{SessionID: resp.SessionID, CreatedAt: time.Now().UTC()}, nil
}

// Authorize places an authorization-only hold against the token. capture is
// always false here: the probe validates chargeability without moving funds.
func (c *Client) Authorize(ctx context.Context, sessionID, token string, amount float64) (string, error) {
	var resp struct {
		TransactionID string `json:"transaction_id"`
	}
	body := map[string]interface{}{
		"session_id": sessionID,
		"token":      token,
		"amount":     amount,
		"capture":    false,
	}
	if err := c.post(ctx, "/sale", sessionID, body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrAuthorizationFailed, err)
	}
	if resp.TransactionID == "" {
		return "", fmt.Errorf("%w: gateway returned empty transaction id", domain.ErrAuthorizationFailed)
	}
	return resp.TransactionID, nil
}

// InitWidget primes the vendor-hosted capture surface for a session; it
// returns once the surface reports loaded.
func (c *Client) InitWidget(ctx context.Context, sessionID string) error {
	body := map[string]interface{}{"session_id": sessionID}
	return c.post(ctx, "/widget/init", sessionID, body, nil)
}

// SubmitWidget asks the hosted surface to tokenize what the shopper
// entered; the outcome arrives asynchronously on the webhook.
func (c *Client) SubmitWidget(ctx context.Context, sessionID string) error {
	body := map[string]interface{}{"session_id": sessionID}
	return c.post(ctx, "/widget/submit", sessionID, body, nil)
}

func (c *Client) Void(ctx context.Context, transactionID string) error {
	body := map[string]interface{}{"transaction_id": transactionID}
	if err := c.post(ctx, "/void", transactionID, body, nil); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVoidFailed, err)
	}
	return nil
}

// post sends a JSON POST with retry on network errors and 5xx responses.
// 4xx responses are terminal and carry the gateway's body text verbatim.
func (c *Client) post(ctx context.Context, path, idempotencyKey string, body interface{}, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	delay := c.retryBase
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.retryMax {
				delay = c.retryMax
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if idempotencyKey != "" {
			req.Header.Set("X-Idempotency-Key", idempotencyKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			return json.Unmarshal(respBody, out)
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("gateway %s returned %d: %s", path, resp.StatusCode, string(respBody))
			continue
		default:
			return fmt.Errorf("gateway %s returned %d: %s", path, resp.StatusCode, string(respBody))
		}
	}
	return lastErr
}
