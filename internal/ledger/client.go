package ledger

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

// RequestError preserves the ledger's status and body verbatim. The apply
// engine classifies fallback-eligible rejections by inspecting Body; every
// other consumer surfaces it unmodified.
type RequestError struct {
	Status int
	Path   string
	Body   string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("ledger %s returned %d: %s", e.Path, e.Status, e.Body)
}

// Client talks to the external ledger system: payment methods, transaction
// transforms, direct creates, apply-line patches, and authoritative reads.
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

func (c *Client) CreatePaymentMethod(ctx context.Context, customerID, token, last4, brand string) (string, error) {
	body := map[string]interface{}{
		"customer_id": customerID,
		"token":       token,
	}
	if last4 != "" {
		body["last4"] = last4
	}
	if brand != "" {
		body["brand"] = brand
	}
	var resp struct {
		InstrumentID string `json:"instrument_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/payment-methods", customerID, body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	if resp.InstrumentID == "" {
		return "", fmt.Errorf("%w: ledger returned empty instrument id", domain.ErrPersistenceFailed)
	}
	return resp.InstrumentID, nil
}

// Transform is the atomic path: one call that creates the payment/deposit
// and applies it to the target in the same write.
func (c *Client) Transform(ctx context.Context, targetKind, targetID, tranKind string, payload map[string]interface{}) (string, error) {
	path := fmt.Sprintf("/%s/%s/transform/%s", targetKind, targetID, tranKind)
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, path, str(payload["external_id"]), payload, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// CreateTransaction writes an unattached payment or deposit (the first step
// of the direct path).
func (c *Client) CreateTransaction(ctx context.Context, tranKind string, payload map[string]interface{}) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/"+tranKind, str(payload["external_id"]), payload, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) PatchApplyLine(ctx context.Context, tranKind, id, lineRef string, amount float64) error {
	path := fmt.Sprintf("/%s/%s/apply/%s", tranKind, id, lineRef)
	body := map[string]interface{}{
		"apply":  true,
		"amount": amount,
	}
	return c.do(ctx, http.MethodPatch, path, "", body, nil)
}

func (c *Client) GetInvoice(ctx context.Context, id string) (domain.Invoice, error) {
	var inv domain.Invoice
	if err := c.do(ctx, http.MethodGet, "/invoice/"+id, "", nil, &inv); err != nil {
		return domain.Invoice{}, err
	}
	return inv, nil
}

func (c *Client) GetDeposit(ctx context.Context, id string) (domain.Deposit, error) {
	var dep domain.Deposit
	if err := c.do(ctx, http.MethodGet, "/deposit/"+id, "", nil, &dep); err != nil {
		return domain.Deposit{}, err
	}
	return dep, nil
}

func (c *Client) GetTransaction(ctx context.Context, tranKind, id string) (domain.LedgerTransaction, error) {
	var txn domain.LedgerTransaction
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/%s/%s", tranKind, id), "", nil, &txn); err != nil {
		return domain.LedgerTransaction{}, err
	}
	return txn, nil
}

// do sends a JSON request. Network errors and 5xx responses are retried up
// to maxRetries (zero by default for mutating safety); 4xx responses come
// back as *RequestError with the body intact.
func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body interface{}, out interface{}) error {
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		if err != nil {
			return err
		}
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

		var reader io.Reader
		if raw != nil {
			reader = bytes.NewReader(raw)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		if raw != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idempotencyKey != "" {
			req.Header.Set("X-Idempotency-Key", idempotencyKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 256*1024))
		resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			if out == nil {
				return nil
			}
			return json.Unmarshal(respBody, out)
		case resp.StatusCode >= 500:
			lastErr = &RequestError{Status: resp.StatusCode, Path: path, Body: string(respBody)}
			continue
		default:
			return &RequestError{Status: resp.StatusCode, Path: path, Body: string(respBody)}
		}
	}
	return lastErr
}

func str(v interface{}) string {
	s, _ := v.(string)
	return s
}
