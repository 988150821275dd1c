package creditclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"mindvault/credit-service/internal/ledger"
)

// ErrRetryable is returned when the credit service answered 503; the same
// request (same EventID) can be sent again safely.
var ErrRetryable = errors.New("credit service unavailable")

// HTTPClient calls the credit service's internal routes on behalf of other
// services.
type HTTPClient struct {
	BaseURL     string
	InternalKey string
	httpClient  *http.Client
}

func NewHTTPClient(baseURL, internalKey string) *HTTPClient {
	return &HTTPClient{
		BaseURL:     baseURL,
		InternalKey: internalKey,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type CreditRequest struct {
	EventID string          `json:"eventId"`
	UserID  string          `json:"userId"`
	Amount  decimal.Decimal `json:"amount"`
	Source  string          `json:"source,omitempty"`
}

type creditResponse struct {
	OK     bool          `json:"ok"`
	Result ledger.Result `json:"result"`
}

// Credit asks the service to apply a bundle purchase. A redelivered EventID
// comes back as an ignored result, not an error.
func (c *HTTPClient) Credit(ctx context.Context, req CreditRequest) (*ledger.Result, error) {
	var out creditResponse
	if err := c.do(ctx, http.MethodPost, "/internal/ledger/credit", req, &out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

// Account fetches a user's counters. Unknown users come back zeroed.
func (c *HTTPClient) Account(ctx context.Context, userID string) (*ledger.Account, error) {
	var acct ledger.Account
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(userID), nil, &acct); err != nil {
		return nil, err
	}
	if acct.UserID == "" {
		acct.UserID = userID
	}
	return &acct, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, payload interface{}, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.InternalKey != "" {
		req.Header.Set("X-Internal-Key", c.InternalKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusServiceUnavailable {
		return fmt.Errorf("%w: %s", ErrRetryable, string(respBody))
	}
	return fmt.Errorf("credit service %s: %s", resp.Status, string(respBody))
}
