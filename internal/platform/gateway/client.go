// Package gateway implements the HTTP client for the treasury gateway, the
// custodial service that moves funds between party wallets and the
// settlement account. Requests are authenticated with HMAC headers; amounts
// travel as decimal strings so values above 2^53 survive JSON.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/matchbook/internal/crypto"
	"github.com/alanyoungcy/matchbook/internal/domain"
)

// Client is the REST client for the treasury gateway. It implements
// domain.Treasury: Collect pulls stakes into the settlement account and
// Release pays settlement legs back out.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.GatewayHMAC
}

var _ domain.Treasury = (*Client)(nil)

// NewClient creates a gateway client.
//
// baseURL is the gateway API root, e.g. "https://treasury.internal:8443".
// auth holds the HMAC credentials issued for this settlement service.
func NewClient(baseURL string, auth *crypto.GatewayHMAC) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth: auth,
	}
}

// transferResult is the gateway's response to a transfer request.
type transferResult struct {
	TransferID string `json:"transfer_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
}

// applied is the only transfer status that means funds moved.
const statusApplied = "applied"

// Collect pulls amount from the party's wallet into the settlement account.
// The gateway applies the transfer atomically or rejects it whole.
func (c *Client) Collect(ctx context.Context, from domain.Party, amount uint64, memo string) error {
	body := map[string]any{
		"from":   from.Hex(),
		"amount": strconv.FormatUint(amount, 10),
		"memo":   memo,
	}

	res, err := c.postTransfer(ctx, "/v1/transfers/collect", body)
	if err != nil {
		return fmt.Errorf("gateway: collect %d from %s (%s): %w: %v",
			amount, from.Hex(), memo, domain.ErrTransferFailed, err)
	}
	if res.Status != statusApplied {
		return fmt.Errorf("gateway: collect %d from %s (%s): %w: %s",
			amount, from.Hex(), memo, domain.ErrTransferFailed, res.Message)
	}
	return nil
}

// Release pays every leg out of the settlement account in one gateway
// transaction, all or nothing. Zero-amount legs are dropped before sending;
// a request whose legs are all zero is a no-op.
func (c *Client) Release(ctx context.Context, legs []domain.PayoutLeg, memo string) error {
	wire := make([]map[string]any, 0, len(legs))
	for _, leg := range legs {
		if leg.Amount == 0 {
			continue
		}
		wire = append(wire, map[string]any{
			"to":     leg.To.Hex(),
			"amount": strconv.FormatUint(leg.Amount, 10),
		})
	}
	if len(wire) == 0 {
		return nil
	}

	body := map[string]any{
		"legs": wire,
		"memo": memo,
	}

	res, err := c.postTransfer(ctx, "/v1/transfers/release", body)
	if err != nil {
		return fmt.Errorf("gateway: release %d legs (%s): %w: %v",
			len(wire), memo, domain.ErrTransferFailed, err)
	}
	if res.Status != statusApplied {
		return fmt.Errorf("gateway: release %d legs (%s): %w: %s",
			len(wire), memo, domain.ErrTransferFailed, res.Message)
	}
	return nil
}

// Balance returns a party's spendable wallet balance at the gateway.
func (c *Client) Balance(ctx context.Context, p domain.Party) (uint64, error) {
	path := "/v1/accounts/" + p.Hex() + "/balance"

	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return 0, fmt.Errorf("gateway: balance %s: %w", p.Hex(), err)
	}

	var out struct {
		Account string `json:"account"`
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return 0, fmt.Errorf("gateway: decode balance: %w", err)
	}
	bal, err := strconv.ParseUint(out.Balance, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("gateway: parse balance %q: %w", out.Balance, err)
	}
	return bal, nil
}

// Health checks gateway liveness. Useful for readiness probes.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodGet, "/v1/health", nil); err != nil {
		return fmt.Errorf("gateway: health: %w", err)
	}
	return nil
}

// postTransfer sends a transfer request and decodes the result envelope.
func (c *Client) postTransfer(ctx context.Context, path string, body any) (transferResult, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, path, body)
	if err != nil {
		return transferResult{}, err
	}

	var res transferResult
	if err := json.Unmarshal(respBody, &res); err != nil {
		return transferResult{}, fmt.Errorf("decode transfer result: %w", err)
	}
	return res, nil
}

// doRequest builds, signs, sends, and reads an HTTP request against the
// gateway. It returns the raw response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.auth != nil {
		for k, v := range c.auth.Headers(method, path, bodyStr) {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
