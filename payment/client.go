package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Client calls a Paystack-style transfer API. Declines are reported as
// ErrTransferDeclined; transport failures are returned as-is because the
// outcome is unknown and the caller must reconcile rather than retry.
type Client struct {
	secretKey string
	baseURL   string
	http      *http.Client
}

func NewClient(secretKey, baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		secretKey: secretKey,
		baseURL:   baseURL,
		http:      httpClient,
	}
}

type transferEnvelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	} `json:"data"`
}

// Transfer initiates a payout to the opaque recipient reference. The amount is
// sent in minor units. The idempotency key doubles as the provider-side
// reference so a replayed request settles to the same transfer.
func (c *Client) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	payload := map[string]any{
		"source":    "balance",
		"amount":    req.Amount.Shift(2).IntPart(),
		"currency":  req.Currency,
		"recipient": req.Destination,
		"reference": req.IdempotencyKey,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("payment: marshal transfer payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfer", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("payment: build transfer request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// Unknown outcome: the request may have reached the provider.
		return "", fmt.Errorf("payment: transfer request: %w", err)
	}
	defer resp.Body.Close()

	var envelope transferEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("payment: decode transfer response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return "", fmt.Errorf("%w: %s", ErrTransferDeclined, envelope.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("payment: transfer returned status %d: %s", resp.StatusCode, envelope.Message)
	}
	if !envelope.Status {
		return "", fmt.Errorf("%w: %s", ErrTransferDeclined, envelope.Message)
	}

	return envelope.Data.TransferCode, nil
}
