package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestClientTransfer_Success(t *testing.T) {
	var gotAuth, gotKey string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  true,
			"message": "Transfer queued",
			"data":    map[string]any{"transfer_code": "TRF_abc123", "status": "success"},
		})
	}))
	defer srv.Close()

	client := NewClient("sk_test_secret", srv.URL, srv.Client())
	transferID, err := client.Transfer(context.Background(), TransferRequest{
		Destination:    "RCP_seller",
		Amount:         decimal.RequireFromString("360.00"),
		Currency:       "USD",
		IdempotencyKey: "milestone-1",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if transferID != "TRF_abc123" {
		t.Errorf("expected transfer code, got %q", transferID)
	}
	if gotAuth != "Bearer sk_test_secret" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotKey != "milestone-1" {
		t.Errorf("expected idempotency key header, got %q", gotKey)
	}
	if gotBody["amount"] != float64(36000) {
		t.Errorf("expected amount in minor units, got %v", gotBody["amount"])
	}
	if gotBody["reference"] != "milestone-1" {
		t.Errorf("expected reference to equal key, got %v", gotBody["reference"])
	}
}

func TestClientTransfer_DeclinedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  false,
			"message": "Insufficient balance",
		})
	}))
	defer srv.Close()

	client := NewClient("sk", srv.URL, srv.Client())
	_, err := client.Transfer(context.Background(), TransferRequest{
		Destination: "RCP", Amount: decimal.NewFromInt(10), Currency: "USD", IdempotencyKey: "m1",
	})
	if !errors.Is(err, ErrTransferDeclined) {
		t.Fatalf("expected ErrTransferDeclined, got %v", err)
	}
}

func TestClientTransfer_DeclinedHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "Invalid recipient"})
	}))
	defer srv.Close()

	client := NewClient("sk", srv.URL, srv.Client())
	_, err := client.Transfer(context.Background(), TransferRequest{
		Destination: "bogus", Amount: decimal.NewFromInt(10), Currency: "USD", IdempotencyKey: "m1",
	})
	if !errors.Is(err, ErrTransferDeclined) {
		t.Fatalf("expected ErrTransferDeclined, got %v", err)
	}
}

func TestClientTransfer_TimeoutIsNotDecline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient("sk", srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Transfer(ctx, TransferRequest{
		Destination: "RCP", Amount: decimal.NewFromInt(10), Currency: "USD", IdempotencyKey: "m1",
	})
	if err == nil {
		t.Fatal("expected error on timeout")
	}
	if errors.Is(err, ErrTransferDeclined) {
		t.Fatal("timeout must not be classified as a decline")
	}
}
