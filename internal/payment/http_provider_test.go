package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateIntent(t *testing.T) {
	var gotToken string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment-intents", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		gotToken = r.Header.Get("Idempotency-Key")

		var req CreateIntentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, int64(100), req.Amount)

		json.NewEncoder(w).Encode(Intent{
			Ref:          "pi_123",
			ClientSecret: "pi_123_secret",
			Status:       "REQUIRES_CONFIRMATION",
			Amount:       req.Amount,
			Currency:     req.Currency,
		})
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "sk_test", 5*time.Second)
	intent, err := provider.CreateIntent(context.Background(), &CreateIntentRequest{
		Amount:           100,
		Currency:         "gbp",
		IdempotencyToken: "tok-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.Ref)
	assert.Equal(t, "pi_123_secret", intent.ClientSecret)
	assert.Equal(t, "tok-1", gotToken)
}

func TestGetIntentNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "sk_test", 5*time.Second)
	_, err := provider.GetIntent(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, ErrIntentNotFound)
}

func TestServerErrorIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "sk_test", 5*time.Second)
	_, err := provider.GetIntent(context.Background(), "pi_123")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestUnreachableProviderIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	provider := NewHTTPProvider(server.URL, "sk_test", time.Second)
	_, err := provider.CreateIntent(context.Background(), &CreateIntentRequest{
		Amount: 100, Currency: "gbp", IdempotencyToken: "tok-1",
	})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestFindIntentByToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-1", r.URL.Query().Get("idempotency_token"))
		json.NewEncoder(w).Encode(Intent{Ref: "pi_123", Status: "SUCCEEDED", Amount: 100, Currency: "gbp"})
	}))
	defer server.Close()

	provider := NewHTTPProvider(server.URL, "sk_test", 5*time.Second)
	intent, err := provider.FindIntentByToken(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.Equal(t, "pi_123", intent.Ref)
	assert.Equal(t, "SUCCEEDED", intent.Status)
}
