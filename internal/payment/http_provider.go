package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"unlock-service/internal/util"

	"go.uber.org/zap"
)

// HTTPProvider talks to the payment provider's REST API. The endpoint shape
// matches the marketplace's create-payment-intent function: a POST returns
// the intent ref plus the client secret the confirmation UI needs.
type HTTPProvider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewHTTPProvider creates a provider client against the given base URL
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: util.GetLogger(),
	}
}

// CreateIntent authorizes a charge with the provider
func (p *HTTPProvider) CreateIntent(ctx context.Context, req *CreateIntentRequest) (*Intent, error) {
	ctx, span := util.StartSpan(ctx, "HTTPProvider.CreateIntent")
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/payment-intents", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyToken)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.Warn("Provider unreachable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	return decodeIntent(resp)
}

// GetIntent fetches an intent by ref
func (p *HTTPProvider) GetIntent(ctx context.Context, ref string) (*Intent, error) {
	ctx, span := util.StartSpan(ctx, "HTTPProvider.GetIntent")
	defer span.End()

	return p.get(ctx, p.baseURL+"/v1/payment-intents/"+url.PathEscape(ref))
}

// FindIntentByToken looks an intent up by its idempotency token
func (p *HTTPProvider) FindIntentByToken(ctx context.Context, token string) (*Intent, error) {
	ctx, span := util.StartSpan(ctx, "HTTPProvider.FindIntentByToken")
	defer span.End()

	return p.get(ctx, p.baseURL+"/v1/payment-intents?idempotency_token="+url.QueryEscape(token))
}

func (p *HTTPProvider) get(ctx context.Context, endpoint string) (*Intent, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		p.logger.Warn("Provider unreachable", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	return decodeIntent(resp)
}

func decodeIntent(resp *http.Response) (*Intent, error) {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrIntentNotFound
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("provider rejected request: %s", apiErr.Error)
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, fmt.Errorf("failed to decode intent: %w", err)
	}
	return &intent, nil
}
