package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPGateway talks to the payment provider's JSON API:
// POST {base}/charges and POST {base}/refunds.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type chargeRequest struct {
	Amount    int64  `json:"amount"`
	MethodRef string `json:"method_ref"`
}

type chargeResponse struct {
	ChargeRef string `json:"charge_ref"`
}

type refundRequest struct {
	ChargeRef string `json:"charge_ref"`
}

type refundResponse struct {
	RefundRef string `json:"refund_ref"`
}

func (g *HTTPGateway) Charge(ctx context.Context, amount int64, methodRef string) (*ChargeResult, error) {
	var resp chargeResponse
	err := g.post(ctx, "/charges", chargeRequest{Amount: amount, MethodRef: methodRef}, &resp)
	if err != nil {
		return nil, err
	}
	return &ChargeResult{ChargeRef: resp.ChargeRef}, nil
}

func (g *HTTPGateway) Refund(ctx context.Context, chargeRef string) (*RefundResult, error) {
	var resp refundResponse
	err := g.post(ctx, "/refunds", refundRequest{ChargeRef: chargeRef}, &resp)
	if err != nil {
		return nil, err
	}
	return &RefundResult{RefundRef: resp.RefundRef}, nil
}

func (g *HTTPGateway) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	res, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK || res.StatusCode == http.StatusCreated:
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
		return nil
	case res.StatusCode == http.StatusPaymentRequired || res.StatusCode == http.StatusUnprocessableEntity:
		return ErrDeclined
	default:
		return fmt.Errorf("%w: gateway returned %d", ErrGatewayUnavailable, res.StatusCode)
	}
}
