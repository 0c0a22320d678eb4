package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPVendor delivers to a generic JSON push API reachable over HTTP,
// authenticated with a bearer API key. The concrete vendor is named out
// of scope by spec.md §1; this is the shape any such vendor takes.
type HTTPVendor struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewHTTPVendor(endpoint, apiKey string) *HTTPVendor {
	return &HTTPVendor{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type deliverRequest struct {
	Token   string  `json:"token"`
	Payload Payload `json:"payload"`
}

type deliverResponse struct {
	Status string `json:"status"`
}

func (v *HTTPVendor) Deliver(ctx context.Context, token string, payload Payload) (VendorResult, error) {
	body, err := json.Marshal(deliverRequest{Token: token, Payload: payload})
	if err != nil {
		return "", fmt.Errorf("push: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("push: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.APIKey)

	resp, err := v.Client.Do(req)
	if err != nil {
		return VendorTransient, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
		return VendorUnregistered, nil
	}
	if resp.StatusCode >= 500 {
		return VendorTransient, nil
	}
	if resp.StatusCode >= 400 {
		return VendorInvalid, nil
	}

	var out deliverResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return VendorOK, nil
	}
	switch out.Status {
	case "invalid":
		return VendorInvalid, nil
	case "unregistered":
		return VendorUnregistered, nil
	default:
		return VendorOK, nil
	}
}
