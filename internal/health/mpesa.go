package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// MpesaChecker implements health checking for the M-Pesa Daraja gateway by
// requesting an OAuth token. A 2xx response proves both reachability and
// valid credentials.
type MpesaChecker struct {
	baseURL        string
	consumerKey    string
	consumerSecret string
	client         *http.Client
}

// NewMpesaChecker creates a new gateway health checker. The baseURL is the
// Daraja API root (e.g. "https://sandbox.safaricom.co.ke").
func NewMpesaChecker(baseURL, consumerKey, consumerSecret string) *MpesaChecker {
	return &MpesaChecker{
		baseURL:        baseURL,
		consumerKey:    consumerKey,
		consumerSecret: consumerSecret,
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// HealthCheck asks the gateway for an access token.
func (m *MpesaChecker) HealthCheck(ctx context.Context) error {
	if m.baseURL == "" {
		return fmt.Errorf("mpesa base url not configured")
	}

	url := m.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(m.consumerKey, m.consumerSecret)

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach mpesa gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("mpesa gateway unhealthy: unexpected status code %d", resp.StatusCode)
	}

	return nil
}
