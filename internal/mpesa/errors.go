// Package mpesa provides a client for the Safaricom Daraja API: OAuth
// credential acquisition with cached single-flight refresh, STK push
// initiation, transaction status queries, and C2B URL registration.
package mpesa

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayUnavailable is returned for transport failures and 5xx
	// responses from the gateway. Callers may retry.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrGatewayRejected is returned for 4xx responses from the gateway
	// (validation failures, shortcode misconfiguration). Retrying the same
	// request will not succeed.
	ErrGatewayRejected = errors.New("payment gateway rejected request")

	// ErrMalformedCallback is returned when a callback payload cannot be
	// parsed into the expected envelope.
	ErrMalformedCallback = errors.New("malformed gateway callback")
)

// APIError carries the gateway's error detail alongside the sentinel class.
type APIError struct {
	StatusCode int
	Code       string `json:"errorCode"`
	Message    string `json:"errorMessage"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway error %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("gateway error (HTTP %d)", e.StatusCode)
}

// Unwrap maps the HTTP status to the error taxonomy so callers can use
// errors.Is against ErrGatewayRejected / ErrGatewayUnavailable.
func (e *APIError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 {
		return ErrGatewayRejected
	}
	return ErrGatewayUnavailable
}
