package mpesa

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/huduma-collective/hudumahub/internal/phone"
)

// Client is the interface for gateway operations, enabling handler and
// service tests to substitute a mock.
type Client interface {
	// InitiatePush prompts the payer's phone for the given amount. The
	// returned CheckoutRequestID correlates the asynchronous callback with
	// this initiation. Never retried internally: a retry could raise two
	// prompts on the payer's phone.
	InitiatePush(ctx context.Context, payerPhone string, amount decimal.Decimal, reference, description string) (PushResult, error)

	// QueryStatus asks the gateway for the current state of a push.
	// Idempotent; retried internally with bounded backoff.
	QueryStatus(ctx context.Context, checkoutRequestID string) (QueryResult, error)

	// RegisterCallbackURLs registers the C2B confirmation and validation
	// URLs with the gateway. Operational setup call.
	RegisterCallbackURLs(ctx context.Context, confirmationURL, validationURL string) error
}

// Config holds gateway credentials and endpoints.
type Config struct {
	ConsumerKey    string
	ConsumerSecret string
	Passkey        string
	Shortcode      string
	BaseURL        string
	CallbackURL    string

	// Timeout bounds each gateway call. Defaults to 30s.
	Timeout time.Duration
}

// Credential refresh behavior.
const (
	// tokenLeeway refreshes the cached credential this long before its
	// stated expiry so in-flight requests never carry a stale token.
	tokenLeeway = 60 * time.Second

	defaultTimeout = 30 * time.Second

	// Retry policy for idempotent calls (credential fetch, status query).
	maxRetries     = 3
	retryBaseDelay = 500 * time.Millisecond
)

// HTTPClient implements Client against the Daraja REST API.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	// Cached credential. The singleflight group collapses concurrent
	// refreshes into one outbound call whose result all callers share.
	refresh     singleflight.Group
	cachedToken atomicToken

	// now is swappable for timestamp tests.
	now func() time.Time
}

// NewHTTPClient creates a gateway client with the given configuration.
func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		now:        time.Now,
	}
}

// InitiatePush implements Client.
func (c *HTTPClient) InitiatePush(ctx context.Context, payerPhone string, amount decimal.Decimal, reference, description string) (PushResult, error) {
	// A malformed number must never consume a gateway call.
	msisdn, err := phone.Normalize(payerPhone)
	if err != nil {
		return PushResult{}, err
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return PushResult{}, err
	}

	timestamp := c.timestamp()
	req := stkPushRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            amount.String(),
		PartyA:            msisdn,
		PartyB:            c.cfg.Shortcode,
		PhoneNumber:       msisdn,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  reference,
		TransactionDesc:   description,
	}

	var resp stkPushResponse
	if err := c.postJSON(ctx, pathSTKPush, token, req, &resp); err != nil {
		return PushResult{}, err
	}
	if resp.CheckoutRequestID == "" {
		return PushResult{}, fmt.Errorf("%w: push accepted without CheckoutRequestID", ErrGatewayUnavailable)
	}

	c.logger.InfoContext(ctx, "stk push initiated",
		"checkout_request_id", resp.CheckoutRequestID,
		"reference", reference)

	return PushResult{
		MerchantRequestID: resp.MerchantRequestID,
		CheckoutRequestID: resp.CheckoutRequestID,
		CustomerMessage:   resp.CustomerMessage,
	}, nil
}

// QueryStatus implements Client.
func (c *HTTPClient) QueryStatus(ctx context.Context, checkoutRequestID string) (QueryResult, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return QueryResult{}, err
	}

	timestamp := c.timestamp()
	req := stkQueryRequest{
		BusinessShortCode: c.cfg.Shortcode,
		Password:          c.password(timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	var resp stkQueryResponse
	err = c.withRetry(ctx, "status query", func() error {
		return c.postJSON(ctx, pathSTKQuery, token, req, &resp)
	})
	if err != nil {
		return QueryResult{}, err
	}

	code, err := resp.ResultCode.Int64()
	if err != nil {
		return QueryResult{}, fmt.Errorf("%w: non-integer ResultCode %q", ErrGatewayUnavailable, resp.ResultCode.String())
	}
	return QueryResult{ResultCode: int(code), ResultDesc: resp.ResultDesc}, nil
}

// RegisterCallbackURLs implements Client.
func (c *HTTPClient) RegisterCallbackURLs(ctx context.Context, confirmationURL, validationURL string) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	req := registerURLRequest{
		ShortCode:       c.cfg.Shortcode,
		ResponseType:    "Completed",
		ConfirmationURL: confirmationURL,
		ValidationURL:   validationURL,
	}
	if err := c.postJSON(ctx, pathRegisterURL, token, req, &struct{}{}); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "c2b urls registered",
		"confirmation_url", confirmationURL,
		"validation_url", validationURL)
	return nil
}

// accessToken returns the cached credential, refreshing it if it expires
// within the leeway window. Concurrent refreshers collapse into a single
// outbound call.
func (c *HTTPClient) accessToken(ctx context.Context) (string, error) {
	if token, ok := c.cachedToken.get(c.now(), tokenLeeway); ok {
		return token, nil
	}

	result, err, _ := c.refresh.Do("token", func() (any, error) {
		// Re-check under the flight: a racer may have refreshed already.
		if token, ok := c.cachedToken.get(c.now(), tokenLeeway); ok {
			return token, nil
		}

		var resp tokenResponse
		fetchErr := c.withRetry(ctx, "credential refresh", func() error {
			return c.fetchToken(ctx, &resp)
		})
		if fetchErr != nil {
			return "", fetchErr
		}

		ttlSeconds, convErr := strconv.Atoi(resp.ExpiresIn)
		if convErr != nil || ttlSeconds <= 0 {
			ttlSeconds = 3600
		}
		expiry := c.now().Add(time.Duration(ttlSeconds) * time.Second)
		c.cachedToken.set(resp.AccessToken, expiry)

		c.logger.DebugContext(ctx, "gateway credential refreshed", "expires_at", expiry)
		return resp.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// fetchToken performs one OAuth credential request.
func (c *HTTPClient) fetchToken(ctx context.Context, out *tokenResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+pathOAuth, nil)
	if err != nil {
		return fmt.Errorf("build credential request: %w", err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(c.cfg.ConsumerKey + ":" + c.cfg.ConsumerSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding credential response: %v", ErrGatewayUnavailable, err)
	}
	if out.AccessToken == "" {
		return fmt.Errorf("%w: empty access token", ErrGatewayUnavailable)
	}
	return nil
}

// postJSON sends an authenticated JSON request and decodes the response.
func (c *HTTPClient) postJSON(ctx context.Context, path, token string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrGatewayUnavailable, err)
	}
	return nil
}

// apiError reads the gateway's error body and classifies it.
func (c *HTTPClient) apiError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil {
		// Best effort; the sentinel classification stands either way.
		_ = json.Unmarshal(body, apiErr)
	}
	return apiErr
}

// withRetry runs fn up to maxRetries times with exponential backoff, for
// idempotent calls only. Rejections are terminal; only transport and 5xx
// failures are retried.
func (c *HTTPClient) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			c.logger.WarnContext(ctx, "retrying gateway call",
				"operation", op, "attempt", attempt+1, "delay", delay, "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
	}
	return err
}

// isRetryable reports whether the error class permits a retry.
func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500
	}
	return true // transport failure
}

// timestamp renders the current time in the gateway's YYYYMMDDHHMMSS form.
func (c *HTTPClient) timestamp() string {
	return c.now().Format(transactionDateLayout)
}

// password derives the STK password: base64(shortcode + passkey + timestamp).
func (c *HTTPClient) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.Shortcode + c.cfg.Passkey + timestamp))
}
