package toss

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/eventpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
)

const (
	defaultBaseURL = "https://api.tosspayments.com"
	defaultTimeout = 30 * time.Second

	// CodeAlreadyProcessed is returned by confirm when the payment key was already approved.
	CodeAlreadyProcessed = "ALREADY_PROCESSED_PAYMENT"
)

var (
	errSecretKeyRequired = errors.New("toss secret key is required")
	errLoggerRequired    = errors.New("toss logger is required")
)

// Client is a thin REST wrapper around the Toss payments v1 API with centralized auth,
// logging, idempotency, and error mapping.
type Client struct {
	http      *http.Client
	baseURL   string
	secretKey string
	clientKey string
	logger    *logger.Logger
}

type Option func(*Client)

// WithHTTPClient overrides the transport, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// NewClient validates credentials and builds the wrapper. No network call is made.
func NewClient(ctx context.Context, cfg config.TossConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	secret := strings.TrimSpace(cfg.SecretKey)
	if secret == "" {
		return nil, errSecretKeyRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		http:      &http.Client{Timeout: defaultTimeout},
		baseURL:   baseURL,
		secretKey: secret,
		clientKey: strings.TrimSpace(cfg.ClientKey),
		logger:    logg,
	}
	for _, opt := range opts {
		opt(c)
	}
	logg.Info(ctx, "toss client initialized")
	return c, nil
}

// ClientKey returns the publishable key the browser SDK needs.
func (c *Client) ClientKey() string {
	if c == nil {
		return ""
	}
	return c.clientKey
}

// ConfirmPayment approves a payment the user authorized in the checkout window.
func (c *Client) ConfirmPayment(ctx context.Context, req ConfirmRequest) (*Payment, error) {
	c.log(ctx, "request", "confirm_payment", map[string]any{
		"order_id":    req.OrderID,
		"payment_key": req.PaymentKey,
		"amount":      req.Amount,
	})
	var payment Payment
	// A retried confirm for the same checkout window reuses the key so Toss replays the first answer.
	if err := c.do(ctx, http.MethodPost, "/v1/payments/confirm", "confirm-"+req.PaymentKey, req, &payment); err != nil {
		c.log(ctx, "error", "confirm_payment", map[string]any{"error": err.Error()})
		return nil, c.mapError(err, "confirm payment")
	}
	c.log(ctx, "response", "confirm_payment", map[string]any{
		"order_id": payment.OrderID,
		"status":   payment.Status,
		"amount":   payment.TotalAmount,
	})
	return &payment, nil
}

// CancelPayment refunds the whole payment, or CancelAmount when set.
func (c *Client) CancelPayment(ctx context.Context, paymentKey string, req CancelRequest) (*Payment, error) {
	if strings.TrimSpace(paymentKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment key is required")
	}
	key := c.ensureIdempotencyKey("cancel", req.IdempotencyKey)
	fields := map[string]any{"payment_key": paymentKey, "reason": req.CancelReason}
	if req.CancelAmount != nil {
		fields["cancel_amount"] = *req.CancelAmount
	}
	c.log(ctx, "request", "cancel_payment", fields)

	var payment Payment
	path := "/v1/payments/" + url.PathEscape(paymentKey) + "/cancel"
	if err := c.do(ctx, http.MethodPost, path, key, req, &payment); err != nil {
		c.log(ctx, "error", "cancel_payment", map[string]any{"error": err.Error()})
		return nil, c.mapError(err, "cancel payment")
	}
	c.log(ctx, "response", "cancel_payment", map[string]any{
		"order_id":       payment.OrderID,
		"status":         payment.Status,
		"balance_amount": payment.BalanceAmount,
	})
	return &payment, nil
}

func (c *Client) GetPayment(ctx context.Context, paymentKey string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(paymentKey), "", nil, &payment); err != nil {
		return nil, c.mapError(err, "get payment")
	}
	return &payment, nil
}

func (c *Client) GetPaymentByOrderID(ctx context.Context, orderID string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/orders/"+url.PathEscape(orderID), "", nil, &payment); err != nil {
		return nil, c.mapError(err, "get payment by order")
	}
	return &payment, nil
}

// NewIdempotencyKey returns a unique key for Toss operations.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "ep"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

func (c *Client) ensureIdempotencyKey(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return c.NewIdempotencyKey(prefix)
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", c.authorization())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Code == "" {
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) authorization() string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(c.secretKey+":"))
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"provider":  "toss",
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("toss %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("toss %s", phase))
	}
}

func redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"payment_key", "secret", "card", "account", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

// mapError turns transport and provider failures into GATEWAY_ERROR, keeping the provider
// code in the details so callers can branch on it.
func (c *Client) mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("toss %s failed", op)).WithDetails(map[string]any{
			"provider":      "toss",
			"status":        apiErr.StatusCode,
			"providerCode":  apiErr.Code,
			"providerError": apiErr.Message,
		})
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("toss %s failed", op)).WithDetails(map[string]any{
		"provider": "toss",
	})
}

// ProviderCode extracts the Toss error code from an error returned by the client.
func ProviderCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
