package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/angelmondragon/eventpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/eventpay-backend/pkg/errors"
	"github.com/angelmondragon/eventpay-backend/pkg/logger"
)

const (
	sandboxEnv = "sandbox"
	liveEnv    = "live"

	defaultTimeout = 30 * time.Second
	// tokens are refreshed this long before PayPal would expire them.
	tokenSkew = 60 * time.Second
)

var (
	ErrConfigInvalid   = errors.New("paypal config invalid")
	ErrAuthFailed      = errors.New("paypal auth failed")
	ErrRequestFailed   = errors.New("paypal request failed")
	ErrResponseInvalid = errors.New("paypal response invalid")
)

var baseURLs = map[string]string{
	sandboxEnv: "https://api-m.sandbox.paypal.com",
	liveEnv:    "https://api-m.paypal.com",
}

// TokenCache shares access tokens across instances. *redis.Client satisfies it.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Client wraps the PayPal Orders v2 and Payments v2 REST APIs.
type Client struct {
	http         *http.Client
	baseURL      string
	clientID     string
	clientSecret string
	brandName    string
	currency     string
	logger       *logger.Logger

	cache    TokenCache
	cacheKey string

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	refresh     singleflight.Group
	now         func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBaseURL points the client at a non-standard host (tests, proxies).
func WithBaseURL(base string) Option {
	return func(c *Client) {
		if strings.TrimSpace(base) != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithTokenCache shares access tokens through an external cache under key.
func WithTokenCache(cache TokenCache, key string) Option {
	return func(c *Client) {
		c.cache = cache
		c.cacheKey = key
	}
}

func NewClient(ctx context.Context, cfg config.PayPalConfig, logg *logger.Logger, opts ...Option) (*Client, error) {
	if logg == nil {
		return nil, fmt.Errorf("%w: logger is required", ErrConfigInvalid)
	}
	env := cfg.Environment()
	base, ok := baseURLs[env]
	if !ok {
		return nil, fmt.Errorf("%w: environment must be %q or %q", ErrConfigInvalid, sandboxEnv, liveEnv)
	}
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || secret == "" {
		return nil, fmt.Errorf("%w: client id and secret are required", ErrConfigInvalid)
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = "USD"
	}
	c := &Client{
		http:         &http.Client{Timeout: defaultTimeout},
		baseURL:      base,
		clientID:     clientID,
		clientSecret: secret,
		brandName:    cfg.BrandName,
		currency:     currency,
		logger:       logg,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	logg.Info(logg.WithField(ctx, "paypal_env", env), "paypal client initialized")
	return c, nil
}

// Currency returns the settlement currency configured for the client.
func (c *Client) Currency() string {
	return c.currency
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	currency := req.Currency
	if currency == "" {
		currency = c.currency
	}
	body := createOrderBody{
		Intent: "CAPTURE",
		PurchaseUnits: []PurchaseUnit{{
			ReferenceID: req.OrderID,
			CustomID:    req.OrderID,
			InvoiceID:   req.OrderID,
			Description: req.Description,
			Amount:      &Money{CurrencyCode: currency, Value: FormatAmount(req.Amount, currency)},
		}},
		Context: &appContext{
			BrandName:          c.brandName,
			ReturnURL:          req.ReturnURL,
			CancelURL:          req.CancelURL,
			ShippingPreference: "NO_SHIPPING",
			UserAction:         "PAY_NOW",
		},
	}
	c.log(ctx, "request", "create_order", map[string]any{"order_id": req.OrderID, "amount": req.Amount, "currency": currency})

	var order Order
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", "create-"+req.OrderID, body, &order); err != nil {
		c.log(ctx, "error", "create_order", map[string]any{"error": err.Error()})
		return nil, mapError(err, "create order")
	}
	if order.ID == "" {
		return nil, mapError(fmt.Errorf("%w: order id missing", ErrResponseInvalid), "create order")
	}
	c.log(ctx, "response", "create_order", map[string]any{"paypal_order_id": order.ID, "status": order.Status})
	return &order, nil
}

// CaptureOrder captures an approved order. requestID makes retries idempotent on PayPal's side.
func (c *Client) CaptureOrder(ctx context.Context, paypalOrderID, requestID string) (*Order, error) {
	if strings.TrimSpace(paypalOrderID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "paypal order id is required")
	}
	c.log(ctx, "request", "capture_order", map[string]any{"paypal_order_id": paypalOrderID})

	var order Order
	path := "/v2/checkout/orders/" + url.PathEscape(paypalOrderID) + "/capture"
	if err := c.do(ctx, http.MethodPost, path, ensureRequestID("capture", requestID), struct{}{}, &order); err != nil {
		c.log(ctx, "error", "capture_order", map[string]any{"error": err.Error()})
		return nil, mapError(err, "capture order")
	}
	if order.FirstCapture() == nil {
		return nil, mapError(fmt.Errorf("%w: capture missing from order %s", ErrResponseInvalid, paypalOrderID), "capture order")
	}
	c.log(ctx, "response", "capture_order", map[string]any{"paypal_order_id": order.ID, "status": order.Status})
	return &order, nil
}

func (c *Client) RefundCapture(ctx context.Context, captureID string, req RefundRequest) (*Refund, error) {
	if strings.TrimSpace(captureID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "capture id is required")
	}
	currency := req.Currency
	if currency == "" {
		currency = c.currency
	}
	body := refundBody{NoteToPayer: truncate(req.Note, 255)}
	if req.Amount > 0 {
		body.Amount = &Money{CurrencyCode: currency, Value: FormatAmount(req.Amount, currency)}
	}
	c.log(ctx, "request", "refund_capture", map[string]any{"capture_id": captureID, "amount": req.Amount})

	var refund Refund
	path := "/v2/payments/captures/" + url.PathEscape(captureID) + "/refund"
	if err := c.do(ctx, http.MethodPost, path, ensureRequestID("refund", req.RequestID), body, &refund); err != nil {
		c.log(ctx, "error", "refund_capture", map[string]any{"error": err.Error()})
		return nil, mapError(err, "refund capture")
	}
	c.log(ctx, "response", "refund_capture", map[string]any{"refund_id": refund.ID, "status": refund.Status})
	return &refund, nil
}

func (c *Client) GetOrder(ctx context.Context, paypalOrderID string) (*Order, error) {
	var order Order
	if err := c.do(ctx, http.MethodGet, "/v2/checkout/orders/"+url.PathEscape(paypalOrderID), "", nil, &order); err != nil {
		return nil, mapError(err, "get order")
	}
	return &order, nil
}

// accessToken returns a valid bearer token, refreshing at most once across concurrent callers.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	if c.cache != nil && c.cacheKey != "" {
		if cached, err := c.cache.Get(ctx, c.cacheKey); err == nil && cached != "" {
			return cached, nil
		}
	}

	v, err, _ := c.refresh.Do("token", func() (any, error) {
		c.mu.Lock()
		if c.token != "" && c.now().Before(c.tokenExpiry) {
			token := c.token
			c.mu.Unlock()
			return token, nil
		}
		c.mu.Unlock()
		return c.fetchToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build token request: %v", ErrAuthFailed, err)
	}
	req.SetBasicAuth(c.clientID, c.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrAuthFailed, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil || tok.AccessToken == "" {
		return "", fmt.Errorf("%w: token response missing access_token", ErrResponseInvalid)
	}

	ttl := time.Duration(tok.ExpiresIn)*time.Second - tokenSkew
	if ttl <= 0 {
		ttl = time.Minute
	}
	c.mu.Lock()
	c.token = tok.AccessToken
	c.tokenExpiry = c.now().Add(ttl)
	c.mu.Unlock()

	if c.cache != nil && c.cacheKey != "" {
		if err := c.cache.Set(ctx, c.cacheKey, tok.AccessToken, ttl); err != nil {
			c.logger.Warn(c.logger.WithField(ctx, "error", err.Error()), "paypal token cache write failed")
		}
	}
	return tok.AccessToken, nil
}

func (c *Client) do(ctx context.Context, method, path, requestID string, body, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode request: %v", ErrRequestFailed, err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRequestFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if requestID != "" {
		req.Header.Set("PayPal-Request-Id", requestID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrRequestFailed, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
	}
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Name == "" {
			apiErr.Name = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", ErrAuthFailed, apiErr)
		}
		return fmt.Errorf("%w: %w", ErrRequestFailed, apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrResponseInvalid, err)
	}
	return nil
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"provider":  "paypal",
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	if phase == "error" {
		c.logger.Error(ctx, fmt.Sprintf("paypal %s", op), errors.New(fmt.Sprint(fields["error"])))
		return
	}
	c.logger.Info(ctx, fmt.Sprintf("paypal %s", phase))
}

func mapError(err error, op string) error {
	if err == nil {
		return nil
	}
	details := map[string]any{"provider": "paypal"}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		details["status"] = apiErr.StatusCode
		details["providerCode"] = apiErr.Name
		details["debugId"] = apiErr.DebugID
		if issue := apiErr.Issue(); issue != "" {
			details["issue"] = issue
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeGateway, err, fmt.Sprintf("paypal %s failed", op)).WithDetails(details)
}

func ensureRequestID(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
