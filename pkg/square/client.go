package square

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/tenant-billing/pkg/config"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

const (
	sandboxEnv    = "sandbox"
	productionEnv = "production"

	// SignatureHeader carries the base64 HMAC-SHA256 of notification URL + body.
	SignatureHeader = "x-square-hmacsha256-signature"
)

var (
	errAccessTokenRequired  = errors.New("square access token is required")
	errSignatureKeyRequired = errors.New("square webhook signature key is required")
	errLocationRequired     = errors.New("square location id is required")
	errInvalidSquareEnv     = fmt.Errorf("square environment must be %q or %q", sandboxEnv, productionEnv)
	errLoggerRequired       = errors.New("square logger is required")
)

// Client exposes the Square Checkout, Orders and Payments calls used for
// hosted checkout, with centralized logging, idempotency and error mapping.
type Client struct {
	sdk             *sqclient.Client
	environment     string
	locationID      string
	signatureKey    string
	notificationURL string
	logger          *logger.Logger
}

// NewClient initializes the Square wrapper and validates the credentials.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	env, err := normalizeEnv(cfg.Env)
	if err != nil {
		return nil, err
	}

	accessToken := strings.TrimSpace(cfg.AccessToken)
	if accessToken == "" {
		return nil, errAccessTokenRequired
	}
	signatureKey := strings.TrimSpace(cfg.SignatureKey)
	if signatureKey == "" {
		return nil, errSignatureKeyRequired
	}
	locationID := strings.TrimSpace(cfg.LocationID)
	if locationID == "" {
		return nil, errLocationRequired
	}

	sdk := sqclient.NewClient(
		sqoption.WithBaseURL(cfg.BaseURL()),
		sqoption.WithToken(accessToken),
	)

	c := &Client{
		sdk:             sdk,
		environment:     env,
		locationID:      locationID,
		signatureKey:    signatureKey,
		notificationURL: strings.TrimSpace(cfg.NotificationURL),
		logger:          logg,
	}

	logg.Info(ctx, fmt.Sprintf("square client initialized (%s)", env))
	return c, nil
}

// Environment reports the normalized Square environment.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// LocationID is the seller location payment links are created for.
func (c *Client) LocationID() string {
	if c == nil {
		return ""
	}
	return c.locationID
}

// NewIdempotencyKey returns a unique key for Square operations.
func (c *Client) NewIdempotencyKey(prefix string) string {
	key := strings.TrimSpace(prefix)
	if key == "" {
		key = "billing"
	}
	return fmt.Sprintf("%s-%s", key, uuid.NewString())
}

// VerifySignature checks a webhook delivery against the configured signature
// key and notification URL.
func (c *Client) VerifySignature(body []byte, header string) bool {
	if c == nil {
		return false
	}
	return ValidSignature(c.signatureKey, c.notificationURL, body, header)
}

// ValidSignature computes Square's webhook signature and compares it in
// constant time.
func ValidSignature(key, notificationURL string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" || key == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(key, notificationURL, body)), []byte(header))
}

// Sign returns the signature Square would send for body.
func Sign(key, notificationURL string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(notificationURL))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// CreatePaymentLink opens a quick-pay checkout for a single amount.
func (c *Client) CreatePaymentLink(ctx context.Context, params PaymentLinkParams) (*sq.PaymentLink, error) {
	if strings.TrimSpace(params.LocationID) == "" {
		params.LocationID = c.locationID
	}
	req := params.toSquareRequest(c.ensureIdempotencyKey("payment_link.create", params.IdempotencyKey))
	c.log(ctx, "request", "create_payment_link", map[string]any{
		"location_id":  params.LocationID,
		"amount":       params.AmountCents,
		"currency":     params.Currency,
		"reference_id": params.ReferenceID,
	})

	resp, err := c.sdk.Checkout.PaymentLinks.Create(ctx, req)
	if err != nil {
		c.log(ctx, "error", "create_payment_link", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "create payment link")
	}

	link := resp.GetPaymentLink()
	if link == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square returned no payment link")
	}
	c.log(ctx, "response", "create_payment_link", map[string]any{
		"payment_link_id": stringValue(link.GetID()),
		"order_id":        stringValue(link.GetOrderID()),
	})
	return link, nil
}

// GetOrder loads the order behind a payment link.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*sq.Order, error) {
	req := &sq.GetOrdersRequest{OrderID: orderID}
	c.log(ctx, "request", "get_order", map[string]any{"order_id": orderID})

	resp, err := c.sdk.Orders.Get(ctx, req)
	if err != nil {
		c.log(ctx, "error", "get_order", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "get order")
	}

	order := resp.GetOrder()
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "square order not found")
	}
	c.log(ctx, "response", "get_order", map[string]any{
		"order_id": stringValue(order.GetID()),
		"state":    orderStateString(order.GetState()),
	})
	return order, nil
}

// GetPayment loads a Square payment by id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*sq.Payment, error) {
	req := &sq.GetPaymentsRequest{PaymentID: paymentID}
	c.log(ctx, "request", "get_payment", map[string]any{"payment_id": paymentID})

	resp, err := c.sdk.Payments.Get(ctx, req)
	if err != nil {
		c.log(ctx, "error", "get_payment", map[string]any{"error": err.Error()})
		return nil, c.mapSquareError(err, "get payment")
	}

	payment := resp.GetPayment()
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "square payment not found")
	}
	c.log(ctx, "response", "get_payment", map[string]any{
		"payment_id": stringValue(payment.GetID()),
		"status":     stringValue(payment.GetStatus()),
	})
	return payment, nil
}

func (c *Client) ensureIdempotencyKey(prefix, provided string) string {
	if strings.TrimSpace(provided) != "" {
		return provided
	}
	return c.NewIdempotencyKey(prefix)
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = c.redact(k, v)
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("square %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Debug(ctx, fmt.Sprintf("square %s", phase))
	}
}

func (c *Client) redact(key string, value any) any {
	lower := strings.ToLower(key)
	for _, sensitive := range []string{"card", "nonce", "token", "cvv", "cvc", "secret", "email", "phone"} {
		if strings.Contains(lower, sensitive) {
			return "[REDACTED]"
		}
	}
	return value
}

func (c *Client) mapSquareError(err error, op string) error {
	if err == nil {
		return nil
	}
	var apiErr *sqcore.APIError
	if errors.As(err, &apiErr) {
		code := domainCodeForStatus(apiErr.StatusCode)
		for _, sqErr := range c.extractSquareErrors(apiErr) {
			if sqErr == nil {
				continue
			}
			if sqErr.Code == sq.ErrorCodeIdempotencyKeyReused {
				code = pkgerrors.CodeIdempotency
				break
			}
			if sqErr.Category == sq.ErrorCategoryAuthenticationError {
				code = pkgerrors.CodeUnauthorized
				break
			}
		}
		return pkgerrors.Wrap(code, err, fmt.Sprintf("square %s failed", op))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("square %s failed", op))
}

func (c *Client) extractSquareErrors(apiErr *sqcore.APIError) []*sq.Error {
	if apiErr == nil {
		return nil
	}
	inner := apiErr.Unwrap()
	if inner == nil {
		return nil
	}
	raw := strings.TrimSpace(inner.Error())
	if raw == "" {
		return nil
	}
	var payload struct {
		Errors []*sq.Error `json:"errors"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusTooManyRequests:
		return pkgerrors.CodeRateLimit
	case http.StatusBadRequest:
		return pkgerrors.CodeValidation
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeStateConflict
	default:
		if status >= 400 && status < 500 {
			return pkgerrors.CodeValidation
		}
		return pkgerrors.CodeDependency
	}
}

func stringValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func orderStateString(state *sq.OrderState) string {
	if state == nil {
		return ""
	}
	return string(*state)
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = sandboxEnv
	}
	switch env {
	case sandboxEnv, productionEnv:
		return env, nil
	default:
		return "", errInvalidSquareEnv
	}
}
