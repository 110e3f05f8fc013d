package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/angelmondragon/tenant-billing/pkg/config"
	pkgerrors "github.com/angelmondragon/tenant-billing/pkg/errors"
	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	// SignatureHeader is the header Stripe signs webhook deliveries with.
	SignatureHeader = "Stripe-Signature"
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// Client wraps the Stripe Checkout Session API plus env-specific metadata.
type Client struct {
	environment   string
	signingSecret string
	logger        *logger.Logger
}

// CheckoutParams describes a one-off payment-mode Checkout Session.
type CheckoutParams struct {
	Name        string
	AmountCents int64
	Currency    string
	SuccessURL  string
	CancelURL   string
	Email       string
	ReferenceID string
	Metadata    map[string]string
}

// NewClient initializes Stripe once with the configured secrets and env.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env, err := normalizeEnv(cfg.Environment())
	if err != nil {
		return nil, err
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	signingSecret := strings.TrimSpace(cfg.Secret)
	if signingSecret == "" {
		return nil, errSecretRequired
	}

	if err := validateAPIKey(env, apiKey); err != nil {
		return nil, err
	}

	stripe.Key = apiKey

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}

	return &Client{
		environment:   env,
		signingSecret: signingSecret,
		logger:        logg,
	}, nil
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// CreateCheckoutSession opens a hosted payment page for a single amount.
func (c *Client) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*stripe.CheckoutSession, error) {
	req := checkoutSessionParams(params)
	req.Context = ctx

	sess, err := session.New(req)
	if err != nil {
		c.logError(ctx, "create checkout session", err)
		return nil, mapStripeError(err, "create checkout session")
	}
	return sess, nil
}

// GetCheckoutSession reloads a session, expanding its payment intent.
func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	sess, err := session.Get(id, params)
	if err != nil {
		c.logError(ctx, "get checkout session", err)
		return nil, mapStripeError(err, "get checkout session")
	}
	return sess, nil
}

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
func (c *Client) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, header, c.SigningSecret(), webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func checkoutSessionParams(p CheckoutParams) *stripe.CheckoutSessionParams {
	currency := strings.ToLower(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = "usd"
	}
	req := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(currency),
					UnitAmount: stripe.Int64(p.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.Name),
					},
				},
			},
		},
	}
	if ref := strings.TrimSpace(p.ReferenceID); ref != "" {
		req.ClientReferenceID = stripe.String(ref)
	}
	if email := strings.TrimSpace(p.Email); email != "" {
		req.CustomerEmail = stripe.String(email)
	}
	for k, v := range p.Metadata {
		req.AddMetadata(k, v)
	}
	return req
}

func mapStripeError(err error, op string) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == 404:
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, fmt.Sprintf("stripe %s failed", op))
		case stripeErr.HTTPStatusCode == 401:
			return pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, fmt.Sprintf("stripe %s failed", op))
		case stripeErr.HTTPStatusCode >= 400 && stripeErr.HTTPStatusCode < 500 && stripeErr.HTTPStatusCode != 429:
			return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("stripe %s failed", op))
		}
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("stripe %s failed", op))
}

func (c *Client) logError(ctx context.Context, op string, err error) {
	if c == nil || c.logger == nil {
		return
	}
	c.logger.Error(c.logger.WithField(ctx, "operation", op), "stripe call failed", err)
}

func normalizeEnv(raw string) (string, error) {
	env := strings.TrimSpace(strings.ToLower(raw))
	if env == "" {
		env = testEnv
	}
	switch env {
	case testEnv, liveEnv:
		return env, nil
	default:
		return "", errInvalidStripeEnv
	}
}

func validateAPIKey(env, key string) error {
	switch env {
	case testEnv:
		if strings.HasPrefix(key, "sk_test") || strings.HasPrefix(key, "rk_test") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a test secret key (sk_test/rk_test)", testEnv)
	case liveEnv:
		if strings.HasPrefix(key, "sk_live") || strings.HasPrefix(key, "rk_live") {
			return nil
		}
		return fmt.Errorf("stripe environment %q requires a live secret key (sk_live/rk_live)", liveEnv)
	default:
		return errInvalidStripeEnv
	}
}
