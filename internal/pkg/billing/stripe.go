package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v76"
	checkoutsession "github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/customer"
	stripesubscription "github.com/stripe/stripe-go/v76/subscription"
)

// CheckoutParams describes a hosted checkout session to create. PriceID is
// used in subscription mode; AmountCents/Currency/ProductName describe the
// ad-hoc line item for one-off course purchases.
type CheckoutParams struct {
	CustomerID  string
	Mode        string
	PriceID     string
	TrialDays   int64
	AmountCents int64
	Currency    string
	ProductName string
	SuccessURL  string
	CancelURL   string
	Metadata    map[string]string
}

// Checkout modes accepted by CreateCheckoutSession.
const (
	CheckoutModePayment      = "payment"
	CheckoutModeSubscription = "subscription"
)

// CheckoutSession is the created session the caller redirects to.
type CheckoutSession struct {
	ID  string
	URL string
}

// Gateway abstracts the payment provider API surface the billing and
// checkout services depend on. Tests substitute a fake.
type Gateway interface {
	CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error)
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error)
	CancelSubscriptionAtPeriodEnd(ctx context.Context, subscriptionID string) error
	CancelSubscription(ctx context.Context, subscriptionID string) error
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) error
}

type stripeGateway struct{}

// NewStripeGateway configures the global Stripe client key and returns the
// real gateway implementation.
func NewStripeGateway(secretKey string) Gateway {
	stripe.Key = secretKey
	return &stripeGateway{}
}

func (g *stripeGateway) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (string, error) {
	_ = ctx
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	return cust.ID, nil
}

func (g *stripeGateway) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	_ = ctx
	params := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(p.CustomerID),
		Mode:       stripe.String(p.Mode),
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}

	switch p.Mode {
	case CheckoutModeSubscription:
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(p.PriceID),
				Quantity: stripe.Int64(1),
			},
		}
		if p.TrialDays > 0 {
			params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
				TrialPeriodDays: stripe.Int64(p.TrialDays),
				Metadata:        p.Metadata,
			}
		} else {
			params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
				Metadata: p.Metadata,
			}
		}
	case CheckoutModePayment:
		params.LineItems = []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(p.Currency),
					UnitAmount: stripe.Int64(p.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(p.ProductName),
					},
				},
				Quantity: stripe.Int64(1),
			},
		}
	default:
		return nil, fmt.Errorf("unsupported checkout mode: %s", p.Mode)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (g *stripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	_ = ctx
	sub, err := stripesubscription.Get(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription %s: %w", subscriptionID, err)
	}
	return sub, nil
}

func (g *stripeGateway) CancelSubscriptionAtPeriodEnd(ctx context.Context, subscriptionID string) error {
	_ = ctx
	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	if _, err := stripesubscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("failed to schedule cancellation for %s: %w", subscriptionID, err)
	}
	return nil
}

func (g *stripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) error {
	_ = ctx
	params := &stripe.SubscriptionCancelParams{
		InvoiceNow: stripe.Bool(false),
		Prorate:    stripe.Bool(false),
	}
	if _, err := stripesubscription.Cancel(subscriptionID, params); err != nil {
		return fmt.Errorf("failed to cancel subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (g *stripeGateway) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) error {
	_ = ctx
	sub, err := stripesubscription.Get(subscriptionID, nil)
	if err != nil {
		return fmt.Errorf("failed to get subscription %s: %w", subscriptionID, err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return fmt.Errorf("subscription %s has no items", subscriptionID)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(sub.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	if _, err := stripesubscription.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("failed to update subscription %s: %w", subscriptionID, err)
	}
	return nil
}
