package processor

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

type stripeClient struct {
	sc  *stripe.Client
	log *zap.SugaredLogger
}

// NewStripeFactory returns a Factory producing one stripe.Client per secret key.
func NewStripeFactory(log *zap.SugaredLogger) Factory {
	return func(secretKey string) Client {
		return newStripeClient(secretKey, nil, log)
	}
}

// newStripeClient uses the default API backends when backends is nil.
func newStripeClient(secretKey string, backends *stripe.Backends, log *zap.SugaredLogger) *stripeClient {
	if backends == nil {
		return &stripeClient{sc: stripe.NewClient(secretKey), log: log}
	}
	return &stripeClient{sc: stripe.NewClient(secretKey, stripe.WithBackends(backends)), log: log}
}

func (s *stripeClient) CreatePaymentIntent(ctx context.Context, p IntentParams) (PaymentIntent, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(p.Amount),
		Currency: stripe.String(p.Currency),
		Metadata: p.Metadata,
	}
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	if p.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(p.PaymentMethodID)
		params.Confirm = stripe.Bool(true)
		params.OffSession = stripe.Bool(p.OffSession)
	}
	if p.AutomaticMethods {
		params.AutomaticPaymentMethods = &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{Enabled: stripe.Bool(true)}
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	pi, err := s.sc.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return PaymentIntent{}, wrap(err)
	}
	return toIntent(pi), nil
}

func (s *stripeClient) GetPaymentIntent(ctx context.Context, id string) (PaymentIntent, error) {
	pi, err := s.sc.V1PaymentIntents.Retrieve(ctx, id, &stripe.PaymentIntentRetrieveParams{})
	if err != nil {
		return PaymentIntent{}, wrap(err)
	}
	return toIntent(pi), nil
}

func (s *stripeClient) CreateRefund(ctx context.Context, p RefundParams) (Refund, error) {
	params := &stripe.RefundCreateParams{PaymentIntent: stripe.String(p.PaymentIntentID)}
	if p.Amount > 0 {
		params.Amount = stripe.Int64(p.Amount)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	r, err := s.sc.V1Refunds.Create(ctx, params)
	if err != nil {
		return Refund{}, wrap(err)
	}
	out := Refund{
		ID:       r.ID,
		Object:   "refund",
		Amount:   r.Amount,
		Currency: string(r.Currency),
		Status:   string(r.Status),
		Created:  r.Created,
	}
	if r.PaymentIntent != nil {
		out.PaymentIntent = r.PaymentIntent.ID
	}
	return out, nil
}

func (s *stripeClient) FindCustomerByEmail(ctx context.Context, email string) (Customer, bool, error) {
	params := &stripe.CustomerListParams{Email: stripe.String(email)}
	params.Limit = stripe.Int64(1)
	for c, err := range s.sc.V1Customers.List(ctx, params) {
		if err != nil {
			return Customer{}, false, wrap(err)
		}
		return Customer{ID: c.ID, Email: c.Email}, true, nil
	}
	return Customer{}, false, nil
}

func (s *stripeClient) CreateCustomer(ctx context.Context, p CustomerParams) (Customer, error) {
	params := &stripe.CustomerCreateParams{
		Email:    stripe.String(p.Email),
		Metadata: p.Metadata,
	}
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}
	c, err := s.sc.V1Customers.Create(ctx, params)
	if err != nil {
		return Customer{}, wrap(err)
	}
	return Customer{ID: c.ID, Email: c.Email}, nil
}

func (s *stripeClient) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := &stripe.CustomerUpdateParams{
		InvoiceSettings: &stripe.CustomerUpdateInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	_, err := s.sc.V1Customers.Update(ctx, customerID, params)
	return wrap(err)
}

func (s *stripeClient) ListCards(ctx context.Context, customerID string) ([]Card, error) {
	params := &stripe.PaymentMethodListParams{
		Customer: stripe.String(customerID),
		Type:     stripe.String("card"),
	}
	out := []Card{}
	for pm, err := range s.sc.V1PaymentMethods.List(ctx, params) {
		if err != nil {
			return nil, wrap(err)
		}
		c := Card{ID: pm.ID}
		if pm.Card != nil {
			c.Brand = string(pm.Card.Brand)
			c.Last4 = pm.Card.Last4
			c.ExpMonth = pm.Card.ExpMonth
			c.ExpYear = pm.Card.ExpYear
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *stripeClient) CreatePrice(ctx context.Context, p PriceParams) (Price, error) {
	params := &stripe.PriceCreateParams{
		Currency:    stripe.String(p.Currency),
		UnitAmount:  stripe.Int64(p.UnitAmount),
		ProductData: &stripe.PriceCreateProductDataParams{Name: stripe.String(p.ProductName)},
	}
	if p.Interval != "" {
		params.Recurring = &stripe.PriceCreateRecurringParams{Interval: stripe.String(p.Interval)}
		if p.IntervalCount > 0 {
			params.Recurring.IntervalCount = stripe.Int64(p.IntervalCount)
		}
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	pr, err := s.sc.V1Prices.Create(ctx, params)
	if err != nil {
		return Price{}, wrap(err)
	}
	return Price{ID: pr.ID}, nil
}

func (s *stripeClient) CreateSubscription(ctx context.Context, p SubscriptionParams) (Subscription, error) {
	params := &stripe.SubscriptionCreateParams{
		Customer:          stripe.String(p.CustomerID),
		Items:             []*stripe.SubscriptionCreateItemParams{{Price: stripe.String(p.PriceID)}},
		ProrationBehavior: stripe.String("none"),
		Metadata:          p.Metadata,
	}
	if p.BillingCycleAnchor > 0 {
		params.BillingCycleAnchor = stripe.Int64(p.BillingCycleAnchor)
	}
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}
	sub, err := s.sc.V1Subscriptions.Create(ctx, params)
	if err != nil {
		return Subscription{}, wrap(err)
	}
	return Subscription{
		ID:                 sub.ID,
		Status:             string(sub.Status),
		TrialEnd:           sub.TrialEnd,
		Created:            sub.Created,
		BillingCycleAnchor: sub.BillingCycleAnchor,
	}, nil
}

func toIntent(pi *stripe.PaymentIntent) PaymentIntent {
	return PaymentIntent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		ClientSecret: pi.ClientSecret,
		Created:      pi.Created,
	}
}

// wrap turns a *stripe.Error into an *Error carrying the human message.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		msg := se.Msg
		if msg == "" {
			msg = string(se.Code)
		}
		return &Error{Code: string(se.Code), Message: msg, Status: se.HTTPStatusCode}
	}
	return err
}
