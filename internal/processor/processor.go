// Package processor is the payment-processor capability used by the
// dispatcher: charges, refunds, customers, cards and subscriptions.
package processor

import (
	"context"
)

type PaymentIntent struct {
	ID           string
	Status       string
	Amount       int64
	Currency     string
	ClientSecret string
	Created      int64
}

type Refund struct {
	ID            string `json:"id"`
	Object        string `json:"object"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	PaymentIntent string `json:"payment_intent"`
	Created       int64  `json:"created"`
}

type Customer struct {
	ID    string
	Email string
}

type Card struct {
	ID       string
	Brand    string
	Last4    string
	ExpMonth int64
	ExpYear  int64
}

type Price struct {
	ID string
}

type Subscription struct {
	ID                 string
	Status             string
	TrialEnd           int64
	Created            int64
	BillingCycleAnchor int64
}

// IntentParams covers both off-session confirmed charges (PaymentMethodID set)
// and checkout intents confirmed by the browser (AutomaticMethods).
type IntentParams struct {
	Amount           int64
	Currency         string
	CustomerID       string
	PaymentMethodID  string
	OffSession       bool
	AutomaticMethods bool
	Metadata         map[string]string
	IdempotencyKey   string
}

type RefundParams struct {
	PaymentIntentID string
	Amount          int64 // zero refunds the full amount
	IdempotencyKey  string
}

type CustomerParams struct {
	Email    string
	Name     string
	Metadata map[string]string
}

type PriceParams struct {
	ProductName   string
	UnitAmount    int64
	Currency      string
	Interval      string // day | week | month | year
	IntervalCount int64
	// IdempotencyKey must be stable across retries of one event so the
	// subscription replays against the same price.
	IdempotencyKey string
}

type SubscriptionParams struct {
	CustomerID         string
	PriceID            string
	BillingCycleAnchor int64 // unix seconds, zero to start now
	Metadata           map[string]string
	IdempotencyKey     string
}

// Client is scoped to one tenant's secret key. Never share one across tenants.
type Client interface {
	CreatePaymentIntent(ctx context.Context, p IntentParams) (PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (PaymentIntent, error)
	CreateRefund(ctx context.Context, p RefundParams) (Refund, error)
	// FindCustomerByEmail returns ok=false when no customer has that email.
	FindCustomerByEmail(ctx context.Context, email string) (c Customer, ok bool, err error)
	CreateCustomer(ctx context.Context, p CustomerParams) (Customer, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	ListCards(ctx context.Context, customerID string) ([]Card, error)
	CreatePrice(ctx context.Context, p PriceParams) (Price, error)
	CreateSubscription(ctx context.Context, p SubscriptionParams) (Subscription, error)
}

// Factory builds a Client for one plaintext secret key.
type Factory func(secretKey string) Client

// Error carries the processor's user-facing message.
type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string { return e.Message }
