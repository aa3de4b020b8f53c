package dispatch

import (
	"context"
	"fmt"
	"sync"

	"paybroker/internal/platform"
	"paybroker/internal/processor"
	"paybroker/pkg/tenants"
)

type fakeProcessor struct {
	mu    sync.Mutex
	calls map[string]int

	intentStatus string
	customers    map[string]processor.Customer // by email
	cards        []processor.Card
	err          error

	lastIntent       processor.IntentParams
	lastRefund       processor.RefundParams
	lastPrice        processor.PriceParams
	lastSubscription processor.SubscriptionParams

	priceSeq      int
	prices        map[string]string                       // idempotency key -> price id
	subscriptions map[string]processor.SubscriptionParams // idempotency key -> first params
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{calls: map[string]int{}, intentStatus: "succeeded", customers: map[string]processor.Customer{},
		prices: map[string]string{}, subscriptions: map[string]processor.SubscriptionParams{}}
}

func (f *fakeProcessor) hit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeProcessor) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeProcessor) CreatePaymentIntent(ctx context.Context, p processor.IntentParams) (processor.PaymentIntent, error) {
	f.hit("CreatePaymentIntent")
	f.lastIntent = p
	if f.err != nil {
		return processor.PaymentIntent{}, f.err
	}
	return processor.PaymentIntent{ID: "pi_new", Status: f.intentStatus, Amount: p.Amount, Currency: p.Currency, ClientSecret: "pi_new_secret", Created: 1700000000}, nil
}

func (f *fakeProcessor) GetPaymentIntent(ctx context.Context, id string) (processor.PaymentIntent, error) {
	f.hit("GetPaymentIntent")
	if f.err != nil {
		return processor.PaymentIntent{}, f.err
	}
	return processor.PaymentIntent{ID: id, Status: f.intentStatus}, nil
}

func (f *fakeProcessor) CreateRefund(ctx context.Context, p processor.RefundParams) (processor.Refund, error) {
	f.hit("CreateRefund")
	f.lastRefund = p
	if f.err != nil {
		return processor.Refund{}, f.err
	}
	return processor.Refund{ID: "re_1", Object: "refund", Amount: p.Amount, Status: "succeeded", PaymentIntent: p.PaymentIntentID}, nil
}

func (f *fakeProcessor) FindCustomerByEmail(ctx context.Context, email string) (processor.Customer, bool, error) {
	f.hit("FindCustomerByEmail")
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[email]
	return c, ok, nil
}

func (f *fakeProcessor) CreateCustomer(ctx context.Context, p processor.CustomerParams) (processor.Customer, error) {
	f.hit("CreateCustomer")
	f.mu.Lock()
	defer f.mu.Unlock()
	c := processor.Customer{ID: "cus_" + p.Email, Email: p.Email}
	f.customers[p.Email] = c
	return c, nil
}

func (f *fakeProcessor) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	f.hit("SetDefaultPaymentMethod")
	return nil
}

func (f *fakeProcessor) ListCards(ctx context.Context, customerID string) ([]processor.Card, error) {
	f.hit("ListCards")
	return f.cards, nil
}

// CreatePrice replays by idempotency key like the processor does.
func (f *fakeProcessor) CreatePrice(ctx context.Context, p processor.PriceParams) (processor.Price, error) {
	f.hit("CreatePrice")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPrice = p
	if id, ok := f.prices[p.IdempotencyKey]; ok && p.IdempotencyKey != "" {
		return processor.Price{ID: id}, nil
	}
	f.priceSeq++
	id := fmt.Sprintf("price_%d", f.priceSeq)
	if p.IdempotencyKey != "" {
		f.prices[p.IdempotencyKey] = id
	}
	return processor.Price{ID: id}, nil
}

func (f *fakeProcessor) CreateSubscription(ctx context.Context, p processor.SubscriptionParams) (processor.Subscription, error) {
	f.hit("CreateSubscription")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSubscription = p
	if prev, ok := f.subscriptions[p.IdempotencyKey]; ok && p.IdempotencyKey != "" && prev.PriceID != p.PriceID {
		return processor.Subscription{}, &processor.Error{Code: "idempotency_error", Message: "Keys for idempotent requests can only be used with the same parameters they were first used with.", Status: 400}
	}
	if p.IdempotencyKey != "" {
		f.subscriptions[p.IdempotencyKey] = p
	}
	return processor.Subscription{ID: "sub_1", Status: "active", Created: 1700000000, BillingCycleAnchor: 1700000500}, nil
}

type fakeTokens struct {
	calls     int
	err       error
	companies []string
}

func (f *fakeTokens) Resolve(ctx context.Context, locationID, companyID string) (tenants.Token, error) {
	f.calls++
	f.companies = append(f.companies, companyID)
	if f.err != nil {
		return tenants.Token{}, f.err
	}
	return tenants.Token{LocationID: locationID, AccessToken: "loc-token"}, nil
}

type fakeContacts struct {
	contacts map[string]platform.Contact
	calls    int
}

func (f *fakeContacts) GetContact(ctx context.Context, accessToken, contactID string) (platform.Contact, error) {
	f.calls++
	return f.contacts[contactID], nil
}
