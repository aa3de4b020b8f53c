// Package dispatch routes authenticated payment events to processor
// operations and shapes the acknowledgement the platform expects.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"paybroker/internal/platform"
	"paybroker/internal/policy"
	"paybroker/internal/processor"
	"paybroker/internal/token"
	"paybroker/pkg/tenants"
)

// TokenSource yields a platform token usable for a location.
type TokenSource interface {
	Resolve(ctx context.Context, locationID, companyID string) (tenants.Token, error)
}

// ContactReader reads platform contacts.
type ContactReader interface {
	GetContact(ctx context.Context, accessToken, contactID string) (platform.Contact, error)
}

type Dispatcher struct {
	store    tenants.Store
	tokens   TokenSource
	platform ContactReader
	guard    *policy.Guard
	locker   Locker
	log      *zap.SugaredLogger
	now      func() time.Time
}

type Option func(*Dispatcher)

func WithGuard(g *policy.Guard) Option { return func(d *Dispatcher) { d.guard = g } }
func WithLocker(l Locker) Option        { return func(d *Dispatcher) { d.locker = l } }

func New(store tenants.Store, tokens TokenSource, contacts ContactReader, log *zap.SugaredLogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: store, tokens: tokens, platform: contacts, log: log, now: time.Now}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch handles one event with a client scoped to the event's tenant.
// It never returns an error: failures become Failure values.
func (d *Dispatcher) Dispatch(ctx context.Context, client processor.Client, ev Event) any {
	var h func(context.Context, processor.Client, Event) any
	switch ev.Type {
	case TypeVerify:
		h = d.verify
	case TypeRefund:
		h = d.refund
	case TypeListPaymentMethods:
		h = d.listPaymentMethods
	case TypeChargePayment:
		h = d.chargePayment
	case TypeCreateSubscription:
		h = d.createSubscription
	default:
		d.log.Warnw("unhandled event type", "event_type", ev.Type, "location_id", ev.LocationID)
		return Unhandled{Success: false, Message: "Unhandled event type"}
	}

	dec := d.guard.Decide(ctx, policy.Input{
		Type:       ev.Type,
		LocationID: ev.LocationID,
		Amount:     ev.Amount,
		Currency:   ev.Currency,
		Mode:       string(ev.Mode),
	})
	if !dec.Allow {
		d.log.Infow("event blocked by policy", "event_type", ev.Type, "location_id", ev.LocationID, "reason", dec.Reason)
		return fail("Blocked by policy: " + dec.Reason)
	}
	return h(ctx, client, ev)
}

func (d *Dispatcher) verify(ctx context.Context, client processor.Client, ev Event) any {
	if ev.ChargeID == "" {
		return fail("chargeId is required")
	}
	pi, err := client.GetPaymentIntent(ctx, ev.ChargeID)
	if err != nil {
		return d.failure(ev, "retrieve payment intent", err)
	}
	if pi.Status != "succeeded" {
		return fail("Payment status: " + pi.Status)
	}
	return Success{Success: true}
}

func (d *Dispatcher) refund(ctx context.Context, client processor.Client, ev Event) any {
	if ev.TransactionID == "" {
		return fail("transactionId is required")
	}
	r, err := client.CreateRefund(ctx, processor.RefundParams{
		PaymentIntentID: ev.TransactionID,
		Amount:          ev.Amount,
		IdempotencyKey:  ev.processorKey(),
	})
	if err != nil {
		return d.failure(ev, "create refund", err)
	}
	return RefundResult{Success: true, RefundSnapshot: r}
}

func (d *Dispatcher) listPaymentMethods(ctx context.Context, client processor.Client, ev Event) any {
	customerID, err := d.customerFor(ctx, client, ev.LocationID, ev.ContactID)
	if errors.Is(err, ErrMissingEmail) {
		return []PaymentMethod{}
	}
	if err != nil {
		return d.failure(ev, "resolve customer", err)
	}
	cards, err := client.ListCards(ctx, customerID)
	if err != nil {
		return d.failure(ev, "list payment methods", err)
	}
	out := make([]PaymentMethod, 0, len(cards))
	for _, c := range cards {
		out = append(out, formatCard(c, customerID))
	}
	return out
}

func (d *Dispatcher) chargePayment(ctx context.Context, client processor.Client, ev Event) any {
	if ev.PaymentMethodID == "" {
		return fail("paymentMethodId is required")
	}
	customerID, err := d.customerFor(ctx, client, ev.LocationID, ev.ContactID)
	if err != nil {
		return d.failure(ev, "resolve customer", err)
	}
	pi, err := client.CreatePaymentIntent(ctx, processor.IntentParams{
		Amount:          ev.Amount,
		Currency:        ev.Currency,
		CustomerID:      customerID,
		PaymentMethodID: ev.PaymentMethodID,
		OffSession:      true,
		IdempotencyKey:  ev.processorKey(),
	})
	if err != nil {
		return d.failure(ev, "create payment intent", err)
	}
	msg := "Pending"
	if pi.Status == "succeeded" {
		msg = "Success"
	}
	return ChargeResult{
		Success:  true,
		ChargeID: pi.ID,
		Message:  msg,
		ChargeSnapshot: ChargeSnapshot{
			ID:        pi.ID,
			Status:    pi.Status,
			Amount:    pi.Amount,
			ChargeID:  pi.ID,
			ChargedAt: pi.Created,
		},
	}
}

func (d *Dispatcher) createSubscription(ctx context.Context, client processor.Client, ev Event) any {
	if ev.PaymentMethodID == "" {
		return fail("paymentMethodId is required")
	}
	pp, err := priceParams(ev)
	if err != nil {
		return fail(err.Error())
	}
	customerID, err := d.customerFor(ctx, client, ev.LocationID, ev.ContactID)
	if err != nil {
		return d.failure(ev, "resolve customer", err)
	}
	if err := client.SetDefaultPaymentMethod(ctx, customerID, ev.PaymentMethodID); err != nil {
		return d.failure(ev, "set default payment method", err)
	}
	pp.IdempotencyKey = ev.subKey("price")
	price, err := client.CreatePrice(ctx, pp)
	if err != nil {
		return d.failure(ev, "create price", err)
	}
	anchor := d.billingAnchor(ev.StartDate)
	sub, err := client.CreateSubscription(ctx, processor.SubscriptionParams{
		CustomerID:         customerID,
		PriceID:            price.ID,
		BillingCycleAnchor: anchor,
		Metadata: map[string]string{
			"platformSubscriptionId": ev.SubscriptionID,
			"platformLocationId":     ev.LocationID,
		},
		IdempotencyKey: ev.processorKey(),
	})
	if err != nil {
		return d.failure(ev, "create subscription", err)
	}
	next := anchor
	if next == 0 {
		next = sub.BillingCycleAnchor
	}
	return SubscriptionResult{
		Success:     true,
		Message:     "Subscription created",
		Transaction: nil,
		Subscription: SubscriptionInfo{
			SubscriptionID: sub.ID,
			SubscriptionSnapshot: SubscriptionSnapshot{
				ID:         sub.ID,
				Status:     sub.Status,
				TrialEnd:   sub.TrialEnd,
				CreatedAt:  sub.Created,
				NextCharge: next,
			},
		},
	}
}

var startLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// billingAnchor returns startDate as unix seconds when it lies in the
// future, else zero (bill immediately).
func (d *Dispatcher) billingAnchor(startDate string) int64 {
	if startDate == "" {
		return 0
	}
	for _, layout := range startLayouts {
		if t, err := time.Parse(layout, startDate); err == nil {
			if t.After(d.now()) {
				return t.Unix()
			}
			return 0
		}
	}
	d.log.Warnw("unparseable subscription startDate", "start_date", startDate)
	return 0
}

func formatCard(c processor.Card, customerID string) PaymentMethod {
	expiry := fmt.Sprintf("%d/%02d", c.ExpMonth, c.ExpYear%100)
	return PaymentMethod{
		ID:         c.ID,
		Type:       "card",
		Title:      fmt.Sprintf("%s ending in %s", strings.ToUpper(c.Brand), c.Last4),
		SubTitle:   "Expires " + expiry,
		Expiry:     expiry,
		CustomerID: customerID,
	}
}

// failure logs err with context and converts it to the platform's failure shape.
func (d *Dispatcher) failure(ev Event, op string, err error) Failure {
	d.log.Warnw("payment event failed", "event_type", ev.Type, "location_id", ev.LocationID, "op", op, "err", err)
	return fail(Message(err))
}

// Message is the caller-safe text for a dispatch error.
func Message(err error) string {
	var pe *processor.Error
	switch {
	case errors.Is(err, ErrMissingEmail):
		return "Contact does not have an email address, cannot create Stripe customer."
	case errors.Is(err, errNoContact):
		return "contactId is required"
	case errors.Is(err, ErrInvalidCheckout):
		return "amount and currency are required"
	case errors.Is(err, errContactFetch):
		return "Failed to fetch contact details from the platform."
	case token.IsReauthorizationRequired(err):
		return "Platform authorization expired; reinstall the app."
	case errors.As(err, &pe):
		return pe.Message
	}
	return "Payment processor request failed."
}
