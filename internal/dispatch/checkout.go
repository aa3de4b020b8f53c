package dispatch

import (
	"context"
	"errors"

	"paybroker/internal/processor"
)

// ErrInvalidCheckout means the checkout request lacks an amount or currency.
var ErrInvalidCheckout = errors.New("dispatch: amount and currency are required")

// CreateCheckoutIntent starts a payment the checkout iFrame confirms in the
// browser. The intent is attached to the contact's processor customer when
// ContactID is set.
func (d *Dispatcher) CreateCheckoutIntent(ctx context.Context, client processor.Client, ev Event) (processor.PaymentIntent, error) {
	if ev.Amount <= 0 || ev.Currency == "" {
		return processor.PaymentIntent{}, ErrInvalidCheckout
	}
	p := processor.IntentParams{
		Amount:           ev.Amount,
		Currency:         ev.Currency,
		AutomaticMethods: true,
		Metadata:         map[string]string{"platformLocationId": ev.LocationID},
		IdempotencyKey:   ev.processorKey(),
	}
	if ev.ContactID != "" {
		customerID, err := d.customerFor(ctx, client, ev.LocationID, ev.ContactID)
		if err != nil {
			return processor.PaymentIntent{}, err
		}
		p.CustomerID = customerID
		p.Metadata["platformContactId"] = ev.ContactID
	}
	pi, err := client.CreatePaymentIntent(ctx, p)
	if err != nil {
		d.log.Warnw("checkout intent failed", "location_id", ev.LocationID, "err", err)
		return processor.PaymentIntent{}, err
	}
	return pi, nil
}
