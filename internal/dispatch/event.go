package dispatch

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"paybroker/pkg/tenants"
)

// Event types understood by the dispatcher.
const (
	TypeVerify             = "verify"
	TypeRefund             = "refund"
	TypeListPaymentMethods = "list_payment_methods"
	TypeChargePayment      = "charge_payment"
	TypeCreateSubscription = "create_subscription"
)

// Event is one inbound query call from the platform. Raw keeps the decoded
// body for path lookups (productDetails).
type Event struct {
	Type            string
	LocationID      string
	Amount          int64
	Currency        string
	TransactionID   string
	ChargeID        string
	ContactID       string
	PaymentMethodID string
	SubscriptionID  string
	StartDate       string
	// IdempotencyKey comes from the Idempotency-Key header or the body's
	// idempotencyKey/eventId; empty disables processor idempotency.
	IdempotencyKey string
	Mode           tenants.Mode
	Raw            map[string]any
}

// ParseEvent decodes a webhook body. Amounts may arrive as numbers or numeric strings.
func ParseEvent(body []byte) (Event, error) {
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	ev := Event{
		Type:            str(raw, "type"),
		LocationID:      str(raw, "locationId"),
		Currency:        strings.ToLower(str(raw, "currency")),
		TransactionID:   str(raw, "transactionId"),
		ChargeID:        str(raw, "chargeId"),
		ContactID:       str(raw, "contactId"),
		PaymentMethodID: str(raw, "paymentMethodId"),
		SubscriptionID:  str(raw, "subscriptionId"),
		StartDate:       str(raw, "startDate"),
		Raw:             raw,
	}
	if v := str(raw, "idempotencyKey"); v != "" {
		ev.IdempotencyKey = v
	} else {
		ev.IdempotencyKey = str(raw, "eventId")
	}
	amt, err := minorUnits(raw["amount"])
	if err != nil {
		return Event{}, err
	}
	ev.Amount = amt
	return ev, nil
}

// processorKey derives the idempotency key sent to the processor.
func (e Event) processorKey() string {
	if e.IdempotencyKey == "" {
		return ""
	}
	return "paybroker:" + e.LocationID + ":" + e.Type + ":" + e.IdempotencyKey
}

// subKey derives a key for a secondary processor call made by the same event.
func (e Event) subKey(step string) string {
	if k := e.processorKey(); k != "" {
		return k + ":" + step
	}
	return ""
}

func str(m map[string]any, k string) string {
	switch v := m[k].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func minorUnits(v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case float64:
		return int64(math.Round(n)), nil
	case string:
		if n == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid amount %q", n)
		}
		return int64(math.Round(f)), nil
	}
	return 0, fmt.Errorf("invalid amount type %T", v)
}
