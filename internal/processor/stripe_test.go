package processor

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

func TestWrapStripeError(t *testing.T) {
	err := wrap(&stripe.Error{Msg: "Your card was declined.", Code: stripe.ErrorCodeCardDeclined, HTTPStatusCode: 402})
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "Your card was declined.", err.Error())
	assert.Equal(t, "card_declined", pe.Code)
	assert.Equal(t, 402, pe.Status)

	plain := errors.New("dial tcp: timeout")
	assert.Same(t, plain, wrap(plain))
	assert.NoError(t, wrap(nil))
}

func TestToIntent(t *testing.T) {
	pi := toIntent(&stripe.PaymentIntent{ID: "pi_1", Status: stripe.PaymentIntentStatusSucceeded, Amount: 500, Currency: "usd", ClientSecret: "pi_1_secret", Created: 1700000000})
	assert.Equal(t, PaymentIntent{ID: "pi_1", Status: "succeeded", Amount: 500, Currency: "usd", ClientSecret: "pi_1_secret", Created: 1700000000}, pi)
}

func TestCreatePriceSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("Idempotency-Key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"price_123","object":"price"}`))
	}))
	defer srv.Close()

	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	c := newStripeClient("sk_test_x", backends, zap.NewNop().Sugar())

	pr, err := c.CreatePrice(t.Context(), PriceParams{ProductName: "Gold - Monthly", UnitAmount: 4999, Currency: "usd", Interval: "month", IdempotencyKey: "paybroker:L1:create_subscription:evt_9:price"})
	require.NoError(t, err)
	assert.Equal(t, "price_123", pr.ID)
	assert.Equal(t, "/v1/prices", gotPath)
	assert.Equal(t, "paybroker:L1:create_subscription:evt_9:price", gotKey)
}
