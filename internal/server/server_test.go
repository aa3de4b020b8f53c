package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paybroker/internal/dispatch"
	"paybroker/internal/platform"
	"paybroker/internal/processor"
	"paybroker/internal/registrar"
	"paybroker/internal/secrets"
	"paybroker/internal/webhook"
	"paybroker/pkg/config"
	"paybroker/pkg/tenants"
)

type fakeProcessor struct {
	mu         sync.Mutex
	calls      map[string]int
	status     string
	lastIntent processor.IntentParams
}

func (f *fakeProcessor) hit(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeProcessor) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeProcessor) CreatePaymentIntent(ctx context.Context, p processor.IntentParams) (processor.PaymentIntent, error) {
	f.hit("CreatePaymentIntent")
	f.lastIntent = p
	return processor.PaymentIntent{ID: "pi_1", Status: f.status, Amount: p.Amount, ClientSecret: "pi_1_secret_x"}, nil
}

func (f *fakeProcessor) GetPaymentIntent(ctx context.Context, id string) (processor.PaymentIntent, error) {
	f.hit("GetPaymentIntent")
	return processor.PaymentIntent{ID: id, Status: f.status}, nil
}

func (f *fakeProcessor) CreateRefund(ctx context.Context, p processor.RefundParams) (processor.Refund, error) {
	f.hit("CreateRefund")
	return processor.Refund{ID: "re_1", Amount: p.Amount}, nil
}

func (f *fakeProcessor) FindCustomerByEmail(ctx context.Context, email string) (processor.Customer, bool, error) {
	f.hit("FindCustomerByEmail")
	return processor.Customer{}, false, nil
}

func (f *fakeProcessor) CreateCustomer(ctx context.Context, p processor.CustomerParams) (processor.Customer, error) {
	f.hit("CreateCustomer")
	return processor.Customer{ID: "cus_1", Email: p.Email}, nil
}

func (f *fakeProcessor) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	f.hit("SetDefaultPaymentMethod")
	return nil
}

func (f *fakeProcessor) ListCards(ctx context.Context, customerID string) ([]processor.Card, error) {
	f.hit("ListCards")
	return nil, nil
}

func (f *fakeProcessor) CreatePrice(ctx context.Context, p processor.PriceParams) (processor.Price, error) {
	f.hit("CreatePrice")
	return processor.Price{ID: "price_1"}, nil
}

func (f *fakeProcessor) CreateSubscription(ctx context.Context, p processor.SubscriptionParams) (processor.Subscription, error) {
	f.hit("CreateSubscription")
	return processor.Subscription{ID: "sub_1"}, nil
}

type fakeTokens struct{}

func (fakeTokens) Resolve(ctx context.Context, locationID, companyID string) (tenants.Token, error) {
	return tenants.Token{LocationID: locationID, AccessToken: "loc-token"}, nil
}

type fakePlatform struct {
	contacts  map[string]platform.Contact
	connected int
}

func (f *fakePlatform) GetContact(ctx context.Context, accessToken, contactID string) (platform.Contact, error) {
	return f.contacts[contactID], nil
}

func (f *fakePlatform) ExchangeCode(ctx context.Context, code string) (platform.Grant, error) {
	return platform.Grant{AccessToken: "at", RefreshToken: "rt", LocationID: "L2", CompanyID: "C1", UserType: "Location"}, nil
}

func (f *fakePlatform) RegisterProvider(ctx context.Context, accessToken, locationID string, p platform.ProviderIntegration) error {
	return nil
}

func (f *fakePlatform) ConnectProvider(ctx context.Context, accessToken, locationID string, p platform.ProviderConnect) error {
	f.connected++
	return nil
}

type env struct {
	srv     *httptest.Server
	store   tenants.Store
	proc    *fakeProcessor
	plat    *fakePlatform
	secrets []string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zap.NewNop().Sugar()
	store := tenants.NewMemoryStore(log)
	cipher, err := secrets.New("server-test-key", "salt")
	require.NoError(t, err)

	e := &env{
		store: store,
		proc:  &fakeProcessor{calls: map[string]int{}, status: "succeeded"},
		plat:  &fakePlatform{contacts: map[string]platform.Contact{"c_nomail": {ID: "c_nomail", FirstName: "Nobody"}}},
	}
	var mu sync.Mutex
	factory := func(key string) processor.Client {
		mu.Lock()
		e.secrets = append(e.secrets, key)
		mu.Unlock()
		return e.proc
	}

	enc, err := cipher.Encrypt("sk_test_L1")
	require.NoError(t, err)
	require.NoError(t, store.UpsertPaymentConfig(context.Background(), tenants.PaymentConfig{
		LocationID:          "L1",
		TestPubKey:          "pk_test_L1",
		TestSecKey:          enc,
		TestVerificationKey: "vk-test",
		LiveVerificationKey: "vk-live",
	}))

	s := New(config.Config{}, Deps{
		Store:      store,
		Auth:       webhook.NewAuthenticator(store, log),
		Clients:    processor.NewResolver(store, cipher, factory),
		Dispatcher: dispatch.New(store, fakeTokens{}, e.plat, log),
		Registrar:  registrar.New(store, e.plat, fakeTokens{}, cipher, registrar.Config{Manifest: registrar.DefaultManifest(), BaseURL: "https://pay.example.com"}, log),
	}, log)
	e.srv = httptest.NewServer(s.Handler())
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(t *testing.T, method, path, apiKey, body string, hdr ...string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("apiKey", apiKey)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestVerifySettledCharge(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, "POST", "/api/query", "vk-test", `{"type":"verify","locationId":"L1","chargeId":"ch_1"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"success": true}, body)
	assert.Equal(t, []string{"sk_test_L1"}, e.secrets)
	assert.Equal(t, 1, e.proc.count("GetPaymentIntent"))
}

func TestInvalidAPIKeyMakesNoProcessorCall(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, "POST", "/api/query", "wrong", `{"type":"verify","locationId":"L1","chargeId":"ch_1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized: Invalid API Key", body["error"])
	assert.Empty(t, e.secrets)
	assert.Empty(t, e.proc.calls)
}

func TestUnknownLocationLooksLikeBadKey(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, "POST", "/api/query", "vk-test", `{"type":"verify","locationId":"nope","chargeId":"ch_1"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Unauthorized: Invalid API Key", body["error"])
}

func TestMissingCredentials(t *testing.T) {
	e := newEnv(t)
	for _, tc := range []struct{ key, body string }{
		{"", `{"type":"verify","locationId":"L1"}`},
		{"vk-test", `{"type":"verify"}`},
		{"vk-test", `{"locationId":"L1"}`},
		{"", `not json`},
	} {
		status, body := e.do(t, "POST", "/api/query", tc.key, tc.body)
		assert.Equal(t, http.StatusUnauthorized, status, tc.body)
		assert.Equal(t, "Unauthorized: Missing credentials", body["error"], tc.body)
	}
	assert.Empty(t, e.proc.calls)
}

func TestChargeWithoutEmail(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, "POST", "/api/query", "vk-test",
		`{"type":"charge_payment","locationId":"L1","contactId":"c_nomail","paymentMethodId":"pm_1","amount":1000,"currency":"usd"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["failed"])
	assert.Equal(t, "Contact does not have an email address, cannot create Stripe customer.", body["message"])
	assert.Zero(t, e.proc.count("CreateCustomer"))
	assert.Zero(t, e.proc.count("CreatePaymentIntent"))
}

func TestLiveKeyWithoutLiveSecret(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, "POST", "/api/query", "vk-live", `{"type":"verify","locationId":"L1","chargeId":"ch_1"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Configuration error: no live secret key configured", body["error"])
	assert.Empty(t, e.proc.calls)
}

func TestUnhandledEventType(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, "POST", "/api/query", "vk-test", `{"type":"payout","locationId":"L1"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"success": false, "message": "Unhandled event type"}, body)
	assert.Empty(t, e.proc.calls)
}

func TestIdempotencyHeaderWins(t *testing.T) {
	e := newEnv(t)
	_, err := e.store.CreateCustomerMapping(context.Background(), tenants.CustomerMapping{LocationID: "L1", ContactID: "c1", CustomerID: "cus_1"})
	require.NoError(t, err)
	status, body := e.do(t, "POST", "/api/query", "vk-test",
		`{"type":"charge_payment","locationId":"L1","contactId":"c1","paymentMethodId":"pm_1","amount":1000,"currency":"usd","eventId":"evt_body"}`,
		"Idempotency-Key", "evt_header")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "paybroker:L1:charge_payment:evt_header", e.proc.lastIntent.IdempotencyKey)
}

func TestConnectKeys(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, "POST", "/api/connect-keys", "", `{"locationId":"L1","livePubKey":"pk_live","liveSecKey":"sk_live_L1"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"success": true}, body)
	assert.Equal(t, 1, e.plat.connected)

	cfg, err := e.store.GetPaymentConfig(context.Background(), "L1")
	require.NoError(t, err)
	assert.Equal(t, "vk-live", cfg.LiveVerificationKey)
	assert.NotEqual(t, "sk_live_L1", cfg.LiveSecKey)

	// the live key now reaches the live secret
	status, _ = e.do(t, "POST", "/api/query", "vk-live", `{"type":"verify","locationId":"L1","chargeId":"ch_1"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, []string{"sk_live_L1"}, e.secrets)
}

func TestConnectKeysValidation(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, "POST", "/api/connect-keys", "", `{"locationId":"L9","testPubKey":"pk"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, map[string]any{"success": false, "error": "Missing required keys."}, body)

	status, body = e.do(t, "POST", "/api/connect-keys", "", `{`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, false, body["success"])
}

func TestInstallCallback(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, "GET", "/oauth/callback?code=abc", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "L2", body["locationId"])

	tok, err := e.store.GetToken(context.Background(), "L2", "")
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)
	cfg, err := e.store.GetPaymentConfig(context.Background(), "L2")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.TestVerificationKey)
	assert.NotEqual(t, cfg.TestVerificationKey, cfg.LiveVerificationKey)

	status, _ = e.do(t, "GET", "/oauth/callback", "", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCheckout(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, "POST", "/api/checkout/intent", "", `{"locationId":"L1","amount":2500,"currency":"USD"}`)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pi_1_secret_x", body["clientSecret"])
	assert.Equal(t, "usd", e.proc.lastIntent.Currency)

	status, body = e.do(t, "POST", "/api/checkout/intent", "", `{"locationId":"L1","currency":"usd"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "amount and currency are required", body["error"])

	status, body = e.do(t, "GET", "/api/checkout/config?locationId=L1", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "pk_test_L1", body["publishableKey"])

	status, _ = e.do(t, "GET", "/api/checkout/config?locationId=L1&mode=live", "", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCheckoutCORS(t *testing.T) {
	e := newEnv(t)
	req, err := http.NewRequestWithContext(t.Context(), http.MethodOptions, e.srv.URL+"/api/checkout/intent", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestHealthAndOpenAPI(t *testing.T) {
	e := newEnv(t)
	status, body := e.do(t, "GET", "/healthz", "", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])

	status, body = e.do(t, "GET", "/.well-known/openapi.json", "", "")
	assert.Equal(t, http.StatusOK, status)
	paths, ok := body["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/api/query")
	assert.Contains(t, paths, "/api/connect-keys")
}
