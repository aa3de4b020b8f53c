// Package server is the HTTP surface: the platform's query webhook, the
// tenant configuration and install endpoints, and the checkout iFrame API.
package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"paybroker/internal/dispatch"
	"paybroker/internal/processor"
	"paybroker/internal/registrar"
	"paybroker/internal/webhook"
	"paybroker/pkg/config"
	"paybroker/pkg/middleware"
	"paybroker/pkg/openapi"
	"paybroker/pkg/tenants"
)

const version = "1.0.0"

// maxBody caps inbound JSON bodies.
const maxBody = 1 << 20

type Deps struct {
	Store      tenants.Store
	Auth       *webhook.Authenticator
	Clients    *processor.Resolver
	Dispatcher *dispatch.Dispatcher
	Registrar  *registrar.Registrar
}

type Server struct {
	cfg        config.Config
	store      tenants.Store
	auth       *webhook.Authenticator
	clients    *processor.Resolver
	dispatcher *dispatch.Dispatcher
	registrar  *registrar.Registrar
	log        *zap.SugaredLogger
	api        *openapi.Registry
}

func New(cfg config.Config, deps Deps, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:        cfg,
		store:      deps.Store,
		auth:       deps.Auth,
		clients:    deps.Clients,
		dispatcher: deps.Dispatcher,
		registrar:  deps.Registrar,
		log:        log,
		api:        describe(),
	}
}

// Handler builds the HTTP handler with routes and middleware.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(), chimw.RealIP, middleware.AccessLog(s.log), middleware.Recover(s.log))
	r.Use(middleware.Tracing(s.cfg, s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/.well-known/openapi.json", s.api.ServeHandler("paybroker", version))

	r.Post("/api/query", s.handleQuery)
	r.Post("/api/connect-keys", s.handleConnectKeys)
	r.Get("/oauth/callback", s.handleInstall)

	r.Route("/api/checkout", func(cr chi.Router) {
		cr.Use(middleware.CORS(splitList(s.cfg.CheckoutOrigins)))
		cr.Post("/intent", s.handleCheckoutIntent)
		cr.Get("/config", s.handleCheckoutConfig)
	})
	return r
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func describe() *openapi.Registry {
	reg := openapi.NewRegistry()
	reg.Register(openapi.Operation{
		Method: "POST", Path: "/api/query", Tags: []string{"webhook"}, APIKey: true,
		Summary:     "Platform payment event",
		Description: "verify, refund, list_payment_methods, charge_payment and create_subscription events.",
		RequestBody: openapi.JSONBody([]string{"type", "locationId"}, map[string]string{
			"type": "string", "locationId": "string", "amount": "number", "currency": "string",
			"transactionId": "string", "chargeId": "string", "contactId": "string",
			"paymentMethodId": "string", "subscriptionId": "string", "startDate": "string",
		}),
		Responses: map[string]any{
			"200": openapi.Resp("Event acknowledgement"),
			"400": openapi.Resp("Configuration error"),
			"401": openapi.Resp("Unauthorized"),
		},
	})
	reg.Register(openapi.Operation{
		Method: "POST", Path: "/api/connect-keys", Tags: []string{"tenant"},
		Summary: "Save processor keys for a location",
		RequestBody: openapi.JSONBody([]string{"locationId"}, map[string]string{
			"locationId": "string", "companyId": "string", "testPubKey": "string", "testSecKey": "string", "livePubKey": "string", "liveSecKey": "string",
		}),
		Responses: map[string]any{"200": openapi.Resp("Saved"), "400": openapi.Resp("Invalid input"), "401": openapi.Resp("Reauthorization required")},
	})
	reg.Register(openapi.Operation{
		Method: "GET", Path: "/oauth/callback", Tags: []string{"tenant"},
		Summary:   "Complete an app install",
		Responses: map[string]any{"200": openapi.Resp("Installed"), "400": openapi.Resp("Missing code"), "502": openapi.Resp("Exchange failed")},
	})
	reg.Register(openapi.Operation{
		Method: "POST", Path: "/api/checkout/intent", Tags: []string{"checkout"},
		Summary: "Create a payment intent for the checkout iFrame",
		RequestBody: openapi.JSONBody([]string{"locationId", "amount", "currency"}, map[string]string{
			"locationId": "string", "amount": "integer", "currency": "string", "contactId": "string", "mode": "string",
		}),
		Responses: map[string]any{"200": openapi.Resp("Client secret"), "400": openapi.Resp("Invalid input or configuration")},
	})
	reg.Register(openapi.Operation{
		Method: "GET", Path: "/api/checkout/config", Tags: []string{"checkout"},
		Summary:   "Publishable key for the checkout iFrame",
		Responses: map[string]any{"200": openapi.Resp("Publishable key"), "400": openapi.Resp("Configuration error")},
	})
	return reg
}
