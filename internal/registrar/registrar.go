// Package registrar provisions a location on install and when the tenant
// saves processor keys.
package registrar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"paybroker/internal/platform"
	"paybroker/internal/secrets"
	"paybroker/pkg/tenants"
)

// Platform is the subset of the platform API used during provisioning.
type Platform interface {
	ExchangeCode(ctx context.Context, code string) (platform.Grant, error)
	RegisterProvider(ctx context.Context, accessToken, locationID string, p platform.ProviderIntegration) error
	ConnectProvider(ctx context.Context, accessToken, locationID string, p platform.ProviderConnect) error
}

type TokenSource interface {
	Resolve(ctx context.Context, locationID, companyID string) (tenants.Token, error)
}

// InputError is a caller mistake; its message is safe to return.
type InputError struct{ Msg string }

func (e *InputError) Error() string { return e.Msg }

// defaultTTL stands in for a missing expires_in.
const defaultTTL = 23 * time.Hour

type Registrar struct {
	store    tenants.Store
	platform Platform
	tokens   TokenSource
	cipher   *secrets.Cipher
	manifest Manifest
	baseURL  string
	appID    string
	log      *zap.SugaredLogger

	newKey func() string
}

type Config struct {
	Manifest Manifest
	BaseURL  string
	AppID    string
}

func New(store tenants.Store, p Platform, tokens TokenSource, cipher *secrets.Cipher, cfg Config, log *zap.SugaredLogger) *Registrar {
	return &Registrar{
		store:    store,
		platform: p,
		tokens:   tokens,
		cipher:   cipher,
		manifest: cfg.Manifest,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		appID:    cfg.AppID,
		log:      log,
		newKey:   uuid.NewString,
	}
}

// Install completes the OAuth redirect: exchanges code and provisions the location.
func (r *Registrar) Install(ctx context.Context, code string) (tenants.Token, error) {
	if strings.TrimSpace(code) == "" {
		return tenants.Token{}, &InputError{Msg: "missing authorization code"}
	}
	g, err := r.platform.ExchangeCode(ctx, code)
	if err != nil {
		return tenants.Token{}, err
	}
	return r.Provision(ctx, g)
}

// Provision persists the grant, makes sure verification keys exist and
// registers the provider. It is safe to repeat: processor secrets and
// existing verification keys are left untouched.
func (r *Registrar) Provision(ctx context.Context, g platform.Grant) (tenants.Token, error) {
	if g.AccessToken == "" || (g.LocationID == "" && g.CompanyID == "") {
		return tenants.Token{}, &InputError{Msg: "Missing required fields: locationId or access_token"}
	}
	exp := g.ExpiresAt
	if exp.IsZero() {
		exp = time.Now().Add(defaultTTL)
	}
	tok, err := r.store.UpsertToken(ctx, tenants.Token{
		LocationID:   g.LocationID,
		CompanyID:    g.CompanyID,
		UserID:       g.UserID,
		AppID:        r.appID,
		AccessToken:  g.AccessToken,
		RefreshToken: g.RefreshToken,
		UserType:     g.UserType,
		ExpiresAt:    exp,
	})
	if err != nil {
		return tenants.Token{}, fmt.Errorf("save token: %w", err)
	}
	if g.LocationID == "" {
		r.log.Infow("agency install saved", "company_id", g.CompanyID)
		return tok, nil
	}

	cfg, err := r.loadConfig(ctx, g.LocationID)
	if err != nil {
		return tok, err
	}
	linked := cfg.CompanyID == "" && g.CompanyID != ""
	if linked {
		cfg.CompanyID = g.CompanyID
	}
	if r.ensureVerificationKeys(&cfg) || linked {
		if err := r.store.UpsertPaymentConfig(ctx, cfg); err != nil {
			return tok, fmt.Errorf("save verification keys: %w", err)
		}
	}

	// The grant was issued moments ago, so it is used directly.
	if err := r.platform.RegisterProvider(ctx, g.AccessToken, g.LocationID, r.integration(g.LocationID)); err != nil {
		r.log.Warnw("provider registration failed", "location_id", g.LocationID, "err", err)
		return tok, nil
	}
	if err := r.platform.ConnectProvider(ctx, g.AccessToken, g.LocationID, connectPayload(cfg)); err != nil {
		r.log.Warnw("provider connect failed", "location_id", g.LocationID, "err", err)
	}
	r.log.Infow("location installed", "location_id", g.LocationID, "company_id", g.CompanyID)
	return tok, nil
}

// Keys is the configuration endpoint input. Blank secret fields keep the stored value.
// CompanyID links a location served by an agency-level install.
type Keys struct {
	LocationID string `json:"locationId"`
	CompanyID  string `json:"companyId,omitempty"`
	TestPubKey string `json:"testPubKey"`
	TestSecKey string `json:"testSecKey"`
	LivePubKey string `json:"livePubKey"`
	LiveSecKey string `json:"liveSecKey"`
}

// SaveKeys merges k into the stored configuration, encrypts secrets and
// pushes the connect payload to the platform.
func (r *Registrar) SaveKeys(ctx context.Context, k Keys) error {
	k.LocationID = strings.TrimSpace(k.LocationID)
	if k.LocationID == "" {
		return &InputError{Msg: "locationId is required"}
	}
	if r.cipher == nil {
		return errors.New("encryption key not configured")
	}
	cfg, err := r.loadConfig(ctx, k.LocationID)
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(k.CompanyID); v != "" {
		cfg.CompanyID = v
	}
	if v := strings.TrimSpace(k.TestPubKey); v != "" {
		cfg.TestPubKey = v
	}
	if v := strings.TrimSpace(k.LivePubKey); v != "" {
		cfg.LivePubKey = v
	}
	if err := r.setSecret(&cfg.TestSecKey, k.TestSecKey); err != nil {
		return err
	}
	if err := r.setSecret(&cfg.LiveSecKey, k.LiveSecKey); err != nil {
		return err
	}
	if cfg.TestPubKey == "" || cfg.TestSecKey == "" {
		return &InputError{Msg: "Missing required keys."}
	}
	r.ensureVerificationKeys(&cfg)
	if err := r.store.UpsertPaymentConfig(ctx, cfg); err != nil {
		return fmt.Errorf("save payment config: %w", err)
	}

	tok, err := r.tokens.Resolve(ctx, k.LocationID, cfg.CompanyID)
	if err != nil {
		return err
	}
	if err := r.platform.ConnectProvider(ctx, tok.AccessToken, k.LocationID, connectPayload(cfg)); err != nil {
		return fmt.Errorf("provider connect: %w", err)
	}
	r.log.Infow("processor keys saved", "location_id", k.LocationID, "live", cfg.LiveSecKey != "")
	return nil
}

func (r *Registrar) loadConfig(ctx context.Context, locationID string) (tenants.PaymentConfig, error) {
	cfg, err := r.store.GetPaymentConfig(ctx, locationID)
	if errors.Is(err, tenants.ErrNotFound) {
		return tenants.PaymentConfig{LocationID: locationID}, nil
	}
	if err != nil {
		return tenants.PaymentConfig{}, fmt.Errorf("load payment config: %w", err)
	}
	return cfg, nil
}

func (r *Registrar) setSecret(dst *string, plain string) error {
	plain = strings.TrimSpace(plain)
	if plain == "" {
		return nil
	}
	enc, err := r.cipher.Encrypt(plain)
	if err != nil {
		return fmt.Errorf("encrypt secret: %w", err)
	}
	*dst = enc
	return nil
}

// ensureVerificationKeys fills missing keys only; it reports whether anything changed.
func (r *Registrar) ensureVerificationKeys(cfg *tenants.PaymentConfig) bool {
	changed := false
	if cfg.TestVerificationKey == "" {
		cfg.TestVerificationKey = r.newKey()
		changed = true
	}
	if cfg.LiveVerificationKey == "" {
		cfg.LiveVerificationKey = r.newKey()
		changed = true
	}
	return changed
}

func (r *Registrar) integration(locationID string) platform.ProviderIntegration {
	return platform.ProviderIntegration{
		Name:        r.manifest.Name,
		Description: r.manifest.Description,
		ImageURL:    r.manifest.ImageURL,
		LocationID:  locationID,
		QueryURL:    r.manifest.queryURL(r.baseURL),
		PaymentsURL: r.manifest.paymentsURL(r.baseURL, r.appID, locationID),
	}
}

func connectPayload(cfg tenants.PaymentConfig) platform.ProviderConnect {
	return platform.ProviderConnect{
		Live: platform.ProviderKeys{APIKey: cfg.LiveVerificationKey, PublishableKey: cfg.LivePubKey},
		Test: platform.ProviderKeys{APIKey: cfg.TestVerificationKey, PublishableKey: cfg.TestPubKey},
	}
}
