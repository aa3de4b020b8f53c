// Package webhook authenticates inbound platform query calls with the
// per-location verification keys.
package webhook

import (
	"context"
	"crypto/subtle"
	"errors"

	"go.uber.org/zap"

	"paybroker/pkg/tenants"
)

// ErrUnauthorized is the single failure callers report; it never says which check failed.
var ErrUnauthorized = errors.New("webhook: unauthorized")

type Authenticator struct {
	store tenants.Store
	log   *zap.SugaredLogger
}

func NewAuthenticator(store tenants.Store, log *zap.SugaredLogger) *Authenticator {
	return &Authenticator{store: store, log: log}
}

// Authenticate reports whether presentedKey is one of locationID's verification keys.
func (a *Authenticator) Authenticate(ctx context.Context, locationID, presentedKey string) bool {
	_, ok := a.Match(ctx, locationID, presentedKey)
	return ok
}

// Match also returns which mode's key matched. Both keys are always
// compared so timing does not reveal which one was close.
func (a *Authenticator) Match(ctx context.Context, locationID, presentedKey string) (tenants.Mode, bool) {
	if locationID == "" || presentedKey == "" {
		return "", false
	}
	cfg, err := a.store.GetPaymentConfig(ctx, locationID)
	if err != nil {
		if !errors.Is(err, tenants.ErrNotFound) {
			a.log.Errorw("load payment config", "location_id", locationID, "err", err)
		}
		return "", false
	}
	live := equal(cfg.LiveVerificationKey, presentedKey)
	test := equal(cfg.TestVerificationKey, presentedKey)
	switch {
	case live == 1:
		return tenants.ModeLive, true
	case test == 1:
		return tenants.ModeTest, true
	}
	return "", false
}

// Require is Match as an error: ErrUnauthorized for any rejection.
func (a *Authenticator) Require(ctx context.Context, locationID, presentedKey string) (tenants.Mode, error) {
	mode, ok := a.Match(ctx, locationID, presentedKey)
	if !ok {
		return "", ErrUnauthorized
	}
	return mode, nil
}

func equal(stored, presented string) int {
	if stored == "" {
		return 0
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(presented))
}
