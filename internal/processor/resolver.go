package processor

import (
	"context"
	"errors"
	"fmt"

	"paybroker/internal/secrets"
	"paybroker/pkg/tenants"
)

// ErrNotConfigured means the location has no usable processor secret for
// the requested mode. Callers surface it as a configuration error.
var ErrNotConfigured = errors.New("processor: not configured")

// Resolver builds tenant-scoped clients. A fresh client is built for every
// call from that tenant's own decrypted secret.
type Resolver struct {
	store   tenants.Store
	cipher  *secrets.Cipher
	factory Factory
}

func NewResolver(store tenants.Store, cipher *secrets.Cipher, factory Factory) *Resolver {
	return &Resolver{store: store, cipher: cipher, factory: factory}
}

// ClientFor returns a client for locationID in mode. Errors wrap
// ErrNotConfigured or secrets.ErrDecryption; their text is safe to show.
func (r *Resolver) ClientFor(ctx context.Context, locationID string, mode tenants.Mode) (Client, error) {
	cfg, err := r.store.GetPaymentConfig(ctx, locationID)
	if errors.Is(err, tenants.ErrNotFound) {
		return nil, fmt.Errorf("%w: no payment config found for this location", ErrNotConfigured)
	}
	if err != nil {
		return nil, err
	}
	enc := cfg.SecretKey(mode)
	if enc == "" {
		return nil, fmt.Errorf("%w: no %s secret key configured", ErrNotConfigured, mode)
	}
	if r.cipher == nil {
		return nil, fmt.Errorf("%w: encryption key not configured", ErrNotConfigured)
	}
	key, err := r.cipher.Decrypt(enc)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt %s secret key: %w", mode, err)
	}
	return r.factory(key), nil
}

// ConfigError reports whether err should be shown to the caller as a
// tenant configuration problem.
func ConfigError(err error) bool {
	return errors.Is(err, ErrNotConfigured) || errors.Is(err, secrets.ErrDecryption)
}
