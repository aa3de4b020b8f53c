package tenants

import (
	"context"
	"errors"
)

// ErrNotFound is returned by every lookup that misses.
var ErrNotFound = errors.New("tenants: not found")

// Store is the keyed persistence contract for tokens, payment configs and
// customer mappings. Every method is a single keyed read or an upsert of a
// whole record.
type Store interface {
	// GetToken prefers the record keyed by locationID, then the one keyed by companyID.
	// Either argument may be empty.
	GetToken(ctx context.Context, locationID, companyID string) (Token, error)
	// UpsertToken replaces the record stored under t.Key().
	UpsertToken(ctx context.Context, t Token) (Token, error)

	GetPaymentConfig(ctx context.Context, locationID string) (PaymentConfig, error)
	UpsertPaymentConfig(ctx context.Context, c PaymentConfig) error

	FindCustomerMapping(ctx context.Context, locationID, contactID string) (CustomerMapping, error)
	// CreateCustomerMapping inserts m unless a mapping for the same
	// (location, contact) exists; the stored mapping is returned either way.
	CreateCustomerMapping(ctx context.Context, m CustomerMapping) (CustomerMapping, error)
}
