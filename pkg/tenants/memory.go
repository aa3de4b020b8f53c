// pkg/tenants/memory.go
package tenants

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type memStore struct {
	log *zap.SugaredLogger

	mu        sync.RWMutex
	tokens    map[string]Token         // key: Token.Key()
	configs   map[string]PaymentConfig // key: locationID
	customers map[string]CustomerMapping
}

// NewMemoryStore returns a process-local Store for dev and tests.
func NewMemoryStore(log *zap.SugaredLogger) Store {
	return &memStore{
		log:       log,
		tokens:    map[string]Token{},
		configs:   map[string]PaymentConfig{},
		customers: map[string]CustomerMapping{},
	}
}

func (m *memStore) GetToken(ctx context.Context, locationID, companyID string) (Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if locationID != "" {
		if t, ok := m.tokens[locationID]; ok {
			return t, nil
		}
	}
	if companyID != "" {
		if t, ok := m.tokens[companyID]; ok {
			return t, nil
		}
	}
	return Token{}, ErrNotFound
}

func (m *memStore) UpsertToken(ctx context.Context, t Token) (Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.tokens[t.Key()]; ok {
		t.ID = prev.ID
	} else if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.UpdatedAt = time.Now().UTC()
	m.tokens[t.Key()] = t
	return t, nil
}

func (m *memStore) GetPaymentConfig(ctx context.Context, locationID string) (PaymentConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.configs[locationID]; ok {
		return c, nil
	}
	return PaymentConfig{}, ErrNotFound
}

func (m *memStore) UpsertPaymentConfig(ctx context.Context, c PaymentConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.UpdatedAt = time.Now().UTC()
	m.configs[c.LocationID] = c
	return nil
}

func (m *memStore) FindCustomerMapping(ctx context.Context, locationID, contactID string) (CustomerMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.customers[locationID+":"+contactID]; ok {
		return c, nil
	}
	return CustomerMapping{}, ErrNotFound
}

func (m *memStore) CreateCustomerMapping(ctx context.Context, c CustomerMapping) (CustomerMapping, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := c.LocationID + ":" + c.ContactID
	if existing, ok := m.customers[k]; ok {
		return existing, nil
	}
	c.CreatedAt = time.Now().UTC()
	m.customers[k] = c
	return c, nil
}
