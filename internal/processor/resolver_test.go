package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paybroker/internal/secrets"
	"paybroker/pkg/tenants"
)

type keyedClient struct {
	Client
	key string
}

func TestResolverPicksKeyByMode(t *testing.T) {
	ctx := context.Background()
	store := tenants.NewMemoryStore(zap.NewNop().Sugar())
	c, err := secrets.New("k", "salt")
	require.NoError(t, err)
	testEnc, _ := c.Encrypt("sk_test_1")
	liveEnc, _ := c.Encrypt("sk_live_1")
	require.NoError(t, store.UpsertPaymentConfig(ctx, tenants.PaymentConfig{LocationID: "L1", TestSecKey: testEnc, LiveSecKey: liveEnc}))

	var built []string
	r := NewResolver(store, c, func(key string) Client {
		built = append(built, key)
		return &keyedClient{key: key}
	})

	cl, err := r.ClientFor(ctx, "L1", tenants.ModeTest)
	require.NoError(t, err)
	assert.Equal(t, "sk_test_1", cl.(*keyedClient).key)

	cl, err = r.ClientFor(ctx, "L1", tenants.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, "sk_live_1", cl.(*keyedClient).key)
	assert.Equal(t, []string{"sk_test_1", "sk_live_1"}, built)
}

func TestResolverConfigErrors(t *testing.T) {
	ctx := context.Background()
	store := tenants.NewMemoryStore(zap.NewNop().Sugar())
	c, err := secrets.New("k", "salt")
	require.NoError(t, err)
	r := NewResolver(store, c, func(string) Client { t.Fatal("factory must not be called"); return nil })

	_, err = r.ClientFor(ctx, "L1", tenants.ModeTest)
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.True(t, ConfigError(err))

	testEnc, _ := c.Encrypt("sk_test_1")
	require.NoError(t, store.UpsertPaymentConfig(ctx, tenants.PaymentConfig{LocationID: "L1", TestSecKey: testEnc}))
	_, err = r.ClientFor(ctx, "L1", tenants.ModeLive)
	require.ErrorIs(t, err, ErrNotConfigured)
	assert.Contains(t, err.Error(), "no live secret key configured")

	other, err := secrets.New("rotated", "salt")
	require.NoError(t, err)
	_, err = NewResolver(store, other, nil).ClientFor(ctx, "L1", tenants.ModeTest)
	require.ErrorIs(t, err, secrets.ErrDecryption)
	assert.True(t, ConfigError(err))
}
