// pkg/tenants/postgres.go
package tenants

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"paybroker/pkg/db"
)

// pgStore implements Store backed by PostgreSQL.
type pgStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

// NewPostgresStore constructs a PostgreSQL-backed credential store.
func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) Store {
	return &pgStore{dbPool: dbPool, log: log}
}

// EnsureSchema creates required tables if they do not already exist.
// Safe to call repeatedly (idempotent).
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS tenant_tokens (
  id uuid PRIMARY KEY,
  token_key text NOT NULL UNIQUE,
  location_id text,
  company_id text,
  user_id text,
  app_id text,
  access_token text NOT NULL,
  refresh_token text NOT NULL DEFAULT '',
  user_type text,
  expires_at timestamptz,
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS tenant_tokens_company_idx ON tenant_tokens(company_id);
CREATE TABLE IF NOT EXISTS payment_configs (
  location_id text PRIMARY KEY,
  test_pub_key text NOT NULL DEFAULT '',
  test_sec_key text NOT NULL DEFAULT '',
  live_pub_key text NOT NULL DEFAULT '',
  live_sec_key text NOT NULL DEFAULT '',
  test_verification_key text NOT NULL DEFAULT '',
  live_verification_key text NOT NULL DEFAULT '',
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS customer_mappings (
  location_id text NOT NULL,
  contact_id text NOT NULL,
  customer_id text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (location_id, contact_id)
);
ALTER TABLE payment_configs ADD COLUMN IF NOT EXISTS company_id text NOT NULL DEFAULT '';
`)
	return err
}

const tokenCols = `id,COALESCE(location_id,''),COALESCE(company_id,''),COALESCE(user_id,''),COALESCE(app_id,''),access_token,refresh_token,COALESCE(user_type,''),expires_at,updated_at`

func scanToken(row pgx.Row) (Token, error) {
	var t Token
	var id uuid.UUID
	var exp *time.Time
	if err := row.Scan(&id, &t.LocationID, &t.CompanyID, &t.UserID, &t.AppID, &t.AccessToken, &t.RefreshToken, &t.UserType, &exp, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Token{}, ErrNotFound
		}
		return Token{}, err
	}
	t.ID = id.String()
	if exp != nil {
		t.ExpiresAt = *exp
	}
	return t, nil
}

// GetToken looks the record up by location first, then by company.
func (p *pgStore) GetToken(ctx context.Context, locationID, companyID string) (Token, error) {
	for _, key := range []string{locationID, companyID} {
		if key == "" {
			continue
		}
		t, err := scanToken(p.dbPool.QueryRow(ctx, `SELECT `+tokenCols+` FROM tenant_tokens WHERE token_key=$1`, key))
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return t, err
	}
	return Token{}, ErrNotFound
}

// UpsertToken replaces every field of the record stored under t.Key().
func (p *pgStore) UpsertToken(ctx context.Context, t Token) (Token, error) {
	if t.Key() == "" {
		return Token{}, errors.New("tenants: token without location or company")
	}
	id := uuid.New()
	if t.ID != "" {
		if parsed, err := uuid.Parse(t.ID); err == nil {
			id = parsed
		}
	}
	row := p.dbPool.QueryRow(ctx, `INSERT INTO tenant_tokens(id,token_key,location_id,company_id,user_id,app_id,access_token,refresh_token,user_type,expires_at,updated_at)
	  VALUES ($1,$2,NULLIF($3,''),NULLIF($4,''),NULLIF($5,''),NULLIF($6,''),$7,$8,NULLIF($9,''),$10,NOW())
	  ON CONFLICT (token_key) DO UPDATE SET location_id=EXCLUDED.location_id,company_id=EXCLUDED.company_id,user_id=EXCLUDED.user_id,
	    app_id=EXCLUDED.app_id,access_token=EXCLUDED.access_token,refresh_token=EXCLUDED.refresh_token,user_type=EXCLUDED.user_type,
	    expires_at=EXCLUDED.expires_at,updated_at=NOW()
	  RETURNING `+tokenCols,
		id, t.Key(), t.LocationID, t.CompanyID, t.UserID, t.AppID, t.AccessToken, t.RefreshToken, t.UserType, nullTime(t.ExpiresAt))
	out, err := scanToken(row)
	if err != nil {
		return Token{}, fmt.Errorf("upsert token: %w", err)
	}
	return out, nil
}

func (p *pgStore) GetPaymentConfig(ctx context.Context, locationID string) (PaymentConfig, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT location_id,company_id,test_pub_key,test_sec_key,live_pub_key,live_sec_key,test_verification_key,live_verification_key,updated_at
	  FROM payment_configs WHERE location_id=$1`, locationID)
	var c PaymentConfig
	if err := row.Scan(&c.LocationID, &c.CompanyID, &c.TestPubKey, &c.TestSecKey, &c.LivePubKey, &c.LiveSecKey, &c.TestVerificationKey, &c.LiveVerificationKey, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentConfig{}, ErrNotFound
		}
		return PaymentConfig{}, err
	}
	return c, nil
}

func (p *pgStore) UpsertPaymentConfig(ctx context.Context, c PaymentConfig) error {
	tx, err := db.BeginTxWithLocation(ctx, p.dbPool, c.LocationID)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	_, err = tx.Exec(ctx, `INSERT INTO payment_configs(location_id,company_id,test_pub_key,test_sec_key,live_pub_key,live_sec_key,test_verification_key,live_verification_key,updated_at)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())
	  ON CONFLICT (location_id) DO UPDATE SET company_id=EXCLUDED.company_id,test_pub_key=EXCLUDED.test_pub_key,test_sec_key=EXCLUDED.test_sec_key,
	    live_pub_key=EXCLUDED.live_pub_key,live_sec_key=EXCLUDED.live_sec_key,test_verification_key=EXCLUDED.test_verification_key,
	    live_verification_key=EXCLUDED.live_verification_key,updated_at=NOW()`,
		c.LocationID, c.CompanyID, c.TestPubKey, c.TestSecKey, c.LivePubKey, c.LiveSecKey, c.TestVerificationKey, c.LiveVerificationKey)
	if err != nil {
		return fmt.Errorf("upsert payment config: %w", err)
	}
	return tx.Commit(ctx)
}

func (p *pgStore) FindCustomerMapping(ctx context.Context, locationID, contactID string) (CustomerMapping, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT location_id,contact_id,customer_id,created_at FROM customer_mappings WHERE location_id=$1 AND contact_id=$2`, locationID, contactID)
	var m CustomerMapping
	if err := row.Scan(&m.LocationID, &m.ContactID, &m.CustomerID, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CustomerMapping{}, ErrNotFound
		}
		return CustomerMapping{}, err
	}
	return m, nil
}

// CreateCustomerMapping keeps the first mapping written for a contact.
func (p *pgStore) CreateCustomerMapping(ctx context.Context, m CustomerMapping) (CustomerMapping, error) {
	tx, err := db.BeginTxWithLocation(ctx, p.dbPool, m.LocationID)
	if err != nil {
		return CustomerMapping{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `INSERT INTO customer_mappings(location_id,contact_id,customer_id) VALUES ($1,$2,$3) ON CONFLICT (location_id, contact_id) DO NOTHING`,
		m.LocationID, m.ContactID, m.CustomerID); err != nil {
		return CustomerMapping{}, fmt.Errorf("insert customer mapping: %w", err)
	}
	var out CustomerMapping
	if err := tx.QueryRow(ctx, `SELECT location_id,contact_id,customer_id,created_at FROM customer_mappings WHERE location_id=$1 AND contact_id=$2`,
		m.LocationID, m.ContactID).Scan(&out.LocationID, &out.ContactID, &out.CustomerID, &out.CreatedAt); err != nil {
		return CustomerMapping{}, err
	}
	if out.CustomerID != m.CustomerID {
		p.log.Warnw("customer mapping already existed", "location_id", m.LocationID, "contact_id", m.ContactID)
	}
	return out, tx.Commit(ctx)
}

// nullTime stores an unknown expiry as NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
