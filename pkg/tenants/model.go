package tenants

import "time"

// Token is the stored OAuth grant for one location (or one company when the
// app was installed at agency level).
type Token struct {
	ID           string // uuid
	LocationID   string
	CompanyID    string
	UserID       string
	AppID        string
	AccessToken  string
	RefreshToken string
	UserType     string // Location | Company
	ExpiresAt    time.Time
	UpdatedAt    time.Time
}

// Key is the record's storage key: the location when present, else the company.
func (t Token) Key() string {
	if t.LocationID != "" {
		return t.LocationID
	}
	return t.CompanyID
}

// PaymentConfig holds the processor keys for one location. Secret keys are
// ciphertext produced by secrets.Cipher; they are never stored in clear.
type PaymentConfig struct {
	LocationID          string
	CompanyID           string // owning agency; resolves agency-level tokens
	TestPubKey          string
	TestSecKey          string // encrypted
	LivePubKey          string
	LiveSecKey          string // encrypted
	TestVerificationKey string
	LiveVerificationKey string
	UpdatedAt           time.Time
}

// CustomerMapping links a platform contact to the processor customer created for it.
type CustomerMapping struct {
	LocationID string
	ContactID  string
	CustomerID string
	CreatedAt  time.Time
}

// Mode selects which processor key pair serves a request.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// SecretKey returns the encrypted processor secret for m.
func (c PaymentConfig) SecretKey(m Mode) string {
	if m == ModeLive {
		return c.LiveSecKey
	}
	return c.TestSecKey
}

// PublishableKey returns the publishable processor key for m.
func (c PaymentConfig) PublishableKey(m Mode) string {
	if m == ModeLive {
		return c.LivePubKey
	}
	return c.TestPubKey
}
