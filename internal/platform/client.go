// Package platform talks to the platform's REST API: OAuth grants, location
// token derivation, contact reads and payment-provider registration.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"paybroker/internal/metrics"
	"paybroker/pkg/config"
)

// APIVersion is sent as the Version header on every REST call.
const APIVersion = "2021-07-28"

// Grant is a token pair issued by the platform, plus the identity extras it
// carries.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserType     string
	LocationID   string
	CompanyID    string
	UserID       string
}

type Contact struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// ProviderIntegration is the body of the custom-provider registration call.
type ProviderIntegration struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	LocationID  string `json:"locationId"`
	QueryURL    string `json:"queryUrl"`
	PaymentsURL string `json:"paymentsUrl"`
}

type ProviderKeys struct {
	APIKey         string `json:"apiKey"`
	PublishableKey string `json:"publishableKey"`
}

// ProviderConnect hands the platform the verification keys it must present
// on webhook calls, per mode.
type ProviderConnect struct {
	Live ProviderKeys `json:"live"`
	Test ProviderKeys `json:"test"`
}

// StatusError is returned when the platform answers with a non-2xx status.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("platform %s: status %d: %s", e.Op, e.Status, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == code
}

type Client struct {
	baseURL string
	http    *http.Client
	oauth   oauth2.Config
	log     *zap.SugaredLogger
}

func New(cfg config.Config, log *zap.SugaredLogger) *Client {
	hc := &http.Client{
		Timeout:   cfg.PlatformTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
	return &Client{
		baseURL: cfg.PlatformAPIURL,
		http:    hc,
		log:     log,
		oauth: oauth2.Config{
			ClientID:     cfg.PlatformClientID,
			ClientSecret: cfg.PlatformClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.PlatformAPIURL + "/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

func (c *Client) oauthCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// ExchangeCode trades an install authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (Grant, error) {
	tok, err := c.oauth.Exchange(c.oauthCtx(ctx), code)
	metrics.PlatformRequestsTotal.WithLabelValues("exchange_code", outcome(err)).Inc()
	if err != nil {
		return Grant{}, fmt.Errorf("exchange code: %w", err)
	}
	return grantFromToken(tok), nil
}

// RefreshToken performs a refresh_token grant. The platform rotates the
// refresh token, so callers must persist both halves of the result.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (Grant, error) {
	if refreshToken == "" {
		return Grant{}, errors.New("refresh token: empty refresh token")
	}
	tok, err := c.oauth.TokenSource(c.oauthCtx(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	metrics.PlatformRequestsTotal.WithLabelValues("refresh_token", outcome(err)).Inc()
	if err != nil {
		return Grant{}, fmt.Errorf("refresh token: %w", err)
	}
	return grantFromToken(tok), nil
}

// DeriveLocationToken exchanges an agency token for a short-lived token
// scoped to one location.
func (c *Client) DeriveLocationToken(ctx context.Context, agencyToken, companyID, locationID string) (Grant, error) {
	form := url.Values{}
	form.Set("companyId", companyID)
	form.Set("locationId", locationID)
	var resp tokenResponse
	if err := c.do(ctx, "location_token", http.MethodPost, "/oauth/locationToken", agencyToken,
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &resp); err != nil {
		return Grant{}, err
	}
	if resp.AccessToken == "" {
		return Grant{}, errors.New("location token: empty access_token")
	}
	return resp.grant(), nil
}

// ProbeLocation runs a cheap authenticated contact search to prove the
// token still works for locationID.
func (c *Client) ProbeLocation(ctx context.Context, accessToken, locationID string) error {
	body, _ := json.Marshal(map[string]any{"locationId": locationID, "pageLimit": 1})
	return c.do(ctx, "contacts_search", http.MethodPost, "/contacts/search", accessToken, bytes.NewReader(body), "application/json", nil)
}

func (c *Client) GetContact(ctx context.Context, accessToken, contactID string) (Contact, error) {
	var out struct {
		Contact Contact `json:"contact"`
	}
	if err := c.do(ctx, "contact_get", http.MethodGet, "/contacts/"+url.PathEscape(contactID), accessToken, nil, "", &out); err != nil {
		return Contact{}, err
	}
	return out.Contact, nil
}

// RegisterProvider creates (or updates) the custom payment provider for a location.
func (c *Client) RegisterProvider(ctx context.Context, accessToken, locationID string, p ProviderIntegration) error {
	body, _ := json.Marshal(p)
	return c.do(ctx, "provider_register", http.MethodPost, "/payments/custom-provider/provider?locationId="+url.QueryEscape(locationID),
		accessToken, bytes.NewReader(body), "application/json", nil)
}

// ConnectProvider pushes the per-mode verification and publishable keys.
func (c *Client) ConnectProvider(ctx context.Context, accessToken, locationID string, p ProviderConnect) error {
	body, _ := json.Marshal(p)
	return c.do(ctx, "provider_connect", http.MethodPost, "/payments/custom-provider/connect?locationId="+url.QueryEscape(locationID),
		accessToken, bytes.NewReader(body), "application/json", nil)
}

func (c *Client) do(ctx context.Context, op, method, path, bearer string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Version", APIVersion)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.PlatformRequestsTotal.WithLabelValues(op, "error").Inc()
		return fmt.Errorf("platform %s: %w", op, err)
	}
	defer resp.Body.Close()
	metrics.PlatformRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode/100)+"xx").Inc()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		c.log.Debugw("platform call failed", "op", op, "status", resp.StatusCode)
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(out); err != nil {
		return fmt.Errorf("platform %s: decode: %w", op, err)
	}
	return nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	UserType     string `json:"userType"`
	LocationID   string `json:"locationId"`
	CompanyID    string `json:"companyId"`
	UserID       string `json:"userId"`
}

func (r tokenResponse) grant() Grant {
	g := Grant{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		UserType:     r.UserType,
		LocationID:   r.LocationID,
		CompanyID:    r.CompanyID,
		UserID:       r.UserID,
	}
	if r.ExpiresIn > 0 {
		g.ExpiresAt = time.Now().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return g
}

func grantFromToken(tok *oauth2.Token) Grant {
	str := func(k string) string {
		if v, ok := tok.Extra(k).(string); ok {
			return v
		}
		return ""
	}
	return Grant{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
		UserType:     str("userType"),
		LocationID:   str("locationId"),
		CompanyID:    str("companyId"),
		UserID:       str("userId"),
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
