// Package token keeps each tenant's platform access token usable across the
// platform's two grant tiers (agency and location).
package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"paybroker/internal/metrics"
	"paybroker/internal/platform"
	"paybroker/pkg/tenants"
)

// Platform is the subset of the platform API the manager needs.
type Platform interface {
	ProbeLocation(ctx context.Context, accessToken, locationID string) error
	RefreshToken(ctx context.Context, refreshToken string) (platform.Grant, error)
	DeriveLocationToken(ctx context.Context, agencyToken, companyID, locationID string) (platform.Grant, error)
}

type State int

const (
	NoToken State = iota
	AgencyTokenValid
	AgencyTokenExpired
	LocationTokenValid
	LocationTokenExpired
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case NoToken:
		return "NO_TOKEN"
	case AgencyTokenValid:
		return "AGENCY_TOKEN_VALID"
	case AgencyTokenExpired:
		return "AGENCY_TOKEN_EXPIRED"
	case LocationTokenValid:
		return "LOCATION_TOKEN_VALID"
	case LocationTokenExpired:
		return "LOCATION_TOKEN_EXPIRED"
	case Resolved:
		return "RESOLVED"
	case Failed:
		return "FAILED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// maxSteps bounds a single resolution. The longest legal path takes five steps:
// NO_TOKEN, AGENCY_VALID, AGENCY_EXPIRED, AGENCY_VALID, AGENCY_EXPIRED, FAILED.
const maxSteps = 6

// defaultTTL is used when the platform omits expires_in.
const defaultTTL = 23 * time.Hour

type Manager struct {
	store    tenants.Store
	platform Platform
	log      *zap.SugaredLogger
}

func NewManager(store tenants.Store, p Platform, log *zap.SugaredLogger) *Manager {
	return &Manager{store: store, platform: p, log: log}
}

// run is the mutable context of one resolution.
type run struct {
	locationID string
	companyID  string

	state  State
	record tenants.Token // as stored
	result tenants.Token // what the caller receives
	path   Class

	// refreshed is set once a refresh exchange succeeded; it is never reset,
	// so a second refresh is impossible within one run.
	refreshed bool
	err       error
}

// Resolve returns a token usable against the platform API on behalf of
// locationID. The token was either probed live or obtained from a refresh or
// derivation exchange during this call. Terminal failures satisfy
// IsReauthorizationRequired.
func (m *Manager) Resolve(ctx context.Context, locationID, companyID string) (tenants.Token, error) {
	r := &run{locationID: locationID, companyID: companyID, state: NoToken}
	for i := 0; r.state != Resolved && r.state != Failed; i++ {
		if i == maxSteps {
			r.state, r.err = Failed, fmt.Errorf("token: state machine did not settle from %s", r.state)
			break
		}
		from := r.state
		r.state = m.step(ctx, r)
		m.log.Debugw("token transition", "location_id", locationID, "from", from, "to", r.state)
	}
	m.observe(r)
	if r.state == Failed {
		return tenants.Token{}, r.err
	}
	return r.result, nil
}

// step performs the single action associated with r.state and returns the next state.
func (m *Manager) step(ctx context.Context, r *run) State {
	switch r.state {
	case NoToken:
		rec, err := m.store.GetToken(ctx, r.locationID, r.companyID)
		if errors.Is(err, tenants.ErrNotFound) {
			return r.fail(ErrCredentialNotFound)
		}
		if err != nil {
			return r.fail(fmt.Errorf("load token: %w", err))
		}
		r.record = rec
		class, err := Classify(rec.AccessToken)
		if err != nil {
			return r.fail(err)
		}
		r.path = class
		if class == ClassLocation {
			return LocationTokenValid
		}
		return AgencyTokenValid

	case LocationTokenValid:
		if r.refreshed {
			r.result = r.record
			return Resolved
		}
		if err := m.platform.ProbeLocation(ctx, r.record.AccessToken, r.locationID); err != nil {
			// Any failed check leads to a refresh; only the log differs.
			if platform.IsStatus(err, http.StatusUnauthorized) {
				m.log.Infow("location token rejected", "location_id", r.locationID)
			} else {
				m.log.Warnw("location token check failed", "location_id", r.locationID, "err", err)
			}
			return LocationTokenExpired
		}
		r.result = r.record
		return Resolved

	case LocationTokenExpired:
		return m.refresh(ctx, r, LocationTokenValid)

	case AgencyTokenValid:
		companyID := r.companyID
		if companyID == "" {
			companyID = r.record.CompanyID
		}
		if companyID == "" {
			return r.fail(fmt.Errorf("%w: agency token without company id", ErrInvalidCredential))
		}
		g, err := m.platform.DeriveLocationToken(ctx, r.record.AccessToken, companyID, r.locationID)
		if err != nil {
			m.log.Infow("location token derivation failed", "location_id", r.locationID, "company_id", companyID, "err", err)
			return AgencyTokenExpired
		}
		res := r.record
		res.AccessToken = g.AccessToken
		if !g.ExpiresAt.IsZero() {
			res.ExpiresAt = g.ExpiresAt
		}
		r.result = res
		return Resolved

	case AgencyTokenExpired:
		return m.refresh(ctx, r, AgencyTokenValid)
	}
	return r.fail(fmt.Errorf("token: no transition from %s", r.state))
}

// refresh runs the single refresh-token exchange allowed per run and
// persists the rotated pair.
func (m *Manager) refresh(ctx context.Context, r *run, next State) State {
	if r.refreshed {
		return r.fail(ErrRefreshFailed)
	}
	g, err := m.platform.RefreshToken(ctx, r.record.RefreshToken)
	if err != nil {
		m.log.Warnw("token refresh rejected", "location_id", r.locationID, "path", r.path, "err", err)
		return r.fail(fmt.Errorf("%w: %v", ErrRefreshFailed, err))
	}
	r.refreshed = true

	upd := r.record
	upd.AccessToken = g.AccessToken
	if g.RefreshToken != "" {
		upd.RefreshToken = g.RefreshToken
	}
	upd.ExpiresAt = g.ExpiresAt
	if upd.ExpiresAt.IsZero() {
		upd.ExpiresAt = time.Now().Add(defaultTTL)
	}
	saved, err := m.store.UpsertToken(ctx, upd)
	if err != nil {
		return r.fail(fmt.Errorf("persist refreshed token: %w", err))
	}
	r.record = saved
	return next
}

func (r *run) fail(err error) State {
	r.err = err
	return Failed
}

func (m *Manager) observe(r *run) {
	path := string(r.path)
	if path == "" {
		path = "none"
	}
	outcome := "ok"
	switch {
	case r.state == Resolved && r.refreshed:
		outcome = "refreshed"
	case errors.Is(r.err, ErrCredentialNotFound):
		outcome = "credential_not_found"
	case errors.Is(r.err, ErrInvalidCredential):
		outcome = "invalid_credential"
	case errors.Is(r.err, ErrRefreshFailed):
		outcome = "refresh_failed"
	case r.err != nil:
		outcome = "error"
	}
	metrics.TokenResolutionsTotal.WithLabelValues(path, outcome).Inc()
	if r.err != nil {
		m.log.Warnw("token resolution failed", "location_id", r.locationID, "company_id", r.companyID, "path", path, "err", r.err)
	}
}
