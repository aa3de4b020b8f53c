package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paybroker/internal/processor"
	"paybroker/pkg/tenants"
)

var (
	// ErrMissingEmail means the platform contact has no email, so no processor
	// customer can be created for it.
	ErrMissingEmail = errors.New("dispatch: contact has no email address")
	errContactFetch = errors.New("dispatch: contact fetch failed")
	errNoContact    = errors.New("dispatch: contactId is required")
)

// customerFor returns the processor customer for a platform contact, creating
// the customer and the mapping on first use.
func (d *Dispatcher) customerFor(ctx context.Context, client processor.Client, locationID, contactID string) (string, error) {
	if contactID == "" {
		return "", errNoContact
	}
	if m, err := d.store.FindCustomerMapping(ctx, locationID, contactID); err == nil {
		return m.CustomerID, nil
	} else if !errors.Is(err, tenants.ErrNotFound) {
		return "", err
	}

	if d.locker != nil {
		if unlock, ok := d.locker.Lock(ctx, "paybroker:customer:"+locationID+":"+contactID); ok {
			defer unlock()
			// another worker may have finished while we waited
			if m, err := d.store.FindCustomerMapping(ctx, locationID, contactID); err == nil {
				return m.CustomerID, nil
			}
		}
	}

	tok, err := d.tokens.Resolve(ctx, locationID, d.companyOf(ctx, locationID))
	if err != nil {
		return "", fmt.Errorf("platform token: %w", err)
	}
	contact, err := d.platform.GetContact(ctx, tok.AccessToken, contactID)
	if err != nil {
		d.log.Warnw("fetch contact", "location_id", locationID, "contact_id", contactID, "err", err)
		return "", fmt.Errorf("%w: %v", errContactFetch, err)
	}
	email := strings.TrimSpace(contact.Email)
	if email == "" {
		return "", ErrMissingEmail
	}

	cust, found, err := client.FindCustomerByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if !found {
		cust, err = client.CreateCustomer(ctx, processor.CustomerParams{
			Email: email,
			Name:  strings.TrimSpace(contact.FirstName + " " + contact.LastName),
			Metadata: map[string]string{
				"platformContactId":  contactID,
				"platformLocationId": locationID,
			},
		})
		if err != nil {
			return "", err
		}
		d.log.Infow("processor customer created", "location_id", locationID, "contact_id", contactID, "customer_id", cust.ID)
	}

	m, err := d.store.CreateCustomerMapping(ctx, tenants.CustomerMapping{LocationID: locationID, ContactID: contactID, CustomerID: cust.ID})
	if err != nil {
		return "", err
	}
	return m.CustomerID, nil
}

// companyOf returns the agency linked to the location, or "" when none is recorded.
func (d *Dispatcher) companyOf(ctx context.Context, locationID string) string {
	cfg, err := d.store.GetPaymentConfig(ctx, locationID)
	if err != nil {
		return ""
	}
	return cfg.CompanyID
}
