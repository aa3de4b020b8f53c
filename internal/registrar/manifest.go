package registrar

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest describes how the provider presents itself to the platform.
type Manifest struct {
	Name         string `json:"name" yaml:"name"`
	Description  string `json:"description" yaml:"description"`
	ImageURL     string `json:"image_url" yaml:"image_url"`
	QueryPath    string `json:"query_path" yaml:"query_path"`
	PaymentsPath string `json:"payments_path" yaml:"payments_path"`
}

func DefaultManifest() Manifest {
	return Manifest{
		Name:         "Stripe Provider",
		Description:  "Accept card payments and subscriptions through your own Stripe account.",
		QueryPath:    "/api/query",
		PaymentsPath: "/payment",
	}
}

// LoadManifest reads a YAML or JSON manifest; unset fields keep their defaults.
func LoadManifest(path string) (Manifest, error) {
	m := DefaultManifest()
	if path == "" {
		return m, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	var in Manifest
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := json.Unmarshal(b, &in); err != nil {
			return Manifest{}, err
		}
	} else if err := yaml.Unmarshal(b, &in); err != nil {
		return Manifest{}, fmt.Errorf("yaml parse: %w", err)
	}
	if in.Name != "" {
		m.Name = in.Name
	}
	if in.Description != "" {
		m.Description = in.Description
	}
	if in.ImageURL != "" {
		m.ImageURL = in.ImageURL
	}
	if in.QueryPath != "" {
		m.QueryPath = in.QueryPath
	}
	if in.PaymentsPath != "" {
		m.PaymentsPath = in.PaymentsPath
	}
	return m, nil
}

// queryURL is where the platform sends payment events.
func (m Manifest) queryURL(base string) string { return base + m.QueryPath }

// paymentsURL is the checkout iFrame for one location.
func (m Manifest) paymentsURL(base, appID, locationID string) string {
	q := url.Values{}
	if appID != "" {
		q.Set("app_id", appID)
	}
	q.Set("location_id", locationID)
	return base + m.PaymentsPath + "?" + q.Encode()
}
