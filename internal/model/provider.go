// Package model defines the domain entities shared across the coverage pipeline.
package model

import "time"

// Provider represents an internet service provider whose plans are listed on
// the comparison site. A provider owns zero or more coverage areas.
type Provider struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	LogoURL   string    `json:"logo_url,omitempty"`
	SiteURL   string    `json:"site_url,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Plan is a broadband plan offered by a provider.
type Plan struct {
	ID           string    `json:"id"`
	ProviderID   string    `json:"provider_id"`
	Name         string    `json:"name"`
	DownloadMbps int       `json:"download_mbps"`
	UploadMbps   int       `json:"upload_mbps"`
	PriceCents   int       `json:"price_cents"`
	Description  string    `json:"description,omitempty"`
	Benefits     []string  `json:"benefits,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}
