package model

// Reason is a machine-checkable explanation for a coverage query outcome.
// Callers distinguish outcomes by Reason, never by parsing Message.
type Reason string

const (
	ReasonOK           Reason = "ok"
	ReasonInvalidInput Reason = "invalid_input"
	ReasonNotFound     Reason = "not_found"
	// ReasonUnresolvable means the postal code exists but no coordinates
	// could be resolved for it.
	ReasonUnresolvable Reason = "unresolvable_location"
	ReasonNoCoverage   Reason = "no_coverage"
	ReasonTransient    Reason = "transient_error"
)

// ProviderResult is one provider entry in a coverage query response.
type ProviderResult struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug"`
	LogoURL string `json:"logo_url,omitempty"`
	Plans   []Plan `json:"plans"`
}

// QueryResult is the unified response of a coverage lookup. Providers is
// empty when no stored region contains the point; that is a valid answer,
// not an error.
type QueryResult struct {
	Providers  []ProviderResult `json:"providers"`
	Point      *GeoPoint        `json:"point,omitempty"`
	PostalCode string           `json:"postal_code,omitempty"`
	Reason     Reason           `json:"reason"`
	Message    string           `json:"message,omitempty"`
}
