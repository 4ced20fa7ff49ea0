package models

import "time"

// EventType classifies a raw identity event.
type EventType string

const (
	EventSignIn       EventType = "sign_in"
	EventMFA          EventType = "mfa"
	EventOAuthConsent EventType = "oauth_consent"
	EventRoleChange   EventType = "role_change"
	EventOther        EventType = "other"
)

// SignInResult is the outcome of a sign-in attempt.
type SignInResult string

const (
	SignInSuccess SignInResult = "success"
	SignInFail    SignInResult = "fail"
)

// MFAResult is the outcome of an MFA challenge.
type MFAResult string

const (
	MFAPass    MFAResult = "pass"
	MFAFail    MFAResult = "fail"
	MFATimeout MFAResult = "timeout"
)

// RiskLevel is the identity-provider risk assessment attached to an event.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RawEvent is one immutable identity telemetry fact. Events are never
// mutated or deleted after ingestion.
type RawEvent struct {
	ID           string       `json:"id"`
	Timestamp    time.Time    `json:"timestamp"`
	User         string       `json:"user"`
	EventType    EventType    `json:"event_type"`
	IPAddress    string       `json:"ip_address,omitempty"`
	GeoCity      string       `json:"geo_city,omitempty"`
	GeoCountry   string       `json:"geo_country,omitempty"`
	Device       string       `json:"device,omitempty"`
	App          string       `json:"app,omitempty"`
	SignInResult SignInResult `json:"sign_in_result,omitempty"`
	MFAResult    MFAResult    `json:"mfa_result,omitempty"`
	RiskLevel    RiskLevel    `json:"risk_level,omitempty"`
	ScenarioType string       `json:"scenario_type,omitempty"`

	// Event-type specific fields.
	RoleName     string   `json:"role_name,omitempty"`
	OAuthAppName string   `json:"oauth_app_name,omitempty"`
	OAuthScopes  []string `json:"oauth_scopes,omitempty"`
}

// Before reports whether e orders before other. The ordering key is
// timestamp, then ID for ties.
func (e *RawEvent) Before(other *RawEvent) bool {
	if e.Timestamp.Before(other.Timestamp) {
		return true
	}
	if e.Timestamp.After(other.Timestamp) {
		return false
	}
	return e.ID < other.ID
}
