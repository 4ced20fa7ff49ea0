package models

import "time"

// IncidentStatus is the lifecycle state of an incident. Transitions are
// monotone forward only.
type IncidentStatus string

const (
	StatusOpen          IncidentStatus = "open"
	StatusInvestigating IncidentStatus = "investigating"
	StatusContained     IncidentStatus = "contained"
	StatusResolved      IncidentStatus = "resolved"
)

// Active reports whether new detections may still be merged into an
// incident in this status.
func (s IncidentStatus) Active() bool {
	return s == StatusOpen || s == StatusInvestigating
}

// Incident is an aggregated, lifecycle-managed grouping of detections
// for one user.
type Incident struct {
	IncidentID         string         `json:"incident_id"`
	Title              string         `json:"title"`
	Description        string         `json:"description"`
	User               string         `json:"user"`
	Severity           Severity       `json:"severity"`
	Status             IncidentStatus `json:"status"`
	ScenarioType       string         `json:"scenario_type,omitempty"`
	DetectedAt         time.Time      `json:"detected_at"`
	LastDetectionAt    time.Time      `json:"last_detection_at"`
	AcknowledgedAt     *time.Time     `json:"acknowledged_at,omitempty"`
	ContainedAt        *time.Time     `json:"contained_at,omitempty"`
	ResolvedAt         *time.Time     `json:"resolved_at,omitempty"`
	MemberDetectionIDs []string       `json:"member_detection_ids"`
}

// ActionType identifies a simulated response action.
type ActionType string

const (
	ActionDisableUser     ActionType = "disable_user"
	ActionRevokeSessions  ActionType = "revoke_sessions"
	ActionPasswordReset   ActionType = "password_reset"
	ActionIsolateEndpoint ActionType = "isolate_endpoint"
	ActionBlockOAuth      ActionType = "block_oauth"
)

// ResponseAction is a logged, simulated containment operation. Records are
// append-only and never mutated.
type ResponseAction struct {
	ID          string     `json:"id"`
	IncidentID  string     `json:"incident_id"`
	ActionType  ActionType `json:"action_type"`
	ActionName  string     `json:"action_name"`
	Description string     `json:"description"`
	Simulated   bool       `json:"simulated"`
	ExecutedAt  time.Time  `json:"executed_at"`
}
