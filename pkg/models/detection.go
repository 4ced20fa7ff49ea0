package models

import "time"

// DetectionRule is one static entry of the detection catalog. Rules are
// loaded once at startup and never mutated afterwards.
type DetectionRule struct {
	DetectionID            string      `json:"detection_id" yaml:"detection_id"`
	Name                   string      `json:"name" yaml:"name"`
	Description            string      `json:"description" yaml:"description"`
	MitreTactic            string      `json:"mitre_tactic" yaml:"mitre_tactic"`
	MitreTechnique         string      `json:"mitre_technique" yaml:"mitre_technique"`
	MitreTechniqueID       string      `json:"mitre_technique_id" yaml:"mitre_technique_id"`
	Severity               Severity    `json:"severity" yaml:"severity"`
	DetectionLogic         string      `json:"detection_logic" yaml:"detection_logic"`
	RequiredSignals        []EventType `json:"required_signals" yaml:"required_signals"`
	ExpectedFalsePositives string      `json:"expected_false_positives" yaml:"expected_false_positives"`
	RecommendedResponse    string      `json:"recommended_response" yaml:"recommended_response"`
}

// Detection is a single firing of a detection rule against a specific
// evidence window. Immutable once created.
type Detection struct {
	ID              string    `json:"id"`
	RuleID          string    `json:"rule_id"`
	User            string    `json:"user"`
	TriggeredAt     time.Time `json:"triggered_at"`
	MatchedEventIDs []string  `json:"matched_event_ids"`

	// Denormalized rule attributes, carried so downstream aggregation and
	// metrics never need a catalog lookup.
	Severity       Severity `json:"severity"`
	MitreTactic    string   `json:"mitre_tactic"`
	MitreTechnique string   `json:"mitre_technique"`
	ScenarioType   string   `json:"scenario_type,omitempty"`
}
