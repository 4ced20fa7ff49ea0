package catalog

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"idsoc/pkg/models"
)

// Rule is one catalog entry together with its tunable matching parameters.
// The predicate itself lives in the correlation engine; the catalog only
// carries data.
type Rule struct {
	models.DetectionRule

	Enabled   bool
	Window    time.Duration
	Threshold int
	SpeedKmh  float64
}

// Overrides is the YAML tuning file layout. Only parameters can be tuned;
// the rule set itself is fixed.
type Overrides struct {
	Version  int              `yaml:"version"`
	Defaults OverrideDefaults `yaml:"defaults"`
	Rules    []RuleOverride   `yaml:"rules"`
}

// OverrideDefaults are fallback parameters applied to every rule.
type OverrideDefaults struct {
	Window time.Duration `yaml:"window"`
}

// RuleOverride tunes a single rule by detection ID.
type RuleOverride struct {
	ID        string        `yaml:"id"`
	Enabled   *bool         `yaml:"enabled"`
	Window    time.Duration `yaml:"window"`
	Threshold int           `yaml:"threshold"`
	SpeedKmh  float64       `yaml:"speed_kmh"`
}

// Catalog is the immutable set of detection rules loaded at process start.
type Catalog struct {
	rules []Rule
	byID  map[string]*Rule
}

// Rule IDs of the built-in catalog.
const (
	RuleMFAFatigue       = "DET-001"
	RuleImpossibleTravel = "DET-002"
	RuleLegacyAuth       = "DET-003"
	RuleRiskySignIn      = "DET-004"
	RuleOAuthAbuse       = "DET-005"
	RulePrivEscalation   = "DET-006"
)

// SensitiveScopes are OAuth scopes considered high risk when consented.
var SensitiveScopes = []string{
	"Mail.Read",
	"Files.Read.All",
	"User.ReadWrite.All",
	"Directory.ReadWrite.All",
}

// LegacyAuthApps are protocols that bypass MFA.
var LegacyAuthApps = []string{"IMAP", "POP3", "SMTP", "ActiveSync"}

// Default returns the built-in catalog.
func Default() *Catalog {
	rules := []Rule{
		{
			DetectionRule: models.DetectionRule{
				DetectionID:            RuleMFAFatigue,
				Name:                   "MFA Fatigue Attack",
				Description:            "Detects when a user receives an excessive number of MFA prompts within a short time window, followed by a successful authentication",
				MitreTactic:            "Initial Access",
				MitreTechnique:         "Multi-Factor Authentication Request Generation",
				MitreTechniqueID:       "T1110.001",
				Severity:               models.SeverityHigh,
				DetectionLogic:         "Count MFA prompts for the same user within the window. If the burst has at least the threshold of prompts, the majority fail or time out, and the last one passes, trigger an alert.",
				RequiredSignals:        []models.EventType{models.EventMFA},
				ExpectedFalsePositives: "Users with legitimate connectivity issues may trigger false positives. Tune threshold based on baseline.",
				RecommendedResponse:    "1. Disable account 2. Revoke active sessions 3. Reset password 4. Contact user to verify",
			},
			Enabled:   true,
			Window:    10 * time.Minute,
			Threshold: 5,
		},
		{
			DetectionRule: models.DetectionRule{
				DetectionID:            RuleImpossibleTravel,
				Name:                   "Impossible Travel",
				Description:            "Detects when a user authenticates from two geographically distant locations within an impossible time frame",
				MitreTactic:            "Initial Access",
				MitreTechnique:         "Valid Accounts",
				MitreTechniqueID:       "T1078",
				Severity:               models.SeverityHigh,
				DetectionLogic:         "Calculate great-circle distance and time between consecutive sign-ins. If the required travel speed exceeds the threshold, trigger an alert on the later sign-in.",
				RequiredSignals:        []models.EventType{models.EventSignIn},
				ExpectedFalsePositives: "VPN usage, legitimate travel, or shared accounts may cause false positives. Verify with user before action.",
				RecommendedResponse:    "1. Verify with user if travel is legitimate 2. If not, disable account and revoke sessions 3. Investigate IP addresses",
			},
			Enabled:  true,
			Window:   time.Hour,
			SpeedKmh: 800,
		},
		{
			DetectionRule: models.DetectionRule{
				DetectionID:            RuleLegacyAuth,
				Name:                   "Legacy Authentication Usage",
				Description:            "Detects sign-ins using legacy authentication protocols that bypass MFA",
				MitreTactic:            "Defense Evasion",
				MitreTechnique:         "Disable or Modify Security Tools",
				MitreTechniqueID:       "T1562.001",
				Severity:               models.SeverityMedium,
				DetectionLogic:         "If a sign-in uses a legacy protocol (IMAP, POP3, SMTP, ActiveSync) and no MFA challenge was issued, trigger an alert.",
				RequiredSignals:        []models.EventType{models.EventSignIn},
				ExpectedFalsePositives: "Legitimate service accounts may use legacy auth. Whitelist known service accounts.",
				RecommendedResponse:    "1. Identify the account owner 2. Migrate to modern authentication 3. Block legacy protocols via policy",
			},
			Enabled: true,
		},
		{
			DetectionRule: models.DetectionRule{
				DetectionID:            RuleRiskySignIn,
				Name:                   "Risky Sign-In with High Risk",
				Description:            "Detects successful sign-ins that the identity provider flagged as high risk",
				MitreTactic:            "Initial Access",
				MitreTechnique:         "Valid Accounts",
				MitreTechniqueID:       "T1078",
				Severity:               models.SeverityHigh,
				DetectionLogic:         "If risk_level is high and sign_in_result is success, trigger an alert.",
				RequiredSignals:        []models.EventType{models.EventSignIn},
				ExpectedFalsePositives: "New device or location may trigger false positives. Review risk factors.",
				RecommendedResponse:    "1. Review risk detail 2. Revoke sessions 3. Require password reset if compromise is suspected",
			},
			Enabled: true,
		},
		{
			DetectionRule: models.DetectionRule{
				DetectionID:            RuleOAuthAbuse,
				Name:                   "OAuth App Consent with High-Risk Scopes",
				Description:            "Detects when an OAuth application is consented with high-risk permissions shortly after high-risk account activity",
				MitreTactic:            "Persistence",
				MitreTechnique:         "Cloud Accounts",
				MitreTechniqueID:       "T1078.004",
				Severity:               models.SeverityMedium,
				DetectionLogic:         "If an OAuth consent requests a sensitive scope within the window after a high-risk event for the same user, trigger an alert on the consent.",
				RequiredSignals:        []models.EventType{models.EventOAuthConsent},
				ExpectedFalsePositives: "Legitimate business applications may require high-risk scopes. Verify with business owner.",
				RecommendedResponse:    "1. Block the OAuth application 2. Revoke issued tokens 3. Review data accessed by the app",
			},
			Enabled: true,
			Window:  time.Hour,
		},
		{
			DetectionRule: models.DetectionRule{
				DetectionID:            RulePrivEscalation,
				Name:                   "Privileged Role Assignment After Risky Activity",
				Description:            "Detects a privileged role assignment for a user with recent high-risk activity",
				MitreTactic:            "Privilege Escalation",
				MitreTechnique:         "Cloud Account",
				MitreTechniqueID:       "T1078.004",
				Severity:               models.SeverityHigh,
				DetectionLogic:         "If a role change occurs while the user has an open high-risk event in the preceding window, trigger an alert on the role change.",
				RequiredSignals:        []models.EventType{models.EventRoleChange},
				ExpectedFalsePositives: "Emergency changes or global teams may cause false positives. Verify with change management.",
				RecommendedResponse:    "1. Verify role assignment is authorized 2. Review who made the change 3. Revoke if unauthorized 4. Investigate user activity",
			},
			Enabled: true,
			Window:  time.Hour,
		},
	}

	c := &Catalog{rules: rules, byID: make(map[string]*Rule, len(rules))}
	for i := range c.rules {
		c.byID[c.rules[i].DetectionID] = &c.rules[i]
	}
	return c
}

// Load returns the built-in catalog with parameter overrides applied from a
// YAML file. An empty path returns the defaults unchanged.
func Load(path string) (*Catalog, error) {
	c := Default()
	if strings.TrimSpace(path) == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var ov Overrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}

	if ov.Defaults.Window > 0 {
		for i := range c.rules {
			if c.rules[i].Window > 0 {
				c.rules[i].Window = ov.Defaults.Window
			}
		}
	}
	for _, o := range ov.Rules {
		r, ok := c.byID[strings.TrimSpace(o.ID)]
		if !ok {
			return nil, fmt.Errorf("unknown rule id %q in catalog file", o.ID)
		}
		if o.Enabled != nil {
			r.Enabled = *o.Enabled
		}
		if o.Window > 0 {
			r.Window = o.Window
		}
		if o.Threshold > 0 {
			r.Threshold = o.Threshold
		}
		if o.SpeedKmh > 0 {
			r.SpeedKmh = o.SpeedKmh
		}
	}
	return c, nil
}

// Rules returns every catalog rule, enabled or not, in stable order.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

// ByID returns the rule with the given detection ID.
func (c *Catalog) ByID(id string) (Rule, bool) {
	r, ok := c.byID[id]
	if !ok {
		return Rule{}, false
	}
	return *r, true
}
