package correlate

import (
	"strings"

	"idsoc/internal/catalog"
	"idsoc/pkg/models"
)

// newDetection builds a detection fired on trigger. The ID derives from the
// rule and the triggering event, so re-running correlation over an unchanged
// event store reproduces the identical detection set.
func newDetection(rule catalog.Rule, trigger *models.RawEvent, matched []*models.RawEvent) *models.Detection {
	ids := make([]string, 0, len(matched))
	for _, ev := range matched {
		ids = append(ids, ev.ID)
	}
	return &models.Detection{
		ID:              rule.DetectionID + ":" + trigger.ID,
		RuleID:          rule.DetectionID,
		User:            trigger.User,
		TriggeredAt:     trigger.Timestamp,
		MatchedEventIDs: ids,
		Severity:        rule.Severity,
		MitreTactic:     rule.MitreTactic,
		MitreTechnique:  rule.MitreTechnique,
		ScenarioType:    trigger.ScenarioType,
	}
}

// matchMFAFatigue fires when a burst of MFA prompts reaches the rule
// threshold with a majority of failures or timeouts and ends in a pass.
// A burst ends when the inter-event gap exceeds the rule window; a firing
// consumes the burst so later events start a fresh one.
func (e *Engine) matchMFAFatigue(rule catalog.Rule, events []*models.RawEvent) []*models.Detection {
	var out []*models.Detection
	var burst []*models.RawEvent
	for _, ev := range events {
		if ev.EventType != models.EventMFA {
			continue
		}
		if ev.MFAResult == "" {
			e.recordMalformed(rule, ev, "missing mfa_result")
			continue
		}
		if len(burst) > 0 && ev.Timestamp.Sub(burst[len(burst)-1].Timestamp) > rule.Window {
			burst = burst[:0]
		}
		burst = append(burst, ev)
		if ev.MFAResult != models.MFAPass || len(burst) < rule.Threshold {
			continue
		}
		failed := 0
		for _, b := range burst {
			if b.MFAResult == models.MFAFail || b.MFAResult == models.MFATimeout {
				failed++
			}
		}
		if failed*2 > len(burst) {
			out = append(out, newDetection(rule, ev, burst))
			burst = nil
		}
	}
	return out
}

// matchImpossibleTravel fires on the later of two sign-ins whose implied
// travel speed exceeds the rule threshold within the rule window.
func (e *Engine) matchImpossibleTravel(rule catalog.Rule, events []*models.RawEvent) []*models.Detection {
	var out []*models.Detection
	var prev *models.RawEvent
	var prevCoord coord
	for _, ev := range events {
		if ev.EventType != models.EventSignIn {
			continue
		}
		if ev.GeoCity == "" || ev.GeoCountry == "" {
			e.recordMalformed(rule, ev, "missing geo location")
			continue
		}
		c, ok := lookupCity(ev.GeoCity)
		if !ok {
			e.recordMalformed(rule, ev, "unknown city")
			continue
		}
		if prev != nil && ev.Timestamp.Sub(prev.Timestamp) <= rule.Window {
			dist := haversineKm(prevCoord, c)
			delta := ev.Timestamp.Sub(prev.Timestamp)
			if delta <= 0 {
				if dist > 0 {
					out = append(out, newDetection(rule, ev, []*models.RawEvent{prev, ev}))
				}
			} else if dist/delta.Hours() > rule.SpeedKmh {
				out = append(out, newDetection(rule, ev, []*models.RawEvent{prev, ev}))
			}
		}
		prev = ev
		prevCoord = c
	}
	return out
}

// matchLegacyAuth fires on sign-ins over legacy protocols with no MFA
// challenge.
func (e *Engine) matchLegacyAuth(rule catalog.Rule, events []*models.RawEvent) []*models.Detection {
	var out []*models.Detection
	for _, ev := range events {
		if ev.EventType != models.EventSignIn || ev.SignInResult != models.SignInSuccess {
			continue
		}
		if isLegacyApp(ev.App) && ev.MFAResult == "" {
			out = append(out, newDetection(rule, ev, []*models.RawEvent{ev}))
		}
	}
	return out
}

// matchRiskySignIn fires on successful sign-ins flagged high risk.
func (e *Engine) matchRiskySignIn(rule catalog.Rule, events []*models.RawEvent) []*models.Detection {
	var out []*models.Detection
	for _, ev := range events {
		if ev.EventType != models.EventSignIn {
			continue
		}
		if ev.RiskLevel == models.RiskHigh && ev.SignInResult == models.SignInSuccess {
			out = append(out, newDetection(rule, ev, []*models.RawEvent{ev}))
		}
	}
	return out
}

// matchOAuthAbuse fires on an OAuth consent requesting a sensitive scope
// within the window after a high-risk event for the same user.
func (e *Engine) matchOAuthAbuse(rule catalog.Rule, events []*models.RawEvent) []*models.Detection {
	var out []*models.Detection
	for i, ev := range events {
		if ev.EventType != models.EventOAuthConsent {
			continue
		}
		if len(ev.OAuthScopes) == 0 {
			e.recordMalformed(rule, ev, "missing oauth scopes")
			continue
		}
		if !hasSensitiveScope(ev.OAuthScopes) {
			continue
		}
		if risk := latestHighRiskBefore(events[:i], ev, rule); risk != nil {
			out = append(out, newDetection(rule, ev, []*models.RawEvent{risk, ev}))
		}
	}
	return out
}

// matchPrivEscalation fires on a role change for a user with an open
// high-risk event in the preceding window.
func (e *Engine) matchPrivEscalation(rule catalog.Rule, events []*models.RawEvent) []*models.Detection {
	var out []*models.Detection
	for i, ev := range events {
		if ev.EventType != models.EventRoleChange {
			continue
		}
		if ev.RoleName == "" {
			e.recordMalformed(rule, ev, "missing role_name")
			continue
		}
		if risk := latestHighRiskBefore(events[:i], ev, rule); risk != nil {
			out = append(out, newDetection(rule, ev, []*models.RawEvent{risk, ev}))
		}
	}
	return out
}

// latestHighRiskBefore returns the most recent high-risk event within the
// rule window before trigger, or nil.
func latestHighRiskBefore(preceding []*models.RawEvent, trigger *models.RawEvent, rule catalog.Rule) *models.RawEvent {
	for i := len(preceding) - 1; i >= 0; i-- {
		ev := preceding[i]
		if trigger.Timestamp.Sub(ev.Timestamp) > rule.Window {
			return nil
		}
		if ev.RiskLevel == models.RiskHigh && ev.ID != trigger.ID {
			return ev
		}
	}
	return nil
}

func hasSensitiveScope(scopes []string) bool {
	for _, s := range scopes {
		for _, sensitive := range catalog.SensitiveScopes {
			if strings.EqualFold(strings.TrimSpace(s), sensitive) {
				return true
			}
		}
	}
	return false
}

func isLegacyApp(app string) bool {
	for _, legacy := range catalog.LegacyAuthApps {
		if strings.EqualFold(strings.TrimSpace(app), legacy) {
			return true
		}
	}
	return false
}
