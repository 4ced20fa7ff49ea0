package correlate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"idsoc/internal/catalog"
	"idsoc/internal/store"
	"idsoc/pkg/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type eventBuilder struct {
	seq int
}

func (b *eventBuilder) next(ev models.RawEvent) *models.RawEvent {
	b.seq++
	ev.ID = fmt.Sprintf("EVT-%03d", b.seq)
	return &ev
}

func (b *eventBuilder) mfa(user string, at time.Time, result models.MFAResult) *models.RawEvent {
	return b.next(models.RawEvent{
		Timestamp: at,
		User:      user,
		EventType: models.EventMFA,
		MFAResult: result,
	})
}

func (b *eventBuilder) signIn(user string, at time.Time, city, country string, risk models.RiskLevel) *models.RawEvent {
	return b.next(models.RawEvent{
		Timestamp:    at,
		User:         user,
		EventType:    models.EventSignIn,
		GeoCity:      city,
		GeoCountry:   country,
		SignInResult: models.SignInSuccess,
		RiskLevel:    risk,
	})
}

func newEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	st := store.New()
	return New(catalog.Default(), st, Config{Workers: 2}), st
}

func runEngine(t *testing.T, eng *Engine, st *store.Store, events []*models.RawEvent) []*models.Detection {
	t.Helper()
	if err := st.AppendEvents(events); err != nil {
		t.Fatalf("AppendEvents: %v", err)
	}
	dets, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return dets
}

func byRule(dets []*models.Detection, ruleID string) []*models.Detection {
	var out []*models.Detection
	for _, d := range dets {
		if d.RuleID == ruleID {
			out = append(out, d)
		}
	}
	return out
}

func TestMFAFatigueFiresOncePerBurst(t *testing.T) {
	b := &eventBuilder{}
	var events []*models.RawEvent
	for i := 0; i < 5; i++ {
		events = append(events, b.mfa("alice", base.Add(time.Duration(i)*time.Minute), models.MFATimeout))
	}
	pass := b.mfa("alice", base.Add(5*time.Minute), models.MFAPass)
	events = append(events, pass)

	eng, st := newEngine(t)
	dets := byRule(runEngine(t, eng, st, events), catalog.RuleMFAFatigue)
	if len(dets) != 1 {
		t.Fatalf("expected 1 MFA fatigue detection, got %d", len(dets))
	}
	d := dets[0]
	if d.ID != catalog.RuleMFAFatigue+":"+pass.ID {
		t.Fatalf("unexpected detection ID %s", d.ID)
	}
	if len(d.MatchedEventIDs) != 6 {
		t.Fatalf("expected the full burst as evidence, got %d events", len(d.MatchedEventIDs))
	}
	if !d.TriggeredAt.Equal(pass.Timestamp) {
		t.Fatalf("detection must trigger on the pass event")
	}
}

func TestMFAFatigueSecondBurstFiresAgain(t *testing.T) {
	b := &eventBuilder{}
	var events []*models.RawEvent
	burst := func(start time.Time) {
		for i := 0; i < 5; i++ {
			events = append(events, b.mfa("alice", start.Add(time.Duration(i)*time.Minute), models.MFAFail))
		}
		events = append(events, b.mfa("alice", start.Add(5*time.Minute), models.MFAPass))
	}
	burst(base)
	burst(base.Add(2 * time.Hour))

	eng, st := newEngine(t)
	dets := byRule(runEngine(t, eng, st, events), catalog.RuleMFAFatigue)
	if len(dets) != 2 {
		t.Fatalf("expected a detection per burst, got %d", len(dets))
	}
}

func TestMFAFatigueBelowThreshold(t *testing.T) {
	b := &eventBuilder{}
	var events []*models.RawEvent
	for i := 0; i < 3; i++ {
		events = append(events, b.mfa("alice", base.Add(time.Duration(i)*time.Minute), models.MFAFail))
	}
	events = append(events, b.mfa("alice", base.Add(3*time.Minute), models.MFAPass))

	eng, st := newEngine(t)
	if dets := byRule(runEngine(t, eng, st, events), catalog.RuleMFAFatigue); len(dets) != 0 {
		t.Fatalf("short burst must not fire, got %d detections", len(dets))
	}
}

func TestImpossibleTravelFires(t *testing.T) {
	b := &eventBuilder{}
	first := b.signIn("alice", base, "New York", "United States", models.RiskLow)
	second := b.signIn("alice", base.Add(5*time.Minute), "Tokyo", "Japan", models.RiskLow)

	eng, st := newEngine(t)
	dets := byRule(runEngine(t, eng, st, []*models.RawEvent{first, second}), catalog.RuleImpossibleTravel)
	if len(dets) != 1 {
		t.Fatalf("expected 1 travel detection, got %d", len(dets))
	}
	d := dets[0]
	if d.ID != catalog.RuleImpossibleTravel+":"+second.ID {
		t.Fatalf("detection must fire on the later sign-in, got %s", d.ID)
	}
	if len(d.MatchedEventIDs) != 2 || d.MatchedEventIDs[0] != first.ID {
		t.Fatalf("expected both sign-ins as evidence, got %v", d.MatchedEventIDs)
	}
}

func TestImpossibleTravelPlausibleSpeed(t *testing.T) {
	b := &eventBuilder{}
	events := []*models.RawEvent{
		b.signIn("alice", base, "New York", "United States", models.RiskLow),
		b.signIn("alice", base.Add(time.Hour), "Boston", "United States", models.RiskLow),
	}

	eng, st := newEngine(t)
	if dets := byRule(runEngine(t, eng, st, events), catalog.RuleImpossibleTravel); len(dets) != 0 {
		t.Fatalf("plausible travel must not fire, got %d detections", len(dets))
	}
}

func TestImpossibleTravelSkipsUnknownCity(t *testing.T) {
	b := &eventBuilder{}
	events := []*models.RawEvent{
		b.signIn("alice", base, "New York", "United States", models.RiskLow),
		b.signIn("alice", base.Add(2*time.Minute), "Atlantis", "Unknown", models.RiskLow),
		b.signIn("alice", base.Add(5*time.Minute), "Tokyo", "Japan", models.RiskLow),
	}

	eng, st := newEngine(t)
	dets := byRule(runEngine(t, eng, st, events), catalog.RuleImpossibleTravel)
	if len(dets) != 1 {
		t.Fatalf("unknown city must be excluded, not break the pair, got %d detections", len(dets))
	}
}

func TestLegacyAuthFires(t *testing.T) {
	b := &eventBuilder{}
	legacy := b.next(models.RawEvent{
		Timestamp:    base,
		User:         "bob",
		EventType:    models.EventSignIn,
		App:          "IMAP",
		SignInResult: models.SignInSuccess,
		RiskLevel:    models.RiskLow,
	})
	modern := b.next(models.RawEvent{
		Timestamp:    base.Add(time.Minute),
		User:         "bob",
		EventType:    models.EventSignIn,
		App:          "Outlook",
		SignInResult: models.SignInSuccess,
		MFAResult:    models.MFAPass,
		RiskLevel:    models.RiskLow,
	})

	eng, st := newEngine(t)
	dets := byRule(runEngine(t, eng, st, []*models.RawEvent{legacy, modern}), catalog.RuleLegacyAuth)
	if len(dets) != 1 {
		t.Fatalf("expected 1 legacy auth detection, got %d", len(dets))
	}
	if dets[0].ID != catalog.RuleLegacyAuth+":"+legacy.ID {
		t.Fatalf("wrong trigger event: %s", dets[0].ID)
	}
}

func TestRiskySignInFires(t *testing.T) {
	b := &eventBuilder{}
	risky := b.next(models.RawEvent{
		Timestamp:    base,
		User:         "bob",
		EventType:    models.EventSignIn,
		SignInResult: models.SignInSuccess,
		RiskLevel:    models.RiskHigh,
	})
	failed := b.next(models.RawEvent{
		Timestamp:    base.Add(time.Minute),
		User:         "bob",
		EventType:    models.EventSignIn,
		SignInResult: models.SignInFail,
		RiskLevel:    models.RiskHigh,
	})

	eng, st := newEngine(t)
	dets := byRule(runEngine(t, eng, st, []*models.RawEvent{risky, failed}), catalog.RuleRiskySignIn)
	if len(dets) != 1 {
		t.Fatalf("expected 1 risky sign-in detection, got %d", len(dets))
	}
}

func TestOAuthAbuseFires(t *testing.T) {
	b := &eventBuilder{}
	risk := b.next(models.RawEvent{
		Timestamp:    base,
		User:         "carol",
		EventType:    models.EventSignIn,
		SignInResult: models.SignInFail,
		RiskLevel:    models.RiskHigh,
	})
	consent := b.next(models.RawEvent{
		Timestamp:    base.Add(10 * time.Minute),
		User:         "carol",
		EventType:    models.EventOAuthConsent,
		OAuthAppName: "MailSync Pro",
		OAuthScopes:  []string{"offline_access", "Mail.Read"},
	})

	eng, st := newEngine(t)
	dets := byRule(runEngine(t, eng, st, []*models.RawEvent{risk, consent}), catalog.RuleOAuthAbuse)
	if len(dets) != 1 {
		t.Fatalf("expected 1 OAuth abuse detection, got %d", len(dets))
	}
	d := dets[0]
	if len(d.MatchedEventIDs) != 2 || d.MatchedEventIDs[0] != risk.ID || d.MatchedEventIDs[1] != consent.ID {
		t.Fatalf("expected risk event plus consent as evidence, got %v", d.MatchedEventIDs)
	}
}

func TestOAuthAbuseRequiresRecentRisk(t *testing.T) {
	b := &eventBuilder{}
	events := []*models.RawEvent{
		b.next(models.RawEvent{
			Timestamp:    base,
			User:         "carol",
			EventType:    models.EventSignIn,
			SignInResult: models.SignInFail,
			RiskLevel:    models.RiskHigh,
		}),
		b.next(models.RawEvent{
			Timestamp:   base.Add(3 * time.Hour),
			User:        "carol",
			EventType:   models.EventOAuthConsent,
			OAuthScopes: []string{"Mail.Read"},
		}),
	}

	eng, st := newEngine(t)
	if dets := byRule(runEngine(t, eng, st, events), catalog.RuleOAuthAbuse); len(dets) != 0 {
		t.Fatalf("stale risk context must not fire, got %d detections", len(dets))
	}
}

func TestOAuthAbuseIgnoresBenignScopes(t *testing.T) {
	b := &eventBuilder{}
	events := []*models.RawEvent{
		b.next(models.RawEvent{
			Timestamp:    base,
			User:         "carol",
			EventType:    models.EventSignIn,
			SignInResult: models.SignInFail,
			RiskLevel:    models.RiskHigh,
		}),
		b.next(models.RawEvent{
			Timestamp:   base.Add(10 * time.Minute),
			User:        "carol",
			EventType:   models.EventOAuthConsent,
			OAuthScopes: []string{"openid", "profile"},
		}),
	}

	eng, st := newEngine(t)
	if dets := byRule(runEngine(t, eng, st, events), catalog.RuleOAuthAbuse); len(dets) != 0 {
		t.Fatalf("benign scopes must not fire, got %d detections", len(dets))
	}
}

func TestPrivEscalationFires(t *testing.T) {
	b := &eventBuilder{}
	risk := b.next(models.RawEvent{
		Timestamp:    base,
		User:         "dave",
		EventType:    models.EventSignIn,
		SignInResult: models.SignInFail,
		RiskLevel:    models.RiskHigh,
	})
	role := b.next(models.RawEvent{
		Timestamp: base.Add(20 * time.Minute),
		User:      "dave",
		EventType: models.EventRoleChange,
		RoleName:  "Global Administrator",
	})

	eng, st := newEngine(t)
	dets := byRule(runEngine(t, eng, st, []*models.RawEvent{risk, role}), catalog.RulePrivEscalation)
	if len(dets) != 1 {
		t.Fatalf("expected 1 privilege escalation detection, got %d", len(dets))
	}
}

func TestPrivEscalationWithoutRiskContext(t *testing.T) {
	b := &eventBuilder{}
	role := b.next(models.RawEvent{
		Timestamp: base,
		User:      "dave",
		EventType: models.EventRoleChange,
		RoleName:  "Global Administrator",
	})

	eng, st := newEngine(t)
	if dets := byRule(runEngine(t, eng, st, []*models.RawEvent{role}), catalog.RulePrivEscalation); len(dets) != 0 {
		t.Fatalf("role change without risk context must not fire")
	}
}

func TestMalformedEventExcludedFromRuleOnly(t *testing.T) {
	b := &eventBuilder{}
	var events []*models.RawEvent
	for i := 0; i < 5; i++ {
		events = append(events, b.mfa("alice", base.Add(time.Duration(i)*time.Minute), models.MFAFail))
	}
	// An MFA event with no result lands mid-burst; it must not break it.
	events = append(events, b.next(models.RawEvent{
		Timestamp: base.Add(5 * time.Minute),
		User:      "alice",
		EventType: models.EventMFA,
	}))
	events = append(events, b.mfa("alice", base.Add(6*time.Minute), models.MFAPass))

	eng, st := newEngine(t)
	dets := byRule(runEngine(t, eng, st, events), catalog.RuleMFAFatigue)
	if len(dets) != 1 {
		t.Fatalf("malformed event must be excluded, not abort the rule, got %d detections", len(dets))
	}
}

func TestRerunIsIdempotent(t *testing.T) {
	b := &eventBuilder{}
	events := []*models.RawEvent{
		b.signIn("alice", base, "New York", "United States", models.RiskLow),
		b.signIn("alice", base.Add(5*time.Minute), "Tokyo", "Japan", models.RiskLow),
	}

	eng, st := newEngine(t)
	first := runEngine(t, eng, st, events)
	if len(first) == 0 {
		t.Fatalf("expected detections on first pass")
	}
	second, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("re-run over unchanged store must add nothing, got %d", len(second))
	}
}

func TestDetectionsAreDeterministic(t *testing.T) {
	b := &eventBuilder{}
	events := []*models.RawEvent{
		b.signIn("alice", base, "New York", "United States", models.RiskLow),
		b.signIn("alice", base.Add(5*time.Minute), "Tokyo", "Japan", models.RiskLow),
	}

	engA, stA := newEngine(t)
	engB, stB := newEngine(t)
	a := runEngine(t, engA, stA, events)
	rb := runEngine(t, engB, stB, events)
	if len(a) != len(rb) {
		t.Fatalf("runs disagree: %d vs %d detections", len(a), len(rb))
	}
	for i := range a {
		if a[i].ID != rb[i].ID {
			t.Fatalf("detection IDs differ at %d: %s vs %s", i, a[i].ID, rb[i].ID)
		}
	}
}
