package metrics

import (
	"testing"
	"time"

	"idsoc/internal/store"
	"idsoc/pkg/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func ptr(t time.Time) *time.Time { return &t }

func snapshot() *store.Snapshot {
	ev1 := &models.RawEvent{ID: "EVT-1", Timestamp: base.Add(-10 * time.Minute), User: "alice", EventType: models.EventSignIn, SignInResult: models.SignInSuccess}
	ev2 := &models.RawEvent{ID: "EVT-2", Timestamp: base, User: "alice", EventType: models.EventSignIn, SignInResult: models.SignInFail}
	ev3 := &models.RawEvent{ID: "EVT-3", Timestamp: base.Add(time.Minute), User: "bob", EventType: models.EventMFA, MFAResult: models.MFATimeout}

	dets := []*models.Detection{
		{ID: "d1", RuleID: "DET-001", User: "alice", TriggeredAt: base, MatchedEventIDs: []string{"EVT-1", "EVT-2"}, Severity: models.SeverityHigh, MitreTactic: "Initial Access"},
		{ID: "d2", RuleID: "DET-002", User: "alice", TriggeredAt: base.Add(time.Hour), MatchedEventIDs: []string{"EVT-2"}, Severity: models.SeverityHigh, MitreTactic: "Initial Access"},
		{ID: "d3", RuleID: "DET-005", User: "bob", TriggeredAt: base.AddDate(0, 0, 2), MatchedEventIDs: []string{"EVT-3"}, Severity: models.SeverityMedium, MitreTactic: "Persistence"},
		{ID: "d4", RuleID: "DET-006", User: "bob", TriggeredAt: base.AddDate(0, 0, 2).Add(time.Minute), MatchedEventIDs: []string{"EVT-3"}, Severity: models.SeverityCritical, MitreTactic: "Privilege Escalation"},
	}

	incs := []*models.Incident{
		{
			IncidentID:         "INC-1",
			User:               "alice",
			Severity:           models.SeverityHigh,
			Status:             models.StatusResolved,
			DetectedAt:         base,
			LastDetectionAt:    base.Add(time.Hour),
			ResolvedAt:         ptr(base.Add(90 * time.Minute)),
			MemberDetectionIDs: []string{"d1", "d2"},
		},
		{
			IncidentID:         "INC-2",
			User:               "bob",
			Severity:           models.SeverityCritical,
			Status:             models.StatusOpen,
			DetectedAt:         base.AddDate(0, 0, 2),
			LastDetectionAt:    base.AddDate(0, 0, 2).Add(time.Minute),
			MemberDetectionIDs: []string{"d3", "d4"},
		},
	}

	snap := &store.Snapshot{
		Events:         []*models.RawEvent{ev1, ev2, ev3},
		Detections:     dets,
		Incidents:      incs,
		EventsByID:     map[string]*models.RawEvent{"EVT-1": ev1, "EVT-2": ev2, "EVT-3": ev3},
		DetectionsByID: map[string]*models.Detection{},
	}
	for _, d := range dets {
		snap.DetectionsByID[d.ID] = d
	}
	return snap
}

func TestComputeKPIs(t *testing.T) {
	k := ComputeKPIs(snapshot(), Filter{})

	if k.TotalAlerts != 4 {
		t.Fatalf("total_alerts: got %d, want 4", k.TotalAlerts)
	}
	if k.HighSeverityAlerts != 3 {
		t.Fatalf("high_severity_alerts: got %d, want 3", k.HighSeverityAlerts)
	}
	if k.DistinctImpactedUsers != 2 {
		t.Fatalf("distinct_impacted_users: got %d, want 2", k.DistinctImpactedUsers)
	}

	want := []TacticCount{
		{Tactic: "Initial Access", Count: 2},
		{Tactic: "Persistence", Count: 1},
		{Tactic: "Privilege Escalation", Count: 1},
	}
	if len(k.TopTactics) != len(want) {
		t.Fatalf("top_tactics: got %d entries, want %d", len(k.TopTactics), len(want))
	}
	for i, w := range want {
		if k.TopTactics[i] != w {
			t.Fatalf("top_tactics[%d]: got %+v, want %+v", i, k.TopTactics[i], w)
		}
	}
}

func TestMTTRExcludesUnresolved(t *testing.T) {
	k := ComputeKPIs(snapshot(), Filter{})
	// INC-1 resolved 90 minutes after detection; INC-2 is open and must not
	// drag the mean toward zero.
	if k.MTTRMinutes != 90.0 {
		t.Fatalf("mttr_minutes: got %.2f, want 90.00", k.MTTRMinutes)
	}
}

func TestMTTD(t *testing.T) {
	k := ComputeKPIs(snapshot(), Filter{})
	// INC-1: earliest evidence 10 minutes before detection. INC-2: evidence
	// predates detection by 2 days minus 1 minute.
	inc2TTD := base.AddDate(0, 0, 2).Sub(base.Add(time.Minute)).Minutes()
	want := round2((10 + inc2TTD) / 2)
	if k.MTTDMinutes != want {
		t.Fatalf("mttd_minutes: got %.2f, want %.2f", k.MTTDMinutes, want)
	}
}

func TestKPIFilters(t *testing.T) {
	k := ComputeKPIs(snapshot(), Filter{User: "alice"})
	if k.TotalAlerts != 2 || k.DistinctImpactedUsers != 1 {
		t.Fatalf("user filter not applied: %+v", k)
	}

	k = ComputeKPIs(snapshot(), Filter{Severity: models.SeverityCritical})
	if k.TotalAlerts != 1 {
		t.Fatalf("severity filter not applied: %+v", k)
	}

	end := base.Add(2 * time.Hour)
	k = ComputeKPIs(snapshot(), Filter{End: &end})
	if k.TotalAlerts != 2 {
		t.Fatalf("time filter not applied: %+v", k)
	}
}

func TestAlertTrendZeroFills(t *testing.T) {
	start := base
	end := base.AddDate(0, 0, 2).Add(time.Hour)
	trend := AlertTrend(snapshot(), Filter{Start: &start, End: &end}, end)

	if len(trend) != 3 {
		t.Fatalf("expected 3 days, got %d", len(trend))
	}
	if trend[0].Date != "2025-06-01" || trend[0].Count != 2 {
		t.Fatalf("day 0: %+v", trend[0])
	}
	if trend[1].Date != "2025-06-02" || trend[1].Count != 0 {
		t.Fatalf("gap day must be zero-filled: %+v", trend[1])
	}
	if trend[2].Date != "2025-06-03" || trend[2].Count != 2 {
		t.Fatalf("day 2: %+v", trend[2])
	}
}

func TestAlertTrendDefaultWindow(t *testing.T) {
	trend := AlertTrend(snapshot(), Filter{}, base.AddDate(0, 0, 2))
	if len(trend) != 7 {
		t.Fatalf("default trend must cover 7 days, got %d", len(trend))
	}
	last := trend[len(trend)-1]
	if last.Date != "2025-06-03" || last.Count != 2 {
		t.Fatalf("final day: %+v", last)
	}
}

func TestSignInStats(t *testing.T) {
	s := ComputeSignInStats(snapshot(), Filter{})
	if s.Success != 1 || s.Fail != 1 {
		t.Fatalf("sign-in stats: %+v", s)
	}
}

func TestMFAStats(t *testing.T) {
	s := ComputeMFAStats(snapshot(), Filter{})
	if s.Pass != 0 || s.Fail != 0 || s.Timeout != 1 {
		t.Fatalf("mfa stats: %+v", s)
	}
}
