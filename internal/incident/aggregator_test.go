package incident

import (
	"testing"
	"time"

	"idsoc/internal/catalog"
	"idsoc/internal/store"
	"idsoc/pkg/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func mkDetection(id, user string, at time.Time, sev models.Severity) *models.Detection {
	return &models.Detection{
		ID:              id,
		RuleID:          catalog.RuleRiskySignIn,
		User:            user,
		TriggeredAt:     at,
		MatchedEventIDs: []string{"EVT-1"},
		Severity:        sev,
		MitreTactic:     "Initial Access",
	}
}

func newAggregator(t *testing.T) (*Aggregator, *store.Store) {
	t.Helper()
	st := store.New()
	agg := NewAggregator(st, catalog.Default(), AggregatorConfig{MergeWindow: time.Hour})
	return agg, st
}

func TestAssignOpensIncident(t *testing.T) {
	agg, _ := newAggregator(t)
	det := mkDetection("d1", "alice", base, models.SeverityHigh)

	created, err := agg.Assign([]*models.Detection{det})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected 1 incident, got %d", len(created))
	}
	inc := created[0]
	if inc.Status != models.StatusOpen {
		t.Fatalf("new incident must be open, got %s", inc.Status)
	}
	if inc.User != "alice" || inc.Severity != models.SeverityHigh {
		t.Fatalf("incident fields not carried from detection")
	}
	if !inc.DetectedAt.Equal(base) || !inc.LastDetectionAt.Equal(base) {
		t.Fatalf("incident timestamps not set from detection")
	}
	rule, _ := catalog.Default().ByID(catalog.RuleRiskySignIn)
	if inc.Title != rule.Name+" - alice" {
		t.Fatalf("unexpected title %q", inc.Title)
	}
}

func TestAssignMergesWithinWindow(t *testing.T) {
	agg, st := newAggregator(t)
	d1 := mkDetection("d1", "alice", base, models.SeverityMedium)
	d2 := mkDetection("d2", "alice", base.Add(30*time.Minute), models.SeverityCritical)

	created, err := agg.Assign([]*models.Detection{d1, d2})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("expected a single merged incident, got %d", len(created))
	}

	inc, err := st.Incident(created[0].IncidentID)
	if err != nil {
		t.Fatalf("Incident: %v", err)
	}
	if len(inc.MemberDetectionIDs) != 2 {
		t.Fatalf("expected 2 members, got %d", len(inc.MemberDetectionIDs))
	}
	if inc.Severity != models.SeverityCritical {
		t.Fatalf("severity must escalate to the max member, got %s", inc.Severity)
	}
	if !inc.LastDetectionAt.Equal(d2.TriggeredAt) {
		t.Fatalf("last_detection_at must track the newest member")
	}
}

func TestAssignSplitsAcrossWindow(t *testing.T) {
	agg, _ := newAggregator(t)
	d1 := mkDetection("d1", "alice", base, models.SeverityHigh)
	d2 := mkDetection("d2", "alice", base.Add(3*time.Hour), models.SeverityHigh)

	created, err := agg.Assign([]*models.Detection{d1, d2})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("detections beyond the merge window must open separate incidents, got %d", len(created))
	}
}

func TestAssignSplitsAcrossUsers(t *testing.T) {
	agg, _ := newAggregator(t)
	d1 := mkDetection("d1", "alice", base, models.SeverityHigh)
	d2 := mkDetection("d2", "bob", base.Add(time.Minute), models.SeverityHigh)

	created, err := agg.Assign([]*models.Detection{d1, d2})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("incidents never span users, got %d", len(created))
	}
}

func TestAssignNeverReopens(t *testing.T) {
	agg, st := newAggregator(t)
	d1 := mkDetection("d1", "alice", base, models.SeverityHigh)
	created, err := agg.Assign([]*models.Detection{d1})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}

	mgr := NewManager(st)
	mgr.now = func() time.Time { return base.Add(10 * time.Minute) }
	if _, _, err := mgr.ExecuteResponse(created[0].IncidentID, models.ActionDisableUser); err != nil {
		t.Fatalf("ExecuteResponse: %v", err)
	}

	d2 := mkDetection("d2", "alice", base.Add(20*time.Minute), models.SeverityHigh)
	more, err := agg.Assign([]*models.Detection{d2})
	if err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if len(more) != 1 {
		t.Fatalf("contained incident must not absorb a new detection")
	}
	if more[0].IncidentID == created[0].IncidentID {
		t.Fatalf("expected a fresh incident, got the contained one")
	}
}
