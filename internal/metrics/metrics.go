package metrics

import (
	"math"
	"sort"
	"time"

	"idsoc/internal/store"
	"idsoc/pkg/models"
)

// Filter restricts metric computation. All fields are optional and combine
// conjunctively.
type Filter struct {
	Start        *time.Time
	End          *time.Time
	User         string
	ScenarioType string
	Severity     models.Severity
}

func (f Filter) inRange(ts time.Time) bool {
	if f.Start != nil && ts.Before(*f.Start) {
		return false
	}
	if f.End != nil && ts.After(*f.End) {
		return false
	}
	return true
}

// MatchDetection reports whether a detection passes the filter.
func (f Filter) MatchDetection(d *models.Detection) bool {
	if !f.inRange(d.TriggeredAt) {
		return false
	}
	if f.User != "" && d.User != f.User {
		return false
	}
	if f.ScenarioType != "" && d.ScenarioType != f.ScenarioType {
		return false
	}
	if f.Severity != "" && d.Severity != f.Severity {
		return false
	}
	return true
}

// MatchEvent reports whether a raw event passes the filter. Severity does
// not apply to events.
func (f Filter) MatchEvent(e *models.RawEvent) bool {
	if !f.inRange(e.Timestamp) {
		return false
	}
	if f.User != "" && e.User != f.User {
		return false
	}
	if f.ScenarioType != "" && e.ScenarioType != f.ScenarioType {
		return false
	}
	return true
}

// MatchIncident reports whether an incident passes the filter.
func (f Filter) MatchIncident(i *models.Incident) bool {
	if !f.inRange(i.DetectedAt) {
		return false
	}
	if f.User != "" && i.User != f.User {
		return false
	}
	if f.ScenarioType != "" && i.ScenarioType != f.ScenarioType {
		return false
	}
	if f.Severity != "" && i.Severity != f.Severity {
		return false
	}
	return true
}

// TacticCount is one entry of the top-tactics ranking.
type TacticCount struct {
	Tactic string `json:"tactic"`
	Count  int    `json:"count"`
}

// KPIs are the executive dashboard aggregates. Every value is recomputed
// from scratch against a snapshot; nothing here drifts from the underlying
// data.
type KPIs struct {
	TotalAlerts           int           `json:"total_alerts"`
	HighSeverityAlerts    int           `json:"high_severity_alerts"`
	DistinctImpactedUsers int           `json:"distinct_impacted_users"`
	MTTDMinutes           float64       `json:"mttd_minutes"`
	MTTRMinutes           float64       `json:"mttr_minutes"`
	TopTactics            []TacticCount `json:"top_tactics"`
}

// TrendPoint is one calendar day of the alert trend series.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// SignInStats counts sign-in outcomes.
type SignInStats struct {
	Success int `json:"success"`
	Fail    int `json:"fail"`
}

// MFAStats counts MFA challenge outcomes.
type MFAStats struct {
	Pass    int `json:"pass"`
	Fail    int `json:"fail"`
	Timeout int `json:"timeout"`
}

const topTacticsLimit = 5

// ComputeKPIs computes dashboard KPIs over a consistent snapshot.
func ComputeKPIs(snap *store.Snapshot, f Filter) KPIs {
	k := KPIs{TopTactics: []TacticCount{}}
	users := make(map[string]struct{})
	tactics := make(map[string]int)

	for _, d := range snap.Detections {
		if !f.MatchDetection(d) {
			continue
		}
		k.TotalAlerts++
		if d.Severity == models.SeverityHigh || d.Severity == models.SeverityCritical {
			k.HighSeverityAlerts++
		}
		users[d.User] = struct{}{}
		if d.MitreTactic != "" {
			tactics[d.MitreTactic]++
		}
	}
	k.DistinctImpactedUsers = len(users)

	for tactic, count := range tactics {
		k.TopTactics = append(k.TopTactics, TacticCount{Tactic: tactic, Count: count})
	}
	sort.Slice(k.TopTactics, func(i, j int) bool {
		a, b := k.TopTactics[i], k.TopTactics[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Tactic < b.Tactic
	})
	if len(k.TopTactics) > topTacticsLimit {
		k.TopTactics = k.TopTactics[:topTacticsLimit]
	}

	k.MTTDMinutes = meanTTDMinutes(snap, f)
	k.MTTRMinutes = meanTTRMinutes(snap, f)
	return k
}

// meanTTDMinutes averages, per matching incident, the gap between
// detected_at and the earliest matched-event timestamp among member
// detections.
func meanTTDMinutes(snap *store.Snapshot, f Filter) float64 {
	var sum float64
	var n int
	for _, inc := range snap.Incidents {
		if !f.MatchIncident(inc) {
			continue
		}
		earliest := earliestEvidence(snap, inc)
		if earliest.IsZero() {
			continue
		}
		sum += inc.DetectedAt.Sub(earliest).Minutes()
		n++
	}
	if n == 0 {
		return 0
	}
	return round2(sum / float64(n))
}

// meanTTRMinutes averages resolved_at minus detected_at over resolved
// incidents only; unresolved incidents are excluded, not counted as zero.
func meanTTRMinutes(snap *store.Snapshot, f Filter) float64 {
	var sum float64
	var n int
	for _, inc := range snap.Incidents {
		if !f.MatchIncident(inc) || inc.ResolvedAt == nil {
			continue
		}
		sum += inc.ResolvedAt.Sub(inc.DetectedAt).Minutes()
		n++
	}
	if n == 0 {
		return 0
	}
	return round2(sum / float64(n))
}

func earliestEvidence(snap *store.Snapshot, inc *models.Incident) time.Time {
	var earliest time.Time
	for _, detID := range inc.MemberDetectionIDs {
		det, ok := snap.DetectionsByID[detID]
		if !ok {
			continue
		}
		for _, evID := range det.MatchedEventIDs {
			ev, ok := snap.EventsByID[evID]
			if !ok {
				continue
			}
			if earliest.IsZero() || ev.Timestamp.Before(earliest) {
				earliest = ev.Timestamp
			}
		}
	}
	return earliest
}

// AlertTrend buckets matching detections by calendar day (UTC), zero-filling
// days with no detections. Without an explicit range the last seven days up
// to now are used.
func AlertTrend(snap *store.Snapshot, f Filter, now time.Time) []TrendPoint {
	end := now.UTC()
	if f.End != nil {
		end = f.End.UTC()
	}
	start := end.AddDate(0, 0, -6)
	if f.Start != nil {
		start = f.Start.UTC()
	}
	startDay := start.Truncate(24 * time.Hour)
	endDay := end.Truncate(24 * time.Hour)
	if endDay.Before(startDay) {
		return []TrendPoint{}
	}

	counts := make(map[string]int)
	for _, d := range snap.Detections {
		if !f.MatchDetection(d) {
			continue
		}
		counts[d.TriggeredAt.UTC().Format("2006-01-02")]++
	}

	out := make([]TrendPoint, 0, int(endDay.Sub(startDay).Hours()/24)+1)
	for day := startDay; !day.After(endDay); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		out = append(out, TrendPoint{Date: key, Count: counts[key]})
	}
	return out
}

// ComputeSignInStats counts sign_in_result values over matching events.
func ComputeSignInStats(snap *store.Snapshot, f Filter) SignInStats {
	var s SignInStats
	for _, e := range snap.Events {
		if e.EventType != models.EventSignIn || !f.MatchEvent(e) {
			continue
		}
		switch e.SignInResult {
		case models.SignInSuccess:
			s.Success++
		case models.SignInFail:
			s.Fail++
		}
	}
	return s
}

// ComputeMFAStats counts mfa_result values over matching events.
func ComputeMFAStats(snap *store.Snapshot, f Filter) MFAStats {
	var s MFAStats
	for _, e := range snap.Events {
		if e.EventType != models.EventMFA || !f.MatchEvent(e) {
			continue
		}
		switch e.MFAResult {
		case models.MFAPass:
			s.Pass++
		case models.MFAFail:
			s.Fail++
		case models.MFATimeout:
			s.Timeout++
		}
	}
	return s
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
