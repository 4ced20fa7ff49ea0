package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"idsoc/internal/catalog"
	"idsoc/internal/incident"
	"idsoc/internal/metrics"
	"idsoc/internal/pipeline"
	"idsoc/internal/store"
	"idsoc/internal/telemetry"
	"idsoc/pkg/models"
)

const (
	defaultEventLimit = 100
	maxEventLimit     = 1000
	exampleEventLimit = 5
)

// Handlers implements every API route. Read endpoints work against a
// consistent store snapshot; write endpoints go through the pipeline or the
// lifecycle manager.
type Handlers struct {
	store    *store.Store
	catalog  *catalog.Catalog
	manager  *incident.Manager
	pipeline *pipeline.Pipeline
	metrics  *telemetry.Metrics
	now      func() time.Time
}

// NewHandlers creates the handler set.
func NewHandlers(st *store.Store, cat *catalog.Catalog, mgr *incident.Manager, pipe *pipeline.Pipeline, met *telemetry.Metrics) *Handlers {
	return &Handlers{store: st, catalog: cat, manager: mgr, pipeline: pipe, metrics: met, now: time.Now}
}

// Health reports liveness.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": h.now().UTC()})
}

// IngestEvents accepts a JSON event or event array, appends it and runs a
// correlation pass.
func (h *Handlers) IngestEvents(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}
	events, err := pipeline.DecodeEvents(payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.pipeline.Ingest(c.Request.Context(), events)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// ListEvents returns events matching the query filters, most recent first.
func (h *Handlers) ListEvents(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, offset, err := parsePaging(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap := h.store.Snapshot()

	var memberOf map[string]struct{}
	if detID := c.Query("detection_id"); detID != "" {
		det, ok := snap.DetectionsByID[detID]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "detection not found"})
			return
		}
		memberOf = make(map[string]struct{}, len(det.MatchedEventIDs))
		for _, id := range det.MatchedEventIDs {
			memberOf[id] = struct{}{}
		}
	}

	matched := make([]*models.RawEvent, 0, len(snap.Events))
	for _, e := range snap.Events {
		if !f.MatchEvent(e) {
			continue
		}
		if memberOf != nil {
			if _, ok := memberOf[e.ID]; !ok {
				continue
			}
		}
		matched = append(matched, e)
	}
	reverseEvents(matched)

	total := len(matched)
	page := paginate(matched, limit, offset)
	c.JSON(http.StatusOK, gin.H{
		"events": page,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

type timelineEntry struct {
	Event       *models.RawEvent `json:"event"`
	DetectionID string           `json:"detection_id,omitempty"`
	RuleID      string           `json:"rule_id,omitempty"`
	RuleName    string           `json:"rule_name,omitempty"`
	MitreTactic string           `json:"mitre_tactic,omitempty"`
}

// Timeline returns events in chronological order, annotating the events
// that triggered a detection.
func (h *Handlers) Timeline(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	snap := h.store.Snapshot()
	triggers := make(map[string]*models.Detection)
	for _, d := range snap.Detections {
		trig := d.MatchedEventIDs[len(d.MatchedEventIDs)-1]
		if _, taken := triggers[trig]; !taken {
			triggers[trig] = d
		}
	}

	out := make([]timelineEntry, 0, len(snap.Events))
	for _, e := range snap.Events {
		if !f.MatchEvent(e) {
			continue
		}
		entry := timelineEntry{Event: e}
		if d, ok := triggers[e.ID]; ok {
			entry.DetectionID = d.ID
			entry.RuleID = d.RuleID
			entry.MitreTactic = d.MitreTactic
			if rule, ok := h.catalog.ByID(d.RuleID); ok {
				entry.RuleName = rule.Name
			}
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"timeline": out, "total": len(out)})
}

type ruleSummary struct {
	models.DetectionRule
	Enabled    bool `json:"enabled"`
	AlertCount int  `json:"alert_count"`
}

// ListDetections returns the rule catalog with per-rule firing counts.
func (h *Handlers) ListDetections(c *gin.Context) {
	counts := h.store.AlertCounts()
	rules := h.catalog.Rules()
	out := make([]ruleSummary, 0, len(rules))
	for _, r := range rules {
		out = append(out, ruleSummary{
			DetectionRule: r.DetectionRule,
			Enabled:       r.Enabled,
			AlertCount:    counts[r.DetectionID],
		})
	}
	c.JSON(http.StatusOK, gin.H{"detections": out, "total": len(out)})
}

type exampleEvent struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	User         string    `json:"user"`
	EventType    string    `json:"event_type"`
	ScenarioType string    `json:"scenario_type,omitempty"`
}

// GetDetection returns one catalog rule with its firing count and a few
// example trigger events.
func (h *Handlers) GetDetection(c *gin.Context) {
	id := c.Param("detection_id")
	rule, ok := h.catalog.ByID(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "detection not found"})
		return
	}

	snap := h.store.Snapshot()
	examples := make([]exampleEvent, 0, exampleEventLimit)
	for _, d := range snap.Detections {
		if d.RuleID != id || len(examples) >= exampleEventLimit {
			continue
		}
		trig := d.MatchedEventIDs[len(d.MatchedEventIDs)-1]
		ev, ok := snap.EventsByID[trig]
		if !ok {
			continue
		}
		examples = append(examples, exampleEvent{
			ID:           ev.ID,
			Timestamp:    ev.Timestamp,
			User:         ev.User,
			EventType:    string(ev.EventType),
			ScenarioType: ev.ScenarioType,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"detection": ruleSummary{
			DetectionRule: rule.DetectionRule,
			Enabled:       rule.Enabled,
			AlertCount:    snap.AlertCounts[id],
		},
		"example_events": examples,
	})
}

// DashboardKPIs returns the executive KPI block.
func (h *Handlers) DashboardKPIs(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, metrics.ComputeKPIs(h.store.Snapshot(), f))
}

// AlertTrends returns the zero-filled per-day detection counts.
func (h *Handlers) AlertTrends(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	trend := metrics.AlertTrend(h.store.Snapshot(), f, h.now())
	c.JSON(http.StatusOK, gin.H{"trend": trend})
}

// SignInStats returns sign-in outcome counts.
func (h *Handlers) SignInStats(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, metrics.ComputeSignInStats(h.store.Snapshot(), f))
}

// MFAStats returns MFA challenge outcome counts.
func (h *Handlers) MFAStats(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, metrics.ComputeMFAStats(h.store.Snapshot(), f))
}

type geoChange struct {
	At          time.Time `json:"at"`
	FromCountry string    `json:"from_country"`
	FromCity    string    `json:"from_city"`
	ToCountry   string    `json:"to_country"`
	ToCity      string    `json:"to_city"`
}

// UserInvestigation returns everything known about one user: events,
// detections, incidents and derived pivots.
func (h *Handlers) UserInvestigation(c *gin.Context) {
	user := c.Param("user")
	snap := h.store.Snapshot()

	events := make([]*models.RawEvent, 0, 64)
	ips := newStringSet()
	devicesSeen := newStringSet()
	appsSeen := newStringSet()
	oauthAppsSeen := newStringSet()
	var roleChanges, oauthConsents []*models.RawEvent
	geoChanges := []geoChange{}
	var lastCountry, lastCity string

	for _, e := range snap.Events {
		if e.User != user {
			continue
		}
		events = append(events, e)
		ips.add(e.IPAddress)
		devicesSeen.add(e.Device)
		appsSeen.add(e.App)
		oauthAppsSeen.add(e.OAuthAppName)
		switch e.EventType {
		case models.EventRoleChange:
			roleChanges = append(roleChanges, e)
		case models.EventOAuthConsent:
			oauthConsents = append(oauthConsents, e)
		}
		if e.GeoCountry != "" || e.GeoCity != "" {
			if lastCity != "" && (e.GeoCity != lastCity || e.GeoCountry != lastCountry) {
				geoChanges = append(geoChanges, geoChange{
					At:          e.Timestamp,
					FromCountry: lastCountry,
					FromCity:    lastCity,
					ToCountry:   e.GeoCountry,
					ToCity:      e.GeoCity,
				})
			}
			lastCountry, lastCity = e.GeoCountry, e.GeoCity
		}
	}

	dets := make([]*models.Detection, 0, 8)
	for _, d := range snap.Detections {
		if d.User == user {
			dets = append(dets, d)
		}
	}
	incs := make([]*models.Incident, 0, 4)
	for _, inc := range snap.Incidents {
		if inc.User == user {
			incs = append(incs, inc)
		}
	}

	reverseEvents(events)
	reverseDetections(dets)
	sort.Slice(incs, func(i, j int) bool { return incs[i].DetectedAt.After(incs[j].DetectedAt) })

	c.JSON(http.StatusOK, gin.H{
		"user":            user,
		"events":          events,
		"detections":      dets,
		"incidents":       incs,
		"unique_ips":      ips.sorted(),
		"unique_devices":  devicesSeen.sorted(),
		"unique_apps":     appsSeen.sorted(),
		"oauth_apps":      oauthAppsSeen.sorted(),
		"role_changes":    emptyIfNil(roleChanges),
		"oauth_consents":  emptyIfNil(oauthConsents),
		"geo_changes":     geoChanges,
		"event_count":     len(events),
		"detection_count": len(dets),
	})
}

// ListIncidents returns incidents matching the query filters, most recently
// detected first.
func (h *Handlers) ListIncidents(c *gin.Context) {
	f, err := parseFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status := models.IncidentStatus(c.Query("status"))
	if status != "" && !validStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid status %q", status)})
		return
	}

	snap := h.store.Snapshot()
	out := make([]*models.Incident, 0, len(snap.Incidents))
	for _, inc := range snap.Incidents {
		if !f.MatchIncident(inc) {
			continue
		}
		if status != "" && inc.Status != status {
			continue
		}
		out = append(out, inc)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.DetectedAt.Equal(b.DetectedAt) {
			return a.DetectedAt.After(b.DetectedAt)
		}
		return a.IncidentID < b.IncidentID
	})
	c.JSON(http.StatusOK, gin.H{"incidents": out, "total": len(out)})
}

// GetIncident returns one incident with its member detections and logged
// response actions.
func (h *Handlers) GetIncident(c *gin.Context) {
	id := c.Param("incident_id")
	inc, err := h.store.Incident(id)
	if err != nil {
		respondError(c, err)
		return
	}
	actions, err := h.store.ActionsFor(id)
	if err != nil {
		respondError(c, err)
		return
	}

	snap := h.store.Snapshot()
	dets := make([]*models.Detection, 0, len(inc.MemberDetectionIDs))
	for _, detID := range inc.MemberDetectionIDs {
		if d, ok := snap.DetectionsByID[detID]; ok {
			dets = append(dets, d)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"incident":         inc,
		"detections":       dets,
		"response_actions": actions,
	})
}

type actionTypeInfo struct {
	ActionType  models.ActionType `json:"action_type"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
}

// ListActionTypes returns the catalog of supported response action types.
func (h *Handlers) ListActionTypes(c *gin.Context) {
	all := incident.Actions()
	out := make([]actionTypeInfo, 0, len(all))
	for at, info := range all {
		out = append(out, actionTypeInfo{ActionType: at, Name: info.Name, Description: info.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActionType < out[j].ActionType })
	c.JSON(http.StatusOK, gin.H{"actions": out, "total": len(out)})
}

// ResponseActions returns the actions logged for an incident, newest first.
func (h *Handlers) ResponseActions(c *gin.Context) {
	actions, err := h.store.ActionsFor(c.Param("incident_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	sort.Slice(actions, func(i, j int) bool {
		return actions[i].ExecutedAt.After(actions[j].ExecutedAt)
	})
	c.JSON(http.StatusOK, gin.H{"response_actions": actions, "total": len(actions)})
}

// Acknowledge moves an open incident to investigating.
func (h *Handlers) Acknowledge(c *gin.Context) {
	inc, err := h.manager.Acknowledge(c.Param("incident_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident": inc})
}

// Resolve moves a contained incident to resolved.
func (h *Handlers) Resolve(c *gin.Context) {
	inc, err := h.manager.Resolve(c.Param("incident_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"incident": inc})
}

// ExecuteResponse logs a simulated response action against an incident.
func (h *Handlers) ExecuteResponse(c *gin.Context) {
	id := c.Param("incident_id")
	actionType := models.ActionType(c.Param("action_type"))
	inc, action, err := h.manager.ExecuteResponse(id, actionType)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ResponseActions.Inc()
	}
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"action":          action,
		"incident_status": inc.Status,
		"message":         fmt.Sprintf("Simulated action %q executed for incident %s", action.ActionName, id),
	})
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, incident.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, incident.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, incident.ErrUnknownAction):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// parseFilter reads the shared query filters. Dates accept RFC 3339 or a
// bare calendar date.
func parseFilter(c *gin.Context) (metrics.Filter, error) {
	var f metrics.Filter
	if v := c.Query("start_date"); v != "" {
		ts, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("invalid start_date %q", v)
		}
		f.Start = &ts
	}
	if v := c.Query("end_date"); v != "" {
		ts, err := parseDate(v)
		if err != nil {
			return f, fmt.Errorf("invalid end_date %q", v)
		}
		f.End = &ts
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return f, fmt.Errorf("end_date precedes start_date")
	}
	f.User = c.Query("user")
	f.ScenarioType = c.Query("scenario_type")
	if v := c.Query("severity"); v != "" {
		sev := models.Severity(v)
		if !sev.Valid() {
			return f, fmt.Errorf("invalid severity %q", v)
		}
		f.Severity = sev
	}
	return f, nil
}

func parseDate(v string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func parsePaging(c *gin.Context) (limit, offset int, err error) {
	limit = defaultEventLimit
	if v := c.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
		if limit > maxEventLimit {
			limit = maxEventLimit
		}
	}
	if v := c.Query("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", v)
		}
	}
	return limit, offset, nil
}

func paginate(events []*models.RawEvent, limit, offset int) []*models.RawEvent {
	if offset >= len(events) {
		return []*models.RawEvent{}
	}
	end := offset + limit
	if end > len(events) {
		end = len(events)
	}
	return events[offset:end]
}

func validStatus(s models.IncidentStatus) bool {
	switch s {
	case models.StatusOpen, models.StatusInvestigating, models.StatusContained, models.StatusResolved:
		return true
	}
	return false
}

func reverseEvents(events []*models.RawEvent) {
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
}

func reverseDetections(dets []*models.Detection) {
	for i, j := 0, len(dets)-1; i < j; i, j = i+1, j-1 {
		dets[i], dets[j] = dets[j], dets[i]
	}
}

func emptyIfNil(events []*models.RawEvent) []*models.RawEvent {
	if events == nil {
		return []*models.RawEvent{}
	}
	return events
}

type stringSet map[string]struct{}

func newStringSet() stringSet { return make(stringSet) }

func (s stringSet) add(v string) {
	if v != "" {
		s[v] = struct{}{}
	}
}

func (s stringSet) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
