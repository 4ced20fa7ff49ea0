package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"idsoc/pkg/models"
)

// ErrUnavailable is returned for writes against a closed store. Callers may
// retry the whole request; no partial state is left behind.
var ErrUnavailable = errors.New("store unavailable")

// ErrIncidentNotFound is returned when an incident ID is unknown.
var ErrIncidentNotFound = errors.New("incident not found")

// Store keeps events, detections, incidents and response actions in
// per-user partitions. Events and detections are append-only; incidents are
// mutated only through ExecuteOnIncident. Writers lock a single user
// partition so correlation and lifecycle operations for different users run
// concurrently; Snapshot takes the store lock exclusively to observe a
// consistent point-in-time view.
type Store struct {
	mu     sync.RWMutex
	closed bool
	parts  map[string]*partition

	idxMu        sync.Mutex
	incidentUser map[string]string

	countsMu    sync.Mutex
	alertCounts map[string]int
}

type partition struct {
	mu         sync.Mutex
	events     []*models.RawEvent
	eventIDs   map[string]struct{}
	detections []*models.Detection
	detByID    map[string]*models.Detection
	incidents  []*models.Incident
	incByID    map[string]*models.Incident
	actions    map[string][]*models.ResponseAction
}

// Snapshot is a consistent point-in-time view across all entities.
type Snapshot struct {
	Events         []*models.RawEvent
	Detections     []*models.Detection
	Incidents      []*models.Incident
	Actions        map[string][]*models.ResponseAction
	AlertCounts    map[string]int
	EventsByID     map[string]*models.RawEvent
	DetectionsByID map[string]*models.Detection
}

// New creates an empty store.
func New() *Store {
	return &Store{
		parts:        make(map[string]*partition),
		incidentUser: make(map[string]string),
		alertCounts:  make(map[string]int),
	}
}

// Close marks the store unavailable. Subsequent writes fail with
// ErrUnavailable; reads keep working.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func newPartition() *partition {
	return &partition{
		eventIDs: make(map[string]struct{}),
		detByID:  make(map[string]*models.Detection),
		incByID:  make(map[string]*models.Incident),
		actions:  make(map[string][]*models.ResponseAction),
	}
}

// ensureParts creates missing partitions before a write takes the shared
// read lock.
func (s *Store) ensureParts(users []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrUnavailable
	}
	for _, u := range users {
		if _, ok := s.parts[u]; !ok {
			s.parts[u] = newPartition()
		}
	}
	return nil
}

// AppendEvents appends raw events, grouped by user. The batch is validated
// up front; nothing is written if any event is malformed. Events whose ID
// already exists are skipped, which makes re-ingestion idempotent.
func (s *Store) AppendEvents(events []*models.RawEvent) error {
	if len(events) == 0 {
		return nil
	}
	byUser := make(map[string][]*models.RawEvent)
	users := make([]string, 0, 4)
	for _, e := range events {
		if e == nil || e.ID == "" || e.User == "" || e.Timestamp.IsZero() {
			return fmt.Errorf("event missing id, user or timestamp")
		}
		if e.EventType == "" {
			return fmt.Errorf("event %s missing event_type", e.ID)
		}
		if _, ok := byUser[e.User]; !ok {
			users = append(users, e.User)
		}
		byUser[e.User] = append(byUser[e.User], e)
	}
	if err := s.ensureParts(users); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrUnavailable
	}
	for _, u := range users {
		p := s.parts[u]
		p.mu.Lock()
		for _, e := range byUser[u] {
			if _, dup := p.eventIDs[e.ID]; dup {
				continue
			}
			p.eventIDs[e.ID] = struct{}{}
			p.events = append(p.events, e)
		}
		p.mu.Unlock()
	}
	return nil
}

// Users returns all partitioned users in stable order.
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.parts))
	for u := range s.parts {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// EventsForUser returns a sorted copy of one user's events, ordered by
// timestamp then ID.
func (s *Store) EventsForUser(user string) []*models.RawEvent {
	s.mu.RLock()
	p := s.parts[user]
	s.mu.RUnlock()
	if p == nil {
		return nil
	}
	p.mu.Lock()
	out := make([]*models.RawEvent, len(p.events))
	copy(out, p.events)
	p.mu.Unlock()
	sortEvents(out)
	return out
}

// AddDetections stores detections that are not already present and returns
// the newly added ones. The per-rule alert count is incremented exactly once
// per new firing.
func (s *Store) AddDetections(dets []*models.Detection) ([]*models.Detection, error) {
	if len(dets) == 0 {
		return nil, nil
	}
	users := make([]string, 0, 4)
	seen := make(map[string]struct{}, 4)
	for _, d := range dets {
		if d == nil || d.ID == "" || d.User == "" || len(d.MatchedEventIDs) == 0 {
			return nil, fmt.Errorf("detection missing id, user or matched events")
		}
		if _, ok := seen[d.User]; !ok {
			seen[d.User] = struct{}{}
			users = append(users, d.User)
		}
	}
	if err := s.ensureParts(users); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrUnavailable
	}
	added := make([]*models.Detection, 0, len(dets))
	for _, d := range dets {
		p := s.parts[d.User]
		p.mu.Lock()
		if _, dup := p.detByID[d.ID]; !dup {
			p.detByID[d.ID] = d
			p.detections = append(p.detections, d)
			added = append(added, d)
		}
		p.mu.Unlock()
	}
	s.countsMu.Lock()
	for _, d := range added {
		s.alertCounts[d.RuleID]++
	}
	s.countsMu.Unlock()
	return added, nil
}

// DetectionsForUser returns a copy of one user's detections sorted by
// triggered_at then ID.
func (s *Store) DetectionsForUser(user string) []*models.Detection {
	s.mu.RLock()
	p := s.parts[user]
	s.mu.RUnlock()
	if p == nil {
		return nil
	}
	p.mu.Lock()
	out := make([]*models.Detection, len(p.detections))
	copy(out, p.detections)
	p.mu.Unlock()
	sortDetections(out)
	return out
}

// AttachDetection merges a detection into an active incident for the same
// user whose latest member lies within the merge window, or stores the
// incident returned by build. The decision is made once, under the user
// partition lock.
func (s *Store) AttachDetection(det *models.Detection, window time.Duration, build func() *models.Incident) (*models.Incident, bool, error) {
	if err := s.ensureParts([]string{det.User}); err != nil {
		return nil, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrUnavailable
	}
	p := s.parts[det.User]
	p.mu.Lock()
	defer p.mu.Unlock()

	var target *models.Incident
	for _, inc := range p.incidents {
		if !inc.Status.Active() {
			continue
		}
		gap := det.TriggeredAt.Sub(inc.LastDetectionAt)
		if gap < 0 {
			gap = -gap
		}
		if gap <= window {
			target = inc
			break
		}
	}

	if target != nil {
		target.MemberDetectionIDs = append(target.MemberDetectionIDs, det.ID)
		target.Severity = models.MaxSeverity(target.Severity, det.Severity)
		if det.TriggeredAt.After(target.LastDetectionAt) {
			target.LastDetectionAt = det.TriggeredAt
		}
		if det.TriggeredAt.Before(target.DetectedAt) {
			target.DetectedAt = det.TriggeredAt
		}
		cp := cloneIncident(target)
		return cp, true, nil
	}

	inc := build()
	p.incidents = append(p.incidents, inc)
	p.incByID[inc.IncidentID] = inc
	s.idxMu.Lock()
	s.incidentUser[inc.IncidentID] = det.User
	s.idxMu.Unlock()
	return cloneIncident(inc), false, nil
}

// Incident returns a copy of the incident with the given ID.
func (s *Store) Incident(id string) (*models.Incident, error) {
	p, inc, err := s.findIncident(id)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	cp := cloneIncident(inc)
	p.mu.Unlock()
	return cp, nil
}

// ExecuteOnIncident runs fn against a working copy of the incident under
// its partition lock. When fn succeeds the copy replaces the stored
// incident and any returned response action is appended in the same
// critical section; when fn fails nothing changes.
func (s *Store) ExecuteOnIncident(id string, fn func(*models.Incident) (*models.ResponseAction, error)) (*models.Incident, error) {
	p, inc, err := s.findIncident(id)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrUnavailable
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	work := cloneIncident(inc)
	action, err := fn(work)
	if err != nil {
		return nil, err
	}
	*inc = *work
	if action != nil {
		p.actions[id] = append(p.actions[id], action)
	}
	return cloneIncident(inc), nil
}

// ActionsFor returns a copy of the response actions logged for an incident,
// oldest first.
func (s *Store) ActionsFor(incidentID string) ([]*models.ResponseAction, error) {
	p, _, err := s.findIncident(incidentID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	src := p.actions[incidentID]
	out := make([]*models.ResponseAction, len(src))
	copy(out, src)
	return out, nil
}

// AlertCounts returns a copy of the per-rule firing counters.
func (s *Store) AlertCounts() map[string]int {
	s.countsMu.Lock()
	defer s.countsMu.Unlock()
	out := make(map[string]int, len(s.alertCounts))
	for k, v := range s.alertCounts {
		out[k] = v
	}
	return out
}

// Snapshot returns a consistent point-in-time view. It excludes all writers
// for its duration, so a detection is never observed without its events nor
// an incident without its detections.
func (s *Store) Snapshot() *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := &Snapshot{
		Actions:        make(map[string][]*models.ResponseAction),
		EventsByID:     make(map[string]*models.RawEvent),
		DetectionsByID: make(map[string]*models.Detection),
	}
	for _, p := range s.parts {
		snap.Events = append(snap.Events, p.events...)
		snap.Detections = append(snap.Detections, p.detections...)
		for _, inc := range p.incidents {
			snap.Incidents = append(snap.Incidents, cloneIncident(inc))
		}
		for id, acts := range p.actions {
			cp := make([]*models.ResponseAction, len(acts))
			copy(cp, acts)
			snap.Actions[id] = cp
		}
	}
	sortEvents(snap.Events)
	sortDetections(snap.Detections)
	sort.Slice(snap.Incidents, func(i, j int) bool {
		a, b := snap.Incidents[i], snap.Incidents[j]
		if !a.DetectedAt.Equal(b.DetectedAt) {
			return a.DetectedAt.Before(b.DetectedAt)
		}
		return a.IncidentID < b.IncidentID
	})
	for _, e := range snap.Events {
		snap.EventsByID[e.ID] = e
	}
	for _, d := range snap.Detections {
		snap.DetectionsByID[d.ID] = d
	}
	snap.AlertCounts = s.AlertCounts()
	return snap
}

func (s *Store) findIncident(id string) (*partition, *models.Incident, error) {
	s.idxMu.Lock()
	user, ok := s.incidentUser[id]
	s.idxMu.Unlock()
	if !ok {
		return nil, nil, ErrIncidentNotFound
	}
	s.mu.RLock()
	p := s.parts[user]
	s.mu.RUnlock()
	if p == nil {
		return nil, nil, ErrIncidentNotFound
	}
	p.mu.Lock()
	inc := p.incByID[id]
	p.mu.Unlock()
	if inc == nil {
		return nil, nil, ErrIncidentNotFound
	}
	return p, inc, nil
}

func cloneIncident(inc *models.Incident) *models.Incident {
	cp := *inc
	cp.MemberDetectionIDs = append([]string(nil), inc.MemberDetectionIDs...)
	if inc.AcknowledgedAt != nil {
		t := *inc.AcknowledgedAt
		cp.AcknowledgedAt = &t
	}
	if inc.ContainedAt != nil {
		t := *inc.ContainedAt
		cp.ContainedAt = &t
	}
	if inc.ResolvedAt != nil {
		t := *inc.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}

func sortEvents(events []*models.RawEvent) {
	sort.Slice(events, func(i, j int) bool { return events[i].Before(events[j]) })
}

func sortDetections(dets []*models.Detection) {
	sort.Slice(dets, func(i, j int) bool {
		a, b := dets[i], dets[j]
		if !a.TriggeredAt.Equal(b.TriggeredAt) {
			return a.TriggeredAt.Before(b.TriggeredAt)
		}
		return a.ID < b.ID
	})
}
