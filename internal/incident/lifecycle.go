package incident

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"idsoc/internal/store"
	"idsoc/pkg/models"
)

// ErrNotFound is returned when the incident ID is unknown.
var ErrNotFound = store.ErrIncidentNotFound

// ErrInvalidTransition is returned when the requested lifecycle transition
// is not reachable from the incident's current status.
var ErrInvalidTransition = errors.New("invalid incident transition")

// ErrUnknownAction is returned for an unrecognized response action type.
var ErrUnknownAction = errors.New("unknown response action type")

// Manager drives the incident lifecycle:
//
//	open -> investigating -> contained -> resolved
//
// Transitions are monotone forward only. Executing any response action
// while open or investigating contains the incident; resolution requires
// containment first.
type Manager struct {
	store *store.Store
	now   func() time.Time
}

// NewManager creates a lifecycle manager.
func NewManager(st *store.Store) *Manager {
	return &Manager{store: st, now: time.Now}
}

// Acknowledge moves an open incident to investigating and stamps
// acknowledged_at.
func (m *Manager) Acknowledge(id string) (*models.Incident, error) {
	inc, err := m.store.ExecuteOnIncident(id, func(inc *models.Incident) (*models.ResponseAction, error) {
		if inc.Status != models.StatusOpen {
			return nil, ErrInvalidTransition
		}
		now := m.now().UTC()
		inc.Status = models.StatusInvestigating
		inc.AcknowledgedAt = &now
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithField("incident", id).Info("incident acknowledged")
	return inc, nil
}

// ExecuteResponse logs a simulated response action against the incident.
// The first action executed while the incident is open or investigating
// contains it; later actions are still logged but change nothing. The
// action never touches an external system.
func (m *Manager) ExecuteResponse(id string, actionType models.ActionType) (*models.Incident, *models.ResponseAction, error) {
	info, ok := actionCatalog[actionType]
	if !ok {
		return nil, nil, ErrUnknownAction
	}

	var action *models.ResponseAction
	inc, err := m.store.ExecuteOnIncident(id, func(inc *models.Incident) (*models.ResponseAction, error) {
		now := m.now().UTC()
		action = &models.ResponseAction{
			ID:          uuid.NewString(),
			IncidentID:  id,
			ActionType:  actionType,
			ActionName:  info.Name,
			Description: info.Description,
			Simulated:   true,
			ExecutedAt:  now,
		}
		if inc.Status.Active() {
			inc.Status = models.StatusContained
			inc.ContainedAt = &now
		}
		return action, nil
	})
	if err != nil {
		return nil, nil, err
	}
	logrus.WithFields(logrus.Fields{
		"incident": id,
		"action":   actionType,
		"status":   inc.Status,
	}).Info("response action executed")
	return inc, action, nil
}

// Resolve moves a contained incident to resolved and stamps resolved_at.
func (m *Manager) Resolve(id string) (*models.Incident, error) {
	inc, err := m.store.ExecuteOnIncident(id, func(inc *models.Incident) (*models.ResponseAction, error) {
		if inc.Status != models.StatusContained {
			return nil, ErrInvalidTransition
		}
		now := m.now().UTC()
		inc.Status = models.StatusResolved
		inc.ResolvedAt = &now
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	logrus.WithField("incident", id).Info("incident resolved")
	return inc, nil
}
