package incident

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"idsoc/internal/catalog"
	"idsoc/internal/store"
	"idsoc/pkg/models"
)

// AggregatorConfig controls detection-to-incident grouping.
type AggregatorConfig struct {
	MergeWindow time.Duration
}

// Aggregator maps new detections to incidents. A detection merges into an
// open or investigating incident for the same user when the gap to the
// incident's latest member is within the merge window; otherwise a fresh
// incident is opened. Contained and resolved incidents are never reopened.
type Aggregator struct {
	store       *store.Store
	catalog     *catalog.Catalog
	mergeWindow time.Duration
	newID       func() string
}

// NewAggregator creates an aggregator.
func NewAggregator(st *store.Store, cat *catalog.Catalog, cfg AggregatorConfig) *Aggregator {
	if cfg.MergeWindow <= 0 {
		cfg.MergeWindow = 24 * time.Hour
	}
	return &Aggregator{
		store:       st,
		catalog:     cat,
		mergeWindow: cfg.MergeWindow,
		newID:       func() string { return "INC-" + uuid.NewString()[:8] },
	}
}

// Assign attaches each detection to an incident, merging or creating as
// the merge policy dictates. Merge decisions are made once, at arrival
// time. Returns the incidents that were created.
func (a *Aggregator) Assign(dets []*models.Detection) ([]*models.Incident, error) {
	var created []*models.Incident
	for _, det := range dets {
		det := det
		inc, merged, err := a.store.AttachDetection(det, a.mergeWindow, func() *models.Incident {
			return a.buildIncident(det)
		})
		if err != nil {
			return created, fmt.Errorf("attach detection %s: %w", det.ID, err)
		}
		if merged {
			logrus.WithFields(logrus.Fields{
				"incident":  inc.IncidentID,
				"detection": det.ID,
				"severity":  inc.Severity,
			}).Info("detection merged into incident")
		} else {
			created = append(created, inc)
			logrus.WithFields(logrus.Fields{
				"incident":  inc.IncidentID,
				"detection": det.ID,
				"user":      det.User,
				"severity":  inc.Severity,
			}).Info("incident opened")
		}
	}
	return created, nil
}

func (a *Aggregator) buildIncident(det *models.Detection) *models.Incident {
	title := det.RuleID
	description := ""
	if rule, ok := a.catalog.ByID(det.RuleID); ok {
		title = fmt.Sprintf("%s - %s", rule.Name, det.User)
		description = rule.Description
	}
	return &models.Incident{
		IncidentID:         a.newID(),
		Title:              title,
		Description:        description,
		User:               det.User,
		Severity:           det.Severity,
		Status:             models.StatusOpen,
		ScenarioType:       det.ScenarioType,
		DetectedAt:         det.TriggeredAt,
		LastDetectionAt:    det.TriggeredAt,
		MemberDetectionIDs: []string{det.ID},
	}
}
