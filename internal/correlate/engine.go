package correlate

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"idsoc/internal/catalog"
	"idsoc/internal/store"
	"idsoc/pkg/models"
)

// Config controls correlation behavior.
type Config struct {
	Workers int
}

// Engine applies the detection catalog to the event store. Rules are
// evaluated independently per user over that user's sorted events, so
// partitions can be processed in parallel.
type Engine struct {
	catalog *catalog.Catalog
	store   *store.Store
	workers int
}

// New creates a correlation engine.
func New(cat *catalog.Catalog, st *store.Store, cfg Config) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Engine{catalog: cat, store: st, workers: cfg.Workers}
}

// Run evaluates every enabled rule against every user partition and stores
// the newly fired detections. Detections already present are skipped, so a
// re-run over an unchanged store adds nothing. The returned slice holds
// only the new detections, in (triggered_at, id) order.
func (e *Engine) Run(ctx context.Context) ([]*models.Detection, error) {
	users := e.store.Users()
	if len(users) == 0 {
		return nil, nil
	}

	userCh := make(chan string, len(users))
	for _, u := range users {
		userCh <- u
	}
	close(userCh)

	var (
		mu    sync.Mutex
		added []*models.Detection
		first error
	)
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for user := range userCh {
				if ctx.Err() != nil {
					return
				}
				dets := e.ProcessUser(user)
				if len(dets) == 0 {
					continue
				}
				stored, err := e.store.AddDetections(dets)
				mu.Lock()
				if err != nil && first == nil {
					first = err
				}
				added = append(added, stored...)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if first != nil {
		return nil, first
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sortByTrigger(added)
	if len(added) > 0 {
		logrus.WithField("detections", len(added)).Info("correlation pass produced new detections")
	}
	return added, nil
}

// ProcessUser evaluates all enabled rules against one user's events and
// returns the resulting detections without storing them.
func (e *Engine) ProcessUser(user string) []*models.Detection {
	events := e.store.EventsForUser(user)
	if len(events) == 0 {
		return nil
	}
	var out []*models.Detection
	for _, rule := range e.catalog.Rules() {
		if !rule.Enabled {
			continue
		}
		out = append(out, e.applyRule(rule, events)...)
	}
	sortByTrigger(out)
	return out
}

func (e *Engine) applyRule(rule catalog.Rule, events []*models.RawEvent) []*models.Detection {
	switch rule.DetectionID {
	case catalog.RuleMFAFatigue:
		return e.matchMFAFatigue(rule, events)
	case catalog.RuleImpossibleTravel:
		return e.matchImpossibleTravel(rule, events)
	case catalog.RuleLegacyAuth:
		return e.matchLegacyAuth(rule, events)
	case catalog.RuleRiskySignIn:
		return e.matchRiskySignIn(rule, events)
	case catalog.RuleOAuthAbuse:
		return e.matchOAuthAbuse(rule, events)
	case catalog.RulePrivEscalation:
		return e.matchPrivEscalation(rule, events)
	default:
		logrus.WithField("rule", rule.DetectionID).Warn("no matcher for catalog rule")
		return nil
	}
}

// recordMalformed notes an event a rule could not evaluate. The event is
// excluded from that rule only; the pass continues.
func (e *Engine) recordMalformed(rule catalog.Rule, ev *models.RawEvent, reason string) {
	logrus.WithFields(logrus.Fields{
		"rule":   rule.DetectionID,
		"event":  ev.ID,
		"user":   ev.User,
		"reason": reason,
	}).Warn("event excluded from rule evaluation")
}

func sortByTrigger(dets []*models.Detection) {
	sort.Slice(dets, func(i, j int) bool {
		a, b := dets[i], dets[j]
		if !a.TriggeredAt.Equal(b.TriggeredAt) {
			return a.TriggeredAt.Before(b.TriggeredAt)
		}
		return a.ID < b.ID
	})
}
