package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"idsoc/internal/correlate"
	"idsoc/internal/incident"
	"idsoc/internal/store"
	"idsoc/internal/telemetry"
	"idsoc/pkg/models"
)

// Pipeline runs a batch of raw events through the store, the correlation
// engine and the incident aggregator. Each Ingest call is all-or-nothing
// from the caller's perspective: on error the batch can simply be retried.
type Pipeline struct {
	store      *store.Store
	engine     *correlate.Engine
	aggregator *incident.Aggregator
	metrics    *telemetry.Metrics
}

// IngestResult summarizes one ingestion batch.
type IngestResult struct {
	EventsAccepted int `json:"events_accepted"`
	NewDetections  int `json:"new_detections"`
	NewIncidents   int `json:"new_incidents"`
}

// New creates a pipeline.
func New(st *store.Store, eng *correlate.Engine, agg *incident.Aggregator, met *telemetry.Metrics) *Pipeline {
	return &Pipeline{store: st, engine: eng, aggregator: agg, metrics: met}
}

// Ingest appends events, correlates and aggregates.
func (p *Pipeline) Ingest(ctx context.Context, events []*models.RawEvent) (*IngestResult, error) {
	if err := p.store.AppendEvents(events); err != nil {
		return nil, fmt.Errorf("append events: %w", err)
	}
	if p.metrics != nil {
		p.metrics.EventsIngested.Add(float64(len(events)))
	}
	res, err := p.Recorrelate(ctx)
	if err != nil {
		return nil, err
	}
	res.EventsAccepted = len(events)
	return res, nil
}

// Recorrelate runs a correlation pass over the current store and assigns
// any new detections to incidents. Re-running over an unchanged store is a
// no-op.
func (p *Pipeline) Recorrelate(ctx context.Context) (*IngestResult, error) {
	dets, err := p.engine.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("correlate: %w", err)
	}
	created, err := p.aggregator.Assign(dets)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	if p.metrics != nil {
		for _, d := range dets {
			p.metrics.DetectionsFired.WithLabelValues(d.RuleID).Inc()
		}
		p.metrics.IncidentsOpened.Add(float64(len(created)))
	}
	return &IngestResult{NewDetections: len(dets), NewIncidents: len(created)}, nil
}

// EventSource yields raw JSON payloads, one batch per Pop. A nil payload
// with nil error means no message was available.
type EventSource interface {
	Pop(ctx context.Context) ([]byte, error)
}

// Consume reads payloads from src until the context is canceled. Payloads
// that fail to decode are logged and skipped; ingestion errors are logged
// and the payload is dropped (the producer may re-enqueue).
func (p *Pipeline) Consume(ctx context.Context, src EventSource) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := src.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logrus.WithError(err).Error("failed to pop event payload")
			continue
		}
		if payload == nil {
			continue
		}
		events, err := DecodeEvents(payload)
		if err != nil {
			logrus.WithError(err).Warn("skipping undecodable event payload")
			continue
		}
		if _, err := p.Ingest(ctx, events); err != nil {
			logrus.WithError(err).Error("failed to ingest event payload")
		}
	}
}

// DecodeEvents parses a JSON payload holding either a single raw event or
// an array of them.
func DecodeEvents(payload []byte) ([]*models.RawEvent, error) {
	var batch []*models.RawEvent
	if err := json.Unmarshal(payload, &batch); err == nil {
		return batch, nil
	}
	var single models.RawEvent
	if err := json.Unmarshal(payload, &single); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return []*models.RawEvent{&single}, nil
}
