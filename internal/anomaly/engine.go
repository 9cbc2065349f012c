// Package anomaly screens orders for safety irregularities: dietary
// conflicts, duplicates and stale tickets. Detection runs concurrently with
// routing and never blocks order flow.
package anomaly

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"expediter/internal/audit"
	"expediter/internal/errs"
	"expediter/internal/models"
	"expediter/internal/monitoring"
	"expediter/internal/realtime"
	"expediter/internal/store"
)

// Engine runs registered detectors over orders and owns anomaly
// persistence and resolution.
type Engine struct {
	store     store.Store
	channel   realtime.Channel
	sink      audit.Sink
	metrics   *monitoring.Metrics
	detectors []Detector
}

// NewEngine wires the engine. sink may be audit.Discard{}; metrics may be
// nil.
func NewEngine(st store.Store, ch realtime.Channel, sink audit.Sink, m *monitoring.Metrics, detectors ...Detector) *Engine {
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Engine{store: st, channel: ch, sink: sink, metrics: m, detectors: detectors}
}

// Evaluate runs every detector over the order in its own goroutine. Each
// detector's findings persist as they arrive: a panic or error in one
// detector never suppresses another's results. Returns every anomaly
// recorded plus per-detector errors.
func (e *Engine) Evaluate(ctx context.Context, o *models.Order) ([]models.Anomaly, []error) {
	type outcome struct {
		name     string
		findings []models.Anomaly
		err      error
	}

	results := make(chan outcome, len(e.detectors))
	var wg sync.WaitGroup
	for _, d := range e.detectors {
		wg.Add(1)
		go func(d Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- outcome{name: d.Name(), err: fmt.Errorf("detector %s panicked: %v", d.Name(), r)}
				}
			}()
			findings, err := d.Detect(ctx, o)
			results <- outcome{name: d.Name(), findings: findings, err: err}
		}(d)
	}
	wg.Wait()
	close(results)

	var recorded []models.Anomaly
	var detectErrs []error
	for out := range results {
		if out.err != nil {
			log.Printf("anomaly: detector %s: %v", out.name, out.err)
			detectErrs = append(detectErrs, fmt.Errorf("%s: %w", out.name, out.err))
		}
		for i := range out.findings {
			a := out.findings[i]
			if err := e.persist(ctx, &a); err != nil {
				detectErrs = append(detectErrs, fmt.Errorf("%s: persist: %w", out.name, err))
				continue
			}
			recorded = append(recorded, a)
		}
	}
	return recorded, detectErrs
}

func (e *Engine) persist(ctx context.Context, a *models.Anomaly) error {
	// The periodic scan re-runs detectors; an open finding is not raised
	// twice.
	existing, err := e.store.ListAnomalies(ctx, store.AnomalyFilter{
		OrderID:        a.OrderID,
		Type:           a.Type,
		UnresolvedOnly: true,
	})
	if err == nil {
		for _, prior := range existing {
			if prior.Message == a.Message {
				*a = prior
				return nil
			}
		}
	}
	if err := e.store.CreateAnomaly(ctx, a); err != nil {
		return err
	}
	e.metrics.Anomaly(a.Type, a.Severity)
	e.publish(ctx, a, realtime.ActionCreated)
	return nil
}

// Scan re-evaluates every open order, catching staleness that only
// develops with time. Run from a ticker alongside the sweep.
func (e *Engine) Scan(ctx context.Context) {
	orders, err := e.store.ListOrders(ctx, store.OrderFilter{Status: string(models.OrderStatusOpen)})
	if err != nil {
		log.Printf("anomaly: scan: %v", err)
		return
	}
	for i := range orders {
		e.Evaluate(ctx, &orders[i])
	}
}

// Resolve marks an anomaly handled. Idempotent: resolving an
// already-resolved anomaly succeeds without touching the record again.
func (e *Engine) Resolve(ctx context.Context, id uint, resolution string) (*models.Anomaly, error) {
	a, err := e.store.GetAnomaly(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Resolved {
		return a, nil
	}
	now := time.Now()
	a.Resolved = true
	a.Resolution = resolution
	a.ResolvedAt = &now
	if err := errs.Retry(ctx, errs.DefaultRetry, func() error {
		return e.store.UpdateAnomaly(ctx, a)
	}); err != nil {
		return nil, err
	}
	e.sink.Resolution(a)
	e.publish(ctx, a, realtime.ActionUpdated)
	return a, nil
}

func (e *Engine) publish(ctx context.Context, a *models.Anomaly, action string) {
	if e.channel == nil {
		return
	}
	payload, _ := json.Marshal(a)
	ev := realtime.ChangeEvent{
		Kind:     realtime.KindAnomaly,
		Action:   action,
		RecordID: a.ID,
		OrderID:  a.OrderID,
		Payload:  payload,
	}
	if err := e.channel.Publish(ctx, ev); err != nil {
		log.Printf("anomaly: publish failed: %v", err)
	}
}
