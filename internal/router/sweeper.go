package router

import (
	"context"
	"log"
	"time"

	"expediter/internal/errs"
	"expediter/internal/models"
	"expediter/internal/monitoring"
	"expediter/internal/store"
)

// Sweeper force-bumps routing records stuck in preparing past their
// station's auto_bump_time, so a forgotten ticket never sits on a display
// forever. Forced transitions go through the same versioned update as human
// actions; when a human bump races the sweep, whichever write lands second
// sees the version change and backs off, so the explicit action wins.
type Sweeper struct {
	store    store.Store
	executor *Executor
	metrics  *monitoring.Metrics
	interval time.Duration
}

// NewSweeper creates a sweeper that scans every interval.
func NewSweeper(st store.Store, x *Executor, m *monitoring.Metrics, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{store: st, executor: x, metrics: m, interval: interval}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass over every station with an auto-bump threshold.
func (s *Sweeper) Sweep(ctx context.Context) {
	stations, err := s.store.ListStations(ctx)
	if err != nil {
		log.Printf("sweeper: list stations: %v", err)
		return
	}
	now := time.Now()
	for _, station := range stations {
		if station.AutoBumpTime <= 0 {
			continue
		}
		records, err := s.store.ListRouting(ctx, store.RoutingFilter{
			StationID: station.ID,
			Statuses:  []string{string(models.RoutingStatusPreparing)},
		})
		if err != nil {
			log.Printf("sweeper: list routing for station %d: %v", station.ID, err)
			continue
		}
		for _, r := range records {
			if r.StartedAt == nil || now.Sub(*r.StartedAt) < station.AutoBumpTime {
				continue
			}
			s.forceBump(ctx, r)
		}
	}
}

func (s *Sweeper) forceBump(ctx context.Context, r models.RoutingRecord) {
	now := time.Now()
	r.Status = string(models.RoutingStatusReady)
	r.BumpedAt = &now
	r.CompletedAt = &now
	r.BumpedBy = "auto_bump"
	if err := s.store.UpdateRouting(ctx, &r); err != nil {
		// A version conflict means a human got there first. That is the
		// desired outcome, not an error.
		if errs.IsConflict(err) {
			return
		}
		log.Printf("sweeper: force bump of record %d failed: %v", r.ID, err)
		return
	}
	s.metrics.SweepBump()
	s.executor.publishRouting(ctx, &r)
	log.Printf("sweeper: record %d force-bumped after %s", r.ID, time.Since(*r.StartedAt).Round(time.Second))
}
