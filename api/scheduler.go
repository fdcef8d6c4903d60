/*
scheduler.go - Periodic ledger maintenance

PURPOSE:
  On a cron schedule, replays every card's history against its stored
  balance and drops idle rate limiter windows. Neither task is needed for
  correctness: a drifting card is reported, never repaired.

DESIGN:
  - robfig/cron drives the schedule (default @hourly)
  - Overlapping runs are skipped; manual runs wait for a running pass
  - Inconsistent cards are logged at Error with stored/derived balances
  - The last summary is kept for the admin endpoint

USAGE:
  scheduler, err := NewMaintenanceScheduler(l, limiter, "@hourly", log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerReconcile endpoint (manual run)
  - ledger/ledger.go: Verify
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/warp/card-ledger/ledger"
)

// Sweeper drops empty rate limiter windows. See ratelimit.SlidingWindow.
type Sweeper interface {
	Sweep() int
}

// RunSummary describes one maintenance pass.
type RunSummary struct {
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
	Cards        int                 `json:"cards"`
	Inconsistent []ReconciliationDTO `json:"inconsistent"`
	Failed       int                 `json:"failed"`
	Swept        int                 `json:"swept"`
}

// MaintenanceScheduler runs reconciliation and limiter sweeps.
type MaintenanceScheduler struct {
	ledger  *ledger.Ledger
	sweeper Sweeper
	log     logrus.FieldLogger

	cron *cron.Cron

	runMu sync.Mutex // serializes passes

	mu      sync.Mutex
	lastRun *RunSummary
}

// NewMaintenanceScheduler creates a scheduler. sweeper may be nil. An empty
// schedule leaves the scheduler usable through RunOnce only.
func NewMaintenanceScheduler(l *ledger.Ledger, sweeper Sweeper, schedule string, log logrus.FieldLogger) (*MaintenanceScheduler, error) {
	s := &MaintenanceScheduler{
		ledger:  l,
		sweeper: sweeper,
		log:     log.WithField("component", "maintenance"),
	}
	if schedule == "" {
		return s, nil
	}

	s.cron = cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(s.log)),
		cron.SkipIfStillRunning(cron.PrintfLogger(s.log)),
	))
	if _, err := s.cron.AddFunc(schedule, s.scheduledRun); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the cron schedule.
func (s *MaintenanceScheduler) Start() {
	if s.cron == nil {
		s.log.Info("no schedule configured, not starting")
		return
	}
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *MaintenanceScheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// LastRun returns the most recent summary, or nil before the first pass.
func (s *MaintenanceScheduler) LastRun() *RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

func (s *MaintenanceScheduler) scheduledRun() {
	if _, err := s.RunOnce(context.Background()); err != nil {
		s.log.WithError(err).Error("maintenance pass failed")
	}
}

// RunOnce verifies every card and sweeps the limiter. Per-card failures are
// counted, not returned; only failing to list cards aborts the pass.
func (s *MaintenanceScheduler) RunOnce(ctx context.Context) (*RunSummary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	summary := &RunSummary{
		StartedAt:    time.Now().UTC(),
		Inconsistent: []ReconciliationDTO{},
	}

	ids, err := s.ledger.CardIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rec, err := s.ledger.Verify(ctx, id)
		if err != nil {
			summary.Failed++
			entry := s.log.WithField("card_id", id).WithError(err)
			if errors.Is(err, ledger.ErrConcurrentModification) {
				entry.Info("card too busy to verify, skipped")
			} else {
				entry.Warn("verify failed")
			}
			continue
		}
		summary.Cards++

		if !rec.Consistent() {
			summary.Inconsistent = append(summary.Inconsistent, toReconciliationDTO(rec))
			s.log.WithFields(logrus.Fields{
				"card_id":         id,
				"stored_balance":  rec.StoredBalance.String(),
				"derived_balance": rec.DerivedBalance.String(),
				"version":         rec.Version,
			}).Error("balance does not match transaction history")
		}
	}

	if s.sweeper != nil {
		summary.Swept = s.sweeper.Sweep()
	}
	summary.FinishedAt = time.Now().UTC()

	s.log.WithFields(logrus.Fields{
		"cards":        summary.Cards,
		"inconsistent": len(summary.Inconsistent),
		"failed":       summary.Failed,
		"swept":        summary.Swept,
	}).Info("maintenance pass completed")

	s.mu.Lock()
	s.lastRun = summary
	s.mu.Unlock()
	return summary, nil
}
