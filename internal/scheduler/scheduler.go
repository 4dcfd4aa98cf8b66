// Package scheduler runs cron-scheduled column refreshes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/salesgrid/salesgrid/internal/store"
	"github.com/salesgrid/salesgrid/pkg/schema"
)

// Refresher is the interface the scheduler drives. Satisfied by the previewer.
type Refresher interface {
	RefreshColumn(ctx context.Context, tableID, columnKey string) (int, error)
	RefreshTable(ctx context.Context, tableID string) (int, error)
}

// tickInterval is how often due refreshes are checked for.
const tickInterval = 60 * time.Second

// Scheduler polls the store for due scheduled refreshes and runs them.
type Scheduler struct {
	store     store.Store
	refresher Refresher
	parser    cron.Parser
	logger    *slog.Logger
	cancel    context.CancelFunc
	done      chan struct{}
	mu        sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // refresh IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, refresher Refresher, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:     s,
		refresher: refresher,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger:    logger,
		inflight:  make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick checks all enabled refreshes and runs those that are due.
func (s *Scheduler) Tick(ctx context.Context) {
	refreshes, err := s.store.ListScheduledRefreshes(ctx, true)
	if err != nil {
		s.logger.Error("failed to list scheduled refreshes", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, refresh := range refreshes {
		due, err := s.isDue(refresh, now)
		if err != nil {
			s.logger.Error("bad cron spec on scheduled refresh",
				slog.String("refresh_id", refresh.ID),
				slog.String("cron_spec", refresh.CronSpec),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !due {
			continue
		}
		if !s.tryAcquire(refresh.ID) {
			continue // already running (dedup)
		}
		if err := s.runRefresh(ctx, refresh, now); err != nil {
			s.logger.Error("scheduled refresh failed",
				slog.String("refresh_id", refresh.ID),
				slog.String("table_id", refresh.TableID),
				slog.String("error", err.Error()),
			)
		}
		s.release(refresh.ID)
	}
}

// isDue reports whether the refresh's next scheduled time has passed. A
// refresh that has never run is anchored at its creation time.
func (s *Scheduler) isDue(refresh *store.ScheduledRefresh, now time.Time) (bool, error) {
	schedule, err := s.parser.Parse(refresh.CronSpec)
	if err != nil {
		return false, err
	}

	anchor := refresh.CreatedAt
	if refresh.LastRunAt != nil {
		anchor = *refresh.LastRunAt
	}
	return !schedule.Next(anchor).After(now), nil
}

// runRefresh recomputes the target column (or whole table) and records the run.
func (s *Scheduler) runRefresh(ctx context.Context, refresh *store.ScheduledRefresh, now time.Time) error {
	s.logger.Info("running scheduled refresh",
		slog.String("refresh_id", refresh.ID),
		slog.String("table_id", refresh.TableID),
		slog.String("column_key", refresh.ColumnKey),
	)

	var updated int
	var err error
	if refresh.ColumnKey != "" {
		updated, err = s.refresher.RefreshColumn(ctx, refresh.TableID, refresh.ColumnKey)
	} else {
		updated, err = s.refresher.RefreshTable(ctx, refresh.TableID)
	}
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeSchedule,
			"refresh %s failed", refresh.ID).WithCause(err)
	}

	s.logger.Info("scheduled refresh complete",
		slog.String("refresh_id", refresh.ID),
		slog.Int("rows_updated", updated),
	)

	if err := s.store.UpdateScheduledRefresh(ctx, refresh.ID, store.ScheduledRefreshUpdate{
		LastRunAt: &now,
	}); err != nil {
		return schema.NewErrorf(schema.ErrCodeSchedule,
			"record run time for refresh %s", refresh.ID).WithCause(err)
	}
	return nil
}

// tryAcquire returns true and marks the refresh as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

// release removes the refresh from the in-flight set.
func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// NextRun computes the next run time for a cron spec.
func (s *Scheduler) NextRun(cronSpec string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronSpec)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeSchedule,
			"parse cron spec %q", cronSpec).WithCause(err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
