package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/coder/quartz"
	"github.com/prudhvinik1/focuspresence/internal/metrics"
	"github.com/prudhvinik1/focuspresence/internal/models"
)

const (
	transitionAway          = "away"
	transitionOffline       = "offline"
	transitionFocusComplete = "focus_complete"
	transitionFocusTick     = "focus_tick"

	sweepBatchSize = 200
	sweeperTag     = "decaySweeper"
)

// SweepResult counts what one pass did.
type SweepResult struct {
	Scanned        int
	Away           int
	Offline        int
	FocusCompleted int
	FocusTicked    int
	Failed         int
}

// DecaySweeper periodically demotes idle users and runs focus countdowns.
// Every write is a keyed upsert, so any number of instances may sweep the
// same store.
type DecaySweeper struct {
	svc      *PresenceService
	interval time.Duration
	clock    quartz.Clock
	metrics  *metrics.Metrics
	logger   *slog.Logger

	// ResultsCh receives the result of every pass started by Run. Tests only.
	ResultsCh chan SweepResult
}

func NewDecaySweeper(svc *PresenceService) *DecaySweeper {
	return &DecaySweeper{
		svc:      svc,
		interval: svc.cfg.SweepInterval,
		clock:    svc.clock,
		metrics:  svc.metrics,
		logger:   svc.logger.With("component", "decay_sweeper"),
	}
}

// Run sweeps every interval until ctx is done. A pass that has started is
// allowed to finish.
func (d *DecaySweeper) Run(ctx context.Context) error {
	ticker := d.clock.NewTicker(d.interval, sweeperTag)
	defer ticker.Stop()

	d.logger.Info("decay sweeper started", "interval", d.interval)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("decay sweeper stopped")
			return nil
		case <-ticker.C:
			result := d.SweepOnce(context.WithoutCancel(ctx))
			if d.ResultsCh != nil {
				d.ResultsCh <- result
			}
		}
	}
}

// SweepOnce reconciles the local cache with the store, then applies decay to
// every known user. A failure for one user never stops the pass.
func (d *DecaySweeper) SweepOnce(ctx context.Context) SweepResult {
	start := d.clock.Now()
	var result SweepResult

	userIDs := d.reconcile(ctx)
	result.Scanned = len(userIDs)

	now := d.clock.Now()
	for _, userID := range userIDs {
		transition, err := d.sweepUser(ctx, userID, now)
		if err != nil {
			result.Failed++
			d.logger.Error("decay failed", "user", userID, "error", err)
			continue
		}
		switch transition {
		case transitionAway:
			result.Away++
		case transitionOffline:
			result.Offline++
		case transitionFocusComplete:
			result.FocusCompleted++
		case transitionFocusTick:
			result.FocusTicked++
		default:
			continue
		}
		d.metrics.RecordTransition(transition)
	}

	d.metrics.ObserveSweep(d.clock.Since(start))
	d.metrics.SetUsersTracked(d.svc.cache.Size())
	if result.Away+result.Offline+result.FocusCompleted+result.Failed > 0 {
		d.logger.Info("sweep finished",
			"scanned", result.Scanned,
			"away", result.Away,
			"offline", result.Offline,
			"focus_completed", result.FocusCompleted,
			"failed", result.Failed,
		)
	}
	return result
}

// reconcile refreshes the cache from the store and returns the users to
// sweep, sorted. When the store cannot be listed the cached users are swept
// instead; each of them is re-read before any write.
func (d *DecaySweeper) reconcile(ctx context.Context) []string {
	userIDs, err := d.svc.store.ListUserIDs(ctx)
	if err != nil {
		d.logger.Warn("failed to list presence records, sweeping cached users", "error", err)
		userIDs = d.svc.cache.UserIDs()
		sort.Strings(userIDs)
		return userIDs
	}
	sort.Strings(userIDs)

	records := make(map[string]*models.Presence, len(userIDs))
	for start := 0; start < len(userIDs); start += sweepBatchSize {
		end := min(start+sweepBatchSize, len(userIDs))
		batch, err := d.svc.store.GetBulk(ctx, userIDs[start:end])
		if err != nil {
			d.logger.Warn("failed to reconcile presence cache", "error", err)
			return userIDs
		}
		for id, presence := range batch {
			records[id] = presence
		}
	}
	d.svc.cache.Reconcile(records)
	return userIDs
}

func (d *DecaySweeper) sweepUser(ctx context.Context, userID string, now time.Time) (transition string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during decay: %v", r)
		}
	}()
	return d.svc.decay(ctx, userID, now)
}
