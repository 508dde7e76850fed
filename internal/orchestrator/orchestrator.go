// Package orchestrator drives the fixed-interval monitoring loop:
// ingest, classify, score, dispatch, persist, sleep.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oddswatch/oddswatch/internal/dispatch"
	"github.com/oddswatch/oddswatch/internal/ingest"
	"github.com/oddswatch/oddswatch/internal/market"
	"github.com/oddswatch/oddswatch/internal/models"
	"github.com/oddswatch/oddswatch/internal/scoring"
	"github.com/oddswatch/oddswatch/internal/storage"
)

// Noticer receives out-of-band failure and recovery notices. Optional.
type Noticer interface {
	SendError(err error) error
	SendRecovery(failureCount int) error
}

// Config holds the loop timing parameters.
type Config struct {
	PollInterval            time.Duration
	Retention               time.Duration
	CleanupInterval         time.Duration
	FailureBackoffThreshold int
}

// Orchestrator owns the cycle loop and is the only writer of the snapshot
// store and dispatcher state.
type Orchestrator struct {
	cfg        Config
	scheduler  *ingest.Scheduler
	snapshots  *market.Store
	scorer     *scoring.Scorer
	active     *scoring.ActiveSet
	dispatcher *dispatch.Dispatcher
	store      *storage.Storage
	noticer    Noticer
	now        func() time.Time

	mu                  sync.Mutex
	cyclesRun           int
	lastCycleDuration   time.Duration
	consecutiveFailures int
	providerRequests    int
	providerFailures    int
	lastCleanup         time.Time
}

// New wires an orchestrator. noticer may be nil.
func New(cfg Config, scheduler *ingest.Scheduler, snapshots *market.Store, scorer *scoring.Scorer,
	active *scoring.ActiveSet, dispatcher *dispatch.Dispatcher, store *storage.Storage, noticer Noticer) *Orchestrator {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 24 * time.Hour
	}
	if cfg.FailureBackoffThreshold < 1 {
		cfg.FailureBackoffThreshold = 3
	}
	return &Orchestrator{
		cfg:        cfg,
		scheduler:  scheduler,
		snapshots:  snapshots,
		scorer:     scorer,
		active:     active,
		dispatcher: dispatcher,
		store:      store,
		noticer:    noticer,
		now:        time.Now,
	}
}

// Status is the operational surface read by external health checks.
type Status struct {
	CyclesRun           int
	LastCycleDuration   time.Duration
	ActiveOpportunities int
	AlertsSentToday     int
	ProviderErrorRate   float64
}

// Status returns a point-in-time snapshot of the loop's health.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	rate := 0.0
	if o.providerRequests > 0 {
		rate = float64(o.providerFailures) / float64(o.providerRequests)
	}
	return Status{
		CyclesRun:           o.cyclesRun,
		LastCycleDuration:   o.lastCycleDuration,
		ActiveOpportunities: o.active.Len(),
		AlertsSentToday:     o.dispatcher.Stats().SentToday,
		ProviderErrorRate:   rate,
	}
}

// Run executes the loop until ctx is cancelled. The first cycle runs
// immediately; sustained failures widen the effective interval instead of
// retrying at full speed.
func (o *Orchestrator) Run(ctx context.Context) {
	o.handleCycleResult(o.RunOnce(ctx))

	timer := time.NewTimer(o.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("orchestrator stopped")
			return
		case <-timer.C:
			o.handleCycleResult(o.RunOnce(ctx))
			timer.Reset(o.interval())
		}
	}
}

// RunOnce executes a single cycle: ingest, classify, score, dispatch,
// persist, evict, maintain. Partial provider failures do not fail the cycle;
// the cycle fails only when every group yields nothing but errors.
func (o *Orchestrator) RunOnce(ctx context.Context) error {
	start := o.now()
	defer func() {
		o.mu.Lock()
		o.cyclesRun++
		o.lastCycleDuration = o.now().Sub(start)
		o.mu.Unlock()
	}()

	res := o.scheduler.RunCycle(ctx)
	o.mu.Lock()
	o.providerRequests += res.Requests
	o.providerFailures += res.Failures
	o.mu.Unlock()

	if len(res.Errors) > 0 && len(res.Snapshots) == 0 {
		return fmt.Errorf("all %d group fetches failed", len(res.Errors))
	}

	var movements []models.Movement
	for _, snap := range res.Snapshots {
		mvs := o.snapshots.Upsert(snap)
		movements = append(movements, mvs...)
		for _, side := range []models.Side{models.SideA, models.SideB} {
			if opp, ok := o.scorer.Score(snap, side, mvs); ok {
				o.active.Add(opp)
			}
		}
	}

	dres := o.dispatcher.Dispatch(ctx, o.active.List())
	if dres.Sent > 0 || dres.Suppressed > 0 || dres.Failed > 0 {
		log.Info().
			Int("sent", dres.Sent).
			Int("suppressed", dres.Suppressed).
			Int("failed", dres.Failed).
			Msg("dispatch pass complete")
	}

	o.persist(res.Snapshots, movements, dres)

	now := o.now().UTC()
	if evicted := o.active.EvictExpired(now); len(evicted) > 0 {
		if err := o.store.SaveOpportunities(evicted); err != nil {
			log.Error().Err(err).Msg("failed to persist evicted opportunities")
		}
		log.Debug().Int("count", len(evicted)).Msg("evicted expired opportunities")
	}

	o.maintain(now)

	log.Info().
		Int("snapshots", len(res.Snapshots)).
		Int("movements", len(movements)).
		Int("active", o.active.Len()).
		Dur("duration", o.now().Sub(start)).
		Msg("monitoring cycle complete")
	return nil
}

// persist writes the cycle's batches. Persistence errors are logged and the
// affected batch dropped; they never abort the cycle.
func (o *Orchestrator) persist(snaps []models.Snapshot, movements []models.Movement, dres dispatch.Result) {
	if err := o.store.SaveSnapshots(snaps); err != nil {
		log.Error().Err(err).Msg("failed to persist snapshots")
	}
	if err := o.store.SaveMovements(movements); err != nil {
		log.Error().Err(err).Msg("failed to persist movements")
	}
	if err := o.store.SaveOpportunities(dres.Dispatched); err != nil {
		log.Error().Err(err).Msg("failed to persist dispatched opportunities")
	}
	if err := o.store.SaveAlertRecords(dres.Records); err != nil {
		log.Error().Err(err).Msg("failed to persist alert records")
	}
}

// maintain runs retention cleanup once per cleanup interval.
func (o *Orchestrator) maintain(now time.Time) {
	o.mu.Lock()
	due := now.Sub(o.lastCleanup) >= o.cfg.CleanupInterval
	if due {
		o.lastCleanup = now
	}
	o.mu.Unlock()
	if !due {
		return
	}
	deleted, err := o.store.Cleanup(o.cfg.Retention)
	if err != nil {
		log.Error().Err(err).Msg("retention cleanup failed")
		return
	}
	log.Info().Int64("rows", deleted).Msg("retention cleanup complete")
}

// handleCycleResult tracks consecutive failures and drives the error and
// recovery notices.
func (o *Orchestrator) handleCycleResult(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.consecutiveFailures++
		log.Error().Err(err).Int("consecutive", o.consecutiveFailures).Msg("monitoring cycle failed")
		if o.consecutiveFailures == 1 && o.noticer != nil {
			if sendErr := o.noticer.SendError(err); sendErr != nil {
				log.Warn().Err(sendErr).Msg("failed to send error notice")
			}
		}
		return
	}
	if o.consecutiveFailures > 0 && o.noticer != nil {
		if sendErr := o.noticer.SendRecovery(o.consecutiveFailures); sendErr != nil {
			log.Warn().Err(sendErr).Msg("failed to send recovery notice")
		}
	}
	o.consecutiveFailures = 0
}

// interval returns the effective poll interval, doubled per failure beyond
// the backoff threshold and capped at 8x the base interval.
func (o *Orchestrator) interval() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	d := o.cfg.PollInterval
	if o.consecutiveFailures >= o.cfg.FailureBackoffThreshold {
		over := o.consecutiveFailures - o.cfg.FailureBackoffThreshold + 1
		if over > 3 {
			over = 3
		}
		d *= time.Duration(1 << over)
	}
	return d
}
