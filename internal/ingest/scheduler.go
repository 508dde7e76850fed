package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/oddswatch/oddswatch/internal/models"
)

// Config holds the scheduler's fetch parameters.
type Config struct {
	Groups        []string
	FetchTimeout  time.Duration
	MaxConcurrent int
	Lookback      time.Duration
	Lookahead     time.Duration
	// PacingBudget is the global request budget per cycle; the minimum
	// inter-request interval is this budget divided across the groups.
	PacingBudget  time.Duration
	FieldPriority FieldPriority
}

// Scheduler fans out one fetch task per configured group, bounded by a
// concurrency limit, and normalizes the results. Provider failures are
// isolated per group; a failed or timed-out group yields an empty result.
type Scheduler struct {
	cfg       Config
	providers []Provider
	order     []string
	limiter   *rate.Limiter
	breakers  map[string]*gobreaker.CircuitBreaker
	now       func() time.Time
}

// NewScheduler creates a scheduler over the given providers. Provider order
// is the default merge preference.
func NewScheduler(cfg Config, providers []Provider) *Scheduler {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	order := make([]string, 0, len(providers))
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		order = append(order, p.Name())
		name := p.Name()
		breakers[name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name,
			Timeout: 2 * time.Minute,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(n string, from, to gobreaker.State) {
				log.Warn().Str("provider", n).
					Str("from", from.String()).Str("to", to.String()).
					Msg("provider circuit breaker state change")
			},
		})
	}

	limit := rate.Inf
	if cfg.PacingBudget > 0 && len(cfg.Groups) > 0 {
		limit = rate.Every(cfg.PacingBudget / time.Duration(len(cfg.Groups)))
	}

	return &Scheduler{
		cfg:       cfg,
		providers: providers,
		order:     order,
		limiter:   rate.NewLimiter(limit, 1),
		breakers:  breakers,
		now:       time.Now,
	}
}

// CycleResult carries a cycle's fetched snapshots plus per-group errors; a
// cycle with errors is a partial result, not a failure.
type CycleResult struct {
	Snapshots []models.Snapshot
	Errors    map[string]error
	Requests  int
	Failures  int
}

// RunCycle fetches every configured group concurrently and returns the merged,
// window-filtered snapshots in configured group order.
func (s *Scheduler) RunCycle(ctx context.Context) CycleResult {
	result := CycleResult{Errors: make(map[string]error)}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		sem     = make(chan struct{}, s.cfg.MaxConcurrent)
		byGroup = make(map[string][]models.Snapshot)
	)

	for _, group := range s.cfg.Groups {
		wg.Add(1)
		go func(group string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			snaps, requests, failures, err := s.fetchGroup(ctx, group)
			mu.Lock()
			defer mu.Unlock()
			result.Requests += requests
			result.Failures += failures
			if err != nil {
				result.Errors[group] = err
				log.Warn().Err(err).Str("group", group).Msg("group fetch failed, skipping this cycle")
				return
			}
			byGroup[group] = snaps
		}(group)
	}
	wg.Wait()

	now := s.now().UTC()
	for _, group := range s.cfg.Groups {
		for _, sn := range byGroup[group] {
			if !s.withinWindow(sn, now) {
				continue
			}
			if err := sn.Validate(); err != nil {
				log.Debug().Err(err).Str("instrument", sn.InstrumentID).Msg("dropping invalid snapshot")
				continue
			}
			result.Snapshots = append(result.Snapshots, sn)
		}
	}
	return result
}

// fetchGroup queries every provider for one group and merges the results. The
// group fails only when no provider returned data.
func (s *Scheduler) fetchGroup(ctx context.Context, group string) ([]models.Snapshot, int, int, error) {
	byProvider := make(map[string][]models.Snapshot)
	requests, failures := 0, 0
	var lastErr error

	for _, p := range s.providers {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, requests, failures, &ProviderError{Group: group, Cause: err}
		}
		requests++

		raw, err := s.breakers[p.Name()].Execute(func() (interface{}, error) {
			tctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
			defer cancel()
			return p.FetchGroup(tctx, group)
		})
		if err != nil {
			failures++
			lastErr = err
			log.Debug().Err(err).Str("provider", p.Name()).Str("group", group).Msg("provider fetch failed")
			continue
		}
		snaps := raw.([]models.Snapshot)
		for i := range snaps {
			snaps[i].GroupKey = group
			snaps[i].Provider = p.Name()
			snaps[i].ObservedAt = snaps[i].ObservedAt.UTC()
			snaps[i].ScheduledAt = snaps[i].ScheduledAt.UTC()
		}
		byProvider[p.Name()] = snaps
	}

	if len(byProvider) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no providers configured")
		}
		return nil, requests, failures, &ProviderError{Group: group, Cause: lastErr}
	}
	return MergeGroup(byProvider, s.order, s.cfg.FieldPriority), requests, failures, nil
}

// withinWindow keeps fixtures scheduled between now-lookback and
// now+lookahead, evaluated in UTC.
func (s *Scheduler) withinWindow(sn models.Snapshot, now time.Time) bool {
	sched := sn.ScheduledAt.UTC()
	return !sched.Before(now.Add(-s.cfg.Lookback)) && !sched.After(now.Add(s.cfg.Lookahead))
}

// BreakerState reports a provider breaker state for diagnostics.
func (s *Scheduler) BreakerState(provider string) (string, error) {
	cb, ok := s.breakers[provider]
	if !ok {
		return "", fmt.Errorf("unknown provider %q", provider)
	}
	return cb.State().String(), nil
}
