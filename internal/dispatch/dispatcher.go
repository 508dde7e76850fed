// Package dispatch applies rate limits, deduplication, and priority cutoffs
// before handing opportunities to a notifier.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/oddswatch/oddswatch/internal/models"
)

// Notifier delivers a formatted alert. Implementations live outside the core
// decision logic.
type Notifier interface {
	Send(alert models.FormattedAlert) error
}

// TransportError wraps a notifier delivery failure. A transport failure never
// advances the cooldown or per-instrument counters.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("alert transport failed: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// Config holds the dispatcher's rate limits and eligibility thresholds.
type Config struct {
	MaxDailyAlerts         int
	MaxAlertsPerInstrument int
	Cooldown               time.Duration
	MinEdge                float64
	MaxLead                time.Duration
}

// instrumentState is the per-instrument rate-limit record. Entries older than
// 24h are pruned.
type instrumentState struct {
	lastAlertAt time.Time
	countToday  int
	touchedAt   time.Time
}

// Dispatcher owns all rate-limit state. Dispatch runs on the orchestrator
// loop; Stats may be read concurrently from status handlers.
type Dispatcher struct {
	cfg      Config
	notifier Notifier
	now      func() time.Time

	mu          sync.Mutex
	instruments map[string]*instrumentState
	day         time.Time // UTC midnight of the current counting day

	sentToday       int
	suppressedToday int
	failedToday     int
}

// New creates a dispatcher delivering through the given notifier.
func New(cfg Config, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg,
		notifier:    notifier,
		now:         time.Now,
		instruments: make(map[string]*instrumentState),
	}
}

// Result summarizes one dispatch pass.
type Result struct {
	Sent       int
	Suppressed int
	Failed     int
	Records    []models.AlertRecord
	Dispatched []models.Opportunity
}

// Stats reports the running daily counters.
type Stats struct {
	SentToday       int
	SuppressedToday int
	FailedToday     int
}

// Dispatch runs the eligibility gates over the opportunities in priority
// order and delivers the survivors. Counters advance only on successful
// delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, opps []models.Opportunity) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()
	d.rollDay(now)

	sorted := make([]models.Opportunity, len(opps))
	copy(sorted, opps)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].PriorityScore != sorted[j].PriorityScore {
			return sorted[i].PriorityScore > sorted[j].PriorityScore
		}
		// Equal priority goes to the opportunity closer to expiring.
		return sorted[i].TimeSensitivity > sorted[j].TimeSensitivity
	})

	var res Result
	for _, o := range sorted {
		if ctx.Err() != nil {
			break
		}

		if reason, ok := d.eligible(o, now); !ok {
			d.suppressedToday++
			res.Suppressed++
			log.Debug().
				Str("instrument", o.InstrumentID).
				Str("side", string(o.Side)).
				Str("reason", reason).
				Msg("opportunity suppressed")
			continue
		}

		record := models.AlertRecord{
			InstrumentID:  o.InstrumentID,
			OpportunityID: o.ID,
			SentAt:        now,
			AlertType:     alertType(o),
			Priority:      o.Urgency,
		}

		if err := d.notifier.Send(FormatAlert(o)); err != nil {
			terr := &TransportError{Cause: err}
			d.failedToday++
			res.Failed++
			record.Outcome = "failed"
			res.Records = append(res.Records, record)
			log.Warn().Err(terr).
				Str("instrument", o.InstrumentID).
				Msg("alert delivery failed, counters not advanced")
			continue
		}

		record.Outcome = "success"
		res.Records = append(res.Records, record)
		res.Dispatched = append(res.Dispatched, o)
		res.Sent++
		d.sentToday++

		st := d.state(instrumentKey(o), now)
		st.lastAlertAt = now
		st.countToday++
		st.touchedAt = now
	}
	return res
}

// eligible runs every ELIGIBLE -> SENT transition gate. The returned reason
// names the first failed gate.
func (d *Dispatcher) eligible(o models.Opportunity, now time.Time) (string, bool) {
	if o.EdgeEstimate < d.cfg.MinEdge {
		return "edge_below_minimum", false
	}
	lead := o.ScheduledAt.Sub(now)
	if lead > d.cfg.MaxLead {
		return "too_far_ahead", false
	}
	if d.sentToday >= d.cfg.MaxDailyAlerts {
		return "daily_budget_exhausted", false
	}
	// Past 80% of budget, only the top of the priority distribution may pass.
	if float64(d.sentToday) >= 0.8*float64(d.cfg.MaxDailyAlerts) &&
		o.Urgency != models.UrgencyHigh && o.Urgency != models.UrgencyCritical {
		return "budget_squeeze", false
	}

	st := d.state(instrumentKey(o), now)
	if st.countToday >= d.cfg.MaxAlertsPerInstrument {
		return "instrument_cap_reached", false
	}
	if !st.lastAlertAt.IsZero() && now.Sub(st.lastAlertAt) < d.cfg.Cooldown {
		return "cooldown_active", false
	}
	return "", true
}

// rollDay resets daily counters at the UTC midnight boundary and prunes
// instrument state older than 24h.
func (d *Dispatcher) rollDay(now time.Time) {
	day := now.Truncate(24 * time.Hour)
	if d.day.IsZero() {
		d.day = day
		return
	}
	if day.After(d.day) {
		log.Info().
			Int("sent", d.sentToday).
			Int("suppressed", d.suppressedToday).
			Int("failed", d.failedToday).
			Msg("daily alert counters reset")
		d.day = day
		d.sentToday = 0
		d.suppressedToday = 0
		d.failedToday = 0
		for key, st := range d.instruments {
			st.countToday = 0
			if now.Sub(st.touchedAt) > 24*time.Hour {
				delete(d.instruments, key)
			}
		}
	}
}

func (d *Dispatcher) state(key string, now time.Time) *instrumentState {
	st, ok := d.instruments[key]
	if !ok {
		st = &instrumentState{touchedAt: now}
		d.instruments[key] = st
	}
	return st
}

// Stats returns the running daily counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		SentToday:       d.sentToday,
		SuppressedToday: d.suppressedToday,
		FailedToday:     d.failedToday,
	}
}

func instrumentKey(o models.Opportunity) string {
	return o.GroupKey + ":" + o.InstrumentID
}

func alertType(o models.Opportunity) string {
	switch o.MovementDirection {
	case "decrease":
		return "steamer"
	case "increase":
		return "drifter"
	default:
		return "value"
	}
}

// FormatAlert builds the structured payload handed to the notifier.
func FormatAlert(o models.Opportunity) models.FormattedAlert {
	return models.FormattedAlert{
		Title:    fmt.Sprintf("Value opportunity: %s", o.InstrumentID),
		Priority: o.Urgency,
		Sections: []models.BodySection{
			{Label: "Group", Value: o.GroupKey},
			{Label: "Side", Value: string(o.Side)},
			{Label: "Price", Value: fmt.Sprintf("%.2f (was %.2f)", o.Value, o.PreviousValue)},
			{Label: "Edge", Value: fmt.Sprintf("%.1f%%", o.EdgeEstimate*100)},
			{Label: "Stake", Value: fmt.Sprintf("%.2f (%s confidence)", o.RecommendedStake, o.ConfidenceLabel)},
			{Label: "Urgency", Value: o.Urgency.String()},
			{Label: "Kickoff", Value: o.ScheduledAt.UTC().Format("2006-01-02 15:04")},
		},
	}
}
