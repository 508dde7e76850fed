// Package models defines the core domain entities: snapshots, movements,
// opportunities, and the append-only alert/outcome records.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Side identifies one of the two priced sides of a fixture.
type Side string

const (
	SideA Side = "a"
	SideB Side = "b"
)

// Opposite returns the counter side.
func (s Side) Opposite() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// Snapshot is an immutable observation of one fixture's prices at a point in
// time. A fixture is identified by (InstrumentID, GroupKey); a newer snapshot
// for the same key supersedes the prior one in the snapshot store.
type Snapshot struct {
	InstrumentID string    `json:"instrument_id"`
	SideALabel   string    `json:"side_a_label"`
	SideBLabel   string    `json:"side_b_label"`
	SideAValue   float64   `json:"side_a_value"`
	SideBValue   float64   `json:"side_b_value"`
	ObservedAt   time.Time `json:"observed_at"`
	GroupKey     string    `json:"group_key"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	Provider     string    `json:"provider"`
}

// Key returns the composite "group:instrument" identity of the fixture.
func (s *Snapshot) Key() string {
	return s.GroupKey + ":" + s.InstrumentID
}

// Value returns the price of the given side.
func (s *Snapshot) Value(side Side) float64 {
	if side == SideA {
		return s.SideAValue
	}
	return s.SideBValue
}

// Label returns the display label of the given side.
func (s *Snapshot) Label(side Side) string {
	if side == SideA {
		return s.SideALabel
	}
	return s.SideBLabel
}

// Validate checks snapshot field constraints.
func (s *Snapshot) Validate() error {
	if s.InstrumentID == "" {
		return errors.New("instrument ID must not be empty")
	}
	if s.GroupKey == "" {
		return errors.New("group key must not be empty")
	}
	if s.SideAValue <= 1.0 || s.SideBValue <= 1.0 {
		return errors.New("decimal prices must be greater than 1.0")
	}
	if s.ObservedAt.IsZero() {
		return errors.New("observed at must be set")
	}
	if s.ScheduledAt.IsZero() {
		return errors.New("scheduled at must be set")
	}
	return nil
}

// MovementType classifies how a price moved between two snapshots.
type MovementType string

const (
	MovementEnteringRange MovementType = "entering_target_range"
	MovementExitingRange  MovementType = "exiting_target_range"
	MovementLargeIncrease MovementType = "large_increase"
	MovementLargeDecrease MovementType = "large_decrease"
	MovementNormal        MovementType = "normal"
)

// Significance buckets a movement by how actionable it is. Values are ordered:
// a higher constant always means a more significant movement.
type Significance int

const (
	SignificanceLow Significance = iota
	SignificanceMedium
	SignificanceHigh
	SignificanceCritical
)

func (s Significance) String() string {
	switch s {
	case SignificanceCritical:
		return "CRITICAL"
	case SignificanceHigh:
		return "HIGH"
	case SignificanceMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ParseSignificance converts a stored string back into a Significance.
func ParseSignificance(s string) Significance {
	switch s {
	case "CRITICAL":
		return SignificanceCritical
	case "HIGH":
		return SignificanceHigh
	case "MEDIUM":
		return SignificanceMedium
	default:
		return SignificanceLow
	}
}

// Movement is a classified transition of one side's price between two
// consecutive snapshots. It is never mutated after creation.
type Movement struct {
	InstrumentID string       `json:"instrument_id"`
	GroupKey     string       `json:"group_key"`
	Side         Side         `json:"side"`
	OldValue     float64      `json:"old_value"`
	NewValue     float64      `json:"new_value"`
	Delta        float64      `json:"delta"`
	ObservedAt   time.Time    `json:"observed_at"`
	Type         MovementType `json:"movement_type"`
	Significance Significance `json:"significance"`
}

// UrgencyLevel buckets an opportunity for alert-eligibility decisions.
type UrgencyLevel int

const (
	UrgencyLow UrgencyLevel = iota
	UrgencyMedium
	UrgencyHigh
	UrgencyCritical
)

func (u UrgencyLevel) String() string {
	switch u {
	case UrgencyCritical:
		return "CRITICAL"
	case UrgencyHigh:
		return "HIGH"
	case UrgencyMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ParseUrgency converts a stored string back into an UrgencyLevel.
func ParseUrgency(s string) UrgencyLevel {
	switch s {
	case "CRITICAL":
		return UrgencyCritical
	case "HIGH":
		return UrgencyHigh
	case "MEDIUM":
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// Opportunity is a scored, actionable candidate for notification. Instances
// are ephemeral in the active set; every dispatched instance is also written
// immutably to the durable store.
type Opportunity struct {
	ID                string       `json:"opportunity_id"`
	InstrumentID      string       `json:"instrument_id"`
	Side              Side         `json:"side"`
	CounterSide       Side         `json:"counter_side"`
	Value             float64      `json:"value"`
	PreviousValue     float64      `json:"previous_value"`
	GroupKey          string       `json:"group_key"`
	ScheduledAt       time.Time    `json:"scheduled_at"`
	DetectedAt        time.Time    `json:"detected_at"`
	RecommendedStake  float64      `json:"recommended_stake"`
	ConfidenceLabel   string       `json:"confidence_label"`
	EdgeEstimate      float64      `json:"edge_estimate"`
	Urgency           UrgencyLevel `json:"urgency_level"`
	PriorityScore     float64      `json:"priority_score"`
	TimeSensitivity   float64      `json:"time_sensitivity"`
	MovementDirection string       `json:"movement_direction"`
}

// Validate checks opportunity field constraints.
func (o *Opportunity) Validate() error {
	if o.ID == "" {
		return errors.New("opportunity ID must not be empty")
	}
	if o.InstrumentID == "" {
		return errors.New("instrument ID must not be empty")
	}
	if o.EdgeEstimate < 0 {
		return fmt.Errorf("edge estimate must not be negative, got %f", o.EdgeEstimate)
	}
	if o.RecommendedStake <= 0 {
		return fmt.Errorf("recommended stake must be positive, got %f", o.RecommendedStake)
	}
	if o.TimeSensitivity < 0 || o.TimeSensitivity > 1 {
		return fmt.Errorf("time sensitivity must be in [0,1], got %f", o.TimeSensitivity)
	}
	return nil
}

// PairKey identifies the (instrument, side) slot an opportunity occupies in
// the active set.
func (o *Opportunity) PairKey() string {
	return o.GroupKey + ":" + o.InstrumentID + ":" + string(o.Side)
}

// AlertRecord is the append-only audit entry for one dispatch attempt.
type AlertRecord struct {
	InstrumentID  string       `json:"instrument_id"`
	OpportunityID string       `json:"opportunity_id"`
	SentAt        time.Time    `json:"sent_at"`
	Outcome       string       `json:"outcome"` // success | failed
	AlertType     string       `json:"alert_type"`
	Priority      UrgencyLevel `json:"priority"`
}

// Outcome result values recorded by the settlement process.
const (
	ResultWin     = "win"
	ResultLoss    = "loss"
	ResultVoid    = "void"
	ResultPending = "pending"
)

// OutcomeRecord links a settled result back to the opportunity that triggered
// it. Retained indefinitely for performance aggregation.
type OutcomeRecord struct {
	OpportunityID string    `json:"opportunity_id"`
	InstrumentID  string    `json:"instrument_id"`
	Stake         float64   `json:"stake"`
	Result        string    `json:"result"`
	Profit        float64   `json:"profit"`
	RecordedAt    time.Time `json:"recorded_at"`
}

// Validate checks outcome record field constraints.
func (r *OutcomeRecord) Validate() error {
	if r.OpportunityID == "" {
		return errors.New("opportunity ID must not be empty")
	}
	switch r.Result {
	case ResultWin, ResultLoss, ResultVoid, ResultPending:
	default:
		return fmt.Errorf("unknown result %q", r.Result)
	}
	return nil
}

// BodySection is one (label, value) line of a formatted alert.
type BodySection struct {
	Label string
	Value string
}

// FormattedAlert is the structured payload handed to a Notifier. Rendering it
// into a human-readable message is the notifier's concern.
type FormattedAlert struct {
	Title    string
	Sections []BodySection
	Priority UrgencyLevel
}

// TargetRange is the configured price interval considered actionable.
type TargetRange struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

// Contains reports whether v lies inside the range (inclusive).
func (r TargetRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Width returns the size of the range.
func (r TargetRange) Width() float64 {
	return r.Max - r.Min
}

// Center returns the midpoint of the range.
func (r TargetRange) Center() float64 {
	return (r.Min + r.Max) / 2
}
