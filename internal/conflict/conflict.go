// Package conflict detects and resolves concurrent incompatible events.
//
// A conflict is not a failure of intent: the device acted in good faith on
// stale state. Conflicts never auto-resolve into a merged inventory number;
// resolution requires an explicit resolver distinct from the original actor
// and always produces an audit record.
package conflict

import (
	"time"

	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/validate"
)

// Kind classifies a conflict.
type Kind string

const (
	// KindInsufficientInventory: concurrent issues exceeded availability.
	// First-committed wins; the loser is held here.
	KindInsufficientInventory Kind = "insufficient_inventory"
)

// Strategy is a resolution choice.
type Strategy string

const (
	// StrategyAcceptServer discards the losing event.
	StrategyAcceptServer Strategy = "accept_server"

	// StrategyForceLocal applies the losing event's intent through a
	// compensating adjust. Requires authorization.
	StrategyForceLocal Strategy = "force_local"

	// StrategyEscalate hands the conflict to a dispute.
	StrategyEscalate Strategy = "escalate"
)

// Status is a conflict's lifecycle state.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Conflict is a detected incompatibility held for human resolution.
type Conflict struct {
	ID      string `json:"id"`
	Kind    Kind   `json:"kind"`
	Status  Status `json:"status"`
	EventID string `json:"event_id"`

	// Event is the losing event as submitted; it was never committed.
	Event event.Event `json:"event"`

	DeviceID string `json:"device_id,omitempty"`

	// Detail carries available-vs-requested context from the rejection.
	Detail map[string]string `json:"detail,omitempty"`

	DetectedAt time.Time `json:"detected_at"`

	Resolution *event.ConflictResolution `json:"resolution,omitempty"`
}

// Classify decides whether a rejection is a conflict rather than a hard
// failure. A conflict needs three things: a state-dependent rejection, an
// offline context, and a base state hash that no longer matches the
// server's - meaning the device decided on state that has since moved.
//
// Hard lifecycle violations (decommissioned location, recalled product)
// are never conflicts: they require resubmission, not human merging.
func Classify(r *validate.Rejection, ev event.Event, serverHash string) (Kind, bool) {
	if !r.StateDependent() {
		return "", false
	}
	if ev.Offline == nil || ev.Offline.BaseStateHash == "" {
		return "", false
	}
	if ev.Offline.BaseStateHash == serverHash {
		// The device acted on current state; the rejection stands on its
		// own and a human cannot resolve it away.
		return "", false
	}
	return KindInsufficientInventory, true
}
