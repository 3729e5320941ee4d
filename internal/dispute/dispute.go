// Package dispute tracks investigations into inventory discrepancies.
//
// Disputes come from unresolved conflicts, count variances above the
// configured threshold, or manual filing. A dispute can only reach
// resolved with a complete, explicit resolution attached.
package dispute

import (
	"time"

	"github.com/roach88/fieldledger/internal/event"
)

// Status is a dispute's lifecycle state.
type Status string

const (
	StatusOpen          Status = "open"
	StatusInvestigating Status = "investigating"
	StatusResolved      Status = "resolved"

	// StatusEscalated loops back to investigating after management review.
	StatusEscalated Status = "escalated"
)

// Source records what raised the dispute.
type Source string

const (
	SourceConflict      Source = "conflict"
	SourceCountVariance Source = "count_variance"
	SourceRevokedDevice Source = "revoked_device"
	SourceManual        Source = "manual"
)

// Outcome is the terminal disposition of a dispute.
type Outcome string

const (
	// OutcomeReconciled: the discrepancy was explained; no stock change.
	OutcomeReconciled Outcome = "reconciled"

	// OutcomeCorrected: corrective events restate the true quantities.
	// Requires at least one corrective event.
	OutcomeCorrected Outcome = "corrected"

	// OutcomeWriteOff: stock is written off. Requires an amount and an
	// authorizer.
	OutcomeWriteOff Outcome = "write_off"
)

// Resolution is the explicit terminal record a resolved dispute carries.
type Resolution struct {
	Outcome            Outcome         `json:"outcome"`
	Notes              string          `json:"notes,omitempty"`
	CorrectiveEventIDs []string        `json:"corrective_event_ids,omitempty"`
	WriteOffAmount     *event.Quantity `json:"write_off_amount,omitempty"`
	AuthorizedBy       string          `json:"authorized_by,omitempty"`
	ResolvedBy         string          `json:"resolved_by"`
	ResolvedAt         time.Time       `json:"resolved_at"`
}

// Note is one investigation note.
type Note struct {
	Author string    `json:"author"`
	Text   string    `json:"text"`
	At     time.Time `json:"at"`
}

// Dispute is a tracked discrepancy investigation.
type Dispute struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	Source Source `json:"source"`

	RelatedEventIDs []string `json:"related_event_ids,omitempty"`
	LocationID      string   `json:"location_id,omitempty"`
	ProductID       string   `json:"product_id,omitempty"`

	Expected *event.Quantity `json:"expected,omitempty"`
	Actual   *event.Quantity `json:"actual,omitempty"`

	Notes []Note `json:"notes,omitempty"`

	OpenedBy string    `json:"opened_by"`
	OpenedAt time.Time `json:"opened_at"`

	// Resolution is non-nil if and only if Status is resolved.
	Resolution *Resolution `json:"resolution,omitempty"`
}
