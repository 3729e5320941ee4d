package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is an immutable record of a single inventory change.
//
// The ID is client-generated (UUIDv7) and unique across the system; it is
// the idempotency key for submission. Events are never updated or deleted -
// a correction is a new event whose SourceEventID references the original.
type Event struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	ProductID string `json:"product_id"`

	// Quantity is the amount the event moves, removes, or states.
	// For convert events it is the consumed input; ToQuantity carries the
	// re-denominated output.
	Quantity   Quantity  `json:"quantity"`
	ToQuantity *Quantity `json:"to_quantity,omitempty"`

	FromLocation string `json:"from_location,omitempty"`
	ToLocation   string `json:"to_location,omitempty"`

	PerformedBy  string `json:"performed_by"`
	AuthorizedBy string `json:"authorized_by,omitempty"`
	WitnessedBy  string `json:"witnessed_by,omitempty"`

	Reason ReasonCode `json:"reason,omitempty"`

	// OccurredAt is claimed by the actor (possibly from a skewed device
	// clock). RecordedAt is assigned solely by the ledger on commit and
	// lives on Committed.
	OccurredAt time.Time `json:"occurred_at"`

	Lot    string     `json:"lot,omitempty"`
	Expiry *time.Time `json:"expiry,omitempty"`

	// SourceEventID references the event being corrected or compensated.
	// References form a DAG resolved through the ledger, never pointers.
	SourceEventID string `json:"source_event_id,omitempty"`

	// RequestID references the approval request this event fulfills.
	RequestID string `json:"request_id,omitempty"`

	// EmergencyOverride bypasses the two-person authority gate. Always
	// allowed through, always tagged for mandatory post-hoc review.
	EmergencyOverride bool `json:"emergency_override,omitempty"`

	Attachments []AttachmentRef `json:"attachments,omitempty"`

	Offline *OfflineContext `json:"offline,omitempty"`
}

// Committed is an event as accepted by the ledger. RecordedAt and CommitSeq
// appear only here: the append path is the sole writer of both fields.
type Committed struct {
	Event
	RecordedAt time.Time `json:"recorded_at"`
	CommitSeq  int64     `json:"commit_seq"`

	// Duplicate is true when the append was an idempotent no-op: the id
	// already existed and the original committed record was returned.
	Duplicate bool `json:"-"`
}

// AttachmentRef points at an opaque blob (barcode scan, photo, signature)
// held by the external attachment store. The core never sees the bytes.
type AttachmentRef struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	CapturedBy string    `json:"captured_by"`
	CapturedAt time.Time `json:"captured_at"`
}

// Scope selects a slice of the ledger. Zero fields are unbounded.
type Scope struct {
	ProductID  string
	LocationID string
	Lot        string
	DeviceID   string
}

// TimeRange bounds a query by RecordedAt. Zero bounds are unbounded.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// IDGenerator produces client event ids.
// Implemented by UUIDv7Generator (production) and the testutil fixed
// generator (tests).
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID creates a new UUIDv7 and returns it as a hyphenated string.
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// LocationsTouched returns the locations whose inventory this event can
// change, in from-then-to order with empties dropped.
func (e *Event) LocationsTouched() []string {
	var locs []string
	if e.FromLocation != "" {
		locs = append(locs, e.FromLocation)
	}
	if e.ToLocation != "" && e.ToLocation != e.FromLocation {
		locs = append(locs, e.ToLocation)
	}
	return locs
}
