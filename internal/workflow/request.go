// Package workflow runs the multi-step request state machine that gates
// controlled inventory actions behind approval, fulfillment, pickup, and
// acknowledgment steps.
package workflow

import (
	"time"

	"github.com/roach88/fieldledger/internal/event"
)

// Type is the kind of intent a request carries.
type Type string

const (
	TypeTransfer   Type = "transfer"
	TypeAdjustment Type = "adjustment"
	TypeDisposal   Type = "disposal"
	TypeOrder      Type = "order"
)

// Valid reports whether t is a known request type.
func (t Type) Valid() bool {
	switch t {
	case TypeTransfer, TypeAdjustment, TypeDisposal, TypeOrder:
		return true
	}
	return false
}

// Status is a request's position in its lifecycle.
type Status string

const (
	StatusDraft           Status = "draft"
	StatusPendingApproval Status = "pending_approval"

	// StatusApproved means the approval step passed and the request is
	// waiting on fulfillment.
	StatusApproved          Status = "approved"
	StatusPartiallyApproved Status = "partially_approved"

	StatusReadyForPickup        Status = "ready_for_pickup"
	StatusPendingAcknowledgment Status = "pending_acknowledgment"

	// StatusCompleted means every enabled step has passed; the request is
	// eligible for execution.
	StatusCompleted Status = "completed"

	// StatusExecuted means the request's events are committed to the
	// ledger. A request never regresses from here.
	StatusExecuted Status = "executed"

	StatusDenied    Status = "denied"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusDenied, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Step is one of the ordered workflow steps.
type Step string

const (
	StepApproval       Step = "approval"
	StepFulfillment    Step = "fulfillment"
	StepPickup         Step = "pickup"
	StepAcknowledgment Step = "acknowledgment"
)

// stepOrder fixes the step sequence. Disabled steps are skipped, never
// reordered.
var stepOrder = []Step{StepApproval, StepFulfillment, StepPickup, StepAcknowledgment}

// Decision records the outcome of one approval chain step.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionPartial  Decision = "partial"
	DecisionDenied   Decision = "denied"
)

// ChainStep is one entry in a request's ordered approval chain.
type ChainStep struct {
	// RequiredRole gates who may decide this step; RequiredPerson, when
	// set, pins it to a specific person.
	RequiredRole   string `json:"required_role"`
	RequiredPerson string `json:"required_person,omitempty"`

	Decision  Decision  `json:"decision"`
	DecidedBy string    `json:"decided_by,omitempty"`
	DecidedAt time.Time `json:"decided_at,omitzero"`
	Reason    string    `json:"reason,omitempty"`

	// EmergencyOverride marks a decision taken under override, flagged
	// for post-hoc review.
	EmergencyOverride bool `json:"emergency_override,omitempty"`
}

// LineItem is one product movement a request asks for.
type LineItem struct {
	ProductID    string         `json:"product_id"`
	Quantity     event.Quantity `json:"quantity"`
	FromLocation string         `json:"from_location,omitempty"`
	ToLocation   string         `json:"to_location,omitempty"`
	Lot          string         `json:"lot,omitempty"`

	// Approved is set by a partial approval; a fully approved request
	// leaves it true on every line.
	Approved bool `json:"approved"`
}

// Request is a pending intent moving through the workflow.
type Request struct {
	ID     string `json:"id"`
	Type   Type   `json:"type"`
	Status Status `json:"status"`

	InitiatedBy string `json:"initiated_by"`

	// Recipient is the technician who performs pickup and acknowledgment.
	Recipient string `json:"recipient,omitempty"`

	Items []LineItem  `json:"items"`
	Chain []ChainStep `json:"chain"`

	// StepIndex points at the chain step currently awaiting a decision.
	StepIndex int `json:"step_index"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// ApprovedAt is the timestamp of the final approval decision, used to
	// arbitrate approval-versus-cancellation races.
	ApprovedAt time.Time `json:"approved_at,omitzero"`

	DenialReason string `json:"denial_reason,omitempty"`

	// ProducedEventIDs lists the ledger events execution committed. Set
	// exactly once, when the request reaches executed.
	ProducedEventIDs []string `json:"produced_event_ids,omitempty"`
}

// pendingStatus maps each step to the status that awaits it.
func pendingStatus(step Step) Status {
	switch step {
	case StepApproval:
		return StatusPendingApproval
	case StepFulfillment:
		return StatusApproved
	case StepPickup:
		return StatusReadyForPickup
	case StepAcknowledgment:
		return StatusPendingAcknowledgment
	}
	return StatusCompleted
}

// awaitingStep maps a non-terminal status back to the step it waits on.
func awaitingStep(s Status) (Step, bool) {
	switch s {
	case StatusPendingApproval:
		return StepApproval, true
	case StatusApproved, StatusPartiallyApproved:
		return StepFulfillment, true
	case StatusReadyForPickup:
		return StepPickup, true
	case StatusPendingAcknowledgment:
		return StepAcknowledgment, true
	}
	return "", false
}
