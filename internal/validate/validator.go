// Package validate runs the pre-commit invariant checks.
//
// Checks run in a fixed order and short-circuit on first failure: temporal
// ordering, non-negativity, location consistency, conversion balance,
// lifecycle gates, authority gates. Failures return a typed *Rejection; the
// validator never silently coerces an event.
package validate

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/fieldledger/internal/catalog"
	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/reducer"
	"github.com/roach88/fieldledger/internal/store"
)

// EventGetter resolves source-event references through the ledger.
type EventGetter interface {
	GetEvent(ctx context.Context, id string) (event.Committed, error)
}

// Validator checks candidate events against the reducer's current view.
type Validator struct {
	events  EventGetter
	red     *reducer.Reducer
	cat     *catalog.Snapshot
	epsilon decimal.Decimal
}

// New creates a Validator. epsilon bounds the base-unit imbalance a convert
// event may carry (configurable policy, see config.ConversionEpsilon).
func New(events EventGetter, red *reducer.Reducer, cat *catalog.Snapshot, epsilon decimal.Decimal) *Validator {
	return &Validator{events: events, red: red, cat: cat, epsilon: epsilon}
}

// Validate runs all checks in order against the candidate event.
// Returns nil on success, a *Rejection on a validation failure, or a
// wrapped infrastructure error if state could not be read.
func (v *Validator) Validate(ctx context.Context, ev event.Event) error {
	if r := v.checkShape(ev); r != nil {
		return r
	}
	if err := v.checkTemporalOrder(ctx, ev); err != nil {
		return err
	}
	if err := v.checkNonNegative(ctx, ev); err != nil {
		return err
	}
	if r := v.checkLocations(ev); r != nil {
		return r
	}
	if r := v.checkConversionBalance(ev); r != nil {
		return r
	}
	if r := v.checkProductLifecycle(ev); r != nil {
		return r
	}
	if r := v.checkAuthority(ev); r != nil {
		return r
	}
	return nil
}

// checkShape rejects structurally invalid events before touching state.
func (v *Validator) checkShape(ev event.Event) *Rejection {
	if ev.ID == "" {
		return reject(CodeMalformed, "", "event id is required")
	}
	if !ev.Kind.Valid() {
		return reject(CodeMalformed, ev.ID, "unknown event kind %q", ev.Kind)
	}
	if ev.PerformedBy == "" {
		return reject(CodeMalformed, ev.ID, "performed_by is required")
	}
	if _, ok := v.cat.Product(ev.ProductID); !ok {
		return reject(CodeUnknownReference, ev.ID, "unknown product %q", ev.ProductID)
	}
	if _, ok := v.cat.Person(ev.PerformedBy); !ok {
		return reject(CodeUnknownReference, ev.ID, "unknown person %q", ev.PerformedBy)
	}
	for _, loc := range ev.LocationsTouched() {
		if _, ok := v.cat.Location(loc); !ok {
			return reject(CodeUnknownReference, ev.ID, "unknown location %q", loc)
		}
	}

	// Adjust deltas are signed; every other kind moves a positive amount.
	if ev.Kind != event.KindAdjust && !ev.Quantity.IsPositive() {
		return reject(CodeMalformed, ev.ID, "quantity must be positive, got %s", ev.Quantity)
	}

	switch ev.Kind {
	case event.KindReceive, event.KindReturn:
		if ev.ToLocation == "" {
			return reject(CodeMalformed, ev.ID, "%s requires to_location", ev.Kind)
		}
	case event.KindIssue, event.KindConsume, event.KindDispose, event.KindQuarantine, event.KindCount:
		if ev.FromLocation == "" {
			return reject(CodeMalformed, ev.ID, "%s requires from_location", ev.Kind)
		}
	case event.KindTransfer:
		if ev.FromLocation == "" || ev.ToLocation == "" {
			return reject(CodeMalformed, ev.ID, "transfer requires from_location and to_location")
		}
		if ev.FromLocation == ev.ToLocation {
			return reject(CodeMalformed, ev.ID, "transfer from and to locations are identical")
		}
	case event.KindConvert:
		if ev.FromLocation == "" {
			return reject(CodeMalformed, ev.ID, "convert requires from_location")
		}
		if ev.ToQuantity == nil {
			return reject(CodeMalformed, ev.ID, "convert requires to_quantity")
		}
	case event.KindAdjust:
		if ev.FromLocation == "" && ev.ToLocation == "" {
			return reject(CodeMalformed, ev.ID, "adjust requires a location")
		}
	}
	return nil
}

// checkTemporalOrder enforces occurred_at >= the source event's occurred_at
// for corrections and compensations.
func (v *Validator) checkTemporalOrder(ctx context.Context, ev event.Event) error {
	if ev.SourceEventID == "" {
		return nil
	}
	src, err := v.events.GetEvent(ctx, ev.SourceEventID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return reject(CodeUnknownReference, ev.ID, "source event %q not found", ev.SourceEventID)
		}
		return fmt.Errorf("resolve source event: %w", err)
	}
	if ev.OccurredAt.Before(src.OccurredAt) {
		return reject(CodeTemporalOrder, ev.ID,
			"occurred_at %s precedes source event %s occurred_at %s",
			ev.OccurredAt.Format("2006-01-02T15:04:05Z07:00"),
			src.ID,
			src.OccurredAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return nil
}

// checkNonNegative applies the candidate to the current reducer output and
// rejects if any touched bucket goes negative. Adjusts carrying reason
// correction or conflict_resolution are exempt: a correction may pass
// through a transient negative mid-sequence, and a force-local compensating
// adjust records stock that physically left even when the book cannot
// cover it.
func (v *Validator) checkNonNegative(ctx context.Context, ev event.Event) error {
	if ev.Kind == event.KindAdjust &&
		(ev.Reason == event.ReasonCorrection || ev.Reason == event.ReasonConflictResolution) {
		return nil
	}
	if ev.Kind == event.KindCount {
		return nil
	}

	state, err := v.red.InventoryAt(ctx, event.Scope{ProductID: ev.ProductID}, event.TimeRange{})
	if err != nil {
		return fmt.Errorf("reduce current state: %w", err)
	}

	trial := state.Clone()
	if err := trial.Apply(ev); err != nil {
		return reject(CodeMalformed, ev.ID, "%v", err)
	}

	for _, key := range trial.Negative() {
		available := state.Available(key.LocationID, key.ProductID)
		r := reject(CodeInsufficientQuantity, ev.ID,
			"insufficient quantity of %s at %s: available %s, requested %s",
			key.ProductID, key.LocationID, available, ev.Quantity)
		r.Details = map[string]string{
			"product":   key.ProductID,
			"location":  key.LocationID,
			"available": available.Value.String(),
			"requested": ev.Quantity.Value.String(),
		}
		return r
	}
	return nil
}

// checkLocations gates the destination: it must be active and accept the
// product for any inbound event.
func (v *Validator) checkLocations(ev event.Event) *Rejection {
	if !ev.Kind.Inbound() || ev.ToLocation == "" {
		return nil
	}
	loc, ok := v.cat.Location(ev.ToLocation)
	if !ok {
		return reject(CodeUnknownReference, ev.ID, "unknown location %q", ev.ToLocation)
	}
	if loc.Status != catalog.LocationActive {
		return reject(CodeLocationInactive, ev.ID,
			"location %s is %s and blocks inbound events", loc.ID, loc.Status)
	}
	if !loc.Accepts(ev.ProductID) {
		return reject(CodeLocationRejectsProduct, ev.ID,
			"location %s does not accept product %s", loc.ID, ev.ProductID)
	}
	return nil
}

// checkConversionBalance requires convert events to preserve total quantity
// in base units within epsilon.
func (v *Validator) checkConversionBalance(ev event.Event) *Rejection {
	if ev.Kind != event.KindConvert {
		return nil
	}
	p, _ := v.cat.Product(ev.ProductID)

	inBase, ok := p.ToBase(ev.Quantity.Value, ev.Quantity.Unit)
	if !ok {
		return reject(CodeConversionUnbalanced, ev.ID,
			"product %s has no conversion for unit %q", ev.ProductID, ev.Quantity.Unit)
	}
	outBase, ok := p.ToBase(ev.ToQuantity.Value, ev.ToQuantity.Unit)
	if !ok {
		return reject(CodeConversionUnbalanced, ev.ID,
			"product %s has no conversion for unit %q", ev.ProductID, ev.ToQuantity.Unit)
	}

	if inBase.Sub(outBase).Abs().GreaterThan(v.epsilon) {
		r := reject(CodeConversionUnbalanced, ev.ID,
			"convert does not balance: %s -> %s (%s vs %s %s)",
			ev.Quantity, ev.ToQuantity, inBase, outBase, p.BaseUnit)
		r.Details = map[string]string{
			"in_base":  inBase.String(),
			"out_base": outBase.String(),
			"epsilon":  v.epsilon.String(),
		}
		return r
	}
	return nil
}

// checkProductLifecycle blocks issue-type events for products that are not
// active.
func (v *Validator) checkProductLifecycle(ev event.Event) *Rejection {
	p, _ := v.cat.Product(ev.ProductID)
	if p.Status == catalog.ProductActive {
		return nil
	}
	switch ev.Kind {
	case event.KindIssue, event.KindTransfer, event.KindConvert:
		return reject(CodeProductLifecycle, ev.ID,
			"product %s is %s and blocks %s events", p.ID, p.Status, ev.Kind)
	}
	// Dispose, return, quarantine, adjust, and count remain allowed so
	// recalled or expired stock can still be drained and audited.
	return nil
}

// checkAuthority enforces certification on restricted-use products and the
// two-person rule on controlled actions. An explicit emergency override is
// always allowed through; the caller tags it for mandatory post-hoc review.
func (v *Validator) checkAuthority(ev event.Event) *Rejection {
	p, _ := v.cat.Product(ev.ProductID)
	performer, _ := v.cat.Person(ev.PerformedBy)

	if p.RestrictedUse && ev.Kind == event.KindIssue {
		if !performer.CertifiedAt(ev.OccurredAt) {
			return reject(CodeCertificationRequired, ev.ID,
				"product %s is restricted-use and %s holds no valid certification", p.ID, performer.ID)
		}
	}

	if p.Controlled && controlledKind(ev.Kind) {
		if ev.EmergencyOverride {
			return nil
		}
		if ev.AuthorizedBy == "" {
			return reject(CodeAuthorityRequired, ev.ID,
				"controlled action %s on %s requires an authorizer", ev.Kind, p.ID)
		}
		if ev.AuthorizedBy == ev.PerformedBy {
			return reject(CodeAuthorityRequired, ev.ID,
				"controlled action authorizer must differ from performer (%s)", ev.PerformedBy)
		}
		if _, ok := v.cat.Person(ev.AuthorizedBy); !ok {
			return reject(CodeUnknownReference, ev.ID, "unknown authorizer %q", ev.AuthorizedBy)
		}
	}
	return nil
}

// controlledKind lists the kinds that count as controlled actions when the
// product is flagged controlled.
func controlledKind(k event.Kind) bool {
	switch k {
	case event.KindIssue, event.KindDispose, event.KindAdjust:
		return true
	}
	return false
}
