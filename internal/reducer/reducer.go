// Package reducer computes inventory state as a deterministic left fold
// over the event log.
//
// Inventory is never stored independently: every query folds events up to a
// bound, so point-in-time views come from merely bounding the fold. The
// fold is side-effect free and replaying the same sequence always yields
// the same state.
package reducer

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/fieldledger/internal/catalog"
	"github.com/roach88/fieldledger/internal/event"
)

// pageSize bounds each read from the source; the fold resumes from the last
// commit sequence so long scopes never need one giant query.
const pageSize = 500

// Source supplies committed events in (recorded_at, commit_seq) order.
// Implemented by store.Store.
type Source interface {
	EventsFor(ctx context.Context, scope event.Scope, tr event.TimeRange, afterSeq int64, limit int) ([]event.Committed, error)
}

// Reducer folds events into inventory state.
type Reducer struct {
	src Source
	cat *catalog.Snapshot
}

// New creates a Reducer over the given source and catalog snapshot.
// The catalog supplies unit conversions so all state is held in base units.
func New(src Source, cat *catalog.Snapshot) *Reducer {
	return &Reducer{src: src, cat: cat}
}

// InventoryAt folds all events in scope with recorded_at <= asOf and
// returns the resulting state. A zero asOf means "now" (unbounded).
func (r *Reducer) InventoryAt(ctx context.Context, scope event.Scope, tr event.TimeRange) (*State, error) {
	state := NewState(r.cat)

	var afterSeq int64
	for {
		page, err := r.src.EventsFor(ctx, scope, tr, afterSeq, pageSize)
		if err != nil {
			return nil, fmt.Errorf("inventory fold: %w", err)
		}
		for _, ev := range page {
			if err := state.Apply(ev.Event); err != nil {
				return nil, fmt.Errorf("inventory fold: event %s: %w", ev.ID, err)
			}
			afterSeq = ev.CommitSeq
		}
		if len(page) < pageSize {
			return state, nil
		}
	}
}

// Key identifies one inventory bucket. Held marks the quarantine bucket at
// a location, kept separate so quarantined stock never looks available.
type Key struct {
	LocationID string
	ProductID  string
	Lot        string
	Held       bool
}

// State is the folded inventory: base-unit quantities per bucket.
type State struct {
	cat        *catalog.Snapshot
	quantities map[Key]decimal.Decimal
}

// NewState returns an empty state bound to a catalog snapshot.
func NewState(cat *catalog.Snapshot) *State {
	return &State{cat: cat, quantities: make(map[Key]decimal.Decimal)}
}

// Clone returns an independent copy of the state. Device-local cached views
// use this to trial-apply downloads without mutating the baseline.
func (s *State) Clone() *State {
	c := NewState(s.cat)
	for k, v := range s.quantities {
		c.quantities[k] = v
	}
	return c
}

// Quantity returns the base-unit quantity at a bucket (zero if absent).
func (s *State) Quantity(key Key) event.Quantity {
	unit := ""
	if p, ok := s.cat.Product(key.ProductID); ok {
		unit = p.BaseUnit
	}
	return event.Quantity{Value: s.quantities[key], Unit: unit}
}

// Available returns the non-held base-unit quantity for a product at a
// location, summed across lots.
func (s *State) Available(locationID, productID string) event.Quantity {
	total := decimal.Zero
	for k, v := range s.quantities {
		if k.LocationID == locationID && k.ProductID == productID && !k.Held {
			total = total.Add(v)
		}
	}
	unit := ""
	if p, ok := s.cat.Product(productID); ok {
		unit = p.BaseUnit
	}
	return event.Quantity{Value: total, Unit: unit}
}

// BaseQuantity converts q to the product's base unit using the catalog
// bound to this state.
func (s *State) BaseQuantity(productID string, q event.Quantity) (event.Quantity, error) {
	v, err := s.toBase(productID, q)
	if err != nil {
		return event.Quantity{}, err
	}
	p, _ := s.cat.Product(productID)
	return event.Quantity{Value: v, Unit: p.BaseUnit}, nil
}

// Total returns the system-wide base-unit quantity for a product, held
// buckets included. Conservation checks compare this across time windows.
func (s *State) Total(productID string) decimal.Decimal {
	total := decimal.Zero
	for k, v := range s.quantities {
		if k.ProductID == productID {
			total = total.Add(v)
		}
	}
	return total
}

// Negative returns every bucket currently below zero.
func (s *State) Negative() []Key {
	var out []Key
	for k, v := range s.quantities {
		if v.IsNegative() {
			out = append(out, k)
		}
	}
	return out
}

// Entries renders the state as "product|location|lot[|held]" keys to
// decimal strings. This is the input to the canonical state hash; zero
// buckets are omitted so an empty bucket and an absent one hash alike.
func (s *State) Entries() map[string]string {
	entries := make(map[string]string, len(s.quantities))
	for k, v := range s.quantities {
		if v.IsZero() {
			continue
		}
		key := k.ProductID + "|" + k.LocationID + "|" + k.Lot
		if k.Held {
			key += "|held"
		}
		entries[key] = v.String()
	}
	return entries
}

// Hash returns the canonical state hash devices compare against.
func (s *State) Hash() (string, error) {
	return event.StateHash(s.Entries())
}

// Apply folds one event into the state. The switch over kinds is
// exhaustive; unknown kinds are an error, never a silent no-op.
func (s *State) Apply(ev event.Event) error {
	base, err := s.toBase(ev.ProductID, ev.Quantity)
	if err != nil {
		return err
	}

	switch ev.Kind {
	case event.KindReceive:
		s.add(Key{ev.ToLocation, ev.ProductID, ev.Lot, false}, base)

	case event.KindReturn:
		s.add(Key{ev.ToLocation, ev.ProductID, ev.Lot, false}, base)

	case event.KindIssue, event.KindConsume, event.KindDispose:
		s.add(Key{ev.FromLocation, ev.ProductID, ev.Lot, false}, base.Neg())

	case event.KindTransfer:
		s.add(Key{ev.FromLocation, ev.ProductID, ev.Lot, false}, base.Neg())
		s.add(Key{ev.ToLocation, ev.ProductID, ev.Lot, false}, base)

	case event.KindAdjust:
		// Quantity is a signed delta at the declared location.
		loc := ev.ToLocation
		if loc == "" {
			loc = ev.FromLocation
		}
		s.add(Key{loc, ev.ProductID, ev.Lot, false}, base)

	case event.KindConvert:
		if ev.ToQuantity == nil {
			return fmt.Errorf("convert event %s missing to_quantity", ev.ID)
		}
		outBase, err := s.toBase(ev.ProductID, *ev.ToQuantity)
		if err != nil {
			return err
		}
		from := ev.FromLocation
		to := ev.ToLocation
		if to == "" {
			to = from
		}
		s.add(Key{from, ev.ProductID, ev.Lot, false}, base.Neg())
		s.add(Key{to, ev.ProductID, ev.Lot, false}, outBase)

	case event.KindQuarantine:
		loc := ev.FromLocation
		held := ev.ToLocation
		if held == "" {
			held = loc
		}
		s.add(Key{loc, ev.ProductID, ev.Lot, false}, base.Neg())
		s.add(Key{held, ev.ProductID, ev.Lot, true}, base)

	case event.KindCount:
		// A count is an observation, not a quantity change. Variance
		// reconciliation emits separate adjust events or disputes.

	default:
		return fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	return nil
}

func (s *State) add(key Key, delta decimal.Decimal) {
	next := s.quantities[key].Add(delta)
	if next.IsZero() {
		delete(s.quantities, key)
		return
	}
	s.quantities[key] = next
}

func (s *State) toBase(productID string, q event.Quantity) (decimal.Decimal, error) {
	p, ok := s.cat.Product(productID)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("unknown product %q", productID)
	}
	base, ok := p.ToBase(q.Value, q.Unit)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("product %s has no conversion for unit %q", productID, q.Unit)
	}
	return base, nil
}
