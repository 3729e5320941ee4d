// Package ledger implements the append path of the event log.
//
// Append is the only writer of recorded_at and the global commit sequence.
// Commits are serialized per (product, location) key: validation and insert
// happen under the same key lock so the non-negative and conservation
// invariants are checked atomically with the write.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/store"
)

// Clock supplies commit timestamps. Wall clock in production, deterministic
// in tests and the scenario harness.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Validator runs the pre-commit invariant checks.
// Implemented by validate.Validator.
type Validator interface {
	Validate(ctx context.Context, ev event.Event) error
}

// Ledger is the durable, append-only, immutable event log.
type Ledger struct {
	store     *store.Store
	validator Validator
	clock     Clock
	locks     *keyLocks
}

// New creates a Ledger over the given store.
func New(s *store.Store, v Validator, clock Clock) *Ledger {
	return &Ledger{
		store:     s,
		validator: v,
		clock:     clock,
		locks:     newKeyLocks(),
	}
}

// Append validates and commits an event.
//
// Idempotent by client-generated id: resubmitting a committed id returns
// the original committed record with Duplicate=true, never an error and
// never a second commit. Validation failures return the typed rejection
// unchanged; the ledger is untouched (no partial effect).
func (l *Ledger) Append(ctx context.Context, ev event.Event) (event.Committed, error) {
	unlock := l.locks.lockAll(commitKeys(ev))
	defer unlock()

	// Resubmission short-circuits before validation: the original commit
	// already passed, and state may have legitimately moved since.
	if committed, err := l.store.GetEvent(ctx, ev.ID); err == nil {
		slog.Debug("duplicate submission", "id", ev.ID, "commit_seq", committed.CommitSeq)
		committed.Duplicate = true
		return committed, nil
	}

	if err := l.validator.Validate(ctx, ev); err != nil {
		return event.Committed{}, err
	}

	committed, err := l.store.AppendEvent(ctx, ev, l.clock.Now())
	if err != nil {
		return event.Committed{}, fmt.Errorf("ledger append: %w", err)
	}

	slog.Info("event committed",
		"id", committed.ID,
		"kind", committed.Kind,
		"product", committed.ProductID,
		"commit_seq", committed.CommitSeq,
		"emergency_override", committed.EmergencyOverride,
	)
	return committed, nil
}

// Get retrieves a committed event by id.
func (l *Ledger) Get(ctx context.Context, id string) (event.Committed, error) {
	return l.store.GetEvent(ctx, id)
}

// EventsFor returns committed events for a scope and time range, ordered by
// recorded_at then commit sequence. Restartable via afterSeq.
func (l *Ledger) EventsFor(ctx context.Context, scope event.Scope, tr event.TimeRange, afterSeq int64, limit int) ([]event.Committed, error) {
	return l.store.EventsFor(ctx, scope, tr, afterSeq, limit)
}

// commitKeys returns the (product, location) serialization keys an event
// touches. Events with no location still serialize on the product.
func commitKeys(ev event.Event) []string {
	locs := ev.LocationsTouched()
	if len(locs) == 0 {
		return []string{ev.ProductID}
	}
	keys := make([]string, 0, len(locs))
	for _, loc := range locs {
		keys = append(keys, ev.ProductID+"|"+loc)
	}
	return keys
}
