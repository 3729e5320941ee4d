package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fieldledger/internal/dispute"
	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/notify"
	"github.com/roach88/fieldledger/internal/store"
)

// Appender commits compensating events. Implemented by ledger.Ledger.
type Appender interface {
	Append(ctx context.Context, ev event.Event) (event.Committed, error)
}

// Clock supplies resolution timestamps.
type Clock interface {
	Now() time.Time
}

// Resolver records detected conflicts and applies resolution strategies.
type Resolver struct {
	store    *store.Store
	ledger   Appender
	disputes *dispute.Manager
	notifier notify.Notifier
	ids      event.IDGenerator
	clock    Clock
}

// NewResolver creates a Resolver.
func NewResolver(s *store.Store, l Appender, d *dispute.Manager, n notify.Notifier, ids event.IDGenerator, clock Clock) *Resolver {
	return &Resolver{store: s, ledger: l, disputes: d, notifier: n, ids: ids, clock: clock}
}

// Record persists a newly detected conflict and emits the conflict-detected
// notification. The losing event is held as submitted; it was not
// committed and will not be unless a resolution applies it.
func (r *Resolver) Record(ctx context.Context, kind Kind, ev event.Event, detail map[string]string) (*Conflict, error) {
	now := r.clock.Now()
	c := &Conflict{
		ID:         r.ids.NewID(),
		Kind:       kind,
		Status:     StatusOpen,
		EventID:    ev.ID,
		Event:      ev,
		Detail:     detail,
		DetectedAt: now,
	}
	if ev.Offline != nil {
		c.DeviceID = ev.Offline.DeviceID
	}
	if err := r.save(ctx, c); err != nil {
		return nil, err
	}

	slog.Warn("conflict detected",
		"id", c.ID,
		"kind", c.Kind,
		"event", c.EventID,
		"device", c.DeviceID,
	)
	r.notifier.Notify(ctx, notify.Notification{
		Type:     notify.TypeConflictDetected,
		Subject:  c.ID,
		DeviceID: c.DeviceID,
		Detail:   detail,
		At:       now,
	})
	return c, nil
}

// Get loads a conflict by id.
func (r *Resolver) Get(ctx context.Context, id string) (*Conflict, error) {
	rec, err := r.store.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	var c Conflict
	if err := json.Unmarshal(rec.Payload, &c); err != nil {
		return nil, fmt.Errorf("unmarshal conflict %s: %w", id, err)
	}
	return &c, nil
}

// List returns conflicts, optionally filtered by status.
func (r *Resolver) List(ctx context.Context, status Status) ([]*Conflict, error) {
	recs, err := r.store.ListConflicts(ctx, string(status))
	if err != nil {
		return nil, err
	}
	out := make([]*Conflict, 0, len(recs))
	for _, rec := range recs {
		var c Conflict
		if err := json.Unmarshal(rec.Payload, &c); err != nil {
			return nil, fmt.Errorf("unmarshal conflict %s: %w", rec.ID, err)
		}
		out = append(out, &c)
	}
	return out, nil
}

// ResolveArgs carries a resolution decision.
type ResolveArgs struct {
	Strategy Strategy

	// ResolvedBy identifies the resolver; must differ from the event's
	// original performer.
	ResolvedBy string

	// AuthorizedBy authorizes a force-local compensating adjust.
	AuthorizedBy string

	Note string
}

// Resolve applies a resolution strategy to an open conflict and returns
// the updated record.
//
// accept_server discards the losing event (its terminal status stays
// conflicted-resolved with no stock change). force_local appends a
// compensating adjust with reason conflict_resolution, which requires an
// authorizer. escalate opens a dispute carrying the conflict's context.
func (r *Resolver) Resolve(ctx context.Context, id string, args ResolveArgs) (*Conflict, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != StatusOpen {
		return nil, fmt.Errorf("conflict %s already resolved", id)
	}
	if args.ResolvedBy == "" {
		return nil, fmt.Errorf("resolve conflict %s: resolver identity required", id)
	}
	if args.ResolvedBy == c.Event.PerformedBy {
		return nil, fmt.Errorf("resolve conflict %s: resolver must differ from original actor %s", id, c.Event.PerformedBy)
	}

	now := r.clock.Now()
	res := &event.ConflictResolution{
		Strategy:   string(args.Strategy),
		ResolvedBy: args.ResolvedBy,
		ResolvedAt: now,
		Note:       args.Note,
	}

	switch args.Strategy {
	case StrategyAcceptServer:
		// Server state stands; the losing event is discarded.

	case StrategyForceLocal:
		if args.AuthorizedBy == "" {
			return nil, fmt.Errorf("resolve conflict %s: force_local requires an authorizer", id)
		}
		comp, err := r.compensate(ctx, c, args, now)
		if err != nil {
			return nil, fmt.Errorf("resolve conflict %s: %w", id, err)
		}
		res.CompensatingEventID = comp.ID

	case StrategyEscalate:
		d, err := r.disputes.Open(ctx, dispute.OpenArgs{
			Source:          dispute.SourceConflict,
			OpenedBy:        args.ResolvedBy,
			RelatedEventIDs: []string{c.EventID},
			LocationID:      c.Event.FromLocation,
			ProductID:       c.Event.ProductID,
			Note:            "escalated from conflict " + c.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("resolve conflict %s: open dispute: %w", id, err)
		}
		res.DisputeID = d.ID

	default:
		return nil, fmt.Errorf("resolve conflict %s: unknown strategy %q", id, args.Strategy)
	}

	c.Status = StatusResolved
	c.Resolution = res
	if err := r.save(ctx, c); err != nil {
		return nil, err
	}

	slog.Info("conflict resolved",
		"id", c.ID,
		"strategy", args.Strategy,
		"resolved_by", args.ResolvedBy,
		"compensating_event", res.CompensatingEventID,
		"dispute", res.DisputeID,
	)
	return c, nil
}

// compensate appends the adjust that applies the losing event's intent.
// Source references in the ledger may only point at committed events, and
// the losing event never committed; the two-way audit link lives on the
// conflict record (EventID one way, CompensatingEventID the other).
func (r *Resolver) compensate(ctx context.Context, c *Conflict, args ResolveArgs, now time.Time) (event.Committed, error) {
	loc := c.Event.FromLocation
	if loc == "" {
		loc = c.Event.ToLocation
	}
	adj := event.Event{
		ID:           r.ids.NewID(),
		Kind:         event.KindAdjust,
		ProductID:    c.Event.ProductID,
		Quantity:     c.Event.Quantity.Neg(),
		FromLocation: loc,
		Lot:          c.Event.Lot,
		PerformedBy:  args.ResolvedBy,
		AuthorizedBy: args.AuthorizedBy,
		Reason:       event.ReasonConflictResolution,
		OccurredAt:   now,
	}
	return r.ledger.Append(ctx, adj)
}

func (r *Resolver) save(ctx context.Context, c *Conflict) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal conflict %s: %w", c.ID, err)
	}
	return r.store.SaveConflict(ctx, c.ID, c.EventID, string(c.Kind), string(c.Status), payload, r.clock.Now())
}
