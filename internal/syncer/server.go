// Package syncer runs the per-device sync protocol: sequenced uploads
// through validation and the ledger, watermark-based downloads, and the
// outcome classification every submitted event must reach.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/fieldledger/internal/config"
	"github.com/roach88/fieldledger/internal/conflict"
	"github.com/roach88/fieldledger/internal/device"
	"github.com/roach88/fieldledger/internal/dispute"
	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/ledger"
	"github.com/roach88/fieldledger/internal/notify"
	"github.com/roach88/fieldledger/internal/reducer"
	"github.com/roach88/fieldledger/internal/store"
	"github.com/roach88/fieldledger/internal/validate"
)

// Outcome is the terminal classification of a submitted event. Every
// submission reaches exactly one outcome; nothing is silently dropped.
type Outcome string

const (
	OutcomeAccepted    Outcome = "accepted"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeConflict    Outcome = "conflict"
	OutcomeRejected    Outcome = "rejected"
	OutcomeQuarantined Outcome = "quarantined"
)

// Result is the server's answer to one submitted event.
type Result struct {
	Outcome Outcome

	// Committed is set for accepted and duplicate outcomes.
	Committed event.Committed

	// Rejection is set for rejected outcomes caused by validation.
	Rejection *validate.Rejection

	// Conflict is set for conflict outcomes.
	Conflict *conflict.Conflict

	// SequenceError is set for quarantined outcomes and sequencing
	// rejections.
	SequenceError *device.SequenceError
}

// Clock supplies watermark timestamps.
type Clock interface {
	Now() time.Time
}

// Server is the ledger-side sync endpoint.
type Server struct {
	store    *store.Store
	ledger   *ledger.Ledger
	registry *device.Registry
	resolver *conflict.Resolver
	disputes *dispute.Manager
	red      *reducer.Reducer
	variance config.VarianceConfig
	ids      event.IDGenerator
	notifier notify.Notifier
	clock    Clock

	mu       sync.Mutex
	disputed map[string]string // device id -> custody dispute id
}

// NewServer wires the sync endpoint.
func NewServer(s *store.Store, l *ledger.Ledger, reg *device.Registry, res *conflict.Resolver, d *dispute.Manager, red *reducer.Reducer, vcfg config.VarianceConfig, ids event.IDGenerator, n notify.Notifier, clock Clock) *Server {
	return &Server{
		store:    s,
		ledger:   l,
		registry: reg,
		resolver: res,
		disputes: d,
		red:      red,
		variance: vcfg,
		ids:      ids,
		notifier: n,
		clock:    clock,
		disputed: make(map[string]string),
	}
}

// Submit runs one event through sequencing, validation, and the ledger,
// and classifies the outcome. The returned error is reserved for
// internal failures; protocol-level failures land in the Result.
func (s *Server) Submit(ctx context.Context, ev event.Event) (Result, error) {
	if err := s.registry.Validate(ctx, ev.Offline); err != nil {
		return s.sequenceFailure(ctx, ev, err)
	}

	committed, err := s.ledger.Append(ctx, ev)
	if err != nil {
		rej, ok := validate.AsRejection(err)
		if !ok {
			return Result{}, fmt.Errorf("submit %s: %w", ev.ID, err)
		}
		// The sequence is consumed on receipt, commit or not, so the
		// device's run stays gap-free.
		if err := s.acceptSequence(ctx, ev); err != nil {
			return Result{}, err
		}
		if kind, ok := s.classify(ctx, rej, ev); ok {
			c, err := s.resolver.Record(ctx, kind, ev, rej.Details)
			if err != nil {
				return Result{}, fmt.Errorf("submit %s: record conflict: %w", ev.ID, err)
			}
			return Result{Outcome: OutcomeConflict, Conflict: c, Rejection: rej}, nil
		}
		slog.Info("event rejected", "id", ev.ID, "code", rej.Code)
		return Result{Outcome: OutcomeRejected, Rejection: rej}, nil
	}

	if err := s.acceptSequence(ctx, ev); err != nil {
		return Result{}, err
	}
	if committed.Duplicate {
		return Result{Outcome: OutcomeDuplicate, Committed: committed}, nil
	}
	if ev.EmergencyOverride {
		s.notifier.Notify(ctx, notify.Notification{
			Type:    notify.TypeEmergencyOverridePending,
			Subject: ev.ID,
			At:      s.clock.Now(),
		})
	}
	if ev.Kind == event.KindCount {
		if err := s.reconcileCount(ctx, ev); err != nil {
			return Result{}, err
		}
	}
	return Result{Outcome: OutcomeAccepted, Committed: committed}, nil
}

// Fetch returns committed events past the device's watermark, excluding
// the device's own uploads, oldest first, at most limit.
func (s *Server) Fetch(ctx context.Context, deviceID string, limit int) ([]event.Committed, error) {
	wm, err := s.store.Watermark(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	return s.store.EventsAfter(ctx, wm, deviceID, limit)
}

// Ack advances the device's download watermark after it has applied
// everything up to lastSeq.
func (s *Server) Ack(ctx context.Context, deviceID string, lastSeq int64) error {
	return s.store.SetWatermark(ctx, deviceID, lastSeq, s.clock.Now())
}

// sequenceFailure handles a registry rejection: quarantining codes hold
// the event for review, a replayed sequence resolves idempotently when
// the event is already committed, and the rest reject.
func (s *Server) sequenceFailure(ctx context.Context, ev event.Event, err error) (Result, error) {
	se, ok := device.AsSequenceError(err)
	if !ok {
		return Result{}, fmt.Errorf("submit %s: %w", ev.ID, err)
	}

	if se.Quarantining() {
		if err := s.registry.Quarantine(ctx, ev, string(se.Code)); err != nil {
			return Result{}, fmt.Errorf("submit %s: quarantine: %w", ev.ID, err)
		}
		slog.Warn("event quarantined", "id", ev.ID, "device", se.DeviceID, "code", se.Code)
		s.notifier.Notify(ctx, notify.Notification{
			Type:     notify.TypeQuarantinePendingReview,
			Subject:  ev.ID,
			DeviceID: se.DeviceID,
			At:       s.clock.Now(),
		})
		if se.Code == device.ErrCodeDeviceRevoked {
			if err := s.disputeCustody(ctx, se.DeviceID, ev); err != nil {
				return Result{}, err
			}
		}
		return Result{Outcome: OutcomeQuarantined, SequenceError: se}, nil
	}

	if se.Code == device.ErrCodeDuplicateOrReplay {
		committed, err := s.store.GetEvent(ctx, ev.ID)
		if err == nil {
			committed.Duplicate = true
			return Result{Outcome: OutcomeDuplicate, Committed: committed}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Result{}, fmt.Errorf("submit %s: %w", ev.ID, err)
		}
		// Reused sequence with a different event id: a true replay.
	}
	return Result{Outcome: OutcomeRejected, SequenceError: se}, nil
}

// classify decides conflict versus hard rejection by comparing the
// device's base state hash against the server's current state hash.
func (s *Server) classify(ctx context.Context, rej *validate.Rejection, ev event.Event) (conflict.Kind, bool) {
	if !rej.StateDependent() || ev.Offline == nil {
		return "", false
	}
	state, err := s.red.InventoryAt(ctx, event.Scope{}, event.TimeRange{})
	if err != nil {
		slog.Error("state hash for conflict classification", "error", err)
		return "", false
	}
	hash, err := state.Hash()
	if err != nil {
		slog.Error("state hash for conflict classification", "error", err)
		return "", false
	}
	return conflict.Classify(rej, ev, hash)
}

// disputeCustody opens one custody dispute per revoked device, covering
// whatever inventory the device's quarantined events touch.
func (s *Server) disputeCustody(ctx context.Context, deviceID string, ev event.Event) error {
	s.mu.Lock()
	_, already := s.disputed[deviceID]
	s.mu.Unlock()
	if already {
		return nil
	}
	d, err := s.disputes.Open(ctx, dispute.OpenArgs{
		Source:          dispute.SourceRevokedDevice,
		OpenedBy:        "system",
		RelatedEventIDs: []string{ev.ID},
		LocationID:      ev.FromLocation,
		ProductID:       ev.ProductID,
		Note:            "inventory in custody of revoked device " + deviceID,
	})
	if err != nil {
		return fmt.Errorf("open custody dispute for device %s: %w", deviceID, err)
	}
	s.mu.Lock()
	s.disputed[deviceID] = d.ID
	s.mu.Unlock()
	return nil
}

// reconcileCount compares a committed count observation against the
// computed quantity for its bucket and applies the variance policy:
// variances within the auto-adjust threshold produce a compensating
// adjust with reason count_variance, anything larger opens a dispute.
func (s *Server) reconcileCount(ctx context.Context, count event.Event) error {
	scope := event.Scope{ProductID: count.ProductID, LocationID: count.FromLocation, Lot: count.Lot}
	state, err := s.red.InventoryAt(ctx, scope, event.TimeRange{})
	if err != nil {
		return fmt.Errorf("reconcile count %s: %w", count.ID, err)
	}
	key := reducer.Key{LocationID: count.FromLocation, ProductID: count.ProductID, Lot: count.Lot}
	computed := state.Quantity(key)
	counted, err := state.BaseQuantity(count.ProductID, count.Quantity)
	if err != nil {
		return fmt.Errorf("reconcile count %s: %w", count.ID, err)
	}
	delta := counted.Value.Sub(computed.Value)
	if delta.IsZero() {
		return nil
	}

	// Variance as a fraction of the computed quantity. A count against
	// an empty or negative book quantity is never auto-adjusted.
	if computed.Value.IsPositive() {
		fraction := delta.Abs().Div(computed.Value)
		if !fraction.GreaterThan(s.variance.AutoAdjustBelow) {
			return s.varianceAdjust(ctx, count, computed, counted)
		}
	}
	return s.varianceDispute(ctx, count, computed, counted)
}

// varianceAdjust commits the compensating adjust for a small count
// variance. If the adjust itself fails validation the variance goes to
// a dispute instead.
func (s *Server) varianceAdjust(ctx context.Context, count event.Event, computed, counted event.Quantity) error {
	delta := counted.Value.Sub(computed.Value)
	adj := event.Event{
		ID:            s.ids.NewID(),
		Kind:          event.KindAdjust,
		ProductID:     count.ProductID,
		Quantity:      event.Quantity{Value: delta, Unit: counted.Unit},
		ToLocation:    count.FromLocation,
		Lot:           count.Lot,
		PerformedBy:   count.PerformedBy,
		Reason:        event.ReasonCountVariance,
		OccurredAt:    s.clock.Now(),
		SourceEventID: count.ID,
	}
	if _, err := s.ledger.Append(ctx, adj); err != nil {
		if _, ok := validate.AsRejection(err); ok {
			slog.Warn("count variance adjust rejected", "count", count.ID, "error", err)
			return s.varianceDispute(ctx, count, computed, counted)
		}
		return fmt.Errorf("count variance adjust for %s: %w", count.ID, err)
	}
	slog.Info("count variance adjusted", "count", count.ID, "delta", delta.String())
	return nil
}

// varianceDispute opens a count-variance dispute carrying the expected
// versus counted quantities.
func (s *Server) varianceDispute(ctx context.Context, count event.Event, computed, counted event.Quantity) error {
	note := fmt.Sprintf("count %s disagrees with computed quantity %s", count.ID, computed)
	if computed.Value.IsPositive() {
		fraction := counted.Value.Sub(computed.Value).Abs().Div(computed.Value)
		if fraction.GreaterThan(s.variance.DisputeAbove) {
			note = fmt.Sprintf("count %s variance above dispute threshold: computed %s", count.ID, computed)
		}
	}
	d, err := s.disputes.Open(ctx, dispute.OpenArgs{
		Source:          dispute.SourceCountVariance,
		OpenedBy:        "system",
		RelatedEventIDs: []string{count.ID},
		LocationID:      count.FromLocation,
		ProductID:       count.ProductID,
		Expected:        &computed,
		Actual:          &counted,
		Note:            note,
	})
	if err != nil {
		return fmt.Errorf("open variance dispute for count %s: %w", count.ID, err)
	}
	slog.Info("count variance disputed", "count", count.ID, "dispute", d.ID)
	return nil
}

func (s *Server) acceptSequence(ctx context.Context, ev event.Event) error {
	if ev.Offline == nil {
		return nil
	}
	if err := s.registry.Accept(ctx, ev.Offline.DeviceID, ev.Offline.Sequence); err != nil {
		return fmt.Errorf("advance device %s to %d: %w", ev.Offline.DeviceID, ev.Offline.Sequence, err)
	}
	return nil
}
