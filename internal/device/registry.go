// Package device tracks per-device sequencing and trust status.
//
// Each device owns a monotonic sequence counter; accepted sequences form a
// contiguous run starting at 1 with no gaps and no reuse. The registry is
// the single owner of the cursor state - callers hold a *Registry handle,
// never ambient globals.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/store"
)

// TrustStatus is a device's standing with the registry.
type TrustStatus string

const (
	TrustActive    TrustStatus = "active"
	TrustSuspended TrustStatus = "suspended"
	TrustRevoked   TrustStatus = "revoked"
)

// Valid reports whether s is a known trust status.
func (s TrustStatus) Valid() bool {
	switch s {
	case TrustActive, TrustSuspended, TrustRevoked:
		return true
	}
	return false
}

// SequenceErrorCode categorizes sequencing failures.
type SequenceErrorCode string

const (
	// ErrCodeDuplicateOrReplay indicates a sequence at or below the
	// accepted cursor: either an idempotent resend or a replay.
	ErrCodeDuplicateOrReplay SequenceErrorCode = "DUPLICATE_OR_REPLAY"

	// ErrCodeSequenceGap indicates a sequence beyond last+1. The event is
	// quarantined until the missing run arrives or a manager reviews it.
	ErrCodeSequenceGap SequenceErrorCode = "SEQUENCE_GAP"

	// ErrCodeDeviceRevoked indicates a revoked or suspended device. Its
	// events are quarantined for manager review, not rejected outright.
	ErrCodeDeviceRevoked SequenceErrorCode = "DEVICE_REVOKED"

	// ErrCodeUnknownDevice indicates a device the registry never saw.
	ErrCodeUnknownDevice SequenceErrorCode = "UNKNOWN_DEVICE"
)

// SequenceError is a typed sequencing failure.
type SequenceError struct {
	Code     SequenceErrorCode
	DeviceID string
	Got      int64
	Want     int64
}

// Error implements the error interface.
func (e *SequenceError) Error() string {
	switch e.Code {
	case ErrCodeDuplicateOrReplay, ErrCodeSequenceGap:
		return fmt.Sprintf("%s: device %s sent sequence %d, expected %d", e.Code, e.DeviceID, e.Got, e.Want)
	default:
		return fmt.Sprintf("%s: device %s", e.Code, e.DeviceID)
	}
}

// AsSequenceError unwraps err into a *SequenceError if it is one.
func AsSequenceError(err error) (*SequenceError, bool) {
	var se *SequenceError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// Quarantining reports whether the failure holds the event for review
// rather than rejecting it.
func (e *SequenceError) Quarantining() bool {
	return e.Code == ErrCodeSequenceGap || e.Code == ErrCodeDeviceRevoked
}

// Clock supplies registry timestamps.
type Clock interface {
	Now() time.Time
}

// Registry issues and validates per-device sequence numbers and tracks
// trust status.
type Registry struct {
	store *store.Store
	clock Clock
}

// NewRegistry creates a Registry over the given store.
func NewRegistry(s *store.Store, clock Clock) *Registry {
	return &Registry{store: s, clock: clock}
}

// Register adds a device in active standing. Re-registering an existing
// device resets nothing; status changes go through SetStatus.
func (r *Registry) Register(ctx context.Context, deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("register device: empty id")
	}
	if _, err := r.store.GetDevice(ctx, deviceID); err == nil {
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("register device %s: %w", deviceID, err)
	}
	if err := r.store.UpsertDevice(ctx, deviceID, string(TrustActive), r.clock.Now()); err != nil {
		return err
	}
	slog.Info("device registered", "device", deviceID)
	return nil
}

// SetStatus changes a device's trust status.
func (r *Registry) SetStatus(ctx context.Context, deviceID string, status TrustStatus) error {
	if !status.Valid() {
		return fmt.Errorf("set status for %s: unknown trust status %q", deviceID, status)
	}
	if _, err := r.store.GetDevice(ctx, deviceID); err != nil {
		return err
	}
	if err := r.store.UpsertDevice(ctx, deviceID, string(status), r.clock.Now()); err != nil {
		return err
	}
	slog.Info("device status changed", "device", deviceID, "status", status)
	return nil
}

// Get returns the device record.
func (r *Registry) Get(ctx context.Context, deviceID string) (store.DeviceRecord, error) {
	return r.store.GetDevice(ctx, deviceID)
}

// List returns all device records.
func (r *Registry) List(ctx context.Context) ([]store.DeviceRecord, error) {
	return r.store.ListDevices(ctx)
}

// Validate checks an event's offline context against the device's cursor
// and trust status. nil means the sequence is exactly last+1 on a trusted
// device and the event may proceed to the ledger.
func (r *Registry) Validate(ctx context.Context, octx *event.OfflineContext) error {
	if octx == nil {
		return nil // online submission, no device sequencing
	}

	rec, err := r.store.GetDevice(ctx, octx.DeviceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &SequenceError{Code: ErrCodeUnknownDevice, DeviceID: octx.DeviceID}
		}
		return err
	}

	if TrustStatus(rec.Status) != TrustActive {
		return &SequenceError{Code: ErrCodeDeviceRevoked, DeviceID: octx.DeviceID}
	}

	want := rec.LastSeq + 1
	switch {
	case octx.Sequence == want:
		return nil
	case octx.Sequence <= rec.LastSeq:
		return &SequenceError{Code: ErrCodeDuplicateOrReplay, DeviceID: octx.DeviceID, Got: octx.Sequence, Want: want}
	default:
		return &SequenceError{Code: ErrCodeSequenceGap, DeviceID: octx.DeviceID, Got: octx.Sequence, Want: want}
	}
}

// Accept advances the device cursor after a successful ledger commit.
// Optimistic against concurrent advancement: the cursor must still be at
// sequence-1.
func (r *Registry) Accept(ctx context.Context, deviceID string, sequence int64) error {
	return r.store.AdvanceDeviceSeq(ctx, deviceID, sequence-1, sequence, r.clock.Now())
}

// Quarantine holds an event for manager review. Quarantined events never
// enter the reducer's fold and are never discarded.
func (r *Registry) Quarantine(ctx context.Context, ev event.Event, reason string) error {
	if err := r.store.QuarantineEvent(ctx, ev, reason, r.clock.Now()); err != nil {
		return err
	}
	slog.Warn("event quarantined", "id", ev.ID, "reason", reason)
	return nil
}

// Quarantined lists held events, optionally for one device.
func (r *Registry) Quarantined(ctx context.Context, deviceID string) ([]store.QuarantinedEvent, error) {
	return r.store.ListQuarantined(ctx, deviceID)
}

// Release marks a quarantined event as handled by manager review.
func (r *Registry) Release(ctx context.Context, eventID string) error {
	return r.store.ReleaseQuarantined(ctx, eventID)
}
