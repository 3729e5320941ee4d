// Package notify is the outbound notification boundary.
//
// The core emits typed notifications; an external dispatcher owns delivery.
// Delivery failure is not the core's concern, so Notify has no error
// return - the default dispatcher just logs.
package notify

import (
	"context"
	"log/slog"
	"time"
)

// Type is the notification kind an external dispatcher routes on.
type Type string

const (
	TypeConflictDetected         Type = "conflict_detected"
	TypeEmergencyOverridePending Type = "emergency_override_pending"
	TypeDisputeEscalated         Type = "dispute_escalated"
	TypeQuarantinePendingReview  Type = "quarantine_pending_review"
	TypeSyncFailed               Type = "sync_failed"
)

// Notification is one typed outbound message.
type Notification struct {
	Type Type

	// Subject is the id of the event, conflict, or dispute concerned.
	Subject string

	DeviceID string
	Detail   map[string]string
	At       time.Time
}

// Notifier delivers notifications to the external dispatcher.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the structured log. It stands in
// wherever no real dispatcher is wired (CLI, tests, scenarios).
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, n Notification) {
	slog.Info("notification",
		"type", n.Type,
		"subject", n.Subject,
		"device", n.DeviceID,
		"detail", n.Detail,
	)
}

// Func adapts a function to the Notifier interface. Tests use this to
// capture emissions.
type Func func(ctx context.Context, n Notification)

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, n Notification) { f(ctx, n) }
