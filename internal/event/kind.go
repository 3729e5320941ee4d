package event

import "fmt"

// Kind is the closed set of inventory event kinds.
//
// The Reducer and Validator both switch exhaustively over Kind; adding a
// kind is a compile-time exercise in both places.
type Kind string

const (
	KindReceive    Kind = "receive"
	KindTransfer   Kind = "transfer"
	KindIssue      Kind = "issue"
	KindReturn     Kind = "return"
	KindConsume    Kind = "consume"
	KindAdjust     Kind = "adjust"
	KindConvert    Kind = "convert"
	KindQuarantine Kind = "quarantine"
	KindDispose    Kind = "dispose"
	KindCount      Kind = "count"
)

// Kinds lists all event kinds in declaration order.
var Kinds = []Kind{
	KindReceive,
	KindTransfer,
	KindIssue,
	KindReturn,
	KindConsume,
	KindAdjust,
	KindConvert,
	KindQuarantine,
	KindDispose,
	KindCount,
}

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	switch k {
	case KindReceive, KindTransfer, KindIssue, KindReturn, KindConsume,
		KindAdjust, KindConvert, KindQuarantine, KindDispose, KindCount:
		return true
	}
	return false
}

// Outbound reports whether the kind removes quantity from FromLocation.
func (k Kind) Outbound() bool {
	switch k {
	case KindIssue, KindConsume, KindDispose, KindTransfer, KindConvert, KindQuarantine:
		return true
	}
	return false
}

// Inbound reports whether the kind adds quantity at ToLocation.
func (k Kind) Inbound() bool {
	switch k {
	case KindReceive, KindReturn, KindTransfer, KindConvert, KindQuarantine:
		return true
	}
	return false
}

// ParseKind converts a string to a Kind, rejecting unknown values.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

// ReasonCode explains why an event was emitted.
// A small set of codes carries special validator/resolver semantics.
type ReasonCode string

const (
	// ReasonCorrection marks an adjust that is allowed to drive a quantity
	// transiently negative while a correction sequence is in flight.
	ReasonCorrection ReasonCode = "correction"

	// ReasonConflictResolution marks a compensating adjust produced by
	// force-local conflict resolution. Requires an authorizer.
	ReasonConflictResolution ReasonCode = "conflict_resolution"

	// ReasonCountVariance marks an adjust produced by count reconciliation
	// within the auto-adjust threshold.
	ReasonCountVariance ReasonCode = "count_variance"

	ReasonDamaged  ReasonCode = "damaged"
	ReasonExpired  ReasonCode = "expired"
	ReasonFieldUse ReasonCode = "field_use"
	ReasonRestock  ReasonCode = "restock"
)

// SyncStatus is the terminal (or pending) status of a device-queued event.
// Every submitted event reaches exactly one terminal status; nothing is
// silently dropped.
type SyncStatus string

const (
	SyncPending     SyncStatus = "pending"
	SyncSynced      SyncStatus = "synced"
	SyncConflicted  SyncStatus = "conflicted"
	SyncFailed      SyncStatus = "failed"
	SyncQuarantined SyncStatus = "quarantined"
)

// Terminal reports whether the status is terminal for the queued event.
func (s SyncStatus) Terminal() bool {
	return s != SyncPending
}
