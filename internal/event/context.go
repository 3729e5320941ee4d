package event

import "time"

// OfflineContext travels with every event emitted by a disconnected client.
// It carries the per-device sequencing and the server state the device
// believed it was acting against.
type OfflineContext struct {
	DeviceID string `json:"device_id"`

	// Sequence is the per-device monotonic counter. Accepted sequences form
	// a contiguous run starting at 1 with no gaps and no reuse.
	Sequence int64 `json:"sequence"`

	// DeviceClock is the device's wall clock at emission. Informational
	// only - ordering authority is RecordedAt plus CommitSeq.
	DeviceClock time.Time `json:"device_clock"`

	// BaseStateHash is the canonical hash of the last server inventory
	// state the device observed. A mismatch at validation time is what
	// distinguishes a conflict from a hard lifecycle violation.
	BaseStateHash string `json:"base_state_hash,omitempty"`

	SyncStatus SyncStatus `json:"sync_status"`

	// Resolution records how a conflicted event was settled, if it was.
	Resolution *ConflictResolution `json:"resolution,omitempty"`
}

// ConflictResolution is the audit record attached to a conflicted event
// once a human settles it.
type ConflictResolution struct {
	Strategy   string    `json:"strategy"` // accept_server | force_local | escalate
	ResolvedBy string    `json:"resolved_by"`
	ResolvedAt time.Time `json:"resolved_at"`
	Note       string    `json:"note,omitempty"`

	// CompensatingEventID references the adjust event a force-local
	// resolution appended, if any.
	CompensatingEventID string `json:"compensating_event_id,omitempty"`

	// DisputeID references the dispute an escalation opened, if any.
	DisputeID string `json:"dispute_id,omitempty"`
}
