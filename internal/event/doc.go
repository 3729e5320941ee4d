// Package event provides the canonical event types for the fieldledger core.
//
// This package contains type definitions and canonical serialization only.
// All other internal packages import event; event imports nothing internal.
// This keeps the event model the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - Quantities are decimal values with an explicit unit, never bare numbers
//   - Events are immutable; a correction is a new event referencing the original
//   - RecordedAt and CommitSeq exist only on Committed - the ledger is the
//     sole writer of those fields
//   - State hashes use canonical JSON (sorted keys, NFC strings, no floats)
//     so every device computes the same hash for the same state
package event
