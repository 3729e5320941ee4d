// Package store provides durable storage for the fieldledger event log and
// its supporting records.
//
// Uses SQLite with WAL mode for concurrent read access. Event rows are
// immutable and keyed by client-generated event id, with secondary indices
// on (product, location, recorded_at) and (device, sequence). The append
// path assigns recorded_at and the global commit sequence inside a single
// transaction; ON CONFLICT handling makes submission idempotent by id.
//
// Requests, disputes, and conflict records are persisted as opaque JSON
// payloads owned by their packages; the store indexes only id and status.
package store
