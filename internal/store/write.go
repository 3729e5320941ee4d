package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/fieldledger/internal/event"
)

// AppendEvent commits an event, assigning recorded_at and the global commit
// sequence inside a single transaction.
//
// Idempotent by event id: if the id already exists the stored committed
// record is returned with Duplicate=true and nothing is written. The
// recorded_at actually stored is clamped to be monotonic non-decreasing at
// the ledger, regardless of submission order across devices.
func (s *Store) AppendEvent(ctx context.Context, ev event.Event, recordedAt time.Time) (event.Committed, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return event.Committed{}, fmt.Errorf("append event: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// Idempotency check: same id resubmitted returns the original commit.
	var existingPayload string
	var existingRecorded, existingSeq int64
	err = tx.QueryRowContext(ctx, `
		SELECT payload, recorded_at, commit_seq FROM events WHERE id = ?
	`, ev.ID).Scan(&existingPayload, &existingRecorded, &existingSeq)
	if err == nil {
		stored, uerr := unmarshalEvent(existingPayload)
		if uerr != nil {
			return event.Committed{}, uerr
		}
		return event.Committed{
			Event:      stored,
			RecordedAt: time.Unix(0, existingRecorded).UTC(),
			CommitSeq:  existingSeq,
			Duplicate:  true,
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return event.Committed{}, fmt.Errorf("append event: check existing: %w", err)
	}

	// Assign commit sequence and a monotonic non-decreasing recorded_at.
	var maxSeq, maxRecorded int64
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(commit_seq), 0), COALESCE(MAX(recorded_at), 0) FROM events
	`).Scan(&maxSeq, &maxRecorded)
	if err != nil {
		return event.Committed{}, fmt.Errorf("append event: read high water: %w", err)
	}

	recorded := recordedAt.UTC()
	if ns := recorded.UnixNano(); ns < maxRecorded {
		recorded = time.Unix(0, maxRecorded).UTC()
	}

	payload, err := marshalEvent(ev)
	if err != nil {
		return event.Committed{}, err
	}

	deviceID := ""
	var deviceSeq int64
	if ev.Offline != nil {
		deviceID = ev.Offline.DeviceID
		deviceSeq = ev.Offline.Sequence
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events
		(id, kind, product_id, from_location, to_location, lot,
		 device_id, device_seq, occurred_at, recorded_at, commit_seq, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID,
		string(ev.Kind),
		ev.ProductID,
		ev.FromLocation,
		ev.ToLocation,
		ev.Lot,
		deviceID,
		deviceSeq,
		ev.OccurredAt.UTC().UnixNano(),
		recorded.UnixNano(),
		maxSeq+1,
		payload,
	)
	if err != nil {
		return event.Committed{}, fmt.Errorf("append event: insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return event.Committed{}, fmt.Errorf("append event: commit: %w", err)
	}

	return event.Committed{
		Event:      ev,
		RecordedAt: recorded,
		CommitSeq:  maxSeq + 1,
	}, nil
}

// UpsertDevice registers a device or updates its trust status.
func (s *Store) UpsertDevice(ctx context.Context, id, status string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (id, status, last_seq, registered_at, updated_at)
		VALUES (?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
	`, id, status, now.UnixNano(), now.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", id, err)
	}
	return nil
}

// AdvanceDeviceSeq moves a device's accepted sequence from `from` to `to`.
// Optimistic: fails if the stored cursor is no longer `from`, so concurrent
// advancement cannot skip or reuse a sequence number.
func (s *Store) AdvanceDeviceSeq(ctx context.Context, id string, from, to int64, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE devices SET last_seq = ?, updated_at = ? WHERE id = ? AND last_seq = ?
	`, to, now.UnixNano(), id, from)
	if err != nil {
		return fmt.Errorf("advance device %s seq: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance device %s seq: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("advance device %s seq: cursor moved (expected %d)", id, from)
	}
	return nil
}

// QuarantineEvent holds an event for manager review. Quarantined events are
// not committed and never enter the reducer's fold, but they are never
// discarded either. Idempotent by event id.
func (s *Store) QuarantineEvent(ctx context.Context, ev event.Event, reason string, now time.Time) error {
	payload, err := marshalEvent(ev)
	if err != nil {
		return err
	}

	deviceID := ""
	var deviceSeq int64
	if ev.Offline != nil {
		deviceID = ev.Offline.DeviceID
		deviceSeq = ev.Offline.Sequence
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quarantined_events (event_id, device_id, device_seq, reason, payload, held_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, ev.ID, deviceID, deviceSeq, reason, payload, now.UnixNano())
	if err != nil {
		return fmt.Errorf("quarantine event %s: %w", ev.ID, err)
	}
	return nil
}

// ReleaseQuarantined marks a quarantined event as handled by review.
func (s *Store) ReleaseQuarantined(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE quarantined_events SET released = 1 WHERE event_id = ?
	`, eventID)
	if err != nil {
		return fmt.Errorf("release quarantined %s: %w", eventID, err)
	}
	return nil
}

// SetWatermark records the last commit sequence a device has acknowledged.
func (s *Store) SetWatermark(ctx context.Context, deviceID string, lastCommitSeq int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO device_watermarks (device_id, last_commit_seq, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			last_commit_seq = excluded.last_commit_seq,
			updated_at = excluded.updated_at
	`, deviceID, lastCommitSeq, now.UnixNano())
	if err != nil {
		return fmt.Errorf("set watermark for %s: %w", deviceID, err)
	}
	return nil
}

// SaveRecord upserts an opaque JSON record (request, dispute, or conflict
// payload) into the named table. The owning package controls the payload
// shape; the store indexes only id and status.
func (s *Store) saveRecord(ctx context.Context, table, id, status string, payload []byte, now time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, status, payload, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`, table)
	if _, err := s.db.ExecContext(ctx, query, id, status, string(payload), now.UnixNano()); err != nil {
		return fmt.Errorf("save %s %s: %w", table, id, err)
	}
	return nil
}

// SaveRequest upserts a request record.
func (s *Store) SaveRequest(ctx context.Context, id, status string, payload []byte, now time.Time) error {
	return s.saveRecord(ctx, "requests", id, status, payload, now)
}

// SaveDispute upserts a dispute record.
func (s *Store) SaveDispute(ctx context.Context, id, status string, payload []byte, now time.Time) error {
	return s.saveRecord(ctx, "disputes", id, status, payload, now)
}

// SaveConflict upserts a conflict record.
func (s *Store) SaveConflict(ctx context.Context, id, eventID, kind, status string, payload []byte, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conflicts (id, event_id, kind, status, payload, detected_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			resolved_at = CASE WHEN excluded.status = 'resolved'
				THEN excluded.detected_at ELSE conflicts.resolved_at END
	`, id, eventID, kind, status, string(payload), now.UnixNano())
	if err != nil {
		return fmt.Errorf("save conflict %s: %w", id, err)
	}
	return nil
}
