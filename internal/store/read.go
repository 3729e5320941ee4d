package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/fieldledger/internal/event"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// GetEvent retrieves a committed event by id.
// Returns ErrNotFound if no event with that id was ever committed.
func (s *Store) GetEvent(ctx context.Context, id string) (event.Committed, error) {
	var payload string
	var recorded, seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, recorded_at, commit_seq FROM events WHERE id = ?
	`, id).Scan(&payload, &recorded, &seq)
	if errors.Is(err, sql.ErrNoRows) {
		return event.Committed{}, fmt.Errorf("event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return event.Committed{}, fmt.Errorf("get event %s: %w", id, err)
	}

	ev, err := unmarshalEvent(payload)
	if err != nil {
		return event.Committed{}, err
	}
	return event.Committed{
		Event:      ev,
		RecordedAt: time.Unix(0, recorded).UTC(),
		CommitSeq:  seq,
	}, nil
}

// EventsFor returns committed events matching the scope and time range,
// ordered by recorded_at then commit sequence.
//
// The sequence is restartable: pass the last seen commit_seq as afterSeq to
// resume, and bound page size with limit (0 = no limit).
func (s *Store) EventsFor(ctx context.Context, scope event.Scope, tr event.TimeRange, afterSeq int64, limit int) ([]event.Committed, error) {
	var conds []string
	var args []any

	conds = append(conds, "commit_seq > ?")
	args = append(args, afterSeq)

	if scope.ProductID != "" {
		conds = append(conds, "product_id = ?")
		args = append(args, scope.ProductID)
	}
	if scope.LocationID != "" {
		conds = append(conds, "(from_location = ? OR to_location = ?)")
		args = append(args, scope.LocationID, scope.LocationID)
	}
	if scope.Lot != "" {
		conds = append(conds, "lot = ?")
		args = append(args, scope.Lot)
	}
	if scope.DeviceID != "" {
		conds = append(conds, "device_id = ?")
		args = append(args, scope.DeviceID)
	}
	if !tr.From.IsZero() {
		conds = append(conds, "recorded_at >= ?")
		args = append(args, tr.From.UTC().UnixNano())
	}
	if !tr.To.IsZero() {
		conds = append(conds, "recorded_at <= ?")
		args = append(args, tr.To.UTC().UnixNano())
	}

	query := `
		SELECT payload, recorded_at, commit_seq FROM events
		WHERE ` + strings.Join(conds, " AND ") + `
		ORDER BY recorded_at ASC, commit_seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	return s.queryEvents(ctx, query, args...)
}

// EventsAfter returns committed events with commit_seq beyond the watermark,
// excluding a device's own uploads. This backs incremental download.
func (s *Store) EventsAfter(ctx context.Context, afterSeq int64, excludeDevice string, limit int) ([]event.Committed, error) {
	query := `
		SELECT payload, recorded_at, commit_seq FROM events
		WHERE commit_seq > ? AND device_id != ?
		ORDER BY recorded_at ASC, commit_seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryEvents(ctx, query, afterSeq, excludeDevice)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]event.Committed, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []event.Committed
	for rows.Next() {
		var payload string
		var recorded, seq int64
		if err := rows.Scan(&payload, &recorded, &seq); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev, err := unmarshalEvent(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, event.Committed{
			Event:      ev,
			RecordedAt: time.Unix(0, recorded).UTC(),
			CommitSeq:  seq,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	if out == nil {
		out = []event.Committed{}
	}
	return out, nil
}

// DeviceRecord is a device row: trust status plus sequence cursor.
type DeviceRecord struct {
	ID           string
	Status       string
	LastSeq      int64
	RegisteredAt time.Time
	UpdatedAt    time.Time
}

// GetDevice retrieves a device record. Returns ErrNotFound for unknown ids.
func (s *Store) GetDevice(ctx context.Context, id string) (DeviceRecord, error) {
	var rec DeviceRecord
	var registered, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, status, last_seq, registered_at, updated_at FROM devices WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Status, &rec.LastSeq, &registered, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return DeviceRecord{}, fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return DeviceRecord{}, fmt.Errorf("get device %s: %w", id, err)
	}
	rec.RegisteredAt = time.Unix(0, registered).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return rec, nil
}

// ListDevices returns all device records ordered by id.
func (s *Store) ListDevices(ctx context.Context) ([]DeviceRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, last_seq, registered_at, updated_at FROM devices ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	defer rows.Close()

	var out []DeviceRecord
	for rows.Next() {
		var rec DeviceRecord
		var registered, updated int64
		if err := rows.Scan(&rec.ID, &rec.Status, &rec.LastSeq, &registered, &updated); err != nil {
			return nil, fmt.Errorf("scan device: %w", err)
		}
		rec.RegisteredAt = time.Unix(0, registered).UTC()
		rec.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate devices: %w", err)
	}
	if out == nil {
		out = []DeviceRecord{}
	}
	return out, nil
}

// Watermark returns the last commit sequence a device acknowledged.
// Unknown devices start at 0.
func (s *Store) Watermark(ctx context.Context, deviceID string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_commit_seq FROM device_watermarks WHERE device_id = ?
	`, deviceID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("watermark for %s: %w", deviceID, err)
	}
	return seq, nil
}

// QuarantinedEvent is a held event awaiting manager review.
type QuarantinedEvent struct {
	Event    event.Event
	DeviceID string
	Reason   string
	HeldAt   time.Time
	Released bool
}

// ListQuarantined returns quarantined events, optionally filtered by device,
// ordered by hold time.
func (s *Store) ListQuarantined(ctx context.Context, deviceID string) ([]QuarantinedEvent, error) {
	query := `
		SELECT payload, device_id, reason, held_at, released FROM quarantined_events`
	var args []any
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY held_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list quarantined: %w", err)
	}
	defer rows.Close()

	var out []QuarantinedEvent
	for rows.Next() {
		var q QuarantinedEvent
		var payload string
		var heldAt int64
		var released int
		if err := rows.Scan(&payload, &q.DeviceID, &q.Reason, &heldAt, &released); err != nil {
			return nil, fmt.Errorf("scan quarantined: %w", err)
		}
		ev, err := unmarshalEvent(payload)
		if err != nil {
			return nil, err
		}
		q.Event = ev
		q.HeldAt = time.Unix(0, heldAt).UTC()
		q.Released = released != 0
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quarantined: %w", err)
	}
	if out == nil {
		out = []QuarantinedEvent{}
	}
	return out, nil
}

// Record is an opaque JSON payload row (request, dispute, or conflict).
type Record struct {
	ID      string
	Status  string
	Payload []byte
}

func (s *Store) getRecord(ctx context.Context, table, id string) (Record, error) {
	var rec Record
	var payload string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, status, payload FROM %s WHERE id = ?`, table), id,
	).Scan(&rec.ID, &rec.Status, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("%s %s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s %s: %w", table, id, err)
	}
	rec.Payload = []byte(payload)
	return rec, nil
}

func (s *Store) listRecords(ctx context.Context, table, status string) ([]Record, error) {
	query := fmt.Sprintf(`SELECT id, status, payload FROM %s`, table)
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", table, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var payload string
		if err := rows.Scan(&rec.ID, &rec.Status, &payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		rec.Payload = []byte(payload)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}

// GetRequest retrieves a request record by id.
func (s *Store) GetRequest(ctx context.Context, id string) (Record, error) {
	return s.getRecord(ctx, "requests", id)
}

// ListRequests returns request records, optionally filtered by status.
func (s *Store) ListRequests(ctx context.Context, status string) ([]Record, error) {
	return s.listRecords(ctx, "requests", status)
}

// GetDispute retrieves a dispute record by id.
func (s *Store) GetDispute(ctx context.Context, id string) (Record, error) {
	return s.getRecord(ctx, "disputes", id)
}

// ListDisputes returns dispute records, optionally filtered by status.
func (s *Store) ListDisputes(ctx context.Context, status string) ([]Record, error) {
	return s.listRecords(ctx, "disputes", status)
}

// GetConflict retrieves a conflict record by id.
func (s *Store) GetConflict(ctx context.Context, id string) (Record, error) {
	return s.getRecord(ctx, "conflicts", id)
}

// ListConflicts returns conflict records, optionally filtered by status.
func (s *Store) ListConflicts(ctx context.Context, status string) ([]Record, error) {
	return s.listRecords(ctx, "conflicts", status)
}
