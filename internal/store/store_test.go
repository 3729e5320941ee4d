package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldledger/internal/event"
)

var t0 = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEvent(id string) event.Event {
	return event.Event{
		ID: id, Kind: event.KindReceive, ProductID: "prod-x",
		Quantity: event.QtyInt(10, "unit"), ToLocation: "loc-a",
		PerformedBy: "tech-1", OccurredAt: t0,
	}
}

func TestOpen_IdempotentOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.AppendEvent(context.Background(), testEvent("e1"), t0)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	// Reopening applies the schema again without clobbering data.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.GetEvent(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, int64(1), got.CommitSeq)
}

func TestAppendEvent_AssignsSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c1, err := s.AppendEvent(ctx, testEvent("e1"), t0)
	require.NoError(t, err)
	c2, err := s.AppendEvent(ctx, testEvent("e2"), t0.Add(time.Second))
	require.NoError(t, err)

	assert.Equal(t, int64(1), c1.CommitSeq)
	assert.Equal(t, int64(2), c2.CommitSeq)
}

func TestAppendEvent_DuplicateID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.AppendEvent(ctx, testEvent("e1"), t0)
	require.NoError(t, err)

	// Same id, later timestamp: original commit returned unchanged.
	again, err := s.AppendEvent(ctx, testEvent("e1"), t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Equal(t, first.CommitSeq, again.CommitSeq)
	assert.Equal(t, first.RecordedAt, again.RecordedAt)
}

func TestAppendEvent_RecordedAtMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c1, err := s.AppendEvent(ctx, testEvent("e1"), t0)
	require.NoError(t, err)

	// A backdated submission is clamped to the ledger high water mark.
	c2, err := s.AppendEvent(ctx, testEvent("e2"), t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, c1.RecordedAt, c2.RecordedAt)
}

func TestGetEvent_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetEvent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventsFor_ScopeAndPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, ev := range []event.Event{
		{ID: "e1", Kind: event.KindReceive, ProductID: "prod-x", Quantity: event.QtyInt(10, "unit"), ToLocation: "loc-a", PerformedBy: "tech-1", OccurredAt: t0},
		{ID: "e2", Kind: event.KindReceive, ProductID: "prod-y", Quantity: event.QtyInt(5, "unit"), ToLocation: "loc-a", PerformedBy: "tech-1", OccurredAt: t0},
		{ID: "e3", Kind: event.KindTransfer, ProductID: "prod-x", Quantity: event.QtyInt(3, "unit"), FromLocation: "loc-a", ToLocation: "loc-b", PerformedBy: "tech-1", OccurredAt: t0},
	} {
		_, err := s.AppendEvent(ctx, ev, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	xs, err := s.EventsFor(ctx, event.Scope{ProductID: "prod-x"}, event.TimeRange{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, xs, 2)
	assert.Equal(t, "e1", xs[0].ID)
	assert.Equal(t, "e3", xs[1].ID)

	// Location scope matches either endpoint of a transfer.
	atB, err := s.EventsFor(ctx, event.Scope{LocationID: "loc-b"}, event.TimeRange{}, 0, 0)
	require.NoError(t, err)
	require.Len(t, atB, 1)
	assert.Equal(t, "e3", atB[0].ID)

	// Resume from the last seen commit sequence.
	rest, err := s.EventsFor(ctx, event.Scope{}, event.TimeRange{}, xs[0].CommitSeq, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, "e2", rest[0].ID)
}

func TestEventsAfter_ExcludesOwnDevice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mine := testEvent("e1")
	mine.Offline = &event.OfflineContext{DeviceID: "dev-1", Sequence: 1}
	_, err := s.AppendEvent(ctx, mine, t0)
	require.NoError(t, err)

	theirs := testEvent("e2")
	theirs.Offline = &event.OfflineContext{DeviceID: "dev-2", Sequence: 1}
	_, err = s.AppendEvent(ctx, theirs, t0.Add(time.Second))
	require.NoError(t, err)

	got, err := s.EventsAfter(ctx, 0, "dev-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID)
}

func TestDevices_RegisterAndAdvance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDevice(ctx, "dev-1", "active", t0))
	rec, err := s.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.LastSeq)

	require.NoError(t, s.AdvanceDeviceSeq(ctx, "dev-1", 0, 1, t0))
	rec, err = s.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.LastSeq)

	// Stale cursor: a second advance from 0 must fail, not reuse seq 1.
	err = s.AdvanceDeviceSeq(ctx, "dev-1", 0, 1, t0)
	assert.ErrorContains(t, err, "cursor moved")
}

func TestDevices_UpsertKeepsCursor(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertDevice(ctx, "dev-1", "active", t0))
	require.NoError(t, s.AdvanceDeviceSeq(ctx, "dev-1", 0, 3, t0))

	// Status changes must not reset the sequence cursor.
	require.NoError(t, s.UpsertDevice(ctx, "dev-1", "revoked", t0.Add(time.Second)))
	rec, err := s.GetDevice(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "revoked", rec.Status)
	assert.Equal(t, int64(3), rec.LastSeq)
}

func TestWatermark_DefaultsToZero(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seq, err := s.Watermark(ctx, "dev-unknown")
	require.NoError(t, err)
	assert.Equal(t, int64(0), seq)

	require.NoError(t, s.SetWatermark(ctx, "dev-1", 42, t0))
	seq, err = s.Watermark(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
}

func TestQuarantine_HoldAndRelease(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ev := testEvent("e1")
	ev.Offline = &event.OfflineContext{DeviceID: "dev-1", Sequence: 4}
	require.NoError(t, s.QuarantineEvent(ctx, ev, "DEVICE_REVOKED", t0))

	// Idempotent by event id.
	require.NoError(t, s.QuarantineEvent(ctx, ev, "DEVICE_REVOKED", t0.Add(time.Second)))

	held, err := s.ListQuarantined(ctx, "dev-1")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "e1", held[0].Event.ID)
	assert.Equal(t, "DEVICE_REVOKED", held[0].Reason)
	assert.False(t, held[0].Released)

	require.NoError(t, s.ReleaseQuarantined(ctx, "e1"))
	held, err = s.ListQuarantined(ctx, "dev-1")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.True(t, held[0].Released, "released events stay listed for audit")
}

func TestRecords_SaveAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRequest(ctx, "req-1", "draft", []byte(`{"id":"req-1"}`), t0))
	require.NoError(t, s.SaveRequest(ctx, "req-1", "pending_approval", []byte(`{"id":"req-1","v":2}`), t0.Add(time.Second)))

	rec, err := s.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "pending_approval", rec.Status)
	assert.JSONEq(t, `{"id":"req-1","v":2}`, string(rec.Payload))

	pending, err := s.ListRequests(ctx, "pending_approval")
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	none, err := s.ListRequests(ctx, "denied")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = s.GetDispute(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveConflict_StatusTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveConflict(ctx, "conf-1", "e1", "concurrent_update", "open", []byte(`{}`), t0))
	require.NoError(t, s.SaveConflict(ctx, "conf-1", "e1", "concurrent_update", "resolved", []byte(`{"r":1}`), t0.Add(time.Minute)))

	rec, err := s.GetConflict(ctx, "conf-1")
	require.NoError(t, err)
	assert.Equal(t, "resolved", rec.Status)

	open, err := s.ListConflicts(ctx, "open")
	require.NoError(t, err)
	assert.Empty(t, open)
}
