package syncer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldledger/internal/config"
	"github.com/roach88/fieldledger/internal/conflict"
	"github.com/roach88/fieldledger/internal/device"
	"github.com/roach88/fieldledger/internal/dispute"
	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/ledger"
	"github.com/roach88/fieldledger/internal/notify"
	"github.com/roach88/fieldledger/internal/reducer"
	"github.com/roach88/fieldledger/internal/store"
	"github.com/roach88/fieldledger/internal/testutil"
	"github.com/roach88/fieldledger/internal/validate"
)

type serverFixture struct {
	server   *Server
	registry *device.Registry
	red      *reducer.Reducer
	disputes *dispute.Manager
	clock    *testutil.Clock
	notified []notify.Notification
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &serverFixture{clock: testutil.DefaultClock()}
	capture := notify.Func(func(_ context.Context, n notify.Notification) {
		f.notified = append(f.notified, n)
	})

	cat := testutil.Catalog()
	ids := testutil.NewIDs("sys")
	f.red = reducer.New(st, cat)
	val := validate.New(st, f.red, cat, config.Default().ConversionEpsilon)
	led := ledger.New(st, val, f.clock)
	f.registry = device.NewRegistry(st, f.clock)
	disputes := dispute.NewManager(st, capture, ids, f.clock)
	conflicts := conflict.NewResolver(st, led, disputes, capture, ids, f.clock)
	f.server = NewServer(st, led, f.registry, conflicts, disputes, f.red, config.Default().Variance, ids, capture, f.clock)
	f.disputes = disputes
	return f
}

func (f *serverFixture) seedReceive(t *testing.T, id string, qty int64, loc string) {
	t.Helper()
	res, err := f.server.Submit(context.Background(), event.Event{
		ID: id, Kind: event.KindReceive, ProductID: testutil.ProductX,
		Quantity: event.QtyInt(qty, "unit"), ToLocation: loc,
		PerformedBy: testutil.Clerk1, OccurredAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Outcome)
}

func (f *serverFixture) deviceIssue(id string, seq int64, qty int64, baseHash string) event.Event {
	return event.Event{
		ID: id, Kind: event.KindIssue, ProductID: testutil.ProductX,
		Quantity: event.QtyInt(qty, "unit"), FromLocation: testutil.LocVehicle,
		PerformedBy: testutil.Tech1, OccurredAt: f.clock.Now(),
		Offline: &event.OfflineContext{
			DeviceID: "dev-1", Sequence: seq,
			DeviceClock: f.clock.Now(), BaseStateHash: baseHash,
			SyncStatus: event.SyncPending,
		},
	}
}

func (f *serverFixture) stateHash(t *testing.T) string {
	t.Helper()
	state, err := f.red.InventoryAt(context.Background(), event.Scope{}, event.TimeRange{})
	require.NoError(t, err)
	hash, err := state.Hash()
	require.NoError(t, err)
	return hash
}

func TestSubmit_AcceptedAdvancesCursor(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "seed-1", 50, testutil.LocVehicle)
	require.NoError(t, f.registry.Register(ctx, "dev-1"))

	res, err := f.server.Submit(ctx, f.deviceIssue("e1", 1, 10, f.stateHash(t)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)
	assert.Equal(t, int64(2), res.Committed.CommitSeq)

	rec, err := f.registry.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.LastSeq)
}

func TestSubmit_ResubmissionIsDuplicate(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "seed-1", 50, testutil.LocVehicle)
	require.NoError(t, f.registry.Register(ctx, "dev-1"))

	ev := f.deviceIssue("e1", 1, 10, f.stateHash(t))
	first, err := f.server.Submit(ctx, ev)
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, first.Outcome)

	// The replayed sequence resolves against the committed event.
	again, err := f.server.Submit(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, again.Outcome)
	assert.True(t, again.Committed.Duplicate)
	assert.Equal(t, first.Committed.CommitSeq, again.Committed.CommitSeq)
}

func TestSubmit_ReusedSequenceNewIDRejected(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "seed-1", 50, testutil.LocVehicle)
	require.NoError(t, f.registry.Register(ctx, "dev-1"))

	_, err := f.server.Submit(ctx, f.deviceIssue("e1", 1, 10, f.stateHash(t)))
	require.NoError(t, err)

	// Same sequence, different event: a replay, not an idempotent resend.
	res, err := f.server.Submit(ctx, f.deviceIssue("e2", 1, 5, f.stateHash(t)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	require.NotNil(t, res.SequenceError)
	assert.Equal(t, device.ErrCodeDuplicateOrReplay, res.SequenceError.Code)
}

func TestSubmit_SequenceGapQuarantines(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "seed-1", 50, testutil.LocVehicle)
	require.NoError(t, f.registry.Register(ctx, "dev-1"))

	res, err := f.server.Submit(ctx, f.deviceIssue("e1", 4, 10, f.stateHash(t)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeQuarantined, res.Outcome)
	assert.Equal(t, device.ErrCodeSequenceGap, res.SequenceError.Code)

	held, err := f.registry.Quarantined(ctx, "dev-1")
	require.NoError(t, err)
	assert.Len(t, held, 1)

	var types []notify.Type
	for _, n := range f.notified {
		types = append(types, n.Type)
	}
	assert.Contains(t, types, notify.TypeQuarantinePendingReview)
}

func TestSubmit_StaleStateClassifiesAsConflict(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "seed-1", 20, testutil.LocVehicle)
	require.NoError(t, f.registry.Register(ctx, "dev-1"))

	staleHash := f.stateHash(t)

	// State moves after the device last synced.
	res, err := f.server.Submit(ctx, event.Event{
		ID: "online-1", Kind: event.KindIssue, ProductID: testutil.ProductX,
		Quantity: event.QtyInt(15, "unit"), FromLocation: testutil.LocVehicle,
		PerformedBy: testutil.Tech2, OccurredAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Outcome)

	res, err = f.server.Submit(ctx, f.deviceIssue("e1", 1, 10, staleHash))
	require.NoError(t, err)
	assert.Equal(t, OutcomeConflict, res.Outcome)
	require.NotNil(t, res.Conflict)
	assert.Equal(t, conflict.KindInsufficientInventory, res.Conflict.Kind)
	assert.Equal(t, conflict.StatusOpen, res.Conflict.Status)
	assert.Equal(t, "dev-1", res.Conflict.DeviceID)

	// The conflicted sequence is consumed; the run stays gap-free.
	rec, err := f.registry.Get(ctx, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.LastSeq)
}

func TestSubmit_CurrentStateRejectsHard(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "seed-1", 5, testutil.LocVehicle)
	require.NoError(t, f.registry.Register(ctx, "dev-1"))

	// The device acted on the current state; over-issuing is not a
	// conflict a human can merge away.
	res, err := f.server.Submit(ctx, f.deviceIssue("e1", 1, 10, f.stateHash(t)))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	require.NotNil(t, res.Rejection)
	assert.Equal(t, validate.CodeInsufficientQuantity, res.Rejection.Code)
	assert.Nil(t, res.Conflict)
}

func TestSubmit_RevokedDeviceOpensOneCustodyDispute(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "seed-1", 50, testutil.LocVehicle)
	require.NoError(t, f.registry.Register(ctx, "dev-1"))
	require.NoError(t, f.registry.SetStatus(ctx, "dev-1", device.TrustRevoked))

	hash := f.stateHash(t)
	for seq := int64(1); seq <= 3; seq++ {
		res, err := f.server.Submit(ctx, f.deviceIssue(ids(seq), seq, 1, hash))
		require.NoError(t, err)
		assert.Equal(t, OutcomeQuarantined, res.Outcome)
		assert.Equal(t, device.ErrCodeDeviceRevoked, res.SequenceError.Code)
	}

	disputes, err := f.server.disputes.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, disputes, 1, "one custody dispute per device")
	assert.Equal(t, dispute.SourceRevokedDevice, disputes[0].Source)
	assert.Equal(t, "system", disputes[0].OpenedBy)
}

func ids(seq int64) string {
	return "e" + string(rune('0'+seq))
}

func TestSubmit_EmergencyOverrideNotifies(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "seed-1", 50, testutil.LocWarehouse)

	res, err := f.server.Submit(ctx, event.Event{
		ID: "e1", Kind: event.KindIssue, ProductID: testutil.ProductControlled,
		Quantity: event.QtyInt(1, "unit"), FromLocation: testutil.LocWarehouse,
		PerformedBy: testutil.Tech1, OccurredAt: f.clock.Now(),
		EmergencyOverride: true,
		Reason:            event.ReasonFieldUse,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome, "no controlled stock on hand")

	// Seed the controlled product, then the override goes through tagged.
	seed, err := f.server.Submit(ctx, event.Event{
		ID: "seed-2", Kind: event.KindReceive, ProductID: testutil.ProductControlled,
		Quantity: event.QtyInt(5, "unit"), ToLocation: testutil.LocWarehouse,
		PerformedBy: testutil.Clerk1, OccurredAt: f.clock.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, seed.Outcome)

	res, err = f.server.Submit(ctx, event.Event{
		ID: "e2", Kind: event.KindIssue, ProductID: testutil.ProductControlled,
		Quantity: event.QtyInt(1, "unit"), FromLocation: testutil.LocWarehouse,
		PerformedBy: testutil.Tech1, OccurredAt: f.clock.Now(),
		EmergencyOverride: true,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)

	var types []notify.Type
	for _, n := range f.notified {
		types = append(types, n.Type)
	}
	assert.Contains(t, types, notify.TypeEmergencyOverridePending)
}

func TestFetchAck_Watermark(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "seed-1", 50, testutil.LocVehicle)
	f.seedReceive(t, "seed-2", 10, testutil.LocWarehouse)

	events, err := f.server.Fetch(ctx, "dev-1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.NoError(t, f.server.Ack(ctx, "dev-1", events[1].CommitSeq))

	events, err = f.server.Fetch(ctx, "dev-1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestSync_UploadDoesNotSkipBacklog(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "a1", 10, testutil.LocVehicle)
	f.seedReceive(t, "a2", 10, testutil.LocVehicle)
	f.seedReceive(t, "a3", 10, testutil.LocVehicle)
	require.NoError(t, f.registry.Register(ctx, "dev-1"))

	// The device uploads before it has fetched any of the backlog; its
	// upload commits at a higher sequence than all three seeds. With a
	// download batch of 2 the backlog arrives over two pages, and the
	// watermark must not jump past the unfetched third seed.
	c := newTestClient(f.server, nil)
	stagedIssue(t, c, "b1", 5)

	require.NoError(t, c.Cycle(ctx))

	assert.Equal(t, "25 unit", c.View().Available(testutil.LocVehicle, testutil.ProductX).String())

	// Nothing left behind for the next cycle.
	events, err := f.server.Fetch(ctx, "dev-1", 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func (f *serverFixture) countEvent(id string, qty int64) event.Event {
	return event.Event{
		ID: id, Kind: event.KindCount, ProductID: testutil.ProductX,
		Quantity: event.QtyInt(qty, "unit"), FromLocation: testutil.LocVehicle,
		PerformedBy: testutil.Tech1, OccurredAt: f.clock.Now(),
	}
}

func (f *serverFixture) available(t *testing.T) string {
	t.Helper()
	state, err := f.red.InventoryAt(context.Background(), event.Scope{}, event.TimeRange{})
	require.NoError(t, err)
	return state.Available(testutil.LocVehicle, testutil.ProductX).String()
}

func TestSubmit_CountMatchingQuantityTakesNoAction(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "seed-1", 50, testutil.LocVehicle)

	res, err := f.server.Submit(ctx, f.countEvent("c1", 50))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAccepted, res.Outcome)

	assert.Equal(t, "50 unit", f.available(t))
	open, err := f.disputes.List(ctx, dispute.StatusOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSubmit_CountSmallVarianceAutoAdjusts(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "seed-1", 100, testutil.LocVehicle)

	// 3% short, within the 5% auto-adjust threshold.
	res, err := f.server.Submit(ctx, f.countEvent("c1", 97))
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Outcome)

	assert.Equal(t, "97 unit", f.available(t))

	events, err := f.server.Fetch(ctx, "reader", 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
	adj := events[2]
	assert.Equal(t, event.KindAdjust, adj.Kind)
	assert.Equal(t, event.ReasonCountVariance, adj.Reason)
	assert.Equal(t, "c1", adj.SourceEventID)
	assert.Equal(t, "-3 unit", adj.Quantity.String())

	open, err := f.disputes.List(ctx, dispute.StatusOpen)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSubmit_CountLargeVarianceOpensDispute(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()
	f.seedReceive(t, "seed-1", 100, testutil.LocVehicle)

	// 20% short, above both thresholds: books stay as computed.
	res, err := f.server.Submit(ctx, f.countEvent("c1", 80))
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Outcome)

	assert.Equal(t, "100 unit", f.available(t))

	open, err := f.disputes.List(ctx, dispute.StatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	d := open[0]
	assert.Equal(t, dispute.SourceCountVariance, d.Source)
	assert.Equal(t, []string{"c1"}, d.RelatedEventIDs)
	assert.Equal(t, "100 unit", d.Expected.String())
	assert.Equal(t, "80 unit", d.Actual.String())
}

func TestSubmit_CountAgainstEmptyBucketOpensDispute(t *testing.T) {
	f := newServerFixture(t)
	ctx := context.Background()

	// No book quantity to measure a fraction against: never auto-adjust.
	res, err := f.server.Submit(ctx, f.countEvent("c1", 5))
	require.NoError(t, err)
	require.Equal(t, OutcomeAccepted, res.Outcome)

	assert.Equal(t, "0 unit", f.available(t))
	open, err := f.disputes.List(ctx, dispute.StatusOpen)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, dispute.SourceCountVariance, open[0].Source)
}
