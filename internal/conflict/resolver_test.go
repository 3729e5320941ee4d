package conflict

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldledger/internal/config"
	"github.com/roach88/fieldledger/internal/dispute"
	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/ledger"
	"github.com/roach88/fieldledger/internal/notify"
	"github.com/roach88/fieldledger/internal/reducer"
	"github.com/roach88/fieldledger/internal/store"
	"github.com/roach88/fieldledger/internal/testutil"
	"github.com/roach88/fieldledger/internal/validate"
)

type resolverFixture struct {
	resolver *Resolver
	ledger   *ledger.Ledger
	red      *reducer.Reducer
	clock    *testutil.Clock
	notified []notify.Notification
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &resolverFixture{clock: testutil.DefaultClock()}
	capture := notify.Func(func(_ context.Context, n notify.Notification) {
		f.notified = append(f.notified, n)
	})

	cat := testutil.Catalog()
	f.red = reducer.New(st, cat)
	val := validate.New(st, f.red, cat, config.Default().ConversionEpsilon)
	f.ledger = ledger.New(st, val, f.clock)
	disputes := dispute.NewManager(st, capture, testutil.NewIDs("dsp"), f.clock)
	f.resolver = NewResolver(st, f.ledger, disputes, capture, testutil.NewIDs("conf"), f.clock)
	return f
}

// losingIssue is the shape of an event that lost a concurrent-issue race:
// staged offline, never committed.
func losingIssue(qty int64) event.Event {
	return event.Event{
		ID: "dev2-0001", Kind: event.KindIssue, ProductID: testutil.ProductX,
		Quantity: event.QtyInt(qty, "unit"), FromLocation: testutil.LocVehicle,
		PerformedBy: testutil.Tech2,
		Offline: &event.OfflineContext{
			DeviceID: "dev-2", Sequence: 1, BaseStateHash: "stale-hash",
		},
	}
}

func (f *resolverFixture) record(t *testing.T, ev event.Event) *Conflict {
	t.Helper()
	c, err := f.resolver.Record(context.Background(), KindInsufficientInventory, ev, map[string]string{
		"available": "20", "requested": "35",
	})
	require.NoError(t, err)
	return c
}

func (f *resolverFixture) seed(t *testing.T, qty int64) {
	t.Helper()
	_, err := f.ledger.Append(context.Background(), event.Event{
		ID: "seed-1", Kind: event.KindReceive, ProductID: testutil.ProductX,
		Quantity: event.QtyInt(qty, "unit"), ToLocation: testutil.LocVehicle,
		PerformedBy: testutil.Clerk1, OccurredAt: f.clock.Now(),
	})
	require.NoError(t, err)
}

func TestClassify(t *testing.T) {
	stateDep := &validate.Rejection{Code: validate.CodeInsufficientQuantity}
	hard := &validate.Rejection{Code: validate.CodeProductLifecycle}
	offline := losingIssue(35)

	kind, ok := Classify(stateDep, offline, "server-hash")
	assert.True(t, ok)
	assert.Equal(t, KindInsufficientInventory, kind)

	// Hard rejections are never conflicts, stale state or not.
	_, ok = Classify(hard, offline, "server-hash")
	assert.False(t, ok)

	// Online submissions have no stale view to blame.
	online := offline
	online.Offline = nil
	_, ok = Classify(stateDep, online, "server-hash")
	assert.False(t, ok)

	// A matching hash means the device decided on current state.
	current := losingIssue(35)
	current.Offline.BaseStateHash = "server-hash"
	_, ok = Classify(stateDep, current, "server-hash")
	assert.False(t, ok)
}

func TestRecord_PersistsAndNotifies(t *testing.T) {
	f := newResolverFixture(t)
	c := f.record(t, losingIssue(35))

	assert.Equal(t, "conf-0001", c.ID)
	assert.Equal(t, StatusOpen, c.Status)
	assert.Equal(t, "dev-2", c.DeviceID)

	got, err := f.resolver.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "dev2-0001", got.EventID)
	assert.Equal(t, "35", got.Detail["requested"])

	require.Len(t, f.notified, 1)
	assert.Equal(t, notify.TypeConflictDetected, f.notified[0].Type)
	assert.Equal(t, c.ID, f.notified[0].Subject)
}

func TestResolve_AcceptServerDiscards(t *testing.T) {
	f := newResolverFixture(t)
	f.seed(t, 20)
	c := f.record(t, losingIssue(35))

	resolved, err := f.resolver.Resolve(context.Background(), c.ID, ResolveArgs{
		Strategy:   StrategyAcceptServer,
		ResolvedBy: testutil.Manager1,
		Note:       "dev-1 got there first",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	assert.Equal(t, string(StrategyAcceptServer), resolved.Resolution.Strategy)
	assert.Empty(t, resolved.Resolution.CompensatingEventID)

	// No stock change.
	state, err := f.red.InventoryAt(context.Background(), event.Scope{}, event.TimeRange{})
	require.NoError(t, err)
	assert.Equal(t, "20 unit", state.Available(testutil.LocVehicle, testutil.ProductX).String())
}

func TestResolve_ForceLocalCompensates(t *testing.T) {
	f := newResolverFixture(t)
	f.seed(t, 20)
	c := f.record(t, losingIssue(15))

	resolved, err := f.resolver.Resolve(context.Background(), c.ID, ResolveArgs{
		Strategy:     StrategyForceLocal,
		ResolvedBy:   testutil.Manager1,
		AuthorizedBy: testutil.Clerk1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resolved.Resolution.CompensatingEventID)

	comp, err := f.ledger.Get(context.Background(), resolved.Resolution.CompensatingEventID)
	require.NoError(t, err)
	assert.Equal(t, event.KindAdjust, comp.Kind)
	assert.Equal(t, event.ReasonConflictResolution, comp.Reason)
	assert.Equal(t, testutil.Clerk1, comp.AuthorizedBy)
	assert.Equal(t, "-15 unit", comp.Quantity.String())

	// The losing event's intent landed as an adjust.
	state, err := f.red.InventoryAt(context.Background(), event.Scope{}, event.TimeRange{})
	require.NoError(t, err)
	assert.Equal(t, "5 unit", state.Available(testutil.LocVehicle, testutil.ProductX).String())
}

func TestResolve_ForceLocalBeyondAvailability(t *testing.T) {
	f := newResolverFixture(t)
	f.seed(t, 20)
	c := f.record(t, losingIssue(35))

	// The losing issue exceeded what the book shows. The physical truth
	// still wins: the compensating adjust lands and the bucket goes
	// negative until someone audits the shortfall.
	resolved, err := f.resolver.Resolve(context.Background(), c.ID, ResolveArgs{
		Strategy:     StrategyForceLocal,
		ResolvedBy:   testutil.Manager1,
		AuthorizedBy: testutil.Clerk1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resolved.Resolution.CompensatingEventID)

	comp, err := f.ledger.Get(context.Background(), resolved.Resolution.CompensatingEventID)
	require.NoError(t, err)
	assert.Equal(t, "-35 unit", comp.Quantity.String())

	state, err := f.red.InventoryAt(context.Background(), event.Scope{}, event.TimeRange{})
	require.NoError(t, err)
	assert.Equal(t, "-15 unit", state.Available(testutil.LocVehicle, testutil.ProductX).String())
}

func TestResolve_ForceLocalRequiresAuthorizer(t *testing.T) {
	f := newResolverFixture(t)
	f.seed(t, 20)
	c := f.record(t, losingIssue(15))

	_, err := f.resolver.Resolve(context.Background(), c.ID, ResolveArgs{
		Strategy:   StrategyForceLocal,
		ResolvedBy: testutil.Manager1,
	})
	assert.ErrorContains(t, err, "requires an authorizer")
}

func TestResolve_EscalateOpensDispute(t *testing.T) {
	f := newResolverFixture(t)
	f.seed(t, 20)
	c := f.record(t, losingIssue(35))

	resolved, err := f.resolver.Resolve(context.Background(), c.ID, ResolveArgs{
		Strategy:   StrategyEscalate,
		ResolvedBy: testutil.Manager1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resolved.Resolution.DisputeID)

	d, err := f.resolver.disputes.Get(context.Background(), resolved.Resolution.DisputeID)
	require.NoError(t, err)
	assert.Equal(t, dispute.SourceConflict, d.Source)
	assert.Equal(t, []string{"dev2-0001"}, d.RelatedEventIDs)
}

func TestResolve_ResolverMustDifferFromActor(t *testing.T) {
	f := newResolverFixture(t)
	c := f.record(t, losingIssue(35))

	_, err := f.resolver.Resolve(context.Background(), c.ID, ResolveArgs{
		Strategy:   StrategyAcceptServer,
		ResolvedBy: testutil.Tech2,
	})
	assert.ErrorContains(t, err, "must differ from original actor")

	_, err = f.resolver.Resolve(context.Background(), c.ID, ResolveArgs{Strategy: StrategyAcceptServer})
	assert.ErrorContains(t, err, "resolver identity required")
}

func TestResolve_OnlyOnce(t *testing.T) {
	f := newResolverFixture(t)
	c := f.record(t, losingIssue(35))

	_, err := f.resolver.Resolve(context.Background(), c.ID, ResolveArgs{
		Strategy: StrategyAcceptServer, ResolvedBy: testutil.Manager1,
	})
	require.NoError(t, err)

	_, err = f.resolver.Resolve(context.Background(), c.ID, ResolveArgs{
		Strategy: StrategyAcceptServer, ResolvedBy: testutil.Manager1,
	})
	assert.ErrorContains(t, err, "already resolved")
}

func TestResolve_UnknownStrategy(t *testing.T) {
	f := newResolverFixture(t)
	c := f.record(t, losingIssue(35))

	_, err := f.resolver.Resolve(context.Background(), c.ID, ResolveArgs{
		Strategy: Strategy("coin_flip"), ResolvedBy: testutil.Manager1,
	})
	assert.ErrorContains(t, err, "unknown strategy")
}
