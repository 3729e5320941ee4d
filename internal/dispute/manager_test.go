package dispute

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/notify"
	"github.com/roach88/fieldledger/internal/store"
	"github.com/roach88/fieldledger/internal/testutil"
)

func newTestManager(t *testing.T) (*Manager, *[]notify.Notification) {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	var notified []notify.Notification
	capture := notify.Func(func(_ context.Context, n notify.Notification) {
		notified = append(notified, n)
	})
	return NewManager(st, capture, testutil.NewIDs("dsp"), testutil.DefaultClock()), &notified
}

func qty(v int64) *event.Quantity {
	q := event.QtyInt(v, "unit")
	return &q
}

func openTestDispute(t *testing.T, m *Manager) *Dispute {
	t.Helper()
	d, err := m.Open(context.Background(), OpenArgs{
		Source:     SourceCountVariance,
		OpenedBy:   testutil.Manager1,
		ProductID:  testutil.ProductX,
		LocationID: testutil.LocWarehouse,
		Expected:   qty(50),
		Actual:     qty(42),
		Note:       "count variance above threshold",
	})
	require.NoError(t, err)
	return d
}

func TestOpen_RequiresOpener(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Open(context.Background(), OpenArgs{Source: SourceManual})
	assert.ErrorContains(t, err, "opened_by")
}

func TestOpen_PersistsWithInitialNote(t *testing.T) {
	m, _ := newTestManager(t)
	d := openTestDispute(t, m)

	got, err := m.Get(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, got.Status)
	assert.Equal(t, SourceCountVariance, got.Source)
	require.Len(t, got.Notes, 1)
	assert.Equal(t, testutil.Manager1, got.Notes[0].Author)
	assert.Equal(t, "50 unit", got.Expected.String())
	assert.Equal(t, "42 unit", got.Actual.String())
}

func TestLifecycle_OpenInvestigateEscalateResolve(t *testing.T) {
	m, notified := newTestManager(t)
	ctx := context.Background()
	d := openTestDispute(t, m)

	// Escalation requires an active investigation.
	_, err := m.Escalate(ctx, d.ID, testutil.Manager1, "stock missing")
	assert.ErrorContains(t, err, "cannot escalate")

	_, err = m.StartInvestigation(ctx, d.ID, testutil.Manager1)
	require.NoError(t, err)

	_, err = m.AddNote(ctx, d.ID, testutil.Clerk1, "checked vehicle 7, nothing there")
	require.NoError(t, err)

	esc, err := m.Escalate(ctx, d.ID, testutil.Manager1, "stock missing")
	require.NoError(t, err)
	assert.Equal(t, StatusEscalated, esc.Status)

	var types []notify.Type
	for _, n := range *notified {
		types = append(types, n.Type)
	}
	assert.Contains(t, types, notify.TypeDisputeEscalated)

	// Escalated loops back through investigation before resolving.
	_, err = m.StartInvestigation(ctx, d.ID, testutil.Manager1)
	require.NoError(t, err)

	resolved, err := m.Resolve(ctx, d.ID, Resolution{
		Outcome:    OutcomeReconciled,
		ResolvedBy: testutil.Manager1,
		Notes:      "stock found mislabeled at warehouse",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, resolved.Status)
	require.NotNil(t, resolved.Resolution)
	assert.False(t, resolved.Resolution.ResolvedAt.IsZero())
}

func TestResolve_IncompleteResolutions(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	cases := []struct {
		name string
		res  Resolution
	}{
		{
			name: "missing resolver",
			res:  Resolution{Outcome: OutcomeReconciled},
		},
		{
			name: "write_off without amount",
			res:  Resolution{Outcome: OutcomeWriteOff, ResolvedBy: testutil.Manager1, AuthorizedBy: testutil.Manager1},
		},
		{
			name: "write_off without authorizer",
			res: Resolution{
				Outcome: OutcomeWriteOff, ResolvedBy: testutil.Manager1,
				WriteOffAmount: qty(8),
			},
		},
		{
			name: "corrected without corrective events",
			res:  Resolution{Outcome: OutcomeCorrected, ResolvedBy: testutil.Manager1},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := openTestDispute(t, m)
			_, err := m.Resolve(ctx, d.ID, tc.res)
			assert.ErrorIs(t, err, ErrResolutionIncomplete)

			// The dispute stays open; incompleteness never closes it.
			got, err := m.Get(ctx, d.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusOpen, got.Status)
		})
	}
}

func TestResolve_UnknownOutcome(t *testing.T) {
	m, _ := newTestManager(t)
	d := openTestDispute(t, m)

	_, err := m.Resolve(context.Background(), d.ID, Resolution{
		Outcome: Outcome("vanished"), ResolvedBy: testutil.Manager1,
	})
	assert.ErrorContains(t, err, "unknown outcome")
}

func TestResolve_AlreadyResolved(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	d := openTestDispute(t, m)

	_, err := m.Resolve(ctx, d.ID, Resolution{Outcome: OutcomeReconciled, ResolvedBy: testutil.Manager1})
	require.NoError(t, err)

	_, err = m.Resolve(ctx, d.ID, Resolution{Outcome: OutcomeReconciled, ResolvedBy: testutil.Manager1})
	assert.ErrorContains(t, err, "already resolved")

	_, err = m.AddNote(ctx, d.ID, testutil.Manager1, "postscript")
	assert.ErrorContains(t, err, "is resolved")
}

func TestList_FilterByStatus(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	d1 := openTestDispute(t, m)
	openTestDispute(t, m)
	_, err := m.Resolve(ctx, d1.ID, Resolution{Outcome: OutcomeReconciled, ResolvedBy: testutil.Manager1})
	require.NoError(t, err)

	open, err := m.List(ctx, StatusOpen)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	all, err := m.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
