// Package scenario runs end-to-end sync scenarios against the full
// component stack over an in-memory store, producing deterministic
// traces for assertion and golden comparison.
package scenario

import (
	"context"
	"fmt"
	"sort"

	"github.com/roach88/fieldledger/internal/catalog"
	"github.com/roach88/fieldledger/internal/config"
	"github.com/roach88/fieldledger/internal/conflict"
	"github.com/roach88/fieldledger/internal/device"
	"github.com/roach88/fieldledger/internal/dispute"
	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/ledger"
	"github.com/roach88/fieldledger/internal/notify"
	"github.com/roach88/fieldledger/internal/reducer"
	"github.com/roach88/fieldledger/internal/store"
	"github.com/roach88/fieldledger/internal/syncer"
	"github.com/roach88/fieldledger/internal/testutil"
	"github.com/roach88/fieldledger/internal/validate"
)

// Scenario is one scripted multi-device trace.
//
// Seed events commit online before any device appears. Every device then
// warms its cached view, stages its whole script, and only afterwards do
// the devices sync, in slice order. Staging before any sync is what
// reproduces concurrent offline edits: every device decides against the
// same seed state.
type Scenario struct {
	Name string

	Catalog *catalog.Snapshot // nil means the shared test fixture
	Config  *config.Config    // nil means defaults

	Seed    []event.Event
	Devices []DeviceScript

	// Revoke lists devices whose trust is revoked after staging, before
	// any sync cycle runs.
	Revoke []string
}

// DeviceScript is one device's staged events, in sequence order.
type DeviceScript struct {
	ID     string
	Events []event.Event
}

// StepResult records the terminal status of one staged event.
type StepResult struct {
	Device  string `json:"device"`
	EventID string `json:"event_id"`
	Status  string `json:"status"`
	Failure string `json:"failure,omitempty"`
}

// Result is the deterministic outcome of a scenario run.
type Result struct {
	Name      string            `json:"name"`
	Steps     []StepResult      `json:"steps"`
	Inventory map[string]string `json:"inventory"`
	Conflicts []string          `json:"conflicts,omitempty"`
	Disputes  []string          `json:"disputes,omitempty"`
	Halted    []string          `json:"halted,omitempty"`
}

// World is the component stack a scenario runs in. Tests that need to
// resolve conflicts or inspect the ledger mid-scenario use it directly.
type World struct {
	Store     *store.Store
	Catalog   *catalog.Snapshot
	Reducer   *reducer.Reducer
	Ledger    *ledger.Ledger
	Registry  *device.Registry
	Disputes  *dispute.Manager
	Conflicts *conflict.Resolver
	Server    *syncer.Server
	Clock     *testutil.Clock
	Clients   map[string]*syncer.Client
}

// NewWorld builds a fresh stack over an in-memory store.
func NewWorld(cat *catalog.Snapshot, cfg config.Config) (*World, error) {
	if cat == nil {
		cat = testutil.Catalog()
	}
	st, err := store.OpenMemory()
	if err != nil {
		return nil, fmt.Errorf("open scenario store: %w", err)
	}

	clock := testutil.DefaultClock()
	ids := testutil.NewIDs("sys")
	notifier := notify.LogNotifier{}

	red := reducer.New(st, cat)
	val := validate.New(st, red, cat, cfg.ConversionEpsilon)
	led := ledger.New(st, val, clock)
	reg := device.NewRegistry(st, clock)
	disputes := dispute.NewManager(st, notifier, ids, clock)
	conflicts := conflict.NewResolver(st, led, disputes, notifier, ids, clock)
	server := syncer.NewServer(st, led, reg, conflicts, disputes, red, cfg.Variance, ids, notifier, clock)

	return &World{
		Store:     st,
		Catalog:   cat,
		Reducer:   red,
		Ledger:    led,
		Registry:  reg,
		Disputes:  disputes,
		Conflicts: conflicts,
		Server:    server,
		Clock:     clock,
		Clients:   make(map[string]*syncer.Client),
	}, nil
}

// Close releases the store.
func (w *World) Close() error { return w.Store.Close() }

// Run executes the scenario and returns its trace.
func Run(ctx context.Context, sc *Scenario) (*Result, *World, error) {
	cfg := config.Default()
	if sc.Config != nil {
		cfg = *sc.Config
	}
	w, err := NewWorld(sc.Catalog, cfg)
	if err != nil {
		return nil, nil, err
	}

	for _, ev := range sc.Seed {
		res, err := w.Server.Submit(ctx, ev)
		if err != nil {
			return nil, nil, fmt.Errorf("scenario %s: seed %s: %w", sc.Name, ev.ID, err)
		}
		if res.Outcome != syncer.OutcomeAccepted {
			return nil, nil, fmt.Errorf("scenario %s: seed %s: outcome %s", sc.Name, ev.ID, res.Outcome)
		}
	}

	// Every device warms its view and stages its script before any sync.
	for _, script := range sc.Devices {
		if err := w.Registry.Register(ctx, script.ID); err != nil {
			return nil, nil, fmt.Errorf("scenario %s: register %s: %w", sc.Name, script.ID, err)
		}
		client := syncer.NewClient(script.ID, w.Server, w.Catalog, cfg.Sync, notify.LogNotifier{}, w.Clock)
		if err := client.Cycle(ctx); err != nil {
			return nil, nil, fmt.Errorf("scenario %s: warm %s: %w", sc.Name, script.ID, err)
		}
		for _, ev := range script.Events {
			if _, err := client.Stage(ev); err != nil {
				return nil, nil, fmt.Errorf("scenario %s: stage %s: %w", sc.Name, ev.ID, err)
			}
		}
		w.Clients[script.ID] = client
	}

	for _, id := range sc.Revoke {
		if err := w.Registry.SetStatus(ctx, id, device.TrustRevoked); err != nil {
			return nil, nil, fmt.Errorf("scenario %s: revoke %s: %w", sc.Name, id, err)
		}
	}

	for _, script := range sc.Devices {
		if err := w.Clients[script.ID].Cycle(ctx); err != nil {
			return nil, nil, fmt.Errorf("scenario %s: sync %s: %w", sc.Name, script.ID, err)
		}
	}

	result, err := w.snapshot(ctx, sc)
	if err != nil {
		return nil, nil, err
	}
	return result, w, nil
}

// snapshot renders the world into a deterministic Result.
func (w *World) snapshot(ctx context.Context, sc *Scenario) (*Result, error) {
	result := &Result{Name: sc.Name}

	for _, script := range sc.Devices {
		client := w.Clients[script.ID]
		for _, q := range client.Queue() {
			result.Steps = append(result.Steps, StepResult{
				Device:  script.ID,
				EventID: q.Event.ID,
				Status:  string(q.Status),
				Failure: q.Failure,
			})
		}
		if id, halted := client.Halted(); halted {
			result.Halted = append(result.Halted, script.ID+":"+id)
		}
	}

	state, err := w.Reducer.InventoryAt(ctx, event.Scope{}, event.TimeRange{})
	if err != nil {
		return nil, err
	}
	result.Inventory = state.Entries()

	conflicts, err := w.Conflicts.List(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, c := range conflicts {
		result.Conflicts = append(result.Conflicts, c.ID+":"+string(c.Status))
	}
	sort.Strings(result.Conflicts)

	disputes, err := w.Disputes.List(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, d := range disputes {
		result.Disputes = append(result.Disputes, d.ID+":"+string(d.Source)+":"+string(d.Status))
	}
	sort.Strings(result.Disputes)

	return result, nil
}
