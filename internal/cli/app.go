package cli

import (
	"fmt"

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
	"github.com/roach88/fieldledger/internal/validate"
	"github.com/roach88/fieldledger/internal/workflow"
)

// App wires the full component graph for one command invocation.
type App struct {
	Store     *store.Store
	Catalog   *catalog.Snapshot
	Config    config.Config
	Reducer   *reducer.Reducer
	Ledger    *ledger.Ledger
	Registry  *device.Registry
	Disputes  *dispute.Manager
	Conflicts *conflict.Resolver
	Workflow  *workflow.Engine
	Server    *syncer.Server
}

// openApp opens the database and builds every component over it.
func openApp(opts *RootOptions) (*App, error) {
	if opts.Database == "" {
		return nil, commandErr("--db is required", nil)
	}
	if opts.CatalogPath == "" {
		return nil, commandErr("--catalog is required", nil)
	}

	cat, err := catalog.Load(opts.CatalogPath)
	if err != nil {
		return nil, commandErr("failed to load catalog", err)
	}

	cfg := config.Default()
	if opts.ConfigPath != "" {
		cfg, err = config.Load(opts.ConfigPath)
		if err != nil {
			return nil, commandErr("failed to load config", err)
		}
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, commandErr("failed to open database", err)
	}

	clock := ledger.SystemClock{}
	ids := event.UUIDv7Generator{}
	notifier := notify.LogNotifier{}

	red := reducer.New(st, cat)
	val := validate.New(st, red, cat, cfg.ConversionEpsilon)
	led := ledger.New(st, val, clock)
	reg := device.NewRegistry(st, clock)
	disputes := dispute.NewManager(st, notifier, ids, clock)
	conflicts := conflict.NewResolver(st, led, disputes, notifier, ids, clock)
	wf := workflow.NewEngine(st, led, cat, cfg.Workflow, notifier, ids, clock)
	server := syncer.NewServer(st, led, reg, conflicts, disputes, red, cfg.Variance, ids, notifier, clock)

	return &App{
		Store:     st,
		Catalog:   cat,
		Config:    cfg,
		Reducer:   red,
		Ledger:    led,
		Registry:  reg,
		Disputes:  disputes,
		Conflicts: conflicts,
		Workflow:  wf,
		Server:    server,
	}, nil
}

// Close closes the database.
func (a *App) Close() error {
	if err := a.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
