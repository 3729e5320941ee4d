package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fieldledger/internal/catalog"
	"github.com/roach88/fieldledger/internal/config"
	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/notify"
	"github.com/roach88/fieldledger/internal/reducer"
)

// API is the server surface a device syncs against. Server implements it
// in-process; a remote transport would implement the same three calls.
type API interface {
	Submit(ctx context.Context, ev event.Event) (Result, error)
	Fetch(ctx context.Context, deviceID string, limit int) ([]event.Committed, error)
	Ack(ctx context.Context, deviceID string, lastSeq int64) error
}

// CycleState is the client's position in a sync cycle.
type CycleState string

const (
	StateIdle        CycleState = "idle"
	StateUploading   CycleState = "uploading"
	StateDownloading CycleState = "downloading"
)

// ErrHalted means a prior conflict is unresolved; the upload queue stays
// frozen so later events are never applied out of order.
var ErrHalted = errors.New("device halted on unresolved conflict")

// QueuedEvent is one locally staged event and its terminal status.
type QueuedEvent struct {
	Event   event.Event
	Status  event.SyncStatus
	Failure string
}

// Client is the device side of the sync protocol. It stages events with
// offline context, uploads them strictly in sequence order, and folds
// downloaded events into its cached view. Not safe for concurrent use;
// a device owns a single sequential stream.
type Client struct {
	deviceID string
	api      API
	cfg      config.SyncConfig
	notifier notify.Notifier
	clock    Clock

	state   CycleState
	queue   []*QueuedEvent
	nextSeq int64
	halted  string // conflict id that froze the queue, empty when clear

	// view is the device's cached fold of everything it has seen.
	// lastSeen tracks the highest commit sequence fetched, never one
	// learned from the device's own uploads.
	view     *reducer.State
	lastSeen int64

	// sleep is swapped out by tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a device client with an empty queue and view.
func NewClient(deviceID string, api API, cat *catalog.Snapshot, cfg config.SyncConfig, n notify.Notifier, clock Clock) *Client {
	return &Client{
		deviceID: deviceID,
		api:      api,
		cfg:      cfg,
		notifier: n,
		clock:    clock,
		state:    StateIdle,
		nextSeq:  1,
		view:     reducer.NewState(cat),
		sleep:    sleepCtx,
	}
}

// State returns the client's cycle state.
func (c *Client) State() CycleState { return c.state }

// Queue returns the staged events in sequence order.
func (c *Client) Queue() []*QueuedEvent { return c.queue }

// View returns the device's cached inventory fold.
func (c *Client) View() *reducer.State { return c.view }

// Halted reports the conflict id freezing the queue, if any.
func (c *Client) Halted() (string, bool) { return c.halted, c.halted != "" }

// Stage attaches offline context to ev and queues it. The base state
// hash captures the view the device decided against.
func (c *Client) Stage(ev event.Event) (*QueuedEvent, error) {
	hash, err := c.view.Hash()
	if err != nil {
		return nil, fmt.Errorf("stage %s: hash view: %w", ev.ID, err)
	}
	ev.Offline = &event.OfflineContext{
		DeviceID:      c.deviceID,
		Sequence:      c.nextSeq,
		DeviceClock:   c.clock.Now(),
		BaseStateHash: hash,
		SyncStatus:    event.SyncPending,
	}
	c.nextSeq++
	q := &QueuedEvent{Event: ev, Status: event.SyncPending}
	c.queue = append(c.queue, q)
	return q, nil
}

// Resume clears the conflict halt after human resolution. When the
// resolution discarded the local event it stays conflicted; syncing
// continues with the next queued event.
func (c *Client) Resume() {
	c.halted = ""
}

// Cycle runs one full Idle, Uploading, Downloading, Idle pass. A halted
// queue skips the upload phase; downloads still run so the device keeps
// a current view while the conflict waits on a human.
func (c *Client) Cycle(ctx context.Context) error {
	if c.state != StateIdle {
		return fmt.Errorf("sync cycle: client is %s, want %s", c.state, StateIdle)
	}

	c.state = StateUploading
	defer func() { c.state = StateIdle }()

	if c.halted == "" {
		if err := c.upload(ctx); err != nil {
			return err
		}
	}

	c.state = StateDownloading
	return c.download(ctx)
}

// upload drains the pending queue strictly in sequence order, halting on
// the first conflict.
func (c *Client) upload(ctx context.Context) error {
	for _, q := range c.queue {
		if q.Status.Terminal() {
			continue
		}
		res, err := c.submitWithRetry(ctx, q.Event)
		if err != nil {
			// Still pending; the next cycle picks it up again.
			return err
		}
		switch res.Outcome {
		case OutcomeAccepted:
			q.Status = event.SyncSynced
			if err := c.apply(res.Committed); err != nil {
				return err
			}
		case OutcomeDuplicate:
			q.Status = event.SyncSynced
		case OutcomeConflict:
			q.Status = event.SyncConflicted
			q.Failure = res.Rejection.Message
			c.halted = res.Conflict.ID
			slog.Warn("upload halted on conflict",
				"device", c.deviceID,
				"event", q.Event.ID,
				"conflict", res.Conflict.ID,
			)
			return nil
		case OutcomeRejected:
			q.Status = event.SyncFailed
			if res.Rejection != nil {
				q.Failure = res.Rejection.Message
			} else if res.SequenceError != nil {
				q.Failure = res.SequenceError.Error()
			}
			slog.Info("event rejected during upload", "device", c.deviceID, "event", q.Event.ID, "reason", q.Failure)
		case OutcomeQuarantined:
			q.Status = event.SyncQuarantined
			q.Failure = res.SequenceError.Error()
		default:
			return fmt.Errorf("upload %s: unknown outcome %q", q.Event.ID, res.Outcome)
		}
	}
	return nil
}

// download pages newer events into the cached view and acknowledges the
// highest commit sequence fetched after each applied page. Only fetched
// events move the watermark: a commit sequence learned from the device's
// own upload may sit past backlog the server has not paged out yet, and
// acknowledging it would skip that backlog forever.
func (c *Client) download(ctx context.Context) error {
	for {
		events, err := c.fetchWithRetry(ctx)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, ev := range events {
			if err := c.apply(ev); err != nil {
				return err
			}
			if ev.CommitSeq > c.lastSeen {
				c.lastSeen = ev.CommitSeq
			}
		}
		if err := c.api.Ack(ctx, c.deviceID, c.lastSeen); err != nil {
			return fmt.Errorf("ack watermark %d: %w", c.lastSeen, err)
		}
		if len(events) < c.cfg.DownloadBatch {
			return nil
		}
	}
}

// apply folds one committed event into the cached view.
func (c *Client) apply(ev event.Committed) error {
	if err := c.view.Apply(ev.Event); err != nil {
		return fmt.Errorf("apply %s to cached view: %w", ev.ID, err)
	}
	return nil
}

// submitWithRetry retries transient failures with exponential backoff:
// the initial attempt plus RetryAttempts retries, each preceded by its
// doubled delay. Terminal failures and protocol outcomes return
// immediately.
func (c *Client) submitWithRetry(ctx context.Context, ev event.Event) (Result, error) {
	var lastErr error
	backoff := Backoff{Base: c.cfg.RetryBase}
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoff.Delay(attempt-1)); err != nil {
				return Result{}, err
			}
		}
		res, err := c.api.Submit(ctx, ev)
		if err == nil {
			return res, nil
		}
		if !IsTransient(err) {
			return Result{}, fmt.Errorf("submit %s: %w", ev.ID, err)
		}
		lastErr = err
		slog.Debug("transient submit failure", "device", c.deviceID, "event", ev.ID, "attempt", attempt+1, "error", err)
	}
	c.notifier.Notify(ctx, notify.Notification{
		Type:     notify.TypeSyncFailed,
		Subject:  ev.ID,
		DeviceID: c.deviceID,
		At:       c.clock.Now(),
	})
	return Result{}, fmt.Errorf("submit %s: retries exhausted: %w", ev.ID, lastErr)
}

func (c *Client) fetchWithRetry(ctx context.Context) ([]event.Committed, error) {
	var lastErr error
	backoff := Backoff{Base: c.cfg.RetryBase}
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, backoff.Delay(attempt-1)); err != nil {
				return nil, err
			}
		}
		events, err := c.api.Fetch(ctx, c.deviceID, c.cfg.DownloadBatch)
		if err == nil {
			return events, nil
		}
		if !IsTransient(err) {
			return nil, fmt.Errorf("fetch for device %s: %w", c.deviceID, err)
		}
		lastErr = err
	}
	c.notifier.Notify(ctx, notify.Notification{
		Type:     notify.TypeSyncFailed,
		DeviceID: c.deviceID,
		At:       c.clock.Now(),
	})
	return nil, fmt.Errorf("fetch for device %s: retries exhausted: %w", c.deviceID, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
