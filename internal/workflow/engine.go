package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fieldledger/internal/catalog"
	"github.com/roach88/fieldledger/internal/config"
	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/notify"
	"github.com/roach88/fieldledger/internal/store"
)

// Roles mapped to workflow steps.
const (
	RoleManager   = "manager"
	RoleWarehouse = "warehouse"
)

var (
	// ErrAlreadyExecuted means the request's events are committed, so
	// cancellation can no longer win.
	ErrAlreadyExecuted = errors.New("request already executed")

	// ErrCancellationSuperseded means an approval decision arrived at or
	// after the cancellation's timestamp; approval wins the race.
	ErrCancellationSuperseded = errors.New("cancellation superseded by approval")
)

// Appender commits the events a request produces. Implemented by
// ledger.Ledger.
type Appender interface {
	Append(ctx context.Context, ev event.Event) (event.Committed, error)
}

// Clock supplies decision timestamps.
type Clock interface {
	Now() time.Time
}

// Engine drives requests through the configured workflow steps.
type Engine struct {
	store    *store.Store
	ledger   Appender
	cat      *catalog.Snapshot
	cfg      config.WorkflowConfig
	notifier notify.Notifier
	ids      event.IDGenerator
	clock    Clock
}

// NewEngine creates an Engine bound to the given step configuration.
func NewEngine(s *store.Store, l Appender, cat *catalog.Snapshot, cfg config.WorkflowConfig, n notify.Notifier, ids event.IDGenerator, clock Clock) *Engine {
	return &Engine{store: s, ledger: l, cat: cat, cfg: cfg, notifier: n, ids: ids, clock: clock}
}

// CreateArgs describes a new request.
type CreateArgs struct {
	Type        Type
	InitiatedBy string
	Recipient   string
	Items       []LineItem
	Chain       []ChainStep
	ExpiresAt   *time.Time
}

// Create files a request in draft state.
func (e *Engine) Create(ctx context.Context, args CreateArgs) (*Request, error) {
	if !args.Type.Valid() {
		return nil, fmt.Errorf("create request: unknown type %q", args.Type)
	}
	if args.InitiatedBy == "" {
		return nil, fmt.Errorf("create request: initiator required")
	}
	if len(args.Items) == 0 {
		return nil, fmt.Errorf("create request: at least one line item required")
	}
	for i, it := range args.Items {
		if it.ProductID == "" {
			return nil, fmt.Errorf("create request: item %d missing product", i)
		}
		if !it.Quantity.IsPositive() {
			return nil, fmt.Errorf("create request: item %d quantity must be positive", i)
		}
	}
	chain := args.Chain
	if len(chain) == 0 && e.cfg.Approval {
		chain = []ChainStep{{RequiredRole: RoleManager, Decision: DecisionPending}}
	}

	now := e.clock.Now()
	req := &Request{
		ID:          e.ids.NewID(),
		Type:        args.Type,
		Status:      StatusDraft,
		InitiatedBy: args.InitiatedBy,
		Recipient:   args.Recipient,
		Items:       args.Items,
		Chain:       chain,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   args.ExpiresAt,
	}
	if err := e.save(ctx, req); err != nil {
		return nil, err
	}
	slog.Info("request created", "id", req.ID, "type", req.Type, "initiator", req.InitiatedBy)
	return req, nil
}

// Get loads a request by id.
func (e *Engine) Get(ctx context.Context, id string) (*Request, error) {
	rec, err := e.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	var req Request
	if err := json.Unmarshal(rec.Payload, &req); err != nil {
		return nil, fmt.Errorf("unmarshal request %s: %w", id, err)
	}
	return &req, nil
}

// List returns requests, optionally filtered by status.
func (e *Engine) List(ctx context.Context, status Status) ([]*Request, error) {
	recs, err := e.store.ListRequests(ctx, string(status))
	if err != nil {
		return nil, err
	}
	out := make([]*Request, 0, len(recs))
	for _, rec := range recs {
		var req Request
		if err := json.Unmarshal(rec.Payload, &req); err != nil {
			return nil, fmt.Errorf("unmarshal request %s: %w", rec.ID, err)
		}
		out = append(out, &req)
	}
	return out, nil
}

// Submit moves a draft into the first enabled step.
func (e *Engine) Submit(ctx context.Context, id string) (*Request, error) {
	req, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusDraft {
		return nil, fmt.Errorf("submit request %s: status %s, want draft", id, req.Status)
	}
	req.Status = firstStep(e.cfg)
	return req, e.update(ctx, req, "submitted")
}

// DecideArgs carries an approval-step decision.
type DecideArgs struct {
	By     string
	Reason string

	// DeniedItems lists line item indexes excluded by a partial
	// approval. Empty with Approve=true means full approval.
	DeniedItems []int
	Approve     bool

	// EmergencyOverride lets the initiator decide their own request. The
	// decision passes but is flagged for review.
	EmergencyOverride bool
}

// Decide records the decision for the current approval chain step. A
// denial requires a reason and is terminal. When every chain step has
// decided, the request advances past the approval step.
func (e *Engine) Decide(ctx context.Context, id string, args DecideArgs) (*Request, error) {
	req, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPendingApproval {
		return nil, fmt.Errorf("decide request %s: status %s, want %s", id, req.Status, StatusPendingApproval)
	}
	if e.expire(ctx, req) {
		return nil, fmt.Errorf("decide request %s: request expired", id)
	}
	if req.StepIndex >= len(req.Chain) {
		return nil, fmt.Errorf("decide request %s: approval chain exhausted", id)
	}
	step := &req.Chain[req.StepIndex]
	if err := e.checkDecider(req, step, args.By, args.EmergencyOverride); err != nil {
		return nil, fmt.Errorf("decide request %s: %w", id, err)
	}

	now := e.clock.Now()
	step.DecidedBy = args.By
	step.DecidedAt = now
	step.Reason = args.Reason
	step.EmergencyOverride = args.EmergencyOverride

	if args.EmergencyOverride {
		slog.Warn("request decided under emergency override", "id", req.ID, "by", args.By)
		e.notifier.Notify(ctx, notify.Notification{
			Type:    notify.TypeEmergencyOverridePending,
			Subject: req.ID,
			At:      now,
		})
	}

	if !args.Approve {
		if args.Reason == "" {
			return nil, fmt.Errorf("decide request %s: denial requires a reason", id)
		}
		step.Decision = DecisionDenied
		req.Status = StatusDenied
		req.DenialReason = args.Reason
		return req, e.update(ctx, req, "denied")
	}

	partial := len(args.DeniedItems) > 0
	if partial {
		step.Decision = DecisionPartial
		denied := make(map[int]bool, len(args.DeniedItems))
		for _, i := range args.DeniedItems {
			if i < 0 || i >= len(req.Items) {
				return nil, fmt.Errorf("decide request %s: no line item %d", id, i)
			}
			denied[i] = true
		}
		approvedAny := false
		for i := range req.Items {
			req.Items[i].Approved = !denied[i]
			approvedAny = approvedAny || req.Items[i].Approved
		}
		if !approvedAny {
			return nil, fmt.Errorf("decide request %s: partial approval must approve at least one item", id)
		}
	} else {
		step.Decision = DecisionApproved
		for i := range req.Items {
			req.Items[i].Approved = true
		}
	}

	req.StepIndex++
	if req.StepIndex < len(req.Chain) {
		// More chain steps to go; status unchanged.
		return req, e.update(ctx, req, "step approved")
	}

	req.ApprovedAt = now
	req.Status = Transition(StatusPendingApproval, e.cfg)
	if partial && req.Status == StatusApproved {
		req.Status = StatusPartiallyApproved
	}
	return req, e.update(ctx, req, "approved")
}

// Fulfill records warehouse fulfillment and advances the request.
func (e *Engine) Fulfill(ctx context.Context, id, by string) (*Request, error) {
	return e.advance(ctx, id, by, StepFulfillment)
}

// Pickup records recipient pickup and advances the request.
func (e *Engine) Pickup(ctx context.Context, id, by string) (*Request, error) {
	return e.advance(ctx, id, by, StepPickup)
}

// Acknowledge records the recipient's final acknowledgment.
func (e *Engine) Acknowledge(ctx context.Context, id, by string) (*Request, error) {
	return e.advance(ctx, id, by, StepAcknowledgment)
}

func (e *Engine) advance(ctx context.Context, id, by string, step Step) (*Request, error) {
	req, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	awaiting, ok := awaitingStep(req.Status)
	if !ok || awaiting != step {
		return nil, fmt.Errorf("%s request %s: status %s does not await %s", step, id, req.Status, step)
	}
	if e.expire(ctx, req) {
		return nil, fmt.Errorf("%s request %s: request expired", step, id)
	}
	if err := e.checkStepActor(req, step, by); err != nil {
		return nil, fmt.Errorf("%s request %s: %w", step, id, err)
	}
	req.Status = Transition(req.Status, e.cfg)
	return req, e.update(ctx, req, string(step))
}

// Cancel withdraws a request. Committed events can never be undone by
// cancellation, and when an approval decision raced the cancellation the
// later timestamp wins, with ties going to the approval.
func (e *Engine) Cancel(ctx context.Context, id, by string, requestedAt time.Time) (*Request, error) {
	req, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status == StatusExecuted || len(req.ProducedEventIDs) > 0 {
		return nil, fmt.Errorf("cancel request %s: %w", id, ErrAlreadyExecuted)
	}
	if req.Status.Terminal() {
		return nil, fmt.Errorf("cancel request %s: status %s is terminal", id, req.Status)
	}
	if !req.ApprovedAt.IsZero() && !req.ApprovedAt.Before(requestedAt) {
		return nil, fmt.Errorf("cancel request %s: %w", id, ErrCancellationSuperseded)
	}
	req.Status = StatusCancelled
	slog.Info("request cancelled", "id", req.ID, "by", by)
	return req, e.update(ctx, req, "cancelled")
}

// Execute commits the approved line items as ledger events and moves the
// request to executed. The produced event set is recorded on the request
// and never changes afterwards.
func (e *Engine) Execute(ctx context.Context, id, by string) (*Request, error) {
	req, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusCompleted {
		return nil, fmt.Errorf("execute request %s: status %s, want %s", id, req.Status, StatusCompleted)
	}

	kind, err := eventKind(req.Type)
	if err != nil {
		return nil, fmt.Errorf("execute request %s: %w", id, err)
	}
	now := e.clock.Now()
	var produced []string
	for i, it := range req.Items {
		if !it.Approved {
			continue
		}
		ev := event.Event{
			ID:           e.ids.NewID(),
			Kind:         kind,
			ProductID:    it.ProductID,
			Quantity:     it.Quantity,
			FromLocation: it.FromLocation,
			ToLocation:   it.ToLocation,
			Lot:          it.Lot,
			PerformedBy:  by,
			OccurredAt:   now,
			RequestID:    req.ID,
		}
		if kind == event.KindAdjust || kind == event.KindDispose {
			ev.AuthorizedBy = approverOf(req)
		}
		committed, err := e.ledger.Append(ctx, ev)
		if err != nil {
			// Already-committed lines stay committed; the request stays
			// completed so execution can resume after the cause clears.
			req.ProducedEventIDs = produced
			if saveErr := e.update(ctx, req, "execution interrupted"); saveErr != nil {
				return nil, errors.Join(err, saveErr)
			}
			return nil, fmt.Errorf("execute request %s: item %d: %w", id, i, err)
		}
		produced = append(produced, committed.ID)
	}

	req.ProducedEventIDs = produced
	req.Status = StatusExecuted
	return req, e.update(ctx, req, "executed")
}

// ExpireStale sweeps non-terminal requests past their deadline.
func (e *Engine) ExpireStale(ctx context.Context) (int, error) {
	recs, err := e.store.ListRequests(ctx, "")
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		var req Request
		if err := json.Unmarshal(rec.Payload, &req); err != nil {
			return n, fmt.Errorf("unmarshal request %s: %w", rec.ID, err)
		}
		if e.expire(ctx, &req) {
			n++
		}
	}
	return n, nil
}

// expire transitions a past-deadline request to expired. Returns whether
// it did.
func (e *Engine) expire(ctx context.Context, req *Request) bool {
	if req.Status.Terminal() || req.ExpiresAt == nil {
		return false
	}
	if e.clock.Now().Before(*req.ExpiresAt) {
		return false
	}
	req.Status = StatusExpired
	if err := e.update(ctx, req, "expired"); err != nil {
		slog.Error("expire request", "id", req.ID, "error", err)
	}
	return true
}

// checkDecider enforces the approval step's role gate and the two-phase
// authority rule: the initiator may not approve their own request unless
// under a logged emergency override.
func (e *Engine) checkDecider(req *Request, step *ChainStep, by string, override bool) error {
	if by == "" {
		return fmt.Errorf("decider identity required")
	}
	if by == req.InitiatedBy && !override {
		return fmt.Errorf("initiator %s cannot decide their own request", by)
	}
	if step.RequiredPerson != "" && by != step.RequiredPerson {
		return fmt.Errorf("step requires decision by %s", step.RequiredPerson)
	}
	p, ok := e.cat.Person(by)
	if !ok {
		return fmt.Errorf("unknown person %s", by)
	}
	if p.Terminated {
		return fmt.Errorf("person %s is terminated", by)
	}
	if step.RequiredRole != "" && p.Role != step.RequiredRole {
		return fmt.Errorf("person %s holds role %s, step requires %s", by, p.Role, step.RequiredRole)
	}
	return nil
}

// checkStepActor enforces the role mapped to a post-approval step:
// warehouse fulfills, the named recipient picks up and acknowledges.
func (e *Engine) checkStepActor(req *Request, step Step, by string) error {
	if by == "" {
		return fmt.Errorf("actor identity required")
	}
	switch step {
	case StepFulfillment:
		p, ok := e.cat.Person(by)
		if !ok {
			return fmt.Errorf("unknown person %s", by)
		}
		if p.Role != RoleWarehouse {
			return fmt.Errorf("fulfillment requires role %s, %s holds %s", RoleWarehouse, by, p.Role)
		}
	case StepPickup, StepAcknowledgment:
		if req.Recipient != "" && by != req.Recipient {
			return fmt.Errorf("%s requires recipient %s", step, req.Recipient)
		}
	}
	return nil
}

func eventKind(t Type) (event.Kind, error) {
	switch t {
	case TypeTransfer:
		return event.KindTransfer, nil
	case TypeAdjustment:
		return event.KindAdjust, nil
	case TypeDisposal:
		return event.KindDispose, nil
	case TypeOrder:
		return event.KindReceive, nil
	}
	return "", fmt.Errorf("no event kind for request type %q", t)
}

// approverOf returns the decider of the final approval step, if any.
func approverOf(req *Request) string {
	for i := len(req.Chain) - 1; i >= 0; i-- {
		if req.Chain[i].DecidedBy != "" {
			return req.Chain[i].DecidedBy
		}
	}
	return ""
}

func (e *Engine) update(ctx context.Context, req *Request, action string) error {
	req.UpdatedAt = e.clock.Now()
	if err := e.save(ctx, req); err != nil {
		return err
	}
	slog.Info("request "+action, "id", req.ID, "status", req.Status)
	return nil
}

func (e *Engine) save(ctx context.Context, req *Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request %s: %w", req.ID, err)
	}
	return e.store.SaveRequest(ctx, req.ID, string(req.Status), payload, e.clock.Now())
}
