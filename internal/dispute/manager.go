package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/fieldledger/internal/event"
	"github.com/roach88/fieldledger/internal/notify"
	"github.com/roach88/fieldledger/internal/store"
)

// ErrResolutionIncomplete is returned when a resolution lacks the fields
// its outcome requires.
var ErrResolutionIncomplete = errors.New("resolution incomplete")

// Clock supplies dispute timestamps.
type Clock interface {
	Now() time.Time
}

// Manager owns dispute lifecycle and persistence.
type Manager struct {
	store    *store.Store
	notifier notify.Notifier
	ids      event.IDGenerator
	clock    Clock
}

// NewManager creates a dispute Manager.
func NewManager(s *store.Store, n notify.Notifier, ids event.IDGenerator, clock Clock) *Manager {
	return &Manager{store: s, notifier: n, ids: ids, clock: clock}
}

// OpenArgs describes a new dispute.
type OpenArgs struct {
	Source          Source
	OpenedBy        string
	RelatedEventIDs []string
	LocationID      string
	ProductID       string
	Expected        *event.Quantity
	Actual          *event.Quantity
	Note            string
}

// Open files a new dispute in open state.
func (m *Manager) Open(ctx context.Context, args OpenArgs) (*Dispute, error) {
	if args.OpenedBy == "" {
		return nil, fmt.Errorf("open dispute: opened_by is required")
	}
	now := m.clock.Now()
	d := &Dispute{
		ID:              m.ids.NewID(),
		Status:          StatusOpen,
		Source:          args.Source,
		RelatedEventIDs: args.RelatedEventIDs,
		LocationID:      args.LocationID,
		ProductID:       args.ProductID,
		Expected:        args.Expected,
		Actual:          args.Actual,
		OpenedBy:        args.OpenedBy,
		OpenedAt:        now,
	}
	if args.Note != "" {
		d.Notes = append(d.Notes, Note{Author: args.OpenedBy, Text: args.Note, At: now})
	}
	if err := m.save(ctx, d); err != nil {
		return nil, err
	}
	slog.Info("dispute opened", "id", d.ID, "source", d.Source, "product", d.ProductID)
	return d, nil
}

// Get loads a dispute by id.
func (m *Manager) Get(ctx context.Context, id string) (*Dispute, error) {
	rec, err := m.store.GetDispute(ctx, id)
	if err != nil {
		return nil, err
	}
	var d Dispute
	if err := json.Unmarshal(rec.Payload, &d); err != nil {
		return nil, fmt.Errorf("unmarshal dispute %s: %w", id, err)
	}
	return &d, nil
}

// List returns disputes, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status Status) ([]*Dispute, error) {
	recs, err := m.store.ListDisputes(ctx, string(status))
	if err != nil {
		return nil, err
	}
	out := make([]*Dispute, 0, len(recs))
	for _, rec := range recs {
		var d Dispute
		if err := json.Unmarshal(rec.Payload, &d); err != nil {
			return nil, fmt.Errorf("unmarshal dispute %s: %w", rec.ID, err)
		}
		out = append(out, &d)
	}
	return out, nil
}

// StartInvestigation moves an open or escalated dispute to investigating.
func (m *Manager) StartInvestigation(ctx context.Context, id, by string) (*Dispute, error) {
	d, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusOpen && d.Status != StatusEscalated {
		return nil, fmt.Errorf("dispute %s: cannot investigate from %s", id, d.Status)
	}
	d.Status = StatusInvestigating
	d.Notes = append(d.Notes, Note{Author: by, Text: "investigation started", At: m.clock.Now()})
	if err := m.save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// AddNote appends an investigation note.
func (m *Manager) AddNote(ctx context.Context, id, author, text string) (*Dispute, error) {
	d, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusResolved {
		return nil, fmt.Errorf("dispute %s is resolved", id)
	}
	d.Notes = append(d.Notes, Note{Author: author, Text: text, At: m.clock.Now()})
	if err := m.save(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Escalate flags an investigating dispute for management attention.
// Escalation emits a notification and loops back to investigating once
// picked up via StartInvestigation.
func (m *Manager) Escalate(ctx context.Context, id, by, reason string) (*Dispute, error) {
	d, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusInvestigating {
		return nil, fmt.Errorf("dispute %s: cannot escalate from %s", id, d.Status)
	}
	now := m.clock.Now()
	d.Status = StatusEscalated
	d.Notes = append(d.Notes, Note{Author: by, Text: "escalated: " + reason, At: now})
	if err := m.save(ctx, d); err != nil {
		return nil, err
	}
	m.notifier.Notify(ctx, notify.Notification{
		Type:    notify.TypeDisputeEscalated,
		Subject: d.ID,
		Detail:  map[string]string{"reason": reason, "escalated_by": by},
		At:      now,
	})
	return d, nil
}

// Resolve closes a dispute with an explicit resolution.
//
// Fails with ErrResolutionIncomplete when the outcome is write_off without
// an amount and authorizer, or corrected without corrective events.
func (m *Manager) Resolve(ctx context.Context, id string, res Resolution) (*Dispute, error) {
	d, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status == StatusResolved {
		return nil, fmt.Errorf("dispute %s already resolved", id)
	}
	if res.ResolvedBy == "" {
		return nil, fmt.Errorf("resolve dispute %s: %w: resolved_by is required", id, ErrResolutionIncomplete)
	}

	switch res.Outcome {
	case OutcomeWriteOff:
		if res.WriteOffAmount == nil || res.AuthorizedBy == "" {
			return nil, fmt.Errorf("resolve dispute %s: %w: write_off requires amount and authorizer", id, ErrResolutionIncomplete)
		}
	case OutcomeCorrected:
		if len(res.CorrectiveEventIDs) == 0 {
			return nil, fmt.Errorf("resolve dispute %s: %w: corrected requires corrective events", id, ErrResolutionIncomplete)
		}
	case OutcomeReconciled:
		// No extra requirements.
	default:
		return nil, fmt.Errorf("resolve dispute %s: unknown outcome %q", id, res.Outcome)
	}

	res.ResolvedAt = m.clock.Now()
	d.Status = StatusResolved
	d.Resolution = &res
	if err := m.save(ctx, d); err != nil {
		return nil, err
	}
	slog.Info("dispute resolved", "id", d.ID, "outcome", res.Outcome, "resolved_by", res.ResolvedBy)
	return d, nil
}

func (m *Manager) save(ctx context.Context, d *Dispute) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dispute %s: %w", d.ID, err)
	}
	return m.store.SaveDispute(ctx, d.ID, string(d.Status), payload, m.clock.Now())
}
