// Package broker implements the two-phase preview → confirm protocol.
// The preview side runs the dry mutation routine, renders what would
// happen, and mints a single-use ticket; the confirm side redeems the
// ticket, re-validates against current state, and only then invokes the
// real routine. The agent never touches a committing code path directly.
package broker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/chantierhq/chantier/pkg/actionstore"
	"github.com/chantierhq/chantier/pkg/audit"
	"github.com/chantierhq/chantier/pkg/contracts"
	"github.com/chantierhq/chantier/pkg/mutation"
	"github.com/chantierhq/chantier/pkg/principal"
)

// DefaultTTL bounds how long a preview stays confirmable.
const DefaultTTL = 5 * time.Minute

// PreviewResult is returned to the caller for human review.
type PreviewResult struct {
	TicketID       string         `json:"ticket_id"`
	ExpiresAt      time.Time      `json:"expires_at"`
	NLPText        string         `json:"nlp_text"`
	StructuredText string         `json:"structured_text"`
	Diff           contracts.Diff `json:"diff"`
}

// ConfirmResult reports the applied mutation.
type ConfirmResult struct {
	Applied  bool   `json:"applied"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
	AuditID  string `json:"audit_id"`
}

// PeekResult is the non-consuming view of a pending action.
type PeekResult struct {
	NLPText        string    `json:"nlp_text"`
	StructuredText string    `json:"structured_text"`
	ExpiresAt      time.Time `json:"expires_at"`
	Consumed       bool      `json:"consumed"`
}

// Broker wires the routines, the ticket store, and the audit stream.
type Broker struct {
	routines *mutation.Routines
	actions  actionstore.Store
	audit    audit.Logger
	logger   *slog.Logger
	tracer   trace.Tracer
	ttl      time.Duration
	clock    func() time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithTTL overrides the ticket TTL.
func WithTTL(ttl time.Duration) Option {
	return func(b *Broker) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(b *Broker) { b.clock = clock }
}

// WithLogger overrides the slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) { b.logger = logger }
}

// New creates a broker.
func New(routines *mutation.Routines, actions actionstore.Store, auditLog audit.Logger, opts ...Option) *Broker {
	b := &Broker{
		routines: routines,
		actions:  actions,
		audit:    auditLog,
		logger:   slog.Default(),
		tracer:   otel.Tracer("chantier/broker"),
		ttl:      DefaultTTL,
		clock:    time.Now,
	}
	if b.audit == nil {
		b.audit = audit.Nop()
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Preview runs the dry routine and mints a single-use ticket. A preview
// of an invalid mutation fails exactly as the real mutation would.
func (b *Broker) Preview(ctx context.Context, p *principal.Principal, d contracts.MutationDescriptor) (*PreviewResult, error) {
	ctx, span := b.tracer.Start(ctx, "broker.preview",
		trace.WithAttributes(
			attribute.String("mutation.op", string(d.Op)),
			attribute.Int64("item.id", d.ItemID),
		))
	defer span.End()

	if err := b.requireAll(p, d.Op, principal.CapPreview); err != nil {
		b.denied(span, p, "preview", d.ItemID)
		return nil, err
	}
	// The restricted store resolves its capability checks from the
	// context, so the caller's identity must ride along.
	ctx = principal.NewContext(ctx, p)
	d.PrincipalID = p.ID

	diff, err := b.routines.Dry(ctx, d)
	if err != nil {
		span.SetStatus(codes.Error, string(contracts.KindOf(err)))
		return nil, err
	}

	now := b.clock()
	action := &contracts.PendingAction{
		ID:             newTicketID(),
		Descriptor:     d,
		NLPText:        renderNLP(d, diff),
		StructuredText: renderStructured(d, diff),
		PrincipalID:    p.ID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(b.ttl),
	}
	if err := b.actions.Put(ctx, action); err != nil {
		span.SetStatus(codes.Error, "action store put failed")
		return nil, err
	}

	span.SetAttributes(attribute.String("ticket.id", action.ID))
	b.audit.Record(p.ID, audit.EventPreview, string(d.Op), d.ItemID, map[string]any{
		"ticket_id":  action.ID,
		"field_path": diff.FieldPath,
	})
	return &PreviewResult{
		TicketID:       action.ID,
		ExpiresAt:      action.ExpiresAt,
		NLPText:        action.NLPText,
		StructuredText: action.StructuredText,
		Diff:           *diff,
	}, nil
}

// Confirm redeems the ticket and executes the real routine. Ticket-level
// failures (expired, consumed, unknown) surface as themselves; a
// re-validation failure surfaces as Stale, so a confirm never silently
// diverges from what the preview showed.
func (b *Broker) Confirm(ctx context.Context, p *principal.Principal, ticketID string) (*ConfirmResult, error) {
	ctx, span := b.tracer.Start(ctx, "broker.confirm",
		trace.WithAttributes(attribute.String("ticket.id", ticketID)))
	defer span.End()

	if err := p.Require(principal.CapConfirm); err != nil {
		b.denied(span, p, "confirm", 0)
		return nil, err
	}
	ctx = principal.NewContext(ctx, p)

	action, err := b.actions.Redeem(ctx, ticketID, p.ID)
	if err != nil {
		if contracts.IsKind(err, contracts.KindPermissionDenied) {
			b.denied(span, p, "confirm", 0)
		} else {
			span.SetStatus(codes.Error, string(contracts.KindOf(err)))
		}
		return nil, err
	}

	// The world may have changed since the preview was issued. Re-run the
	// dry validation; if it no longer holds, the ticket is spent and the
	// caller must re-ask for a fresh preview.
	if _, err := b.routines.Dry(ctx, action.Descriptor); err != nil {
		kind := contracts.KindOf(err)
		if kind == contracts.KindTransient || kind == contracts.KindPermissionDenied {
			span.SetStatus(codes.Error, string(kind))
			return nil, err
		}
		span.SetStatus(codes.Error, string(contracts.KindStale))
		stale := contracts.E(contracts.KindStale,
			"the item changed since the preview was issued (%s), run the preview again", kind)
		stale.ItemID = action.Descriptor.ItemID
		return nil, stale
	}

	applied, err := b.routines.Real(ctx, action.Descriptor, contracts.SourceAgent)
	if err != nil {
		span.SetStatus(codes.Error, string(contracts.KindOf(err)))
		return nil, err
	}

	b.audit.Record(p.ID, audit.EventMutation, string(action.Descriptor.Op), action.Descriptor.ItemID, map[string]any{
		"ticket_id":  ticketID,
		"field_path": applied.Diff.FieldPath,
		"audit_id":   applied.AuditID,
	})
	return &ConfirmResult{
		Applied:  true,
		OldValue: applied.Diff.OldValue,
		NewValue: applied.Diff.NewValue,
		AuditID:  applied.AuditID,
	}, nil
}

// Peek re-reads a pending action without consuming it.
func (b *Broker) Peek(ctx context.Context, ticketID string) (*PeekResult, error) {
	action, err := b.actions.Peek(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	return &PeekResult{
		NLPText:        action.NLPText,
		StructuredText: action.StructuredText,
		ExpiresAt:      action.ExpiresAt,
		Consumed:       action.Consumed,
	}, nil
}

// Cancel marks the ticket consumed without executing it.
func (b *Broker) Cancel(ctx context.Context, p *principal.Principal, ticketID string) error {
	if err := p.Require(principal.CapPreview); err != nil {
		b.denied(nil, p, "cancel", 0)
		return err
	}
	if err := b.actions.Cancel(ctx, ticketID, p.ID); err != nil {
		return err
	}
	b.audit.Record(p.ID, audit.EventCancel, "cancel", 0, map[string]any{"ticket_id": ticketID})
	return nil
}

// MostRecentPending returns the newest unconsumed, unexpired ticket for
// the principal. Used when a user confirms via text ("yes, do it")
// instead of the modal carrying the ticket id.
func (b *Broker) MostRecentPending(ctx context.Context, p *principal.Principal) (*contracts.PendingAction, error) {
	if err := p.Require(principal.CapPreview); err != nil {
		return nil, err
	}
	return b.actions.Newest(ctx, p.ID)
}

func (b *Broker) requireAll(p *principal.Principal, op contracts.Op, cap principal.Capability) error {
	if err := p.Require(cap); err != nil {
		return err
	}
	return p.Require(principal.MutationCapability(op))
}

// denied records a capability violation. High severity, full detail in
// the server-side logs only.
func (b *Broker) denied(span trace.Span, p *principal.Principal, action string, itemID int64) {
	id := ""
	if p != nil {
		id = p.ID
	}
	if span != nil {
		span.SetStatus(codes.Error, string(contracts.KindPermissionDenied))
	}
	b.logger.Error("capability violation", "principal", id, "action", action, "item_id", itemID)
	b.audit.Record(id, audit.EventSecurity, action, itemID, nil)
}

// newTicketID returns an unguessable url-safe token (256 bits).
func newTicketID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
