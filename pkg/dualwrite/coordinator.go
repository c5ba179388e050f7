// Package dualwrite coordinates writes across the authoritative postgres
// store and the legacy mirror during the migration period. The policy is
// asymmetric: the authoritative write must commit before the mirror is
// touched, and a mirror failure is logged but never surfaced to callers.
package dualwrite

import (
	"context"
	"log/slog"

	"github.com/chantierhq/chantier/pkg/contracts"
	"github.com/chantierhq/chantier/pkg/mirror"
	"github.com/chantierhq/chantier/pkg/store"
)

// Coordinator implements store.Store over a primary store and an
// optional mirror. A nil mirror disables mirroring entirely
// (post-migration mode).
type Coordinator struct {
	primary store.Store
	mirror  mirror.Mirror
	logger  *slog.Logger
}

// New creates a coordinator. logger may be nil.
func New(primary store.Store, m mirror.Mirror, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{primary: primary, mirror: m, logger: logger}
}

// ApplyMutation writes to the authoritative store first, inside its own
// transaction. Only after that commit succeeds is the mirror attempted;
// the mirror's outcome never changes the caller-visible result.
func (c *Coordinator) ApplyMutation(ctx context.Context, req store.ApplyRequest) (*contracts.AppliedMutation, error) {
	applied, err := c.primary.ApplyMutation(ctx, req)
	if err != nil {
		return nil, err
	}

	if c.mirror != nil {
		if merr := c.mirror.Apply(ctx, req); merr != nil {
			c.logger.Warn("mirror write failed, authoritative store is committed",
				"item_id", req.Descriptor.ItemID,
				"op", string(req.Descriptor.Op),
				"error", merr)
		}
	}
	return applied, nil
}

// GetItem prefers the authoritative store and falls back to the mirror
// only when the authoritative store is unreachable.
func (c *Coordinator) GetItem(ctx context.Context, id int64) (*contracts.Item, error) {
	item, err := c.primary.GetItem(ctx, id)
	if err == nil || c.mirror == nil || !contracts.IsKind(err, contracts.KindTransient) {
		return item, err
	}
	c.logger.Warn("authoritative store unreachable, serving item from mirror", "item_id", id, "error", err)
	return c.mirror.ReadItem(ctx, id)
}

// GetApproval prefers the authoritative store with the same fallback rule.
func (c *Coordinator) GetApproval(ctx context.Context, itemID int64, role contracts.Role) (*contracts.Approval, error) {
	a, err := c.primary.GetApproval(ctx, itemID, role)
	if err == nil || c.mirror == nil || !contracts.IsKind(err, contracts.KindTransient) {
		return a, err
	}
	c.logger.Warn("authoritative store unreachable, serving approval from mirror", "item_id", itemID, "error", err)
	return c.mirror.ReadApproval(ctx, itemID, role)
}

// The legacy mirror has no section or project data, so list projections
// are served by the authoritative store only.

func (c *Coordinator) ListItemsNeedingValidation(ctx context.Context, role contracts.Role, projectID string) ([]store.ValidationItem, error) {
	return c.primary.ListItemsNeedingValidation(ctx, role, projectID)
}

func (c *Coordinator) ListTodoItems(ctx context.Context, role contracts.Role, projectID string) ([]store.TodoItem, error) {
	return c.primary.ListTodoItems(ctx, role, projectID)
}

func (c *Coordinator) ListItemsBySection(ctx context.Context, sectionID, projectID string) ([]contracts.Item, error) {
	return c.primary.ListItemsBySection(ctx, sectionID, projectID)
}

func (c *Coordinator) SearchItems(ctx context.Context, productSearch, projectID string) ([]contracts.Item, error) {
	return c.primary.SearchItems(ctx, productSearch, projectID)
}

func (c *Coordinator) GetPricingSummary(ctx context.Context, projectID string) (*store.PricingSummary, error) {
	return c.primary.GetPricingSummary(ctx, projectID)
}
