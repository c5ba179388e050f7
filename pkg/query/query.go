// Package query is the read-only surface exposed to the conversational
// agent. Every method validates its inputs and delegates to the store;
// none of them can cause a write.
package query

import (
	"context"
	"strings"

	"github.com/chantierhq/chantier/pkg/contracts"
	"github.com/chantierhq/chantier/pkg/store"
)

// Service answers agent queries against a Reader. It carries no state
// of its own.
type Service struct {
	store store.Reader
}

// New creates a query service over a reader, which is usually a
// RestrictedStore so capability checks apply here too.
func New(r store.Reader) *Service {
	return &Service{store: r}
}

// Item returns a single item by id.
func (s *Service) Item(ctx context.Context, id int64) (*contracts.Item, error) {
	if id <= 0 {
		return nil, contracts.E(contracts.KindValidation, "item id must be positive")
	}
	return s.store.GetItem(ctx, id)
}

// Approval returns the approval of an item for a role, or nil when the
// role has not yet reviewed the item.
func (s *Service) Approval(ctx context.Context, itemID int64, role contracts.Role) (*contracts.Approval, error) {
	if itemID <= 0 {
		return nil, contracts.E(contracts.KindValidation, "item id must be positive")
	}
	if !role.Valid() {
		return nil, contracts.E(contracts.KindValidation, "unknown role %q", role)
	}
	return s.store.GetApproval(ctx, itemID, role)
}

// ItemsNeedingValidation lists items the given role still has to review.
func (s *Service) ItemsNeedingValidation(ctx context.Context, role contracts.Role, projectID string) ([]store.ValidationItem, error) {
	if !role.Valid() {
		return nil, contracts.E(contracts.KindValidation, "unknown role %q", role)
	}
	return s.store.ListItemsNeedingValidation(ctx, role, projectID)
}

// TodoItems lists items a role rejected or change-ordered, which need
// follow-up from the other party.
func (s *Service) TodoItems(ctx context.Context, role contracts.Role, projectID string) ([]store.TodoItem, error) {
	if !role.Valid() {
		return nil, contracts.E(contracts.KindValidation, "unknown role %q", role)
	}
	return s.store.ListTodoItems(ctx, role, projectID)
}

// ItemsBySection lists all items of one section.
func (s *Service) ItemsBySection(ctx context.Context, sectionID, projectID string) ([]contracts.Item, error) {
	if strings.TrimSpace(sectionID) == "" {
		return nil, contracts.E(contracts.KindValidation, "section id is required")
	}
	return s.store.ListItemsBySection(ctx, sectionID, projectID)
}

// SearchItems finds items whose product matches the search text,
// case-insensitively.
func (s *Service) SearchItems(ctx context.Context, productSearch, projectID string) ([]contracts.Item, error) {
	if strings.TrimSpace(productSearch) == "" {
		return nil, contracts.E(contracts.KindValidation, "search text is required")
	}
	return s.store.SearchItems(ctx, productSearch, projectID)
}

// PricingSummary aggregates pricing across a project.
func (s *Service) PricingSummary(ctx context.Context, projectID string) (*store.PricingSummary, error) {
	return s.store.GetPricingSummary(ctx, projectID)
}
