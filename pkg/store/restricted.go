package store

import (
	"context"

	"github.com/chantierhq/chantier/pkg/contracts"
	"github.com/chantierhq/chantier/pkg/principal"
)

// RestrictedStore guards a Store with the capabilities of the principal
// carried on each call's context. It is the defense-in-depth boundary:
// even if broker-level checks were bypassed, a request authenticated as
// the agent cannot reach ApplyMutation, because the store itself
// refuses it.
//
// Reads require CapRead. ApplyMutation requires CapConfirm plus the
// mutation capability matching the request's op; the agent principal
// holds the mutation grants (needed for dry previews) but never
// CapConfirm, so a direct write attempt under its identity fails. A
// context without a principal fails closed.
type RestrictedStore struct {
	inner Store
}

// Restrict wraps a store with per-request capability checks.
func Restrict(inner Store) *RestrictedStore {
	return &RestrictedStore{inner: inner}
}

func (s *RestrictedStore) require(ctx context.Context, caps ...principal.Capability) error {
	p := principal.FromContext(ctx)
	for _, c := range caps {
		if err := p.Require(c); err != nil {
			return err
		}
	}
	return nil
}

func (s *RestrictedStore) GetItem(ctx context.Context, id int64) (*contracts.Item, error) {
	if err := s.require(ctx, principal.CapRead); err != nil {
		return nil, err
	}
	return s.inner.GetItem(ctx, id)
}

func (s *RestrictedStore) GetApproval(ctx context.Context, itemID int64, role contracts.Role) (*contracts.Approval, error) {
	if err := s.require(ctx, principal.CapRead); err != nil {
		return nil, err
	}
	return s.inner.GetApproval(ctx, itemID, role)
}

func (s *RestrictedStore) ListItemsNeedingValidation(ctx context.Context, role contracts.Role, projectID string) ([]ValidationItem, error) {
	if err := s.require(ctx, principal.CapRead); err != nil {
		return nil, err
	}
	return s.inner.ListItemsNeedingValidation(ctx, role, projectID)
}

func (s *RestrictedStore) ListTodoItems(ctx context.Context, role contracts.Role, projectID string) ([]TodoItem, error) {
	if err := s.require(ctx, principal.CapRead); err != nil {
		return nil, err
	}
	return s.inner.ListTodoItems(ctx, role, projectID)
}

func (s *RestrictedStore) ListItemsBySection(ctx context.Context, sectionID, projectID string) ([]contracts.Item, error) {
	if err := s.require(ctx, principal.CapRead); err != nil {
		return nil, err
	}
	return s.inner.ListItemsBySection(ctx, sectionID, projectID)
}

func (s *RestrictedStore) SearchItems(ctx context.Context, productSearch, projectID string) ([]contracts.Item, error) {
	if err := s.require(ctx, principal.CapRead); err != nil {
		return nil, err
	}
	return s.inner.SearchItems(ctx, productSearch, projectID)
}

func (s *RestrictedStore) GetPricingSummary(ctx context.Context, projectID string) (*PricingSummary, error) {
	if err := s.require(ctx, principal.CapRead); err != nil {
		return nil, err
	}
	return s.inner.GetPricingSummary(ctx, projectID)
}

func (s *RestrictedStore) ApplyMutation(ctx context.Context, req ApplyRequest) (*contracts.AppliedMutation, error) {
	if err := s.require(ctx, principal.CapConfirm,
		principal.MutationCapability(req.Descriptor.Op)); err != nil {
		return nil, err
	}
	return s.inner.ApplyMutation(ctx, req)
}
