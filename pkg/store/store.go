// Package store is the authoritative persistence layer of the mutation
// broker. The only write entry point is ApplyMutation, which lands the
// change and its audit entry as one atomic unit; everything else is a
// read. Two implementations exist: MemoryStore for tests and dev mode,
// PostgresStore for production.
package store

import (
	"context"

	"github.com/chantierhq/chantier/pkg/contracts"
)

// ValidationItem is the projection returned for items awaiting validation
// by a role. CurrentValue mirrors what the reviewing role would see.
type ValidationItem struct {
	ItemID       int64  `json:"item_id"`
	SectionID    string `json:"section_id"`
	SectionLabel string `json:"section_label"`
	Product      string `json:"product"`
	Status       string `json:"status"`
	CurrentValue string `json:"current_value,omitempty"`
}

// TodoItem is the projection for items needing follow-up action
// (rejected or change-ordered by a role).
type TodoItem struct {
	ItemID       int64  `json:"item_id"`
	SectionID    string `json:"section_id"`
	SectionLabel string `json:"section_label"`
	Product      string `json:"product"`
	ActionReason string `json:"action_reason"`
	LaborType    string `json:"labor_type,omitempty"`
}

// PricingSummary aggregates item pricing for a project.
type PricingSummary struct {
	TotalTTC  float64 `json:"total_ttc"`
	TotalHT   float64 `json:"total_ht"`
	ItemCount int     `json:"item_count"`
}

// ApplyRequest carries a validated mutation into storage. The diff was
// computed by the dry routine against current state; the descriptor says
// how to apply it.
type ApplyRequest struct {
	Descriptor contracts.MutationDescriptor
	Diff       contracts.Diff
	Source     contracts.Source
}

// Reader is the read-only face of the store, used by the query surface
// and the dry mutation routines.
type Reader interface {
	GetItem(ctx context.Context, id int64) (*contracts.Item, error)
	// GetApproval returns nil without error when no row exists.
	GetApproval(ctx context.Context, itemID int64, role contracts.Role) (*contracts.Approval, error)
	ListItemsNeedingValidation(ctx context.Context, role contracts.Role, projectID string) ([]ValidationItem, error)
	ListTodoItems(ctx context.Context, role contracts.Role, projectID string) ([]TodoItem, error)
	ListItemsBySection(ctx context.Context, sectionID, projectID string) ([]contracts.Item, error)
	SearchItems(ctx context.Context, productSearch, projectID string) ([]contracts.Item, error)
	GetPricingSummary(ctx context.Context, projectID string) (*PricingSummary, error)
}

// Store adds the single committing entry point.
type Store interface {
	Reader

	// ApplyMutation applies the diff and inserts the audit entry
	// atomically. Either both land or neither does. A request whose diff
	// is marked NoEffect returns success without touching storage and
	// without an audit entry.
	ApplyMutation(ctx context.Context, req ApplyRequest) (*contracts.AppliedMutation, error)
}
