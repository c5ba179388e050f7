package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chantierhq/chantier/pkg/contracts"
)

type approvalKey struct {
	itemID int64
	role   contracts.Role
}

// MemoryStore implements Store in memory. Thread-safe via RWMutex; a
// single lock around ApplyMutation gives the same atomicity the postgres
// implementation gets from a transaction.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[int64]*contracts.Item
	approvals map[approvalKey]*contracts.Approval
	audit     []contracts.AuditEntry
	clock     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items:     make(map[int64]*contracts.Item),
		approvals: make(map[approvalKey]*contracts.Approval),
		clock:     time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

// PutItem seeds or replaces an item. Dev/test helper, not part of Store.
func (s *MemoryStore) PutItem(item contracts.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = &item
}

// PutApproval seeds or replaces an approval. Dev/test helper.
func (s *MemoryStore) PutApproval(a contracts.Approval) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approvals[approvalKey{a.ItemID, a.Role}] = &a
}

// AuditEntries returns a copy of the audit log, oldest first.
func (s *MemoryStore) AuditEntries() []contracts.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]contracts.AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

func (s *MemoryStore) GetItem(ctx context.Context, id int64) (*contracts.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, contracts.NotFoundItem(id)
	}
	val := *item
	return &val, nil
}

func (s *MemoryStore) GetApproval(ctx context.Context, itemID int64, role contracts.Role) (*contracts.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.approvals[approvalKey{itemID, role}]
	if !ok {
		return nil, nil
	}
	val := *a
	val.ReplacementURLs = append([]string(nil), a.ReplacementURLs...)
	return &val, nil
}

func (s *MemoryStore) ListItemsNeedingValidation(ctx context.Context, role contracts.Role, projectID string) ([]ValidationItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []ValidationItem{}
	for _, item := range s.sortedItems() {
		if projectID != "" && item.ProjectID != projectID {
			continue
		}
		a := s.approvals[approvalKey{item.ID, role}]
		status := string(contracts.StatusPending)
		if a != nil {
			if a.Status != contracts.StatusPending {
				continue
			}
			status = string(a.Status)
		}
		out = append(out, ValidationItem{
			ItemID:       item.ID,
			SectionID:    item.SectionID,
			SectionLabel: item.SectionLabel,
			Product:      item.Product,
			Status:       status,
			CurrentValue: item.Reference,
		})
	}
	return out, nil
}

func (s *MemoryStore) ListTodoItems(ctx context.Context, role contracts.Role, projectID string) ([]TodoItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []TodoItem{}
	for _, item := range s.sortedItems() {
		if projectID != "" && item.ProjectID != projectID {
			continue
		}
		a := s.approvals[approvalKey{item.ID, role}]
		if a == nil {
			continue
		}
		if a.Status != contracts.StatusRejected && a.Status != contracts.StatusChangeOrder {
			continue
		}
		out = append(out, TodoItem{
			ItemID:       item.ID,
			SectionID:    item.SectionID,
			SectionLabel: item.SectionLabel,
			Product:      item.Product,
			ActionReason: string(a.Status),
			LaborType:    item.LaborType,
		})
	}
	return out, nil
}

func (s *MemoryStore) ListItemsBySection(ctx context.Context, sectionID, projectID string) ([]contracts.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []contracts.Item{}
	for _, item := range s.sortedItems() {
		if item.SectionID != sectionID {
			continue
		}
		if projectID != "" && item.ProjectID != projectID {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *MemoryStore) SearchItems(ctx context.Context, productSearch, projectID string) ([]contracts.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(productSearch)
	out := []contracts.Item{}
	for _, item := range s.sortedItems() {
		if projectID != "" && item.ProjectID != projectID {
			continue
		}
		if !strings.Contains(strings.ToLower(item.Product), needle) {
			continue
		}
		out = append(out, *item)
	}
	return out, nil
}

func (s *MemoryStore) GetPricingSummary(ctx context.Context, projectID string) (*PricingSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	summary := &PricingSummary{}
	for _, item := range s.items {
		if projectID != "" && item.ProjectID != projectID {
			continue
		}
		summary.ItemCount++
		if item.PriceTTC != nil {
			summary.TotalTTC += *item.PriceTTC
		}
		if item.PriceHTQuote != nil {
			summary.TotalHT += *item.PriceHTQuote
		}
	}
	return summary, nil
}

func (s *MemoryStore) ApplyMutation(ctx context.Context, req ApplyRequest) (*contracts.AppliedMutation, error) {
	if req.Diff.NoEffect {
		return &contracts.AppliedMutation{Diff: req.Diff}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d := req.Descriptor
	item, ok := s.items[d.ItemID]
	if !ok {
		return nil, contracts.NotFoundItem(d.ItemID)
	}
	now := s.clock()

	switch d.Op {
	case contracts.OpUpdateField:
		if err := applyItemField(item, d.Field, req.Diff.NewValue); err != nil {
			return nil, err
		}
		item.UpdatedAt = now

	case contracts.OpUpdateApproval:
		key := approvalKey{d.ItemID, d.Role}
		a, ok := s.approvals[key]
		if !ok {
			a = &contracts.Approval{ItemID: d.ItemID, Role: d.Role}
			s.approvals[key] = a
		}
		a.Status = contracts.ApprovalStatus(req.Diff.NewValue.(string))
		a.ValidatedAt = &now
		a.UpdatedAt = now

	case contracts.OpAddReplacementURL:
		key := approvalKey{d.ItemID, d.Role}
		a, ok := s.approvals[key]
		if !ok {
			a = &contracts.Approval{ItemID: d.ItemID, Role: d.Role, Status: contracts.StatusPending}
			s.approvals[key] = a
		}
		url := d.NewValue.(string)
		if !a.HasReplacementURL(url) {
			a.ReplacementURLs = append(a.ReplacementURLs, url)
		}
		a.UpdatedAt = now

	case contracts.OpRemoveReplacementURL:
		key := approvalKey{d.ItemID, d.Role}
		a, ok := s.approvals[key]
		url := d.NewValue.(string)
		if !ok || !a.HasReplacementURL(url) {
			return nil, contracts.E(contracts.KindNotFound, "replacement url not present on item %d for role %s", d.ItemID, d.Role)
		}
		kept := a.ReplacementURLs[:0]
		for _, u := range a.ReplacementURLs {
			if u != url {
				kept = append(kept, u)
			}
		}
		a.ReplacementURLs = kept
		a.UpdatedAt = now

	default:
		return nil, contracts.E(contracts.KindValidation, "unknown mutation op %q", d.Op)
	}

	itemID := item.ID
	entry := contracts.AuditEntry{
		ID:           uuid.New().String(),
		ItemID:       &itemID,
		SectionID:    item.SectionID,
		SectionLabel: item.SectionLabel,
		Product:      item.Product,
		FieldPath:    req.Diff.FieldPath,
		OldValue:     req.Diff.OldValue,
		NewValue:     req.Diff.NewValue,
		Source:       req.Source,
		Timestamp:    now,
	}
	s.audit = append(s.audit, entry)

	return &contracts.AppliedMutation{Diff: req.Diff, AuditID: entry.ID}, nil
}

// applyItemField sets one field of the closed variant set. Values arrive
// pre-normalized by the mutation layer (strings, float64, bool).
func applyItemField(item *contracts.Item, field contracts.Field, value any) error {
	switch field {
	case contracts.FieldProduct:
		item.Product = value.(string)
	case contracts.FieldReference:
		item.Reference = value.(string)
	case contracts.FieldSupplierLink:
		item.SupplierLink = value.(string)
	case contracts.FieldLaborType:
		item.LaborType = value.(string)
	case contracts.FieldPriceTTC:
		v := value.(float64)
		item.PriceTTC = &v
	case contracts.FieldPriceHTQuote:
		v := value.(float64)
		item.PriceHTQuote = &v
	case contracts.FieldOrderDate:
		item.OrderDate = value.(string)
	case contracts.FieldDeliveryDate:
		item.DeliveryDate = value.(string)
	case contracts.FieldOrdered:
		item.Ordered = value.(bool)
	default:
		return contracts.E(contracts.KindValidation, "field %q is not updatable", field)
	}
	return nil
}

func (s *MemoryStore) sortedItems() []*contracts.Item {
	out := make([]*contracts.Item, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
