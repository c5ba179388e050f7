// Package mutation implements the named mutation routines — the only
// code paths able to change item state. Every routine comes in a dry
// variant (validate + diff, never commits) and a real variant (same
// validation, then the atomic commit through the store). Both share one
// validation path so a preview is always truthful about what the real
// call will do.
package mutation

import (
	"context"
	"regexp"
	"strings"

	"github.com/chantierhq/chantier/pkg/contracts"
	"github.com/chantierhq/chantier/pkg/store"
)

var ddmmPattern = regexp.MustCompile(`^\d{2}/\d{2}$`)

// Routines dispatches mutation descriptors over a store. In production
// the store is the dual-write coordinator.
type Routines struct {
	store store.Store
}

// New creates the routine set.
func New(s store.Store) *Routines {
	return &Routines{store: s}
}

// Dry validates the descriptor against current state and computes the
// diff the real variant would commit. It never writes.
func (r *Routines) Dry(ctx context.Context, d contracts.MutationDescriptor) (*contracts.Diff, error) {
	if !d.Op.Valid() {
		return nil, contracts.E(contracts.KindValidation, "unknown mutation op %q", d.Op)
	}

	item, err := r.store.GetItem(ctx, d.ItemID)
	if err != nil {
		return nil, err
	}

	// Disambiguation hint: defends against the agent targeting the wrong
	// record from stale context. Substring match in either direction,
	// case-insensitive.
	if d.Hint != "" && !hintMatches(d.Hint, item.Product) {
		return nil, contracts.HintConflict(d.ItemID, d.Hint, item.Product)
	}

	switch d.Op {
	case contracts.OpUpdateField:
		return r.dryUpdateField(item, d)
	case contracts.OpUpdateApproval:
		return r.dryUpdateApproval(ctx, item, d)
	case contracts.OpAddReplacementURL:
		return r.dryAddReplacementURL(ctx, item, d)
	case contracts.OpRemoveReplacementURL:
		return r.dryRemoveReplacementURL(ctx, item, d)
	}
	return nil, contracts.E(contracts.KindValidation, "unknown mutation op %q", d.Op)
}

// Real runs the same validation as Dry, then commits the diff and its
// audit entry atomically.
func (r *Routines) Real(ctx context.Context, d contracts.MutationDescriptor, source contracts.Source) (*contracts.AppliedMutation, error) {
	diff, err := r.Dry(ctx, d)
	if err != nil {
		return nil, err
	}
	d.NewValue = diff.NewValue
	return r.store.ApplyMutation(ctx, store.ApplyRequest{
		Descriptor: d,
		Diff:       *diff,
		Source:     source,
	})
}

func (r *Routines) dryUpdateField(item *contracts.Item, d contracts.MutationDescriptor) (*contracts.Diff, error) {
	if !d.Field.Valid() {
		return nil, contracts.E(contracts.KindValidation, "field %q is not updatable", d.Field)
	}
	newValue, err := normalizeFieldValue(d.Field, d.NewValue)
	if err != nil {
		return nil, err
	}
	oldValue := currentFieldValue(item, d.Field)
	if oldValue == newValue {
		return nil, noChange(d, d.FieldPath(), newValue)
	}
	return &contracts.Diff{
		ItemID:       item.ID,
		Product:      item.Product,
		SectionLabel: item.SectionLabel,
		FieldPath:    d.FieldPath(),
		OldValue:     oldValue,
		NewValue:     newValue,
	}, nil
}

func (r *Routines) dryUpdateApproval(ctx context.Context, item *contracts.Item, d contracts.MutationDescriptor) (*contracts.Diff, error) {
	if !d.Role.Valid() {
		return nil, contracts.E(contracts.KindValidation, "invalid role %q", d.Role)
	}
	status, ok := d.NewValue.(string)
	if !ok || !contracts.ApprovalStatus(status).Valid() {
		return nil, contracts.E(contracts.KindValidation, "invalid approval status %v", d.NewValue)
	}

	approval, err := r.store.GetApproval(ctx, d.ItemID, d.Role)
	if err != nil {
		return nil, err
	}
	var oldValue any
	if approval != nil {
		oldValue = string(approval.Status)
		if string(approval.Status) == status {
			return nil, noChange(d, d.FieldPath(), status)
		}
	}
	return &contracts.Diff{
		ItemID:       item.ID,
		Product:      item.Product,
		SectionLabel: item.SectionLabel,
		FieldPath:    d.FieldPath(),
		OldValue:     oldValue,
		NewValue:     status,
	}, nil
}

func (r *Routines) dryAddReplacementURL(ctx context.Context, item *contracts.Item, d contracts.MutationDescriptor) (*contracts.Diff, error) {
	url, err := replacementArgs(d)
	if err != nil {
		return nil, err
	}
	approval, err := r.store.GetApproval(ctx, d.ItemID, d.Role)
	if err != nil {
		return nil, err
	}

	var existing []string
	if approval != nil {
		existing = approval.ReplacementURLs
	}
	diff := &contracts.Diff{
		ItemID:       item.ID,
		Product:      item.Product,
		SectionLabel: item.SectionLabel,
		FieldPath:    d.FieldPath(),
		OldValue:     existing,
		NewValue:     url,
	}
	if approval != nil && approval.HasReplacementURL(url) {
		// Adding a URL that is already present succeeds without effect.
		diff.NoEffect = true
	}
	return diff, nil
}

func (r *Routines) dryRemoveReplacementURL(ctx context.Context, item *contracts.Item, d contracts.MutationDescriptor) (*contracts.Diff, error) {
	url, err := replacementArgs(d)
	if err != nil {
		return nil, err
	}
	approval, err := r.store.GetApproval(ctx, d.ItemID, d.Role)
	if err != nil {
		return nil, err
	}
	if approval == nil || !approval.HasReplacementURL(url) {
		return nil, contracts.E(contracts.KindNotFound,
			"replacement url not present on item %d for role %s", d.ItemID, d.Role)
	}
	return &contracts.Diff{
		ItemID:       item.ID,
		Product:      item.Product,
		SectionLabel: item.SectionLabel,
		FieldPath:    d.FieldPath(),
		OldValue:     approval.ReplacementURLs,
		NewValue:     url,
	}, nil
}

func replacementArgs(d contracts.MutationDescriptor) (string, error) {
	if !d.Role.Valid() {
		return "", contracts.E(contracts.KindValidation, "invalid role %q", d.Role)
	}
	url, ok := d.NewValue.(string)
	if !ok || strings.TrimSpace(url) == "" {
		return "", contracts.E(contracts.KindValidation, "replacement url must be a non-empty string")
	}
	return strings.TrimSpace(url), nil
}

func noChange(d contracts.MutationDescriptor, fieldPath string, value any) *contracts.Error {
	e := contracts.E(contracts.KindNoChange, "%s already holds %v on item %d", fieldPath, value, d.ItemID)
	e.ItemID = d.ItemID
	e.Field = fieldPath
	return e
}

// hintMatches implements the two-way case-insensitive substring check.
func hintMatches(hint, product string) bool {
	h := strings.ToLower(strings.TrimSpace(hint))
	p := strings.ToLower(product)
	if h == "" {
		return true
	}
	return strings.Contains(p, h) || strings.Contains(h, p)
}

// normalizeFieldValue checks the value's type and domain for the target
// field and returns it in the canonical representation the store applies
// (string, float64, or bool). Numbers arriving as int (direct Go
// callers) or float64 (JSON) are both accepted.
func normalizeFieldValue(field contracts.Field, value any) (any, error) {
	switch field {
	case contracts.FieldPriceTTC, contracts.FieldPriceHTQuote:
		f, ok := asFloat(value)
		if !ok {
			return nil, contracts.E(contracts.KindValidation, "%s must be a number", field)
		}
		if f < 0 {
			return nil, contracts.E(contracts.KindValidation, "%s must be non-negative", field)
		}
		return f, nil

	case contracts.FieldOrdered:
		b, ok := value.(bool)
		if !ok {
			return nil, contracts.E(contracts.KindValidation, "%s must be a boolean", field)
		}
		return b, nil

	case contracts.FieldOrderDate, contracts.FieldDeliveryDate:
		s, ok := value.(string)
		if !ok || !ddmmPattern.MatchString(s) {
			return nil, contracts.E(contracts.KindValidation, "%s must match dd/mm", field)
		}
		return s, nil

	default:
		s, ok := value.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, contracts.E(contracts.KindValidation, "%s must be a non-empty string", field)
		}
		return strings.TrimSpace(s), nil
	}
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func currentFieldValue(item *contracts.Item, field contracts.Field) any {
	switch field {
	case contracts.FieldProduct:
		return item.Product
	case contracts.FieldReference:
		return item.Reference
	case contracts.FieldSupplierLink:
		return item.SupplierLink
	case contracts.FieldLaborType:
		return item.LaborType
	case contracts.FieldPriceTTC:
		if item.PriceTTC == nil {
			return nil
		}
		return *item.PriceTTC
	case contracts.FieldPriceHTQuote:
		if item.PriceHTQuote == nil {
			return nil
		}
		return *item.PriceHTQuote
	case contracts.FieldOrderDate:
		return item.OrderDate
	case contracts.FieldDeliveryDate:
		return item.DeliveryDate
	case contracts.FieldOrdered:
		return item.Ordered
	}
	return nil
}
