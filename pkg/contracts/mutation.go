package contracts

import "fmt"

// Op names a mutation routine. The set is closed: the broker dispatches
// on these constants and nothing else, so an unknown op is rejected at
// descriptor construction rather than falling through a string switch.
type Op string

const (
	OpUpdateField          Op = "update_field"
	OpUpdateApproval       Op = "update_approval"
	OpAddReplacementURL    Op = "add_replacement_url"
	OpRemoveReplacementURL Op = "remove_replacement_url"
)

// Valid reports whether the op is a member of the closed set.
func (o Op) Valid() bool {
	switch o {
	case OpUpdateField, OpUpdateApproval, OpAddReplacementURL, OpRemoveReplacementURL:
		return true
	}
	return false
}

// Field enumerates the item fields the agent may update. Anything not
// listed here is not reachable through the broker.
type Field string

const (
	FieldProduct      Field = "product"
	FieldReference    Field = "reference"
	FieldSupplierLink Field = "supplier_link"
	FieldLaborType    Field = "labor_type"
	FieldPriceTTC     Field = "price_ttc"
	FieldPriceHTQuote Field = "price_ht_quote"
	FieldOrderDate    Field = "order_date"
	FieldDeliveryDate Field = "delivery_date"
	FieldOrdered      Field = "ordered"
)

// Valid reports whether the field is a member of the closed set.
func (f Field) Valid() bool {
	switch f {
	case FieldProduct, FieldReference, FieldSupplierLink, FieldLaborType,
		FieldPriceTTC, FieldPriceHTQuote, FieldOrderDate, FieldDeliveryDate, FieldOrdered:
		return true
	}
	return false
}

// ParseField validates an external field name against the closed set.
func ParseField(name string) (Field, error) {
	f := Field(name)
	if !f.Valid() {
		return "", E(KindValidation, "field %q is not updatable", name)
	}
	return f, nil
}

// MutationDescriptor is the pure-data proposal produced by the agent
// layer and consumed by the preview broker. It never carries executable
// text.
type MutationDescriptor struct {
	Op          Op     `json:"op"`
	ItemID      int64  `json:"item_id"`
	Role        Role   `json:"role,omitempty"`
	Field       Field  `json:"field,omitempty"`
	NewValue    any    `json:"new_value,omitempty"`
	Hint        string `json:"hint,omitempty"`
	PrincipalID string `json:"principal_id,omitempty"`
}

// FieldPath renders the audit field path for the descriptor, matching
// the dotted form the edit history uses (e.g. "approvals.client.status").
func (d MutationDescriptor) FieldPath() string {
	switch d.Op {
	case OpUpdateApproval:
		return fmt.Sprintf("approvals.%s.status", d.Role)
	case OpAddReplacementURL, OpRemoveReplacementURL:
		return fmt.Sprintf("approvals.%s.replacement_urls", d.Role)
	default:
		return string(d.Field)
	}
}

// Diff is the computed effect of a mutation: what the named field holds
// now and what it would hold after the change.
type Diff struct {
	ItemID       int64  `json:"item_id"`
	Product      string `json:"product"`
	SectionLabel string `json:"section_label,omitempty"`
	FieldPath    string `json:"field_path"`
	OldValue     any    `json:"old_value"`
	NewValue     any    `json:"new_value"`

	// NoEffect marks the idempotent success case (adding a replacement
	// URL that is already present). The real routine reports success
	// without touching storage.
	NoEffect bool `json:"no_effect,omitempty"`
}

// AppliedMutation is the result of a committed mutation: the diff that
// landed plus the id of the audit entry written in the same transaction.
type AppliedMutation struct {
	Diff    Diff   `json:"diff"`
	AuditID string `json:"audit_id"`
}
