// Package contracts defines the shared types of the agent mutation
// broker: domain records, mutation descriptors, pending actions, audit
// entries, and the caller-visible error taxonomy.
package contracts

import "time"

// Role identifies the approving party on an item.
type Role string

const (
	RoleClient     Role = "client"
	RoleContractor Role = "contractor"
)

// Valid reports whether the role is a member of the closed set.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleContractor
}

// ApprovalStatus is the closed status enumeration for approvals.
type ApprovalStatus string

const (
	StatusApproved    ApprovalStatus = "approved"
	StatusRejected    ApprovalStatus = "rejected"
	StatusChangeOrder ApprovalStatus = "change_order"
	StatusPending     ApprovalStatus = "pending"
	StatusSuppliedBy  ApprovalStatus = "supplied_by"
)

// Valid reports whether the status is a member of the closed set.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusChangeOrder, StatusPending, StatusSuppliedBy:
		return true
	}
	return false
}

// Item is a material line item. Product is the descriptive field used to
// check disambiguation hints.
type Item struct {
	ID           int64      `json:"id"`
	SectionID    string     `json:"section_id"`
	SectionLabel string     `json:"section_label"`
	ProjectID    string     `json:"project_id,omitempty"`
	Product      string     `json:"product"`
	Reference    string     `json:"reference,omitempty"`
	SupplierLink string     `json:"supplier_link,omitempty"`
	LaborType    string     `json:"labor_type,omitempty"`
	PriceTTC     *float64   `json:"price_ttc,omitempty"`
	PriceHTQuote *float64   `json:"price_ht_quote,omitempty"`
	Ordered      bool       `json:"ordered"`
	OrderDate    string     `json:"order_date,omitempty"`    // dd/mm
	DeliveryDate string     `json:"delivery_date,omitempty"` // dd/mm
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Approval tracks validation status of one item for one role.
// At most one approval exists per (item, role); writes upsert.
type Approval struct {
	ItemID          int64          `json:"item_id"`
	Role            Role           `json:"role"`
	Status          ApprovalStatus `json:"status"`
	Note            string         `json:"note,omitempty"`
	ReplacementURLs []string       `json:"replacement_urls,omitempty"`
	ValidatedAt     *time.Time     `json:"validated_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// HasReplacementURL reports whether the approval already carries the URL.
func (a *Approval) HasReplacementURL(url string) bool {
	for _, u := range a.ReplacementURLs {
		if u == url {
			return true
		}
	}
	return false
}
