package contracts

import "time"

// Source tags who drove a mutation.
type Source string

const (
	SourceManual Source = "manual"
	SourceAgent  Source = "agent"
)

// AuditEntry is one immutable row of the edit history. Every successful
// mutation writes exactly one, in the same transaction as the change
// itself. Entries outlive item deletion (item id nulled, descriptive
// columns kept).
type AuditEntry struct {
	ID           string    `json:"id"`
	ItemID       *int64    `json:"item_id"`
	SectionID    string    `json:"section_id,omitempty"`
	SectionLabel string    `json:"section_label,omitempty"`
	Product      string    `json:"product,omitempty"`
	FieldPath    string    `json:"field_path"`
	OldValue     any       `json:"old_value"`
	NewValue     any       `json:"new_value"`
	Source       Source    `json:"source"`
	Timestamp    time.Time `json:"timestamp"`
}
