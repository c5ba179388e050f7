package contracts

import "time"

// PendingAction is a single-use ticket minted by the preview broker.
// It is owned exclusively by the action store; no other component keeps
// a copy used for execution.
type PendingAction struct {
	// ID is an unguessable token from a cryptographically strong source.
	ID string `json:"id"`

	Descriptor MutationDescriptor `json:"descriptor"`

	// NLPText is the human-readable sentence shown for confirmation.
	NLPText string `json:"nlp_text"`

	// StructuredText is the parameterized call form equivalent to what
	// the real routine will execute. Diagnostic only, never executed.
	StructuredText string `json:"structured_text"`

	// PrincipalID scopes redemption to the principal that requested the
	// preview. Empty disables the check (single-user deployments).
	PrincipalID string `json:"principal_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Consumed  bool      `json:"consumed"`
}

// Expired reports whether the ticket is past its expiry at the given time.
func (a *PendingAction) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}
