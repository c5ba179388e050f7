// Package principal models the restricted execution principal: a caller
// bound to an explicit capability set. The agent's principal can read and
// invoke the enumerated preview routines; it is never granted raw write
// access, so even a manipulated agent cannot reach storage except through
// the named mutation entry points.
package principal

import "github.com/chantierhq/chantier/pkg/contracts"

// Capability names one grantable operation. Capabilities are typed
// constants, not free-form strings, so a grant outside the set is a
// compile-time error.
type Capability string

const (
	// CapRead allows arbitrary read queries through the query surface.
	CapRead Capability = "read"

	// CapPreview allows minting preview tickets (dry-run only).
	CapPreview Capability = "preview"

	// CapConfirm allows redeeming tickets, which is the only path to a
	// committing mutation.
	CapConfirm Capability = "confirm"

	// Per-routine mutation capabilities. Both the dry and real variant of
	// a routine require the matching grant.
	CapMutateField          Capability = "mutate:field"
	CapMutateApproval       Capability = "mutate:approval"
	CapMutateReplacementURL Capability = "mutate:replacement_url"
)

// Principal is an authenticated caller with its granted capabilities.
type Principal struct {
	ID           string
	capabilities map[Capability]struct{}
}

// New creates a principal with the given grants.
func New(id string, caps ...Capability) *Principal {
	p := &Principal{ID: id, capabilities: make(map[Capability]struct{}, len(caps))}
	for _, c := range caps {
		p.capabilities[c] = struct{}{}
	}
	return p
}

// Agent returns the standard agent principal: read everything, preview
// every routine, confirm nothing.
func Agent(id string) *Principal {
	return New(id, CapRead, CapPreview,
		CapMutateField, CapMutateApproval, CapMutateReplacementURL)
}

// Operator returns the standard human principal: read, confirm, and the
// mutation grants needed for the confirm path to execute real routines.
func Operator(id string) *Principal {
	return New(id, CapRead, CapPreview, CapConfirm,
		CapMutateField, CapMutateApproval, CapMutateReplacementURL)
}

// Allowed reports whether the principal holds the capability. A nil
// principal holds nothing (fail closed).
func (p *Principal) Allowed(c Capability) bool {
	if p == nil {
		return false
	}
	_, ok := p.capabilities[c]
	return ok
}

// Require returns PermissionDenied unless the principal holds the
// capability. The returned error never names the missing grant.
func (p *Principal) Require(c Capability) error {
	if !p.Allowed(c) {
		return contracts.PermissionDenied()
	}
	return nil
}

// Capabilities returns the grants as strings, for token issuance.
func (p *Principal) Capabilities() []string {
	out := make([]string, 0, len(p.capabilities))
	for c := range p.capabilities {
		out = append(out, string(c))
	}
	return out
}

// MutationCapability maps a mutation op to the capability its routines
// require. Unknown ops map to an empty capability, which no principal
// holds.
func MutationCapability(op contracts.Op) Capability {
	switch op {
	case contracts.OpUpdateField:
		return CapMutateField
	case contracts.OpUpdateApproval:
		return CapMutateApproval
	case contracts.OpAddReplacementURL, contracts.OpRemoveReplacementURL:
		return CapMutateReplacementURL
	}
	return Capability("")
}
