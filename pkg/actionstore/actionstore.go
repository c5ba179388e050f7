// Package actionstore owns the pending-action tickets minted by the
// preview broker. A ticket may be read any number of times before
// expiry, redeemed exactly once, and never redeemed after expiry —
// regardless of sweep timing. The memory implementation is the default;
// the redis implementation extends exactly-once across processes.
package actionstore

import (
	"context"

	"github.com/chantierhq/chantier/pkg/contracts"
)

// Store is the ticket arena. principalID arguments enforce ticket scope:
// only the principal that minted the preview may redeem or cancel it. A
// ticket stored with an empty PrincipalID is unscoped and any caller may
// act on it (single-user deployments).
type Store interface {
	// Put stores a freshly minted ticket keyed by its id.
	Put(ctx context.Context, action *contracts.PendingAction) error

	// Peek reads a ticket without consuming it. Expired or unknown
	// tickets report NotFound.
	Peek(ctx context.Context, id string) (*contracts.PendingAction, error)

	// Redeem atomically checks not-expired and not-consumed, then marks
	// the ticket consumed and returns it. Under concurrent calls with the
	// same id exactly one caller succeeds; the rest get AlreadyConsumed.
	// The scope check happens before consumption, so a denied caller
	// does not burn the ticket.
	Redeem(ctx context.Context, id, principalID string) (*contracts.PendingAction, error)

	// Cancel marks a ticket consumed without executing it.
	Cancel(ctx context.Context, id, principalID string) error

	// Newest returns the most recently created unconsumed, unexpired
	// ticket for the principal, or NotFound. Used for chat-style "yes,
	// do it" confirmations that arrive without a ticket id.
	Newest(ctx context.Context, principalID string) (*contracts.PendingAction, error)
}

func errTicketNotFound() error {
	return contracts.E(contracts.KindNotFound, "no pending action for that id")
}

func errTicketExpired() error {
	return contracts.E(contracts.KindExpired, "pending action has expired, run the preview again")
}

func errTicketConsumed() error {
	return contracts.E(contracts.KindAlreadyConsumed, "pending action was already confirmed")
}

// scopeAllowed applies the ownership rule shared by both implementations.
func scopeAllowed(ticketPrincipal, caller string) bool {
	return ticketPrincipal == "" || ticketPrincipal == caller
}
