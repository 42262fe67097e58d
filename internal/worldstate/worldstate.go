// Package worldstate declares the thin boundary interface the consensus
// core uses to validate transactions and apply committed blocks against
// committed chain state. The smart-contract execution engine, the
// permission/policy engine, and the disk-backed state implementation behind
// this interface are all out of scope; this package exists only
// so internal/consensus can depend on an interface rather than a concrete
// implementation.
package worldstate

import (
	"context"

	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
)

// RejectionReason explains why WorldState.Validate refused a transaction.
type RejectionReason string

// Outcome is the result of validating one transaction against a View.
type Outcome struct {
	Accepted bool
	Reason   RejectionReason
}

// View is a read-only, versioned snapshot of committed world state as of
// some committed height. The consensus engine holds one View at a time and
// replaces it wholesale on commit.
type View interface {
	// Height returns the height this view reflects (the height of the last
	// applied block).
	Height() uint64
	// HasTransaction reports whether hash was committed in some earlier
	// block, used for the InBlockchain / committed-transaction-uniqueness
	// checks.
	HasTransaction(hash crypto.Hash) bool
}

// WorldState is the out-of-scope collaborator that validates transactions
// against committed state and applies committed blocks to produce the next
// state version.
type WorldState interface {
	// CurrentView returns the most recently committed View.
	CurrentView() View
	// Validate checks a transaction against the given view using the
	// configured instruction-authorization and query-authorization
	// policies. It never mutates state.
	Validate(ctx context.Context, tx core.AcceptedTransaction, view View) Outcome
	// Apply commits a quorum-signed block to state and returns the next
	// View. An error here is logged by the caller, not retried inline:
	// the state machine cannot refuse a quorum-committed
	// block, but may refuse to advance its local view until reconciled.
	Apply(ctx context.Context, block core.Block) (View, error)
}
