package consensus

import (
	"context"
	"fmt"

	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/worldstate"
)

// ErrAlreadyCommitted marks a chained block that carries a transaction
// already present in an earlier committed block; such a block is rejected
// outright before any of its other transactions are validated.
var ErrAlreadyCommitted = fmt.Errorf("consensus: block contains an already-committed transaction")

// validateBlock partitions a Chained block's transactions into accepted
// and rejected, validating each in order against ws at view, and returns
// the resulting Valid block.
func validateBlock(ctx context.Context, ws worldstate.WorldState, view worldstate.View, chained core.Block) (core.Block, error) {
	if chained.Status != core.StatusChained {
		return core.Block{}, fmt.Errorf("consensus: validateBlock requires a chained block, got %s", chained.Status)
	}

	for _, tx := range chained.Accepted {
		if view.HasTransaction(tx.Hash) {
			return core.Block{}, ErrAlreadyCommitted
		}
	}

	var accepted []core.AcceptedTransaction
	var rejected []core.RejectedTransaction
	for _, tx := range chained.Accepted {
		outcome := ws.Validate(ctx, tx, view)
		if outcome.Accepted {
			accepted = append(accepted, tx)
		} else {
			rejected = append(rejected, core.RejectedTransaction{Transaction: tx, Reason: string(outcome.Reason)})
		}
	}

	return chained.ToValid(accepted, rejected, core.PeerSignature{}), nil
}
