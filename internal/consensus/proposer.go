package consensus

import (
	"context"
	"fmt"
	"time"

	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
	"github.com/irohad/sumeragi/internal/txqueue"
	"github.com/irohad/sumeragi/internal/worldstate"
)

// proposeBlock implements the leader side of Proposing: drain the queue,
// chain a block onto the current height, validate it against world state,
// and sign the resulting valid block with localKeyPair. Callers decide
// whether the drained batch was worth proposing; an empty batch still
// produces an empty block here, but empty blocks are neither broadcast nor
// voted on by the driver.
func proposeBlock(
	ctx context.Context,
	ws worldstate.WorldState,
	view worldstate.View,
	q *txqueue.Queue,
	maxPerBlock int,
	height uint64,
	parentHash crypto.Hash,
	viewChangeChain []core.ViewChangeProof,
	invalidated []crypto.Hash,
	genesis *core.GenesisTopology,
	localKeyPair crypto.KeyPair,
	now time.Time,
) (core.Block, error) {
	var drained []core.AcceptedTransaction
	drained = q.DrainForBlock(maxPerBlock, drained)

	pending := core.NewPendingBlock(drained)
	chained := pending.ToChained(height, parentHash, now.UnixMilli(), viewChangeChain, invalidated, genesis)

	valid, err := validateBlock(ctx, ws, view, chained)
	if err != nil {
		return core.Block{}, fmt.Errorf("consensus: validate proposed block: %w", err)
	}

	sig, err := crypto.Sign(localKeyPair.Private, valid.Header.Hash().Bytes())
	if err != nil {
		return core.Block{}, fmt.Errorf("consensus: sign proposed block: %w", err)
	}
	valid.ProposerSig = core.PeerSignature{Signer: localKeyPair.Public, Signature: sig}
	return valid, nil
}

// signBlock is the validator-side counterpart: produce this node's
// committee signature over a BlockCreated draft it has already validated.
func signBlock(localKeyPair crypto.KeyPair, block core.Block) (core.PeerSignature, error) {
	sig, err := crypto.Sign(localKeyPair.Private, block.Header.Hash().Bytes())
	if err != nil {
		return core.PeerSignature{}, fmt.Errorf("consensus: sign block %s: %w", block.Hash(), err)
	}
	return core.PeerSignature{Signer: localKeyPair.Public, Signature: sig}, nil
}

// verifyBlockSignature checks a single committee signature against a
// block's header hash.
func verifyBlockSignature(block core.Block, sig core.PeerSignature) error {
	return crypto.Verify(sig.Signer, block.Header.Hash().Bytes(), sig.Signature)
}
