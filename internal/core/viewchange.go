package core

import (
	"fmt"

	"github.com/irohad/sumeragi/internal/crypto"
)

// ViewChangeReason identifies why a peer believes the current view should
// advance.
type ViewChangeReason uint8

const (
	// ReasonNoTransactionReceipt fires when a non-leader forwards a
	// transaction to the leader and gets no TransactionReceipt back within
	// tx_receipt_time.
	ReasonNoTransactionReceipt ViewChangeReason = iota
	// ReasonBlockCreationTimeout fires when no BlockCreated arrives within
	// block_time of becoming the expected proposer's turn.
	ReasonBlockCreationTimeout
	// ReasonCommitTimeout fires when no BlockCommitted/quorum arrives within
	// commit_time of a block being proposed.
	ReasonCommitTimeout
)

func (r ViewChangeReason) String() string {
	switch r {
	case ReasonNoTransactionReceipt:
		return "no_transaction_receipt"
	case ReasonBlockCreationTimeout:
		return "block_creation_timeout"
	case ReasonCommitTimeout:
		return "commit_timeout"
	default:
		return "unknown"
	}
}

// PeerSignature pairs a signature with the identity of the signer, used
// anywhere a message accumulates an unordered set of witnesses (committee
// signatures on a block, signatures on a view-change proof).
type PeerSignature struct {
	Signer    crypto.PublicKey
	Signature crypto.Signature
}

// ViewChangeProof is a signed testimony that the current view should
// advance: a reason, the latest block hash, the preceding view-change
// hash, and the set of peer signatures gathered so far. A chain of proofs
// is itself hash-linkable and totally orders view changes.
type ViewChangeProof struct {
	Reason               ViewChangeReason
	LatestBlockHash       crypto.Hash
	PriorViewChangeHash   crypto.Hash
	Signatures            []PeerSignature
	// FailedBlockHash is set only for ReasonCommitTimeout, identifying the
	// voting block that timed out so it can be appended to the next
	// proposal's invalidated-block list.
	FailedBlockHash       crypto.Hash
	HasFailedBlockHash    bool
}

// contentBytes returns the canonical encoding of the portion of the proof
// that identifies it (reason + parent + prior chain), used both as the
// signed payload and as the proof's own identity hash for vote tallying.
func (p ViewChangeProof) contentBytes() []byte {
	e := newEncoder()
	e.writeUint8(uint8(p.Reason))
	e.buf.Write(p.LatestBlockHash[:])
	e.buf.Write(p.PriorViewChangeHash[:])
	return e.bytes()
}

// Hash identifies this proof for vote-tally indexing purposes: it is the
// hash of reason + parent + prior chain, independent of which signatures
// have accumulated so far.
func (p ViewChangeProof) Hash() crypto.Hash {
	return crypto.SumBytes(p.contentBytes())
}

// Encode returns the canonical binary encoding of the full proof, including
// its accumulated signatures and optional failed-block hash.
func (p ViewChangeProof) Encode() []byte {
	e := newEncoder()
	e.buf.Write(p.contentBytes())
	if p.HasFailedBlockHash {
		e.writeUint8(1)
		e.buf.Write(p.FailedBlockHash[:])
	} else {
		e.writeUint8(0)
	}
	e.writeUint32(uint32(len(p.Signatures)))
	for _, ps := range p.Signatures {
		e.writeUint8(uint8(ps.Signer.Algorithm))
		e.writeBytes(ps.Signer.Raw)
		e.writeUint8(uint8(ps.Signature.Algorithm))
		e.writeBytes(ps.Signature.Bytes)
	}
	return e.bytes()
}

// DecodeViewChangeProof parses a ViewChangeProof from its canonical
// encoding.
func DecodeViewChangeProof(b []byte) (ViewChangeProof, error) {
	d := newDecoder(b)
	var p ViewChangeProof
	reason, err := d.readUint8()
	if err != nil {
		return ViewChangeProof{}, fmt.Errorf("core: decode view change reason: %w", err)
	}
	p.Reason = ViewChangeReason(reason)

	latest, err := d.readFixed32()
	if err != nil {
		return ViewChangeProof{}, fmt.Errorf("core: decode latest block hash: %w", err)
	}
	p.LatestBlockHash = latest

	prior, err := d.readFixed32()
	if err != nil {
		return ViewChangeProof{}, fmt.Errorf("core: decode prior view change hash: %w", err)
	}
	p.PriorViewChangeHash = prior

	hasFailed, err := d.readUint8()
	if err != nil {
		return ViewChangeProof{}, fmt.Errorf("core: decode failed-block marker: %w", err)
	}
	if hasFailed == 1 {
		failed, err := d.readFixed32()
		if err != nil {
			return ViewChangeProof{}, fmt.Errorf("core: decode failed block hash: %w", err)
		}
		p.FailedBlockHash = failed
		p.HasFailedBlockHash = true
	}

	nSig, err := d.readUint32()
	if err != nil {
		return ViewChangeProof{}, fmt.Errorf("core: decode signature count: %w", err)
	}
	p.Signatures = make([]PeerSignature, 0, nSig)
	for i := uint32(0); i < nSig; i++ {
		signerAlgo, err := d.readUint8()
		if err != nil {
			return ViewChangeProof{}, fmt.Errorf("core: decode signer algorithm: %w", err)
		}
		signerRaw, err := d.readBytes()
		if err != nil {
			return ViewChangeProof{}, fmt.Errorf("core: decode signer key: %w", err)
		}
		sigAlgo, err := d.readUint8()
		if err != nil {
			return ViewChangeProof{}, fmt.Errorf("core: decode signature algorithm: %w", err)
		}
		sigBytes, err := d.readBytes()
		if err != nil {
			return ViewChangeProof{}, fmt.Errorf("core: decode signature bytes: %w", err)
		}
		p.Signatures = append(p.Signatures, PeerSignature{
			Signer:    crypto.PublicKey{Algorithm: crypto.Algorithm(signerAlgo), Raw: signerRaw},
			Signature: crypto.Signature{Algorithm: crypto.Algorithm(sigAlgo), Bytes: sigBytes},
		})
	}
	if !d.done() {
		return ViewChangeProof{}, fmt.Errorf("core: decode view change proof: trailing bytes")
	}
	return p, nil
}

// WithSignature returns a copy of p with sig merged in if no signature from
// the same signer is already present; the boolean result reports whether a
// new signature was actually added (the caller uses this to decide
// whether to re-broadcast).
func (p ViewChangeProof) WithSignature(sig PeerSignature) (ViewChangeProof, bool) {
	for _, existing := range p.Signatures {
		if existing.Signer.Algorithm == sig.Signer.Algorithm && string(existing.Signer.Raw) == string(sig.Signer.Raw) {
			return p, false
		}
	}
	next := p
	next.Signatures = append(append([]PeerSignature(nil), p.Signatures...), sig)
	return next, true
}
