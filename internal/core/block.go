package core

import (
	"fmt"

	"github.com/irohad/sumeragi/internal/crypto"
)

// Status marks a block's position in the Pending -> Chained -> Valid ->
// Committed pipeline.
type Status uint8

const (
	StatusPending Status = iota
	StatusChained
	StatusValid
	StatusCommitted
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusChained:
		return "chained"
	case StatusValid:
		return "valid"
	case StatusCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// GenesisTopology is the initial committee ordering carried only by the
// genesis block's header. It is a plain ordered peer list rather
// than a topology.Topology value so that this package never has to import
// internal/topology, which itself depends on core.PeerIdentity.
type GenesisTopology struct {
	Peers []PeerIdentity
	F     int
}

// RejectedTransaction is an accepted transaction that failed validation
// against world state during block validation, together with the reason.
type RejectedTransaction struct {
	Transaction AcceptedTransaction
	Reason      string
}

// BlockHeader is the immutable, hashable part of a block. The hash of a
// block is the hash of its header only: valid and committed forms of the
// same block share this hash.
type BlockHeader struct {
	TimestampMilli   int64
	Height           uint64
	ParentHash       crypto.Hash
	TxRoot           crypto.Hash
	RejectedTxRoot   crypto.Hash
	ViewChangeChain  []ViewChangeProof
	InvalidatedHashes []crypto.Hash
	// Genesis is non-nil only for the height-1 genesis block.
	Genesis *GenesisTopology
}

// Encode returns the canonical binary encoding of the header, in a fixed
// field order: timestamp, height, parent-hash,
// transactions-root, rejected-root, view-change-chain, invalidated-hashes,
// optional genesis-topology.
func (h BlockHeader) Encode() []byte {
	e := newEncoder()
	e.writeInt64(h.TimestampMilli)
	e.writeUint64(h.Height)
	e.buf.Write(h.ParentHash[:])
	e.buf.Write(h.TxRoot[:])
	e.buf.Write(h.RejectedTxRoot[:])

	e.writeUint32(uint32(len(h.ViewChangeChain)))
	for _, vc := range h.ViewChangeChain {
		e.writeBytes(vc.Encode())
	}

	e.writeUint32(uint32(len(h.InvalidatedHashes)))
	for _, ih := range h.InvalidatedHashes {
		e.buf.Write(ih[:])
	}

	if h.Genesis != nil {
		e.writeUint8(1)
		e.writeUint32(uint32(h.Genesis.F))
		e.writeUint32(uint32(len(h.Genesis.Peers)))
		for _, p := range h.Genesis.Peers {
			e.writeString(p.Address)
			e.writeUint8(uint8(p.PublicKey.Algorithm))
			e.writeBytes(p.PublicKey.Raw)
		}
	} else {
		e.writeUint8(0)
	}
	return e.bytes()
}

// Hash returns the content hash of the header's canonical encoding. This is
// the block hash.
func (h BlockHeader) Hash() crypto.Hash {
	return crypto.SumBytes(h.Encode())
}

// DecodeBlockHeader parses a BlockHeader from its canonical encoding.
func DecodeBlockHeader(b []byte) (BlockHeader, error) {
	d := newDecoder(b)
	var h BlockHeader
	var err error

	if h.TimestampMilli, err = d.readInt64(); err != nil {
		return BlockHeader{}, fmt.Errorf("core: decode header timestamp: %w", err)
	}
	if h.Height, err = d.readUint64(); err != nil {
		return BlockHeader{}, fmt.Errorf("core: decode header height: %w", err)
	}
	if h.ParentHash, err = d.readFixed32(); err != nil {
		return BlockHeader{}, fmt.Errorf("core: decode header parent hash: %w", err)
	}
	if h.TxRoot, err = d.readFixed32(); err != nil {
		return BlockHeader{}, fmt.Errorf("core: decode header tx root: %w", err)
	}
	if h.RejectedTxRoot, err = d.readFixed32(); err != nil {
		return BlockHeader{}, fmt.Errorf("core: decode header rejected root: %w", err)
	}

	nVC, err := d.readUint32()
	if err != nil {
		return BlockHeader{}, fmt.Errorf("core: decode header view change count: %w", err)
	}
	h.ViewChangeChain = make([]ViewChangeProof, 0, nVC)
	for i := uint32(0); i < nVC; i++ {
		raw, err := d.readBytes()
		if err != nil {
			return BlockHeader{}, fmt.Errorf("core: decode header view change entry: %w", err)
		}
		vc, err := DecodeViewChangeProof(raw)
		if err != nil {
			return BlockHeader{}, fmt.Errorf("core: decode header view change proof: %w", err)
		}
		h.ViewChangeChain = append(h.ViewChangeChain, vc)
	}

	nInv, err := d.readUint32()
	if err != nil {
		return BlockHeader{}, fmt.Errorf("core: decode header invalidated count: %w", err)
	}
	h.InvalidatedHashes = make([]crypto.Hash, 0, nInv)
	for i := uint32(0); i < nInv; i++ {
		hsh, err := d.readFixed32()
		if err != nil {
			return BlockHeader{}, fmt.Errorf("core: decode header invalidated hash: %w", err)
		}
		h.InvalidatedHashes = append(h.InvalidatedHashes, hsh)
	}

	hasGenesis, err := d.readUint8()
	if err != nil {
		return BlockHeader{}, fmt.Errorf("core: decode header genesis marker: %w", err)
	}
	if hasGenesis == 1 {
		f, err := d.readUint32()
		if err != nil {
			return BlockHeader{}, fmt.Errorf("core: decode genesis f: %w", err)
		}
		nPeers, err := d.readUint32()
		if err != nil {
			return BlockHeader{}, fmt.Errorf("core: decode genesis peer count: %w", err)
		}
		gt := &GenesisTopology{F: int(f)}
		for i := uint32(0); i < nPeers; i++ {
			addr, err := d.readString()
			if err != nil {
				return BlockHeader{}, fmt.Errorf("core: decode genesis peer address: %w", err)
			}
			algo, err := d.readUint8()
			if err != nil {
				return BlockHeader{}, fmt.Errorf("core: decode genesis peer algorithm: %w", err)
			}
			raw, err := d.readBytes()
			if err != nil {
				return BlockHeader{}, fmt.Errorf("core: decode genesis peer key: %w", err)
			}
			gt.Peers = append(gt.Peers, PeerIdentity{Address: addr, PublicKey: crypto.PublicKey{Algorithm: crypto.Algorithm(algo), Raw: raw}})
		}
		h.Genesis = gt
	}

	if !d.done() {
		return BlockHeader{}, fmt.Errorf("core: decode header: trailing bytes")
	}
	return h, nil
}

// Block carries an immutable header plus the transaction lists and
// signatures appropriate to its current Status.
type Block struct {
	Status   Status
	Header   BlockHeader
	Accepted []AcceptedTransaction

	// Rejected and signatures are populated once the block reaches Valid.
	Rejected   []RejectedTransaction
	ProposerSig PeerSignature

	// Signatures holds the committee's commit-quorum signatures; populated
	// only once the block reaches Committed.
	Signatures []PeerSignature
}

// NewPendingBlock creates a Pending block from a drained batch of accepted
// transactions, before height/parent/header assembly.
func NewPendingBlock(accepted []AcceptedTransaction) Block {
	return Block{Status: StatusPending, Accepted: accepted}
}

// ToChained assembles the header for a pending block: height, parent hash,
// view-change chain, and invalidated-block hashes. The transaction Merkle
// roots are computed from Accepted
// only; RejectedTxRoot is zero until validation populates the rejected
// list.
func (b Block) ToChained(height uint64, parentHash crypto.Hash, timestampMilli int64, viewChangeChain []ViewChangeProof, invalidated []crypto.Hash, genesis *GenesisTopology) Block {
	leaves := make([]crypto.Hash, len(b.Accepted))
	for i, tx := range b.Accepted {
		leaves[i] = tx.Hash
	}
	b.Status = StatusChained
	b.Header = BlockHeader{
		TimestampMilli:    timestampMilli,
		Height:            height,
		ParentHash:        parentHash,
		TxRoot:            MerkleRootOf(leaves),
		RejectedTxRoot:    ZeroHashOf(),
		ViewChangeChain:   viewChangeChain,
		InvalidatedHashes: invalidated,
		Genesis:           genesis,
	}
	return b
}

// ToValid transitions a Chained block to Valid: it partitions transactions
// into the accepted and rejected lists the validator produced, recomputes
// both Merkle roots, and records the proposer's signature over the
// resulting header hash.
func (b Block) ToValid(accepted []AcceptedTransaction, rejected []RejectedTransaction, proposerSig PeerSignature) Block {
	acceptedLeaves := make([]crypto.Hash, len(accepted))
	for i, tx := range accepted {
		acceptedLeaves[i] = tx.Hash
	}
	rejectedLeaves := make([]crypto.Hash, len(rejected))
	for i, rtx := range rejected {
		rejectedLeaves[i] = rtx.Transaction.Hash
	}
	b.Status = StatusValid
	b.Accepted = accepted
	b.Rejected = rejected
	b.Header.TxRoot = MerkleRootOf(acceptedLeaves)
	b.Header.RejectedTxRoot = MerkleRootOf(rejectedLeaves)
	b.ProposerSig = proposerSig
	return b
}

// ToCommitted transitions a Valid block to Committed, attaching the
// unordered set of committee signatures that reached commit quorum (spec
// §3, §4.5.3 "AwaitingVotes" proxy-tail role).
func (b Block) ToCommitted(signatures []PeerSignature) Block {
	b.Status = StatusCommitted
	b.Signatures = signatures
	return b
}

// IsEmpty reports whether the block has neither accepted nor rejected
// transactions. Empty blocks are not proposed and not voted on (spec
// §4.5.4).
func (b Block) IsEmpty() bool {
	return len(b.Accepted) == 0 && len(b.Rejected) == 0
}

// Hash returns the block's identity: the hash of its header alone (spec
// §3, §6).
func (b Block) Hash() crypto.Hash {
	return b.Header.Hash()
}

// Encode returns the canonical binary encoding of the full block: header,
// then length-prefixed accepted transactions, rejected transactions, and
// committee signatures.
func (b Block) Encode() []byte {
	e := newEncoder()
	e.writeBytes(b.Header.Encode())

	e.writeUint32(uint32(len(b.Accepted)))
	for _, tx := range b.Accepted {
		e.writeBytes(tx.Transaction.Encode())
	}

	e.writeUint32(uint32(len(b.Rejected)))
	for _, rtx := range b.Rejected {
		e.writeBytes(rtx.Transaction.Transaction.Encode())
		e.writeString(rtx.Reason)
	}

	e.writeUint32(uint32(len(b.Signatures)))
	for _, sig := range b.Signatures {
		e.writeUint8(uint8(sig.Signer.Algorithm))
		e.writeBytes(sig.Signer.Raw)
		e.writeUint8(uint8(sig.Signature.Algorithm))
		e.writeBytes(sig.Signature.Bytes)
	}

	e.writeUint8(uint8(b.Status))
	return e.bytes()
}

// DecodeBlock parses a Block from its canonical encoding.
func DecodeBlock(b []byte) (Block, error) {
	d := newDecoder(b)

	headerBytes, err := d.readBytes()
	if err != nil {
		return Block{}, fmt.Errorf("core: decode block header: %w", err)
	}
	header, err := DecodeBlockHeader(headerBytes)
	if err != nil {
		return Block{}, fmt.Errorf("core: decode block header: %w", err)
	}

	nAccepted, err := d.readUint32()
	if err != nil {
		return Block{}, fmt.Errorf("core: decode block accepted count: %w", err)
	}
	accepted := make([]AcceptedTransaction, 0, nAccepted)
	for i := uint32(0); i < nAccepted; i++ {
		raw, err := d.readBytes()
		if err != nil {
			return Block{}, fmt.Errorf("core: decode block accepted tx: %w", err)
		}
		tx, err := DecodeTransaction(raw)
		if err != nil {
			return Block{}, fmt.Errorf("core: decode block accepted tx: %w", err)
		}
		accepted = append(accepted, tx.ToAccepted())
	}

	nRejected, err := d.readUint32()
	if err != nil {
		return Block{}, fmt.Errorf("core: decode block rejected count: %w", err)
	}
	rejected := make([]RejectedTransaction, 0, nRejected)
	for i := uint32(0); i < nRejected; i++ {
		raw, err := d.readBytes()
		if err != nil {
			return Block{}, fmt.Errorf("core: decode block rejected tx: %w", err)
		}
		tx, err := DecodeTransaction(raw)
		if err != nil {
			return Block{}, fmt.Errorf("core: decode block rejected tx: %w", err)
		}
		reason, err := d.readString()
		if err != nil {
			return Block{}, fmt.Errorf("core: decode block rejected reason: %w", err)
		}
		rejected = append(rejected, RejectedTransaction{Transaction: tx.ToAccepted(), Reason: reason})
	}

	nSig, err := d.readUint32()
	if err != nil {
		return Block{}, fmt.Errorf("core: decode block signature count: %w", err)
	}
	sigs := make([]PeerSignature, 0, nSig)
	for i := uint32(0); i < nSig; i++ {
		signerAlgo, err := d.readUint8()
		if err != nil {
			return Block{}, fmt.Errorf("core: decode block signer algorithm: %w", err)
		}
		signerRaw, err := d.readBytes()
		if err != nil {
			return Block{}, fmt.Errorf("core: decode block signer key: %w", err)
		}
		sigAlgo, err := d.readUint8()
		if err != nil {
			return Block{}, fmt.Errorf("core: decode block signature algorithm: %w", err)
		}
		sigBytes, err := d.readBytes()
		if err != nil {
			return Block{}, fmt.Errorf("core: decode block signature bytes: %w", err)
		}
		sigs = append(sigs, PeerSignature{
			Signer:    crypto.PublicKey{Algorithm: crypto.Algorithm(signerAlgo), Raw: signerRaw},
			Signature: crypto.Signature{Algorithm: crypto.Algorithm(sigAlgo), Bytes: sigBytes},
		})
	}

	status, err := d.readUint8()
	if err != nil {
		return Block{}, fmt.Errorf("core: decode block status: %w", err)
	}

	if !d.done() {
		return Block{}, fmt.Errorf("core: decode block: trailing bytes")
	}

	return Block{
		Status:     Status(status),
		Header:     header,
		Accepted:   accepted,
		Rejected:   rejected,
		Signatures: sigs,
	}, nil
}

// MerkleRootOf is a small indirection so block.go does not need to import
// internal/crypto's MerkleRoot under a different name; it exists purely to
// keep the Merkle computation visibly colocated with the two roots that use
// it.
func MerkleRootOf(leaves []crypto.Hash) crypto.Hash {
	return crypto.MerkleRoot(leaves)
}

// ZeroHashOf returns the all-zero sentinel hash.
func ZeroHashOf() crypto.Hash {
	return crypto.ZeroHash
}
