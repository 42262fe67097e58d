package core

import (
	"fmt"
	"time"

	"github.com/irohad/sumeragi/internal/crypto"
)

// Instruction is one opaque, ordered operation carried by a transaction.
// The instruction-authorization policy that interprets Kind/Payload lives in
// the out-of-scope smart-contract execution engine; the consensus core
// only needs to count, size-limit, hash, and forward instructions.
type Instruction struct {
	Kind    string
	Payload []byte
}

// Limits bounds the shape of an admissible transaction.
type Limits struct {
	MaxInstructions int
	MaxPayloadBytes int
	FutureThreshold time.Duration
}

// DefaultLimits mirrors the conservative defaults a freshly initialized
// chain would carry before any genesis-supplied override.
var DefaultLimits = Limits{
	MaxInstructions: 4096,
	MaxPayloadBytes: 4 << 20, // 4 MiB
	FutureThreshold: 1 * time.Minute,
}

// Transaction is an authored, signed payload: chain identifier, authoring
// account, creation timestamp (millisecond Unix epoch), optional
// time-to-live, an ordered instruction sequence, and one or more author
// signatures.
type Transaction struct {
	ChainID        string
	Author         string // account identity, e.g. "alice@wonderland"
	CreatedAtMilli int64
	TTL            time.Duration // zero means "no explicit TTL"
	Instructions   []Instruction
	Signatures     []crypto.Signature
}

// AcceptedTransaction is a Transaction that has passed syntactic and
// signature checks. It is distinct from a validated transaction (checked
// against world state during block validation, see internal/consensus) and
// a committed transaction (included in a committed block). The hash is
// computed once and cached since it is recomputed on every queue and
// consensus operation.
type AcceptedTransaction struct {
	Transaction Transaction
	Hash        crypto.Hash
}

// payloadBytes returns the canonical encoding of everything that is signed:
// every field except the signature list itself.
func (t Transaction) payloadBytes() []byte {
	e := newEncoder()
	e.writeString(t.ChainID)
	e.writeString(t.Author)
	e.writeInt64(t.CreatedAtMilli)
	e.writeInt64(int64(t.TTL))
	e.writeUint32(uint32(len(t.Instructions)))
	for _, ins := range t.Instructions {
		e.writeString(ins.Kind)
		e.writeBytes(ins.Payload)
	}
	return e.bytes()
}

// Encode returns the canonical binary encoding of the full transaction,
// including its signatures, used for hashing and for wire transmission.
func (t Transaction) Encode() []byte {
	e := newEncoder()
	e.buf.Write(t.payloadBytes())
	e.writeUint32(uint32(len(t.Signatures)))
	for _, sig := range t.Signatures {
		e.writeUint8(uint8(sig.Algorithm))
		e.writeBytes(sig.Bytes)
	}
	return e.bytes()
}

// DecodeTransaction parses a Transaction from its canonical encoding.
func DecodeTransaction(b []byte) (Transaction, error) {
	d := newDecoder(b)
	var t Transaction
	var err error
	if t.ChainID, err = d.readString(); err != nil {
		return Transaction{}, fmt.Errorf("core: decode transaction chain id: %w", err)
	}
	if t.Author, err = d.readString(); err != nil {
		return Transaction{}, fmt.Errorf("core: decode transaction author: %w", err)
	}
	if t.CreatedAtMilli, err = d.readInt64(); err != nil {
		return Transaction{}, fmt.Errorf("core: decode transaction timestamp: %w", err)
	}
	ttl, err := d.readInt64()
	if err != nil {
		return Transaction{}, fmt.Errorf("core: decode transaction ttl: %w", err)
	}
	t.TTL = time.Duration(ttl)
	nIns, err := d.readUint32()
	if err != nil {
		return Transaction{}, fmt.Errorf("core: decode transaction instruction count: %w", err)
	}
	t.Instructions = make([]Instruction, 0, nIns)
	for i := uint32(0); i < nIns; i++ {
		kind, err := d.readString()
		if err != nil {
			return Transaction{}, fmt.Errorf("core: decode instruction kind: %w", err)
		}
		payload, err := d.readBytes()
		if err != nil {
			return Transaction{}, fmt.Errorf("core: decode instruction payload: %w", err)
		}
		t.Instructions = append(t.Instructions, Instruction{Kind: kind, Payload: payload})
	}
	nSig, err := d.readUint32()
	if err != nil {
		return Transaction{}, fmt.Errorf("core: decode transaction signature count: %w", err)
	}
	t.Signatures = make([]crypto.Signature, 0, nSig)
	for i := uint32(0); i < nSig; i++ {
		algo, err := d.readUint8()
		if err != nil {
			return Transaction{}, fmt.Errorf("core: decode signature algorithm: %w", err)
		}
		sigBytes, err := d.readBytes()
		if err != nil {
			return Transaction{}, fmt.Errorf("core: decode signature bytes: %w", err)
		}
		t.Signatures = append(t.Signatures, crypto.Signature{Algorithm: crypto.Algorithm(algo), Bytes: sigBytes})
	}
	if !d.done() {
		return Transaction{}, fmt.Errorf("core: decode transaction: trailing bytes")
	}
	return t, nil
}

// Hash returns the content hash of the transaction's canonical encoding.
func (t Transaction) Hash() crypto.Hash {
	return crypto.SumBytes(t.Encode())
}

// Sign appends a signature over the transaction's payload bytes (everything
// but the signature list) using priv, and returns the signed transaction.
func (t Transaction) Sign(priv crypto.PrivateKey) (Transaction, error) {
	sig, err := crypto.Sign(priv, t.payloadBytes())
	if err != nil {
		return Transaction{}, fmt.Errorf("core: sign transaction: %w", err)
	}
	t.Signatures = append(t.Signatures, sig)
	return t, nil
}

// VerifySignatures checks that every signature in t verifies under the given
// public key over the signed payload bytes. A transaction with zero
// signatures never verifies: the author's signature(s) must verify as an
// invariant, and an empty signature list cannot satisfy that.
func (t Transaction) VerifySignatures(pub crypto.PublicKey) error {
	if len(t.Signatures) == 0 {
		return fmt.Errorf("core: transaction has no signatures")
	}
	payload := t.payloadBytes()
	for i, sig := range t.Signatures {
		if err := crypto.Verify(pub, payload, sig); err != nil {
			return fmt.Errorf("core: signature %d invalid: %w", i, err)
		}
	}
	return nil
}

// CheckLimits validates the transaction's shape (instruction count, payload
// size) against lim, independent of signatures or timing.
func (t Transaction) CheckLimits(lim Limits) error {
	if len(t.Instructions) == 0 {
		return fmt.Errorf("core: transaction has no instructions")
	}
	if len(t.Instructions) > lim.MaxInstructions {
		return fmt.Errorf("core: transaction has %d instructions, limit %d", len(t.Instructions), lim.MaxInstructions)
	}
	total := 0
	for _, ins := range t.Instructions {
		total += len(ins.Payload)
	}
	if total > lim.MaxPayloadBytes {
		return fmt.Errorf("core: transaction payload is %d bytes, limit %d", total, lim.MaxPayloadBytes)
	}
	return nil
}

// CheckCreationTime validates that the transaction's creation timestamp is
// not farther in the future than lim.FutureThreshold, relative to now (spec
// §3, §4.4 step 1).
func (t Transaction) CheckCreationTime(now time.Time, lim Limits) error {
	createdAt := time.UnixMilli(t.CreatedAtMilli)
	if createdAt.Sub(now) > lim.FutureThreshold {
		return fmt.Errorf("core: transaction timestamp %d is too far in the future", t.CreatedAtMilli)
	}
	return nil
}

// ToAccepted wraps t as an AcceptedTransaction, computing and caching its
// hash.
func (t Transaction) ToAccepted() AcceptedTransaction {
	return AcceptedTransaction{Transaction: t, Hash: t.Hash()}
}
