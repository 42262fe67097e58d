package consensus

import (
	"encoding/binary"
	"fmt"

	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
)

// MessageKind tags the outer envelope of every inter-peer message (spec
// §4.5.2, §6 "Wire protocol"). A version byte precedes the kind so future
// additions can be recognized; an unrecognized kind drops the connection.
type MessageKind uint8

const (
	KindTransactionGossip MessageKind = iota
	KindTransactionForwarded
	KindTransactionReceipt
	KindBlockCreated
	KindBlockSigned
	KindBlockCommitted
	KindViewChangeSuggested
)

func (k MessageKind) String() string {
	switch k {
	case KindTransactionGossip:
		return "transaction_gossip"
	case KindTransactionForwarded:
		return "transaction_forwarded"
	case KindTransactionReceipt:
		return "transaction_receipt"
	case KindBlockCreated:
		return "block_created"
	case KindBlockSigned:
		return "block_signed"
	case KindBlockCommitted:
		return "block_committed"
	case KindViewChangeSuggested:
		return "view_change_suggested"
	default:
		return "unknown"
	}
}

const messageWireVersion uint8 = 1

// Message is the tagged union of everything that crosses the transport
// between peers. Only the fields relevant to Kind are populated.
type Message struct {
	Kind MessageKind

	Gossip    []core.AcceptedTransaction // TransactionGossip
	Forwarded core.AcceptedTransaction   // TransactionForwarded
	Receipt   crypto.Hash                // TransactionReceipt: the tx hash acknowledged

	Block core.Block // BlockCreated / BlockCommitted

	BlockHash crypto.Hash        // BlockSigned: which block the signature is over
	Signature core.PeerSignature // BlockSigned

	ViewChange     core.ViewChangeProof   // ViewChangeSuggested
	ViewChangeChain []core.ViewChangeProof // ViewChangeSuggested: the proof chain so far
}

// Encode renders m to its wire form: a version byte, a kind byte, then the
// kind-specific payload.
func (m Message) Encode() ([]byte, error) {
	var out []byte
	out = append(out, messageWireVersion, byte(m.Kind))

	switch m.Kind {
	case KindTransactionGossip:
		out = append(out, uint32Bytes(uint32(len(m.Gossip)))...)
		for _, tx := range m.Gossip {
			out = append(out, lengthPrefix(tx.Transaction.Encode())...)
		}
	case KindTransactionForwarded:
		out = append(out, lengthPrefix(m.Forwarded.Transaction.Encode())...)
	case KindTransactionReceipt:
		out = append(out, m.Receipt.Bytes()...)
	case KindBlockCreated, KindBlockCommitted:
		out = append(out, lengthPrefix(m.Block.Encode())...)
	case KindBlockSigned:
		out = append(out, m.BlockHash.Bytes()...)
		out = append(out, lengthPrefix(encodePeerSignature(m.Signature))...)
	case KindViewChangeSuggested:
		out = append(out, lengthPrefix(m.ViewChange.Encode())...)
		out = append(out, uint32Bytes(uint32(len(m.ViewChangeChain)))...)
		for _, p := range m.ViewChangeChain {
			out = append(out, lengthPrefix(p.Encode())...)
		}
	default:
		return nil, fmt.Errorf("consensus: encode unknown message kind %d", m.Kind)
	}
	return out, nil
}

// DecodeMessage parses the wire form produced by Encode.
func DecodeMessage(b []byte) (Message, error) {
	if len(b) < 2 {
		return Message{}, fmt.Errorf("consensus: message too short")
	}
	if b[0] != messageWireVersion {
		return Message{}, fmt.Errorf("consensus: unsupported message version %d", b[0])
	}
	kind := MessageKind(b[1])
	rest := b[2:]

	var m Message
	m.Kind = kind

	switch kind {
	case KindTransactionGossip:
		n, rest2, err := readUint32Prefix(rest)
		if err != nil {
			return Message{}, err
		}
		rest = rest2
		for i := uint32(0); i < n; i++ {
			raw, rest2, err := readLengthPrefixedSlice(rest)
			if err != nil {
				return Message{}, err
			}
			rest = rest2
			tx, err := core.DecodeTransaction(raw)
			if err != nil {
				return Message{}, err
			}
			m.Gossip = append(m.Gossip, tx.ToAccepted())
		}
	case KindTransactionForwarded:
		raw, _, err := readLengthPrefixedSlice(rest)
		if err != nil {
			return Message{}, err
		}
		tx, err := core.DecodeTransaction(raw)
		if err != nil {
			return Message{}, err
		}
		m.Forwarded = tx.ToAccepted()
	case KindTransactionReceipt:
		if len(rest) != crypto.HashSize {
			return Message{}, fmt.Errorf("consensus: malformed transaction receipt")
		}
		m.Receipt = crypto.HashFromBytes(rest)
	case KindBlockCreated, KindBlockCommitted:
		raw, _, err := readLengthPrefixedSlice(rest)
		if err != nil {
			return Message{}, err
		}
		block, err := core.DecodeBlock(raw)
		if err != nil {
			return Message{}, err
		}
		m.Block = block
	case KindBlockSigned:
		if len(rest) < crypto.HashSize {
			return Message{}, fmt.Errorf("consensus: truncated block-signed message")
		}
		m.BlockHash = crypto.HashFromBytes(rest[:crypto.HashSize])
		raw, _, err := readLengthPrefixedSlice(rest[crypto.HashSize:])
		if err != nil {
			return Message{}, err
		}
		sig, err := decodePeerSignature(raw)
		if err != nil {
			return Message{}, err
		}
		m.Signature = sig
	case KindViewChangeSuggested:
		raw, rest2, err := readLengthPrefixedSlice(rest)
		if err != nil {
			return Message{}, err
		}
		proof, err := core.DecodeViewChangeProof(raw)
		if err != nil {
			return Message{}, err
		}
		m.ViewChange = proof
		rest = rest2
		n, rest2, err := readUint32Prefix(rest)
		if err != nil {
			return Message{}, err
		}
		rest = rest2
		for i := uint32(0); i < n; i++ {
			raw, rest2, err := readLengthPrefixedSlice(rest)
			if err != nil {
				return Message{}, err
			}
			rest = rest2
			p, err := core.DecodeViewChangeProof(raw)
			if err != nil {
				return Message{}, err
			}
			m.ViewChangeChain = append(m.ViewChangeChain, p)
		}
	default:
		return Message{}, fmt.Errorf("consensus: decode unknown message kind %d", kind)
	}
	return m, nil
}

// publicKeyMapKey gives a crypto.PublicKey a value usable as a map key,
// distinguishing algorithms that happen to share raw key bytes.
func publicKeyMapKey(pub crypto.PublicKey) string {
	return pub.Algorithm.String() + ":" + string(pub.Raw)
}

func uint32Bytes(v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return b[:]
}

func lengthPrefix(b []byte) []byte {
	return append(uint32Bytes(uint32(len(b))), b...)
}

func readUint32Prefix(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("consensus: truncated uint32")
	}
	return binary.BigEndian.Uint32(b[:4]), b[4:], nil
}

func readLengthPrefixedSlice(b []byte) (value, rest []byte, err error) {
	n, rest, err := readUint32Prefix(b)
	if err != nil {
		return nil, nil, err
	}
	if uint32(len(rest)) < n {
		return nil, nil, fmt.Errorf("consensus: truncated length-prefixed field")
	}
	return rest[:n], rest[n:], nil
}

func encodePeerSignature(sig core.PeerSignature) []byte {
	var out []byte
	out = append(out, byte(sig.Signer.Algorithm))
	out = append(out, lengthPrefix(sig.Signer.Raw)...)
	out = append(out, byte(sig.Signature.Algorithm))
	out = append(out, lengthPrefix(sig.Signature.Bytes)...)
	return out
}

func decodePeerSignature(b []byte) (core.PeerSignature, error) {
	if len(b) < 1 {
		return core.PeerSignature{}, fmt.Errorf("consensus: truncated peer signature")
	}
	signerAlgo := crypto.Algorithm(b[0])
	rest := b[1:]
	signerRaw, rest, err := readLengthPrefixedSlice(rest)
	if err != nil {
		return core.PeerSignature{}, err
	}
	if len(rest) < 1 {
		return core.PeerSignature{}, fmt.Errorf("consensus: truncated peer signature algorithm")
	}
	sigAlgo := crypto.Algorithm(rest[0])
	sigBytes, rest, err := readLengthPrefixedSlice(rest[1:])
	if err != nil {
		return core.PeerSignature{}, err
	}
	if len(rest) != 0 {
		return core.PeerSignature{}, fmt.Errorf("consensus: trailing bytes in peer signature")
	}
	return core.PeerSignature{
		Signer:    crypto.PublicKey{Algorithm: signerAlgo, Raw: signerRaw},
		Signature: crypto.Signature{Algorithm: sigAlgo, Bytes: sigBytes},
	}, nil
}
