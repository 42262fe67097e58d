package core

import "github.com/irohad/sumeragi/internal/crypto"

// PeerIdentity is a (network address, public key) pair. Equality is by
// public key, not address: two peers sharing a key are the same identity
// regardless of which address either was reached at.
type PeerIdentity struct {
	Address   string
	PublicKey crypto.PublicKey
}

// Equal reports whether two identities are the same peer.
func (p PeerIdentity) Equal(other PeerIdentity) bool {
	return p.PublicKey.Algorithm == other.PublicKey.Algorithm &&
		string(p.PublicKey.Raw) == string(other.PublicKey.Raw)
}

// Key returns a comparable value suitable for map keys, distinguishing
// public keys of different algorithms that happen to share raw bytes.
func (p PeerIdentity) Key() string {
	return p.PublicKey.Algorithm.String() + ":" + string(p.PublicKey.Raw)
}
