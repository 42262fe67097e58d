package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Algorithm tags a key or signature with the scheme that produced it, so
// that keys of different algorithms can coexist on the wire.
type Algorithm uint8

const (
	// Ed25519 is the default algorithm for newly generated node and account
	// keys: it needs no curve parameters and is what the standard library
	// offers natively.
	Ed25519 Algorithm = iota
	// Secp256k1 is accepted alongside Ed25519 for keys originating outside
	// the node (e.g. imported from another chain's account model).
	Secp256k1
)

func (a Algorithm) String() string {
	switch a {
	case Ed25519:
		return "ed25519"
	case Secp256k1:
		return "secp256k1"
	default:
		return "unknown"
	}
}

// ErrUnsupportedAlgorithm is returned when a key or signature carries an
// algorithm tag this package does not implement.
var ErrUnsupportedAlgorithm = fmt.Errorf("crypto: unsupported algorithm")

// ErrInvalidKeyEncoding is returned when raw key bytes cannot be decoded
// under the claimed algorithm.
var ErrInvalidKeyEncoding = fmt.Errorf("crypto: invalid key encoding")

// ErrVerificationFailed is returned by Verify when a signature does not
// validate against the given payload and public key.
var ErrVerificationFailed = fmt.Errorf("crypto: signature verification failed")

// PublicKey is an algorithm-tagged public key.
type PublicKey struct {
	Algorithm Algorithm
	Raw       []byte
}

// PrivateKey is an algorithm-tagged private key.
type PrivateKey struct {
	Algorithm Algorithm
	Raw       []byte
}

// Signature is an algorithm-tagged signature over some payload.
type Signature struct {
	Algorithm Algorithm
	Bytes     []byte
}

// KeyPair is a freshly generated (or loaded) public/private key under one
// algorithm.
type KeyPair struct {
	Public  PublicKey
	Private PrivateKey
}

// GenerateKeyPair creates a new key pair under the given algorithm.
func GenerateKeyPair(algo Algorithm) (KeyPair, error) {
	switch algo {
	case Ed25519:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return KeyPair{}, fmt.Errorf("crypto: generate ed25519 key: %w", err)
		}
		return KeyPair{
			Public:  PublicKey{Algorithm: Ed25519, Raw: append([]byte(nil), pub...)},
			Private: PrivateKey{Algorithm: Ed25519, Raw: append([]byte(nil), priv...)},
		}, nil
	case Secp256k1:
		priv, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return KeyPair{}, fmt.Errorf("crypto: generate secp256k1 key: %w", err)
		}
		pub := priv.PubKey()
		return KeyPair{
			Public:  PublicKey{Algorithm: Secp256k1, Raw: pub.SerializeCompressed()},
			Private: PrivateKey{Algorithm: Secp256k1, Raw: priv.Serialize()},
		}, nil
	default:
		return KeyPair{}, ErrUnsupportedAlgorithm
	}
}

// Sign produces a signature over payload under priv. The signature carries
// priv's algorithm tag so a verifier never has to guess the scheme.
func Sign(priv PrivateKey, payload []byte) (Signature, error) {
	switch priv.Algorithm {
	case Ed25519:
		if len(priv.Raw) != ed25519.PrivateKeySize {
			return Signature{}, ErrInvalidKeyEncoding
		}
		sig := ed25519.Sign(ed25519.PrivateKey(priv.Raw), payload)
		return Signature{Algorithm: Ed25519, Bytes: sig}, nil
	case Secp256k1:
		key := secp256k1.PrivKeyFromBytes(priv.Raw)
		digest := SumBytes(payload)
		sig := ecdsa.Sign(key, digest[:])
		return Signature{Algorithm: Secp256k1, Bytes: sig.Serialize()}, nil
	default:
		return Signature{}, ErrUnsupportedAlgorithm
	}
}

// Verify reports whether sig is a valid signature over payload under pub.
// Verification fails (ErrVerificationFailed) rather than panicking on a
// byte-for-byte mismatch; malformed key or signature encodings return
// ErrInvalidKeyEncoding. Both are non-fatal, caller-surfaced errors.
func Verify(pub PublicKey, payload []byte, sig Signature) error {
	if pub.Algorithm != sig.Algorithm {
		return ErrUnsupportedAlgorithm
	}
	switch pub.Algorithm {
	case Ed25519:
		if len(pub.Raw) != ed25519.PublicKeySize {
			return ErrInvalidKeyEncoding
		}
		if !ed25519.Verify(ed25519.PublicKey(pub.Raw), payload, sig.Bytes) {
			return ErrVerificationFailed
		}
		return nil
	case Secp256k1:
		key, err := secp256k1.ParsePubKey(pub.Raw)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
		}
		parsedSig, err := ecdsa.ParseDERSignature(sig.Bytes)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidKeyEncoding, err)
		}
		digest := SumBytes(payload)
		if !parsedSig.Verify(digest[:], key) {
			return ErrVerificationFailed
		}
		return nil
	default:
		return ErrUnsupportedAlgorithm
	}
}
