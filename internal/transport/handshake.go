package transport

import (
	cryptorand "crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/irohad/sumeragi/internal/consensuserrors"
	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
)

var randReader io.Reader = cryptorand.Reader

// Session is the result of a completed handshake: the remote peer's
// verified long-term identity, the two directional ciphers, and a
// disambiguator used to resolve reciprocal-dial races.
type Session struct {
	Remote        core.PeerIdentity
	send          *cipherState
	recv          *cipherState
	Disambiguator [32]byte
}

// handshakeRole distinguishes the two sides of a handshake so that key
// derivation and the "local first" ordering in the signed payload are
// unambiguous.
type handshakeRole uint8

const (
	roleInitiator handshakeRole = iota
	roleResponder
)

// Handshake runs the four-step exchange over rw, authenticating as local
// with localPriv and checking the remote party's long-term key with
// acceptRemote, which must return whether a given public key is acceptable
// (e.g. membership in the trusted-peers set); a nil acceptRemote accepts
// any key.
func Handshake(rw io.ReadWriter, role handshakeRole, local core.PeerIdentity, localPriv crypto.PrivateKey, acceptRemote func(crypto.PublicKey) bool) (*Session, error) {
	localEphPub, localEphPriv, err := newEphemeralKeyPair()
	if err != nil {
		return nil, fmt.Errorf("transport: generate ephemeral key: %w", err)
	}

	var localFirst, remoteFirst [32]byte
	if role == roleInitiator {
		if _, err := rw.Write(localEphPub[:]); err != nil {
			return nil, fmt.Errorf("%w: write dh key: %v", consensuserrors.ErrHandshakeTimeout, err)
		}
		if _, err := io.ReadFull(rw, remoteFirst[:]); err != nil {
			return nil, fmt.Errorf("%w: read dh key: %v", consensuserrors.ErrHandshakeTimeout, err)
		}
		localFirst = localEphPub
	} else {
		if _, err := io.ReadFull(rw, remoteFirst[:]); err != nil {
			return nil, fmt.Errorf("%w: read dh key: %v", consensuserrors.ErrHandshakeTimeout, err)
		}
		if _, err := rw.Write(localEphPub[:]); err != nil {
			return nil, fmt.Errorf("%w: write dh key: %v", consensuserrors.ErrHandshakeTimeout, err)
		}
		localFirst = localEphPub
	}

	shared, err := curve25519.X25519(localEphPriv[:], remoteFirst[:])
	if err != nil {
		return nil, fmt.Errorf("%w: derive shared secret: %v", consensuserrors.ErrHandshakeMismatch, err)
	}

	sendKey, recvKey, disambiguator := deriveDirectionalKeys(shared, role)
	sendCipher, err := newCipherState(sendKey)
	if err != nil {
		return nil, err
	}
	recvCipher, err := newCipherState(recvKey)
	if err != nil {
		return nil, err
	}
	fw := newFrameWriter(rw, sendCipher)
	fr := newFrameReader(rw, recvCipher)

	// Step 3: each side sends its long-term key plus a signature over the
	// ordered concatenation of both DH public keys, local first in that
	// side's view.
	signedPayload := append(append([]byte{}, localFirst[:]...), remoteFirst[:]...)
	sig, err := crypto.Sign(localPriv, signedPayload)
	if err != nil {
		return nil, fmt.Errorf("transport: sign handshake payload: %w", err)
	}
	outgoing := encodeIdentityFrame(local.PublicKey, sig)
	var incoming []byte
	if role == roleInitiator {
		if err := fw.WriteFrame(outgoing); err != nil {
			return nil, err
		}
		if incoming, err = fr.ReadFrame(); err != nil {
			return nil, err
		}
	} else {
		if incoming, err = fr.ReadFrame(); err != nil {
			return nil, err
		}
		if err := fw.WriteFrame(outgoing); err != nil {
			return nil, err
		}
	}
	remotePub, remoteSig, err := decodeIdentityFrame(incoming)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", consensuserrors.ErrHandshakeMismatch, err)
	}
	if acceptRemote != nil && !acceptRemote(remotePub) {
		return nil, fmt.Errorf("%w: remote key not trusted", consensuserrors.ErrHandshakeMismatch)
	}

	// Step 4: verify the signature using the sender-provided long-term key
	// and check the signed payload matches the swap of local/remote DH
	// keys from the verifier's perspective.
	expected := append(append([]byte{}, remoteFirst[:]...), localFirst[:]...)
	if err := crypto.Verify(remotePub, expected, remoteSig); err != nil {
		return nil, fmt.Errorf("%w: %v", consensuserrors.ErrHandshakeMismatch, err)
	}

	return &Session{
		Remote:        core.PeerIdentity{PublicKey: remotePub},
		send:          sendCipher,
		recv:          recvCipher,
		Disambiguator: disambiguator,
	}, nil
}

func newEphemeralKeyPair() (pub, priv [32]byte, err error) {
	if _, err = io.ReadFull(randReader, priv[:]); err != nil {
		return pub, priv, err
	}
	p, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return pub, priv, err
	}
	copy(pub[:], p)
	return pub, priv, nil
}

// deriveDirectionalKeys expands the raw DH shared secret into two distinct
// ChaCha20-Poly1305 keys (one per direction) plus a disambiguator, using
// HKDF-SHA256 so that initiator and responder agree on which key is
// "send" versus "recv" without further negotiation.
func deriveDirectionalKeys(shared []byte, role handshakeRole) (sendKey, recvKey []byte, disambiguator [32]byte) {
	h := hkdf.New(sha256.New, shared, nil, []byte("irohad-sumeragi-handshake-v1"))
	initToResp := make([]byte, chacha20poly1305.KeySize)
	respToInit := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(h, initToResp); err != nil {
		panic(fmt.Sprintf("transport: hkdf expand: %v", err))
	}
	if _, err := io.ReadFull(h, respToInit); err != nil {
		panic(fmt.Sprintf("transport: hkdf expand: %v", err))
	}

	disambiguator = sha256.Sum256(shared)

	if role == roleInitiator {
		return initToResp, respToInit, disambiguator
	}
	return respToInit, initToResp, disambiguator
}

func encodeIdentityFrame(pub crypto.PublicKey, sig crypto.Signature) []byte {
	var buf []byte
	buf = append(buf, byte(pub.Algorithm))
	buf = append(buf, lengthPrefixed(pub.Raw)...)
	buf = append(buf, byte(sig.Algorithm))
	buf = append(buf, lengthPrefixed(sig.Bytes)...)
	return buf
}

func decodeIdentityFrame(b []byte) (crypto.PublicKey, crypto.Signature, error) {
	if len(b) < 1 {
		return crypto.PublicKey{}, crypto.Signature{}, fmt.Errorf("transport: identity frame too short")
	}
	algo := crypto.Algorithm(b[0])
	rest := b[1:]
	raw, rest, err := readLengthPrefixed(rest)
	if err != nil {
		return crypto.PublicKey{}, crypto.Signature{}, err
	}
	if len(rest) < 1 {
		return crypto.PublicKey{}, crypto.Signature{}, fmt.Errorf("transport: identity frame missing signature algorithm")
	}
	sigAlgo := crypto.Algorithm(rest[0])
	sigBytes, rest, err := readLengthPrefixed(rest[1:])
	if err != nil {
		return crypto.PublicKey{}, crypto.Signature{}, err
	}
	if len(rest) != 0 {
		return crypto.PublicKey{}, crypto.Signature{}, fmt.Errorf("transport: identity frame has trailing bytes")
	}
	return crypto.PublicKey{Algorithm: algo, Raw: raw}, crypto.Signature{Algorithm: sigAlgo, Bytes: sigBytes}, nil
}

func lengthPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	copy(out[4:], b)
	return out
}

func readLengthPrefixed(b []byte) (value, rest []byte, err error) {
	if len(b) < 4 {
		return nil, nil, fmt.Errorf("transport: truncated length prefix")
	}
	n := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b)-4) < n {
		return nil, nil, fmt.Errorf("transport: truncated length-prefixed value")
	}
	return b[4 : 4+n], b[4+n:], nil
}
