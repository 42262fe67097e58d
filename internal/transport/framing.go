// Package transport implements the authenticated, encrypted, framed
// message channel that carries consensus messages between peer identities.
// A four-step Diffie-Hellman handshake establishes a shared
// ChaCha20-Poly1305 cipher; thereafter every message is a 4-byte
// length-prefixed ciphertext frame.
package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// MaxFrameSize bounds the length prefix to guard against a malicious or
// corrupted peer claiming an unbounded frame.
const MaxFrameSize = 16 << 20 // 16 MiB

// associatedData is the fixed AAD bound into every frame's AEAD tag.
var associatedData = []byte("irohad-sumeragi-frame-v1")

// frameWriter writes length-prefixed ciphertext frames to an underlying
// writer using aead, incrementing a monotonically increasing nonce counter
// per direction.
type frameWriter struct {
	w    io.Writer
	aead *cipherState
}

// frameReader reads and decrypts length-prefixed ciphertext frames from an
// underlying reader, buffering partial reads so a decoded message is only
// surfaced once its full ciphertext has arrived.
type frameReader struct {
	r    io.Reader
	aead *cipherState
}

// cipherState pairs an AEAD with a strictly increasing send/receive nonce
// counter, since ChaCha20-Poly1305 nonces must never repeat under the same
// key.
type cipherState struct {
	aead    interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
	}
	counter uint64
}

func newCipherState(key []byte) (*cipherState, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("transport: init cipher: %w", err)
	}
	return &cipherState{aead: aead}, nil
}

func (c *cipherState) nextNonce() []byte {
	nonce := make([]byte, c.aead.NonceSize())
	binary.BigEndian.PutUint64(nonce[c.aead.NonceSize()-8:], c.counter)
	c.counter++
	return nonce
}

func (c *cipherState) seal(plaintext []byte) []byte {
	return c.aead.Seal(nil, c.nextNonce(), plaintext, associatedData)
}

func (c *cipherState) open(ciphertext []byte) ([]byte, error) {
	return c.aead.Open(nil, c.nextNonce(), ciphertext, associatedData)
}

func newFrameWriter(w io.Writer, cs *cipherState) *frameWriter {
	return &frameWriter{w: w, aead: cs}
}

func newFrameReader(r io.Reader, cs *cipherState) *frameReader {
	return &frameReader{r: r, aead: cs}
}

// WriteFrame encrypts plaintext and writes it as one length-prefixed frame.
func (fw *frameWriter) WriteFrame(plaintext []byte) error {
	ciphertext := fw.aead.seal(plaintext)
	if len(ciphertext) > MaxFrameSize {
		return fmt.Errorf("transport: outgoing frame of %d bytes exceeds max %d", len(ciphertext), MaxFrameSize)
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(ciphertext)))
	if _, err := fw.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("transport: write frame length: %w", err)
	}
	if _, err := fw.w.Write(ciphertext); err != nil {
		return fmt.Errorf("transport: write frame body: %w", err)
	}
	return nil
}

// ReadFrame blocks until one full frame has arrived, decrypts it, and
// returns the plaintext. It never returns a partial frame.
func (fr *frameReader) ReadFrame() ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("transport: read frame length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("transport: incoming frame of %d bytes exceeds max %d", n, MaxFrameSize)
	}
	ciphertext := make([]byte, n)
	if _, err := io.ReadFull(fr.r, ciphertext); err != nil {
		return nil, fmt.Errorf("transport: read frame body: %w", err)
	}
	plaintext, err := fr.aead.open(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("transport: decrypt frame: %w", err)
	}
	return plaintext, nil
}
