// Package core defines the data model shared by the consensus engine,
// transaction queue, and peer transport: peer identities, transactions,
// blocks, and view-change proofs, together with their canonical binary
// encodings.
package core

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/irohad/sumeragi/internal/crypto"
)

// encoder builds a canonical binary encoding by appending fixed-order,
// length-prefixed fields. The byte order and field order are part of the
// wire contract: any two encoders that write the same logical value must
// produce byte-identical output.
type encoder struct {
	buf bytes.Buffer
}

func newEncoder() *encoder { return &encoder{} }

func (e *encoder) writeUint8(v uint8) {
	e.buf.WriteByte(v)
}

func (e *encoder) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *encoder) writeInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	e.buf.Write(b[:])
}

func (e *encoder) writeUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf.Write(b[:])
}

// writeBytes writes a 4-byte big-endian length prefix followed by the bytes
// themselves, matching the framing rule used for every length-prefixed list
// on the wire.
func (e *encoder) writeBytes(b []byte) {
	e.writeUint32(uint32(len(b)))
	e.buf.Write(b)
}

func (e *encoder) writeString(s string) {
	e.writeBytes([]byte(s))
}

func (e *encoder) bytes() []byte { return e.buf.Bytes() }

// decoder reads fields back out of a canonical encoding produced by encoder.
// Every read is bounds-checked; malformed input returns an error rather than
// panicking, since decode failure is a routine, non-fatal event on the
// wire.
type decoder struct {
	buf []byte
	pos int
}

func newDecoder(b []byte) *decoder { return &decoder{buf: b} }

var errTruncated = fmt.Errorf("core: truncated encoding")

func (d *decoder) readUint8() (uint8, error) {
	if d.pos+1 > len(d.buf) {
		return 0, errTruncated
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *decoder) readUint32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, errTruncated
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

func (d *decoder) readInt64() (int64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, errTruncated
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return int64(v), nil
}

func (d *decoder) readUint64() (uint64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, errTruncated
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos : d.pos+8])
	d.pos += 8
	return v, nil
}

func (d *decoder) readBytes() ([]byte, error) {
	n, err := d.readUint32()
	if err != nil {
		return nil, err
	}
	if d.pos+int(n) > len(d.buf) {
		return nil, errTruncated
	}
	v := d.buf[d.pos : d.pos+int(n)]
	d.pos += int(n)
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (d *decoder) readString() (string, error) {
	b, err := d.readBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) done() bool { return d.pos == len(d.buf) }

// readFixed32 reads a fixed-width 32-byte hash, used for the hash-typed
// header and proof fields that are never length-prefixed on the wire.
func (d *decoder) readFixed32() (crypto.Hash, error) {
	if d.pos+crypto.HashSize > len(d.buf) {
		return crypto.Hash{}, errTruncated
	}
	var h crypto.Hash
	copy(h[:], d.buf[d.pos:d.pos+crypto.HashSize])
	d.pos += crypto.HashSize
	return h, nil
}
