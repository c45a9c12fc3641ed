package persistence

import (
	"encoding/binary"
	"fmt"

	"lsmengine/pkg/dberrors"
)

// Decoder is a bounds-checked cursor over an encoded byte slice.
// The first out-of-range read sets a sticky error; later reads return zero values.
type Decoder struct {
	buf []byte
	pos int
	err error
}

func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) need(n uint64) bool {
	if d.err != nil {
		return false
	}
	if n > uint64(len(d.buf)-d.pos) {
		d.err = fmt.Errorf("need %d bytes at %d, have %d: %w", n, d.pos, len(d.buf)-d.pos, dberrors.ErrCorrupted)
		return false
	}
	return true
}

func (d *Decoder) Uint32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.NativeEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v
}

func (d *Decoder) Uint64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.NativeEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v
}

// Bytes returns a view of the next n bytes.
func (d *Decoder) Bytes(n uint64) []byte {
	if !d.need(n) {
		return nil
	}
	b := d.buf[d.pos : d.pos+int(n) : d.pos+int(n)]
	d.pos += int(n)
	return b
}

// LengthPrefixed reads a u64 length followed by that many bytes.
func (d *Decoder) LengthPrefixed() []byte {
	return d.Bytes(d.Uint64())
}

func (d *Decoder) Pos() int {
	return d.pos
}

func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

func (d *Decoder) Err() error {
	return d.err
}
