package codec

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"github.com/google/uuid"
)

// maxCollection bounds the element count of any decoded list so that a
// small body cannot announce millions of entries.
const maxCollection = 100_000

var (
	errVarint         = errors.New("codec: malformed varint")
	errTooManyEntries = errors.New("codec: collection count exceeds limit")
	errTrailingBytes  = errors.New("codec: trailing bytes after message")
)

// writer appends binary fields to a growing buffer.
type writer struct {
	buf []byte
}

func (w *writer) byte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *writer) uvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

func (w *writer) varint(v int64) {
	w.buf = binary.AppendVarint(w.buf, v)
}

func (w *writer) string(s string) {
	w.uvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) uuid(id uuid.UUID) {
	w.buf = append(w.buf, id[:]...)
}

// reader consumes binary fields from a byte slice. The first error sticks;
// later reads return zero values so callers can check once at the end.
type reader struct {
	buf []byte
	pos int
	err error
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.buf) {
		r.fail(io.ErrUnexpectedEOF)
		return 0
	}
	b := r.buf[r.pos]
	r.pos++
	return b
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		r.fail(errVarint)
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		r.fail(errVarint)
		return 0
	}
	r.pos += n
	return v
}

// int32 reads a zigzag varint that must fit in 32 bits.
func (r *reader) int32() int32 {
	v := r.varint()
	if v < math.MinInt32 || v > math.MaxInt32 {
		r.fail(errVarint)
		return 0
	}
	return int32(v)
}

func (r *reader) string() string {
	n := r.uvarint()
	if r.err != nil {
		return ""
	}
	if n > uint64(len(r.buf)-r.pos) {
		r.fail(io.ErrUnexpectedEOF)
		return ""
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s
}

func (r *reader) uuid() uuid.UUID {
	var id uuid.UUID
	if r.err != nil {
		return id
	}
	if len(r.buf)-r.pos < len(id) {
		r.fail(io.ErrUnexpectedEOF)
		return id
	}
	copy(id[:], r.buf[r.pos:r.pos+len(id)])
	r.pos += len(id)
	return id
}

// count reads a collection length and checks it against both the global
// limit and the bytes left (every element takes at least minSize bytes).
func (r *reader) count(minSize int) int {
	n := r.uvarint()
	if r.err != nil {
		return 0
	}
	if n > maxCollection || n*uint64(minSize) > uint64(len(r.buf)-r.pos) {
		r.fail(errTooManyEntries)
		return 0
	}
	return int(n)
}

func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.buf) {
		return errTrailingBytes
	}
	return nil
}
