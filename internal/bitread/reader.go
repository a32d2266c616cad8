// Package bitread reads LSB-first bit fields out of a borrowed byte slice.
//
// The reader never owns its buffer and never panics: the first read that
// would cross the end of the slice records ErrUnexpectedEndOfStream and every
// later read returns a zero value. Callers check Err at message boundaries.
package bitread

import (
	"fmt"
	"math"

	"cs2-demo-pipeline/internal/errs"
)

// Reader is a bit cursor over a byte slice.
type Reader struct {
	buf []byte
	pos uint // bit offset
	err error
}

// New returns a reader positioned at the first bit of buf.
func New(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Reset rebinds the reader to buf and clears any error.
func (r *Reader) Reset(buf []byte) {
	r.buf = buf
	r.pos = 0
	r.err = nil
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error { return r.err }

// Position returns the current bit offset.
func (r *Reader) Position() uint { return r.pos }

// RemainingBits returns the number of unread bits.
func (r *Reader) RemainingBits() uint {
	total := uint(len(r.buf)) * 8
	if r.pos >= total {
		return 0
	}
	return total - r.pos
}

// RemainingBytes returns the number of whole unread bytes.
func (r *Reader) RemainingBytes() int { return int(r.RemainingBits() / 8) }

func (r *Reader) fail(n uint) bool {
	if r.err != nil {
		return true
	}
	if n > r.RemainingBits() {
		r.err = fmt.Errorf("read %d bits at offset %d of %d: %w", n, r.pos, len(r.buf)*8, errs.ErrUnexpectedEndOfStream)
		r.pos = uint(len(r.buf)) * 8
		return true
	}
	return false
}

// ReadBits reads n bits (0..32) as an unsigned integer, first bit least significant.
func (r *Reader) ReadBits(n uint) uint32 {
	if n == 0 {
		return 0
	}
	if n > 32 {
		if r.err == nil {
			r.err = fmt.Errorf("read of %d bits exceeds 32: %w", n, errs.ErrMalformedMessage)
		}
		return 0
	}
	if r.fail(n) {
		return 0
	}
	var ret uint64
	var got uint
	for got < n {
		byteIdx := r.pos >> 3
		bitOff := r.pos & 7
		take := 8 - bitOff
		if take > n-got {
			take = n - got
		}
		chunk := (uint64(r.buf[byteIdx]) >> bitOff) & ((1 << take) - 1)
		ret |= chunk << got
		got += take
		r.pos += take
	}
	return uint32(ret)
}

// ReadBool reads a single bit.
func (r *Reader) ReadBool() bool {
	return r.ReadBits(1) == 1
}

// ReadUint8 reads 8 bits.
func (r *Reader) ReadUint8() byte {
	return byte(r.ReadBits(8))
}

// ReadBytes reads k whole bytes. The returned slice aliases the buffer when
// the cursor is byte aligned.
func (r *Reader) ReadBytes(k int) []byte {
	if k <= 0 {
		return nil
	}
	if r.fail(uint(k) * 8) {
		return nil
	}
	if r.pos&7 == 0 {
		start := r.pos >> 3
		r.pos += uint(k) * 8
		return r.buf[start : start+uint(k)]
	}
	out := make([]byte, k)
	for i := range out {
		out[i] = byte(r.ReadBits(8))
	}
	return out
}

// ReadBitsToBytes reads nbits into a fresh byte slice, the trailing partial
// byte holding the low-order remainder bits.
func (r *Reader) ReadBitsToBytes(nbits uint) []byte {
	if r.fail(nbits) {
		return nil
	}
	whole := int(nbits / 8)
	rest := nbits % 8
	out := make([]byte, 0, whole+1)
	out = append(out, r.ReadBytes(whole)...)
	if rest > 0 {
		out = append(out, byte(r.ReadBits(rest)))
	}
	return out
}

// Skip advances the cursor by n bits.
func (r *Reader) Skip(n uint) {
	if r.fail(n) {
		return
	}
	r.pos += n
}

// ReadVarUint32 reads a 7-bit-continuation varint of at most 5 bytes.
func (r *Reader) ReadVarUint32() uint32 {
	var x uint32
	var s uint
	for i := 0; i < 5; i++ {
		b := r.ReadBits(8)
		if r.err != nil {
			return 0
		}
		x |= (b & 0x7F) << s
		s += 7
		if b&0x80 == 0 {
			return x
		}
	}
	return x
}

// ReadVarUint64 reads a 7-bit-continuation varint of at most 10 bytes.
func (r *Reader) ReadVarUint64() uint64 {
	var x uint64
	var s uint
	for i := 0; i < 10; i++ {
		b := r.ReadBits(8)
		if r.err != nil {
			return 0
		}
		x |= uint64(b&0x7F) << s
		s += 7
		if b&0x80 == 0 {
			return x
		}
	}
	return x
}

// ReadVarInt32 reads a zig-zag encoded signed varint.
func (r *Reader) ReadVarInt32() int32 {
	ux := r.ReadVarUint32()
	x := int32(ux >> 1)
	if ux&1 != 0 {
		x = ^x
	}
	return x
}

// ReadVarInt64 reads a zig-zag encoded signed 64-bit varint.
func (r *Reader) ReadVarInt64() int64 {
	ux := r.ReadVarUint64()
	x := int64(ux >> 1)
	if ux&1 != 0 {
		x = ^x
	}
	return x
}

// ReadUBitVar reads a variable-width unsigned value: six bits whose upper two
// select 0, 4, 8 or 28 additional high bits.
func (r *Reader) ReadUBitVar() uint32 {
	ret := r.ReadBits(6)
	switch ret & 0x30 {
	case 16:
		ret = (ret & 15) | (r.ReadBits(4) << 4)
	case 32:
		ret = (ret & 15) | (r.ReadBits(8) << 4)
	case 48:
		ret = (ret & 15) | (r.ReadBits(28) << 4)
	}
	return ret
}

// ReadUBitVarFieldPath reads the prefix-coded widths used by field-path ops.
func (r *Reader) ReadUBitVarFieldPath() int {
	if r.ReadBool() {
		return int(r.ReadBits(2))
	}
	if r.ReadBool() {
		return int(r.ReadBits(4))
	}
	if r.ReadBool() {
		return int(r.ReadBits(10))
	}
	if r.ReadBool() {
		return int(r.ReadBits(17))
	}
	return int(r.ReadBits(31))
}

// ReadString reads a null-terminated string. A missing terminator is an
// end-of-stream error.
func (r *Reader) ReadString() string {
	var out []byte
	for {
		b := r.ReadUint8()
		if r.err != nil {
			return ""
		}
		if b == 0 {
			return string(out)
		}
		out = append(out, b)
	}
}

// ReadFloat32 reads a raw IEEE-754 single.
func (r *Reader) ReadFloat32() float32 {
	return math.Float32frombits(r.ReadBits(32))
}

const (
	coordIntBits   = 14
	coordFracBits  = 5
	coordFracRes   = 1.0 / float32(1<<coordFracBits)
	normalFracBits = 11
	normalRes      = 1.0 / float32((1<<normalFracBits)-1)
)

// ReadBitCoord reads the Source coordinate encoding: integer and fraction
// presence flags, a sign, 14 integer bits (+1) and 5 fraction bits.
func (r *Reader) ReadBitCoord() float32 {
	hasInt := r.ReadBool()
	hasFrac := r.ReadBool()
	if !hasInt && !hasFrac {
		return 0
	}
	negative := r.ReadBool()
	var intVal, fracVal uint32
	if hasInt {
		intVal = r.ReadBits(coordIntBits) + 1
	}
	if hasFrac {
		fracVal = r.ReadBits(coordFracBits)
	}
	ret := float32(intVal) + float32(fracVal)*coordFracRes
	if negative {
		ret = -ret
	}
	return ret
}

// ReadBitCoordPres reads a 20-bit precise angle mapped into [-180, 180).
func (r *Reader) ReadBitCoordPres() float32 {
	return float32(r.ReadBits(20))*360.0/float32(1<<20) - 180.0
}

// ReadAngle reads an n-bit angle mapped into [0, 360).
func (r *Reader) ReadAngle(n uint) float32 {
	return float32(r.ReadBits(n)) * 360.0 / float32(uint64(1)<<n)
}

// ReadBitNormal reads a sign and 11 fraction bits in [-1, 1].
func (r *Reader) ReadBitNormal() float32 {
	negative := r.ReadBool()
	ret := float32(r.ReadBits(normalFracBits)) * normalRes
	if negative {
		ret = -ret
	}
	return ret
}

// ReadBitNormalVec3 reads a unit vector with optional x and y components and
// a z recovered from the unit length constraint.
func (r *Reader) ReadBitNormalVec3() [3]float32 {
	var v [3]float32
	hasX := r.ReadBool()
	hasY := r.ReadBool()
	if hasX {
		v[0] = r.ReadBitNormal()
	}
	if hasY {
		v[1] = r.ReadBitNormal()
	}
	negZ := r.ReadBool()
	sum := v[0]*v[0] + v[1]*v[1]
	if sum < 1 {
		v[2] = float32(math.Sqrt(float64(1 - sum)))
	}
	if negZ {
		v[2] = -v[2]
	}
	return v
}
