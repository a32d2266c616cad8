package bitread

// Writer builds LSB-first bit streams in the layout Reader consumes. It is
// used to construct fixtures for decoder tests.
type Writer struct {
	buf []byte
	pos uint
}

// WriteBits appends the low n bits of v.
func (w *Writer) WriteBits(v uint32, n uint) {
	for i := uint(0); i < n; i++ {
		if w.pos&7 == 0 {
			w.buf = append(w.buf, 0)
		}
		if v&(1<<i) != 0 {
			w.buf[w.pos>>3] |= 1 << (w.pos & 7)
		}
		w.pos++
	}
}

// WriteBool appends a single bit.
func (w *Writer) WriteBool(b bool) {
	if b {
		w.WriteBits(1, 1)
	} else {
		w.WriteBits(0, 1)
	}
}

// WriteVarUint32 appends a 7-bit-continuation varint.
func (w *Writer) WriteVarUint32(v uint32) {
	w.WriteVarUint64(uint64(v))
}

// WriteVarUint64 appends a 7-bit-continuation varint.
func (w *Writer) WriteVarUint64(v uint64) {
	for v >= 0x80 {
		w.WriteBits(uint32(v&0x7F)|0x80, 8)
		v >>= 7
	}
	w.WriteBits(uint32(v), 8)
}

// WriteVarInt32 appends a zig-zag encoded varint.
func (w *Writer) WriteVarInt32(v int32) {
	w.WriteVarUint32(uint32((v << 1) ^ (v >> 31)))
}

// WriteUBitVar appends v in the shortest ubitvar form.
func (w *Writer) WriteUBitVar(v uint32) {
	switch {
	case v < 16:
		w.WriteBits(v, 6)
	case v < 1<<8:
		w.WriteBits((v&15)|16, 6)
		w.WriteBits(v>>4, 4)
	case v < 1<<12:
		w.WriteBits((v&15)|32, 6)
		w.WriteBits(v>>4, 8)
	default:
		w.WriteBits((v&15)|48, 6)
		w.WriteBits(v>>4, 28)
	}
}

// WriteUBitVarFieldPath appends v in the shortest field path index form.
func (w *Writer) WriteUBitVarFieldPath(v uint32) {
	switch {
	case v < 1<<2:
		w.WriteBool(true)
		w.WriteBits(v, 2)
	case v < 1<<4:
		w.WriteBits(0b10, 2)
		w.WriteBits(v, 4)
	case v < 1<<10:
		w.WriteBits(0b100, 3)
		w.WriteBits(v, 10)
	case v < 1<<17:
		w.WriteBits(0b1000, 4)
		w.WriteBits(v, 17)
	default:
		w.WriteBits(0, 4)
		w.WriteBits(v, 31)
	}
}

// WriteString appends s and a null terminator.
func (w *Writer) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		w.WriteBits(uint32(s[i]), 8)
	}
	w.WriteBits(0, 8)
}

// WriteBytes appends raw bytes.
func (w *Writer) WriteBytes(b []byte) {
	for _, c := range b {
		w.WriteBits(uint32(c), 8)
	}
}

// Bytes returns the written stream, zero-padded to a whole byte.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bits written.
func (w *Writer) Len() uint { return w.pos }
