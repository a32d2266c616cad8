package bitread

import (
	"errors"
	"math"
	"testing"

	"cs2-demo-pipeline/internal/errs"
)

func TestReadBitsLSBFirst(t *testing.T) {
	r := New([]byte{0xB5, 0x01}) // 1011 0101, 0000 0001
	if v := r.ReadBits(1); v != 1 {
		t.Errorf("Expected first bit 1, got %d", v)
	}
	if v := r.ReadBits(3); v != 0x2 {
		t.Errorf("Expected 0x2, got %#x", v)
	}
	if v := r.ReadBits(8); v != 0x1B {
		t.Errorf("Expected 0x1B across byte boundary, got %#x", v)
	}
	if r.RemainingBits() != 4 {
		t.Errorf("Expected 4 remaining bits, got %d", r.RemainingBits())
	}
}

func TestReadPastEndIsSticky(t *testing.T) {
	r := New([]byte{0xFF})
	r.ReadBits(4)
	if v := r.ReadBits(8); v != 0 {
		t.Errorf("Expected zero value on overrun, got %d", v)
	}
	if !errors.Is(r.Err(), errs.ErrUnexpectedEndOfStream) {
		t.Fatalf("Expected ErrUnexpectedEndOfStream, got %v", r.Err())
	}
	if r.ReadBool() {
		t.Error("Expected reads after failure to return zero values")
	}
}

func TestVarints(t *testing.T) {
	var w Writer
	w.WriteVarUint32(300)
	w.WriteVarUint64(1 << 40)
	w.WriteVarInt32(-3)
	w.WriteVarInt32(3)
	r := New(w.Bytes())
	if v := r.ReadVarUint32(); v != 300 {
		t.Errorf("Expected 300, got %d", v)
	}
	if v := r.ReadVarUint64(); v != 1<<40 {
		t.Errorf("Expected 1<<40, got %d", v)
	}
	if v := r.ReadVarInt32(); v != -3 {
		t.Errorf("Expected -3, got %d", v)
	}
	if v := r.ReadVarInt32(); v != 3 {
		t.Errorf("Expected 3, got %d", v)
	}
	if r.Err() != nil {
		t.Errorf("Unexpected error: %v", r.Err())
	}
}

func TestUBitVar(t *testing.T) {
	values := []uint32{0, 15, 16, 255, 256, 4095, 4096, 1 << 30}
	var w Writer
	for _, v := range values {
		w.WriteUBitVar(v)
	}
	r := New(w.Bytes())
	for _, want := range values {
		if got := r.ReadUBitVar(); got != want {
			t.Errorf("Expected ubitvar %d, got %d", want, got)
		}
	}
}

func TestUBitVarFieldPath(t *testing.T) {
	var w Writer
	w.WriteBool(true)
	w.WriteBits(3, 2)
	w.WriteBool(false)
	w.WriteBool(false)
	w.WriteBool(true)
	w.WriteBits(700, 10)
	r := New(w.Bytes())
	if v := r.ReadUBitVarFieldPath(); v != 3 {
		t.Errorf("Expected 3, got %d", v)
	}
	if v := r.ReadUBitVarFieldPath(); v != 700 {
		t.Errorf("Expected 700, got %d", v)
	}
}

func TestReadString(t *testing.T) {
	var w Writer
	w.WriteBits(1, 3) // misalign
	w.WriteString("de_mirage")
	r := New(w.Bytes())
	r.ReadBits(3)
	if s := r.ReadString(); s != "de_mirage" {
		t.Errorf("Expected de_mirage, got %q", s)
	}

	r = New([]byte("abc"))
	if s := r.ReadString(); s != "" || r.Err() == nil {
		t.Errorf("Expected unterminated string to fail, got %q / %v", s, r.Err())
	}
}

func TestReadBytesAlignedAndUnaligned(t *testing.T) {
	r := New([]byte{1, 2, 3, 4})
	if b := r.ReadBytes(2); len(b) != 2 || b[0] != 1 || b[1] != 2 {
		t.Errorf("Expected [1 2], got %v", b)
	}

	var w Writer
	w.WriteBool(true)
	w.WriteBytes([]byte{0xAA, 0x55})
	r = New(w.Bytes())
	r.ReadBool()
	if b := r.ReadBytes(2); len(b) != 2 || b[0] != 0xAA || b[1] != 0x55 {
		t.Errorf("Expected [0xAA 0x55], got %v", b)
	}
}

func TestReadBitCoord(t *testing.T) {
	var w Writer
	w.WriteBool(true)   // has int
	w.WriteBool(true)   // has frac
	w.WriteBool(true)   // negative
	w.WriteBits(99, 14) // 99 + 1
	w.WriteBits(16, 5)  // 0.5
	w.WriteBool(false)
	w.WriteBool(false)
	r := New(w.Bytes())
	if v := r.ReadBitCoord(); v != -100.5 {
		t.Errorf("Expected -100.5, got %f", v)
	}
	if v := r.ReadBitCoord(); v != 0 {
		t.Errorf("Expected 0, got %f", v)
	}
}

func TestReadBitCoordPres(t *testing.T) {
	var w Writer
	w.WriteBits(0, 20)
	w.WriteBits(1<<19, 20)
	r := New(w.Bytes())
	if v := r.ReadBitCoordPres(); v != -180 {
		t.Errorf("Expected -180, got %f", v)
	}
	if v := r.ReadBitCoordPres(); v != 0 {
		t.Errorf("Expected 0, got %f", v)
	}
}

func TestReadAngleAndNormal(t *testing.T) {
	var w Writer
	w.WriteBits(64, 8)
	w.WriteBool(true)
	w.WriteBits(2047, 11)
	r := New(w.Bytes())
	if v := r.ReadAngle(8); v != 90 {
		t.Errorf("Expected 90, got %f", v)
	}
	if v := r.ReadBitNormal(); math.Abs(float64(v)+1) > 1e-6 {
		t.Errorf("Expected -1, got %f", v)
	}
}

func TestReadBitNormalVec3(t *testing.T) {
	var w Writer
	w.WriteBool(false)
	w.WriteBool(false)
	w.WriteBool(true)
	r := New(w.Bytes())
	v := r.ReadBitNormalVec3()
	if v[0] != 0 || v[1] != 0 || v[2] != -1 {
		t.Errorf("Expected (0,0,-1), got %v", v)
	}
}

func TestReadFloat32(t *testing.T) {
	var w Writer
	w.WriteBits(math.Float32bits(3.25), 32)
	r := New(w.Bytes())
	if v := r.ReadFloat32(); v != 3.25 {
		t.Errorf("Expected 3.25, got %f", v)
	}
}
