package schema

import (
	"math"
	"testing"

	"cs2-demo-pipeline/internal/bitread"
)

func i32(v int32) *int32 { return &v }
func f32(v float32) *float32 { return &v }

// withinULP reports whether a and b are at most one representable float32 apart.
func withinULP(a, b float32) bool {
	if a == b {
		return true
	}
	return math.Nextafter32(a, b) == b
}

type quantCase struct {
	bits       uint32
	flags      *int32
	low, high  *float32
	wantLow    float32
	wantHigh   float32
	wantMul    float32
	wantDecMul float32
	wantOffset float32
	wantFlags  uint32
}

func TestNewQuantizedFloatReferenceParameters(t *testing.T) {
	cases := []quantCase{
		{15, i32(1), nil, f32(1024), 0, 1023.96875, 32, 0.00003051851, 0.03125, 0},
		{17, i32(4), f32(-4096), f32(4096), -4096, 4096, 15.999878, 0.000007629453, 0, 4},
		{18, i32(4), f32(-4096), f32(4096), -4096, 4096, 31.999878, 0.000003814712, 0, 4},
		{8, i32(1), nil, f32(4), 0, 3.984375, 64, 0.003921569, 0.015625, 0},
		{10, i32(4), f32(-64), f32(64), -64, 64, 7.9921875, 0.0009775171, 0, 4},
		{20, i32(4), nil, f32(128), 0, 127.99988, 8192, 0.0000009536752, 0.00012207031, 0},
		{8, i32(-8), nil, f32(1), 0, 0.99609375, 256, 0.003921569, 0.00390625, 4294967288},
		{10, i32(2), f32(-25), f32(25), -24.951172, 25, 20.48, 0.0009775171, 0.048828125, 0},
		{10, i32(2), nil, f32(102.3), 0.09990235, 102.3, 10.009774, 0.0009775171, 0.09990235, 2},
		{8, i32(1), nil, f32(256), 0, 255, 1, 0.003921569, 1, 0},
		{8, nil, nil, f32(100), 0, 100, 2.55, 0.003921569, 0, 0},
		{12, i32(1), nil, f32(2048), 0, 2047.5, 2, 0.00024420026, 0.5, 0},
		{8, nil, nil, f32(360), 0, 360, 0.7083333, 0.003921569, 0, 0},
		{16, i32(1), nil, f32(500), 0, 499.99237, 131.0589, 0.000015259022, 0.0076293945, 0},
		{18, i32(1), nil, f32(1500), 0, 1499.9943, 174.76266, 0.000003814712, 0.005722046, 0},
		{11, nil, f32(-1), f32(63), -1, 63, 31.984375, 0.0004885198, 0, 0},
		{7, i32(1), nil, f32(360), 0, 357.1875, 0.35555556, 0.007874016, 2.8125, 0},
		{6, i32(2), nil, f32(64), 1, 64, 1, 0.015873017, 1, 0},
		{8, i32(1), nil, f32(1), 0, 0.99609375, 256, 0.003921569, 0.00390625, 0},
		{10, nil, f32(0.1), f32(10), 0.1, 10, 103.333336, 0.0009775171, 0, 0},
		{8, i32(2), nil, f32(60), 0.234375, 60, 4.26624, 0.003921569, 0.234375, 2},
	}
	for _, c := range cases {
		qf := NewQuantizedFloat(c.bits, c.flags, c.low, c.high)
		if qf.noScale {
			t.Errorf("bits=%d: expected scaled decoder", c.bits)
			continue
		}
		if !withinULP(qf.low, c.wantLow) {
			t.Errorf("bits=%d: expected low %v, got %v", c.bits, c.wantLow, qf.low)
		}
		if !withinULP(qf.high, c.wantHigh) {
			t.Errorf("bits=%d: expected high %v, got %v", c.bits, c.wantHigh, qf.high)
		}
		if !withinULP(qf.highLowMul, c.wantMul) {
			t.Errorf("bits=%d: expected high/low multiplier %v, got %v", c.bits, c.wantMul, qf.highLowMul)
		}
		if !withinULP(qf.decMul, c.wantDecMul) {
			t.Errorf("bits=%d: expected decode multiplier %v, got %v", c.bits, c.wantDecMul, qf.decMul)
		}
		if !withinULP(qf.offset, c.wantOffset) {
			t.Errorf("bits=%d: expected offset %v, got %v", c.bits, c.wantOffset, qf.offset)
		}
		if qf.flags != c.wantFlags {
			t.Errorf("bits=%d: expected flags %d, got %d", c.bits, c.wantFlags, qf.flags)
		}
	}
}

func TestNewQuantizedFloatNoScale(t *testing.T) {
	for _, bits := range []uint32{0, 32, 40} {
		qf := NewQuantizedFloat(bits, nil, nil, nil)
		if !qf.noScale || qf.bitCount != 32 {
			t.Errorf("bits=%d: expected raw float decoder, got %+v", bits, qf)
		}
	}
}

func TestQuantizedDecodeEndpoints(t *testing.T) {
	// Plain 8-bit range: 0 and all-ones map to the bounds.
	qf := NewQuantizedFloat(8, nil, nil, f32(100))
	var w bitread.Writer
	w.WriteBits(0, 8)
	w.WriteBits(255, 8)
	r := bitread.New(w.Bytes())
	if v := qf.Decode(r); v != 0 {
		t.Errorf("Expected low 0, got %v", v)
	}
	if v := qf.Decode(r); math.Abs(float64(v)-100) > 1e-4 {
		t.Errorf("Expected high 100, got %v", v)
	}

	// Round-up flag kept: the marker bit selects high directly.
	qf = NewQuantizedFloat(8, i32(2), nil, f32(60))
	w = bitread.Writer{}
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteBits(0, 8)
	r = bitread.New(w.Bytes())
	if v := qf.Decode(r); v != 60 {
		t.Errorf("Expected round-up marker to yield 60, got %v", v)
	}
	if v := qf.Decode(r); v != 0.234375 {
		t.Errorf("Expected low 0.234375, got %v", v)
	}

	// Encode-zero flag kept on a symmetric range.
	qf = NewQuantizedFloat(17, i32(4), f32(-4096), f32(4096))
	w = bitread.Writer{}
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteBits(0, 17)
	w.WriteBool(false)
	w.WriteBits((1<<17)-1, 17)
	r = bitread.New(w.Bytes())
	if v := qf.Decode(r); v != 0 {
		t.Errorf("Expected zero marker to yield 0, got %v", v)
	}
	if v := qf.Decode(r); v != -4096 {
		t.Errorf("Expected low -4096, got %v", v)
	}
	if v := qf.Decode(r); math.Abs(float64(v)-4096) > 1e-2 {
		t.Errorf("Expected high 4096, got %v", v)
	}
	if r.Err() != nil {
		t.Errorf("Unexpected reader error: %v", r.Err())
	}
}

func TestQuantizedDecodeNearZero(t *testing.T) {
	qf := NewQuantizedFloat(11, nil, f32(-1), f32(63))
	var w bitread.Writer
	// 32 steps of 64/2047 land just above zero.
	w.WriteBits(32, 11)
	r := bitread.New(w.Bytes())
	v := qf.Decode(r)
	want := float32(-1) + float32(float32(64)*float32(32))*qf.decMul
	if !withinULP(v, want) || v <= 0 || v > 0.001 {
		t.Errorf("Expected value just above zero (%v), got %v", want, v)
	}
}
