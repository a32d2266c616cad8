package schema

import (
	"math"

	"cs2-demo-pipeline/internal/bitread"
)

// Quantization flags carried by float fields.
const (
	QuantRoundDown     uint32 = 1 << 0
	QuantRoundUp       uint32 = 1 << 1
	QuantEncodeZero    uint32 = 1 << 2
	QuantEncodeInteger uint32 = 1 << 3
)

// QuantizedFloat maps an n-bit integer uniformly into [low, high] with
// optional out-of-band markers for low, high and zero.
type QuantizedFloat struct {
	low        float32
	high       float32
	highLowMul float32
	decMul     float32
	offset     float32
	bitCount   uint32
	flags      uint32
	noScale    bool
}

// NewQuantizedFloat derives decode parameters from the serializer metadata.
// Nil low and high default to 0 and 1. A bit count of 0 or >= 32 means the
// value is sent as a raw float.
func NewQuantizedFloat(bitCount uint32, flags *int32, low, high *float32) *QuantizedFloat {
	qf := &QuantizedFloat{}
	if bitCount == 0 || bitCount >= 32 {
		qf.noScale = true
		qf.bitCount = 32
		return qf
	}
	qf.bitCount = bitCount
	if low != nil {
		qf.low = *low
	}
	qf.high = 1
	if high != nil {
		qf.high = *high
	}
	if flags != nil {
		qf.flags = uint32(*flags)
	}
	qf.validateFlags()

	steps := uint32(1) << qf.bitCount
	if qf.flags&QuantRoundDown != 0 {
		rng := qf.high - qf.low
		qf.offset = rng / float32(steps)
		qf.high -= qf.offset
	} else if qf.flags&QuantRoundUp != 0 {
		rng := qf.high - qf.low
		qf.offset = rng / float32(steps)
		qf.low += qf.offset
	}

	if qf.flags&QuantEncodeInteger != 0 {
		delta := qf.high - qf.low
		if delta < 1 {
			delta = 1
		}
		deltaLog2 := math.Ceil(float64(float32(math.Log2(float64(delta)))))
		range2 := uint32(1) << uint32(deltaLog2)
		bc := qf.bitCount
		for uint32(1)<<bc <= range2 {
			bc++
		}
		if bc > qf.bitCount {
			qf.bitCount = bc
			steps = uint32(1) << qf.bitCount
		}
		qf.offset = float32(range2) / float32(steps)
		qf.high = qf.low + (float32(range2) - qf.offset)
	}

	qf.assignMultipliers(steps)

	if qf.flags&QuantRoundDown != 0 && qf.quantize(qf.low) == qf.low {
		qf.flags &^= QuantRoundDown
	}
	if qf.flags&QuantRoundUp != 0 && qf.quantize(qf.high) == qf.high {
		qf.flags &^= QuantRoundUp
	}
	if qf.flags&QuantEncodeZero != 0 && qf.quantize(0) == 0 {
		qf.flags &^= QuantEncodeZero
	}
	return qf
}

func (qf *QuantizedFloat) validateFlags() {
	if qf.flags == 0 {
		return
	}
	if (qf.low == 0 && qf.flags&QuantRoundDown != 0) || (qf.high == 0 && qf.flags&QuantRoundUp != 0) {
		qf.flags &^= QuantEncodeZero
	}
	if qf.low == 0 && qf.flags&QuantEncodeZero != 0 {
		qf.flags |= QuantRoundDown
		qf.flags &^= QuantEncodeZero
	}
	if qf.high == 0 && qf.flags&QuantEncodeZero != 0 {
		qf.flags |= QuantRoundUp
		qf.flags &^= QuantEncodeZero
	}
	if qf.low > 0 || qf.high < 0 {
		qf.flags &^= QuantEncodeZero
	}
	if qf.flags&QuantEncodeInteger != 0 {
		qf.flags &^= QuantRoundUp | QuantRoundDown | QuantEncodeZero
	}
}

func (qf *QuantizedFloat) assignMultipliers(steps uint32) {
	qf.highLowMul = 0
	rng := qf.high - qf.low

	var high uint32
	if qf.bitCount == 32 {
		high = 0xFFFFFFFE
	} else {
		high = (uint32(1) << qf.bitCount) - 1
	}
	highF := float32(high)

	var highMul float32
	if float32(math.Abs(float64(rng))) <= 0 {
		highMul = highF
	} else {
		highMul = highF / rng
	}

	if float32(highMul*rng) > highF {
		for _, mul := range []float32{0.9999, 0.99, 0.9, 0.8, 0.7} {
			highMul = float32(highF/rng) * mul
			if float32(highMul*rng) > highF {
				continue
			}
			break
		}
	}
	qf.highLowMul = highMul
	qf.decMul = 1 / float32(steps-1)
}

func (qf *QuantizedFloat) quantize(val float32) float32 {
	if val < qf.low {
		return qf.low
	}
	if val > qf.high {
		return qf.high
	}
	i := uint32(float32((val - qf.low) * qf.highLowMul))
	return qf.low + float32(float32(qf.high-qf.low)*float32(float32(i)*qf.decMul))
}

// Decode reads one quantized value.
func (qf *QuantizedFloat) Decode(r *bitread.Reader) float32 {
	if qf.noScale {
		return r.ReadFloat32()
	}
	if qf.flags&QuantRoundDown != 0 && r.ReadBool() {
		return qf.low
	}
	if qf.flags&QuantRoundUp != 0 && r.ReadBool() {
		return qf.high
	}
	if qf.flags&QuantEncodeZero != 0 && r.ReadBool() {
		return 0
	}
	bits := r.ReadBits(uint(qf.bitCount))
	scaled := float32(float32(qf.high-qf.low) * float32(bits))
	return qf.low + float32(scaled*qf.decMul)
}

// Low returns the decoded lower bound.
func (qf *QuantizedFloat) Low() float32 { return qf.low }

// High returns the decoded upper bound.
func (qf *QuantizedFloat) High() float32 { return qf.high }

// BitCount returns the number of payload bits per value.
func (qf *QuantizedFloat) BitCount() uint32 { return qf.bitCount }

// Flags returns the effective flags after validation.
func (qf *QuantizedFloat) Flags() uint32 { return qf.flags }
