package schema

import "fmt"

// ValueKind tags the active member of a Value.
type ValueKind uint8

const (
	KindNone ValueKind = iota
	KindBool
	KindUint
	KindInt
	KindFloat
	KindString
	KindVector
)

// Value is a decoded property value. Only the member selected by Kind is set.
type Value struct {
	Kind ValueKind
	U64  uint64
	I64  int64
	F32  float32
	Str  string
	Vec  [4]float32
	Len  uint8 // vector dimension
}

func BoolValue(b bool) Value {
	v := Value{Kind: KindBool}
	if b {
		v.U64 = 1
	}
	return v
}

func UintValue(u uint64) Value { return Value{Kind: KindUint, U64: u} }
func IntValue(i int64) Value { return Value{Kind: KindInt, I64: i} }
func FloatValue(f float32) Value { return Value{Kind: KindFloat, F32: f} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

func VectorValue(components ...float32) Value {
	v := Value{Kind: KindVector, Len: uint8(len(components))}
	copy(v.Vec[:], components)
	return v
}

// Bool reports the value as a boolean; numeric kinds are true when non-zero.
func (v Value) Bool() bool {
	switch v.Kind {
	case KindBool, KindUint:
		return v.U64 != 0
	case KindInt:
		return v.I64 != 0
	case KindFloat:
		return v.F32 != 0
	}
	return false
}

// Uint converts numeric kinds to uint64.
func (v Value) Uint() uint64 {
	switch v.Kind {
	case KindBool, KindUint:
		return v.U64
	case KindInt:
		return uint64(v.I64)
	case KindFloat:
		return uint64(v.F32)
	}
	return 0
}

// Int converts numeric kinds to int64.
func (v Value) Int() int64 {
	switch v.Kind {
	case KindBool, KindUint:
		return int64(v.U64)
	case KindInt:
		return v.I64
	case KindFloat:
		return int64(v.F32)
	}
	return 0
}

// Float converts numeric kinds to float32.
func (v Value) Float() float32 {
	switch v.Kind {
	case KindBool, KindUint:
		return float32(v.U64)
	case KindInt:
		return float32(v.I64)
	case KindFloat:
		return v.F32
	}
	return 0
}

func (v Value) String() string {
	switch v.Kind {
	case KindBool:
		return fmt.Sprint(v.Bool())
	case KindUint:
		return fmt.Sprint(v.U64)
	case KindInt:
		return fmt.Sprint(v.I64)
	case KindFloat:
		return fmt.Sprint(v.F32)
	case KindString:
		return v.Str
	case KindVector:
		return fmt.Sprint(v.Vec[:v.Len])
	}
	return "<none>"
}
