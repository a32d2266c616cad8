package schema

import (
	"encoding/binary"

	"cs2-demo-pipeline/internal/bitread"
)

// DecoderKind selects one of the closed set of property decoders.
type DecoderKind uint8

const (
	DecBool DecoderKind = iota
	DecVarU32
	DecVarI32
	DecVarU64
	DecVarI64
	DecFixed64
	DecF32Raw
	DecF32Coord
	DecF32Quantized
	DecF32SimTime
	DecF32NormalVec3
	DecString
	DecQAngleCoord
	DecQAnglePrecise
	DecQAngleBits
	DecQAnglePitchYaw
	DecCompactVec
	DecEntityHandle
	DecAmmo
	DecGameModeRules
	DecComponent
)

var decoderKindNames = [...]string{
	DecBool:           "bool",
	DecVarU32:         "varuint32",
	DecVarI32:         "varint32",
	DecVarU64:         "varuint64",
	DecVarI64:         "varint64",
	DecFixed64:        "fixed64",
	DecF32Raw:         "f32_raw",
	DecF32Coord:       "f32_coord",
	DecF32Quantized:   "f32_quantized",
	DecF32SimTime:     "f32_simtime",
	DecF32NormalVec3:  "f32_normal_vec3",
	DecString:         "string",
	DecQAngleCoord:    "qangle",
	DecQAnglePrecise:  "qangle_precise",
	DecQAngleBits:     "qangle_bits",
	DecQAnglePitchYaw: "qangle_pitch_yaw",
	DecCompactVec:     "compact_vec",
	DecEntityHandle:   "entity_handle",
	DecAmmo:           "ammo",
	DecGameModeRules:  "game_mode_rules",
	DecComponent:      "component",
}

func (k DecoderKind) String() string {
	if int(k) < len(decoderKindNames) {
		return decoderKindNames[k]
	}
	return "unknown"
}

// Decoder is an immutable decoding recipe for one property.
type Decoder struct {
	Kind  DecoderKind
	Quant *QuantizedFloat // DecF32Quantized
	Elem  *Decoder        // DecCompactVec component decoder
	Dim   uint8           // DecCompactVec component count
	Bits  uint            // DecQAngleBits, DecQAnglePitchYaw
}

var (
	boolDecoder      = &Decoder{Kind: DecBool}
	unsignedDecoder  = &Decoder{Kind: DecVarU32}
	signedDecoder    = &Decoder{Kind: DecVarI32}
	unsigned64Dec    = &Decoder{Kind: DecVarU64}
	signed64Decoder  = &Decoder{Kind: DecVarI64}
	fixed64Decoder   = &Decoder{Kind: DecFixed64}
	noScaleDecoder   = &Decoder{Kind: DecF32Raw}
	coordDecoder     = &Decoder{Kind: DecF32Coord}
	simTimeDecoder   = &Decoder{Kind: DecF32SimTime}
	normalDecoder    = &Decoder{Kind: DecF32NormalVec3}
	stringDecoder    = &Decoder{Kind: DecString}
	handleDecoder    = &Decoder{Kind: DecEntityHandle}
	ammoDecoder      = &Decoder{Kind: DecAmmo}
	gameModeDecoder  = &Decoder{Kind: DecGameModeRules}
	componentDecoder = &Decoder{Kind: DecComponent}
)

// Decode reads one value. Errors surface through the reader.
func (d *Decoder) Decode(r *bitread.Reader) Value {
	switch d.Kind {
	case DecBool:
		return BoolValue(r.ReadBool())
	case DecVarU32:
		return UintValue(uint64(r.ReadVarUint32()))
	case DecVarI32:
		return IntValue(int64(r.ReadVarInt32()))
	case DecVarU64:
		return UintValue(r.ReadVarUint64())
	case DecVarI64:
		return IntValue(r.ReadVarInt64())
	case DecFixed64:
		b := r.ReadBytes(8)
		if len(b) < 8 {
			return UintValue(0)
		}
		return UintValue(binary.LittleEndian.Uint64(b))
	case DecF32Raw:
		return FloatValue(r.ReadFloat32())
	case DecF32Coord:
		return FloatValue(r.ReadBitCoord())
	case DecF32Quantized:
		return FloatValue(d.Quant.Decode(r))
	case DecF32SimTime:
		return FloatValue(float32(r.ReadVarUint32()) * (1.0 / 30.0))
	case DecF32NormalVec3:
		v := r.ReadBitNormalVec3()
		return VectorValue(v[0], v[1], v[2])
	case DecString:
		return StringValue(r.ReadString())
	case DecQAngleCoord:
		var v [3]float32
		hasX, hasY, hasZ := r.ReadBool(), r.ReadBool(), r.ReadBool()
		if hasX {
			v[0] = r.ReadBitCoord()
		}
		if hasY {
			v[1] = r.ReadBitCoord()
		}
		if hasZ {
			v[2] = r.ReadBitCoord()
		}
		return VectorValue(v[0], v[1], v[2])
	case DecQAnglePrecise:
		var v [3]float32
		hasX, hasY, hasZ := r.ReadBool(), r.ReadBool(), r.ReadBool()
		if hasX {
			v[0] = r.ReadBitCoordPres()
		}
		if hasY {
			v[1] = r.ReadBitCoordPres()
		}
		if hasZ {
			v[2] = r.ReadBitCoordPres()
		}
		return VectorValue(v[0], v[1], v[2])
	case DecQAngleBits:
		return VectorValue(r.ReadAngle(d.Bits), r.ReadAngle(d.Bits), r.ReadAngle(d.Bits))
	case DecQAnglePitchYaw:
		return VectorValue(r.ReadAngle(d.Bits), r.ReadAngle(d.Bits), 0)
	case DecCompactVec:
		var v [4]float32
		for i := 0; i < int(d.Dim) && i < len(v); i++ {
			v[i] = d.Elem.Decode(r).Float()
		}
		return VectorValue(v[:d.Dim]...)
	case DecEntityHandle:
		return UintValue(uint64(r.ReadVarUint32()))
	case DecAmmo:
		ammo := r.ReadVarUint32()
		if ammo > 0 {
			ammo--
		}
		return UintValue(uint64(ammo))
	case DecGameModeRules:
		return UintValue(uint64(r.ReadBits(7)))
	case DecComponent:
		return BoolValue(r.ReadBool())
	}
	return Value{}
}

// decoders keyed by property name win over type-based selection.
var fieldNameDecoders = map[string]*Decoder{
	"m_iClip1":           ammoDecoder,
	"m_flSimulationTime": simTimeDecoder,
	"m_flAnimTime":       simTimeDecoder,
}

var baseTypeDecoders = map[string]*Decoder{
	"bool":                 boolDecoder,
	"char":                 stringDecoder,
	"CUtlString":           stringDecoder,
	"CUtlSymbolLarge":      stringDecoder,
	"int8":                 signedDecoder,
	"int16":                signedDecoder,
	"int32":                signedDecoder,
	"int64":                signed64Decoder,
	"uint8":                unsignedDecoder,
	"uint16":               unsignedDecoder,
	"uint32":               unsignedDecoder,
	"color32":              unsignedDecoder,
	"Color":                unsignedDecoder,
	"CUtlStringToken":      unsignedDecoder,
	"CGameSceneNodeHandle": unsignedDecoder,
	"CEntityHandle":        handleDecoder,
	"CHandle":              handleDecoder,
	"GameTime_t":           noScaleDecoder,
	"CBodyComponent":       componentDecoder,
	"CPhysicsComponent":    componentDecoder,
	"CRenderComponent":     componentDecoder,
	"CCSGameModeRules":     gameModeDecoder,
}

// decoderForBaseType is used for array elements, where only the element type
// name is known. Anything unlisted is an unsigned varint (enums, flags).
func decoderForBaseType(baseType string) *Decoder {
	switch baseType {
	case "uint64", "CStrongHandle":
		return unsigned64Dec
	case "float32":
		return noScaleDecoder
	}
	if d, ok := baseTypeDecoders[baseType]; ok {
		return d
	}
	return unsignedDecoder
}

// decoderForField selects the decoder of a simple or fixed-array field from
// its name, base type, encoder and quantization metadata.
func decoderForField(f *Field) *Decoder {
	switch f.Type.BaseType {
	case "float32", "CNetworkedQuantizedFloat":
		return floatDecoder(f)
	case "Vector":
		return vectorDecoder(f, 3)
	case "Vector2D":
		return vectorDecoder(f, 2)
	case "Vector4D", "Quaternion":
		return vectorDecoder(f, 4)
	case "QAngle":
		return qangleDecoder(f)
	case "uint64", "CStrongHandle":
		if f.Encoder == "fixed64" {
			return fixed64Decoder
		}
		return unsigned64Dec
	}
	if d, ok := fieldNameDecoders[f.VarName]; ok {
		return d
	}
	return decoderForBaseType(f.Type.BaseType)
}

func floatDecoder(f *Field) *Decoder {
	if d, ok := fieldNameDecoders[f.VarName]; ok {
		return d
	}
	if f.Encoder == "coord" {
		return coordDecoder
	}
	if f.BitCount == nil || *f.BitCount <= 0 || *f.BitCount >= 32 {
		return noScaleDecoder
	}
	return &Decoder{
		Kind:  DecF32Quantized,
		Quant: NewQuantizedFloat(uint32(*f.BitCount), f.EncodeFlags, f.LowValue, f.HighValue),
	}
}

func vectorDecoder(f *Field, dim uint8) *Decoder {
	if dim == 3 && f.Encoder == "normal" {
		return normalDecoder
	}
	return &Decoder{Kind: DecCompactVec, Elem: floatDecoder(f), Dim: dim}
}

func qangleDecoder(f *Field) *Decoder {
	var bits uint
	if f.BitCount != nil && *f.BitCount > 0 {
		bits = uint(*f.BitCount)
	}
	switch f.Encoder {
	case "qangle_precise":
		return &Decoder{Kind: DecQAnglePrecise}
	case "qangle_pitch_yaw":
		if bits == 0 {
			bits = 32
		}
		return &Decoder{Kind: DecQAnglePitchYaw, Bits: bits}
	}
	if bits > 0 && bits <= 32 {
		return &Decoder{Kind: DecQAngleBits, Bits: bits}
	}
	return &Decoder{Kind: DecQAngleCoord}
}
