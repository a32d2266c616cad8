package schema

import (
	"fmt"
	"strings"

	"github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/msg"

	"cs2-demo-pipeline/internal/errs"
)

// FieldModel describes how a field nests in a field path.
type FieldModel uint8

const (
	ModelSimple FieldModel = iota
	ModelFixedArray
	ModelFixedTable
	ModelVariableArray
	ModelVariableTable
)

// Types that are always transmitted as optional sub-tables.
var pointerTypes = map[string]bool{
	"PhysicsRagdollPose_t":     true,
	"CBodyComponent":           true,
	"CEntityIdentity":          true,
	"CPhysicsComponent":        true,
	"CRenderComponent":         true,
	"CPlayerLocalData":         true,
	"CPlayer_CameraServices":   true,
	"CPlayer_MovementServices": true,
	"CCSGameRules":             true,
}

// Field is one entry of a flattened serializer.
type Field struct {
	VarName           string
	VarType           string
	SendNode          string
	Encoder           string
	SerializerName    string
	SerializerVersion int32
	BitCount          *int32
	LowValue          *float32
	HighValue         *float32
	EncodeFlags       *int32

	Type       *FieldType
	Serializer *Serializer
	Model      FieldModel

	decoder      *Decoder // simple, fixed array elements
	baseDecoder  *Decoder // table presence or element count
	childDecoder *Decoder // variable array elements
}

// Name returns the property name segment contributed by this field.
func (f *Field) Name() string {
	if f.SendNode == "" {
		return f.VarName
	}
	return f.SendNode + "." + f.VarName
}

func (f *Field) setModel(model FieldModel) error {
	f.Model = model
	switch model {
	case ModelFixedArray, ModelSimple:
		f.decoder = decoderForField(f)
	case ModelFixedTable:
		f.baseDecoder = boolDecoder
	case ModelVariableArray:
		if f.Type.Generic == nil {
			return fmt.Errorf("variable array %s has no element type: %w", f.VarName, errs.ErrMalformedMessage)
		}
		f.baseDecoder = unsignedDecoder
		f.childDecoder = decoderForBaseType(f.Type.Generic.BaseType)
		if f.Type.Generic.BaseType == "float32" || f.Type.Generic.BaseType == "CNetworkedQuantizedFloat" {
			f.childDecoder = floatDecoder(f)
		}
	case ModelVariableTable:
		f.baseDecoder = unsignedDecoder
	}
	return nil
}

// Serializer is an ordered list of fields describing one networked class or
// embedded table.
type Serializer struct {
	Name    string
	Version int32
	Fields  []*Field
}

// BuildSerializers decodes the flattened serializer message sent in the
// demo's send tables. Nested serializers always precede their users.
func BuildSerializers(m *msg.CSVCMsg_FlattenedSerializer) (map[string]*Serializer, error) {
	symbols := m.GetSymbols()
	sym := func(i *int32) string {
		if i == nil || *i < 0 || int(*i) >= len(symbols) {
			return ""
		}
		return symbols[*i]
	}
	symAt := func(i int32) string { return sym(&i) }

	serializers := make(map[string]*Serializer, len(m.GetSerializers()))
	fields := make(map[int32]*Field)
	for _, s := range m.GetSerializers() {
		ser := &Serializer{
			Name:    symAt(s.GetSerializerNameSym()),
			Version: s.GetSerializerVersion(),
		}
		for _, idx := range s.GetFieldsIndex() {
			f, ok := fields[idx]
			if !ok {
				if idx < 0 || int(idx) >= len(m.GetFields()) {
					return nil, fmt.Errorf("serializer %s references field %d of %d: %w", ser.Name, idx, len(m.GetFields()), errs.ErrMalformedMessage)
				}
				pf := m.GetFields()[idx]
				f = &Field{
					VarName:           sym(pf.VarNameSym),
					VarType:           sym(pf.VarTypeSym),
					SendNode:          sendNodeName(sym(pf.SendNodeSym)),
					Encoder:           sym(pf.VarEncoderSym),
					SerializerName:    sym(pf.FieldSerializerNameSym),
					SerializerVersion: pf.GetFieldSerializerVersion(),
					BitCount:          pf.BitCount,
					LowValue:          pf.LowValue,
					HighValue:         pf.HighValue,
					EncodeFlags:       pf.EncodeFlags,
				}
				f.Type = ParseFieldType(f.VarType)
				if f.SerializerName != "" {
					f.Serializer = serializers[f.SerializerName]
				}
				if err := f.setModel(modelFor(f)); err != nil {
					return nil, err
				}
				fields[idx] = f
			}
			ser.Fields = append(ser.Fields, f)
		}
		serializers[ser.Name] = ser
	}
	return serializers, nil
}

func modelFor(f *Field) FieldModel {
	switch {
	case f.Serializer != nil:
		if f.Type.Pointer || pointerTypes[f.Type.BaseType] {
			return ModelFixedTable
		}
		return ModelVariableTable
	case f.Type.Count > 0 && f.Type.BaseType != "char":
		return ModelFixedArray
	case f.Type.BaseType == "CUtlVector" || f.Type.BaseType == "CNetworkUtlVectorBase":
		return ModelVariableArray
	}
	return ModelSimple
}

func sendNodeName(node string) string {
	if node == "(root)" {
		return ""
	}
	return strings.TrimPrefix(node, "(root).")
}

// decoderAt walks the serializer along path starting at pos and returns the
// decoder for the addressed property.
func (s *Serializer) decoderAt(path []int, pos int) (*Decoder, error) {
	if pos >= len(path) {
		return nil, fmt.Errorf("path %v ends inside %s: %w", path, s.Name, errs.ErrMalformedMessage)
	}
	idx := path[pos]
	if idx < 0 || idx >= len(s.Fields) {
		return nil, fmt.Errorf("field index %d out of range for %s (%d fields): %w", idx, s.Name, len(s.Fields), errs.ErrMalformedMessage)
	}
	return s.Fields[idx].decoderAt(path, pos+1)
}

func (f *Field) decoderAt(path []int, pos int) (*Decoder, error) {
	last := len(path) - 1
	switch f.Model {
	case ModelFixedArray:
		return f.decoder, nil
	case ModelFixedTable:
		if last == pos-1 {
			return f.baseDecoder, nil
		}
		return f.Serializer.decoderAt(path, pos)
	case ModelVariableArray:
		if last == pos {
			return f.childDecoder, nil
		}
		return f.baseDecoder, nil
	case ModelVariableTable:
		if last >= pos+1 {
			return f.Serializer.decoderAt(path, pos+1)
		}
		return f.baseDecoder, nil
	}
	return f.decoder, nil
}

// nameAt returns the dotted property name addressed by path.
func (s *Serializer) nameAt(path []int, pos int) []string {
	if pos >= len(path) || path[pos] < 0 || path[pos] >= len(s.Fields) {
		return nil
	}
	return s.Fields[path[pos]].nameAt(path, pos+1)
}

func (f *Field) nameAt(path []int, pos int) []string {
	last := len(path) - 1
	x := []string{f.Name()}
	switch f.Model {
	case ModelFixedArray, ModelVariableArray:
		if last == pos {
			x = append(x, fmt.Sprintf("%04d", path[pos]))
		}
	case ModelFixedTable:
		if last >= pos {
			x = append(x, f.Serializer.nameAt(path, pos)...)
		}
	case ModelVariableTable:
		if last != pos-1 {
			x = append(x, fmt.Sprintf("%04d", path[pos]))
			if last != pos {
				x = append(x, f.Serializer.nameAt(path, pos+1)...)
			}
		}
	}
	return x
}

// NameAt renders the dotted property name for a field path, for diagnostics.
func (s *Serializer) NameAt(path []int) string {
	return strings.Join(s.nameAt(path, 0), ".")
}

// DecoderAt returns the decoder addressed by a field path.
func (s *Serializer) DecoderAt(path []int) (*Decoder, error) {
	return s.decoderAt(path, 0)
}
