package schema

import (
	"fmt"
	"math"

	"github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/msg"

	"cs2-demo-pipeline/internal/errs"
)

// MaxPathDepth is the deepest field path the wire format produces.
const MaxPathDepth = 7

// Enumeration caps for dynamically sized containers. Elements beyond a cap
// resolve as unknown fields and are skipped.
const (
	maxVariableArrayElems = 64
	maxVariableTableElems = 16
	maxNestedTableElems   = 4
)

// PropID is a stable numeric id for a dotted property name, shared by every
// class of one demo.
type PropID uint32

// PropSpec binds one leaf of a class schema to its id and decoder.
type PropSpec struct {
	ID      PropID
	Name    string
	Decoder *Decoder
}

type pathKey struct {
	n int
	p [MaxPathDepth]int32
}

func keyOf(path []int) (pathKey, bool) {
	var k pathKey
	if len(path) > MaxPathDepth {
		return k, false
	}
	k.n = len(path)
	for i, v := range path {
		k.p[i] = int32(v)
	}
	return k, true
}

// Class is the schema of one networked class: a dense array of leaves plus
// a path index into it.
type Class struct {
	ID         int32
	Name       string
	Serializer *Serializer

	leaves []PropSpec
	index  map[pathKey]int32
}

// Leaves returns the class's property specs in path order.
func (c *Class) Leaves() []PropSpec { return c.leaves }

// Has reports whether the class schema carries a property named name.
func (c *Class) Has(name string) bool {
	for i := range c.leaves {
		if c.leaves[i].Name == name {
			return true
		}
	}
	return false
}

// Resolve returns the spec for a field path. For a path outside the schema it
// still returns a spec carrying the decoder (so the value can be consumed)
// together with an ErrUnknownField error. A path that cannot be walked at all
// is a malformed message.
func (c *Class) Resolve(path []int) (*PropSpec, error) {
	if k, ok := keyOf(path); ok {
		if i, ok := c.index[k]; ok {
			return &c.leaves[i], nil
		}
	}
	if c.Serializer == nil {
		return nil, fmt.Errorf("class %s has no serializer: %w", c.Name, errs.ErrInvalidFormat)
	}
	dec, err := c.Serializer.DecoderAt(path)
	if err != nil {
		return nil, err
	}
	name := c.Serializer.NameAt(path)
	return &PropSpec{Name: name, Decoder: dec}, fmt.Errorf("%s.%s: %w", c.Name, name, errs.ErrUnknownField)
}

// Registry holds the class schemas and property ids of one demo.
type Registry struct {
	serializers map[string]*Serializer
	classes     map[int32]*Class
	classIDBits uint
	ids         map[string]PropID
	names       []string
}

func NewRegistry() *Registry {
	return &Registry{
		classes: make(map[int32]*Class),
		ids:     make(map[string]PropID),
	}
}

// SetSerializers installs the decoded send tables.
func (r *Registry) SetSerializers(s map[string]*Serializer) {
	r.serializers = s
}

// LoadSendTables decodes and installs a flattened serializer message.
func (r *Registry) LoadSendTables(m *msg.CSVCMsg_FlattenedSerializer) error {
	s, err := BuildSerializers(m)
	if err != nil {
		return err
	}
	r.SetSerializers(s)
	return nil
}

// SetMaxClasses derives the class id width from the server's class count.
func (r *Registry) SetMaxClasses(n int) {
	if n <= 0 {
		r.classIDBits = 0
		return
	}
	r.classIDBits = uint(math.Log2(float64(n))) + 1
}

// ClassIDBits is the width of class ids in entity create records.
func (r *Registry) ClassIDBits() uint { return r.classIDBits }

// BindClasses maps class ids to serializers and enumerates every class's leaves.
func (r *Registry) BindClasses(info *msg.CDemoClassInfo) error {
	if r.serializers == nil {
		return fmt.Errorf("class info before send tables: %w", errs.ErrInvalidFormat)
	}
	for _, ci := range info.GetClasses() {
		c := &Class{
			ID:         ci.GetClassId(),
			Name:       ci.GetNetworkName(),
			Serializer: r.serializers[ci.GetNetworkName()],
			index:      make(map[pathKey]int32),
		}
		if c.Serializer != nil {
			r.enumerate(c, c.Serializer, nil, "", 0)
		}
		r.classes[c.ID] = c
	}
	return nil
}

// AddClass registers a single class, used when class info arrives piecemeal.
func (r *Registry) AddClass(id int32, networkName string) *Class {
	c := &Class{ID: id, Name: networkName, index: make(map[pathKey]int32)}
	if r.serializers != nil {
		c.Serializer = r.serializers[networkName]
	}
	if c.Serializer != nil {
		r.enumerate(c, c.Serializer, nil, "", 0)
	}
	r.classes[id] = c
	return c
}

// Class returns the schema for a class id.
func (r *Registry) Class(id int32) (*Class, bool) {
	c, ok := r.classes[id]
	return c, ok
}

// ClassByName returns the first class with the given network name.
func (r *Registry) ClassByName(name string) (*Class, bool) {
	for _, c := range r.classes {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// PropID returns the id bound to a dotted property name.
func (r *Registry) PropID(name string) (PropID, bool) {
	id, ok := r.ids[name]
	return id, ok
}

// PropName returns the dotted name for an id.
func (r *Registry) PropName(id PropID) string {
	if int(id) < len(r.names) {
		return r.names[id]
	}
	return ""
}

func (r *Registry) intern(name string) PropID {
	if id, ok := r.ids[name]; ok {
		return id
	}
	id := PropID(len(r.names))
	r.ids[name] = id
	r.names = append(r.names, name)
	return id
}

func (r *Registry) add(c *Class, path []int, name string, dec *Decoder) {
	k, ok := keyOf(path)
	if !ok {
		return
	}
	c.index[k] = int32(len(c.leaves))
	c.leaves = append(c.leaves, PropSpec{ID: r.intern(name), Name: name, Decoder: dec})
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func extend(path []int, i ...int) []int {
	out := make([]int, len(path), len(path)+len(i))
	copy(out, path)
	return append(out, i...)
}

func (r *Registry) enumerate(c *Class, s *Serializer, prefix []int, prefixName string, tableDepth int) {
	if len(prefix) >= MaxPathDepth {
		return
	}
	for i, f := range s.Fields {
		p := extend(prefix, i)
		name := joinName(prefixName, f.Name())
		switch f.Model {
		case ModelSimple:
			r.add(c, p, name, f.decoder)
		case ModelFixedArray:
			for j := 0; j < f.Type.Count; j++ {
				r.add(c, extend(p, j), fmt.Sprintf("%s.%04d", name, j), f.decoder)
			}
		case ModelFixedTable:
			r.add(c, p, name, f.baseDecoder)
			r.enumerate(c, f.Serializer, p, name, tableDepth)
		case ModelVariableArray:
			r.add(c, p, name, f.baseDecoder)
			for j := 0; j < maxVariableArrayElems; j++ {
				r.add(c, extend(p, j), fmt.Sprintf("%s.%04d", name, j), f.childDecoder)
			}
		case ModelVariableTable:
			r.add(c, p, name, f.baseDecoder)
			limit := maxVariableTableElems
			if tableDepth > 0 {
				limit = maxNestedTableElems
			}
			for j := 0; j < limit; j++ {
				r.enumerate(c, f.Serializer, extend(p, j), fmt.Sprintf("%s.%04d", name, j), tableDepth+1)
			}
		}
	}
}
