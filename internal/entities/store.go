// Package entities maintains the authoritative per-entity property maps of a
// demo, driven by packet-entities deltas.
package entities

import (
	"errors"
	"fmt"

	"github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/msg"
	"github.com/rs/zerolog"

	"cs2-demo-pipeline/internal/bitread"
	"cs2-demo-pipeline/internal/errs"
	"cs2-demo-pipeline/internal/schema"
)

const (
	// MaxLiveEntities bounds the number of simultaneously existing entities.
	MaxLiveEntities = 2048

	// HandleIndexMask extracts the entity index from a networked handle.
	HandleIndexMask = (1 << 14) - 1
	// InvalidHandle marks an unset handle property.
	InvalidHandle = 0xFFFFFF

	serialBits = 17
)

// Entity is one networked object.
type Entity struct {
	Index    int32
	ClassID  int32
	Serial   uint32
	Class    *schema.Class
	Props    map[schema.PropID]schema.Value
	LastTick uint32
	Visible  bool
}

// Get returns a property value.
func (e *Entity) Get(id schema.PropID) (schema.Value, bool) {
	v, ok := e.Props[id]
	return v, ok
}

// BaselineSource supplies default encoded properties per class.
type BaselineSource interface {
	Baseline(classID int32) ([]byte, bool)
}

// Store owns every entity of one demo.
type Store struct {
	log       zerolog.Logger
	registry  *schema.Registry
	baselines BaselineSource

	entities map[int32]*Entity
	// controller index -> pawn index
	pawnByController map[int32]int32
	controllerByPawn map[int32]int32

	paths   []FieldPath
	unknown map[string]struct{}
	tick    uint32
}

func NewStore(log zerolog.Logger, registry *schema.Registry, baselines BaselineSource) *Store {
	return &Store{
		log:              log,
		registry:         registry,
		baselines:        baselines,
		entities:         make(map[int32]*Entity),
		pawnByController: make(map[int32]int32),
		controllerByPawn: make(map[int32]int32),
		paths:            make([]FieldPath, 0, 256),
		unknown:          make(map[string]struct{}),
	}
}

// Entity returns the entity at index.
func (s *Store) Entity(index int32) (*Entity, bool) {
	e, ok := s.entities[index]
	return e, ok
}

// Len returns the number of live entities.
func (s *Store) Len() int { return len(s.entities) }

// Tick returns the tick of the last applied delta.
func (s *Store) Tick() uint32 { return s.tick }

// Each calls fn for every live entity. Iteration order is unspecified.
func (s *Store) Each(fn func(e *Entity)) {
	for _, e := range s.entities {
		fn(e)
	}
}

// PawnOf returns the pawn entity bound to a controller.
func (s *Store) PawnOf(controller int32) (*Entity, bool) {
	idx, ok := s.pawnByController[controller]
	if !ok {
		return nil, false
	}
	return s.Entity(idx)
}

// ControllerOf returns the controller entity that owns a pawn.
func (s *Store) ControllerOf(pawn int32) (*Entity, bool) {
	idx, ok := s.controllerByPawn[pawn]
	if !ok {
		return nil, false
	}
	return s.Entity(idx)
}

// ApplyPacketEntities applies one packet-entities message at tick.
func (s *Store) ApplyPacketEntities(m *msg.CSVCMsg_PacketEntities, tick uint32) error {
	s.tick = tick
	r := bitread.New(m.GetEntityData())
	index := int32(-1)
	for n := m.GetUpdatedEntries(); n > 0; n-- {
		index += int32(r.ReadUBitVar()) + 1
		cmd := r.ReadBits(2)
		if err := r.Err(); err != nil {
			return fmt.Errorf("entity header: %w", err)
		}
		var err error
		switch {
		case cmd&0x01 == 0 && cmd&0x02 != 0:
			err = s.create(r, index, tick)
		case cmd&0x01 == 0:
			err = s.update(r, index, tick)
		default:
			err = s.leave(index, cmd&0x02 != 0)
		}
		if err != nil {
			return err
		}
	}
	return r.Err()
}

func (s *Store) create(r *bitread.Reader, index int32, tick uint32) error {
	classID := int32(r.ReadBits(s.registry.ClassIDBits()))
	serial := r.ReadBits(serialBits)
	r.ReadVarUint32()
	if err := r.Err(); err != nil {
		return fmt.Errorf("create header for entity %d: %w", index, err)
	}
	class, ok := s.registry.Class(classID)
	if !ok || class.Serializer == nil {
		return fmt.Errorf("create entity %d with unknown class %d: %w", index, classID, errs.ErrInvalidFormat)
	}
	if _, exists := s.entities[index]; exists {
		s.remove(index)
	}
	if len(s.entities) >= MaxLiveEntities {
		return fmt.Errorf("create entity %d exceeds %d live entities: %w", index, MaxLiveEntities, errs.ErrInvalidFormat)
	}

	e := &Entity{
		Index:    index,
		ClassID:  classID,
		Serial:   serial,
		Class:    class,
		Props:    make(map[schema.PropID]schema.Value, len(class.Leaves())/4),
		LastTick: tick,
		Visible:  true,
	}
	s.entities[index] = e

	if s.baselines != nil {
		if baseline, ok := s.baselines.Baseline(classID); ok && len(baseline) > 0 {
			if err := s.readFields(bitread.New(baseline), e); err != nil {
				return fmt.Errorf("baseline for class %s: %w", class.Name, err)
			}
		}
	}
	if err := s.readFields(r, e); err != nil {
		return fmt.Errorf("create entity %d (%s): %w", index, class.Name, err)
	}
	s.reindex(e)
	return nil
}

func (s *Store) update(r *bitread.Reader, index int32, tick uint32) error {
	e, ok := s.entities[index]
	if !ok {
		return fmt.Errorf("update for missing entity %d: %w", index, errs.ErrInvalidFormat)
	}
	e.Visible = true
	e.LastTick = tick
	if err := s.readFields(r, e); err != nil {
		return fmt.Errorf("update entity %d (%s): %w", index, e.Class.Name, err)
	}
	s.reindex(e)
	return nil
}

func (s *Store) leave(index int32, deleted bool) error {
	e, ok := s.entities[index]
	if !ok {
		// Leaving an entity we never saw is harmless.
		return nil
	}
	if deleted {
		s.remove(index)
		return nil
	}
	e.Visible = false
	return nil
}

func (s *Store) remove(index int32) {
	delete(s.entities, index)
	if pawn, ok := s.pawnByController[index]; ok {
		delete(s.pawnByController, index)
		if s.controllerByPawn[pawn] == index {
			delete(s.controllerByPawn, pawn)
		}
	}
	if ctrl, ok := s.controllerByPawn[index]; ok {
		delete(s.controllerByPawn, index)
		if s.pawnByController[ctrl] == index {
			delete(s.pawnByController, ctrl)
		}
	}
}

// reindex rebuilds the controller -> pawn association from m_hPlayerPawn.
func (s *Store) reindex(e *Entity) {
	id, ok := s.registry.PropID("m_hPlayerPawn")
	if !ok {
		return
	}
	v, ok := e.Props[id]
	if !ok {
		return
	}
	if old, ok := s.pawnByController[e.Index]; ok {
		delete(s.controllerByPawn, old)
		delete(s.pawnByController, e.Index)
	}
	handle := v.Uint()
	if handle == InvalidHandle {
		return
	}
	pawn := int32(handle & HandleIndexMask)
	s.pawnByController[e.Index] = pawn
	s.controllerByPawn[pawn] = e.Index
}

func (s *Store) readFields(r *bitread.Reader, e *Entity) error {
	var err error
	s.paths, err = ReadFieldPaths(r, s.paths[:0])
	if err != nil {
		return err
	}
	for i := range s.paths {
		spec, rerr := e.Class.Resolve(s.paths[i].Indices())
		if rerr != nil && !errors.Is(rerr, errs.ErrUnknownField) {
			return rerr
		}
		v := spec.Decoder.Decode(r)
		if err := r.Err(); err != nil {
			return fmt.Errorf("decode %s: %w", spec.Name, err)
		}
		if rerr != nil {
			s.logUnknown(e.Class.Name, spec.Name)
			continue
		}
		e.Props[spec.ID] = v
	}
	return nil
}

func (s *Store) logUnknown(class, name string) {
	key := class + "." + name
	if _, seen := s.unknown[key]; seen {
		return
	}
	s.unknown[key] = struct{}{}
	s.log.Debug().Str("class", class).Str("field", name).Msg("skipping unknown field")
}
