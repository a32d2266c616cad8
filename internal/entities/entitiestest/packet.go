// Package entitiestest builds packet-entities messages for tests.
package entitiestest

import (
	"github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/msg"
	"google.golang.org/protobuf/proto"

	"cs2-demo-pipeline/internal/bitread"
	"cs2-demo-pipeline/internal/entities"
)

// Serial is stamped on every created entity.
const Serial = 7

// Packet accumulates entity deltas in ascending index order.
type Packet struct {
	w         bitread.Writer
	classBits uint
	last      int32
	n         int32
}

// NewPacket starts a packet for a registry with the given class id width.
func NewPacket(classBits uint) *Packet {
	return &Packet{classBits: classBits, last: -1}
}

func (p *Packet) header(index int32, cmd uint32) {
	p.w.WriteUBitVar(uint32(index - p.last - 1))
	p.last = index
	p.w.WriteBits(cmd, 2)
	p.n++
}

// Create starts a create delta. Fields must follow.
func (p *Packet) Create(index, classID int32) *Packet {
	p.header(index, 2)
	p.w.WriteBits(uint32(classID), p.classBits)
	p.w.WriteBits(Serial, 17)
	p.w.WriteVarUint32(0)
	return p
}

// Update starts an update delta. Fields must follow.
func (p *Packet) Update(index int32) *Packet {
	p.header(index, 0)
	return p
}

// Leave marks index as having left the PVS.
func (p *Packet) Leave(index int32) *Packet {
	p.header(index, 1)
	return p
}

// Delete removes index.
func (p *Packet) Delete(index int32) *Packet {
	p.header(index, 3)
	return p
}

// Fields writes the path list followed by the values written by values.
func (p *Packet) Fields(paths [][]int, values func(w *bitread.Writer)) *Packet {
	entities.WriteFieldPaths(&p.w, paths)
	if values != nil {
		values(&p.w)
	}
	return p
}

// NoFields writes an empty path list.
func (p *Packet) NoFields() *Packet { return p.Fields(nil, nil) }

// Message returns the accumulated deltas.
func (p *Packet) Message() *msg.CSVCMsg_PacketEntities {
	return &msg.CSVCMsg_PacketEntities{
		UpdatedEntries: proto.Int32(p.n),
		EntityData:     p.w.Bytes(),
	}
}

// Baseline encodes a field list the way instancebaseline values carry it.
func Baseline(paths [][]int, values func(w *bitread.Writer)) []byte {
	var w bitread.Writer
	entities.WriteFieldPaths(&w, paths)
	if values != nil {
		values(&w)
	}
	return w.Bytes()
}
