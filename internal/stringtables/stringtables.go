// Package stringtables tracks the demo's named string tables and applies the
// side effects of the two that matter downstream: userinfo (player identity
// by user id) and instancebaseline (default entity bytes by class id).
package stringtables

import (
	"fmt"
	"strconv"

	"github.com/golang/snappy"
	"github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/msg"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"

	"cs2-demo-pipeline/internal/bitread"
	"cs2-demo-pipeline/internal/errs"
)

const (
	TableUserInfo         = "userinfo"
	TableInstanceBaseline = "instancebaseline"

	keyHistorySize = 32
)

// Entry is one row of a string table.
type Entry struct {
	Index int32
	Key   string
	Value []byte
}

// Table is a named, sparse, ordered array of entries plus the layout
// parameters needed to parse later updates.
type Table struct {
	Name              string
	UserDataFixedSize bool
	UserDataSizeBits  int32
	Flags             int32
	VarintBitCounts   bool

	entries map[int32]*Entry
}

// Entry returns the row at index.
func (t *Table) Entry(index int32) (*Entry, bool) {
	e, ok := t.entries[index]
	return e, ok
}

// Len returns the number of populated rows.
func (t *Table) Len() int { return len(t.entries) }

// PlayerInfo is the identity record installed by the userinfo table.
type PlayerInfo struct {
	Slot   int32 // table index, equal to controller entity index - 1
	UserID int32
	XUID   uint64
	Name   string
	IsBot  bool
	IsHLTV bool
}

// Manager owns every string table of one demo.
type Manager struct {
	log       zerolog.Logger
	tables    []*Table
	byName    map[string]*Table
	players   map[int32]PlayerInfo // by user id
	slots     map[int32]int32      // slot -> user id
	baselines map[int32][]byte
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:       log,
		byName:    make(map[string]*Table),
		players:   make(map[int32]PlayerInfo),
		slots:     make(map[int32]int32),
		baselines: make(map[int32][]byte),
	}
}

// Create registers a new table (ids are assigned in creation order) and
// applies its initial entries.
func (m *Manager) Create(c *msg.CSVCMsg_CreateStringTable) error {
	t := &Table{
		Name:              c.GetName(),
		UserDataFixedSize: c.GetUserDataFixedSize(),
		UserDataSizeBits:  c.GetUserDataSizeBits(),
		Flags:             c.GetFlags(),
		VarintBitCounts:   c.GetUsingVarintBitcounts(),
		entries:           make(map[int32]*Entry),
	}
	m.tables = append(m.tables, t)
	m.byName[t.Name] = t

	data := c.GetStringData()
	if c.GetDataCompressed() {
		var err error
		data, err = snappy.Decode(nil, data)
		if err != nil {
			return fmt.Errorf("decompress string table %s: %v: %w", t.Name, err, errs.ErrMalformedMessage)
		}
	}
	return m.apply(t, data, c.GetNumEntries())
}

// Update applies a delta to the table with the given id.
func (m *Manager) Update(u *msg.CSVCMsg_UpdateStringTable) error {
	id := u.GetTableId()
	if id < 0 || int(id) >= len(m.tables) {
		return fmt.Errorf("update for string table %d of %d: %w", id, len(m.tables), errs.ErrInvalidFormat)
	}
	return m.apply(m.tables[id], u.GetStringData(), u.GetNumChangedEntries())
}

// LoadSnapshot replaces table contents from a full string table dump, as
// carried by full packets and the string tables command.
func (m *Manager) LoadSnapshot(s *msg.CDemoStringTables) error {
	for _, ts := range s.GetTables() {
		t, ok := m.byName[ts.GetTableName()]
		if !ok {
			t = &Table{Name: ts.GetTableName(), entries: make(map[int32]*Entry)}
			m.tables = append(m.tables, t)
			m.byName[t.Name] = t
		}
		for i, item := range ts.GetItems() {
			e := &Entry{Index: int32(i), Key: item.GetStr(), Value: item.GetData()}
			t.entries[e.Index] = e
			m.sideEffects(t, e)
		}
	}
	return nil
}

// Table returns a table by name.
func (m *Manager) Table(name string) (*Table, bool) {
	t, ok := m.byName[name]
	return t, ok
}

// Baseline returns the default encoded property bytes for a class.
func (m *Manager) Baseline(classID int32) ([]byte, bool) {
	b, ok := m.baselines[classID]
	return b, ok
}

// Player returns the identity bound to a user id.
func (m *Manager) Player(userID int32) (PlayerInfo, bool) {
	p, ok := m.players[userID]
	return p, ok
}

// PlayerBySlot returns the identity in the given userinfo slot.
func (m *Manager) PlayerBySlot(slot int32) (PlayerInfo, bool) {
	uid, ok := m.slots[slot]
	if !ok {
		return PlayerInfo{}, false
	}
	return m.Player(uid)
}

// Players returns every known identity keyed by user id.
func (m *Manager) Players() map[int32]PlayerInfo { return m.players }

func (m *Manager) apply(t *Table, data []byte, numEntries int32) error {
	entries, err := Parse(data, numEntries, t.UserDataFixedSize, t.UserDataSizeBits, t.Flags, t.VarintBitCounts)
	if err != nil {
		return fmt.Errorf("string table %s: %w", t.Name, err)
	}
	for _, e := range entries {
		if old, ok := t.entries[e.Index]; ok {
			if e.Key == "" {
				e.Key = old.Key
			}
			if e.Value == nil {
				e.Value = old.Value
			}
		}
		t.entries[e.Index] = e
		m.sideEffects(t, e)
	}
	return nil
}

func (m *Manager) sideEffects(t *Table, e *Entry) {
	switch t.Name {
	case TableUserInfo:
		if len(e.Value) == 0 {
			return
		}
		var info msg.CMsgPlayerInfo
		if err := proto.Unmarshal(e.Value, &info); err != nil {
			m.log.Debug().Err(err).Int32("slot", e.Index).Msg("skipping undecodable userinfo entry")
			return
		}
		if info.GetXuid() == 0 {
			return
		}
		p := PlayerInfo{
			Slot:   e.Index,
			UserID: info.GetUserid() & 0xff,
			XUID:   info.GetXuid(),
			Name:   info.GetName(),
			IsBot:  info.GetFakeplayer(),
			IsHLTV: info.GetIshltv(),
		}
		m.players[p.UserID] = p
		m.slots[p.Slot] = p.UserID
	case TableInstanceBaseline:
		classID, err := strconv.ParseInt(e.Key, 10, 32)
		if err != nil {
			return
		}
		m.baselines[int32(classID)] = e.Value
	}
}

// Parse decodes a string table payload of numEntries changes.
//
// Each change advances the index by one or by a varint skip, then optionally
// carries a key (fresh, or a prefix of one of the last 32 keys followed by a
// suffix) and optionally a value (fixed size, or a length prefix, possibly
// snappy compressed).
func Parse(data []byte, numEntries int32, fixedSize bool, sizeBits, flags int32, varintBitCounts bool) ([]*Entry, error) {
	if len(data) == 0 || numEntries <= 0 {
		return nil, nil
	}
	r := bitread.New(data)
	history := make([]string, 0, keyHistorySize)
	entries := make([]*Entry, 0, numEntries)
	index := int32(-1)

	for i := int32(0); i < numEntries; i++ {
		if r.ReadBool() {
			index++
		} else {
			index += int32(r.ReadVarUint32()) + 1
		}

		var key string
		if r.ReadBool() {
			if r.ReadBool() {
				pos := int(r.ReadBits(5))
				length := int(r.ReadBits(5))
				if pos >= len(history) {
					key = r.ReadString()
				} else {
					s := history[pos]
					if length > len(s) {
						key = s + r.ReadString()
					} else {
						key = s[:length] + r.ReadString()
					}
				}
			} else {
				key = r.ReadString()
			}
			if len(history) >= keyHistorySize {
				copy(history, history[1:])
				history = history[:len(history)-1]
			}
			history = append(history, key)
		}

		var value []byte
		if r.ReadBool() {
			var bits uint
			compressed := false
			if fixedSize {
				bits = uint(sizeBits)
			} else {
				if flags&0x1 != 0 {
					compressed = r.ReadBool()
				}
				if varintBitCounts {
					bits = uint(r.ReadUBitVar()) * 8
				} else {
					bits = uint(r.ReadBits(17)) * 8
				}
			}
			value = r.ReadBitsToBytes(bits)
			if compressed && r.Err() == nil {
				decoded, err := snappy.Decode(nil, value)
				if err != nil {
					return nil, fmt.Errorf("decompress entry %d: %v: %w", index, err, errs.ErrMalformedMessage)
				}
				value = decoded
			}
			if value == nil {
				value = []byte{}
			}
		}

		if err := r.Err(); err != nil {
			return nil, err
		}
		entries = append(entries, &Entry{Index: index, Key: key, Value: value})
	}
	return entries, nil
}
