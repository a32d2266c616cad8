package stringtables

import (
	"errors"
	"testing"

	"github.com/golang/snappy"
	"github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/msg"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"

	"cs2-demo-pipeline/internal/bitread"
	"cs2-demo-pipeline/internal/errs"
)

type change struct {
	skip     int // 0 means next index
	key      string
	histPos  int // -1 means fresh key
	histLen  int
	noKey    bool
	value    []byte
	compress bool
}

func encode(changes []change, varint bool, flags int32) []byte {
	var w bitread.Writer
	for _, c := range changes {
		if c.skip == 0 {
			w.WriteBool(true)
		} else {
			w.WriteBool(false)
			w.WriteVarUint32(uint32(c.skip - 1))
		}
		if c.noKey {
			w.WriteBool(false)
		} else {
			w.WriteBool(true)
			if c.histPos >= 0 {
				w.WriteBool(true)
				w.WriteBits(uint32(c.histPos), 5)
				w.WriteBits(uint32(c.histLen), 5)
			} else {
				w.WriteBool(false)
			}
			w.WriteString(c.key)
		}
		if c.value == nil {
			w.WriteBool(false)
			continue
		}
		w.WriteBool(true)
		v := c.value
		if flags&1 != 0 {
			w.WriteBool(c.compress)
			if c.compress {
				v = snappy.Encode(nil, v)
			}
		}
		if varint {
			w.WriteUBitVar(uint32(len(v)))
		} else {
			w.WriteBits(uint32(len(v)), 17)
		}
		w.WriteBytes(v)
	}
	return w.Bytes()
}

func fresh(key string) change { return change{key: key, histPos: -1} }

func TestKeyHistoryBackReference(t *testing.T) {
	changes := []change{
		fresh("alpha"), fresh("bravo"), fresh("charlie"),
		fresh("delta"), fresh("echo"), fresh("foxtrot"),
		{key: "abc", histPos: 5, histLen: 3},
		{key: "", histPos: 6, histLen: 6},
	}
	entries, err := Parse(encode(changes, true, 0), int32(len(changes)), false, 0, 0, true)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(entries) != len(changes) {
		t.Fatalf("Expected %d entries, got %d", len(changes), len(entries))
	}
	if entries[6].Key != "foxabc" {
		t.Errorf("Expected keys[5][0..3]+\"abc\" = foxabc, got %q", entries[6].Key)
	}
	if entries[7].Key != "foxabc" {
		t.Errorf("Expected back-reference to the appended key, got %q", entries[7].Key)
	}
	for i, e := range entries {
		if e.Index != int32(i) {
			t.Errorf("Expected sequential index %d, got %d", i, e.Index)
		}
	}
}

func TestBackReferenceLongerThanKeyAndBeyondHistory(t *testing.T) {
	changes := []change{
		fresh("ab"),
		{key: "cd", histPos: 0, histLen: 10}, // whole key plus suffix
		{key: "zz", histPos: 20, histLen: 3}, // beyond history: fresh string
	}
	entries, err := Parse(encode(changes, true, 0), 3, false, 0, 0, true)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if entries[1].Key != "abcd" {
		t.Errorf("Expected abcd, got %q", entries[1].Key)
	}
	if entries[2].Key != "zz" {
		t.Errorf("Expected zz, got %q", entries[2].Key)
	}
}

func TestHistoryWindowIs32(t *testing.T) {
	var changes []change
	for i := 0; i < 40; i++ {
		changes = append(changes, fresh(string(rune('A'+i))))
	}
	// History now holds keys 8..39; position 0 is key 8.
	changes = append(changes, change{key: "!", histPos: 0, histLen: 1})
	entries, err := Parse(encode(changes, true, 0), int32(len(changes)), false, 0, 0, true)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := string(rune('A'+8)) + "!"
	if got := entries[len(entries)-1].Key; got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}

func TestIndexSkipAndValues(t *testing.T) {
	changes := []change{
		{key: "1", histPos: -1, value: []byte{1, 2, 3}},
		{skip: 4, key: "5", histPos: -1, value: []byte("hello"), compress: true},
		{noKey: true, value: []byte{9}},
	}
	entries, err := Parse(encode(changes, false, 1), 3, false, 0, 1, false)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if entries[0].Index != 0 || entries[1].Index != 4 || entries[2].Index != 5 {
		t.Errorf("Expected indices 0,4,5, got %d,%d,%d", entries[0].Index, entries[1].Index, entries[2].Index)
	}
	if string(entries[1].Value) != "hello" {
		t.Errorf("Expected decompressed value hello, got %q", entries[1].Value)
	}
	if entries[2].Key != "" || len(entries[2].Value) != 1 {
		t.Errorf("Expected keyless entry with one byte, got %+v", entries[2])
	}
}

func TestFixedSizeValues(t *testing.T) {
	var w bitread.Writer
	w.WriteBool(true)  // next index
	w.WriteBool(false) // no key
	w.WriteBool(true)  // value
	w.WriteBits(0x2A, 6)
	entries, err := Parse(w.Bytes(), 1, true, 6, 0, false)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(entries[0].Value) != 1 || entries[0].Value[0] != 0x2A {
		t.Errorf("Expected single 6-bit value 0x2A, got %v", entries[0].Value)
	}
}

func TestTruncatedTable(t *testing.T) {
	data := encode([]change{fresh("longkey")}, true, 0)
	_, err := Parse(data[:2], 1, false, 0, 0, true)
	if !errors.Is(err, errs.ErrUnexpectedEndOfStream) {
		t.Errorf("Expected ErrUnexpectedEndOfStream, got %v", err)
	}
}

func playerInfo(t *testing.T, name string, userID int32, xuid uint64) []byte {
	t.Helper()
	b, err := proto.Marshal(&msg.CMsgPlayerInfo{
		Name:   proto.String(name),
		Userid: proto.Int32(userID),
		Xuid:   proto.Uint64(xuid),
	})
	if err != nil {
		t.Fatalf("Failed to marshal player info: %v", err)
	}
	return b
}

func TestManagerSideEffects(t *testing.T) {
	m := NewManager(zerolog.Nop())
	users := encode([]change{
		{key: "0", histPos: -1, value: playerInfo(t, "alice", 0x102, 76561198000000001)},
		{key: "1", histPos: -1, value: playerInfo(t, "bot", 3, 0)},
	}, true, 0)
	err := m.Create(&msg.CSVCMsg_CreateStringTable{
		Name:                 proto.String(TableUserInfo),
		NumEntries:           proto.Int32(2),
		StringData:           users,
		UsingVarintBitcounts: proto.Bool(true),
	})
	if err != nil {
		t.Fatalf("Create userinfo failed: %v", err)
	}

	baseline := encode([]change{{key: "42", histPos: -1, value: []byte{0xDE, 0xAD}}}, true, 0)
	err = m.Create(&msg.CSVCMsg_CreateStringTable{
		Name:                 proto.String(TableInstanceBaseline),
		NumEntries:           proto.Int32(1),
		StringData:           snappy.Encode(nil, baseline),
		DataCompressed:       proto.Bool(true),
		UsingVarintBitcounts: proto.Bool(true),
	})
	if err != nil {
		t.Fatalf("Create instancebaseline failed: %v", err)
	}

	p, ok := m.Player(2)
	if !ok {
		t.Fatal("Expected player with user id 0x102 & 0xff = 2")
	}
	if p.Name != "alice" || p.XUID != 76561198000000001 || p.Slot != 0 {
		t.Errorf("Unexpected player: %+v", p)
	}
	if _, ok := m.Player(3); ok {
		t.Error("Expected zero-xuid entry to be skipped")
	}
	if b, ok := m.Baseline(42); !ok || len(b) != 2 || b[0] != 0xDE {
		t.Errorf("Expected baseline for class 42, got %v (%v)", b, ok)
	}

	// Rename alice in place; the key is omitted and must be kept.
	update := encode([]change{{noKey: true, value: playerInfo(t, "alice2", 2, 76561198000000001)}}, true, 0)
	if err := m.Update(&msg.CSVCMsg_UpdateStringTable{
		TableId:           proto.Int32(0),
		NumChangedEntries: proto.Int32(1),
		StringData:        update,
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	tbl, _ := m.Table(TableUserInfo)
	e, _ := tbl.Entry(0)
	if e.Key != "0" {
		t.Errorf("Expected key to be kept on keyless update, got %q", e.Key)
	}
	if p, _ := m.PlayerBySlot(0); p.Name != "alice2" {
		t.Errorf("Expected renamed player alice2, got %q", p.Name)
	}

	if err := m.Update(&msg.CSVCMsg_UpdateStringTable{TableId: proto.Int32(7)}); !errors.Is(err, errs.ErrInvalidFormat) {
		t.Errorf("Expected ErrInvalidFormat for unknown table id, got %v", err)
	}
}

func TestLoadSnapshot(t *testing.T) {
	m := NewManager(zerolog.Nop())
	err := m.LoadSnapshot(&msg.CDemoStringTables{Tables: []*msg.CDemoStringTablesTableT{{
		TableName: proto.String(TableInstanceBaseline),
		Items: []*msg.CDemoStringTablesItemsT{
			{Str: proto.String("7"), Data: []byte{1}},
		},
	}}})
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if b, ok := m.Baseline(7); !ok || b[0] != 1 {
		t.Errorf("Expected baseline for class 7, got %v", b)
	}
}
