package parser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/msg"
	"github.com/rs/zerolog"
	"google.golang.org/protobuf/proto"

	"cs2-demo-pipeline/internal/bitread"
	"cs2-demo-pipeline/internal/constants"
	"cs2-demo-pipeline/internal/entities"
	"cs2-demo-pipeline/internal/errs"
	"cs2-demo-pipeline/internal/events"
	"cs2-demo-pipeline/internal/sampler"
	"cs2-demo-pipeline/internal/schema"
	"cs2-demo-pipeline/internal/stringtables"
)

// Packet message types.
const (
	svcServerInfo        = 40
	svcCreateStringTable = 44
	svcUpdateStringTable = 45
	svcPacketEntities    = 55
	geGameEventList      = 205
	geGameEvent          = 207
)

// ctxCheckFrames is how often the frame loop polls for cancellation.
const ctxCheckFrames = 256

// priority orders messages inside one packet: string tables, then
// everything else, then entities, then game events.
func priority(typ uint32) int {
	switch typ {
	case svcCreateStringTable, svcUpdateStringTable:
		return 0
	case svcPacketEntities:
		return 2
	case geGameEvent:
		return 3
	default:
		return 1
	}
}

type message struct {
	typ  uint32
	data []byte
}

// Native decodes CS2 demos with the in-tree decoding stack.
type Native struct {
	log      zerolog.Logger
	interval uint32
}

// NewNative returns the native decoder sampling every interval ticks.
func NewNative(log zerolog.Logger, interval uint32) *Native {
	return &Native{log: log, interval: interval}
}

// Parse implements Decoder.
func (n *Native) Parse(ctx context.Context, path string, h Handler) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("failed to open demo file: %w", err)
	}
	defer f.Close()

	infoOffset, err := readHeader(f)
	if err != nil {
		return Result{}, err
	}
	d := newDemo(n.log, n.interval, h)
	if info, ok := readFileInfo(f, infoOffset); ok {
		d.fileInfo(info)
	}
	if err := d.run(ctx, newFrameReader(f)); err != nil {
		return d.res, err
	}
	return d.res, nil
}

// readFileInfo reads the trailing file info frame ahead of the body so
// progress can be reported as a fraction of the playback ticks.
func readFileInfo(f *os.File, offset int64) (*msg.CDemoFileInfo, bool) {
	if offset <= headerSize {
		return nil, false
	}
	st, err := f.Stat()
	if err != nil || offset >= st.Size() {
		return nil, false
	}
	fr := newFrameReader(io.NewSectionReader(f, offset, st.Size()-offset))
	fm, err := fr.next()
	if err != nil || fm.cmd != demFileInfo {
		return nil, false
	}
	var info msg.CDemoFileInfo
	if err := proto.Unmarshal(fm.payload, &info); err != nil {
		return nil, false
	}
	return &info, true
}

// demo is the decoding state of one file.
type demo struct {
	log zerolog.Logger
	h   Handler

	registry *schema.Registry
	tables   *stringtables.Manager
	store    *entities.Store
	decoder  *events.Decoder
	sampler  *sampler.Sampler

	tick     uint32
	dirty    bool
	reported uint32
	batch    []sampler.Snapshot
	msgs     []message
	res      Result
}

func newDemo(log zerolog.Logger, interval uint32, h Handler) *demo {
	d := &demo{
		log:      log,
		h:        h,
		registry: schema.NewRegistry(),
		tables:   stringtables.NewManager(log),
	}
	d.store = entities.NewStore(log, d.registry, d.tables)
	d.decoder = events.NewDecoder(log, &resolver{registry: d.registry, tables: d.tables, store: d.store})
	d.sampler = sampler.New(log, d.registry, d.store, d.tables, interval)
	d.res.Header.TickRate = constants.TicksPerSecond
	return d
}

func (d *demo) run(ctx context.Context, frames *frameReader) error {
	for {
		if d.res.Frames%ctxCheckFrames == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		fm, err := frames.next()
		if errors.Is(err, io.EOF) {
			d.log.Warn().Uint32("tick", d.tick).Msg("demo ended without stop command")
			return d.finish()
		}
		if err != nil {
			return fmt.Errorf("frame %d: %w", d.res.Frames, err)
		}
		d.res.Frames++

		if err := d.advance(fm.tick); err != nil {
			return err
		}
		stop, err := d.frame(fm)
		if err != nil {
			return fmt.Errorf("frame %d (command %d, tick %d): %w", d.res.Frames, fm.cmd, fm.tick, err)
		}
		if stop {
			return d.finish()
		}
	}
}

// advance commits the previous tick once a later one starts.
func (d *demo) advance(tick uint32) error {
	if tick <= d.tick {
		return nil
	}
	if err := d.commit(); err != nil {
		return err
	}
	d.tick = tick
	d.res.LastTick = tick
	if tick-d.reported >= constants.ProgressInterval {
		d.reported = tick
		d.h.Progress(tick, d.progress())
	}
	return nil
}

func (d *demo) progress() float64 {
	total := d.res.Header.PlaybackTicks
	if total <= 0 {
		return 0
	}
	pct := float64(d.tick) / float64(total)
	if pct > 1 {
		pct = 1
	}
	return pct
}

// commit samples the entity state of the current tick.
func (d *demo) commit() error {
	if !d.dirty {
		return nil
	}
	d.dirty = false
	d.batch = d.sampler.Sample(d.tick, d.batch[:0])
	if len(d.batch) == 0 {
		return nil
	}
	d.res.Snapshots += int64(len(d.batch))
	return d.h.Snapshots(d.batch)
}

func (d *demo) finish() error {
	if err := d.commit(); err != nil {
		return err
	}
	d.h.Progress(d.tick, 1)
	return nil
}

func unmarshal(name string, data []byte, m proto.Message) error {
	if err := proto.Unmarshal(data, m); err != nil {
		return fmt.Errorf("%s: %v: %w", name, err, errs.ErrMalformedMessage)
	}
	return nil
}

func (d *demo) frame(fm frame) (bool, error) {
	switch fm.cmd {
	case demStop:
		return true, nil

	case demFileHeader:
		var m msg.CDemoFileHeader
		if err := unmarshal("file header", fm.payload, &m); err != nil {
			return false, err
		}
		d.fileHeader(&m)

	case demFileInfo:
		var m msg.CDemoFileInfo
		if err := unmarshal("file info", fm.payload, &m); err != nil {
			return false, err
		}
		d.fileInfo(&m)

	case demSendTables:
		var m msg.CDemoSendTables
		if err := unmarshal("send tables", fm.payload, &m); err != nil {
			return false, err
		}
		return false, d.sendTables(m.GetData())

	case demClassInfo:
		var m msg.CDemoClassInfo
		if err := unmarshal("class info", fm.payload, &m); err != nil {
			return false, err
		}
		return false, d.registry.BindClasses(&m)

	case demStringTables:
		var m msg.CDemoStringTables
		if err := unmarshal("string tables", fm.payload, &m); err != nil {
			return false, err
		}
		return false, d.tables.LoadSnapshot(&m)

	case demPacket, demSignonPacket:
		var m msg.CDemoPacket
		if err := unmarshal("packet", fm.payload, &m); err != nil {
			return false, err
		}
		return false, d.packet(m.GetData())

	case demFullPacket:
		var m msg.CDemoFullPacket
		if err := unmarshal("full packet", fm.payload, &m); err != nil {
			return false, err
		}
		if m.GetStringTable() != nil {
			if err := d.tables.LoadSnapshot(m.GetStringTable()); err != nil {
				return false, err
			}
		}
		return false, d.packet(m.GetPacket().GetData())
	}
	return false, nil
}

func (d *demo) fileHeader(m *msg.CDemoFileHeader) {
	h := &d.res.Header
	h.MapName = m.GetMapName()
	h.ServerName = m.GetServerName()
	h.ClientName = m.GetClientName()
	h.GameDirectory = m.GetGameDirectory()
	h.NetworkProtocol = m.GetNetworkProtocol()
	h.BuildNum = m.GetBuildNum()
	d.log.Debug().Str("map", h.MapName).Str("server", h.ServerName).Int32("build", h.BuildNum).Msg("read demo header")
}

func (d *demo) fileInfo(m *msg.CDemoFileInfo) {
	h := &d.res.Header
	h.PlaybackTime = m.GetPlaybackTime()
	h.PlaybackTicks = m.GetPlaybackTicks()
	h.PlaybackFrames = m.GetPlaybackFrames()
}

// sendTables decodes the size-prefixed flattened serializer.
func (d *demo) sendTables(data []byte) error {
	r := bitread.New(data)
	size := r.ReadVarUint32()
	buf := r.ReadBytes(int(size))
	if err := r.Err(); err != nil {
		return fmt.Errorf("send tables: %w", err)
	}
	var m msg.CSVCMsg_FlattenedSerializer
	if err := unmarshal("flattened serializer", buf, &m); err != nil {
		return err
	}
	return d.registry.LoadSendTables(&m)
}

// packet splits a packet into its messages and applies them by priority.
func (d *demo) packet(data []byte) error {
	r := bitread.New(data)
	d.msgs = d.msgs[:0]
	for r.RemainingBits() >= 8 {
		typ := r.ReadUBitVar()
		size := r.ReadVarUint32()
		buf := r.ReadBytes(int(size))
		if err := r.Err(); err != nil {
			return fmt.Errorf("packet message %d: %w", typ, err)
		}
		d.msgs = append(d.msgs, message{typ: typ, data: buf})
	}
	sort.SliceStable(d.msgs, func(i, j int) bool {
		return priority(d.msgs[i].typ) < priority(d.msgs[j].typ)
	})
	for _, m := range d.msgs {
		if err := d.message(m); err != nil {
			return err
		}
	}
	return nil
}

func (d *demo) message(m message) error {
	switch m.typ {
	case svcServerInfo:
		var info msg.CSVCMsg_ServerInfo
		if err := unmarshal("server info", m.data, &info); err != nil {
			return err
		}
		d.registry.SetMaxClasses(int(info.GetMaxClasses()))
		if iv := info.GetTickInterval(); iv > 0 {
			d.res.Header.TickRate = 1 / float64(iv)
		}
		if d.res.Header.MapName == "" {
			d.res.Header.MapName = info.GetMapName()
		}

	case svcCreateStringTable:
		var c msg.CSVCMsg_CreateStringTable
		if err := unmarshal("create string table", m.data, &c); err != nil {
			return err
		}
		return d.tables.Create(&c)

	case svcUpdateStringTable:
		var u msg.CSVCMsg_UpdateStringTable
		if err := unmarshal("update string table", m.data, &u); err != nil {
			return err
		}
		return d.tables.Update(&u)

	case svcPacketEntities:
		var pe msg.CSVCMsg_PacketEntities
		if err := unmarshal("packet entities", m.data, &pe); err != nil {
			return err
		}
		if err := d.store.ApplyPacketEntities(&pe, d.tick); err != nil {
			return err
		}
		d.dirty = true

	case geGameEventList:
		var list msg.CMsgSource1LegacyGameEventList
		if err := unmarshal("game event list", m.data, &list); err != nil {
			return err
		}
		d.decoder.LoadDescriptors(&list)

	case geGameEvent:
		var ge msg.CMsgSource1LegacyGameEvent
		if err := proto.Unmarshal(m.data, &ge); err != nil {
			d.skip(fmt.Errorf("game event: %v: %w", err, errs.ErrMalformedMessage))
			return nil
		}
		e, err := d.decoder.Decode(&ge, d.tick)
		if err != nil {
			d.skip(err)
			return nil
		}
		return d.event(e)
	}
	return nil
}

func (d *demo) skip(err error) {
	d.res.Skipped++
	d.log.Warn().Err(err).Uint32("tick", d.tick).Msg("skipping malformed game event")
}

func (d *demo) event(e events.Event) error {
	if _, ok := e.(events.RoundStart); ok {
		d.sampler.SetRound(d.sampler.Round() + 1)
	}
	d.res.Events++
	return d.h.Event(e)
}
