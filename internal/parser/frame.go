package parser

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"

	"cs2-demo-pipeline/internal/errs"
)

var demoMagic = [8]byte{'P', 'B', 'D', 'E', 'M', 'S', '2', 0}

const (
	headerSize = 16

	// Frame commands. The compressed flag is or-ed into the command.
	demStop         = 0
	demFileHeader   = 1
	demFileInfo     = 2
	demSyncTick     = 3
	demSendTables   = 4
	demClassInfo    = 5
	demStringTables = 6
	demPacket       = 7
	demSignonPacket = 8
	demConsoleCmd   = 9
	demUserCmd      = 12
	demFullPacket   = 13
	demIsCompressed = 64

	signonTick   = 0xFFFFFFFF
	maxFrameSize = 64 << 20
)

type frame struct {
	cmd     uint32
	tick    uint32
	payload []byte
}

// frameReader yields frames from the demo body. Payloads are only valid
// until the next call.
type frameReader struct {
	r        *bufio.Reader
	buf      []byte
	inflated []byte
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: bufio.NewReaderSize(r, 1<<16)}
}

func truncated(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%s: %w", what, errs.ErrUnexpectedEndOfStream)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// next reads one frame. It returns io.EOF only when the stream ends exactly
// on a frame boundary.
func (fr *frameReader) next() (frame, error) {
	cmd, err := binary.ReadUvarint(fr.r)
	if err == io.EOF {
		return frame{}, io.EOF
	}
	if err != nil {
		return frame{}, truncated("frame command", err)
	}
	tick, err := binary.ReadUvarint(fr.r)
	if err != nil {
		return frame{}, truncated("frame tick", err)
	}
	size, err := binary.ReadUvarint(fr.r)
	if err != nil {
		return frame{}, truncated("frame size", err)
	}
	if size > maxFrameSize {
		return frame{}, fmt.Errorf("frame of %d bytes: %w", size, errs.ErrInvalidFormat)
	}
	if uint64(cap(fr.buf)) < size {
		fr.buf = make([]byte, size)
	}
	payload := fr.buf[:size]
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return frame{}, truncated("frame payload", err)
	}

	f := frame{cmd: uint32(cmd) &^ demIsCompressed, tick: uint32(tick), payload: payload}
	if f.tick == signonTick {
		f.tick = 0
	}
	if cmd&demIsCompressed != 0 {
		n, err := snappy.DecodedLen(payload)
		if err != nil {
			return frame{}, fmt.Errorf("compressed frame: %v: %w", err, errs.ErrMalformedMessage)
		}
		if cap(fr.inflated) < n {
			fr.inflated = make([]byte, n)
		}
		f.payload, err = snappy.Decode(fr.inflated[:n], payload)
		if err != nil {
			return frame{}, fmt.Errorf("compressed frame: %v: %w", err, errs.ErrMalformedMessage)
		}
	}
	return f, nil
}

// readHeader checks the magic and returns the file info offset.
func readHeader(r io.Reader) (int64, error) {
	var head [headerSize]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return 0, truncated("demo header", err)
	}
	if [8]byte(head[:8]) != demoMagic {
		return 0, fmt.Errorf("demo stamp %q: %w", head[:8], errs.ErrInvalidFormat)
	}
	return int64(int32(binary.LittleEndian.Uint32(head[8:12]))), nil
}
