// Package stream implements the framing/stream-assembly layer: splitting oversized control packets into a head plus ordered
// chunks, and reassembling them on the receiving side. There is one
// assembler per (peer, stream id), dropped wholesale when the peer
// disconnects; a chunk received without a matching head is a protocol
// error, and a stream is done once its last-flagged chunk arrives or
// its accumulated size matches the head's declared total.
package stream

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"

	"github.com/xpdustry/claj/internal/protocol"
)

// DefaultChunkSize is the default per-chunk payload budget. The wire
// format does not pin this; peers agree implicitly through the head's
// declared Total.
const DefaultChunkSize = 2048

// ErrChunkWithoutHead is the protocol error raised when a StreamChunk
// arrives for a stream id that has no open StreamHead.
var ErrChunkWithoutHead = fmt.Errorf("stream: chunk arrived without head")

type builder struct {
	total      uint32
	packetType protocol.PacketType
	compressed bool
	buf        bytes.Buffer
}

func (b *builder) add(data []byte) error {
	_, err := b.buf.Write(data)
	return err
}

func (b *builder) done() bool {
	return uint32(b.buf.Len()) >= b.total
}

func (b *builder) build() (protocol.Packet, error) {
	raw := b.buf.Bytes()
	if b.compressed {
		zr := flate.NewReader(bytes.NewReader(raw))
		defer zr.Close()
		out, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("stream: inflate: %w", err)
		}
		raw = out
	}
	framed := append([]byte{byte(b.packetType)}, raw...)
	return protocol.Decode(framed)
}

// Assembler reassembles streams for every peer currently known to the
// relay. One Assembler is shared by the dispatcher; it is not safe to
// call from two goroutines concurrently touching the *same* peer without
// external synchronization beyond what's provided here (the map itself
// is guarded).
type Assembler struct {
	mu   sync.Mutex
	byPeer map[uint32]map[uint32]*builder
}

// NewAssembler creates an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{byPeer: make(map[uint32]map[uint32]*builder)}
}

// Head opens a new stream for peer/streamID.
func (a *Assembler) Head(peer uint32, h protocol.StreamHead) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.byPeer[peer]
	if !ok {
		m = make(map[uint32]*builder)
		a.byPeer[peer] = m
	}
	m[h.ID] = &builder{total: h.Total, packetType: h.PacketType, compressed: h.Compressed}
}

// Chunk appends data to an open stream. It returns the decoded packet
// and true once the stream completes (Last flag or accumulated size
// reaches Total), or (nil, false, nil) while more chunks are expected.
// A chunk for an unopened stream id is ErrChunkWithoutHead.
func (a *Assembler) Chunk(peer uint32, c protocol.StreamChunk) (protocol.Packet, bool, error) {
	a.mu.Lock()
	m, ok := a.byPeer[peer]
	if !ok {
		a.mu.Unlock()
		return nil, false, ErrChunkWithoutHead
	}
	b, ok := m[c.ID]
	if !ok {
		a.mu.Unlock()
		return nil, false, ErrChunkWithoutHead
	}
	if err := b.add(c.Data); err != nil {
		a.mu.Unlock()
		return nil, false, err
	}
	complete := c.Last || b.done()
	if complete {
		delete(m, c.ID)
	}
	a.mu.Unlock()

	if !complete {
		return nil, false, nil
	}
	p, err := b.build()
	return p, true, err
}

// Drop removes every assembler owned by peer, called on disconnect so
// streams never leak across peers.
func (a *Assembler) Drop(peer uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.byPeer, peer)
}

// Split serializes p into a StreamHead followed by ordered StreamChunks
// of at most chunkSize bytes each (optionally deflate-compressed); a
// payload that fits in one chunk yields a single Last chunk. The caller is responsible for allocating a fresh
// stream id (unique per sender) before calling Split.
func Split(id uint32, p protocol.Packet, chunkSize int, compress bool) (protocol.StreamHead, []protocol.StreamChunk, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	framed, err := protocol.Encode(p)
	if err != nil {
		return protocol.StreamHead{}, nil, err
	}
	payload := framed[1:] // strip the kind byte; StreamHead carries it separately

	if compress {
		var buf bytes.Buffer
		zw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return protocol.StreamHead{}, nil, err
		}
		if _, err := zw.Write(payload); err != nil {
			return protocol.StreamHead{}, nil, err
		}
		if err := zw.Close(); err != nil {
			return protocol.StreamHead{}, nil, err
		}
		payload = buf.Bytes()
	}

	head := protocol.StreamHead{
		ID:         id,
		Total:      uint32(len(payload)),
		PacketType: p.Kind(),
		Compressed: compress,
	}

	var chunks []protocol.StreamChunk
	for off := 0; off < len(payload) || len(chunks) == 0; {
		end := off + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		last := end >= len(payload)
		chunks = append(chunks, protocol.StreamChunk{ID: id, Data: payload[off:end], Last: last})
		off = end
		if last {
			break
		}
	}
	return head, chunks, nil
}
