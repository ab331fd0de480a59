package stream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpdustry/claj/internal/protocol"
	"github.com/xpdustry/claj/internal/stream"
)

func reassemble(t *testing.T, head protocol.StreamHead, chunks []protocol.StreamChunk) protocol.Packet {
	t.Helper()
	a := stream.NewAssembler()
	const peer = uint32(1)
	a.Head(peer, head)

	var out protocol.Packet
	for i, c := range chunks {
		p, done, err := a.Chunk(peer, c)
		require.NoError(t, err)
		if i < len(chunks)-1 {
			assert.False(t, done, "stream should not be complete before the last chunk")
		} else {
			assert.True(t, done, "last chunk should complete the stream")
			out = p
		}
	}
	return out
}

func TestSplitReassembleRoundTrip(t *testing.T) {
	original := protocol.RoomInfo{
		RoomID:      123,
		IsProtected: true,
		Type:        protocol.NewRoomType("mindustry"),
		State:       make([]byte, 5000), // forces multiple chunks at a small size
	}
	for i := range original.State {
		original.State[i] = byte(i)
	}

	head, chunks, err := stream.Split(7, original, 512, false)
	require.NoError(t, err)
	assert.Greater(t, len(chunks), 1, "a 5000-byte payload at chunk size 512 should split into more than one chunk")

	got := reassemble(t, head, chunks)
	assert.Equal(t, original, got)
}

func TestSplitReassembleSinglePacketSmallPayload(t *testing.T) {
	original := protocol.RoomLink{RoomID: 42}

	head, chunks, err := stream.Split(1, original, stream.DefaultChunkSize, false)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].Last)

	got := reassemble(t, head, chunks)
	assert.Equal(t, original, got)
}

func TestSplitReassembleCompressed(t *testing.T) {
	original := protocol.RoomState{State: []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")}

	head, chunks, err := stream.Split(2, original, 16, true)
	require.NoError(t, err)
	assert.True(t, head.Compressed)

	got := reassemble(t, head, chunks)
	assert.Equal(t, original, got)
}

func TestChunkWithoutHeadIsAnError(t *testing.T) {
	a := stream.NewAssembler()
	_, _, err := a.Chunk(1, protocol.StreamChunk{ID: 99, Data: []byte("x"), Last: true})
	assert.ErrorIs(t, err, stream.ErrChunkWithoutHead)
}

func TestDropRemovesPeerAssemblers(t *testing.T) {
	a := stream.NewAssembler()
	a.Head(5, protocol.StreamHead{ID: 1, Total: 10, PacketType: protocol.TypeRoomState})
	a.Drop(5)

	_, _, err := a.Chunk(5, protocol.StreamChunk{ID: 1, Data: []byte("x"), Last: true})
	assert.ErrorIs(t, err, stream.ErrChunkWithoutHead)
}
