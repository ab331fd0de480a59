package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpdustry/claj/internal/protocol"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		pkt  protocol.Packet
	}{
		{"ServerInfo", protocol.ServerInfo{Version: 7}},
		{"RoomCreationRequest", protocol.RoomCreationRequest{Version: 3, Type: protocol.NewRoomType("mindustry")}},
		{"RoomLink", protocol.RoomLink{RoomID: 123456789}},
		{"RoomClosed", protocol.RoomClosed{Reason: protocol.CloseServerClosed}},
		{"RoomJoinRequest", protocol.RoomJoinRequest{RoomID: 42, Type: protocol.NewRoomType("t"), WithPassword: true, Password: 555}},
		{"RoomJoinDenied", protocol.RoomJoinDenied{RoomID: 1, Reason: protocol.RejectInvalidPassword}},
		{"RoomConfig", protocol.RoomConfig{IsPublic: true, IsProtected: false, Password: 0, CanRequestState: true}},
		{"RoomState", protocol.RoomState{State: []byte("hello world")}},
		{"RoomState-nil", protocol.RoomState{State: nil}},
		{"RoomInfo", protocol.RoomInfo{RoomID: 9, IsProtected: true, Type: protocol.NewRoomType("x"), State: []byte{1, 2, 3}}},
		{"RoomList", protocol.RoomList{
			States:         map[uint64][]byte{1: []byte("a"), 2: []byte("b")},
			ProtectedRooms: map[uint64]struct{}{2: {}},
		}},
		{"ConnectionJoin", protocol.ConnectionJoin{ConID: 4, AddressHash: 99}},
		{"ConnectionClosed", protocol.ConnectionClosed{ConID: 4, Reason: protocol.CloseError}},
		{"ConnectionPacketWrap", protocol.ConnectionPacketWrap{ConID: 4, IsTCP: true, Raw: []byte{9, 8, 7}}},
		{"StreamHead", protocol.StreamHead{ID: 1, Total: 4, PacketType: protocol.TypeRoomState, Compressed: true}},
		{"StreamChunk", protocol.StreamChunk{ID: 1, Last: true, Data: []byte("chunk")}},
		{"Toast-enum-only", protocol.Toast{Message: protocol.MessagePacketSpamming}},
		{"Toast-with-text", protocol.Toast{Message: protocol.MessageOperatorAnnouncement, Text: "server restarting soon"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := protocol.Encode(tc.pkt)
			require.NoError(t, err)
			require.NotEmpty(t, encoded)

			decoded, err := protocol.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tc.pkt, decoded)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	_, err := protocol.Decode(nil)
	assert.ErrorIs(t, err, protocol.ErrMalformed)

	_, err = protocol.Decode([]byte{0xFF})
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestRoomTypeNullAndRoundTrip(t *testing.T) {
	var null protocol.RoomType
	assert.True(t, null.IsNull())

	rt := protocol.NewRoomType("mindustry")
	assert.False(t, rt.IsNull())
	assert.Equal(t, "mindustry", rt.String())

	truncated := protocol.NewRoomType("this-is-longer-than-eight-bytes")
	assert.Len(t, truncated.String(), 8)
}

func TestCloseReasonStrings(t *testing.T) {
	assert.Equal(t, "outdatedClient", protocol.CloseOutdatedClient.String())
	assert.Equal(t, "unknown", protocol.CloseReason(200).String())
}
