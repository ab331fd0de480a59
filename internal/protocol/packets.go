package protocol

// Packet is implemented by every control-packet payload. Kind reports
// the wire tag used to dispatch decoding.
type Packet interface {
	Kind() PacketType
}

// ServerInfo is the fixed discovery reply: {claj-magic-id, serverMajorVersion}.
type ServerInfo struct {
	Version int32
}

func (ServerInfo) Kind() PacketType { return TypeServerInfo }

// RoomCreationRequest asks the relay to mint a new room.
type RoomCreationRequest struct {
	Version int32
	Type    RoomType
}

func (RoomCreationRequest) Kind() PacketType { return TypeRoomCreationRequest }

// RoomLink is sent to a host after a room was created.
type RoomLink struct {
	RoomID uint64
}

func (RoomLink) Kind() PacketType { return TypeRoomLink }

// RoomClosureRequest asks the relay to close the sender's room. It has
// no fields of its own.
type RoomClosureRequest struct{}

func (RoomClosureRequest) Kind() PacketType { return TypeRoomClosureRequest }

// RoomClosed notifies the host that a room has closed. Clients are not
// sent this packet; their transport is closed and no reason reaches them.
type RoomClosed struct {
	Reason CloseReason
}

func (RoomClosed) Kind() PacketType { return TypeRoomClosed }

// RoomJoin is the commit variant of a join: success attaches the sender.
type RoomJoin struct {
	RoomID       uint64
	Type         RoomType
	WithPassword bool
	Password     uint16
}

func (RoomJoin) Kind() PacketType { return TypeRoomJoin }

// RoomJoinRequest is the non-committing probe variant of RoomJoin.
type RoomJoinRequest struct {
	RoomID       uint64
	Type         RoomType
	WithPassword bool
	Password     uint16
}

func (RoomJoinRequest) Kind() PacketType { return TypeRoomJoinRequest }

// ToJoin converts a probe request into the committing variant once the
// probe is accepted.
func (r RoomJoinRequest) ToJoin() RoomJoin {
	return RoomJoin{RoomID: r.RoomID, Type: r.Type, WithPassword: r.WithPassword, Password: r.Password}
}

// RoomJoinAccepted tells the joiner its request succeeded.
type RoomJoinAccepted struct {
	RoomID uint64
}

func (RoomJoinAccepted) Kind() PacketType { return TypeRoomJoinAccepted }

// RoomJoinDenied tells the joiner why it was rejected.
type RoomJoinDenied struct {
	RoomID uint64
	Reason RejectReason
}

func (RoomJoinDenied) Kind() PacketType { return TypeRoomJoinDenied }

// RoomConfig is a host-only mutation of room visibility/policy.
type RoomConfig struct {
	IsPublic        bool
	IsProtected     bool
	Password        uint16
	CanRequestState bool
}

func (RoomConfig) Kind() PacketType { return TypeRoomConfig }

// RoomState carries a host-provided opaque state snapshot. State is nil
// when the host clears its state.
type RoomState struct {
	State []byte
}

func (RoomState) Kind() PacketType { return TypeRoomState }

// RoomStateRequest asks the host (the current room's host) to publish a
// fresh RoomState.
type RoomStateRequest struct{}

func (RoomStateRequest) Kind() PacketType { return TypeRoomStateRequest }

// RoomInfoRequest asks the relay for one room's public info.
type RoomInfoRequest struct {
	RoomID uint64
}

func (RoomInfoRequest) Kind() PacketType { return TypeRoomInfoRequest }

// RoomInfo answers a RoomInfoRequest.
// State is nil when the room is not public.
type RoomInfo struct {
	RoomID      uint64
	IsProtected bool
	Type        RoomType
	State       []byte
}

func (RoomInfo) Kind() PacketType { return TypeRoomInfo }

// RoomInfoDenied answers a RoomInfoRequest for an unknown/denied room.
type RoomInfoDenied struct{}

func (RoomInfoDenied) Kind() PacketType { return TypeRoomInfoDenied }

// RoomListRequest asks for the cached list of rooms of a given type.
type RoomListRequest struct {
	Type RoomType
}

func (RoomListRequest) Kind() PacketType { return TypeRoomListRequest }

// RoomList is the flushed, cached answer to a RoomListRequest.
type RoomList struct {
	States         map[uint64][]byte
	ProtectedRooms map[uint64]struct{}
}

func (RoomList) Kind() PacketType { return TypeRoomList }

// ConnectionJoin notifies a room's host that a client attached.
type ConnectionJoin struct {
	ConID       uint32
	AddressHash uint64
}

func (ConnectionJoin) Kind() PacketType { return TypeConnectionJoin }

// ConnectionClosed notifies a host (or, from host to relay, a target
// client) that a connection id has been closed.
type ConnectionClosed struct {
	ConID  uint32
	Reason CloseReason
}

func (ConnectionClosed) Kind() PacketType { return TypeConnectionClosed }

// ConnectionIdling notifies a host that a client went idle.
type ConnectionIdling struct {
	ConID uint32
}

func (ConnectionIdling) Kind() PacketType { return TypeConnectionIdling }

// ConnectionPacketWrap is the envelope carrying opaque game traffic
// between a room's host and one of its clients.
type ConnectionPacketWrap struct {
	ConID uint32
	IsTCP bool
	Raw   []byte
}

func (ConnectionPacketWrap) Kind() PacketType { return TypeConnectionPacketWrap }

// StreamHead opens a stream assembly for a packet too large to send in
// one frame.
type StreamHead struct {
	ID         uint32
	Total      uint32
	PacketType PacketType
	Compressed bool
}

func (StreamHead) Kind() PacketType { return TypeStreamHead }

// StreamChunk carries one ordered slice of a stream's payload.
type StreamChunk struct {
	ID   uint32
	Data []byte
	Last bool
}

func (StreamChunk) Kind() PacketType { return TypeStreamChunk }

// Toast is a short host-bound notice.
// Toast is a short host-bound notification. Text is only meaningful
// alongside MessageOperatorAnnouncement; every other MessageType is
// fully described by the enum value itself and Text is empty.
type Toast struct {
	Message MessageType
	Text    string
}

func (Toast) Kind() PacketType { return TypeToast }
