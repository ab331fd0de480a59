// Package room implements the Room state machine: host/client
// membership, wrap/unwrap forwarding, idle propagation, configuration
// and state snapshots, and deterministic closure. Closure always marks
// the room closed before disconnecting peers, so a client that
// disconnects mid-close is a no-op rather than a double notification.
package room

import (
	"fmt"
	"sync"
	"time"

	"github.com/xpdustry/claj/internal/conn"
	"github.com/xpdustry/claj/internal/protocol"
)

// MaxStateSize caps a host-provided state snapshot.
const MaxStateSize = 1 << 16

// ErrStateTooLarge is returned by SetState when state exceeds MaxStateSize.
var ErrStateTooLarge = fmt.Errorf("room: state exceeds maximum size")

// ErrNotHost is returned by host-only operations invoked by a non-host
// connection.
var ErrNotHost = fmt.Errorf("room: operation requires the room host")

// Events is the capability record a Room needs from its owner, not a
// base class: two delivery verbs (to the host, to one client) and two
// room-lifecycle notifications (closed, state touched).
type Events interface {
	// SendToHost delivers p to the room's host, if the host is attached.
	SendToHost(r *Room, p protocol.Packet)
	// SendToClient delivers p to c with the given reliability.
	SendToClient(c *conn.Conn, p protocol.Packet, isTCP bool)
	// RoomClosed fires once, synchronously, when the room finishes closing.
	RoomClosed(r *Room, reason protocol.CloseReason)
	// StateTouched fires whenever configuration or state changes in a way
	// the listing cache must observe.
	StateTouched(r *Room)
}

// Room is a host-anchored session. Exactly one host; clients are a
// mutex-guarded index into the relay's connection table.
type Room struct {
	ID   uint64
	Type protocol.RoomType

	mu      sync.RWMutex
	host    *conn.Conn
	clients map[uint32]*conn.Conn

	isPublic        bool
	isProtected     bool
	canRequestState bool
	password        uint16
	rawState        []byte

	requestingState    bool
	lastStateReceived  time.Time
	lastStateRequested time.Time

	createdAt time.Time
	closedAt  time.Time
	closed    bool

	// traffic counters, reported through the status endpoint and the
	// operator console.
	bytesToHost     uint64
	bytesFromHost   uint64
	packetsToHost   uint64
	packetsFromHost uint64

	events Events
}

// New creates a room owned by host, per the relay's RoomCreationRequest
// handler.
func New(id uint64, typ protocol.RoomType, host *conn.Conn, events Events) *Room {
	return &Room{
		ID:              id,
		Type:            typ,
		host:            host,
		clients:         make(map[uint32]*conn.Conn),
		canRequestState: true,
		createdAt:       time.Now(),
		events:          events,
	}
}

// ShortID returns the url-safe short form used in shareable links.
func (r *Room) ShortID() string {
	return shortenID(r.ID)
}

// IsHost reports whether c is this room's host (identity by connection
// id, matching Conn's stable-id contract).
func (r *Room) IsHost(c *conn.Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.host != nil && c != nil && r.host.ID == c.ID
}

// HostID returns the host connection's id, if a host is attached.
func (r *Room) HostID() (uint32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.host == nil {
		return 0, false
	}
	return r.host.ID, true
}

// Contains reports whether c is a client of this room.
func (r *Room) Contains(c *conn.Conn) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[c.ID]
	return ok
}

// ClientCount returns the number of attached clients.
func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// IsPublic, IsProtected, CanRequestState, RawState report current
// configuration, all safe for concurrent use.
func (r *Room) IsPublic() bool { r.mu.RLock(); defer r.mu.RUnlock(); return r.isPublic }
func (r *Room) IsProtected() bool { r.mu.RLock(); defer r.mu.RUnlock(); return r.isProtected }
func (r *Room) CanRequestState() bool { r.mu.RLock(); defer r.mu.RUnlock(); return r.canRequestState }
func (r *Room) RawState() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rawState
}
func (r *Room) Closed() bool { r.mu.RLock(); defer r.mu.RUnlock(); return r.closed }

// CheckPassword reports whether pw matches the room's stored password.
func (r *Room) CheckPassword(withPassword bool, pw uint16) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.isProtected {
		return true
	}
	return withPassword && pw == r.password
}

// Connected attaches c as a client and notifies the host.
func (r *Room) Connected(c *conn.Conn) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.clients[c.ID] = c
	r.mu.Unlock()

	r.events.SendToHost(r, protocol.ConnectionJoin{
		ConID:       c.ID,
		AddressHash: AddressHash(c.RemoteAddr().String()),
	})
}

// Disconnected removes c (or, if c is the host, closes the room) and
// notifies the host.
func (r *Room) Disconnected(c *conn.Conn, reason protocol.CloseReason) {
	r.disconnect(c, reason, true)
}

// DisconnectedQuietly is Disconnected without the host notification,
// used when the host itself asked to close a client.
func (r *Room) DisconnectedQuietly(c *conn.Conn, reason protocol.CloseReason) {
	r.disconnect(c, reason, false)
}

func (r *Room) disconnect(c *conn.Conn, reason protocol.CloseReason, notifyHost bool) {
	if r.IsHost(c) {
		r.Close(reason)
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	_, present := r.clients[c.ID]
	delete(r.clients, c.ID)
	r.mu.Unlock()

	if present && notifyHost {
		r.events.SendToHost(r, protocol.ConnectionClosed{ConID: c.ID, Reason: reason})
	}
}

// ReceivedFromClient forwards an opaque payload from client c to the
// host as a wrap packet.
func (r *Room) ReceivedFromClient(c *conn.Conn, payload []byte, isTCP bool) {
	r.mu.Lock()
	r.bytesToHost += uint64(len(payload))
	r.packetsToHost++
	r.mu.Unlock()

	r.events.SendToHost(r, protocol.ConnectionPacketWrap{ConID: c.ID, IsTCP: isTCP, Raw: payload})
}

// ReceivedFromHost unwraps a host-sent packet and forwards the payload
// to the target client. If the target id is unknown and the host is
// still connected, the relay replies with ConnectionClosed{error} — the
// only case a phantom id is reported.
func (r *Room) ReceivedFromHost(w protocol.ConnectionPacketWrap) {
	r.mu.RLock()
	target, ok := r.clients[w.ConID]
	r.mu.RUnlock()

	if !ok {
		r.events.SendToHost(r, protocol.ConnectionClosed{ConID: w.ConID, Reason: protocol.CloseError})
		return
	}

	r.mu.Lock()
	r.bytesFromHost += uint64(len(w.Raw))
	r.packetsFromHost++
	r.mu.Unlock()

	r.events.SendToClient(target, protocol.ConnectionPacketWrap{ConID: w.ConID, IsTCP: w.IsTCP, Raw: w.Raw}, w.IsTCP)
}

// Idle forwards at most one ConnectionIdling notification per idle
// period to the host. Callers should
// only invoke Idle when conn.Conn.MarkIdleNotified returns true.
func (r *Room) Idle(c *conn.Conn) {
	if !r.Contains(c) && !r.IsHost(c) {
		return
	}
	r.events.SendToHost(r, protocol.ConnectionIdling{ConID: c.ID})
}

// SetConfiguration applies a host-only configuration update and touches
// the listing cache.
func (r *Room) SetConfiguration(isPublic, isProtected bool, password uint16, canRequestState bool) {
	r.mu.Lock()
	r.isPublic = isPublic
	r.isProtected = isProtected
	r.password = password
	r.canRequestState = canRequestState
	r.mu.Unlock()

	r.events.StateTouched(r)
}

// SetState stores a new host-provided snapshot, clears requestingState,
// and touches the listing cache.
func (r *Room) SetState(state []byte) error {
	if len(state) > MaxStateSize {
		return ErrStateTooLarge
	}
	r.mu.Lock()
	r.rawState = state
	r.requestingState = false
	r.lastStateReceived = time.Now()
	r.mu.Unlock()

	r.events.StateTouched(r)
	return nil
}

// RequestState asks the host for a fresh state snapshot iff one is not
// already in flight and either none was ever requested or the previous
// request is older than stateTimeout. Returns whether a request was
// actually sent.
func (r *Room) RequestState(now time.Time, stateTimeout time.Duration) bool {
	r.mu.Lock()
	if !r.lastStateRequested.IsZero() && now.Sub(r.lastStateRequested) < stateTimeout {
		r.mu.Unlock()
		return false
	}
	r.requestingState = true
	r.lastStateRequested = now
	r.mu.Unlock()

	r.events.SendToHost(r, protocol.RoomStateRequest{})
	return true
}

// IsStateRequestTimedOut reports whether an in-flight state request has
// exceeded stateTimeout without a reply.
func (r *Room) IsStateRequestTimedOut(now time.Time, stateTimeout time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.requestingState && now.Sub(r.lastStateRequested) >= stateTimeout
}

// IsStateOutdated reports whether the cached state is older than
// stateLifetime.
func (r *Room) IsStateOutdated(now time.Time, stateLifetime time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lastStateReceived.IsZero() {
		return true
	}
	return now.Sub(r.lastStateReceived) >= stateLifetime
}

// ShouldRequestState reports whether this room even participates in
// state polling (public, state-permitting, listable).
func (r *Room) ShouldRequestState() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isPublic && r.canRequestState && !r.Type.IsNull()
}

// SendRoomState sends c an info packet with the current snapshot. The
// state field is null when the room is not public. Splitting into the
// stream layer for oversized states is the caller's responsibility
// (the relay decides the threshold once it has serialized the packet).
func (r *Room) SendRoomState(c *conn.Conn) {
	r.mu.RLock()
	info := protocol.RoomInfo{RoomID: r.ID, IsProtected: r.isProtected, Type: r.Type}
	if r.isPublic {
		info.State = r.rawState
	}
	r.mu.RUnlock()
	r.events.SendToClient(c, info, true)
}

// Snapshot returns a stable, lock-free-to-read copy of room info for
// listing/status purposes.
type Snapshot struct {
	ID              uint64
	Type            protocol.RoomType
	IsPublic        bool
	IsProtected     bool
	ClientCount     int
	BytesToHost     uint64
	BytesFromHost   uint64
	PacketsToHost   uint64
	PacketsFromHost uint64
	CreatedAt       time.Time
}

// Snapshot takes a consistent reading of the room's public fields.
func (r *Room) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		ID:              r.ID,
		Type:            r.Type,
		IsPublic:        r.isPublic,
		IsProtected:     r.isProtected,
		ClientCount:     len(r.clients),
		BytesToHost:     r.bytesToHost,
		BytesFromHost:   r.bytesFromHost,
		PacketsToHost:   r.packetsToHost,
		PacketsFromHost: r.packetsFromHost,
		CreatedAt:       r.createdAt,
	}
}

// Close closes the room exactly once: marks closed before disconnecting
// peers so re-entrant events become no-ops, notifies the host, closes
// every transport, clears the client map, and fires RoomClosed.
func (r *Room) Close(reason protocol.CloseReason) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.closedAt = time.Now()
	host := r.host
	clients := make([]*conn.Conn, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.clients = make(map[uint32]*conn.Conn)
	r.mu.Unlock()

	if host != nil {
		r.events.SendToHost(r, protocol.RoomClosed{Reason: reason})
		_ = host.Close()
	}
	for _, c := range clients {
		_ = c.Close()
	}
	r.events.RoomClosed(r, reason)
}

// ShortIDOf formats a room id the same way Room.ShortID does, for
// callers holding only a Snapshot.
func ShortIDOf(id uint64) string {
	return shortenID(id)
}

func shortenID(id uint64) string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	if id == 0 {
		return "0"
	}
	buf := make([]byte, 0, 11)
	for id > 0 {
		buf = append(buf, alphabet[id%uint64(len(alphabet))])
		id /= uint64(len(alphabet))
	}
	// reverse
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}
