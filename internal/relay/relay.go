// Package relay implements the dispatcher: connection
// ingress, room lookup, rate limiting, early-packet queueing, discovery,
// and the full control-packet routing table. A single-owner dispatcher
// goroutine drains a bounded channel fed by the transport's
// network-loop goroutines, so room and listing state never needs its
// own lock.
package relay

import (
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/xpdustry/claj/internal/config"
	"github.com/xpdustry/claj/internal/conn"
	"github.com/xpdustry/claj/internal/listing"
	"github.com/xpdustry/claj/internal/protocol"
	"github.com/xpdustry/claj/internal/ratekeep"
	"github.com/xpdustry/claj/internal/room"
	"github.com/xpdustry/claj/internal/sched"
	"github.com/xpdustry/claj/internal/stream"
	"github.com/xpdustry/claj/internal/transport"
)

// Frame tags distinguish a control packet from an opaque game payload
// on the wire, since a client's game traffic is otherwise indistinguishable
// from a control-packet frame by size or shape alone.
const (
	frameControl byte = 1
	frameRaw     byte = 2
)

// splitThreshold is the encoded size above which an outbound control
// packet is sent through the stream layer instead of as one frame. The
// stream chunks themselves are up to stream.DefaultChunkSize bytes.
const splitThreshold = 1200

// Status is a point-in-time snapshot for the operator surface.
type Status struct {
	RoomCount       int
	ConnectionCount int
	Closing         bool
	Rooms           []room.Snapshot
}

// Relay is the single-owner dispatcher. One goroutine (run) owns every
// field below except where noted; the transport's goroutines only ever
// post onto events.
type Relay struct {
	cfg config.Config
	log *slog.Logger

	listener  *transport.Listener
	scheduler *sched.Scheduler
	listing   *listing.Manager
	assembler *stream.Assembler

	events chan any
	done   chan struct{}
	wg     sync.WaitGroup

	nextConnID  atomic.Uint32
	nextStreamID atomic.Uint32

	rooms      map[uint64]*room.Room
	connToRoom map[uint32]uint64
	conns      map[uint32]*conn.Conn
	typeIndex  map[protocol.RoomType]map[uint64]*room.Room
	pendingInfo map[uint64][]*conn.Conn

	joinRate *ratekeep.Keeper
	infoRate *ratekeep.Keeper
	listRate *ratekeep.Keeper

	blMu          sync.RWMutex
	blacklist     map[string]struct{}
	blacklistType map[string]struct{}
	recentRejects *lru.Cache[string, time.Time]

	spamLimit      atomic.Int64 // packets/3s per connection; read by onAccept (network loop)
	warnClosing    atomic.Bool
	warnDeprecated atomic.Bool

	connCount atomic.Int64 // live connections; bounds admission

	closing atomic.Bool
	serverInfo []byte // cached ServerInfo reply
}

// New constructs a Relay. Call Start to bind the transport and begin
// serving.
func New(cfg config.Config, log *slog.Logger) *Relay {
	r := &Relay{
		cfg:           cfg,
		log:           log,
		scheduler:     sched.New(),
		assembler:     stream.NewAssembler(),
		events:        make(chan any, 1024),
		done:          make(chan struct{}),
		rooms:         make(map[uint64]*room.Room),
		connToRoom:    make(map[uint32]uint64),
		conns:         make(map[uint32]*conn.Conn),
		typeIndex:     make(map[protocol.RoomType]map[uint64]*room.Room),
		pendingInfo:   make(map[uint64][]*conn.Conn),
		joinRate:      ratekeep.New(windowLimit(cfg.JoinLimit, time.Minute), cfg.JoinLimit, 10*time.Minute),
		infoRate:      ratekeep.New(windowLimit(cfg.InfoLimit, 3*time.Second), cfg.InfoLimit, 10*time.Minute),
		listRate:      ratekeep.New(windowLimit(cfg.ListLimit, 3*time.Second), cfg.ListLimit, 10*time.Minute),
		blacklist:     cfg.Blacklist,
		blacklistType: cfg.BlacklistedTypes,
	}
	r.spamLimit.Store(int64(cfg.SpamLimit))
	r.warnClosing.Store(cfg.WarnClosing)
	r.warnDeprecated.Store(cfg.WarnDeprecated)

	rejects, _ := lru.New[string, time.Time](1024)
	r.recentRejects = rejects
	r.listing = listing.New(r, r, r.scheduler, cfg.ListTimeout)

	info, _ := protocol.Encode(protocol.ServerInfo{Version: cfg.ServerVersion})
	r.serverInfo = info
	return r
}

// windowLimit converts "n events per window" into a rate.Limit, treating
// n<=0 as unlimited (the per-connection spamLimit's own "0 disables" is
// handled directly in internal/conn; these are the per-address windows).
func windowLimit(n int, window time.Duration) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(float64(n) / window.Seconds())
}

// Start binds the transport listener and launches the dispatcher and
// network-loop goroutines.
func (r *Relay) Start() error {
	l, err := transport.Listen(r.cfg.Addr, r.log, r.cfg.IdleTimeout, transport.Callbacks{
		OnAccept:     r.onAccept,
		OnDisconnect: r.onTransportDisconnect,
		OnFrame:      r.onTransportFrame,
		OnDiscovery:  r.onDiscovery,
		OnIdle:       r.onTransportIdle,
	})
	if err != nil {
		return err
	}
	r.listener = l

	r.wg.Add(3)
	go func() { defer r.wg.Done(); r.listener.Serve() }()
	go func() { defer r.wg.Done(); r.run() }()
	go func() { defer r.wg.Done(); r.sweepLoop() }()

	r.log.Info("relay listening", "addr", r.cfg.Addr)
	return nil
}

// sweepLoop periodically evicts idle rate-limiter entries. Keeper is
// safe for concurrent use, so this runs independently of the
// dispatcher goroutine.
func (r *Relay) sweepLoop() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case now := <-t.C:
			r.joinRate.Sweep(now)
			r.infoRate.Sweep(now)
			r.listRate.Sweep(now)
		case <-r.done:
			return
		}
	}
}

// Stop runs the shutdown sequence: mark
// closing, optionally warn every room, wait closeWait, close every room
// with serverClosed, flush every listing cache, then stop the
// transport.
func (r *Relay) Stop() {
	if !r.closing.CompareAndSwap(false, true) {
		return
	}
	r.log.Info("relay stopping")

	if r.warnClosing.Load() {
		r.broadcastToast(protocol.MessageServerClosing)
		time.Sleep(r.cfg.CloseWait)
	}

	done := make(chan struct{})
	r.events <- closeAllEvent{done: done}
	<-done

	r.listing.Shutdown()
	r.scheduler.Stop()
	if r.listener != nil {
		_ = r.listener.Close()
	}
	close(r.done)
	r.wg.Wait()
}

// Status returns a snapshot for the operator surface.
func (r *Relay) Status() Status {
	reply := make(chan Status, 1)
	select {
	case r.events <- statusEvent{reply: reply}:
		return <-reply
	case <-r.done:
		return Status{Closing: true}
	}
}

// --- transport callbacks (network loop) ---

func (r *Relay) onAccept(sndr *transport.Sender) (uint32, bool) {
	if r.closing.Load() {
		return 0, false
	}
	host, _, _ := net.SplitHostPort(sndr.RemoteAddr().String())
	r.blMu.RLock()
	_, blocked := r.blacklist[host]
	r.blMu.RUnlock()
	if blocked {
		return 0, false
	}
	if rejectedAt, ok := r.recentRejects.Get(host); ok && time.Since(rejectedAt) < 5*time.Second {
		return 0, false
	}
	if r.cfg.MaxPendingConnections > 0 && r.connCount.Load() >= int64(r.cfg.MaxPendingConnections) {
		return 0, false
	}
	id := r.nextConnID.Add(1)
	c := conn.New(id, sndr, int(r.spamLimit.Load()))
	select {
	case r.events <- connectEvent{c: c}:
	default:
		return 0, false
	}
	r.connCount.Add(1)
	return id, true
}

func (r *Relay) onTransportDisconnect(id uint32) {
	r.events <- disconnectEvent{id: id}
}

func (r *Relay) onTransportFrame(id uint32, isTCP bool, data []byte) {
	if len(data) == 0 {
		return
	}
	tag, payload := data[0], data[1:]
	switch tag {
	case frameControl:
		p, err := protocol.Decode(payload)
		if err != nil {
			r.events <- protocolErrorEvent{id: id}
			return
		}
		r.events <- packetEvent{id: id, isTCP: isTCP, pkt: p}
	case frameRaw:
		r.events <- rawEvent{id: id, isTCP: isTCP, data: payload}
	default:
		r.events <- protocolErrorEvent{id: id}
	}
}

func (r *Relay) onDiscovery(udp *net.UDPConn, addr *net.UDPAddr) {
	_, _ = udp.WriteTo(r.serverInfo, addr)
}

func (r *Relay) onTransportIdle(id uint32) {
	r.events <- idleEvent{id: id}
}

// --- main loop ---

type connectEvent struct{ c *conn.Conn }
type disconnectEvent struct{ id uint32 }
type packetEvent struct {
	id    uint32
	isTCP bool
	pkt   protocol.Packet
}
type rawEvent struct {
	id    uint32
	isTCP bool
	data  []byte
}
type protocolErrorEvent struct{ id uint32 }
type idleEvent struct{ id uint32 }
type statusEvent struct{ reply chan Status }
type closeAllEvent struct{ done chan struct{} }

func (r *Relay) run() {
	for {
		select {
		case ev := <-r.events:
			r.dispatch(ev)
		case <-r.done:
			return
		}
	}
}

func (r *Relay) dispatch(ev any) {
	switch e := ev.(type) {
	case connectEvent:
		r.conns[e.c.ID] = e.c
		r.log.Debug("connection accepted", "id", e.c.ID, "addr", e.c.RemoteAddr())
	case disconnectEvent:
		r.handleDisconnect(e.id, protocol.CloseClosed)
	case packetEvent:
		r.handlePacket(e.id, e.isTCP, e.pkt)
	case rawEvent:
		r.handleRaw(e.id, e.isTCP, e.data)
	case protocolErrorEvent:
		r.kick(e.id, protocol.CloseError)
	case idleEvent:
		r.handleIdle(e.id)
	case infoTimeoutEvent:
		if rm, ok := r.rooms[e.roomID]; ok {
			r.flushPendingInfo(rm)
		}
	case statusEvent:
		e.reply <- r.snapshotStatus()
	case refreshRoomEvent:
		e.reply <- r.refreshRoom(e.shortID)
	case sayEvent:
		r.broadcastToast(protocol.MessageOperatorAnnouncement, e.msg)
	case closeAllEvent:
		for _, rm := range r.rooms {
			rm.Close(protocol.CloseServerClosed)
		}
		close(e.done)
	}
}

func (r *Relay) refreshRoom(shortID string) bool {
	for _, rm := range r.rooms {
		if rm.ShortID() == shortID {
			rm.RequestState(time.Now(), r.cfg.StateTimeout)
			return true
		}
	}
	return false
}

func (r *Relay) snapshotStatus() Status {
	s := Status{RoomCount: len(r.rooms), ConnectionCount: len(r.conns), Closing: r.closing.Load()}
	for _, rm := range r.rooms {
		s.Rooms = append(s.Rooms, rm.Snapshot())
	}
	return s
}

func (r *Relay) handleDisconnect(id uint32, reason protocol.CloseReason) {
	c, ok := r.conns[id]
	if !ok {
		return
	}
	delete(r.conns, id)
	r.connCount.Add(-1)
	r.assembler.Drop(id)

	if roomID, attached := r.connToRoom[id]; attached {
		delete(r.connToRoom, id)
		c.DetachRoom()
		if rm, ok := r.rooms[roomID]; ok {
			rm.Disconnected(c, reason)
			if rm.IsHost(c) || rm.Closed() {
				r.removeRoom(rm)
			}
		}
	}
	r.removePendingInfoRequester(c)
	r.joinRate.Reset(addrKey(c))
	r.infoRate.Reset(addrKey(c))
	r.listRate.Reset(addrKey(c))
}

// handleIdle notifies a room's host that one of its connections has gone
// quiet, at most once per idle period (conn.Conn.MarkIdleNotified
// dedupes repeat sweeps against the same idle stretch).
func (r *Relay) handleIdle(id uint32) {
	c, ok := r.conns[id]
	if !ok {
		return
	}
	if !c.MarkIdleNotified() {
		return
	}
	roomID, ok := r.connToRoom[id]
	if !ok {
		return
	}
	if rm, ok := r.rooms[roomID]; ok {
		rm.Idle(c)
	}
}

// isRoomHost reports whether c currently hosts a room. Room hosts are
// exempt from the per-connection spam limit: they forward the room's
// entire stream of client traffic through ConnectionPacketWrap and would
// otherwise trip their own rate limiter under ordinary load.
func (r *Relay) isRoomHost(c *conn.Conn) bool {
	roomID, ok := r.connToRoom[c.ID]
	if !ok {
		return false
	}
	rm, ok := r.rooms[roomID]
	return ok && rm.IsHost(c)
}

func (r *Relay) kick(id uint32, reason protocol.CloseReason) {
	if c, ok := r.conns[id]; ok {
		if reason == protocol.CloseError || reason == protocol.CloseBlacklisted {
			r.recentRejects.Add(addrKey(c), time.Now())
		}
		_ = c.Close()
	}
	r.handleDisconnect(id, reason)
}

func addrKey(c *conn.Conn) string {
	host, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return host
}

func (r *Relay) handleRaw(id uint32, isTCP bool, data []byte) {
	c, ok := r.conns[id]
	if !ok {
		return
	}
	c.MarkActive()
	if !r.isRoomHost(c) && !c.AllowPacket() {
		r.handleSpam(c)
		return
	}

	roomID := c.RoomID()
	if roomID == 0 {
		c.EnqueueEarly(data)
		return
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	rm.ReceivedFromClient(c, data, isTCP)
}

func (r *Relay) handleSpam(c *conn.Conn) {
	if roomID, ok := r.connToRoom[c.ID]; ok {
		if rm, ok := r.rooms[roomID]; ok && !rm.IsHost(c) {
			r.sendToast(rm, protocol.MessagePacketSpamming)
		}
	}
	r.kick(c.ID, protocol.CloseError)
}

func (r *Relay) handlePacket(id uint32, isTCP bool, p protocol.Packet) {
	c, ok := r.conns[id]
	if !ok {
		return
	}
	c.MarkActive()
	if !r.isRoomHost(c) && !c.AllowPacket() {
		r.handleSpam(c)
		return
	}

	switch pkt := p.(type) {
	case protocol.RoomCreationRequest:
		r.onRoomCreate(c, pkt)
	case protocol.RoomClosureRequest:
		r.onRoomClose(c)
	case protocol.RoomJoin:
		r.onRoomJoin(c, pkt.RoomID, pkt.Type, pkt.WithPassword, pkt.Password, true)
	case protocol.RoomJoinRequest:
		r.onRoomJoin(c, pkt.RoomID, pkt.Type, pkt.WithPassword, pkt.Password, false)
	case protocol.RoomConfig:
		r.onRoomConfig(c, pkt)
	case protocol.RoomState:
		r.onRoomState(c, pkt)
	case protocol.RoomInfoRequest:
		r.onInfoRequest(c, pkt.RoomID)
	case protocol.RoomListRequest:
		r.onListRequest(c, pkt.Type)
	case protocol.ConnectionClosed:
		r.onConnectionClosed(c, pkt)
	case protocol.ConnectionPacketWrap:
		r.onHostWrap(c, pkt)
	case protocol.StreamHead:
		r.assembler.Head(id, pkt)
	case protocol.StreamChunk:
		full, done, err := r.assembler.Chunk(id, pkt)
		if err != nil {
			r.kick(id, protocol.CloseError)
			return
		}
		if done {
			r.handlePacket(id, isTCP, full)
		}
	default:
		// unknown-but-decodable packet kind; ignore.
	}
}

// --- control-packet handlers ---

func (r *Relay) onRoomCreate(c *conn.Conn, req protocol.RoomCreationRequest) {
	if r.closing.Load() {
		r.sendControl(c, true, protocol.RoomClosed{Reason: protocol.CloseServerClosed})
		r.kick(c.ID, protocol.CloseServerClosed)
		return
	}
	if req.Version != r.cfg.ServerVersion {
		reason := protocol.CloseOutdatedClient
		if req.Version > r.cfg.ServerVersion {
			reason = protocol.CloseOutdatedServer
		}
		if reason == protocol.CloseOutdatedClient && r.warnDeprecated.Load() {
			r.sendControl(c, true, protocol.Toast{Message: protocol.MessageClientObsolete})
		}
		r.sendControl(c, true, protocol.RoomClosed{Reason: reason})
		r.kick(c.ID, reason)
		return
	}
	if !req.Type.IsNull() {
		r.blMu.RLock()
		_, blocked := r.blacklistType[req.Type.String()]
		r.blMu.RUnlock()
		if blocked {
			r.sendControl(c, true, protocol.RoomClosed{Reason: protocol.CloseBlacklisted})
			r.kick(c.ID, protocol.CloseBlacklisted)
			return
		}
	}
	if _, already := r.connToRoom[c.ID]; already {
		r.sendControl(c, true, protocol.Toast{Message: protocol.MessageAlreadyHosting})
		return
	}

	id := r.newRoomID()
	rm := room.New(id, req.Type, c, r)
	r.rooms[id] = rm
	r.connToRoom[c.ID] = id
	if r.typeIndex[req.Type] == nil {
		r.typeIndex[req.Type] = make(map[uint64]*room.Room)
	}
	r.typeIndex[req.Type][id] = rm

	r.log.Info("room created", "room_id", rm.ShortID(), "type", req.Type.String(), "host", c.ID)
	r.sendControl(c, true, protocol.RoomLink{RoomID: id})
}

func (r *Relay) newRoomID() uint64 {
	for {
		id := rand.Uint64()
		if id == 0 {
			continue
		}
		if _, exists := r.rooms[id]; !exists {
			return id
		}
	}
}

func (r *Relay) onRoomClose(c *conn.Conn) {
	roomID, ok := r.connToRoom[c.ID]
	if !ok {
		return
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	if !rm.IsHost(c) {
		r.sendControl(c, true, protocol.Toast{Message: protocol.MessageRoomClosureDenied})
		return
	}
	rm.Close(protocol.CloseClosed)
}

func (r *Relay) onRoomJoin(c *conn.Conn, roomID uint64, typ protocol.RoomType, withPassword bool, password uint16, commit bool) {
	var previousRoom *room.Room
	if prevID, already := r.connToRoom[c.ID]; already {
		prev, ok := r.rooms[prevID]
		if ok && prev.IsHost(c) {
			r.sendControl(c, true, protocol.Toast{Message: protocol.MessageAlreadyHosting})
			return
		}
		// Merely a client of another room: unhook from it below, once the
		// new room has been fully validated.
		previousRoom = prev
	}
	if r.closing.Load() {
		r.denyJoin(c, roomID, protocol.RejectServerClosing, commit)
		return
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		r.denyJoin(c, roomID, protocol.RejectRoomNotFound, commit)
		return
	}
	if !r.joinRate.Allow(addrKey(c)) {
		// Rate-limited join is indistinguishable from "not found" to
		// frustrate enumeration.
		r.denyJoin(c, roomID, protocol.RejectRoomNotFound, commit)
		return
	}
	if typ != rm.Type && !(typ.IsNull() && r.cfg.AcceptNoType) {
		r.denyJoin(c, roomID, protocol.RejectIncompatible, commit)
		return
	}
	if rm.IsProtected() && !rm.CheckPassword(withPassword, password) {
		if !withPassword {
			r.denyJoin(c, roomID, protocol.RejectPasswordRequired, commit)
		} else {
			r.denyJoin(c, roomID, protocol.RejectInvalidPassword, commit)
		}
		return
	}

	if !commit {
		r.sendControl(c, true, protocol.RoomJoinAccepted{RoomID: roomID})
		return
	}

	if previousRoom != nil {
		delete(r.connToRoom, c.ID)
		previousRoom.Disconnected(c, protocol.CloseClosed)
	}

	r.connToRoom[c.ID] = roomID
	rm.Connected(c)
	drained := c.AttachRoom(roomID)
	for _, payload := range drained {
		rm.ReceivedFromClient(c, payload, true)
	}
	r.log.Info("client joined room", "room_id", rm.ShortID(), "conn", c.ID)
}

// denyJoin rejects a join attempt. A probing RoomJoinRequest (commit
// false) gets a RoomJoinDenied reply so the client can try elsewhere; a
// committing RoomJoin has already told its peer it's joining, so the
// only way to refuse is to drop the connection.
func (r *Relay) denyJoin(c *conn.Conn, roomID uint64, reason protocol.RejectReason, commit bool) {
	if commit {
		r.kick(c.ID, protocol.CloseError)
		return
	}
	r.sendControl(c, true, protocol.RoomJoinDenied{RoomID: roomID, Reason: reason})
}

func (r *Relay) onRoomConfig(c *conn.Conn, cfg protocol.RoomConfig) {
	rm := r.roomOfHost(c)
	if rm == nil {
		r.sendControl(c, true, protocol.Toast{Message: protocol.MessageConfigureDenied})
		return
	}
	rm.SetConfiguration(cfg.IsPublic, cfg.IsProtected, cfg.Password, cfg.CanRequestState)
}

func (r *Relay) onRoomState(c *conn.Conn, st protocol.RoomState) {
	rm := r.roomOfHost(c)
	if rm == nil {
		r.sendControl(c, true, protocol.Toast{Message: protocol.MessageStatingDenied})
		return
	}
	if err := rm.SetState(st.State); err != nil {
		r.kick(c.ID, protocol.CloseError)
		return
	}
	r.flushPendingInfo(rm)
}

func (r *Relay) roomOfHost(c *conn.Conn) *room.Room {
	roomID, ok := r.connToRoom[c.ID]
	if !ok {
		return nil
	}
	rm, ok := r.rooms[roomID]
	if !ok || !rm.IsHost(c) {
		return nil
	}
	return rm
}

func (r *Relay) onInfoRequest(c *conn.Conn, roomID uint64) {
	if !r.infoRate.Allow(addrKey(c)) {
		r.sendControl(c, true, protocol.RoomInfoDenied{})
		return
	}
	rm, ok := r.rooms[roomID]
	if !ok {
		r.sendControl(c, true, protocol.RoomInfoDenied{})
		return
	}
	if rm.ShouldRequestState() && rm.IsStateOutdated(time.Now(), r.cfg.StateLifetime) {
		r.pendingInfo[roomID] = append(r.pendingInfo[roomID], c)
		rm.RequestState(time.Now(), r.cfg.StateTimeout)
		r.scheduler.After(sched.Key{ID: roomID, Kind: "stateTimeout"}, r.cfg.StateTimeout, func() {
			r.events <- infoTimeoutEvent{roomID: roomID}
		})
		return
	}
	r.sendRoomInfo(c, rm)
}

type infoTimeoutEvent struct{ roomID uint64 }
type refreshRoomEvent struct {
	shortID string
	reply   chan bool
}

func (r *Relay) onListRequest(c *conn.Conn, typ protocol.RoomType) {
	if !r.listRate.Allow(addrKey(c)) {
		r.sendControl(c, true, protocol.RoomList{States: map[uint64][]byte{}, ProtectedRooms: map[uint64]struct{}{}})
		return
	}
	r.listing.Request(typ, c, time.Now())
}

func (r *Relay) onConnectionClosed(host *conn.Conn, req protocol.ConnectionClosed) {
	rm := r.roomOfHost(host)
	if rm == nil {
		r.sendControl(host, true, protocol.Toast{Message: protocol.MessageConClosureDenied})
		return
	}
	target, ok := r.conns[req.ConID]
	if !ok || !rm.Contains(target) {
		return
	}
	delete(r.connToRoom, target.ID)
	rm.DisconnectedQuietly(target, req.Reason)
	_ = target.Close()
}

func (r *Relay) onHostWrap(host *conn.Conn, w protocol.ConnectionPacketWrap) {
	rm := r.roomOfHost(host)
	if rm == nil {
		return
	}
	rm.ReceivedFromHost(w)
}

// --- room.Events ---

func (r *Relay) SendToHost(rm *room.Room, p protocol.Packet) {
	hostID, ok := r.hostIDOf(rm)
	if !ok {
		return
	}
	c, ok := r.conns[hostID]
	if !ok {
		return
	}
	r.sendControl(c, true, p)
}

func (r *Relay) hostIDOf(rm *room.Room) (uint32, bool) {
	return rm.HostID()
}

func (r *Relay) SendToClient(c *conn.Conn, p protocol.Packet, isTCP bool) {
	if wrap, ok := p.(protocol.ConnectionPacketWrap); ok {
		_ = c.Send(isTCP, append([]byte{frameRaw}, wrap.Raw...))
		return
	}
	r.sendControl(c, isTCP, p)
}

func (r *Relay) RoomClosed(rm *room.Room, reason protocol.CloseReason) {
	r.removeRoom(rm)
	r.log.Info("room closed", "room_id", rm.ShortID(), "reason", reason.String())
}

func (r *Relay) StateTouched(rm *room.Room) {
	r.listing.OnConfigChanged(rm)
	r.listing.OnStateChanged(rm)
}

func (r *Relay) removeRoom(rm *room.Room) {
	delete(r.rooms, rm.ID)
	if byType, ok := r.typeIndex[rm.Type]; ok {
		delete(byType, rm.ID)
		if len(byType) == 0 {
			delete(r.typeIndex, rm.Type)
		}
	}
	for connID, roomID := range r.connToRoom {
		if roomID == rm.ID {
			delete(r.connToRoom, connID)
			if c, ok := r.conns[connID]; ok {
				c.DetachRoom()
			}
		}
	}
	r.scheduler.CancelAllForID(rm.ID)
	r.listing.RemoveRoom(rm.Type, rm.ID)
	r.flushAndClearPendingInfo(rm.ID)
}

func (r *Relay) flushPendingInfo(rm *room.Room) {
	waiters := r.pendingInfo[rm.ID]
	delete(r.pendingInfo, rm.ID)
	r.scheduler.Cancel(sched.Key{ID: rm.ID, Kind: "stateTimeout"})
	for _, c := range waiters {
		r.sendRoomInfo(c, rm)
	}
}

func (r *Relay) flushAndClearPendingInfo(roomID uint64) {
	waiters := r.pendingInfo[roomID]
	delete(r.pendingInfo, roomID)
	for _, c := range waiters {
		r.sendControl(c, true, protocol.RoomInfoDenied{})
	}
}

func (r *Relay) removePendingInfoRequester(c *conn.Conn) {
	for roomID, waiters := range r.pendingInfo {
		kept := waiters[:0]
		for _, w := range waiters {
			if w.ID != c.ID {
				kept = append(kept, w)
			}
		}
		r.pendingInfo[roomID] = kept
	}
}

// --- listing.RoomSet / listing.Events ---

func (r *Relay) RoomsOfType(typ protocol.RoomType) []*room.Room {
	byType := r.typeIndex[typ]
	out := make([]*room.Room, 0, len(byType))
	for _, rm := range byType {
		out = append(out, rm)
	}
	return out
}

func (r *Relay) SendList(c *conn.Conn, typ protocol.RoomType, list protocol.RoomList) {
	r.sendControl(c, true, list)
}

// --- outbound helpers ---

func (r *Relay) sendControl(c *conn.Conn, isTCP bool, p protocol.Packet) {
	encoded, err := protocol.Encode(p)
	if err != nil {
		r.log.Warn("encode failed", "err", err)
		return
	}
	if len(encoded) <= splitThreshold {
		_ = c.Send(isTCP, append([]byte{frameControl}, encoded...))
		return
	}
	id := r.nextStreamID.Add(1)
	head, chunks, err := stream.Split(id, p, stream.DefaultChunkSize, true)
	if err != nil {
		r.log.Warn("stream split failed", "err", err)
		return
	}
	headBytes, _ := protocol.Encode(head)
	_ = c.Send(isTCP, append([]byte{frameControl}, headBytes...))
	for _, chunk := range chunks {
		chunkBytes, _ := protocol.Encode(chunk)
		_ = c.Send(isTCP, append([]byte{frameControl}, chunkBytes...))
	}
}

func (r *Relay) sendToast(rm *room.Room, msg protocol.MessageType, text ...string) {
	t := protocol.Toast{Message: msg}
	if len(text) > 0 {
		t.Text = text[0]
	}
	r.SendToHost(rm, t)
}

func (r *Relay) broadcastToast(msg protocol.MessageType, text ...string) {
	for _, rm := range r.rooms {
		r.sendToast(rm, msg, text...)
	}
}

func (r *Relay) sendRoomInfo(c *conn.Conn, rm *room.Room) {
	rm.SendRoomState(c)
}

// --- control.Core ---
//
// These back internal/control.Console's operator commands.
// Status, RefreshRoom and Say go through the event channel since
// they read r.rooms, which only the dispatcher goroutine owns; the
// Set*/Blacklist* methods mutate either an atomic field or a dedicated
// mutex and can be called directly from the console goroutine.

// SetSpamLimit changes the per-connection packet budget applied to
// connections accepted from now on.
func (r *Relay) SetSpamLimit(n int) { r.spamLimit.Store(int64(n)) }

// SetJoinLimit reconfigures the per-address join rate going forward.
func (r *Relay) SetJoinLimit(n int) { r.joinRate.SetLimit(windowLimit(n, time.Minute), n) }

// Blacklist adds or removes addr from the address blacklist.
func (r *Relay) Blacklist(addr string, add bool) {
	r.blMu.Lock()
	defer r.blMu.Unlock()
	if add {
		r.blacklist[addr] = struct{}{}
	} else {
		delete(r.blacklist, addr)
	}
}

// BlacklistType adds or removes typ from the room-type blacklist.
func (r *Relay) BlacklistType(typ string, add bool) {
	r.blMu.Lock()
	defer r.blMu.Unlock()
	if add {
		r.blacklistType[typ] = struct{}{}
	} else {
		delete(r.blacklistType, typ)
	}
}

// SetWarnDeprecated toggles whether obsolete-client rejections carry an
// explanatory toast first.
func (r *Relay) SetWarnDeprecated(v bool) { r.warnDeprecated.Store(v) }

// SetWarnClosing toggles whether shutdown broadcasts a warning toast
// before the closeWait grace period.
func (r *Relay) SetWarnClosing(v bool) { r.warnClosing.Store(v) }

// Say broadcasts msg as an operator announcement toast to every room's host.
func (r *Relay) Say(msg string) {
	r.events <- sayEvent{msg: msg}
}

// RefreshRoom forces an out-of-band state request for the room with the
// given short id, reporting whether a matching room was found.
func (r *Relay) RefreshRoom(shortID string) bool {
	reply := make(chan bool, 1)
	select {
	case r.events <- refreshRoomEvent{shortID: shortID, reply: reply}:
		return <-reply
	case <-r.done:
		return false
	}
}

// RefreshList forces an immediate refresh of a type's listing cache.
func (r *Relay) RefreshList(typ string) {
	r.listing.ForceRefresh(protocol.NewRoomType(typ))
}

// Version reports the relay's protocol version, for `version`.
func (r *Relay) Version() int32 { return r.cfg.ServerVersion }

type sayEvent struct{ msg string }

