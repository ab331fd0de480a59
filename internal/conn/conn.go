// Package conn implements the virtual-connection layer:
// a logical endpoint per remote client, wrapping a transport connection
// and carrying packet-rate state, a reliability-flagged send, a close
// and idle tracking. Close acts immediately; it is not deferred to a
// later scheduler tick.
package conn

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// EarlyQueueCapacity is the bounded FIFO size for payloads received
// before a connection has joined a room.
const EarlyQueueCapacity = 3

// Sender performs the actual transport write for a Conn. isTCP selects
// the reliable vs unreliable path.
type Sender interface {
	Send(isTCP bool, data []byte) error
	Close() error
	RemoteAddr() net.Addr
}

// Conn is a logical peer handle. Exactly one exists per transport
// endpoint for its lifetime.
type Conn struct {
	ID   uint32
	sndr Sender

	packetLimiter *rate.Limiter
	idleNotified  atomic.Bool
	closed        atomic.Bool

	roomID atomic.Uint64 // 0 = not attached to any room

	queueMu sync.Mutex
	queue   [][]byte // early-packet FIFO, capacity EarlyQueueCapacity

	createdAt time.Time
}

// New wraps sndr into a logical connection identified by id. spamLimit
// is packets allowed per 3-second window; 0 disables limiting for this
// connection.
func New(id uint32, sndr Sender, spamLimit int) *Conn {
	c := &Conn{ID: id, sndr: sndr, createdAt: time.Now()}
	if spamLimit > 0 {
		c.packetLimiter = rate.NewLimiter(rate.Limit(float64(spamLimit)/3.0), spamLimit)
	}
	return c
}

// ShortID returns the url-safe short form of ID.
func (c *Conn) ShortID() string {
	return strconv.FormatUint(uint64(c.ID), 36)
}

// RemoteAddr returns the underlying transport's remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.sndr.RemoteAddr()
}

// Send writes data to the peer using the given reliability class.
func (c *Conn) Send(isTCP bool, data []byte) error {
	return c.sndr.Send(isTCP, data)
}

// Close tears down the underlying transport. Idempotent.
func (c *Conn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		return c.sndr.Close()
	}
	return nil
}

// Closed reports whether Close has already run.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// AllowPacket consumes one token from the per-connection packet-rate
// limiter. Always true when spamLimit was 0 (limiting disabled). Touched
// from the network loop.
func (c *Conn) AllowPacket() bool {
	if c.packetLimiter == nil {
		return true
	}
	return c.packetLimiter.Allow()
}

// MarkActive clears the idle-notified flag; call on every inbound packet.
func (c *Conn) MarkActive() {
	c.idleNotified.Store(false)
}

// MarkIdleNotified reports whether this is the first idle notification
// since the last activity, atomically flipping the flag so the host is
// notified at most once per idle period.
func (c *Conn) MarkIdleNotified() bool {
	return c.idleNotified.CompareAndSwap(false, true)
}

// RoomID returns the room this connection is currently attached to, or 0.
func (c *Conn) RoomID() uint64 {
	return c.roomID.Load()
}

// AttachRoom records room membership and drains to the caller the
// queued early packets in FIFO order.
func (c *Conn) AttachRoom(roomID uint64) [][]byte {
	c.roomID.Store(roomID)
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	drained := c.queue
	c.queue = nil
	return drained
}

// DetachRoom clears room membership, e.g. on disconnect or transfer to
// another room.
func (c *Conn) DetachRoom() {
	c.roomID.Store(0)
}

// EnqueueEarly appends a payload received before the connection attached
// to a room. Once the queue is at capacity, the newest payload is
// dropped silently; the peer is expected to retransmit at the
// application layer if it matters.
func (c *Conn) EnqueueEarly(data []byte) (accepted bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	if len(c.queue) >= EarlyQueueCapacity {
		return false
	}
	c.queue = append(c.queue, data)
	return true
}

// ClearEarly drops any buffered early packets, used on disconnect.
func (c *Conn) ClearEarly() {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	c.queue = nil
}
