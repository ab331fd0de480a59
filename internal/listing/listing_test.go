package listing_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xpdustry/claj/internal/conn"
	"github.com/xpdustry/claj/internal/listing"
	"github.com/xpdustry/claj/internal/protocol"
	"github.com/xpdustry/claj/internal/room"
)

type fakeSender struct{ addr net.Addr }

func (f *fakeSender) Send(isTCP bool, data []byte) error { return nil }
func (f *fakeSender) Close() error                       { return nil }
func (f *fakeSender) RemoteAddr() net.Addr                { return f.addr }

func newConn(id uint32) *conn.Conn {
	return conn.New(id, &fakeSender{addr: &net.TCPAddr{IP: net.IPv4(1, 2, 3, 4), Port: int(id)}}, 0)
}

type fakeRoomEvents struct{}

func (fakeRoomEvents) SendToHost(r *room.Room, p protocol.Packet)             {}
func (fakeRoomEvents) SendToClient(c *conn.Conn, p protocol.Packet, t bool)   {}
func (fakeRoomEvents) RoomClosed(r *room.Room, reason protocol.CloseReason)  {}
func (fakeRoomEvents) StateTouched(r *room.Room)                             {}

type fakeRoomSet struct {
	rooms []*room.Room
}

func (s *fakeRoomSet) RoomsOfType(typ protocol.RoomType) []*room.Room {
	var out []*room.Room
	for _, r := range s.rooms {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

type fakeListingEvents struct {
	sent []sentList
}

type sentList struct {
	c    *conn.Conn
	typ  protocol.RoomType
	list protocol.RoomList
}

func (f *fakeListingEvents) SendList(c *conn.Conn, typ protocol.RoomType, list protocol.RoomList) {
	f.sent = append(f.sent, sentList{c: c, typ: typ, list: list})
}

func TestRequestFlushesImmediatelyWhenNothingNeedsRefresh(t *testing.T) {
	typ := protocol.NewRoomType("t")
	rooms := &fakeRoomSet{}
	ev := &fakeListingEvents{}
	m := listing.New(rooms, ev, nil, time.Minute)

	requester := newConn(1)
	m.Request(typ, requester, time.Now())

	require.Len(t, ev.sent, 1)
	assert.Equal(t, requester, ev.sent[0].c)
	assert.Empty(t, ev.sent[0].list.States)
}

func TestRequestCoalescesConcurrentCallers(t *testing.T) {
	typ := protocol.NewRoomType("t")
	host := newConn(1)
	r := room.New(55, typ, host, fakeRoomEvents{})
	r.SetConfiguration(true, false, 0, true)

	rooms := &fakeRoomSet{rooms: []*room.Room{r}}
	ev := &fakeListingEvents{}
	m := listing.New(rooms, ev, nil, time.Minute)

	now := time.Now()
	requesterA := newConn(2)
	requesterB := newConn(3)
	m.Request(typ, requesterA, now)
	m.Request(typ, requesterB, now)

	assert.Empty(t, ev.sent, "refresh is still waiting on the room's state, nobody should be flushed yet")

	m.OnStateChanged(r)

	require.Len(t, ev.sent, 2, "both coalesced requesters should be flushed together")
}

func TestOnConfigChangedTracksPublicAndProtected(t *testing.T) {
	typ := protocol.NewRoomType("t")
	host := newConn(1)
	r := room.New(55, typ, host, fakeRoomEvents{})
	rooms := &fakeRoomSet{rooms: []*room.Room{r}}
	ev := &fakeListingEvents{}
	m := listing.New(rooms, ev, nil, time.Minute)

	require.NoError(t, r.SetState([]byte("snapshot")))
	r.SetConfiguration(true, true, 777, true)
	m.OnConfigChanged(r)

	requester := newConn(2)
	m.Request(typ, requester, time.Now())
	require.Len(t, ev.sent, 1)
	assert.Equal(t, []byte("snapshot"), ev.sent[0].list.States[r.ID])
	_, protected := ev.sent[0].list.ProtectedRooms[r.ID]
	assert.True(t, protected)
}

func TestRemoveRoomDropsCachedStateAndEmptiesEntry(t *testing.T) {
	typ := protocol.NewRoomType("t")
	host := newConn(1)
	r := room.New(55, typ, host, fakeRoomEvents{})
	r.SetConfiguration(true, false, 0, true)
	require.NoError(t, r.SetState([]byte("snapshot")))

	rooms := &fakeRoomSet{rooms: []*room.Room{r}}
	ev := &fakeListingEvents{}
	m := listing.New(rooms, ev, nil, time.Minute)
	m.OnConfigChanged(r)

	m.RemoveRoom(typ, r.ID)

	requester := newConn(2)
	m.Request(typ, requester, time.Now())
	require.Len(t, ev.sent, 1)
	assert.Empty(t, ev.sent[0].list.States, "removed room's state should no longer be cached")
}

func TestShutdownFlushesEveryPendingRequesterAcrossTypes(t *testing.T) {
	typA := protocol.NewRoomType("a")
	typB := protocol.NewRoomType("b")
	rooms := &fakeRoomSet{}
	ev := &fakeListingEvents{}
	m := listing.New(rooms, ev, nil, time.Minute)

	hostA := newConn(1)
	roomA := room.New(1, typA, hostA, fakeRoomEvents{})
	roomA.SetConfiguration(true, false, 0, true)
	rooms.rooms = append(rooms.rooms, roomA)

	requesterA := newConn(2)
	m.Request(typA, requesterA, time.Now())
	ev.sent = nil // drain whatever the immediate/coalesced flush already produced

	requesterB := newConn(3)
	m.Request(typB, requesterB, time.Now())
	ev.sent = nil

	m.Shutdown()
	require.Len(t, ev.sent, 1, "only requesterA was still waiting when Shutdown ran")
	assert.Equal(t, requesterA, ev.sent[0].c)
	assert.Equal(t, typA, ev.sent[0].typ)
}

func TestForceRefreshStartsANewRefreshRegardlessOfState(t *testing.T) {
	typ := protocol.NewRoomType("t")
	rooms := &fakeRoomSet{}
	ev := &fakeListingEvents{}
	m := listing.New(rooms, ev, nil, time.Minute)

	m.ForceRefresh(typ)
	// ForceRefresh with no rooms and no pending requesters flushes an empty list to nobody.
	assert.Empty(t, ev.sent)
}
