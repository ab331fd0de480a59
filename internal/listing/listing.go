// Package listing implements the per-type listing cache with coalesced
// refresh: concurrent callers asking for the same room type while a
// refresh is already running share its result instead of triggering
// one apiece. A mutex guards the cache entries and an internal/sched
// timer drives the periodic background refresh.
package listing

import (
	"sync"
	"time"

	"github.com/xpdustry/claj/internal/conn"
	"github.com/xpdustry/claj/internal/protocol"
	"github.com/xpdustry/claj/internal/room"
	"github.com/xpdustry/claj/internal/sched"
)

// Events delivers a flushed list to a waiting requester.
type Events interface {
	SendList(c *conn.Conn, typ protocol.RoomType, list protocol.RoomList)
}

// RoomSet answers "which rooms exist for this type", letting the cache
// drive per-room RequestState calls without owning room storage itself.
type RoomSet interface {
	RoomsOfType(typ protocol.RoomType) []*room.Room
}

type entry struct {
	mu         sync.Mutex
	states     map[uint64][]byte
	protected  map[uint64]struct{}
	requesting map[uint64]struct{}
	pending    []*conn.Conn
	lastUpdate time.Time
	refreshing bool
}

func newEntry() *entry {
	return &entry{
		states:     make(map[uint64][]byte),
		protected:  make(map[uint64]struct{}),
		requesting: make(map[uint64]struct{}),
	}
}

// Manager owns one entry per room type.
type Manager struct {
	mu      sync.Mutex
	byType  map[protocol.RoomType]*entry
	rooms   RoomSet
	events  Events
	sched   *sched.Scheduler
	timeout time.Duration // listTimeout
}

// New creates a listing Manager. listTimeout bounds how long a refresh
// may run before flushing best-effort.
func New(rooms RoomSet, events Events, scheduler *sched.Scheduler, listTimeout time.Duration) *Manager {
	return &Manager{
		byType:  make(map[protocol.RoomType]*entry),
		rooms:   rooms,
		events:  events,
		sched:   scheduler,
		timeout: listTimeout,
	}
}

func (m *Manager) entryFor(typ protocol.RoomType) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byType[typ]
	if !ok {
		e = newEntry()
		m.byType[typ] = e
	}
	return e
}

// Request handles a RoomListRequest: join the pending set and, if no
// refresh is already running, start one.
func (m *Manager) Request(typ protocol.RoomType, requester *conn.Conn, now time.Time) {
	e := m.entryFor(typ)
	e.mu.Lock()
	e.pending = append(e.pending, requester)
	alreadyRefreshing := e.refreshing
	e.mu.Unlock()

	if !alreadyRefreshing {
		m.refresh(typ, e, now)
	}
}

func (m *Manager) refresh(typ protocol.RoomType, e *entry, now time.Time) {
	e.mu.Lock()
	e.refreshing = true
	rooms := m.rooms.RoomsOfType(typ)
	for _, r := range rooms {
		if !r.ShouldRequestState() || !r.IsStateOutdated(now, m.timeout) {
			continue
		}
		if r.IsStateRequestTimedOut(now, m.timeout) || !e.hasRequesting(r.ID) {
			if r.RequestState(now, m.timeout) {
				e.requesting[r.ID] = struct{}{}
			}
		}
	}
	empty := len(e.requesting) == 0
	e.mu.Unlock()

	if empty {
		m.flush(typ, e)
		return
	}
	if m.sched != nil {
		m.sched.After(sched.Key{ID: typeKey(typ), Kind: "listTimeout"}, m.timeout, func() {
			m.flush(typ, e)
		})
	}
}

func (e *entry) hasRequesting(id uint64) bool {
	_, ok := e.requesting[id]
	return ok
}

// flush sends the current cached state to every pending requester and
// clears the pending set. Called either because `requesting` drained
// naturally or because the watchdog fired.
func (m *Manager) flush(typ protocol.RoomType, e *entry) {
	e.mu.Lock()
	pending := e.pending
	e.pending = nil
	e.refreshing = false
	e.requesting = make(map[uint64]struct{})
	e.lastUpdate = time.Now()

	states := make(map[uint64][]byte, len(e.states))
	for id, s := range e.states {
		states[id] = s
	}
	protected := make(map[uint64]struct{}, len(e.protected))
	for id := range e.protected {
		protected[id] = struct{}{}
	}
	e.mu.Unlock()

	if m.sched != nil {
		m.sched.Cancel(sched.Key{ID: typeKey(typ), Kind: "listTimeout"})
	}

	list := protocol.RoomList{States: states, ProtectedRooms: protected}
	for _, c := range pending {
		m.events.SendList(c, typ, list)
	}
}

// OnConfigChanged applies a room's latest visibility/protection to the
// cache.
func (m *Manager) OnConfigChanged(r *room.Room) {
	e := m.entryFor(r.Type)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !r.IsPublic() {
		delete(e.states, r.ID)
		delete(e.protected, r.ID)
		return
	}
	e.states[r.ID] = r.RawState()
	if r.IsProtected() {
		e.protected[r.ID] = struct{}{}
	} else {
		delete(e.protected, r.ID)
	}
}

// OnStateChanged upserts a room's fresh state and, if it was the last
// one the current refresh was waiting on, flushes immediately.
func (m *Manager) OnStateChanged(r *room.Room) {
	e := m.entryFor(r.Type)
	e.mu.Lock()
	if r.IsPublic() {
		e.states[r.ID] = r.RawState()
	}
	delete(e.requesting, r.ID)
	drained := e.refreshing && len(e.requesting) == 0
	e.mu.Unlock()

	if drained {
		m.flush(r.Type, e)
	}
}

// RemoveRoom drops a closed room from its type's cache entry, deleting
// the entry entirely once it held the last room of that type.
func (m *Manager) RemoveRoom(typ protocol.RoomType, id uint64) {
	m.mu.Lock()
	e, ok := m.byType[typ]
	if !ok {
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	e.mu.Lock()
	delete(e.states, id)
	delete(e.protected, id)
	delete(e.requesting, id)
	empty := len(e.states) == 0 && len(e.pending) == 0
	e.mu.Unlock()

	if empty {
		m.mu.Lock()
		delete(m.byType, typ)
		m.mu.Unlock()
	}
}

// Shutdown flushes every pending requester across every type with
// whatever is currently cached, never leaving anyone waiting.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	types := make([]protocol.RoomType, 0, len(m.byType))
	entries := make([]*entry, 0, len(m.byType))
	for t, e := range m.byType {
		types = append(types, t)
		entries = append(entries, e)
	}
	m.mu.Unlock()

	for i, e := range entries {
		m.flush(types[i], e)
	}
}

// ForceRefresh starts a fresh refresh for typ regardless of whether one
// is already running, for the console's `refresh list <type>` command.
func (m *Manager) ForceRefresh(typ protocol.RoomType) {
	e := m.entryFor(typ)
	m.refresh(typ, e, time.Now())
}

func typeKey(typ protocol.RoomType) uint64 {
	var k uint64
	for i, b := range typ {
		k |= uint64(b) << (8 * (i % 8))
	}
	return k
}
