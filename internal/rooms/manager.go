// Package rooms manages topic subscriptions and ordered broadcast.
//
// Membership is a set of connection ids per room, created lazily and dropped
// when the last member leaves. Every emission runs on the dispatch lane owned by
// its room so subscribers observe a room's events in submission order.
package rooms

import (
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/Tyrowin/nexus-realtime/internal/dispatch"
	"github.com/Tyrowin/nexus-realtime/internal/registry"
)

const stripes = 64

// Directory resolves connection ids to live peers.
type Directory interface {
	Lookup(connID string) (registry.Peer, bool)
	UserConnections(userID string) []string
	Each(fn func(registry.Peer))
}

type Manager struct {
	dir   Directory
	exec  dispatch.Executor
	log   *slog.Logger
	rooms []*roomStripe
	conns []*connStripe
}

type roomStripe struct {
	mu      sync.RWMutex
	members map[ID]map[string]struct{}
}

type connStripe struct {
	mu     sync.Mutex
	joined map[string]map[ID]struct{}
}

func NewManager(dir Directory, exec dispatch.Executor, log *slog.Logger) *Manager {
	m := &Manager{
		dir:   dir,
		exec:  exec,
		log:   log,
		rooms: make([]*roomStripe, stripes),
		conns: make([]*connStripe, stripes),
	}
	for i := 0; i < stripes; i++ {
		m.rooms[i] = &roomStripe{members: make(map[ID]map[string]struct{})}
		m.conns[i] = &connStripe{joined: make(map[string]map[ID]struct{})}
	}
	return m
}

func index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % stripes)
}

func (m *Manager) roomStripe(room ID) *roomStripe { return m.rooms[index(string(room))] }
func (m *Manager) connStripe(connID string) *connStripe {
	return m.conns[index(connID)]
}

// Join subscribes connID to room and reports whether it was not already a member.
func (m *Manager) Join(connID string, room ID) bool {
	cs := m.connStripe(connID)
	rs := m.roomStripe(room)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	rs.mu.Lock()
	set, ok := rs.members[room]
	if !ok {
		set = make(map[string]struct{})
		rs.members[room] = set
	}
	_, already := set[connID]
	set[connID] = struct{}{}
	rs.mu.Unlock()

	joined, ok := cs.joined[connID]
	if !ok {
		joined = make(map[ID]struct{})
		cs.joined[connID] = joined
	}
	joined[room] = struct{}{}

	if !already {
		m.log.Debug("Connection joined room", "conn_id", connID, "room", room)
	}
	return !already
}

// Leave unsubscribes connID from room and reports whether it was a member.
func (m *Manager) Leave(connID string, room ID) bool {
	cs := m.connStripe(connID)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	if joined, ok := cs.joined[connID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(cs.joined, connID)
		}
	}
	return m.removeMember(connID, room)
}

// LeaveAll drops every subscription of connID and returns the rooms it left.
func (m *Manager) LeaveAll(connID string) []ID {
	cs := m.connStripe(connID)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	joined := cs.joined[connID]
	delete(cs.joined, connID)

	left := make([]ID, 0, len(joined))
	for room := range joined {
		if m.removeMember(connID, room) {
			left = append(left, room)
		}
	}
	return left
}

func (m *Manager) removeMember(connID string, room ID) bool {
	rs := m.roomStripe(room)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	set, ok := rs.members[room]
	if !ok {
		return false
	}
	if _, member := set[connID]; !member {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(rs.members, room)
	}
	return true
}

// Members returns the connection ids currently subscribed to room.
func (m *Manager) Members(room ID) []string {
	rs := m.roomStripe(room)
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	set := rs.members[room]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) IsMember(room ID, connID string) bool {
	rs := m.roomStripe(room)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok := rs.members[room][connID]
	return ok
}

// AnyMember reports whether at least one of connIDs is subscribed to room.
func (m *Manager) AnyMember(room ID, connIDs []string) bool {
	rs := m.roomStripe(room)
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	set := rs.members[room]
	for _, id := range connIDs {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// Rooms returns the rooms connID is subscribed to.
func (m *Manager) Rooms(connID string) []ID {
	cs := m.connStripe(connID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	joined := cs.joined[connID]
	ids := make([]ID, 0, len(joined))
	for id := range joined {
		ids = append(ids, id)
	}
	return ids
}
