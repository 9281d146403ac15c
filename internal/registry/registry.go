// Package registry tracks the live connections of every user.
//
// A user may hold several connections at once (tabs, devices). The registry is
// lock-striped by user id and by connection id so unrelated users never contend
// on the same mutex.
package registry

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 64

// Peer is a live connection able to receive encoded frames.
type Peer interface {
	ID() string
	UserID() string
	// Send queues frame without blocking and reports whether it was accepted.
	Send(frame []byte) bool
}

// Registry maps users to their connections.
type Registry struct {
	users []*userStripe
	conns []*connStripe
}

type userStripe struct {
	mu    sync.RWMutex
	users map[string]map[string]Peer
}

type connStripe struct {
	mu    sync.RWMutex
	conns map[string]Peer
}

func New() *Registry {
	r := &Registry{
		users: make([]*userStripe, defaultStripes),
		conns: make([]*connStripe, defaultStripes),
	}
	for i := 0; i < defaultStripes; i++ {
		r.users[i] = &userStripe{users: make(map[string]map[string]Peer)}
		r.conns[i] = &connStripe{conns: make(map[string]Peer)}
	}
	return r
}

func stripe(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func (r *Registry) userStripe(userID string) *userStripe {
	return r.users[stripe(userID, len(r.users))]
}

func (r *Registry) connStripe(connID string) *connStripe {
	return r.conns[stripe(connID, len(r.conns))]
}

// Register adds peer and reports whether it is the first connection of its user.
// Registering an id twice replaces the previous peer.
func (r *Registry) Register(peer Peer) (first bool) {
	us := r.userStripe(peer.UserID())
	cs := r.connStripe(peer.ID())

	us.mu.Lock()
	defer us.mu.Unlock()

	set, ok := us.users[peer.UserID()]
	if !ok {
		set = make(map[string]Peer)
		us.users[peer.UserID()] = set
	}
	first = len(set) == 0
	set[peer.ID()] = peer

	cs.mu.Lock()
	cs.conns[peer.ID()] = peer
	cs.mu.Unlock()

	return first
}

// Unregister removes the connection. It returns the owning user and whether the
// user has no connection left. Unknown ids return ok == false and change nothing.
func (r *Registry) Unregister(connID string) (userID string, last bool, ok bool) {
	cs := r.connStripe(connID)

	cs.mu.RLock()
	peer, found := cs.conns[connID]
	cs.mu.RUnlock()
	if !found {
		return "", false, false
	}

	userID = peer.UserID()
	us := r.userStripe(userID)

	us.mu.Lock()
	defer us.mu.Unlock()

	cs.mu.Lock()
	current, still := cs.conns[connID]
	if !still || current != peer {
		cs.mu.Unlock()
		return "", false, false
	}
	delete(cs.conns, connID)
	cs.mu.Unlock()

	set := us.users[userID]
	delete(set, connID)
	if len(set) == 0 {
		delete(us.users, userID)
		last = true
	}
	return userID, last, true
}

// Lookup returns the peer registered under connID.
func (r *Registry) Lookup(connID string) (Peer, bool) {
	cs := r.connStripe(connID)
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	peer, ok := cs.conns[connID]
	return peer, ok
}

// UserConnections returns the ids of every connection held by userID.
func (r *Registry) UserConnections(userID string) []string {
	us := r.userStripe(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()

	set := us.users[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live connections of userID.
func (r *Registry) Count(userID string) int {
	us := r.userStripe(userID)
	us.mu.RLock()
	defer us.mu.RUnlock()
	return len(us.users[userID])
}

// Each calls fn for every registered peer. fn runs outside of any registry lock.
func (r *Registry) Each(fn func(Peer)) {
	for _, cs := range r.conns {
		cs.mu.RLock()
		peers := make([]Peer, 0, len(cs.conns))
		for _, p := range cs.conns {
			peers = append(peers, p)
		}
		cs.mu.RUnlock()

		for _, p := range peers {
			fn(p)
		}
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	n := 0
	for _, cs := range r.conns {
		cs.mu.RLock()
		n += len(cs.conns)
		cs.mu.RUnlock()
	}
	return n
}
