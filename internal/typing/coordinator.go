// Package typing keeps short-lived "is typing" records per room.
//
// Each record expires a fixed TTL after its last refresh. A periodic sweep
// removes expired records and tells the room the user stopped typing, so a
// client that vanishes mid-sentence never leaves a stuck indicator behind.
package typing

import (
	"context"
	"hash/fnv"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/nexus-realtime/internal/events"
	"github.com/Tyrowin/nexus-realtime/internal/rooms"
)

const (
	DefaultTTL           = 12 * time.Second
	DefaultSweepInterval = 2 * time.Second

	stripes = 32
)

// Broadcaster is the subset of rooms.Manager used to emit typing updates.
type Broadcaster interface {
	Broadcast(room rooms.ID, name events.Name, payload any)
	BroadcastExcept(room rooms.ID, exceptConn string, name events.Name, payload any)
}

type entry struct {
	connID    string
	username  string
	expiresAt time.Time
}

type stripe struct {
	mu    sync.Mutex
	rooms map[rooms.ID]map[string]*entry
}

type Coordinator struct {
	out     Broadcaster
	ttl     time.Duration
	every   time.Duration
	now     func() time.Time
	log     *slog.Logger
	stripes []*stripe
}

type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator builds a coordinator. Non-positive durations fall back to the
// defaults.
func NewCoordinator(out Broadcaster, ttl, sweepEvery time.Duration, log *slog.Logger, opts ...Option) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepEvery <= 0 {
		sweepEvery = DefaultSweepInterval
	}
	c := &Coordinator{
		out:     out,
		ttl:     ttl,
		every:   sweepEvery,
		now:     time.Now,
		log:     log,
		stripes: make([]*stripe, stripes),
	}
	for i := range c.stripes {
		c.stripes[i] = &stripe{rooms: make(map[rooms.ID]map[string]*entry)}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) stripe(room rooms.ID) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room))
	return c.stripes[h.Sum32()%stripes]
}

// Set applies a typing signal from connID. A true signal creates or refreshes
// the record; a false one removes a live record. Both are relayed to the room
// except the sending connection.
func (c *Coordinator) Set(room rooms.ID, connID, userID, username string, isTyping bool) {
	s := c.stripe(room)
	s.mu.Lock()
	defer s.mu.Unlock()

	users := s.rooms[room]
	if isTyping {
		if users == nil {
			users = make(map[string]*entry)
			s.rooms[room] = users
		}
		users[userID] = &entry{connID: connID, username: username, expiresAt: c.now().Add(c.ttl)}
		c.out.BroadcastExcept(room, connID, events.UserTyping, update(room, userID, username, true))
		return
	}

	e, ok := users[userID]
	if !ok {
		return
	}
	s.remove(room, userID)
	c.out.BroadcastExcept(room, connID, events.UserTyping, update(room, userID, e.username, false))
}

// Evict clears userID's record in room, typically because the user just sent
// a message there. It reports whether a record existed.
func (c *Coordinator) Evict(room rooms.ID, userID string) bool {
	s := c.stripe(room)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.rooms[room][userID]
	if !ok {
		return false
	}
	s.remove(room, userID)
	c.out.Broadcast(room, events.UserTyping, update(room, userID, e.username, false))
	return true
}

// Snapshot lists the users currently typing in room, sorted by id, without
// excludeUser.
func (c *Coordinator) Snapshot(room rooms.ID, excludeUser string) []events.TypingUser {
	s := c.stripe(room)
	s.mu.Lock()
	defer s.mu.Unlock()

	now := c.now()
	users := make([]events.TypingUser, 0, len(s.rooms[room]))
	for id, e := range s.rooms[room] {
		if id == excludeUser || !now.Before(e.expiresAt) {
			continue
		}
		users = append(users, events.TypingUser{UserID: id, Username: e.username})
	}
	slices.SortFunc(users, func(a, b events.TypingUser) int { return strings.Compare(a.UserID, b.UserID) })
	return users
}

// SnapshotEvent wraps Snapshot into the typing_state_snapshot payload.
func (c *Coordinator) SnapshotEvent(room rooms.ID, excludeUser string) events.TypingSnapshot {
	channelID, conversationID := roomFields(room)
	return events.TypingSnapshot{
		RoomID:         string(room),
		ChannelID:      channelID,
		ConversationID: conversationID,
		Users:          c.Snapshot(room, excludeUser),
	}
}

// Sweep removes every expired record and returns how many it removed.
func (c *Coordinator) Sweep() int {
	removed := 0
	for _, s := range c.stripes {
		s.mu.Lock()
		now := c.now()
		for room, users := range s.rooms {
			for id, e := range users {
				if now.Before(e.expiresAt) {
					continue
				}
				s.remove(room, id)
				removed++
				c.out.Broadcast(room, events.UserTyping, update(room, id, e.username, false))
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		c.log.Debug("Swept expired typing records", "count", removed)
	}
	return removed
}

// DropConnection clears every record owned by connID.
func (c *Coordinator) DropConnection(connID string) {
	for _, s := range c.stripes {
		s.mu.Lock()
		for room, users := range s.rooms {
			owned := lo.PickBy(users, func(_ string, e *entry) bool { return e.connID == connID })
			for id, e := range owned {
				s.remove(room, id)
				c.out.Broadcast(room, events.UserTyping, update(room, id, e.username, false))
			}
		}
		s.mu.Unlock()
	}
}

// DropRoomConnection clears the record connID owns in room, used when the
// connection unsubscribes. It reports whether a record was removed.
func (c *Coordinator) DropRoomConnection(room rooms.ID, connID string) bool {
	s := c.stripe(room)
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := lo.PickBy(s.rooms[room], func(_ string, e *entry) bool { return e.connID == connID })
	for id, e := range owned {
		s.remove(room, id)
		c.out.Broadcast(room, events.UserTyping, update(room, id, e.username, false))
	}
	return len(owned) > 0
}

// Run sweeps on a ticker until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (s *stripe) remove(room rooms.ID, userID string) {
	delete(s.rooms[room], userID)
	if len(s.rooms[room]) == 0 {
		delete(s.rooms, room)
	}
}

func update(room rooms.ID, userID, username string, isTyping bool) events.TypingUpdate {
	channelID, conversationID := roomFields(room)
	return events.TypingUpdate{
		UserID:         userID,
		Username:       username,
		RoomID:         string(room),
		ChannelID:      channelID,
		ConversationID: conversationID,
		IsTyping:       isTyping,
	}
}

func roomFields(room rooms.ID) (channelID, conversationID string) {
	switch room.Kind() {
	case rooms.KindChannel:
		return room.Key(), ""
	case rooms.KindConversation:
		return "", room.Key()
	}
	return "", ""
}
