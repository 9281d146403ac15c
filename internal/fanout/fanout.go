// Package fanout delivers committed messages to their rooms and maintains the
// per-recipient conversation summaries derived from them.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/nexus-realtime/internal/events"
	"github.com/Tyrowin/nexus-realtime/internal/rooms"
)

var ErrUnsupportedRoom = errors.New("messages can only target channel or conversation rooms")

const stripes = 32

// Rooms is the subset of rooms.Manager used for delivery.
type Rooms interface {
	Broadcast(room rooms.ID, name events.Name, payload any)
	SendUser(lane rooms.ID, userID string, name events.Name, payload any)
	AnyMember(room rooms.ID, connIDs []string) bool
}

// Directory resolves the live connections of a user.
type Directory interface {
	UserConnections(userID string) []string
}

// Typing evicts the author's typing record once their message lands.
type Typing interface {
	Evict(room rooms.ID, userID string) bool
}

type summary struct {
	lastMessageAt time.Time
	unread        map[string]int
}

type stripe struct {
	mu            sync.Mutex
	conversations map[string]*summary
}

type Fanout struct {
	rooms   Rooms
	dir     Directory
	typing  Typing
	log     *slog.Logger
	stripes []*stripe
}

func New(r Rooms, dir Directory, typing Typing, log *slog.Logger) *Fanout {
	f := &Fanout{rooms: r, dir: dir, typing: typing, log: log, stripes: make([]*stripe, stripes)}
	for i := range f.stripes {
		f.stripes[i] = &stripe{conversations: make(map[string]*summary)}
	}
	return f
}

func (f *Fanout) stripe(room rooms.ID) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(room))
	return f.stripes[h.Sum32()%stripes]
}

// Deliver publishes a committed message to room. For conversations it bumps
// the conversation for every recipient and counts it unread for recipients
// with no connection watching. The author's typing record is cleared in the
// same step. Deliver must be called once per message, in commit order.
func (f *Fanout) Deliver(ctx context.Context, msg events.Message, room rooms.ID, recipients []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := bind(msg, room)
	if err != nil {
		return err
	}

	s := f.stripe(room)
	s.mu.Lock()
	defer s.mu.Unlock()

	f.rooms.Broadcast(room, events.NewMessage, msg)

	if room.Kind() == rooms.KindConversation {
		sum := s.summary(room.Key())
		at := msg.CreatedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if at.After(sum.lastMessageAt) {
			sum.lastMessageAt = at
		}
		for _, userID := range lo.Uniq(recipients) {
			if userID != msg.AuthorID && !f.rooms.AnyMember(room, f.dir.UserConnections(userID)) {
				sum.unread[userID]++
			}
			f.rooms.SendUser(room, userID, events.ConversationBump, events.Bump{
				ID:            room.Key(),
				LastMessageAt: sum.lastMessageAt,
				UnreadCount:   sum.unread[userID],
			})
		}
	}

	f.typing.Evict(room, msg.AuthorID)
	f.log.Debug("Delivered message", "message_id", msg.ID, "room", room, "recipients", len(recipients))
	return nil
}

// Update relays an edited message to room.
func (f *Fanout) Update(ctx context.Context, msg events.Message, room rooms.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := bind(msg, room)
	if err != nil {
		return err
	}
	s := f.stripe(room)
	s.mu.Lock()
	defer s.mu.Unlock()
	f.rooms.Broadcast(room, events.MessageUpdated, msg)
	return nil
}

// Delete tells room that messageID is gone.
func (f *Fanout) Delete(ctx context.Context, messageID string, room rooms.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if messageID == "" {
		return fmt.Errorf("%w: missing message id", events.ErrInvalidPayload)
	}
	if !messageRoom(room) {
		return fmt.Errorf("%w: %s", ErrUnsupportedRoom, room)
	}
	del := events.MessageDeletion{ID: messageID, RoomID: string(room)}
	if room.Kind() == rooms.KindChannel {
		del.ChannelID = room.Key()
	} else {
		del.ConversationID = room.Key()
	}

	s := f.stripe(room)
	s.mu.Lock()
	defer s.mu.Unlock()
	f.rooms.Broadcast(room, events.MessageDeleted, del)
	return nil
}

// MarkRead resets userID's unread counter. When it was non-zero the user's
// connections receive a bump with the cleared count.
func (f *Fanout) MarkRead(conversationID, userID string) {
	room := rooms.Conversation(conversationID)
	s := f.stripe(room)
	s.mu.Lock()
	defer s.mu.Unlock()

	sum, ok := s.conversations[conversationID]
	if !ok || sum.unread[userID] == 0 {
		return
	}
	delete(sum.unread, userID)
	f.rooms.SendUser(room, userID, events.ConversationBump, events.Bump{
		ID:            conversationID,
		LastMessageAt: sum.lastMessageAt,
		UnreadCount:   0,
	})
}

func (f *Fanout) Unread(conversationID, userID string) int {
	s := f.stripe(rooms.Conversation(conversationID))
	s.mu.Lock()
	defer s.mu.Unlock()
	if sum, ok := s.conversations[conversationID]; ok {
		return sum.unread[userID]
	}
	return 0
}

// Summary returns the conversation as userID sees it.
func (f *Fanout) Summary(conversationID, userID string) (events.Bump, bool) {
	s := f.stripe(rooms.Conversation(conversationID))
	s.mu.Lock()
	defer s.mu.Unlock()
	sum, ok := s.conversations[conversationID]
	if !ok {
		return events.Bump{}, false
	}
	return events.Bump{ID: conversationID, LastMessageAt: sum.lastMessageAt, UnreadCount: sum.unread[userID]}, true
}

func (s *stripe) summary(conversationID string) *summary {
	sum, ok := s.conversations[conversationID]
	if !ok {
		sum = &summary{unread: make(map[string]int)}
		s.conversations[conversationID] = sum
	}
	return sum
}

func messageRoom(room rooms.ID) bool {
	k := room.Kind()
	return k == rooms.KindChannel || k == rooms.KindConversation
}

// bind validates msg and points it at room.
func bind(msg events.Message, room rooms.ID) (events.Message, error) {
	if !messageRoom(room) {
		return msg, fmt.Errorf("%w: %s", ErrUnsupportedRoom, room)
	}
	if err := events.Validate(msg); err != nil {
		return msg, err
	}
	switch room.Kind() {
	case rooms.KindChannel:
		if msg.ChannelID != "" && msg.ChannelID != room.Key() {
			return msg, fmt.Errorf("%w: message belongs to channel %s", events.ErrInvalidPayload, msg.ChannelID)
		}
		msg.ChannelID = room.Key()
	case rooms.KindConversation:
		if msg.ConversationID != "" && msg.ConversationID != room.Key() {
			return msg, fmt.Errorf("%w: message belongs to conversation %s", events.ErrInvalidPayload, msg.ConversationID)
		}
		msg.ConversationID = room.Key()
	}
	return msg, nil
}
