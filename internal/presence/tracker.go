// Package presence derives global online state from connection transitions.
//
// A user becomes online with their first connection. When the last connection
// closes a grace timer starts; a reconnect before it fires cancels it so
// refreshes never flicker. Every flip is broadcast as a full snapshot and
// mirrored asynchronously to an optional Store.
package presence

import (
	"context"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Tyrowin/nexus-realtime/internal/events"
	"github.com/Tyrowin/nexus-realtime/internal/rooms"
)

// Lane orders presence snapshots relative to each other.
const Lane rooms.ID = "presence:global"

const (
	stripes      = 32
	mirrorBuffer = 1024
	storeTimeout = 2 * time.Second
)

// Counter reports how many live connections a user holds.
type Counter interface {
	Count(userID string) int
}

// Emitter is the subset of rooms.Manager used to publish snapshots.
type Emitter interface {
	BroadcastAll(lane rooms.ID, build func() (events.Name, any))
	Send(lane rooms.ID, connIDs []string, name events.Name, payload any)
}

type Tracker struct {
	counter Counter
	emitter Emitter
	store   Store
	grace   time.Duration
	log     *slog.Logger
	stripes []*stripe
	mirror  chan change
}

type stripe struct {
	mu     sync.Mutex
	online map[string]time.Time
	timers map[string]*pendingOffline
}

type pendingOffline struct {
	timer *time.Timer
}

type change struct {
	userID string
	online bool
	at     time.Time
}

// NewTracker builds a tracker. store may be nil. A grace of zero or less flips
// users offline as soon as their last connection closes.
func NewTracker(counter Counter, emitter Emitter, grace time.Duration, store Store, log *slog.Logger) *Tracker {
	t := &Tracker{
		counter: counter,
		emitter: emitter,
		store:   store,
		grace:   grace,
		log:     log,
		stripes: make([]*stripe, stripes),
		mirror:  make(chan change, mirrorBuffer),
	}
	for i := range t.stripes {
		t.stripes[i] = &stripe{
			online: make(map[string]time.Time),
			timers: make(map[string]*pendingOffline),
		}
	}
	return t
}

func (t *Tracker) stripe(userID string) *stripe {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return t.stripes[h.Sum32()%stripes]
}

// Connected records a new connection of userID. It must be called after the
// connection is registered.
func (t *Tracker) Connected(userID, connID string) {
	s := t.stripe(userID)

	s.mu.Lock()
	if p, pending := s.timers[userID]; pending {
		p.timer.Stop()
		delete(s.timers, userID)
		t.log.Debug("Reconnected within grace period", "user_id", userID)
	}
	_, wasOnline := s.online[userID]
	if !wasOnline {
		now := time.Now()
		s.online[userID] = now
		t.enqueue(change{userID: userID, online: true, at: now})
	}
	s.mu.Unlock()

	if wasOnline {
		t.emitter.Send(Lane, []string{connID}, events.OnlineUsersUpdate, t.Online())
		return
	}

	t.log.Info("User online", "user_id", userID)
	t.broadcast()
}

// Disconnected records the end of a connection. last reports whether it was
// the user's final connection.
func (t *Tracker) Disconnected(userID string, last bool) {
	if !last {
		return
	}
	if t.grace <= 0 {
		t.expire(userID, nil)
		return
	}

	s := t.stripe(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, pending := s.timers[userID]; pending {
		old.timer.Stop()
	}
	p := &pendingOffline{}
	p.timer = time.AfterFunc(t.grace, func() { t.expire(userID, p) })
	s.timers[userID] = p
}

func (t *Tracker) expire(userID string, p *pendingOffline) {
	s := t.stripe(userID)

	s.mu.Lock()
	if p != nil {
		if current := s.timers[userID]; current != p {
			s.mu.Unlock()
			return
		}
		delete(s.timers, userID)
	}
	if t.counter.Count(userID) > 0 {
		s.mu.Unlock()
		return
	}
	if _, online := s.online[userID]; !online {
		s.mu.Unlock()
		return
	}
	delete(s.online, userID)
	t.enqueue(change{userID: userID, online: false, at: time.Now()})
	s.mu.Unlock()

	t.log.Info("User offline", "user_id", userID)
	t.broadcast()
}

func (t *Tracker) broadcast() {
	t.emitter.BroadcastAll(Lane, func() (events.Name, any) {
		return events.OnlineUsersUpdate, t.Online()
	})
}

// enqueue queues a flip for the store. Callers hold the user's stripe lock so
// flips of one user reach the mirror in the order they happened.
func (t *Tracker) enqueue(c change) {
	if t.store == nil {
		return
	}
	select {
	case t.mirror <- c:
	default:
		t.log.Warn("Presence mirror saturated, dropping update", "user_id", c.userID)
	}
}

// Online returns the sorted ids of every online user.
func (t *Tracker) Online() []string {
	users := make([]string, 0)
	for _, s := range t.stripes {
		s.mu.Lock()
		for id := range s.online {
			users = append(users, id)
		}
		s.mu.Unlock()
	}
	slices.Sort(users)
	return users
}

func (t *Tracker) IsOnline(userID string) bool {
	s := t.stripe(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.online[userID]
	return ok
}

// Run mirrors presence flips to the store until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	if t.store == nil {
		<-ctx.Done()
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-t.mirror:
			t.write(ctx, c)
		}
	}
}

func (t *Tracker) write(ctx context.Context, c change) {
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	var err error
	if c.online {
		err = t.store.SetOnline(ctx, c.userID, c.at)
	} else {
		err = t.store.SetOffline(ctx, c.userID)
	}
	if err != nil {
		t.log.Warn("Failed to mirror presence", "user_id", c.userID, "online", c.online, "error", err)
	}
}

// Close cancels every pending grace timer.
func (t *Tracker) Close() {
	for _, s := range t.stripes {
		s.mu.Lock()
		for id, p := range s.timers {
			p.timer.Stop()
			delete(s.timers, id)
		}
		s.mu.Unlock()
	}
}
