// Package voice tracks who sits in which voice channel and relays WebRTC
// signaling between peers of the same channel. Media never passes through
// here; the hub only forwards opaque signals in a full mesh.
package voice

import (
	"cmp"
	"errors"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/nexus-realtime/internal/events"
	"github.com/Tyrowin/nexus-realtime/internal/rooms"
)

var (
	ErrChannelFull  = errors.New("voice channel is full")
	ErrNotInVoice   = errors.New("not in a voice channel")
	ErrPeerNotFound = errors.New("peer is not in the caller's voice channel")
)

const (
	DefaultMaxPeers = 4

	stripes = 32
)

// Emitter is the subset of rooms.Manager used to reach peers.
type Emitter interface {
	Send(lane rooms.ID, connIDs []string, name events.Name, payload any)
}

// PeerMeta is what the hub keeps about a user sitting in a channel.
type PeerMeta struct {
	ConnID   string
	JoinedAt time.Time
}

type Participant struct {
	UserID   string    `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

type userStripe struct {
	mu      sync.Mutex
	channel map[string]string
}

type channelStripe struct {
	mu    sync.Mutex
	peers map[string]map[string]PeerMeta
}

type Hub struct {
	out      Emitter
	maxPeers int
	log      *slog.Logger
	users    []*userStripe
	channels []*channelStripe
}

// NewHub builds a hub. maxPeers of zero or less means unlimited.
func NewHub(out Emitter, maxPeers int, log *slog.Logger) *Hub {
	h := &Hub{
		out:      out,
		maxPeers: maxPeers,
		log:      log,
		users:    make([]*userStripe, stripes),
		channels: make([]*channelStripe, stripes),
	}
	for i := 0; i < stripes; i++ {
		h.users[i] = &userStripe{channel: make(map[string]string)}
		h.channels[i] = &channelStripe{peers: make(map[string]map[string]PeerMeta)}
	}
	return h
}

func index(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % stripes
}

func (h *Hub) userStripe(userID string) *userStripe {
	return h.users[index(userID)]
}

func (h *Hub) channelStripe(channelID string) *channelStripe {
	return h.channels[index(channelID)]
}

// lockChannels locks the stripes of a and b in index order. An empty id is
// ignored.
func (h *Hub) lockChannels(a, b string) func() {
	ids := lo.Uniq(lo.Compact([]uint32{lockIndex(a), lockIndex(b)}))
	slices.Sort(ids)
	for _, i := range ids {
		h.channels[i-1].mu.Lock()
	}
	return func() {
		for _, i := range slices.Backward(ids) {
			h.channels[i-1].mu.Unlock()
		}
	}
}

// lockIndex is the stripe index plus one so zero can mean "none".
func lockIndex(channelID string) uint32 {
	if channelID == "" {
		return 0
	}
	return index(channelID) + 1
}

// Join seats userID in channelID on connection connID. A user already in a
// channel, this one included, leaves it first. The joining connection receives
// the ids of the peers already seated, in join order.
func (h *Hub) Join(userID, connID, channelID string) error {
	us := h.userStripe(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	prev, inVoice := us.channel[userID]
	unlock := h.lockChannels(prev, channelID)
	defer unlock()

	cs := h.channelStripe(channelID)
	seated := cs.peers[channelID]
	rejoin := inVoice && prev == channelID
	if h.maxPeers > 0 && !rejoin && len(seated) >= h.maxPeers {
		h.log.Debug("Voice channel full", "channel_id", channelID, "user_id", userID)
		h.out.Send(rooms.Voice(channelID), []string{connID}, events.RoomFull, events.VoiceRoomFull{ChannelID: channelID})
		return ErrChannelFull
	}

	if inVoice {
		h.removePeer(prev, userID)
		h.log.Debug("Implicit voice leave", "channel_id", prev, "user_id", userID)
	}

	seated = cs.peers[channelID]
	existing := participants(seated)
	if seated == nil {
		seated = make(map[string]PeerMeta)
		cs.peers[channelID] = seated
	}
	seated[userID] = PeerMeta{ConnID: connID, JoinedAt: time.Now()}
	us.channel[userID] = channelID

	ids := lo.Map(existing, func(p Participant, _ int) string { return p.UserID })
	h.out.Send(rooms.Voice(channelID), []string{connID}, events.AllUsersInRoom, ids)
	h.log.Info("User joined voice", "channel_id", channelID, "user_id", userID, "peers", len(seated))
	return nil
}

// Leave removes userID from its voice channel. A non-empty connID only leaves
// when it is the connection that joined, so closing another tab keeps the call.
func (h *Hub) Leave(userID, connID string) bool {
	us := h.userStripe(userID)
	us.mu.Lock()
	defer us.mu.Unlock()

	channelID, ok := us.channel[userID]
	if !ok {
		return false
	}
	cs := h.channelStripe(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if meta := cs.peers[channelID][userID]; connID != "" && meta.ConnID != connID {
		return false
	}
	h.removePeer(channelID, userID)
	delete(us.channel, userID)
	h.log.Info("User left voice", "channel_id", channelID, "user_id", userID)
	return true
}

// removePeer drops userID from channelID and tells the remaining peers. The
// channel stripe must be held.
func (h *Hub) removePeer(channelID, userID string) {
	cs := h.channelStripe(channelID)
	seated := cs.peers[channelID]
	if _, ok := seated[userID]; !ok {
		return
	}
	delete(seated, userID)
	if len(seated) == 0 {
		delete(cs.peers, channelID)
		return
	}
	h.out.Send(rooms.Voice(channelID), connections(seated), events.UserLeftVoice, userID)
}

// Signal relays an offer from fromUser to targetUser as user_joined_voice.
func (h *Hub) Signal(fromUser, fromConn, targetUser string, signal []byte) error {
	return h.relay(fromUser, fromConn, targetUser, func(channelID, connID string) {
		h.out.Send(rooms.Voice(channelID), []string{connID}, events.UserJoinedVoice,
			events.VoiceOffer{Signal: signal, CallerID: fromUser})
	})
}

// ReturnSignal relays an answer from fromUser back to the caller as
// receiving_returned_signal.
func (h *Hub) ReturnSignal(fromUser, fromConn, callerUser string, signal []byte) error {
	return h.relay(fromUser, fromConn, callerUser, func(channelID, connID string) {
		h.out.Send(rooms.Voice(channelID), []string{connID}, events.ReceivingReturnedSignal,
			events.VoiceAnswer{Signal: signal, ID: fromUser})
	})
}

func (h *Hub) relay(fromUser, fromConn, targetUser string, emit func(channelID, connID string)) error {
	us := h.userStripe(fromUser)
	us.mu.Lock()
	defer us.mu.Unlock()

	channelID, ok := us.channel[fromUser]
	if !ok {
		return ErrNotInVoice
	}
	cs := h.channelStripe(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	seated := cs.peers[channelID]
	if seated[fromUser].ConnID != fromConn {
		return ErrNotInVoice
	}
	target, ok := seated[targetUser]
	if !ok || targetUser == fromUser {
		h.log.Debug("Dropping signal for unknown peer", "channel_id", channelID, "from", fromUser, "to", targetUser)
		return ErrPeerNotFound
	}
	emit(channelID, target.ConnID)
	return nil
}

// Roster lists the peers of channelID in join order.
func (h *Hub) Roster(channelID string) []Participant {
	cs := h.channelStripe(channelID)
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return participants(cs.peers[channelID])
}

// ChannelOf returns the channel userID sits in.
func (h *Hub) ChannelOf(userID string) (string, bool) {
	us := h.userStripe(userID)
	us.mu.Lock()
	defer us.mu.Unlock()
	channelID, ok := us.channel[userID]
	return channelID, ok
}

func participants(seated map[string]PeerMeta) []Participant {
	out := make([]Participant, 0, len(seated))
	for id, meta := range seated {
		out = append(out, Participant{UserID: id, JoinedAt: meta.JoinedAt})
	}
	slices.SortFunc(out, func(a, b Participant) int {
		if c := a.JoinedAt.Compare(b.JoinedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.UserID, b.UserID)
	})
	return out
}

func connections(seated map[string]PeerMeta) []string {
	conns := lo.MapToSlice(seated, func(_ string, meta PeerMeta) string { return meta.ConnID })
	slices.Sort(conns)
	return conns
}
