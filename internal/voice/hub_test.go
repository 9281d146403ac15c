package voice

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-realtime/internal/dispatch"
	"github.com/Tyrowin/nexus-realtime/internal/events"
	"github.com/Tyrowin/nexus-realtime/internal/registry"
	"github.com/Tyrowin/nexus-realtime/internal/rooms"
	"github.com/Tyrowin/nexus-realtime/internal/testkit"
)

type fixture struct {
	reg *registry.Registry
	hub *Hub
}

func newFixture(maxPeers int) *fixture {
	reg := registry.New()
	m := rooms.NewManager(reg, dispatch.Inline{}, testkit.Logger())
	return &fixture{reg: reg, hub: NewHub(m, maxPeers, testkit.Logger())}
}

func (f *fixture) connect(connID, userID string) *testkit.Peer {
	p := testkit.NewPeer(connID, userID)
	f.reg.Register(p)
	return p
}

func roster(ps []Participant) []string {
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.UserID
	}
	return ids
}

func TestHub_JoinSignalReturnLeave(t *testing.T) {
	req := require.New(t)
	f := newFixture(DefaultMaxPeers)
	a := f.connect("ca", "a")
	b := f.connect("cb", "b")

	// Given A sits alone in the channel
	req.NoError(f.hub.Join("a", "ca", "v1"))
	req.Equal([][]string{{}}, testkit.Payloads[[]string](a, events.AllUsersInRoom))

	// When B joins
	req.NoError(f.hub.Join("b", "cb", "v1"))

	// Then B learns about A and A hears nothing yet
	req.Equal([][]string{{"a"}}, testkit.Payloads[[]string](b, events.AllUsersInRoom))
	req.Len(a.Names(), 1)

	// When B offers to A, the offer carries B as caller
	req.NoError(f.hub.Signal("b", "cb", "a", json.RawMessage(`{"sdp":"offer"}`)))
	offers := testkit.Payloads[events.VoiceOffer](a, events.UserJoinedVoice)
	req.Len(offers, 1)
	req.Equal("b", offers[0].CallerID)
	req.JSONEq(`{"sdp":"offer"}`, string(offers[0].Signal))

	// And A's answer reaches B tagged with A's id
	req.NoError(f.hub.ReturnSignal("a", "ca", "b", json.RawMessage(`{"sdp":"answer"}`)))
	answers := testkit.Payloads[events.VoiceAnswer](b, events.ReceivingReturnedSignal)
	req.Len(answers, 1)
	req.Equal("a", answers[0].ID)

	// When A leaves, B is told
	req.True(f.hub.Leave("a", "ca"))
	req.Equal([]string{"a"}, testkit.Payloads[string](b, events.UserLeftVoice))
	req.Equal([]string{"b"}, roster(f.hub.Roster("v1")))
	_, ok := f.hub.ChannelOf("a")
	req.False(ok)
}

func TestHub_JoinOtherChannelLeavesFirst(t *testing.T) {
	req := require.New(t)
	f := newFixture(0)
	f.connect("ca", "a")
	b := f.connect("cb", "b")
	req.NoError(f.hub.Join("a", "ca", "v1"))
	req.NoError(f.hub.Join("b", "cb", "v1"))

	req.NoError(f.hub.Join("a", "ca", "v2"))

	ch, ok := f.hub.ChannelOf("a")
	req.True(ok)
	req.Equal("v2", ch)
	req.Equal([]string{"b"}, roster(f.hub.Roster("v1")))
	req.Equal([]string{"a"}, roster(f.hub.Roster("v2")))
	req.Equal([]string{"a"}, testkit.Payloads[string](b, events.UserLeftVoice))
}

func TestHub_DuplicateJoinRejoins(t *testing.T) {
	req := require.New(t)
	f := newFixture(2)
	f.connect("ca", "a")
	b := f.connect("cb", "b")
	req.NoError(f.hub.Join("a", "ca", "v1"))
	req.NoError(f.hub.Join("b", "cb", "v1"))

	// A full channel still accepts a rejoin from a seated user
	req.NoError(f.hub.Join("a", "ca2", "v1"))

	req.Equal([]string{"b", "a"}, roster(f.hub.Roster("v1")))
	req.Equal([]string{"a"}, testkit.Payloads[string](b, events.UserLeftVoice))
}

func TestHub_ChannelFull(t *testing.T) {
	req := require.New(t)
	f := newFixture(2)
	f.connect("ca", "a")
	f.connect("cb", "b")
	c := f.connect("cc", "c")
	req.NoError(f.hub.Join("a", "ca", "v1"))
	req.NoError(f.hub.Join("b", "cb", "v1"))
	req.NoError(f.hub.Join("c", "cc", "v2"))

	err := f.hub.Join("c", "cc", "v1")

	req.ErrorIs(err, ErrChannelFull)
	req.Equal([]events.VoiceRoomFull{{ChannelID: "v1"}}, testkit.Payloads[events.VoiceRoomFull](c, events.RoomFull))
	// c keeps its previous seat
	ch, _ := f.hub.ChannelOf("c")
	req.Equal("v2", ch)
}

func TestHub_RelayStaysInsideChannel(t *testing.T) {
	req := require.New(t)
	f := newFixture(0)
	f.connect("ca", "a")
	outsider := f.connect("cx", "x")
	req.NoError(f.hub.Join("a", "ca", "v1"))
	req.NoError(f.hub.Join("x", "cx", "v2"))

	req.ErrorIs(f.hub.Signal("a", "ca", "x", json.RawMessage(`{}`)), ErrPeerNotFound)
	req.ErrorIs(f.hub.Signal("a", "ca", "ghost", json.RawMessage(`{}`)), ErrPeerNotFound)
	req.ErrorIs(f.hub.Signal("nobody", "cn", "a", json.RawMessage(`{}`)), ErrNotInVoice)
	// A second tab of a seated user cannot speak for the seat
	req.ErrorIs(f.hub.Signal("a", "other-tab", "x", json.RawMessage(`{}`)), ErrNotInVoice)
	req.Zero(outsider.Count(events.UserJoinedVoice))
}

func TestHub_StaleTargetDropped(t *testing.T) {
	req := require.New(t)
	f := newFixture(0)
	f.connect("ca", "a")
	req.NoError(f.hub.Join("a", "ca", "v1"))
	// b is seated but its connection is already gone from the registry
	req.NoError(f.hub.Join("b", "cb", "v1"))

	req.NoError(f.hub.Signal("a", "ca", "b", json.RawMessage(`{}`)))
}

func TestHub_LeaveFromOtherConnectionIgnored(t *testing.T) {
	req := require.New(t)
	f := newFixture(0)
	req.NoError(f.hub.Join("a", "tab1", "v1"))

	req.False(f.hub.Leave("a", "tab2"))
	req.Equal([]string{"a"}, roster(f.hub.Roster("v1")))

	req.True(f.hub.Leave("a", ""))
	req.False(f.hub.Leave("a", ""))
	req.Empty(f.hub.Roster("v1"))
}
