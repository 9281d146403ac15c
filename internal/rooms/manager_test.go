package rooms

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/nexus-realtime/internal/dispatch"
	"github.com/Tyrowin/nexus-realtime/internal/events"
	"github.com/Tyrowin/nexus-realtime/internal/registry"
	"github.com/Tyrowin/nexus-realtime/internal/testkit"
)

func setup(exec dispatch.Executor) (*registry.Registry, *Manager) {
	reg := registry.New()
	return reg, NewManager(reg, exec, testkit.Logger())
}

func connect(reg *registry.Registry, id, user string) *testkit.Peer {
	p := testkit.NewPeer(id, user)
	reg.Register(p)
	return p
}

func data(p *testkit.Peer) []string {
	frames := p.Frames()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = string(f.Data)
	}
	return out
}

func TestParse(t *testing.T) {
	req := require.New(t)

	id, err := Parse("channel:42")
	req.NoError(err)
	req.Equal(Channel("42"), id)
	req.Equal(KindChannel, id.Kind())
	req.Equal("42", id.Key())

	for _, bad := range []string{"", "channel", "channel:", "galaxy:1"} {
		_, err := Parse(bad)
		req.ErrorIs(err, ErrInvalidRoom, bad)
	}
}

func TestManager_JoinLeave(t *testing.T) {
	req := require.New(t)
	_, m := setup(dispatch.Inline{})

	// Given a connection joins a server room twice
	req.True(m.Join("c1", Server("s1")))
	req.False(m.Join("c1", Server("s1")))

	// Then it is a member once
	req.Equal([]string{"c1"}, m.Members(Server("s1")))
	req.True(m.IsMember(Server("s1"), "c1"))

	// And server membership does not imply channel membership
	req.False(m.IsMember(Channel("general"), "c1"))

	// When it leaves, the room is dropped
	req.True(m.Leave("c1", Server("s1")))
	req.False(m.Leave("c1", Server("s1")))
	req.Empty(m.Members(Server("s1")))
	req.Empty(m.Rooms("c1"))
}

func TestManager_LeaveAll(t *testing.T) {
	req := require.New(t)
	_, m := setup(dispatch.Inline{})

	m.Join("c1", Server("s1"))
	m.Join("c1", Channel("ch1"))
	m.Join("c1", Conversation("dm1"))
	m.Join("c2", Channel("ch1"))

	left := m.LeaveAll("c1")
	req.ElementsMatch([]ID{Server("s1"), Channel("ch1"), Conversation("dm1")}, left)
	req.Empty(m.Rooms("c1"))
	req.Equal([]string{"c2"}, m.Members(Channel("ch1")))

	// Unknown connections leave nothing
	req.Empty(m.LeaveAll("ghost"))
}

func TestManager_AnyMember(t *testing.T) {
	req := require.New(t)
	_, m := setup(dispatch.Inline{})
	m.Join("c2", Conversation("dm1"))

	req.True(m.AnyMember(Conversation("dm1"), []string{"c1", "c2"}))
	req.False(m.AnyMember(Conversation("dm1"), []string{"c1"}))
	req.False(m.AnyMember(Conversation("dm1"), nil))
}

func TestManager_BroadcastExcept(t *testing.T) {
	req := require.New(t)
	reg, m := setup(dispatch.Inline{})
	alice := connect(reg, "c1", "alice")
	bob := connect(reg, "c2", "bob")
	outsider := connect(reg, "c3", "carol")
	m.Join("c1", Channel("ch1"))
	m.Join("c2", Channel("ch1"))

	m.BroadcastExcept(Channel("ch1"), "c1", events.RefreshServerUI, "s1")
	m.Broadcast(Channel("ch1"), events.RefreshMembers, nil)

	req.Equal([]events.Name{events.RefreshMembers}, alice.Names())
	req.Equal([]events.Name{events.RefreshServerUI, events.RefreshMembers}, bob.Names())
	req.Empty(outsider.Names())
}

// TestManager_BroadcastSkipsStaleConnections checks that a member whose
// connection vanished from the registry is skipped silently.
func TestManager_BroadcastSkipsStaleConnections(t *testing.T) {
	req := require.New(t)
	reg, m := setup(dispatch.Inline{})
	alice := connect(reg, "c1", "alice")
	m.Join("c1", Channel("ch1"))
	m.Join("gone", Channel("ch1"))

	m.Broadcast(Channel("ch1"), events.RefreshMembers, nil)
	req.Len(alice.Names(), 1)
}

func TestManager_SendUserAndBroadcastAll(t *testing.T) {
	req := require.New(t)
	reg, m := setup(dispatch.Inline{})
	tab1 := connect(reg, "c1", "alice")
	tab2 := connect(reg, "c2", "alice")
	bob := connect(reg, "c3", "bob")

	m.SendUser(User("alice"), "alice", events.NewFriendRequest, map[string]string{"from": "bob"})
	req.Len(tab1.Names(), 1)
	req.Len(tab2.Names(), 1)
	req.Empty(bob.Names())

	m.BroadcastAll(ID("presence:global"), func() (events.Name, any) {
		return events.OnlineUsersUpdate, []string{"alice", "bob"}
	})
	req.Len(bob.Names(), 1)
	req.Equal(`["alice","bob"]`, data(bob)[0])
}

// TestManager_PerRoomOrderUnderConcurrency verifies that a subscriber of one
// room observes that room's broadcasts in submission order while unrelated
// rooms broadcast concurrently.
func TestManager_PerRoomOrderUnderConcurrency(t *testing.T) {
	req := require.New(t)
	pool := dispatch.NewPool(8, testkit.Logger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pool.Run(ctx)

	reg, m := setup(pool)
	watcher := connect(reg, "watcher", "w")
	m.Join("watcher", Channel("ordered"))

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(room ID) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				m.Broadcast(room, events.RefreshMembers, i)
			}
		}(Channel(fmt.Sprintf("noise-%d", r)))
	}
	for i := 0; i < 100; i++ {
		m.Broadcast(Channel("ordered"), events.NewMessage, i)
	}
	wg.Wait()

	req.Eventually(func() bool { return len(watcher.Names()) == 100 }, time.Second, 5*time.Millisecond)
	for i, d := range data(watcher) {
		req.Equal(fmt.Sprint(i), d)
	}
}
