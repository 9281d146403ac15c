package rooms

import (
	"github.com/samber/lo"

	"github.com/Tyrowin/nexus-realtime/internal/events"
	"github.com/Tyrowin/nexus-realtime/internal/registry"
)

// Broadcast delivers an event to every connection subscribed to room when the
// task runs on the room's lane.
func (m *Manager) Broadcast(room ID, name events.Name, payload any) {
	m.BroadcastExcept(room, "", name, payload)
}

// BroadcastExcept is Broadcast without the connection exceptConn.
func (m *Manager) BroadcastExcept(room ID, exceptConn string, name events.Name, payload any) {
	frame, ok := m.encode(name, payload)
	if !ok {
		return
	}
	m.exec.Submit(string(room), func() {
		members := lo.Without(m.Members(room), exceptConn)
		m.log.Debug("Broadcasting to room", "room", room, "event", name, "targets", len(members))
		for _, connID := range members {
			m.deliver(connID, frame)
		}
	})
}

// Send delivers an event to explicit connections, ordered with the other
// emissions of lane.
func (m *Manager) Send(lane ID, connIDs []string, name events.Name, payload any) {
	if len(connIDs) == 0 {
		return
	}
	frame, ok := m.encode(name, payload)
	if !ok {
		return
	}
	targets := append([]string(nil), connIDs...)
	m.exec.Submit(string(lane), func() {
		for _, connID := range targets {
			m.deliver(connID, frame)
		}
	})
}

// SendUser delivers an event to every connection userID holds when the task runs.
func (m *Manager) SendUser(lane ID, userID string, name events.Name, payload any) {
	frame, ok := m.encode(name, payload)
	if !ok {
		return
	}
	m.exec.Submit(string(lane), func() {
		for _, connID := range m.dir.UserConnections(userID) {
			m.deliver(connID, frame)
		}
	})
}

// BroadcastAll delivers to every live connection. build runs on the lane so the
// payload reflects state at emission time.
func (m *Manager) BroadcastAll(lane ID, build func() (events.Name, any)) {
	m.exec.Submit(string(lane), func() {
		name, payload := build()
		frame, ok := m.encode(name, payload)
		if !ok {
			return
		}
		m.dir.Each(func(p registry.Peer) {
			if !p.Send(frame) {
				m.log.Debug("Dropping frame for saturated connection", "conn_id", p.ID(), "event", name)
			}
		})
	})
}

func (m *Manager) encode(name events.Name, payload any) ([]byte, bool) {
	frame, err := events.Encode(name, payload)
	if err != nil {
		m.log.Error("Failed to encode outbound event", "event", name, "error", err)
		return nil, false
	}
	return frame, true
}

func (m *Manager) deliver(connID string, frame []byte) {
	peer, ok := m.dir.Lookup(connID)
	if !ok {
		m.log.Debug("Dropping frame for stale connection", "conn_id", connID)
		return
	}
	if !peer.Send(frame) {
		m.log.Debug("Dropping frame for saturated connection", "conn_id", connID)
	}
}
