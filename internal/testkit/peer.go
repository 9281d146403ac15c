// Package testkit provides shared helpers for exercising the coordination
// layer without real WebSocket connections.
package testkit

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/Tyrowin/nexus-realtime/internal/events"
)

// Peer records every frame it receives.
type Peer struct {
	id, user string
	mu       sync.Mutex
	frames   []events.Envelope
	closed   bool
}

func NewPeer(id, user string) *Peer {
	return &Peer{id: id, user: user}
}

func (p *Peer) ID() string     { return p.id }
func (p *Peer) UserID() string { return p.user }

// Username mirrors the user id so the peer can stand in for a session.
func (p *Peer) Username() string { return p.user }

func (p *Peer) Send(frame []byte) bool {
	var env events.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.frames = append(p.frames, env)
	return true
}

// Close makes later sends fail like a saturated connection.
func (p *Peer) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Names returns the event names received so far, in order.
func (p *Peer) Names() []events.Name {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Name, len(p.frames))
	for i, f := range p.frames {
		out[i] = f.Event
	}
	return out
}

// Frames returns a copy of every received envelope.
func (p *Peer) Frames() []events.Envelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Envelope(nil), p.frames...)
}

// Payloads decodes the data of every frame named name into a new T.
func Payloads[T any](p *Peer, name events.Name) []T {
	var out []T
	for _, f := range p.Frames() {
		if f.Event != name {
			continue
		}
		var v T
		if err := json.Unmarshal(f.Data, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// Count returns how many frames named name were received.
func (p *Peer) Count(name events.Name) int {
	n := 0
	for _, got := range p.Names() {
		if got == name {
			n++
		}
	}
	return n
}

// Reset forgets every received frame.
func (p *Peer) Reset() {
	p.mu.Lock()
	p.frames = nil
	p.mu.Unlock()
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
