package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/nexus-realtime/internal/dispatch"
	"github.com/Tyrowin/nexus-realtime/internal/events"
	"github.com/Tyrowin/nexus-realtime/internal/fanout"
	"github.com/Tyrowin/nexus-realtime/internal/presence"
	"github.com/Tyrowin/nexus-realtime/internal/registry"
	"github.com/Tyrowin/nexus-realtime/internal/rooms"
	"github.com/Tyrowin/nexus-realtime/internal/typing"
	"github.com/Tyrowin/nexus-realtime/internal/voice"
)

// Session is one authenticated connection as the gateway sees it.
type Session interface {
	registry.Peer
	Username() string
}

type options struct {
	auth  Authorizer
	store presence.Store
}

type Option func(*options)

func WithAuthorizer(a Authorizer) Option {
	return func(o *options) { o.auth = a }
}

// WithPresenceStore mirrors presence flips to s.
func WithPresenceStore(s presence.Store) Option {
	return func(o *options) { o.store = s }
}

// Gateway owns every coordination component and the connections feeding them.
type Gateway struct {
	cfg      Config
	log      *slog.Logger
	pool     *dispatch.Pool
	registry *registry.Registry
	rooms    *rooms.Manager
	presence *presence.Tracker
	typing   *typing.Coordinator
	fanout   *fanout.Fanout
	voice    *voice.Hub
	auth     Authorizer
	verifier *Verifier
	upgrader websocket.Upgrader

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	started atomic.Bool
	done    chan struct{}
}

func NewGateway(cfg Config, log *slog.Logger, opts ...Option) *Gateway {
	cfg = Sanitize(cfg)
	o := options{auth: AllowAll{}}
	for _, opt := range opts {
		opt(&o)
	}

	pool := dispatch.NewPool(cfg.FanoutLanes, log)
	reg := registry.New()
	roomManager := rooms.NewManager(reg, pool, log)
	typingCoordinator := typing.NewCoordinator(roomManager, cfg.TypingTTL, cfg.TypingSweepInterval, log)
	ctx, cancel := context.WithCancel(context.Background())

	g := &Gateway{
		cfg:      cfg,
		log:      log,
		pool:     pool,
		registry: reg,
		rooms:    roomManager,
		presence: presence.NewTracker(reg, roomManager, cfg.PresenceGrace, o.store, log),
		typing:   typingCoordinator,
		fanout:   fanout.New(roomManager, reg, typingCoordinator, log),
		voice:    voice.NewHub(roomManager, cfg.VoiceMaxPeers, log),
		auth:     o.auth,
		verifier: NewVerifier(cfg.JWTSecret),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	origins := newOriginPolicy(cfg.AllowedOrigins, log)
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}
	return g
}

func (g *Gateway) Fanout() *fanout.Fanout      { return g.fanout }
func (g *Gateway) Presence() *presence.Tracker { return g.presence }
func (g *Gateway) Voice() *voice.Hub           { return g.voice }

// Run drives the dispatch lanes, the typing sweep and the presence mirror
// until Shutdown is called.
func (g *Gateway) Run() {
	g.started.Store(true)
	defer close(g.done)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		g.pool.Run(g.ctx)
	}()
	go func() {
		defer wg.Done()
		g.typing.Run(g.ctx)
	}()
	go func() {
		defer wg.Done()
		g.presence.Run(g.ctx)
	}()
	g.log.Info("Gateway started", "lanes", g.pool.Size())
	wg.Wait()
}

// Attach registers a freshly authenticated session and subscribes it to its
// personal room.
func (g *Gateway) Attach(s Session) {
	first := g.registry.Register(s)
	g.rooms.Join(s.ID(), rooms.User(s.UserID()))
	g.presence.Connected(s.UserID(), s.ID())
	g.log.Info("Client connected", "conn_id", s.ID(), "user_id", s.UserID(), "first", first,
		"connections", g.registry.Len())
}

// Detach tears down every piece of state owned by the session. It is safe to
// call more than once.
func (g *Gateway) Detach(s Session) {
	connID := s.ID()
	g.voice.Leave(s.UserID(), connID)
	g.typing.DropConnection(connID)
	g.rooms.LeaveAll(connID)
	userID, last, ok := g.registry.Unregister(connID)
	if !ok {
		return
	}
	g.presence.Disconnected(userID, last)
	g.log.Info("Client disconnected", "conn_id", connID, "user_id", userID, "last", last,
		"connections", g.registry.Len())
}

// HandleEvent applies one decoded client event on behalf of s.
func (g *Gateway) HandleEvent(ctx context.Context, s Session, ev events.Inbound) {
	connID, userID := s.ID(), s.UserID()

	switch e := ev.(type) {
	case *events.JoinServer:
		g.join(ctx, s, rooms.Server(e.ServerID))
	case *events.LeaveServer:
		g.rooms.Leave(connID, rooms.Server(e.ServerID))

	case *events.JoinChannel:
		room := rooms.Channel(e.ChannelID)
		if g.join(ctx, s, room) {
			g.sendTypingSnapshot(s, room)
		}
	case *events.LeaveChannel:
		g.leave(connID, rooms.Channel(e.ChannelID))

	case *events.JoinConversation:
		room := rooms.Conversation(e.ConversationID)
		if g.join(ctx, s, room) {
			g.sendTypingSnapshot(s, room)
			g.fanout.MarkRead(e.ConversationID, userID)
		}
	case *events.LeaveConversation:
		g.leave(connID, rooms.Conversation(e.ConversationID))

	case *events.Typing:
		room := rooms.Channel(e.ChannelID)
		if e.ConversationID != "" {
			room = rooms.Conversation(e.ConversationID)
		}
		// Stops are accepted from connections that already left the room.
		if e.IsTyping && !g.rooms.IsMember(room, connID) {
			g.sendError(s, "Not subscribed to "+string(room))
			return
		}
		g.typing.Set(room, connID, userID, s.Username(), e.IsTyping)

	case *events.MarkRead:
		g.fanout.MarkRead(e.ConversationID, userID)

	case *events.JoinVoiceChannel:
		if !g.authorize(ctx, s, rooms.Voice(e.ChannelID)) {
			return
		}
		if err := g.voice.Join(userID, connID, e.ChannelID); err != nil && !errors.Is(err, voice.ErrChannelFull) {
			g.log.Warn("Voice join failed", "conn_id", connID, "channel_id", e.ChannelID, "error", err)
		}
	case *events.LeaveVoiceChannel:
		g.voice.Leave(userID, connID)

	case *events.SendingSignal:
		if err := g.voice.Signal(userID, connID, e.UserToSignal, e.Signal); err != nil {
			g.log.Debug("Signal dropped", "conn_id", connID, "target", e.UserToSignal, "error", err)
		}
	case *events.ReturningSignal:
		if err := g.voice.ReturnSignal(userID, connID, e.CallerID, e.Signal); err != nil {
			g.log.Debug("Returned signal dropped", "conn_id", connID, "target", e.CallerID, "error", err)
		}

	default:
		g.log.Warn("Unhandled event", "conn_id", connID, "event", ev.Name())
	}
}

func (g *Gateway) join(ctx context.Context, s Session, room rooms.ID) bool {
	if !g.authorize(ctx, s, room) {
		return false
	}
	g.rooms.Join(s.ID(), room)
	return true
}

func (g *Gateway) leave(connID string, room rooms.ID) {
	if g.rooms.Leave(connID, room) {
		g.typing.DropRoomConnection(room, connID)
	}
}

func (g *Gateway) authorize(ctx context.Context, s Session, room rooms.ID) bool {
	ok, err := g.auth.CanJoin(ctx, s.UserID(), room)
	if err != nil {
		g.log.Error("Authorization check failed", "user_id", s.UserID(), "room", room, "error", err)
		ok = false
	}
	if !ok {
		g.log.Info("Join denied", "user_id", s.UserID(), "room", room)
		g.sendError(s, accessDenied)
	}
	return ok
}

func (g *Gateway) sendTypingSnapshot(s Session, room rooms.ID) {
	g.rooms.Send(room, []string{s.ID()}, events.TypingStateSnapshot, g.typing.SnapshotEvent(room, s.UserID()))
}

func (g *Gateway) sendError(s Session, message string) {
	g.rooms.Send(rooms.User(s.UserID()), []string{s.ID()}, events.Error, events.ErrorPayload{Message: message})
}

// shutdownClients closes every live connection; the read pumps then detach.
func (g *Gateway) shutdownClients() int {
	closed := 0
	g.registry.Each(func(p registry.Peer) {
		c, ok := p.(*Client)
		if !ok || c.conn == nil {
			return
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			g.log.Warn("Error closing client connection", "conn_id", c.id, "error", err)
		}
		closed++
	})
	return closed
}

// Shutdown closes all connections, waits for their pumps to exit and stops the
// background workers. It returns context.DeadlineExceeded when the pumps do
// not finish within timeout.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	g.log.Info("Initiating gateway shutdown")

	closed := g.shutdownClients()
	g.log.Info("Closed client connections", "count", closed)

	pumps := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(pumps)
	}()

	var err error
	select {
	case <-pumps:
	case <-time.After(timeout):
		g.log.Warn("Gateway shutdown timeout reached, some connections may still be running")
		err = context.DeadlineExceeded
	}

	g.cancel()
	if g.started.Load() {
		<-g.done
	}
	g.presence.Close()
	if err == nil {
		g.log.Info("Gateway shutdown completed")
	}
	return err
}
