package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownEvent   = errors.New("unknown event")
	ErrInvalidPayload = errors.New("invalid payload")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Envelope is the JSON frame carried by every WebSocket text message.
type Envelope struct {
	Event Name            `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound is implemented by every payload a client may send. The set is closed:
// only types declared in this package satisfy it.
type Inbound interface {
	Name() Name
	inbound()
}

type JoinServer struct {
	ServerID string `json:"serverId" validate:"required,max=128"`
}

type LeaveServer struct {
	ServerID string `json:"serverId" validate:"required,max=128"`
}

type JoinChannel struct {
	ChannelID string `json:"channelId" validate:"required,max=128"`
}

type LeaveChannel struct {
	ChannelID string `json:"channelId" validate:"required,max=128"`
}

type JoinConversation struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
}

type LeaveConversation struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
}

// Typing targets exactly one of a channel or a conversation.
type Typing struct {
	ChannelID      string `json:"channelId" validate:"required_without=ConversationID,excluded_with=ConversationID,max=128"`
	ConversationID string `json:"conversationId" validate:"required_without=ChannelID,max=128"`
	IsTyping       bool   `json:"isTyping"`
}

type MarkRead struct {
	ConversationID string `json:"conversationId" validate:"required,max=128"`
}

type JoinVoiceChannel struct {
	ChannelID string `json:"channelId" validate:"required,max=128"`
}

type LeaveVoiceChannel struct{}

// SendingSignal carries an offer from the joining peer to an existing one.
// CallerID is informational; the hub always relays the authenticated sender.
type SendingSignal struct {
	UserToSignal string          `json:"userToSignal" validate:"required,max=128"`
	CallerID     string          `json:"callerID" validate:"max=128"`
	Signal       json.RawMessage `json:"signal"`
}

// ReturningSignal carries the answer back to the peer that sent the offer.
type ReturningSignal struct {
	CallerID string          `json:"callerID" validate:"required,max=128"`
	Signal   json.RawMessage `json:"signal"`
}

func (*JoinServer) Name() Name        { return JoinServerEvent }
func (*LeaveServer) Name() Name       { return LeaveServerEvent }
func (*JoinChannel) Name() Name       { return JoinChannelEvent }
func (*LeaveChannel) Name() Name      { return LeaveChannelEvent }
func (*JoinConversation) Name() Name  { return JoinConversationEvent }
func (*LeaveConversation) Name() Name { return LeaveConversationEvent }
func (*Typing) Name() Name            { return TypingEvent }
func (*MarkRead) Name() Name          { return MarkReadEvent }
func (*JoinVoiceChannel) Name() Name  { return JoinVoiceEvent }
func (*LeaveVoiceChannel) Name() Name { return LeaveVoiceEvent }
func (*SendingSignal) Name() Name     { return SendingSignalEvent }
func (*ReturningSignal) Name() Name   { return ReturningSignalEvent }

func (*JoinServer) inbound()        {}
func (*LeaveServer) inbound()       {}
func (*JoinChannel) inbound()       {}
func (*LeaveChannel) inbound()      {}
func (*JoinConversation) inbound()  {}
func (*LeaveConversation) inbound() {}
func (*Typing) inbound()            {}
func (*MarkRead) inbound()          {}
func (*JoinVoiceChannel) inbound()  {}
func (*LeaveVoiceChannel) inbound() {}
func (*SendingSignal) inbound()     {}
func (*ReturningSignal) inbound()   {}

var inboundTypes = map[Name]func() Inbound{
	JoinServerEvent:        func() Inbound { return &JoinServer{} },
	LeaveServerEvent:       func() Inbound { return &LeaveServer{} },
	JoinChannelEvent:       func() Inbound { return &JoinChannel{} },
	LeaveChannelEvent:      func() Inbound { return &LeaveChannel{} },
	JoinConversationEvent:  func() Inbound { return &JoinConversation{} },
	LeaveConversationEvent: func() Inbound { return &LeaveConversation{} },
	TypingEvent:            func() Inbound { return &Typing{} },
	MarkReadEvent:          func() Inbound { return &MarkRead{} },
	JoinVoiceEvent:         func() Inbound { return &JoinVoiceChannel{} },
	LeaveVoiceEvent:        func() Inbound { return &LeaveVoiceChannel{} },
	SendingSignalEvent:     func() Inbound { return &SendingSignal{} },
	ReturningSignalEvent:   func() Inbound { return &ReturningSignal{} },
}

// Decode parses and validates a raw client frame.
func Decode(raw []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	newInbound, ok := inboundTypes[env.Event]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
	}

	evt := newInbound()
	if !isNull(env.Data) {
		if err := json.Unmarshal(env.Data, evt); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidPayload, env.Event, err)
		}
	}
	if err := Validate(evt); err != nil {
		return nil, err
	}

	switch e := evt.(type) {
	case *SendingSignal:
		if isNull(e.Signal) {
			return nil, fmt.Errorf("%w: %s: missing signal", ErrInvalidPayload, env.Event)
		}
	case *ReturningSignal:
		if isNull(e.Signal) {
			return nil, fmt.Errorf("%w: %s: missing signal", ErrInvalidPayload, env.Event)
		}
	}
	return evt, nil
}

// Validate runs the struct validation rules declared on v.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
