package events

import (
	"encoding/json"
	"fmt"
	"time"
)

type outboundEnvelope struct {
	Event Name `json:"event"`
	Data  any  `json:"data"`
}

// Encode renders an outbound frame.
func Encode(name Name, payload any) ([]byte, error) {
	frame, err := json.Marshal(outboundEnvelope{Event: name, Data: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return frame, nil
}

// TypingUpdate is the payload of user_typing.
type TypingUpdate struct {
	UserID         string `json:"userId"`
	Username       string `json:"username"`
	RoomID         string `json:"roomId"`
	ChannelID      string `json:"channelId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

type TypingUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// TypingSnapshot is the server-authoritative typing set sent on subscribe.
type TypingSnapshot struct {
	RoomID         string       `json:"roomId"`
	ChannelID      string       `json:"channelId,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
	Users          []TypingUser `json:"users"`
}

type Attachment struct {
	URL      string `json:"url" validate:"required"`
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
}

// Message is a committed chat message as handed over by the persistence layer.
// Author carries the denormalised author profile verbatim.
type Message struct {
	ID             string          `json:"id" validate:"required,max=128"`
	AuthorID       string          `json:"userId" validate:"required,max=128"`
	ChannelID      string          `json:"channelId,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	ReplyToID      string          `json:"replyToId,omitempty"`
	Content        string          `json:"content"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      *time.Time      `json:"updatedAt,omitempty"`
	Attachments    []Attachment    `json:"attachments,omitempty" validate:"dive"`
	Author         json.RawMessage `json:"user,omitempty"`
}

type MessageDeletion struct {
	ID             string `json:"id"`
	RoomID         string `json:"roomId"`
	ChannelID      string `json:"channelId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

// Bump moves a conversation to the top of a recipient's list.
type Bump struct {
	ID            string    `json:"id"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	UnreadCount   int       `json:"unreadCount"`
}

type VoiceOffer struct {
	Signal   json.RawMessage `json:"signal"`
	CallerID string          `json:"callerID"`
}

type VoiceAnswer struct {
	Signal json.RawMessage `json:"signal"`
	ID     string          `json:"id"`
}

type VoiceRoomFull struct {
	ChannelID string `json:"channelId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
