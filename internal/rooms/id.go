package rooms

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidRoom = errors.New("invalid room id")

// Kind is the namespace of a room.
type Kind string

const (
	KindServer       Kind = "server"
	KindChannel      Kind = "channel"
	KindConversation Kind = "conversation"
	KindUser         Kind = "user"
	KindVoice        Kind = "voice"
)

// ID is a namespaced room identifier such as "channel:42".
type ID string

func Server(id string) ID       { return ID(string(KindServer) + ":" + id) }
func Channel(id string) ID      { return ID(string(KindChannel) + ":" + id) }
func Conversation(id string) ID { return ID(string(KindConversation) + ":" + id) }
func User(id string) ID         { return ID(string(KindUser) + ":" + id) }
func Voice(id string) ID        { return ID(string(KindVoice) + ":" + id) }

// Parse validates a textual room id.
func Parse(s string) (ID, error) {
	kind, key, ok := strings.Cut(s, ":")
	if !ok || key == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidRoom, s)
	}
	switch Kind(kind) {
	case KindServer, KindChannel, KindConversation, KindUser, KindVoice:
		return ID(s), nil
	}
	return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidRoom, kind)
}

func (id ID) Kind() Kind {
	kind, _, _ := strings.Cut(string(id), ":")
	return Kind(kind)
}

// Key returns the id without its namespace.
func (id ID) Key() string {
	_, key, _ := strings.Cut(string(id), ":")
	return key
}

func (id ID) String() string { return string(id) }
