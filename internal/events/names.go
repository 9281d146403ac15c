package events

// Name identifies an event on the wire.
type Name string

// Inbound events.
const (
	JoinServerEvent        Name = "join_server"
	LeaveServerEvent       Name = "leave_server"
	JoinChannelEvent       Name = "join_channel"
	LeaveChannelEvent      Name = "leave_channel"
	JoinConversationEvent  Name = "join_conversation"
	LeaveConversationEvent Name = "leave_conversation"
	TypingEvent            Name = "typing"
	MarkReadEvent          Name = "mark_read"
	JoinVoiceEvent         Name = "join_voice_channel"
	LeaveVoiceEvent        Name = "leave_voice_channel"
	SendingSignalEvent     Name = "sending_signal"
	ReturningSignalEvent   Name = "returning_signal"
)

// Outbound events.
const (
	OnlineUsersUpdate       Name = "online_users_update"
	UserTyping              Name = "user_typing"
	TypingStateSnapshot     Name = "typing_state_snapshot"
	NewMessage              Name = "new_message"
	MessageUpdated          Name = "message_updated"
	MessageDeleted          Name = "message_deleted"
	ConversationBump        Name = "conversation_bump"
	AllUsersInRoom          Name = "all_users_in_room"
	UserJoinedVoice         Name = "user_joined_voice"
	ReceivingReturnedSignal Name = "receiving_returned_signal"
	UserLeftVoice           Name = "user_left_voice"
	RoomFull                Name = "room_full"
	Error                   Name = "error"
)

// Pass-through events pushed by the REST layer through the internal broadcast
// endpoint. The hub attaches no coordination logic to them.
const (
	MemberAdded           Name = "member_added"
	MemberRemoved         Name = "member_removed"
	MemberUpdated         Name = "member_updated"
	MemberKicked          Name = "member_kicked"
	RefreshServerUI       Name = "refresh_server_ui"
	RefreshMembers        Name = "refresh_members"
	NewFriendRequest      Name = "new_friend_request"
	FriendRequestAccepted Name = "friend_request_accepted"
	FriendRemoved         Name = "friend_removed"
	NewConversation       Name = "new_conversation"
)

var passThrough = map[Name]struct{}{
	MemberAdded:           {},
	MemberRemoved:         {},
	MemberUpdated:         {},
	MemberKicked:          {},
	RefreshServerUI:       {},
	RefreshMembers:        {},
	NewFriendRequest:      {},
	FriendRequestAccepted: {},
	FriendRemoved:         {},
	NewConversation:       {},
}

// IsPassThrough reports whether name may be relayed verbatim by the internal
// broadcast endpoint.
func IsPassThrough(name Name) bool {
	_, ok := passThrough[name]
	return ok
}
