package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{name: "join server", raw: `{"event":"join_server","data":{"serverId":"s1"}}`, want: &JoinServer{ServerID: "s1"}},
		{name: "leave conversation", raw: `{"event":"leave_conversation","data":{"conversationId":"d1"}}`, want: &LeaveConversation{ConversationID: "d1"}},
		{name: "typing channel", raw: `{"event":"typing","data":{"channelId":"c1","isTyping":true}}`, want: &Typing{ChannelID: "c1", IsTyping: true}},
		{name: "typing conversation", raw: `{"event":"typing","data":{"conversationId":"d1"}}`, want: &Typing{ConversationID: "d1"}},
		{name: "leave voice without data", raw: `{"event":"leave_voice_channel"}`, want: &LeaveVoiceChannel{}},
		{
			name: "sending signal",
			raw:  `{"event":"sending_signal","data":{"userToSignal":"a","callerID":"b","signal":{"sdp":"x"}}}`,
			want: &SendingSignal{UserToSignal: "a", CallerID: "b", Signal: []byte(`{"sdp":"x"}`)},
		},
		{
			name: "returning signal",
			raw:  `{"event":"returning_signal","data":{"callerID":"b","signal":"candidate"}}`,
			want: &ReturningSignal{CallerID: "b", Signal: []byte(`"candidate"`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, tt.want.Name(), got.Name())
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "not json", raw: `hello`, want: ErrMalformedFrame},
		{name: "unknown event", raw: `{"event":"self_destruct","data":{}}`, want: ErrUnknownEvent},
		{name: "outbound name", raw: `{"event":"new_message","data":{}}`, want: ErrUnknownEvent},
		{name: "wrong field type", raw: `{"event":"join_channel","data":{"channelId":42}}`, want: ErrInvalidPayload},
		{name: "missing id", raw: `{"event":"join_channel","data":{}}`, want: ErrInvalidPayload},
		{name: "typing without target", raw: `{"event":"typing","data":{"isTyping":true}}`, want: ErrInvalidPayload},
		{name: "typing with both targets", raw: `{"event":"typing","data":{"channelId":"c","conversationId":"d"}}`, want: ErrInvalidPayload},
		{name: "signal missing", raw: `{"event":"sending_signal","data":{"userToSignal":"a"}}`, want: ErrInvalidPayload},
		{name: "signal null", raw: `{"event":"returning_signal","data":{"callerID":"a","signal":null}}`, want: ErrInvalidPayload},
		{name: "oversized id", raw: `{"event":"join_server","data":{"serverId":"` + long() + `"}}`, want: ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func long() string {
	b := make([]byte, 200)
	for i := range b {
		b[i] = 'a'
	}
	return string(b)
}

func TestEncode(t *testing.T) {
	frame, err := Encode(UserTyping, TypingUpdate{UserID: "u1", Username: "U", RoomID: "channel:c1", ChannelID: "c1", IsTyping: true})
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"user_typing","data":{"userId":"u1","username":"U","roomId":"channel:c1","channelId":"c1","isTyping":true}}`, string(frame))

	frame, err = Encode(UserLeftVoice, "u1")
	require.NoError(t, err)
	require.JSONEq(t, `{"event":"user_left_voice","data":"u1"}`, string(frame))

	_, err = Encode(Error, func() {})
	require.Error(t, err)
}

func TestValidate_Message(t *testing.T) {
	req := require.New(t)
	msg := Message{ID: "m1", AuthorID: "u1", CreatedAt: time.Now()}
	req.NoError(Validate(msg))

	msg.Attachments = []Attachment{{Filename: "cat.png"}}
	req.ErrorIs(Validate(msg), ErrInvalidPayload)

	msg.Attachments[0].URL = "https://cdn.example/cat.png"
	req.NoError(Validate(msg))
}

func TestIsPassThrough(t *testing.T) {
	require.True(t, IsPassThrough(MemberAdded))
	require.True(t, IsPassThrough(NewConversation))
	require.False(t, IsPassThrough(NewMessage))
	require.False(t, IsPassThrough(OnlineUsersUpdate))
}
