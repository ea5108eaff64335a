package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOf(t *testing.T, event, payload string) Frame {
	t.Helper()
	return Frame{Event: event, Payload: json.RawMessage(payload)}
}

func TestDecodeMessageVariants(t *testing.T) {
	// Post-persistence shape.
	v, err := Decode(frameOf(t, EventMessage,
		`{"message_id":"msg-42","text":"hi","sender":"user","conversation_id":"c1"}`))
	require.NoError(t, err)
	msg, ok := v.(MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "msg-42", msg.MessageID)
	assert.Equal(t, "hi", msg.Text)
	assert.Equal(t, "c1", msg.ConversationID)

	// Pre-persistence shape.
	v, err = Decode(frameOf(t, EventMessageCreated,
		`{"id":"evt-1","message_text":"hi","sender_type":"user"}`))
	require.NoError(t, err)
	msg, ok = v.(MessageEvent)
	require.True(t, ok)
	assert.Equal(t, "evt-1", msg.ID)
	assert.Equal(t, "hi", msg.MessageText)
	assert.Equal(t, "user", msg.SenderType)
	assert.Empty(t, msg.MessageID)
}

func TestDecodeConversationEvents(t *testing.T) {
	for _, event := range []string{
		EventConversationCreated, EventConversationUpdated, EventConversationClosed,
	} {
		t.Run(event, func(t *testing.T) {
			v, err := Decode(frameOf(t, event, `{"conversation_id":"c9"}`))
			require.NoError(t, err)
			ev, ok := v.(ConversationEvent)
			require.True(t, ok)
			assert.Equal(t, "c9", ev.Conversation())
		})
	}
}

func TestConversationIdentifierEitherField(t *testing.T) {
	assert.Equal(t, "c1", ConversationEvent{ID: "c1"}.Conversation())
	assert.Equal(t, "c2", ConversationEvent{ConversationID: "c2"}.Conversation())
	// conversation_id wins when both are present.
	assert.Equal(t, "c2", ConversationEvent{ID: "c1", ConversationID: "c2"}.Conversation())
}

func TestDecodeSessionAndRoomEvents(t *testing.T) {
	v, err := Decode(frameOf(t, EventSessionUpdated,
		`{"session_id":"s1","visitor_id":"v1","conversation_id":"c3"}`))
	require.NoError(t, err)
	sess := v.(SessionEvent)
	assert.Equal(t, "s1", sess.SessionID)
	assert.Equal(t, "c3", sess.ConversationID)

	v, err = Decode(frameOf(t, EventRoomJoined, `{"room":"conversation:c3"}`))
	require.NoError(t, err)
	assert.Equal(t, RoomJoined{Room: "conversation:c3"}, v)
}

func TestDecodePresenceEvents(t *testing.T) {
	v, err := Decode(frameOf(t, EventUserOnline, `{"user_id":"u1","user_name":"Ann"}`))
	require.NoError(t, err)
	assert.Equal(t, PresenceUser{UserID: "u1", UserName: "Ann"}, v)

	v, err = Decode(frameOf(t, EventOnlineUsers, `{"users":[{"user_id":"u1"},{"user_id":"u2"}]}`))
	require.NoError(t, err)
	assert.Len(t, v.(OnlineUsers).Users, 2)
}

func TestDecodeUnknownEvent(t *testing.T) {
	_, err := Decode(frameOf(t, "typing:indicator", `{}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestDecodeMalformedPayload(t *testing.T) {
	_, err := Decode(frameOf(t, EventMessage, `{broken`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownEvent)
}

func TestNewFrameRoundTrip(t *testing.T) {
	f, err := NewFrame(EventJoinRoom, JoinRoom{Room: "session:s1"})
	require.NoError(t, err)

	data, err := json.Marshal(f)
	require.NoError(t, err)

	var back Frame
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, EventJoinRoom, back.Event)
	assert.JSONEq(t, `{"room":"session:s1"}`, string(back.Payload))
}

func TestRoomNames(t *testing.T) {
	assert.Equal(t, "session:s1", SessionRoom("s1"))
	assert.Equal(t, "conversation:c9", ConversationRoom("c9"))
}
