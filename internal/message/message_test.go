package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkwire/talkwire-go/internal/protocol"
)

func TestNormalizeIdentifierPrecedence(t *testing.T) {
	tests := []struct {
		name string
		ev   protocol.MessageEvent
		want string
	}{
		{"persisted id wins", protocol.MessageEvent{MessageID: "m1", EventID: "e1", ID: "g1"}, "m1"},
		{"event id next", protocol.MessageEvent{EventID: "e1", ID: "g1"}, "e1"},
		{"generic id last", protocol.MessageEvent{ID: "g1"}, "g1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.ev).ID)
		})
	}
}

func TestNormalizeTextPrecedence(t *testing.T) {
	ev := protocol.MessageEvent{Text: "a", MessageText: "b", Message: "c"}
	assert.Equal(t, "a", Normalize(ev).Text)

	ev = protocol.MessageEvent{MessageText: "b", Message: "c"}
	assert.Equal(t, "b", Normalize(ev).Text)

	ev = protocol.MessageEvent{Message: "c"}
	assert.Equal(t, "c", Normalize(ev).Text)
}

func TestMapSender(t *testing.T) {
	tests := []struct {
		raw  string
		want Sender
	}{
		{"user", SenderUser},
		{"agent", SenderAgent},
		{"human", SenderAgent},
		{"bot", SenderBot},
		{"system", SenderBot},
		{"", SenderBot},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, MapSender(tt.raw))
		})
	}
}

func TestNormalizeTimestampPrecedence(t *testing.T) {
	explicit := "2026-03-01T10:00:00Z"
	created := "2026-03-01T11:00:00Z"
	inserted := "2026-03-01T12:00:00Z"

	got := Normalize(protocol.MessageEvent{
		Timestamp: explicit, CreatedAt: created, InsertedAt: inserted,
	})
	assert.Equal(t, mustParse(t, explicit), got.Timestamp)

	got = Normalize(protocol.MessageEvent{CreatedAt: created, InsertedAt: inserted})
	assert.Equal(t, mustParse(t, created), got.Timestamp)

	got = Normalize(protocol.MessageEvent{InsertedAt: inserted})
	assert.Equal(t, mustParse(t, inserted), got.Timestamp)

	// No timestamps at all falls back to now.
	before := time.Now()
	got = Normalize(protocol.MessageEvent{Text: "hi"})
	assert.False(t, got.Timestamp.Before(before))
}

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestNormalizationEquivalence(t *testing.T) {
	// The same logical send broadcast over both paths must share a dedup
	// key while keeping distinct raw ids. The pre-persistence event omits
	// the conversation id; the caller resolves it, so the key converges.
	pre := protocol.MessageEvent{ID: "evt-1", MessageText: "hi", SenderType: "user"}
	post := protocol.MessageEvent{
		MessageID: "msg-42", Text: "hi", Sender: "user", ConversationID: "c1",
	}

	assert.NotEqual(t, Normalize(pre).ID, Normalize(post).ID)

	key := DedupeKey("c1", pre)
	assert.Equal(t, key, DedupeKey("c1", post))

	d := NewDeduper(60 * time.Second)
	assert.True(t, d.ShouldDeliver(DedupeKey("c1", pre)))
	assert.False(t, d.ShouldDeliver(DedupeKey("c1", post)))
}

func TestDeduperSuppressesWithinWindow(t *testing.T) {
	d := NewDeduper(60 * time.Second)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	assert.True(t, d.ShouldDeliver("c1:user:hi"))
	assert.False(t, d.ShouldDeliver("c1:user:hi"))

	clock = clock.Add(59 * time.Second)
	assert.False(t, d.ShouldDeliver("c1:user:hi"))
}

func TestDeduperExpiresAfterWindow(t *testing.T) {
	d := NewDeduper(60 * time.Second)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	assert.True(t, d.ShouldDeliver("c1:user:hi"))

	clock = clock.Add(61 * time.Second)
	assert.True(t, d.ShouldDeliver("c1:user:hi"))
}

func TestDeduperDistinctKeys(t *testing.T) {
	d := NewDeduper(60 * time.Second)

	assert.True(t, d.ShouldDeliver("c1:user:hi"))
	assert.True(t, d.ShouldDeliver("c1:agent:hi"))
	assert.True(t, d.ShouldDeliver("c2:user:hi"))
	assert.Equal(t, 3, d.Len())
}

func TestDeduperPrunesOnInsert(t *testing.T) {
	d := NewDeduper(60 * time.Second)
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	d.ShouldDeliver("old-1")
	d.ShouldDeliver("old-2")
	assert.Equal(t, 2, d.Len())

	clock = clock.Add(2 * time.Minute)
	d.ShouldDeliver("fresh")
	assert.Equal(t, 1, d.Len())
}

func TestDeduperDefaultWindow(t *testing.T) {
	d := NewDeduper(0)
	assert.Equal(t, DefaultDedupWindow, d.window)
}
