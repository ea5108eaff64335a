package rooms

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talkwire/talkwire-go/internal/logging"
)

// recordingEmitter captures join/leave requests in order.
type recordingEmitter struct {
	mu  sync.Mutex
	ops []string
}

func (e *recordingEmitter) JoinRoom(room string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = append(e.ops, "join "+room)
	return nil
}

func (e *recordingEmitter) LeaveRoom(room string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ops = append(e.ops, "leave "+room)
	return nil
}

func (e *recordingEmitter) Ops() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ops...)
}

func newMachine(t *testing.T) (*Machine, *recordingEmitter, *[]string) {
	t.Helper()
	em := &recordingEmitter{}
	var announced []string
	m := New(em, logging.Nop(), func(id string) { announced = append(announced, id) })
	return m, em, &announced
}

func TestColdStartJoinsSessionRoom(t *testing.T) {
	m, em, _ := newMachine(t)

	m.Connected("s1")

	assert.Equal(t, JoinedSessionRoom, m.State())
	assert.Equal(t, []string{"join session:s1"}, em.Ops())
}

func TestHandoverOrdering(t *testing.T) {
	m, em, announced := newMachine(t)
	m.Connected("s1")

	m.AdoptConversation("c9")
	assert.Equal(t, AwaitingConversationRoom, m.State())
	// No leave yet: membership is additive until the join is confirmed.
	assert.Equal(t, []string{"join session:s1", "join conversation:c9"}, em.Ops())

	m.HandleJoined("conversation:c9")
	assert.Equal(t, JoinedConversationRoom, m.State())
	assert.Equal(t, "c9", m.ConversationID())
	assert.Equal(t, []string{
		"join session:s1",
		"join conversation:c9",
		"leave session:s1",
	}, em.Ops())
	assert.Equal(t, []string{"c9"}, *announced)
}

func TestResumeKnownConversationOnConnect(t *testing.T) {
	m, em, _ := newMachine(t)

	m.AdoptConversation("c3") // learned while disconnected (e.g. prior cycle)
	m.Connected("s1")

	assert.Equal(t, AwaitingConversationRoom, m.State())
	assert.Equal(t, []string{"join conversation:c3"}, em.Ops())

	m.HandleJoined("conversation:c3")
	assert.Equal(t, JoinedConversationRoom, m.State())
	// No session room was ever joined, so nothing to leave.
	assert.Equal(t, []string{"join conversation:c3"}, em.Ops())
}

func TestReopenedConversationDoesNotRejoin(t *testing.T) {
	m, em, _ := newMachine(t)
	m.Connected("s1")
	m.AdoptConversation("c9")
	m.HandleJoined("conversation:c9")
	before := em.Ops()

	// Backend reopens c9 and broadcasts the update again.
	m.AdoptConversation("c9")

	assert.Equal(t, JoinedConversationRoom, m.State())
	assert.Equal(t, before, em.Ops())
}

func TestDifferentConversationWhileJoinedRepeatsHandover(t *testing.T) {
	m, em, _ := newMachine(t)
	m.Connected("s1")
	m.AdoptConversation("c1")
	m.HandleJoined("conversation:c1")

	m.AdoptConversation("c2")
	assert.Equal(t, AwaitingConversationRoom, m.State())

	m.HandleJoined("conversation:c2")
	assert.Equal(t, JoinedConversationRoom, m.State())
	assert.Equal(t, "c2", m.ConversationID())
	// Old conversation room is left only after the new join confirms.
	assert.Equal(t, []string{
		"join session:s1",
		"join conversation:c1",
		"leave session:s1",
		"join conversation:c2",
		"leave conversation:c1",
	}, em.Ops())
}

func TestLastWriterWinsDuringHandover(t *testing.T) {
	m, em, announced := newMachine(t)
	m.Connected("s1")

	m.AdoptConversation("c1")
	m.AdoptConversation("c2") // second announcement before c1 confirms

	// The superseded room's confirmation is answered with a leave.
	m.HandleJoined("conversation:c1")
	assert.Equal(t, AwaitingConversationRoom, m.State())
	assert.Contains(t, em.Ops(), "leave conversation:c1")

	m.HandleJoined("conversation:c2")
	assert.Equal(t, JoinedConversationRoom, m.State())
	assert.Equal(t, "c2", m.ConversationID())
	assert.Equal(t, []string{"c2"}, *announced)
	// The session room was left exactly once.
	leaves := 0
	for _, op := range em.Ops() {
		if op == "leave session:s1" {
			leaves++
		}
	}
	assert.Equal(t, 1, leaves)
}

func TestObserveMessageAdoptsUnknownConversation(t *testing.T) {
	m, em, _ := newMachine(t)
	m.Connected("s1")

	deliver := m.ObserveMessage("c7")

	assert.True(t, deliver)
	assert.Equal(t, AwaitingConversationRoom, m.State())
	assert.Contains(t, em.Ops(), "join conversation:c7")
}

func TestObserveMessageDropsForeignConversation(t *testing.T) {
	m, _, _ := newMachine(t)
	m.Connected("s1")
	m.AdoptConversation("c1")
	m.HandleJoined("conversation:c1")

	assert.True(t, m.ObserveMessage("c1"))
	assert.False(t, m.ObserveMessage("c2"))
	assert.True(t, m.ObserveMessage("")) // pre-persistence events may lack the id
}

func TestObserveMessageDeliversPendingConversation(t *testing.T) {
	m, _, _ := newMachine(t)
	m.Connected("s1")
	m.AdoptConversation("c1")

	// Handover in flight: messages for the pending room still deliver.
	assert.True(t, m.ObserveMessage("c1"))
}

func TestMembershipNeverEmpty(t *testing.T) {
	m, em, _ := newMachine(t)
	m.Connected("s1")
	m.AdoptConversation("c1")
	m.HandleJoined("conversation:c1")

	// Replaying the op log, the number of joined rooms never hits zero
	// after the initial join.
	joined := map[string]bool{}
	sawFirstJoin := false
	for _, op := range em.Ops() {
		var room string
		switch {
		case len(op) > 5 && op[:5] == "join ":
			room = op[5:]
			joined[room] = true
			sawFirstJoin = true
		case len(op) > 6 && op[:6] == "leave ":
			room = op[6:]
			delete(joined, room)
		}
		if sawFirstJoin {
			require.NotEmpty(t, joined, "client left all rooms at op %q", op)
		}
	}
	assert.Len(t, joined, 1)
}

func TestDisconnectedKeepsConversationForResume(t *testing.T) {
	m, _, _ := newMachine(t)
	m.Connected("s1")
	m.AdoptConversation("c1")
	m.HandleJoined("conversation:c1")

	m.Disconnected()
	assert.Equal(t, Disconnected, m.State())
	assert.Equal(t, "c1", m.ConversationID())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", Disconnected.String())
	assert.Equal(t, "joined-session-room", JoinedSessionRoom.String())
	assert.Equal(t, "awaiting-conversation-room", AwaitingConversationRoom.String())
	assert.Equal(t, "joined-conversation-room", JoinedConversationRoom.String())
}
