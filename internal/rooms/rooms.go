// Package rooms manages the client's two-phase room membership: the
// anonymous session room at connect time and the conversation room once a
// conversation exists, with a race-safe handover between them.
package rooms

import (
	"sync"

	"github.com/talkwire/talkwire-go/internal/logging"
	"github.com/talkwire/talkwire-go/internal/protocol"
)

// State is the room membership state.
type State int

const (
	Disconnected State = iota
	JoinedSessionRoom
	AwaitingConversationRoom
	JoinedConversationRoom
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case JoinedSessionRoom:
		return "joined-session-room"
	case AwaitingConversationRoom:
		return "awaiting-conversation-room"
	case JoinedConversationRoom:
		return "joined-conversation-room"
	default:
		return "unknown"
	}
}

// Emitter sends room membership requests over the streaming channel.
type Emitter interface {
	JoinRoom(room string) error
	LeaveRoom(room string) error
}

type actionKind int

const (
	actJoin actionKind = iota
	actLeave
	actNotify
)

type action struct {
	kind actionKind
	room string // for actJoin/actLeave
	conv string // for actNotify
}

// Machine owns room membership for one client instance.
//
// The handover is additive-then-subtractive: the conversation room join is
// emitted first and the session room leave only after the server confirms
// the join, so there is never a window where the client belongs to neither
// room.
type Machine struct {
	mu sync.Mutex

	state          State
	sessionID      string
	conversationID string // confirmed conversation
	pendingID      string // handover target in flight
	sessionJoined  bool
	joinedConvRoom string // conversation room we are confirmed in

	emitter        Emitter
	log            *logging.Logger
	onConversation func(id string)
}

// New creates a Machine. onConversation fires after a conversation room
// join is confirmed; it may be nil.
func New(emitter Emitter, log *logging.Logger, onConversation func(id string)) *Machine {
	return &Machine{
		emitter:        emitter,
		log:            log.Sub("rooms"),
		onConversation: onConversation,
	}
}

// Connected is called when the transport opens. If a conversation id is
// already known from a prior token cycle, the machine heads straight for
// the conversation room; otherwise it joins the session room.
func (m *Machine) Connected(sessionID string) {
	m.mu.Lock()
	m.sessionID = sessionID
	m.sessionJoined = false
	m.joinedConvRoom = ""
	var acts []action
	if m.conversationID != "" {
		m.pendingID = m.conversationID
		m.state = AwaitingConversationRoom
		acts = append(acts, action{kind: actJoin, room: protocol.ConversationRoom(m.pendingID)})
	} else {
		m.sessionJoined = true
		m.state = JoinedSessionRoom
		acts = append(acts, action{kind: actJoin, room: protocol.SessionRoom(sessionID)})
	}
	m.mu.Unlock()
	m.run(acts)
}

// Disconnected resets in-flight membership. The confirmed conversation id
// survives so a reconnect can resume it.
func (m *Machine) Disconnected() {
	m.mu.Lock()
	m.state = Disconnected
	m.pendingID = ""
	m.sessionJoined = false
	m.joinedConvRoom = ""
	m.mu.Unlock()
}

// AdoptConversation reacts to any server signal announcing a conversation
// id: conversation created/updated events, session updates, or (through
// ObserveMessage) a message that itself carries an unknown id. When ids
// race during an in-flight handover the last writer wins.
func (m *Machine) AdoptConversation(id string) {
	m.mu.Lock()
	acts := m.adoptLocked(id)
	m.mu.Unlock()
	m.run(acts)
}

func (m *Machine) adoptLocked(id string) []action {
	if id == "" {
		return nil
	}
	if m.state == Disconnected {
		// Record for the next connect; nothing to emit yet.
		m.conversationID = id
		return nil
	}
	if id == m.pendingID {
		return nil
	}
	if id == m.conversationID && m.state == JoinedConversationRoom {
		// Reopened conversation under the same id: already a member.
		m.log.Debug().Str("conversationId", id).Msg("already joined, ignoring announcement")
		return nil
	}

	if m.pendingID != "" {
		m.log.Debug().
			Str("superseded", m.pendingID).
			Str("conversationId", id).
			Msg("handover re-targeted before confirmation")
	}
	m.pendingID = id
	m.state = AwaitingConversationRoom
	return []action{{kind: actJoin, room: protocol.ConversationRoom(id)}}
}

// HandleJoined processes a server join confirmation. Only now is the
// session room left, completing the two-phase handover.
func (m *Machine) HandleJoined(room string) {
	m.mu.Lock()
	var acts []action

	switch {
	case m.pendingID != "" && room == protocol.ConversationRoom(m.pendingID):
		if m.sessionJoined {
			acts = append(acts, action{kind: actLeave, room: protocol.SessionRoom(m.sessionID)})
			m.sessionJoined = false
		}
		if m.joinedConvRoom != "" && m.joinedConvRoom != room {
			acts = append(acts, action{kind: actLeave, room: m.joinedConvRoom})
		}
		m.conversationID = m.pendingID
		m.pendingID = ""
		m.joinedConvRoom = room
		m.state = JoinedConversationRoom
		acts = append(acts, action{kind: actNotify, conv: m.conversationID})

	case room == m.joinedConvRoom || room == protocol.SessionRoom(m.sessionID):
		// Confirmation for a room we already count ourselves in.

	default:
		// Join confirmed for a room that was superseded while in flight;
		// we no longer want it.
		m.log.Debug().Str("room", room).Msg("leaving superseded room")
		acts = append(acts, action{kind: actLeave, room: room})
	}
	m.mu.Unlock()
	m.run(acts)
}

// ObserveMessage inspects the conversation id on a message delivery and
// reports whether the message should be delivered. An id arriving before
// any conversation is known establishes the conversation; an id mismatching
// the known conversation marks a stale event and is dropped.
func (m *Machine) ObserveMessage(conversationID string) bool {
	m.mu.Lock()
	var (
		acts    []action
		deliver bool
	)
	switch {
	case conversationID == "":
		deliver = true
	case conversationID == m.conversationID || conversationID == m.pendingID:
		deliver = true
	case m.conversationID == "":
		acts = m.adoptLocked(conversationID)
		deliver = true
	default:
		m.log.Debug().
			Str("conversationId", conversationID).
			Str("known", m.conversationID).
			Msg("dropping message for foreign conversation")
	}
	m.mu.Unlock()
	m.run(acts)
	return deliver
}

// State returns the current membership state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConversationID returns the confirmed conversation id, if any.
func (m *Machine) ConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conversationID
}

func (m *Machine) run(acts []action) {
	for _, a := range acts {
		switch a.kind {
		case actJoin:
			if err := m.emitter.JoinRoom(a.room); err != nil {
				m.log.Warn().Err(err).Str("room", a.room).Msg("join request failed")
			}
		case actLeave:
			if err := m.emitter.LeaveRoom(a.room); err != nil {
				m.log.Warn().Err(err).Str("room", a.room).Msg("leave request failed")
			}
		case actNotify:
			if m.onConversation != nil {
				m.onConversation(a.conv)
			}
		}
	}
}
