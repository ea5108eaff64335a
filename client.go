// Package talkwire is the Go client for the Talkwire chat platform. It
// performs the identity handshake, maintains the streaming connection, moves
// the client from the anonymous session room into the conversation room once
// a conversation exists, and delivers normalized, deduplicated messages to
// the caller's callbacks.
package talkwire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/talkwire/talkwire-go/internal/config"
	"github.com/talkwire/talkwire-go/internal/identity"
	"github.com/talkwire/talkwire-go/internal/logging"
	"github.com/talkwire/talkwire-go/internal/message"
	"github.com/talkwire/talkwire-go/internal/protocol"
	"github.com/talkwire/talkwire-go/internal/rooms"
	"github.com/talkwire/talkwire-go/internal/store"
	"github.com/talkwire/talkwire-go/internal/transport"
)

// Config re-exports the client configuration.
type Config = config.Config

// Message is the canonical message shape delivered to OnMessage.
type Message = message.Canonical

// PresenceUser identifies a user in presence callbacks (admin mode).
type PresenceUser = protocol.PresenceUser

// SessionUpdate carries server-side session changes.
type SessionUpdate = protocol.SessionEvent

// LoadConfig reads a YAML config file with TALKWIRE_* env overrides.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// DefaultConfig returns a Config with defaults applied.
func DefaultConfig() Config {
	return config.Defaults()
}

// Handlers are the caller's callbacks. All fields are optional; nil
// callbacks are skipped.
type Handlers struct {
	OnConnect             func()
	OnDisconnect          func(err error)
	OnError               func(err error)
	OnMessage             func(msg Message)
	OnConversationCreated func(conversationID string)
	OnConversationClosed  func(conversationID string)
	OnSessionUpdate       func(update SessionUpdate)

	// Admin-mode presence callbacks.
	OnUserOnline  func(user PresenceUser)
	OnUserOffline func(user PresenceUser)
	OnOnlineUsers func(users []PresenceUser)
}

// Client is one widget client instance. It owns its token, room state, and
// dedup cache; an application that needs both a visitor-mode and an
// admin-mode client creates two independent instances.
type Client struct {
	cfg config.Config
	log *logging.Logger
	h   Handlers

	st       store.IdentityStore
	ownStore bool

	ids    *identity.Manager
	conn   *transport.Conn
	rooms  *rooms.Machine
	dedupe *message.Deduper

	mu          sync.Mutex
	userID      string
	userProfile map[string]string
	closedConv  bool
	stopped     bool
}

// New creates a Client from a validated config.
func New(cfg Config, h Handlers) (*Client, error) {
	config.ApplyDefaults(&cfg)
	if issues := config.Validate(&cfg); len(issues) > 0 {
		return nil, fmt.Errorf("talkwire: invalid config: %s", issues[0])
	}

	log := logging.New(nil, cfg.Logging.Level)

	var (
		st       store.IdentityStore
		ownStore bool
	)
	if cfg.StatePath == ":memory:" {
		st = store.NewMemoryIdentityStore()
	} else {
		db, err := store.Open(cfg.StatePath, log)
		if err != nil {
			return nil, fmt.Errorf("talkwire: opening state store: %w", err)
		}
		st = store.NewSQLiteIdentityStore(db)
		ownStore = true
	}

	c := &Client{
		cfg:      cfg,
		log:      log.Sub("client"),
		h:        h,
		st:       st,
		ownStore: ownStore,
		dedupe:   message.NewDeduper(time.Duration(cfg.Dedup.WindowSeconds) * time.Second),
	}

	c.ids = identity.NewManager(cfg.BaseURL, cfg.APIKey, st, log)
	c.rooms = rooms.New((*roomEmitter)(c), log, c.conversationEstablished)
	c.conn = transport.New(
		transport.Policy{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			BaseDelay:   time.Duration(cfg.Reconnect.BaseDelayMs) * time.Millisecond,
			MaxDelay:    time.Duration(cfg.Reconnect.MaxDelayMs) * time.Millisecond,
		},
		transport.Handlers{
			OnOpen:  c.handleOpen,
			OnClose: c.handleClose,
			OnFrame: c.handleFrame,
			OnError: c.emitError,
		},
		c.refreshCredentials,
		c.ids.TokenExpired,
		log,
	)

	return c, nil
}

// Identify attaches an authenticated user to the session. Must be called
// before Connect to affect the handshake; later calls affect outbound
// messages only.
func (c *Client) Identify(userID string, profile map[string]string) {
	c.mu.Lock()
	c.userID = userID
	c.userProfile = profile
	c.mu.Unlock()
}

// SetDisplayName records the visitor name collected by the welcome flow.
func (c *Client) SetDisplayName(name string) {
	c.ids.SetDisplayName(name)
}

// Connect runs the handshake and opens the streaming connection. The
// handshake is not retried automatically; callers retry by calling Connect
// again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = false
	c.mu.Unlock()

	hs, err := c.ids.Initialize(ctx, c.initContext())
	if err != nil {
		return err
	}

	if hs.ConversationID != "" {
		c.mu.Lock()
		c.closedConv = hs.ConversationClosedAt != nil
		c.mu.Unlock()
		c.rooms.AdoptConversation(hs.ConversationID)
	}

	c.armRefresh()

	if err := c.conn.Connect(ctx, c.credentials(hs)); err != nil {
		c.ids.CancelRefresh()
		return err
	}
	return nil
}

// Disconnect closes the connection, cancels the pending token refresh, and
// disables reconnection so a trailing close event cannot resurrect the
// client. Idempotent.
func (c *Client) Disconnect() {
	// The flag goes up before the cancel so a refresh racing this call
	// cannot re-arm the timer afterwards; armRefresh checks it under the
	// same mutex.
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.ids.CancelRefresh()
	c.conn.Disconnect()
}

// armRefresh schedules the proactive token refresh unless the client has
// been explicitly disconnected.
func (c *Client) armRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.ids.ScheduleRefresh(c.proactiveRefresh)
}

// Close releases the client's resources after Disconnect.
func (c *Client) Close() error {
	c.Disconnect()
	if c.ownStore {
		return c.st.Close()
	}
	return nil
}

// ConversationID returns the active conversation id, or "" before one is
// established.
func (c *Client) ConversationID() string {
	return c.rooms.ConversationID()
}

// ConversationClosed reports whether the cached conversation is closed.
// A closed conversation reopens when a new message is sent.
func (c *Client) ConversationClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedConv
}

// RequestOnlineUsers asks the gateway for the online user list. Admin
// mode only.
func (c *Client) RequestOnlineUsers() error {
	if c.cfg.Mode != config.ModeAdmin {
		return ErrNotAdmin
	}
	f, err := protocol.NewFrame(protocol.EventOnlineUsersRequest, struct{}{})
	if err != nil {
		return err
	}
	return c.conn.Send(f)
}

func (c *Client) initContext() identity.InitContext {
	c.mu.Lock()
	userID, profile := c.userID, c.userProfile
	c.mu.Unlock()
	return identity.InitContext{
		TenantID:    c.cfg.TenantID,
		SiteID:      c.cfg.SiteID,
		Domain:      c.cfg.Website.Domain,
		Origin:      c.cfg.Website.Origin,
		URL:         c.cfg.Website.URL,
		Referrer:    c.cfg.Website.Referrer,
		UserID:      userID,
		UserProfile: profile,
	}
}

// refreshCredentials is the transport's hook for auth-flavored disconnects:
// a fresh handshake before the redial, never a retry of the stale token.
func (c *Client) refreshCredentials(ctx context.Context) (transport.Credentials, error) {
	hs, err := c.ids.Initialize(ctx, c.initContext())
	if err != nil {
		return transport.Credentials{}, err
	}
	c.armRefresh()
	return c.credentials(hs), nil
}

// credentials picks the streaming endpoint: the configured override when
// present, otherwise whatever the handshake returned.
func (c *Client) credentials(hs *identity.Handshake) transport.Credentials {
	endpoint := hs.SocketURL
	if c.cfg.SocketURL != "" {
		endpoint = c.cfg.SocketURL
	}
	return transport.Credentials{Endpoint: endpoint, Token: hs.Token}
}

// proactiveRefresh fires from the 80% lifetime timer. The connection is
// replaced only when one is actually open, so a refresh never opens a
// connection nobody asked for.
func (c *Client) proactiveRefresh() {
	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hs, err := c.ids.Initialize(ctx, c.initContext())
	if err != nil {
		c.log.Warn().Err(err).Msg("proactive token refresh failed")
		c.emitError(err)
		return
	}
	c.armRefresh()

	if c.conn.State() == transport.Connected {
		if err := c.conn.Redial(ctx, c.credentials(hs)); err != nil && !errors.Is(err, transport.ErrNotConnected) {
			c.log.Warn().Err(err).Msg("connection swap after refresh failed")
		}
	}
}

func (c *Client) handleOpen() {
	c.rooms.Connected(c.ids.SessionID())
	if c.h.OnConnect != nil {
		c.h.OnConnect()
	}
}

func (c *Client) handleClose(err error) {
	c.rooms.Disconnected()
	if c.h.OnDisconnect != nil {
		c.h.OnDisconnect(err)
	}
}

func (c *Client) emitError(err error) {
	if c.h.OnError != nil {
		c.h.OnError(err)
	}
}

func (c *Client) handleFrame(f protocol.Frame) {
	v, err := protocol.Decode(f)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownEvent) {
			c.log.Debug().Str("event", f.Event).Msg("ignoring unknown event")
		} else {
			c.log.Warn().Err(err).Str("event", f.Event).Msg("bad event payload")
		}
		return
	}

	switch ev := v.(type) {
	case protocol.MessageEvent:
		c.handleMessage(ev)
	case protocol.ConversationEvent:
		c.handleConversation(f.Event, ev)
	case protocol.SessionEvent:
		c.ids.SetVisitorID(ev.VisitorID)
		if ev.ConversationID != "" {
			c.rooms.AdoptConversation(ev.ConversationID)
		}
		if c.h.OnSessionUpdate != nil {
			c.h.OnSessionUpdate(ev)
		}
	case protocol.RoomJoined:
		c.rooms.HandleJoined(ev.Room)
	case protocol.PresenceUser:
		c.handlePresence(f.Event, ev)
	case protocol.OnlineUsers:
		if c.cfg.Mode == config.ModeAdmin && c.h.OnOnlineUsers != nil {
			c.h.OnOnlineUsers(ev.Users)
		}
	}
}

func (c *Client) handleMessage(ev protocol.MessageEvent) {
	if !c.rooms.ObserveMessage(ev.ConversationID) {
		return
	}

	// Resolve the conversation before keying: the pre-persistence shape
	// omits the id, and an unresolved key would never collide with the
	// post-persistence delivery of the same message.
	conv := ev.ConversationID
	if conv == "" {
		conv = c.rooms.ConversationID()
	}
	if !c.dedupe.ShouldDeliver(message.DedupeKey(conv, ev)) {
		// The other broadcast path already delivered this one.
		return
	}

	msg := message.Normalize(ev)
	if msg.ConversationID == "" {
		msg.ConversationID = conv
	}

	// Any delivery means the conversation is live again.
	c.mu.Lock()
	c.closedConv = false
	c.mu.Unlock()

	if c.h.OnMessage != nil {
		c.h.OnMessage(msg)
	}
}

func (c *Client) handleConversation(event string, ev protocol.ConversationEvent) {
	id := ev.Conversation()
	switch event {
	case protocol.EventConversationCreated:
		c.rooms.AdoptConversation(id)
		if c.h.OnConversationCreated != nil {
			c.h.OnConversationCreated(id)
		}
	case protocol.EventConversationUpdated:
		c.mu.Lock()
		c.closedConv = ev.ClosedAt != nil
		c.mu.Unlock()
		c.rooms.AdoptConversation(id)
	case protocol.EventConversationClosed:
		c.mu.Lock()
		c.closedConv = true
		c.mu.Unlock()
		if c.h.OnConversationClosed != nil {
			c.h.OnConversationClosed(id)
		}
	}
}

func (c *Client) handlePresence(event string, user protocol.PresenceUser) {
	if c.cfg.Mode != config.ModeAdmin {
		return
	}
	switch event {
	case protocol.EventUserOnline:
		if c.h.OnUserOnline != nil {
			c.h.OnUserOnline(user)
		}
	case protocol.EventUserOffline:
		if c.h.OnUserOffline != nil {
			c.h.OnUserOffline(user)
		}
	}
}

func (c *Client) conversationEstablished(id string) {
	c.ids.SetConversationID(id)
	c.mu.Lock()
	c.closedConv = false
	c.mu.Unlock()
}

// roomEmitter adapts the Client's transport to the rooms.Emitter interface.
type roomEmitter Client

func (e *roomEmitter) JoinRoom(room string) error {
	f, err := protocol.NewFrame(protocol.EventJoinRoom, protocol.JoinRoom{Room: room})
	if err != nil {
		return err
	}
	return (*Client)(e).conn.Send(f)
}

func (e *roomEmitter) LeaveRoom(room string) error {
	f, err := protocol.NewFrame(protocol.EventLeaveRoom, protocol.LeaveRoom{Room: room})
	if err != nil {
		return err
	}
	return (*Client)(e).conn.Send(f)
}
