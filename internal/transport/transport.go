// Package transport owns the persistent WebSocket connection: dialing,
// read/write pumps, bounded reconnection with backoff, and token-aware
// re-authentication when a disconnect looks credential-related.
package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talkwire/talkwire-go/internal/logging"
	"github.com/talkwire/talkwire-go/internal/protocol"
)

// State is the connection lifecycle state.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Reconnecting
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyConnected = errors.New("transport: already connected")
	ErrNotConnected     = errors.New("transport: not connected")
	ErrSendBufferFull   = errors.New("transport: send buffer full")
	ErrNoCredentials    = errors.New("transport: missing or expired credentials")
)

// ConnectionError reports exhausted reconnection attempts.
type ConnectionError struct {
	Attempts int
	LastErr  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: connection lost after %d reconnect attempts: %v", e.Attempts, e.LastErr)
}

func (e *ConnectionError) Unwrap() error { return e.LastErr }

// Credentials carry what a dial needs.
type Credentials struct {
	Endpoint string
	Token    string
}

// Policy bounds automatic reconnection.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the config defaults.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Handlers are the caller's callbacks. All are optional.
type Handlers struct {
	OnOpen  func()
	OnClose func(err error)
	OnFrame func(protocol.Frame)
	// OnError receives self-heal failures (a failed refresh) and the
	// terminal ConnectionError after retries exhaust.
	OnError func(err error)
}

// session is one physical connection; replaced wholesale on redial.
type session struct {
	ws   *websocket.Conn
	done chan struct{}
}

// Conn is the connection lifecycle controller for one client instance.
type Conn struct {
	mu    sync.Mutex
	state State
	cur   *session
	creds Credentials

	reconnect bool
	policy    Policy
	h         Handlers

	// refresh performs a fresh handshake when a disconnect is
	// auth-flavored. expired reports whether the current token is stale.
	refresh func(ctx context.Context) (Credentials, error)
	expired func() bool

	dialer *websocket.Dialer
	sendCh chan protocol.Frame
	log    *logging.Logger
}

// New creates a Conn. refresh and expired may be nil, which disables
// token-aware re-authentication.
func New(policy Policy, h Handlers, refresh func(ctx context.Context) (Credentials, error), expired func() bool, log *logging.Logger) *Conn {
	if policy.MaxAttempts <= 0 {
		policy = DefaultPolicy()
	}
	return &Conn{
		state:   Idle,
		policy:  policy,
		h:       h,
		refresh: refresh,
		expired: expired,
		dialer:  websocket.DefaultDialer,
		sendCh:  make(chan protocol.Frame, 64),
		log:     log.Sub("transport"),
	}
}

// Connect dials with the given credentials. It fails fast on missing or
// expired credentials rather than attempting a doomed connection.
func (c *Conn) Connect(ctx context.Context, creds Credentials) error {
	if creds.Endpoint == "" || creds.Token == "" || c.isExpired() {
		return ErrNoCredentials
	}

	c.mu.Lock()
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = Connecting
	c.creds = creds
	c.reconnect = true
	c.mu.Unlock()

	if err := c.dial(ctx, creds); err != nil {
		c.mu.Lock()
		if c.state == Connecting {
			c.state = Idle
		}
		c.mu.Unlock()
		return err
	}
	return nil
}

// Disconnect closes the connection and disables reconnection, atomically
// with respect to the next close event. Idempotent.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = Closed
	c.reconnect = false
	cur := c.cur
	c.cur = nil
	c.mu.Unlock()

	if cur != nil {
		close(cur.done)
		cur.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		cur.ws.Close()
		if c.h.OnClose != nil {
			c.h.OnClose(nil)
		}
	}
}

// Send queues a frame for the writer goroutine.
func (c *Conn) Send(f protocol.Frame) error {
	c.mu.Lock()
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	select {
	case c.sendCh <- f:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Redial replaces the live connection with one using fresh credentials.
// Used by proactive token refresh; no-op error when not connected, so a
// refresh never opens a connection nobody asked for.
func (c *Conn) Redial(ctx context.Context, creds Credentials) error {
	c.mu.Lock()
	if c.state != Connected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	old := c.cur
	c.cur = nil // stop sessionClosed from treating the old close as a failure
	c.state = Connecting
	c.creds = creds
	c.mu.Unlock()

	if old != nil {
		close(old.done)
		old.ws.Close()
	}

	if err := c.dial(ctx, creds); err != nil {
		c.log.Warn().Err(err).Msg("redial failed, falling back to reconnect loop")
		c.mu.Lock()
		c.state = Reconnecting
		c.mu.Unlock()
		go c.reconnectLoop(nil)
		return err
	}
	return nil
}

func (c *Conn) dial(ctx context.Context, creds Credentials) error {
	endpoint, err := withToken(creds.Endpoint, creds.Token)
	if err != nil {
		return fmt.Errorf("transport: bad endpoint: %w", err)
	}

	ws, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("transport: dial: %w", err)
	}

	s := &session{ws: ws, done: make(chan struct{})}
	c.mu.Lock()
	if c.state == Closed || !c.reconnect {
		// Disconnect landed while the dial was in flight; the fresh
		// socket must not resurrect the connection.
		c.mu.Unlock()
		ws.Close()
		return ErrNotConnected
	}
	c.cur = s
	c.state = Connected
	c.mu.Unlock()

	go c.readLoop(s)
	go c.writeLoop(s)

	c.log.Debug().Str("endpoint", creds.Endpoint).Msg("connected")
	if c.h.OnOpen != nil {
		c.h.OnOpen()
	}
	return nil
}

func (c *Conn) readLoop(s *session) {
	for {
		var f protocol.Frame
		if err := s.ws.ReadJSON(&f); err != nil {
			c.sessionClosed(s, err)
			return
		}
		if c.h.OnFrame != nil {
			c.h.OnFrame(f)
		}
	}
}

func (c *Conn) writeLoop(s *session) {
	for {
		select {
		case f := <-c.sendCh:
			if err := s.ws.WriteJSON(f); err != nil {
				s.ws.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (c *Conn) sessionClosed(s *session, err error) {
	c.mu.Lock()
	if c.cur != s {
		// Superseded by redial or explicit disconnect; nothing to do.
		c.mu.Unlock()
		return
	}
	close(s.done)
	c.cur = nil

	if !c.reconnect {
		c.state = Closed
		c.mu.Unlock()
		c.log.Debug().Err(err).Msg("connection closed")
		if c.h.OnClose != nil {
			c.h.OnClose(err)
		}
		return
	}

	c.state = Reconnecting
	c.mu.Unlock()

	c.log.Warn().Err(err).Msg("connection lost, reconnecting")
	if c.h.OnClose != nil {
		c.h.OnClose(err)
	}
	go c.reconnectLoop(err)
}

func (c *Conn) reconnectLoop(closeErr error) {
	var lastErr error = closeErr
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		time.Sleep(c.backoff(attempt))

		c.mu.Lock()
		if !c.reconnect || c.state == Closed {
			c.mu.Unlock()
			return
		}
		creds := c.creds
		c.mu.Unlock()

		// Retrying a stale token is pointless: refresh first when the
		// close was auth-flavored or the token has since expired.
		if c.refresh != nil && (authFlavored(closeErr) || c.isExpired()) {
			fresh, err := c.refresh(context.Background())
			if err != nil {
				lastErr = err
				c.log.Warn().Err(err).Int("attempt", attempt).Msg("re-initialization failed")
				if c.h.OnError != nil {
					c.h.OnError(err)
				}
				continue
			}
			closeErr = nil
			c.mu.Lock()
			c.creds = fresh
			creds = fresh
			c.mu.Unlock()
		}

		if err := c.dial(context.Background(), creds); err != nil {
			lastErr = err
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
			continue
		}
		return
	}

	c.mu.Lock()
	if !c.reconnect {
		// Explicit disconnect during the final attempts; exhaustion is
		// not an error the caller needs to hear about.
		c.mu.Unlock()
		return
	}
	c.state = Closed
	c.reconnect = false
	c.mu.Unlock()

	err := &ConnectionError{Attempts: c.policy.MaxAttempts, LastErr: lastErr}
	c.log.Error().Err(err).Msg("reconnect attempts exhausted")
	if c.h.OnError != nil {
		c.h.OnError(err)
	}
}

func (c *Conn) backoff(attempt int) time.Duration {
	d := c.policy.BaseDelay << (attempt - 1)
	if d > c.policy.MaxDelay {
		d = c.policy.MaxDelay
	}
	// Up to 10% jitter keeps simultaneous clients from thundering.
	return d + time.Duration(rand.Int63n(int64(d)/10+1))
}

func (c *Conn) isExpired() bool {
	return c.expired != nil && c.expired()
}

// authFlavored reports whether a close error suggests the server rejected
// the credential rather than the network hiccuping.
func authFlavored(err error) bool {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.ClosePolicyViolation
	}
	return false
}

func withToken(endpoint, token string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
