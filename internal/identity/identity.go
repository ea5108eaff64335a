// Package identity performs the widget handshake: it exchanges tenant,
// session, and visitor context for a short-lived access token and a
// streaming endpoint, tracks token expiry, and schedules proactive renewal.
package identity

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talkwire/talkwire-go/internal/logging"
	"github.com/talkwire/talkwire-go/internal/store"
)

const (
	// expiryMargin makes TokenExpired fire ahead of the real deadline so
	// reconnect logic can tell a stale-token disconnect from a network blip.
	expiryMargin = 60 * time.Second
	// refreshFraction of the token lifetime elapses before proactive renewal.
	refreshFraction = 0.8
	// minRefreshLead skips scheduling when the remaining lifetime is too
	// short to be worth a timer; the next reconnect re-initializes instead.
	minRefreshLead = time.Minute
	// conversationTTL bounds how long a cached conversation stays
	// resumable. Past it the server has re-keyed the visitor, so the
	// stale visitor id is cleared at the next handshake.
	conversationTTL = 24 * time.Hour
)

// InitializationError reports a failed handshake. Status is zero for
// network-level failures.
type InitializationError struct {
	Status int
	Err    error
}

func (e *InitializationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("identity: initialization failed: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("identity: initialization failed: %v", e.Err)
}

func (e *InitializationError) Unwrap() error { return e.Err }

// InitContext is the caller-supplied context for a handshake.
type InitContext struct {
	TenantID string
	SiteID   string

	Domain   string
	Origin   string
	URL      string
	Referrer string

	UserID      string
	UserProfile map[string]string
}

// Handshake is the gateway's response to a successful initialize call.
type Handshake struct {
	Token     string `json:"token"`
	SocketURL string `json:"socket_url"`
	ExpiresIn int    `json:"expires_in"`

	TenantID      string `json:"tenant_id"`
	IntegrationID string `json:"integration_id"`
	SiteID        string `json:"site_id,omitempty"`

	SessionID            string  `json:"session_id"`
	VisitorID            string  `json:"visitor_id,omitempty"`
	ConversationID       string  `json:"conversation_id,omitempty"`
	ConversationClosedAt *string `json:"conversation_closed_at,omitempty"`
}

type initRequest struct {
	TenantID    string            `json:"tenant_id,omitempty"`
	SiteID      string            `json:"site_id,omitempty"`
	SessionID   string            `json:"session_id"`
	VisitorID   string            `json:"visitor_id,omitempty"`
	Fingerprint string            `json:"fingerprint"`
	Domain      string            `json:"domain,omitempty"`
	Origin      string            `json:"origin,omitempty"`
	URL         string            `json:"url,omitempty"`
	Referrer    string            `json:"referrer,omitempty"`
	UserID      string            `json:"user_id,omitempty"`
	UserProfile map[string]string `json:"user_profile,omitempty"`
}

// Manager owns the token lifecycle for one client instance.
type Manager struct {
	baseURL string
	apiKey  string
	http    *http.Client
	store   store.IdentityStore
	log     *logging.Logger

	mu            sync.Mutex
	token         string
	expiresAt     time.Time
	socketURL     string
	tenantID      string
	integrationID string
	siteID        string
	sessionID     string
	fingerprint   string
	visitorID     string
	displayName   string
	refreshTimer  *time.Timer

	now func() time.Time
}

// NewManager creates a Manager. The store may be nil, in which case state
// lives only in memory for the life of the Manager.
func NewManager(baseURL, apiKey string, st store.IdentityStore, log *logging.Logger) *Manager {
	if st == nil {
		st = store.NewMemoryIdentityStore()
	}
	return &Manager{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		store:   st,
		log:     log.Sub("identity"),
		now:     time.Now,
	}
}

// Initialize runs the handshake. It loads (or creates) the local session
// identity, sends the POST, and records the returned credential. The cached
// visitor id is only presented when its conversation has not expired.
func (m *Manager) Initialize(ctx context.Context, ic InitContext) (*Handshake, error) {
	local, err := m.store.Load()
	if err != nil {
		return nil, &InitializationError{Err: err}
	}
	if local.SessionID == "" {
		local.SessionID = uuid.New().String()
		local.Fingerprint = deriveFingerprint(local.SessionID)
	}
	if local.ConversationID != "" && local.ConversationExpired(m.now()) && local.VisitorID != "" {
		// Expired conversation: the visitor identity is regenerated
		// server-side, so stop presenting the old one.
		local.VisitorID = ""
		local.ConversationID = ""
		if err := m.store.ClearVisitor(); err != nil {
			m.log.Warn().Err(err).Msg("failed to clear expired visitor state")
		}
	}

	req := initRequest{
		TenantID:    ic.TenantID,
		SiteID:      ic.SiteID,
		SessionID:   local.SessionID,
		VisitorID:   local.VisitorID,
		Fingerprint: local.Fingerprint,
		Domain:      ic.Domain,
		Origin:      ic.Origin,
		URL:         ic.URL,
		Referrer:    ic.Referrer,
		UserID:      ic.UserID,
		UserProfile: ic.UserProfile,
	}

	hs, err := m.post(ctx, req, ic)
	if err != nil {
		return nil, err
	}

	if hs.SessionID == "" {
		hs.SessionID = local.SessionID
	}
	local.SessionID = hs.SessionID
	if hs.VisitorID != "" {
		local.VisitorID = hs.VisitorID
	}
	if hs.ConversationID != "" {
		local.ConversationID = hs.ConversationID
		local.ConversationExpiresAt = m.now().Add(conversationTTL)
	}
	if err := m.store.Save(local); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist identity")
	}

	m.mu.Lock()
	m.token = hs.Token
	m.expiresAt = m.now().Add(time.Duration(hs.ExpiresIn) * time.Second)
	m.socketURL = hs.SocketURL
	m.tenantID = hs.TenantID
	m.integrationID = hs.IntegrationID
	m.siteID = hs.SiteID
	m.sessionID = local.SessionID
	m.fingerprint = local.Fingerprint
	m.visitorID = local.VisitorID
	m.displayName = local.DisplayName
	m.mu.Unlock()

	m.log.Debug().
		Str("sessionId", local.SessionID).
		Int("expiresIn", hs.ExpiresIn).
		Bool("hasConversation", hs.ConversationID != "").
		Msg("handshake complete")

	return hs, nil
}

func (m *Manager) post(ctx context.Context, body initRequest, ic InitContext) (*Handshake, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &InitializationError{Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		m.baseURL+"/widget/initialize", bytes.NewReader(data))
	if err != nil {
		return nil, &InitializationError{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("X-API-Key", m.apiKey)
	}
	// The widget iframe runs under a different origin than the customer's
	// site, so the page origin travels in explicit headers.
	if ic.Origin != "" {
		req.Header.Set("X-Widget-Origin", ic.Origin)
	}
	if ic.Domain != "" {
		req.Header.Set("X-Widget-Domain", ic.Domain)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, &InitializationError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &InitializationError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &InitializationError{
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%s", string(respBody)),
		}
	}

	var hs Handshake
	if err := json.Unmarshal(respBody, &hs); err != nil {
		return nil, &InitializationError{Status: resp.StatusCode, Err: err}
	}
	return &hs, nil
}

// Token returns the current access token.
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// SocketURL returns the streaming endpoint from the last handshake.
func (m *Manager) SocketURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.socketURL
}

// TenantID returns the resolved tenant identifier.
func (m *Manager) TenantID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenantID
}

// IntegrationID returns the resolved integration identifier.
func (m *Manager) IntegrationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.integrationID
}

// SiteID returns the resolved site identifier.
func (m *Manager) SiteID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.siteID
}

// SessionID returns the stable session identifier.
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Fingerprint returns the derived anonymous-matching identifier.
func (m *Manager) Fingerprint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fingerprint
}

// VisitorID returns the server-assigned visitor identifier, if any.
func (m *Manager) VisitorID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visitorID
}

// TokenExpired reports whether the token is missing or within the expiry
// margin of its deadline.
func (m *Manager) TokenExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" {
		return true
	}
	return !m.now().Before(m.expiresAt.Add(-expiryMargin))
}

// ScheduleRefresh arms a timer at 80% of the token's remaining lifetime.
// Scheduling is skipped entirely when the remaining lifetime is under a
// minute; a near-immediate timer would just race the next reconnect.
// Any previously armed timer is replaced.
func (m *Manager) ScheduleRefresh(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}

	remaining := m.expiresAt.Sub(m.now())
	if remaining < minRefreshLead {
		m.log.Debug().Dur("remaining", remaining).Msg("token lifetime too short, skipping refresh timer")
		return
	}

	delay := RefreshDelay(remaining)
	m.refreshTimer = time.AfterFunc(delay, fn)
	m.log.Debug().Dur("delay", delay).Msg("token refresh scheduled")
}

// CancelRefresh stops any pending refresh timer. Idempotent.
func (m *Manager) CancelRefresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refreshTimer != nil {
		m.refreshTimer.Stop()
		m.refreshTimer = nil
	}
}

// RefreshDelay computes the proactive renewal delay for a remaining
// token lifetime.
func RefreshDelay(remaining time.Duration) time.Duration {
	return time.Duration(float64(remaining) * refreshFraction)
}

// DisplayName returns the visitor display name from the welcome flow.
func (m *Manager) DisplayName() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayName
}

// SetDisplayName persists the visitor display name collected by the
// welcome flow; it rides along on every outbound message.
func (m *Manager) SetDisplayName(name string) {
	m.mu.Lock()
	m.displayName = name
	m.mu.Unlock()
	m.updateStore(func(id *store.Identity) { id.DisplayName = name })
}

// SetVisitorID records a server-assigned visitor id announced after the
// handshake (e.g. via a session update event).
func (m *Manager) SetVisitorID(visitorID string) {
	if visitorID == "" {
		return
	}
	m.mu.Lock()
	m.visitorID = visitorID
	m.mu.Unlock()
	m.updateStore(func(id *store.Identity) { id.VisitorID = visitorID })
}

// SetConversationID caches the active conversation so a later process can
// resume it. Each call restarts the resume window.
func (m *Manager) SetConversationID(conversationID string) {
	expires := m.now().Add(conversationTTL)
	m.updateStore(func(id *store.Identity) {
		id.ConversationID = conversationID
		id.ConversationExpiresAt = expires
	})
}

func (m *Manager) updateStore(mutate func(*store.Identity)) {
	id, err := m.store.Load()
	if err != nil {
		m.log.Warn().Err(err).Msg("failed to load identity for update")
		return
	}
	mutate(&id)
	if err := m.store.Save(id); err != nil {
		m.log.Warn().Err(err).Msg("failed to persist identity update")
	}
}

// ClearVisitor drops the visitor identity after conversation expiry.
func (m *Manager) ClearVisitor() error {
	m.mu.Lock()
	m.visitorID = ""
	m.mu.Unlock()
	return m.store.ClearVisitor()
}

func deriveFingerprint(sessionID string) string {
	sum := sha256.Sum256([]byte("talkwire:" + sessionID))
	return hex.EncodeToString(sum[:16])
}
