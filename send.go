package talkwire

import (
	"github.com/talkwire/talkwire-go/internal/protocol"
	"github.com/talkwire/talkwire-go/internal/transport"
)

// sendPayload is the outbound message body. Tenant, integration, and site
// identifiers are duplicated in snake_case and camelCase because backend
// components disagree on which naming they expect.
type sendPayload struct {
	Text string `json:"text"`

	TenantID           string `json:"tenant_id"`
	TenantIDCamel      string `json:"tenantId"`
	IntegrationID      string `json:"integration_id"`
	IntegrationIDCamel string `json:"integrationId"`
	SiteID             string `json:"site_id,omitempty"`
	SiteIDCamel        string `json:"siteId,omitempty"`

	ConversationID string `json:"conversation_id,omitempty"`
	VisitorID      string `json:"visitor_id,omitempty"`
	SessionID      string `json:"session_id"`
	Fingerprint    string `json:"fingerprint,omitempty"`

	Domain   string `json:"domain,omitempty"`
	Origin   string `json:"origin,omitempty"`
	URL      string `json:"url,omitempty"`
	Referrer string `json:"referrer,omitempty"`

	UserID      string            `json:"user_id,omitempty"`
	UserProfile map[string]string `json:"user_profile,omitempty"`
	SenderName  string            `json:"sender_name,omitempty"`

	TempID string `json:"temp_id,omitempty"`
}

// Send validates preconditions and transmits a message. tempID is an
// optional client-generated id echoed back in the delivery event so the UI
// can reconcile its optimistic insert; pass "" to omit it.
//
// Each unmet precondition is a distinct error and produces no network
// traffic: the connection must be open, the tenant identifier must be
// resolved to a real value, and the integration identifier must be known.
func (c *Client) Send(text, tempID string) error {
	if c.conn.State() != transport.Connected {
		return ErrNotConnected
	}
	if isPlaceholder(c.ids.TenantID()) {
		return &MissingCredentialError{Field: "tenant_id"}
	}
	if c.ids.IntegrationID() == "" {
		return &MissingCredentialError{Field: "integration_id"}
	}

	c.mu.Lock()
	userID, profile := c.userID, c.userProfile
	c.mu.Unlock()

	payload := sendPayload{
		Text:               text,
		TenantID:           c.ids.TenantID(),
		TenantIDCamel:      c.ids.TenantID(),
		IntegrationID:      c.ids.IntegrationID(),
		IntegrationIDCamel: c.ids.IntegrationID(),
		SiteID:             c.ids.SiteID(),
		SiteIDCamel:        c.ids.SiteID(),
		ConversationID:     c.rooms.ConversationID(),
		VisitorID:          c.ids.VisitorID(),
		SessionID:          c.ids.SessionID(),
		Fingerprint:        c.ids.Fingerprint(),
		Domain:             c.cfg.Website.Domain,
		Origin:             c.cfg.Website.Origin,
		URL:                c.cfg.Website.URL,
		Referrer:           c.cfg.Website.Referrer,
		UserID:             userID,
		UserProfile:        profile,
		SenderName:         c.ids.DisplayName(),
		TempID:             tempID,
	}

	f, err := protocol.NewFrame(protocol.EventSendMessage, payload)
	if err != nil {
		return err
	}
	return c.conn.Send(f)
}
