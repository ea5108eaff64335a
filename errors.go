package talkwire

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send when no connection is open.
	ErrNotConnected = errors.New("talkwire: not connected")
	// ErrNotAdmin is returned by admin-only operations in visitor mode.
	ErrNotAdmin = errors.New("talkwire: operation requires admin mode")
)

// MissingCredentialError reports a send attempted without a required
// identifier. The backend rejects such messages opaquely, so the client
// fails fast and names the missing field.
type MissingCredentialError struct {
	Field string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("talkwire: cannot send message: missing or placeholder %s", e.Field)
}

// placeholders are values that look like an unconfigured template rather
// than a real tenant identifier.
var placeholders = map[string]bool{
	"":               true,
	"YOUR_TENANT_ID": true,
	"{{tenantId}}":   true,
	"{{TENANT_ID}}":  true,
	"undefined":      true,
	"null":           true,
}

func isPlaceholder(v string) bool {
	return placeholders[v]
}
