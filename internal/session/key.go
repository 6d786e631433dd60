// ABOUTME: SessionKey identifies one tenant-agent channel session
// ABOUTME: Serializes to a single string used for registry entries, artifact dirs and cache keys

package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidKey is returned when a serialized session key cannot be parsed.
var ErrInvalidKey = errors.New("invalid session key")

// Key identifies exactly one logical channel session: one tenant, one agent.
// Its string form is used as the registry map key, the durable artifact
// directory name and the prefix for all cache keys belonging to the session.
type Key struct {
	TenantID string
	AgentID  string
}

// NewKey builds a validated Key from its parts.
func NewKey(tenantID, agentID string) (Key, error) {
	k := Key{TenantID: tenantID, AgentID: agentID}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// String serializes the key to its canonical single-string form.
func (k Key) String() string {
	return k.TenantID + ":" + k.AgentID
}

// Validate checks that both parts are present and free of the separator
// and path characters (the string form names a directory on disk).
func (k Key) Validate() error {
	if k.TenantID == "" || k.AgentID == "" {
		return fmt.Errorf("%w: tenant and agent are required", ErrInvalidKey)
	}
	for _, part := range []string{k.TenantID, k.AgentID} {
		if strings.ContainsAny(part, ":/\\") {
			return fmt.Errorf("%w: %q contains reserved characters", ErrInvalidKey, part)
		}
	}
	return nil
}

// ParseKey parses the canonical "tenant:agent" form.
func ParseKey(s string) (Key, error) {
	tenant, agent, ok := strings.Cut(s, ":")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, s)
	}
	k := Key{TenantID: tenant, AgentID: agent}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}
