// Package credential resolves inbound API keys to bot identities. The relay
// only reads credentials; provisioning, rotation and revocation belong to the
// admin tooling that owns the database.
package credential

import (
	"context"
	"errors"
)

// ErrNotFound is returned for unknown and revoked keys alike, so a caller
// cannot distinguish the two.
var ErrNotFound = errors.New("credential not found")

// Identity is the bot bound to an active API key.
type Identity struct {
	BotID int64
	Name  string
	Token string // provider delivery token, stamped onto buffered records
}

// Gate is the single synchronous dependency on the ingestion hot path. It
// must be safe for concurrent use.
type Gate interface {
	Resolve(ctx context.Context, key string) (Identity, error)
}
