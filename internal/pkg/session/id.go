// internal/pkg/session/id.go
package session

import (
	"crypto/rand"
	"encoding/base64"
)

// NewID returns an opaque, unguessable session identifier
// (256 bits from crypto/rand, base64url encoded).
func NewID() string {
	buf := make([]byte, 32)
	rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
