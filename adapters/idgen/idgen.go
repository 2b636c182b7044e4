// Package idgen provides session id generators.
package idgen

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/artpar/bundlehost/ports"
	"github.com/google/uuid"
)

// UUID generates random (version 4) UUIDs.
type UUID struct{}

// New returns a new UUID v4 string.
func (UUID) New() string {
	return uuid.New().String()
}

// Token generates hex tokens of Bytes random bytes from crypto/rand.
// An empty string is returned if the system source fails.
type Token struct {
	Bytes int
}

// New returns a new hex token.
func (t Token) New() string {
	n := t.Bytes
	if n <= 0 {
		n = 16
	}
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}

var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = Token{}
)
