// Package random generates cryptographically random identifiers.
package random

import (
	"crypto/rand"
	"encoding/base64"
)

// SessionID returns a 128-bit cryptographically random, URL-safe identifier.
func SessionID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf[:])
}
