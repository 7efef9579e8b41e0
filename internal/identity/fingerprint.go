// Package identity derives the durable device fingerprint that keys all vote accounting.
//
// The fingerprint is a function of the client-asserted device signature alone. Any
// client-persisted secondary identifier (e.g. a localStorage id) is deliberately left
// out: including it would let a client mint a fresh identity by clearing storage. The
// cost is that genuine users sharing one browser share one vote budget.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrEmptySignature is returned when the device signature is empty or whitespace.
var ErrEmptySignature = errors.New("identity: device signature is required")

// Fingerprint returns the lowercase hex SHA-256 of signature.
// The same signature always yields the same fingerprint.
func Fingerprint(signature string) (string, error) {
	if strings.TrimSpace(signature) == "" {
		return "", ErrEmptySignature
	}
	h := sha256.Sum256([]byte(signature))
	return hex.EncodeToString(h[:]), nil
}
