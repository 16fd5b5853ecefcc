// Package idgen generates the prefixed random ids used across the API
// (ord_, hld_, txn_, rcp_, evt_, ntf_, dsp_, lst_).
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

func randomHex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// WithPrefix returns prefix + 24 hex chars (12 random bytes).
func WithPrefix(prefix string) string {
	return prefix + randomHex(12)
}

// Hex returns a random hex string of the given byte length. Used for
// request ids.
func Hex(numBytes int) string {
	return randomHex(numBytes)
}
