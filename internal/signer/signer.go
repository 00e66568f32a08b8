package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Sign computes a lowercase-hex HMAC-SHA256 over message with the shared
// secret. Deterministic: the same inputs always produce the same signature.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignTimestamped signs the outbound wire form: the decimal unix timestamp
// concatenated with the exact serialized payload bytes. The receiver
// recomputes the same concatenation to verify.
func SignTimestamped(secret, timestamp string, payload []byte) string {
	msg := make([]byte, 0, len(timestamp)+len(payload))
	msg = append(msg, timestamp...)
	msg = append(msg, payload...)
	return Sign(secret, msg)
}

// VerifySecret compares an inbound header secret against the configured one
// in constant time. An empty presented value never verifies.
func VerifySecret(presented, secret string) bool {
	if presented == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(presented), []byte(secret))
}
