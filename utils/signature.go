package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignPayload returns the hex HMAC-SHA256 of payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyChapaSignature checks a Chapa webhook signature header against the
// payload. Chapa sends the same digest in two headers; any match is enough.
func VerifyChapaSignature(payload []byte, secret string, signatures ...string) bool {
	expected := SignPayload(payload, secret)
	for _, sig := range signatures {
		sig = strings.TrimSpace(strings.ToLower(sig))
		if sig != "" && hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}
