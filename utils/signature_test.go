package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyChapaSignature(t *testing.T) {
	payload := []byte(`{"tx_ref":"tx-1-1","status":"success"}`)
	sig := SignPayload(payload, "hook-secret")

	assert.Len(t, sig, 64)
	assert.True(t, VerifyChapaSignature(payload, "hook-secret", sig))
	assert.True(t, VerifyChapaSignature(payload, "hook-secret", "", strings.ToUpper(sig)), "any header may carry the digest")
	assert.False(t, VerifyChapaSignature(payload, "other-secret", sig))
	assert.False(t, VerifyChapaSignature([]byte(`{"tx_ref":"tx-1-2"}`), "hook-secret", sig))
	assert.False(t, VerifyChapaSignature(payload, "hook-secret"))
}
