package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// hmacHex computes the lowercase hex HMAC-SHA256 of the payload
func hmacHex(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// hmacBase64 computes the standard-base64 HMAC-SHA256 of the payload
func hmacBase64(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// verifySignature compares a presented signature against the expected one in
// constant time
func verifySignature(presented, expected string) bool {
	return presented != "" && hmac.Equal([]byte(presented), []byte(expected))
}
