package crashpipe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// ReadMessage is the fixed message signed for every read query.
const ReadMessage = "read"

// Sign returns the lowercase hex encoded HMAC-SHA256 of message using secret.
func Sign(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(message) // hash.Hash never returns an error
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeader formats the signature of message as the value expected in
// the X-HMAC-Signature header.
func SignatureHeader(secret string, message []byte) string {
	return "sha256=" + Sign(secret, message)
}
