package whatsapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// ValidateSignature checks the X-Hub-Signature-256 header against the raw
// request body using the app secret. The header carries a "sha256=" prefix
// followed by the hex HMAC digest.
func ValidateSignature(payload []byte, signatureHeader, secret string) bool {
	signature := strings.TrimPrefix(signatureHeader, signaturePrefix)
	if signature == "" || secret == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// VerifyToken checks the hub.mode and hub.verify_token parameters of a
// webhook verification request.
func VerifyToken(mode, token, expected string) bool {
	return mode == "subscribe" && expected != "" && token == expected
}
