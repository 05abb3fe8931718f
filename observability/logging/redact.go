package logging

import (
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// RedactedValue replaces sensitive values in logs.
const RedactedValue = "[REDACTED]"

// MaskSecret redacts value but keeps a short keccak fingerprint so repeated
// failures with the same credential can be correlated.
func MaskSecret(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue+":"+Fingerprint(value))
}

// Fingerprint is the hex of the first four bytes of keccak256(secret).
func Fingerprint(secret string) string {
	return hex.EncodeToString(crypto.Keccak256([]byte(secret))[:4])
}
