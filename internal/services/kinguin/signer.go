package kinguin

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

const (
	HeaderAPIKey    = "X-Api-Key"
	HeaderSignature = "X-Api-Signature"
	HeaderTimestamp = "X-Api-Timestamp"
)

// Sign computes the request signature: hex(HMAC-SHA256(secret, path + method + body + timestamp)).
// path must carry the query string exactly as sent and method must be upper case.
func Sign(path, method, body, secret, timestamp string) (string, error) {
	if secret == "" {
		return "", &ConfigurationError{Reason: "api secret is required to sign requests"}
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(path))
	mac.Write([]byte(method))
	mac.Write([]byte(body))
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Timestamp renders t as milliseconds since the Unix epoch.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
