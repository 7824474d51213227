// Package webhooks verifies and ingests carrier tracking webhooks.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// MaxAge is how old a webhook timestamp may be before it is rejected.
const MaxAge = 5 * time.Minute

// VerifyHMAC checks an HMAC-SHA256 signature over the raw body using the shared secret.
func VerifyHMAC(secret string, body []byte, provided string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)
	b, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, b)
}

// SignHMAC returns lowercase hex of HMAC-SHA256 for use in headers
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return fmt.Sprintf("%x", mac.Sum(nil))
}

// VerifyTimestamp checks the X-Timestamp header (unix seconds) against
// the allowed age window, both past and future skew.
func VerifyTimestamp(raw string, now time.Time) bool {
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	ts := time.Unix(sec, 0)
	diff := now.Sub(ts)
	if diff < 0 {
		diff = -diff
	}
	return diff <= MaxAge
}
