package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// VerifySignature checks webhook authenticity: HMAC-SHA256 over the exact
// raw request bytes keyed by the channel secret, base64-encoded, compared to
// the header value. It must be fed the unparsed body; re-serialized JSON
// differs in key order and whitespace and will not match.
func VerifySignature(body []byte, signature, channelSecret string) bool {
	if signature == "" || channelSecret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(channelSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
