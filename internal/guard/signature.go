package guard

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// SignRequest computes the HMAC-SHA256 signature over data+timestamp
// with the guard's secret. Exposed for SDK-side signing and tests.
func (g *Guard) SignRequest(data, timestamp string) string {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(data))
	mac.Write([]byte(timestamp))
	mac.Write(g.secret)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signed request. The client-claimed unix
// timestamp must be within the configured drift of server time; the
// signature must match in constant time. Callers surface a failure
// here as a generic request failure — no detail about which check
// tripped leaks to the client.
func (g *Guard) VerifySignature(data, timestamp, signature string) bool {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}

	now := g.now().Unix()
	drift := now - ts
	if drift < 0 {
		drift = -drift
	}
	if drift > int64(g.cfg.TimestampDrift.Seconds()) {
		return false
	}

	expected := g.SignRequest(data, timestamp)
	return hmac.Equal([]byte(expected), []byte(signature))
}
