// Package providerevent ingests signed identity-provider webhook events and
// applies the same membership state transitions as interactive
// reconciliation, without a live session.
package providerevent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/carelink/carelink/internal/platform/apperr"
)

// maxSignatureSkew bounds how far the signed timestamp may drift from now,
// in either direction. Stale deliveries and clock-skewed-future ones are
// both rejected.
const maxSignatureSkew = 300 * time.Second

// VerifySignature checks the provider signature header against the raw
// request body. The header carries "<unix_ts>,<hex_hmac>" where the HMAC is
// SHA-256 over ts + "." + body. The timestamp inside the header is the only
// one trusted; accepting a separately supplied timestamp would let a replay
// re-sign itself.
func VerifySignature(header string, body []byte, secret string, now time.Time) error {
	tsPart, sigPart, ok := strings.Cut(strings.TrimSpace(header), ",")
	if !ok || tsPart == "" || sigPart == "" {
		return apperr.New(apperr.KindWebhookSignature, "missing or malformed signature header")
	}

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return apperr.New(apperr.KindWebhookSignature, "malformed signature timestamp")
	}
	signedAt := time.Unix(ts, 0)
	if d := now.Sub(signedAt); d > maxSignatureSkew || d < -maxSignatureSkew {
		return apperr.New(apperr.KindWebhookSignature, "signature timestamp outside freshness window")
	}

	provided, err := hex.DecodeString(sigPart)
	if err != nil {
		return apperr.New(apperr.KindWebhookSignature, "malformed signature encoding")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(tsPart))
	mac.Write([]byte("."))
	mac.Write(body)
	if !hmac.Equal(provided, mac.Sum(nil)) {
		return apperr.New(apperr.KindWebhookSignature, "signature mismatch")
	}
	return nil
}

// Sign produces a signature header value for body at the given time. Used
// for outbound test fixtures and local delivery tooling.
func Sign(body []byte, secret string, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return ts + "," + hex.EncodeToString(mac.Sum(nil))
}
