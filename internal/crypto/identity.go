package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"time"
)

// Header names a trusted front end sets alongside X-Bidder-ID.
const (
	HeaderBidderTimestamp = "X-Bidder-Timestamp"
	HeaderBidderSignature = "X-Bidder-Signature"
)

var (
	ErrSignatureMissing = errors.New("crypto: bidder signature missing")
	ErrSignatureInvalid = errors.New("crypto: bidder signature invalid")
	ErrSignatureStale   = errors.New("crypto: bidder signature outside allowed skew")
)

// IdentitySigner signs and verifies bidder identities with a shared HMAC
// secret: signature = base64url(HMAC-SHA256(secret, timestamp + "." + id)).
type IdentitySigner struct {
	secret []byte
	skew   time.Duration
}

// NewIdentitySigner creates a signer. skew bounds how old (or how far in the
// future) a timestamp may be; zero means five minutes.
func NewIdentitySigner(secret []byte, skew time.Duration) *IdentitySigner {
	if skew <= 0 {
		skew = 5 * time.Minute
	}
	return &IdentitySigner{secret: secret, skew: skew}
}

// Sign returns the timestamp and signature headers for bidderID at now.
func (s *IdentitySigner) Sign(bidderID string, now time.Time) (ts, sig string) {
	ts = strconv.FormatInt(now.Unix(), 10)
	return ts, s.mac(ts, bidderID)
}

// Verify checks a signature produced by Sign.
func (s *IdentitySigner) Verify(bidderID, ts, sig string, now time.Time) error {
	if ts == "" || sig == "" {
		return ErrSignatureMissing
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrSignatureInvalid
	}
	if d := now.Sub(time.Unix(unix, 0)); d > s.skew || d < -s.skew {
		return ErrSignatureStale
	}
	if !hmac.Equal([]byte(sig), []byte(s.mac(ts, bidderID))) {
		return ErrSignatureInvalid
	}
	return nil
}

func (s *IdentitySigner) mac(ts, bidderID string) string {
	m := hmac.New(sha256.New, s.secret)
	m.Write([]byte(ts + "." + bidderID))
	return base64.RawURLEncoding.EncodeToString(m.Sum(nil))
}
