package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/silentauction/internal/crypto"
)

// HeaderBidderID carries the bidder identity asserted by the front end.
const HeaderBidderID = "X-Bidder-ID"

// maxBidderIDLen bounds the identity so it stays a sane cache and topic key.
const maxBidderIDLen = 128

type bidderKey struct{}

// BidderID returns the identity stored by the Bidder middleware, or "".
func BidderID(ctx context.Context) string {
	id, _ := ctx.Value(bidderKey{}).(string)
	return id
}

// WithBidderID returns a context carrying id.
func WithBidderID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, bidderKey{}, id)
}

// Bidder returns middleware that reads X-Bidder-ID into the request context.
// Requests without the header pass through anonymously; handlers decide
// whether an identity is required. When signer is non-nil the identity must
// carry a valid X-Bidder-Timestamp / X-Bidder-Signature pair.
func Bidder(signer *crypto.IdentitySigner, now func() time.Time) func(http.Handler) http.Handler {
	if now == nil {
		now = time.Now
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(HeaderBidderID))
			if id == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(id) > maxBidderIDLen || strings.ContainsAny(id, "/|\r\n") {
				writeJSONError(w, http.StatusBadRequest, "malformed bidder id")
				return
			}
			if signer != nil {
				err := signer.Verify(id,
					r.Header.Get(crypto.HeaderBidderTimestamp),
					r.Header.Get(crypto.HeaderBidderSignature),
					now(),
				)
				if err != nil {
					writeJSONError(w, http.StatusUnauthorized, "unverified bidder identity")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithBidderID(r.Context(), id)))
		})
	}
}
