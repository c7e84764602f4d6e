package fwdauth

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Generic reasons returned to clients. Internal error text is never exposed.
const (
	ReasonMissingToken = "missing bearer token"
	ReasonInvalidToken = "invalid token"
	ReasonUnavailable  = "authentication temporarily unavailable"
)

// Decision is the outcome of one gateway check.
type Decision struct {
	// Status is 200, 401 or 503.
	Status int
	// Reason is empty on 200.
	Reason string
	// Header holds the response headers: the identity contract on 200,
	// WWW-Authenticate on 401 and Retry-After on 503.
	Header http.Header
	// Identity is set on 200.
	Identity *SecurityContext
}

// Allowed reports whether the request is authenticated.
func (d Decision) Allowed() bool { return d.Status == http.StatusOK }

func allow(sc *SecurityContext) Decision {
	return Decision{Status: http.StatusOK, Header: EncodeIdentity(sc), Identity: sc}
}

// unauthorized builds a 401. invalid adds the RFC 6750 error code, which is
// omitted when the request carried no token at all.
func unauthorized(reason string, invalid bool) Decision {
	challenge := "Bearer"
	if invalid {
		challenge = `Bearer error="invalid_token"`
	}
	h := make(http.Header, 1)
	h.Set("WWW-Authenticate", challenge)
	return Decision{Status: http.StatusUnauthorized, Reason: reason, Header: h}
}

func unavailable(retryAfter time.Duration) Decision {
	h := make(http.Header, 1)
	h.Set("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(retryAfter.Seconds())))))
	return Decision{Status: http.StatusServiceUnavailable, Reason: ReasonUnavailable, Header: h}
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is case-insensitive.
func BearerToken(authorization string) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(authorization), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
