// Package common holds what the HTTP and gRPC adapters share: the checker
// they call, required-metadata validation and the error body.
//
// Concurrency: All exported types and functions are safe for concurrent use.
package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/keksclan/goFwdAuth/fwdauth"
)

// ErrMissingRequiredMetadata is returned when a required header or metadata
// key is absent or empty.
var ErrMissingRequiredMetadata = errors.New("missing required metadata")

// Checker is satisfied by *fwdauth.Gateway.
type Checker interface {
	Check(ctx context.Context, authorization string) fwdauth.Decision
}

// RequiredMetadata defines keys that must be present in a request before
// authentication proceeds. A request missing one is answered with 401.
type RequiredMetadata struct {
	// Keys lists required metadata/header names.
	// For HTTP headers, comparison is case-insensitive.
	// For gRPC metadata, keys are treated as lower-case per gRPC conventions.
	Keys []string
}

// MetadataExtractor abstracts reading metadata from different transports.
type MetadataExtractor interface {
	// Get returns the value for the given key and whether it was found.
	Get(key string) (string, bool)
}

// Validate checks that all required keys are present and non-empty.
func (r RequiredMetadata) Validate(ex MetadataExtractor) error {
	for _, key := range r.Keys {
		val, ok := ex.Get(key)
		if !ok || strings.TrimSpace(val) == "" {
			return fmt.Errorf("%w: %s", ErrMissingRequiredMetadata, key)
		}
	}
	return nil
}

// ErrorBody is the JSON body of a 401 or 503 answer.
type ErrorBody struct {
	Error string `json:"error"`
}

// Rejection builds the 401 decision for a request that failed
// required-metadata validation.
func Rejection(err error) fwdauth.Decision {
	d := fwdauth.Decision{Status: http.StatusUnauthorized, Reason: err.Error(), Header: make(http.Header, 1)}
	d.Header.Set("WWW-Authenticate", "Bearer")
	return d
}

// CopyIdentity sets every contract header from an allowed decision through
// set. Empty values are set too, so copies supplied by the client are always
// overwritten.
func CopyIdentity(d fwdauth.Decision, set func(key, value string)) {
	for _, h := range fwdauth.IdentityHeaders {
		set(h, d.Header.Get(h))
	}
}
