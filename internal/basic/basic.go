// Package basic verifies HTTP Basic credentials for the operator endpoints
// against bcrypt hashed passwords.
//
// Concurrency: Verifier does not mutate any shared state after construction.
package basic

import (
	"encoding/base64"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned when the username/password combination is incorrect.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrNoCredentialSource is returned when no users are configured.
	ErrNoCredentialSource = errors.New("no credential source configured")
	// ErrMissingCredentials is returned when the request carries no Basic credentials.
	ErrMissingCredentials = errors.New("missing basic credentials")
)

type Config struct {
	// Users maps usernames to bcrypt-hashed passwords, as produced by
	// bcrypt.GenerateFromPassword. Plaintext values never match.
	Users map[string]string
	// Realm defaults to "fwdauth-admin".
	Realm string
}

type Verifier struct {
	users map[string]string
	realm string
	// dummy is compared against for unknown users so that lookups take the
	// same time whether or not the user exists.
	dummy []byte
}

func NewVerifier(cfg Config) (*Verifier, error) {
	if len(cfg.Users) == 0 {
		return nil, ErrNoCredentialSource
	}
	if cfg.Realm == "" {
		cfg.Realm = "fwdauth-admin"
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("unused-dummy-password"), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	users := make(map[string]string, len(cfg.Users))
	for u, h := range cfg.Users {
		users[u] = h
	}
	return &Verifier{users: users, realm: cfg.Realm, dummy: dummy}, nil
}

// Verify checks username and password. Failures wrap ErrInvalidCredentials.
func (v *Verifier) Verify(username, password string) error {
	hashed, exists := v.users[username]
	if !exists {
		_ = bcrypt.CompareHashAndPassword(v.dummy, []byte(password))
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// VerifyHeader verifies the value of an Authorization header and returns
// the authenticated username.
func (v *Verifier) VerifyHeader(authorization string) (string, error) {
	user, pass, ok := ParseHeader(authorization)
	if !ok {
		return "", ErrMissingCredentials
	}
	if err := v.Verify(user, pass); err != nil {
		return "", err
	}
	return user, nil
}

// Challenge returns the WWW-Authenticate value for a 401 response.
func (v *Verifier) Challenge() string {
	return `Basic realm="` + v.realm + `"`
}

// ParseHeader extracts credentials from a "Basic <base64>" header value.
func ParseHeader(authorization string) (username, password string, ok bool) {
	scheme, encoded, found := strings.Cut(strings.TrimSpace(authorization), " ")
	if !found || !strings.EqualFold(scheme, "Basic") {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", false
	}
	username, password, ok = strings.Cut(string(raw), ":")
	return username, password, ok
}
