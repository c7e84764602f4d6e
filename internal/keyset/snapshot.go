package keyset

import (
	"slices"
	"time"
)

// Algorithm is the verification algorithm a key is registered for.
type Algorithm string

const (
	AlgRS256 Algorithm = "RS256" // RSASSA-PKCS1-v1_5 with SHA-256
	AlgES256 Algorithm = "ES256" // ECDSA P-256 with SHA-256
)

// Valid reports whether a is one of the supported algorithms.
func (a Algorithm) Valid() bool {
	return a == AlgRS256 || a == AlgES256
}

// SigningKey is one public key from the identity provider's key set.
// Values are immutable; a refresh supersedes them with new values.
type SigningKey struct {
	KeyID     string
	Algorithm Algorithm
	// Key is *rsa.PublicKey for RS256 and *ecdsa.PublicKey for ES256.
	Key       any
	FetchedAt time.Time
}

// Snapshot is an immutable kid -> SigningKey mapping with an expiry.
// It is built once by a successful fetch and never modified afterwards.
type Snapshot struct {
	keys      map[string]SigningKey
	fetchedAt time.Time
	expiresAt time.Time
}

// NewSnapshot builds a snapshot from keys fetched at fetchedAt. Later keys
// with a duplicate kid are ignored.
func NewSnapshot(keys []SigningKey, fetchedAt time.Time, ttl time.Duration) *Snapshot {
	m := make(map[string]SigningKey, len(keys))
	for _, k := range keys {
		if _, dup := m[k.KeyID]; dup {
			continue
		}
		k.FetchedAt = fetchedAt
		m[k.KeyID] = k
	}
	return &Snapshot{keys: m, fetchedAt: fetchedAt, expiresAt: fetchedAt.Add(ttl)}
}

// Lookup returns the key registered under kid.
func (s *Snapshot) Lookup(kid string) (SigningKey, bool) {
	if s == nil {
		return SigningKey{}, false
	}
	k, ok := s.keys[kid]
	return k, ok
}

// ValidAt reports whether the snapshot is present and unexpired at t.
func (s *Snapshot) ValidAt(t time.Time) bool {
	return s != nil && t.Before(s.expiresAt)
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// KeyIDs returns the key ids in the snapshot in sorted order.
func (s *Snapshot) KeyIDs() []string {
	if s == nil {
		return nil
	}
	ids := make([]string, 0, len(s.keys))
	for kid := range s.keys {
		ids = append(ids, kid)
	}
	slices.Sort(ids)
	return ids
}

func (s *Snapshot) FetchedAt() time.Time { return s.fetchedAt }
func (s *Snapshot) ExpiresAt() time.Time { return s.expiresAt }
