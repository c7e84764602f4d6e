package keyset

import "errors"

var (
	// ErrKeyNotFound means the key id is absent from a current key set. It is a
	// client error (unknown or forged kid), not a cache failure.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrKeySourceUnavailable means no usable key set could be obtained: the
	// fetch failed (or the caller stopped waiting) and there is no unexpired
	// snapshot to fall back on.
	ErrKeySourceUnavailable = errors.New("key source unavailable")

	ErrEmptyKeySet        = errors.New("key set contains no usable signing keys")
	ErrInvalidKeySet      = errors.New("invalid key set document")
	ErrUnsupportedKeyType = errors.New("unsupported key type")
)
