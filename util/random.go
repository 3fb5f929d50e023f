// Package util provides small, stateless utility functions shared across
// the application. Functions here have no dependencies on other internal
// packages.
package util

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"math/rand/v2"
)

// alphanumerics is the character set for container path suffixes. letters
// and digits only, so a suffix is always safe inside both a URL path
// segment and a Docker container name.
const alphanumerics = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomSuffix returns a random alphanumeric string of the given length,
// sampled with replacement. at the default length of 12 the space is
// 62^12, so collisions between live containers are vanishingly unlikely;
// the caller still retries on a path conflict at the proxy.
// suffixes are identifiers, not secrets, so math/rand is the right source
// here. secrets come from NewToken below.
func RandomSuffix(length int) string {
	suffix := make([]byte, length)
	for i := range suffix {
		suffix[i] = alphanumerics[rand.IntN(len(alphanumerics))]
	}
	return string(suffix)
}

// NewToken returns a cryptographically secure random hex string used to
// authenticate the first request against a freshly handed-out container.
// 24 random bytes encoded as hex produces a 48-character string.
func NewToken() (string, error) {
	tokenBytes := make([]byte, 24)
	if _, err := cryptorand.Read(tokenBytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(tokenBytes), nil
}
