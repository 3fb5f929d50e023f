package util

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomSuffixLengthAndCharset(t *testing.T) {
	alnum := regexp.MustCompile(`^[a-zA-Z0-9]+$`)

	for _, length := range []int{1, 4, 12, 32} {
		suffix := RandomSuffix(length)
		assert.Len(t, suffix, length)
		assert.Regexp(t, alnum, suffix)
	}
}

func TestRandomSuffixVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		seen[RandomSuffix(12)] = true
	}
	// 100 draws from a 62^12 space colliding would mean the generator is
	// broken, not unlucky.
	assert.Len(t, seen, 100)
}

func TestNewTokenShape(t *testing.T) {
	token, err := NewToken()
	require.NoError(t, err)

	// 24 random bytes hex-encoded: 48 lowercase hex characters.
	assert.Len(t, token, 48)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{48}$`), token)

	other, err := NewToken()
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}
