package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeUTF8(t *testing.T) {
	assert.Equal(t, "hello", sanitizeUTF8("hello"))
	assert.Equal(t, "héllo", sanitizeUTF8("héllo"))

	// Invalid byte sequences are dropped, not replaced.
	assert.Equal(t, "ab", sanitizeUTF8("a\xffb"))
	assert.Equal(t, "", sanitizeUTF8("\xc3"))
}

func TestSentinelErrors(t *testing.T) {
	assert.NotErrorIs(t, ErrNotFound, ErrDuplicate)
	assert.EqualError(t, ErrNotFound, "page not found")
	assert.EqualError(t, ErrDuplicate, "page already exists")
}
