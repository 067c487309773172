package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyValid(t *testing.T) {
	assert.True(t, Key("ABC_123$x").Valid())
	assert.False(t, Key("").Valid())
	assert.False(t, Key("has space").Valid())
	assert.False(t, Key("has/slash").Valid())
	assert.False(t, Key("has-dash").Valid())
}

func TestKeyUpper(t *testing.T) {
	assert.Equal(t, Key("ABC123"), Key("abc123").Upper())
	assert.Equal(t, Key("MIXED_CASE$1"), Key("Mixed_Case$1").Upper())
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "abc", Key("abc").String())
}
