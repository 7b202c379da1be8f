package agents

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	key, err := GenerateKey(enrollKeyPrefix)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "ek_"))
	assert.Greater(t, len(key), 40)

	other, err := GenerateKey(enrollKeyPrefix)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)
}

func TestHashKey(t *testing.T) {
	h1 := HashKey("ek_abc")
	h2 := HashKey("ek_abc")
	h3 := HashKey("ek_abd")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 64)
}
