package proofcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithEmptyAddrIsDisabled(t *testing.T) {
	c, err := New("")
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNilCacheMethodsAreNoops(t *testing.T) {
	var c *Cache
	require.NoError(t, c.MarkReady(1))
	ready, err := c.IsReady(1)
	require.NoError(t, err)
	assert.False(t, ready)
	require.NoError(t, c.Close())
}

func TestCacheKeyIsStableAndNamespaced(t *testing.T) {
	assert.Equal(t, "coordinator:proof:42", cacheKey(42))
	assert.NotEqual(t, cacheKey(1), cacheKey(2))
}
