//go:build unit

package video

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolBlocksArePageAligned(t *testing.T) {
	pool, err := NewPool(5000, 2)
	require.NoError(t, err)
	defer pool.Close()

	b, err := pool.Get()
	require.NoError(t, err)
	assert.Equal(t, 5000, b.Size())
	assert.Len(t, b.Bytes(), 5000)
	assert.Zero(t, uintptr(unsafe.Pointer(&b.Bytes()[0]))%PageSize)

	b.Bytes()[4999] = 7
	b.Release()
}

func TestPoolExhaustion(t *testing.T) {
	pool, err := NewPool(64, 2)
	require.NoError(t, err)
	defer pool.Close()

	a, err := pool.Get()
	require.NoError(t, err)
	b, err := pool.Get()
	require.NoError(t, err)
	assert.Equal(t, 0, pool.Available())

	_, err = pool.Get()
	assert.ErrorIs(t, err, ErrPoolExhausted)

	a.Release()
	assert.Equal(t, 1, pool.Available())
	c, err := pool.Get()
	require.NoError(t, err)
	c.Release()
	b.Release()
	assert.Equal(t, 2, pool.Available())
}

func TestPoolClose(t *testing.T) {
	pool, err := NewPool(64, 2)
	require.NoError(t, err)

	out, err := pool.Get()
	require.NoError(t, err)

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())

	_, err = pool.Get()
	assert.ErrorIs(t, err, ErrPoolClosed)

	// a block returned after close is unmapped instead of pooled
	out.Release()
	assert.Nil(t, out.Bytes())
}

func TestNewPoolRejectsBadSizes(t *testing.T) {
	_, err := NewPool(64, 0)
	assert.Error(t, err)
	_, err = NewPool(0, 1)
	assert.Error(t, err)
}
