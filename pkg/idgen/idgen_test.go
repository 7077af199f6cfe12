package idgen

import (
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestIds_UniqueAndOrdered(t *testing.T) {
	gen, err := NewRequestIds(7)
	require.NoError(t, err)

	var last uint64
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen.Next()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}

		n, err := strconv.ParseUint(id, 10, 64)
		require.NoError(t, err)
		assert.Greater(t, n, last)
		last = n
	}
}

func TestNextRequestId(t *testing.T) {
	require.NoError(t, Init(3))
	assert.NotEqual(t, NextRequestId(), NextRequestId())
}

func TestNewConnId(t *testing.T) {
	parsed, err := uuid.Parse(NewConnId())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), parsed.Version())
}
