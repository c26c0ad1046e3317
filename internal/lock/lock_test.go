package lock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_TryAcquire(t *testing.T) {
	var l Local
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	release()

	release, ok, err = l.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "lock is free after release")
	release()
}

func TestNewRedis_DefaultTTL(t *testing.T) {
	r := NewRedis(nil, "ledgersync:reconcile", 0)
	assert.Equal(t, DefaultTTL, r.ttl)
	assert.Equal(t, "ledgersync:reconcile", r.key)
}
