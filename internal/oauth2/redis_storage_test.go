package oauth2

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bedsync/internal/common/errors"
	"bedsync/internal/redis"
)

func TestRedisTokenStorage(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer client.Close()

	storage := NewRedisTokenStorage(client)

	token, err := storage.LoadToken(ctx)
	require.NoError(t, err)
	assert.Nil(t, token)

	require.NoError(t, storage.SaveToken(ctx, sampleToken()))

	loaded, err := storage.LoadToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleToken(), loaded)

	assert.Zero(t, mr.TTL(DefaultRedisKey))

	require.NoError(t, mr.Set(DefaultRedisKey, "garbage"))
	_, err = storage.LoadToken(ctx)
	assert.True(t, errors.IsType(err, errors.ErrTypePersistence))
}
