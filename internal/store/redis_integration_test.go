//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap/zaptest"
)

// startRedis runs a throwaway Redis server and returns its URL.
func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "failed to start redis container")

	url, err := container.ConnectionString(ctx)
	require.NoError(t, err, "failed to get redis connection string")
	return url
}

func TestRedis_Integration_SharedSetAcrossInstances(t *testing.T) {
	ctx := context.Background()
	url := startRedis(t)
	key := "loadwatcher:test:" + t.Name()

	first, err := OpenRedis(ctx, url, key, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, first.Add(ctx, []string{"news.example", "shop.example"}))
	require.NoError(t, first.Close())

	second, err := OpenRedis(ctx, url, key, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, second.Add(ctx, []string{"news.example", "blog.example"}))
	got, err := second.Load(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"news.example", "shop.example", "blog.example"}, got)
}
