package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/decentraleyes/loadwatcher/internal/config"
	"github.com/decentraleyes/loadwatcher/internal/taint"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	logger := zaptest.NewLogger(t)

	t.Run("file", func(t *testing.T) {
		b, err := Open(ctx, config.StorageConfig{Backend: config.BackendFile, Path: filepath.Join(t.TempDir(), "s.json")}, logger)
		require.NoError(t, err)
		assert.IsType(t, &File{}, b)
	})

	t.Run("sqlite", func(t *testing.T) {
		b, err := Open(ctx, config.StorageConfig{Backend: "SQLite", Path: ":memory:"}, logger)
		require.NoError(t, err)
		defer b.Close()
		assert.IsType(t, &SQLite{}, b)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := Open(ctx, config.StorageConfig{Backend: "etcd"}, logger)
		assert.ErrorIs(t, err, ErrUnknownBackend)
	})
}

// The file backend round-trips the store through a restart.
func TestFileBackedTaintStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storage.json")

	first := taint.New(NewFile(path, zaptest.NewLogger(t)), zaptest.NewLogger(t))
	require.NoError(t, first.Initialize(ctx))
	first.Mark("news.example")
	require.NoError(t, first.Close(ctx))

	second := taint.New(NewFile(path, zaptest.NewLogger(t)), zaptest.NewLogger(t))
	require.NoError(t, second.Initialize(ctx))
	defer second.Close(ctx)

	assert.True(t, second.Contains("news.example"))
	for _, seed := range taint.UndetectableDomains {
		assert.True(t, second.Contains(seed))
	}
}
