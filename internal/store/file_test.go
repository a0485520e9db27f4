package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestFile_LoadMissingRecord(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "storage.json"), zaptest.NewLogger(t))

	domains, err := f.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, domains)
}

func TestFile_AddMergesAndPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "storage.json")
	f := NewFile(path, zaptest.NewLogger(t))

	require.NoError(t, f.Add(ctx, []string{"b.example", "a.example"}))
	require.NoError(t, f.Add(ctx, []string{"c.example", "a.example"}))

	domains, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example", "b.example", "c.example"}, domains)

	// A fresh backend over the same path sees the same record.
	reopened := NewFile(path, zaptest.NewLogger(t))
	again, err := reopened.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, domains, again)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"taintedDomains":{"a.example":true,"b.example":true,"c.example":true}}`, string(data))
}

func TestFile_RecordIsIndentedByLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	f := NewFile(path, zaptest.NewLogger(t))
	require.NoError(t, f.Add(context.Background(), []string{"b.example", "a.example"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := "{\n" +
		"  \"taintedDomains\": {\n" +
		"    \"a.example\": true,\n" +
		"    \"b.example\": true\n" +
		"  }\n" +
		"}"
	assert.Equal(t, want, string(data))
}

func TestFile_LoadReadsExistingRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"taintedDomains":{"ya.ru":true,"gone.example":false},"other":{"x":true}}`), 0o600))

	domains, err := NewFile(path, zaptest.NewLogger(t)).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"ya.ru"}, domains)
}

func TestFile_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "storage.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	f := NewFile(path, zaptest.NewLogger(t))

	_, err := f.Load(ctx)
	require.Error(t, err)

	require.NoError(t, f.Add(ctx, []string{"a.example"}))
	domains, err := f.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.example"}, domains)

	_, err = os.Stat(path + ".corrupt")
	assert.NoError(t, err, "unreadable record is kept for inspection")
}

func TestFile_NoTempFilesLeftBehind(t *testing.T) {
	dir := t.TempDir()
	f := NewFile(filepath.Join(dir, "storage.json"), zaptest.NewLogger(t))
	require.NoError(t, f.Add(context.Background(), []string{"a.example"}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "storage.json", entries[0].Name())
}
