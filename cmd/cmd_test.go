// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/decentraleyes/loadwatcher/internal/browser"
	"github.com/decentraleyes/loadwatcher/internal/config"
	"github.com/decentraleyes/loadwatcher/internal/loadwatcher"
	"github.com/decentraleyes/loadwatcher/internal/network"
	"github.com/decentraleyes/loadwatcher/internal/observability"
	"github.com/decentraleyes/loadwatcher/internal/policy"
	"github.com/decentraleyes/loadwatcher/internal/taint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// writeConfig writes a config file that keeps all state inside dir.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	content := `
logger:
  level: error
  format: json
storage:
  backend: file
  path: ` + filepath.Join(dir, "storage.json") + `
  flush_interval: 10ms
proxy:
  address: 127.0.0.1:0
api:
  address: 127.0.0.1:0
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func runCommand(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	observability.ResetForTest()
	t.Cleanup(observability.ResetForTest)

	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := runCommand(t, context.Background(), "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)

	out, err = runCommand(t, context.Background(), "--version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestTaintList_IncludesSeeds(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())

	out, err := runCommand(t, context.Background(), "--config", cfgPath, "taint", "list")
	require.NoError(t, err)
	for _, seed := range taint.UndetectableDomains {
		assert.Contains(t, out, seed+"\n")
	}
}

func TestTaintMarkThenCheck(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	ctx := context.Background()

	out, err := runCommand(t, ctx, "--config", cfgPath, "taint", "mark", "https://News.Example/page")
	require.NoError(t, err)
	assert.Equal(t, "news.example\tmarked\n", out)

	out, err = runCommand(t, ctx, "--config", cfgPath, "taint", "mark", "news.example")
	require.NoError(t, err)
	assert.Equal(t, "news.example\talready tainted\n", out)

	out, err = runCommand(t, ctx, "--config", cfgPath, "taint", "check", "news.example", "other.example")
	require.NoError(t, err)
	assert.Equal(t, "news.example\ttainted\nother.example\tclean\n", out)

	data, err := os.ReadFile(filepath.Join(dir, "storage.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"news.example": true`)
}

func TestTaintCheck_InvalidDomain(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())

	_, err := runCommand(t, context.Background(), "--config", cfgPath, "taint", "check", "   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid domain")
}

func TestMappings_ListsBuiltInHosts(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())

	out, err := runCommand(t, context.Background(), "--config", cfgPath, "mappings")
	require.NoError(t, err)
	assert.Contains(t, out, "cdnjs.cloudflare.com\n")
	assert.Contains(t, out, "ajax.googleapis.com\n")
}

func TestRoot_MissingConfigFile(t *testing.T) {
	_, err := runCommand(t, context.Background(), "--config", filepath.Join(t.TempDir(), "absent.yaml"), "taint", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to initialize configuration")
}

func TestRoot_EnvironmentOverridesConfig(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())
	t.Setenv("LOADWATCHER_STORAGE_BACKEND", "floppy")

	_, err := runCommand(t, context.Background(), "--config", cfgPath, "taint", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestServe_NothingToServe(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())

	_, err := runCommand(t, context.Background(), "--config", cfgPath, "serve", "--no-proxy", "--no-api")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to serve")
}

func TestServe_StopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := runCommand(t, ctx, "--config", cfgPath, "serve")
		errCh <- err
	}()

	// Seeds are persisted during startup.
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(dir, "storage.json"))
		return err == nil && strings.Contains(string(data), taint.UndetectableDomains[0])
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}

func TestComponents_DeliveredEventTaintsOrigin(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewDefaultConfig()
	cfg.SetStoragePath(filepath.Join(dir, "storage.json"))
	logger := zaptest.NewLogger(t)

	c, err := initializeComponents(context.Background(), cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, loadwatcher.StateRegistered, c.Manager.State())

	require.NoError(t, c.Deliverer.Deliver(policy.LoadEvent{
		Source:      "test",
		ContentType: policy.TypeScript,
		Target:      policy.Resolved("cdnjs.cloudflare.com"),
		OriginHost:  "news.example",
		Node:        &policy.Element{Tag: "script", Attributes: map[string]string{"integrity": "sha384-abc"}},
	}))

	// Shutdown lets the queued event run before the watcher is unregistered.
	require.NoError(t, c.Shutdown())
	assert.Equal(t, loadwatcher.StateUnregistered, c.Manager.State())
	assert.True(t, c.Store.Contains("news.example"))

	data, err := os.ReadFile(filepath.Join(dir, "storage.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"news.example": true`)
}

func TestComponents_ShutdownEvaluatesEveryQueuedEvent(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SetStoragePath(filepath.Join(t.TempDir(), "storage.json"))

	c, err := initializeComponents(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	origins := make([]string, 20)
	for i := range origins {
		origins[i] = fmt.Sprintf("site%d.example", i)
		require.NoError(t, c.Deliverer.Deliver(integrityScript(origins[i])))
	}

	require.NoError(t, c.Shutdown())
	for _, origin := range origins {
		assert.True(t, c.Store.Contains(origin), origin)
	}
}

func TestComponents_UnreachableBackendFallsBackToMemory(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SetStorageBackend(config.BackendRedis)
	cfg.StorageCfg.RedisURL = "redis://127.0.0.1:1/0"

	c, err := initializeComponents(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, loadwatcher.StateRegistered, c.Manager.State())
	for _, seed := range taint.UndetectableDomains {
		assert.True(t, c.Store.Contains(seed), seed)
	}

	require.NoError(t, c.Deliverer.Deliver(integrityScript("news.example")))
	require.NoError(t, c.Shutdown())
	assert.True(t, c.Store.Contains("news.example"))
}

// stubAuditor reports each page as having one integrity-bearing CDN script,
// delivering the event the way the browser auditor does.
type stubAuditor struct {
	sink   *policy.Deliverer
	fail   map[string]bool
	closed bool
}

func (a *stubAuditor) Audit(_ context.Context, pageURL string) (*browser.Report, error) {
	if a.fail[pageURL] {
		return nil, errors.New("navigation failed")
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	if err := a.sink.Deliver(integrityScript(u.Hostname())); err != nil {
		return nil, err
	}
	return &browser.Report{PageURL: pageURL, Origin: u.Hostname(), Delivered: 1}, nil
}

func (a *stubAuditor) Close() { a.closed = true }

func TestRunAudits_ReportsTaintFoundOnEveryPage(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.SetStoragePath(filepath.Join(t.TempDir(), "storage.json"))
	logger := zaptest.NewLogger(t)

	c, err := initializeComponents(context.Background(), cfg, logger)
	require.NoError(t, err)

	auditor := &stubAuditor{sink: c.Deliverer, fail: map[string]bool{"https://down.example": true}}
	results, failed := runAudits(context.Background(), c, auditor, []string{"news.example", "https://down.example", "http://shop.example/cart"}, logger)

	assert.True(t, auditor.closed)
	assert.Equal(t, 1, failed)
	assert.Equal(t, loadwatcher.StateUnregistered, c.Manager.State())
	require.Len(t, results, 3)

	assert.Equal(t, "https://news.example", results[0].PageURL)
	assert.True(t, results[0].Tainted)

	assert.Equal(t, "navigation failed", results[1].Error)
	assert.False(t, results[1].Tainted)

	// The last page's event is still queued when the audit loop ends.
	assert.Equal(t, "shop.example", results[2].Origin)
	assert.True(t, results[2].Tainted)
}

func integrityScript(origin string) policy.LoadEvent {
	return policy.LoadEvent{
		Source:      "test",
		ContentType: policy.TypeScript,
		Target:      policy.Resolved("cdnjs.cloudflare.com"),
		OriginHost:  origin,
		Node:        &policy.Element{Tag: "script", Attributes: map[string]string{"integrity": "sha384-abc"}},
	}
}

func TestCAGenerate_ProducesUsableProxyCA(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir)
	certPath := filepath.Join(dir, "ca.pem")
	keyPath := filepath.Join(dir, "ca.key")

	out, err := runCommand(t, context.Background(), "--config", cfgPath, "ca", "generate", "--cert", certPath, "--key", keyPath)
	require.NoError(t, err)
	assert.Contains(t, out, certPath)

	certPEM, keyPEM, err := network.LoadCA(certPath, keyPath)
	require.NoError(t, err)
	proxy, err := network.NewWatchProxy(nil, certPEM, keyPEM, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.True(t, proxy.MITMEnabled())

	// A second run must not clobber the existing CA.
	_, err = runCommand(t, context.Background(), "--config", cfgPath, "ca", "generate", "--cert", certPath, "--key", keyPath)
	assert.Error(t, err)
}

func TestCAGenerate_RequiresPaths(t *testing.T) {
	cfgPath := writeConfig(t, t.TempDir())

	_, err := runCommand(t, context.Background(), "--config", cfgPath, "ca", "generate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paths are required")
}
