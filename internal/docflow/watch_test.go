package docflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const singleKindCatalog = `
kinds:
  - kind: settlement
    name: Settlement
    detailPath: /api/settlements/{id}
    protocol: status-post
    statusPath: /api/settlements/status
    dashboard: {mode: approval, basePath: /api/settlements/dashboard}
    roles: [check]
`

func TestHolderWatchReloadsCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(singleKindCatalog), 0o600))

	def := mustDefault(t)
	h := NewHolder(def)
	core, logs := observer.New(zapcore.DebugLevel)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx, path, zap.New(core)) }()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("watching catalog").Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(singleKindCatalog+"\n"), 0o600))
	require.Eventually(t, func() bool {
		return len(h.Catalog().Entries) == 1
	}, 5*time.Second, 20*time.Millisecond)
	reloaded := h.Catalog()
	assert.Equal(t, KindSettlement, reloaded.Entries[0].Kind)

	require.NoError(t, os.WriteFile(path, []byte("kinds: ["), 0o600))
	require.Eventually(t, func() bool {
		return logs.FilterMessage("catalog reload failed").Len() > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Same(t, reloaded, h.Catalog(), "a broken file keeps the previous catalogue")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestHolderWatchIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(singleKindCatalog), 0o600))

	def := mustDefault(t)
	h := NewHolder(def)
	core, logs := observer.New(zapcore.DebugLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Watch(ctx, path, zap.New(core)) }()
	require.Eventually(t, func() bool {
		return logs.FilterMessage("watching catalog").Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	time.Sleep(3 * reloadDelay)
	assert.Same(t, def, h.Catalog())
	assert.Zero(t, logs.FilterMessage("catalog reloaded").Len())
}
