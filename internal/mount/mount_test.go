package mount

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluid-notion-systems/ize/internal/config"
	"github.com/fluid-notion-systems/ize/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		SourceDir: t.TempDir(),
		BareDir:   filepath.Join(t.TempDir(), "store"),
		Channel:   "main",
		FileMode:  0644,
		DirMode:   0755,
		Queue:     config.QueueConfig{Capacity: 16},
		Applier:   config.ApplierConfig{MaxAttempts: 3, InitialBackoffMS: 1, DeadLetterCapacity: 4, DrainDeadlineMS: 500},
	}
}

func TestNewWiresAllComponents(t *testing.T) {
	inst, err := New(context.Background(), newTestConfig(t))
	require.NoError(t, err)
	assert.NotNil(t, inst.Registry)
	assert.NotNil(t, inst.Dispatcher)
	assert.NotNil(t, inst.Queue)
	assert.NotNil(t, inst.Applier)
	assert.NotNil(t, inst.Store)
}

func TestEndToEndCreateWriteFlowsToPatchStore(t *testing.T) {
	cfg := newTestConfig(t)
	inst, err := New(context.Background(), cfg)
	require.NoError(t, err)

	inst.Run(context.Background())
	defer inst.Shutdown()

	ino, h, _, err := inst.Dispatcher.Create(registry.RootInodeID, "a.txt", 0644)
	require.NoError(t, err)
	_, err = inst.Dispatcher.Write(h, ino, 0, []byte("hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return inst.Applier.Stats().Applied >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdownDrainsRemainingOpcodes(t *testing.T) {
	cfg := newTestConfig(t)
	inst, err := New(context.Background(), cfg)
	require.NoError(t, err)

	inst.Run(context.Background())

	_, _, _, err = inst.Dispatcher.Create(registry.RootInodeID, "b.txt", 0644)
	require.NoError(t, err)

	require.NoError(t, inst.Shutdown())
	assert.Equal(t, uint64(1), inst.Applier.Stats().Applied)
}
