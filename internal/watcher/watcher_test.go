package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSyncer struct {
	calls atomic.Int32
}

func (s *countingSyncer) SyncWithFilesystem(context.Context) (bool, error) {
	s.calls.Add(1)
	return true, nil
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	syncer := &countingSyncer{}
	w, err := New(dir, syncer, 50*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer func() { assert.NoError(t, w.Close()) }()

	t.Run("Success - burst of writes syncs once", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), []byte("{}"), 0o600))
		}
		require.Eventually(t, func() bool { return syncer.calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
		time.Sleep(150 * time.Millisecond)
		assert.Equal(t, int32(1), syncer.calls.Load())
	})

	t.Run("Success - files in new subfolders are noticed", func(t *testing.T) {
		before := syncer.calls.Load()
		sub := filepath.Join(dir, "Work")
		require.NoError(t, os.Mkdir(sub, 0o750))
		require.Eventually(t, func() bool { return syncer.calls.Load() > before }, 2*time.Second, 10*time.Millisecond)

		// Give the watcher time to register the new folder.
		time.Sleep(100 * time.Millisecond)
		before = syncer.calls.Load()
		require.NoError(t, os.WriteFile(filepath.Join(sub, "b.json"), []byte("{}"), 0o600))
		require.Eventually(t, func() bool { return syncer.calls.Load() > before }, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("Success - temp files are ignored", func(t *testing.T) {
		time.Sleep(150 * time.Millisecond)
		before := syncer.calls.Load()
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".tmp-123"), []byte("x"), 0o600))
		time.Sleep(200 * time.Millisecond)
		assert.Equal(t, before, syncer.calls.Load())
	})
}

func TestWatcher_MissingDir(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "missing"), &countingSyncer{}, 0)
	require.NoError(t, err)
	assert.Error(t, w.Start())
	assert.NoError(t, w.Close())
}
