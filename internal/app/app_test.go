package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/config"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		VaultPath:                 filepath.Join(dir, "vault"),
		ChatHistoryPath:           "AI Forge/Chats",
		ChatFileExtension:         "json",
		StateBackend:              backend,
		DatabasePath:              filepath.Join(dir, "data", "state.db"),
		SaveEnabled:               true,
		SaveDebounce:              20 * time.Millisecond,
		MessageTimestampTolerance: time.Second,
		WatchDebounce:             50 * time.Millisecond,
		DefaultModelName:          "llama3",
		DefaultTemperature:        0.7,
		DefaultContextWindow:      4096,
		LogLevel:                  "DEBUG",
	}
}

func TestNewApp(t *testing.T) {
	t.Run("Success - sqlite backend", func(t *testing.T) {
		cfg := testConfig(t, config.BackendSQLite)

		a, err := NewApp(cfg)
		require.NoError(t, err)
		defer func() { require.NoError(t, a.Close()) }()

		assert.NotNil(t, a.DB)
		assert.Nil(t, a.Redis)
		assert.Nil(t, a.Watcher)
		assert.Equal(t, "AI Forge/Chats", a.Store.Root())
		assert.DirExists(t, filepath.Join(cfg.VaultPath, "AI Forge", "Chats"))
		assert.FileExists(t, cfg.DatabasePath)
	})

	t.Run("Success - memory backend with watcher", func(t *testing.T) {
		cfg := testConfig(t, config.BackendMemory)
		cfg.WatchEnabled = true

		a, err := NewApp(cfg)
		require.NoError(t, err)
		defer func() { require.NoError(t, a.Close()) }()

		assert.Nil(t, a.DB)
		require.NotNil(t, a.Watcher)
		require.NoError(t, a.StartWatcher(), "starting twice is a no-op")
	})

	t.Run("Failure - redis unreachable", func(t *testing.T) {
		cfg := testConfig(t, config.BackendRedis)
		cfg.RedisAddr = "127.0.0.1:1"

		_, err := NewApp(cfg)
		assert.Error(t, err)
	})

	t.Run("Failure - chat root is a file", func(t *testing.T) {
		cfg := testConfig(t, config.BackendMemory)
		cfg.ChatHistoryPath = "notes.md"
		require.NoError(t, os.MkdirAll(cfg.VaultPath, 0750))
		require.NoError(t, os.WriteFile(filepath.Join(cfg.VaultPath, "notes.md"), []byte("# notes"), 0600))

		_, err := NewApp(cfg)
		assert.Error(t, err)
	})
}

// TestCommandsAgainstVault drives the CLI over a real vault directory and a
// SQLite state file, then reopens the app to check what was persisted.
func TestCommandsAgainstVault(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.BackendSQLite)

	a, err := NewApp(cfg)
	require.NoError(t, err)

	out := &bytes.Buffer{}
	cli := &CLI{Store: a.Store, Out: out}
	run := func(args ...string) int {
		out.Reset()
		return cli.Execute(ctx, args)
	}

	require.Equal(t, exitOK, run("mkdir", "Work"))
	require.Equal(t, exitOK, run("create", "-folder", "Work", "Sprint", "notes"))
	chatID := a.Store.GetActiveChatID()
	require.NotEmpty(t, chatID)

	require.Equal(t, exitOK, run("add", "user", "What is left?"))
	require.Equal(t, exitOK, run("add", "-chat", chatID, "assistant", "Two tickets."))
	require.Equal(t, exitOK, run("tree"))
	assert.Equal(t, "Work/\n  * Sprint notes ("+chatID+")\n", out.String())

	require.Equal(t, exitOK, run("verify"))
	assert.Contains(t, out.String(), "Index is consistent.")

	assert.Equal(t, exitFailure, run("mkdir", "Work"))
	assert.Contains(t, out.String(), "already exists")

	require.NoError(t, a.Close())

	// Reopen over the same vault and database.
	b, err := NewApp(cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, b.Close()) }()

	assert.Equal(t, chatID, b.Store.GetActiveChatID())
	rec, err := b.Store.GetChat(ctx, chatID)
	require.NoError(t, err)
	require.Equal(t, 2, rec.MessageCount())
	assert.Equal(t, "Two tickets.", rec.Messages()[1].Content)
	assert.True(t, strings.HasPrefix(rec.FilePath(), "AI Forge/Chats/Work/"))
}
