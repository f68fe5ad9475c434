package gateway_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/gateway"
)

func newMemFS(t *testing.T) *gateway.AferoFS {
	t.Helper()
	return gateway.NewAferoFS(afero.NewMemMapFs())
}

func TestAferoFS_WriteReadStat(t *testing.T) {
	g := newMemFS(t)

	require.NoError(t, g.Write("Chats/Work/a.json", `{"x":1}`))

	data, err := g.Read("Chats/Work/a.json")
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, data)

	st, err := g.Stat("Chats/Work/a.json")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, gateway.TypeFile, st.Type)

	st, err = g.Stat("Chats/Work")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, gateway.TypeFolder, st.Type)

	st, err = g.Stat("Chats/missing.json")
	require.NoError(t, err)
	assert.Nil(t, st)

	t.Run("Overwrite replaces content", func(t *testing.T) {
		require.NoError(t, g.Write("Chats/Work/a.json", `{"x":2}`))
		data, err := g.Read("Chats/Work/a.json")
		require.NoError(t, err)
		assert.Equal(t, `{"x":2}`, data)
	})

	t.Run("Failure - read missing file", func(t *testing.T) {
		_, err := g.Read("Chats/nope.json")
		assert.ErrorIs(t, err, app_errors.ErrNotFound)
		assert.True(t, gateway.IsNotExist(err))
	})
}

func TestAferoFS_List(t *testing.T) {
	g := newMemFS(t)
	require.NoError(t, g.Write("Chats/b.json", "{}"))
	require.NoError(t, g.Write("Chats/a.json", "{}"))
	require.NoError(t, g.Mkdir("Chats/Work"))

	listing, err := g.List("Chats")
	require.NoError(t, err)
	assert.Equal(t, []string{"Chats/a.json", "Chats/b.json"}, listing.Files)
	assert.Equal(t, []string{"Chats/Work"}, listing.Folders)

	root, err := g.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"Chats"}, root.Folders)

	_, err = g.List("Missing")
	assert.ErrorIs(t, err, app_errors.ErrNotFound)
}

func TestAferoFS_Rename(t *testing.T) {
	g := newMemFS(t)
	require.NoError(t, g.Write("Chats/a.json", "a"))
	require.NoError(t, g.Write("Chats/b.json", "b"))

	t.Run("Success - moves into a new folder", func(t *testing.T) {
		require.NoError(t, g.Rename("Chats/a.json", "Chats/Work/a.json"))
		exists, err := g.Exists("Chats/a.json")
		require.NoError(t, err)
		assert.False(t, exists)
		data, err := g.Read("Chats/Work/a.json")
		require.NoError(t, err)
		assert.Equal(t, "a", data)
	})

	t.Run("Failure - destination exists", func(t *testing.T) {
		require.NoError(t, g.Write("Chats/c.json", "c"))
		err := g.Rename("Chats/c.json", "Chats/b.json")
		assert.ErrorIs(t, err, app_errors.ErrConflict)
	})

	t.Run("Failure - source missing", func(t *testing.T) {
		err := g.Rename("Chats/zzz.json", "Chats/yyy.json")
		assert.ErrorIs(t, err, app_errors.ErrNotFound)
	})
}

func TestAferoFS_RemoveAndRmdir(t *testing.T) {
	g := newMemFS(t)
	require.NoError(t, g.Write("Chats/Work/a.json", "a"))
	require.NoError(t, g.Write("Chats/Work/Deep/b.json", "b"))

	err := g.Remove("Chats/none.json")
	assert.ErrorIs(t, err, app_errors.ErrNotFound)

	require.NoError(t, g.Rmdir("Chats/Work", true))
	exists, err := g.Exists("Chats/Work/Deep/b.json")
	require.NoError(t, err)
	assert.False(t, exists)

	err = g.Rmdir("Chats/Work", true)
	assert.ErrorIs(t, err, app_errors.ErrNotFound)
}

func TestAferoFS_PermissionErrors(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "/Chats/a.json", []byte("a"), 0644))
	g := gateway.NewAferoFS(afero.NewReadOnlyFs(base))

	data, err := g.Read("Chats/a.json")
	require.NoError(t, err)
	assert.Equal(t, "a", data)

	err = g.Write("Chats/b.json", "b")
	assert.ErrorIs(t, err, app_errors.ErrPermission)

	err = g.Remove("Chats/a.json")
	assert.ErrorIs(t, err, app_errors.ErrPermission)
}

func TestNewOSFS(t *testing.T) {
	dir := t.TempDir()
	g, err := gateway.NewOSFS(dir)
	require.NoError(t, err)

	require.NoError(t, g.Write("Chats/Work/a.json", "hello"))
	require.NoError(t, g.Rename("Chats/Work", "Chats/Job"))

	data, err := g.Read("Chats/Job/a.json")
	require.NoError(t, err)
	assert.Equal(t, "hello", data)

	listing, err := g.List("Chats")
	require.NoError(t, err)
	assert.Equal(t, []string{"Chats/Job"}, listing.Folders)
	assert.Empty(t, listing.Files)
}
