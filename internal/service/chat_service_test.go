package service_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/gateway"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/model"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/record"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/repository"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/service"
)

const root = "AI Forge/Chats"

// stepClock advances one second on every reading so that lastModified values
// are distinct and ordered.
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

// faultyFS injects failures into selected gateway calls. Writes below
// holdPrefix wait until release is closed.
type faultyFS struct {
	gateway.FileSystem
	mu         sync.Mutex
	renameErr  error
	writeErr   error
	removeErr  error
	rmdirErr   error
	holdPrefix string
	held       chan struct{}
	release    chan struct{}
}

func (f *faultyFS) set(renameErr, writeErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renameErr, f.writeErr = renameErr, writeErr
}

func (f *faultyFS) setRemove(removeErr, rmdirErr error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeErr, f.rmdirErr = removeErr, rmdirErr
}

// hold makes writes below prefix block. The returned channel receives once a
// write is waiting; closing f.release lets it through.
func (f *faultyFS) hold(prefix string) <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holdPrefix = prefix
	f.held = make(chan struct{}, 1)
	f.release = make(chan struct{})
	return f.held
}

func (f *faultyFS) Remove(p string) error {
	f.mu.Lock()
	err := f.removeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.FileSystem.Remove(p)
}

func (f *faultyFS) Rmdir(p string, recursive bool) error {
	f.mu.Lock()
	err := f.rmdirErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.FileSystem.Rmdir(p, recursive)
}

func (f *faultyFS) Rename(oldPath, newPath string) error {
	f.mu.Lock()
	err := f.renameErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.FileSystem.Rename(oldPath, newPath)
}

func (f *faultyFS) Write(p, data string) error {
	f.mu.Lock()
	err := f.writeErr
	held, release := f.held, f.release
	wait := f.holdPrefix != "" && strings.HasPrefix(p, f.holdPrefix)
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if wait {
		select {
		case held <- struct{}{}:
		default:
		}
		<-release
	}
	return f.FileSystem.Write(p, data)
}

type eventLog struct {
	mu     sync.Mutex
	events []service.Event
}

func watchEvents(svc *service.ChatService) *eventLog {
	l := &eventLog{}
	svc.Subscribe(func(e service.Event) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, e)
	})
	return l
}

func (l *eventLog) types() []service.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]service.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) last(t service.EventType) (service.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Type == t {
			return l.events[i], true
		}
	}
	return service.Event{}, false
}

func newMemFS() gateway.FileSystem {
	return gateway.NewAferoFS(afero.NewMemMapFs())
}

func newService(t *testing.T, fs gateway.FileSystem, repo repository.Repository) *service.ChatService {
	t.Helper()
	return newServiceWithDebounce(t, fs, repo, 10*time.Millisecond)
}

func newServiceWithDebounce(t *testing.T, fs gateway.FileSystem, repo repository.Repository, debounce time.Duration) *service.ChatService {
	t.Helper()
	clock := &stepClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	temp := 0.7
	svc, err := service.NewChatService(fs, repo, nil, service.Options{
		ChatHistoryPath:    root + "/",
		FileExtension:      ".json",
		SaveEnabled:        true,
		SaveDebounce:       debounce,
		DefaultModelName:   "llama3",
		DefaultTemperature: &temp,
		Now:                clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, svc.Initialize(context.Background()))
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

// writeExternalChat puts a valid chat file on disk without going through the store.
func writeExternalChat(t *testing.T, fs gateway.FileSystem, dir, name string) string {
	t.Helper()
	id := uuid.NewString()
	ts := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	meta := model.ChatMetadata{ID: id, Name: name, CreatedAt: ts, LastModified: ts}
	require.NoError(t, record.New(fs, dir+"/"+id+".json", meta, nil, record.Options{}).SaveImmediately())
	return id
}

func assertIndexAgrees(t *testing.T, svc *service.ChatService) {
	t.Helper()
	require.NoError(t, svc.Close())
	report, err := svc.VerifyIndex(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Consistent(), "missing=%v orphaned=%v stale=%v", report.Missing, report.Orphaned, report.Stale)
}

func TestNewChatService(t *testing.T) {
	repo := repository.NewMemoryRepository()

	_, err := service.NewChatService(newMemFS(), repo, nil, service.Options{ChatHistoryPath: "a/../b", FileExtension: "json"})
	assert.ErrorIs(t, err, app_errors.ErrValidation)

	_, err = service.NewChatService(newMemFS(), repo, nil, service.Options{ChatHistoryPath: root})
	assert.ErrorIs(t, err, app_errors.ErrValidation)

	svc, err := service.NewChatService(newMemFS(), repo, nil, service.Options{ChatHistoryPath: `AI Forge\Chats\`, FileExtension: "json"})
	require.NoError(t, err)
	assert.Equal(t, root, svc.Root())
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - creates the chat history root", func(t *testing.T) {
		fs := newMemFS()
		newService(t, fs, repository.NewMemoryRepository())
		st, err := fs.Stat(root)
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.Equal(t, gateway.TypeFolder, st.Type)
	})

	t.Run("Success - restores the active chat of the previous run", func(t *testing.T) {
		fs, repo := newMemFS(), repository.NewMemoryRepository()
		first := newService(t, fs, repo)
		rec, err := first.CreateNewChat(ctx, "Keep me", "")
		require.NoError(t, err)
		require.NoError(t, first.Close())

		second := newService(t, fs, repo)
		assert.Equal(t, rec.ID(), second.GetActiveChatID())
		active, err := second.GetActiveChat(ctx)
		require.NoError(t, err)
		assert.Equal(t, "Keep me", active.Metadata().Name)
	})

	t.Run("Success - unknown stored active chat is cleared", func(t *testing.T) {
		repo := repository.NewMemoryRepository()
		require.NoError(t, repo.Set(ctx, repository.KeyActiveChatID, uuid.NewString()))

		svc := newService(t, newMemFS(), repo)
		assert.Empty(t, svc.GetActiveChatID())
		_, err := repo.Get(ctx, repository.KeyActiveChatID)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("Success - changed root forces a rebuild", func(t *testing.T) {
		fs, repo := newMemFS(), repository.NewMemoryRepository()
		id := writeExternalChat(t, fs, root, "On disk")
		require.NoError(t, repo.Set(ctx, repository.KeyChatIndex, `{}`))
		require.NoError(t, repo.Set(ctx, repository.KeyChatHistoryRoot, "Old/Chats"))

		svc := newService(t, fs, repo)
		chats := svc.ListChats(ctx)
		require.Len(t, chats, 1)
		assert.Equal(t, id, chats[0].ID)

		stored, err := repo.Get(ctx, repository.KeyChatHistoryRoot)
		require.NoError(t, err)
		assert.Equal(t, root, stored)
	})

	t.Run("Success - unchanged root trusts the persisted index", func(t *testing.T) {
		fs, repo := newMemFS(), repository.NewMemoryRepository()
		writeExternalChat(t, fs, root, "On disk")
		require.NoError(t, repo.Set(ctx, repository.KeyChatIndex, `{}`))
		require.NoError(t, repo.Set(ctx, repository.KeyChatHistoryRoot, root))

		svc := newService(t, fs, repo)
		assert.Empty(t, svc.ListChats(ctx))
	})

	t.Run("Failure - root is a file", func(t *testing.T) {
		fs := newMemFS()
		require.NoError(t, fs.Write(root, "not a folder"))
		svc, err := service.NewChatService(fs, repository.NewMemoryRepository(), nil, service.Options{ChatHistoryPath: root, FileExtension: "json"})
		require.NoError(t, err)
		assert.ErrorIs(t, svc.Initialize(ctx), app_errors.ErrValidation)
	})
}

func TestCreateNewChat(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - chat in the root", func(t *testing.T) {
		fs := newMemFS()
		svc := newService(t, fs, repository.NewMemoryRepository())
		events := watchEvents(svc)

		rec, err := svc.CreateNewChat(ctx, "Daily Notes", "")
		require.NoError(t, err)

		chats := svc.ListChats(ctx)
		require.Len(t, chats, 1)
		assert.Equal(t, "Daily Notes", chats[0].Name)
		assert.Equal(t, "llama3", chats[0].ModelName)
		require.NotNil(t, chats[0].Temperature)
		assert.Equal(t, 0.7, *chats[0].Temperature)

		nodes, err := svc.GetChatHierarchy(ctx)
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		chat, ok := nodes[0].(*model.ChatNode)
		require.True(t, ok)
		assert.Equal(t, "Daily Notes", chat.Metadata.Name)
		assert.Equal(t, root+"/"+rec.ID()+".json", chat.FilePath)

		exists, err := fs.Exists(rec.FilePath())
		require.NoError(t, err)
		assert.True(t, exists, "the first write is immediate")

		assert.Equal(t, rec.ID(), svc.GetActiveChatID())
		assert.Equal(t, []service.EventType{service.EventChatListUpdated, service.EventActiveChatChanged}, events.types())
		changed, _ := events.last(service.EventActiveChatChanged)
		assert.Same(t, rec, changed.Chat)
	})

	t.Run("Success - default name and subfolder", func(t *testing.T) {
		svc := newService(t, newMemFS(), repository.NewMemoryRepository())
		require.NoError(t, svc.CreateFolder(ctx, root+"/Work"))

		rec, err := svc.CreateNewChat(ctx, "  ", root+"/Work")
		require.NoError(t, err)
		assert.Contains(t, rec.Metadata().Name, "Chat ")
		assert.Equal(t, root+"/Work/"+rec.ID()+".json", rec.FilePath())
	})

	validationCases := []struct {
		name   string
		chat   string
		folder string
	}{
		{"Reserved character", "a/b", ""},
		{"Traversal in folder", "ok", root + "/../x"},
		{"Folder outside the root", "ok", "Elsewhere"},
	}
	for _, tc := range validationCases {
		t.Run("Failure - "+tc.name, func(t *testing.T) {
			fs := newMemFS()
			svc := newService(t, fs, repository.NewMemoryRepository())
			_, err := svc.CreateNewChat(ctx, tc.chat, tc.folder)
			assert.ErrorIs(t, err, app_errors.ErrValidation)
			assert.Empty(t, svc.ListChats(ctx))
		})
	}

	t.Run("Failure - permission error registers nothing", func(t *testing.T) {
		fs := &faultyFS{FileSystem: newMemFS()}
		svc := newService(t, fs, repository.NewMemoryRepository())
		fs.set(nil, fmt.Errorf("%w: read-only vault", app_errors.ErrPermission))

		_, err := svc.CreateNewChat(ctx, "Nope", "")
		assert.ErrorIs(t, err, app_errors.ErrPermission)
		assert.NotErrorIs(t, err, app_errors.ErrAmbiguousState)
		assert.Empty(t, svc.ListChats(ctx))
		assert.Empty(t, svc.GetActiveChatID())
	})
}

func TestMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - three exchanges on the active chat", func(t *testing.T) {
		fs := newMemFS()
		svc := newService(t, fs, repository.NewMemoryRepository())
		rec, err := svc.CreateNewChat(ctx, "Talk", "")
		require.NoError(t, err)
		events := watchEvents(svc)

		prev := rec.Metadata().LastModified
		for i := 0; i < 3; i++ {
			for _, role := range []model.Role{model.RoleUser, model.RoleAssistant} {
				_, err := svc.AddMessageToActiveChat(ctx, role, fmt.Sprintf("%s %d", role, i))
				require.NoError(t, err)
				got, err := svc.GetChat(ctx, rec.ID())
				require.NoError(t, err)
				lm := got.Metadata().LastModified
				assert.True(t, lm.After(prev), "lastModified must increase")
				prev = lm
			}
		}

		got, err := svc.GetChat(ctx, rec.ID())
		require.NoError(t, err)
		assert.Len(t, got.Messages(), 6)
		added, ok := events.last(service.EventMessageAdded)
		require.True(t, ok)
		assert.Equal(t, "assistant 2", added.Message.Content)

		chats := svc.ListChats(ctx)
		assert.True(t, prev.Equal(chats[0].LastModified), "index follows message activity")

		require.NoError(t, svc.Close())
		onDisk, err := record.Load(fs, rec.FilePath(), record.Options{})
		require.NoError(t, err)
		assert.Len(t, onDisk.Messages(), 6)
	})

	t.Run("Failure - no active chat", func(t *testing.T) {
		svc := newService(t, newMemFS(), repository.NewMemoryRepository())
		_, err := svc.AddMessageToActiveChat(ctx, model.RoleUser, "hello")
		assert.ErrorIs(t, err, app_errors.ErrNotFound)
	})

	t.Run("Failure - invalid role", func(t *testing.T) {
		svc := newService(t, newMemFS(), repository.NewMemoryRepository())
		rec, err := svc.CreateNewChat(ctx, "Talk", "")
		require.NoError(t, err)
		_, err = svc.AddMessage(ctx, rec.ID(), model.Role("robot"), "beep")
		assert.ErrorIs(t, err, app_errors.ErrValidation)
	})

	t.Run("Success - delete by timestamp within tolerance", func(t *testing.T) {
		svc := newService(t, newMemFS(), repository.NewMemoryRepository())
		rec, err := svc.CreateNewChat(ctx, "Talk", "")
		require.NoError(t, err)
		base := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
		_, err = svc.AppendMessage(ctx, rec.ID(), model.Message{Role: model.RoleUser, Content: "first", Timestamp: base})
		require.NoError(t, err)
		_, err = svc.AppendMessage(ctx, rec.ID(), model.Message{Role: model.RoleAssistant, Content: "second", Timestamp: base.Add(5 * time.Second)})
		require.NoError(t, err)
		events := watchEvents(svc)

		err = svc.DeleteMessageByTimestamp(ctx, rec.ID(), base.Add(2*time.Second))
		assert.ErrorIs(t, err, app_errors.ErrNotFound, "no guessing outside the tolerance")

		require.NoError(t, svc.DeleteMessageByTimestamp(ctx, rec.ID(), base.Add(400*time.Millisecond)))
		msgs := rec.Messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "second", msgs[0].Content)

		deleted, ok := events.last(service.EventMessageDeleted)
		require.True(t, ok)
		assert.True(t, deleted.Timestamp.Equal(base))
	})

	t.Run("Success - truncate and clear", func(t *testing.T) {
		svc := newService(t, newMemFS(), repository.NewMemoryRepository())
		rec, err := svc.CreateNewChat(ctx, "Talk", "")
		require.NoError(t, err)
		for i := 0; i < 4; i++ {
			_, err := svc.AddMessage(ctx, rec.ID(), model.RoleUser, fmt.Sprint(i))
			require.NoError(t, err)
		}
		events := watchEvents(svc)

		removed, err := svc.DeleteMessagesAfter(ctx, rec.ID(), 1)
		require.NoError(t, err)
		assert.Equal(t, 2, removed)
		assert.Equal(t, 2, rec.MessageCount())

		_, err = svc.DeleteMessagesAfter(ctx, rec.ID(), 9)
		assert.ErrorIs(t, err, app_errors.ErrValidation)

		require.NoError(t, svc.ClearChatMessagesByID(ctx, rec.ID()))
		assert.Zero(t, rec.MessageCount())
		cleared, ok := events.last(service.EventMessagesCleared)
		require.True(t, ok)
		assert.Equal(t, rec.ID(), cleared.ChatID)

		assertIndexAgrees(t, svc)
	})
}

func TestRenameAndUpdateChat(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc := newService(t, newMemFS(), repo)
	rec, err := svc.CreateNewChat(ctx, "Untitled", "")
	require.NoError(t, err)

	t.Run("Success - rename shows in index and hierarchy", func(t *testing.T) {
		require.NoError(t, svc.RenameChat(ctx, rec.ID(), "Project X"))

		assert.Equal(t, "Project X", svc.ListChats(ctx)[0].Name)
		nodes, err := svc.GetChatHierarchy(ctx)
		require.NoError(t, err)
		var names []string
		model.Walk(nodes, model.VisitorFuncs{
			Folder: func(*model.FolderNode) {},
			Chat:   func(c *model.ChatNode) { names = append(names, c.Metadata.Name) },
		})
		assert.Equal(t, []string{"Project X"}, names)

		persisted, err := repo.Get(ctx, repository.KeyChatIndex)
		require.NoError(t, err)
		assert.Contains(t, persisted, "Project X")
		assert.NotContains(t, persisted, "Untitled")
	})

	t.Run("Success - unchanged patch emits nothing", func(t *testing.T) {
		events := watchEvents(svc)
		require.NoError(t, svc.RenameChat(ctx, rec.ID(), "Project X"))
		assert.Empty(t, events.types())
	})

	t.Run("Success - metadata patch", func(t *testing.T) {
		temp, window, modelName := 1.2, 8192, "mistral"
		require.NoError(t, svc.UpdateChatMetadata(ctx, rec.ID(), record.MetadataPatch{
			ModelName: &modelName, Temperature: &temp, ContextWindow: &window,
		}))
		meta := svc.ListChats(ctx)[0]
		assert.Equal(t, "mistral", meta.ModelName)
		assert.Equal(t, 8192, *meta.ContextWindow)
	})

	failures := []struct {
		name  string
		patch record.MetadataPatch
	}{
		{"Temperature above range", record.MetadataPatch{Temperature: ptr(3.0)}},
		{"Non-positive context window", record.MetadataPatch{ContextWindow: ptr(0)}},
		{"Reserved character in name", record.MetadataPatch{Name: ptr("a:b")}},
	}
	for _, tc := range failures {
		t.Run("Failure - "+tc.name, func(t *testing.T) {
			err := svc.UpdateChatMetadata(ctx, rec.ID(), tc.patch)
			assert.ErrorIs(t, err, app_errors.ErrValidation)
		})
	}

	t.Run("Failure - unknown chat", func(t *testing.T) {
		assert.ErrorIs(t, svc.RenameChat(ctx, uuid.NewString(), "x"), app_errors.ErrNotFound)
	})
}

func ptr[T any](v T) *T { return &v }

func TestCloneChat(t *testing.T) {
	ctx := context.Background()
	svc := newService(t, newMemFS(), repository.NewMemoryRepository())
	require.NoError(t, svc.CreateFolder(ctx, root+"/Work"))
	src, err := svc.CreateNewChat(ctx, "Plan", root+"/Work")
	require.NoError(t, err)
	_, err = svc.AddMessage(ctx, src.ID(), model.RoleUser, "step one")
	require.NoError(t, err)

	clone, err := svc.CloneChat(ctx, src.ID())
	require.NoError(t, err)
	assert.NotEqual(t, src.ID(), clone.ID())
	assert.Equal(t, "Copy of Plan", clone.Metadata().Name)
	assert.Equal(t, root+"/Work/"+clone.ID()+".json", clone.FilePath())
	assert.Equal(t, src.Messages(), clone.Messages())
	assert.Equal(t, clone.ID(), svc.GetActiveChatID())
	assert.Len(t, svc.ListChats(ctx), 2)

	assertIndexAgrees(t, svc)
}

func TestActiveChat(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	svc := newService(t, newMemFS(), repo)
	a, err := svc.CreateNewChat(ctx, "A", "")
	require.NoError(t, err)
	b, err := svc.CreateNewChat(ctx, "B", "")
	require.NoError(t, err)
	require.Equal(t, b.ID(), svc.GetActiveChatID())

	t.Run("Success - switch and persist", func(t *testing.T) {
		events := watchEvents(svc)
		require.NoError(t, svc.SetActiveChat(ctx, a.ID()))
		stored, err := repo.Get(ctx, repository.KeyActiveChatID)
		require.NoError(t, err)
		assert.Equal(t, a.ID(), stored)
		changed, ok := events.last(service.EventActiveChatChanged)
		require.True(t, ok)
		assert.Equal(t, a.ID(), changed.ChatID)
	})

	t.Run("Success - same id is a no-op", func(t *testing.T) {
		events := watchEvents(svc)
		require.NoError(t, svc.SetActiveChat(ctx, a.ID()))
		assert.Empty(t, events.types())
	})

	t.Run("Failure - unknown id keeps the previous chat", func(t *testing.T) {
		err := svc.SetActiveChat(ctx, uuid.NewString())
		assert.ErrorIs(t, err, app_errors.ErrNotFound)
		assert.Equal(t, a.ID(), svc.GetActiveChatID())
	})

	t.Run("Success - external chat is found after the rebuild", func(t *testing.T) {
		fs := newMemFS()
		other := newService(t, fs, repository.NewMemoryRepository())
		id := writeExternalChat(t, fs, root, "Dropped in")
		require.NoError(t, other.SetActiveChat(ctx, id))
		assert.Equal(t, id, other.GetActiveChatID())
	})

	t.Run("Success - corrupt chat is activated without a record", func(t *testing.T) {
		fs := newMemFS()
		other := newService(t, fs, repository.NewMemoryRepository())
		broken, err := other.CreateNewChat(ctx, "Broken", "")
		require.NoError(t, err)
		_, err = other.CreateNewChat(ctx, "Fine", "")
		require.NoError(t, err)
		require.NoError(t, other.Close())
		require.NoError(t, fs.Write(broken.FilePath(), `{"metadata":`))
		events := watchEvents(other)

		require.NoError(t, other.SetActiveChat(ctx, broken.ID()))
		assert.Equal(t, broken.ID(), other.GetActiveChatID())
		changed, ok := events.last(service.EventActiveChatChanged)
		require.True(t, ok)
		assert.Equal(t, broken.ID(), changed.ChatID)
		assert.Nil(t, changed.Chat)

		_, err = other.GetActiveChat(ctx)
		assert.ErrorIs(t, err, app_errors.ErrCorruptData)
		assert.Len(t, other.ListChats(ctx), 2, "the corrupt chat stays listed")
	})

	t.Run("Success - handlers may call back into the store", func(t *testing.T) {
		var seen string
		unsubscribe := svc.Subscribe(func(e service.Event) {
			if e.Type == service.EventActiveChatChanged {
				seen = svc.GetActiveChatID()
			}
		})
		defer unsubscribe()
		require.NoError(t, svc.SetActiveChat(ctx, b.ID()))
		assert.Equal(t, b.ID(), seen)
	})

	t.Run("Success - clear", func(t *testing.T) {
		require.NoError(t, svc.SetActiveChat(ctx, ""))
		assert.Empty(t, svc.GetActiveChatID())
		active, err := svc.GetActiveChat(ctx)
		require.NoError(t, err)
		assert.Nil(t, active)
		_, err = repo.Get(ctx, repository.KeyActiveChatID)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})
}

func TestDeleteChat(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - idempotent and falls back to the most recent chat", func(t *testing.T) {
		fs := newMemFS()
		svc := newService(t, fs, repository.NewMemoryRepository())
		older, err := svc.CreateNewChat(ctx, "Older", "")
		require.NoError(t, err)
		newer, err := svc.CreateNewChat(ctx, "Newer", "")
		require.NoError(t, err)

		require.NoError(t, svc.DeleteChat(ctx, newer.ID()))
		require.NoError(t, svc.DeleteChat(ctx, newer.ID()))

		exists, err := fs.Exists(newer.FilePath())
		require.NoError(t, err)
		assert.False(t, exists)
		chats := svc.ListChats(ctx)
		require.Len(t, chats, 1)
		assert.Equal(t, older.ID(), chats[0].ID)
		assert.Equal(t, older.ID(), svc.GetActiveChatID())

		assertIndexAgrees(t, svc)
	})

	t.Run("Success - unknown id", func(t *testing.T) {
		svc := newService(t, newMemFS(), repository.NewMemoryRepository())
		assert.NoError(t, svc.DeleteChat(ctx, uuid.NewString()))
	})

	t.Run("Success - uncached chat file is removed", func(t *testing.T) {
		fs := newMemFS()
		svc := newService(t, fs, repository.NewMemoryRepository())
		id := writeExternalChat(t, fs, root, "External")
		_, err := svc.RebuildIndex(ctx)
		require.NoError(t, err)

		require.NoError(t, svc.DeleteChat(ctx, id))
		assert.Empty(t, svc.ListChats(ctx))
		assertIndexAgrees(t, svc)
	})

	t.Run("Failure - refused removal keeps the chat and its edits", func(t *testing.T) {
		fs := &faultyFS{FileSystem: newMemFS()}
		svc := newServiceWithDebounce(t, fs, repository.NewMemoryRepository(), time.Hour)
		rec, err := svc.CreateNewChat(ctx, "Pinned", "")
		require.NoError(t, err)
		_, err = svc.AddMessage(ctx, rec.ID(), model.RoleUser, "first")
		require.NoError(t, err)
		_, err = svc.AddMessage(ctx, rec.ID(), model.RoleUser, "pending")
		require.NoError(t, err)

		fs.setRemove(fmt.Errorf("%w: file is locked", app_errors.ErrPermission), nil)
		err = svc.DeleteChat(ctx, rec.ID())
		require.ErrorIs(t, err, app_errors.ErrPermission)
		fs.setRemove(nil, nil)

		assert.Equal(t, rec.ID(), svc.GetActiveChatID())
		_, err = svc.AddMessage(ctx, rec.ID(), model.RoleAssistant, "after")
		require.NoError(t, err)
		require.NoError(t, svc.Close())

		loaded, err := record.Load(fs, rec.FilePath(), record.Options{})
		require.NoError(t, err)
		assert.Equal(t, 3, loaded.MessageCount())
		assertIndexAgrees(t, svc)
	})

	t.Run("Success - last chat leaves no active chat", func(t *testing.T) {
		svc := newService(t, newMemFS(), repository.NewMemoryRepository())
		only, err := svc.CreateNewChat(ctx, "Only", "")
		require.NoError(t, err)
		require.NoError(t, svc.DeleteChat(ctx, only.ID()))
		assert.Empty(t, svc.GetActiveChatID())
	})
}

func TestSelfHealing(t *testing.T) {
	ctx := context.Background()
	fs := newMemFS()
	svc := newService(t, fs, repository.NewMemoryRepository())
	survivor, err := svc.CreateNewChat(ctx, "Survivor", "")
	require.NoError(t, err)
	gone, err := svc.CreateNewChat(ctx, "Gone", "")
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	require.NoError(t, fs.Remove(gone.FilePath()))

	_, err = svc.GetChat(ctx, gone.ID())
	assert.ErrorIs(t, err, app_errors.ErrNotFound)
	assert.Len(t, svc.ListChats(ctx), 1)
	assert.Equal(t, survivor.ID(), svc.GetActiveChatID())

	t.Run("Corrupt file is reported, not dropped", func(t *testing.T) {
		require.NoError(t, svc.Close())
		require.NoError(t, fs.Write(survivor.FilePath(), `{"metadata":`))
		_, err := svc.GetChat(ctx, survivor.ID())
		assert.ErrorIs(t, err, app_errors.ErrCorruptData)

		var parseErr *record.ParseError
		require.True(t, errors.As(err, &parseErr))
		assert.Equal(t, survivor.FilePath(), parseErr.Path)
	})

	t.Run("Explicit path that fails to load is forgotten", func(t *testing.T) {
		_, err := svc.GetChatAt(ctx, survivor.ID(), survivor.FilePath())
		assert.ErrorIs(t, err, app_errors.ErrCorruptData)
		assert.Empty(t, svc.ListChats(ctx))
		assert.Empty(t, svc.GetActiveChatID())
	})
}

func TestRebuildAfterCorruption(t *testing.T) {
	ctx := context.Background()
	fs := newMemFS()
	svc := newService(t, fs, repository.NewMemoryRepository())
	keep, err := svc.CreateNewChat(ctx, "Keep", "")
	require.NoError(t, err)
	broken, err := svc.CreateNewChat(ctx, "Broken", "")
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	require.NoError(t, fs.Write(broken.FilePath(), "{ not json"))

	n, err := svc.RebuildIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	chats := svc.ListChats(ctx)
	require.Len(t, chats, 1)
	assert.Equal(t, keep.ID(), chats[0].ID)
	assert.Equal(t, keep.ID(), svc.GetActiveChatID(), "active chat moves off the dropped id")
}

func TestAmbiguousFailureRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	fs := &faultyFS{FileSystem: newMemFS()}
	svc := newService(t, fs, repository.NewMemoryRepository())
	rec, err := svc.CreateNewChat(ctx, "Mover", "")
	require.NoError(t, err)
	require.NoError(t, svc.CreateFolder(ctx, root+"/Work"))
	external := writeExternalChat(t, fs, root, "Not yet indexed")

	fs.set(errors.New("device busy"), nil)
	err = svc.MoveChat(ctx, rec.ID(), root+"/Work")
	require.ErrorIs(t, err, app_errors.ErrAmbiguousState)

	ids := make([]string, 0, 2)
	for _, c := range svc.ListChats(ctx) {
		ids = append(ids, c.ID)
	}
	assert.ElementsMatch(t, []string{rec.ID(), external}, ids, "index was rebuilt from files")

	fs.set(nil, nil)
	assertIndexAgrees(t, svc)
}

func TestFolders(t *testing.T) {
	ctx := context.Background()

	t.Run("Success - create and reject duplicates", func(t *testing.T) {
		svc := newService(t, newMemFS(), repository.NewMemoryRepository())
		require.NoError(t, svc.CreateFolder(ctx, root+"/Work/Deep"))
		assert.ErrorIs(t, svc.CreateFolder(ctx, root+"/Work"), app_errors.ErrConflict)

		nodes, err := svc.GetChatHierarchy(ctx)
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		work := nodes[0].(*model.FolderNode)
		assert.Equal(t, "Work", work.Name)
		require.Len(t, work.Children, 1)
	})

	invalid := []struct {
		name string
		path string
	}{
		{"Root itself", root},
		{"Outside the root", "Elsewhere/Work"},
		{"Traversal", root + "/../Work"},
		{"Reserved character", root + "/Wo*rk"},
	}
	for _, tc := range invalid {
		t.Run("Failure - "+tc.name, func(t *testing.T) {
			svc := newService(t, newMemFS(), repository.NewMemoryRepository())
			assert.ErrorIs(t, svc.CreateFolder(ctx, tc.path), app_errors.ErrValidation)
			assert.ErrorIs(t, svc.DeleteFolder(ctx, tc.path), app_errors.ErrValidation)
		})
	}

	t.Run("Success - delete purges exactly the contained chats", func(t *testing.T) {
		fs := newMemFS()
		svc := newService(t, fs, repository.NewMemoryRepository())
		outside, err := svc.CreateNewChat(ctx, "Outside", "")
		require.NoError(t, err)
		require.NoError(t, svc.CreateFolder(ctx, root+"/Work/Deep"))
		for _, dir := range []string{root + "/Work", root + "/Work", root + "/Work/Deep"} {
			_, err := svc.CreateNewChat(ctx, "Inside", dir)
			require.NoError(t, err)
		}
		require.Len(t, svc.ListChats(ctx), 4)

		require.NoError(t, svc.DeleteFolder(ctx, root+"/Work"))
		chats := svc.ListChats(ctx)
		require.Len(t, chats, 1)
		assert.Equal(t, outside.ID(), chats[0].ID)
		st, err := fs.Stat(root + "/Work")
		require.NoError(t, err)
		assert.Nil(t, st)

		require.NoError(t, svc.DeleteFolder(ctx, root+"/Work"), "deleting twice succeeds")
		assertIndexAgrees(t, svc)
	})

	t.Run("Success - deleting the active chat's folder activates the most recent survivor", func(t *testing.T) {
		svc := newService(t, newMemFS(), repository.NewMemoryRepository())
		older, err := svc.CreateNewChat(ctx, "Older", "")
		require.NoError(t, err)
		newest, err := svc.CreateNewChat(ctx, "Newest", "")
		require.NoError(t, err)
		require.NoError(t, svc.CreateFolder(ctx, root+"/Work"))
		active, err := svc.CreateNewChat(ctx, "Active", root+"/Work")
		require.NoError(t, err)
		require.Equal(t, active.ID(), svc.GetActiveChatID())
		events := watchEvents(svc)

		require.NoError(t, svc.DeleteFolder(ctx, root+"/Work"))
		assert.Equal(t, newest.ID(), svc.GetActiveChatID())
		assert.NotEqual(t, older.ID(), svc.GetActiveChatID())
		changed, ok := events.last(service.EventActiveChatChanged)
		require.True(t, ok)
		assert.Equal(t, newest.ID(), changed.ChatID)
	})

	t.Run("Failure - refused folder removal restores the index and active chat", func(t *testing.T) {
		fs := &faultyFS{FileSystem: newMemFS()}
		svc := newService(t, fs, repository.NewMemoryRepository())
		_, err := svc.CreateNewChat(ctx, "Outside", "")
		require.NoError(t, err)
		require.NoError(t, svc.CreateFolder(ctx, root+"/Work"))
		inside, err := svc.CreateNewChat(ctx, "Inside", root+"/Work")
		require.NoError(t, err)
		require.Equal(t, inside.ID(), svc.GetActiveChatID())

		fs.setRemove(nil, fmt.Errorf("%w: folder is locked", app_errors.ErrPermission))
		err = svc.DeleteFolder(ctx, root+"/Work")
		require.ErrorIs(t, err, app_errors.ErrPermission)
		fs.setRemove(nil, nil)

		assert.Len(t, svc.ListChats(ctx), 2)
		assert.Equal(t, inside.ID(), svc.GetActiveChatID())
		_, err = svc.GetChat(ctx, inside.ID())
		require.NoError(t, err)
		assertIndexAgrees(t, svc)
	})

	t.Run("Success - delete waits for a save in flight", func(t *testing.T) {
		fs := &faultyFS{FileSystem: newMemFS()}
		svc := newServiceWithDebounce(t, fs, repository.NewMemoryRepository(), 100*time.Millisecond)
		require.NoError(t, svc.CreateFolder(ctx, root+"/Work"))
		rec, err := svc.CreateNewChat(ctx, "Busy", root+"/Work")
		require.NoError(t, err)
		_, err = svc.AddMessage(ctx, rec.ID(), model.RoleUser, "one")
		require.NoError(t, err)

		held := fs.hold(root + "/Work/")
		_, err = svc.AddMessage(ctx, rec.ID(), model.RoleUser, "two")
		require.NoError(t, err)
		select {
		case <-held:
		case <-time.After(2 * time.Second):
			t.Fatal("trailing save never started")
		}

		done := make(chan error, 1)
		go func() { done <- svc.DeleteFolder(ctx, root+"/Work") }()
		time.Sleep(30 * time.Millisecond)
		close(fs.release)
		require.NoError(t, <-done)

		time.Sleep(250 * time.Millisecond)
		st, err := fs.Stat(root + "/Work")
		require.NoError(t, err)
		assert.Nil(t, st, "a late save does not recreate the folder")
		assertIndexAgrees(t, svc)
	})

	t.Run("Success - deleting the only chats leaves no active chat", func(t *testing.T) {
		svc := newService(t, newMemFS(), repository.NewMemoryRepository())
		require.NoError(t, svc.CreateFolder(ctx, root+"/Work"))
		_, err := svc.CreateNewChat(ctx, "Only", root+"/Work")
		require.NoError(t, err)

		require.NoError(t, svc.DeleteFolder(ctx, root+"/Work"))
		assert.Empty(t, svc.GetActiveChatID())
		assert.Empty(t, svc.ListChats(ctx))
	})
}

// Folder renames need a filesystem that moves directory contents, so these
// run against a real temp directory.
func TestFolderMoves(t *testing.T) {
	ctx := context.Background()
	newOSService := func(t *testing.T) (*service.ChatService, gateway.FileSystem) {
		fs, err := gateway.NewOSFS(t.TempDir())
		require.NoError(t, err)
		return newService(t, fs, repository.NewMemoryRepository()), fs
	}

	t.Run("Success - rename folder rebases loaded chats", func(t *testing.T) {
		svc, fs := newOSService(t)
		require.NoError(t, svc.CreateFolder(ctx, root+"/Work"))
		rec, err := svc.CreateNewChat(ctx, "Plan", root+"/Work")
		require.NoError(t, err)
		_, err = svc.AddMessage(ctx, rec.ID(), model.RoleUser, "hello")
		require.NoError(t, err)

		require.NoError(t, svc.RenameFolder(ctx, root+"/Work", "Projects"))
		want := root + "/Projects/" + rec.ID() + ".json"
		assert.Equal(t, want, rec.FilePath())

		_, err = svc.AddMessage(ctx, rec.ID(), model.RoleAssistant, "hi")
		require.NoError(t, err)
		require.NoError(t, svc.Close())

		onDisk, err := record.Load(fs, want, record.Options{})
		require.NoError(t, err)
		assert.Len(t, onDisk.Messages(), 2)
		exists, err := fs.Exists(root + "/Work")
		require.NoError(t, err)
		assert.False(t, exists)

		assertIndexAgrees(t, svc)
	})

	t.Run("Failure - rename onto an existing folder", func(t *testing.T) {
		svc, _ := newOSService(t)
		require.NoError(t, svc.CreateFolder(ctx, root+"/X"))
		require.NoError(t, svc.CreateFolder(ctx, root+"/Y"))
		assert.ErrorIs(t, svc.RenameFolder(ctx, root+"/X", "Y"), app_errors.ErrConflict)
		assert.ErrorIs(t, svc.RenameFolder(ctx, root+"/Missing", "Z"), app_errors.ErrNotFound)
		assert.ErrorIs(t, svc.RenameFolder(ctx, root+"/X", "a/b"), app_errors.ErrValidation)
	})

	t.Run("Success - move folder and chat", func(t *testing.T) {
		svc, fs := newOSService(t)
		require.NoError(t, svc.CreateFolder(ctx, root+"/A"))
		require.NoError(t, svc.CreateFolder(ctx, root+"/B"))
		rec, err := svc.CreateNewChat(ctx, "Nested", root+"/A")
		require.NoError(t, err)

		require.NoError(t, svc.MoveFolder(ctx, root+"/A", root+"/B"))
		assert.Equal(t, root+"/B/A/"+rec.ID()+".json", rec.FilePath())
		assert.ErrorIs(t, svc.MoveFolder(ctx, root+"/B", root+"/B/A"), app_errors.ErrValidation)

		require.NoError(t, svc.MoveChat(ctx, rec.ID(), ""))
		assert.Equal(t, root+"/"+rec.ID()+".json", rec.FilePath())
		exists, err := fs.Exists(rec.FilePath())
		require.NoError(t, err)
		assert.True(t, exists)

		assert.ErrorIs(t, svc.MoveChat(ctx, rec.ID(), root+"/Nowhere"), app_errors.ErrNotFound)
		assert.ErrorIs(t, svc.MoveChat(ctx, uuid.NewString(), root+"/B"), app_errors.ErrNotFound)

		assertIndexAgrees(t, svc)
	})
}

func TestSyncWithFilesystem(t *testing.T) {
	ctx := context.Background()
	fs := newMemFS()
	svc := newService(t, fs, repository.NewMemoryRepository())
	_, err := svc.CreateNewChat(ctx, "Known", "")
	require.NoError(t, err)

	rebuilt, err := svc.SyncWithFilesystem(ctx)
	require.NoError(t, err)
	assert.False(t, rebuilt)

	id := writeExternalChat(t, fs, root+"/Synced", "From another device")
	events := watchEvents(svc)
	rebuilt, err = svc.SyncWithFilesystem(ctx)
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Contains(t, events.types(), service.EventChatListUpdated)

	_, err = svc.GetChat(ctx, id)
	require.NoError(t, err)

	report, err := svc.VerifyIndex(ctx)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
}

func TestVerifyIndexReportsDrift(t *testing.T) {
	ctx := context.Background()
	fs := newMemFS()
	svc := newService(t, fs, repository.NewMemoryRepository())
	rec, err := svc.CreateNewChat(ctx, "Tracked", "")
	require.NoError(t, err)
	require.NoError(t, svc.Close())

	missing := writeExternalChat(t, fs, root, "Untracked")
	edited := rec.Metadata()
	edited.Name = "Edited elsewhere"
	require.NoError(t, record.New(fs, rec.FilePath(), edited, nil, record.Options{}).SaveImmediately())

	report, err := svc.VerifyIndex(ctx)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, []string{missing}, report.Missing)
	assert.Equal(t, []string{rec.ID()}, report.Stale)
	assert.Empty(t, report.Orphaned)

	require.NoError(t, fs.Remove(rec.FilePath()))
	report, err = svc.VerifyIndex(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID()}, report.Orphaned)
}
