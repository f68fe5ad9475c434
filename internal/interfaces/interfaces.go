package interfaces

import (
	"context"
	"time"

	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/model"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/record"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/service"
)

// This file defines the contract the command-line front end depends on.
// Depending on it instead of *service.ChatService lets the CLI be tested
// against a mock.

// ChatStore is the chat store as seen by its consumers.
type ChatStore interface {
	Root() string
	GetChatHierarchy(ctx context.Context) ([]model.HierarchyNode, error)
	ListChats(ctx context.Context) []model.ChatMetadata
	GetChat(ctx context.Context, id string) (*record.Record, error)
	GetActiveChatID() string
	GetActiveChat(ctx context.Context) (*record.Record, error)
	SetActiveChat(ctx context.Context, id string) error

	CreateNewChat(ctx context.Context, name, folder string) (*record.Record, error)
	CloneChat(ctx context.Context, id string) (*record.Record, error)
	RenameChat(ctx context.Context, id, newName string) error
	UpdateChatMetadata(ctx context.Context, id string, patch record.MetadataPatch) error
	DeleteChat(ctx context.Context, id string) error
	MoveChat(ctx context.Context, id, targetFolder string) error

	AddMessage(ctx context.Context, id string, role model.Role, content string) (model.Message, error)
	AddMessageToActiveChat(ctx context.Context, role model.Role, content string) (model.Message, error)
	DeleteMessagesAfter(ctx context.Context, id string, index int) (int, error)
	DeleteMessageByTimestamp(ctx context.Context, id string, ts time.Time) error
	ClearChatMessagesByID(ctx context.Context, id string) error

	CreateFolder(ctx context.Context, folderPath string) error
	RenameFolder(ctx context.Context, folderPath, newName string) error
	MoveFolder(ctx context.Context, folderPath, targetFolder string) error
	DeleteFolder(ctx context.Context, folderPath string) error

	RebuildIndex(ctx context.Context) (int, error)
	VerifyIndex(ctx context.Context) (*service.IndexReport, error)
	SyncWithFilesystem(ctx context.Context) (bool, error)
}

var _ ChatStore = (*service.ChatService)(nil)
