// Package hierarchy discovers chat files below the chat-history root and
// arranges them into the folder/chat tree.
package hierarchy

import (
	"errors"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/gateway"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/model"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/vaultpath"
)

var (
	legacyPattern = regexp.MustCompile(`^chat_\d+_[a-zA-Z0-9]+$`)

	errStop = errors.New("stop walk")
)

// IsChatID reports whether id has a recognized chat id shape: a canonical
// 36-character UUID or a legacy "chat_<millis>_<suffix>" id.
func IsChatID(id string) bool {
	if len(id) == 36 && uuid.Validate(id) == nil {
		return true
	}
	return legacyPattern.MatchString(id)
}

// ChatIDFromFileName derives the chat id from a file name such as
// "<uuid>.json". ok is false for files that are not chats.
func ChatIDFromFileName(name, ext string) (string, bool) {
	suffix := "." + ext
	if !strings.HasSuffix(name, suffix) {
		return "", false
	}
	id := strings.TrimSuffix(name, suffix)
	if !IsChatID(id) {
		return "", false
	}
	return id, true
}

// ChatFileName is the file name a chat with the given id is stored under.
func ChatFileName(id, ext string) string {
	return id + "." + ext
}

// IndexLookup supplies metadata for recognized chat ids.
type IndexLookup interface {
	Entry(id string) (model.IndexEntry, bool)
}

// Result is one hierarchy scan.
type Result struct {
	Nodes []model.HierarchyNode
	// Unindexed lists chat files that were found on disk but have no index entry.
	Unindexed []string
}

// Scanner walks the chat-history tree through the filesystem gateway.
type Scanner struct {
	fs  gateway.FileSystem
	ext string
}

func NewScanner(fs gateway.FileSystem, ext string) *Scanner {
	return &Scanner{fs: fs, ext: ext}
}

type frame struct {
	path     string
	children *[]model.HierarchyNode
}

// Scan builds the tree below root. Chat nodes come from the index only; no
// chat file is read. A missing root yields an empty tree, and a folder that
// cannot be listed yields an empty children list.
func (s *Scanner) Scan(root string, lookup IndexLookup) (*Result, error) {
	res := &Result{Nodes: []model.HierarchyNode{}, Unindexed: []string{}}
	stack := []frame{{path: root, children: &res.Nodes}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		listing, err := s.fs.List(f.path)
		if err != nil {
			if f.path == root {
				if gateway.IsNotExist(err) {
					return res, nil
				}
				return nil, err
			}
			slog.Warn("Failed to list chat folder, showing it empty", "path", f.path, "error", err)
			continue
		}

		nodes := make([]model.HierarchyNode, 0, len(listing.Folders)+len(listing.Files))
		for _, dir := range listing.Folders {
			folder := &model.FolderNode{Name: vaultpath.Base(dir), Path: dir, Children: []model.HierarchyNode{}}
			nodes = append(nodes, folder)
			stack = append(stack, frame{path: dir, children: &folder.Children})
		}
		for _, file := range listing.Files {
			id, ok := ChatIDFromFileName(vaultpath.Base(file), s.ext)
			if !ok {
				continue
			}
			entry, ok := lookup.Entry(id)
			if !ok {
				slog.Warn("Chat file has no index entry, omitting it", "chat_id", id, "path", file)
				res.Unindexed = append(res.Unindexed, id)
				continue
			}
			nodes = append(nodes, &model.ChatNode{Metadata: entry.Metadata(id), FilePath: file})
		}
		sortNodes(nodes)
		*f.children = nodes
	}
	return res, nil
}

// Walk calls fn for every recognized chat file below root. A non-nil error
// from fn stops the walk and is returned.
func (s *Scanner) Walk(root string, fn func(path, id string) error) error {
	stack := []string{root}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		listing, err := s.fs.List(dir)
		if err != nil {
			if dir == root {
				if gateway.IsNotExist(err) {
					return nil
				}
				return err
			}
			slog.Warn("Failed to list chat folder, skipping it", "path", dir, "error", err)
			continue
		}
		for _, file := range listing.Files {
			id, ok := ChatIDFromFileName(vaultpath.Base(file), s.ext)
			if !ok {
				continue
			}
			if err := fn(file, id); err != nil {
				return err
			}
		}
		stack = append(stack, listing.Folders...)
	}
	return nil
}

// Files maps every chat id found below root to its file path.
func (s *Scanner) Files(root string) (map[string]string, error) {
	files := make(map[string]string)
	err := s.Walk(root, func(path, id string) error {
		if prev, dup := files[id]; dup {
			slog.Warn("Duplicate chat id on disk, keeping the first file", "chat_id", id, "path", path, "kept", prev)
			return nil
		}
		files[id] = path
		return nil
	})
	return files, err
}

// FindChatFile locates the file of chat id below root.
func (s *Scanner) FindChatFile(root, id string) (string, bool, error) {
	var found string
	err := s.Walk(root, func(path, fid string) error {
		if fid == id {
			found = path
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return "", false, err
	}
	return found, found != "", nil
}

type sortKey struct {
	folder   bool
	name     string
	modified time.Time
}

// keyVisitor extracts the ordering key of a node.
type keyVisitor struct{ key *sortKey }

func (v keyVisitor) VisitFolder(f *model.FolderNode) {
	*v.key = sortKey{folder: true, name: f.Name}
}

func (v keyVisitor) VisitChat(c *model.ChatNode) {
	*v.key = sortKey{name: c.Metadata.Name, modified: c.Metadata.LastModified}
}

// sortNodes puts folders first, alphabetically, then chats by lastModified
// descending. Chats without a usable date go last; ties fall back to name.
func sortNodes(nodes []model.HierarchyNode) {
	keys := make(map[model.HierarchyNode]sortKey, len(nodes))
	for _, n := range nodes {
		var k sortKey
		n.Accept(keyVisitor{key: &k})
		keys[n] = k
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := keys[nodes[i]], keys[nodes[j]]
		switch {
		case a.folder != b.folder:
			return a.folder
		case a.folder:
			return lessName(a.name, b.name)
		case a.modified.IsZero() != b.modified.IsZero():
			return b.modified.IsZero()
		case !a.modified.Equal(b.modified):
			return a.modified.After(b.modified)
		}
		return lessName(a.name, b.name)
	})
}

func lessName(a, b string) bool {
	la, lb := strings.ToLower(a), strings.ToLower(b)
	if la != lb {
		return la < lb
	}
	return a < b
}
