package model

// HierarchyNode is one element of the folder/chat tree. The set of node kinds
// is closed: every kind implements Accept and NodeVisitor has one method per
// kind, so adding a kind breaks every traversal at compile time.
type HierarchyNode interface {
	Accept(v NodeVisitor)
}

// NodeVisitor is implemented by every traversal of the hierarchy.
type NodeVisitor interface {
	VisitFolder(f *FolderNode)
	VisitChat(c *ChatNode)
}

// FolderNode is a directory below the chat-history root.
type FolderNode struct {
	Name     string          `json:"name"`
	Path     string          `json:"path"`
	Children []HierarchyNode `json:"children"`
}

// ChatNode is a recognized, indexed chat file.
type ChatNode struct {
	Metadata ChatMetadata `json:"metadata"`
	FilePath string       `json:"filePath"`
}

func (f *FolderNode) Accept(v NodeVisitor) { v.VisitFolder(f) }
func (c *ChatNode) Accept(v NodeVisitor)   { v.VisitChat(c) }

// VisitorFuncs adapts two functions to NodeVisitor. Both must be set.
type VisitorFuncs struct {
	Folder func(f *FolderNode)
	Chat   func(c *ChatNode)
}

func (v VisitorFuncs) VisitFolder(f *FolderNode) { v.Folder(f) }
func (v VisitorFuncs) VisitChat(c *ChatNode)     { v.Chat(c) }

// Walk visits nodes depth-first, parents before their children.
func Walk(nodes []HierarchyNode, v NodeVisitor) {
	for _, n := range nodes {
		n.Accept(descender{inner: v})
	}
}

type descender struct{ inner NodeVisitor }

func (d descender) VisitFolder(f *FolderNode) {
	d.inner.VisitFolder(f)
	Walk(f.Children, d.inner)
}

func (d descender) VisitChat(c *ChatNode) { d.inner.VisitChat(c) }


