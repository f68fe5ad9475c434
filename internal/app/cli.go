package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/interfaces"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/model"
	"github.com/phoenixway/obsidian-ai-forge-sub001/internal/record"
)

// errIndexDrift is returned by verify after the report has been printed.
var errIndexDrift = errors.New("chat index does not match the files on disk")

type usageError struct {
	msg string
	// reported is set when the flag package already printed the problem.
	reported bool
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// CLI dispatches command-line arguments to the chat store.
type CLI struct {
	Store interfaces.ChatStore
	Out   io.Writer
	// Watch starts the file watcher. Nil disables the watch command.
	Watch func() error
}

type command struct {
	args    string
	summary string
	run     func(c *CLI, ctx context.Context, fs *flag.FlagSet, args []string) error
}

var commands = map[string]command{
	"tree":           {"", "Show folders and chats", (*CLI).tree},
	"list":           {"", "List chats, most recent first", (*CLI).list},
	"show":           {"[chat-id]", "Print a chat and its messages (active chat by default)", (*CLI).show},
	"create":         {"[-folder F] [name...]", "Create a chat and make it active", (*CLI).create},
	"clone":          {"<chat-id>", "Copy a chat into the same folder", (*CLI).clone},
	"rename":         {"<chat-id> <name...>", "Rename a chat", (*CLI).rename},
	"set":            {"[-model M] [-temperature T] [-context N] [-role P] <chat-id>", "Change chat settings", (*CLI).set},
	"delete":         {"<chat-id>", "Delete a chat", (*CLI).deleteChat},
	"move":           {"<chat-id> <folder>", "Move a chat into a folder (\"\" for the root)", (*CLI).move},
	"activate":       {"<chat-id|none>", "Set or clear the active chat", (*CLI).activate},
	"add":            {"[-chat ID] <role> <content...>", "Append a message (active chat by default)", (*CLI).add},
	"truncate":       {"<chat-id> <index>", "Delete every message after index", (*CLI).truncate},
	"delete-message": {"<chat-id> <timestamp>", "Delete the message at an RFC 3339 timestamp", (*CLI).deleteMessage},
	"clear":          {"<chat-id>", "Delete all messages of a chat", (*CLI).clear},
	"mkdir":          {"<folder>", "Create a folder", (*CLI).mkdir},
	"rename-folder":  {"<folder> <name>", "Rename a folder", (*CLI).renameFolder},
	"move-folder":    {"<folder> <target>", "Move a folder into another folder", (*CLI).moveFolder},
	"rmdir":          {"<folder>", "Delete a folder and every chat inside it", (*CLI).rmdir},
	"rebuild":        {"", "Rebuild the chat index from disk", (*CLI).rebuild},
	"verify":         {"", "Compare the chat index with the files on disk", (*CLI).verify},
	"sync":           {"", "Rebuild the index if chats were added or removed on disk", (*CLI).sync},
	"watch":          {"", "Keep the index in sync until interrupted", (*CLI).watch},
}

// Execute runs the command named by args[0] and returns the exit code.
func (c *CLI) Execute(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		c.printUsage()
		if len(args) == 0 {
			return exitUsage
		}
		return exitOK
	}

	name := args[0]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(c.Out, "Unknown command %q.\n\n", name)
		c.printUsage()
		return exitUsage
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.Out)
	fs.Usage = func() { fmt.Fprintf(c.Out, "Usage: chatctl %s %s\n", name, cmd.args) }

	slog.Debug("Running command", "command", name, "args", args[1:])
	err := cmd.run(c, ctx, fs, args[1:])

	var usage *usageError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.As(err, &usage):
		if !usage.reported {
			fmt.Fprintf(c.Out, "Error: %s\n", usage.msg)
			fs.Usage()
		}
		return exitUsage
	case errors.Is(err, errIndexDrift):
		return exitFailure
	default:
		return reportError(c.Out, name, err)
	}
}

func (c *CLI) printUsage() {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(c.Out, "Usage: chatctl <command> [arguments]")
	fmt.Fprintln(c.Out)
	tw := tabwriter.NewWriter(c.Out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(tw, "  %s %s\t%s\n", name, cmd.args, cmd.summary)
	}
	_ = tw.Flush()
}

// parse parses flags for the command and checks the positional count.
// maxArgs < 0 accepts any number of extra positionals.
func parse(fs *flag.FlagSet, args []string, minArgs, maxArgs int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, &usageError{msg: err.Error(), reported: true}
	}
	rest := fs.Args()
	if len(rest) < minArgs {
		return nil, usagef("%s needs at least %d argument(s)", fs.Name(), minArgs)
	}
	if maxArgs >= 0 && len(rest) > maxArgs {
		return nil, usagef("%s takes at most %d argument(s)", fs.Name(), maxArgs)
	}
	return rest, nil
}

// folder resolves a folder given relative to the chat root into a
// vault-relative path. "" stays "" and means the root itself.
func (c *CLI) folder(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return ""
	}
	root := c.Store.Root()
	if root == "" {
		return p
	}
	return root + "/" + p
}

type treePrinter struct {
	out    io.Writer
	depth  int
	active string
}

func (p treePrinter) VisitFolder(f *model.FolderNode) {
	fmt.Fprintf(p.out, "%s%s/\n", strings.Repeat("  ", p.depth), f.Name)
	child := treePrinter{out: p.out, depth: p.depth + 1, active: p.active}
	for _, n := range f.Children {
		n.Accept(child)
	}
}

func (p treePrinter) VisitChat(n *model.ChatNode) {
	marker := " "
	if n.Metadata.ID == p.active {
		marker = "*"
	}
	fmt.Fprintf(p.out, "%s%s %s (%s)\n", strings.Repeat("  ", p.depth), marker, n.Metadata.Name, n.Metadata.ID)
}

func (c *CLI) tree(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if _, err := parse(fs, args, 0, 0); err != nil {
		return err
	}
	nodes, err := c.Store.GetChatHierarchy(ctx)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Fprintln(c.Out, "No chats yet.")
		return nil
	}
	printer := treePrinter{out: c.Out, active: c.Store.GetActiveChatID()}
	for _, n := range nodes {
		n.Accept(printer)
	}
	return nil
}

func (c *CLI) list(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if _, err := parse(fs, args, 0, 0); err != nil {
		return err
	}
	chats := c.Store.ListChats(ctx)
	if len(chats) == 0 {
		fmt.Fprintln(c.Out, "No chats yet.")
		return nil
	}
	active := c.Store.GetActiveChatID()
	tw := tabwriter.NewWriter(c.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tMODEL\tLAST MODIFIED")
	for _, m := range chats {
		marker := ""
		if m.ID == active {
			marker = "*"
		}
		lastModified := "-"
		if !m.LastModified.IsZero() {
			lastModified = model.FormatTime(m.LastModified)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", marker, m.ID, m.Name, m.ModelName, lastModified)
	}
	return tw.Flush()
}

func (c *CLI) show(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 0, 1)
	if err != nil {
		return err
	}
	var rec *record.Record
	if len(rest) == 0 {
		rec, err = c.Store.GetActiveChat(ctx)
		if err == nil && rec == nil {
			fmt.Fprintln(c.Out, "No chat is active.")
			return nil
		}
	} else {
		rec, err = c.Store.GetChat(ctx, rest[0])
	}
	if err != nil {
		return err
	}
	meta := rec.Metadata()
	fmt.Fprintf(c.Out, "%s (%s)\n", meta.Name, meta.ID)
	fmt.Fprintf(c.Out, "File:     %s\n", rec.FilePath())
	if meta.ModelName != "" {
		fmt.Fprintf(c.Out, "Model:    %s\n", meta.ModelName)
	}
	if meta.Temperature != nil {
		fmt.Fprintf(c.Out, "Temp:     %g\n", *meta.Temperature)
	}
	if meta.ContextWindow != nil {
		fmt.Fprintf(c.Out, "Context:  %d\n", *meta.ContextWindow)
	}
	fmt.Fprintf(c.Out, "Messages: %d\n", rec.MessageCount())
	for i, msg := range rec.Messages() {
		fmt.Fprintf(c.Out, "\n[%d] %s %s\n%s\n", i, model.FormatTime(msg.Timestamp), msg.Role, msg.Content)
	}
	return nil
}

func (c *CLI) create(ctx context.Context, fs *flag.FlagSet, args []string) error {
	folder := fs.String("folder", "", "folder relative to the chat root")
	rest, err := parse(fs, args, 0, -1)
	if err != nil {
		return err
	}
	rec, err := c.Store.CreateNewChat(ctx, strings.Join(rest, " "), c.folder(*folder))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Created chat %q (%s)\n", rec.Metadata().Name, rec.ID())
	return nil
}

func (c *CLI) clone(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	rec, err := c.Store.CloneChat(ctx, rest[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Created chat %q (%s)\n", rec.Metadata().Name, rec.ID())
	return nil
}

func (c *CLI) rename(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 2, -1)
	if err != nil {
		return err
	}
	if err := c.Store.RenameChat(ctx, rest[0], strings.Join(rest[1:], " ")); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Chat renamed.")
	return nil
}

func (c *CLI) set(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var patch record.MetadataPatch
	fs.Func("model", "model name", func(s string) error {
		patch.ModelName = &s
		return nil
	})
	fs.Func("role", "selected role path", func(s string) error {
		patch.SelectedRolePath = &s
		return nil
	})
	fs.Func("temperature", "sampling temperature between 0 and 2", func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		patch.Temperature = &v
		return nil
	})
	fs.Func("context", "context window in tokens", func(s string) error {
		v, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		patch.ContextWindow = &v
		return nil
	})
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	if patch == (record.MetadataPatch{}) {
		return usagef("set needs at least one setting")
	}
	if err := c.Store.UpdateChatMetadata(ctx, rest[0], patch); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Chat updated.")
	return nil
}

func (c *CLI) deleteChat(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	if err := c.Store.DeleteChat(ctx, rest[0]); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Chat deleted.")
	return nil
}

func (c *CLI) move(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 2, 2)
	if err != nil {
		return err
	}
	if err := c.Store.MoveChat(ctx, rest[0], c.folder(rest[1])); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Chat moved.")
	return nil
}

func (c *CLI) activate(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	id := rest[0]
	if id == "none" {
		id = ""
	}
	if err := c.Store.SetActiveChat(ctx, id); err != nil {
		return err
	}
	if id == "" {
		fmt.Fprintln(c.Out, "No chat is active.")
	} else {
		fmt.Fprintf(c.Out, "Active chat: %s\n", id)
	}
	return nil
}

func (c *CLI) add(ctx context.Context, fs *flag.FlagSet, args []string) error {
	chatID := fs.String("chat", "", "chat id (defaults to the active chat)")
	rest, err := parse(fs, args, 2, -1)
	if err != nil {
		return err
	}
	role := model.Role(rest[0])
	if !role.Valid() {
		return usagef("unknown role %q", rest[0])
	}
	content := strings.Join(rest[1:], " ")

	var msg model.Message
	if *chatID == "" {
		msg, err = c.Store.AddMessageToActiveChat(ctx, role, content)
	} else {
		msg, err = c.Store.AddMessage(ctx, *chatID, role, content)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Added %s message at %s\n", msg.Role, model.FormatTime(msg.Timestamp))
	return nil
}

func (c *CLI) truncate(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 2, 2)
	if err != nil {
		return err
	}
	index, err := strconv.Atoi(rest[1])
	if err != nil {
		return usagef("index must be a number: %q", rest[1])
	}
	removed, err := c.Store.DeleteMessagesAfter(ctx, rest[0], index)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Deleted %d message(s).\n", removed)
	return nil
}

func (c *CLI) deleteMessage(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 2, 2)
	if err != nil {
		return err
	}
	ts, err := model.ParseTime(rest[1])
	if err != nil {
		return usagef("%v", err)
	}
	if err := c.Store.DeleteMessageByTimestamp(ctx, rest[0], ts); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Message deleted.")
	return nil
}

func (c *CLI) clear(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	if err := c.Store.ClearChatMessagesByID(ctx, rest[0]); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Messages cleared.")
	return nil
}

func (c *CLI) mkdir(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	if err := c.Store.CreateFolder(ctx, c.folder(rest[0])); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Folder created.")
	return nil
}

func (c *CLI) renameFolder(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 2, 2)
	if err != nil {
		return err
	}
	if err := c.Store.RenameFolder(ctx, c.folder(rest[0]), rest[1]); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Folder renamed.")
	return nil
}

func (c *CLI) moveFolder(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 2, 2)
	if err != nil {
		return err
	}
	if err := c.Store.MoveFolder(ctx, c.folder(rest[0]), c.folder(rest[1])); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Folder moved.")
	return nil
}

func (c *CLI) rmdir(ctx context.Context, fs *flag.FlagSet, args []string) error {
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	if err := c.Store.DeleteFolder(ctx, c.folder(rest[0])); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Folder deleted.")
	return nil
}

func (c *CLI) rebuild(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if _, err := parse(fs, args, 0, 0); err != nil {
		return err
	}
	n, err := c.Store.RebuildIndex(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "Indexed %d chat(s).\n", n)
	return nil
}

func (c *CLI) verify(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if _, err := parse(fs, args, 0, 0); err != nil {
		return err
	}
	report, err := c.Store.VerifyIndex(ctx)
	if err != nil {
		return err
	}
	if report.Consistent() {
		fmt.Fprintln(c.Out, "Index is consistent.")
		return nil
	}
	for _, group := range []struct {
		label string
		ids   []string
	}{
		{"missing from index", report.Missing},
		{"orphaned in index", report.Orphaned},
		{"stale in index", report.Stale},
	} {
		for _, id := range group.ids {
			fmt.Fprintf(c.Out, "%s: %s\n", group.label, id)
		}
	}
	fmt.Fprintln(c.Out, "Run \"chatctl rebuild\" to repair the index.")
	return errIndexDrift
}

func (c *CLI) sync(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if _, err := parse(fs, args, 0, 0); err != nil {
		return err
	}
	changed, err := c.Store.SyncWithFilesystem(ctx)
	if err != nil {
		return err
	}
	if changed {
		fmt.Fprintln(c.Out, "Index rebuilt from disk.")
	} else {
		fmt.Fprintln(c.Out, "Index already up to date.")
	}
	return nil
}

func (c *CLI) watch(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if _, err := parse(fs, args, 0, 0); err != nil {
		return err
	}
	if c.Watch == nil {
		return usagef("watching is not available")
	}
	if err := c.Watch(); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "Watching for changes. Press Ctrl+C to stop.")
	<-ctx.Done()
	return nil
}
