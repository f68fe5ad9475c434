package app

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	app_errors "github.com/phoenixway/obsidian-ai-forge-sub001/internal/errors"
)

// Process exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// userNotice maps a store error onto the short message shown to the user.
// Validation messages are already descriptive and are shown as they are.
func userNotice(err error) string {
	switch {
	case errors.Is(err, app_errors.ErrValidation):
		return err.Error()
	case errors.Is(err, app_errors.ErrNotFound):
		return "The chat or folder was not found."
	case errors.Is(err, app_errors.ErrConflict):
		return "A chat or folder with that name already exists."
	case errors.Is(err, app_errors.ErrPermission):
		return "The vault refused access to the file or folder."
	case errors.Is(err, app_errors.ErrCorruptData):
		return "The chat file is damaged and could not be read."
	case errors.Is(err, app_errors.ErrAmbiguousState):
		return "The change could not be confirmed. The chat list was rebuilt from disk; please check the result."
	default:
		return "An unexpected error occurred."
	}
}

// reportError logs the full error and prints the short notice. It returns the
// exit code for a failed command.
func reportError(out io.Writer, command string, err error) int {
	notice := userNotice(err)
	slog.Warn("Command failed", "command", command, "user_notice", notice, "internal_error", err)
	if _, werr := fmt.Fprintf(out, "Error: %s\n", notice); werr != nil {
		slog.Error("Failed to write error notice", "error", werr)
	}
	return exitFailure
}
