// Package capability defines the desktop automation surface vspilot
// consumes, and its backends: an MCP-process-backed adapter, a no-op
// fallback for dry runs, and a scripted stub for tests.
package capability

import (
	"context"
	"fmt"
)

// Window is one entry of the desktop window list.
type Window struct {
	Handle int     `json:"hwnd"`
	Title  string  `json:"title"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Adapter is the set of GUI automation primitives. Every call may fail
// with a *capability.Error when the backing provider is unavailable.
type Adapter interface {
	// ListWindows lists desktop windows, optionally filtered by app name.
	ListWindows(ctx context.Context, app string) ([]Window, error)
	// FocusWindow raises a window by handle, or by title pattern when the
	// handle is zero.
	FocusWindow(ctx context.Context, handle int, titlePattern string) error
	// Screenshot captures a window (or the full screen when handle is
	// zero) and returns raw image bytes.
	Screenshot(ctx context.Context, handle int) ([]byte, error)
	// Keypress sends a key chord such as "Ctrl+Shift+P".
	Keypress(ctx context.Context, chord string) error
	// TextInput types literal text into the focused element.
	TextInput(ctx context.Context, text string) error
	ClipboardGet(ctx context.Context) (string, error)
	ClipboardSet(ctx context.Context, text string) error
	// Close releases the underlying provider. Safe to call repeatedly.
	Close() error
}

// Error wraps a failed adapter call with the operation that failed.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("capability %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
