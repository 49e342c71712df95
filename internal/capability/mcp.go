package capability

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/pmacl/vspilot/internal/mcp"
)

// toolCaller is the slice of mcp.Client the adapter needs. Kept narrow so
// tests can substitute a scripted session.
type toolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
	Close() error
}

// MCPAdapter implements Adapter over an MCP tool session.
type MCPAdapter struct {
	session toolCaller
}

// NewMCPAdapter wraps an established MCP session.
func NewMCPAdapter(session *mcp.Client) *MCPAdapter {
	return &MCPAdapter{session: session}
}

func newMCPAdapter(session toolCaller) *MCPAdapter {
	return &MCPAdapter{session: session}
}

func (a *MCPAdapter) ListWindows(ctx context.Context, app string) ([]Window, error) {
	args := map[string]any{}
	if app != "" {
		args["app"] = app
	}
	raw, err := a.session.CallTool(ctx, "list_windows", args)
	if err != nil {
		return nil, &Error{Op: "list_windows", Err: err}
	}

	var result struct {
		Windows []Window `json:"windows"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &Error{Op: "list_windows", Err: fmt.Errorf("parse result: %w", err)}
	}
	return result.Windows, nil
}

func (a *MCPAdapter) FocusWindow(ctx context.Context, handle int, titlePattern string) error {
	args := map[string]any{}
	if handle != 0 {
		args["hwnd"] = handle
	}
	if titlePattern != "" {
		args["title_regex"] = titlePattern
	}
	if _, err := a.session.CallTool(ctx, "focus_window", args); err != nil {
		return &Error{Op: "focus_window", Err: err}
	}
	return nil
}

func (a *MCPAdapter) Screenshot(ctx context.Context, handle int) ([]byte, error) {
	args := map[string]any{}
	if handle != 0 {
		args["hwnd"] = handle
	}
	raw, err := a.session.CallTool(ctx, "screenshot", args)
	if err != nil {
		return nil, &Error{Op: "screenshot", Err: err}
	}

	var result struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, &Error{Op: "screenshot", Err: fmt.Errorf("parse result: %w", err)}
	}
	if result.Image == "" {
		return nil, &Error{Op: "screenshot", Err: fmt.Errorf("server returned no image data")}
	}

	img, err := base64.StdEncoding.DecodeString(result.Image)
	if err != nil {
		return nil, &Error{Op: "screenshot", Err: fmt.Errorf("decode image: %w", err)}
	}
	return img, nil
}

func (a *MCPAdapter) Keypress(ctx context.Context, chord string) error {
	if _, err := a.session.CallTool(ctx, "keypress", map[string]any{"keys": chord}); err != nil {
		return &Error{Op: "keypress", Err: err}
	}
	return nil
}

func (a *MCPAdapter) TextInput(ctx context.Context, text string) error {
	if _, err := a.session.CallTool(ctx, "text_input", map[string]any{"text": text}); err != nil {
		return &Error{Op: "text_input", Err: err}
	}
	return nil
}

func (a *MCPAdapter) ClipboardGet(ctx context.Context) (string, error) {
	raw, err := a.session.CallTool(ctx, "clipboard_get", nil)
	if err != nil {
		return "", &Error{Op: "clipboard_get", Err: err}
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", &Error{Op: "clipboard_get", Err: fmt.Errorf("parse result: %w", err)}
	}
	return result.Text, nil
}

func (a *MCPAdapter) ClipboardSet(ctx context.Context, text string) error {
	if _, err := a.session.CallTool(ctx, "clipboard_set", map[string]any{"text": text}); err != nil {
		return &Error{Op: "clipboard_set", Err: err}
	}
	return nil
}

func (a *MCPAdapter) Close() error {
	return a.session.Close()
}
