// Package monitor classifies editor windows as busy or ready and surfaces
// content deltas between observations. It drives a capability session's
// desktop-state tool, extracts the approximate chat region of each VS Code
// window, fetches the transcript through the clipboard, and diffs both
// against per-title history.
package monitor

import (
	"context"
	"encoding/json"
	"strings"
)

// Session is the slice of the transport the monitor needs.
type Session interface {
	CallTool(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// WindowInfo is one window entry of a desktop state snapshot.
type WindowInfo struct {
	Title  string  `json:"title"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// TextElement is one on-screen text element with its screen coordinates.
type TextElement struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Text string  `json:"text"`
}

// DesktopState is the full-desktop snapshot returned by the state tool.
type DesktopState struct {
	Windows      []WindowInfo  `json:"windows"`
	Textual      []TextElement `json:"textual"`
	ScreenWidth  int           `json:"screen_width"`
	ScreenHeight int           `json:"screen_height"`
}

// editorTitleMarkers identify VS Code windows. Title is the only identity
// the capability layer exposes; a window closed and reopened with the
// same title is indistinguishable from continuity.
var editorTitleMarkers = []string{"Visual Studio Code", "Code - "}

// FilterEditorWindows returns the windows whose titles mark them as
// editor windows, preserving order.
func FilterEditorWindows(windows []WindowInfo) []WindowInfo {
	var out []WindowInfo
	for _, w := range windows {
		for _, marker := range editorTitleMarkers {
			if strings.Contains(w.Title, marker) {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

// ExtractChatText collects the text of every element inside the window's
// bounds and within the rightmost 40% of its width, top to bottom in
// snapshot order. The second return is false when the window bounds are
// degenerate; callers must skip extraction then, since an empty string
// would be misread as "no content".
func ExtractChatText(state *DesktopState, w WindowInfo) (string, bool) {
	if w.Width <= 0 || w.Height <= 0 {
		return "", false
	}

	right := w.X + w.Width
	bottom := w.Y + w.Height
	chatLeft := right - w.Width*0.4

	var texts []string
	for _, elem := range state.Textual {
		if elem.Text == "" {
			continue
		}
		if elem.X >= w.X && elem.X <= right && elem.Y >= w.Y && elem.Y <= bottom && elem.X >= chatLeft {
			texts = append(texts, elem.Text)
		}
	}
	return strings.Join(texts, "\n"), true
}

// findElementByText returns the first element whose text contains target,
// case-insensitively.
func findElementByText(state *DesktopState, target string) *TextElement {
	needle := strings.ToLower(target)
	for i := range state.Textual {
		if strings.Contains(strings.ToLower(state.Textual[i].Text), needle) {
			return &state.Textual[i]
		}
	}
	return nil
}
