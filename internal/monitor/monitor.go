package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pmacl/vspilot/internal/logging"
	"github.com/pmacl/vspilot/internal/mcp"
)

const (
	stateTool     = "State-Tool"
	clickTool     = "Click-Tool"
	clipboardTool = "Clipboard-Tool"

	stateFetchRetries = 3
	stateFetchBackoff = 500 * time.Millisecond
)

// historyEntry tracks the last observed content for one window title.
// Entries are created lazily, updated in place, and never expire within
// the process lifetime; long-running deployments can call ResetHistory.
type historyEntry struct {
	chatText   string
	transcript string
}

// WindowStatus is the observation result for one editor window.
type WindowStatus struct {
	Title          string `json:"title"`
	Busy           bool   `json:"is_busy"`
	TextDiff       string `json:"text_diff"`
	TranscriptDiff string `json:"transcript_diff"`
	ChatTextLen    int    `json:"copilot_text_length"`
	TranscriptLen  int    `json:"transcript_length"`
	Err            string `json:"error,omitempty"`
}

// Monitor observes editor windows through a capability session.
// Not safe for concurrent use; callers serialize observations.
type Monitor struct {
	session   Session
	threshold int
	history   map[string]*historyEntry
	logger    *logging.Logger
	sleep     func(time.Duration)

	screenWidth  int
	screenHeight int
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBusyDiffThreshold overrides the busy diff threshold.
func WithBusyDiffThreshold(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.threshold = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(l *logging.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// New creates a Monitor over the given session.
func New(session Session, opts ...Option) *Monitor {
	m := &Monitor{
		session:      session,
		threshold:    DefaultBusyDiffThreshold,
		history:      make(map[string]*historyEntry),
		sleep:        time.Sleep,
		screenWidth:  1920,
		screenHeight: 1080,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ResetHistory drops all per-title history, making the next observation
// of every window diff against the empty baseline again.
func (m *Monitor) ResetHistory() {
	m.history = make(map[string]*historyEntry)
}

// CheckAllWindows snapshots the desktop, filters editor windows, and
// returns one status per window. Per-window failures produce a status
// carrying the error; only the initial snapshot failing is fatal.
func (m *Monitor) CheckAllWindows(ctx context.Context) ([]WindowStatus, error) {
	state, err := m.fetchState(ctx)
	if err != nil {
		return nil, fmt.Errorf("desktop state: %w", err)
	}
	if state.ScreenWidth > 0 {
		m.screenWidth = state.ScreenWidth
	}
	if state.ScreenHeight > 0 {
		m.screenHeight = state.ScreenHeight
	}

	windows := FilterEditorWindows(state.Windows)
	m.logger.Debugf("found %d editor windows", len(windows))

	results := make([]WindowStatus, 0, len(windows))
	for _, w := range windows {
		status, err := m.checkWindow(ctx, w)
		if err != nil {
			m.logger.Warnf("checking window %q: %v", w.Title, err)
			results = append(results, WindowStatus{Title: w.Title, Err: err.Error()})
			continue
		}
		results = append(results, status)
	}
	return results, nil
}

// checkWindow observes a single window: focus it, re-snapshot, extract
// chat text and transcript, diff both against history, and classify.
func (m *Monitor) checkWindow(ctx context.Context, w WindowInfo) (WindowStatus, error) {
	entry, ok := m.history[w.Title]
	if !ok {
		entry = &historyEntry{}
		m.history[w.Title] = entry
	}

	m.focusWindow(ctx, w)

	state, err := m.fetchState(ctx)
	if err != nil {
		return WindowStatus{}, fmt.Errorf("desktop state: %w", err)
	}

	status := WindowStatus{Title: w.Title}

	chatText, extracted := ExtractChatText(state, w)
	if extracted {
		status.TextDiff = Diff(entry.chatText, chatText)
		status.Busy = IsBusy(status.TextDiff, chatText, m.threshold)
		status.ChatTextLen = len(chatText)
		entry.chatText = chatText
	} else {
		// Degenerate bounds: history keeps the last good observation so
		// the next valid snapshot diffs against real content.
		m.logger.Debugf("window %q has degenerate bounds, skipping extraction", w.Title)
	}

	transcript := m.fetchTranscript(ctx, state)
	status.TranscriptDiff = Diff(entry.transcript, transcript)
	status.TranscriptLen = len(transcript)
	entry.transcript = transcript

	return status, nil
}

// fetchState retrieves the full desktop state with brief retries. When all
// attempts fail an empty state is returned so callers degrade to "no
// windows" instead of aborting the observation cycle.
func (m *Monitor) fetchState(ctx context.Context) (*DesktopState, error) {
	var lastErr error
	for attempt := 0; attempt < stateFetchRetries; attempt++ {
		raw, err := m.session.CallTool(ctx, stateTool, nil)
		if err != nil {
			lastErr = err
			m.sleep(stateFetchBackoff)
			continue
		}

		text := mcp.ExtractText(raw)
		if text == "" {
			return &DesktopState{}, nil
		}
		var state DesktopState
		if err := json.Unmarshal([]byte(text), &state); err != nil {
			lastErr = fmt.Errorf("parse desktop state: %w", err)
			m.sleep(stateFetchBackoff)
			continue
		}
		return &state, nil
	}

	m.logger.Warnf("desktop state unavailable after %d attempts: %v", stateFetchRetries, lastErr)
	return &DesktopState{
		ScreenWidth:  m.screenWidth,
		ScreenHeight: m.screenHeight,
	}, nil
}

// focusWindow raises a window by clicking near its title bar. Best-effort:
// a failed click degrades the observation, it does not abort it.
func (m *Monitor) focusWindow(ctx context.Context, w WindowInfo) {
	x := int(w.X) + 50
	y := int(w.Y) + 15
	_, err := m.session.CallTool(ctx, clickTool, map[string]any{
		"coordinate": []int{x, y},
		"button":     "left",
	})
	if err != nil {
		m.logger.Warnf("could not focus window %q: %v", w.Title, err)
		return
	}
	m.sleep(500 * time.Millisecond)
}

// fetchTranscript retrieves the chat transcript via the "Copy All"
// affordance, falling back to a context menu at a fixed screen fraction,
// then reads the shared clipboard. Best-effort throughout: an empty
// transcript is a valid result, not an error.
func (m *Monitor) fetchTranscript(ctx context.Context, state *DesktopState) string {
	if elem := findElementByText(state, "Copy All"); elem != nil {
		if !m.click(ctx, int(elem.X), int(elem.Y), "left") {
			return ""
		}
	} else {
		chatX := m.screenWidth * 8 / 10
		chatY := m.screenHeight / 2
		if !m.click(ctx, chatX, chatY, "right") {
			return ""
		}
		if !m.click(ctx, chatX, chatY+30, "left") {
			return ""
		}
	}

	raw, err := m.session.CallTool(ctx, clipboardTool, map[string]any{"action": "paste"})
	if err != nil {
		m.logger.Warnf("transcript clipboard read failed: %v", err)
		return ""
	}
	return mcp.ExtractText(raw)
}

func (m *Monitor) click(ctx context.Context, x, y int, button string) bool {
	_, err := m.session.CallTool(ctx, clickTool, map[string]any{
		"coordinate": []int{x, y},
		"button":     button,
	})
	if err != nil {
		m.logger.Warnf("transcript click failed: %v", err)
		return false
	}
	m.sleep(300 * time.Millisecond)
	return true
}
