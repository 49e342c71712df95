// Package events records run telemetry: an append-only JSONL event stream
// grouped by day, span helpers that time stage execution, and an in-process
// bus for stage-transition notifications.
package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const eventsFileName = "events.jsonl"

// Entry is one line of the event stream.
type Entry struct {
	TS      int64          `json:"ts"`
	Event   string         `json:"event"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Log is an append-only, day-grouped JSONL event log rooted at dir.
// Each day gets its own directory (YYYYMMDD) holding one events.jsonl;
// entries are only ever appended, never rewritten.
type Log struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

// NewLog creates a log rooted at dir. Directories are created lazily on
// first append.
func NewLog(dir string) *Log {
	return &Log{dir: dir, now: time.Now}
}

// Append writes one entry to today's event stream.
func (l *Log) Append(event string, payload map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dayDir := filepath.Join(l.dir, now.Format("20060102"))
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return fmt.Errorf("create events dir: %w", err)
	}

	entry := Entry{TS: now.Unix(), Event: event, Payload: payload}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(dayDir, eventsFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open events file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}
