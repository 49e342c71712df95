package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pmacl/vspilot/internal/model"
)

// Trace is the persisted record of one executed attempt.
type Trace struct {
	TS           int64                   `json:"ts"`
	TaskEnvelope *model.TaskEnvelope     `json:"task_envelope"`
	ActionReport *model.ActionReport     `json:"action_report"`
	Validation   *model.ValidationResult `json:"validation,omitempty"`
	Validated    bool                    `json:"validated"`
	RetryCount   int                     `json:"retry_count"`
}

// EpisodeStore writes one trace file per executed attempt, grouped by day.
// Files are append-only evidence: names are unique and existing files are
// never overwritten.
type EpisodeStore struct {
	dir string
	now func() time.Time
}

func NewEpisodeStore(dir string) *EpisodeStore {
	return &EpisodeStore{dir: dir, now: time.Now}
}

// WriteTrace persists tr and returns the path written. When two attempts
// land on the same second the name gets a numeric suffix instead of
// clobbering the earlier trace.
func (s *EpisodeStore) WriteTrace(tr *Trace) (string, error) {
	now := s.now()
	dayDir := filepath.Join(s.dir, now.Format("20060102"))
	if err := os.MkdirAll(dayDir, 0755); err != nil {
		return "", fmt.Errorf("create episode dir: %w", err)
	}

	data, err := json.MarshalIndent(tr, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal trace: %w", err)
	}

	base := fmt.Sprintf("trace_%d", now.Unix())
	for attempt := 0; ; attempt++ {
		name := base + ".json"
		if attempt > 0 {
			name = fmt.Sprintf("%s_%d.json", base, attempt)
		}
		path := filepath.Join(dayDir, name)

		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if os.IsExist(err) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("create trace file: %w", err)
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			return "", fmt.Errorf("write trace file: %w", err)
		}
		if err := f.Close(); err != nil {
			return "", fmt.Errorf("close trace file: %w", err)
		}
		return path, nil
	}
}

// LatestTrace returns the most recent trace on disk, or nil when no
// attempt has been recorded yet.
func (s *EpisodeStore) LatestTrace() (*Trace, string, error) {
	days, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", nil
		}
		return nil, "", fmt.Errorf("read episodes dir: %w", err)
	}

	var dayNames []string
	for _, d := range days {
		if d.IsDir() {
			dayNames = append(dayNames, d.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dayNames)))

	for _, day := range dayNames {
		dayDir := filepath.Join(s.dir, day)
		entries, err := os.ReadDir(dayDir)
		if err != nil {
			return nil, "", fmt.Errorf("read episode day dir: %w", err)
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
				names = append(names, e.Name())
			}
		}
		sort.Sort(sort.Reverse(sort.StringSlice(names)))
		for _, name := range names {
			path := filepath.Join(dayDir, name)
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, "", fmt.Errorf("read trace: %w", err)
			}
			var tr Trace
			if err := json.Unmarshal(data, &tr); err != nil {
				// Skip unparseable files rather than failing the status view.
				continue
			}
			return &tr, path, nil
		}
	}
	return nil, "", nil
}
