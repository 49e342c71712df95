package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pmacl/vspilot/internal/lock"
	"github.com/pmacl/vspilot/internal/model"
)

// Checkpoint is the durable snapshot of a run taken after each stage
// transition. Stage records the last stage that completed, so a crashed
// run resumes from the stage after it rather than restarting at ScanRepos.
type Checkpoint struct {
	RunID     string          `json:"run_id"`
	Stage     model.Stage     `json:"stage"`
	State     *model.RunState `json:"state"`
	UpdatedAt string          `json:"updated_at"`
}

// CheckpointStore persists checkpoints keyed by run id, one file per run.
// Writers to the same key are serialized through a keyed mutex; distinct
// runs do not contend.
type CheckpointStore struct {
	dir   string
	locks *lock.MutexMap
}

func NewCheckpointStore(dir string) *CheckpointStore {
	return &CheckpointStore{dir: dir, locks: lock.NewMutexMap()}
}

func (s *CheckpointStore) path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Save writes the checkpoint for runID, recording stage as the last
// completed stage. The run id doubles as the file name, so malformed ids
// are rejected before they can name a file outside the store.
func (s *CheckpointStore) Save(runID string, stage model.Stage, st *model.RunState) error {
	if !model.ValidRunID(runID) {
		return fmt.Errorf("checkpoint: invalid run id %q", runID)
	}
	s.locks.Lock(runID)
	defer s.locks.Unlock(runID)

	cp := Checkpoint{
		RunID:     runID,
		Stage:     stage,
		State:     st,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := AtomicWriteJSON(s.path(runID), &cp); err != nil {
		return fmt.Errorf("checkpoint %s: %w", runID, err)
	}
	return nil
}

// Load returns the checkpoint for runID, or nil when none exists.
func (s *CheckpointStore) Load(runID string) (*Checkpoint, error) {
	s.locks.Lock(runID)
	defer s.locks.Unlock(runID)

	data, err := os.ReadFile(s.path(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint %s: %w", runID, err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", runID, err)
	}
	return &cp, nil
}

// Clear removes the checkpoint for runID once a run has persisted its
// record. Clearing a missing checkpoint is a no-op.
func (s *CheckpointStore) Clear(runID string) error {
	s.locks.Lock(runID)
	defer s.locks.Unlock(runID)

	if err := os.Remove(s.path(runID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear checkpoint %s: %w", runID, err)
	}
	return nil
}
