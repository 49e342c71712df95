package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pmacl/vspilot/internal/model"
)

const worldStateFileName = "world_state.json"

// WorldState is the cross-run snapshot: the last scanned repository map,
// the last synced plan, and a liveness heartbeat. Unlike checkpoints it is
// shared by all runs against one state directory.
type WorldState struct {
	ReposRoot     string                    `json:"repos_root"`
	Repos         map[string]model.RepoInfo `json:"repos"`
	Plan          *model.Plan               `json:"plan,omitempty"`
	LastHeartbeat int64                     `json:"last_heartbeat,omitempty"`
}

// WorldStore reads and writes the world state file under dir.
type WorldStore struct {
	dir string
}

func NewWorldStore(dir string) *WorldStore {
	return &WorldStore{dir: dir}
}

func (s *WorldStore) path() string {
	return filepath.Join(s.dir, worldStateFileName)
}

// Read returns the stored world state, or an empty one when the file does
// not exist yet.
func (s *WorldStore) Read() (*WorldState, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return &WorldState{Repos: map[string]model.RepoInfo{}}, nil
		}
		return nil, fmt.Errorf("read world state: %w", err)
	}

	var ws WorldState
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, fmt.Errorf("parse world state: %w", err)
	}
	if ws.Repos == nil {
		ws.Repos = map[string]model.RepoInfo{}
	}
	return &ws, nil
}

// Write persists ws atomically.
func (s *WorldStore) Write(ws *WorldState) error {
	if err := AtomicWriteJSON(s.path(), ws); err != nil {
		return fmt.Errorf("write world state: %w", err)
	}
	return nil
}

// Heartbeat stamps the world state with the current time.
func (s *WorldStore) Heartbeat() error {
	ws, err := s.Read()
	if err != nil {
		return err
	}
	ws.LastHeartbeat = time.Now().Unix()
	return s.Write(ws)
}
