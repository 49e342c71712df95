package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pmacl/vspilot/internal/capability"
	"github.com/pmacl/vspilot/internal/config"
	"github.com/pmacl/vspilot/internal/engine"
	"github.com/pmacl/vspilot/internal/events"
	"github.com/pmacl/vspilot/internal/logging"
	"github.com/pmacl/vspilot/internal/mcp"
	"github.com/pmacl/vspilot/internal/model"
	"github.com/pmacl/vspilot/internal/monitor"
	"github.com/pmacl/vspilot/internal/scan"
	"github.com/pmacl/vspilot/internal/store"
)

// runtime bundles everything a command needs: the loaded config, the
// capability session, the stores under the state directory, and an
// engine wired to all of them.
type runtime struct {
	cfg    *model.Config
	logger *logging.Logger

	session *mcp.Client
	adapter capability.Adapter
	monitor *monitor.Monitor

	checkpoints *store.CheckpointStore
	episodes    *store.EpisodeStore
	world       *store.WorldStore
	events      *events.Log
	bus         *events.Bus

	engine *engine.Engine
}

// newRuntime loads config, prepares the state directory, spawns the
// capability provider, and assembles the engine.
func newRuntime(path string) (*runtime, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level), "vspilot")

	for _, dir := range []string{
		cfg.StateDir,
		filepath.Join(cfg.StateDir, "checkpoints"),
		filepath.Join(cfg.StateDir, "episodes"),
		filepath.Join(cfg.StateDir, "events"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	r := &runtime{
		cfg:         cfg,
		logger:      logger,
		checkpoints: store.NewCheckpointStore(filepath.Join(cfg.StateDir, "checkpoints")),
		episodes:    store.NewEpisodeStore(filepath.Join(cfg.StateDir, "episodes")),
		world:       store.NewWorldStore(cfg.StateDir),
		events:      events.NewLog(filepath.Join(cfg.StateDir, "events")),
		bus:         events.NewBus(0),
	}

	switch cfg.Adapter.Type {
	case "mcp":
		session, err := mcp.Start(mcp.Options{
			Command: cfg.Adapter.Command,
			Args:    cfg.Adapter.Args,
			Env:     cfg.Adapter.Env,
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("start capability provider: %w", err)
		}
		r.session = session
		r.adapter = capability.NewMCPAdapter(session)
		r.monitor = monitor.New(session,
			monitor.WithBusyDiffThreshold(cfg.Monitor.BusyDiffThreshold),
			monitor.WithLogger(logger))
	case "fallback":
		r.adapter = capability.NewFallback()
	default:
		return nil, fmt.Errorf("unknown adapter type %q", cfg.Adapter.Type)
	}

	r.engine = engine.New(engine.Collaborators{
		Config:      cfg,
		Adapter:     r.adapter,
		Monitor:     r.monitor,
		Scanner:     scan.NewGitScanner(logger),
		Checkpoints: r.checkpoints,
		Episodes:    r.episodes,
		Events:      r.events,
		Bus:         r.bus,
		Logger:      logger,
	})
	return r, nil
}

// Close releases the capability session and the event bus.
func (r *runtime) Close() {
	if r.adapter != nil {
		if err := r.adapter.Close(); err != nil {
			r.logger.Warnf("close adapter: %v", err)
		}
	}
	if r.bus != nil {
		r.bus.Close()
	}
}

// iteration executes one complete run and folds its results back into
// the shared world state.
func (r *runtime) iteration(ctx context.Context) (*model.RunState, error) {
	runID, err := model.NewRunID()
	if err != nil {
		return nil, err
	}
	st, err := r.engine.RunToCompletion(ctx, runID)
	if err != nil {
		return st, err
	}

	ws, err := r.world.Read()
	if err != nil {
		return st, err
	}
	ws.ReposRoot = st.ReposRoot
	ws.Repos = st.Repos
	ws.Plan = st.Plan
	ws.LastHeartbeat = time.Now().Unix()
	if err := r.world.Write(ws); err != nil {
		return st, err
	}
	return st, nil
}
