// Package engine drives a run through its stage graph: scan, plan sync,
// reasoning, action, validation, recovery, and persistence. Routing after
// ActStep and ValidateEvidence is the only branching; everything else is
// a straight line ending in Persist.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pmacl/vspilot/internal/capability"
	"github.com/pmacl/vspilot/internal/events"
	"github.com/pmacl/vspilot/internal/logging"
	"github.com/pmacl/vspilot/internal/model"
	"github.com/pmacl/vspilot/internal/monitor"
	"github.com/pmacl/vspilot/internal/oracle"
	"github.com/pmacl/vspilot/internal/scan"
	"github.com/pmacl/vspilot/internal/store"
)

// MaxRetries bounds recovery attempts per run. The counter is shared
// between action failures and validation failures: two recoveries total,
// however they are triggered.
const MaxRetries = 2

// Collaborators are the external services a run consults. Reasoner,
// Vision, Monitor, Events and Bus are optional; the engine degrades to
// deterministic behavior without them.
type Collaborators struct {
	Config      *model.Config
	Adapter     capability.Adapter
	Monitor     *monitor.Monitor
	Reasoner    oracle.Reasoner
	Vision      oracle.Vision
	Classifier  oracle.Classifier
	Scanner     scan.Scanner
	Checkpoints *store.CheckpointStore
	Episodes    *store.EpisodeStore
	Events      *events.Log
	Bus         *events.Bus
	Logger      *logging.Logger
}

// Engine executes runs. One engine can execute many runs sequentially;
// a run's state is never shared between concurrent executions.
type Engine struct {
	c     Collaborators
	sleep func(time.Duration)
}

func New(c Collaborators) *Engine {
	if c.Classifier == nil {
		c.Classifier = oracle.NewKeywordClassifier()
	}
	return &Engine{c: c, sleep: time.Sleep}
}

// RunToCompletion executes the run identified by runID from its
// checkpoint (or from ScanRepos when none exists) through Terminal.
func (e *Engine) RunToCompletion(ctx context.Context, runID string) (*model.RunState, error) {
	return e.RunUntil(ctx, runID, model.StageTerminal)
}

// RunUntil executes stages up to and including stop, checkpointing after
// each one. A crashed run resumes at the stage after its last recorded
// checkpoint.
func (e *Engine) RunUntil(ctx context.Context, runID string, stop model.Stage) (*model.RunState, error) {
	st, stage, err := e.restore(runID)
	if err != nil {
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return st, err
		}

		e.publish(events.EventStageStarted, runID, stage)
		span := e.startSpan(string(stage), map[string]any{"run_id": runID})
		err := e.execute(ctx, stage, st)
		if span != nil {
			span.End(err)
		}
		if err != nil {
			return st, fmt.Errorf("stage %s: %w", stage, err)
		}

		// Terminal is never checkpointed: Persist already cleared the file
		// and a completed run must leave nothing behind to resume.
		if stage != model.StageTerminal {
			if err := e.c.Checkpoints.Save(runID, stage, st); err != nil {
				// A lost checkpoint costs resumability, not correctness.
				e.c.Logger.Warnf("checkpoint after %s: %v", stage, err)
			}
		}
		e.publish(events.EventStageCompleted, runID, stage)

		if stage == model.StagePersist {
			if err := e.c.Checkpoints.Clear(runID); err != nil {
				e.c.Logger.Warnf("clear checkpoint: %v", err)
			}
			e.publish(events.EventRunCompleted, runID, stage)
		}

		if stage == stop || stage == model.StageTerminal {
			return st, nil
		}
		stage = e.route(stage, st)
	}
}

// restore loads the checkpointed state for runID, or builds a fresh
// state starting at ScanRepos.
func (e *Engine) restore(runID string) (*model.RunState, model.Stage, error) {
	cp, err := e.c.Checkpoints.Load(runID)
	if err != nil {
		return nil, "", err
	}
	if cp == nil || cp.State == nil {
		st := &model.RunState{
			RunID:     runID,
			ReposRoot: e.c.Config.ReposRoot,
			Repos:     make(map[string]model.RepoInfo),
		}
		return st, model.StageScanRepos, nil
	}
	e.c.Logger.Infof("resuming run %s after %s", runID, cp.Stage)
	return cp.State, e.route(cp.Stage, cp.State), nil
}

// route decides the stage following a completed one.
func (e *Engine) route(after model.Stage, st *model.RunState) model.Stage {
	switch after {
	case model.StageScanRepos:
		return model.StageSyncPlan
	case model.StageSyncPlan:
		return model.StageReasonStep
	case model.StageReasonStep:
		return model.StageActStep
	case model.StageActStep:
		if st.Report != nil && st.Report.Status == model.ActionFailed && st.RetryCount < MaxRetries {
			return model.StageRecovery
		}
		return model.StageValidateEvidence
	case model.StageValidateEvidence:
		if (st.Validation == nil || !st.Validation.Validated) && st.RetryCount < MaxRetries {
			return model.StageRecovery
		}
		return model.StagePersist
	case model.StageRecovery:
		return model.StageResetRetry
	case model.StageResetRetry:
		return model.StageActStep
	}
	return model.StageTerminal
}

func (e *Engine) execute(ctx context.Context, stage model.Stage, st *model.RunState) error {
	switch stage {
	case model.StageScanRepos:
		return e.scanRepos(ctx, st)
	case model.StageSyncPlan:
		return e.syncPlan(st)
	case model.StageReasonStep:
		return e.reasonStep(ctx, st)
	case model.StageActStep:
		return e.actStep(ctx, st)
	case model.StageValidateEvidence:
		return e.validateEvidence(ctx, st)
	case model.StageRecovery:
		return e.recovery(ctx, st)
	case model.StageResetRetry:
		return e.resetRetry(st)
	case model.StagePersist:
		return e.persist(st)
	case model.StageTerminal:
		return nil
	}
	return fmt.Errorf("unknown stage %q", stage)
}

func (e *Engine) publish(eventType events.EventType, runID string, stage model.Stage) {
	if e.c.Bus == nil {
		return
	}
	e.c.Bus.Publish(eventType, map[string]any{
		"run_id": runID,
		"stage":  string(stage),
	})
}

func (e *Engine) startSpan(name string, attrs map[string]any) *events.Span {
	if e.c.Events == nil {
		return nil
	}
	return e.c.Events.StartSpan("stage."+name, attrs)
}
