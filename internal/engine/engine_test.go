package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmacl/vspilot/internal/capability"
	"github.com/pmacl/vspilot/internal/events"
	"github.com/pmacl/vspilot/internal/logging"
	"github.com/pmacl/vspilot/internal/model"
	"github.com/pmacl/vspilot/internal/store"
)

type fakeScanner struct {
	repos map[string]model.RepoInfo
	err   error
	calls int
}

func (f *fakeScanner) Scan(ctx context.Context, reposRoot string) (map[string]model.RepoInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.repos, nil
}

type fakeVision struct {
	outcome string
	err     error
}

func (f *fakeVision) Judge(ctx context.Context, imageB64, question string) (string, error) {
	return f.outcome, f.err
}

type fixture struct {
	eng            *Engine
	stub           *capability.Stub
	scanner        *fakeScanner
	checkpoints    *store.CheckpointStore
	checkpointsDir string
	episodes       *store.EpisodeStore
	episodesDir    string
	cfg            *model.Config
}

const planYAML = `tasks:
  - id: sync-up
    repo_selector: all
    description: post a sync nudge
`

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	planPath := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(planPath, []byte(planYAML), 0644))

	cfg := &model.Config{
		ReposRoot:        dir,
		WriteMode:        true,
		WindowTitleRegex: ".*Visual Studio Code.*",
		StateDir:         dir,
		PlanPath:         planPath,
		Copilot:          model.CopilotConfig{CommandPaletteAction: "GitHub Copilot Chat: Focus on Chat View"},
	}

	stub := capability.NewStub()
	stub.Windows = []capability.Window{
		{Handle: 7, Title: "proj - Visual Studio Code", X: 0, Y: 0, Width: 1000, Height: 800},
	}
	stub.Clipboard = "previous chat content"

	scanner := &fakeScanner{repos: map[string]model.RepoInfo{
		"proj": {Path: filepath.Join(dir, "proj"), DefaultBranch: "main"},
	}}

	episodesDir := filepath.Join(dir, "episodes")
	checkpointsDir := filepath.Join(dir, "checkpoints")
	f := &fixture{
		stub:           stub,
		scanner:        scanner,
		checkpoints:    store.NewCheckpointStore(checkpointsDir),
		checkpointsDir: checkpointsDir,
		episodes:       store.NewEpisodeStore(episodesDir),
		episodesDir:    episodesDir,
		cfg:            cfg,
	}
	f.eng = New(Collaborators{
		Config:      cfg,
		Adapter:     stub,
		Scanner:     scanner,
		Checkpoints: f.checkpoints,
		Episodes:    f.episodes,
		Logger:      logging.New(io.Discard, logging.LevelError, "test"),
	})
	f.eng.sleep = func(time.Duration) {}
	return f
}

func (f *fixture) traceCount(t *testing.T) int {
	t.Helper()
	count := 0
	filepath.Walk(f.episodesDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Ext(path) == ".json" {
			count++
		}
		return nil
	})
	return count
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t)

	st, err := f.eng.RunToCompletion(context.Background(), "run_0000000001_aaaaaaaa")
	require.NoError(t, err)

	require.NotNil(t, st.Report)
	assert.Equal(t, model.ActionOK, st.Report.Status)
	assert.Equal(t, len("previous chat content"), st.Report.CopiedChars)
	require.NotNil(t, st.Report.Artifacts)
	assert.NotEmpty(t, st.Report.Artifacts.Pre)
	assert.NotEmpty(t, st.Report.Artifacts.Post)

	require.NotNil(t, st.Validation)
	assert.True(t, st.Validation.Validated)
	assert.Equal(t, 0, st.RetryCount)
	assert.Equal(t, 1, f.traceCount(t))

	cp, err := f.checkpoints.Load(st.RunID)
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint is cleared after persist")
}

func TestRunLeavesNoCheckpointFiles(t *testing.T) {
	f := newFixture(t)

	st, err := f.eng.RunToCompletion(context.Background(), "run_0000000011_aaaaaaaa")
	require.NoError(t, err)

	cp, err := f.checkpoints.Load(st.RunID)
	require.NoError(t, err)
	require.Nil(t, cp, "a completed run must not be resumable")

	// No stage after Persist may write the file back.
	entries, err := os.ReadDir(f.checkpointsDir)
	require.NoError(t, err)
	for _, e := range entries {
		t.Errorf("stale checkpoint file left behind: %s", e.Name())
	}
}

func TestRunPostsMessageOnlyInWriteMode(t *testing.T) {
	f := newFixture(t)
	f.cfg.WriteMode = false

	st, err := f.eng.RunToCompletion(context.Background(), "run_0000000001_aaaaaaab")
	require.NoError(t, err)

	require.NotNil(t, st.Report)
	assert.Equal(t, model.ActionOK, st.Report.Status)
	for _, call := range f.stub.Calls() {
		assert.NotEqual(t, "clipboard_set", call, "read-only run must not write the clipboard")
		assert.NotEqual(t, "keypress:Ctrl+V", call)
	}
}

func TestRunRecoversFromTransientFailure(t *testing.T) {
	f := newFixture(t)
	f.stub.FailOnce["clipboard_get"] = errors.New("clipboard locked")

	st, err := f.eng.RunToCompletion(context.Background(), "run_0000000002_aaaaaaaa")
	require.NoError(t, err)

	assert.Equal(t, 1, st.RetryCount)
	require.NotNil(t, st.Report)
	assert.Equal(t, model.ActionOK, st.Report.Status)
	require.NotNil(t, st.Validation)
	assert.True(t, st.Validation.Validated)
	assert.Equal(t, 1, f.traceCount(t), "exactly one trace per run")
}

func TestRunRetriesAreBounded(t *testing.T) {
	f := newFixture(t)
	f.stub.FailOps["clipboard_get"] = errors.New("clipboard locked")

	var recoveries atomic.Int32
	bus := events.NewBus(0)
	defer bus.Close()
	done := make(chan struct{})
	unsubscribe := bus.Subscribe(events.EventStageStarted, func(ev events.Event) {
		if ev.Data["stage"] == string(model.StageRecovery) {
			recoveries.Add(1)
		}
	})
	defer unsubscribe()
	runDone := bus.Subscribe(events.EventRunCompleted, func(events.Event) { close(done) })
	defer runDone()
	f.eng.c.Bus = bus

	st, err := f.eng.RunToCompletion(context.Background(), "run_0000000003_aaaaaaaa")
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run completion event never arrived")
	}

	assert.Equal(t, MaxRetries, st.RetryCount)
	assert.Eventually(t, func() bool {
		return int(recoveries.Load()) == MaxRetries
	}, time.Second, 10*time.Millisecond)
	require.NotNil(t, st.Validation)
	assert.False(t, st.Validation.Validated)
	assert.Equal(t, 1, f.traceCount(t), "a failed run still persists its trace")
}

func TestRunWithNoWindowPersistsFailure(t *testing.T) {
	f := newFixture(t)
	f.stub.Windows = nil

	st, err := f.eng.RunToCompletion(context.Background(), "run_0000000004_aaaaaaaa")
	require.NoError(t, err)

	require.NotNil(t, st.Report)
	assert.Equal(t, model.ActionFailed, st.Report.Status)
	assert.Contains(t, st.Report.Reason, "no editor window matched")
	assert.Equal(t, MaxRetries, st.RetryCount)
	assert.Equal(t, 1, f.traceCount(t))
}

func TestRunWithNoWorkItems(t *testing.T) {
	f := newFixture(t)
	f.scanner.repos = map[string]model.RepoInfo{} // "all" selector expands to nothing

	st, err := f.eng.RunToCompletion(context.Background(), "run_0000000005_aaaaaaaa")
	require.NoError(t, err)

	assert.Nil(t, st.Envelope)
	assert.Nil(t, st.Report)
	require.NotNil(t, st.Validation)
	assert.True(t, st.Validation.Validated)
	assert.Equal(t, 1, f.traceCount(t), "an idle run still leaves a trace")
}

func TestRunScanFailureDegrades(t *testing.T) {
	f := newFixture(t)
	f.scanner.err = errors.New("disk on fire")

	st, err := f.eng.RunToCompletion(context.Background(), "run_0000000006_aaaaaaaa")
	require.NoError(t, err, "a failed scan must not abort the run")

	assert.Equal(t, "disk on fire", st.ScanError)
	assert.Empty(t, st.Repos)
	assert.Equal(t, 1, f.traceCount(t))
}

func TestRunPlanLoadFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.cfg.PlanPath = filepath.Join(f.cfg.StateDir, "missing.yaml")

	_, err := f.eng.RunToCompletion(context.Background(), "run_0000000007_aaaaaaaa")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SyncPlan")
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	f := newFixture(t)
	runID := "run_0000000008_aaaaaaaa"

	_, err := f.eng.RunUntil(context.Background(), runID, model.StageSyncPlan)
	require.NoError(t, err)
	require.Equal(t, 1, f.scanner.calls)

	st, err := f.eng.RunToCompletion(context.Background(), runID)
	require.NoError(t, err)

	assert.Equal(t, 1, f.scanner.calls, "resumed run must not rescan")
	require.NotNil(t, st.Validation)
	assert.True(t, st.Validation.Validated)
}

func TestVisionFailureVerdictTriggersRecovery(t *testing.T) {
	f := newFixture(t)
	f.eng.c.Vision = &fakeVision{outcome: "no, the chat view is not visible"}

	st, err := f.eng.RunToCompletion(context.Background(), "run_0000000009_aaaaaaaa")
	require.NoError(t, err)

	assert.Equal(t, MaxRetries, st.RetryCount)
	require.NotNil(t, st.Validation)
	assert.False(t, st.Validation.Validated)
	assert.Equal(t, "no, the chat view is not visible", st.Validation.VisionOutcome)
}

func TestVisionErrorKeepsStructuralVerdict(t *testing.T) {
	f := newFixture(t)
	f.eng.c.Vision = &fakeVision{err: errors.New("oracle unreachable")}

	st, err := f.eng.RunToCompletion(context.Background(), "run_0000000010_aaaaaaaa")
	require.NoError(t, err)

	require.NotNil(t, st.Validation)
	assert.True(t, st.Validation.Validated, "structural evidence carries when the oracle is down")
	assert.NotEmpty(t, st.Validation.Issues)
	assert.Equal(t, 0, st.RetryCount)
}

func TestRouting(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name  string
		after model.Stage
		state model.RunState
		want  model.Stage
	}{
		{"scan to sync", model.StageScanRepos, model.RunState{}, model.StageSyncPlan},
		{"sync to reason", model.StageSyncPlan, model.RunState{}, model.StageReasonStep},
		{"reason to act", model.StageReasonStep, model.RunState{}, model.StageActStep},
		{
			"failed act recovers",
			model.StageActStep,
			model.RunState{Report: &model.ActionReport{Status: model.ActionFailed}},
			model.StageRecovery,
		},
		{
			"failed act with retries spent validates",
			model.StageActStep,
			model.RunState{Report: &model.ActionReport{Status: model.ActionFailed}, RetryCount: MaxRetries},
			model.StageValidateEvidence,
		},
		{
			"ok act validates",
			model.StageActStep,
			model.RunState{Report: &model.ActionReport{Status: model.ActionOK}},
			model.StageValidateEvidence,
		},
		{
			"invalidated evidence recovers",
			model.StageValidateEvidence,
			model.RunState{Validation: &model.ValidationResult{Validated: false}},
			model.StageRecovery,
		},
		{
			"invalidated with retries spent persists",
			model.StageValidateEvidence,
			model.RunState{Validation: &model.ValidationResult{Validated: false}, RetryCount: MaxRetries},
			model.StagePersist,
		},
		{
			"validated evidence persists",
			model.StageValidateEvidence,
			model.RunState{Validation: &model.ValidationResult{Validated: true}},
			model.StagePersist,
		},
		{"recovery resets", model.StageRecovery, model.RunState{}, model.StageResetRetry},
		{"reset acts again", model.StageResetRetry, model.RunState{}, model.StageActStep},
		{"persist terminates", model.StagePersist, model.RunState{}, model.StageTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := tt.state
			assert.Equal(t, tt.want, f.eng.route(tt.after, &st))
		})
	}
}
