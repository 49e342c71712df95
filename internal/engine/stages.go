package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/pmacl/vspilot/internal/capability"
	"github.com/pmacl/vspilot/internal/model"
	"github.com/pmacl/vspilot/internal/oracle"
	"github.com/pmacl/vspilot/internal/plan"
	"github.com/pmacl/vspilot/internal/store"
)

const (
	editorApp       = "Code.exe"
	editorTitleMark = "Visual Studio Code"

	defaultMessage = "Sync on current plan and blockers."
	visionQuestion = "Is the editor chat view visible with the message posted and no error dialogs?"
)

// scanRepos refreshes the repository map. A scan failure degrades the run
// to an empty map instead of aborting it; the error is kept on the state
// so the evidence trail shows why the map is empty.
func (e *Engine) scanRepos(ctx context.Context, st *model.RunState) error {
	repos, err := e.c.Scanner.Scan(ctx, st.ReposRoot)
	if err != nil {
		e.c.Logger.Warnf("repo scan failed: %v", err)
		st.ScanError = err.Error()
		st.Repos = make(map[string]model.RepoInfo)
		return nil
	}
	st.ScanError = ""
	st.Repos = repos
	e.c.Logger.Infof("scanned %d repositories under %s", len(repos), st.ReposRoot)
	return nil
}

// syncPlan loads the plan file and expands it against the scanned
// repositories. An unreadable plan is fatal: acting without a plan is
// worse than not acting.
func (e *Engine) syncPlan(st *model.RunState) error {
	p, err := plan.Load(e.c.Config.PlanPath)
	if err != nil {
		return err
	}
	st.Plan = p
	st.WorkItems = plan.ExpandWorkItems(p, st.Repos)
	e.c.Logger.Infof("plan has %d tasks, %d work items", len(p.Tasks), len(st.WorkItems))
	return nil
}

// reasonStep picks the next work item and builds the task envelope. The
// reasoning oracle is consulted when configured; any oracle failure or an
// id it invented falls back to round-robin over the work items.
func (e *Engine) reasonStep(ctx context.Context, st *model.RunState) error {
	if len(st.WorkItems) == 0 {
		e.c.Logger.Infof("no work items, nothing to do this run")
		st.Envelope = nil
		return nil
	}

	var sel *oracle.Selection
	if e.c.Reasoner != nil {
		var err error
		sel, err = e.c.Reasoner.SelectWorkItem(ctx, st.Repos, st.Plan, st.WorkItems)
		if err != nil {
			e.c.Logger.Warnf("reasoning oracle failed, using fallback: %v", err)
			sel = nil
		} else if sel != nil && findItem(st.WorkItems, sel.WorkItemID) == nil {
			e.c.Logger.Warnf("oracle selected unknown work item %q, using fallback", sel.WorkItemID)
			sel = nil
		}
	}
	if sel == nil {
		sel, st.NextIndex = oracle.FallbackSelection(st.WorkItems, st.NextIndex)
	}

	item := findItem(st.WorkItems, sel.WorkItemID)
	message := sel.Message
	if message == "" {
		message = defaultMessage
	}

	st.Envelope = &model.TaskEnvelope{
		Type:           "desktop_task",
		Intent:         "harvest_and_nudge",
		TargetRepoPath: st.Repos[item.RepoName].Path,
		Payload: model.EnvelopePayload{
			Message:   message,
			CopyScope: model.CopyScope{Mode: "last_n", N: 10},
		},
		Meta: model.EnvelopeMeta{
			TaskID:    item.TaskID,
			RepoName:  item.RepoName,
			Rationale: sel.Rationale,
		},
	}
	e.c.Logger.Infof("selected work item %s (%s)", item.ID, sel.Rationale)
	return nil
}

func findItem(items []model.WorkItem, id string) *model.WorkItem {
	for i := range items {
		if items[i].ID == id {
			return &items[i]
		}
	}
	return nil
}

// actStep executes the envelope against the editor window: focus, open
// the chat view, capture pre evidence, harvest the visible chat text, post
// the message when write mode allows, capture post evidence. Capability
// failures become a failed report, never an engine error, so routing can
// decide between recovery and persistence.
func (e *Engine) actStep(ctx context.Context, st *model.RunState) error {
	if st.Envelope == nil {
		return nil
	}

	window, err := e.findEditorWindow(ctx)
	if err != nil {
		st.Report = &model.ActionReport{
			Status: model.ActionFailed,
			Reason: err.Error(),
		}
		return nil
	}

	report := &model.ActionReport{
		Status: model.ActionOK,
		Window: &model.WindowRef{Handle: window.Handle, Title: window.Title},
	}
	st.Report = report

	fail := func(op string, err error) {
		report.Status = model.ActionFailed
		report.Reason = fmt.Sprintf("%s: %v", op, err)
	}

	if err := e.c.Adapter.FocusWindow(ctx, window.Handle, window.Title); err != nil {
		fail("focus window", err)
		return nil
	}
	e.sleep(300 * time.Millisecond)

	if e.c.Config.WriteMode {
		if err := e.openChatView(ctx); err != nil {
			fail("open chat view", err)
			return nil
		}
	}

	artifacts := &model.Artifacts{}
	report.Artifacts = artifacts
	if png, err := e.c.Adapter.Screenshot(ctx, window.Handle); err != nil {
		e.c.Logger.Warnf("pre screenshot: %v", err)
	} else {
		artifacts.Pre = base64.StdEncoding.EncodeToString(png)
	}

	copied, err := e.harvestChat(ctx)
	if err != nil {
		fail("harvest chat", err)
		return nil
	}
	report.CopiedChars = len(copied)

	message := st.Envelope.Payload.Message
	if message != "" && e.c.Config.WriteMode {
		if err := e.postMessage(ctx, message); err != nil {
			fail("post message", err)
			return nil
		}
	}

	if png, err := e.c.Adapter.Screenshot(ctx, window.Handle); err != nil {
		e.c.Logger.Warnf("post screenshot: %v", err)
	} else {
		artifacts.Post = base64.StdEncoding.EncodeToString(png)
	}

	report.Next = e.nextHint(ctx, window.Title)
	return nil
}

// findEditorWindow locates the editor window the run should target. The
// app-scoped listing is tried first; when it yields nothing the full list
// is filtered by title. The configured title regex narrows either list.
func (e *Engine) findEditorWindow(ctx context.Context) (*capability.Window, error) {
	windows, err := e.c.Adapter.ListWindows(ctx, editorApp)
	if err != nil || len(windows) == 0 {
		windows, err = e.c.Adapter.ListWindows(ctx, "")
		if err != nil {
			return nil, fmt.Errorf("list windows: %w", err)
		}
		var editors []capability.Window
		for _, w := range windows {
			if strings.Contains(w.Title, editorTitleMark) {
				editors = append(editors, w)
			}
		}
		windows = editors
	}

	re, err := regexp.Compile(e.c.Config.WindowTitleRegex)
	if err != nil {
		return nil, fmt.Errorf("window title regex: %w", err)
	}
	for i := range windows {
		if re.MatchString(windows[i].Title) {
			return &windows[i], nil
		}
	}
	return nil, fmt.Errorf("no editor window matched %q", e.c.Config.WindowTitleRegex)
}

// openChatView drives the command palette to focus the chat view.
func (e *Engine) openChatView(ctx context.Context) error {
	if err := e.c.Adapter.Keypress(ctx, "Ctrl+Shift+P"); err != nil {
		return err
	}
	e.sleep(100 * time.Millisecond)
	if err := e.c.Adapter.TextInput(ctx, e.c.Config.Copilot.CommandPaletteAction); err != nil {
		return err
	}
	e.sleep(100 * time.Millisecond)
	if err := e.c.Adapter.Keypress(ctx, "Enter"); err != nil {
		return err
	}
	e.sleep(500 * time.Millisecond)
	return nil
}

// harvestChat selects the visible chat content and reads it off the
// clipboard.
func (e *Engine) harvestChat(ctx context.Context) (string, error) {
	if err := e.c.Adapter.Keypress(ctx, "Ctrl+A"); err != nil {
		return "", err
	}
	if err := e.c.Adapter.Keypress(ctx, "Ctrl+C"); err != nil {
		return "", err
	}
	return e.c.Adapter.ClipboardGet(ctx)
}

// postMessage pastes the message into the chat input and submits it.
func (e *Engine) postMessage(ctx context.Context, message string) error {
	if err := e.c.Adapter.ClipboardSet(ctx, message); err != nil {
		return err
	}
	if err := e.c.Adapter.Keypress(ctx, "Ctrl+V"); err != nil {
		return err
	}
	if err := e.c.Adapter.Keypress(ctx, "Enter"); err != nil {
		return err
	}
	e.sleep(500 * time.Millisecond)
	return nil
}

// nextHint asks the window monitor whether the agent is still producing
// output. Purely advisory; any failure yields no hint.
func (e *Engine) nextHint(ctx context.Context, title string) string {
	if e.c.Monitor == nil {
		return ""
	}
	statuses, err := e.c.Monitor.CheckAllWindows(ctx)
	if err != nil {
		e.c.Logger.Warnf("monitor check: %v", err)
		return ""
	}
	for _, s := range statuses {
		if s.Title == title {
			if s.Busy {
				return "await_response"
			}
			return "idle"
		}
	}
	return ""
}

// validateEvidence judges the attempt. Structural validation requires
// both screenshots; the vision oracle, when configured, judges the post
// screenshot and its free-text outcome is classified by keyword. A vision
// failure degrades to the structural verdict with the failure on record.
func (e *Engine) validateEvidence(ctx context.Context, st *model.RunState) error {
	if st.Report == nil {
		st.Validation = &model.ValidationResult{
			Validated: true,
			Issues:    []string{"no action attempted"},
		}
		return nil
	}
	if st.Report.Status == model.ActionFailed {
		st.Validation = &model.ValidationResult{
			Validated: false,
			Issues:    []string{st.Report.Reason},
		}
		return nil
	}

	v := &model.ValidationResult{}
	v.StructuralOK = st.Report.Artifacts != nil &&
		st.Report.Artifacts.Pre != "" && st.Report.Artifacts.Post != ""
	if !v.StructuralOK {
		v.Issues = append(v.Issues, "missing screenshot evidence")
	}
	v.Validated = v.StructuralOK

	if e.c.Vision != nil && st.Report.Artifacts != nil && st.Report.Artifacts.Post != "" {
		outcome, err := e.c.Vision.Judge(ctx, st.Report.Artifacts.Post, visionQuestion)
		if err != nil {
			e.c.Logger.Warnf("vision oracle failed: %v", err)
			v.Issues = append(v.Issues, fmt.Sprintf("vision oracle: %v", err))
		} else {
			v.VisionOutcome = outcome
			if e.c.Classifier.Classify(outcome) == oracle.VerdictFail {
				v.Validated = false
				v.Issues = append(v.Issues, "vision oracle judged the outcome a failure")
			}
		}
	}

	st.Validation = v
	return nil
}

// recovery consumes one retry and nudges the desktop back toward a known
// state: refocus the editor, reopen the chat view. Every step here is
// best-effort; the retried ActStep is the real test.
func (e *Engine) recovery(ctx context.Context, st *model.RunState) error {
	st.RetryCount++
	e.c.Logger.Infof("recovery attempt %d of %d", st.RetryCount, MaxRetries)

	if err := e.c.Adapter.FocusWindow(ctx, 0, e.c.Config.WindowTitleRegex); err != nil {
		e.c.Logger.Warnf("recovery refocus: %v", err)
	}
	e.sleep(300 * time.Millisecond)

	if e.c.Config.WriteMode {
		if err := e.openChatView(ctx); err != nil {
			e.c.Logger.Warnf("recovery chat view: %v", err)
		}
	}
	return nil
}

// resetRetry marks the previous attempt superseded before acting again.
func (e *Engine) resetRetry(st *model.RunState) error {
	if st.Report != nil {
		st.Report.Status = model.ActionRetrying
	}
	st.Validation = nil
	return nil
}

// persist writes the attempt trace. This stage runs exactly once per run
// regardless of how the attempt went; a run that cannot record evidence
// is the one failure worth surfacing.
func (e *Engine) persist(st *model.RunState) error {
	tr := &store.Trace{
		TS:           time.Now().Unix(),
		TaskEnvelope: st.Envelope,
		ActionReport: st.Report,
		Validation:   st.Validation,
		Validated:    st.Validation != nil && st.Validation.Validated,
		RetryCount:   st.RetryCount,
	}
	path, err := e.c.Episodes.WriteTrace(tr)
	if err != nil {
		return fmt.Errorf("persist trace: %w", err)
	}
	e.c.Logger.Infof("trace written to %s", path)
	return nil
}
