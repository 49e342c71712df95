package model

// Stage identifies one step of the run graph. Stages execute strictly
// sequentially within a run; routing between them is decided by the engine
// after ActStep and after ValidateEvidence.
type Stage string

const (
	StageScanRepos        Stage = "ScanRepos"
	StageSyncPlan         Stage = "SyncPlan"
	StageReasonStep       Stage = "ReasonStep"
	StageActStep          Stage = "ActStep"
	StageValidateEvidence Stage = "ValidateEvidence"
	StageRecovery         Stage = "Recovery"
	StageResetRetry       Stage = "ResetRetry"
	StagePersist          Stage = "Persist"
	StageTerminal         Stage = "Terminal"
)

// RunState is the serializable state of one run. It is exclusively owned by
// the run that created it; concurrent runs must not share an instance.
// Collaborator handles (adapter, oracles, stores) deliberately live outside
// this struct so that a checkpoint never captures them.
type RunState struct {
	RunID      string              `json:"run_id"`
	ReposRoot  string              `json:"repos_root"`
	Repos      map[string]RepoInfo `json:"repos"`
	ScanError  string              `json:"scan_error,omitempty"`
	Plan       *Plan               `json:"plan,omitempty"`
	WorkItems  []WorkItem          `json:"work_items,omitempty"`
	NextIndex  int                 `json:"next_index"`
	Envelope   *TaskEnvelope       `json:"task_envelope,omitempty"`
	Report     *ActionReport       `json:"action_report,omitempty"`
	Validation *ValidationResult   `json:"validation,omitempty"`
	RetryCount int                 `json:"retry_count"`
}

// RepoInfo is the scan result for one repository under repos_root.
type RepoInfo struct {
	Path          string   `json:"path"`
	DefaultBranch string   `json:"default_branch"`
	Branches      []string `json:"branches"`
	OpenPRs       int      `json:"open_prs"`
	LastScan      int64    `json:"last_scan"`
}

// Plan is the operator-maintained task plan loaded from plan.yaml.
type Plan struct {
	Tasks []PlanTask `yaml:"tasks" json:"tasks"`
}

// PlanTask describes one planned task. RepoSelector is either "all" or the
// name of a single repository.
type PlanTask struct {
	ID           string   `yaml:"id" json:"id"`
	RepoSelector string   `yaml:"repo_selector" json:"repo_selector"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	Actions      []string `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// WorkItem is one unit of planned work bound to a single repository.
// Work items are produced by SyncPlan and never mutated afterwards.
type WorkItem struct {
	ID          string   `json:"id"`
	RepoName    string   `json:"repo_name"`
	TaskID      string   `json:"task_id"`
	Description string   `json:"description,omitempty"`
	Actions     []string `json:"actions,omitempty"`
}
