package model

// ActionStatus is the outcome class of one action attempt. It is the sole
// input to post-act routing.
type ActionStatus string

const (
	ActionOK       ActionStatus = "ok"
	ActionFailed   ActionStatus = "failed"
	ActionRetrying ActionStatus = "retrying"
)

// TaskEnvelope is the concrete instruction derived from a work item for one
// action cycle. Built once by ReasonStep and immutable afterwards.
type TaskEnvelope struct {
	Type           string          `json:"type"`
	Intent         string          `json:"intent"`
	TargetRepoPath string          `json:"target_repo_path"`
	Payload        EnvelopePayload `json:"payload"`
	Meta           EnvelopeMeta    `json:"meta"`
}

type EnvelopePayload struct {
	Message   string    `json:"message_to_post,omitempty"`
	CopyScope CopyScope `json:"copy_scope"`
}

type CopyScope struct {
	Mode string `json:"mode"`
	N    int    `json:"n,omitempty"`
}

type EnvelopeMeta struct {
	TaskID    string `json:"task_id"`
	RepoName  string `json:"repo_name"`
	Rationale string `json:"rationale,omitempty"`
}

// WindowRef records the window an action targeted. The handle is whatever
// the capability layer reported; it is not assumed stable across sessions.
type WindowRef struct {
	Handle int    `json:"hwnd"`
	Title  string `json:"title"`
}

// Artifacts holds base64-encoded screenshot evidence captured around an
// action attempt.
type Artifacts struct {
	Pre  string `json:"pre"`
	Post string `json:"post"`
}

// ActionReport is the structured outcome of one action cycle.
type ActionReport struct {
	Status      ActionStatus `json:"status"`
	Window      *WindowRef   `json:"window,omitempty"`
	CopiedChars int          `json:"copied_chat_chars"`
	Artifacts   *Artifacts   `json:"artifacts,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Next        string       `json:"next,omitempty"`
}

// ValidationResult is the evidence verdict produced by ValidateEvidence.
type ValidationResult struct {
	Validated     bool     `json:"validated"`
	StructuralOK  bool     `json:"structural_ok"`
	VisionOutcome string   `json:"vision_outcome,omitempty"`
	Issues        []string `json:"issues,omitempty"`
}
