// Package oracle defines the external decision services a run consults:
// a reasoning oracle that picks the next work item and a vision oracle
// that judges screenshot evidence. Oracle output is untrusted, best-effort
// input; callers degrade to deterministic behavior when it is unusable.
package oracle

import (
	"context"

	"github.com/pmacl/vspilot/internal/model"
)

// Selection is the reasoning oracle's choice of next work item.
type Selection struct {
	WorkItemID string `json:"work_item_id"`
	Rationale  string `json:"rationale,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Reasoner selects the next work item given the run context. An error or
// an unknown work item id makes the caller fall back to round-robin.
type Reasoner interface {
	SelectWorkItem(ctx context.Context, repos map[string]model.RepoInfo, plan *model.Plan, items []model.WorkItem) (*Selection, error)
}

// Vision judges an image against a question and returns free text.
type Vision interface {
	Judge(ctx context.Context, imageB64, question string) (string, error)
}

// FallbackSelection deterministically picks the next item round-robin.
// It returns the selection and the updated cursor.
func FallbackSelection(items []model.WorkItem, next int) (*Selection, int) {
	if len(items) == 0 {
		return nil, next
	}
	idx := next % len(items)
	return &Selection{
		WorkItemID: items[idx].ID,
		Rationale:  "round-robin fallback",
	}, idx + 1
}
