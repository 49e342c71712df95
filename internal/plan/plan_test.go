package plan

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmacl/vspilot/internal/model"
)

func writePlan(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writePlan(t, `tasks:
  - id: sync-up
    repo_selector: all
    description: post a sync nudge
    actions:
      - harvest
      - nudge
  - id: review-prs
    repo_selector: api
`)

	p, err := Load(path)
	require.NoError(t, err)
	require.Len(t, p.Tasks, 2)
	assert.Equal(t, "sync-up", p.Tasks[0].ID)
	assert.Equal(t, []string{"harvest", "nudge"}, p.Tasks[0].Actions)
	assert.Equal(t, "api", p.Tasks[1].RepoSelector)
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file should error")
	}

	if _, err := Load(writePlan(t, "tasks: [not: {valid")); err == nil {
		t.Fatal("malformed yaml should error")
	}

	if _, err := Load(writePlan(t, "tasks:\n  - repo_selector: all\n")); err == nil {
		t.Fatal("task without id should error")
	}
}

func TestExpandWorkItems(t *testing.T) {
	p := &model.Plan{Tasks: []model.PlanTask{
		{ID: "sync-up", RepoSelector: "all", Description: "nudge"},
		{ID: "review", RepoSelector: "api"},
		{ID: "orphan", RepoSelector: "gone"},
	}}
	repos := map[string]model.RepoInfo{
		"web": {Path: "/w/web"},
		"api": {Path: "/w/api"},
	}

	items := ExpandWorkItems(p, repos)
	require.Len(t, items, 3)

	// "all" expands in sorted repo order, selectors for unscanned repos drop.
	assert.Equal(t, "sync-up/api", items[0].ID)
	assert.Equal(t, "sync-up/web", items[1].ID)
	assert.Equal(t, "review/api", items[2].ID)
	assert.Equal(t, "api", items[2].RepoName)
	assert.Equal(t, "review", items[2].TaskID)
}

func TestExpandWorkItemsEmpty(t *testing.T) {
	assert.Nil(t, ExpandWorkItems(nil, nil))
	assert.Empty(t, ExpandWorkItems(&model.Plan{}, map[string]model.RepoInfo{"a": {}}))
	assert.Empty(t, ExpandWorkItems(&model.Plan{Tasks: []model.PlanTask{{ID: "t", RepoSelector: "all"}}}, nil))
}
