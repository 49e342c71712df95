// Package plan loads the operator-maintained task plan and expands it
// into per-repository work items.
package plan

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/pmacl/vspilot/internal/model"
)

// Load reads and parses a plan file. A missing file is an error; runs
// without a plan should not be silent.
func Load(path string) (*model.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	var p model.Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	for i, task := range p.Tasks {
		if task.ID == "" {
			return nil, fmt.Errorf("plan %s: task %d has no id", path, i)
		}
	}
	return &p, nil
}

// ExpandWorkItems crosses plan tasks with scanned repositories. A task
// with selector "all" yields one item per repository; any other selector
// names a single repository and yields one item when that repository was
// scanned, zero otherwise. Output order is deterministic: tasks in plan
// order, repositories sorted by name.
func ExpandWorkItems(p *model.Plan, repos map[string]model.RepoInfo) []model.WorkItem {
	if p == nil {
		return nil
	}

	names := make([]string, 0, len(repos))
	for name := range repos {
		names = append(names, name)
	}
	sort.Strings(names)

	var items []model.WorkItem
	for _, task := range p.Tasks {
		if task.RepoSelector == "all" {
			for _, name := range names {
				items = append(items, newItem(task, name))
			}
			continue
		}
		if _, ok := repos[task.RepoSelector]; ok {
			items = append(items, newItem(task, task.RepoSelector))
		}
	}
	return items
}

func newItem(task model.PlanTask, repoName string) model.WorkItem {
	return model.WorkItem{
		ID:          task.ID + "/" + repoName,
		RepoName:    repoName,
		TaskID:      task.ID,
		Description: task.Description,
		Actions:     task.Actions,
	}
}
