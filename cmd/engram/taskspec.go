package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/engramhq/engram/internal/bbon"
)

// taskSpecFile is the batch YAML shape of Supplement 4, grounded in the
// teacher's cmd/ai-loop-eval/task_spec.go: a version stamp plus a list
// of task entries, each run as an independent bBoN run.
type taskSpecFile struct {
	Version string         `yaml:"version"`
	Tasks   []taskSpecItem `yaml:"tasks"`
}

type taskSpecItem struct {
	ID          string   `yaml:"id"`
	Title       string   `yaml:"title"`
	SubjectID   string   `yaml:"subject_id"`
	Constraints []string `yaml:"constraints"`
	Context     map[string]any `yaml:"context"`
}

// loadTaskSpecFile parses a batch YAML task-spec file into bBoN task
// specs. The title stands in for §6's `goal` field when present;
// otherwise the entry's id is used so every task has a non-empty goal.
func loadTaskSpecFile(path string) ([]bbon.TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file taskSpecFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("task spec file %s has no tasks", path)
	}

	out := make([]bbon.TaskSpec, 0, len(file.Tasks))
	for _, item := range file.Tasks {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, fmt.Errorf("task spec file %s: task id is empty", path)
		}
		goal := strings.TrimSpace(item.Title)
		if goal == "" {
			goal = id
		}
		out = append(out, bbon.TaskSpec{
			Goal:        goal,
			SubjectID:   strings.TrimSpace(item.SubjectID),
			Constraints: item.Constraints,
			Context:     item.Context,
		})
	}
	return out, nil
}
