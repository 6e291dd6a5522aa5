package summarizer

import (
	"fmt"
	"os"
	"sort"
	"text/template"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/newsrisk/backend/pkg/logger"
)

// PromptStore resolves a task name to a text/template source.
type PromptStore interface {
	Template(task string) (string, bool)
}

// StaticPrompts is an in-memory PromptStore.
type StaticPrompts map[string]string

func (s StaticPrompts) Template(task string) (string, bool) {
	t, ok := s[task]
	return t, ok
}

// FilePromptStore holds templates loaded from a YAML or JSON file mapping
// task names to template text.
type FilePromptStore struct {
	templates map[string]string
}

func LoadPromptStore(path string) (*FilePromptStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt store: %w", err)
	}

	var templates map[string]string
	if err := yaml.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("failed to parse prompt store %s: %w", path, err)
	}

	for task, text := range templates {
		if _, err := template.New(task).Parse(text); err != nil {
			return nil, fmt.Errorf("prompt %q: %w", task, err)
		}
	}

	store := &FilePromptStore{templates: templates}
	logger.Info("Prompt store loaded", zap.String("path", path), zap.Strings("tasks", store.Tasks()))

	return store, nil
}

func (f *FilePromptStore) Template(task string) (string, bool) {
	t, ok := f.templates[task]
	return t, ok
}

func (f *FilePromptStore) Tasks() []string {
	tasks := make([]string, 0, len(f.templates))
	for task := range f.templates {
		tasks = append(tasks, task)
	}
	sort.Strings(tasks)
	return tasks
}
