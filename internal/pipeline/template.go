package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// DefaultTemplate is always registered and used when a deployment does not
// name a template explicitly.
const DefaultTemplate = "default"

// TemplateStage describes one fixed step of a pipeline template.
type TemplateStage struct {
	Name        string `yaml:"name"`
	DisplayName string `yaml:"display_name"`
	Description string `yaml:"description"`
}

// Template is a named, ordered list of stages. Security stages are not part of
// a template; the engine appends them per policy when a pipeline is built.
type Template struct {
	Name   string          `yaml:"name"`
	Stages []TemplateStage `yaml:"stages"`
}

// TemplateRegistry holds the known pipeline templates.
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateRegistry returns a registry with the default template installed.
func NewTemplateRegistry() *TemplateRegistry {
	r := &TemplateRegistry{templates: make(map[string]Template)}
	r.templates[DefaultTemplate] = Template{
		Name: DefaultTemplate,
		Stages: []TemplateStage{
			{Name: "checkout", DisplayName: "Code Checkout", Description: "Fetch the project revision into a workspace"},
			{Name: "build", DisplayName: "Build", Description: "Run the project's build command"},
			{Name: "deploy", DisplayName: "Deploy", Description: "Ship the built revision to the target environment"},
		},
	}
	return r
}

// Register adds or replaces a template.
func (r *TemplateRegistry) Register(t Template) error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("template name required")
	}
	if len(t.Stages) == 0 {
		return fmt.Errorf("template %q has no stages", t.Name)
	}
	for i, s := range t.Stages {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("template %q stage %d has no name", t.Name, i)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.Name] = t
	return nil
}

// Get looks up a template by name.
func (r *TemplateRegistry) Get(name string) (Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[name]
	return t, ok
}

// LoadDir registers every *.yaml template found under dir. A missing directory
// is not an error; operators may run with built-in templates only.
func (r *TemplateRegistry) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read template dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read template %s: %w", path, err)
		}
		var t Template
		if err := yaml.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("parse template %s: %w", path, err)
		}
		if t.Name == "" {
			t.Name = strings.TrimSuffix(entry.Name(), ext)
		}
		if err := r.Register(t); err != nil {
			return fmt.Errorf("register template %s: %w", path, err)
		}
	}
	return nil
}
