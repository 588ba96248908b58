package taskgraph

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"pmsim/internal/domain"
)

// ProjectFile is the TOML layout of a project definition.
type ProjectFile struct {
	Objective     string             `toml:"objective"`
	Tasks         []*domain.Task     `toml:"tasks"`
	Resources     []*domain.Resource `toml:"resources"`
	Risks         []domain.RiskSpec  `toml:"risks"`
	Opportunities []domain.RiskSpec  `toml:"opportunities"`
}

// LoadProject reads and validates a TOML project file. When the file lists no
// resources the pool is derived from task requirements.
func LoadProject(path string) (*domain.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project %s: %w", path, err)
	}
	return ParseProject(string(data))
}

func ParseProject(data string) (*domain.Project, error) {
	var pf ProjectFile
	if _, err := toml.Decode(data, &pf); err != nil {
		return nil, fmt.Errorf("decode project: %w", err)
	}
	return Build(pf)
}

// Build validates a project definition and returns the project.
func Build(pf ProjectFile) (*domain.Project, error) {
	for _, t := range pf.Tasks {
		t.ID = strings.TrimSpace(t.ID)
		if t.ID == "" {
			return nil, fmt.Errorf("build project: task without id")
		}
		t.Status = domain.TaskStatusPending
	}
	if _, err := New(pf.Tasks); err != nil {
		return nil, fmt.Errorf("build project: %w", err)
	}
	resources := pf.Resources
	if len(resources) == 0 {
		resources = ResourcesFromTasks(pf.Tasks, 1.2)
	}
	seen := make(map[string]bool, len(resources))
	for _, r := range resources {
		if seen[r.ID] {
			return nil, fmt.Errorf("build project: duplicate resource id %s", r.ID)
		}
		seen[r.ID] = true
	}
	objective := strings.TrimSpace(pf.Objective)
	if objective == "" {
		objective = domain.TagTime
	}
	p := domain.NewProject(objective, pf.Tasks, resources)
	p.Risks = pf.Risks
	p.Opportunities = pf.Opportunities
	return p, nil
}
