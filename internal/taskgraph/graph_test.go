package taskgraph

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"pmsim/internal/domain"
)

func chain() []*domain.Task {
	return []*domain.Task{
		{ID: "T3", DependsOn: []string{"T2"}},
		{ID: "T1"},
		{ID: "T2", DependsOn: []string{"T1"}},
		{ID: "T4", DependsOn: []string{"T1"}},
	}
}

func TestNewRejectsInvalidGraphs(t *testing.T) {
	cases := []struct {
		name  string
		tasks []*domain.Task
		want  error
	}{
		{"duplicate", []*domain.Task{{ID: "a"}, {ID: "a"}}, ErrDuplicateTask},
		{"unknown", []*domain.Task{{ID: "a", DependsOn: []string{"x"}}}, ErrUnknownDependency},
		{"cycle", []*domain.Task{
			{ID: "a", DependsOn: []string{"c"}},
			{ID: "b", DependsOn: []string{"a"}},
			{ID: "c", DependsOn: []string{"b"}},
		}, ErrCycle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.tasks)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want=%v", err, tc.want)
			}
		})
	}
}

func TestLevels(t *testing.T) {
	g, err := New(chain())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := g.Levels()
	want := [][]string{{"T1"}, {"T2", "T4"}, {"T3"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("levels=%v want=%v", got, want)
	}
}

func TestLevelsEmpty(t *testing.T) {
	g, err := New(nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := g.Levels(); len(got) != 0 {
		t.Fatalf("expected no levels, got %v", got)
	}
}

func TestDependents(t *testing.T) {
	g, err := New(chain())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := g.Dependents("T1")
	want := []string{"T2", "T4", "T3"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("dependents=%v want=%v", got, want)
	}
	if deps := g.Dependents("T3"); len(deps) != 0 {
		t.Fatalf("leaf should have no dependents, got %v", deps)
	}
}

func TestRepairProducesTopologicalOrder(t *testing.T) {
	g, err := New(chain())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	broken := []string{"T3", "T4", "T2", "T1"}
	if g.IsTopological(broken) {
		t.Fatalf("expected %v to be rejected", broken)
	}
	fixed := g.Repair(broken)
	if !g.IsTopological(fixed) {
		t.Fatalf("repaired order %v is not topological", fixed)
	}
	if len(fixed) != 4 {
		t.Fatalf("repaired order lost tasks: %v", fixed)
	}

	valid := []string{"T1", "T4", "T2", "T3"}
	if got := g.Repair(valid); !reflect.DeepEqual(got, valid) {
		t.Fatalf("repair changed a valid order: %v", got)
	}
}

func TestRepairAppendsMissingAndDropsUnknown(t *testing.T) {
	g, err := New(chain())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := g.Repair([]string{"zzz", "T1"})
	if !g.IsTopological(got) {
		t.Fatalf("order %v is not topological", got)
	}
	if got[0] != "T1" {
		t.Fatalf("expected T1 first, got %v", got)
	}
}

func TestResourcesFromTasks(t *testing.T) {
	tasks := []*domain.Task{
		{ID: "a", Requires: []domain.ResourceRequirement{{ResourceID: "dev", Quantity: 10}}},
		{ID: "b", Requires: []domain.ResourceRequirement{{ResourceID: "dev", Quantity: 5}, {ResourceID: "qa", Quantity: 2}}},
	}
	got := ResourcesFromTasks(tasks, 0)
	if len(got) != 2 {
		t.Fatalf("resources=%d want=2", len(got))
	}
	if got[0].ID != "dev" || got[0].Total != 18 {
		t.Fatalf("unexpected dev resource: %+v", got[0])
	}
	if got[1].ID != "qa" || got[1].Total != 2.4 {
		t.Fatalf("unexpected qa resource: %+v", got[1])
	}
}

func TestLoadProject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.toml")
	data := `
objective = "rewards"

[[tasks]]
id = "design"
deadline = 100
duration = 20
reward = 50
difficulty = 30
problem_probability = 0.1
requires = [{ resource = "dev", quantity = 5 }]

[[tasks]]
id = "build"
deadline = 200
duration = 40
reward = 80
difficulty = 50
depends_on = ["design"]

[[risks]]
name = "LateStart"
probability = 0.2
impact = ["time"]
conditions = ["execution_delay"]
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write project: %v", err)
	}
	p, err := LoadProject(path)
	if err != nil {
		t.Fatalf("load project: %v", err)
	}
	if p.Objective != "rewards" {
		t.Fatalf("objective=%q", p.Objective)
	}
	if ids := p.TaskIDs(); !reflect.DeepEqual(ids, []string{"design", "build"}) {
		t.Fatalf("task ids=%v", ids)
	}
	if p.Tasks["build"].Status != domain.TaskStatusPending {
		t.Fatalf("status=%s", p.Tasks["build"].Status)
	}
	if r, ok := p.Resources["dev"]; !ok || r.Total != 6 {
		t.Fatalf("derived resource missing or wrong: %+v", r)
	}
	if len(p.Risks) != 1 || p.Risks[0].Conditions[0] != "execution_delay" {
		t.Fatalf("risks=%+v", p.Risks)
	}
}

func TestParseProjectRejectsCycle(t *testing.T) {
	data := `
[[tasks]]
id = "a"
depends_on = ["b"]

[[tasks]]
id = "b"
depends_on = ["a"]
`
	if _, err := ParseProject(data); !errors.Is(err, ErrCycle) {
		t.Fatalf("err=%v want ErrCycle", err)
	}
}
