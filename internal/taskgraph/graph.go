package taskgraph

import (
	"errors"
	"fmt"
	"sort"

	"pmsim/internal/domain"
)

var (
	ErrCycle             = errors.New("task dependencies contain a cycle")
	ErrUnknownDependency = errors.New("task depends on unknown task")
	ErrDuplicateTask     = errors.New("duplicate task id")
)

// Graph is the dependency graph of a task set. Tasks are kept in input order
// so every traversal is deterministic.
type Graph struct {
	tasks      []*domain.Task
	index      map[string]int
	deps       map[string][]string
	dependents map[string][]string
}

func New(tasks []*domain.Task) (*Graph, error) {
	g := &Graph{
		tasks:      make([]*domain.Task, 0, len(tasks)),
		index:      make(map[string]int, len(tasks)),
		deps:       make(map[string][]string, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
	}
	for _, t := range tasks {
		if _, ok := g.index[t.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		g.index[t.ID] = len(g.tasks)
		g.tasks = append(g.tasks, t)
	}
	for _, t := range g.tasks {
		for _, dep := range t.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownDependency, t.ID, dep)
			}
			g.deps[t.ID] = append(g.deps[t.ID], dep)
			g.dependents[dep] = append(g.dependents[dep], t.ID)
		}
	}
	if g.hasCycle() {
		return nil, ErrCycle
	}
	return g, nil
}

func (g *Graph) Len() int {
	return len(g.tasks)
}

func (g *Graph) Task(id string) (*domain.Task, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.tasks[i], true
}

func (g *Graph) Tasks() []*domain.Task {
	return append([]*domain.Task(nil), g.tasks...)
}

func (g *Graph) IDs() []string {
	ids := make([]string, len(g.tasks))
	for i, t := range g.tasks {
		ids[i] = t.ID
	}
	return ids
}

func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

func (g *Graph) hasCycle() bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.tasks))
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, dep := range g.deps[id] {
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	for _, t := range g.tasks {
		if color[t.ID] == white && visit(t.ID) {
			return true
		}
	}
	return false
}

// Levels groups task ids by topological level with Kahn's algorithm. A task
// with no dependencies is on level 0; otherwise its level is one more than
// the highest level among its dependencies.
func (g *Graph) Levels() [][]string {
	indegree := make(map[string]int, len(g.tasks))
	for _, t := range g.tasks {
		indegree[t.ID] = len(g.deps[t.ID])
	}
	level := make(map[string]int, len(g.tasks))
	queue := make([]string, 0, len(g.tasks))
	for _, t := range g.tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
			level[t.ID] = 0
		}
	}
	maxLevel := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if level[id] > maxLevel {
			maxLevel = level[id]
		}
		for _, next := range g.dependents[id] {
			if level[id]+1 > level[next] {
				level[next] = level[id] + 1
			}
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(g.tasks) == 0 {
		return nil
	}
	out := make([][]string, maxLevel+1)
	for _, t := range g.tasks {
		l := level[t.ID]
		out[l] = append(out[l], t.ID)
	}
	return out
}

// Dependents returns every task that transitively depends on id, in
// breadth-first order.
func (g *Graph) Dependents(id string) []string {
	seen := map[string]bool{id: true}
	var out []string
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.dependents[cur] {
			if seen[next] {
				continue
			}
			seen[next] = true
			out = append(out, next)
			queue = append(queue, next)
		}
	}
	return out
}

// IsTopological reports whether every dependency appears strictly before its
// dependent in order. Ids missing from order count as violations.
func (g *Graph) IsTopological(order []string) bool {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	for _, t := range g.tasks {
		p, ok := pos[t.ID]
		if !ok {
			return false
		}
		for _, dep := range g.deps[t.ID] {
			dp, ok := pos[dep]
			if !ok || dp >= p {
				return false
			}
		}
	}
	return true
}

// Repair returns a topological order that keeps the relative order of
// order wherever dependencies allow. Unknown ids are dropped and missing
// ones appended in graph order.
func (g *Graph) Repair(order []string) []string {
	rank := make(map[string]int, len(g.tasks))
	for i, id := range order {
		if _, ok := g.index[id]; !ok {
			continue
		}
		if _, dup := rank[id]; !dup {
			rank[id] = i
		}
	}
	next := len(order)
	for _, t := range g.tasks {
		if _, ok := rank[t.ID]; !ok {
			rank[t.ID] = next
			next++
		}
	}

	indegree := make(map[string]int, len(g.tasks))
	ready := make([]string, 0, len(g.tasks))
	for _, t := range g.tasks {
		indegree[t.ID] = len(g.deps[t.ID])
		if indegree[t.ID] == 0 {
			ready = append(ready, t.ID)
		}
	}
	out := make([]string, 0, len(g.tasks))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return rank[ready[i]] < rank[ready[j]] })
		id := ready[0]
		ready = ready[1:]
		out = append(out, id)
		for _, dep := range g.dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return out
}

// ResourcesFromTasks derives a resource pool from task requirements. Each
// resource gets the summed requirement times headroom.
func ResourcesFromTasks(tasks []*domain.Task, headroom float64) []*domain.Resource {
	if headroom <= 0 {
		headroom = 1.2
	}
	totals := make(map[string]float64)
	var ids []string
	for _, t := range tasks {
		for _, req := range t.Requires {
			if _, ok := totals[req.ResourceID]; !ok {
				ids = append(ids, req.ResourceID)
			}
			totals[req.ResourceID] += req.Quantity
		}
	}
	out := make([]*domain.Resource, 0, len(ids))
	for _, id := range ids {
		out = append(out, &domain.Resource{ID: id, Total: totals[id] * headroom})
	}
	return out
}
