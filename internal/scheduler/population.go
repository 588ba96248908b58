package scheduler

import (
	"math/rand"
	"sort"

	"pmsim/internal/domain"
	"pmsim/internal/taskgraph"
)

// problem is the index-based view of a task graph shared by every
// individual of one run.
type problem struct {
	graph  *taskgraph.Graph
	tasks  []*domain.Task
	index  map[string]int
	levels [][]int
	deps   [][]int
}

func newProblem(g *taskgraph.Graph) *problem {
	p := &problem{graph: g, tasks: g.Tasks(), index: make(map[string]int, g.Len())}
	for i, t := range p.tasks {
		p.index[t.ID] = i
	}
	p.deps = make([][]int, len(p.tasks))
	for i, t := range p.tasks {
		for _, dep := range g.Dependencies(t.ID) {
			p.deps[i] = append(p.deps[i], p.index[dep])
		}
	}
	for _, level := range g.Levels() {
		row := make([]int, len(level))
		for i, id := range level {
			row[i] = p.index[id]
		}
		p.levels = append(p.levels, row)
	}
	return p
}

func (p *problem) ordered(ids []string) []*domain.Task {
	out := make([]*domain.Task, len(ids))
	for i, id := range ids {
		out[i] = p.tasks[p.index[id]]
	}
	return out
}

func (p *problem) evaluate(pop []individual) {
	buf := make([]*domain.Task, len(p.tasks))
	for i := range pop {
		for j, idx := range pop[i].genes {
			buf[j] = p.tasks[idx]
		}
		pop[i].fitness = Fitness(buf)
	}
}

// seed builds one individual: a weighted shuffle inside every level followed
// by a structural mutation.
func (p *problem) seed(rng *rand.Rand) []int {
	level := make([]int, len(p.tasks))
	keys := make([]float64, len(p.tasks))
	for l, row := range p.levels {
		for _, idx := range row {
			level[idx] = l
			keys[idx] = rng.Float64() * seedWeight(p.tasks[idx])
		}
	}

	if len(p.tasks) > 0 {
		moved := p.tasks[rng.Intn(len(p.tasks))].ID
		level[p.index[moved]]++
		for _, id := range p.graph.Dependents(moved) {
			level[p.index[id]]++
		}
	}

	genes := make([]int, len(p.tasks))
	for i := range genes {
		genes[i] = i
	}
	sort.SliceStable(genes, func(a, b int) bool {
		ga, gb := genes[a], genes[b]
		if level[ga] != level[gb] {
			return level[ga] < level[gb]
		}
		return keys[ga] > keys[gb]
	})
	return genes
}

// seedWeight favours short, easy, safe tasks with a lot of reward and little
// slack. Non-positive factors count as one.
func seedWeight(t *domain.Task) float64 {
	denom := positive(t.Duration) * positive(t.Duration) * positive(t.Difficulty) *
		positive(t.ProblemProb) * positive(t.Deadline-t.Start)
	return t.Reward / denom
}

func positive(v float64) float64 {
	if v > 0 {
		return v
	}
	return 1
}
