package scheduler

import (
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"

	"pmsim/internal/domain"
	"pmsim/internal/taskgraph"
)

const (
	CrossoverRandom = "random"
	CrossoverSmart  = "smart"

	SelectionTournament = "tournament"
	SelectionRank       = "rank"
)

type Config struct {
	Population        int
	Generations       int
	Elitism           float64
	MutationProb      float64
	Crossover         string
	Selection         string
	StoppingRounds    int
	StoppingTolerance float64
}

func (c Config) withDefaults() Config {
	if c.Population <= 0 {
		c.Population = 50
	}
	if c.Generations <= 0 {
		c.Generations = 20
	}
	if c.Elitism <= 0 || c.Elitism > 1 {
		c.Elitism = 0.1
	}
	if c.MutationProb < 0 || c.MutationProb > 1 {
		c.MutationProb = 0.1
	}
	if c.Crossover != CrossoverRandom {
		c.Crossover = CrossoverSmart
	}
	if c.Selection != SelectionRank {
		c.Selection = SelectionTournament
	}
	return c
}

// Result is the outcome of one scheduling run. History holds the best
// fitness of the initial population followed by one entry per generation.
type Result struct {
	Order       []string
	Fitness     float64
	History     []float64
	Generations int
}

type Scheduler struct {
	cfg    Config
	rng    *rand.Rand
	logger *log.Logger
}

func New(cfg Config, rng *rand.Rand, logger *log.Logger) *Scheduler {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if cfg.Population < 2 {
		logger.Printf("scheduler population raised size=%d min=2", cfg.Population)
		cfg.Population = 2
	}
	return &Scheduler{cfg: cfg, rng: rng, logger: logger}
}

type individual struct {
	genes   []int
	fitness float64
}

// Schedule returns a dependency-respecting ordering of tasks that
// approximately maximizes Fitness.
func (s *Scheduler) Schedule(tasks []*domain.Task) (Result, error) {
	if len(tasks) == 0 {
		return Result{Order: []string{}}, nil
	}
	g, err := taskgraph.New(tasks)
	if err != nil {
		return Result{}, fmt.Errorf("schedule tasks: %w", err)
	}
	run := newProblem(g)

	pop := make([]individual, s.cfg.Population)
	for i := range pop {
		pop[i] = individual{genes: run.seed(s.rng)}
	}
	run.evaluate(pop)
	best := cloneIndividual(pop[bestIndex(pop)])
	history := []float64{best.fitness}

	generations := 0
	for gen := 1; gen <= s.cfg.Generations; gen++ {
		pop = s.nextGeneration(run, pop)
		run.evaluate(pop)
		generations = gen
		genBest := pop[bestIndex(pop)]
		history = append(history, genBest.fitness)
		if genBest.fitness > best.fitness {
			best = cloneIndividual(genBest)
		}
		if s.converged(history) {
			s.logger.Printf("scheduler early stop generation=%d best=%.2f", gen, best.fitness)
			break
		}
	}

	order := make([]string, len(best.genes))
	for i, idx := range best.genes {
		order[i] = run.tasks[idx].ID
	}
	order = g.Repair(order)
	return Result{
		Order:       order,
		Fitness:     Fitness(run.ordered(order)),
		History:     history,
		Generations: generations,
	}, nil
}

func (s *Scheduler) converged(history []float64) bool {
	rounds := s.cfg.StoppingRounds
	if rounds <= 0 || len(history) <= rounds+1 {
		return false
	}
	for i := len(history) - rounds; i < len(history); i++ {
		if math.Abs(history[i]-history[i-1]) >= s.cfg.StoppingTolerance {
			return false
		}
	}
	return true
}

func (s *Scheduler) nextGeneration(run *problem, pop []individual) []individual {
	n := len(pop)
	elite := int(math.Ceil(float64(n) * s.cfg.Elitism))
	if elite > n {
		elite = n
	}
	ranked := make([]int, n)
	for i := range ranked {
		ranked[i] = i
	}
	sort.SliceStable(ranked, func(a, b int) bool { return pop[ranked[a]].fitness > pop[ranked[b]].fitness })

	next := make([]individual, 0, n)
	for _, idx := range ranked[:elite] {
		next = append(next, cloneIndividual(pop[idx]))
	}
	for len(next) < n {
		p1 := pop[s.selectParent(pop, ranked)]
		p2 := pop[s.selectParent(pop, ranked)]
		child := run.crossover(p1.genes, p2.genes, s.cfg.Crossover, s.rng)
		mutate(child, s.cfg.MutationProb, s.rng)
		next = append(next, individual{genes: child})
	}
	return next
}

func (s *Scheduler) selectParent(pop []individual, ranked []int) int {
	if s.cfg.Selection == SelectionRank {
		return rankSelect(ranked, s.rng)
	}
	return tournament(pop, s.rng)
}

func bestIndex(pop []individual) int {
	best := 0
	for i := 1; i < len(pop); i++ {
		if pop[i].fitness > pop[best].fitness {
			best = i
		}
	}
	return best
}

func cloneIndividual(in individual) individual {
	return individual{genes: append([]int(nil), in.genes...), fitness: in.fitness}
}
