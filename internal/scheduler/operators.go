package scheduler

import (
	"math"
	"math/rand"

	"pmsim/internal/domain"
)

// Fitness walks tasks in order and scores the walk: reward for on-time
// tasks, priority-scaled penalties for missing dependencies and overruns,
// and a small bonus for variety in difficulty between neighbours.
func Fitness(order []*domain.Task) float64 {
	var reward, penalty, elapsed float64
	done := make(map[string]bool, len(order))
	for i, t := range order {
		for _, dep := range t.DependsOn {
			if !done[dep] {
				penalty += float64(5-t.Priority) * 100
				break
			}
		}
		elapsed += t.Duration
		if elapsed > t.Deadline {
			penalty += (elapsed - t.Deadline) * float64(5-t.Priority)
		} else {
			reward += t.Reward
		}
		if i > 0 {
			if math.Abs(t.Difficulty-order[i-1].Difficulty) > 10 {
				reward += 5
			} else {
				penalty += 2
			}
		}
		done[t.ID] = true
	}
	return reward - penalty
}

// impossibleCounts returns, for every prefix of genes, how many tasks in it
// would start with a missing dependency or finish past their deadline.
func (p *problem) impossibleCounts(genes []int) []int {
	out := make([]int, len(genes))
	done := make([]bool, len(p.tasks))
	elapsed := 0.0
	count := 0
	for i, idx := range genes {
		impossible := false
		for _, dep := range p.deps[idx] {
			if !done[dep] {
				impossible = true
				break
			}
		}
		elapsed += p.tasks[idx].Duration
		if elapsed > p.tasks[idx].Deadline {
			impossible = true
		}
		if impossible {
			count++
		}
		done[idx] = true
		out[i] = count
	}
	return out
}

// crossover keeps a prefix of p1 and fills the rest with the genes of p2 in
// their p2 order. The result is always a permutation of the task set.
func (p *problem) crossover(p1, p2 []int, mode string, rng *rand.Rand) []int {
	n := len(p1)
	if n < 2 {
		return append([]int(nil), p1...)
	}
	cut := rng.Intn(n-1) + 1
	if mode == CrossoverSmart {
		cut = p.smartCut(p1, p2)
	}
	child := make([]int, 0, n)
	placed := make([]bool, len(p.tasks))
	for _, g := range p1[:cut] {
		child = append(child, g)
		placed[g] = true
	}
	for _, g := range p2 {
		if !placed[g] {
			child = append(child, g)
			placed[g] = true
		}
	}
	return child
}

// smartCut picks the cut that minimizes impossible tasks kept from the p1
// prefix plus those taken from the p2 remainder.
func (p *problem) smartCut(p1, p2 []int) int {
	n := len(p1)
	eval1 := p.impossibleCounts(p1)
	eval2 := p.impossibleCounts(p2)
	total := eval2[n-1]
	cut := n / 2
	best := math.MaxInt
	for i := 0; i < n-1; i++ {
		score := eval1[i] + (total - eval2[i])
		if score < best {
			best = score
			cut = i
		}
	}
	return cut
}

// mutate selects every gene with probability prob and permutes the selected
// genes among their own positions.
func mutate(genes []int, prob float64, rng *rand.Rand) {
	var positions []int
	for i := range genes {
		if rng.Float64() < prob {
			positions = append(positions, i)
		}
	}
	if len(positions) < 2 {
		return
	}
	values := make([]int, len(positions))
	for i, pos := range positions {
		values[i] = genes[pos]
	}
	rng.Shuffle(len(values), func(i, j int) { values[i], values[j] = values[j], values[i] })
	for i, pos := range positions {
		genes[pos] = values[i]
	}
}

// tournament runs two pairwise contests and returns the better winner.
func tournament(pop []individual, rng *rand.Rand) int {
	pair := func() int {
		a := rng.Intn(len(pop))
		b := rng.Intn(len(pop) - 1)
		if b >= a {
			b++
		}
		if pop[a].fitness > pop[b].fitness {
			return a
		}
		return b
	}
	wa, wb := pair(), pair()
	if pop[wa].fitness > pop[wb].fitness {
		return wa
	}
	return wb
}

// rankSelect draws an index with probability proportional to 1/rank, where
// ranked lists indices best first.
func rankSelect(ranked []int, rng *rand.Rand) int {
	var total float64
	for r := range ranked {
		total += 1 / float64(r+1)
	}
	x := rng.Float64() * total
	for r, idx := range ranked {
		x -= 1 / float64(r+1)
		if x < 0 {
			return idx
		}
	}
	return ranked[len(ranked)-1]
}
