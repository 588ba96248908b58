package agent

import "pmsim/internal/domain"

// reflectionConditions is the vocabulary synthesized rules may use.
var reflectionConditions = map[string]func(*Coordinator) bool{
	"small_team":  func(c *Coordinator) bool { return len(c.beliefs.Workers) < 5 },
	"medium_team": func(c *Coordinator) bool { n := len(c.beliefs.Workers); return n >= 5 && n <= 15 },
	"large_team":  func(c *Coordinator) bool { return len(c.beliefs.Workers) > 15 },

	"low_skill":    func(c *Coordinator) bool { return c.meanTrust() <= 25 },
	"medium_skill": func(c *Coordinator) bool { s := c.meanTrust(); return s > 25 && s <= 60 },
	"high_skill":   func(c *Coordinator) bool { return c.meanTrust() > 60 },

	"low_motivation":    func(c *Coordinator) bool { return c.beliefs.Team <= 30 },
	"medium_motivation": func(c *Coordinator) bool { return c.beliefs.Team > 30 && c.beliefs.Team <= 60 },
	"high_motivation":   func(c *Coordinator) bool { return c.beliefs.Team > 60 },

	"low_cooperation": func(c *Coordinator) bool { return c.beliefs.CooperationProb < 0.3 },
	"medium_cooperation": func(c *Coordinator) bool {
		p := c.beliefs.CooperationProb
		return p >= 0.3 && p <= 0.6
	},
	"high_cooperation": func(c *Coordinator) bool { return c.beliefs.CooperationProb > 0.6 },

	"hardworking":   func(c *Coordinator) bool { return c.meanLazy() < 5 },
	"somewhat_lazy": func(c *Coordinator) bool { l := c.meanLazy(); return l >= 5 && l < 10 },
	"lazy":          func(c *Coordinator) bool { return c.meanLazy() >= 10 },

	"few_completed":  func(c *Coordinator) bool { return c.completedShare() < 0.33 },
	"some_completed": func(c *Coordinator) bool { s := c.completedShare(); return s >= 0.33 && s <= 0.66 },
	"many_completed": func(c *Coordinator) bool { return c.completedShare() > 0.66 },

	"few_problems":  func(c *Coordinator) bool { return len(c.beliefs.Problems) <= 3 },
	"some_problems": func(c *Coordinator) bool { n := len(c.beliefs.Problems); return n >= 4 && n <= 6 },
	"many_problems": func(c *Coordinator) bool { return len(c.beliefs.Problems) >= 7 },
}

func ReflectionConditionNames() []string {
	return sortedKeys(reflectionConditions)
}

func (c *Coordinator) meanTrust() float64 {
	if len(c.beliefs.Workers) == 0 {
		return 0
	}
	var sum float64
	for _, id := range c.workerIDs {
		sum += c.beliefs.Workers[id].Trust
	}
	return sum / float64(len(c.beliefs.Workers))
}

func (c *Coordinator) meanLazy() float64 {
	if len(c.beliefs.Lazy) == 0 {
		return 0
	}
	var sum int
	for _, n := range c.beliefs.Lazy {
		sum += n
	}
	return float64(sum) / float64(len(c.beliefs.Lazy))
}

func (c *Coordinator) completedShare() float64 {
	if len(c.beliefs.Tasks) == 0 {
		return 0
	}
	n := 0
	for _, s := range c.beliefs.Tasks {
		if s == domain.TaskStatusCompleted {
			n++
		}
	}
	return float64(n) / float64(len(c.beliefs.Tasks))
}
