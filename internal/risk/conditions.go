package risk

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"pmsim/internal/domain"
)

var ErrUnknownCondition = errors.New("unknown risk condition")

// BudgetResource is the resource id the spending conditions watch.
const BudgetResource = "budget"

// Snapshot is the part of the coordinator's beliefs the catalogue reads.
// Project is read only; task records and resource totals come from it.
type Snapshot struct {
	Project         *domain.Project
	TaskStatus      map[string]domain.TaskStatus
	Resources       map[string]float64
	Workers         map[string]domain.WorkerState
	Problems        int
	Team            float64
	MinTeam         float64
	AverageTime     float64
	MaxReward       float64
	MilestoneTarget float64
	HasMilestone    bool
	MilestonesCount int
}

// Condition is a named predicate. Stochastic conditions draw from rng, which
// belongs to the evaluator.
type Condition struct {
	Name  string
	Check func(s Snapshot, now float64, rng *rand.Rand) bool
}

func (s Snapshot) believedCompleted() int {
	n := 0
	for _, st := range s.TaskStatus {
		if st == domain.TaskStatusCompleted {
			n++
		}
	}
	return n
}

func (s Snapshot) tasks() []*domain.Task {
	if s.Project == nil {
		return nil
	}
	return s.Project.TaskList()
}

func (s Snapshot) resourceTotal(id string) (float64, bool) {
	if s.Project == nil {
		return 0, false
	}
	r, ok := s.Project.Resources[id]
	if !ok {
		return 0, false
	}
	return r.Total, true
}

var conditions = map[string]func(s Snapshot, now float64, rng *rand.Rand) bool{
	"execution_delay": func(s Snapshot, now float64, _ *rand.Rand) bool {
		return float64(s.believedCompleted()) < float64(len(s.TaskStatus))/2 && now > 0.75*s.AverageTime
	},
	"accelerated_spending": func(s Snapshot, now float64, _ *rand.Rand) bool {
		total, ok := s.resourceTotal(BudgetResource)
		level, known := s.Resources[BudgetResource]
		return ok && known && level < total/2 && now < 0.5*s.AverageTime
	},
	"cost_increase": func(s Snapshot, now float64, rng *rand.Rand) bool {
		return now > 0.5*s.AverageTime && rng.Float64() < 0.3
	},
	"unfulfilled_dependencies": func(s Snapshot, _ float64, _ *rand.Rand) bool {
		for _, t := range s.tasks() {
			if t.Status.Terminal() {
				continue
			}
			for _, dep := range t.DependsOn {
				if s.TaskStatus[dep] == domain.TaskStatusFailed {
					return true
				}
			}
		}
		return false
	},
	"lack_of_staff": func(s Snapshot, _ float64, _ *rand.Rand) bool {
		return float64(len(s.Workers)) < 0.75*float64(len(s.tasks()))
	},
	"low_productivity": func(s Snapshot, now float64, _ *rand.Rand) bool {
		var open float64
		for _, t := range s.tasks() {
			if !t.Status.Terminal() {
				open += t.Reward
			}
		}
		return open < 0.25*s.MaxReward && now > 0.5*s.AverageTime
	},
	"low_experience": func(s Snapshot, _ float64, _ *rand.Rand) bool {
		return float64(s.Problems) > float64(len(s.TaskStatus))/float64(max(len(s.Workers), 1))
	},
	"low_motivation": func(s Snapshot, _ float64, _ *rand.Rand) bool {
		return s.Team < s.MinTeam
	},
	"low_priority": func(s Snapshot, now float64, _ *rand.Rand) bool {
		var total, done int
		for _, t := range s.tasks() {
			total += t.Priority
			if t.Status == domain.TaskStatusCompleted {
				done += t.Priority
			}
		}
		return float64(done) < 0.3*float64(total) && now > 0.5*s.AverageTime
	},
	"high_productivity": func(s Snapshot, now float64, _ *rand.Rand) bool {
		var done float64
		for _, t := range s.tasks() {
			if t.Status == domain.TaskStatusCompleted {
				done += t.Reward
			}
		}
		return done >= 0.75*s.MaxReward && now < 0.75*s.AverageTime
	},
	"high_motivation": func(s Snapshot, now float64, _ *rand.Rand) bool {
		return s.Team > 80 && now < 0.75*s.AverageTime
	},
	"optimized_resources": func(s Snapshot, now float64, _ *rand.Rand) bool {
		var have, required float64
		for _, v := range s.Resources {
			have += v
		}
		if s.Project != nil {
			for _, r := range s.Project.Resources {
				required += r.Total
			}
		}
		return have >= 0.8*required && now < 0.5*s.AverageTime
	},
	"cost_saving": func(s Snapshot, now float64, _ *rand.Rand) bool {
		total, ok := s.resourceTotal(BudgetResource)
		level, known := s.Resources[BudgetResource]
		return ok && known && level > 0.8*total && now > 0.25*s.AverageTime
	},
	"early_completion": func(s Snapshot, now float64, _ *rand.Rand) bool {
		return float64(s.believedCompleted()) >= 0.75*float64(len(s.TaskStatus)) && now < 0.75*s.AverageTime
	},
	"high_cooperation": func(s Snapshot, _ float64, _ *rand.Rand) bool {
		busy := 0
		for _, st := range s.Workers {
			if st == domain.WorkerBusy {
				busy++
			}
		}
		return float64(busy) > 0.5*float64(len(s.Workers))
	},
	"milestone_completion": func(s Snapshot, _ float64, rng *rand.Rand) bool {
		return s.HasMilestone && s.MilestoneTarget < float64(s.MilestonesCount) && rng.Float64() < 0.8
	},
	"risk_management_success": func(s Snapshot, now float64, _ *rand.Rand) bool {
		return float64(s.Problems) < 0.1*float64(len(s.TaskStatus)) && now < 0.75*s.AverageTime
	},
	"innovation": func(s Snapshot, now float64, rng *rand.Rand) bool {
		return rng.Float64() < 0.2 && s.Team > 70 && now < 0.5*s.AverageTime
	},
}

// ConditionByName resolves a catalogue predicate.
func ConditionByName(name string) (Condition, error) {
	check, ok := conditions[name]
	if !ok {
		return Condition{}, fmt.Errorf("%w: %s", ErrUnknownCondition, name)
	}
	return Condition{Name: name, Check: check}, nil
}

// ConditionNames lists every known predicate, sorted.
func ConditionNames() []string {
	names := make([]string, 0, len(conditions))
	for name := range conditions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
