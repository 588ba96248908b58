package agent

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownDesire means a rule, milestone or priority tag named a desire the
// agent does not have. The rule catalogue and the desire set have drifted.
var ErrUnknownDesire = errors.New("unknown desire")

type CoordinatorDesires struct {
	Assign            bool
	Reassign          bool
	Cooperate         bool
	Work              bool
	AskReport         bool
	NumberOfTasks     bool
	PriorityOfTasks   bool
	Rewards           bool
	OptimizeResources bool
	OnTime            bool
	AvoidRisks        bool
	GetChances        bool
	Motivation        bool
}

func (d *CoordinatorDesires) lookup(name string) (*bool, bool) {
	switch name {
	case "assign":
		return &d.Assign, true
	case "reassign":
		return &d.Reassign, true
	case "cooperate":
		return &d.Cooperate, true
	case "work":
		return &d.Work, true
	case "ask_report":
		return &d.AskReport, true
	case "number_of_tasks":
		return &d.NumberOfTasks, true
	case "priority_of_tasks":
		return &d.PriorityOfTasks, true
	case "rewards":
		return &d.Rewards, true
	case "optimize_resources":
		return &d.OptimizeResources, true
	case "on_time":
		return &d.OnTime, true
	case "avoid_risks":
		return &d.AvoidRisks, true
	case "get_chances":
		return &d.GetChances, true
	case "motivation":
		return &d.Motivation, true
	}
	return nil, false
}

// Set raises a desire by name.
func (d *CoordinatorDesires) Set(name string) error {
	p, ok := d.lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDesire, name)
	}
	*p = true
	return nil
}

// Active lists the raised desires by name.
func (d CoordinatorDesires) Active() []string {
	var out []string
	for _, name := range CoordinatorDesireNames() {
		if p, _ := d.lookup(name); *p {
			out = append(out, name)
		}
	}
	return out
}

func CoordinatorDesireNames() []string {
	names := []string{
		"assign", "reassign", "cooperate", "work", "ask_report", "number_of_tasks",
		"priority_of_tasks", "rewards", "optimize_resources", "on_time",
		"avoid_risks", "get_chances", "motivation",
	}
	sort.Strings(names)
	return names
}

type WorkerDesires struct {
	Work           bool
	AvoidProblems  bool
	Cooperate      bool
	KeepEnergy     bool
	ReportProgress bool
}
