package agent

import (
	"math"
	"slices"
	"sort"

	"pmsim/internal/domain"
	"pmsim/internal/risk"
)

const (
	solutionCooperation  = "cooperation"
	solutionReassignment = "reassignment"
)

// maxTasksPerWorker caps how many tasks one idle worker receives per tick.
const maxTasksPerWorker = 3

func (c *Coordinator) ResolveAction() (CoordinatorAction, error) {
	var act CoordinatorAction
	b := &c.beliefs
	in := c.intents

	if in.prevention {
		for _, r := range c.perception.Risks {
			for _, tag := range r.Impact {
				if !goalTag(tag) {
					b.ToOptimize = appendUnique(b.ToOptimize, tag)
				}
			}
			c.desires.OnTime = c.desires.OnTime || slices.Contains(r.Impact, domain.TagTime)
			c.desires.NumberOfTasks = c.desires.NumberOfTasks || slices.Contains(r.Impact, domain.TagNumberOfTasks)
			c.desires.PriorityOfTasks = c.desires.PriorityOfTasks || slices.Contains(r.Impact, domain.TagPriorityOfTasks)
			c.desires.Rewards = c.desires.Rewards || slices.Contains(r.Impact, domain.TagRewards)
		}
	}

	if in.reassign {
		act.Reassign = c.reassign()
	}
	if in.cooperate {
		if coop, ok := c.pairForCooperation(); ok {
			act.Cooperations = append(act.Cooperations, coop)
		}
	}
	if in.assign {
		act.Assignments = c.assign()
	}
	if in.work && len(b.Problems) > 0 {
		act.WorkOn = b.Problems[0]
	}
	if in.motivate {
		act.Motivate = c.mostSolved(3)
	}
	if in.priority {
		act.Priority = c.priority()
	}
	if in.optimize && len(b.ToOptimize) > 0 {
		act.Optimize = slices.Clone(b.ToOptimize)
	}
	if in.takeChance && len(c.perception.Opportunities) > 0 {
		o := c.chooseOpportunity()
		act.TakeChance = &o
	}
	if in.askReport {
		for _, id := range c.workerIDs {
			if b.Workers[id].State == domain.WorkerBusy && b.AskReportAt[id] <= c.perception.Now {
				act.AskReports = append(act.AskReports, id)
			}
		}
	}
	return act, nil
}

func goalTag(tag string) bool {
	switch tag {
	case domain.TagTime, domain.TagNumberOfTasks, domain.TagPriorityOfTasks, domain.TagRewards:
		return true
	}
	return false
}

// reassign hands each problem to the first worker, in id order, trusted
// enough for its difficulty.
func (c *Coordinator) reassign() []Assignment {
	b := &c.beliefs
	var out []Assignment
	for _, task := range slices.Clone(b.Problems) {
		d := c.project.Tasks[task].Difficulty
		for _, id := range c.workerIDs {
			if b.Workers[id].Trust >= d {
				out = append(out, Assignment{WorkerID: id, TaskID: task})
				b.Solutions[task] = solutionReassignment
				b.Problems = remove(b.Problems, task)
				break
			}
		}
	}
	return out
}

// pairForCooperation probes adjacent worker pairs for one whose combined
// trust covers a problem. At most one pair is formed per tick.
func (c *Coordinator) pairForCooperation() (Cooperation, bool) {
	b := &c.beliefs
	ids := c.workerIDs
	if len(ids) < 2 {
		return Cooperation{}, false
	}
	sum := func(i int) float64 { return b.Workers[ids[i]].Trust + b.Workers[ids[i+1]].Trust }
	for _, task := range b.Problems {
		d := c.project.Tasks[task].Difficulty
		i := c.rng.Intn(len(ids) - 1)
		for probes := 0; sum(i) < d && probes < 10; probes++ {
			i = c.rng.Intn(len(ids) - 1)
		}
		if sum(i) >= d {
			b.Solutions[task] = solutionCooperation
			b.Problems = remove(b.Problems, task)
			return Cooperation{First: ids[i], Second: ids[i+1], TaskID: task}, true
		}
	}
	return Cooperation{}, false
}

// assign takes up to three backlog tasks per idle worker and gives each to
// the worker whose trust is closest to the task difficulty.
func (c *Coordinator) assign() []Assignment {
	b := &c.beliefs
	type candidate struct {
		id    string
		trust float64
	}
	var idle []candidate
	for _, id := range c.workerIDs {
		if w := b.Workers[id]; w.State == domain.WorkerIdle {
			idle = append(idle, candidate{id, w.Trust})
		}
	}
	if len(idle) == 0 {
		return nil
	}
	sort.SliceStable(idle, func(i, j int) bool { return idle[i].trust < idle[j].trust })

	n := min(len(idle)*maxTasksPerWorker, len(c.backlog))
	taken := c.backlog[:n]
	c.backlog = slices.Clone(c.backlog[n:])

	load := make(map[string]int, len(idle))
	out := make([]Assignment, 0, n)
	for _, task := range taken {
		d := c.project.Tasks[task].Difficulty
		best := -1
		for i, w := range idle {
			if load[w.id] >= maxTasksPerWorker {
				continue
			}
			if best < 0 || math.Abs(w.trust-d) < math.Abs(idle[best].trust-d) {
				best = i
			}
		}
		w := idle[best].id
		load[w]++
		out = append(out, Assignment{WorkerID: w, TaskID: task})
		if b.Tasks[task] == domain.TaskStatusPending {
			b.Tasks[task] = domain.TaskStatusAssigned
		}
	}
	return out
}

func (c *Coordinator) mostSolved(k int) []string {
	ids := slices.Clone(c.workerIDs)
	sort.SliceStable(ids, func(i, j int) bool { return c.beliefs.Solved[ids[i]] > c.beliefs.Solved[ids[j]] })
	return ids[:min(k, len(ids))]
}

// priority resolves competing targets; the later checks win.
func (c *Coordinator) priority() string {
	var p string
	if c.desires.NumberOfTasks {
		p = domain.PriorityTasks
	}
	if c.desires.PriorityOfTasks {
		p = domain.PriorityPriority
	}
	if c.desires.Rewards {
		p = domain.PriorityRewards
	}
	if c.desires.OnTime {
		p = domain.PriorityTime
	}
	return p
}

func (c *Coordinator) chooseOpportunity() risk.Opportunity {
	focused := func(tag string) bool {
		return slices.Contains(c.beliefs.ToOptimize, tag) || (tag == domain.TagTime && c.desires.OnTime)
	}
	var safe []risk.Opportunity
	for _, o := range c.perception.Opportunities {
		if !slices.ContainsFunc(o.Impact, focused) {
			safe = append(safe, o)
		}
	}
	if len(safe) == 0 {
		safe = c.perception.Opportunities
	}
	best, bestScore := -1, 0
	for i, o := range safe {
		score := 0
		for _, tag := range o.Benefits {
			if focused(tag) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		best = c.rng.Intn(len(safe))
	}
	return safe[best]
}
