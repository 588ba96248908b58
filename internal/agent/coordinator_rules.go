package agent

import (
	"fmt"

	"pmsim/internal/bdi"
	"pmsim/internal/domain"
	"pmsim/internal/health"
)

const (
	RuleReduceTime        = "ReduceTime"
	RuleOptimizeResource  = "OptimizeResource"
	RuleAvoidRisks        = "AvoidRisks"
	RuleForgetRisks       = "ForgetRisks"
	RuleTakeOpportunities = "TakeOpportunities"
	RuleKeepMotivation    = "KeepMotivation"
	RuleChangeTarget      = "ChangeTarget"
	RuleAssign            = "Assign"
	RuleProblems          = "Problems"
	RuleAskReport         = "AskReport"
	RulePruneRules        = "PruneRules"
)

func (c *Coordinator) registerCoreRules() error {
	rules := []bdi.Rule[*Coordinator]{
		{ID: RuleReduceTime, Weight: 1, Description: "reduce task time when the plan is behind", Eval: (*Coordinator).reduceTime},
		{ID: RuleOptimizeResource, Weight: 2, Description: "optimize resources behind their milestones", Eval: (*Coordinator).optimizeResource},
		{ID: RuleAvoidRisks, Weight: 3, Description: "avoid active risks", Eval: (*Coordinator).avoidRisks},
		{ID: RuleForgetRisks, Weight: 3, Description: "stop worrying about risks", Eval: (*Coordinator).forgetRisks},
		{ID: RuleTakeOpportunities, Weight: 4, Description: "take active opportunities", Eval: (*Coordinator).takeOpportunities},
		{ID: RuleKeepMotivation, Weight: 5, Core: true, Description: "keep team motivation up", Eval: (*Coordinator).keepMotivation},
		{ID: RuleChangeTarget, Weight: 6, Core: true, Description: "switch the team priority", Eval: (*Coordinator).changeTarget},
		{ID: RuleAssign, Weight: 7, Core: true, Description: "assign work to idle workers", Eval: (*Coordinator).assignRule},
		{ID: RuleProblems, Weight: 8, Core: true, Description: "handle escalated problems", Eval: (*Coordinator).problemsRule},
	}
	if c.cfg.AskReports {
		rules = append(rules, bdi.Rule[*Coordinator]{
			ID: RuleAskReport, Weight: 9, Core: true, Description: "request progress reports", Eval: (*Coordinator).askReportRule,
		})
	}
	if c.cfg.AdaptiveRules {
		rules = append(rules, bdi.Rule[*Coordinator]{
			ID: RulePruneRules, Weight: 10, Core: true, Description: "adapt rule weights to project health", Eval: (*Coordinator).pruneRules,
		})
	}
	for _, r := range rules {
		if err := c.rules.Register(r); err != nil {
			return fmt.Errorf("register core rules: %w", err)
		}
	}
	return nil
}

func (c *Coordinator) reduceTime() bool {
	b := &c.beliefs
	if len(b.TaskMilestones) == 0 || b.TaskMilestones[0].At > c.perception.Now {
		return false
	}
	total := 0
	for _, n := range b.CompletedBy {
		total += n
	}
	if float64(total) < b.TaskMilestones[0].Expected {
		c.desires.OnTime = true
	} else {
		c.desires.OnTime = false
		b.MilestonesCount++
	}
	b.TaskMilestones = b.TaskMilestones[1:]
	return true
}

func (c *Coordinator) optimizeResource() bool {
	c.desires.OptimizeResources = len(c.beliefs.ToOptimize) > 0
	return c.desires.OptimizeResources
}

func (c *Coordinator) avoidRisks() bool {
	if len(c.perception.Risks) == 0 {
		c.desires.AvoidRisks = false
		return false
	}
	if c.rng.Float64() > c.beliefs.RiskTolerance+(1-c.beliefs.Team/100) {
		c.desires.AvoidRisks = true
	}
	return c.desires.AvoidRisks
}

func (c *Coordinator) forgetRisks() bool {
	if c.beliefs.RiskTolerance < 0.8 {
		return false
	}
	if c.rules.IsActive(RuleAvoidRisks) {
		_ = c.rules.Deactivate(RuleAvoidRisks)
		c.logger.Printf("coordinator rule deactivated id=%s tolerance=%.3f", RuleAvoidRisks, c.beliefs.RiskTolerance)
	}
	c.desires.AvoidRisks = false
	return true
}

func (c *Coordinator) takeOpportunities() bool {
	n := len(c.perception.Opportunities)
	c.desires.GetChances = n > 0 && c.rng.Float64() < c.beliefs.RiskTolerance+float64(n)/10
	return c.desires.GetChances
}

// keepMotivation also owns milestone regeneration: a due checkpoint that was
// missed, or an exhausted queue with work left, triggers a new projection.
func (c *Coordinator) keepMotivation() bool {
	b := &c.beliefs
	c.desires.Motivation = b.Team <= c.cfg.MinTeamMotivation
	switch {
	case len(b.CountMilestones) > 0 && b.CountMilestones[0].At <= c.perception.Now:
		if b.CountMilestones[0].Expected <= float64(b.MilestonesCount) {
			c.desires.Motivation = true
			b.MilestonesCount++
			b.CountMilestones = b.CountMilestones[1:]
		} else {
			c.generateMilestones(len(c.backlog) / 5)
		}
	case len(b.CountMilestones) == 0 && len(c.backlog) > 0:
		c.generateMilestones(len(c.backlog) / 5)
	}
	return c.desires.Motivation
}

func (c *Coordinator) changeTarget() bool {
	b := &c.beliefs
	if len(b.PriorityMilestones) == 0 || b.PriorityMilestones[0].At > c.perception.Now {
		return false
	}
	tag := b.PriorityMilestones[0].Tag
	b.PriorityMilestones = b.PriorityMilestones[1:]
	if err := c.desires.Set(tag); err != nil {
		c.fail(fmt.Errorf("priority milestone: %w", err))
		return false
	}
	return true
}

func (c *Coordinator) assignRule() bool {
	idle := false
	for _, w := range c.beliefs.Workers {
		if w.State == domain.WorkerIdle {
			idle = true
			break
		}
	}
	c.desires.Assign = idle && len(c.backlog) > 0
	return c.desires.Assign
}

func (c *Coordinator) problemsRule() bool {
	b := &c.beliefs
	if len(b.Problems) == 0 || len(b.Workers) == 0 {
		c.desires.Work = false
		c.desires.Cooperate = false
		c.desires.Reassign = false
		return false
	}
	maxTrust := 0.0
	for _, w := range b.Workers {
		maxTrust = max(maxTrust, w.Trust)
	}
	maxDiff, minDiff := 0.0, 0.0
	for i, id := range b.Problems {
		d := c.project.Tasks[id].Difficulty
		if i == 0 || d > maxDiff {
			maxDiff = d
		}
		if i == 0 || d < minDiff {
			minDiff = d
		}
	}
	r := c.rng.Float64()
	c.desires.Work = maxDiff > maxTrust && r < b.WorkProb
	c.desires.Cooperate = r < b.CooperationProb
	c.desires.Reassign = minDiff < maxTrust && r > b.CooperationProb
	return true
}

func (c *Coordinator) askReportRule() bool {
	c.desires.AskReport = false
	for _, at := range c.beliefs.AskReportAt {
		if at <= c.perception.Now {
			c.desires.AskReport = true
			break
		}
	}
	return c.desires.AskReport
}

// pruneRules turns the latest health signal into weight changes for the
// non-core rules that fired since the previous signal.
func (c *Coordinator) pruneRules() bool {
	if !c.newSignal {
		return false
	}
	c.newSignal = false
	var delta float64
	switch c.mode {
	case health.Conservative:
		delta = -1
	case health.Enthusiastic:
		delta = 1
	}
	if delta != 0 {
		for _, id := range c.rules.FiredSinceReset() {
			if r, ok := c.rules.Rule(id); ok && !r.Core {
				_ = c.rules.Adjust(id, delta)
			}
		}
		for _, id := range c.rules.Prune() {
			c.logger.Printf("coordinator rule pruned id=%s mode=%s", id, c.mode)
		}
	}
	c.rules.ResetFired()
	return true
}
