package agent

import (
	"pmsim/internal/domain"
	"pmsim/internal/health"
)

// rewardsHorizon lies beyond any simulated time.
const rewardsHorizon = 1e9

// generateMilestones splits the remaining backlog into n checkpoints. The
// project health mode decides whether the checkpoints are stretched or
// tightened, and is kept as the latest adaptation signal.
func (c *Coordinator) generateMilestones(n int) {
	if n < 1 {
		n = 1
	}
	b := &c.beliefs
	now := c.perception.Now

	var durations, difficulties, reward float64
	count := 0
	pending := make([]*domain.Task, 0, len(c.backlog))
	for _, id := range c.backlog {
		t, ok := c.project.Tasks[id]
		if !ok || b.Tasks[id].Terminal() {
			continue
		}
		pending = append(pending, t)
		count++
		durations += t.Duration
		difficulties += t.Difficulty
		reward += t.Reward
	}
	b.ProjectAverageTime = (2*durations + difficulties) / 2
	b.MaxReward = reward
	if count > 0 {
		b.AverageTime = b.ProjectAverageTime / float64(count)
	}
	interval := b.ProjectAverageTime / float64(n)

	var progress float64
	if b.MaxReward > 0 {
		progress = b.ProjectReward / b.MaxReward * 100
	}
	c.mode = c.health.Classify(b.Team, c.meanTrust(), progress, b.ProjectReward)
	c.newSignal = true

	b.TaskMilestones = nil
	b.CountMilestones = nil
	b.PriorityMilestones = nil
	b.ResourceMilestones = make(map[string][]domain.Milestone, len(c.project.Resources))
	resourceIDs := c.project.ResourceIDs()
	used := make(map[string]float64, len(resourceIDs))

	durations, difficulties = 0, 0
	next := 0.0
	for i, t := range pending {
		durations += t.Duration
		difficulties += t.Difficulty
		at := (2*durations + difficulties) / 2
		resourcesAt := at
		switch c.mode {
		case health.Conservative:
			resourcesAt = 0.9 * at
			at *= 1.1
		case health.Enthusiastic:
			at *= 0.9
			resourcesAt = 1.05 * at
		}
		for _, req := range t.Requires {
			used[req.ResourceID] += req.Quantity
		}
		if at < next {
			continue
		}
		b.TaskMilestones = append(b.TaskMilestones, domain.Milestone{At: now + at, Expected: float64(i + 1)})
		for _, id := range resourceIDs {
			remaining := c.project.Resources[id].Total - used[id]
			b.ResourceMilestones[id] = append(b.ResourceMilestones[id], domain.Milestone{At: now + resourcesAt, Expected: remaining})
		}
		b.CountMilestones = append(b.CountMilestones, domain.Milestone{At: now + at, Expected: float64(len(b.TaskMilestones) / 2)})
		next = at + interval
	}
	b.PriorityMilestones = append(b.PriorityMilestones, domain.Milestone{At: rewardsHorizon, Tag: domain.PriorityRewards})

	c.logger.Printf("coordinator milestones generated now=%.0f batches=%d mode=%s checkpoints=%d",
		now, n, c.mode, len(b.TaskMilestones))
}
