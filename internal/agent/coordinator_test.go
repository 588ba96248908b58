package agent

import (
	"errors"
	"math/rand"
	"reflect"
	"testing"

	"pmsim/internal/bdi"
	"pmsim/internal/domain"
	"pmsim/internal/health"
	"pmsim/internal/policy"
	"pmsim/internal/scheduler"
)

type inputOrder struct{}

func (inputOrder) Schedule(tasks []*domain.Task) (scheduler.Result, error) {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return scheduler.Result{Order: ids}, nil
}

type fixedMode health.Mode

func (m fixedMode) Classify(_, _, _, _ float64) health.Mode { return health.Mode(m) }

func coordinatorProject() *domain.Project {
	return domain.NewProject("time", []*domain.Task{
		{ID: "t1", Duration: 30, Deadline: 1000, Difficulty: 10, Reward: 10, Requires: []domain.ResourceRequirement{{ResourceID: "dev", Quantity: 5}}},
		{ID: "t2", Duration: 40, Deadline: 1000, Difficulty: 90, Reward: 20},
		{ID: "t3", Duration: 20, Deadline: 1000, Difficulty: 15, Reward: 30},
		{ID: "t4", Duration: 50, Deadline: 1000, Difficulty: 85, Reward: 40},
	}, []*domain.Resource{{ID: "dev", Total: 20}})
}

func newTestCoordinator(t *testing.T, cfg CoordinatorConfig, classifier HealthClassifier, seed int64) *Coordinator {
	t.Helper()
	workers := []WorkerInfo{{ID: "w1", Skill: 20}, {ID: "w2", Skill: 80}}
	c, err := NewCoordinator(cfg, coordinatorProject(), workers, inputOrder{}, classifier, rand.New(rand.NewSource(seed)), quietLogger())
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return c
}

func idlePerception(now float64) CoordinatorPerception {
	return CoordinatorPerception{
		Now:            now,
		WorkerStates:   map[string]domain.WorkerState{"w1": domain.WorkerIdle, "w2": domain.WorkerIdle},
		Resources:      map[string]float64{"dev": 20},
		TeamMotivation: 100,
	}
}

func TestNewCoordinatorPlansAndProjects(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{}, nil, 1)
	if got := c.Backlog(); !reflect.DeepEqual(got, []string{"t1", "t2", "t3", "t4"}) {
		t.Fatalf("backlog=%v", got)
	}
	b := c.Beliefs()
	// (30+5)+(40+45)+(20+7.5)+(50+42.5) over four tasks.
	if b.AverageTime != 60 {
		t.Fatalf("average time=%v want 60", b.AverageTime)
	}
	if b.AskReportAt["w1"] != 60 {
		t.Fatalf("ask report at=%v", b.AskReportAt["w1"])
	}
	if len(b.TaskMilestones) == 0 || len(b.ResourceMilestones["dev"]) != len(b.TaskMilestones) {
		t.Fatalf("task milestones=%v dev milestones=%v", b.TaskMilestones, b.ResourceMilestones["dev"])
	}
	if b.TaskMilestones[0].Expected != 1 {
		t.Fatalf("first checkpoint=%+v", b.TaskMilestones[0])
	}
	last := b.PriorityMilestones[len(b.PriorityMilestones)-1]
	if last.Tag != domain.PriorityRewards || last.At != rewardsHorizon {
		t.Fatalf("priority milestone=%+v", last)
	}
}

func TestConservativeProjectionStretchesCheckpoints(t *testing.T) {
	normal := newTestCoordinator(t, CoordinatorConfig{}, fixedMode(health.Normal), 1).Beliefs()
	slow := newTestCoordinator(t, CoordinatorConfig{}, fixedMode(health.Conservative), 1).Beliefs()
	if slow.TaskMilestones[0].At <= normal.TaskMilestones[0].At {
		t.Fatalf("conservative=%v normal=%v", slow.TaskMilestones[0].At, normal.TaskMilestones[0].At)
	}
	if slow.ResourceMilestones["dev"][0].At >= normal.ResourceMilestones["dev"][0].At {
		t.Fatalf("conservative resources=%v normal=%v", slow.ResourceMilestones["dev"][0].At, normal.ResourceMilestones["dev"][0].At)
	}
}

func TestReviseBeliefsIsIdempotent(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{}, nil, 1)
	p := idlePerception(0)
	p.WorkerStates["w2"] = domain.WorkerBusy
	p.Resources["dev"] = 15
	p.Problems = []string{"t2"}
	p.Reports = []Report{{WorkerID: "w1", TaskID: "t1", Progress: 30}}
	p.Failed = []string{"t4"}

	if err := c.Perceive(p); err != nil {
		t.Fatalf("perceive: %v", err)
	}
	if err := c.ReviseBeliefs(); err != nil {
		t.Fatalf("revise: %v", err)
	}
	once := c.Beliefs()
	backlog := c.Backlog()
	if err := c.ReviseBeliefs(); err != nil {
		t.Fatalf("revise again: %v", err)
	}
	if twice := c.Beliefs(); !reflect.DeepEqual(once, twice) {
		t.Fatalf("beliefs changed on second revision:\n%+v\n%+v", once, twice)
	}
	if !reflect.DeepEqual(backlog, c.Backlog()) {
		t.Fatalf("backlog changed: %v -> %v", backlog, c.Backlog())
	}
	if once.Tasks["t1"] != domain.TaskStatusCompleted || once.ProjectReward != 10 || once.CompletedBy["w1"] != 1 {
		t.Fatalf("report not applied: %+v", once)
	}
	if once.Tasks["t4"] != domain.TaskStatusFailed || reflect.DeepEqual(backlog, []string{"t1", "t2", "t3", "t4"}) {
		t.Fatalf("failed task kept: status=%s backlog=%v", once.Tasks["t4"], backlog)
	}
}

func TestActiveRulesOrder(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{AskReports: true, AdaptiveRules: true}, nil, 1)
	want := []string{
		RuleReduceTime, RuleOptimizeResource, RuleAvoidRisks, RuleForgetRisks, RuleTakeOpportunities,
		RuleKeepMotivation, RuleChangeTarget, RuleAssign, RuleProblems, RuleAskReport, RulePruneRules,
	}
	if got := c.ActiveRules(); !reflect.DeepEqual(got, want) {
		t.Fatalf("rules=%v want %v", got, want)
	}
}

func TestCoordinatorIsDeterministic(t *testing.T) {
	run := func() []CoordinatorAction {
		c := newTestCoordinator(t, CoordinatorConfig{ExplorationRate: 0.1, AskReports: true}, nil, 42)
		var out []CoordinatorAction
		for tick := 0; tick < 20; tick++ {
			p := idlePerception(float64(tick * 10))
			if tick%3 == 0 {
				p.Problems = []string{"t2"}
			}
			act, err := bdi.Step[CoordinatorPerception, CoordinatorAction](c, p)
			if err != nil {
				t.Fatalf("tick %d: %v", tick, err)
			}
			out = append(out, act)
		}
		return out
	}
	if a, b := run(), run(); !reflect.DeepEqual(a, b) {
		t.Fatalf("runs diverged")
	}
}

func TestAssignMatchesTrustToDifficulty(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{}, nil, 1)
	act, err := bdi.Step[CoordinatorPerception, CoordinatorAction](c, idlePerception(0))
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	want := []Assignment{{"w1", "t1"}, {"w2", "t2"}, {"w1", "t3"}, {"w2", "t4"}}
	if !reflect.DeepEqual(act.Assignments, want) {
		t.Fatalf("assignments=%v want %v", act.Assignments, want)
	}
	if len(c.Backlog()) != 0 {
		t.Fatalf("backlog=%v", c.Backlog())
	}
}

func TestReassignAndSolutionFeedback(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{CooperationProb: 0.0001}, nil, 5)
	p := idlePerception(0)
	p.WorkerStates = map[string]domain.WorkerState{"w1": domain.WorkerBusy, "w2": domain.WorkerBusy}
	p.Problems = []string{"t3"}
	act, err := bdi.Step[CoordinatorPerception, CoordinatorAction](c, p)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if want := []Assignment{{"w1", "t3"}}; !reflect.DeepEqual(act.Reassign, want) {
		t.Fatalf("reassign=%v want %v", act.Reassign, want)
	}
	b := c.Beliefs()
	if len(b.Problems) != 0 || b.Solutions["t3"] != solutionReassignment {
		t.Fatalf("problems=%v solutions=%v", b.Problems, b.Solutions)
	}

	before := c.CooperationProb()
	p.Now = 10
	if err := c.Perceive(p); err != nil {
		t.Fatalf("perceive: %v", err)
	}
	if err := c.ReviseBeliefs(); err != nil {
		t.Fatalf("revise: %v", err)
	}
	if err := c.ReviseBeliefs(); err != nil {
		t.Fatalf("revise again: %v", err)
	}
	if got := c.CooperationProb(); got != before+0.05 {
		t.Fatalf("cooperation prob=%v want %v", got, before+0.05)
	}
}

func TestUnknownPriorityMilestoneFails(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{}, nil, 1)
	c.beliefs.PriorityMilestones = []domain.Milestone{{At: 0, Tag: "party"}}
	_, err := bdi.Step[CoordinatorPerception, CoordinatorAction](c, idlePerception(0))
	if !errors.Is(err, ErrUnknownDesire) {
		t.Fatalf("err=%v want ErrUnknownDesire", err)
	}
}

func TestRegisterRule(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{}, nil, 1)
	err := c.RegisterRule(policy.Proposal{Conditions: []string{"small_team"}, Desires: []string{"motivation"}})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := bdi.Step[CoordinatorPerception, CoordinatorAction](c, idlePerception(0)); err != nil {
		t.Fatalf("step: %v", err)
	}
	if !c.Desires().Motivation {
		t.Fatalf("synthesized rule did not raise motivation")
	}
	err = c.RegisterRule(policy.Proposal{Conditions: []string{"huge_team"}, Desires: []string{"motivation"}})
	if !errors.Is(err, policy.ErrUnknownCondition) {
		t.Fatalf("err=%v want ErrUnknownCondition", err)
	}
	err = c.RegisterRule(policy.Proposal{Conditions: []string{"small_team"}, Desires: []string{"motivation"}})
	if !errors.Is(err, bdi.ErrRuleExists) {
		t.Fatalf("err=%v want ErrRuleExists", err)
	}
}

func TestConservativeSignalPrunesFiredRules(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{AdaptiveRules: true}, fixedMode(health.Conservative), 1)
	if err := c.RegisterRule(policy.Proposal{ID: "boost", Weight: 1, Conditions: []string{"small_team"}, Desires: []string{"motivation"}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := bdi.Step[CoordinatorPerception, CoordinatorAction](c, idlePerception(0)); err != nil {
		t.Fatalf("step: %v", err)
	}
	if c.rules.IsActive("boost") {
		t.Fatalf("fired rule survived a conservative signal")
	}
	if !c.rules.IsActive(RuleAssign) {
		t.Fatalf("core rule was pruned")
	}
}

func TestReflectionConditions(t *testing.T) {
	c := newTestCoordinator(t, CoordinatorConfig{}, nil, 1)
	c.beliefs.Team = 45
	c.beliefs.Problems = []string{"t1", "t2", "t3", "t4"}
	want := map[string]bool{
		"small_team": true, "medium_team": false, "medium_skill": true, "low_skill": false,
		"medium_motivation": true, "medium_cooperation": true, "hardworking": true,
		"few_completed": true, "some_problems": true, "many_problems": false,
	}
	for name, expected := range want {
		if got := reflectionConditions[name](c); got != expected {
			t.Fatalf("%s=%t want %t", name, got, expected)
		}
	}
	if len(ReflectionConditionNames()) != 21 {
		t.Fatalf("conditions=%d", len(ReflectionConditionNames()))
	}
}
