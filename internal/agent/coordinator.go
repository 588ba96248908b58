package agent

import (
	"fmt"
	"log"
	"maps"
	"math/rand"
	"slices"
	"sort"

	"pmsim/internal/bdi"
	"pmsim/internal/domain"
	"pmsim/internal/health"
	"pmsim/internal/policy"
	"pmsim/internal/risk"
	"pmsim/internal/scheduler"
)

type Planner interface {
	Schedule(tasks []*domain.Task) (scheduler.Result, error)
}

type HealthClassifier interface {
	Classify(motivation, problemSolving, progress, reward float64) health.Mode
}

type CoordinatorConfig struct {
	MinTeamMotivation float64
	RiskTolerance     float64
	WorkProb          float64
	CooperationProb   float64
	ExplorationRate   float64
	AskReports        bool
	AdaptiveRules     bool
	InitialMilestones int
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.RiskTolerance <= 0 {
		c.RiskTolerance = 0.2
	}
	if c.WorkProb <= 0 {
		c.WorkProb = 0.1
	}
	if c.CooperationProb <= 0 {
		c.CooperationProb = 0.5
	}
	if c.ExplorationRate < 0 {
		c.ExplorationRate = 0
	}
	if c.InitialMilestones <= 0 {
		c.InitialMilestones = 10
	}
	return c
}

type WorkerInfo struct {
	ID    string
	Skill float64
}

type WorkerBelief struct {
	State domain.WorkerState
	Trust float64
}

// Beliefs is the coordinator's view of the project. It is only written
// during belief revision and by the coordinator's own actions.
type Beliefs struct {
	Tasks              map[string]domain.TaskStatus
	Resources          map[string]float64
	ToOptimize         []string
	Workers            map[string]WorkerBelief
	Team               float64
	Solved             map[string]int
	Problems           []string
	ProjectReward      float64
	ResourceMilestones map[string][]domain.Milestone
	TaskMilestones     []domain.Milestone
	CountMilestones    []domain.Milestone
	PriorityMilestones []domain.Milestone
	AskReportAt        map[string]float64
	CompletedBy        map[string]int
	ProjectAverageTime float64
	AverageTime        float64
	MaxReward          float64
	CooperationProb    float64
	WorkProb           float64
	RiskTolerance      float64
	Solutions          map[string]string
	Lazy               map[string]int
	MilestonesCount    int
}

func (b Beliefs) Clone() Beliefs {
	c := b
	c.Tasks = maps.Clone(b.Tasks)
	c.Resources = maps.Clone(b.Resources)
	c.ToOptimize = slices.Clone(b.ToOptimize)
	c.Workers = maps.Clone(b.Workers)
	c.Solved = maps.Clone(b.Solved)
	c.Problems = slices.Clone(b.Problems)
	c.ResourceMilestones = make(map[string][]domain.Milestone, len(b.ResourceMilestones))
	for id, ms := range b.ResourceMilestones {
		c.ResourceMilestones[id] = slices.Clone(ms)
	}
	c.TaskMilestones = slices.Clone(b.TaskMilestones)
	c.CountMilestones = slices.Clone(b.CountMilestones)
	c.PriorityMilestones = slices.Clone(b.PriorityMilestones)
	c.AskReportAt = maps.Clone(b.AskReportAt)
	c.CompletedBy = maps.Clone(b.CompletedBy)
	c.Solutions = maps.Clone(b.Solutions)
	c.Lazy = maps.Clone(b.Lazy)
	return c
}

type Report struct {
	WorkerID string
	TaskID   string
	Progress float64
}

type CoordinatorPerception struct {
	Now                float64
	Reports            []Report
	WorkerStates       map[string]domain.WorkerState
	Resources          map[string]float64
	Problems           []string
	Solved             []string
	Lazy               []string
	Failed             []string
	Risks              []risk.Risk
	Opportunities      []risk.Opportunity
	TeamMotivation     float64
	OpportunityOutcome *bool
}

type Assignment struct {
	WorkerID string
	TaskID   string
}

type Cooperation struct {
	First  string
	Second string
	TaskID string
}

type CoordinatorAction struct {
	Assignments  []Assignment
	AskReports   []string
	Reassign     []Assignment
	WorkOn       string
	Cooperations []Cooperation
	Motivate     []string
	Priority     string
	Optimize     []string
	TakeChance   *risk.Opportunity
}

type coordinatorIntentions struct {
	assign     bool
	reassign   bool
	cooperate  bool
	askReport  bool
	work       bool
	motivate   bool
	priority   bool
	optimize   bool
	prevention bool
	takeChance bool
}

type Coordinator struct {
	cfg        CoordinatorConfig
	project    *domain.Project
	backlog    []string
	beliefs    Beliefs
	desires    CoordinatorDesires
	intents    coordinatorIntentions
	perception CoordinatorPerception
	rules      *bdi.Registry[*Coordinator]
	admission  *policy.Engine
	health     HealthClassifier
	workerIDs  []string
	mode       health.Mode
	newSignal  bool
	err        error
	rng        *rand.Rand
	logger     *log.Logger
}

// NewCoordinator schedules the project's tasks into the backlog, meets the
// workers and generates the first milestones. The project is read, never
// written.
func NewCoordinator(
	cfg CoordinatorConfig,
	project *domain.Project,
	workers []WorkerInfo,
	planner Planner,
	classifier HealthClassifier,
	rng *rand.Rand,
	logger *log.Logger,
) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	if classifier == nil {
		classifier = health.NewClassifier()
	}
	tasks := project.TaskList()
	plan, err := planner.Schedule(tasks)
	if err != nil {
		return nil, fmt.Errorf("plan backlog: %w", err)
	}

	c := &Coordinator{
		cfg:     cfg,
		project: project,
		backlog: plan.Order,
		rules:   bdi.NewRegistry[*Coordinator](),
		health:  classifier,
		mode:    health.Normal,
		rng:     rng,
		logger:  logger,
	}
	c.admission = policy.New(c)
	c.beliefs = Beliefs{
		Tasks:              make(map[string]domain.TaskStatus, len(tasks)),
		Resources:          make(map[string]float64, len(project.Resources)),
		Workers:            make(map[string]WorkerBelief, len(workers)),
		Solved:             make(map[string]int, len(workers)),
		ResourceMilestones: make(map[string][]domain.Milestone),
		AskReportAt:        make(map[string]float64, len(workers)),
		CompletedBy:        make(map[string]int, len(workers)),
		Solutions:          make(map[string]string),
		Lazy:               make(map[string]int, len(workers)),
		CooperationProb:    cfg.CooperationProb,
		WorkProb:           cfg.WorkProb,
		RiskTolerance:      cfg.RiskTolerance,
	}
	var effort float64
	for _, t := range tasks {
		c.beliefs.Tasks[t.ID] = t.Status
		effort += t.Duration + 0.5*t.Difficulty
	}
	if len(tasks) > 0 {
		c.beliefs.AverageTime = effort / float64(len(tasks))
	}
	for _, id := range project.ResourceIDs() {
		c.beliefs.Resources[id] = project.Resources[id].Total
	}
	for _, w := range workers {
		c.beliefs.Workers[w.ID] = WorkerBelief{State: domain.WorkerIdle, Trust: w.Skill}
		c.beliefs.AskReportAt[w.ID] = c.beliefs.AverageTime
		c.beliefs.Solved[w.ID] = 0
		c.beliefs.CompletedBy[w.ID] = 0
		c.beliefs.Lazy[w.ID] = 0
		c.workerIDs = append(c.workerIDs, w.ID)
	}
	sort.Strings(c.workerIDs)

	if err := c.registerCoreRules(); err != nil {
		return nil, err
	}
	c.generateMilestones(cfg.InitialMilestones)
	return c, nil
}

// RegisterRule admits a synthesized rule and adds it to the registry.
func (c *Coordinator) RegisterRule(p policy.Proposal) error {
	admitted, err := c.admission.Admit(p)
	if err != nil {
		return fmt.Errorf("admit rule: %w", err)
	}
	conds := make([]func(*Coordinator) bool, len(admitted.Conditions))
	for i, name := range admitted.Conditions {
		conds[i] = reflectionConditions[name]
	}
	desires := admitted.Desires
	err = c.rules.Register(bdi.Rule[*Coordinator]{
		ID:          admitted.ID,
		Weight:      admitted.Weight,
		Description: "synthesized",
		Eval: func(c *Coordinator) bool {
			for _, cond := range conds {
				if !cond(c) {
					return false
				}
			}
			for _, d := range desires {
				if err := c.desires.Set(d); err != nil {
					c.fail(err)
					return false
				}
			}
			return true
		},
	})
	if err != nil {
		return fmt.Errorf("register rule: %w", err)
	}
	c.logger.Printf("coordinator rule registered id=%s weight=%.1f", admitted.ID, admitted.Weight)
	return nil
}

func (c *Coordinator) HasCondition(name string) bool {
	_, ok := reflectionConditions[name]
	return ok
}

func (c *Coordinator) HasDesire(name string) bool {
	_, ok := c.desires.lookup(name)
	return ok
}

func (c *Coordinator) Perceive(p CoordinatorPerception) error {
	c.perception = p
	return nil
}

func (c *Coordinator) ReviseBeliefs() error {
	p := c.perception
	b := &c.beliefs

	for id, state := range p.WorkerStates {
		if w, ok := b.Workers[id]; ok {
			w.State = state
			b.Workers[id] = w
		}
	}
	for id, level := range p.Resources {
		b.Resources[id] = level
	}

	for _, id := range sortedKeys(b.Resources) {
		queue := b.ResourceMilestones[id]
		if len(queue) == 0 || queue[0].At > p.Now {
			continue
		}
		if queue[0].Expected > b.Resources[id] {
			b.ToOptimize = appendUnique(b.ToOptimize, id)
		} else {
			b.MilestonesCount++
			b.ToOptimize = remove(b.ToOptimize, id)
		}
		b.ResourceMilestones[id] = queue[1:]
	}

	b.Team = p.TeamMotivation

	for _, id := range p.Solved {
		if _, ok := b.Solved[id]; !ok {
			continue
		}
		b.Solved[id]++
		if b.Solved[id]%3 == 0 {
			w := b.Workers[id]
			w.Trust *= 1.05
			b.Workers[id] = w
		}
	}

	for _, id := range p.Failed {
		if _, ok := b.Tasks[id]; ok {
			b.Tasks[id] = domain.TaskStatusFailed
		}
		c.backlog = remove(c.backlog, id)
		b.Problems = remove(b.Problems, id)
	}

	for _, id := range p.Problems {
		if _, ok := c.project.Tasks[id]; !ok {
			continue
		}
		if slices.Contains(b.Problems, id) || b.Tasks[id].Terminal() {
			continue
		}
		b.Problems = append(b.Problems, id)
		switch b.Solutions[id] {
		case "":
		case solutionCooperation:
			b.CooperationProb = max(b.CooperationProb-0.05, 0)
			b.WorkProb += 0.05
		default:
			b.CooperationProb = min(b.CooperationProb+0.05, 1)
		}
	}

	for _, r := range p.Reports {
		if _, ok := b.Workers[r.WorkerID]; !ok {
			continue
		}
		b.AskReportAt[r.WorkerID] = p.Now + b.AverageTime
		t, ok := c.project.Tasks[r.TaskID]
		if !ok || b.Tasks[r.TaskID] == domain.TaskStatusCompleted {
			continue
		}
		if t.Duration <= r.Progress {
			b.Tasks[r.TaskID] = domain.TaskStatusCompleted
			b.ProjectReward += t.Reward
			b.CompletedBy[r.WorkerID]++
		}
	}

	for _, id := range p.Lazy {
		if _, ok := b.Lazy[id]; !ok {
			continue
		}
		b.Lazy[id]++
		if b.Lazy[id]%3 == 0 {
			w := b.Workers[id]
			w.Trust *= 0.95
			b.Workers[id] = w
		}
	}

	if p.OpportunityOutcome != nil {
		if *p.OpportunityOutcome {
			b.RiskTolerance += 0.035
		} else {
			b.RiskTolerance -= 0.035
		}
	}
	return nil
}

func (c *Coordinator) GenerateDesires() error {
	c.err = nil
	c.rules.Evaluate(c)
	return c.err
}

func (c *Coordinator) FormIntentions() error {
	d := c.desires
	c.intents = coordinatorIntentions{
		assign:     d.Assign,
		work:       d.Work,
		cooperate:  d.Cooperate,
		reassign:   d.Reassign,
		askReport:  d.AskReport,
		motivate:   d.Motivation,
		priority:   d.NumberOfTasks || d.PriorityOfTasks || d.Rewards || d.OnTime,
		optimize:   d.OptimizeResources,
		prevention: d.AvoidRisks,
		takeChance: d.GetChances,
	}
	if c.rng.Float64() < c.cfg.ExplorationRate {
		c.intents.work = !c.intents.work
	}
	return nil
}

func (c *Coordinator) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

// Snapshot exposes the beliefs the risk catalogue reads.
func (c *Coordinator) Snapshot() risk.Snapshot {
	states := make(map[string]domain.WorkerState, len(c.beliefs.Workers))
	for id, w := range c.beliefs.Workers {
		states[id] = w.State
	}
	s := risk.Snapshot{
		Project:         c.project,
		TaskStatus:      maps.Clone(c.beliefs.Tasks),
		Resources:       maps.Clone(c.beliefs.Resources),
		Workers:         states,
		Problems:        len(c.beliefs.Problems),
		Team:            c.beliefs.Team,
		MinTeam:         c.cfg.MinTeamMotivation,
		AverageTime:     c.beliefs.ProjectAverageTime,
		MaxReward:       c.beliefs.MaxReward,
		MilestonesCount: c.beliefs.MilestonesCount,
	}
	if len(c.beliefs.CountMilestones) > 0 {
		s.HasMilestone = true
		s.MilestoneTarget = c.beliefs.CountMilestones[0].Expected
	}
	return s
}

func (c *Coordinator) Beliefs() Beliefs {
	return c.beliefs.Clone()
}

func (c *Coordinator) Desires() CoordinatorDesires {
	return c.desires
}

func (c *Coordinator) Backlog() []string {
	return slices.Clone(c.backlog)
}

func (c *Coordinator) ActiveRules() []string {
	return c.rules.Active()
}

func (c *Coordinator) Trust() map[string]float64 {
	out := make(map[string]float64, len(c.beliefs.Workers))
	for id, w := range c.beliefs.Workers {
		out[id] = w.Trust
	}
	return out
}

func (c *Coordinator) CooperationProb() float64 {
	return c.beliefs.CooperationProb
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func appendUnique(list []string, id string) []string {
	if slices.Contains(list, id) {
		return list
	}
	return append(list, id)
}

func remove(list []string, id string) []string {
	i := slices.Index(list, id)
	if i < 0 {
		return list
	}
	return slices.Delete(list, i, i+1)
}
