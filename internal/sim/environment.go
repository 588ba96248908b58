package sim

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"slices"
	"time"

	opensimplex "github.com/ojrac/opensimplex-go"

	"pmsim/internal/agent"
	"pmsim/internal/bdi"
	"pmsim/internal/domain"
	"pmsim/internal/health"
	"pmsim/internal/policy"
	"pmsim/internal/risk"
	"pmsim/internal/scheduler"
)

// workRate is the progress one busy tick of work adds to a task.
const workRate = 10

type Config struct {
	RunID         string
	Step          float64
	MaxSteps      int
	Workers       int
	Skills        []float64
	ProgressNoise float64
	Coordinator   agent.CoordinatorConfig
	Worker        agent.WorkerConfig
	Scheduler     scheduler.Config
	Rules         []policy.Proposal
	Cooperation   CooperationPolicy
}

func (c Config) withDefaults() Config {
	if c.Step <= 0 {
		c.Step = 10
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 5
	}
	if len(c.Skills) > 0 {
		c.Workers = len(c.Skills)
	}
	if c.ProgressNoise < 0 {
		c.ProgressNoise = 0
	}
	if c.Cooperation == nil {
		c.Cooperation = HalveTask
	}
	return c
}

// CooperationPolicy reshapes a task two workers agreed to share.
type CooperationPolicy func(t *domain.Task)

// HalveTask halves difficulty, reward, duration and every resource
// requirement.
func HalveTask(t *domain.Task) {
	t.Difficulty *= 0.5
	t.Reward *= 0.5
	t.Duration *= 0.5
	for i := range t.Requires {
		t.Requires[i].Quantity *= 0.5
	}
}

// Recorder receives one TickLog per tick.
type Recorder interface {
	RecordTick(ctx context.Context, tick domain.TickLog) error
}

// Environment owns the project state and runs the tick loop. It is single
// threaded; replicas run in separate environments.
type Environment struct {
	cfg      Config
	project  *domain.Project
	coord    *agent.Coordinator
	workers  []*agent.Worker
	byID     map[string]*agent.Worker
	index    map[string]int
	eval     *risk.Evaluator
	noise    opensimplex.Noise
	rng      *rand.Rand
	recorder Recorder
	logger   *log.Logger

	now       float64
	ticks     int
	resources map[string]float64

	askingReport map[string]bool
	reports      []agent.Report
	problems     []string
	solved       []string
	lazy         []string
	failed       []string
	cooperations []agent.Cooperation

	lastActions      map[string]agent.WorkerAction
	priority         string
	optimize         []string
	managerAvailable bool
	outcome          *bool

	reward        float64
	problemsCount int
	escalateCount int
}

// New builds the agents for one run. The environment takes ownership of
// project; callers running replicas pass a clone each.
func New(cfg Config, project *domain.Project, seed int64, rec Recorder, logger *log.Logger) (*Environment, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if project == nil {
		project = domain.NewProject("", nil, nil)
	}
	master := rand.New(rand.NewSource(seed))
	stream := func() *rand.Rand { return rand.New(rand.NewSource(master.Int63())) }

	skills := slices.Clone(cfg.Skills)
	if len(skills) == 0 {
		skills = make([]float64, cfg.Workers)
		for i := range skills {
			skills[i] = 20 + 60*master.Float64()
		}
	}

	e := &Environment{
		cfg:              cfg,
		project:          project,
		byID:             make(map[string]*agent.Worker, len(skills)),
		index:            make(map[string]int, len(skills)),
		noise:            opensimplex.New(seed),
		rng:              stream(),
		recorder:         rec,
		logger:           logger,
		now:              -cfg.Step,
		resources:        make(map[string]float64, len(project.Resources)),
		askingReport:     make(map[string]bool, len(skills)),
		lastActions:      make(map[string]agent.WorkerAction, len(skills)),
		managerAvailable: true,
	}
	for _, id := range project.ResourceIDs() {
		e.resources[id] = project.Resources[id].Total
	}

	infos := make([]agent.WorkerInfo, 0, len(skills))
	for i, skill := range skills {
		id := fmt.Sprintf("w%02d", i+1)
		w, err := agent.NewWorker(cfg.Worker, id, skill, project, stream(), logger)
		if err != nil {
			return nil, fmt.Errorf("create worker: %w", err)
		}
		e.workers = append(e.workers, w)
		e.byID[id] = w
		e.index[id] = i
		infos = append(infos, agent.WorkerInfo{ID: id, Skill: skill})
	}

	planner := scheduler.New(cfg.Scheduler, stream(), logger)
	coord, err := agent.NewCoordinator(cfg.Coordinator, project, infos, planner, health.NewClassifier(), stream(), logger)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	for _, p := range cfg.Rules {
		if err := coord.RegisterRule(p); err != nil {
			return nil, fmt.Errorf("register rule %s: %w", p.ID, err)
		}
	}
	e.coord = coord

	eval, err := risk.FromProject(project, stream())
	if err != nil {
		return nil, fmt.Errorf("compile risk catalogue: %w", err)
	}
	e.eval = eval
	return e, nil
}

// Done reports whether nothing is left to do: the coordinator's backlog and
// the problem list are empty and no worker holds or queues a task.
func (e *Environment) Done() bool {
	if len(e.coord.Backlog()) > 0 || len(e.problems) > 0 {
		return false
	}
	for _, w := range e.workers {
		if w.HasWork() {
			return false
		}
	}
	return true
}

// Run ticks until Done or the step budget is spent. Termination is checked
// before every tick, so an empty project runs zero ticks.
func (e *Environment) Run(ctx context.Context) (domain.RunSummary, error) {
	started := time.Now().UTC()
	for e.ticks < e.cfg.MaxSteps && !e.Done() {
		if err := ctx.Err(); err != nil {
			return e.Summary(started), err
		}
		tick, err := e.Tick()
		if err != nil {
			s := e.Summary(started)
			s.Error = err.Error()
			return s, fmt.Errorf("tick %d: %w", e.ticks, err)
		}
		if e.recorder != nil {
			if err := e.recorder.RecordTick(ctx, tick); err != nil {
				return e.Summary(started), fmt.Errorf("record tick %d: %w", e.ticks, err)
			}
		}
	}
	return e.Summary(started), nil
}

// Tick advances the clock one step: the coordinator perceives and acts,
// then every worker in id order, then the collected worker actions are
// applied together.
func (e *Environment) Tick() (domain.TickLog, error) {
	e.now += e.cfg.Step
	e.ticks++
	e.cooperations = nil

	snapshot := e.coord.Snapshot()
	risks, opportunities := e.eval.Evaluate(snapshot, e.now)
	states := make(map[string]domain.WorkerState, len(e.workers))
	for _, w := range e.workers {
		states[w.ID()] = e.lastActions[w.ID()].NewState
	}
	perception := agent.CoordinatorPerception{
		Now:                e.now,
		Reports:            e.reports,
		WorkerStates:       states,
		Resources:          cloneLevels(e.resources),
		Problems:           slices.Clone(e.problems),
		Solved:             e.solved,
		Lazy:               e.lazy,
		Failed:             e.failed,
		Risks:              risks,
		Opportunities:      opportunities,
		TeamMotivation:     e.teamMotivation(),
		OpportunityOutcome: e.outcome,
	}
	e.failed = nil
	e.outcome = nil

	act, err := bdi.Step(e.coord, perception)
	if err != nil {
		return domain.TickLog{}, fmt.Errorf("coordinator: %w", err)
	}
	e.applyCoordinator(act)
	e.reports = nil
	e.solved = nil
	e.lazy = nil
	e.applyPriorityCuts()

	actions := make(map[string]agent.WorkerAction, len(e.workers))
	for _, w := range e.workers {
		wa, err := bdi.Step(w, e.workerPerception(w))
		if err != nil {
			return domain.TickLog{}, fmt.Errorf("worker %s: %w", w.ID(), err)
		}
		actions[w.ID()] = wa
	}
	e.applyWorkers(actions)
	e.sweepDeadlines()
	e.lastActions = actions
	return e.tickLog(act, actions), nil
}

func (e *Environment) applyCoordinator(act agent.CoordinatorAction) {
	for _, a := range act.Assignments {
		w, ok := e.byID[a.WorkerID]
		t, known := e.project.Tasks[a.TaskID]
		if !ok || !known {
			continue
		}
		w.Enqueue(a.TaskID)
		t.Advance(domain.TaskStatusAssigned)
	}
	for _, id := range act.AskReports {
		e.askingReport[id] = true
	}
	for _, a := range act.Reassign {
		if w, ok := e.byID[a.WorkerID]; ok {
			w.PushFront(a.TaskID)
			e.problems = remove(e.problems, a.TaskID)
		}
	}
	e.managerAvailable = act.WorkOn == ""
	if t, ok := e.project.Tasks[act.WorkOn]; ok {
		t.Difficulty *= 0.9
		t.Duration *= 0.8
	}
	for _, c := range act.Cooperations {
		e.cooperations = append(e.cooperations, c)
		e.problems = remove(e.problems, c.TaskID)
	}
	for _, id := range act.Motivate {
		if w, ok := e.byID[id]; ok {
			w.Motivate(10)
		}
	}
	if act.Priority != "" {
		e.priority = act.Priority
	}
	e.optimize = act.Optimize
	if act.TakeChance != nil {
		e.takeChance(*act.TakeChance)
	}
}

// takeChance plays an opportunity. Tags that are not resources are ignored.
func (e *Environment) takeChance(o risk.Opportunity) {
	success := e.rng.Float64() < o.Probability
	tags, lo, hi := o.Impact, 0.75, 0.99
	if success {
		tags, lo, hi = o.Benefits, 1.01, 1.3
	}
	for _, tag := range tags {
		if level, ok := e.resources[tag]; ok {
			e.resources[tag] = level * (lo + (hi-lo)*e.rng.Float64())
		}
	}
	e.outcome = &success
}

// applyPriorityCuts trims every current task under the standing time and
// resource priorities before the workers decide.
func (e *Environment) applyPriorityCuts() {
	for _, w := range e.workers {
		t := w.Current()
		if t == nil {
			continue
		}
		if e.priority == domain.PriorityTime {
			t.Duration = max(t.Duration-10, 0)
			t.Reward = max(t.Reward-10, 0)
		}
		for i, req := range t.Requires {
			if slices.Contains(e.optimize, req.ResourceID) && req.Quantity > 0 && t.Reward > 0 {
				t.Requires[i].Quantity *= 0.9
				t.Reward *= 0.9
			}
		}
	}
}

func (e *Environment) workerPerception(w *agent.Worker) agent.WorkerPerception {
	id := w.ID()
	p := agent.WorkerPerception{
		Now:             e.now,
		ReportRequested: e.askingReport[id],
		TeamMotivation:  e.teamMotivation(),
		Priority:        e.priority,
	}
	for _, c := range e.cooperations {
		if c.First == id || c.Second == id {
			p.CooperationRequired = true
			break
		}
	}
	last := e.lastActions[id]
	if last.Work && last.NewState == domain.WorkerBusy {
		p.Progress = workRate
		if e.cfg.ProgressNoise > 0 {
			n := e.noise.Eval2(float64(e.index[id])*7.3, e.now/50)
			p.Progress = max(0, workRate*(1+e.cfg.ProgressNoise*n))
		}
	}
	if t := w.Current(); last.Work && t != nil && e.rng.Float64() < t.ProblemProb {
		e.problemsCount++
		t.ProblemProb *= 0.5
		p.ProblemDetected = true
		p.Severity = t.Difficulty
	}
	return p
}

func (e *Environment) applyWorkers(actions map[string]agent.WorkerAction) {
	for _, c := range e.cooperations {
		t, ok := e.project.Tasks[c.TaskID]
		if !ok || t.Status.Terminal() {
			continue
		}
		if !actions[c.First].Cooperate || !actions[c.Second].Cooperate {
			e.problems = appendUnique(e.problems, c.TaskID)
			continue
		}
		e.cfg.Cooperation(t)
		t.ProblemProb *= 0.5
		e.byID[c.First].PushFront(c.TaskID)
		e.byID[c.Second].PushFront(c.TaskID)
	}

	for _, w := range e.workers {
		act := actions[w.ID()]
		if act.Report {
			e.report(w)
		}
		if act.Escalate {
			e.escalate(w)
		}
		if act.GetTask {
			e.takeTask(w)
		}
		if act.ReportProblem {
			e.solved = append(e.solved, w.ID())
		}
		if act.Rest {
			w.RestoreEnergy(10)
		}
		w.SetState(act.NewState)
	}
}

func (e *Environment) report(w *agent.Worker) {
	e.askingReport[w.ID()] = false
	t := w.Current()
	if t == nil {
		return
	}
	e.reports = append(e.reports, agent.Report{WorkerID: w.ID(), TaskID: t.ID, Progress: w.Progress()})
	if w.Progress() < t.Duration {
		return
	}
	if t.Advance(domain.TaskStatusCompleted) {
		e.reward += t.Reward
		for _, req := range t.Requires {
			if level, ok := e.resources[req.ResourceID]; ok {
				e.resources[req.ResourceID] = level - req.Quantity
			}
		}
	}
	w.SetCurrent("")
}

func (e *Environment) escalate(w *agent.Worker) {
	t := w.Current()
	if t == nil {
		return
	}
	if !slices.Contains(e.problems, t.ID) {
		e.problems = append(e.problems, t.ID)
		e.escalateCount++
	}
	if w.Skill() >= 1.1*t.Difficulty {
		e.lazy = append(e.lazy, w.ID())
	}
	w.SetCurrent("")
}

// takeTask pops the worker's queue until a task can start. Each queued task
// is looked at no more than once.
func (e *Environment) takeTask(w *agent.Worker) {
	w.SetCurrent("")
	for scans := w.QueueLen(); scans > 0; scans-- {
		id, ok := w.PopQueue()
		if !ok {
			return
		}
		t, ok := e.project.Tasks[id]
		if !ok || t.Status.Terminal() {
			continue
		}
		ready, broken := e.dependencies(t)
		switch {
		case broken:
			e.fail(t)
			continue
		case !ready, t.Start > e.now && w.QueueLen() > 0:
			w.Enqueue(id)
			continue
		case t.Deadline < e.now+t.Duration:
			e.fail(t)
			continue
		}
		t.Advance(domain.TaskStatusInProgress)
		w.SetCurrent(id)
		return
	}
}

// dependencies reports whether every dependency is completed and whether
// any has failed.
func (e *Environment) dependencies(t *domain.Task) (ready, broken bool) {
	ready = true
	for _, dep := range t.DependsOn {
		d, ok := e.project.Tasks[dep]
		if !ok {
			continue
		}
		switch d.Status {
		case domain.TaskStatusFailed:
			return false, true
		case domain.TaskStatusCompleted:
		default:
			ready = false
		}
	}
	return ready, false
}

func (e *Environment) fail(t *domain.Task) {
	if t.Advance(domain.TaskStatusFailed) {
		e.failed = append(e.failed, t.ID)
	}
}

// sweepDeadlines fails every waiting task that can no longer finish in time
// and drops terminal tasks from the problem list and the queues.
func (e *Environment) sweepDeadlines() {
	for _, t := range e.project.TaskList() {
		if t.Status.Terminal() || t.Status == domain.TaskStatusInProgress {
			continue
		}
		if t.Deadline < e.now+t.Duration {
			e.fail(t)
		}
	}
	for _, id := range slices.Clone(e.problems) {
		if t, ok := e.project.Tasks[id]; ok && t.Status.Terminal() {
			e.problems = remove(e.problems, id)
		}
	}
	for _, w := range e.workers {
		for _, id := range w.Queue() {
			if t, ok := e.project.Tasks[id]; ok && t.Status.Terminal() {
				w.DropFromQueue(id)
			}
		}
	}
}

func (e *Environment) teamMotivation() float64 {
	if len(e.workers) == 0 {
		return 0
	}
	var sum float64
	for _, w := range e.workers {
		sum += w.Motivation()
	}
	return sum / float64(len(e.workers))
}

func (e *Environment) tickLog(act agent.CoordinatorAction, actions map[string]agent.WorkerAction) domain.TickLog {
	rec := domain.CoordinatorRecord{
		RunID:           e.cfg.RunID,
		Time:            e.now,
		Assignments:     len(act.Assignments),
		AskReports:      len(act.AskReports),
		Reassign:        len(act.Reassign),
		WorkOn:          act.WorkOn,
		Cooperations:    len(act.Cooperations),
		Motivate:        len(act.Motivate),
		Priority:        act.Priority,
		Optimize:        len(act.Optimize),
		ProblemsCount:   e.problemsCount,
		EscalateCount:   e.escalateCount,
		CooperationProb: e.coord.CooperationProb(),
		Trust:           e.coord.Trust(),
		Completed:       e.project.CountStatus(domain.TaskStatusCompleted),
		Failed:          e.project.CountStatus(domain.TaskStatusFailed),
	}
	if act.TakeChance != nil {
		rec.TakeChance = act.TakeChance.Name
	}
	out := domain.TickLog{Coordinator: rec, Workers: make([]domain.WorkerRecord, 0, len(e.workers))}
	for _, w := range e.workers {
		a := actions[w.ID()]
		out.Workers = append(out.Workers, domain.WorkerRecord{
			RunID:         e.cfg.RunID,
			Time:          e.now,
			WorkerID:      w.ID(),
			NewState:      int(a.NewState),
			Work:          a.Work,
			GetTask:       a.GetTask,
			Report:        a.Report,
			Cooperate:     a.Cooperate,
			Escalate:      a.Escalate,
			ReportProblem: a.ReportProblem,
			Rest:          a.Rest,
		})
	}
	return out
}

// Summary reports the run so far.
func (e *Environment) Summary(started time.Time) domain.RunSummary {
	completed := e.project.CountStatus(domain.TaskStatusCompleted)
	failed := e.project.CountStatus(domain.TaskStatusFailed)
	return domain.RunSummary{
		RunID:         e.cfg.RunID,
		Ticks:         e.ticks,
		Time:          max(e.now, 0),
		Complete:      e.Done(),
		Completed:     completed,
		Failed:        failed,
		Pending:       len(e.project.Tasks) - completed - failed,
		ProjectReward: e.reward,
		ProblemsCount: e.problemsCount,
		EscalateCount: e.escalateCount,
		Resources:     cloneLevels(e.resources),
		StartedAt:     started,
		FinishedAt:    time.Now().UTC(),
	}
}

func (e *Environment) Now() float64 { return e.now }
func (e *Environment) Ticks() int { return e.ticks }
func (e *Environment) Project() *domain.Project { return e.project }
func (e *Environment) Workers() []*agent.Worker { return slices.Clone(e.workers) }
func (e *Environment) Coordinator() *agent.Coordinator { return e.coord }
func (e *Environment) Problems() []string { return slices.Clone(e.problems) }
func (e *Environment) ManagerAvailable() bool { return e.managerAvailable }

func cloneLevels(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func appendUnique(list []string, id string) []string {
	if slices.Contains(list, id) {
		return list
	}
	return append(list, id)
}

func remove(list []string, id string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == id })
}
