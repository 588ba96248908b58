package agent

import (
	"fmt"
	"log"
	"math/rand"
	"slices"
	"sort"

	"pmsim/internal/bdi"
	"pmsim/internal/domain"
)

type WorkerConfig struct {
	MaxEnergy     float64
	MinEnergy     float64
	MinMotivation float64
	Friendship    float64
	Laziness      float64
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.MaxEnergy <= 0 {
		c.MaxEnergy = 100
	}
	if c.MinEnergy <= 0 {
		c.MinEnergy = 10
	}
	if c.MinMotivation <= 0 {
		c.MinMotivation = 10
	}
	if c.Friendship <= 0 {
		c.Friendship = 0.8
	}
	switch {
	case c.Laziness == 0:
		c.Laziness = 0.1
	case c.Laziness < 0:
		c.Laziness = 0
	}
	return c
}

type WorkerPerception struct {
	Now                 float64
	Progress            float64
	ProblemDetected     bool
	Severity            float64
	ReportRequested     bool
	CooperationRequired bool
	TeamMotivation      float64
	Priority            string
}

type WorkerAction struct {
	NewState      domain.WorkerState
	Work          bool
	GetTask       bool
	Report        bool
	Cooperate     bool
	Escalate      bool
	ReportProblem bool
	Rest          bool
}

type workerIntentions struct {
	getWork   bool
	doTask    bool
	escalate  bool
	solve     bool
	cooperate bool
	report    bool
	rest      bool
}

const (
	RuleWork         = "Work"
	RuleReport       = "Report"
	RuleCooperate    = "Cooperate"
	RuleAvoidProblem = "AvoidProblem"
	RuleRest         = "Rest"
)

// Worker executes tasks from its own queue. The environment owns the tasks
// and moves them between the queue, the current slot and the problem list.
type Worker struct {
	id      string
	cfg     WorkerConfig
	project *domain.Project

	skill      float64
	energy     float64
	motivation float64
	state      domain.WorkerState
	current    string
	progress   float64
	queue      []string

	motivated  bool
	reportOwed bool
	problem    bool
	severity   float64
	coopNeeded bool
	team       float64

	perception WorkerPerception
	desires    WorkerDesires
	intents    workerIntentions
	rules      *bdi.Registry[*Worker]
	rng        *rand.Rand
	logger     *log.Logger
}

func NewWorker(cfg WorkerConfig, id string, skill float64, project *domain.Project, rng *rand.Rand, logger *log.Logger) (*Worker, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = log.Default()
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	w := &Worker{
		id:         id,
		cfg:        cfg,
		project:    project,
		skill:      skill,
		energy:     cfg.MaxEnergy,
		motivation: 100,
		rules:      bdi.NewRegistry[*Worker](),
		rng:        rng,
		logger:     logger,
	}
	for _, r := range []bdi.Rule[*Worker]{
		{ID: RuleWork, Weight: 1, Description: "work while motivated", Eval: (*Worker).workRule},
		{ID: RuleReport, Weight: 2, Description: "report when asked", Eval: (*Worker).reportRule},
		{ID: RuleCooperate, Weight: 3, Description: "cooperate when required", Eval: (*Worker).cooperateRule},
		{ID: RuleAvoidProblem, Weight: 4, Description: "escalate problems beyond skill", Eval: (*Worker).avoidProblemRule},
		{ID: RuleRest, Weight: 5, Description: "rest when tired or lazy", Eval: (*Worker).restRule},
	} {
		if err := w.rules.Register(r); err != nil {
			return nil, fmt.Errorf("new worker %s: %w", id, err)
		}
	}
	return w, nil
}

func (w *Worker) Perceive(p WorkerPerception) error {
	w.perception = p
	return nil
}

func (w *Worker) ReviseBeliefs() error {
	p := w.perception
	w.team = p.TeamMotivation
	w.motivation = (w.motivation + p.TeamMotivation) / 2
	if p.ProblemDetected {
		w.motivation *= 0.9
	}
	w.motivated = w.motivation > w.cfg.MinMotivation

	if p.Progress > 0 {
		w.progress += p.Progress
		w.energy -= p.Progress
	}
	w.reportOwed = p.ReportRequested

	w.problem = w.current != "" && p.ProblemDetected
	w.severity = 0
	if w.problem {
		w.severity = p.Severity
	}
	w.coopNeeded = p.CooperationRequired

	switch {
	case p.Priority == "" || w.current == "":
		return w.sortQueue("")
	case p.Priority == domain.PriorityTime:
		return nil
	default:
		return w.sortQueue(p.Priority)
	}
}

func (w *Worker) sortQueue(priority string) error {
	var less func(a, b *domain.Task) bool
	switch priority {
	case domain.PriorityTasks:
		less = func(a, b *domain.Task) bool { return a.Duration < b.Duration }
	case domain.PriorityPriority:
		less = func(a, b *domain.Task) bool { return a.Priority > b.Priority }
	case domain.PriorityRewards:
		less = func(a, b *domain.Task) bool { return a.Reward > b.Reward }
	case "", "deadline":
		less = func(a, b *domain.Task) bool { return a.Deadline < b.Deadline }
	default:
		return fmt.Errorf("%w: queue priority %q", ErrUnknownDesire, priority)
	}
	sort.SliceStable(w.queue, func(i, j int) bool {
		return less(w.project.Tasks[w.queue[i]], w.project.Tasks[w.queue[j]])
	})
	return nil
}

func (w *Worker) GenerateDesires() error {
	w.rules.Evaluate(w)
	return nil
}

func (w *Worker) workRule() bool {
	w.desires.Work = w.motivated && (w.current != "" || len(w.queue) > 0)
	return w.desires.Work
}

func (w *Worker) reportRule() bool {
	w.desires.ReportProgress = w.reportOwed
	return w.desires.ReportProgress
}

func (w *Worker) cooperateRule() bool {
	w.desires.Cooperate = w.coopNeeded && w.rng.Float64() < w.cfg.Friendship
	return w.desires.Cooperate
}

func (w *Worker) avoidProblemRule() bool {
	w.desires.AvoidProblems = w.problem && w.skill < w.severity*w.rng.Float64()*1.2
	return w.desires.AvoidProblems
}

func (w *Worker) restRule() bool {
	w.desires.KeepEnergy = w.rng.Float64() < w.cfg.Laziness || w.energy <= w.cfg.MinEnergy
	return w.desires.KeepEnergy
}

func (w *Worker) FormIntentions() error {
	d := w.desires
	in := workerIntentions{
		rest:      !d.Work || d.KeepEnergy,
		cooperate: d.Cooperate,
	}
	if d.Work {
		if t := w.Current(); t != nil && w.progress < t.Duration {
			in.doTask = true
		} else {
			in.getWork = true
		}
	}
	if d.AvoidProblems {
		in.escalate = true
	} else if w.problem {
		in.solve = w.rng.Float64() < w.team/100
		in.escalate = !in.solve
	}
	if t := w.Current(); t != nil && (w.progress >= t.Duration || d.ReportProgress) {
		in.report = true
	}
	w.intents = in
	return nil
}

// ResolveAction picks what the worker does this tick. Resting, solving,
// reporting and escalating end the turn; taking a new task may accompany a
// report or an escalation, and cooperating may accompany work.
func (w *Worker) ResolveAction() (WorkerAction, error) {
	in := w.intents
	if in.rest {
		w.motivation += float64(5 + w.rng.Intn(11))
		return WorkerAction{NewState: domain.WorkerIdle, Rest: true}, nil
	}
	if in.solve {
		w.progress = max(0, w.progress-w.severity)
		if w.rng.Float64() < 0.2 {
			w.skill *= 1.05
		}
		w.problem = false
		return WorkerAction{NewState: domain.WorkerBusy, Work: true, ReportProblem: true}, nil
	}

	act := WorkerAction{NewState: domain.WorkerIdle}
	if in.getWork && len(w.queue) > 0 {
		act.GetTask = true
		act.NewState = domain.WorkerBusy
	}
	if in.report {
		act.Report = true
		act.NewState = domain.WorkerBusy
		return act, nil
	}
	if in.escalate {
		w.problem = false
		act.Escalate = true
		return act, nil
	}
	if in.doTask && w.current != "" {
		act.Work = true
	}
	act.Cooperate = in.cooperate
	act.NewState = domain.WorkerBusy
	return act, nil
}

func (w *Worker) ID() string { return w.id }
func (w *Worker) Skill() float64 { return w.skill }
func (w *Worker) Energy() float64 { return w.energy }
func (w *Worker) Motivation() float64 { return w.motivation }
func (w *Worker) State() domain.WorkerState { return w.state }
func (w *Worker) Progress() float64 { return w.progress }
func (w *Worker) Desires() WorkerDesires { return w.desires }
func (w *Worker) SetState(s domain.WorkerState) { w.state = s }

// Current returns the task being worked on, or nil.
func (w *Worker) Current() *domain.Task {
	if w.current == "" {
		return nil
	}
	return w.project.Tasks[w.current]
}

func (w *Worker) CurrentID() string { return w.current }

// SetCurrent makes id the current task and restarts progress. An empty id
// clears the slot.
func (w *Worker) SetCurrent(id string) {
	w.current = id
	w.progress = 0
}

func (w *Worker) Queue() []string { return slices.Clone(w.queue) }

func (w *Worker) QueueLen() int { return len(w.queue) }

// HasWork reports whether the worker holds or queues any task.
func (w *Worker) HasWork() bool { return w.current != "" || len(w.queue) > 0 }

func (w *Worker) Enqueue(id string) { w.queue = append(w.queue, id) }

func (w *Worker) PushFront(id string) {
	w.queue = slices.Insert(remove(w.queue, id), 0, id)
}

// PopQueue removes and returns the head of the queue.
func (w *Worker) PopQueue() (string, bool) {
	if len(w.queue) == 0 {
		return "", false
	}
	id := w.queue[0]
	w.queue = w.queue[1:]
	return id, true
}

func (w *Worker) DropFromQueue(id string) { w.queue = remove(w.queue, id) }

func (w *Worker) RestoreEnergy(amount float64) {
	w.energy = min(w.energy+amount, w.cfg.MaxEnergy)
}

func (w *Worker) Motivate(amount float64) { w.motivation += amount }
