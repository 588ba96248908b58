package domain

import (
	"sort"
	"time"
)

type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusAssigned   TaskStatus = "assigned"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusAssigned:
		return 1
	case TaskStatusInProgress:
		return 2
	case TaskStatusCompleted, TaskStatusFailed:
		return 3
	default:
		return 0
	}
}

// Priority tags shared by the coordinator's priority intention, the worker
// queue ordering and the priority milestone queue.
const (
	PriorityTasks    = "tasks"
	PriorityPriority = "priority"
	PriorityRewards  = "rewards"
	PriorityTime     = "time"
)

// Impact tags that name project goals rather than resources.
const (
	TagTime            = "time"
	TagNumberOfTasks   = "number_of_tasks"
	TagPriorityOfTasks = "priority_of_tasks"
	TagRewards         = "rewards"
)

type WorkerState int

const (
	WorkerIdle WorkerState = 0
	WorkerBusy WorkerState = 1
)

type ResourceRequirement struct {
	ResourceID string  `json:"resource_id" toml:"resource"`
	Quantity   float64 `json:"quantity" toml:"quantity"`
}

type Task struct {
	ID          string                `json:"id" toml:"id"`
	Start       float64               `json:"start" toml:"start"`
	Deadline    float64               `json:"deadline" toml:"deadline"`
	Priority    int                   `json:"priority" toml:"priority"`
	Duration    float64               `json:"duration" toml:"duration"`
	Reward      float64               `json:"reward" toml:"reward"`
	Difficulty  float64               `json:"difficulty" toml:"difficulty"`
	ProblemProb float64               `json:"problem_probability" toml:"problem_probability"`
	Status      TaskStatus            `json:"status" toml:"-"`
	DependsOn   []string              `json:"depends_on,omitempty" toml:"depends_on"`
	Requires    []ResourceRequirement `json:"requires,omitempty" toml:"requires"`
}

// Advance moves the task forward along its lifecycle. Backward moves and
// moves out of a terminal status are ignored.
func (t *Task) Advance(to TaskStatus) bool {
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if t.Status.Terminal() {
		return false
	}
	if to.rank() <= t.Status.rank() {
		return false
	}
	t.Status = to
	return true
}

func (t *Task) Clone() *Task {
	c := *t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	c.Requires = append([]ResourceRequirement(nil), t.Requires...)
	return &c
}

type Resource struct {
	ID    string  `json:"id" toml:"id"`
	Total float64 `json:"total" toml:"total"`
	Cost  float64 `json:"cost" toml:"cost"`
}

// RiskSpec is the data half of a risk or opportunity catalogue entry.
// Conditions are resolved by name into predicates by the risk package.
type RiskSpec struct {
	Name        string   `json:"name" toml:"name"`
	Probability float64  `json:"probability" toml:"probability"`
	Impact      []string `json:"impact" toml:"impact"`
	Benefits    []string `json:"benefits,omitempty" toml:"benefits"`
	Conditions  []string `json:"conditions" toml:"conditions"`
}

type Project struct {
	Objective     string               `json:"objective"`
	Tasks         map[string]*Task     `json:"tasks"`
	Resources     map[string]*Resource `json:"resources"`
	Risks         []RiskSpec           `json:"risks,omitempty"`
	Opportunities []RiskSpec           `json:"opportunities,omitempty"`

	order []string
}

func NewProject(objective string, tasks []*Task, resources []*Resource) *Project {
	p := &Project{
		Objective: objective,
		Tasks:     make(map[string]*Task, len(tasks)),
		Resources: make(map[string]*Resource, len(resources)),
	}
	for _, t := range tasks {
		p.AddTask(t)
	}
	for _, r := range resources {
		p.Resources[r.ID] = r
	}
	return p
}

func (p *Project) AddTask(t *Task) {
	if t.Status == "" {
		t.Status = TaskStatusPending
	}
	if _, ok := p.Tasks[t.ID]; !ok {
		p.order = append(p.order, t.ID)
	}
	p.Tasks[t.ID] = t
}

// TaskIDs returns task ids in insertion order.
func (p *Project) TaskIDs() []string {
	if len(p.order) != len(p.Tasks) {
		p.order = p.order[:0]
		for id := range p.Tasks {
			p.order = append(p.order, id)
		}
		sort.Strings(p.order)
	}
	return append([]string(nil), p.order...)
}

// TaskList returns tasks in insertion order.
func (p *Project) TaskList() []*Task {
	ids := p.TaskIDs()
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.Tasks[id])
	}
	return out
}

// ResourceIDs returns resource ids sorted for deterministic iteration.
func (p *Project) ResourceIDs() []string {
	ids := make([]string, 0, len(p.Resources))
	for id := range p.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (p *Project) Clone() *Project {
	c := &Project{
		Objective:     p.Objective,
		Tasks:         make(map[string]*Task, len(p.Tasks)),
		Resources:     make(map[string]*Resource, len(p.Resources)),
		Risks:         append([]RiskSpec(nil), p.Risks...),
		Opportunities: append([]RiskSpec(nil), p.Opportunities...),
		order:         append([]string(nil), p.TaskIDs()...),
	}
	for id, t := range p.Tasks {
		c.Tasks[id] = t.Clone()
	}
	for id, r := range p.Resources {
		rc := *r
		c.Resources[id] = &rc
	}
	return c
}

func (p *Project) CountStatus(status TaskStatus) int {
	n := 0
	for _, t := range p.Tasks {
		if t.Status == status {
			n++
		}
	}
	return n
}

// Milestone is a time-anchored expectation. Tag carries the subject for
// priority milestones; Expected carries the numeric target otherwise.
type Milestone struct {
	At       float64 `json:"at"`
	Expected float64 `json:"expected"`
	Tag      string  `json:"tag,omitempty"`
}

type CoordinatorRecord struct {
	RunID           string             `json:"run_id" db:"run_id"`
	Time            float64            `json:"time" db:"time"`
	Assignments     int                `json:"assignments" db:"assignments"`
	AskReports      int                `json:"ask_reports" db:"ask_reports"`
	Reassign        int                `json:"reassign" db:"reassign"`
	WorkOn          string             `json:"work_on" db:"work_on"`
	Cooperations    int                `json:"cooperations" db:"cooperations"`
	Motivate        int                `json:"motivate" db:"motivate"`
	Priority        string             `json:"priority" db:"priority"`
	Optimize        int                `json:"optimize" db:"optimize"`
	TakeChance      string             `json:"take_chance" db:"take_chance"`
	ProblemsCount   int                `json:"problems_count" db:"problems_count"`
	EscalateCount   int                `json:"escalate_count" db:"escalate_count"`
	CooperationProb float64            `json:"cooperation_prob" db:"cooperation_prob"`
	Trust           map[string]float64 `json:"trust" db:"-"`
	Completed       int                `json:"completed" db:"completed"`
	Failed          int                `json:"failed" db:"failed"`
}

type WorkerRecord struct {
	RunID         string  `json:"run_id" db:"run_id"`
	Time          float64 `json:"time" db:"time"`
	WorkerID      string  `json:"worker_id" db:"worker_id"`
	NewState      int     `json:"new_state" db:"new_state"`
	Work          bool    `json:"work" db:"work"`
	GetTask       bool    `json:"get_task" db:"get_task"`
	Report        bool    `json:"report_progress" db:"report_progress"`
	Cooperate     bool    `json:"cooperate" db:"cooperate"`
	Escalate      bool    `json:"escalate_problem" db:"escalate_problem"`
	ReportProblem bool    `json:"report_problem" db:"report_problem"`
	Rest          bool    `json:"rest" db:"rest"`
}

// TickLog is everything one tick emits for observability.
type TickLog struct {
	Coordinator CoordinatorRecord `json:"coordinator"`
	Workers     []WorkerRecord    `json:"workers"`
}

type RunSummary struct {
	RunID         string             `json:"run_id"`
	BatchID       string             `json:"batch_id"`
	Seed          int64              `json:"seed"`
	Ticks         int                `json:"ticks"`
	Time          float64            `json:"time"`
	Complete      bool               `json:"complete"`
	Completed     int                `json:"completed"`
	Failed        int                `json:"failed"`
	Pending       int                `json:"pending"`
	ProjectReward float64            `json:"project_reward"`
	ProblemsCount int                `json:"problems_count"`
	EscalateCount int                `json:"escalate_count"`
	Resources     map[string]float64 `json:"resources"`
	Error         string             `json:"error,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	FinishedAt    time.Time          `json:"finished_at"`
}

type EventKind string

const (
	EventTick     EventKind = "tick"
	EventRunEnded EventKind = "run_ended"
)

// Event is what replicas publish for the recorder.
type Event struct {
	Kind    EventKind   `json:"kind"`
	RunID   string      `json:"run_id"`
	Tick    *TickLog    `json:"tick,omitempty"`
	Summary *RunSummary `json:"summary,omitempty"`
}
