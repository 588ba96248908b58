package sim

import (
	"context"
	"errors"
	"io"
	"log"
	"reflect"
	"testing"
	"time"

	"pmsim/internal/agent"
	"pmsim/internal/domain"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

type tickCollector struct {
	ticks []domain.TickLog
	err   error
}

func (c *tickCollector) RecordTick(_ context.Context, tick domain.TickLog) error {
	if c.err != nil {
		return c.err
	}
	c.ticks = append(c.ticks, tick)
	return nil
}

func chainProject(problemProb float64) *domain.Project {
	tasks := []*domain.Task{
		{ID: "T1", Deadline: 1000, Priority: 2, Duration: 30, Reward: 40, Difficulty: 20, ProblemProb: problemProb,
			Requires: []domain.ResourceRequirement{{ResourceID: "dev", Quantity: 2}}},
		{ID: "T2", Deadline: 1000, Priority: 1, Duration: 20, Reward: 30, Difficulty: 30, ProblemProb: problemProb,
			DependsOn: []string{"T1"}, Requires: []domain.ResourceRequirement{{ResourceID: "dev", Quantity: 1}}},
		{ID: "T3", Deadline: 1000, Priority: 3, Duration: 20, Reward: 20, Difficulty: 10, ProblemProb: problemProb},
	}
	return domain.NewProject("chain", tasks, []*domain.Resource{{ID: "dev", Total: 10, Cost: 1}})
}

func newEnv(t *testing.T, cfg Config, p *domain.Project, seed int64, rec Recorder) *Environment {
	t.Helper()
	env, err := New(cfg, p, seed, rec, quietLogger())
	if err != nil {
		t.Fatalf("new environment: %v", err)
	}
	return env
}

func TestEmptyProjectRunsZeroTicks(t *testing.T) {
	rec := &tickCollector{}
	env := newEnv(t, Config{Skills: []float64{50, 50}}, domain.NewProject("empty", nil, nil), 1, rec)
	s, err := env.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if s.Ticks != 0 || len(rec.ticks) != 0 || !s.Complete {
		t.Fatalf("summary=%+v records=%d", s, len(rec.ticks))
	}
}

func TestOverrunTaskFailsEvenIfNeverStarted(t *testing.T) {
	p := domain.NewProject("overrun", []*domain.Task{
		{ID: "T1", Deadline: 20, Duration: 30, Reward: 10, Difficulty: 10},
	}, nil)
	rec := &tickCollector{}
	env := newEnv(t, Config{Skills: []float64{50}}, p, 7, rec)
	s, err := env.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := p.Tasks["T1"].Status; got != domain.TaskStatusFailed {
		t.Fatalf("status=%s want failed", got)
	}
	if s.Failed != 1 || s.Completed != 0 || !s.Complete {
		t.Fatalf("summary=%+v", s)
	}
	if len(rec.ticks) == 0 || rec.ticks[0].Coordinator.Time != 0 || rec.ticks[0].Coordinator.Failed != 1 {
		t.Fatalf("failure not detected on the first tick: %+v", rec.ticks)
	}
}

func TestRunCompletesSmallProject(t *testing.T) {
	p := chainProject(0)
	rec := &tickCollector{}
	env := newEnv(t, Config{Skills: []float64{80, 80}, MaxSteps: 500}, p, 3, rec)
	s, err := env.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !s.Complete || s.Completed != 3 || s.Failed != 0 || s.Pending != 0 {
		t.Fatalf("summary=%+v", s)
	}
	if len(rec.ticks) != s.Ticks {
		t.Fatalf("records=%d ticks=%d", len(rec.ticks), s.Ticks)
	}
	for i, tick := range rec.ticks {
		if tick.Coordinator.Time != float64(i*10) {
			t.Fatalf("tick %d at time %v", i, tick.Coordinator.Time)
		}
		if len(tick.Workers) != 2 || tick.Workers[0].WorkerID != "w01" {
			t.Fatalf("tick %d workers=%+v", i, tick.Workers)
		}
	}
	if s.Resources["dev"] >= 10 {
		t.Fatalf("resources not debited: %v", s.Resources)
	}
}

func TestRunIsDeterministicPerSeed(t *testing.T) {
	run := func(seed int64) (domain.RunSummary, []domain.TickLog) {
		rec := &tickCollector{}
		env := newEnv(t, Config{Workers: 3, MaxSteps: 200, ProgressNoise: 0.3}, chainProject(0.4), seed, rec)
		s, err := env.Run(context.Background())
		if err != nil {
			t.Fatalf("run: %v", err)
		}
		s.StartedAt, s.FinishedAt = time.Time{}, time.Time{}
		return s, rec.ticks
	}
	a, ta := run(11)
	b, tb := run(11)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("summaries differ:\n%+v\n%+v", a, b)
	}
	if !reflect.DeepEqual(ta, tb) {
		t.Fatalf("tick logs differ")
	}
}

func TestRunStopsOnRecorderError(t *testing.T) {
	boom := errors.New("disk full")
	env := newEnv(t, Config{Skills: []float64{80}}, chainProject(0), 1, &tickCollector{err: boom})
	if _, err := env.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err=%v want recorder error", err)
	}
}

func TestRunHonoursCancelledContext(t *testing.T) {
	env := newEnv(t, Config{Skills: []float64{80}}, chainProject(0), 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := env.Run(ctx)
	if !errors.Is(err, context.Canceled) || s.Ticks != 0 {
		t.Fatalf("err=%v ticks=%d", err, s.Ticks)
	}
}

func TestCooperationHalvesTaskOnce(t *testing.T) {
	p := domain.NewProject("coop", []*domain.Task{
		{ID: "T1", Deadline: 1000, Duration: 40, Reward: 20, Difficulty: 50, ProblemProb: 0.4,
			Status: domain.TaskStatusInProgress, Requires: []domain.ResourceRequirement{{ResourceID: "dev", Quantity: 4}}},
	}, []*domain.Resource{{ID: "dev", Total: 10}})
	env := newEnv(t, Config{Skills: []float64{30, 30}}, p, 5, nil)

	both := map[string]agent.WorkerAction{"w01": {Cooperate: true}, "w02": {Cooperate: true}}
	env.cooperations = []agent.Cooperation{{First: "w01", Second: "w02", TaskID: "T1"}}
	env.applyWorkers(both)

	task := p.Tasks["T1"]
	if task.Duration != 20 || task.Difficulty != 25 || task.Reward != 10 || task.Requires[0].Quantity != 2 {
		t.Fatalf("task=%+v", task)
	}
	if task.ProblemProb != 0.2 {
		t.Fatalf("problem prob=%v", task.ProblemProb)
	}
	for _, w := range env.Workers() {
		if q := w.Queue(); len(q) == 0 || q[0] != "T1" {
			t.Fatalf("worker %s queue=%v", w.ID(), q)
		}
	}

	env.cooperations = nil
	env.applyWorkers(both)
	if task.Duration != 20 || task.Difficulty != 25 {
		t.Fatalf("task halved twice: %+v", task)
	}
}

func TestCooperationRefusedReturnsTaskToProblems(t *testing.T) {
	p := domain.NewProject("coop", []*domain.Task{
		{ID: "T1", Deadline: 1000, Duration: 40, Reward: 20, Difficulty: 50, Status: domain.TaskStatusInProgress},
	}, nil)
	env := newEnv(t, Config{Skills: []float64{30, 30}}, p, 5, nil)
	env.cooperations = []agent.Cooperation{{First: "w01", Second: "w02", TaskID: "T1"}}
	env.applyWorkers(map[string]agent.WorkerAction{"w01": {Cooperate: true}})

	if got := env.Problems(); len(got) != 1 || got[0] != "T1" {
		t.Fatalf("problems=%v", got)
	}
	if p.Tasks["T1"].Duration != 40 {
		t.Fatalf("task changed: %+v", p.Tasks["T1"])
	}
}

func TestTakeTaskChecks(t *testing.T) {
	cases := []struct {
		name       string
		task       domain.Task
		dep        domain.TaskStatus
		now        float64
		wantStatus domain.TaskStatus
		wantQueued bool
	}{
		{name: "ready", task: domain.Task{Deadline: 100, Duration: 20}, dep: domain.TaskStatusCompleted, wantStatus: domain.TaskStatusInProgress},
		{name: "dependency failed", task: domain.Task{Deadline: 100, Duration: 20}, dep: domain.TaskStatusFailed, wantStatus: domain.TaskStatusFailed},
		{name: "dependency pending", task: domain.Task{Deadline: 100, Duration: 20}, dep: domain.TaskStatusPending, wantStatus: domain.TaskStatusAssigned, wantQueued: true},
		{name: "too late", task: domain.Task{Deadline: 30, Duration: 20}, dep: domain.TaskStatusCompleted, now: 20, wantStatus: domain.TaskStatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := tc.task
			task.ID, task.DependsOn, task.Status = "T2", []string{"T1"}, domain.TaskStatusAssigned
			p := domain.NewProject("take", []*domain.Task{
				{ID: "T1", Deadline: 1000, Duration: 10, Status: tc.dep},
				&task,
			}, nil)
			env := newEnv(t, Config{Skills: []float64{50}}, p, 1, nil)
			env.now = tc.now
			w := env.Workers()[0]
			w.Enqueue("T2")
			env.takeTask(w)

			if task.Status != tc.wantStatus {
				t.Fatalf("status=%s want %s", task.Status, tc.wantStatus)
			}
			queued := len(w.Queue()) == 1
			if queued != tc.wantQueued {
				t.Fatalf("queue=%v", w.Queue())
			}
			if tc.wantStatus == domain.TaskStatusInProgress && w.CurrentID() != "T2" {
				t.Fatalf("current=%q", w.CurrentID())
			}
			if tc.wantStatus == domain.TaskStatusFailed && (len(env.failed) != 1 || env.failed[0] != "T2") {
				t.Fatalf("failed=%v", env.failed)
			}
		})
	}
}

func TestTakeTaskDropsTerminalTasks(t *testing.T) {
	p := domain.NewProject("take", []*domain.Task{
		{ID: "T1", Deadline: 1000, Duration: 10, Status: domain.TaskStatusCompleted},
		{ID: "T2", Deadline: 1000, Duration: 10, Status: domain.TaskStatusAssigned},
	}, nil)
	env := newEnv(t, Config{Skills: []float64{50}}, p, 1, nil)
	w := env.Workers()[0]
	w.Enqueue("T1")
	w.Enqueue("T2")
	env.takeTask(w)
	if w.CurrentID() != "T2" || w.QueueLen() != 0 {
		t.Fatalf("current=%q queue=%v", w.CurrentID(), w.Queue())
	}
}

func TestPriorityCutsCurrentTask(t *testing.T) {
	p := domain.NewProject("cut", []*domain.Task{
		{ID: "T1", Deadline: 1000, Duration: 30, Reward: 15, Status: domain.TaskStatusAssigned,
			Requires: []domain.ResourceRequirement{{ResourceID: "dev", Quantity: 10}, {ResourceID: "qa", Quantity: 5}}},
	}, []*domain.Resource{{ID: "dev", Total: 20}, {ID: "qa", Total: 20}})
	env := newEnv(t, Config{Skills: []float64{50}}, p, 1, nil)
	w := env.Workers()[0]
	w.Enqueue("T1")
	env.takeTask(w)

	env.priority = domain.PriorityTime
	env.optimize = []string{"dev"}
	env.applyPriorityCuts()

	task := p.Tasks["T1"]
	if task.Duration != 20 {
		t.Fatalf("duration=%v", task.Duration)
	}
	if task.Requires[0].Quantity != 9 || task.Requires[1].Quantity != 5 {
		t.Fatalf("requires=%+v", task.Requires)
	}
	if task.Reward != 4.5 {
		t.Fatalf("reward=%v", task.Reward)
	}
}

func TestEscalateCountsOnceAndFlagsLaziness(t *testing.T) {
	p := domain.NewProject("esc", []*domain.Task{
		{ID: "T1", Deadline: 1000, Duration: 30, Difficulty: 40, Status: domain.TaskStatusAssigned},
	}, nil)
	env := newEnv(t, Config{Skills: []float64{60}}, p, 1, nil)
	w := env.Workers()[0]
	w.Enqueue("T1")
	env.takeTask(w)
	env.escalate(w)
	w.Enqueue("T1")
	env.takeTask(w)
	env.escalate(w)

	if env.escalateCount != 1 || len(env.Problems()) != 1 {
		t.Fatalf("escalations=%d problems=%v", env.escalateCount, env.Problems())
	}
	if len(env.lazy) != 2 || w.CurrentID() != "" {
		t.Fatalf("lazy=%v current=%q", env.lazy, w.CurrentID())
	}
}

func TestDeadlineSweepSparesTasksInProgress(t *testing.T) {
	p := domain.NewProject("sweep", []*domain.Task{
		{ID: "T1", Deadline: 10, Duration: 30, Status: domain.TaskStatusInProgress},
		{ID: "T2", Deadline: 10, Duration: 30, Status: domain.TaskStatusAssigned},
		{ID: "T3", Deadline: 500, Duration: 30},
	}, nil)
	env := newEnv(t, Config{Skills: []float64{50}}, p, 1, nil)
	w := env.Workers()[0]
	w.Enqueue("T2")
	env.problems = []string{"T2"}
	env.now = 0
	env.sweepDeadlines()

	want := map[string]domain.TaskStatus{
		"T1": domain.TaskStatusInProgress,
		"T2": domain.TaskStatusFailed,
		"T3": domain.TaskStatusPending,
	}
	for id, st := range want {
		if p.Tasks[id].Status != st {
			t.Fatalf("%s status=%s want %s", id, p.Tasks[id].Status, st)
		}
	}
	if w.QueueLen() != 0 || len(env.Problems()) != 0 {
		t.Fatalf("queue=%v problems=%v", w.Queue(), env.Problems())
	}
}
