package agent

import (
	"errors"
	"io"
	"log"
	"math/rand"
	"reflect"
	"testing"

	"pmsim/internal/bdi"
	"pmsim/internal/domain"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func workerProject() *domain.Project {
	return domain.NewProject("time", []*domain.Task{
		{ID: "a", Duration: 100, Deadline: 500, Difficulty: 50, Reward: 10, Priority: 1},
		{ID: "b", Duration: 20, Deadline: 300, Difficulty: 10, Reward: 50, Priority: 3},
		{ID: "c", Duration: 60, Deadline: 100, Difficulty: 20, Reward: 30, Priority: 2},
	}, nil)
}

func newTestWorker(t *testing.T, skill float64, seed int64) *Worker {
	t.Helper()
	w, err := NewWorker(WorkerConfig{Laziness: -1}, "w1", skill, workerProject(), rand.New(rand.NewSource(seed)), quietLogger())
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	return w
}

func TestSkilledWorkerSolvesProblems(t *testing.T) {
	for seed := int64(1); seed <= 200; seed++ {
		w := newTestWorker(t, 80, seed)
		w.SetCurrent("a")
		act, err := bdi.Step[WorkerPerception, WorkerAction](w, WorkerPerception{
			Progress: 30, ProblemDetected: true, Severity: 50, TeamMotivation: 100,
		})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if !act.ReportProblem || act.Escalate || act.NewState != domain.WorkerBusy {
			t.Fatalf("seed %d: action=%+v", seed, act)
		}
		if w.Progress() != 0 {
			t.Fatalf("seed %d: progress=%v want 0", seed, w.Progress())
		}
	}
}

func TestUnskilledWorkerMostlyEscalates(t *testing.T) {
	const trials = 1000
	escalated := 0
	for seed := int64(1); seed <= trials; seed++ {
		w := newTestWorker(t, 10, seed)
		w.SetCurrent("a")
		act, err := bdi.Step[WorkerPerception, WorkerAction](w, WorkerPerception{
			ProblemDetected: true, Severity: 90, TeamMotivation: 100,
		})
		if err != nil {
			t.Fatalf("step: %v", err)
		}
		if act.Escalate {
			escalated++
		}
	}
	if rate := float64(escalated) / trials; rate < 0.85 {
		t.Fatalf("escalation rate=%.3f want > 0.85", rate)
	}
}

func TestWorkerRejectsUnknownPriority(t *testing.T) {
	w := newTestWorker(t, 50, 1)
	w.SetCurrent("a")
	w.Enqueue("b")
	_, err := bdi.Step[WorkerPerception, WorkerAction](w, WorkerPerception{TeamMotivation: 100, Priority: "party"})
	if !errors.Is(err, ErrUnknownDesire) {
		t.Fatalf("err=%v want ErrUnknownDesire", err)
	}
}

func TestWorkerQueueOrdering(t *testing.T) {
	cases := []struct {
		priority string
		want     []string
	}{
		{"", []string{"c", "b", "a"}},
		{domain.PriorityTasks, []string{"b", "c", "a"}},
		{domain.PriorityPriority, []string{"b", "c", "a"}},
		{domain.PriorityRewards, []string{"b", "c", "a"}},
	}
	for _, tc := range cases {
		w := newTestWorker(t, 50, 1)
		w.SetCurrent("a")
		for _, id := range []string{"a", "b", "c"} {
			w.Enqueue(id)
		}
		w.perception = WorkerPerception{TeamMotivation: 100, Priority: tc.priority}
		if err := w.ReviseBeliefs(); err != nil {
			t.Fatalf("revise %q: %v", tc.priority, err)
		}
		if got := w.Queue(); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("priority %q: queue=%v want %v", tc.priority, got, tc.want)
		}
	}
}

func TestTiredWorkerRests(t *testing.T) {
	w := newTestWorker(t, 50, 3)
	w.SetCurrent("a")
	act, err := bdi.Step[WorkerPerception, WorkerAction](w, WorkerPerception{Progress: 95, TeamMotivation: 100})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !act.Rest || act.NewState != domain.WorkerIdle {
		t.Fatalf("action=%+v want rest", act)
	}
	if w.Motivation() < 105 || w.Motivation() > 115 {
		t.Fatalf("motivation=%v want within [105,115]", w.Motivation())
	}
	w.RestoreEnergy(500)
	if w.Energy() != 100 {
		t.Fatalf("energy=%v want capped at 100", w.Energy())
	}
}

func TestFinishedTaskIsReported(t *testing.T) {
	w := newTestWorker(t, 50, 1)
	w.SetCurrent("b")
	w.Enqueue("c")
	act, err := bdi.Step[WorkerPerception, WorkerAction](w, WorkerPerception{Progress: 20, TeamMotivation: 100})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !act.Report || !act.GetTask || act.Work {
		t.Fatalf("action=%+v want report with get-task", act)
	}
}

func TestIdleWorkerWithoutTasksRests(t *testing.T) {
	w := newTestWorker(t, 50, 1)
	act, err := bdi.Step[WorkerPerception, WorkerAction](w, WorkerPerception{TeamMotivation: 100})
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if !act.Rest || w.HasWork() {
		t.Fatalf("action=%+v hasWork=%t", act, w.HasWork())
	}
}

func TestPushFrontMovesTask(t *testing.T) {
	w := newTestWorker(t, 50, 1)
	w.Enqueue("a")
	w.Enqueue("b")
	w.PushFront("b")
	w.PushFront("c")
	if got := w.Queue(); !reflect.DeepEqual(got, []string{"c", "b", "a"}) {
		t.Fatalf("queue=%v", got)
	}
	if id, ok := w.PopQueue(); !ok || id != "c" {
		t.Fatalf("pop=%q %t", id, ok)
	}
}
