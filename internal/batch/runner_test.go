package batch

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"pmsim/internal/domain"
	"pmsim/internal/policy"
	"pmsim/internal/sim"
)

type memorySink struct {
	mu      sync.Mutex
	ticks   map[string]int
	runs    []domain.RunSummary
	tickErr error
}

func newMemorySink() *memorySink {
	return &memorySink{ticks: make(map[string]int)}
}

func (s *memorySink) SaveTick(_ context.Context, tick domain.TickLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tickErr != nil {
		return s.tickErr
	}
	s.ticks[tick.Coordinator.RunID]++
	return nil
}

func (s *memorySink) SaveRun(_ context.Context, run domain.RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

func testProject() *domain.Project {
	return domain.NewProject("batch", []*domain.Task{
		{ID: "T1", Deadline: 800, Priority: 2, Duration: 30, Reward: 40, Difficulty: 20, ProblemProb: 0.2},
		{ID: "T2", Deadline: 800, Priority: 1, Duration: 20, Reward: 30, Difficulty: 35, ProblemProb: 0.2, DependsOn: []string{"T1"}},
		{ID: "T3", Deadline: 800, Priority: 3, Duration: 20, Reward: 20, Difficulty: 10},
	}, nil)
}

func testConfig() Config {
	return Config{
		Replicas:    4,
		Parallelism: 2,
		Seed:        10,
		Sim:         sim.Config{Skills: []float64{70, 40, 25}, MaxSteps: 200},
	}
}

func TestRunJoinsEveryReplica(t *testing.T) {
	sink := newMemorySink()
	project := testProject()
	res, err := New(testConfig(), sink, log.New(io.Discard, "", 0)).Run(context.Background(), project)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.BatchID == "" || len(res.Runs) != 4 {
		t.Fatalf("result=%+v", res)
	}
	ids := make(map[string]bool)
	for i, run := range res.Runs {
		if run.Seed != int64(10+i) || run.BatchID != res.BatchID || run.Error != "" {
			t.Fatalf("run %d=%+v", i, run)
		}
		if ids[run.RunID] {
			t.Fatalf("duplicate run id %s", run.RunID)
		}
		ids[run.RunID] = true
		if got := sink.ticks[run.RunID]; got != run.Ticks {
			t.Fatalf("run %s recorded %d ticks, ran %d", run.RunID, got, run.Ticks)
		}
	}
	if len(sink.runs) != 4 {
		t.Fatalf("recorded runs=%d", len(sink.runs))
	}
	if res.Aggregate.Runs != 4 || res.Aggregate.MeanTicks <= 0 {
		t.Fatalf("aggregate=%+v", res.Aggregate)
	}
	for _, task := range project.Tasks {
		if task.Status != domain.TaskStatusPending {
			t.Fatalf("shared project mutated: %+v", task)
		}
	}
}

func TestRunIsReproducibleForASeed(t *testing.T) {
	logger := log.New(io.Discard, "", 0)
	a, err := New(testConfig(), nil, logger).Run(context.Background(), testProject())
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	b, err := New(testConfig(), nil, logger).Run(context.Background(), testProject())
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}
	for i := range a.Runs {
		x, y := a.Runs[i], b.Runs[i]
		if x.Ticks != y.Ticks || x.Completed != y.Completed || x.Failed != y.Failed || x.ProblemsCount != y.ProblemsCount {
			t.Fatalf("replica %d differs: %+v vs %+v", i, x, y)
		}
	}
}

func TestRunReportsSinkFailure(t *testing.T) {
	sink := newMemorySink()
	sink.tickErr = errors.New("disk full")
	res, err := New(testConfig(), sink, log.New(io.Discard, "", 0)).Run(context.Background(), testProject())
	if !errors.Is(err, sink.tickErr) {
		t.Fatalf("err=%v want sink error", err)
	}
	if len(res.Runs) != 4 || res.Runs[3].RunID == "" {
		t.Fatalf("replicas did not all run: %+v", res.Runs)
	}
}

func TestRunRecordsReplicaErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Replicas = 2
	cfg.Sim.Rules = []policy.Proposal{{ID: "bad", Conditions: []string{"no_such_condition"}, Desires: []string{"assign"}}}
	res, err := New(cfg, nil, log.New(io.Discard, "", 0)).Run(context.Background(), testProject())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Aggregate.ErroredRuns != 2 || res.Runs[0].Error == "" {
		t.Fatalf("result=%+v", res)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(testConfig(), nil, log.New(io.Discard, "", 0)).Run(ctx, testProject())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want canceled", err)
	}
}

func TestSummarize(t *testing.T) {
	agg := Summarize([]domain.RunSummary{
		{RunID: "a", Complete: true, Ticks: 10, Completed: 3, ProjectReward: 90},
		{RunID: "b", Ticks: 30, Completed: 1, Failed: 2, ProjectReward: 10, Error: "x"},
		{},
	})
	if agg.Runs != 2 || agg.CompleteRuns != 1 || agg.ErroredRuns != 1 {
		t.Fatalf("agg=%+v", agg)
	}
	if agg.CompletionRate != 0.5 || agg.MeanTicks != 20 || agg.MeanCompleted != 2 || agg.MeanReward != 50 || agg.MeanFailed != 1 {
		t.Fatalf("agg=%+v", agg)
	}
}
