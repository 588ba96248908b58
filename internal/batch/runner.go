package batch

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"pmsim/internal/domain"
	"pmsim/internal/messaging/inproc"
	"pmsim/internal/sim"
)

const recorderName = "recorder"

// Sink persists what the replicas produce. It is only called from the
// recorder goroutine.
type Sink interface {
	SaveTick(ctx context.Context, tick domain.TickLog) error
	SaveRun(ctx context.Context, run domain.RunSummary) error
}

type Config struct {
	Replicas    int
	Parallelism int
	Seed        int64
	BusBuffer   int
	Sim         sim.Config
}

func (c Config) withDefaults() Config {
	if c.Replicas <= 0 {
		c.Replicas = 1
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.NumCPU()
	}
	if c.Parallelism > c.Replicas {
		c.Parallelism = c.Replicas
	}
	if c.BusBuffer <= 0 {
		c.BusBuffer = 256
	}
	return c
}

type Aggregate struct {
	Runs           int     `json:"runs"`
	CompleteRuns   int     `json:"complete_runs"`
	ErroredRuns    int     `json:"errored_runs"`
	CompletionRate float64 `json:"completion_rate"`
	MeanTicks      float64 `json:"mean_ticks"`
	MeanCompleted  float64 `json:"mean_completed"`
	MeanFailed     float64 `json:"mean_failed"`
	MeanReward     float64 `json:"mean_reward"`
	MeanProblems   float64 `json:"mean_problems"`
}

type Result struct {
	BatchID   string              `json:"batch_id"`
	Runs      []domain.RunSummary `json:"runs"`
	Aggregate Aggregate           `json:"aggregate"`
}

// Runner executes independent replicas of one project concurrently.
type Runner struct {
	cfg    Config
	sink   Sink
	logger *log.Logger
}

func New(cfg Config, sink Sink, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{cfg: cfg.withDefaults(), sink: sink, logger: logger}
}

// Run starts every replica on its own copy of project with seed Seed+i and
// joins once all of them ended. Replica failures are reported in the run
// summaries; the returned error is a cancelled context or the first sink
// failure.
func (r *Runner) Run(ctx context.Context, project *domain.Project) (Result, error) {
	if project == nil {
		project = domain.NewProject("", nil, nil)
	}
	res := Result{
		BatchID: uuid.NewString(),
		Runs:    make([]domain.RunSummary, r.cfg.Replicas),
	}
	bus := inproc.New(r.cfg.BusBuffer)
	events := bus.Register(recorderName)
	recorded := make(chan error, 1)
	go func() {
		recorded <- r.record(ctx, events)
	}()

	r.logger.Printf("batch started batch=%s replicas=%d parallelism=%d seed=%d",
		res.BatchID, r.cfg.Replicas, r.cfg.Parallelism, r.cfg.Seed)

	sem := make(chan struct{}, r.cfg.Parallelism)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Replicas; i++ {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, p *domain.Project) {
			defer wg.Done()
			defer func() { <-sem }()
			res.Runs[i] = r.replica(ctx, bus, res.BatchID, r.cfg.Seed+int64(i), p)
		}(i, project.Clone())
	}
	wg.Wait()
	bus.Unregister(recorderName)
	recErr := <-recorded

	res.Aggregate = Summarize(res.Runs)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if recErr != nil {
		return res, fmt.Errorf("record batch %s: %w", res.BatchID, recErr)
	}
	r.logger.Printf("batch finished batch=%s complete=%d/%d", res.BatchID, res.Aggregate.CompleteRuns, res.Aggregate.Runs)
	return res, nil
}

func (r *Runner) replica(ctx context.Context, bus *inproc.Bus, batchID string, seed int64, project *domain.Project) domain.RunSummary {
	cfg := r.cfg.Sim
	cfg.RunID = uuid.NewString()
	pub := publisher{bus: bus, runID: cfg.RunID}

	var summary domain.RunSummary
	env, err := sim.New(cfg, project, seed, pub, r.logger)
	if err == nil {
		summary, err = env.Run(ctx)
	}
	summary.RunID, summary.BatchID, summary.Seed = cfg.RunID, batchID, seed
	if err != nil {
		summary.Error = err.Error()
		r.logger.Printf("batch run failed run=%s seed=%d err=%v", cfg.RunID, seed, err)
	} else {
		r.logger.Printf("batch run finished run=%s seed=%d ticks=%d complete=%t", cfg.RunID, seed, summary.Ticks, summary.Complete)
	}
	if perr := bus.PublishWait(ctx, recorderName, domain.Event{Kind: domain.EventRunEnded, RunID: cfg.RunID, Summary: &summary}); perr != nil {
		r.logger.Printf("batch publish summary failed run=%s err=%v", cfg.RunID, perr)
	}
	return summary
}

// record drains the bus until it is closed and keeps the first sink error.
func (r *Runner) record(ctx context.Context, events <-chan domain.Event) error {
	var first error
	for ev := range events {
		if r.sink == nil || first != nil {
			continue
		}
		var err error
		switch ev.Kind {
		case domain.EventTick:
			if ev.Tick != nil {
				err = r.sink.SaveTick(ctx, *ev.Tick)
			}
		case domain.EventRunEnded:
			if ev.Summary != nil {
				err = r.sink.SaveRun(ctx, *ev.Summary)
			}
		}
		if err != nil {
			first = err
			r.logger.Printf("batch recorder failed run=%s kind=%s err=%v", ev.RunID, ev.Kind, err)
		}
	}
	return first
}

// publisher forwards a replica's tick records to the recorder.
type publisher struct {
	bus   *inproc.Bus
	runID string
}

func (p publisher) RecordTick(ctx context.Context, tick domain.TickLog) error {
	return p.bus.PublishWait(ctx, recorderName, domain.Event{Kind: domain.EventTick, RunID: p.runID, Tick: &tick})
}

func Summarize(runs []domain.RunSummary) Aggregate {
	var a Aggregate
	for _, run := range runs {
		if run.RunID == "" {
			continue
		}
		a.Runs++
		if run.Complete {
			a.CompleteRuns++
		}
		if run.Error != "" {
			a.ErroredRuns++
		}
		a.MeanTicks += float64(run.Ticks)
		a.MeanCompleted += float64(run.Completed)
		a.MeanFailed += float64(run.Failed)
		a.MeanReward += run.ProjectReward
		a.MeanProblems += float64(run.ProblemsCount)
	}
	if a.Runs == 0 {
		return a
	}
	n := float64(a.Runs)
	a.CompletionRate = float64(a.CompleteRuns) / n
	a.MeanTicks /= n
	a.MeanCompleted /= n
	a.MeanFailed /= n
	a.MeanReward /= n
	a.MeanProblems /= n
	return a
}
