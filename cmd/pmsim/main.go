package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"pmsim/internal/agent"
	"pmsim/internal/batch"
	"pmsim/internal/config"
	"pmsim/internal/domain"
	"pmsim/internal/extract"
	reports "pmsim/internal/fs"
	"pmsim/internal/scheduler"
	"pmsim/internal/sim"
	sqlitestore "pmsim/internal/store/sqlite"
	"pmsim/internal/taskgraph"
)

// exitIncomplete is returned when at least one replica ran out of steps or
// failed before finishing its project.
const exitIncomplete = 3

func main() {
	configPath := flag.String("config", "", "path to config.toml (default: ~/.pmsim/config.toml)")
	projectPath := flag.String("project", "", "TOML project file")
	textPaths := flag.String("text", "", "comma separated text files to extract the project from")
	replicas := flag.Int("replicas", 0, "number of replicas override")
	parallelism := flag.Int("parallelism", 0, "concurrent replicas override")
	seed := flag.Int64("seed", 0, "base seed override")
	maxSteps := flag.Int("max-steps", 0, "step budget per replica override")
	dbPathFlag := flag.String("db", "", "sqlite database path override")
	outFlag := flag.String("out", "", "report directory override")
	noReport := flag.Bool("no-report", false, "skip CSV and JSON reports")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	project, err := loadProject(ctx, cfg, *projectPath, *textPaths)
	if err != nil {
		log.Fatalf("load project: %v", err)
	}
	log.Printf("project loaded objective=%s tasks=%d resources=%d", project.Objective, len(project.Tasks), len(project.Resources))

	dbPath, err := config.ExpandHome(firstNonEmpty(*dbPathFlag, cfg.Store.DBPath, "~/.pmsim/pmsim.db"))
	if err != nil {
		log.Fatalf("resolve db path: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		log.Fatalf("create db directory: %v", err)
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		log.Fatalf("open sqlite store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("migrate sqlite: %v", err)
	}

	batchCfg := batch.Config{
		Replicas:    intOrDefault(*replicas, intOrDefault(cfg.Batch.Replicas, 1)),
		Parallelism: intOrDefault(*parallelism, cfg.Batch.Parallelism),
		Seed:        cfg.Batch.Seed,
		Sim:         simConfig(cfg, *maxSteps),
	}
	if *seed != 0 {
		batchCfg.Seed = *seed
	}

	started := time.Now()
	res, err := batch.New(batchCfg, store, log.Default()).Run(ctx, project)
	if err != nil {
		log.Fatalf("run batch: %v", err)
	}

	if !*noReport {
		outDir, err := config.ExpandHome(firstNonEmpty(*outFlag, cfg.Report.OutDir, "reports"))
		if err != nil {
			log.Fatalf("resolve report directory: %v", err)
		}
		if err := writeReports(ctx, outDir, store, res); err != nil {
			log.Fatalf("write reports: %v", err)
		}
	}

	printSummary(res, started)
	if res.Aggregate.CompleteRuns < res.Aggregate.Runs {
		_ = store.Close()
		os.Exit(exitIncomplete)
	}
}

// loadConfig tolerates a missing default file; an explicit path must exist.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if path == "" && errors.Is(err, fs.ErrNotExist) {
		return config.Config{}, nil
	}
	return config.Config{}, err
}

func loadProject(ctx context.Context, cfg config.Config, projectPath, textPaths string) (*domain.Project, error) {
	if strings.TrimSpace(projectPath) != "" {
		return taskgraph.LoadProject(projectPath)
	}
	var texts []string
	for _, p := range strings.Split(textPaths, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read text %s: %w", p, err)
		}
		texts = append(texts, string(data))
	}
	if len(texts) == 0 {
		return nil, fmt.Errorf("either -project or -text is required")
	}

	timeout := time.Duration(cfg.Extract.TimeoutMS) * time.Millisecond
	client, err := extract.New(extract.Config{
		Endpoint:    cfg.Extract.Endpoint,
		Model:       cfg.Extract.Model,
		AuthToken:   cfg.Extract.APIKey(),
		Timeout:     timeout,
		Retries:     cfg.Extract.Retries,
		Concurrency: cfg.Extract.Concurrency,
		Logger:      log.Default(),
	})
	if err != nil {
		return nil, fmt.Errorf("create extraction client: %w", err)
	}
	out, err := client.ExtractAll(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("extract project: %w", err)
	}
	return taskgraph.Build(taskgraph.ProjectFile{Tasks: out.Tasks, Resources: out.Resources})
}

func simConfig(cfg config.Config, maxSteps int) sim.Config {
	s := cfg.Simulation
	return sim.Config{
		Step:          s.Step,
		MaxSteps:      intOrDefault(maxSteps, s.MaxSteps),
		Workers:       s.Workers,
		Skills:        s.Skills,
		ProgressNoise: s.ProgressNoise,
		Coordinator: agent.CoordinatorConfig{
			MinTeamMotivation: s.MinTeamMotivation,
			RiskTolerance:     s.RiskTolerance,
			WorkProb:          s.WorkProb,
			CooperationProb:   s.CooperationProb,
			ExplorationRate:   s.ExplorationRate,
			AskReports:        s.AskReports,
			AdaptiveRules:     s.AdaptiveRules,
		},
		Scheduler: scheduler.Config{
			Population:        cfg.Scheduler.Population,
			Generations:       cfg.Scheduler.Generations,
			Elitism:           cfg.Scheduler.Elitism,
			MutationProb:      cfg.Scheduler.MutationProb,
			Crossover:         cfg.Scheduler.Crossover,
			Selection:         cfg.Scheduler.Selection,
			StoppingRounds:    cfg.Scheduler.StoppingRounds,
			StoppingTolerance: cfg.Scheduler.StoppingTolerance,
		},
		Rules: cfg.Rules,
	}
}

func writeReports(ctx context.Context, outDir string, store *sqlitestore.Store, res batch.Result) error {
	gw, err := reports.NewGateway(outDir, log.Default())
	if err != nil {
		return err
	}
	for _, run := range res.Runs {
		if run.RunID == "" {
			continue
		}
		coord, err := store.CoordinatorTicks(ctx, run.RunID)
		if err != nil {
			return err
		}
		workers, err := store.WorkerTicks(ctx, run.RunID)
		if err != nil {
			return err
		}
		if _, err := gw.WriteRunReport(run, coord, workers); err != nil {
			return err
		}
	}
	_, err = gw.WriteJSON(res.BatchID+"/batch.json", res)
	return err
}

func printSummary(res batch.Result, started time.Time) {
	a := res.Aggregate
	fmt.Printf("batch %s: %s runs, %s complete (%s%%), finished %s\n",
		res.BatchID, humanize.Comma(int64(a.Runs)), humanize.Comma(int64(a.CompleteRuns)),
		humanize.FtoaWithDigits(a.CompletionRate*100, 1), humanize.RelTime(started, time.Now(), "", "after start"))
	fmt.Printf("  mean ticks %s, completed %s, failed %s, problems %s, reward %s\n",
		humanize.FtoaWithDigits(a.MeanTicks, 1), humanize.FtoaWithDigits(a.MeanCompleted, 2),
		humanize.FtoaWithDigits(a.MeanFailed, 2), humanize.FtoaWithDigits(a.MeanProblems, 2),
		humanize.FtoaWithDigits(a.MeanReward, 2))
	for _, run := range res.Runs {
		if run.RunID == "" {
			continue
		}
		status := "complete"
		switch {
		case run.Error != "":
			status = "error: " + run.Error
		case !run.Complete:
			status = "incomplete"
		}
		fmt.Printf("  run %s seed=%d ticks=%s completed=%d failed=%d pending=%d %s\n",
			run.RunID, run.Seed, humanize.Comma(int64(run.Ticks)), run.Completed, run.Failed, run.Pending, status)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func intOrDefault(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
