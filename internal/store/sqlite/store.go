package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"pmsim/internal/domain"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL,
	seed INTEGER NOT NULL,
	ticks INTEGER NOT NULL DEFAULT 0,
	sim_time REAL NOT NULL DEFAULT 0,
	complete INTEGER NOT NULL DEFAULT 0,
	completed INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	pending INTEGER NOT NULL DEFAULT 0,
	project_reward REAL NOT NULL DEFAULT 0,
	problems_count INTEGER NOT NULL DEFAULT 0,
	escalate_count INTEGER NOT NULL DEFAULT 0,
	resources TEXT NOT NULL DEFAULT '{}',
	error TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	finished_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_batch ON runs(batch_id, started_at);

CREATE TABLE IF NOT EXISTS coordinator_ticks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	time REAL NOT NULL,
	assignments INTEGER NOT NULL,
	ask_reports INTEGER NOT NULL,
	reassign INTEGER NOT NULL,
	work_on TEXT NOT NULL,
	cooperations INTEGER NOT NULL,
	motivate INTEGER NOT NULL,
	priority TEXT NOT NULL,
	optimize INTEGER NOT NULL,
	take_chance TEXT NOT NULL,
	problems_count INTEGER NOT NULL,
	escalate_count INTEGER NOT NULL,
	cooperation_prob REAL NOT NULL,
	trust TEXT NOT NULL,
	completed INTEGER NOT NULL,
	failed INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_coordinator_ticks_run ON coordinator_ticks(run_id, time);

CREATE TABLE IF NOT EXISTS worker_ticks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	time REAL NOT NULL,
	worker_id TEXT NOT NULL,
	new_state INTEGER NOT NULL,
	work INTEGER NOT NULL,
	get_task INTEGER NOT NULL,
	report_progress INTEGER NOT NULL,
	cooperate INTEGER NOT NULL,
	escalate_problem INTEGER NOT NULL,
	report_problem INTEGER NOT NULL,
	rest INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_worker_ticks_run ON worker_ticks(run_id, time, worker_id);
`

// Store keeps run summaries and per-tick agent records.
type Store struct {
	db *sqlx.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

type runRow struct {
	RunID         string  `db:"run_id"`
	BatchID       string  `db:"batch_id"`
	Seed          int64   `db:"seed"`
	Ticks         int     `db:"ticks"`
	SimTime       float64 `db:"sim_time"`
	Complete      bool    `db:"complete"`
	Completed     int     `db:"completed"`
	Failed        int     `db:"failed"`
	Pending       int     `db:"pending"`
	ProjectReward float64 `db:"project_reward"`
	ProblemsCount int     `db:"problems_count"`
	EscalateCount int     `db:"escalate_count"`
	Resources     string  `db:"resources"`
	Error         string  `db:"error"`
	StartedAt     int64   `db:"started_at"`
	FinishedAt    int64   `db:"finished_at"`
}

func (r runRow) summary() (domain.RunSummary, error) {
	out := domain.RunSummary{
		RunID:         r.RunID,
		BatchID:       r.BatchID,
		Seed:          r.Seed,
		Ticks:         r.Ticks,
		Time:          r.SimTime,
		Complete:      r.Complete,
		Completed:     r.Completed,
		Failed:        r.Failed,
		Pending:       r.Pending,
		ProjectReward: r.ProjectReward,
		ProblemsCount: r.ProblemsCount,
		EscalateCount: r.EscalateCount,
		Error:         r.Error,
		StartedAt:     unixToTime(r.StartedAt),
		FinishedAt:    unixToTime(r.FinishedAt),
	}
	if err := json.Unmarshal([]byte(r.Resources), &out.Resources); err != nil {
		return domain.RunSummary{}, fmt.Errorf("decode resources of run %s: %w", r.RunID, err)
	}
	return out, nil
}

// SaveRun inserts or replaces a run summary.
func (s *Store) SaveRun(ctx context.Context, run domain.RunSummary) error {
	resources, err := json.Marshal(run.Resources)
	if err != nil {
		return fmt.Errorf("encode run resources: %w", err)
	}
	if run.Resources == nil {
		resources = []byte("{}")
	}
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = now
	}
	row := runRow{
		RunID:         run.RunID,
		BatchID:       run.BatchID,
		Seed:          run.Seed,
		Ticks:         run.Ticks,
		SimTime:       run.Time,
		Complete:      run.Complete,
		Completed:     run.Completed,
		Failed:        run.Failed,
		Pending:       run.Pending,
		ProjectReward: run.ProjectReward,
		ProblemsCount: run.ProblemsCount,
		EscalateCount: run.EscalateCount,
		Resources:     string(resources),
		Error:         run.Error,
		StartedAt:     run.StartedAt.UTC().Unix(),
		FinishedAt:    run.FinishedAt.UTC().Unix(),
	}
	_, err = s.db.NamedExecContext(ctx,
		`INSERT OR REPLACE INTO runs(
			run_id, batch_id, seed, ticks, sim_time, complete, completed, failed, pending,
			project_reward, problems_count, escalate_count, resources, error, started_at, finished_at
		) VALUES(
			:run_id, :batch_id, :seed, :ticks, :sim_time, :complete, :completed, :failed, :pending,
			:project_reward, :problems_count, :escalate_count, :resources, :error, :started_at, :finished_at
		)`, row)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID string) (domain.RunSummary, error) {
	var row runRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE run_id = ?`, runID); err != nil {
		return domain.RunSummary{}, fmt.Errorf("get run: %w", err)
	}
	return row.summary()
}

// ListRuns returns the runs of one batch, or of every batch when batchID is
// empty, oldest first.
func (s *Store) ListRuns(ctx context.Context, batchID string) ([]domain.RunSummary, error) {
	var rows []runRow
	var err error
	if batchID == "" {
		err = s.db.SelectContext(ctx, &rows, `SELECT * FROM runs ORDER BY started_at ASC, run_id ASC`)
	} else {
		err = s.db.SelectContext(ctx, &rows, `SELECT * FROM runs WHERE batch_id = ? ORDER BY started_at ASC, run_id ASC`, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]domain.RunSummary, 0, len(rows))
	for _, r := range rows {
		run, err := r.summary()
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// ListBatches returns batch ids, most recent first.
func (s *Store) ListBatches(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		`SELECT batch_id FROM runs GROUP BY batch_id ORDER BY MAX(started_at) DESC, batch_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return ids, nil
}

type coordinatorRow struct {
	domain.CoordinatorRecord
	TrustJSON string `db:"trust"`
}

// SaveTick writes one tick's coordinator and worker records atomically.
func (s *Store) SaveTick(ctx context.Context, tick domain.TickLog) error {
	trust, err := json.Marshal(tick.Coordinator.Trust)
	if err != nil {
		return fmt.Errorf("encode trust: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx save tick: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.NamedExecContext(ctx,
		`INSERT INTO coordinator_ticks(
			run_id, time, assignments, ask_reports, reassign, work_on, cooperations, motivate,
			priority, optimize, take_chance, problems_count, escalate_count, cooperation_prob,
			trust, completed, failed
		) VALUES(
			:run_id, :time, :assignments, :ask_reports, :reassign, :work_on, :cooperations, :motivate,
			:priority, :optimize, :take_chance, :problems_count, :escalate_count, :cooperation_prob,
			:trust, :completed, :failed
		)`, coordinatorRow{CoordinatorRecord: tick.Coordinator, TrustJSON: string(trust)})
	if err != nil {
		return fmt.Errorf("insert coordinator tick: %w", err)
	}
	for _, w := range tick.Workers {
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO worker_ticks(
				run_id, time, worker_id, new_state, work, get_task, report_progress,
				cooperate, escalate_problem, report_problem, rest
			) VALUES(
				:run_id, :time, :worker_id, :new_state, :work, :get_task, :report_progress,
				:cooperate, :escalate_problem, :report_problem, :rest
			)`, w)
		if err != nil {
			return fmt.Errorf("insert worker tick: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save tick: %w", err)
	}
	return nil
}

func (s *Store) CoordinatorTicks(ctx context.Context, runID string) ([]domain.CoordinatorRecord, error) {
	var rows []coordinatorRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT run_id, time, assignments, ask_reports, reassign, work_on, cooperations, motivate,
			priority, optimize, take_chance, problems_count, escalate_count, cooperation_prob,
			trust, completed, failed
		FROM coordinator_ticks WHERE run_id = ? ORDER BY time ASC, id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list coordinator ticks: %w", err)
	}
	out := make([]domain.CoordinatorRecord, 0, len(rows))
	for _, r := range rows {
		rec := r.CoordinatorRecord
		if err := json.Unmarshal([]byte(r.TrustJSON), &rec.Trust); err != nil {
			return nil, fmt.Errorf("decode trust: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) WorkerTicks(ctx context.Context, runID string) ([]domain.WorkerRecord, error) {
	out := make([]domain.WorkerRecord, 0)
	err := s.db.SelectContext(ctx, &out,
		`SELECT run_id, time, worker_id, new_state, work, get_task, report_progress,
			cooperate, escalate_problem, report_problem, rest
		FROM worker_ticks WHERE run_id = ? ORDER BY time ASC, worker_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list worker ticks: %w", err)
	}
	return out, nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}
