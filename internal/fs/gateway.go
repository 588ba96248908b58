package fs

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"pmsim/internal/domain"
)

// Gateway writes run reports. Every path is relative to root and may not
// escape it.
type Gateway struct {
	root   string
	logger *log.Logger
}

func NewGateway(root string, logger *log.Logger) (*Gateway, error) {
	if logger == nil {
		logger = log.Default()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create root path: %w", err)
	}
	return &Gateway{root: absRoot, logger: logger}, nil
}

func (g *Gateway) Root() string { return g.root }

func (g *Gateway) WriteFile(relPath string, content []byte) (string, error) {
	absPath, normalized, err := g.resolve(relPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(absPath, content, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	g.logger.Printf("report written path=%s bytes=%d", normalized, len(content))
	return absPath, nil
}

func (g *Gateway) WriteJSON(relPath string, v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", relPath, err)
	}
	return g.WriteFile(relPath, append(data, '\n'))
}

// WriteRunReport stores summary.json, coordinator.csv and workers.csv under
// <batch>/<run>/ and returns the run directory.
func (g *Gateway) WriteRunReport(run domain.RunSummary, coord []domain.CoordinatorRecord, workers []domain.WorkerRecord) (string, error) {
	dir := sanitize(run.BatchID) + "/" + sanitize(run.RunID)
	if _, err := g.WriteJSON(dir+"/summary.json", run); err != nil {
		return "", err
	}

	rows := [][]string{{
		"time", "assignments", "ask_reports", "reassign", "work_on", "cooperations", "motivate",
		"priority", "optimize", "take_chance", "problems_count", "escalate_count",
		"cooperation_prob", "completed", "failed",
	}}
	for _, c := range coord {
		rows = append(rows, []string{
			ftoa(c.Time), strconv.Itoa(c.Assignments), strconv.Itoa(c.AskReports), strconv.Itoa(c.Reassign),
			c.WorkOn, strconv.Itoa(c.Cooperations), strconv.Itoa(c.Motivate), c.Priority,
			strconv.Itoa(c.Optimize), c.TakeChance, strconv.Itoa(c.ProblemsCount), strconv.Itoa(c.EscalateCount),
			ftoa(c.CooperationProb), strconv.Itoa(c.Completed), strconv.Itoa(c.Failed),
		})
	}
	if err := g.writeCSV(dir+"/coordinator.csv", rows); err != nil {
		return "", err
	}

	rows = [][]string{{
		"time", "worker_id", "new_state", "work", "get_task", "report_progress",
		"cooperate", "escalate_problem", "report_problem", "rest",
	}}
	for _, w := range workers {
		rows = append(rows, []string{
			ftoa(w.Time), w.WorkerID, strconv.Itoa(w.NewState), btoa(w.Work), btoa(w.GetTask), btoa(w.Report),
			btoa(w.Cooperate), btoa(w.Escalate), btoa(w.ReportProblem), btoa(w.Rest),
		})
	}
	if err := g.writeCSV(dir+"/workers.csv", rows); err != nil {
		return "", err
	}
	return filepath.Join(g.root, filepath.FromSlash(dir)), nil
}

func (g *Gateway) writeCSV(relPath string, rows [][]string) error {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("encode %s: %w", relPath, err)
	}
	_, err := g.WriteFile(relPath, []byte(b.String()))
	return err
}

func (g *Gateway) resolve(relPath string) (absolute string, normalized string, err error) {
	normalized = strings.ReplaceAll(strings.TrimSpace(relPath), "\\", "/")
	normalized = strings.TrimPrefix(normalized, "./")
	normalized = strings.TrimPrefix(normalized, "/")
	if normalized == "" || normalized == "." {
		return "", "", fmt.Errorf("invalid relative path %q", relPath)
	}

	abs := filepath.Join(g.root, filepath.FromSlash(normalized))
	absClean := filepath.Clean(abs)
	absRoot := filepath.Clean(g.root)

	rel, err := filepath.Rel(absRoot, absClean)
	if err != nil {
		return "", "", fmt.Errorf("resolve relative path: %w", err)
	}
	if strings.HasPrefix(rel, "..") || rel == "." {
		return "", "", fmt.Errorf("path escapes report root: %q", relPath)
	}
	return absClean, strings.ReplaceAll(rel, "\\", "/"), nil
}

// sanitize keeps ids usable as a single path element.
func sanitize(id string) string {
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, strings.TrimSpace(id))
	if id == "" || strings.Trim(id, "_") == "" {
		return "unnamed"
	}
	return id
}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func btoa(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
