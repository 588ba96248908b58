package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"pmsim/internal/config"
	"pmsim/internal/domain"
	sqlitestore "pmsim/internal/store/sqlite"
)

func main() {
	dbFlag := flag.String("db", "~/.pmsim/pmsim.db", "sqlite database written by pmsim")
	batchFlag := flag.String("batch", "", "batch id to show (default: most recent)")
	interval := flag.Duration("interval", 2*time.Second, "refresh interval")
	flag.Parse()

	dbPath, err := config.ExpandHome(*dbFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "resolve db path: %v\n", err)
		os.Exit(1)
	}
	if _, err := os.Stat(dbPath); err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = store.Close()
	}()

	app := tview.NewApplication()
	runsTable := tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false)
	runsTable.SetTitle("Runs (Enter inspect, F5 refresh, F10 quit)").SetBorder(true)

	summaryView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	summaryView.SetTitle("Run").SetBorder(true)

	coordinatorView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	coordinatorView.SetTitle("Coordinator").SetBorder(true)

	workersView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	workersView.SetTitle("Workers").SetBorder(true)

	batchInput := tview.NewInputField().
		SetLabel("Batch: ").
		SetText(*batchFlag)
	batchInput.SetBorder(true).SetTitle("Enter = switch batch, empty = latest")

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText(fmt.Sprintf("Reading %s | shortcuts: F10 quit, F5 refresh, Ctrl+B focus batch, Ctrl+R focus runs", dbPath))

	right := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(summaryView, 9, 0, false).
		AddItem(coordinatorView, 0, 3, false).
		AddItem(workersView, 0, 2, false)

	mainLayout := tview.NewFlex().
		AddItem(runsTable, 0, 1, false).
		AddItem(right, 0, 2, false)

	root := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(mainLayout, 0, 12, false).
		AddItem(batchInput, 3, 0, false).
		AddItem(statusView, 3, 0, false)

	var (
		batchID       atomic.Value
		selectedRunID atomic.Value
		lastRuns      atomic.Value
		detailsVer    uint64
	)
	batchID.Store(strings.TrimSpace(*batchFlag))
	selectedRunID.Store("")
	lastRuns.Store([]domain.RunSummary(nil))

	setStatusAsync := func(msg string) {
		app.QueueUpdateDraw(func() {
			statusView.SetText(msg)
		})
	}

	refreshRuns := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		batch := batchID.Load().(string)
		if batch == "" {
			batches, err := store.ListBatches(ctx)
			if err == nil && len(batches) > 0 {
				batch = batches[0]
			}
		}
		runs, err := store.ListRuns(ctx, batch)
		if err != nil {
			app.QueueUpdateDraw(func() {
				runsTable.Clear()
				runsTable.SetCell(0, 0, tview.NewTableCell(fmt.Sprintf("load error: %v", err)).SetTextColor(tview.Styles.ContrastSecondaryTextColor))
			})
			return
		}
		lastRuns.Store(runs)
		selected := selectedRunID.Load().(string)
		app.QueueUpdateDraw(func() {
			runsTable.SetTitle(fmt.Sprintf("Runs of %s (Enter inspect, F5 refresh, F10 quit)", shortID(batch)))
			renderRunsTable(runsTable, runs, selected)
		})
	}

	refreshDetailsAsync := func(runID string) {
		if strings.TrimSpace(runID) == "" {
			return
		}
		version := atomic.AddUint64(&detailsVer, 1)
		go func(selected string, v uint64) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			run, runErr := store.GetRun(ctx, selected)
			coord, coordErr := store.CoordinatorTicks(ctx, selected)
			workers, workersErr := store.WorkerTicks(ctx, selected)

			if atomic.LoadUint64(&detailsVer) != v {
				return
			}
			app.QueueUpdateDraw(func() {
				if selected != selectedRunID.Load().(string) {
					return
				}
				if runErr != nil {
					summaryView.SetText(fmt.Sprintf("error: %v", runErr))
				} else {
					summaryView.SetText(renderSummary(run, time.Now()))
				}
				if coordErr != nil {
					coordinatorView.SetText(fmt.Sprintf("error: %v", coordErr))
				} else {
					coordinatorView.SetText(renderCoordinator(coord, 200))
				}
				if workersErr != nil {
					workersView.SetText(fmt.Sprintf("error: %v", workersErr))
				} else {
					workersView.SetText(renderWorkers(workers))
				}
			})
		}(runID, version)
	}

	batchInput.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		batchID.Store(strings.TrimSpace(batchInput.GetText()))
		selectedRunID.Store("")
		app.SetFocus(runsTable)
		go func() {
			refreshRuns()
			setStatusAsync("Batch switched")
		}()
	})

	runsTable.SetSelectedFunc(func(row, _ int) {
		runs := lastRuns.Load().([]domain.RunSummary)
		if row <= 0 || row > len(runs) {
			return
		}
		selectedRunID.Store(runs[row-1].RunID)
		refreshDetailsAsync(runs[row-1].RunID)
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if app.GetFocus() == batchInput {
			if event.Key() == tcell.KeyEscape || event.Key() == tcell.KeyTAB {
				app.SetFocus(runsTable)
				return nil
			}
			return event
		}
		switch event.Key() {
		case tcell.KeyF10:
			app.Stop()
			return nil
		case tcell.KeyF5:
			go func() {
				refreshRuns()
				refreshDetailsAsync(selectedRunID.Load().(string))
				setStatusAsync("Manual refresh complete")
			}()
			return nil
		case tcell.KeyCtrlB:
			app.SetFocus(batchInput)
			return nil
		case tcell.KeyCtrlR, tcell.KeyEscape:
			app.SetFocus(runsTable)
			return nil
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()

		refreshRuns()
		for {
			if selectedRunID.Load().(string) == "" {
				if runs := lastRuns.Load().([]domain.RunSummary); len(runs) > 0 {
					selectedRunID.Store(runs[0].RunID)
				}
			}
			refreshDetailsAsync(selectedRunID.Load().(string))
			<-ticker.C
			refreshRuns()
		}
	}()

	if err := app.SetRoot(root, true).EnableMouse(true).SetFocus(runsTable).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "monitor failed: %v\n", err)
		os.Exit(1)
	}
}

func renderRunsTable(table *tview.Table, runs []domain.RunSummary, selectedRunID string) {
	table.Clear()
	headers := []string{"RUN", "SEED", "TICKS", "DONE", "FAILED", "STATUS"}
	for i, h := range headers {
		table.SetCell(0, i, tview.NewTableCell(h).SetSelectable(false).SetAttributes(tcell.AttrBold))
	}
	for i, r := range runs {
		row := i + 1
		table.SetCell(row, 0, tview.NewTableCell(shortID(r.RunID)))
		table.SetCell(row, 1, tview.NewTableCell(fmt.Sprintf("%d", r.Seed)))
		table.SetCell(row, 2, tview.NewTableCell(humanize.Comma(int64(r.Ticks))))
		table.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("%d", r.Completed)))
		table.SetCell(row, 4, tview.NewTableCell(fmt.Sprintf("%d", r.Failed)))
		table.SetCell(row, 5, tview.NewTableCell(runStatus(r)).SetTextColor(statusColor(r)))
		if r.RunID == selectedRunID {
			table.Select(row, 0)
		}
	}
}

func runStatus(r domain.RunSummary) string {
	switch {
	case r.Error != "":
		return "error"
	case r.Complete:
		return "complete"
	default:
		return "incomplete"
	}
}

func statusColor(r domain.RunSummary) tcell.Color {
	switch {
	case r.Error != "":
		return tcell.ColorRed
	case r.Complete:
		return tcell.ColorGreen
	default:
		return tcell.ColorYellow
	}
}

func renderSummary(r domain.RunSummary, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[::b]%s[::-] batch=%s seed=%d %s\n", r.RunID, shortID(r.BatchID), r.Seed, runStatus(r))
	fmt.Fprintf(&b, "ticks=%s sim_time=%s finished %s\n",
		humanize.Comma(int64(r.Ticks)), humanize.Ftoa(r.Time), humanize.RelTime(r.FinishedAt, now, "ago", "from now"))
	fmt.Fprintf(&b, "completed=%d failed=%d pending=%d\n", r.Completed, r.Failed, r.Pending)
	fmt.Fprintf(&b, "reward=%s problems=%d escalations=%d\n", humanize.FtoaWithDigits(r.ProjectReward, 2), r.ProblemsCount, r.EscalateCount)
	ids := make([]string, 0, len(r.Resources))
	for id := range r.Resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id+"="+humanize.FtoaWithDigits(r.Resources[id], 2))
	}
	fmt.Fprintf(&b, "resources: %s\n", strings.Join(parts, " "))
	if r.Error != "" {
		fmt.Fprintf(&b, "[red]%s[-]\n", trimLine(r.Error, 120))
	}
	return b.String()
}

// renderCoordinator lists the newest limit ticks, newest first.
func renderCoordinator(items []domain.CoordinatorRecord, limit int) string {
	if len(items) == 0 {
		return "(no ticks)"
	}
	var b strings.Builder
	b.WriteString("[::b]time      assign ask reasgn coop motiv prio        take_chance  probs esc  p_coop done fail[::-]\n")
	for i := len(items) - 1; i >= 0 && len(items)-i <= limit; i-- {
		c := items[i]
		prio := c.Priority
		if prio == "" {
			prio = "-"
		}
		chance := c.TakeChance
		if chance == "" {
			chance = "-"
		}
		fmt.Fprintf(&b, "%-9s %6d %3d %6d %4d %5d %-11s %-12s %5d %4d %6.2f %4d %4d\n",
			humanize.Ftoa(c.Time), c.Assignments, c.AskReports, c.Reassign, c.Cooperations, c.Motivate,
			trimLine(prio, 11), trimLine(chance, 12), c.ProblemsCount, c.EscalateCount, c.CooperationProb, c.Completed, c.Failed)
	}
	return b.String()
}

type workerTally struct {
	id        string
	state     int
	ticks     int
	work      int
	getTask   int
	report    int
	cooperate int
	escalate  int
	problem   int
	rest      int
}

// renderWorkers folds the per-tick records into one line per worker.
func renderWorkers(items []domain.WorkerRecord) string {
	if len(items) == 0 {
		return "(no ticks)"
	}
	byID := map[string]*workerTally{}
	var order []string
	for _, w := range items {
		t, ok := byID[w.WorkerID]
		if !ok {
			t = &workerTally{id: w.WorkerID}
			byID[w.WorkerID] = t
			order = append(order, w.WorkerID)
		}
		t.state = w.NewState
		t.ticks++
		t.work += b2i(w.Work)
		t.getTask += b2i(w.GetTask)
		t.report += b2i(w.Report)
		t.cooperate += b2i(w.Cooperate)
		t.escalate += b2i(w.Escalate)
		t.problem += b2i(w.ReportProblem)
		t.rest += b2i(w.Rest)
	}
	sort.Strings(order)

	var b strings.Builder
	b.WriteString("[::b]worker state  ticks  work  get  report  coop  esc  problem  rest[::-]\n")
	for _, id := range order {
		t := byID[id]
		state := "idle"
		if domain.WorkerState(t.state) == domain.WorkerBusy {
			state = "busy"
		}
		fmt.Fprintf(&b, "%-6s %-5s %6d %5d %4d %7d %5d %4d %8d %5d\n",
			trimLine(t.id, 6), state, t.ticks, t.work, t.getTask, t.report, t.cooperate, t.escalate, t.problem, t.rest)
	}
	return b.String()
}

func b2i(v bool) int {
	if v {
		return 1
	}
	return 0
}

func trimLine(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}

func shortID(v string) string {
	if len(v) <= 8 {
		return v
	}
	return v[:8]
}
