package fs

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pmsim/internal/domain"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	gw, err := NewGateway(t.TempDir(), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func TestWriteFileRejectsEscapes(t *testing.T) {
	gw := newTestGateway(t)
	for _, p := range []string{"", ".", "../x.txt", "a/../../x.txt"} {
		if _, err := gw.WriteFile(p, []byte("x")); err == nil {
			t.Fatalf("expected %q to be rejected", p)
		}
	}
	abs, err := gw.WriteFile("/nested/./ok.txt", []byte("ok"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if abs != filepath.Join(gw.Root(), "nested", "ok.txt") {
		t.Fatalf("abs=%s", abs)
	}
}

func TestWriteRunReport(t *testing.T) {
	gw := newTestGateway(t)
	run := domain.RunSummary{RunID: "run-1", BatchID: "../batch", Ticks: 2, Completed: 1}
	coord := []domain.CoordinatorRecord{
		{Time: 0, Assignments: 3, Priority: domain.PriorityTime},
		{Time: 10, Reassign: 1, TakeChance: "Innovation", CooperationProb: 0.55},
	}
	workers := []domain.WorkerRecord{
		{Time: 0, WorkerID: "w01", NewState: 1, GetTask: true},
		{Time: 10, WorkerID: "w01", Rest: true},
	}
	dir, err := gw.WriteRunReport(run, coord, workers)
	if err != nil {
		t.Fatalf("write report: %v", err)
	}
	if !strings.HasPrefix(dir, gw.Root()) || filepath.Base(filepath.Dir(dir)) != "___batch" {
		t.Fatalf("dir=%s", dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var got domain.RunSummary
	if err := json.Unmarshal(data, &got); err != nil || got.RunID != "run-1" || got.Ticks != 2 {
		t.Fatalf("summary=%+v err=%v", got, err)
	}

	rows := readCSV(t, filepath.Join(dir, "coordinator.csv"))
	if len(rows) != 3 || rows[1][7] != "time" || rows[2][9] != "Innovation" || rows[2][12] != "0.55" {
		t.Fatalf("coordinator rows=%v", rows)
	}
	rows = readCSV(t, filepath.Join(dir, "workers.csv"))
	if len(rows) != 3 || rows[1][2] != "1" || rows[1][4] != "1" || rows[2][9] != "1" {
		t.Fatalf("worker rows=%v", rows)
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return rows
}

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"abc-123_x": "abc-123_x",
		"a/b":       "a_b",
		"":          "unnamed",
		"..":        "unnamed",
	}
	for in, want := range cases {
		if got := sanitize(in); got != want {
			t.Fatalf("sanitize(%q)=%q want %q", in, got, want)
		}
	}
}
