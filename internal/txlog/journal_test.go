package txlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestNilJournalDiscards(t *testing.T) {
	t.Parallel()

	j := Open("  ")
	if j != nil {
		t.Fatalf("expected nil journal for blank path")
	}
	if err := j.Record(Event{Kind: "update"}); err != nil {
		t.Fatalf("Record on nil journal: %v", err)
	}
	if err := j.Close(); err != nil {
		t.Fatalf("Close on nil journal: %v", err)
	}
}

func TestRecordAppendsLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "tx.jsonl")
	j := Open(path)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := j.Record(Event{Kind: "update", StrategyID: "12345", Status: StatusMined, Request: map[string]string{"buyBudget": "1000"}}); err != nil {
				t.Errorf("Record: %v", err)
			}
		}()
	}
	wg.Wait()
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		if ev.Time.IsZero() || ev.Request["buyBudget"] != "1000" || ev.Status != StatusMined {
			t.Fatalf("unexpected event %+v", ev)
		}
		lines++
	}
	if lines != 10 {
		t.Fatalf("lines=%d want 10", lines)
	}
}
