package execution

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"algobot-go/internal/exchange"
)

func TestJSONLJournalAppendsOneLinePerFill(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fills", "fills.jsonl")
	journal, err := NewJSONLJournal(path)
	if err != nil {
		t.Fatalf("new journal: %v", err)
	}

	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	journal.Record(Fill{Pair: "BTC/USD", Side: exchange.Buy, Qty: 1.5, Price: 100, Ts: ts})
	journal.Record(Fill{Pair: "ETH/USD", Side: exchange.Sell, Qty: 2, Price: 50, Ts: ts})
	if err := journal.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open journal file: %v", err)
	}
	defer file.Close()

	var fills []Fill
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var fill Fill
		if err := json.Unmarshal(scanner.Bytes(), &fill); err != nil {
			t.Fatalf("bad journal line %q: %v", scanner.Text(), err)
		}
		fills = append(fills, fill)
	}
	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(fills))
	}
	if fills[0].Pair != "BTC/USD" || fills[1].Side != exchange.Sell {
		t.Fatalf("unexpected fills: %+v", fills)
	}
}

func TestMemoryJournalSnapshotAndReset(t *testing.T) {
	journal := NewMemoryJournal(2)
	journal.Record(Fill{Pair: "BTC/USD"})
	journal.Record(Fill{Pair: "ETH/USD"})

	fills := journal.Snapshot()
	if len(fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(fills))
	}
	fills[0].Pair = "mutated"
	if journal.Snapshot()[0].Pair != "BTC/USD" {
		t.Fatalf("snapshot should be a copy")
	}

	journal.Reset()
	if len(journal.Snapshot()) != 0 {
		t.Fatalf("expected empty journal after reset")
	}
}
