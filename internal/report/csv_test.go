package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func sampleEvent(cycleID, symbol, account, action string) TradeEvent {
	return TradeEvent{
		Timestamp:   time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC),
		CycleID:     cycleID,
		Symbol:      symbol,
		Account:     account,
		Side:        "BUY",
		Action:      action,
		NotionalUSD: 200,
		ExecutedQty: 0.003,
		AvgPrice:    60000,
	}
}

func TestCSVRecorderWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	recorder, err := NewCSVRecorder(dir, "UTC", zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recorder.Record(sampleEvent("c1", "BTCUSDT", "A", "open"))
	recorder.Record(sampleEvent("c1", "BTCUSDT", "B", "open"))

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one csv file, got %v err=%v", entries, err)
	}
	file, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if rows[0][0] != "timestamp" || rows[0][6] != "quote_usd" {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	if rows[1][1] != "c1" || rows[1][2] != "BTCUSDT" || rows[1][3] != "A" {
		t.Fatalf("unexpected row: %v", rows[1])
	}
	if rows[1][6] != "200.00" {
		t.Fatalf("expected cents-formatted notional, got %s", rows[1][6])
	}
	if rows[1][7] != "0.003" {
		t.Fatalf("expected qty 0.003, got %s", rows[1][7])
	}
}

func TestCSVRecorderRejectsBadTimezone(t *testing.T) {
	if _, err := NewCSVRecorder(t.TempDir(), "Not/AZone", zap.NewNop()); err == nil {
		t.Fatalf("expected timezone error")
	}
}

func TestWriteDailySummary(t *testing.T) {
	dir := t.TempDir()
	recorder, err := NewCSVRecorder(dir, "UTC", zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	recorder.Record(sampleEvent("c1", "BTCUSDT", "A", "open"))
	recorder.Record(sampleEvent("c1", "BTCUSDT", "B", "open"))
	recorder.Record(sampleEvent("c2", "ETHUSDT", "A", "open"))

	path, err := recorder.WriteDailySummary()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary struct {
		Date     string         `json:"date"`
		Trades   int            `json:"trades"`
		BySymbol map[string]int `json:"by_symbol"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("parse summary: %v", err)
	}
	if summary.Trades != 3 {
		t.Fatalf("expected 3 trades, got %d", summary.Trades)
	}
	if summary.BySymbol["BTCUSDT"] != 2 || summary.BySymbol["ETHUSDT"] != 1 {
		t.Fatalf("unexpected per-symbol counts: %v", summary.BySymbol)
	}
}

func TestWriteDailySummaryWithoutTrades(t *testing.T) {
	recorder, err := NewCSVRecorder(t.TempDir(), "UTC", zap.NewNop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	path, err := recorder.WriteDailySummary()
	if err != nil {
		t.Fatalf("summary must succeed on an empty day: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected summary file: %v", err)
	}
}

func TestMultiFansOut(t *testing.T) {
	var first, second []TradeEvent
	multi := Multi{
		recorderFunc(func(e TradeEvent) { first = append(first, e) }),
		recorderFunc(func(e TradeEvent) { second = append(second, e) }),
	}
	multi.Record(sampleEvent("c1", "BTCUSDT", "A", "open"))
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("expected both recorders to see the event, got %d and %d", len(first), len(second))
	}
}

type recorderFunc func(TradeEvent)

func (f recorderFunc) Record(e TradeEvent) { f(e) }
