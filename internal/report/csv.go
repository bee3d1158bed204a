package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

var csvHeader = []string{
	"timestamp", "cycle_id", "symbol", "account", "side", "action",
	"quote_usd", "executed_qty", "avg_price",
}

// CSVRecorder appends trade legs to a per-day CSV file and can aggregate the
// day into a small JSON summary next to it. Write failures are logged and
// dropped; reporting never fails a cycle.
type CSVRecorder struct {
	dir string
	tz  *time.Location
	log *zap.Logger
	mu  sync.Mutex
}

func NewCSVRecorder(dir, timezone string, log *zap.Logger) (*CSVRecorder, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &CSVRecorder{dir: dir, tz: loc, log: log}, nil
}

func (r *CSVRecorder) todayFilename() string {
	return filepath.Join(r.dir, "trades_"+time.Now().In(r.tz).Format("2006-01-02")+".csv")
}

func (r *CSVRecorder) Record(event TradeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	filename := r.todayFilename()
	_, statErr := os.Stat(filename)
	writeHeader := os.IsNotExist(statErr)
	file, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		r.log.Warn("trade record dropped", zap.Error(err))
		return
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			r.log.Warn("trade record dropped", zap.Error(err))
			return
		}
	}
	row := []string{
		event.Timestamp.In(r.tz).Format(time.RFC3339),
		event.CycleID,
		event.Symbol,
		event.Account,
		event.Side,
		event.Action,
		strconv.FormatFloat(event.NotionalUSD, 'f', 2, 64),
		strconv.FormatFloat(event.ExecutedQty, 'f', -1, 64),
		strconv.FormatFloat(event.AvgPrice, 'f', -1, 64),
	}
	if err := w.Write(row); err != nil {
		r.log.Warn("trade record dropped", zap.Error(err))
		return
	}
	w.Flush()
	if err := w.Error(); err != nil {
		r.log.Warn("trade record dropped", zap.Error(err))
	}
}

type dailySummary struct {
	Date     string         `json:"date"`
	Trades   int            `json:"trades"`
	BySymbol map[string]int `json:"by_symbol,omitempty"`
}

// WriteDailySummary aggregates today's CSV into trades_<date>_summary.json
// and returns the summary path.
func (r *CSVRecorder) WriteDailySummary() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	filename := r.todayFilename()
	summaryPath := filename[:len(filename)-len(".csv")] + "_summary.json"

	summary := dailySummary{
		Date:     time.Now().In(r.tz).Format("2006-01-02"),
		BySymbol: map[string]int{},
	}
	file, err := os.Open(filename)
	if err == nil {
		defer file.Close()
		reader := csv.NewReader(file)
		rows, readErr := reader.ReadAll()
		if readErr == nil {
			for i, row := range rows {
				if i == 0 || len(row) < 3 {
					continue
				}
				summary.Trades++
				summary.BySymbol[row[2]]++
			}
		}
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(summaryPath, data, 0o644); err != nil {
		return "", err
	}
	return summaryPath, nil
}
