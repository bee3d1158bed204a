package report

import "time"

// TradeEvent is one immutable leg record: open or close, one account, one
// cycle. Events are only ever appended; nothing rewrites a recorded leg.
type TradeEvent struct {
	Timestamp   time.Time
	CycleID     string
	Symbol      string
	Account     string
	Side        string
	Action      string
	NotionalUSD float64
	ExecutedQty float64
	AvgPrice    float64
}

// Recorder receives leg events fire-and-forget. Implementations must never
// block the cycle or surface failures into it.
type Recorder interface {
	Record(event TradeEvent)
}

// Multi fans one event out to several recorders.
type Multi []Recorder

func (m Multi) Record(event TradeEvent) {
	for _, r := range m {
		if r != nil {
			r.Record(event)
		}
	}
}
