package report

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	"aster-hedge-bot/internal/state"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// JournalRecorder appends msgpack-encoded trade legs to the local state
// store. It is a write-only audit trail for operators; the bot never reads it
// back, and it carries no recovery semantics.
type JournalRecorder struct {
	store state.Store
	log   *zap.Logger
	seq   atomic.Uint64
}

func NewJournalRecorder(store state.Store, log *zap.Logger) *JournalRecorder {
	return &JournalRecorder{store: store, log: log}
}

type journalEntry struct {
	Timestamp   int64   `msgpack:"ts"`
	CycleID     string  `msgpack:"cycle"`
	Symbol      string  `msgpack:"symbol"`
	Account     string  `msgpack:"account"`
	Side        string  `msgpack:"side"`
	Action      string  `msgpack:"action"`
	NotionalUSD float64 `msgpack:"quote_usd"`
	ExecutedQty float64 `msgpack:"executed_qty"`
	AvgPrice    float64 `msgpack:"avg_price"`
}

func (j *JournalRecorder) Record(event TradeEvent) {
	entry := journalEntry{
		Timestamp:   event.Timestamp.UnixMilli(),
		CycleID:     event.CycleID,
		Symbol:      event.Symbol,
		Account:     event.Account,
		Side:        event.Side,
		Action:      event.Action,
		NotionalUSD: event.NotionalUSD,
		ExecutedQty: event.ExecutedQty,
		AvgPrice:    event.AvgPrice,
	}
	encoded, err := msgpack.Marshal(entry)
	if err != nil {
		j.log.Warn("journal entry dropped", zap.Error(err))
		return
	}
	key := fmt.Sprintf("journal:%s:%s:%s:%d",
		event.Timestamp.UTC().Format("20060102"), event.CycleID, event.Account, j.seq.Add(1))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := j.store.Set(ctx, key, base64.StdEncoding.EncodeToString(encoded)); err != nil {
		j.log.Warn("journal entry dropped", zap.Error(err))
	}
}
