package feed

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"aster-hedge-bot/internal/metrics"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// MarkPriceFeed keeps a live view of mark prices over the combined websocket
// stream. It is observational only: order sizing always goes through the REST
// price endpoint, so a stale or dead feed never affects execution.
type MarkPriceFeed struct {
	url            string
	reconnectDelay time.Duration
	log            *zap.Logger
	gauge          func(symbol string) metrics.Gauge

	mu     sync.RWMutex
	prices map[string]float64
}

// New builds a feed for the given symbols. streamURL is the exchange's
// combined-stream endpoint, e.g. wss://fstream.asterdex.com/stream.
func New(streamURL string, symbols []string, reconnectDelay time.Duration, gauge func(string) metrics.Gauge, log *zap.Logger) *MarkPriceFeed {
	streams := make([]string, 0, len(symbols))
	for _, s := range symbols {
		streams = append(streams, strings.ToLower(s)+"@markPrice")
	}
	return &MarkPriceFeed{
		url:            strings.TrimRight(streamURL, "/") + "?streams=" + strings.Join(streams, "/"),
		reconnectDelay: reconnectDelay,
		log:            log,
		gauge:          gauge,
		prices:         make(map[string]float64),
	}
}

// Run reads the stream until ctx is done, reconnecting after read failures.
func (f *MarkPriceFeed) Run(ctx context.Context) error {
	for {
		err := f.readOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.log.Warn("mark price feed disconnected", zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *MarkPriceFeed) readOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, f.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		f.handle(data)
	}
}

type markPriceMessage struct {
	Data struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
	} `json:"data"`
}

func (f *MarkPriceFeed) handle(data []byte) {
	var msg markPriceMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	if msg.Data.Symbol == "" {
		return
	}
	price, err := strconv.ParseFloat(msg.Data.Price, 64)
	if err != nil || price <= 0 {
		return
	}
	f.mu.Lock()
	f.prices[msg.Data.Symbol] = price
	f.mu.Unlock()
	if f.gauge != nil {
		f.gauge(msg.Data.Symbol).Set(price)
	}
}

// Last returns the most recent mark price seen for symbol, if any.
func (f *MarkPriceFeed) Last(symbol string) (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	price, ok := f.prices[symbol]
	return price, ok
}
