package feed

import (
	"strings"
	"sync"
	"testing"
	"time"

	"aster-hedge-bot/internal/metrics"

	"go.uber.org/zap"
)

type captureGauge struct {
	mu     sync.Mutex
	values map[string]float64
}

func (g *captureGauge) set(symbol string, v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.values[symbol] = v
}

type gaugeFunc func(float64)

func (f gaugeFunc) Set(v float64) { f(v) }

func newCaptureGauge() (*captureGauge, func(string) metrics.Gauge) {
	g := &captureGauge{values: make(map[string]float64)}
	return g, func(symbol string) metrics.Gauge {
		return gaugeFunc(func(v float64) { g.set(symbol, v) })
	}
}

func TestNewBuildsCombinedStreamURL(t *testing.T) {
	f := New("wss://fstream.asterdex.com/stream", []string{"BTCUSDT", "ETHUSDT"}, time.Second, nil, zap.NewNop())
	want := "wss://fstream.asterdex.com/stream?streams=btcusdt@markPrice/ethusdt@markPrice"
	if f.url != want {
		t.Fatalf("expected %s, got %s", want, f.url)
	}
}

func TestHandleUpdatesPricesAndGauge(t *testing.T) {
	gauge, gaugeFor := newCaptureGauge()
	f := New("wss://unused", []string{"BTCUSDT"}, time.Second, gaugeFor, zap.NewNop())

	f.handle([]byte(`{"stream":"btcusdt@markPrice","data":{"s":"BTCUSDT","p":"60123.45"}}`))

	price, ok := f.Last("BTCUSDT")
	if !ok || price != 60123.45 {
		t.Fatalf("expected 60123.45, got %v ok=%v", price, ok)
	}
	if gauge.values["BTCUSDT"] != 60123.45 {
		t.Fatalf("expected gauge update, got %v", gauge.values)
	}
}

func TestHandleIgnoresMalformedMessages(t *testing.T) {
	f := New("wss://unused", []string{"BTCUSDT"}, time.Second, nil, zap.NewNop())
	for _, msg := range []string{
		"not json",
		`{"data":{}}`,
		`{"data":{"s":"BTCUSDT","p":"not a number"}}`,
		`{"data":{"s":"BTCUSDT","p":"-1"}}`,
	} {
		f.handle([]byte(msg))
	}
	if _, ok := f.Last("BTCUSDT"); ok {
		t.Fatalf("malformed messages must not record a price")
	}
}

func TestHandleKeepsLatestPrice(t *testing.T) {
	f := New("wss://unused", []string{"BTCUSDT"}, time.Second, nil, zap.NewNop())
	f.handle([]byte(`{"data":{"s":"BTCUSDT","p":"60000"}}`))
	f.handle([]byte(`{"data":{"s":"BTCUSDT","p":"60100"}}`))
	price, ok := f.Last("BTCUSDT")
	if !ok || price != 60100 {
		t.Fatalf("expected the latest price, got %v ok=%v", price, ok)
	}
	if !strings.Contains(f.url, "btcusdt@markPrice") {
		t.Fatalf("unexpected url %s", f.url)
	}
}
