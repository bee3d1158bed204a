package cycle

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/exchange"
	"aster-hedge-bot/internal/metrics"
	"aster-hedge-bot/internal/report"

	"go.uber.org/zap"
)

type mockClient struct {
	mu         sync.Mutex
	openCalls  int
	closeCalls int
	openErrs   []error
	closeErrs  []error
	positions  []float64
	posIdx     int
	posKnown   bool
}

func (m *mockClient) GetPrice(context.Context, string) (float64, error) { return 60000, nil }

func (m *mockClient) PlaceMarketOrder(_ context.Context, symbol string, side exchange.Side, notionalUSD float64) (exchange.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openCalls++
	if len(m.openErrs) > 0 {
		err := m.openErrs[0]
		m.openErrs = m.openErrs[1:]
		if err != nil {
			return exchange.OrderResult{}, err
		}
	}
	return exchange.OrderResult{OrderID: "o1", Symbol: symbol, Side: side, ExecutedQty: notionalUSD / 60000, AvgPrice: 60000}, nil
}

func (m *mockClient) CloseMarket(_ context.Context, symbol string, openSide exchange.Side, qty float64) (exchange.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	if len(m.closeErrs) > 0 {
		err := m.closeErrs[0]
		m.closeErrs = m.closeErrs[1:]
		if err != nil {
			return exchange.OrderResult{}, err
		}
	}
	return exchange.OrderResult{OrderID: "c1", Symbol: symbol, Side: openSide.Opposite(), ExecutedQty: qty, AvgPrice: 60000}, nil
}

func (m *mockClient) GetPosition(_ context.Context, symbol string) (exchange.PositionSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.posKnown {
		return exchange.PositionSnapshot{}, false, nil
	}
	qty := 0.0
	if m.posIdx < len(m.positions) {
		qty = m.positions[m.posIdx]
		m.posIdx++
	}
	return exchange.PositionSnapshot{Symbol: symbol, SignedQty: qty}, true, nil
}

func (m *mockClient) SetLeverage(context.Context, string, int) error { return nil }

func (m *mockClient) SetMarginType(context.Context, string, string) error { return nil }

type captureRecorder struct {
	mu     sync.Mutex
	events []report.TradeEvent
}

func (c *captureRecorder) Record(event report.TradeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureRecorder) byAction(action string) []report.TradeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []report.TradeEvent
	for _, e := range c.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type captureAlerter struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureAlerter) Send(_ context.Context, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return nil
}

type countCounter struct {
	mu sync.Mutex
	n  int
}

func (c *countCounter) Inc() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *countCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

type testMetrics struct {
	m               *metrics.Metrics
	cyclesCompleted *countCounter
	cyclesFailed    *countCounter
	residualCloses  *countCounter
	residualStuck   *countCounter
}

func newTestMetrics() testMetrics {
	completed := &countCounter{}
	failed := &countCounter{}
	residual := &countCounter{}
	stuck := &countCounter{}
	m := metrics.NewNoop()
	m.CyclesCompleted = completed
	m.CyclesFailed = failed
	m.ResidualCloses = residual
	m.ResidualStuck = stuck
	return testMetrics{m: m, cyclesCompleted: completed, cyclesFailed: failed, residualCloses: residual, residualStuck: stuck}
}

func testTrading() config.TradingConfig {
	return config.TradingConfig{
		Symbols:        []string{"BTCUSDT"},
		MinNotionalUSD: 200,
		MaxNotionalUSD: 200,
		Leverage:       10,
		MarginType:     "CROSSED",
	}
}

func newTestRunner(a, b *mockClient, recorder report.Recorder, tm testMetrics, alerter Alerter) *Runner {
	r := New(testTrading(), exchange.Pair{A: a, B: b}, recorder, tm.m, alerter, zap.NewNop())
	r.rand = rand.New(rand.NewSource(1))
	r.sleep = func(context.Context, time.Duration) error { return nil }
	return r
}

func TestRunCycleHappyPath(t *testing.T) {
	a := &mockClient{}
	b := &mockClient{}
	recorder := &captureRecorder{}
	tm := newTestMetrics()
	runner := newTestRunner(a, b, recorder, tm, nil)

	if err := runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	opens := recorder.byAction("open")
	closes := recorder.byAction("close")
	if len(opens) != 2 || len(closes) != 2 {
		t.Fatalf("expected 2 opens and 2 closes, got %d and %d", len(opens), len(closes))
	}
	if opens[0].Side == opens[1].Side {
		t.Fatalf("accounts must take opposite sides, both got %s", opens[0].Side)
	}
	if opens[0].NotionalUSD != 200 || opens[1].NotionalUSD != 200 {
		t.Fatalf("expected matched notionals, got %v and %v", opens[0].NotionalUSD, opens[1].NotionalUSD)
	}
	if a.closeCalls != 1 || b.closeCalls != 1 {
		t.Fatalf("expected one close per account, got %d and %d", a.closeCalls, b.closeCalls)
	}
	if tm.cyclesCompleted.value() != 1 || tm.cyclesFailed.value() != 0 {
		t.Fatalf("unexpected counters: completed=%d failed=%d", tm.cyclesCompleted.value(), tm.cyclesFailed.value())
	}
}

func TestRunCycleAbortsWhenSecondOpenFails(t *testing.T) {
	a := &mockClient{}
	b := &mockClient{openErrs: []error{errors.New("rejected"), errors.New("rejected"), errors.New("rejected")}}
	recorder := &captureRecorder{}
	tm := newTestMetrics()
	alerter := &captureAlerter{}
	runner := newTestRunner(a, b, recorder, tm, alerter)

	err := runner.RunCycle(context.Background())
	if err == nil {
		t.Fatalf("expected error")
	}
	var exhausted *exchange.RetryExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected retry exhaustion, got %v", err)
	}
	if a.closeCalls != 0 || b.closeCalls != 0 {
		t.Fatalf("no close may run after an aborted open, got %d and %d", a.closeCalls, b.closeCalls)
	}
	if got := recorder.byAction("close"); len(got) != 0 {
		t.Fatalf("expected no close events, got %d", len(got))
	}
	if tm.cyclesFailed.value() != 1 {
		t.Fatalf("expected 1 failed cycle, got %d", tm.cyclesFailed.value())
	}
	if len(alerter.messages) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerter.messages))
	}
}

func TestRunCycleRetriesTransientOpenFailure(t *testing.T) {
	a := &mockClient{openErrs: []error{errors.New("transient"), errors.New("transient")}}
	b := &mockClient{}
	recorder := &captureRecorder{}
	tm := newTestMetrics()
	runner := newTestRunner(a, b, recorder, tm, nil)

	if err := runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.openCalls != 3 {
		t.Fatalf("expected 3 open attempts on A, got %d", a.openCalls)
	}
	if tm.cyclesCompleted.value() != 1 {
		t.Fatalf("expected completed cycle, got %d", tm.cyclesCompleted.value())
	}
}

func TestRunCycleUsesExchangeReportedQuantity(t *testing.T) {
	// Exchange reports a slightly different position than the local fill;
	// the close must use the exchange number.
	a := &mockClient{posKnown: true, positions: []float64{-0.004, 0, 0}}
	b := &mockClient{}
	recorder := &captureRecorder{}
	tm := newTestMetrics()
	runner := newTestRunner(a, b, recorder, tm, nil)

	if err := runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closes := recorder.byAction("close")
	if len(closes) != 2 {
		t.Fatalf("expected 2 closes, got %d", len(closes))
	}
	var aClose report.TradeEvent
	for _, e := range closes {
		if e.Account == "A" {
			aClose = e
		}
	}
	if aClose.ExecutedQty != 0.004 {
		t.Fatalf("expected exchange-reported 0.004, got %v", aClose.ExecutedQty)
	}
}

func TestRunCycleResidualGetsOneCorrectiveClose(t *testing.T) {
	// Position sequence on A: before close 0.003, after close 0.001 residual,
	// after the corrective close flat.
	a := &mockClient{posKnown: true, positions: []float64{0.003, 0.001, 0}}
	b := &mockClient{}
	recorder := &captureRecorder{}
	tm := newTestMetrics()
	runner := newTestRunner(a, b, recorder, tm, nil)

	if err := runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.closeCalls != 2 {
		t.Fatalf("expected close plus one corrective close, got %d", a.closeCalls)
	}
	if tm.residualCloses.value() != 1 {
		t.Fatalf("expected 1 residual close, got %d", tm.residualCloses.value())
	}
	if tm.residualStuck.value() != 0 {
		t.Fatalf("expected no stuck residual, got %d", tm.residualStuck.value())
	}
}

func TestRunCycleStuckResidualAlertsWithoutLooping(t *testing.T) {
	a := &mockClient{posKnown: true, positions: []float64{0.003, 0.001, 0.001}}
	b := &mockClient{}
	recorder := &captureRecorder{}
	tm := newTestMetrics()
	alerter := &captureAlerter{}
	runner := newTestRunner(a, b, recorder, tm, alerter)

	if err := runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.closeCalls != 2 {
		t.Fatalf("corrective close must fire exactly once, got %d", a.closeCalls)
	}
	if tm.residualStuck.value() != 1 {
		t.Fatalf("expected stuck residual recorded, got %d", tm.residualStuck.value())
	}
	if len(alerter.messages) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerter.messages))
	}
}

func TestRunCycleSkipsCloseWhenFlat(t *testing.T) {
	// Exchange reports flat before the close; no close order may be sent.
	a := &mockClient{posKnown: true, positions: []float64{0}}
	b := &mockClient{}
	recorder := &captureRecorder{}
	tm := newTestMetrics()
	runner := newTestRunner(a, b, recorder, tm, nil)

	if err := runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.closeCalls != 0 {
		t.Fatalf("expected no close order for a flat position, got %d", a.closeCalls)
	}
	closes := recorder.byAction("close")
	if len(closes) != 2 {
		t.Fatalf("close events must still be recorded, got %d", len(closes))
	}
}

func TestRunCycleStubEndToEnd(t *testing.T) {
	recorder := &captureRecorder{}
	tm := newTestMetrics()
	pair := exchange.Pair{
		A: exchange.NewStubClient("a", 0, 1),
		B: exchange.NewStubClient("b", 0, 2),
	}
	runner := New(testTrading(), pair, recorder, tm.m, nil, zap.NewNop())
	runner.rand = rand.New(rand.NewSource(7))
	runner.sleep = func(context.Context, time.Duration) error { return nil }

	if err := runner.RunCycle(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	opens := recorder.byAction("open")
	if len(opens) != 2 {
		t.Fatalf("expected 2 opens, got %d", len(opens))
	}
	want := 200.0 / 60000.0
	for _, e := range opens {
		if diff := e.ExecutedQty - want; diff > 1e-12 || diff < -1e-12 {
			t.Fatalf("expected qty %v, got %v", want, e.ExecutedQty)
		}
	}
	if tm.cyclesCompleted.value() != 1 {
		t.Fatalf("expected completed cycle, got %d", tm.cyclesCompleted.value())
	}
}

func TestRunCycleCanceledContextStopsSleep(t *testing.T) {
	a := &mockClient{}
	b := &mockClient{}
	tm := newTestMetrics()
	runner := New(testTrading(), exchange.Pair{A: a, B: b}, &captureRecorder{}, tm.m, nil, zap.NewNop())
	runner.rand = rand.New(rand.NewSource(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := runner.RunCycle(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
