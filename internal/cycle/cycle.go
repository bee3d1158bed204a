package cycle

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/exchange"
	"aster-hedge-bot/internal/metrics"
	"aster-hedge-bot/internal/report"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	maxAttempts   = 3
	retryBackoff  = 500 * time.Millisecond
	preCloseDelay = 200 * time.Millisecond
	settleDelay   = 300 * time.Millisecond
)

// Alerter pushes operator-facing notifications. Failures are logged and
// swallowed; alerting never blocks a cycle.
type Alerter interface {
	Send(ctx context.Context, message string) error
}

// Runner drives one open/hold/close hedge cycle across the two account
// clients. All legs run strictly sequentially: B's open starts only after A's
// open landed, so a failed open never leaves an untracked opposite leg.
type Runner struct {
	trading  config.TradingConfig
	pair     exchange.Pair
	recorder report.Recorder
	metrics  *metrics.Metrics
	alerter  Alerter
	log      *zap.Logger
	rand     *rand.Rand

	// sleep is a test seam; every suspension point goes through it.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func New(trading config.TradingConfig, pair exchange.Pair, recorder report.Recorder, m *metrics.Metrics, alerter Alerter, log *zap.Logger) *Runner {
	return &Runner{
		trading:  trading,
		pair:     pair,
		recorder: recorder,
		metrics:  m,
		alerter:  alerter,
		log:      log,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:    sleepCtx,
		now:      time.Now,
	}
}

// RunCycle executes exactly one cycle. A failed open aborts before the hold;
// a failed close propagates after both accounts had their shot. The caller
// decides whether to schedule another cycle.
func (r *Runner) RunCycle(ctx context.Context) error {
	cycleID := uuid.NewString()[:8]
	symbol := r.trading.Symbols[r.rand.Intn(len(r.trading.Symbols))]
	notional := math.Round((r.trading.MinNotionalUSD+r.rand.Float64()*(r.trading.MaxNotionalUSD-r.trading.MinNotionalUSD))*100) / 100
	aSide := exchange.SideBuy
	if r.rand.Intn(2) == 0 {
		aSide = exchange.SideSell
	}
	bSide := aSide.Opposite()

	r.metrics.CyclesStarted.Inc()
	r.log.Info("cycle starting",
		zap.String("cycle_id", cycleID),
		zap.String("symbol", symbol),
		zap.Float64("notional_usd", notional),
		zap.String("side_a", string(aSide)),
	)

	aOpen, err := r.openLeg(ctx, "A", r.pair.A, cycleID, symbol, aSide, notional)
	if err != nil {
		return r.fail(ctx, cycleID, fmt.Errorf("open A: %w", err))
	}
	bOpen, err := r.openLeg(ctx, "B", r.pair.B, cycleID, symbol, bSide, notional)
	if err != nil {
		return r.fail(ctx, cycleID, fmt.Errorf("open B: %w", err))
	}

	hold := r.holdDuration()
	r.log.Info("holding", zap.String("cycle_id", cycleID), zap.Duration("hold", hold))
	if err := r.sleep(ctx, hold); err != nil {
		return err
	}

	if err := r.closeLeg(ctx, "A", r.pair.A, cycleID, symbol, aSide, aOpen.ExecutedQty); err != nil {
		return r.fail(ctx, cycleID, fmt.Errorf("close A: %w", err))
	}
	if err := r.closeLeg(ctx, "B", r.pair.B, cycleID, symbol, bSide, bOpen.ExecutedQty); err != nil {
		return r.fail(ctx, cycleID, fmt.Errorf("close B: %w", err))
	}

	r.metrics.CyclesCompleted.Inc()
	r.log.Info("cycle complete", zap.String("cycle_id", cycleID))
	return nil
}

func (r *Runner) holdDuration() time.Duration {
	span := r.trading.HoldMaxMinutes - r.trading.HoldMinMinutes
	minutes := r.trading.HoldMinMinutes
	if span > 0 {
		minutes += r.rand.Intn(span + 1)
	}
	return time.Duration(minutes) * time.Minute
}

func (r *Runner) fail(ctx context.Context, cycleID string, err error) error {
	r.metrics.CyclesFailed.Inc()
	r.notify(ctx, fmt.Sprintf("cycle %s aborted: %v", cycleID, err))
	return err
}

func (r *Runner) openLeg(ctx context.Context, account string, client exchange.Client, cycleID, symbol string, side exchange.Side, notional float64) (exchange.OrderResult, error) {
	r.configure(ctx, account, client, symbol)
	var result exchange.OrderResult
	err := r.withRetry(ctx, "open "+account, func() error {
		var err error
		result, err = client.PlaceMarketOrder(ctx, symbol, side, notional)
		return err
	})
	if err != nil {
		r.metrics.OrdersFailed.Inc()
		return exchange.OrderResult{}, err
	}
	r.metrics.OrdersPlaced.Inc()
	r.log.Info("leg opened",
		zap.String("cycle_id", cycleID),
		zap.String("account", account),
		zap.String("side", string(side)),
		zap.Float64("executed_qty", result.ExecutedQty),
		zap.Float64("avg_price", result.AvgPrice),
	)
	r.recorder.Record(report.TradeEvent{
		Timestamp:   r.now().UTC(),
		CycleID:     cycleID,
		Symbol:      symbol,
		Account:     account,
		Side:        string(side),
		Action:      "open",
		NotionalUSD: notional,
		ExecutedQty: result.ExecutedQty,
		AvgPrice:    result.AvgPrice,
	})
	return result, nil
}

// configure applies leverage and margin mode best-effort. Both are
// optimizations, not correctness requirements, so failures are logged and
// swallowed.
func (r *Runner) configure(ctx context.Context, account string, client exchange.Client, symbol string) {
	if err := client.SetMarginType(ctx, symbol, r.trading.MarginType); err != nil {
		r.log.Warn("margin type config skipped", zap.String("account", account), zap.Error(err))
	}
	if err := client.SetLeverage(ctx, symbol, r.trading.Leverage); err != nil {
		r.log.Warn("leverage config skipped", zap.String("account", account), zap.Error(err))
	}
}

// closeLeg flattens one account. The exchange-reported position wins over the
// locally tracked open quantity: fills and external intervention can diverge
// from what we believe we sent. An unknown position falls back to the local
// quantity.
func (r *Runner) closeLeg(ctx context.Context, account string, client exchange.Client, cycleID, symbol string, openSide exchange.Side, localQty float64) error {
	qty := localQty
	if snap, ok, _ := client.GetPosition(ctx, symbol); ok {
		qty = math.Abs(snap.SignedQty)
	}
	r.log.Info("closing leg",
		zap.String("cycle_id", cycleID),
		zap.String("account", account),
		zap.Float64("qty", qty),
	)
	if err := r.sleep(ctx, preCloseDelay); err != nil {
		return err
	}
	var closed exchange.OrderResult
	if qty > 0 {
		err := r.withRetry(ctx, "close "+account, func() error {
			var err error
			closed, err = client.CloseMarket(ctx, symbol, openSide, qty)
			return err
		})
		if err != nil {
			r.metrics.OrdersFailed.Inc()
			return err
		}
		r.metrics.OrdersPlaced.Inc()
		if err := r.reconcileResidual(ctx, account, client, cycleID, symbol, openSide); err != nil {
			return err
		}
	}
	r.recorder.Record(report.TradeEvent{
		Timestamp:   r.now().UTC(),
		CycleID:     cycleID,
		Symbol:      symbol,
		Account:     account,
		Side:        string(openSide),
		Action:      "close",
		NotionalUSD: 0,
		ExecutedQty: qty,
		AvgPrice:    closed.AvgPrice,
	})
	return nil
}

// reconcileResidual re-queries the position after a settle delay and issues
// exactly one corrective reduce-only close if anything is left. A residual
// surviving the second shot is reported and left for external monitoring;
// looping corrective orders against a possibly-wrong exchange report is worse
// than a page.
func (r *Runner) reconcileResidual(ctx context.Context, account string, client exchange.Client, cycleID, symbol string, openSide exchange.Side) error {
	if err := r.sleep(ctx, settleDelay); err != nil {
		return err
	}
	snap, ok, _ := client.GetPosition(ctx, symbol)
	if !ok {
		return nil
	}
	residual := math.Abs(snap.SignedQty)
	if residual == 0 {
		return nil
	}
	r.log.Warn("residual position detected, sending corrective close",
		zap.String("cycle_id", cycleID),
		zap.String("account", account),
		zap.Float64("residual", residual),
	)
	r.metrics.ResidualCloses.Inc()
	err := r.withRetry(ctx, "residual close "+account, func() error {
		_, err := client.CloseMarket(ctx, symbol, openSide, residual)
		return err
	})
	if err != nil {
		r.metrics.OrdersFailed.Inc()
		return err
	}
	r.metrics.OrdersPlaced.Inc()
	if snap, ok, _ := client.GetPosition(ctx, symbol); ok {
		if remaining := math.Abs(snap.SignedQty); remaining > 0 {
			r.metrics.ResidualStuck.Inc()
			r.log.Error("residual persists after corrective close, manual intervention required",
				zap.String("cycle_id", cycleID),
				zap.String("account", account),
				zap.String("symbol", symbol),
				zap.Float64("remaining", remaining),
			)
			r.notify(ctx, fmt.Sprintf("cycle %s: account %s still holds %.8f %s after corrective close", cycleID, account, remaining, symbol))
		}
	}
	return nil
}

func (r *Runner) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt < maxAttempts {
			r.log.Warn("attempt failed, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt),
				zap.Error(lastErr),
			)
			if err := r.sleep(ctx, time.Duration(attempt)*retryBackoff); err != nil {
				return err
			}
		}
	}
	return &exchange.RetryExhausted{Op: op, Attempts: maxAttempts, Err: lastErr}
}

func (r *Runner) notify(ctx context.Context, message string) {
	if r.alerter == nil {
		return
	}
	if err := r.alerter.Send(ctx, message); err != nil {
		r.log.Warn("alert dropped", zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
