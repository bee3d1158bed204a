package app

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"aster-hedge-bot/internal/alerts"
	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/cycle"
	"aster-hedge-bot/internal/exchange"
	"aster-hedge-bot/internal/feed"
	"aster-hedge-bot/internal/metrics"
	"aster-hedge-bot/internal/report"
	"aster-hedge-bot/internal/state/sqlite"
	"aster-hedge-bot/internal/timescale"

	"go.uber.org/zap"
)

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *sqlite.Store
	metrics  *metrics.Metrics
	prom     *metrics.Prometheus
	alerts   *alerts.Telegram
	csv      *report.CSVRecorder
	recorder report.Recorder
	ts       *timescale.Writer
	feed     *feed.MarkPriceFeed
	selector *exchange.Selector
	rand     *rand.Rand
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	m := metrics.NewNoop()
	var prom *metrics.Prometheus
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	}

	csvRecorder, err := report.NewCSVRecorder(cfg.Report.Dir, cfg.Report.Timezone, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	recorders := report.Multi{csvRecorder, report.NewJournalRecorder(store, log)}
	tsWriter, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	if tsWriter != nil {
		recorders = append(recorders, tsWriter)
	}

	creds := config.LoadCredentials()
	selector := exchange.NewSelector(cfg.REST.BaseURL, cfg.REST.Timeout, creds, cfg.Trading.ForceStub, cfg.Trading.Symbols[0], store, log)

	var priceFeed *feed.MarkPriceFeed
	if cfg.Feed.Enabled {
		priceFeed = feed.New(cfg.Feed.URL, cfg.Trading.Symbols, cfg.Feed.ReconnectDelay, m.MarkPrice, log)
	}

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		metrics:  m,
		prom:     prom,
		alerts:   alerts.NewTelegram(cfg.Telegram),
		csv:      csvRecorder,
		recorder: recorders,
		ts:       tsWriter,
		feed:     priceFeed,
		selector: selector,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()

	if a.prom != nil {
		a.serveMetrics(ctx)
	}
	if a.ts != nil {
		if err := a.ts.Start(ctx); err != nil {
			a.log.Warn("timescale writer start failed", zap.Error(err))
		}
		defer a.ts.Close()
	}
	if a.feed != nil {
		go func() {
			if err := a.feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("mark price feed stopped", zap.Error(err))
			}
		}()
	}

	pair, err := a.selector.Select(ctx)
	if err != nil {
		return err
	}
	if a.selector.Downgraded() {
		a.metrics.SignerDowngrade.Inc()
	}
	a.log.Info("exchange clients selected", zap.String("mode", string(a.selector.Mode())))

	trading := a.cfg.Trading
	if trading.RunOnce {
		// Smoke runs skip the hold and cooldown entirely.
		trading.HoldMinMinutes = 0
		trading.HoldMaxMinutes = 0
	}
	runner := cycle.New(trading, pair, a.recorder, a.metrics, a.alerts, a.log)

	start := time.Now()
	for {
		if err := runner.RunCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.Warn("cycle failed", zap.Error(err))
		}
		if path, err := a.csv.WriteDailySummary(); err != nil {
			a.log.Warn("daily summary write failed", zap.Error(err))
		} else {
			a.log.Info("daily summary written", zap.String("path", path))
		}
		if trading.RunOnce {
			a.log.Info("run-once complete")
			return nil
		}
		if trading.MaxRuntimeMinutes > 0 {
			elapsed := time.Since(start)
			if elapsed >= time.Duration(trading.MaxRuntimeMinutes*float64(time.Minute)) {
				a.log.Info("max runtime reached", zap.Duration("elapsed", elapsed))
				return nil
			}
		}
		if err := a.cooldown(ctx, trading); err != nil {
			return err
		}
	}
}

func (a *App) cooldown(ctx context.Context, trading config.TradingConfig) error {
	min := trading.CooldownMinMinutes
	max := trading.CooldownMaxMinutes
	minutes := min
	if max > min {
		minutes = min + a.rand.Intn(max-min+1)
	}
	d := time.Duration(minutes) * time.Minute
	a.log.Info("cooldown", zap.Duration("duration", d))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (a *App) serveMetrics(ctx context.Context) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	server := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		a.log.Info("metrics listening", zap.String("addr", a.cfg.Metrics.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}
