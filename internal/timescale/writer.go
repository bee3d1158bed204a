package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/report"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// Writer mirrors trade legs into Postgres/Timescale asynchronously. Events
// queue onto a channel and a background goroutine drains it; a full queue
// drops events with a one-time warning rather than stalling the cycle.
type Writer struct {
	db      *sql.DB
	log     *zap.Logger
	schema  string
	events  chan report.TradeEvent
	started atomic.Bool
	dropped atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	schema := strings.TrimSpace(cfg.Schema)
	if schema == "" {
		schema = "public"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Writer{
		db:     db,
		log:    log,
		schema: schema,
		events: make(chan report.TradeEvent, queueSize),
	}, nil
}

func (w *Writer) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if !w.started.CompareAndSwap(false, true) {
		return nil
	}
	if err := w.ensureSchema(ctx); err != nil {
		return err
	}
	go w.run(ctx)
	return nil
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

// Record implements report.Recorder.
func (w *Writer) Record(event report.TradeEvent) {
	if w == nil {
		return
	}
	select {
	case w.events <- event:
	default:
		if w.dropped.Add(1) == 1 && w.log != nil {
			w.log.Warn("timescale trade queue full")
		}
	}
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-w.events:
			w.writeEvent(ctx, event)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		cycle_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		account TEXT NOT NULL,
		side TEXT NOT NULL,
		action TEXT NOT NULL,
		quote_usd DOUBLE PRECISION NOT NULL,
		executed_qty DOUBLE PRECISION NOT NULL,
		avg_price DOUBLE PRECISION NOT NULL
	)`, w.table("trade_legs"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		if w.log != nil {
			w.log.Warn("timescale extension ensure failed", zap.Error(err))
		}
		return nil
	}
	if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table("trade_legs"))); err != nil && w.log != nil {
		w.log.Warn("timescale trade_legs hypertable create failed", zap.Error(err))
	}
	return nil
}

func (w *Writer) writeEvent(ctx context.Context, event report.TradeEvent) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, cycle_id, symbol, account, side, action, quote_usd, executed_qty, avg_price
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`, w.table("trade_legs"))
	if _, err := w.db.ExecContext(ctx, query,
		event.Timestamp,
		event.CycleID,
		event.Symbol,
		event.Account,
		event.Side,
		event.Action,
		event.NotionalUSD,
		event.ExecutedQty,
		event.AvgPrice,
	); err != nil && w.log != nil {
		w.log.Warn("timescale trade insert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
