package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "aster_hedge_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		return c
	}
	markPrice := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      "mark_price",
		Help:      "Last mark price seen per symbol.",
	}, []string{"symbol"})
	registry.MustRegister(markPrice)

	m := &Metrics{
		CyclesStarted:   promCounter{counter("cycles_started_total", "Total number of hedge cycles started.")},
		CyclesCompleted: promCounter{counter("cycles_completed_total", "Total number of hedge cycles completed.")},
		CyclesFailed:    promCounter{counter("cycles_failed_total", "Total number of hedge cycles aborted by errors.")},
		OrdersPlaced:    promCounter{counter("orders_placed_total", "Total number of orders placed.")},
		OrdersFailed:    promCounter{counter("orders_failed_total", "Total number of order placement failures.")},
		ResidualCloses:  promCounter{counter("residual_closes_total", "Total number of corrective residual close orders.")},
		ResidualStuck:   promCounter{counter("residual_stuck_total", "Residual positions still open after the corrective close.")},
		SignerDowngrade: promCounter{counter("signer_downgrades_total", "HMAC to EVM signer downgrades.")},
		MarkPrice: func(symbol string) Gauge {
			return promGauge{markPrice.WithLabelValues(symbol)}
		},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
