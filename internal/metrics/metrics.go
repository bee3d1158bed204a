package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	CyclesStarted   Counter
	CyclesCompleted Counter
	CyclesFailed    Counter
	OrdersPlaced    Counter
	OrdersFailed    Counter
	ResidualCloses  Counter
	ResidualStuck   Counter
	SignerDowngrade Counter
	MarkPrice       func(symbol string) Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		CyclesStarted:   n,
		CyclesCompleted: n,
		CyclesFailed:    n,
		OrdersPlaced:    n,
		OrdersFailed:    n,
		ResidualCloses:  n,
		ResidualStuck:   n,
		SignerDowngrade: n,
		MarkPrice:       func(string) Gauge { return noopGauge{} },
	}
}
