package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
)

var stubBasePrices = map[string]float64{
	"BTCUSDT": 60000.0,
	"ETHUSDT": 2500.0,
	"SOLUSDT": 150.0,
	"BNBUSDT": 550.0,
	"XRPUSDT": 0.6,
}

// StubClient is the non-networked implementation used for development and
// FORCE_STUB runs: fixed base prices with a small jitter, instant full fills,
// no position tracking. Jitter 0 makes it fully deterministic.
type StubClient struct {
	name   string
	jitter float64

	mu   sync.Mutex
	rand *rand.Rand
	seq  int
}

func NewStubClient(name string, jitter float64, seed int64) *StubClient {
	return &StubClient{
		name:   name,
		jitter: jitter,
		rand:   rand.New(rand.NewSource(seed)),
	}
}

func (c *StubClient) GetPrice(_ context.Context, symbol string) (float64, error) {
	base, ok := stubBasePrices[symbol]
	if !ok {
		base = 100.0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jitter > 0 {
		base *= 1 + (c.rand.Float64()*2-1)*c.jitter
	}
	return base, nil
}

func (c *StubClient) nextID(kind string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return fmt.Sprintf("%s-%s-%06d", c.name, kind, c.seq)
}

func (c *StubClient) PlaceMarketOrder(ctx context.Context, symbol string, side Side, notionalUSD float64) (OrderResult, error) {
	price, err := c.GetPrice(ctx, symbol)
	if err != nil {
		return OrderResult{}, err
	}
	return OrderResult{
		OrderID:     c.nextID("open"),
		Symbol:      symbol,
		Side:        side,
		ExecutedQty: notionalUSD / price,
		AvgPrice:    price,
	}, nil
}

func (c *StubClient) CloseMarket(ctx context.Context, symbol string, openSide Side, qty float64) (OrderResult, error) {
	price, err := c.GetPrice(ctx, symbol)
	if err != nil {
		return OrderResult{}, err
	}
	return OrderResult{
		OrderID:     c.nextID("close"),
		Symbol:      symbol,
		Side:        openSide.Opposite(),
		ExecutedQty: qty,
		AvgPrice:    price,
	}, nil
}

// GetPosition always reports unknown; the cycle falls back to its locally
// tracked quantities, which for instant full fills are exact.
func (c *StubClient) GetPosition(context.Context, string) (PositionSnapshot, bool, error) {
	return PositionSnapshot{}, false, nil
}

func (c *StubClient) SetLeverage(context.Context, string, int) error { return nil }

func (c *StubClient) SetMarginType(context.Context, string, string) error { return nil }
