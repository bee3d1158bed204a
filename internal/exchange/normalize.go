package exchange

import (
	"strings"

	"github.com/shopspring/decimal"
)

// defaultStep keeps normalization alive when a symbol has no usable lot
// filter: round down to 8 decimal places instead of failing closed.
const defaultStep = "0.00000001"

// Quantity is an exchange-accepted order quantity: the exact decimal value
// plus the wire string rendered with exactly the precision the step size
// implies. The wire form matters; extra precision gets orders rejected.
type Quantity struct {
	value decimal.Decimal
	wire  string
}

func (q Quantity) Decimal() decimal.Decimal { return q.value }

func (q Quantity) Float64() float64 {
	f, _ := q.value.Float64()
	return f
}

func (q Quantity) String() string { return q.wire }

func (q Quantity) IsZero() bool { return q.value.IsZero() }

// NormalizeQty floors raw to the symbol's step size and raises the result to
// minQty when it lands below it. Floor, never round: rounding up buys more
// than the requested notional. All arithmetic is decimal; binary floats can
// land a boundary value on the wrong side of the step grid.
func NormalizeQty(raw float64, filters SymbolFilters) Quantity {
	step := stepOrDefault(filters.StepSize)
	qty := decimal.NewFromFloat(raw)
	if qty.IsNegative() {
		qty = decimal.Zero
	}
	floored := qty.Div(step).Floor().Mul(step)
	if minQty, err := decimal.NewFromString(filters.MinQty); err == nil && minQty.IsPositive() {
		if floored.LessThan(minQty) {
			floored = minQty
		}
	}
	return Quantity{value: floored, wire: formatAtStep(floored, step)}
}

func stepOrDefault(raw string) decimal.Decimal {
	step, err := decimal.NewFromString(raw)
	if err != nil || !step.IsPositive() {
		step, _ = decimal.NewFromString(defaultStep)
	}
	return step
}

// formatAtStep renders d with exactly the decimal places of step. No
// scientific notation, no trailing zeros beyond the step precision. Exchanges
// pad their filter strings ("0.00100000"), so precision comes from the
// trimmed form of the step, not its raw string.
func formatAtStep(d, step decimal.Decimal) string {
	return d.StringFixed(decimalPlaces(step))
}

func decimalPlaces(step decimal.Decimal) int32 {
	s := step.String()
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return int32(len(s) - i - 1)
	}
	return 0
}
