package exchange

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
)

const maxErrorBody = 2048

// doRequest executes req and returns the response body. Network failures come
// back as TransportError, non-2xx statuses as AuthError or OrderRejected.
func doRequest(hc *http.Client, req *http.Request) ([]byte, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, classifyStatusError(resp.StatusCode, body)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: req.Method + " " + req.URL.Path, Err: err}
	}
	return body, nil
}

func newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "aster-hedge-bot/1.0")
	return req, nil
}

// floatFromAny tolerates the exchange's habit of sending numbers as either
// JSON numbers or strings.
func floatFromAny(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0
		}
		return f
	case json.Number:
		f, _ := val.Float64()
		return f
	}
	return 0
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	}
	return ""
}

// orderResultFromResponse digs the fill numbers out of an order-placement
// response. Some deployments report executedQty, older ones cumQty.
func orderResultFromResponse(body []byte, symbol string, side Side) (OrderResult, error) {
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return OrderResult{}, err
	}
	executed := floatFromAny(data["executedQty"])
	if executed == 0 {
		executed = floatFromAny(data["cumQty"])
	}
	return OrderResult{
		OrderID:     stringFromAny(data["orderId"]),
		Symbol:      symbol,
		Side:        side,
		ExecutedQty: executed,
		AvgPrice:    floatFromAny(data["avgPrice"]),
	}, nil
}

// positionFromEntry extracts a signed position quantity from one positionRisk
// or account-positions entry.
func positionFromEntry(entry map[string]any, symbol string) (PositionSnapshot, bool) {
	if entry == nil {
		return PositionSnapshot{}, false
	}
	if s := stringFromAny(entry["symbol"]); s != "" && s != symbol {
		return PositionSnapshot{}, false
	}
	return PositionSnapshot{Symbol: symbol, SignedQty: floatFromAny(entry["positionAmt"])}, true
}
