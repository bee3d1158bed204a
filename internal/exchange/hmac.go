package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Params is an ordered parameter list. Order matters: the HMAC signature is
// computed over the encoded byte sequence exactly as transmitted, and the
// server re-derives it from the wire form. Re-sorting the keys after signing
// would invalidate every request.
type Params []Param

type Param struct {
	Key   string
	Value string
}

func (p *Params) Add(key, value string) {
	*p = append(*p, Param{Key: key, Value: value})
}

func (p Params) Encode() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(kv.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv.Value))
	}
	return b.String()
}

const hmacRecvWindowMs = 5000

// HmacSigner implements the API-key/secret scheme: timestamp and recvWindow
// appended, HMAC-SHA256 over the insertion-ordered query encoding, hex digest
// appended as the final parameter.
type HmacSigner struct {
	secret     []byte
	recvWindow int64
	now        func() time.Time
}

func NewHmacSigner(secret string) *HmacSigner {
	return &HmacSigner{
		secret:     []byte(secret),
		recvWindow: hmacRecvWindowMs,
		now:        time.Now,
	}
}

func (s *HmacSigner) Sign(params Params) Params {
	signed := make(Params, 0, len(params)+3)
	signed = append(signed, params...)
	signed.Add("timestamp", strconv.FormatInt(s.now().UnixMilli(), 10))
	signed.Add("recvWindow", strconv.FormatInt(s.recvWindow, 10))
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signed.Encode()))
	signed.Add("signature", hex.EncodeToString(mac.Sum(nil)))
	return signed
}

// HmacClient talks to the futures REST API under the HMAC scheme. One
// instance per account; the transport and filter cache are never shared.
type HmacClient struct {
	baseURL string
	http    *http.Client
	apiKey  string
	signer  *HmacSigner
	filters *filterCache
	log     *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewHmacClient(baseURL string, timeout time.Duration, apiKey, apiSecret string, log *zap.Logger) *HmacClient {
	return &HmacClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		signer:  NewHmacSigner(apiSecret),
		filters: newFilterCache(),
		log:     log,
		sleep:   sleepCtx,
	}
}

func (c *HmacClient) get(ctx context.Context, path string, params Params, signed bool) ([]byte, error) {
	if signed {
		params = c.signer.Sign(params)
	}
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return doRequest(c.http, req)
}

func (c *HmacClient) post(ctx context.Context, path string, params Params) ([]byte, error) {
	body := c.signer.Sign(params).Encode()
	req, err := newRequest(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.apiKey)
	return doRequest(c.http, req)
}

func (c *HmacClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var params Params
	params.Add("symbol", symbol)
	body, err := c.get(ctx, "/fapi/v1/ticker/price", params, false)
	if err != nil {
		return 0, err
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return 0, err
	}
	price := floatFromAny(data["price"])
	if price <= 0 {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (c *HmacClient) symbolFilters(ctx context.Context, symbol string) SymbolFilters {
	return c.filters.lookup(ctx, symbol, func(ctx context.Context) ([]byte, error) {
		return c.get(ctx, "/fapi/v1/exchangeInfo", nil, false)
	})
}

func (c *HmacClient) PlaceMarketOrder(ctx context.Context, symbol string, side Side, notionalUSD float64) (OrderResult, error) {
	price, err := c.GetPrice(ctx, symbol)
	if err != nil {
		return OrderResult{}, err
	}
	qty := NormalizeQty(notionalUSD/price, c.symbolFilters(ctx, symbol))
	var params Params
	params.Add("symbol", symbol)
	params.Add("type", "MARKET")
	params.Add("side", string(side))
	params.Add("quantity", qty.String())
	params.Add("positionSide", "BOTH")
	params.Add("newClientOrderId", "hmac-"+uuid.NewString()[:12])
	body, err := c.post(ctx, "/fapi/v1/order", params)
	if err != nil {
		return OrderResult{}, err
	}
	return orderResultFromResponse(body, symbol, side)
}

func (c *HmacClient) CloseMarket(ctx context.Context, symbol string, openSide Side, rawQty float64) (OrderResult, error) {
	qty := NormalizeQty(rawQty, c.symbolFilters(ctx, symbol))
	var params Params
	params.Add("symbol", symbol)
	params.Add("type", "MARKET")
	params.Add("side", string(openSide.Opposite()))
	params.Add("quantity", qty.String())
	params.Add("positionSide", "BOTH")
	params.Add("reduceOnly", "true")
	params.Add("newClientOrderId", "hmac-close-"+uuid.NewString()[:12])
	body, err := c.post(ctx, "/fapi/v1/order", params)
	if err != nil {
		return OrderResult{}, err
	}
	return orderResultFromResponse(body, symbol, openSide.Opposite())
}

// GetPosition queries positionRisk with bounded backoff, then falls back to
// the account summary. Total failure reports the position as unknown along
// with the last error; callers decide whether the error class matters.
func (c *HmacClient) GetPosition(ctx context.Context, symbol string) (PositionSnapshot, bool, error) {
	delays := []time.Duration{300 * time.Millisecond, 600 * time.Millisecond, 1200 * time.Millisecond}
	var lastErr error
	for _, delay := range delays {
		snap, ok, err := c.positionRisk(ctx, symbol)
		if err == nil {
			return snap, ok, nil
		}
		lastErr = err
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return PositionSnapshot{}, false, lastErr
		}
	}
	if snap, ok := c.positionFromAccount(ctx, symbol); ok {
		return snap, true, nil
	}
	c.log.Warn("position lookup failed, treating as unknown",
		zap.String("symbol", symbol), zap.Error(lastErr))
	return PositionSnapshot{}, false, lastErr
}

func (c *HmacClient) positionRisk(ctx context.Context, symbol string) (PositionSnapshot, bool, error) {
	var params Params
	params.Add("symbol", symbol)
	body, err := c.get(ctx, "/fapi/v2/positionRisk", params, true)
	if err != nil {
		return PositionSnapshot{}, false, err
	}
	var entries []map[string]any
	if err := json.Unmarshal(body, &entries); err != nil {
		var single map[string]any
		if err := json.Unmarshal(body, &single); err != nil {
			return PositionSnapshot{}, false, err
		}
		entries = []map[string]any{single}
	}
	for _, entry := range entries {
		if snap, ok := positionFromEntry(entry, symbol); ok {
			return snap, true, nil
		}
	}
	return PositionSnapshot{}, false, nil
}

// positionFromAccount derives the symbol's exposure from the broad account
// endpoint. Errors are swallowed; this is already the fallback path.
func (c *HmacClient) positionFromAccount(ctx context.Context, symbol string) (PositionSnapshot, bool) {
	body, err := c.get(ctx, "/fapi/v1/account", nil, true)
	if err != nil {
		return PositionSnapshot{}, false
	}
	var account struct {
		Positions []map[string]any `json:"positions"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return PositionSnapshot{}, false
	}
	for _, entry := range account.Positions {
		if stringFromAny(entry["symbol"]) != symbol {
			continue
		}
		if snap, ok := positionFromEntry(entry, symbol); ok {
			return snap, true
		}
	}
	return PositionSnapshot{}, false
}

func (c *HmacClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	var params Params
	params.Add("symbol", symbol)
	params.Add("leverage", strconv.Itoa(leverage))
	_, err := c.post(ctx, "/fapi/v1/leverage", params)
	return err
}

func (c *HmacClient) SetMarginType(ctx context.Context, symbol string, marginType string) error {
	var params Params
	params.Add("symbol", symbol)
	params.Add("marginType", marginType)
	_, err := c.post(ctx, "/fapi/v1/marginType", params)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
