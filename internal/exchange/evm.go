package exchange

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"aster-hedge-bot/internal/state"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const evmRecvWindowMs = 50000

var evmSignArgs = abi.Arguments{
	{Type: mustABIType("string")},
	{Type: mustABIType("address")},
	{Type: mustABIType("address")},
	{Type: mustABIType("uint256")},
}

func mustABIType(name string) abi.Type {
	t, err := abi.NewType(name, "", nil)
	if err != nil {
		panic(err)
	}
	return t
}

// EvmSigner implements the wallet-custody scheme: parameters are canonicalized
// to sorted-key compact JSON, ABI-encoded together with the user and signer
// addresses and a nonce, keccak-hashed, wrapped in the EIP-191 personal
// message envelope and signed with the account's private key.
type EvmSigner struct {
	userRaw   string
	signerRaw string
	user      common.Address
	signerA   common.Address
	privKey   *ecdsa.PrivateKey

	recvWindow int64
	now        func() time.Time

	lastNonce     atomic.Uint64
	lastPersisted atomic.Uint64
	persistWarned atomic.Bool
	persistMu     sync.Mutex
	nonceStore    state.Store
	nonceKey      string
	log           *zap.Logger
}

func NewEvmSigner(user, signerAddr, hexKey string) (*EvmSigner, error) {
	userClean := strings.TrimSpace(user)
	if userClean == "" {
		return nil, errors.New("user address is required")
	}
	keyClean := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if keyClean == "" {
		return nil, errors.New("private key is required")
	}
	key, err := crypto.HexToECDSA(keyClean)
	if err != nil {
		return nil, err
	}
	derived := crypto.PubkeyToAddress(key.PublicKey)
	signerClean := strings.TrimSpace(signerAddr)
	if signerClean == "" {
		signerClean = derived.Hex()
	} else if !strings.EqualFold(signerClean, derived.Hex()) {
		return nil, fmt.Errorf("signer address does not match private key: got %s expected %s", signerClean, derived.Hex())
	}
	return &EvmSigner{
		userRaw:    userClean,
		signerRaw:  signerClean,
		user:       common.HexToAddress(userClean),
		signerA:    derived,
		privKey:    key,
		recvWindow: evmRecvWindowMs,
		now:        time.Now,
	}, nil
}

func (s *EvmSigner) SetLogger(log *zap.Logger) {
	s.log = log
}

func (s *EvmSigner) UserAddress() string { return s.userRaw }

// InitNonceStore seeds the nonce from durable storage so a fast restart never
// reuses a nonce inside the server's replay window.
func (s *EvmSigner) InitNonceStore(ctx context.Context, store state.Store, baseURL string) error {
	if store == nil {
		return nil
	}
	key := fmt.Sprintf("signer:nonce:%s:%s", strings.ToLower(strings.TrimSpace(baseURL)), strings.ToLower(s.signerRaw))
	seed := uint64(s.now().UnixMicro())
	if raw, ok, err := store.Get(ctx, key); err != nil {
		return err
	} else if ok {
		parsed, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid stored nonce %q: %w", raw, err)
		}
		if parsed > seed {
			seed = parsed
		}
	}
	if current := s.lastNonce.Load(); current > seed {
		seed = current
	}
	s.nonceStore = store
	s.nonceKey = key
	s.lastNonce.Store(seed)
	s.lastPersisted.Store(seed)
	return nil
}

// nextNonce returns a strictly increasing microsecond nonce. The CAS loop
// guards against coarse clocks and rapid successive calls; the server rejects
// reused nonces.
func (s *EvmSigner) nextNonce() uint64 {
	now := uint64(s.now().UnixMicro())
	for {
		prev := s.lastNonce.Load()
		next := now
		if prev >= next {
			next = prev + 1
		}
		if s.lastNonce.CompareAndSwap(prev, next) {
			s.persistNonce(next)
			return next
		}
	}
}

func (s *EvmSigner) persistNonce(nonce uint64) {
	if s.nonceStore == nil || s.nonceKey == "" {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if nonce <= s.lastPersisted.Load() {
		return
	}
	if err := s.nonceStore.Set(context.Background(), s.nonceKey, strconv.FormatUint(nonce, 10)); err != nil {
		if s.log != nil && s.persistWarned.CompareAndSwap(false, true) {
			s.log.Warn("nonce persistence failed", zap.String("nonce_key", s.nonceKey), zap.Error(err))
		}
		return
	}
	s.lastPersisted.Store(nonce)
	s.persistWarned.Store(false)
}

// Sign canonicalizes params and produces the signed parameter set. The
// returned map is exactly what must be transmitted; mutating it afterwards
// invalidates the signature.
func (s *EvmSigner) Sign(params map[string]any) (map[string]string, error) {
	withAuth := make(map[string]any, len(params)+2)
	for k, v := range params {
		withAuth[k] = v
	}
	withAuth["recvWindow"] = strconv.FormatInt(s.recvWindow, 10)
	withAuth["timestamp"] = strconv.FormatInt(s.now().UnixMilli(), 10)
	canonical := canonicalParams(withAuth)
	jsonStr, err := encodeCanonical(canonical)
	if err != nil {
		return nil, err
	}
	nonce := s.nextNonce()
	sig, err := s.signPayload(jsonStr, nonce)
	if err != nil {
		return nil, err
	}
	canonical["nonce"] = strconv.FormatUint(nonce, 10)
	canonical["user"] = s.userRaw
	canonical["signer"] = s.signerRaw
	canonical["signature"] = sig
	return canonical, nil
}

func (s *EvmSigner) signPayload(canonicalJSON string, nonce uint64) (string, error) {
	packed, err := evmSignArgs.Pack(canonicalJSON, s.user, s.signerA, new(big.Int).SetUint64(nonce))
	if err != nil {
		return "", err
	}
	hash := crypto.Keccak256(packed)
	digest := accounts.TextHash(hash)
	sig, err := crypto.Sign(digest, s.privKey)
	if err != nil {
		return "", err
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("unexpected signature length %d", len(sig))
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// EvmClient talks to the v3 futures API under the EVM-signed scheme.
type EvmClient struct {
	baseURL string
	http    *http.Client
	signer  *EvmSigner
	filters *filterCache
	log     *zap.Logger
}

func NewEvmClient(baseURL string, timeout time.Duration, signer *EvmSigner, log *zap.Logger) (*EvmClient, error) {
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	signer.SetLogger(log)
	return &EvmClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		signer:  signer,
		filters: newFilterCache(),
		log:     log,
	}, nil
}

func (c *EvmClient) Signer() *EvmSigner { return c.signer }

func (c *EvmClient) request(ctx context.Context, method, path string, params map[string]any) ([]byte, error) {
	signed, err := c.signer.Sign(params)
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	for k, v := range signed {
		values.Set(k, v)
	}
	encoded := values.Encode()

	var req *http.Request
	switch {
	case method == http.MethodGet:
		req, err = newRequest(ctx, method, c.baseURL+path+"?"+encoded, nil)
	case method == http.MethodPost && path == "/fapi/v3/order":
		// The order endpoint verifies against the query string, not the
		// body, so the signed params ride in the URL.
		req, err = newRequest(ctx, method, c.baseURL+path+"?"+encoded, nil)
	default:
		req, err = newRequest(ctx, method, c.baseURL+path, strings.NewReader(encoded))
	}
	if err != nil {
		return nil, err
	}
	return doRequest(c.http, req)
}

func (c *EvmClient) GetPrice(ctx context.Context, symbol string) (float64, error) {
	body, err := c.request(ctx, http.MethodGet, "/fapi/v1/ticker/price", map[string]any{"symbol": symbol})
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

func (c *EvmClient) symbolFilters(ctx context.Context, symbol string) SymbolFilters {
	return c.filters.lookup(ctx, symbol, func(ctx context.Context) ([]byte, error) {
		return c.request(ctx, http.MethodGet, "/fapi/v1/exchangeInfo", map[string]any{})
	})
}

func (c *EvmClient) PlaceMarketOrder(ctx context.Context, symbol string, side Side, notionalUSD float64) (OrderResult, error) {
	price, err := c.GetPrice(ctx, symbol)
	if err != nil {
		return OrderResult{}, err
	}
	qty := NormalizeQty(notionalUSD/price, c.symbolFilters(ctx, symbol))
	params := map[string]any{
		"symbol":           symbol,
		"type":             "MARKET",
		"side":             string(side),
		"quantity":         qty.String(),
		"positionSide":     "BOTH",
		"newClientOrderId": "evm-" + uuid.NewString()[:12],
	}
	body, err := c.request(ctx, http.MethodPost, "/fapi/v3/order", params)
	if err != nil {
		return OrderResult{}, err
	}
	return orderResultFromResponse(body, symbol, side)
}

func (c *EvmClient) CloseMarket(ctx context.Context, symbol string, openSide Side, rawQty float64) (OrderResult, error) {
	qty := NormalizeQty(rawQty, c.symbolFilters(ctx, symbol))
	params := map[string]any{
		"symbol":           symbol,
		"type":             "MARKET",
		"side":             string(openSide.Opposite()),
		"quantity":         qty.String(),
		"positionSide":     "BOTH",
		"reduceOnly":       true,
		"newClientOrderId": "evm-close-" + uuid.NewString()[:12],
	}
	body, err := c.request(ctx, http.MethodPost, "/fapi/v3/order", params)
	if err != nil {
		return OrderResult{}, err
	}
	return orderResultFromResponse(body, symbol, openSide.Opposite())
}

func (c *EvmClient) GetPosition(ctx context.Context, symbol string) (PositionSnapshot, bool, error) {
	body, err := c.request(ctx, http.MethodGet, "/fapi/v3/positionRisk", map[string]any{"symbol": symbol})
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

func (c *EvmClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := c.request(ctx, http.MethodPost, "/fapi/v1/leverage", map[string]any{
		"symbol":   symbol,
		"leverage": leverage,
	})
	return err
}

func (c *EvmClient) SetMarginType(ctx context.Context, symbol string, marginType string) error {
	_, err := c.request(ctx, http.MethodPost, "/fapi/v1/marginType", map[string]any{
		"symbol":     symbol,
		"marginType": marginType,
	})
	return err
}
