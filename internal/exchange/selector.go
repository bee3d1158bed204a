package exchange

import (
	"context"
	"time"

	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/state"

	"go.uber.org/zap"
)

type Mode string

const (
	ModeUnselected Mode = "UNSELECTED"
	ModeHmac       Mode = "HMAC"
	ModeEvm        Mode = "EVM"
	ModeStub       Mode = "STUB"
)

// Pair is the two independently constructed account clients. A and B never
// share transport or filter caches, even under the same credential class.
type Pair struct {
	A Client
	B Client
}

// Selector picks the client implementation from available credentials:
// explicit stub override, then HMAC, then EVM, then stub fallback. A selected
// HMAC pair is preflighted with one authenticated call; an auth-class failure
// downgrades to EVM when those credentials exist. The downgrade can happen at
// most once per process; there is no path out of EVM or stub.
type Selector struct {
	baseURL         string
	timeout         time.Duration
	creds           config.Credentials
	forceStub       bool
	preflightSymbol string
	stubJitter      float64
	nonceStore      state.Store
	log             *zap.Logger

	mode       Mode
	downgraded bool
}

func NewSelector(baseURL string, timeout time.Duration, creds config.Credentials, forceStub bool, preflightSymbol string, nonceStore state.Store, log *zap.Logger) *Selector {
	return &Selector{
		baseURL:         baseURL,
		timeout:         timeout,
		creds:           creds,
		forceStub:       forceStub,
		preflightSymbol: preflightSymbol,
		stubJitter:      0.002,
		nonceStore:      nonceStore,
		log:             log,
		mode:            ModeUnselected,
	}
}

func (s *Selector) Mode() Mode { return s.mode }

// Downgraded reports whether the one-shot HMAC to EVM transition fired.
func (s *Selector) Downgraded() bool { return s.downgraded }

func (s *Selector) Select(ctx context.Context) (Pair, error) {
	switch {
	case s.forceStub:
		s.log.Info("client mode forced to stub")
		s.mode = ModeStub
		return s.stubPair(), nil
	case s.creds.HasHmac():
		s.mode = ModeHmac
		pair := s.hmacPair()
		s.log.Info("selected HMAC client for both accounts")
		return s.preflight(ctx, pair)
	case s.creds.HasEvm():
		pair, err := s.evmPair(ctx)
		if err != nil {
			return Pair{}, err
		}
		s.mode = ModeEvm
		s.log.Info("selected EVM-signed client for both accounts")
		return pair, nil
	default:
		s.log.Info("no credentials configured, using stub client")
		s.mode = ModeStub
		return s.stubPair(), nil
	}
}

// preflight issues one cheap signed call on account A. Only a signature or
// authentication rejection triggers the downgrade; transport failures keep
// the HMAC selection since they say nothing about the credentials.
func (s *Selector) preflight(ctx context.Context, pair Pair) (Pair, error) {
	_, _, err := pair.A.GetPosition(ctx, s.preflightSymbol)
	if err == nil || !IsAuthError(err) {
		return pair, nil
	}
	if s.downgraded || !s.creds.HasEvm() {
		s.log.Warn("HMAC preflight failed with auth error, no downgrade available", zap.Error(err))
		return pair, nil
	}
	s.log.Warn("HMAC signature rejected, downgrading to EVM-signed client", zap.Error(err))
	evm, evmErr := s.evmPair(ctx)
	if evmErr != nil {
		s.log.Warn("EVM downgrade failed, staying on HMAC", zap.Error(evmErr))
		return pair, nil
	}
	s.mode = ModeEvm
	s.downgraded = true
	return evm, nil
}

func (s *Selector) hmacPair() Pair {
	return Pair{
		A: NewHmacClient(s.baseURL, s.timeout, s.creds.HmacA.APIKey, s.creds.HmacA.APISecret, s.log.With(zap.String("account", "A"))),
		B: NewHmacClient(s.baseURL, s.timeout, s.creds.HmacB.APIKey, s.creds.HmacB.APISecret, s.log.With(zap.String("account", "B"))),
	}
}

func (s *Selector) evmPair(ctx context.Context) (Pair, error) {
	signerA, err := NewEvmSigner(s.creds.EvmA.User, s.creds.EvmA.Signer, s.creds.EvmA.PrivateKey)
	if err != nil {
		return Pair{}, err
	}
	signerB, err := NewEvmSigner(s.creds.EvmB.User, s.creds.EvmB.Signer, s.creds.EvmB.PrivateKey)
	if err != nil {
		return Pair{}, err
	}
	if s.nonceStore != nil {
		if err := signerA.InitNonceStore(ctx, s.nonceStore, s.baseURL); err != nil {
			s.log.Warn("nonce store init failed for account A", zap.Error(err))
		}
		if err := signerB.InitNonceStore(ctx, s.nonceStore, s.baseURL); err != nil {
			s.log.Warn("nonce store init failed for account B", zap.Error(err))
		}
	}
	a, err := NewEvmClient(s.baseURL, s.timeout, signerA, s.log.With(zap.String("account", "A")))
	if err != nil {
		return Pair{}, err
	}
	b, err := NewEvmClient(s.baseURL, s.timeout, signerB, s.log.With(zap.String("account", "B")))
	if err != nil {
		return Pair{}, err
	}
	return Pair{A: a, B: b}, nil
}

func (s *Selector) stubPair() Pair {
	return Pair{
		A: NewStubClient("accountA", s.stubJitter, time.Now().UnixNano()),
		B: NewStubClient("accountB", s.stubJitter, time.Now().UnixNano()+1),
	}
}
