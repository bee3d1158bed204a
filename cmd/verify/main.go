package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"aster-hedge-bot/internal/config"
	"aster-hedge-bot/internal/exchange"
	"aster-hedge-bot/internal/logging"

	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://fapi.asterdex.com"
	defaultTimeout = 10 * time.Second
	defaultEnvFile = ".env"
)

// verify is an operator smoke tool: it checks which credentials are present,
// exercises both signing schemes offline, and optionally hits the ticker
// endpoint to confirm connectivity. It never places orders.
func main() {
	configPath := flag.String("config", "", "optional config path for REST settings")
	live := flag.Bool("live", false, "perform a live price fetch against the REST API")
	symbol := flag.String("symbol", "BTCUSDT", "symbol used for the live check")
	flag.Parse()

	if err := config.LoadEnv(defaultEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "info"}
	baseURL := defaultBaseURL
	timeout := defaultTimeout
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		logCfg = cfg.Log
		if cfg.REST.BaseURL != "" {
			baseURL = cfg.REST.BaseURL
		}
		if cfg.REST.Timeout > 0 {
			timeout = cfg.REST.Timeout
		}
	}
	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	creds := config.LoadCredentials()
	fmt.Printf("hmac credentials: %v\n", creds.HasHmac())
	fmt.Printf("evm credentials:  %v\n", creds.HasEvm())
	switch {
	case creds.HasHmac():
		fmt.Println("selected scheme:  HMAC")
	case creds.HasEvm():
		fmt.Println("selected scheme:  EVM")
	default:
		fmt.Println("selected scheme:  STUB (no credentials)")
	}

	if creds.HasHmac() {
		verifyHmac(creds, *symbol)
	}
	if creds.HasEvm() {
		verifyEvm(creds, *symbol)
	}

	qty := exchange.NormalizeQty(0.123456789, exchange.SymbolFilters{StepSize: "0.001", MinQty: "0.001"})
	fmt.Printf("normalize sample: 0.123456789 @ step 0.001 -> %s\n", qty)

	if *live {
		client := exchange.NewHmacClient(baseURL, timeout, creds.HmacA.APIKey, creds.HmacA.APISecret, log)
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		price, err := client.GetPrice(ctx, *symbol)
		if err != nil {
			fatal(fmt.Errorf("live price fetch failed: %w", err))
		}
		fmt.Printf("live price:       %s = %.4f\n", *symbol, price)
	}
	log.Info("verify complete", zap.String("base_url", baseURL))
}

func verifyHmac(creds config.Credentials, symbol string) {
	signer := exchange.NewHmacSigner(creds.HmacA.APISecret)
	params := exchange.Params{}
	params.Add("symbol", symbol)
	params.Add("type", "MARKET")
	signed := signer.Sign(params)
	fmt.Printf("hmac sample sign: %s\n", signed.Encode())
}

func verifyEvm(creds config.Credentials, symbol string) {
	signer, err := exchange.NewEvmSigner(creds.EvmA.User, creds.EvmA.Signer, creds.EvmA.PrivateKey)
	if err != nil {
		fatal(fmt.Errorf("evm signer init failed: %w", err))
	}
	signed, err := signer.Sign(map[string]any{"symbol": symbol, "type": "MARKET"})
	if err != nil {
		fatal(fmt.Errorf("evm sample sign failed: %w", err))
	}
	fmt.Printf("evm sample sign:  user=%s nonce=%s signature=%s\n", signer.UserAddress(), signed["nonce"], signed["signature"])
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "verify: %v\n", err)
	os.Exit(1)
}
