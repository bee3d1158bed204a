package config

import (
	"os"
	"strings"
)

// HmacAccount holds one account's API-key/secret pair for the HMAC scheme.
type HmacAccount struct {
	APIKey    string
	APISecret string
}

// EvmAccount holds one account's wallet addresses and signing key for the
// EVM-signed scheme. Signer defaults to User when unset.
type EvmAccount struct {
	User       string
	Signer     string
	PrivateKey string
}

// Credentials carries both signing schemes for both accounts. Either scheme
// may be absent; the client selector decides what to run with.
type Credentials struct {
	HmacA HmacAccount
	HmacB HmacAccount
	EvmA  EvmAccount
	EvmB  EvmAccount
}

// LoadCredentials reads credentials from the environment. Per-account
// variables win; the single-account variants are accepted as a fallback so a
// config that predates the paired-account setup keeps working.
func LoadCredentials() Credentials {
	sharedKey := envStr("ASTER_API_KEY")
	sharedSecret := envStr("ASTER_API_SECRET")
	sharedUser := envStr("ASTER_USER")
	sharedSigner := envStr("ASTER_SIGNER")
	sharedPK := envStr("ASTER_PRIVATE_KEY")

	creds := Credentials{
		HmacA: HmacAccount{
			APIKey:    envFirst("HMAC_API_KEY_A", sharedKey),
			APISecret: envFirst("HMAC_API_SECRET_A", sharedSecret),
		},
		HmacB: HmacAccount{
			APIKey:    envFirst("HMAC_API_KEY_B", sharedKey),
			APISecret: envFirst("HMAC_API_SECRET_B", sharedSecret),
		},
		EvmA: EvmAccount{
			User:       envFirst("ASTER_USER_A", sharedUser),
			Signer:     envFirst("ASTER_SIGNER_A", sharedSigner),
			PrivateKey: envFirst("ASTER_PRIVATE_KEY_A", sharedPK),
		},
		EvmB: EvmAccount{
			User:       envFirst("ASTER_USER_B", sharedUser),
			Signer:     envFirst("ASTER_SIGNER_B", sharedSigner),
			PrivateKey: envFirst("ASTER_PRIVATE_KEY_B", sharedPK),
		},
	}
	if creds.EvmA.Signer == "" {
		creds.EvmA.Signer = creds.EvmA.User
	}
	if creds.EvmB.Signer == "" {
		creds.EvmB.Signer = creds.EvmB.User
	}
	return creds
}

func (c Credentials) HasHmac() bool {
	return c.HmacA.APIKey != "" && c.HmacA.APISecret != "" &&
		c.HmacB.APIKey != "" && c.HmacB.APISecret != ""
}

func (c Credentials) HasEvm() bool {
	return c.EvmA.User != "" && c.EvmA.PrivateKey != "" &&
		c.EvmB.User != "" && c.EvmB.PrivateKey != ""
}

func envStr(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envFirst(key, fallback string) string {
	if v := envStr(key); v != "" {
		return v
	}
	return fallback
}
