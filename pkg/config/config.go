// Copyright 2025 Certen Protocol
//
// Environment-variable configuration for the intent router service.

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the intent router service.
type Config struct {
	// ValidatorID identifies this node among its attestation peers.
	ValidatorID string

	// Server Configuration
	ListenAddr  string
	MetricsAddr string
	HealthAddr  string

	// Default chain endpoints (per-chain overrides live in the YAML
	// RouterConfig's Chains map; these are the bootstrap defaults used
	// before a YAML config is loaded).
	EthereumURL string
	EthChainID  int64
	AccumulateURL string

	// Solver signing / submission key
	EthPrivateKey string

	// Escrow and solver-vault contract addresses on the EVM chain.
	EscrowContractAddress     string
	SolverVaultContractAddress string

	// Accumulate transport signing identity.
	AccumulateSigningKeyHex string
	AccumulateSignerURL     string
	AccumulateKeyVersion    uint64

	// Attestation co-signing peers and threshold.
	AttestationPeerEndpoints []string
	AttestationThresholdPct  int
	AttestationTotalWeight   int64
	AttestationSigningKeyHex string
	AttestationValidatorIndex uint32

	// Persistence backend selection: "memory", "postgres", "kv", "firestore"
	StoreBackend string
	DatabaseURL  string
	DatabaseMaxConns int
	DatabaseMinConns int
	DatabaseMaxIdleTime time.Duration
	DatabaseMaxLifetime time.Duration

	KVDataDir string

	FirestoreEnabled        bool
	FirebaseProjectID       string
	FirebaseCredentialsFile string

	// Oracle configuration
	OracleProvider              string
	OracleEndpoint              string
	OracleStalenessThresholdSec int

	// TradingPairs lists the "base/quote" pairs the coordinator accepts
	// intents for, e.g. "uusdc/uatom".
	TradingPairs []string

	// ChainKinds maps a chain identifier to the transport backend class
	// that serves it ("evm" or "accumulate"), e.g.
	// "ethereum-sepolia=evm,accumulate-mainnet=accumulate".
	ChainKinds map[string]string

	// PairChains maps a "base/quote" trading pair to the "fromChain:toChain"
	// route its settlement is submitted over, e.g.
	// "uusdc/uatom=ethereum-sepolia:accumulate-mainnet".
	PairChains map[string]string

	// Solver configuration
	SolverEndpoints      map[string]string
	MinProfitBps         int
	MaxSlippageBps       int
	QuoteTimeout         time.Duration
	MaxConcurrentSolvers int

	// Settlement configuration
	SettlementTimeout    time.Duration
	UserLockTimeout      time.Duration
	TransportTimeout     time.Duration

	// Security
	JWTSecret   string
	CORSOrigins []string
	TLSEnabled  bool

	RateLimitRequests int
	RateLimitWindow   int

	LogLevel string

	// Hot-reload YAML overlay; empty disables the watcher.
	RouterConfigPath string
}

// Load reads configuration from environment variables. Call Validate
// after Load to ensure required fields are present.
func Load() (*Config, error) {
	cfg := &Config{
		ValidatorID: getEnv("VALIDATOR_ID", "validator-1"),

		ListenAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("API_PORT", "8080"),
		MetricsAddr: getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("METRICS_PORT", "9090"),
		HealthAddr:  getEnv("API_HOST", "0.0.0.0") + ":" + getEnv("HEALTH_CHECK_PORT", "8081"),

		EthereumURL:   getEnv("ETHEREUM_URL", ""),
		EthChainID:    getEnvInt64("ETH_CHAIN_ID", 11155111),
		AccumulateURL: getEnv("ACCUMULATE_URL", ""),

		EthPrivateKey: getEnv("ETH_PRIVATE_KEY", ""),

		EscrowContractAddress:      getEnv("ESCROW_CONTRACT_ADDRESS", ""),
		SolverVaultContractAddress: getEnv("SOLVER_VAULT_CONTRACT_ADDRESS", ""),

		AccumulateSigningKeyHex: getEnv("ACCUMULATE_SIGNING_KEY", ""),
		AccumulateSignerURL:     getEnv("ACCUMULATE_SIGNER_URL", ""),
		AccumulateKeyVersion:    uint64(getEnvInt("ACCUMULATE_KEY_VERSION", 1)),

		AttestationPeerEndpoints:  parseList(getEnv("ATTESTATION_PEER_ENDPOINTS", "")),
		AttestationThresholdPct:   getEnvInt("ATTESTATION_THRESHOLD_PCT", 67),
		AttestationTotalWeight:    getEnvInt64("ATTESTATION_TOTAL_WEIGHT", 1),
		AttestationSigningKeyHex:  getEnv("ATTESTATION_SIGNING_KEY", ""),
		AttestationValidatorIndex: uint32(getEnvInt("ATTESTATION_VALIDATOR_INDEX", 0)),

		StoreBackend:        getEnv("STORE_BACKEND", "memory"),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvDuration("DATABASE_MAX_IDLE_TIME", 5*time.Minute),
		DatabaseMaxLifetime: getEnvDuration("DATABASE_MAX_LIFETIME", time.Hour),

		KVDataDir: getEnv("KV_DATA_DIR", "./data/settlement-kv"),

		FirestoreEnabled:        getEnvBool("FIRESTORE_ENABLED", false),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCredentialsFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		OracleProvider:              getEnv("ORACLE_PROVIDER", "slinky"),
		OracleEndpoint:              getEnv("ORACLE_ENDPOINT", ""),
		OracleStalenessThresholdSec: getEnvInt("ORACLE_STALENESS_THRESHOLD_SECONDS", 30),

		TradingPairs: parseList(getEnv("TRADING_PAIRS", "uusdc/uatom")),
		ChainKinds:   parseKeyValueMap(getEnv("CHAIN_KINDS", "ethereum-sepolia=evm,accumulate-mainnet=accumulate")),
		PairChains:   parseKeyValueMap(getEnv("PAIR_CHAINS", "uusdc/uatom=ethereum-sepolia:accumulate-mainnet")),

		SolverEndpoints:      parseKeyValueMap(getEnv("SOLVER_ENDPOINTS", "")),
		MinProfitBps:         getEnvInt("MIN_PROFIT_BPS", 5),
		MaxSlippageBps:       getEnvInt("MAX_SLIPPAGE_BPS", 50),
		QuoteTimeout:         getEnvDuration("QUOTE_TIMEOUT", 2*time.Second),
		MaxConcurrentSolvers: getEnvInt("MAX_CONCURRENT_SOLVERS", 8),

		SettlementTimeout: getEnvDuration("SETTLEMENT_TIMEOUT", 30*time.Minute),
		UserLockTimeout:   getEnvDuration("USER_LOCK_TIMEOUT", 10*time.Minute),
		TransportTimeout:  getEnvDuration("TRANSPORT_TIMEOUT", 5*time.Minute),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		TLSEnabled:  getEnvBool("TLS_ENABLED", true),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   getEnvInt("RATE_LIMIT_WINDOW", 60),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		RouterConfigPath: getEnv("ROUTER_CONFIG_PATH", ""),
	}

	return cfg, nil
}

// Validate checks that all required configuration is present for
// production use.
func (c *Config) Validate() error {
	var errs []string

	if c.EthereumURL == "" {
		errs = append(errs, "ETHEREUM_URL is required but not set")
	}
	if c.AccumulateURL == "" {
		errs = append(errs, "ACCUMULATE_URL is required but not set")
	}
	if c.EthPrivateKey == "" {
		errs = append(errs, "ETH_PRIVATE_KEY is required but not set")
	}
	if c.StoreBackend != "memory" && c.StoreBackend != "postgres" && c.StoreBackend != "kv" && c.StoreBackend != "firestore" {
		errs = append(errs, fmt.Sprintf("STORE_BACKEND %q is not one of memory|postgres|kv|firestore", c.StoreBackend))
	}
	if c.StoreBackend == "postgres" && c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required when STORE_BACKEND=postgres")
	}
	if c.StoreBackend == "firestore" && c.FirebaseProjectID == "" {
		errs = append(errs, "FIREBASE_PROJECT_ID is required when STORE_BACKEND=firestore")
	}

	if c.EscrowContractAddress == "" {
		errs = append(errs, "ESCROW_CONTRACT_ADDRESS is required but not set")
	}
	if c.SolverVaultContractAddress == "" {
		errs = append(errs, "SOLVER_VAULT_CONTRACT_ADDRESS is required but not set")
	}

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required but not set")
	} else if len(c.JWTSecret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 characters for security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ValidateForDevelopment performs relaxed validation suitable for local
// development. Do not use this in production.
func (c *Config) ValidateForDevelopment() error {
	if c.AccumulateURL == "" && c.EthereumURL == "" {
		return fmt.Errorf("at least one of ACCUMULATE_URL or ETHEREUM_URL is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseList splits a comma-separated string, dropping empty elements.
func parseList(value string) []string {
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseKeyValueMap parses "key=value,key2=value2" pairs, used for solver
// endpoints, chain-kind assignments, and pair-to-chain routes alike.
func parseKeyValueMap(value string) map[string]string {
	out := make(map[string]string)
	if value == "" {
		return out
	}
	for _, pair := range strings.Split(value, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) == 2 && kv[0] != "" {
			out[kv[0]] = kv[1]
		}
	}
	return out
}
