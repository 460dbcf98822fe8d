// Copyright 2025 Certen Protocol
//
// YAML-driven router configuration, for deployments that want chain and
// solver topology in a file rather than environment variables. Adapted
// from the env-var-substituting YAML loader pattern the teacher used for
// anchor configuration.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RouterConfig holds the full intent-router topology: network defaults,
// per-chain RPC settings, solver registry, settlement tuning, oracle
// selection, relayer channel routing, and fee policy.
type RouterConfig struct {
	Environment string `yaml:"environment"`

	Network    NetworkConfig              `yaml:"network"`
	Chains     map[string]ChainConfig     `yaml:"chains"`
	Solvers    SolverConfig               `yaml:"solvers"`
	Settlement SettlementConfig           `yaml:"settlement"`
	Oracle     OracleConfig               `yaml:"oracle"`
	Relayer    RelayerConfig              `yaml:"relayer"`
	Fees       FeeConfig                  `yaml:"fees"`
}

// NetworkConfig carries environment and logging/metrics defaults.
type NetworkConfig struct {
	Environment   string `yaml:"environment"`
	LogLevel      string `yaml:"log_level"`
	MetricsEnabled bool  `yaml:"metrics_enabled"`
	MetricsPort   int    `yaml:"metrics_port"`
}

// ChainConfig describes one chain's connection settings.
type ChainConfig struct {
	ChainID       string   `yaml:"chain_id"`
	RPCURL        string   `yaml:"rpc_url"`
	GRPCURL       string   `yaml:"grpc_url"`
	GasPrice      string   `yaml:"gas_price"`
	FeeDenom      string   `yaml:"fee_denom"`
	AddressPrefix string   `yaml:"address_prefix"`
	GasAdjustment float64  `yaml:"gas_adjustment"`
	Timeout       Duration `yaml:"timeout"`
	MaxRetries    int      `yaml:"max_retries"`
}

// SolverConfig configures which solvers participate in quote requests.
type SolverConfig struct {
	EnabledSolvers       []string          `yaml:"enabled_solvers"`
	MinProfitBps         uint64            `yaml:"min_profit_bps"`
	MaxSlippageBps       uint64            `yaml:"max_slippage_bps"`
	QuoteTimeout         Duration          `yaml:"quote_timeout"`
	MaxConcurrentSolvers int               `yaml:"max_concurrent_solvers"`
	SolverEndpoints      map[string]string `yaml:"solver_endpoints"`
}

// SettlementConfig configures the escrow/vault contract and timing.
type SettlementConfig struct {
	ContractAddress  string   `yaml:"contract_address"`
	Timeout          Duration `yaml:"timeout"`
	MaxBatchSize     int      `yaml:"max_batch_size"`
	MinConfirmations int      `yaml:"min_confirmations"`
	ParallelEnabled  bool     `yaml:"parallel_enabled"`
}

// OracleConfig selects the price oracle and staleness tolerance.
type OracleConfig struct {
	Provider          string   `yaml:"provider"`
	Endpoint          string   `yaml:"endpoint"`
	UpdateInterval    Duration `yaml:"update_interval"`
	StalenessThreshold Duration `yaml:"staleness_threshold"`
	FallbackEndpoints []string `yaml:"fallback_endpoints"`
}

// RelayerConfig configures cross-chain channel routing.
type RelayerConfig struct {
	Channels           map[string]ChannelConfig `yaml:"channels"`
	PacketTimeout      Duration                 `yaml:"packet_timeout"`
	AutoRelayEnabled   bool                     `yaml:"auto_relay_enabled"`
}

// ChannelConfig names one transport route's endpoint identifiers,
// matching pkg/transport.Route's (fromChain, toChain) addressing.
type ChannelConfig struct {
	FromChain string `yaml:"from_chain"`
	ToChain   string `yaml:"to_chain"`
	ChannelID string `yaml:"channel_id"`
}

// FeeConfig configures the protocol fee recipient and rate.
type FeeConfig struct {
	FeeRecipient string `yaml:"fee_recipient"`
	FeeBps       uint64 `yaml:"fee_bps"`
}

// Duration wraps time.Duration for YAML unmarshaling as a human string
// ("30s", "5m") instead of a raw nanosecond integer.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// LoadRouterConfig loads a RouterConfig from a YAML file, substituting
// ${VAR_NAME} and ${VAR_NAME:-default} references against the process
// environment before parsing.
func LoadRouterConfig(path string) (*RouterConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := substituteEnvVars(string(data))

	var cfg RouterConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *RouterConfig) applyDefaults() {
	if c.Network.LogLevel == "" {
		c.Network.LogLevel = "info"
	}
	if c.Network.MetricsPort == 0 {
		c.Network.MetricsPort = 9090
	}
	if c.Solvers.QuoteTimeout == 0 {
		c.Solvers.QuoteTimeout = Duration(2 * time.Second)
	}
	if c.Solvers.MaxConcurrentSolvers == 0 {
		c.Solvers.MaxConcurrentSolvers = 8
	}
	if c.Settlement.Timeout == 0 {
		c.Settlement.Timeout = Duration(30 * time.Minute)
	}
	if c.Settlement.MaxBatchSize == 0 {
		c.Settlement.MaxBatchSize = 100
	}
	if c.Oracle.Provider == "" {
		c.Oracle.Provider = "slinky"
	}
	if c.Oracle.UpdateInterval == 0 {
		c.Oracle.UpdateInterval = Duration(10 * time.Second)
	}
	if c.Oracle.StalenessThreshold == 0 {
		c.Oracle.StalenessThreshold = Duration(30 * time.Second)
	}
	if c.Relayer.PacketTimeout == 0 {
		c.Relayer.PacketTimeout = Duration(5 * time.Minute)
	}
	for id, chain := range c.Chains {
		if chain.Timeout == 0 {
			chain.Timeout = Duration(30 * time.Second)
		}
		if chain.GasAdjustment == 0 {
			chain.GasAdjustment = 1.2
		}
		if chain.MaxRetries == 0 {
			chain.MaxRetries = 3
		}
		c.Chains[id] = chain
	}
}

// Validate checks the router configuration is complete enough to serve
// intents; relaxed compared to production validation for non-production
// environments.
func (c *RouterConfig) Validate() error {
	var errs []string

	if len(c.Solvers.EnabledSolvers) == 0 {
		errs = append(errs, "solvers.enabled_solvers must name at least one solver")
	}
	if c.Settlement.ContractAddress == "" || strings.HasPrefix(c.Settlement.ContractAddress, "${") {
		errs = append(errs, "settlement.contract_address is required")
	}
	if c.Oracle.Endpoint == "" || strings.HasPrefix(c.Oracle.Endpoint, "${") {
		errs = append(errs, "oracle.endpoint is required")
	}
	for id, chain := range c.Chains {
		if chain.RPCURL == "" || strings.HasPrefix(chain.RPCURL, "${") {
			errs = append(errs, fmt.Sprintf("chains.%s.rpc_url is required", id))
		}
	}

	if c.Environment == "production" {
		if c.Fees.FeeRecipient == "" {
			errs = append(errs, "fees.fee_recipient is required in production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("router configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// IsProduction reports whether this configuration targets production.
func (c *RouterConfig) IsProduction() bool { return c.Environment == "production" }

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}
