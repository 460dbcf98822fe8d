// Copyright 2025 Certen Protocol
//
// intentrouter is the coordination node: it accepts signed intents over
// HTTP, matches them against resting liquidity, routes the residual to
// solvers for cross-chain quotes, drives two-phase settlement to a
// terminal state, and has peer validators co-sign the outcome.

package main

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/intent-router/pkg/attestation"
	"github.com/certen/intent-router/pkg/attestation/strategy"
	"github.com/certen/intent-router/pkg/chainreg"
	"github.com/certen/intent-router/pkg/config"
	"github.com/certen/intent-router/pkg/coordinator"
	"github.com/certen/intent-router/pkg/eventbus"
	"github.com/certen/intent-router/pkg/intent"
	"github.com/certen/intent-router/pkg/matching"
	"github.com/certen/intent-router/pkg/metrics"
	"github.com/certen/intent-router/pkg/oracle"
	"github.com/certen/intent-router/pkg/settlement"
	"github.com/certen/intent-router/pkg/solver"
	"github.com/certen/intent-router/pkg/store"
	"github.com/certen/intent-router/pkg/transport"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus tracks the health of the node's dependencies for the
// /health endpoint, in the same shape-with-explicit-per-component-status
// idiom the validator service used for consensus/database/ethereum.
type HealthStatus struct {
	mu sync.RWMutex

	Status     string `json:"status"` // "ok", "degraded"
	Store      string `json:"store"`
	EVM        string `json:"evm_transport"`
	Accumulate string `json:"accumulate_transport"`
	Attestation string `json:"attestation"`

	startTime time.Time
}

func newHealthStatus() *HealthStatus {
	return &HealthStatus{
		Status:      "ok",
		Store:       "unknown",
		EVM:         "unknown",
		Accumulate:  "unknown",
		Attestation: "unknown",
		startTime:   time.Now(),
	}
}

func (h *HealthStatus) set(field *string, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	*field = value
	h.recomputeLocked()
}

func (h *HealthStatus) SetStore(v string)      { h.set(&h.Store, v) }
func (h *HealthStatus) SetEVM(v string)        { h.set(&h.EVM, v) }
func (h *HealthStatus) SetAccumulate(v string) { h.set(&h.Accumulate, v) }
func (h *HealthStatus) SetAttestation(v string) { h.set(&h.Attestation, v) }

func (h *HealthStatus) recomputeLocked() {
	if h.Store == "disconnected" || h.EVM == "disconnected" || h.Accumulate == "disconnected" {
		h.Status = "degraded"
		return
	}
	h.Status = "ok"
}

func (h *HealthStatus) ToJSON() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	data, _ := json.Marshal(struct {
		Status        string `json:"status"`
		Store         string `json:"store"`
		EVM           string `json:"evm_transport"`
		Accumulate    string `json:"accumulate_transport"`
		Attestation   string `json:"attestation"`
		UptimeSeconds int64  `json:"uptime_seconds"`
	}{
		Status:        h.Status,
		Store:         h.Store,
		EVM:           h.EVM,
		Accumulate:    h.Accumulate,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Attestation:   h.Attestation,
	})
	return data
}

var healthStatus = newHealthStatus()

func main() {
	validatorID := flag.String("validator-id", "", "override VALIDATOR_ID for this node")
	help := flag.Bool("help", false, "show this help message")
	flag.Parse()

	if *help {
		printHelp()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *validatorID != "" {
		cfg.ValidatorID = *validatorID
	}
	if err := cfg.ValidateForDevelopment(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := log.New(os.Stdout, fmt.Sprintf("[%s] ", cfg.ValidatorID), log.LstdFlags)
	logger.Printf("starting intent router node %s", cfg.ValidatorID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Persistence backend ---
	settlementStore, err := newStore(ctx, cfg)
	if err != nil {
		logger.Printf("store init failed, falling back to in-memory store: %v", err)
		healthStatus.SetStore("disconnected")
		settlementStore = settlement.NewMemoryStore()
	} else {
		healthStatus.SetStore("connected")
	}

	// --- Chain registry: which backend kind serves each chain, and which
	// chain pair each trading pair settles over ---
	chainRegistry := chainreg.NewRegistry()
	for chainID, kind := range cfg.ChainKinds {
		if err := chainRegistry.RegisterChain(chainID, chainreg.Kind(kind)); err != nil {
			logger.Printf("skipping chain kind entry %s=%s: %v", chainID, kind, err)
		}
	}

	// --- Transport router ---
	router := transport.NewRouter()
	var evmTransport settlement.Transport
	if cfg.EthereumURL != "" {
		var err error
		evmTransport, err = transport.NewEVMTransport(cfg.EthereumURL, cfg.EthChainID, cfg.EthPrivateKey)
		if err != nil {
			logger.Printf("evm transport init failed: %v", err)
			healthStatus.SetEVM("disconnected")
			evmTransport = nil
		} else {
			healthStatus.SetEVM("connected")
		}
	}
	var accTransport settlement.Transport
	var accSigningKey ed25519.PrivateKey
	if cfg.AccumulateURL != "" {
		var err error
		accSigningKey, err = loadOrGenerateEd25519Key(cfg.AccumulateSigningKeyHex)
		if err != nil {
			logger.Fatalf("accumulate signing key: %v", err)
		}
		accTransport, err = transport.NewAccumulateTransport(cfg.AccumulateURL, accSigningKey, cfg.AccumulateSignerURL, cfg.AccumulateKeyVersion)
		if err != nil {
			logger.Printf("accumulate transport init failed: %v", err)
			healthStatus.SetAccumulate("disconnected")
			accTransport = nil
		} else {
			healthStatus.SetAccumulate("connected")
		}
	}

	backendFor := func(kind chainreg.Kind) settlement.Transport {
		switch kind {
		case chainreg.KindEVM:
			return evmTransport
		case chainreg.KindAccumulate:
			return accTransport
		default:
			return nil
		}
	}

	for _, raw := range cfg.TradingPairs {
		base, quote, ok := splitPair(raw)
		if !ok {
			continue
		}
		pair := matching.NewTradingPair(base, quote)
		routeSpec, ok := cfg.PairChains[raw]
		if !ok {
			logger.Printf("no chain route configured for pair %s, skipping transport registration", pair)
			continue
		}
		fromChain, toChain, ok := splitRoute(routeSpec)
		if !ok {
			logger.Printf("malformed chain route %q for pair %s", routeSpec, pair)
			continue
		}
		if err := chainRegistry.RegisterPair(pair, chainreg.Route{FromChain: fromChain, ToChain: toChain}); err != nil {
			logger.Printf("chain route for pair %s: %v", pair, err)
			continue
		}
		fromKind, _ := chainRegistry.ChainKind(fromChain)
		backend := backendFor(fromKind)
		if backend == nil {
			logger.Printf("no live transport backend for pair %s route %s->%s", pair, fromChain, toChain)
			continue
		}
		router.Register(transport.Route{FromChain: fromChain, ToChain: toChain}, backend)
		logger.Printf("registered transport route %s->%s for pair %s", fromChain, toChain, pair)
	}

	// --- Escrow / solver vault (EVM-backed) ---
	escrow, err := transport.NewEVMEscrow(cfg.EthereumURL, cfg.EthChainID, cfg.EthPrivateKey, cfg.EscrowContractAddress)
	if err != nil {
		logger.Fatalf("escrow init: %v", err)
	}
	vault, err := transport.NewEVMSolverVault(cfg.EthereumURL, cfg.EthChainID, cfg.EthPrivateKey, cfg.SolverVaultContractAddress)
	if err != nil {
		logger.Fatalf("solver vault init: %v", err)
	}

	// --- Metrics, event bus, settlement manager ---
	metricsRecorder := metrics.NewRecorder(nil)
	bus := eventbus.New(eventbus.DefaultBufferSize, logger)

	timeouts := settlement.TimeoutConfig{
		TransportTimeoutSecs: uint64(cfg.TransportTimeout.Seconds()),
		SafetyBufferSecs:     uint64(cfg.UserLockTimeout.Seconds()),
		MaxTimeoutSecs:       uint64(cfg.SettlementTimeout.Seconds()),
	}
	settler, err := settlement.NewManager(settlementStore, escrow, vault, router, timeouts, logger)
	if err != nil {
		logger.Fatalf("settlement manager: %v", err)
	}
	settler = settler.WithMetrics(metricsRecorder).WithEventBus(bus)

	// --- Oracle, solver quotes, coordinator ---
	priceOracle := oracle.NewHTTPOracle(cfg.OracleEndpoint, time.Duration(cfg.OracleStalenessThresholdSec)*time.Second)
	quoteProvider := solver.NewHTTPQuoteProvider(cfg.SolverEndpoints, cfg.QuoteTimeout, logger)

	coord := coordinator.New(settler, priceOracle, quoteProvider, logger).WithMetrics(metricsRecorder)
	for _, raw := range cfg.TradingPairs {
		base, quote, ok := splitPair(raw)
		if !ok {
			logger.Printf("skipping malformed trading pair %q", raw)
			continue
		}
		pair := matching.NewTradingPair(base, quote)
		coord.RegisterPair(pair)
		logger.Printf("registered trading pair %s", pair)
	}

	// --- Attestation service ---
	attestationStrategy, err := newAttestationStrategy(cfg)
	if err != nil {
		logger.Fatalf("attestation strategy: %v", err)
	}
	attestationSvc, err := attestation.NewService(attestation.Config{
		ValidatorID:   cfg.ValidatorID,
		Strategy:      attestationStrategy,
		PeerEndpoints: cfg.AttestationPeerEndpoints,
		Threshold: &strategy.ThresholdConfig{
			Numerator:     uint64(cfg.AttestationThresholdPct),
			Denominator:   100,
			MinValidators: 1,
		},
		TotalWeight: cfg.AttestationTotalWeight,
		Logger:      log.New(os.Stdout, fmt.Sprintf("[%s][attestation] ", cfg.ValidatorID), log.LstdFlags),
	})
	if err != nil {
		logger.Fatalf("attestation service: %v", err)
	}
	healthStatus.SetAttestation("active")
	go attestationSvc.WatchSettlements(ctx, bus, settlementStore)

	// --- HTTP surface ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if healthStatus.Status != "ok" {
			w.WriteHeader(http.StatusOK) // degraded is still a 200 with explanation
		}
		w.Write(healthStatus.ToJSON())
	})
	mux.HandleFunc("/api/intents", handleSubmitIntent(coord, logger))
	mux.HandleFunc("/api/attestations/request", func(w http.ResponseWriter, r *http.Request) {
		attestationSvc.ServeHTTP(w, r)
	})
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	go func() {
		logger.Printf("intent router API listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http server shutdown error: %v", err)
	}
	logger.Printf("stopped")
}

// newStore selects the settlement.Store backend named by cfg.StoreBackend.
func newStore(ctx context.Context, cfg *config.Config) (settlement.Store, error) {
	switch cfg.StoreBackend {
	case "memory", "":
		return settlement.NewMemoryStore(), nil
	case "postgres":
		return store.NewPostgresStore(store.PostgresConfig{
			DSN:             cfg.DatabaseURL,
			MaxOpenConns:    cfg.DatabaseMaxConns,
			MaxIdleConns:    cfg.DatabaseMinConns,
			ConnMaxIdleTime: cfg.DatabaseMaxIdleTime,
			ConnMaxLifetime: cfg.DatabaseMaxLifetime,
		})
	case "firestore":
		return store.NewFirestoreStore(ctx, store.FirestoreConfig{
			ProjectID:       cfg.FirebaseProjectID,
			CredentialsFile: cfg.FirebaseCredentialsFile,
		})
	case "kv":
		db, err := dbm.NewGoLevelDB("settlement", cfg.KVDataDir)
		if err != nil {
			return nil, fmt.Errorf("open kv store at %s: %w", cfg.KVDataDir, err)
		}
		return store.NewKVStore(db), nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

// newAttestationStrategy builds the node's co-signing strategy. Ed25519
// is the default: it needs no trusted setup and is cheap to verify per
// validator, unlike BLS aggregation which only pays off once many
// validators are co-signing the same message.
func newAttestationStrategy(cfg *config.Config) (strategy.AttestationStrategy, error) {
	if cfg.AttestationSigningKeyHex != "" {
		return strategy.NewEd25519StrategyFromKeyHex(cfg.ValidatorID, cfg.AttestationValidatorIndex, cfg.AttestationSigningKeyHex)
	}
	return strategy.NewEd25519StrategyWithNewKey(cfg.ValidatorID, cfg.AttestationValidatorIndex)
}

// loadOrGenerateEd25519Key decodes keyHex into a signing key, or
// generates an ephemeral one for development when keyHex is empty.
func loadOrGenerateEd25519Key(keyHex string) (ed25519.PrivateKey, error) {
	if keyHex == "" {
		_, priv, err := ed25519.GenerateKey(nil)
		return priv, err
	}
	raw, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return ed25519.PrivateKey(raw), nil
}

// splitPair parses a "base/quote" trading pair string.
func splitPair(raw string) (base, quote string, ok bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == '/' {
			return raw[:i], raw[i+1:], raw[:i] != "" && raw[i+1:] != ""
		}
	}
	return "", "", false
}

// splitRoute parses a "fromChain:toChain" chain route string.
func splitRoute(raw string) (fromChain, toChain string, ok bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] == ':' {
			return raw[:i], raw[i+1:], raw[:i] != "" && raw[i+1:] != ""
		}
	}
	return "", "", false
}

// submitIntentResponse is the JSON-safe projection of a
// coordinator.CoordinationOutcome: Err is an error interface, which
// json.Marshal cannot serialize meaningfully on its own.
type submitIntentResponse struct {
	IntentID      string `json:"intent_id"`
	Succeeded     bool   `json:"succeeded"`
	FailedStage   string `json:"failed_stage,omitempty"`
	Error         string `json:"error,omitempty"`
	FillCount     int    `json:"fill_count"`
	SettlementIDs []string `json:"settlement_ids,omitempty"`
}

func handleSubmitIntent(coord *coordinator.Coordinator, logger *log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var in intent.Intent
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, fmt.Sprintf("invalid intent payload: %v", err), http.StatusBadRequest)
			return
		}

		outcome := coord.Coordinate(r.Context(), in, time.Now())

		resp := submitIntentResponse{
			IntentID:  outcome.IntentID,
			Succeeded: outcome.Succeeded(),
			FillCount: len(outcome.InternalFills) + len(outcome.SettlementOutcomes),
		}
		if !outcome.Succeeded() {
			resp.FailedStage = outcome.FailedStage.String()
			resp.Error = outcome.Err.Error()
			logger.Printf("intent %s failed at %s: %v", outcome.IntentID, resp.FailedStage, outcome.Err)
		}
		for _, so := range outcome.SettlementOutcomes {
			resp.SettlementIDs = append(resp.SettlementIDs, so.Record.ID)
		}

		w.Header().Set("Content-Type", "application/json")
		if !outcome.Succeeded() {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}
		json.NewEncoder(w).Encode(resp)
	}
}

func printHelp() {
	fmt.Println("Certen Intent Router")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  intentrouter [OPTIONS]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --validator-id=ID   Validator ID for attestation co-signing (default: VALIDATOR_ID env)")
	fmt.Println("  --help              Show this help message")
}
