// Copyright 2025 Certen Protocol
//
// Attestation Service - Multi-Validator Co-Signing of Settlement Outcomes
//
// This service:
// - Broadcasts attestation requests to peer validators once a settlement
//   reaches a terminal state
// - Collects attestations from the network and from itself
// - Aggregates attestations into a single bundle once threshold is met
// - Provides an HTTP handler for peers to exchange attestations
//
// This is NOT on-chain consensus: the aggregated attestation is an
// off-chain co-signed record that downstream systems (a dispute resolver,
// an insurance fund, a subsequent audit) can rely on without re-deriving
// the settlement history themselves. It never gates a settlement's
// progress through pkg/settlement.Manager.

package attestation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/certen/intent-router/pkg/attestation/strategy"
	"github.com/certen/intent-router/pkg/eventbus"
	"github.com/certen/intent-router/pkg/settlement"
)

// Service manages multi-validator attestation collection over settlement
// terminal states.
type Service struct {
	mu sync.RWMutex

	strategy strategy.AttestationStrategy

	validatorID   string
	peerEndpoints []string
	threshold     *strategy.ThresholdConfig
	totalWeight   int64
	timeout       time.Duration

	// pending bundles keyed by settlement ID, cleared once aggregated or
	// swept by CleanupOldBundles
	pending map[string]*pendingBundle

	httpClient *http.Client
	logger     *log.Logger
}

type pendingBundle struct {
	message      *strategy.AttestationMessage
	attestations []*strategy.Attestation
	seen         map[string]bool
	startedAt    time.Time
}

// Config holds service configuration.
type Config struct {
	ValidatorID   string
	Strategy      strategy.AttestationStrategy
	PeerEndpoints []string
	Threshold     *strategy.ThresholdConfig
	TotalWeight   int64
	Timeout       time.Duration
	Logger        *log.Logger
}

// NewService creates a new attestation service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Strategy == nil {
		return nil, fmt.Errorf("attestation: strategy is required")
	}
	if cfg.ValidatorID == "" {
		cfg.ValidatorID = cfg.Strategy.ValidatorID()
	}
	if cfg.Threshold == nil {
		cfg.Threshold = strategy.DefaultThresholdConfig()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[Attestation] ", log.LstdFlags)
	}

	return &Service{
		strategy:      cfg.Strategy,
		validatorID:   cfg.ValidatorID,
		peerEndpoints: cfg.PeerEndpoints,
		threshold:     cfg.Threshold,
		totalWeight:   cfg.TotalWeight,
		timeout:       cfg.Timeout,
		pending:       make(map[string]*pendingBundle),
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        cfg.Logger,
	}, nil
}

// =============================================================================
// Wire types
// =============================================================================

// AttestationRequest is sent to peer validators requesting attestation
// over a settlement's terminal state.
type AttestationRequest struct {
	RequestID           string                         `json:"request_id"`
	Message             *strategy.AttestationMessage   `json:"message"`
	RequestingValidator string                         `json:"requesting_validator"`
	RequestedAt         time.Time                      `json:"requested_at"`
}

// AttestationResponse is the response from a peer validator.
type AttestationResponse struct {
	RequestID   string                 `json:"request_id"`
	Success     bool                   `json:"success"`
	Error       string                 `json:"error,omitempty"`
	Attestation *strategy.Attestation  `json:"attestation,omitempty"`
}

// AttestationStatus tracks the collection status for a settlement.
type AttestationStatus struct {
	SettlementID   string `json:"settlement_id"`
	RequiredWeight int64  `json:"required_weight"`
	AchievedWeight int64  `json:"achieved_weight"`
	IsSufficient   bool   `json:"is_sufficient"`
	Validators     []string `json:"validators"`
	StartedAt      time.Time `json:"started_at"`
}

// =============================================================================
// Settlement record -> attestation message
// =============================================================================

// MessageFromRecord builds the canonical attestation message for a
// settlement that has just reached a terminal state.
func MessageFromRecord(rec settlement.SettlementRecord, at time.Time) *strategy.AttestationMessage {
	msg := &strategy.AttestationMessage{
		SettlementID:    rec.ID,
		Status:          string(rec.Status),
		EscrowTxHash:    rec.EscrowID,
		TransportTxHash: rec.TransportDetail,
		SourceChain:     rec.InputAsset.ChainID,
		DestChain:       rec.OutputAsset.ChainID,
		Timestamp:       at.Unix(),
		SolverID:        rec.SolverID,
	}
	msg.OutcomeHash = hashRecord(rec)
	return msg
}

func hashRecord(rec settlement.SettlementRecord) [32]byte {
	canon, _ := json.Marshal(struct {
		ID           string
		Status       string
		EscrowID     string
		SolverBondID string
		TransportSeq uint64
	}{rec.ID, string(rec.Status), rec.EscrowID, rec.SolverBondID, rec.TransportSequence})
	return sha256.Sum256(canon)
}

// =============================================================================
// Event-bus integration
// =============================================================================

// WatchSettlements subscribes to bus and requests attestations for every
// SettlementComplete/SettlementFailed event, until ctx is cancelled. The
// store is used to load the full record the event only identifies by ID.
func (s *Service) WatchSettlements(ctx context.Context, bus *eventbus.Bus, store settlement.Store) {
	ch, unsubscribe := bus.Subscribe()
	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if evt.Type != eventbus.EventSettlementComplete && evt.Type != eventbus.EventSettlementFailed {
					continue
				}
				rec, err := store.Get(ctx, evt.SettlementID)
				if err != nil {
					s.logger.Printf("skip attestation for %s: load record: %v", evt.SettlementID, err)
					continue
				}
				msg := MessageFromRecord(rec, evt.Timestamp)
				if _, err := s.RequestAttestations(ctx, msg); err != nil {
					s.logger.Printf("attestation collection for %s failed: %v", evt.SettlementID, err)
				}
			}
		}
	}()
}

// =============================================================================
// Attestation collection
// =============================================================================

// RequestAttestations broadcasts attestation requests to all peer
// validators and collects their responses.
func (s *Service) RequestAttestations(ctx context.Context, msg *strategy.AttestationMessage) (*AttestationStatus, error) {
	s.mu.Lock()
	bundle, exists := s.pending[msg.SettlementID]
	if !exists {
		bundle = &pendingBundle{message: msg, seen: make(map[string]bool), startedAt: time.Now()}
		s.pending[msg.SettlementID] = bundle
	}
	s.mu.Unlock()

	s.logger.Printf("requesting attestations from %d peers for settlement %s", len(s.peerEndpoints), msg.SettlementID)

	own, err := s.strategy.Sign(ctx, msg)
	if err != nil {
		s.logger.Printf("failed to create own attestation: %v", err)
	} else {
		s.addAttestation(bundle, own)
	}

	reqID := fmt.Sprintf("%s-%d", msg.SettlementID, time.Now().UnixNano())
	req := &AttestationRequest{
		RequestID:           reqID,
		Message:             msg,
		RequestingValidator: s.validatorID,
		RequestedAt:         time.Now(),
	}

	var wg sync.WaitGroup
	responses := make(chan *AttestationResponse, len(s.peerEndpoints))
	for _, peer := range s.peerEndpoints {
		wg.Add(1)
		go func(peerURL string) {
			defer wg.Done()
			resp, err := s.requestFromPeer(ctx, peerURL, req)
			if err != nil {
				s.logger.Printf("failed to get attestation from %s: %v", peerURL, err)
				return
			}
			responses <- resp
		}(peer)
	}
	go func() {
		wg.Wait()
		close(responses)
	}()

	for resp := range responses {
		if resp.Success && resp.Attestation != nil {
			s.addAttestation(bundle, resp.Attestation)
		}
	}

	return s.statusOf(msg.SettlementID), nil
}

func (s *Service) addAttestation(bundle *pendingBundle, att *strategy.Attestation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bundle.seen[att.ValidatorID] {
		return
	}
	bundle.seen[att.ValidatorID] = true
	bundle.attestations = append(bundle.attestations, att)
}

func (s *Service) requestFromPeer(ctx context.Context, peerURL string, req *AttestationRequest) (*AttestationResponse, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/attestations/request", peerURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Validator-ID", s.validatorID)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("peer returned status %d: %s", resp.StatusCode, string(body))
	}

	var attResp AttestationResponse
	if err := json.Unmarshal(body, &attResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &attResp, nil
}

// =============================================================================
// Receiving side
// =============================================================================

// HandleAttestationRequest processes an attestation request from a peer
// validator and signs the same message if it looks sane.
func (s *Service) HandleAttestationRequest(ctx context.Context, req *AttestationRequest) (*AttestationResponse, error) {
	s.logger.Printf("received attestation request from %s for settlement %s", req.RequestingValidator, req.Message.SettlementID)

	if req.Message.SettlementID == "" {
		return &AttestationResponse{RequestID: req.RequestID, Success: false, Error: "settlement id is required"}, nil
	}

	attestation, err := s.strategy.Sign(ctx, req.Message)
	if err != nil {
		return &AttestationResponse{RequestID: req.RequestID, Success: false, Error: fmt.Sprintf("sign: %v", err)}, nil
	}

	s.mu.Lock()
	bundle, exists := s.pending[req.Message.SettlementID]
	if !exists {
		bundle = &pendingBundle{message: req.Message, seen: make(map[string]bool), startedAt: time.Now()}
		s.pending[req.Message.SettlementID] = bundle
	}
	s.mu.Unlock()
	s.addAttestation(bundle, attestation)

	return &AttestationResponse{RequestID: req.RequestID, Success: true, Attestation: attestation}, nil
}

// ServeHTTP lets Service be mounted directly as an HTTP handler for the
// peer attestation exchange endpoint.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req AttestationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
		return
	}
	resp, err := s.HandleAttestationRequest(r.Context(), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// =============================================================================
// Status and bundle management
// =============================================================================

// statusOf computes the current status for a settlement; caller must not
// hold s.mu.
func (s *Service) statusOf(settlementID string) *AttestationStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bundle, exists := s.pending[settlementID]
	if !exists {
		return nil
	}

	var achieved int64
	validators := make([]string, 0, len(bundle.attestations))
	for _, att := range bundle.attestations {
		achieved += att.Weight
		validators = append(validators, att.ValidatorID)
	}
	required := s.threshold.CalculateThresholdWeight(s.totalWeight)

	return &AttestationStatus{
		SettlementID:   settlementID,
		RequiredWeight: required,
		AchievedWeight: achieved,
		IsSufficient:   s.threshold.IsThresholdMet(achieved, s.totalWeight),
		Validators:     validators,
		StartedAt:      bundle.startedAt,
	}
}

// GetAttestationStatus returns the current status of attestation
// collection for a settlement.
func (s *Service) GetAttestationStatus(settlementID string) *AttestationStatus {
	return s.statusOf(settlementID)
}

// Aggregate builds the aggregated attestation for a settlement, once
// enough individual attestations have been collected. Returns an error
// if threshold has not been met.
func (s *Service) Aggregate(ctx context.Context, settlementID string) (*strategy.AggregatedAttestation, error) {
	s.mu.RLock()
	bundle, exists := s.pending[settlementID]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no pending bundle for settlement %s", settlementID)
	}

	status := s.statusOf(settlementID)
	if !status.IsSufficient {
		return nil, fmt.Errorf("threshold not met for settlement %s: %d/%d", settlementID, status.AchievedWeight, status.RequiredWeight)
	}

	s.mu.RLock()
	attestations := append([]*strategy.Attestation(nil), bundle.attestations...)
	s.mu.RUnlock()

	agg, err := s.strategy.Aggregate(ctx, attestations)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	agg.TotalWeight = s.totalWeight
	agg.ThresholdWeight = status.RequiredWeight
	agg.ThresholdMet = true

	s.mu.Lock()
	delete(s.pending, settlementID)
	s.mu.Unlock()

	return agg, nil
}

// CleanupOldBundles removes pending bundles older than maxAge, for
// settlements whose peers never answered and will never reach threshold.
func (s *Service) CleanupOldBundles(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	count := 0
	for id, bundle := range s.pending {
		if bundle.startedAt.Before(cutoff) {
			delete(s.pending, id)
			count++
		}
	}
	if count > 0 {
		s.logger.Printf("cleaned up %d stale attestation bundles", count)
	}
	return count
}

// =============================================================================
// Peer management
// =============================================================================

// UpdatePeers updates the list of peer endpoints.
func (s *Service) UpdatePeers(peers []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peerEndpoints = peers
	s.logger.Printf("updated peer list: %v", peers)
}

// GetPeers returns the current peer endpoints.
func (s *Service) GetPeers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peerEndpoints
}

// GetValidatorID returns this validator's ID.
func (s *Service) GetValidatorID() string {
	return s.validatorID
}

// GetPublicKey returns this validator's public key for its configured
// scheme.
func (s *Service) GetPublicKey() []byte {
	return s.strategy.PublicKey()
}
