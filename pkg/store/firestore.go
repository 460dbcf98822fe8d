// Copyright 2025 Certen Protocol
//
// Firestore-backed settlement.Store, grounded on pkg/firestore/client.go's
// Firebase Admin SDK wiring, adapted from proof-cycle sync to settlement
// record storage. Intended for deployments that already run Firestore
// for real-time UI sync (spec's supplemented "watch my intent settle
// live" feature) and want settlements to land in the same place.
package store

import (
	"context"
	"fmt"
	"time"

	gcpfirestore "cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/certen/intent-router/pkg/settlement"
)

const (
	recordsCollection     = "settlement_records"
	transitionsSubcollection = "transitions"
)

// FirestoreStore persists settlement records as documents in
// recordsCollection, with each record's transition history as an
// ordered subcollection beneath its document.
type FirestoreStore struct {
	client *gcpfirestore.Client
}

// FirestoreConfig configures the Firebase Admin SDK client.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
}

// NewFirestoreStore authenticates against Firebase and returns a usable
// store. Pass an empty CredentialsFile to fall back to
// GOOGLE_APPLICATION_CREDENTIALS.
func NewFirestoreStore(ctx context.Context, cfg FirestoreConfig) (*FirestoreStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("store: init firebase app: %w", err)
	}
	fsClient, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: init firestore client: %w", err)
	}
	return &FirestoreStore{client: fsClient}, nil
}

// Close releases the underlying Firestore client.
func (s *FirestoreStore) Close() error { return s.client.Close() }

type firestoreRecord struct {
	ID                string     `firestore:"id"`
	IntentID          string     `firestore:"intent_id"`
	SolverID          string     `firestore:"solver_id"`
	UserAddress       string     `firestore:"user_address"`
	InputChainID      string     `firestore:"input_chain_id"`
	InputDenom        string     `firestore:"input_denom"`
	InputAmount       string     `firestore:"input_amount"`
	OutputChainID     string     `firestore:"output_chain_id"`
	OutputDenom       string     `firestore:"output_denom"`
	OutputAmount      string     `firestore:"output_amount"`
	Status            string     `firestore:"status"`
	EscrowID          string     `firestore:"escrow_id"`
	SolverBondID      string     `firestore:"solver_bond_id"`
	TransportSequence uint64     `firestore:"transport_sequence"`
	TransportDetail   string     `firestore:"transport_detail"`
	CreatedAt         time.Time  `firestore:"created_at"`
	UpdatedAt         time.Time  `firestore:"updated_at"`
	ExpiresAt         time.Time  `firestore:"expires_at"`
	CompletedAt       *time.Time `firestore:"completed_at,omitempty"`
	ErrorMessage      string     `firestore:"error_message"`
}

func toFirestoreRecord(r settlement.SettlementRecord) firestoreRecord {
	return firestoreRecord{
		ID: r.ID, IntentID: r.IntentID, SolverID: r.SolverID, UserAddress: r.UserAddress,
		InputChainID: r.InputAsset.ChainID, InputDenom: r.InputAsset.Denom, InputAmount: r.InputAsset.Amount.String(),
		OutputChainID: r.OutputAsset.ChainID, OutputDenom: r.OutputAsset.Denom, OutputAmount: r.OutputAsset.Amount.String(),
		Status: string(r.Status), EscrowID: r.EscrowID, SolverBondID: r.SolverBondID,
		TransportSequence: r.TransportSequence, TransportDetail: r.TransportDetail,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, ExpiresAt: r.ExpiresAt,
		CompletedAt: r.CompletedAt, ErrorMessage: r.ErrorMessage,
	}
}

func fromFirestoreRecord(fr firestoreRecord) (settlement.SettlementRecord, error) {
	inputAmount, err := decimalFromString(fr.InputAmount)
	if err != nil {
		return settlement.SettlementRecord{}, err
	}
	outputAmount, err := decimalFromString(fr.OutputAmount)
	if err != nil {
		return settlement.SettlementRecord{}, err
	}
	return settlement.SettlementRecord{
		ID: fr.ID, IntentID: fr.IntentID, SolverID: fr.SolverID, UserAddress: fr.UserAddress,
		InputAsset:  settlement.Asset{ChainID: fr.InputChainID, Denom: fr.InputDenom, Amount: inputAmount},
		OutputAsset: settlement.Asset{ChainID: fr.OutputChainID, Denom: fr.OutputDenom, Amount: outputAmount},
		Status:      settlement.Status(fr.Status),
		EscrowID:    fr.EscrowID, SolverBondID: fr.SolverBondID,
		TransportSequence: fr.TransportSequence, TransportDetail: fr.TransportDetail,
		CreatedAt: fr.CreatedAt, UpdatedAt: fr.UpdatedAt, ExpiresAt: fr.ExpiresAt,
		CompletedAt: fr.CompletedAt, ErrorMessage: fr.ErrorMessage,
	}, nil
}

func (s *FirestoreStore) Create(ctx context.Context, record settlement.SettlementRecord) error {
	ref := s.client.Collection(recordsCollection).Doc(record.ID)
	_, err := ref.Create(ctx, toFirestoreRecord(record))
	if err != nil {
		return settlement.ErrDuplicateID
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (settlement.SettlementRecord, error) {
	snap, err := s.client.Collection(recordsCollection).Doc(id).Get(ctx)
	if err != nil {
		return settlement.SettlementRecord{}, settlement.ErrNotFound
	}
	var fr firestoreRecord
	if err := snap.DataTo(&fr); err != nil {
		return settlement.SettlementRecord{}, err
	}
	return fromFirestoreRecord(fr)
}

func (s *FirestoreStore) GetByIntent(ctx context.Context, intentID string) (settlement.SettlementRecord, error) {
	iter := s.client.Collection(recordsCollection).
		Where("intent_id", "==", intentID).
		OrderBy("created_at", gcpfirestore.Desc).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return settlement.SettlementRecord{}, settlement.ErrNotFound
	}
	if err != nil {
		return settlement.SettlementRecord{}, err
	}
	var fr firestoreRecord
	if err := doc.DataTo(&fr); err != nil {
		return settlement.SettlementRecord{}, err
	}
	return fromFirestoreRecord(fr)
}

func (s *FirestoreStore) ListByStatus(ctx context.Context, status settlement.Status, limit int) ([]settlement.SettlementRecord, error) {
	q := s.client.Collection(recordsCollection).Where("status", "==", string(status)).OrderBy("created_at", gcpfirestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.queryRecords(ctx, q)
}

func (s *FirestoreStore) ListStuck(ctx context.Context, now time.Time) ([]settlement.SettlementRecord, error) {
	q := s.client.Collection(recordsCollection).Where("expires_at", "<", now).OrderBy("expires_at", gcpfirestore.Asc)
	recs, err := s.queryRecords(ctx, q)
	if err != nil {
		return nil, err
	}
	var stuck []settlement.SettlementRecord
	for _, r := range recs {
		if !r.Status.IsTerminal() {
			stuck = append(stuck, r)
		}
	}
	return stuck, nil
}

func (s *FirestoreStore) ListBySolver(ctx context.Context, solverID string, limit int) ([]settlement.SettlementRecord, error) {
	q := s.client.Collection(recordsCollection).Where("solver_id", "==", solverID).OrderBy("created_at", gcpfirestore.Asc)
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.queryRecords(ctx, q)
}

func (s *FirestoreStore) queryRecords(ctx context.Context, q gcpfirestore.Query) ([]settlement.SettlementRecord, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []settlement.SettlementRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		var fr firestoreRecord
		if err := doc.DataTo(&fr); err != nil {
			return nil, err
		}
		rec, err := fromFirestoreRecord(fr)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *FirestoreStore) UpdateWithTransition(ctx context.Context, record settlement.SettlementRecord, transition settlement.StateTransition) error {
	recordRef := s.client.Collection(recordsCollection).Doc(record.ID)
	transitionRef := recordRef.Collection(transitionsSubcollection).NewDoc()

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *gcpfirestore.Transaction) error {
		if err := tx.Set(recordRef, toFirestoreRecord(record)); err != nil {
			return err
		}
		return tx.Set(transitionRef, map[string]interface{}{
			"from":      string(transition.From),
			"to":        string(transition.To),
			"timestamp": transition.Timestamp,
			"details":   transition.Details,
			"tx_hash":   transition.TxHash,
			"seq":       transition.Timestamp.UnixNano(),
		})
	})
	return err
}

func (s *FirestoreStore) GetHistory(ctx context.Context, id string) ([]settlement.StateTransition, error) {
	iter := s.client.Collection(recordsCollection).Doc(id).Collection(transitionsSubcollection).
		OrderBy("seq", gcpfirestore.Asc).Documents(ctx)
	defer iter.Stop()

	var out []settlement.StateTransition
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		data := doc.Data()
		ts, _ := data["timestamp"].(time.Time)
		out = append(out, settlement.StateTransition{
			From:      settlement.Status(fmt.Sprint(data["from"])),
			To:        settlement.Status(fmt.Sprint(data["to"])),
			Timestamp: ts,
			Details:   fmt.Sprint(data["details"]),
			TxHash:    fmt.Sprint(data["tx_hash"]),
		})
	}
	return out, nil
}
