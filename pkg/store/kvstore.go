// Copyright 2025 Certen Protocol
//
// Embedded KV-backed settlement.Store, grounded on pkg/kvdb/adapter.go's
// use of CometBFT's dbm.DB: a single embedded database (goleveldb,
// badger, rocksdb - whichever backend the caller opens) holding JSON-
// encoded records plus a small set of secondary-index keys for the
// lookups Store needs beyond get-by-id.

package store

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/certen/intent-router/pkg/settlement"
)

const (
	recordPrefix = "rec/"
	intentPrefix = "idx/intent/"
	solverPrefix = "idx/solver/"
	statusPrefix = "idx/status/"
)

// KVStore is a settlement.Store backed by an embedded CometBFT dbm.DB.
// Unlike PostgresStore it has no transactional write path across the
// record update and its secondary indexes; UpdateWithTransition instead
// performs the writes in an order that leaves the record itself as the
// single source of truth if a crash interrupts index maintenance (the
// indexes are rebuildable by a full scan, the record is not).
type KVStore struct {
	db dbm.DB
}

// NewKVStore wraps an already-open dbm.DB. Callers choose the backend
// (goleveldb for embedded single-node deployments, badger for higher
// write throughput) via dbm.NewDB.
func NewKVStore(db dbm.DB) *KVStore {
	return &KVStore{db: db}
}

func (s *KVStore) Create(_ context.Context, record settlement.SettlementRecord) error {
	key := []byte(recordPrefix + record.ID)
	has, err := s.db.Has(key)
	if err != nil {
		return err
	}
	if has {
		return settlement.ErrDuplicateID
	}
	return s.writeRecord(record)
}

func (s *KVStore) Get(_ context.Context, id string) (settlement.SettlementRecord, error) {
	return s.readRecord(id)
}

func (s *KVStore) GetByIntent(_ context.Context, intentID string) (settlement.SettlementRecord, error) {
	it, err := s.db.Iterator([]byte(intentPrefix+intentID+"/"), prefixEnd(intentPrefix+intentID+"/"))
	if err != nil {
		return settlement.SettlementRecord{}, err
	}
	defer it.Close()

	var latest settlement.SettlementRecord
	found := false
	for ; it.Valid(); it.Next() {
		rec, err := s.readRecord(string(it.Value()))
		if err != nil {
			continue
		}
		if !found || rec.CreatedAt.After(latest.CreatedAt) {
			latest, found = rec, true
		}
	}
	if !found {
		return settlement.SettlementRecord{}, settlement.ErrNotFound
	}
	return latest, nil
}

func (s *KVStore) ListByStatus(_ context.Context, status settlement.Status, limit int) ([]settlement.SettlementRecord, error) {
	it, err := s.db.Iterator([]byte(statusPrefix+string(status)+"/"), prefixEnd(statusPrefix+string(status)+"/"))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []settlement.SettlementRecord
	for ; it.Valid(); it.Next() {
		rec, err := s.readRecord(string(it.Value()))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	sortByCreatedAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *KVStore) ListStuck(_ context.Context, now time.Time) ([]settlement.SettlementRecord, error) {
	all, err := s.scanAllRecords()
	if err != nil {
		return nil, err
	}
	var out []settlement.SettlementRecord
	for _, rec := range all {
		if rec.IsStuck(now) {
			out = append(out, rec)
		}
	}
	sortByCreatedAt(out)
	return out, nil
}

func (s *KVStore) ListBySolver(_ context.Context, solverID string, limit int) ([]settlement.SettlementRecord, error) {
	it, err := s.db.Iterator([]byte(solverPrefix+solverID+"/"), prefixEnd(solverPrefix+solverID+"/"))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []settlement.SettlementRecord
	for ; it.Valid(); it.Next() {
		rec, err := s.readRecord(string(it.Value()))
		if err != nil {
			continue
		}
		out = append(out, rec)
	}
	sortByCreatedAt(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *KVStore) UpdateWithTransition(_ context.Context, record settlement.SettlementRecord, transition settlement.StateTransition) error {
	prev, err := s.readRecord(record.ID)
	if err != nil {
		return err
	}
	if err := s.writeRecord(record); err != nil {
		return err
	}
	if prev.Status != record.Status {
		if err := s.db.Delete([]byte(statusPrefix + string(prev.Status) + "/" + record.ID)); err != nil {
			return err
		}
		if err := s.db.SetSync([]byte(statusPrefix+string(record.Status)+"/"+record.ID), []byte(record.ID)); err != nil {
			return err
		}
	}

	history, err := s.readHistory(record.ID)
	if err != nil {
		return err
	}
	history = append(history, transition)
	return s.writeHistory(record.ID, history)
}

func (s *KVStore) GetHistory(_ context.Context, id string) ([]settlement.StateTransition, error) {
	return s.readHistory(id)
}

func (s *KVStore) writeRecord(record settlement.SettlementRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	if err := s.db.SetSync([]byte(recordPrefix+record.ID), data); err != nil {
		return err
	}
	if err := s.db.SetSync([]byte(intentPrefix+record.IntentID+"/"+record.ID), []byte(record.ID)); err != nil {
		return err
	}
	if err := s.db.SetSync([]byte(solverPrefix+record.SolverID+"/"+record.ID), []byte(record.ID)); err != nil {
		return err
	}
	return s.db.SetSync([]byte(statusPrefix+string(record.Status)+"/"+record.ID), []byte(record.ID))
}

func (s *KVStore) readRecord(id string) (settlement.SettlementRecord, error) {
	data, err := s.db.Get([]byte(recordPrefix + id))
	if err != nil {
		return settlement.SettlementRecord{}, err
	}
	if data == nil {
		return settlement.SettlementRecord{}, settlement.ErrNotFound
	}
	var rec settlement.SettlementRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return settlement.SettlementRecord{}, err
	}
	return rec, nil
}

func (s *KVStore) readHistory(id string) ([]settlement.StateTransition, error) {
	data, err := s.db.Get([]byte("hist/" + id))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, nil
	}
	var history []settlement.StateTransition
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *KVStore) writeHistory(id string, history []settlement.StateTransition) error {
	data, err := json.Marshal(history)
	if err != nil {
		return err
	}
	return s.db.SetSync([]byte("hist/"+id), data)
}

func (s *KVStore) scanAllRecords() ([]settlement.SettlementRecord, error) {
	it, err := s.db.Iterator([]byte(recordPrefix), prefixEnd(recordPrefix))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []settlement.SettlementRecord
	for ; it.Valid(); it.Next() {
		var rec settlement.SettlementRecord
		if err := json.Unmarshal(it.Value(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// prefixEnd returns the smallest key greater than every key with the
// given prefix, for use as an Iterator's exclusive end bound.
func prefixEnd(prefix string) []byte {
	b := []byte(prefix)
	end := make([]byte, len(b))
	copy(end, b)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func sortByCreatedAt(records []settlement.SettlementRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
}
