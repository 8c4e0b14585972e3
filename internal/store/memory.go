package store

import (
	"context"
	"sort"
	"sync"

	"DecentCredit/internal/models"
)

type Memory struct {
	mu        sync.RWMutex
	records   map[string]*models.CreditRecord
	bySubject map[string][]string
	blobs     map[string][]byte
	chain     map[string]models.ChainIndexEntry
}

func NewMemory() *Memory {
	return &Memory{
		records:   make(map[string]*models.CreditRecord),
		bySubject: make(map[string][]string),
		blobs:     make(map[string][]byte),
		chain:     make(map[string]models.ChainIndexEntry),
	}
}

func (m *Memory) CreateRecord(_ context.Context, rec *models.CreditRecord) error {
	key, err := ContentAddress(rec.EncryptedContent)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; ok {
		return ErrDuplicate
	}
	rec.StorageKey = key
	m.blobs[key] = append([]byte(nil), rec.EncryptedContent...)
	m.chain[rec.ID] = models.ChainIndexEntry{
		RecordID:   rec.ID,
		StorageKey: key,
		Proof:      append([]byte(nil), rec.Proof...),
		CreatedAt:  rec.Timestamp,
	}
	m.records[rec.ID] = rec.Clone()
	m.bySubject[rec.SubjectID] = append(m.bySubject[rec.SubjectID], rec.ID)
	return nil
}

func (m *Memory) GetRecord(_ context.Context, id string) (*models.CreditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (m *Memory) ListRecords(_ context.Context, filter models.RecordFilter) ([]*models.CreditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.CreditRecord
	if filter.SubjectID != "" {
		for _, id := range m.bySubject[filter.SubjectID] {
			if rec := m.records[id]; filter.Match(rec) {
				out = append(out, rec.Clone())
			}
		}
	} else {
		for _, rec := range m.records {
			if filter.Match(rec) {
				out = append(out, rec.Clone())
			}
		}
	}
	sortRecords(out)
	return out, nil
}

func (m *Memory) UpdateRecordStatus(_ context.Context, id string, from, to models.RecordStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Status != from {
		return false, nil
	}
	rec.Status = to
	return true, nil
}

func (m *Memory) GetBlob(_ context.Context, key string) ([]byte, error) {
	if err := lookupKey(key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (m *Memory) GetChainEntry(_ context.Context, recordID string) (*models.ChainIndexEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.chain[recordID]
	if !ok {
		return nil, ErrNotFound
	}
	e.Proof = append([]byte(nil), e.Proof...)
	return &e, nil
}

// TamperBlob overwrites a stored payload in place. Integrity tests use it to
// simulate storage corruption.
func (m *Memory) TamperBlob(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
}

// TamperChainProof overwrites the proof held in the chain index.
func (m *Memory) TamperChainProof(recordID string, p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.chain[recordID]
	e.Proof = append([]byte(nil), p...)
	m.chain[recordID] = e
}

// TamperRecord replaces the stored record without touching blob or chain index.
func (m *Memory) TamperRecord(rec *models.CreditRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec.Clone()
}

func sortRecords(recs []*models.CreditRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Timestamp.Equal(recs[j].Timestamp) {
			return recs[i].ID < recs[j].ID
		}
		return recs[i].Timestamp.Before(recs[j].Timestamp)
	})
}
