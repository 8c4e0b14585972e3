package store

import (
	"context"
	"errors"

	"DecentCredit/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Store persists encrypted payloads, the chain index and record metadata.
type Store interface {
	// CreateRecord writes the encrypted payload, its chain index entry and
	// the record in one step. rec.StorageKey is set from the payload's
	// content address.
	CreateRecord(ctx context.Context, rec *models.CreditRecord) error
	GetRecord(ctx context.Context, id string) (*models.CreditRecord, error)
	ListRecords(ctx context.Context, filter models.RecordFilter) ([]*models.CreditRecord, error)
	// UpdateRecordStatus moves a record from one status to another and
	// reports false when the record was not in the expected status.
	UpdateRecordStatus(ctx context.Context, id string, from, to models.RecordStatus) (bool, error)

	GetBlob(ctx context.Context, key string) ([]byte, error)
	GetChainEntry(ctx context.Context, recordID string) (*models.ChainIndexEntry, error)
}
