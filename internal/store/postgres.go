package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"DecentCredit/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

const recordColumns = `
	id, institution_id, record_type, subject_id, event_date, content,
	encrypted_content, proof, storage_key, status, query_price, created_at
`

func (s *Postgres) CreateRecord(ctx context.Context, rec *models.CreditRecord) error {
	key, err := ContentAddress(rec.EncryptedContent)
	if err != nil {
		return err
	}
	content, err := json.Marshal(rec.Content)
	if err != nil {
		return err
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO blobs (storage_key, data) VALUES ($1,$2)
		ON CONFLICT (storage_key) DO NOTHING
	`, key, rec.EncryptedContent); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO chain_index (record_id, storage_key, proof, created_at)
		VALUES ($1,$2,$3,$4)
	`, rec.ID, key, rec.Proof, rec.Timestamp); err != nil {
		return mapUnique(err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_records (`+recordColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		rec.ID,
		rec.InstitutionID,
		rec.RecordType,
		rec.SubjectID,
		rec.EventDate,
		content,
		rec.EncryptedContent,
		rec.Proof,
		key,
		rec.Status,
		int64(rec.QueryPrice),
		rec.Timestamp,
	); err != nil {
		return mapUnique(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	rec.StorageKey = key
	return nil
}

func (s *Postgres) GetRecord(ctx context.Context, id string) (*models.CreditRecord, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM credit_records WHERE id=$1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *Postgres) ListRecords(ctx context.Context, filter models.RecordFilter) ([]*models.CreditRecord, error) {
	var where []string
	var args []any
	add := func(col string, v any) {
		args = append(args, v)
		where = append(where, col+"=$"+strconv.Itoa(len(args)))
	}
	if filter.InstitutionID != "" {
		add("institution_id", filter.InstitutionID)
	}
	if filter.SubjectID != "" {
		add("subject_id", filter.SubjectID)
	}
	if filter.RecordType != "" {
		add("record_type", filter.RecordType)
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}

	query := `SELECT ` + recordColumns + ` FROM credit_records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.CreditRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Postgres) UpdateRecordStatus(ctx context.Context, id string, from, to models.RecordStatus) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE credit_records SET status=$3, updated_at=now()
		WHERE id=$1 AND status=$2
	`, id, from, to)
	if err != nil {
		return false, err
	}
	if res.RowsAffected() > 0 {
		return true, nil
	}
	var exists bool
	if err := s.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM credit_records WHERE id=$1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

func (s *Postgres) GetBlob(ctx context.Context, key string) ([]byte, error) {
	if err := lookupKey(key); err != nil {
		return nil, err
	}
	var data []byte
	err := s.Pool.QueryRow(ctx, `SELECT data FROM blobs WHERE storage_key=$1`, key).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *Postgres) GetChainEntry(ctx context.Context, recordID string) (*models.ChainIndexEntry, error) {
	var e models.ChainIndexEntry
	err := s.Pool.QueryRow(ctx, `
		SELECT record_id, storage_key, proof, created_at FROM chain_index WHERE record_id=$1
	`, recordID).Scan(&e.RecordID, &e.StorageKey, &e.Proof, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanRecord(row pgx.Row) (*models.CreditRecord, error) {
	var rec models.CreditRecord
	var content []byte
	var price int64
	err := row.Scan(
		&rec.ID,
		&rec.InstitutionID,
		&rec.RecordType,
		&rec.SubjectID,
		&rec.EventDate,
		&content,
		&rec.EncryptedContent,
		&rec.Proof,
		&rec.StorageKey,
		&rec.Status,
		&price,
		&rec.Timestamp,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(content, &rec.Content); err != nil {
		return nil, err
	}
	rec.QueryPrice = uint64(price)
	return &rec, nil
}

func mapUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
