package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"DecentCredit/internal/models"
	"DecentCredit/internal/proof"
	"DecentCredit/internal/store"
)

type Cipher interface {
	Encrypt(data []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

type Prover interface {
	Generate(data []byte) []byte
	Verify(data, proof []byte) bool
}

type Registry interface {
	GetInstitution(ctx context.Context, id string) (*models.Institution, bool)
	IncrementUpload(ctx context.Context, id string, count uint64)
	IncrementOutboundQuery(ctx context.Context, id string)
	IncrementInboundQuery(ctx context.Context, id string)
	IncrementAPICall(ctx context.Context, id string, count uint64)
}

// Settler takes over settlement once a cross-institution read has been
// served. It returns only preparation errors.
type Settler interface {
	Settle(ctx context.Context, payerID string, owner *models.Institution, subjectID, recordID string) error
}

type Observer interface {
	RecordSubmitted(status string)
	RecordVerified(outcome string)
}

type SubmitRequest struct {
	InstitutionID string               `json:"institution_id"`
	RecordType    models.RecordType    `json:"record_type"`
	SubjectID     string               `json:"subject_id"`
	EventDate     string               `json:"event_date"`
	Content       models.RecordContent `json:"content"`
}

type SubmitResult struct {
	RecordID  string              `json:"record_id"`
	Status    models.RecordStatus `json:"status"`
	Timestamp time.Time           `json:"timestamp"`
}

type BatchResult struct {
	SubmittedCount int                 `json:"submitted_count"`
	FailedCount    int                 `json:"failed_count"`
	RecordIDs      []string            `json:"record_ids"`
	Status         models.RecordStatus `json:"status"`
	Timestamp      time.Time           `json:"timestamp"`
}

type VerifyResult struct {
	RecordID  string `json:"record_id"`
	Confirmed bool   `json:"confirmed"`
	Error     string `json:"error,omitempty"`
	Code      int    `json:"code,omitempty"`
}

type RecordStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Confirmed int `json:"confirmed"`
	Rejected  int `json:"rejected"`
}

type RecordService struct {
	Store      store.Store
	Cipher     Cipher
	Proofs     Prover
	Registry   Registry
	Settler    Settler
	Observer   Observer
	BatchLimit int
	Now        func() time.Time

	seq atomic.Uint64
}

// SubmitRecord persists a submission. Content that fails validation is still
// stored, as Rejected, and the returned error is a *ValidationError alongside
// a non-nil result.
func (s *RecordService) SubmitRecord(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.InstitutionID == "" {
		return nil, &ValidationError{Field: "institution_id", Reason: "is required"}
	}
	owner, ok := s.Registry.GetInstitution(ctx, req.InstitutionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstitutionNotFound, req.InstitutionID)
	}

	invalid := validateSubmission(req)

	plain, err := json.Marshal(req.Content)
	if err != nil {
		return nil, err
	}
	sealed, err := s.Cipher.Encrypt(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	now := s.now()
	rec := &models.CreditRecord{
		ID:               s.nextID(now),
		InstitutionID:    req.InstitutionID,
		RecordType:       req.RecordType,
		SubjectID:        req.SubjectID,
		EventDate:        req.EventDate,
		Content:          req.Content,
		EncryptedContent: sealed,
		Proof:            s.Proofs.Generate(sealed),
		Status:           models.StatusPending,
		QueryPrice:       owner.QueryPrice,
		Timestamp:        now,
	}
	if invalid != nil {
		rec.Status = models.StatusRejected
	}
	if err := s.Store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	s.Registry.IncrementUpload(ctx, req.InstitutionID, 1)
	if s.Observer != nil {
		s.Observer.RecordSubmitted(string(rec.Status))
	}

	res := &SubmitResult{RecordID: rec.ID, Status: rec.Status, Timestamp: rec.Timestamp}
	if invalid != nil {
		log.Printf("record %s rejected on submit institution=%s: %v", rec.ID, rec.InstitutionID, invalid)
		return res, invalid
	}
	return res, nil
}

// SubmitBatch submits each request independently. Only the batch bounds fail
// the call as a whole.
func (s *RecordService) SubmitBatch(ctx context.Context, reqs []SubmitRequest) (*BatchResult, error) {
	if len(reqs) == 0 {
		return nil, ErrNoRecords
	}
	if len(reqs) > s.batchLimit() {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(reqs), s.batchLimit())
	}

	out := &BatchResult{RecordIDs: make([]string, 0, len(reqs)), Status: models.StatusPending}
	for i, req := range reqs {
		res, err := s.SubmitRecord(ctx, req)
		if err != nil {
			out.FailedCount++
			log.Printf("batch item %d failed: %v", i, err)
			continue
		}
		out.SubmittedCount++
		out.RecordIDs = append(out.RecordIDs, res.RecordID)
	}
	out.Timestamp = s.now()
	return out, nil
}

// VerifyAndCommit re-checks a pending record against the chain index and its
// stored payload, then moves it to Confirmed or Rejected. Integrity failures
// reject the record and are also returned.
func (s *RecordService) VerifyAndCommit(ctx context.Context, recordID string) (bool, error) {
	rec, err := s.getRecord(ctx, recordID)
	if err != nil {
		return false, err
	}
	if rec.Status.Terminal() {
		return false, fmt.Errorf("%w: %s is %s", ErrInvalidStatus, recordID, rec.Status)
	}

	if verr := s.checkIntegrity(ctx, rec); verr != nil {
		if err := s.transition(ctx, rec.ID, models.StatusRejected); err != nil {
			return false, err
		}
		s.observeVerify("rejected")
		log.Printf("record %s rejected on verify: %v", rec.ID, verr)
		return false, verr
	}

	if !s.Proofs.Verify(rec.EncryptedContent, rec.Proof) {
		if err := s.transition(ctx, rec.ID, models.StatusRejected); err != nil {
			return false, err
		}
		s.observeVerify("rejected")
		log.Printf("record %s rejected on verify: proof recompute mismatch", rec.ID)
		return false, nil
	}

	if err := s.transition(ctx, rec.ID, models.StatusConfirmed); err != nil {
		return false, err
	}
	s.observeVerify("confirmed")
	return true, nil
}

func (s *RecordService) VerifyBatch(ctx context.Context, ids []string) ([]VerifyResult, error) {
	if len(ids) == 0 {
		return nil, ErrNoRecords
	}
	if len(ids) > s.batchLimit() {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(ids), s.batchLimit())
	}
	out := make([]VerifyResult, 0, len(ids))
	for _, id := range ids {
		ok, err := s.VerifyAndCommit(ctx, id)
		res := VerifyResult{RecordID: id, Confirmed: ok}
		if err != nil {
			res.Error = err.Error()
			res.Code = Code(err)
		}
		out = append(out, res)
	}
	return out, nil
}

func (s *RecordService) checkIntegrity(ctx context.Context, rec *models.CreditRecord) error {
	entry, err := s.Store.GetChainEntry(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: no chain index entry", ErrInvalidProof)
		}
		return err
	}
	if !proof.Equal(entry.Proof, rec.Proof) {
		return ErrInvalidProof
	}

	plain, err := s.Cipher.Decrypt(rec.EncryptedContent)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}
	want, err := json.Marshal(rec.Content)
	if err != nil {
		return err
	}
	if !bytes.Equal(plain, want) {
		return ErrInvalidData
	}
	return nil
}

func (s *RecordService) transition(ctx context.Context, id string, to models.RecordStatus) error {
	ok, err := s.Store.UpdateRecordStatus(ctx, id, models.StatusPending, to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidStatus, id)
	}
	return nil
}

// GetRecordByID returns a record the requester may read. A read of another
// institution's record is settled in the background.
func (s *RecordService) GetRecordByID(ctx context.Context, recordID, requester string) (*models.CreditRecord, error) {
	rec, err := s.getRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if !s.accessible(ctx, rec) {
		return nil, ErrRecordNotFound
	}

	var owner *models.Institution
	if rec.InstitutionID != requester {
		owner, err = s.serviceOwner(ctx, rec.InstitutionID)
		if err != nil {
			return nil, err
		}
	}

	s.Registry.IncrementAPICall(ctx, requester, 1)
	if owner != nil {
		s.settle(ctx, requester, owner, rec)
	} else {
		rec.QueryPrice = 0
	}
	return rec, nil
}

// GetRecordsBySubject returns every readable record about subjectID. If any
// foreign owner among them is unknown or has its data service disabled the
// whole call fails and nothing is counted or settled.
func (s *RecordService) GetRecordsBySubject(ctx context.Context, requester, subjectID string) ([]*models.CreditRecord, error) {
	candidates, err := s.Store.ListRecords(ctx, models.RecordFilter{SubjectID: subjectID})
	if err != nil {
		return nil, err
	}

	recs := make([]*models.CreditRecord, 0, len(candidates))
	owners := make(map[string]*models.Institution)
	for _, rec := range candidates {
		if !s.accessible(ctx, rec) {
			continue
		}
		recs = append(recs, rec)
		if rec.InstitutionID == requester {
			continue
		}
		if _, seen := owners[rec.InstitutionID]; seen {
			continue
		}
		owner, err := s.serviceOwner(ctx, rec.InstitutionID)
		if err != nil {
			return nil, err
		}
		owners[rec.InstitutionID] = owner
	}

	for _, rec := range recs {
		if rec.InstitutionID == requester {
			rec.QueryPrice = 0
			continue
		}
		s.Registry.IncrementOutboundQuery(ctx, requester)
		s.Registry.IncrementInboundQuery(ctx, rec.InstitutionID)
		s.settle(ctx, requester, owners[rec.InstitutionID], rec)
	}
	return recs, nil
}

func (s *RecordService) QueryRecords(ctx context.Context, filter models.RecordFilter) ([]*models.CreditRecord, error) {
	return s.Store.ListRecords(ctx, filter)
}

func (s *RecordService) Statistics(ctx context.Context, filter models.RecordFilter) (*RecordStats, error) {
	recs, err := s.Store.ListRecords(ctx, filter)
	if err != nil {
		return nil, err
	}
	st := &RecordStats{Total: len(recs)}
	for _, rec := range recs {
		switch rec.Status {
		case models.StatusPending:
			st.Pending++
		case models.StatusConfirmed:
			st.Confirmed++
		case models.StatusRejected:
			st.Rejected++
		}
	}
	return st, nil
}

func (s *RecordService) serviceOwner(ctx context.Context, id string) (*models.Institution, error) {
	owner, ok := s.Registry.GetInstitution(ctx, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstitutionNotFound, id)
	}
	if !owner.DataServiceEnabled {
		return nil, &ServiceDisabledError{InstitutionID: id}
	}
	return owner, nil
}

func (s *RecordService) settle(ctx context.Context, payer string, owner *models.Institution, rec *models.CreditRecord) {
	if s.Settler == nil {
		return
	}
	if err := s.Settler.Settle(ctx, payer, owner, rec.SubjectID, rec.ID); err != nil {
		log.Printf("settlement not queued record=%s payer=%s owner=%s: %v", rec.ID, payer, owner.ID, err)
	}
}

// accessible reports whether the record's stored payload is still indexed
// and decrypts.
func (s *RecordService) accessible(ctx context.Context, rec *models.CreditRecord) bool {
	entry, err := s.Store.GetChainEntry(ctx, rec.ID)
	if err != nil {
		return false
	}
	blob, err := s.Store.GetBlob(ctx, entry.StorageKey)
	if err != nil {
		return false
	}
	if _, err := s.Cipher.Decrypt(blob); err != nil {
		log.Printf("record %s payload failed to decrypt, hiding from reads", rec.ID)
		return false
	}
	return true
}

func (s *RecordService) getRecord(ctx context.Context, id string) (*models.CreditRecord, error) {
	rec, err := s.Store.GetRecord(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
		}
		return nil, err
	}
	return rec, nil
}

func (s *RecordService) observeVerify(outcome string) {
	if s.Observer != nil {
		s.Observer.RecordVerified(outcome)
	}
}

func (s *RecordService) nextID(now time.Time) string {
	return "REC-" + strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(s.seq.Add(1), 10)
}

func (s *RecordService) batchLimit() int {
	if s.BatchLimit <= 0 {
		return 1000
	}
	return s.BatchLimit
}

func (s *RecordService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
