package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"DecentCredit/internal/crypt"
	"DecentCredit/internal/ledger"
	"DecentCredit/internal/models"
	"DecentCredit/internal/proof"
	"DecentCredit/internal/registry"
	"DecentCredit/internal/settlement"
	"DecentCredit/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type settleCall struct {
	Payer    string
	Owner    string
	Subject  string
	RecordID string
}

type recordingSettler struct {
	mu    sync.Mutex
	calls []settleCall
}

func (r *recordingSettler) Settle(_ context.Context, payer string, owner *models.Institution, subject, recordID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, settleCall{payer, owner.ID, subject, recordID})
	return nil
}

type fixture struct {
	svc      *RecordService
	store    *store.Memory
	registry *registry.Memory
	settler  *recordingSettler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cp, err := crypt.NewRandom()
	require.NoError(t, err)
	key, err := cp.Derive("record-proof", proof.KeySize)
	require.NoError(t, err)
	gen, err := proof.New(key)
	require.NoError(t, err)

	reg := registry.NewMemory()
	reg.Put(models.Institution{ID: "A", QueryPrice: 100, RewardShareRatio: 10, DataServiceEnabled: true})
	reg.Put(models.Institution{ID: "B", QueryPrice: 50, DataServiceEnabled: true})
	reg.Put(models.Institution{ID: "C", QueryPrice: 70, DataServiceEnabled: false})

	st := store.NewMemory()
	settler := &recordingSettler{}
	return &fixture{
		svc: &RecordService{
			Store:      st,
			Cipher:     cp,
			Proofs:     gen,
			Registry:   reg,
			Settler:    settler,
			BatchLimit: 1000,
		},
		store:    st,
		registry: reg,
		settler:  settler,
	}
}

func loanRequest(inst, subject string) SubmitRequest {
	return SubmitRequest{
		InstitutionID: inst,
		RecordType:    models.RecordLoan,
		SubjectID:     subject,
		EventDate:     "2024-05-01",
		Content: models.RecordContent{Loan: &models.LoanContent{
			Amount: 5000, LoanID: "L-1", TermMonths: 12, InterestRate: 4.5,
		}},
	}
}

func (f *fixture) submit(t *testing.T, req SubmitRequest) string {
	t.Helper()
	res, err := f.svc.SubmitRecord(context.Background(), req)
	require.NoError(t, err)
	return res.RecordID
}

func TestSubmitAndVerifyRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.SubmitRecord(ctx, loanRequest("A", "S1"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, res.Status)
	assert.Regexp(t, `^REC-\d+-\d+$`, res.RecordID)

	rec, err := f.store.GetRecord(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), rec.QueryPrice)
	assert.Len(t, rec.Proof, proof.Size)
	require.NoError(t, store.CheckAddress(rec.StorageKey))

	ok, err := f.svc.VerifyAndCommit(ctx, res.RecordID)
	require.NoError(t, err)
	assert.True(t, ok)

	rec, err = f.store.GetRecord(ctx, res.RecordID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rec.Status)

	inst, _ := f.registry.GetInstitution(ctx, "A")
	assert.Equal(t, uint64(1), inst.DataUploads)
}

func TestSubmitValidationStillPersists(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
		field  string
	}{
		{"loan zero amount", func(r *SubmitRequest) { r.Content.Loan.Amount = 0 }, "amount"},
		{"loan missing id", func(r *SubmitRequest) { r.Content.Loan.LoanID = "" }, "loan_id"},
		{"loan zero term", func(r *SubmitRequest) { r.Content.Loan.TermMonths = 0 }, "term_months"},
		{"loan zero rate", func(r *SubmitRequest) { r.Content.Loan.InterestRate = 0 }, "interest_rate"},
		{"loan rate above 100", func(r *SubmitRequest) { r.Content.Loan.InterestRate = 100.5 }, "interest_rate"},
		{"repayment zero amount", func(r *SubmitRequest) {
			r.RecordType = models.RecordRepayment
			r.Content = models.RecordContent{Repayment: &models.RepaymentContent{LoanID: "L-1"}}
		}, "amount"},
		{"overdue zero amount", func(r *SubmitRequest) {
			r.RecordType = models.RecordOverdue
			r.Content = models.RecordContent{Overdue: &models.OverdueContent{OverdueDays: 3}}
		}, "amount"},
		{"overdue zero days", func(r *SubmitRequest) {
			r.RecordType = models.RecordOverdue
			r.Content = models.RecordContent{Overdue: &models.OverdueContent{Amount: 10}}
		}, "overdue_days"},
		{"type mismatch", func(r *SubmitRequest) { r.RecordType = models.RecordOverdue }, "content"},
		{"unknown type", func(r *SubmitRequest) { r.RecordType = "mortgage" }, "record_type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			req := loanRequest("A", "S1")
			tt.mutate(&req)

			res, err := f.svc.SubmitRecord(ctx, req)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.field, verr.Field)

			require.NotNil(t, res)
			assert.Equal(t, models.StatusRejected, res.Status)

			recs, err := f.svc.GetRecordsBySubject(ctx, "A", "S1")
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, models.StatusRejected, recs[0].Status)

			inst, _ := f.registry.GetInstitution(ctx, "A")
			assert.Equal(t, uint64(1), inst.DataUploads)
		})
	}
}

func TestSubmitUnknownInstitution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.SubmitRecord(ctx, loanRequest("nobody", "S1"))
	assert.ErrorIs(t, err, ErrInstitutionNotFound)

	_, err = f.svc.SubmitRecord(ctx, loanRequest("", "S1"))
	assert.ErrorIs(t, err, ErrValidation)

	recs, err := f.svc.QueryRecords(ctx, models.RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSubmitConcurrentIDsUnique(t *testing.T) {
	f := newFixture(t)
	const n = 64
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.SubmitRecord(context.Background(), loanRequest("A", "S1"))
			if assert.NoError(t, err) {
				ids <- res.RecordID
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestSubmitBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.SubmitBatch(ctx, nil)
		assert.ErrorIs(t, err, ErrNoRecords)
		assert.EqualError(t, err, "no records")
	})

	t.Run("too large", func(t *testing.T) {
		f := newFixture(t)
		reqs := make([]SubmitRequest, 1001)
		for i := range reqs {
			reqs[i] = loanRequest("A", "S1")
		}
		_, err := f.svc.SubmitBatch(ctx, reqs)
		assert.ErrorIs(t, err, ErrBatchTooLarge)
		assert.Contains(t, err.Error(), "batch too large")

		recs, _ := f.svc.QueryRecords(ctx, models.RecordFilter{})
		assert.Empty(t, recs)
	})

	t.Run("full batch", func(t *testing.T) {
		f := newFixture(t)
		reqs := make([]SubmitRequest, 1000)
		for i := range reqs {
			reqs[i] = loanRequest("A", fmt.Sprintf("S%d", i%7))
		}
		res, err := f.svc.SubmitBatch(ctx, reqs)
		require.NoError(t, err)
		assert.Equal(t, 1000, res.SubmittedCount)
		assert.Equal(t, 0, res.FailedCount)
		assert.Len(t, res.RecordIDs, 1000)
	})

	t.Run("partial failures", func(t *testing.T) {
		f := newFixture(t)
		bad := loanRequest("A", "S1")
		bad.Content.Loan.Amount = 0
		res, err := f.svc.SubmitBatch(ctx, []SubmitRequest{loanRequest("A", "S1"), bad, loanRequest("nobody", "S1")})
		require.NoError(t, err)
		assert.Equal(t, 1, res.SubmittedCount)
		assert.Equal(t, 2, res.FailedCount)

		st, err := f.svc.Statistics(ctx, models.RecordFilter{})
		require.NoError(t, err)
		assert.Equal(t, RecordStats{Total: 2, Pending: 1, Rejected: 1}, *st)
	})
}

func TestVerifyAndCommitNonPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, loanRequest("A", "S1"))

	ok, err := f.svc.VerifyAndCommit(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	for i := 0; i < 2; i++ {
		ok, err = f.svc.VerifyAndCommit(ctx, id)
		assert.ErrorIs(t, err, ErrInvalidStatus)
		assert.False(t, ok)
	}
	rec, err := f.store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, rec.Status)

	_, err = f.svc.VerifyAndCommit(ctx, "REC-missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	bad := loanRequest("A", "S1")
	bad.Content.Loan.Amount = 0
	res, err := f.svc.SubmitRecord(ctx, bad)
	require.ErrorIs(t, err, ErrValidation)
	ok, err = f.svc.VerifyAndCommit(ctx, res.RecordID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.False(t, ok)
}

func TestVerifyAndCommitIntegrityFailures(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(f *fixture, rec *models.CreditRecord)
		want   error
	}{
		{
			name: "chain proof differs",
			tamper: func(f *fixture, rec *models.CreditRecord) {
				f.store.TamperChainProof(rec.ID, make([]byte, proof.Size))
			},
			want: ErrInvalidProof,
		},
		{
			name: "ciphertext corrupted",
			tamper: func(f *fixture, rec *models.CreditRecord) {
				rec.EncryptedContent[len(rec.EncryptedContent)-1] ^= 0xff
				f.store.TamperRecord(rec)
			},
			want: ErrEncryptionFailed,
		},
		{
			name: "plaintext content edited",
			tamper: func(f *fixture, rec *models.CreditRecord) {
				rec.Content.Loan.Amount++
				f.store.TamperRecord(rec)
			},
			want: ErrInvalidData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			id := f.submit(t, loanRequest("A", "S1"))
			rec, err := f.store.GetRecord(ctx, id)
			require.NoError(t, err)
			tt.tamper(f, rec)

			ok, err := f.svc.VerifyAndCommit(ctx, id)
			assert.ErrorIs(t, err, tt.want)
			assert.False(t, ok)

			rec, err = f.store.GetRecord(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.StatusRejected, rec.Status)
		})
	}
}

func TestVerifyAndCommitProofRecomputeMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, loanRequest("A", "S1"))
	rec, err := f.store.GetRecord(ctx, id)
	require.NoError(t, err)

	forged := make([]byte, proof.Size)
	forged[0] = 1
	rec.Proof = forged
	f.store.TamperRecord(rec)
	f.store.TamperChainProof(id, forged)

	ok, err := f.svc.VerifyAndCommit(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err = f.store.GetRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rec.Status)
}

func TestVerifyBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, loanRequest("A", "S1"))

	results, err := f.svc.VerifyBatch(ctx, []string{id, id, "REC-missing"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Confirmed)
	assert.Empty(t, results[0].Error)
	assert.Equal(t, 1008, results[1].Code)
	assert.Equal(t, 1006, results[2].Code)
}

func TestVerifyBatchBounds(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.VerifyBatch(ctx, nil)
		assert.ErrorIs(t, err, ErrNoRecords)
	})

	t.Run("too large", func(t *testing.T) {
		f := newFixture(t)
		id := f.submit(t, loanRequest("A", "S1"))
		ids := make([]string, 1001)
		for i := range ids {
			ids[i] = id
		}
		_, err := f.svc.VerifyBatch(ctx, ids)
		assert.ErrorIs(t, err, ErrBatchTooLarge)
		assert.Equal(t, 2003, Code(err))

		rec, err := f.store.GetRecord(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, rec.Status)
	})
}

func TestGetRecordsBySubjectSettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	own := f.submit(t, loanRequest("B", "S1"))
	foreign := f.submit(t, loanRequest("A", "S1"))
	f.submit(t, loanRequest("A", "S2"))

	recs, err := f.svc.GetRecordsBySubject(ctx, "B", "S1")
	require.NoError(t, err)
	require.Len(t, recs, 2)

	prices := map[string]uint64{}
	for _, r := range recs {
		prices[r.ID] = r.QueryPrice
	}
	assert.Equal(t, uint64(0), prices[own])
	assert.Equal(t, uint64(100), prices[foreign])

	require.Len(t, f.settler.calls, 1)
	assert.Equal(t, settleCall{"B", "A", "S1", foreign}, f.settler.calls[0])

	b, _ := f.registry.GetInstitution(ctx, "B")
	a, _ := f.registry.GetInstitution(ctx, "A")
	assert.Equal(t, uint64(1), b.OutboundQueries)
	assert.Equal(t, uint64(1), a.InboundQueries)
}

func TestGetRecordsBySubjectSelfExempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submit(t, loanRequest("A", "S1"))
	f.submit(t, loanRequest("A", "S1"))

	recs, err := f.svc.GetRecordsBySubject(ctx, "A", "S1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Zero(t, r.QueryPrice)
	}
	assert.Empty(t, f.settler.calls)
}

func TestGetRecordsBySubjectDisabledOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submit(t, loanRequest("A", "S1"))
	f.submit(t, loanRequest("C", "S1"))

	recs, err := f.svc.GetRecordsBySubject(ctx, "B", "S1")
	require.Error(t, err)
	assert.Nil(t, recs)
	assert.ErrorIs(t, err, ErrServiceDisabled)
	var sde *ServiceDisabledError
	require.True(t, errors.As(err, &sde))
	assert.Equal(t, "C", sde.InstitutionID)
	assert.Contains(t, err.Error(), "C")

	assert.Empty(t, f.settler.calls)
	b, _ := f.registry.GetInstitution(ctx, "B")
	assert.Zero(t, b.OutboundQueries)
}

func TestGetRecordsBySubjectSkipsUndecryptable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, loanRequest("A", "S1"))
	rec, err := f.store.GetRecord(ctx, id)
	require.NoError(t, err)
	f.store.TamperBlob(rec.StorageKey, []byte("garbage"))

	recs, err := f.svc.GetRecordsBySubject(ctx, "B", "S1")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Empty(t, f.settler.calls)
}

func TestGetRecordByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.submit(t, loanRequest("A", "S1"))

	rec, err := f.svc.GetRecordByID(ctx, id, "A")
	require.NoError(t, err)
	assert.Zero(t, rec.QueryPrice)
	assert.Empty(t, f.settler.calls)

	rec, err = f.svc.GetRecordByID(ctx, id, "B")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), rec.QueryPrice)
	require.Len(t, f.settler.calls, 1)
	assert.Equal(t, "B", f.settler.calls[0].Payer)

	b, _ := f.registry.GetInstitution(ctx, "B")
	assert.Equal(t, uint64(1), b.APICalls)

	_, err = f.svc.GetRecordByID(ctx, "REC-missing", "B")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	stored, _ := f.store.GetRecord(ctx, id)
	f.store.TamperBlob(stored.StorageKey, []byte("garbage"))
	_, err = f.svc.GetRecordByID(ctx, id, "B")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestQueryRecordsHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.submit(t, loanRequest("A", "S1"))
	f.submit(t, loanRequest("B", "S1"))

	recs, err := f.svc.QueryRecords(ctx, models.RecordFilter{InstitutionID: "A"})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
	assert.Empty(t, f.settler.calls)

	a, _ := f.registry.GetInstitution(ctx, "A")
	assert.Zero(t, a.APICalls)
	assert.Zero(t, a.InboundQueries)
}

type fundedLedger struct{}

func (fundedLedger) BalanceOf(context.Context, string) (uint64, error) { return 1 << 20, nil }

func (fundedLedger) Transfer(context.Context, ledger.TransferRequest) (*ledger.TransferResult, error) {
	return &ledger.TransferResult{TxHash: "tx"}, nil
}

func TestSubjectQueryRewardArithmetic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := settlement.NewWorker(fundedLedger{}, settlement.Config{Treasury: "treasury", MaxAttempts: 1})
	f.svc.Settler = worker

	f.submit(t, loanRequest("A", "S1"))
	f.submit(t, loanRequest("B", "S1"))

	_, err := f.svc.GetRecordsBySubject(ctx, "A", "S1")
	require.NoError(t, err)

	// A pays B's price with no reward; B pays A's price and A earns 10%.
	_, err = f.svc.GetRecordsBySubject(ctx, "B", "S1")
	require.NoError(t, err)

	assert.Equal(t, uint64(10), worker.Stats.Get("A").RewardsAccrued)
	assert.Equal(t, uint64(50), worker.Stats.Get("A").ConsumptionAccrued)
	assert.Equal(t, uint64(100), worker.Stats.Get("B").ConsumptionAccrued)
	assert.Zero(t, worker.Stats.Get("B").RewardsAccrued)

	receipts := worker.Receipts.List("")
	require.Len(t, receipts, 2)
	for _, rc := range receipts {
		if rc.Owner == "B" {
			assert.Zero(t, rc.Reward)
		} else {
			assert.Equal(t, uint64(10), rc.Reward)
		}
	}
}
