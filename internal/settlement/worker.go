// Package settlement turns cross-institution reads into ledger transfers.
//
// A read is settled in two phases. Prepare runs on the request path, computes
// the fee and reward legs and accrues daily stats. Execute runs later on a
// worker goroutine and talks to the ledger. A failed execute never affects the
// read that triggered it.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"DecentCredit/internal/ledger"
	"DecentCredit/internal/models"

	"github.com/google/uuid"
)

// Observer receives settlement outcomes and queue depth.
type Observer interface {
	SettlementOutcome(status string)
	QueueDepth(n int)
}

type Config struct {
	Treasury    string
	QueueSize   int
	Workers     int
	MaxAttempts int
	Backoff     time.Duration

	// ReceiptLimit caps the receipt log; <= 0 uses DefaultReceiptLimit.
	ReceiptLimit int
}

type Worker struct {
	Ledger   ledger.Client
	Stats    *Stats
	Receipts *Receipts
	Observer Observer
	Now      func() time.Time

	cfg   Config
	queue chan *Job
}

func NewWorker(client ledger.Client, cfg Config) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		Ledger:   client,
		Stats:    NewStats(nil),
		Receipts: NewReceipts(cfg.ReceiptLimit),
		Now:      time.Now,
		cfg:      cfg,
		queue:    make(chan *Job, cfg.QueueSize),
	}
}

// Settle prepares and enqueues settlement for a read of owner's record by
// payerID. Only pricing errors are returned; ledger outcomes land in receipts.
func (w *Worker) Settle(ctx context.Context, payerID string, owner *models.Institution, subjectID, recordID string) error {
	job, err := w.Prepare(payerID, owner, subjectID, recordID)
	if err != nil {
		return err
	}
	w.Enqueue(job)
	return nil
}

func (w *Worker) Prepare(payerID string, owner *models.Institution, subjectID, recordID string) (*Job, error) {
	now := w.Now().UTC()
	job, err := BuildJob(uuid.NewString(), now, payerID, owner, w.cfg.Treasury, subjectID, recordID)
	if err != nil {
		return nil, err
	}
	w.Stats.Add(payerID, 0, job.Fee.Amount)
	if job.Reward != nil {
		w.Stats.Add(owner.ID, job.Reward.Amount, 0)
	}
	w.Receipts.open(job, now)
	return job, nil
}

// Enqueue hands job to the workers without blocking. A full queue drops it.
func (w *Worker) Enqueue(job *Job) bool {
	select {
	case w.queue <- job:
		w.observeDepth()
		return true
	default:
		log.Printf("settlement queue full, dropping job=%s record=%s", job.ID, job.RecordID)
		w.finish(job.ID, ReceiptDropped, errors.New("queue full"))
		return false
	}
}

// Run drains the queue with the configured number of goroutines until ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-w.queue:
					w.observeDepth()
					w.Execute(ctx, job)
				}
			}
		}()
	}
	wg.Wait()
}

// Execute performs the ledger side of job and records the outcome.
func (w *Worker) Execute(ctx context.Context, job *Job) ReceiptStatus {
	payer := job.Fee.FromInstitution

	var balance uint64
	err := w.retry(ctx, job.ID, func() error {
		var err error
		balance, err = w.Ledger.BalanceOf(ctx, payer)
		return err
	})
	if err != nil {
		log.Printf("settlement job=%s balance check failed: %v", job.ID, err)
		return w.finish(job.ID, ReceiptFeeFailed, err)
	}
	if balance < job.Fee.Amount {
		log.Printf("settlement job=%s payer=%s balance=%d fee=%d: insufficient balance", job.ID, payer, balance, job.Fee.Amount)
		return w.finish(job.ID, ReceiptInsufficientBalance, ErrInsufficientBalance)
	}

	feeRes, err := w.transfer(ctx, job.ID, "fee", job.Fee)
	if err != nil {
		log.Printf("settlement job=%s fee transfer failed: %v", job.ID, err)
		return w.finish(job.ID, ReceiptFeeFailed, err)
	}
	w.Receipts.update(job.ID, func(rc *Receipt) { rc.FeeTxHash = feeRes.TxHash })
	log.Printf("settlement job=%s fee %s -> %s amount=%d tx=%s", job.ID, payer, job.Fee.ToInstitution, job.Fee.Amount, feeRes.TxHash)

	if job.Reward != nil {
		rwdRes, err := w.transfer(ctx, job.ID, "reward", *job.Reward)
		if err != nil {
			log.Printf("settlement job=%s reward transfer failed: %v", job.ID, err)
			return w.finish(job.ID, ReceiptRewardFailed, err)
		}
		w.Receipts.update(job.ID, func(rc *Receipt) { rc.RewardTxHash = rwdRes.TxHash })
		log.Printf("settlement job=%s reward -> %s amount=%d tx=%s", job.ID, job.Reward.ToInstitution, job.Reward.Amount, rwdRes.TxHash)
	}
	return w.finish(job.ID, ReceiptSettled, nil)
}

func (w *Worker) transfer(ctx context.Context, jobID, leg string, intent models.TransferIntent) (*ledger.TransferResult, error) {
	req := ledger.TransferRequest{
		From:           intent.FromInstitution,
		To:             intent.ToInstitution,
		Amount:         intent.Amount,
		Memo:           intent.Memo,
		Reference:      intent.Reference,
		CreatedAt:      intent.Timestamp,
		IdempotencyKey: jobID + ":" + leg,
	}
	var res *ledger.TransferResult
	err := w.retry(ctx, jobID, func() error {
		var err error
		res, err = w.Ledger.Transfer(ctx, req)
		return err
	})
	return res, err
}

// retry runs fn until it succeeds, fails with a non-network error, or the
// attempt budget runs out. The pause grows linearly with each attempt.
func (w *Worker) retry(ctx context.Context, jobID string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		w.Receipts.update(jobID, func(rc *Receipt) { rc.Attempts++ })
		if err = fn(); err == nil || !ledger.Retryable(err) {
			return err
		}
		if attempt == w.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * w.cfg.Backoff):
		}
	}
	return fmt.Errorf("after %d attempts: %w", w.cfg.MaxAttempts, err)
}

func (w *Worker) finish(jobID string, status ReceiptStatus, err error) ReceiptStatus {
	w.Receipts.update(jobID, func(rc *Receipt) {
		rc.Status = status
		if err != nil {
			rc.Error = err.Error()
		}
	})
	if w.Observer != nil {
		w.Observer.SettlementOutcome(string(status))
	}
	return status
}

func (w *Worker) observeDepth() {
	if w.Observer != nil {
		w.Observer.QueueDepth(len(w.queue))
	}
}
