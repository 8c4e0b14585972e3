package settlement

import (
	"sort"
	"sync"
	"time"
)

type ReceiptStatus string

const (
	ReceiptQueued              ReceiptStatus = "queued"
	ReceiptDropped             ReceiptStatus = "dropped"
	ReceiptInsufficientBalance ReceiptStatus = "insufficient_balance"
	ReceiptFeeFailed           ReceiptStatus = "fee_failed"
	ReceiptRewardFailed        ReceiptStatus = "reward_failed"
	ReceiptSettled             ReceiptStatus = "settled"
)

type Receipt struct {
	JobID           string        `json:"job_id"`
	RecordID        string        `json:"record_id"`
	Payer           string        `json:"payer"`
	Owner           string        `json:"owner"`
	SubjectID       string        `json:"subject_id"`
	Fee             uint64        `json:"fee"`
	Reward          uint64        `json:"reward"`
	Status          ReceiptStatus `json:"status"`
	Attempts        int           `json:"attempts"`
	FeeTxHash       string        `json:"fee_tx_hash,omitempty"`
	RewardTxHash    string        `json:"reward_tx_hash,omitempty"`
	FeeConfirmed    bool          `json:"fee_confirmed"`
	RewardConfirmed bool          `json:"reward_confirmed"`
	Error           string        `json:"error,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

const (
	DefaultReceiptLimit = 10000
	earlyConfirmLimit   = 1024
)

// Receipts is the in-process log of settlement outcomes. It holds at most
// limit receipts and evicts the oldest first.
type Receipts struct {
	mu    sync.RWMutex
	limit int
	byID  map[string]*Receipt
	byTx  map[string]string
	order []string

	// committed hashes seen on the feed before the transfer call returned
	early      map[string]struct{}
	earlyOrder []string
}

// NewReceipts returns a log holding up to limit receipts; limit <= 0 uses
// DefaultReceiptLimit.
func NewReceipts(limit int) *Receipts {
	if limit <= 0 {
		limit = DefaultReceiptLimit
	}
	return &Receipts{
		limit: limit,
		byID:  make(map[string]*Receipt),
		byTx:  make(map[string]string),
		early: make(map[string]struct{}),
	}
}

func (r *Receipts) open(job *Job, at time.Time) {
	rc := &Receipt{
		JobID:     job.ID,
		RecordID:  job.RecordID,
		Payer:     job.Fee.FromInstitution,
		Owner:     job.Fee.ToInstitution,
		SubjectID: job.Fee.SubjectID,
		Fee:       job.Fee.Amount,
		Status:    ReceiptQueued,
		CreatedAt: at,
		UpdatedAt: at,
	}
	if job.Reward != nil {
		rc.Reward = job.Reward.Amount
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[job.ID]; !ok {
		r.order = append(r.order, job.ID)
	}
	r.byID[job.ID] = rc
	for len(r.byID) > r.limit {
		r.evictOldest()
	}
}

func (r *Receipts) evictOldest() {
	id := r.order[0]
	r.order[0] = ""
	r.order = r.order[1:]
	rc, ok := r.byID[id]
	if !ok {
		return
	}
	if rc.FeeTxHash != "" {
		delete(r.byTx, rc.FeeTxHash)
	}
	if rc.RewardTxHash != "" {
		delete(r.byTx, rc.RewardTxHash)
	}
	delete(r.byID, id)
}

func (r *Receipts) update(jobID string, fn func(*Receipt)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rc, ok := r.byID[jobID]
	if !ok {
		return
	}
	fn(rc)
	if rc.FeeTxHash != "" {
		r.byTx[rc.FeeTxHash] = jobID
		if r.takeEarly(rc.FeeTxHash) {
			rc.FeeConfirmed = true
		}
	}
	if rc.RewardTxHash != "" {
		r.byTx[rc.RewardTxHash] = jobID
		if r.takeEarly(rc.RewardTxHash) {
			rc.RewardConfirmed = true
		}
	}
	rc.UpdatedAt = time.Now().UTC()
}

// Confirm marks the leg carrying txHash as committed. Hashes that belong to
// no receipt yet are held in a small bounded set and applied once the
// transfer result is recorded; Confirm reports false for them.
func (r *Receipts) Confirm(txHash string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byTx[txHash]
	if !ok {
		r.holdEarly(txHash)
		return false
	}
	rc := r.byID[id]
	switch txHash {
	case rc.FeeTxHash:
		rc.FeeConfirmed = true
	case rc.RewardTxHash:
		rc.RewardConfirmed = true
	}
	rc.UpdatedAt = time.Now().UTC()
	return true
}

func (r *Receipts) holdEarly(txHash string) {
	if _, ok := r.early[txHash]; ok {
		return
	}
	r.early[txHash] = struct{}{}
	r.earlyOrder = append(r.earlyOrder, txHash)
	for len(r.earlyOrder) > earlyConfirmLimit {
		delete(r.early, r.earlyOrder[0])
		r.earlyOrder = r.earlyOrder[1:]
	}
}

// takeEarly reports whether txHash was already seen committed and forgets it.
func (r *Receipts) takeEarly(txHash string) bool {
	if _, ok := r.early[txHash]; !ok {
		return false
	}
	delete(r.early, txHash)
	for i, h := range r.earlyOrder {
		if h == txHash {
			r.earlyOrder = append(r.earlyOrder[:i], r.earlyOrder[i+1:]...)
			break
		}
	}
	return true
}

// Len reports how many receipts are held.
func (r *Receipts) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Receipts) Get(jobID string) (Receipt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rc, ok := r.byID[jobID]
	if !ok {
		return Receipt{}, false
	}
	return *rc, true
}

// List returns receipts where institutionID is payer or owner, oldest first.
// An empty id lists everything.
func (r *Receipts) List(institutionID string) []Receipt {
	r.mu.RLock()
	out := make([]Receipt, 0, len(r.byID))
	for _, rc := range r.byID {
		if institutionID != "" && rc.Payer != institutionID && rc.Owner != institutionID {
			continue
		}
		out = append(out, *rc)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
