package models

import "time"

type RecordType string

const (
	RecordLoan      RecordType = "loan"
	RecordRepayment RecordType = "repayment"
	RecordOverdue   RecordType = "overdue"
)

func (t RecordType) Valid() bool {
	switch t {
	case RecordLoan, RecordRepayment, RecordOverdue:
		return true
	}
	return false
}

type RecordStatus string

const (
	StatusPending   RecordStatus = "pending"
	StatusConfirmed RecordStatus = "confirmed"
	StatusRejected  RecordStatus = "rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s RecordStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

type LoanContent struct {
	Amount       uint64  `json:"amount"`
	LoanID       string  `json:"loan_id"`
	TermMonths   uint64  `json:"term_months"`
	InterestRate float64 `json:"interest_rate"`
}

type RepaymentContent struct {
	Amount        uint64 `json:"amount"`
	LoanID        string `json:"loan_id"`
	RepaymentDate string `json:"repayment_date"`
}

type OverdueContent struct {
	Amount       uint64 `json:"amount"`
	OverdueDays  uint64 `json:"overdue_days"`
	PeriodAmount uint64 `json:"period_amount"`
}

// RecordContent is a closed union: exactly one variant is set and it must
// match the record type.
type RecordContent struct {
	Loan      *LoanContent      `json:"loan,omitempty"`
	Repayment *RepaymentContent `json:"repayment,omitempty"`
	Overdue   *OverdueContent   `json:"overdue,omitempty"`
}

// Kind returns the record type of the populated variant, or "" when zero or
// more than one variant is set.
func (c RecordContent) Kind() RecordType {
	var kind RecordType
	n := 0
	if c.Loan != nil {
		kind = RecordLoan
		n++
	}
	if c.Repayment != nil {
		kind = RecordRepayment
		n++
	}
	if c.Overdue != nil {
		kind = RecordOverdue
		n++
	}
	if n != 1 {
		return ""
	}
	return kind
}

type CreditRecord struct {
	ID               string        `json:"id"`
	InstitutionID    string        `json:"institution_id"`
	RecordType       RecordType    `json:"record_type"`
	SubjectID        string        `json:"subject_id"`
	EventDate        string        `json:"event_date"`
	Content          RecordContent `json:"content"`
	EncryptedContent []byte        `json:"-"`
	Proof            []byte        `json:"proof"`
	StorageKey       string        `json:"storage_key"`
	Status           RecordStatus  `json:"status"`
	QueryPrice       uint64        `json:"query_price"`
	Timestamp        time.Time     `json:"timestamp"`
}

// Clone returns a deep copy so callers never alias stored state.
func (r *CreditRecord) Clone() *CreditRecord {
	out := *r
	out.EncryptedContent = append([]byte(nil), r.EncryptedContent...)
	out.Proof = append([]byte(nil), r.Proof...)
	if r.Content.Loan != nil {
		v := *r.Content.Loan
		out.Content.Loan = &v
	}
	if r.Content.Repayment != nil {
		v := *r.Content.Repayment
		out.Content.Repayment = &v
	}
	if r.Content.Overdue != nil {
		v := *r.Content.Overdue
		out.Content.Overdue = &v
	}
	return &out
}

type ChainIndexEntry struct {
	RecordID   string
	StorageKey string
	Proof      []byte
	CreatedAt  time.Time
}

type RecordFilter struct {
	InstitutionID string
	SubjectID     string
	RecordType    RecordType
	Status        RecordStatus
}

func (f RecordFilter) Match(r *CreditRecord) bool {
	if f.InstitutionID != "" && r.InstitutionID != f.InstitutionID {
		return false
	}
	if f.SubjectID != "" && r.SubjectID != f.SubjectID {
		return false
	}
	if f.RecordType != "" && r.RecordType != f.RecordType {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}

type Institution struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	QueryPrice         uint64 `json:"query_price"`
	RewardShareRatio   uint32 `json:"reward_share_ratio"`
	DataServiceEnabled bool   `json:"data_service_enabled"`
	DataUploads        uint64 `json:"data_uploads"`
	OutboundQueries    uint64 `json:"outbound_queries"`
	InboundQueries     uint64 `json:"inbound_queries"`
	APICalls           uint64 `json:"api_calls"`
}

type TransferKind string

const (
	TransferFee    TransferKind = "fee"
	TransferReward TransferKind = "reward"
)

// TransferIntent is produced by settlement prepare and consumed by execute.
// It is never persisted.
type TransferIntent struct {
	Kind            TransferKind
	FromInstitution string
	ToInstitution   string
	SubjectID       string
	Amount          uint64
	Memo            string
	Reference       string
	Timestamp       time.Time
}

type DailyStats struct {
	RewardsAccrued     uint64    `json:"rewards_accrued"`
	ConsumptionAccrued uint64    `json:"consumption_accrued"`
	LastUpdate         time.Time `json:"last_update"`
}
