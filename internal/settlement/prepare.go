package settlement

import (
	"errors"
	"time"

	"DecentCredit/internal/models"
	"DecentCredit/internal/pricing"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSelfSettlement      = errors.New("payer owns the record")
)

// Job is one prepared settlement: a fee leg and an optional reward leg.
type Job struct {
	ID       string
	RecordID string
	Fee      models.TransferIntent
	Reward   *models.TransferIntent
	QueuedAt time.Time
}

// BuildJob computes transfer parameters for a read of owner's record by
// payer. It performs no I/O.
func BuildJob(id string, at time.Time, payerID string, owner *models.Institution, treasury, subjectID, recordID string) (*Job, error) {
	if payerID == owner.ID {
		return nil, ErrSelfSettlement
	}
	quote, err := pricing.QuoteFor(owner)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:       id,
		RecordID: recordID,
		QueuedAt: at,
		Fee: models.TransferIntent{
			Kind:            models.TransferFee,
			FromInstitution: payerID,
			ToInstitution:   owner.ID,
			SubjectID:       subjectID,
			Amount:          quote.Fee,
			Memo:            pricing.FeeMemo(subjectID),
			Reference:       pricing.FeeReference(at, subjectID),
			Timestamp:       at,
		},
	}
	if quote.Reward > 0 {
		job.Reward = &models.TransferIntent{
			Kind:            models.TransferReward,
			FromInstitution: treasury,
			ToInstitution:   owner.ID,
			SubjectID:       subjectID,
			Amount:          quote.Reward,
			Memo:            pricing.RewardMemo(quote.Reward, quote.RewardShareRatio),
			Reference:       pricing.RewardReference(at, subjectID),
			Timestamp:       at,
		}
	}
	return job, nil
}
