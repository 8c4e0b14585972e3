package pricing

import (
	"errors"
	"fmt"
	"time"

	"DecentCredit/internal/models"
)

var ErrInvalidRatio = errors.New("reward share ratio above 100")

type Quote struct {
	Fee              uint64 `json:"fee"`
	Reward           uint64 `json:"reward"`
	RewardShareRatio uint32 `json:"reward_share_ratio"`
}

// QuoteFor prices one cross-institution read of the owner's data.
func QuoteFor(owner *models.Institution) (Quote, error) {
	reward, err := RewardAmount(owner.QueryPrice, owner.RewardShareRatio)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Fee:              owner.QueryPrice,
		Reward:           reward,
		RewardShareRatio: owner.RewardShareRatio,
	}, nil
}

// RewardAmount is floor(price * ratio / 100).
func RewardAmount(price uint64, ratio uint32) (uint64, error) {
	if ratio > 100 {
		return 0, ErrInvalidRatio
	}
	// price/100*ratio + remainder term keeps the product from overflowing.
	return price/100*uint64(ratio) + price%100*uint64(ratio)/100, nil
}

func FeeMemo(subjectID string) string {
	return "Query credit record for subject " + subjectID
}

func RewardMemo(amount uint64, ratio uint32) string {
	return fmt.Sprintf("Reward for data query: %d tokens (%d%% share)", amount, ratio)
}

func FeeReference(at time.Time, subjectID string) string {
	return reference("QRY", at, subjectID)
}

func RewardReference(at time.Time, subjectID string) string {
	return reference("RWD", at, subjectID)
}

func reference(prefix string, at time.Time, subjectID string) string {
	short := []rune(subjectID)
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s%d_%s", prefix, at.Unix(), string(short))
}
