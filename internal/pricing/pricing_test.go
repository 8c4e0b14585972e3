package pricing

import (
	"math"
	"testing"
	"time"

	"DecentCredit/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRewardAmount(t *testing.T) {
	tests := []struct {
		price uint64
		ratio uint32
		want  uint64
	}{
		{100, 10, 10},
		{100, 0, 0},
		{100, 100, 100},
		{99, 10, 9},
		{7, 50, 3},
		{0, 50, 0},
		{250, 33, 82},
		{math.MaxUint64, 100, math.MaxUint64},
	}
	for _, tt := range tests {
		got, err := RewardAmount(tt.price, tt.ratio)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "price=%d ratio=%d", tt.price, tt.ratio)
	}

	_, err := RewardAmount(100, 101)
	assert.ErrorIs(t, err, ErrInvalidRatio)
}

func TestQuoteFor(t *testing.T) {
	q, err := QuoteFor(&models.Institution{QueryPrice: 100, RewardShareRatio: 10})
	require.NoError(t, err)
	assert.Equal(t, Quote{Fee: 100, Reward: 10, RewardShareRatio: 10}, q)

	_, err = QuoteFor(&models.Institution{QueryPrice: 100, RewardShareRatio: 120})
	assert.ErrorIs(t, err, ErrInvalidRatio)
}

func TestMemosAndReferences(t *testing.T) {
	at := time.Unix(1700000000, 0)
	assert.Equal(t, "Query credit record for subject did:abc", FeeMemo("did:abc"))
	assert.Equal(t, "Reward for data query: 10 tokens (10% share)", RewardMemo(10, 10))
	assert.Equal(t, "QRY1700000000_did:exam", FeeReference(at, "did:example:42"))
	assert.Equal(t, "RWD1700000000_s1", RewardReference(at, "s1"))
}
