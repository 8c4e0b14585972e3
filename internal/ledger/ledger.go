// Package ledger talks to the external token ledger service.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNetwork marks failures worth retrying: transport errors and 5xx.
	ErrNetwork = errors.New("ledger network error")
	// ErrRejected marks requests the ledger refused (4xx). Not retryable.
	ErrRejected = errors.New("ledger rejected request")
)

// Retryable reports whether a failed call may succeed if repeated.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork)
}

type Client interface {
	BalanceOf(ctx context.Context, account string) (uint64, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

type TransferRequest struct {
	From           string    `json:"from"`
	To             string    `json:"to"`
	Amount         uint64    `json:"amount"`
	Memo           string    `json:"memo"`
	Reference      string    `json:"reference,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
}

type TransferResult struct {
	BlockHeight uint64 `json:"block_height"`
	TxHash      string `json:"tx_hash"`
}

// Signer signs outgoing request bodies.
type Signer interface {
	Sign(data []byte) []byte
}

// CallObserver is notified after every ledger call.
type CallObserver interface {
	LedgerCall(op string, err error)
}
