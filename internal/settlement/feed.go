package settlement

import (
	"context"
	"log"
	"time"

	"DecentCredit/internal/ledger"
)

// FeedWatcher follows the ledger transfer feed and confirms receipts whose
// transactions were committed.
type FeedWatcher struct {
	Endpoints         []string
	FailoverThreshold int
	Receipts          *Receipts
	RetryDelay        time.Duration
}

func (f *FeedWatcher) Run(ctx context.Context) {
	if len(f.Endpoints) == 0 {
		log.Printf("ledger feed disabled: no ws endpoints")
		return
	}
	threshold := f.FailoverThreshold
	if threshold <= 0 {
		threshold = 3
	}
	delay := f.RetryDelay
	if delay <= 0 {
		delay = 3 * time.Second
	}

	idx, failures := 0, 0
	for {
		if ctx.Err() != nil {
			return
		}
		endpoint := f.Endpoints[idx]
		err := f.consume(ctx, endpoint)
		if ctx.Err() != nil {
			return
		}
		log.Printf("ledger feed %s: %v", endpoint, err)
		failures++
		if failures >= threshold && len(f.Endpoints) > 1 {
			idx = (idx + 1) % len(f.Endpoints)
			failures = 0
			log.Printf("ledger feed failover -> %s", f.Endpoints[idx])
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (f *FeedWatcher) consume(ctx context.Context, endpoint string) error {
	client := ledger.NewFeedClient(endpoint)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, client.Close)
	defer stop()

	if err := client.Subscribe("transfers"); err != nil {
		return err
	}
	log.Printf("ledger feed connected %s", endpoint)

	for {
		msg, err := client.Read()
		if err != nil {
			return err
		}
		ev, ok, err := ledger.ParseTransferEvent(msg)
		if err != nil {
			log.Printf("ledger feed parse failed: %v", err)
			continue
		}
		if !ok || ev.Status != "committed" {
			continue
		}
		if f.Receipts.Confirm(ev.TxHash) {
			log.Printf("ledger feed confirmed tx=%s height=%d", ev.TxHash, ev.BlockHeight)
		}
	}
}
