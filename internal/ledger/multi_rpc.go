package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// MultiClient spreads calls over several ledger endpoints and rotates to the
// next one after failThreshold consecutive failures.
type MultiClient struct {
	clients       []*RPCClient
	index         int
	failCount     int
	failThreshold int
	observer      CallObserver
	mu            sync.Mutex
}

func NewMultiClient(endpoints []string, failThreshold int, timeout time.Duration, signer Signer, observer CallObserver) (*MultiClient, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("ledger endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	clients := make([]*RPCClient, 0, len(list))
	for _, ep := range list {
		clients = append(clients, NewRPCClient(ep, timeout, signer))
	}
	return &MultiClient{
		clients:       clients,
		failThreshold: failThreshold,
		observer:      observer,
	}, nil
}

func (m *MultiClient) BaseURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index].baseURL
}

func (m *MultiClient) BalanceOf(ctx context.Context, account string) (uint64, error) {
	return withFailover(m, "balance_of", func(c *RPCClient) (uint64, error) {
		return c.BalanceOf(ctx, account)
	})
}

// Transfer is not retried against other endpoints on ErrRejected; the next
// endpoint would refuse it too.
func (m *MultiClient) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	return withFailover(m, "transfer", func(c *RPCClient) (*TransferResult, error) {
		return c.Transfer(ctx, req)
	})
}

func withFailover[T any](m *MultiClient, op string, call func(*RPCClient) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempts := 0; attempts < len(m.clients); attempts++ {
		client, idx := m.currentClient()
		out, err := call(client)
		if m.observer != nil {
			m.observer.LedgerCall(op, err)
		}
		if err == nil {
			m.resetFailures(idx)
			return out, nil
		}
		lastErr = err
		if errors.Is(err, ErrRejected) {
			break
		}
		m.noteFailure(idx)
		if m.shouldRotate() || len(m.clients) > 1 {
			m.rotate()
		}
	}
	return zero, lastErr
}

func (m *MultiClient) currentClient() (*RPCClient, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index], m.index
}

func (m *MultiClient) resetFailures(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

func (m *MultiClient) noteFailure(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount++
	}
}

func (m *MultiClient) shouldRotate() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failCount >= m.failThreshold
}

func (m *MultiClient) rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = (m.index + 1) % len(m.clients)
	m.failCount = 0
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
