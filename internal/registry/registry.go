// Package registry keeps institution metadata and aggregate usage counters.
package registry

import (
	"context"
	"sort"
	"sync"

	"DecentCredit/internal/config"
	"DecentCredit/internal/models"
)

type Memory struct {
	mu           sync.RWMutex
	institutions map[string]*models.Institution
}

func NewMemory() *Memory {
	return &Memory{institutions: make(map[string]*models.Institution)}
}

// FromConfig seeds a registry with the configured institutions.
func FromConfig(list []config.Institution) *Memory {
	m := NewMemory()
	for _, inst := range list {
		m.Put(models.Institution{
			ID:                 inst.ID,
			Name:               inst.Name,
			QueryPrice:         inst.QueryPrice,
			RewardShareRatio:   inst.RewardShareRatio,
			DataServiceEnabled: inst.DataServiceEnabled,
		})
	}
	return m
}

func (m *Memory) Put(inst models.Institution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.institutions[inst.ID] = &inst
}

func (m *Memory) GetInstitution(_ context.Context, id string) (*models.Institution, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.institutions[id]
	if !ok {
		return nil, false
	}
	out := *inst
	return &out, true
}

func (m *Memory) List(_ context.Context) []models.Institution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Institution, 0, len(m.institutions))
	for _, inst := range m.institutions {
		out = append(out, *inst)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counter updates for unknown institutions are dropped.

func (m *Memory) IncrementUpload(_ context.Context, id string, count uint64) {
	m.update(id, func(inst *models.Institution) { inst.DataUploads += count })
}

func (m *Memory) IncrementOutboundQuery(_ context.Context, id string) {
	m.update(id, func(inst *models.Institution) { inst.OutboundQueries++ })
}

func (m *Memory) IncrementInboundQuery(_ context.Context, id string) {
	m.update(id, func(inst *models.Institution) { inst.InboundQueries++ })
}

func (m *Memory) IncrementAPICall(_ context.Context, id string, count uint64) {
	m.update(id, func(inst *models.Institution) { inst.APICalls += count })
}

func (m *Memory) update(id string, fn func(*models.Institution)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.institutions[id]; ok {
		fn(inst)
	}
}
