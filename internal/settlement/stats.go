package settlement

import (
	"sync"
	"time"

	"DecentCredit/internal/models"
)

// Stats accrues per-institution daily rewards and consumption. Entries from a
// previous UTC day read as zero and are reset on the next write.
type Stats struct {
	mu    sync.Mutex
	daily map[string]*models.DailyStats
	now   func() time.Time
}

func NewStats(now func() time.Time) *Stats {
	if now == nil {
		now = time.Now
	}
	return &Stats{daily: make(map[string]*models.DailyStats), now: now}
}

func (s *Stats) Add(institutionID string, rewards, consumption uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	st := s.current(institutionID, now)
	st.RewardsAccrued += rewards
	st.ConsumptionAccrued += consumption
	st.LastUpdate = now
}

func (s *Stats) Get(institutionID string) models.DailyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.current(institutionID, s.now().UTC())
}

func (s *Stats) current(institutionID string, now time.Time) *models.DailyStats {
	st, ok := s.daily[institutionID]
	if !ok || st.LastUpdate.Before(dayStart(now)) {
		st = &models.DailyStats{LastUpdate: now}
		s.daily[institutionID] = st
	}
	return st
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
