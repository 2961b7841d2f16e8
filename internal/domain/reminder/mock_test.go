package reminder

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// memoryRepo is an in-memory SettingsRepository with the same claim rules as
// the real stores.
type memoryRepo struct {
	mu            sync.Mutex
	settings      map[string]*Settings
	order         []string
	users         map[string]*Recipient
	listErr       error
	claimErr      error
	rescheduleErr error
	claimDenied   map[string]bool
	releases      int
	postpones     int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		settings:    make(map[string]*Settings),
		users:       make(map[string]*Recipient),
		claimDenied: make(map[string]bool),
	}
}

func cloneSettings(s *Settings) *Settings {
	c := *s
	return &c
}

func (m *memoryRepo) put(s *Settings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.settings[s.ID]; !ok {
		m.order = append(m.order, s.ID)
	}
	m.settings[s.ID] = cloneSettings(s)
}

func (m *memoryRepo) get(id string) *Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSettings(m.settings[id])
}

func (m *memoryRepo) GetByUser(_ context.Context, userID string) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.settings {
		if s.UserID == userID {
			return cloneSettings(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) CreateIfAbsent(ctx context.Context, s *Settings) (*Settings, error) {
	if existing, err := m.GetByUser(ctx, s.UserID); err == nil {
		return existing, nil
	}
	m.put(s)
	return m.GetByUser(ctx, s.UserID)
}

func (m *memoryRepo) UpdateReminders(_ context.Context, userID string, upd ReminderUpdate, now time.Time) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.settings {
		if s.UserID == userID {
			s.Recordatorios.Enabled = upd.Enabled
			s.Recordatorios.Hour = upd.Hour
			s.Recordatorios.Frequency = upd.Frequency
			s.Recordatorios.MotivationalMessage = upd.MotivationalMessage
			if !upd.KeepNextSession {
				s.Recordatorios.NextSession = upd.NextSession
				s.Recordatorios.RetryAt = nil
			}
			s.UpdatedAt = now
			return cloneSettings(s), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryRepo) GetRecipient(_ context.Context, userID string) (*Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func claimable(s *Settings, now time.Time) bool {
	r := s.Recordatorios
	if !r.Enabled || r.NextSession == nil || r.NextSession.After(now) {
		return false
	}
	if r.RetryAt != nil && r.RetryAt.After(now) {
		return false
	}
	return r.ClaimToken == "" || (r.ClaimedUntil != nil && !r.ClaimedUntil.After(now))
}

func (m *memoryRepo) ListDue(_ context.Context, now time.Time, limit int) ([]Due, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var due []Due
	for _, id := range m.order {
		s := m.settings[id]
		if !claimable(s, now) {
			continue
		}
		due = append(due, Due{Settings: cloneSettings(s), User: m.users[s.UserID]})
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].Settings.Recordatorios.NextSession.Before(*due[j].Settings.Recordatorios.NextSession)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *memoryRepo) Claim(_ context.Context, id, token string, now, until time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return false, m.claimErr
	}
	s, ok := m.settings[id]
	if !ok || m.claimDenied[id] || !claimable(s, now) {
		return false, nil
	}
	s.Recordatorios.ClaimToken = token
	u := until
	s.Recordatorios.ClaimedUntil = &u
	return true, nil
}

func (m *memoryRepo) Reschedule(_ context.Context, id, token string, sent Slot, next, sentAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rescheduleErr != nil {
		return false, m.rescheduleErr
	}
	s, ok := m.settings[id]
	if !ok || s.Recordatorios.ClaimToken != token {
		return false, ErrClaimLost
	}
	r := &s.Recordatorios
	applied := r.Enabled && r.Slot() == sent
	if applied {
		n := next
		r.NextSession = &n
	}
	at := sentAt
	r.LastSentAt = &at
	r.ClaimToken = ""
	r.ClaimedUntil = nil
	r.RetryAt = nil
	s.UpdatedAt = sentAt
	return applied, nil
}

func (m *memoryRepo) Release(_ context.Context, id, token string, retryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases++
	s, ok := m.settings[id]
	if !ok {
		return errors.New("unknown settings")
	}
	if s.Recordatorios.ClaimToken == token {
		s.Recordatorios.ClaimToken = ""
		s.Recordatorios.ClaimedUntil = nil
		at := retryAt
		s.Recordatorios.RetryAt = &at
	}
	return nil
}

func (m *memoryRepo) Postpone(_ context.Context, id string, retryAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.postpones++
	s, ok := m.settings[id]
	if !ok {
		return errors.New("unknown settings")
	}
	at := retryAt
	s.Recordatorios.RetryAt = &at
	return nil
}
