package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"TonMiner/internal/model"
)

type positionKey struct {
	accountID int64
	kind      model.Kind
}

// MemoryStore is an in-memory Store used in tests. It applies the same
// typed mutations as the SQLite store but keeps everything in maps.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[int64]*model.Account
	positions map[positionKey]*model.Position
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:  make(map[int64]*model.Account),
		positions: make(map[positionKey]*model.Position),
	}
}

func (s *MemoryStore) GetAccount(_ context.Context, id int64) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	out := *a
	return &out, nil
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[a.ID]; exists {
		return fmt.Errorf("account %d exists", a.ID)
	}
	cp := *a
	s.accounts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) ListPositions(_ context.Context, accountID int64) ([]*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Position
	for k, p := range s.positions {
		if k.accountID == accountID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

func (s *MemoryStore) ListAccountIDs(_ context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *MemoryStore) CreditFunding(_ context.Context, accountID int64, amount float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.FundingBalance += amount
	a.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ApplyPurchase(_ context.Context, m *PurchaseMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[m.AccountID]
	if !ok {
		return ErrAccountNotFound
	}
	if a.FundingBalance < m.Cost {
		return fmt.Errorf("account %d funding %.8f cannot cover cost %.8f", m.AccountID, a.FundingBalance, m.Cost)
	}
	a.FundingBalance -= m.Cost
	a.UpdatedAt = m.Position.LastAccruedAt

	key := positionKey{m.AccountID, m.Position.Kind}
	if existing, ok := s.positions[key]; ok {
		pending := existing.Pending + m.PendingCredit
		cp := m.Position
		cp.Pending = pending
		s.positions[key] = &cp
	} else {
		cp := m.Position
		s.positions[key] = &cp
	}
	return nil
}

func (s *MemoryStore) ApplyAccrual(_ context.Context, accountID int64, advances []AccrualAdvance, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, adv := range advances {
		p, ok := s.positions[positionKey{accountID, adv.Kind}]
		if !ok {
			continue
		}
		p.Pending += adv.PendingDelta
		p.LastAccruedAt = adv.LastAccruedAt
	}
	return nil
}

func (s *MemoryStore) ApplyClaim(_ context.Context, m *ClaimMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[m.AccountID]
	if !ok {
		return ErrAccountNotFound
	}
	a.RewardBalance += m.Amount
	a.LifetimeClaimed += m.Amount
	a.UpdatedAt = m.ClaimedAt
	for k, p := range s.positions {
		if k.accountID == m.AccountID {
			p.Pending = 0
		}
	}
	return nil
}

func (s *MemoryStore) Stats(_ context.Context) (*Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := &Totals{Accounts: len(s.accounts), Positions: len(s.positions)}
	for _, a := range s.accounts {
		t.TotalFunding += a.FundingBalance
		t.TotalReward += a.RewardBalance
		t.LifetimeClaimed += a.LifetimeClaimed
	}
	for _, p := range s.positions {
		t.TotalPrincipal += p.Principal
		t.TotalPending += p.Pending
	}
	return t, nil
}

func (s *MemoryStore) Close() error { return nil }
