package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bnpl/internal/plan/models"
	id "bnpl/pkg/domain"
	"bnpl/pkg/platform/sentinel"
)

// Error contract for the plan stores:
//   - sentinel.ErrNotFound when the plan does not exist
//   - sentinel.ErrConflict when creating a plan whose ID exists
//   - wrapped errors for infrastructure failures

type memoryRow struct {
	plan *models.Plan
	seq  int64
}

// InMemoryStore keeps plans in memory. Per-user serialization is provided by
// the ledger transaction, not by this store.
type InMemoryStore struct {
	mu    sync.RWMutex
	plans map[id.PlanID]memoryRow
	seq   int64
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{plans: make(map[id.PlanID]memoryRow)}
}

func (s *InMemoryStore) Create(_ context.Context, p *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.plans[p.ID]; exists {
		return sentinel.ErrConflict
	}
	s.seq++
	s.plans[p.ID] = memoryRow{plan: p.Clone(), seq: s.seq}
	return nil
}

func (s *InMemoryStore) FindByID(_ context.Context, planID id.PlanID) (*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.plans[planID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return row.plan.Clone(), nil
}

func (s *InMemoryStore) FindByIDForUpdate(ctx context.Context, planID id.PlanID) (*models.Plan, error) {
	return s.FindByID(ctx, planID)
}

func (s *InMemoryStore) Update(_ context.Context, p *models.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.plans[p.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	row.plan = p.Clone()
	s.plans[p.ID] = row
	return nil
}

// ListByUser returns the user's plans, newest first.
func (s *InMemoryStore) ListByUser(_ context.Context, userID id.UserID) ([]*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []memoryRow
	for _, row := range s.plans {
		if row.plan.UserID == userID {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b memoryRow) int {
		if c := b.plan.CreatedAt.Compare(a.plan.CreatedAt); c != 0 {
			return c
		}
		return int(b.seq - a.seq)
	})
	plans := make([]*models.Plan, len(rows))
	for i, row := range rows {
		plans[i] = row.plan.Clone()
	}
	return plans, nil
}

// SumOutstanding totals the remaining balance of the user's ACTIVE plans.
func (s *InMemoryStore) SumOutstanding(_ context.Context, userID id.UserID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, row := range s.plans {
		if row.plan.UserID == userID {
			total = total.Add(row.plan.Outstanding())
		}
	}
	return total, nil
}

// ListOverdueCandidates returns ACTIVE plans holding a PENDING installment due before cutoff.
func (s *InMemoryStore) ListOverdueCandidates(_ context.Context, cutoff time.Time, limit int) ([]*models.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var rows []memoryRow
	for _, row := range s.plans {
		if row.plan.Status == models.StatusActive && hasPendingBefore(row.plan, cutoff) {
			rows = append(rows, row)
		}
	}
	slices.SortFunc(rows, func(a, b memoryRow) int { return int(a.seq - b.seq) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	plans := make([]*models.Plan, len(rows))
	for i, row := range rows {
		plans[i] = row.plan.Clone()
	}
	return plans, nil
}

func hasPendingBefore(p *models.Plan, cutoff time.Time) bool {
	for _, inst := range p.Installments {
		if inst.Status == models.InstallmentPending && inst.DueDate.Before(cutoff) {
			return true
		}
	}
	return false
}
