package voice

import (
	"sync"
	"time"

	"expediter/internal/errs"
	"expediter/internal/monitoring"
)

// Budget enforces a per-tenant daily transcription spend. Once the limit is
// reached further voice requests fail fast instead of queueing.
type Budget struct {
	mu      sync.Mutex
	limit   float64
	perCall float64
	spent   map[string]float64
	day     time.Time
	metrics *monitoring.Metrics
	now     func() time.Time
}

// NewBudget creates a budget with the given daily limit and per-call cost.
func NewBudget(limit, perCall float64, m *monitoring.Metrics) *Budget {
	return &Budget{
		limit:   limit,
		perCall: perCall,
		spent:   make(map[string]float64),
		metrics: m,
		now:     time.Now,
	}
}

// Charge books one transcription call against the tenant. Returns a
// BudgetExceededError once the day's limit is reached; the counter resets
// at the first charge of a new day.
func (b *Budget) Charge(tenant string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	today := b.now().Truncate(24 * time.Hour)
	if !today.Equal(b.day) {
		b.day = today
		b.spent = make(map[string]float64)
	}

	if b.spent[tenant]+b.perCall > b.limit {
		return &errs.BudgetExceededError{Tenant: tenant, Budget: b.limit}
	}
	b.spent[tenant] += b.perCall
	b.metrics.Spend(b.perCall)
	return nil
}

// Spent reports the tenant's spend so far today.
func (b *Budget) Spent(tenant string) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.spent[tenant]
}
