package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expediter/internal/errs"
)

func TestBudgetChargesUntilLimit(t *testing.T) {
	b := NewBudget(0.02, 0.01, nil)

	require.NoError(t, b.Charge("cafe"))
	require.NoError(t, b.Charge("cafe"))
	assert.InDelta(t, 0.02, b.Spent("cafe"), 1e-9)

	err := b.Charge("cafe")
	var exceeded *errs.BudgetExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "cafe", exceeded.Tenant)
}

func TestBudgetIsPerTenant(t *testing.T) {
	b := NewBudget(0.01, 0.01, nil)

	require.NoError(t, b.Charge("north"))
	require.Error(t, b.Charge("north"))
	require.NoError(t, b.Charge("south"))
}

func TestBudgetResetsNextDay(t *testing.T) {
	b := NewBudget(0.01, 0.01, nil)
	day := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return day }

	require.NoError(t, b.Charge("cafe"))
	require.Error(t, b.Charge("cafe"))

	day = day.Add(24 * time.Hour)
	require.NoError(t, b.Charge("cafe"))
}
