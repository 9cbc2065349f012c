package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expediter/internal/config"
	"expediter/internal/errs"
	"expediter/internal/models"
	"expediter/internal/store"
)

func newKitchen(t *testing.T) (*store.MemoryStore, *Executor) {
	t.Helper()
	st := store.NewMemory()
	x := NewExecutor(st, nil, config.Default(), nil, nil)
	return st, x
}

// seedOrder creates a grill+fryer kitchen with one routed order and returns
// its routing records in station order.
func seedOrder(t *testing.T, st *store.MemoryStore, number int, table string) []models.RoutingRecord {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.CreateStation(ctx, &models.Station{Name: "Grill", Type: models.StationTypeGrill, Position: 1}))
	require.NoError(t, st.CreateStation(ctx, &models.Station{Name: "Fryer", Type: models.StationTypeFryer, Position: 2}))

	o := &models.Order{
		Number:      number,
		TableNumber: table,
		Items: []models.OrderItem{
			{Name: "Burger", Quantity: 1, StationType: models.StationTypeGrill},
			{Name: "Fries", Quantity: 1, StationType: models.StationTypeFryer},
		},
	}
	records, err := New(st, nil).Route(ctx, o)
	require.NoError(t, err)
	require.Len(t, records, 2)
	return records
}

func touch(role string) Actor {
	return Actor{ID: "tester", Role: role, Source: models.SourceTouch}
}

func TestLifecycleStartBump(t *testing.T) {
	ctx := context.Background()
	st, x := newKitchen(t)
	records := seedOrder(t, st, 1, "4")
	id := records[0].ID

	res, err := x.Execute(ctx, "k1", touch("cook"), Start{RoutingID: id})
	require.NoError(t, err)
	assert.True(t, res.Success)

	r, err := st.GetRouting(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(models.RoutingStatusPreparing), r.Status)
	assert.NotNil(t, r.StartedAt)
	assert.Nil(t, r.CompletedAt)

	res, err = x.Execute(ctx, "k2", touch("cook"), Bump{RoutingID: id})
	require.NoError(t, err)
	assert.True(t, res.Success)

	r, err = st.GetRouting(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(models.RoutingStatusReady), r.Status)
	require.NotNil(t, r.CompletedAt)
	require.NotNil(t, r.BumpedAt)
	assert.Equal(t, "tester", r.BumpedBy)
}

// CompletedAt is set exactly while the record is ready: bumping sets it,
// recalling clears it again.
func TestRecallClearsCompletionAndCounts(t *testing.T) {
	ctx := context.Background()
	st, x := newKitchen(t)
	records := seedOrder(t, st, 2, "7")
	id := records[0].ID

	_, err := x.Execute(ctx, "k1", touch("cook"), Bump{RoutingID: id})
	require.NoError(t, err)

	res, err := x.Execute(ctx, "k2", touch("cook"), Recall{RoutingID: id})
	require.NoError(t, err)
	assert.True(t, res.Success)

	r, err := st.GetRouting(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(models.RoutingStatusPreparing), r.Status)
	assert.Nil(t, r.CompletedAt)
	assert.Nil(t, r.BumpedAt)
	assert.Equal(t, 1, r.RecallCount)

	o, err := st.GetOrder(ctx, r.OrderID)
	require.NoError(t, err)
	assert.Equal(t, 1, o.RecallCount)
}

func TestStartAlreadyStartedIsNoOp(t *testing.T) {
	ctx := context.Background()
	st, x := newKitchen(t)
	records := seedOrder(t, st, 3, "2")
	id := records[0].ID

	_, err := x.Execute(ctx, "k1", touch("cook"), Start{RoutingID: id})
	require.NoError(t, err)

	res, err := x.Execute(ctx, "k2", touch("cook"), Start{RoutingID: id})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.AffectedCount)

	r, err := st.GetRouting(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, string(models.RoutingStatusPreparing), r.Status)
}

func TestBumpUnknownRecordSoftFails(t *testing.T) {
	ctx := context.Background()
	_, x := newKitchen(t)

	res, err := x.Execute(ctx, "k1", touch("cook"), Bump{RoutingID: 99})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, uint(99), res.Errors[0].ID)
}

func TestIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	st, x := newKitchen(t)
	records := seedOrder(t, st, 4, "9")
	id := records[0].ID

	first, err := x.Execute(ctx, "same-key", touch("cook"), Bump{RoutingID: id})
	require.NoError(t, err)
	r1, err := st.GetRouting(ctx, id)
	require.NoError(t, err)

	second, err := x.Execute(ctx, "same-key", touch("cook"), Bump{RoutingID: id})
	require.NoError(t, err)
	r2, err := st.GetRouting(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	// Replay performs no second transition.
	assert.Equal(t, r1.Version, r2.Version)

	history, err := st.ListCommandRecords(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestExecuteRequiresIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	st, x := newKitchen(t)
	records := seedOrder(t, st, 5, "1")

	_, err := x.Execute(ctx, "", touch("cook"), Bump{RoutingID: records[0].ID})
	var validation *errs.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestPermissionDenied(t *testing.T) {
	ctx := context.Background()
	st, x := newKitchen(t)
	seedOrder(t, st, 6, "3")

	_, err := x.Execute(ctx, "k1", touch("cook"), BumpTable{TableNumber: "3"})
	var perm *errs.PermissionError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "cook", perm.Role)

	// The denied attempt never reaches history.
	history, err := st.ListCommandRecords(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestBumpOrderTransitionsEveryStation(t *testing.T) {
	ctx := context.Background()
	st, x := newKitchen(t)
	seedOrder(t, st, 123, "5")

	res, err := x.Execute(ctx, "k1", Actor{
		ID:         "marco",
		Role:       "cook",
		Source:     models.SourceVoice,
		Transcript: "bump order 123",
		Confidence: 0.94,
	}, BumpOrder{OrderNumber: 123})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, 2, res.AffectedCount)
	assert.Contains(t, res.Feedback, "Order 123")
	assert.Contains(t, res.Feedback, "5")

	records, err := st.ListRouting(ctx, store.RoutingFilter{})
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, string(models.RoutingStatusReady), r.Status)
		assert.NotNil(t, r.CompletedAt)
	}

	history, err := st.ListCommandRecords(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "bump order 123", history[0].Transcript)
	assert.Equal(t, models.SourceVoice, history[0].Source)
}

func TestBumpOrderNotFound(t *testing.T) {
	ctx := context.Background()
	_, x := newKitchen(t)

	res, err := x.Execute(ctx, "k1", touch("cook"), BumpOrder{OrderNumber: 404})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Feedback, "404")
}

func TestBumpTableReportsEveryRecord(t *testing.T) {
	ctx := context.Background()
	st, x := newKitchen(t)
	seedOrder(t, st, 7, "11")

	res, err := x.Execute(ctx, "k1", touch("expo"), BumpTable{TableNumber: "11"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.AffectedCount)
	assert.Empty(t, res.Errors)
}

// faultyStore fails UpdateRouting for one chosen record.
type faultyStore struct {
	store.Store
	failID uint
	err    error
}

func (s *faultyStore) UpdateRouting(ctx context.Context, r *models.RoutingRecord) error {
	if r.ID == s.failID {
		return s.err
	}
	return s.Store.UpdateRouting(ctx, r)
}

func TestBumpTableTransientFailureReportsUnattempted(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	records := seedOrder(t, st, 7, "11")
	x := NewExecutor(&faultyStore{
		Store:  st,
		failID: records[0].ID,
		err:    &errs.TransientError{Op: "update routing", Err: context.DeadlineExceeded},
	}, nil, config.Default(), nil, nil)

	res, err := x.Execute(ctx, "k1", touch("expo"), BumpTable{TableNumber: "11"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Zero(t, res.AffectedCount)
	require.Len(t, res.Errors, 2)
	assert.Equal(t, records[0].ID, res.Errors[0].ID)
	assert.Contains(t, res.Errors[0].Reason, "transient")
	assert.Equal(t, records[1].ID, res.Errors[1].ID)
	assert.Equal(t, "not attempted", res.Errors[1].Reason)

	// The record the loop never reached keeps its status.
	rest, err := st.GetRouting(ctx, records[1].ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.RoutingStatusNew), rest.Status)
}

func TestBumpAllContinuesPastPermanentFailure(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	records := seedOrder(t, st, 8, "6")
	x := NewExecutor(&faultyStore{
		Store:  st,
		failID: records[0].ID,
		err:    &errs.ValidationError{Field: "status", Reason: "rejected"},
	}, nil, config.Default(), nil, nil)

	res, err := x.Execute(ctx, "k1", touch("expo"), BumpAll{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 1, res.AffectedCount)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, records[0].ID, res.Errors[0].ID)

	// The failure did not stop the batch; the other record is ready.
	other, err := st.GetRouting(ctx, records[1].ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.RoutingStatusReady), other.Status)
	failed, err := st.GetRouting(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, string(models.RoutingStatusNew), failed.Status)
}

func TestBumpTableNoOpenOrders(t *testing.T) {
	ctx := context.Background()
	_, x := newKitchen(t)

	res, err := x.Execute(ctx, "k1", touch("expo"), BumpTable{TableNumber: "99"})
	require.NoError(t, err)
	assert.False(t, res.Success)
}

func TestBumpAll(t *testing.T) {
	ctx := context.Background()
	st, x := newKitchen(t)
	seedOrder(t, st, 8, "6")

	res, err := x.Execute(ctx, "k1", touch("expo"), BumpAll{})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.AffectedCount)
}

func TestSetPriorityValidatesLevel(t *testing.T) {
	ctx := context.Background()
	st, x := newKitchen(t)
	records := seedOrder(t, st, 9, "8")

	_, err := x.Execute(ctx, "k1", touch("expo"), SetPriority{RoutingID: records[0].ID, Level: 5})
	var validation *errs.ValidationError
	require.ErrorAs(t, err, &validation)

	res, err := x.Execute(ctx, "k2", touch("expo"), SetPriority{RoutingID: records[0].ID, Level: models.PriorityRush})
	require.NoError(t, err)
	assert.True(t, res.Success)

	r, err := st.GetRouting(ctx, records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityRush, r.Priority)
	// Priority changes are orthogonal to the lifecycle.
	assert.Equal(t, string(models.RoutingStatusNew), r.Status)
}

func TestSetOrderPriority(t *testing.T) {
	ctx := context.Background()
	st, x := newKitchen(t)
	seedOrder(t, st, 10, "12")

	res, err := x.Execute(ctx, "k1", touch("expo"), SetOrderPriority{OrderNumber: 10, Level: models.PriorityHigh})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.AffectedCount)

	o, err := st.GetOrderByNumber(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityHigh, o.Priority)
}

func TestArchiveRequiresEverythingReady(t *testing.T) {
	ctx := context.Background()
	st, x := newKitchen(t)
	records := seedOrder(t, st, 11, "10")

	_, err := x.Execute(ctx, "k1", touch("expo"), Archive{OrderNumber: 11})
	var validation *errs.ValidationError
	require.ErrorAs(t, err, &validation)

	for i, r := range records {
		_, err := x.Execute(ctx, "bump-"+string(rune('a'+i)), touch("expo"), Bump{RoutingID: r.ID})
		require.NoError(t, err)
	}

	res, err := x.Execute(ctx, "k2", touch("expo"), Archive{OrderNumber: 11})
	require.NoError(t, err)
	assert.True(t, res.Success)

	o, err := st.GetOrderByNumber(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, string(models.OrderStatusArchived), o.Status)

	remaining, err := st.ListRouting(ctx, store.RoutingFilter{OrderID: o.ID})
	require.NoError(t, err)
	for _, r := range remaining {
		assert.True(t, r.Terminal())
	}
}
