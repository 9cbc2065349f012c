package router

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"expediter/internal/errs"
	"expediter/internal/models"
	"expediter/internal/realtime"
	"expediter/internal/store"
)

// captureChannel records published events for assertions.
type captureChannel struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (c *captureChannel) Publish(ctx context.Context, ev realtime.ChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev.Seq = uint64(len(c.events) + 1)
	c.events = append(c.events, ev)
	return nil
}

func (c *captureChannel) Subscribe(ctx context.Context, f realtime.Filter) (*realtime.Subscription, error) {
	ch := make(chan realtime.ChangeEvent)
	close(ch)
	return &realtime.Subscription{Events: ch, Cancel: func() {}}, nil
}

func TestRouteFansOutPerStation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.CreateStation(ctx, &models.Station{Name: "Grill", Type: models.StationTypeGrill}))
	require.NoError(t, st.CreateStation(ctx, &models.Station{Name: "Salad", Type: models.StationTypeSalad}))

	o := &models.Order{
		Number:      20,
		TableNumber: "3",
		Items: []models.OrderItem{
			{Name: "Steak", Quantity: 1, StationType: models.StationTypeGrill},
			{Name: "Caesar", Quantity: 1, StationType: models.StationTypeSalad},
			{Name: "Ribeye", Quantity: 1, StationType: models.StationTypeGrill},
		},
	}
	records, err := New(st, nil).Route(ctx, o)
	require.NoError(t, err)

	// Two grill items share one routing record; the order fans out once
	// per station, not once per item.
	assert.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, string(models.RoutingStatusNew), r.Status)
		assert.Equal(t, o.ID, r.OrderID)
	}
	assert.Equal(t, string(models.OrderStatusOpen), o.Status)
	assert.False(t, o.TimeReceived.IsZero())
}

func TestRouteUnmatchedItemFallsToExpo(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.CreateStation(ctx, &models.Station{Name: "Expo", Type: models.StationTypeExpo}))

	o := &models.Order{
		Number:      21,
		TableNumber: "6",
		Items:       []models.OrderItem{{Name: "Mystery", Quantity: 1, StationType: "sushi"}},
	}
	records, err := New(st, nil).Route(ctx, o)
	require.NoError(t, err)
	require.Len(t, records, 1)

	expo, err := st.GetStation(ctx, records[0].StationID)
	require.NoError(t, err)
	assert.Equal(t, models.StationTypeExpo, expo.Type)
}

func TestRouteValidation(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	r := New(st, nil)
	var validation *errs.ValidationError

	_, err := r.Route(ctx, &models.Order{TableNumber: "1"})
	require.ErrorAs(t, err, &validation)

	_, err = r.Route(ctx, &models.Order{Items: []models.OrderItem{{Name: "Soup", StationType: models.StationTypeGrill}}})
	require.ErrorAs(t, err, &validation)

	// No station of the type and no expo to fall back on.
	_, err = r.Route(ctx, &models.Order{
		TableNumber: "1",
		Items:       []models.OrderItem{{Name: "Soup", StationType: models.StationTypeGrill}},
	})
	require.ErrorAs(t, err, &validation)
}

func TestRoutePublishesCreations(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	require.NoError(t, st.CreateStation(ctx, &models.Station{Name: "Bar", Type: models.StationTypeBar}))

	ch := &captureChannel{}
	o := &models.Order{
		Number:      22,
		TableNumber: "2",
		Items:       []models.OrderItem{{Name: "Negroni", Quantity: 1, StationType: models.StationTypeBar}},
	}
	_, err := New(st, ch).Route(ctx, o)
	require.NoError(t, err)

	// One routing creation plus the order creation.
	require.Len(t, ch.events, 2)
	assert.Equal(t, "routing", ch.events[0].Kind)
	assert.Equal(t, "order", ch.events[1].Kind)
	assert.Equal(t, "2", ch.events[0].TableNumber)
}
