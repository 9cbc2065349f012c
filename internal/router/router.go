package router

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"expediter/internal/errs"
	"expediter/internal/models"
	"expediter/internal/realtime"
	"expediter/internal/store"
)

// Router fans an incoming order out into one routing record per producing
// station and announces the creations on the notification channel.
type Router struct {
	store   store.Store
	channel realtime.Channel
}

// New creates a Router.
func New(st store.Store, ch realtime.Channel) *Router {
	return &Router{store: st, channel: ch}
}

// Route persists the order and creates a routing record at every station
// whose type matches one of the order's items. Items with no matching
// station fall through to the expo station so nothing is ever dropped.
func (r *Router) Route(ctx context.Context, o *models.Order) ([]models.RoutingRecord, error) {
	if len(o.Items) == 0 {
		return nil, &errs.ValidationError{Field: "items", Reason: "order has no items"}
	}
	if o.TableNumber == "" {
		return nil, &errs.ValidationError{Field: "table_number", Reason: "required"}
	}

	stations, err := r.store.ListStations(ctx)
	if err != nil {
		return nil, err
	}
	byType := make(map[string][]models.Station)
	var expo *models.Station
	for i, s := range stations {
		byType[s.Type] = append(byType[s.Type], s)
		if s.Type == models.StationTypeExpo && expo == nil {
			expo = &stations[i]
		}
	}

	targets := make(map[uint]bool)
	var ordered []uint
	for _, item := range o.Items {
		matched := byType[item.StationType]
		if len(matched) == 0 {
			if expo == nil {
				return nil, &errs.ValidationError{Field: "items", Reason: "no station handles type " + item.StationType}
			}
			matched = []models.Station{*expo}
		}
		for _, s := range matched {
			if !targets[s.ID] {
				targets[s.ID] = true
				ordered = append(ordered, s.ID)
			}
		}
	}

	o.Status = string(models.OrderStatusOpen)
	if o.TimeReceived.IsZero() {
		o.TimeReceived = time.Now()
	}
	if err := r.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}

	records := make([]models.RoutingRecord, 0, len(ordered))
	for _, stationID := range ordered {
		rec := models.RoutingRecord{
			OrderID:   o.ID,
			StationID: stationID,
			Status:    string(models.RoutingStatusNew),
			Priority:  o.Priority,
		}
		if err := r.store.CreateRouting(ctx, &rec); err != nil {
			return records, err
		}
		records = append(records, rec)
		r.publishCreated(ctx, o, &rec)
	}

	r.publishOrderCreated(ctx, o)
	return records, nil
}

func (r *Router) publishCreated(ctx context.Context, o *models.Order, rec *models.RoutingRecord) {
	if r.channel == nil {
		return
	}
	payload, _ := json.Marshal(rec)
	ev := realtime.ChangeEvent{
		Kind:        realtime.KindRouting,
		Action:      realtime.ActionCreated,
		RecordID:    rec.ID,
		OrderID:     o.ID,
		StationID:   rec.StationID,
		TableNumber: o.TableNumber,
		Payload:     payload,
	}
	if err := r.channel.Publish(ctx, ev); err != nil {
		log.Printf("router: publish failed: %v", err)
	}
}

func (r *Router) publishOrderCreated(ctx context.Context, o *models.Order) {
	if r.channel == nil {
		return
	}
	payload, _ := json.Marshal(o)
	ev := realtime.ChangeEvent{
		Kind:        realtime.KindOrder,
		Action:      realtime.ActionCreated,
		RecordID:    o.ID,
		OrderID:     o.ID,
		TableNumber: o.TableNumber,
		Payload:     payload,
	}
	if err := r.channel.Publish(ctx, ev); err != nil {
		log.Printf("router: publish failed: %v", err)
	}
}
