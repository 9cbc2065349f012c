package api

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"expediter/internal/models"
	"expediter/internal/realtime"
	"expediter/internal/store"
)

// EventStream upgrades the request into a websocket event subscription.
// Query parameters scope the stream: kinds=routing,order and
// station_ids=1,2 narrow what the display receives.
func (s *Server) EventStream(c *gin.Context) {
	filter := realtime.Filter{Role: c.GetString(ctxRole)}
	if kinds := c.Query("kinds"); kinds != "" {
		filter.Kinds = strings.Split(kinds, ",")
	}
	if ids := c.Query("station_ids"); ids != "" {
		for _, raw := range strings.Split(ids, ",") {
			id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
			if err != nil {
				continue
			}
			filter.StationIDs = append(filter.StationIDs, uint(id))
		}
	}
	s.hub.Serve(c.Writer, c.Request, filter)
}

// kitchenSnapshot is the full state served on websocket connect and resync.
type kitchenSnapshot struct {
	Orders    []models.Order         `json:"orders"`
	Routing   []models.RoutingRecord `json:"routing"`
	Stations  []models.Station       `json:"stations"`
	Anomalies []models.Anomaly       `json:"anomalies"`
}

// Snapshot builds the hub's snapshot function over the store. seq reports
// the channel's last assigned sequence so clients know where deltas resume.
func Snapshot(st store.Store, seq func() uint64) realtime.SnapshotFunc {
	return func(ctx context.Context, f realtime.Filter) (interface{}, uint64, error) {
		snap := kitchenSnapshot{}
		var err error

		snap.Orders, err = st.ListOrders(ctx, store.OrderFilter{Status: string(models.OrderStatusOpen)})
		if err != nil {
			return nil, 0, err
		}
		snap.Stations, err = st.ListStations(ctx)
		if err != nil {
			return nil, 0, err
		}
		records, err := st.ListRouting(ctx, store.RoutingFilter{
			Statuses: []string{string(models.RoutingStatusNew), string(models.RoutingStatusPreparing), string(models.RoutingStatusReady)},
		})
		if err != nil {
			return nil, 0, err
		}
		for _, r := range records {
			if stationVisible(f, r.StationID) {
				snap.Routing = append(snap.Routing, r)
			}
		}
		snap.Anomalies, err = st.ListAnomalies(ctx, store.AnomalyFilter{UnresolvedOnly: true})
		if err != nil {
			return nil, 0, err
		}

		return snap, seq(), nil
	}
}

func stationVisible(f realtime.Filter, stationID uint) bool {
	if len(f.StationIDs) == 0 {
		return true
	}
	for _, id := range f.StationIDs {
		if id == stationID {
			return true
		}
	}
	return false
}
