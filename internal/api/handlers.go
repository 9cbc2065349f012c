package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"expediter/internal/errs"
	"expediter/internal/models"
	"expediter/internal/router"
	"expediter/internal/store"
)

// writeError maps the error taxonomy onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	var (
		validation *errs.ValidationError
		notFound   *errs.NotFoundError
		permission *errs.PermissionError
		conflict   *errs.ConflictError
		budget     *errs.BudgetExceededError
		ambiguous  *errs.AmbiguousCommandError
	)
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &permission):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &budget):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	case errors.As(err, &ambiguous):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "suggestions": ambiguous.Suggestions})
	case errs.IsTransient(err):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// actor builds the command actor from the auth claims.
func actor(c *gin.Context) router.Actor {
	return router.Actor{
		ID:     c.GetString(ctxActor),
		Role:   c.GetString(ctxRole),
		Source: models.SourceTouch,
	}
}

// idempotencyKey is required on every mutation so retried requests replay
// instead of double-applying.
func idempotencyKey(c *gin.Context) string {
	return c.GetHeader("Idempotency-Key")
}

func (s *Server) execute(c *gin.Context, cmd router.Command) {
	res, err := s.executor.Execute(c.Request.Context(), idempotencyKey(c), actor(c), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

// Order intake

// CreateOrder routes a new order to its stations and kicks off anomaly
// evaluation in the background; detector findings arrive on the event
// stream rather than blocking intake.
func (s *Server) CreateOrder(c *gin.Context) {
	var order models.Order
	if err := c.ShouldBindJSON(&order); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	records, err := s.intake.Route(c.Request.Context(), &order)
	if err != nil {
		writeError(c, err)
		return
	}

	if s.engine != nil {
		o := order
		go s.engine.Evaluate(newDetachedContext(c), &o)
	}

	c.JSON(http.StatusCreated, gin.H{"order": order, "routing": records})
}

func (s *Server) ListOrders(c *gin.Context) {
	f := store.OrderFilter{
		TableNumber: c.Query("table"),
		Status:      c.Query("status"),
	}
	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		f.Since = t
	}
	orders, err := s.store.ListOrders(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (s *Server) GetOrder(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order number must be an integer"})
		return
	}
	order, err := s.store.GetOrderByNumber(c.Request.Context(), number)
	if err != nil {
		writeError(c, err)
		return
	}
	records, err := s.store.ListRouting(c.Request.Context(), store.RoutingFilter{OrderID: order.ID})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "routing": records})
}

func (s *Server) ListRouting(c *gin.Context) {
	var f store.RoutingFilter
	if sid := c.Query("station_id"); sid != "" {
		id, err := strconv.ParseUint(sid, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "station_id must be an integer"})
			return
		}
		f.StationID = uint(id)
	}
	if status := c.Query("status"); status != "" {
		f.Statuses = []string{status}
	}
	records, err := s.store.ListRouting(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// Stations

func (s *Server) CreateStation(c *gin.Context) {
	var station models.Station
	if err := c.ShouldBindJSON(&station); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if station.Name == "" || station.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and type are required"})
		return
	}
	if err := s.store.CreateStation(c.Request.Context(), &station); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, station)
}

func (s *Server) ListStations(c *gin.Context) {
	stations, err := s.store.ListStations(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stations)
}

// Touch commands

func (s *Server) routingCommand(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "routing id must be an integer"})
			return
		}
		var cmd router.Command
		switch action {
		case "start":
			cmd = router.Start{RoutingID: uint(id)}
		case "bump":
			cmd = router.Bump{RoutingID: uint(id)}
		case "recall":
			cmd = router.Recall{RoutingID: uint(id)}
		}
		s.execute(c, cmd)
	}
}

func (s *Server) orderCommand(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		number, err := strconv.Atoi(c.Param("number"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "order number must be an integer"})
			return
		}
		var cmd router.Command
		switch action {
		case "start":
			cmd = router.StartOrder{OrderNumber: number}
		case "bump":
			cmd = router.BumpOrder{OrderNumber: number}
		case "recall":
			cmd = router.RecallOrder{OrderNumber: number}
		}
		s.execute(c, cmd)
	}
}

type priorityRequest struct {
	Level int `json:"level"`
}

func (s *Server) SetRoutingPriority(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "routing id must be an integer"})
		return
	}
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.execute(c, router.SetPriority{RoutingID: uint(id), Level: req.Level})
}

func (s *Server) SetOrderPriority(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order number must be an integer"})
		return
	}
	var req priorityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.execute(c, router.SetOrderPriority{OrderNumber: number, Level: req.Level})
}

func (s *Server) ArchiveOrder(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order number must be an integer"})
		return
	}
	s.execute(c, router.Archive{OrderNumber: number})
}

func (s *Server) BumpTable(c *gin.Context) {
	s.execute(c, router.BumpTable{TableNumber: c.Param("table")})
}

func (s *Server) BumpAll(c *gin.Context) {
	s.execute(c, router.BumpAll{})
}

// Command history

func (s *Server) ListCommands(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	records, err := s.store.ListCommandRecords(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// Anomalies

func (s *Server) ListAnomalies(c *gin.Context) {
	f := store.AnomalyFilter{
		Type:           c.Query("type"),
		UnresolvedOnly: c.Query("unresolved") == "true",
	}
	if oid := c.Query("order_id"); oid != "" {
		id, err := strconv.ParseUint(oid, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "order_id must be an integer"})
			return
		}
		f.OrderID = uint(id)
	}
	anomalies, err := s.store.ListAnomalies(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, anomalies)
}

type resolveRequest struct {
	Resolution string `json:"resolution"`
}

func (s *Server) ResolveAnomaly(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "anomaly id must be an integer"})
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Resolution == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resolution is required"})
		return
	}
	a, err := s.engine.Resolve(c.Request.Context(), uint(id), req.Resolution)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
