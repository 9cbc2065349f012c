// Package store is the persistence gateway. Every component reads and
// writes through the Store interface; nothing in the core touches a storage
// engine directly. Row-level consistency here is the coordination point
// between concurrent actors.
package store

import (
	"context"
	"time"

	"expediter/internal/models"
)

// OrderFilter narrows order queries.
type OrderFilter struct {
	TableNumber string
	Status      string
	Since       time.Time
}

// RoutingFilter narrows routing-record queries.
type RoutingFilter struct {
	OrderID   uint
	StationID uint
	Statuses  []string
}

// AnomalyFilter narrows anomaly queries.
type AnomalyFilter struct {
	OrderID        uint
	Type           string
	UnresolvedOnly bool
}

// Store is the typed persistence gateway over the five record kinds.
type Store interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id uint) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, number int) (*models.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error

	CreateRouting(ctx context.Context, r *models.RoutingRecord) error
	GetRouting(ctx context.Context, id uint) (*models.RoutingRecord, error)
	ListRouting(ctx context.Context, f RoutingFilter) ([]models.RoutingRecord, error)
	// UpdateRouting persists r conditioned on the version it was read at.
	// On success the stored and in-memory Version are incremented; if the
	// row moved on, a ConflictError is returned and r is left unchanged.
	UpdateRouting(ctx context.Context, r *models.RoutingRecord) error

	CreateStation(ctx context.Context, s *models.Station) error
	GetStation(ctx context.Context, id uint) (*models.Station, error)
	ListStations(ctx context.Context) ([]models.Station, error)

	CreateAnomaly(ctx context.Context, a *models.Anomaly) error
	GetAnomaly(ctx context.Context, id uint) (*models.Anomaly, error)
	ListAnomalies(ctx context.Context, f AnomalyFilter) ([]models.Anomaly, error)
	UpdateAnomaly(ctx context.Context, a *models.Anomaly) error

	CreateCommandRecord(ctx context.Context, c *models.CommandRecord) error
	GetCommandByKey(ctx context.Context, key string) (*models.CommandRecord, error)
	ListCommandRecords(ctx context.Context, limit int) ([]models.CommandRecord, error)
}
