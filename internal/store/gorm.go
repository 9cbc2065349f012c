package store

import (
	"context"
	"fmt"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/postgres"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"expediter/internal/errs"
	"expediter/internal/models"
)

// GormStore implements Store on top of gorm with the sqlite3 or postgres
// dialect.
type GormStore struct {
	db *gorm.DB
}

// Open connects to the database and migrates the schema.
func Open(dialect, dsn string) (*GormStore, error) {
	db, err := gorm.Open(dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.AutoMigrate(
		&models.Order{},
		&models.OrderItem{},
		&models.RoutingRecord{},
		&models.Station{},
		&models.Anomaly{},
		&models.CommandRecord{},
	)
	return &GormStore{db: db}, nil
}

// Close closes the underlying connection.
func (s *GormStore) Close() error {
	return s.db.Close()
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if gorm.IsRecordNotFoundError(err) {
		return err
	}
	return &errs.TransientError{Op: op, Err: err}
}

func (s *GormStore) CreateOrder(ctx context.Context, o *models.Order) error {
	return wrap("create order", s.db.Create(o).Error)
}

func (s *GormStore) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	var o models.Order
	if err := s.db.Preload("Items").First(&o, id).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, &errs.NotFoundError{Kind: "order", ID: fmt.Sprint(id)}
		}
		return nil, wrap("get order", err)
	}
	return &o, nil
}

func (s *GormStore) GetOrderByNumber(ctx context.Context, number int) (*models.Order, error) {
	var o models.Order
	if err := s.db.Preload("Items").Where("number = ?", number).First(&o).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, &errs.NotFoundError{Kind: "order", ID: fmt.Sprint(number)}
		}
		return nil, wrap("get order by number", err)
	}
	return &o, nil
}

func (s *GormStore) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	q := s.db.Preload("Items")
	if f.TableNumber != "" {
		q = q.Where("table_number = ?", f.TableNumber)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if !f.Since.IsZero() {
		q = q.Where("time_received >= ?", f.Since)
	}
	var orders []models.Order
	if err := q.Find(&orders).Error; err != nil {
		return nil, wrap("list orders", err)
	}
	return orders, nil
}

func (s *GormStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	return wrap("update order", s.db.Save(o).Error)
}

func (s *GormStore) CreateRouting(ctx context.Context, r *models.RoutingRecord) error {
	return wrap("create routing", s.db.Create(r).Error)
}

func (s *GormStore) GetRouting(ctx context.Context, id uint) (*models.RoutingRecord, error) {
	var r models.RoutingRecord
	if err := s.db.First(&r, id).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, &errs.NotFoundError{Kind: "routing record", ID: fmt.Sprint(id)}
		}
		return nil, wrap("get routing", err)
	}
	return &r, nil
}

func (s *GormStore) ListRouting(ctx context.Context, f RoutingFilter) ([]models.RoutingRecord, error) {
	q := s.db.New()
	if f.OrderID != 0 {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if f.StationID != 0 {
		q = q.Where("station_id = ?", f.StationID)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN (?)", f.Statuses)
	}
	var records []models.RoutingRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, wrap("list routing", err)
	}
	return records, nil
}

func (s *GormStore) UpdateRouting(ctx context.Context, r *models.RoutingRecord) error {
	readVersion := r.Version
	r.Version++
	res := s.db.Model(&models.RoutingRecord{}).
		Where("id = ? AND version = ?", r.ID, readVersion).
		Updates(map[string]interface{}{
			"status":       r.Status,
			"priority":     r.Priority,
			"started_at":   r.StartedAt,
			"bumped_at":    r.BumpedAt,
			"completed_at": r.CompletedAt,
			"recall_count": r.RecallCount,
			"bumped_by":    r.BumpedBy,
			"version":      r.Version,
		})
	if res.Error != nil {
		r.Version = readVersion
		return wrap("update routing", res.Error)
	}
	if res.RowsAffected == 0 {
		r.Version = readVersion
		return &errs.ConflictError{Kind: "routing record", ID: fmt.Sprint(r.ID)}
	}
	return nil
}

func (s *GormStore) CreateStation(ctx context.Context, st *models.Station) error {
	return wrap("create station", s.db.Create(st).Error)
}

func (s *GormStore) GetStation(ctx context.Context, id uint) (*models.Station, error) {
	var st models.Station
	if err := s.db.First(&st, id).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, &errs.NotFoundError{Kind: "station", ID: fmt.Sprint(id)}
		}
		return nil, wrap("get station", err)
	}
	return &st, nil
}

func (s *GormStore) ListStations(ctx context.Context) ([]models.Station, error) {
	var stations []models.Station
	if err := s.db.Order("position").Find(&stations).Error; err != nil {
		return nil, wrap("list stations", err)
	}
	return stations, nil
}

func (s *GormStore) CreateAnomaly(ctx context.Context, a *models.Anomaly) error {
	return wrap("create anomaly", s.db.Create(a).Error)
}

func (s *GormStore) GetAnomaly(ctx context.Context, id uint) (*models.Anomaly, error) {
	var a models.Anomaly
	if err := s.db.First(&a, id).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, &errs.NotFoundError{Kind: "anomaly", ID: fmt.Sprint(id)}
		}
		return nil, wrap("get anomaly", err)
	}
	return &a, nil
}

func (s *GormStore) ListAnomalies(ctx context.Context, f AnomalyFilter) ([]models.Anomaly, error) {
	q := s.db.New()
	if f.OrderID != 0 {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.UnresolvedOnly {
		q = q.Where("resolved = ?", false)
	}
	var anomalies []models.Anomaly
	if err := q.Order("detected_at desc").Find(&anomalies).Error; err != nil {
		return nil, wrap("list anomalies", err)
	}
	return anomalies, nil
}

func (s *GormStore) UpdateAnomaly(ctx context.Context, a *models.Anomaly) error {
	return wrap("update anomaly", s.db.Save(a).Error)
}

func (s *GormStore) CreateCommandRecord(ctx context.Context, c *models.CommandRecord) error {
	return wrap("create command record", s.db.Create(c).Error)
}

func (s *GormStore) GetCommandByKey(ctx context.Context, key string) (*models.CommandRecord, error) {
	var c models.CommandRecord
	if err := s.db.Where("idempotency_key = ?", key).First(&c).Error; err != nil {
		if gorm.IsRecordNotFoundError(err) {
			return nil, &errs.NotFoundError{Kind: "command", ID: key}
		}
		return nil, wrap("get command by key", err)
	}
	return &c, nil
}

func (s *GormStore) ListCommandRecords(ctx context.Context, limit int) ([]models.CommandRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.CommandRecord
	if err := s.db.Order("executed_at desc").Limit(limit).Find(&records).Error; err != nil {
		return nil, wrap("list command records", err)
	}
	return records, nil
}
