package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"expediter/internal/errs"
	"expediter/internal/models"
)

// MemoryStore is an in-memory Store with the same versioning semantics as
// the gorm implementation. It backs unit tests and single-process demos.
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[uint]*models.Order
	routing  map[uint]*models.RoutingRecord
	stations map[uint]*models.Station
	anomlies map[uint]*models.Anomaly
	commands map[uint]*models.CommandRecord
	byKey    map[string]uint
	nextID   uint
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[uint]*models.Order),
		routing:  make(map[uint]*models.RoutingRecord),
		stations: make(map[uint]*models.Station),
		anomlies: make(map[uint]*models.Anomaly),
		commands: make(map[uint]*models.CommandRecord),
		byKey:    make(map[string]uint),
	}
}

func (s *MemoryStore) id() uint {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) CreateOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == 0 {
		o.ID = s.id()
	}
	o.CreatedAt = time.Now()
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, id uint) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "order", ID: fmt.Sprint(id)}
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) GetOrderByNumber(ctx context.Context, number int) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, o := range s.orders {
		if o.Number == number {
			cp := *o
			return &cp, nil
		}
	}
	return nil, &errs.NotFoundError{Kind: "order", ID: fmt.Sprint(number)}
}

func (s *MemoryStore) ListOrders(ctx context.Context, f OrderFilter) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Order
	for _, o := range s.orders {
		if f.TableNumber != "" && o.TableNumber != f.TableNumber {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && o.TimeReceived.Before(f.Since) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; !ok {
		return &errs.NotFoundError{Kind: "order", ID: fmt.Sprint(o.ID)}
	}
	cp := *o
	s.orders[o.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateRouting(ctx context.Context, r *models.RoutingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		r.ID = s.id()
	}
	r.CreatedAt = time.Now()
	cp := *r
	s.routing[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRouting(ctx context.Context, id uint) (*models.RoutingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routing[id]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "routing record", ID: fmt.Sprint(id)}
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRouting(ctx context.Context, f RoutingFilter) ([]models.RoutingRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.RoutingRecord
	for _, r := range s.routing {
		if f.OrderID != 0 && r.OrderID != f.OrderID {
			continue
		}
		if f.StationID != 0 && r.StationID != f.StationID {
			continue
		}
		if len(f.Statuses) > 0 && !contains(f.Statuses, r.Status) {
			continue
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateRouting(ctx context.Context, r *models.RoutingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.routing[r.ID]
	if !ok {
		return &errs.NotFoundError{Kind: "routing record", ID: fmt.Sprint(r.ID)}
	}
	if cur.Version != r.Version {
		return &errs.ConflictError{Kind: "routing record", ID: fmt.Sprint(r.ID)}
	}
	r.Version++
	cp := *r
	s.routing[r.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateStation(ctx context.Context, st *models.Station) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == 0 {
		st.ID = s.id()
	}
	cp := *st
	s.stations[st.ID] = &cp
	return nil
}

func (s *MemoryStore) GetStation(ctx context.Context, id uint) (*models.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stations[id]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "station", ID: fmt.Sprint(id)}
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) ListStations(ctx context.Context) ([]models.Station, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Station
	for _, st := range s.stations {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out, nil
}

func (s *MemoryStore) CreateAnomaly(ctx context.Context, a *models.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.id()
	}
	cp := *a
	s.anomlies[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAnomaly(ctx context.Context, id uint) (*models.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.anomlies[id]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "anomaly", ID: fmt.Sprint(id)}
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAnomalies(ctx context.Context, f AnomalyFilter) ([]models.Anomaly, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Anomaly
	for _, a := range s.anomlies {
		if f.OrderID != 0 && a.OrderID != f.OrderID {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		if f.UnresolvedOnly && a.Resolved {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DetectedAt.After(out[j].DetectedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateAnomaly(ctx context.Context, a *models.Anomaly) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.anomlies[a.ID]; !ok {
		return &errs.NotFoundError{Kind: "anomaly", ID: fmt.Sprint(a.ID)}
	}
	cp := *a
	s.anomlies[a.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateCommandRecord(ctx context.Context, c *models.CommandRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	cp := *c
	s.commands[c.ID] = &cp
	if c.IdempotencyKey != "" {
		s.byKey[c.IdempotencyKey] = c.ID
	}
	return nil
}

func (s *MemoryStore) GetCommandByKey(ctx context.Context, key string) (*models.CommandRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, &errs.NotFoundError{Kind: "command", ID: key}
	}
	cp := *s.commands[id]
	return &cp, nil
}

func (s *MemoryStore) ListCommandRecords(ctx context.Context, limit int) ([]models.CommandRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CommandRecord
	for _, c := range s.commands {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.After(out[j].ExecutedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
